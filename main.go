package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"

	"github.com/ptgott/relaydemo/email"
	"github.com/ptgott/relaydemo/mailer"
	"github.com/ptgott/relaydemo/userconfig"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Log with filename and line number. This writes to stderr, so it should
	// be thread safe.
	// https://github.com/rs/zerolog/blob/7ccd4c940bf8a02fcc5f10e5475f9d3daff04d57/log/log.go#L13
	log.Logger = log.With().Caller().Logger()

	os.Exit(run(os.Args[1:], os.Stdout))
}

// run carries out one invocation and returns the exit code. Status lines
// for the operator go to stdout.
func run(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("relaydemo", flag.ContinueOnError)
	configPath := fs.String(
		"config",
		"",
		"path to an optional YAML file with relay and message settings",
	)
	envPath := fs.String(
		"env",
		".env",
		"path to an optional .env file with EMAIL_USERNAME and EMAIL_PASSWORD",
	)
	noEmail := fs.Bool(
		"noemail",
		false,
		"print each email to stdout instead of sending it",
	)
	failFast := fs.Bool(
		"failfast",
		false,
		"stop at the first email that fails to send and exit with an error",
	)
	level := fs.String(
		"level",
		"info",
		`log level: "info", "debug", or "warn"`,
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	switch *level {
	case "debug":
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	case "warn":
		log.Logger = log.Logger.Level(zerolog.WarnLevel)
	default:
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	// The first interrupt cancels ctx, which aborts the send in flight and
	// skips the rest. After that interrupts get their default behavior
	// again, so a second one kills the process.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			signal.Stop(sigCh)
			log.Info().Msg("interrupt: abandoning the remaining emails")
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Info().
		Str("configPath", *configPath).
		Str("envPath", *envPath).
		Msg("starting the application")

	if err := userconfig.LoadDotEnv(*envPath); err != nil {
		log.Error().
			Err(err).
			Msg("Problem reading your .env file")
		return 1
	}

	var r io.Reader
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			log.Error().
				Str("config-path", *configPath).
				Err(err).
				Msg("We can't open the application config file")
			return 1
		}
		defer f.Close()
		r = f
	}

	config, err := userconfig.Load(r)
	if err != nil {
		log.Error().
			Err(err).
			Msg("Problem loading your config")
		return 1
	}
	if *failFast {
		config.Demo.FailFast = true
	}

	log.Info().
		Str("relay", config.Email.RelayHost).
		Int("port", config.Email.RelayPort).
		Msg("successfully validated the config")

	tc := email.NewTransportConfig(config.Email, config.Credentials)
	factory := email.DefaultFactory
	if *noEmail {
		factory = email.WriterFactory(stdout)
	}

	outcomes := mailer.New(config.Demo, tc, factory, stdout).RunAll(ctx)
	if config.Demo.FailFast && mailer.Failed(outcomes) {
		return 1
	}
	return 0
}
