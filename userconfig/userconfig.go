package userconfig

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/ptgott/relaydemo/email"
	"github.com/ptgott/relaydemo/mailer"
	"github.com/rs/zerolog/log"

	yaml "gopkg.in/yaml.v2"
)

// ErrMissingEnv means a required environment variable is unset or empty.
var ErrMissingEnv = errors.New("missing environment variable")

// Meta represents all current config options that the application can use,
// i.e., after validation and parsing
type Meta struct {
	Email email.UserConfig `yaml:"email"`
	Demo  mailer.Config    `yaml:"demo"`
	// Credentials only ever come from the environment.
	Credentials email.Credentials `yaml:"-"`
}

// CheckAndSetDefaults validates m and either returns a copy of m with default
// settings applied or returns an error due to an invalid configuration
func (m *Meta) CheckAndSetDefaults() (Meta, error) {
	c := Meta{Credentials: m.Credentials}

	e, err := m.Email.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.Email = e

	d, err := m.Demo.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.Demo = d

	if c.Credentials.Username == "" {
		return Meta{}, fmt.Errorf("%w: EMAIL_USERNAME", ErrMissingEnv)
	}
	if c.Credentials.Password == "" {
		return Meta{}, fmt.Errorf("%w: EMAIL_PASSWORD", ErrMissingEnv)
	}

	return c, nil
}

// Parse reads the optional YAML settings file. Every section may be left
// out. An empty document is the same as no settings at all.
func Parse(r io.Reader) (*Meta, error) {
	var m Meta
	err := yaml.NewDecoder(r).Decode(&m)
	if errors.Is(err, io.EOF) {
		return &m, nil
	}
	if err != nil {
		return &Meta{}, fmt.Errorf("can't read the config file as YAML: %v", err)
	}
	return &m, nil
}

// Load builds the configuration for one run. Settings from r (which may be
// nil) are overridden by the environment, and credentials are read from the
// environment only. Load doesn't read the .env file; call LoadDotEnv first.
func Load(r io.Reader) (Meta, error) {
	m := &Meta{}
	if r != nil {
		p, err := Parse(r)
		if err != nil {
			return Meta{}, err
		}
		m = p
	}

	if err := env.Parse(&m.Email); err != nil {
		return Meta{}, fmt.Errorf("can't read relay settings from the environment: %v", err)
	}

	// Both fields are required and non-empty, so any error here is an
	// unset variable.
	if err := env.Parse(&m.Credentials); err != nil {
		return Meta{}, fmt.Errorf("%w: %v", ErrMissingEnv, err)
	}

	c, err := m.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}

	log.Debug().
		Str("relayHost", c.Email.RelayHost).
		Int("relayPort", c.Email.RelayPort).
		Str("encryption", c.Email.Encryption).
		Str("username", c.Credentials.Username).
		Msg("loaded the config")

	return c, nil
}

// DotEnv loads a .env file into the process environment at most once.
type DotEnv struct {
	once sync.Once
	err  error
}

// Load reads the file at path. A missing file isn't an error. Variables
// that are already set keep their values. Later calls return the result of
// the first one without reading the file again.
func (d *DotEnv) Load(path string) error {
	d.once.Do(func() {
		err := godotenv.Load(path)
		if errors.Is(err, fs.ErrNotExist) {
			log.Debug().Str("path", path).Msg("no .env file, using the environment as is")
			return
		}
		if err != nil {
			d.err = fmt.Errorf("can't load %v: %v", path, err)
		}
	})
	return d.err
}

var dotEnv DotEnv

// LoadDotEnv loads the .env file at path into the process environment. Only
// the first call in a process has any effect.
func LoadDotEnv(path string) error {
	return dotEnv.Load(path)
}
