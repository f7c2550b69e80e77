package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Defaults for the relay we submit to. Port 465 is SMTP submission over
// implicit TLS.
const (
	DefaultRelayHost = "mail.privateemail.com"
	DefaultRelayPort = 465
)

// Encryption modes for the relay connection.
const (
	// EncryptionTLS wraps the connection in TLS before the SMTP greeting.
	EncryptionTLS = "tls"
	// EncryptionSTARTTLS upgrades a plain connection when the relay offers
	// STARTTLS.
	EncryptionSTARTTLS = "starttls"
)

// UserConfig represents relay options provided by the user. Not meant to be
// used directly for sending email without validation.
type UserConfig struct {
	RelayHost  string `yaml:"relayHost" env:"EMAIL_RELAY_HOST"`
	RelayPort  int    `yaml:"relayPort" env:"EMAIL_RELAY_PORT"`
	Encryption string `yaml:"encryption" env:"EMAIL_ENCRYPTION"`
	// Only meant for test relays with self-signed certs.
	SkipCertVerification bool `yaml:"skipCertVerification" env:"EMAIL_SKIP_CERT_VERIFICATION"`
}

// CheckAndSetDefaults validates uc and either returns a copy of uc with
// default settings applied or returns an error due to an invalid
// configuration.
func (uc UserConfig) CheckAndSetDefaults() (UserConfig, error) {
	c := uc
	if c.RelayHost == "" {
		c.RelayHost = DefaultRelayHost
	}
	if c.RelayPort == 0 {
		c.RelayPort = DefaultRelayPort
	}
	if c.Encryption == "" {
		c.Encryption = EncryptionTLS
	}
	c.Encryption = strings.ToLower(c.Encryption)

	if c.RelayPort < 0 || c.RelayPort > 65535 {
		return UserConfig{}, fmt.Errorf("%w: port must be between 1 and 65535", ErrInvalidConfig)
	}
	if c.Encryption != EncryptionTLS && c.Encryption != EncryptionSTARTTLS {
		return UserConfig{}, fmt.Errorf(
			"%w: encryption must be %q or %q, not %q",
			ErrInvalidConfig,
			EncryptionTLS,
			EncryptionSTARTTLS,
			c.Encryption,
		)
	}
	return c, nil
}

// Credentials authenticate one session with the relay.
type Credentials struct {
	Username string `env:"EMAIL_USERNAME,required,notEmpty"`
	Password string `env:"EMAIL_PASSWORD,required,notEmpty"`
}

// TransportConfig is everything a Transport needs to reach the relay.
type TransportConfig struct {
	Host                 string
	Port                 int
	Encryption           string
	SkipCertVerification bool
	Credentials          Credentials
	// Timeout bounds a whole send, from dialing to QUIT. Zero means
	// DefaultSendTimeout. A shorter deadline on the context passed to Send
	// wins.
	Timeout time.Duration
}

// NewTransportConfig combines validated relay settings with credentials.
func NewTransportConfig(uc UserConfig, c Credentials) TransportConfig {
	return TransportConfig{
		Host:                 uc.RelayHost,
		Port:                 uc.RelayPort,
		Encryption:           uc.Encryption,
		SkipCertVerification: uc.SkipCertVerification,
		Credentials:          c,
	}
}

// Address returns host:port.
func (tc TransportConfig) Address() string {
	return net.JoinHostPort(tc.Host, strconv.Itoa(tc.Port))
}

// Sender delivers a single Message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// TransportFactory returns a Sender for the given relay settings. Callers
// ask for a new Sender for every message.
type TransportFactory func(TransportConfig) (Sender, error)

// DefaultFactory returns an SMTP Transport.
func DefaultFactory(tc TransportConfig) (Sender, error) {
	t, err := NewTransport(tc)
	if err != nil {
		return nil, err
	}
	return t, nil
}

const (
	// DefaultSendTimeout bounds a send whose context has no earlier
	// deadline.
	DefaultSendTimeout = 2 * time.Minute

	// Same as gomail's dialer.
	dialTimeout = 10 * time.Second

	// Name we give the relay in EHLO.
	localName = "localhost"
)

// Refusals to continue a session that would not be encrypted or
// authenticated. Both are reported as ErrConnection.
var (
	errNoSTARTTLS = errors.New("relay doesn't offer STARTTLS")
	errNoAuth     = errors.New("relay doesn't offer AUTH")
)

// Transport submits messages to an SMTP relay. Every call to Send opens and
// closes its own session.
type Transport struct {
	config    TransportConfig
	tlsConfig *tls.Config
	timeout   time.Duration
}

// NewTransport validates tc and returns a Transport. It doesn't touch the
// network.
func NewTransport(tc TransportConfig) (*Transport, error) {
	if tc.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if tc.Port <= 0 || tc.Port > 65535 {
		return nil, fmt.Errorf("%w: port must be between 1 and 65535", ErrInvalidConfig)
	}
	if tc.Credentials.Username == "" || tc.Credentials.Password == "" {
		return nil, fmt.Errorf("%w: must supply a username and password", ErrInvalidConfig)
	}
	if tc.Encryption != EncryptionTLS && tc.Encryption != EncryptionSTARTTLS {
		return nil, fmt.Errorf("%w: unknown encryption mode %q", ErrInvalidConfig, tc.Encryption)
	}
	if tc.Timeout < 0 {
		return nil, fmt.Errorf("%w: timeout can't be negative", ErrInvalidConfig)
	}

	timeout := tc.Timeout
	if timeout == 0 {
		timeout = DefaultSendTimeout
	}

	return &Transport{
		config: tc,
		tlsConfig: &tls.Config{
			ServerName:         tc.Host,
			InsecureSkipVerify: tc.SkipCertVerification,
			MinVersion:         tls.VersionTLS12,
		},
		timeout: timeout,
	}, nil
}

// Send connects to the relay, authenticates, submits msg and closes the
// session. A nil error means the relay accepted the message. Failures come
// back as a *SendError.
//
// The session is always encrypted and always authenticated. In STARTTLS
// mode a relay that doesn't offer STARTTLS, or doesn't offer AUTH once the
// connection is encrypted, gets no credentials and no message. Canceling
// ctx, or reaching its deadline, aborts the session wherever it is.
func (t *Transport) Send(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := ctx.Err(); err != nil {
		return newSendError(StageDial, err)
	}

	log.Debug().
		Str("relay", t.config.Address()).
		Str("encryption", t.config.Encryption).
		Msg("dialing the relay")

	conn, err := t.dial(ctx)
	if err != nil {
		return t.fail(ctx, StageDial, err)
	}
	defer conn.Close()

	// Unblock any pending read or write once ctx is done.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	c, err := t.open(conn)
	if err != nil {
		return t.fail(ctx, StageDial, err)
	}
	defer c.Close()

	from, to := msg.Envelope()
	if err := submit(c, from, to, msg.mime()); err != nil {
		return t.fail(ctx, StageSubmit, err)
	}

	// The relay has the message by now. Some servers hang up right after
	// DATA, so a failed QUIT isn't a failed send.
	if err := c.Quit(); err != nil {
		log.Warn().
			Err(err).
			Str("relay", t.config.Address()).
			Msg("couldn't close the SMTP session cleanly")
	}
	return nil
}

func (t *Transport) dial(ctx context.Context) (net.Conn, error) {
	nd := &net.Dialer{Timeout: dialTimeout}
	if t.config.Encryption == EncryptionTLS {
		td := &tls.Dialer{NetDialer: nd, Config: t.tlsConfig}
		return td.DialContext(ctx, "tcp", t.config.Address())
	}
	return nd.DialContext(ctx, "tcp", t.config.Address())
}

// open reads the greeting and gets the session to the point where the
// relay will take a message: encrypted and authenticated.
func (t *Transport) open(conn net.Conn) (*smtp.Client, error) {
	c, err := smtp.NewClient(conn, t.config.Host)
	if err != nil {
		return nil, err
	}
	if err := c.Hello(localName); err != nil {
		c.Close()
		return nil, err
	}

	if t.config.Encryption == EncryptionSTARTTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			c.Close()
			return nil, errNoSTARTTLS
		}
		if err := c.StartTLS(t.tlsConfig); err != nil {
			c.Close()
			return nil, err
		}
	}

	if ok, _ := c.Extension("AUTH"); !ok {
		c.Close()
		return nil, errNoAuth
	}
	a := smtp.PlainAuth("", t.config.Credentials.Username, t.config.Credentials.Password, t.config.Host)
	if err := c.Auth(a); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// submit runs MAIL, RCPT and DATA for one message.
func submit(c *smtp.Client, from string, to []string, m io.WriterTo) error {
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, addr := range to {
		if err := c.Rcpt(addr); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := m.WriteTo(w); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// fail reports err from stage. Once ctx is done, whatever the session ran
// into is put down to ctx.
func (t *Transport) fail(ctx context.Context, stage Stage, err error) *SendError {
	if cerr := ctx.Err(); cerr != nil {
		err = fmt.Errorf("%w: %v", cerr, err)
	}
	return newSendError(stage, err)
}

// Stage is the part of an SMTP session where a send failed.
type Stage string

const (
	// StageDial covers connecting, TLS and AUTH.
	StageDial Stage = "dial"
	// StageSubmit covers MAIL, RCPT and DATA.
	StageSubmit Stage = "submit"
)

// SendError describes a failed delivery attempt. errors.Is matches it
// against its Kind (ErrConnection, ErrAuthentication, ErrRejected,
// ErrTimeout or ErrCanceled) as well as the underlying error.
type SendError struct {
	Stage Stage
	Kind  error
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%v during %v: %v", e.Kind, e.Stage, e.Err)
}

func (e *SendError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// SMTP reply codes that mean the relay didn't accept our credentials.
var authReplyCodes = map[int]struct{}{
	454: {}, // temporary authentication failure
	530: {}, // authentication required
	534: {}, // mechanism too weak
	535: {}, // credentials invalid
	538: {}, // encryption required for mechanism
}

func newSendError(stage Stage, err error) *SendError {
	return &SendError{Stage: stage, Kind: classify(stage, err), Err: err}
}

func classify(stage Stage, err error) error {
	if errors.Is(err, context.Canceled) {
		return ErrCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}

	var te *textproto.Error
	if errors.As(err, &te) {
		if stage == StageSubmit {
			return ErrRejected
		}
		if _, ok := authReplyCodes[te.Code]; ok {
			return ErrAuthentication
		}
		return ErrConnection
	}

	return ErrConnection
}
