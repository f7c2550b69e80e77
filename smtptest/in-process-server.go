package smtptest

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docker/go-units"
	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog/log"
)

// maxEmailSize caps what the server will read for one message. Doubtful
// we'll get an email this big, but we need a limit.
const maxEmailSize int64 = 25 * units.MiB

// Envelope is a message the server accepted, along with the SMTP envelope
// it arrived with.
type Envelope struct {
	created time.Time
	From    string
	To      []string
	Data    string
}

// Backend implements smtp.Backend. It only lets in the one username and
// password it was created with.
type Backend struct {
	username string
	password string
	reject   map[string]struct{}
	store    *InMemoryEmailStore
	logins   atomic.Int64
}

// Login implements smtp.Backend.
func (be *Backend) Login(_ *smtp.ConnectionState, username string, password string) (smtp.Session, error) {
	be.logins.Add(1)
	if username == "" || password == "" || username != be.username || password != be.password {
		return nil, &smtp.SMTPError{
			Code:         535,
			EnhancedCode: smtp.EnhancedCode{5, 7, 8},
			Message:      "Authentication credentials invalid",
		}
	}
	return &session{store: be.store, reject: be.reject}, nil
}

// AnonymousLogin implements smtp.Backend. Not supported since we want to
// enforce AUTH.
func (be *Backend) AnonymousLogin(_ *smtp.ConnectionState) (smtp.Session, error) {
	return nil, smtp.ErrAuthUnsupported
}

// session implements smtp.Session for one authenticated connection.
type session struct {
	store  *InMemoryEmailStore
	reject map[string]struct{}
	from   string
	to     []string
}

// Reset implements smtp.Session.
func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

// Logout implements smtp.Session. No-op here.
func (s *session) Logout() error { return nil }

// Mail implements smtp.Session.
func (s *session) Mail(from string, _ smtp.MailOptions) error {
	s.from = from
	return nil
}

// Rcpt implements smtp.Session. Refuses mailboxes the server was told to
// reject.
func (s *session) Rcpt(to string) error {
	if _, ok := s.reject[to]; ok {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "Mailbox unavailable",
		}
	}
	s.to = append(s.to, to)
	return nil
}

// Data implements smtp.Session. Stores the message in memory for retrieval
// at the end of the test.
func (s *session) Data(r io.Reader) error {
	buf, err := io.ReadAll(io.LimitReader(r, maxEmailSize))
	if err != nil {
		return err
	}
	s.store.saveEmail(Envelope{
		From: s.from,
		To:   append([]string(nil), s.to...),
		Data: string(buf),
	})
	return nil
}

// InMemoryEmailStore retains accepted messages for comparison against a
// test's expected output. Goroutine safe, since every connection gets its
// own goroutine.
type InMemoryEmailStore struct {
	mu       sync.Mutex
	messages []Envelope
}

// saveEmail stores the message along with a timestamp created just prior to
// saving.
func (es *InMemoryEmailStore) saveEmail(e Envelope) {
	es.mu.Lock()
	defer es.mu.Unlock()

	e.created = time.Now()
	es.messages = append(es.messages, e)
}

// RetrieveEmails returns every message accepted at or after epoch
// nanoseconds t. Satisfies smtptest.Server but isn't expected to return an
// error.
func (es *InMemoryEmailStore) RetrieveEmails(t int64) ([]Envelope, error) {
	es.mu.Lock()
	defer es.mu.Unlock()

	r := make([]Envelope, 0, len(es.messages))
	for _, m := range es.messages {
		if m.created.UnixNano() >= t {
			r = append(r, m)
		}
	}
	return r, nil
}

// ServerConfig describes an InProcessServer.
type ServerConfig struct {
	KeyPath  string
	CertPath string
	Username string
	Password string
	// ImplicitTLS makes the server expect a TLS handshake before the SMTP
	// greeting instead of offering STARTTLS.
	ImplicitTLS bool
	// Reject lists mailboxes the server refuses at RCPT.
	Reject []string
	// Plaintext makes the server skip TLS altogether and accept AUTH on
	// the unencrypted connection. KeyPath and CertPath are ignored.
	Plaintext bool
	// NoAuth makes the server stop advertising AUTH.
	NoAuth bool
}

// InProcessServer is an SMTP relay that runs in the same process as the
// test suite, letting us inspect sent emails. You must initialize this via
// NewInProcessServer.
type InProcessServer struct {
	*smtp.Server
	*InMemoryEmailStore

	backend     *Backend

	implicitTLS bool
	mu          sync.Mutex
	listener    net.Listener
}

// NewInProcessServer creates an InProcessServer that requires AUTH with the
// configured credentials and stores incoming messages in memory. The cert
// must be a root cert for Host.
func NewInProcessServer(c ServerConfig) (*InProcessServer, error) {
	is := &InMemoryEmailStore{}
	reject := make(map[string]struct{}, len(c.Reject))
	for _, r := range c.Reject {
		reject[r] = struct{}{}
	}

	be := &Backend{
		username: c.Username,
		password: c.Password,
		reject:   reject,
		store:    is,
	}
	srv := smtp.NewServer(be)
	srv.Domain = Host
	srv.AllowInsecureAuth = c.Plaintext // otherwise need TLS before AUTH
	srv.AuthDisabled = c.NoAuth
	srv.MaxMessageBytes = int(maxEmailSize)
	// Strict enforces <address> syntax in MAIL and RCPT.
	srv.Strict = true

	if !c.Plaintext {
		cert, err := tls.LoadX509KeyPair(c.CertPath, c.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("can't load the test relay's key pair: %v", err)
		}
		srv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	return &InProcessServer{
		Server:             srv,
		InMemoryEmailStore: is,
		backend:            be,
		implicitTLS:        c.ImplicitTLS && !c.Plaintext,
	}, nil
}

// LoginAttempts returns how many times a client has tried AUTH, whether or
// not it succeeded.
func (is *InProcessServer) LoginAttempts() int {
	return int(is.backend.logins.Load())
}

// Start listens on an ephemeral port of Host and serves in the background.
func (is *InProcessServer) Start() error {
	l, err := net.Listen("tcp", net.JoinHostPort(Host, "0"))
	if err != nil {
		return err
	}
	if is.implicitTLS {
		l = tls.NewListener(l, is.Server.TLSConfig)
	}

	is.mu.Lock()
	is.listener = l
	is.mu.Unlock()

	go func() {
		if err := is.Server.Serve(l); err != nil {
			log.Error().
				Err(err).
				Str("address", l.Addr().String()).
				Msg("the test relay stopped serving")
		}
	}()
	return nil
}

// Close shuts down the server. You must initialize a new InProcessServer
// instead of restarting this one.
func (is *InProcessServer) Close() {
	is.Server.Close()
}

// Address returns the host:port of the server, or an empty string before
// Start.
func (is *InProcessServer) Address() string {
	is.mu.Lock()
	defer is.mu.Unlock()
	if is.listener == nil {
		return ""
	}
	return is.listener.Addr().String()
}

// Port returns the port the server listens on, or zero before Start.
func (is *InProcessServer) Port() int {
	_, p, err := net.SplitHostPort(is.Address())
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(p)
	return n
}
