package email

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ptgott/relaydemo/smtptest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	relayUser = "myuser"
	relayPass = "mypassword"
)

func relayConfig(srv *smtptest.InProcessServer, encryption string, c Credentials) TransportConfig {
	return TransportConfig{
		Host:                 smtptest.Host,
		Port:                 srv.Port(),
		Encryption:           encryption,
		SkipCertVerification: true, // since it's a self-signed cert
		Credentials:          c,
	}
}

func testMessage(t *testing.T) Message {
	t.Helper()
	m, err := NewBuilder().
		From(testFrom).
		To(testTo, "Rory <rory@bocksdincoding.com>").
		Subject("Test Email").
		Text("Hello, this is a test email!").
		Build()
	require.NoError(t, err)
	return m
}

func TestNewTransport(t *testing.T) {
	valid := TransportConfig{
		Host:        "smtp.example.com",
		Port:        465,
		Encryption:  EncryptionTLS,
		Credentials: Credentials{Username: "u", Password: "p"},
	}

	testCases := []struct {
		description   string
		modify        func(*TransportConfig)
		shouldBeError bool
	}{
		{description: "valid", modify: func(*TransportConfig) {}},
		{description: "starttls", modify: func(c *TransportConfig) { c.Encryption = EncryptionSTARTTLS }},
		{description: "no host", modify: func(c *TransportConfig) { c.Host = "" }, shouldBeError: true},
		{description: "zero port", modify: func(c *TransportConfig) { c.Port = 0 }, shouldBeError: true},
		{description: "port too high", modify: func(c *TransportConfig) { c.Port = 70000 }, shouldBeError: true},
		{description: "no username", modify: func(c *TransportConfig) { c.Credentials.Username = "" }, shouldBeError: true},
		{description: "no password", modify: func(c *TransportConfig) { c.Credentials.Password = "" }, shouldBeError: true},
		{description: "unknown encryption", modify: func(c *TransportConfig) { c.Encryption = "none" }, shouldBeError: true},
		{description: "negative timeout", modify: func(c *TransportConfig) { c.Timeout = -time.Second }, shouldBeError: true},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			c := valid
			tc.modify(&c)
			tr, err := NewTransport(c)
			if tc.shouldBeError {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				assert.Nil(t, tr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.Host, tr.tlsConfig.ServerName)
			assert.Equal(t, DefaultSendTimeout, tr.timeout)
		})
	}
}

func TestDefaultFactoryInvalidConfig(t *testing.T) {
	s, err := DefaultFactory(TransportConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Nil(t, s)
}

func TestSend(t *testing.T) {
	testCases := []struct {
		description string
		implicitTLS bool
		encryption  string
	}{
		{description: "starttls", encryption: EncryptionSTARTTLS},
		{description: "implicit tls", implicitTLS: true, encryption: EncryptionTLS},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			srv := smtptest.StartServer(t, relayUser, relayPass, tc.implicitTLS)
			tr, err := NewTransport(relayConfig(srv, tc.encryption, Credentials{relayUser, relayPass}))
			require.NoError(t, err)

			m := testMessage(t)
			require.NoError(t, tr.Send(context.Background(), m))

			ems, err := srv.RetrieveEmails(0)
			require.NoError(t, err)
			require.Len(t, ems, 1)
			assert.Equal(t, testFrom, ems[0].From)
			assert.Equal(t, []string{testTo, "rory@bocksdincoding.com"}, ems[0].To)

			parts, err := smtptest.Leaves(ems[0].Data)
			require.NoError(t, err)
			require.Len(t, parts, 1)
			assert.Contains(t, string(parts[0].Content), "Hello, this is a test email!")

			msg, err := smtptest.ReadMessage(ems[0].Data)
			require.NoError(t, err)
			assert.Equal(t, "<"+m.MessageID()+">", msg.Header.Get("Message-ID"))
		})
	}
}

func TestSendIndependentSessions(t *testing.T) {
	srv := smtptest.StartServer(t, relayUser, relayPass, false)
	good := relayConfig(srv, EncryptionSTARTTLS, Credentials{relayUser, relayPass})
	bad := relayConfig(srv, EncryptionSTARTTLS, Credentials{relayUser, "wrong"})

	for i, c := range []TransportConfig{good, bad, good} {
		s, err := DefaultFactory(c)
		require.NoError(t, err)
		err = s.Send(context.Background(), testMessage(t))
		if i == 1 {
			assert.ErrorIs(t, err, ErrAuthentication)
			continue
		}
		assert.NoError(t, err, "send %v", i)
	}

	ems, err := srv.RetrieveEmails(0)
	require.NoError(t, err)
	assert.Len(t, ems, 2)
}

func TestSendFailures(t *testing.T) {
	srv := smtptest.StartServer(t, relayUser, relayPass, false)

	// Grab a port nobody is listening on.
	l, err := net.Listen("tcp", net.JoinHostPort(smtptest.Host, "0"))
	require.NoError(t, err)
	_, p, _ := net.SplitHostPort(l.Addr().String())
	closedPort, _ := strconv.Atoi(p)
	l.Close()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	testCases := []struct {
		description string
		ctx         context.Context
		config      TransportConfig
		kind        error
		stage       Stage
	}{
		{
			description: "wrong password",
			ctx:         context.Background(),
			config:      relayConfig(srv, EncryptionSTARTTLS, Credentials{relayUser, "wrong"}),
			kind:        ErrAuthentication,
			stage:       StageDial,
		},
		{
			description: "wrong username",
			ctx:         context.Background(),
			config:      relayConfig(srv, EncryptionSTARTTLS, Credentials{"someoneelse", relayPass}),
			kind:        ErrAuthentication,
			stage:       StageDial,
		},
		{
			description: "connection refused",
			ctx:         context.Background(),
			config: TransportConfig{
				Host:        smtptest.Host,
				Port:        closedPort,
				Encryption:  EncryptionSTARTTLS,
				Credentials: Credentials{relayUser, relayPass},
			},
			kind:  ErrConnection,
			stage: StageDial,
		},
		{
			description: "canceled before dialing",
			ctx:         canceled,
			config:      relayConfig(srv, EncryptionSTARTTLS, Credentials{relayUser, relayPass}),
			kind:        ErrCanceled,
			stage:       StageDial,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			tr, err := NewTransport(tc.config)
			require.NoError(t, err)

			err = tr.Send(tc.ctx, testMessage(t))
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.kind)

			var se *SendError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tc.stage, se.Stage)
		})
	}

	ems, err := srv.RetrieveEmails(0)
	require.NoError(t, err)
	assert.Empty(t, ems, "no message should get through")
}

func TestSendRejectedRecipient(t *testing.T) {
	srv := smtptest.StartServerWithConfig(t, smtptest.ServerConfig{
		Username: relayUser,
		Password: relayPass,
		Reject:   []string{"rory@bocksdincoding.com"},
	})
	tr, err := NewTransport(relayConfig(srv, EncryptionSTARTTLS, Credentials{relayUser, relayPass}))
	require.NoError(t, err)

	err = tr.Send(context.Background(), testMessage(t))
	assert.ErrorIs(t, err, ErrRejected)

	var se *SendError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageSubmit, se.Stage)

	var te *textproto.Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 550, te.Code)
}

func TestSendRefusesUnprotectedSession(t *testing.T) {
	testCases := []struct {
		description string
		server      smtptest.ServerConfig
		encryption  string
	}{
		{
			description: "starttls against a relay without TLS",
			server:      smtptest.ServerConfig{Plaintext: true},
			encryption:  EncryptionSTARTTLS,
		},
		{
			description: "starttls against a relay without AUTH",
			server:      smtptest.ServerConfig{NoAuth: true},
			encryption:  EncryptionSTARTTLS,
		},
		{
			description: "implicit tls against a relay without AUTH",
			server:      smtptest.ServerConfig{NoAuth: true, ImplicitTLS: true},
			encryption:  EncryptionTLS,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			c := tc.server
			c.Username = relayUser
			c.Password = relayPass
			srv := smtptest.StartServerWithConfig(t, c)

			tr, err := NewTransport(relayConfig(srv, tc.encryption, Credentials{relayUser, relayPass}))
			require.NoError(t, err)

			err = tr.Send(context.Background(), testMessage(t))
			assert.ErrorIs(t, err, ErrConnection)
			var se *SendError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, StageDial, se.Stage)

			assert.Zero(t, srv.LoginAttempts(), "credentials must not reach the relay")
			ems, err := srv.RetrieveEmails(0)
			require.NoError(t, err)
			assert.Empty(t, ems)
		})
	}
}

// silentRelay accepts connections and never says anything. It returns the
// port it listens on.
func silentRelay(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", net.JoinHostPort(smtptest.Host, "0"))
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		l.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})

	_, p, _ := net.SplitHostPort(l.Addr().String())
	port, _ := strconv.Atoi(p)
	return port
}

func TestSendStalledRelay(t *testing.T) {
	port := silentRelay(t)

	testCases := []struct {
		description string
		encryption  string
		timeout     time.Duration
		ctx         func() (context.Context, context.CancelFunc)
		kind        error
	}{
		{
			description: "context deadline while waiting for the greeting",
			encryption:  EncryptionSTARTTLS,
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 200*time.Millisecond)
			},
			kind: ErrTimeout,
		},
		{
			description: "context deadline during the TLS handshake",
			encryption:  EncryptionTLS,
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 200*time.Millisecond)
			},
			kind: ErrTimeout,
		},
		{
			description: "canceled while waiting for the greeting",
			encryption:  EncryptionSTARTTLS,
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				time.AfterFunc(200*time.Millisecond, cancel)
				return ctx, cancel
			},
			kind: ErrCanceled,
		},
		{
			description: "transport timeout without a context deadline",
			encryption:  EncryptionSTARTTLS,
			timeout:     200 * time.Millisecond,
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithCancel(context.Background())
			},
			kind: ErrTimeout,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			tr, err := NewTransport(TransportConfig{
				Host:                 smtptest.Host,
				Port:                 port,
				Encryption:           tc.encryption,
				SkipCertVerification: true,
				Credentials:          Credentials{relayUser, relayPass},
				Timeout:              tc.timeout,
			})
			require.NoError(t, err)

			ctx, cancel := tc.ctx()
			defer cancel()

			start := time.Now()
			err = tr.Send(ctx, testMessage(t))
			assert.Less(t, time.Since(start), 5*time.Second, "Send should give up once ctx is done")

			assert.ErrorIs(t, err, tc.kind)
			var se *SendError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, StageDial, se.Stage)
		})
	}
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		description string
		stage       Stage
		err         error
		expected    error
	}{
		{"canceled", StageSubmit, context.Canceled, ErrCanceled},
		{"deadline", StageDial, context.DeadlineExceeded, ErrTimeout},
		{"net timeout", StageSubmit, &net.OpError{Op: "read", Err: timeoutError{}}, ErrTimeout},
		{"auth reply", StageDial, &textproto.Error{Code: 535, Msg: "Authentication credentials invalid"}, ErrAuthentication},
		{"other reply while dialing", StageDial, &textproto.Error{Code: 421, Msg: "Service not available"}, ErrConnection},
		{"reply while submitting", StageSubmit, &textproto.Error{Code: 554, Msg: "Transaction failed"}, ErrRejected},
		{"anything else", StageDial, errors.New("boom"), ErrConnection},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			assert.Equal(t, tc.expected, classify(tc.stage, tc.err))
		})
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
