package smtptest

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

// lockedBuffer lets the serving goroutine log while the test reads.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServeErrorIsLogged(t *testing.T) {
	var out lockedBuffer
	old := log.Logger
	log.Logger = zerolog.New(&out)
	t.Cleanup(func() { log.Logger = old })

	srv := StartServer(t, "myuser", "mypassword", false)

	// Pull the listener out from under the server instead of calling
	// Close, so Serve fails.
	srv.mu.Lock()
	l := srv.listener
	srv.mu.Unlock()
	l.Close()

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "the test relay stopped serving")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), srv.Address())
}

func TestLoginAttempts(t *testing.T) {
	srv := StartServer(t, "myuser", "mypassword", false)
	assert.Zero(t, srv.LoginAttempts())

	_, err := srv.backend.Login(nil, "myuser", "wrong")
	assert.Error(t, err)
	_, err = srv.backend.Login(nil, "myuser", "mypassword")
	assert.NoError(t, err)
	assert.Equal(t, 2, srv.LoginAttempts())
}
