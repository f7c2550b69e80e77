package smtptest

import "testing"

// StartServer generates TLS files, starts an InProcessServer that accepts
// username and password, and stops it when the test ends.
func StartServer(t *testing.T, username, password string, implicitTLS bool) *InProcessServer {
	t.Helper()
	return StartServerWithConfig(t, ServerConfig{
		Username:    username,
		Password:    password,
		ImplicitTLS: implicitTLS,
	})
}

// StartServerWithConfig is StartServer for a full ServerConfig. The key and
// cert paths are filled in.
func StartServerWithConfig(t *testing.T, c ServerConfig) *InProcessServer {
	t.Helper()

	k, cp, err := GenerateTLSFiles(t)
	if err != nil {
		t.Fatalf("can't generate TLS files for the test relay: %v", err)
	}

	c.KeyPath = k
	c.CertPath = cp
	srv, err := NewInProcessServer(c)
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("can't start the test relay: %v", err)
	}
	t.Cleanup(srv.Close)

	return srv
}
