package smtptest

// Server is an SMTP relay that a test can send mail through. The server
// should be able to return the messages sent to it during the test. It's
// meant to start during a test (or test suite) and stop right after.
type Server interface {
	// Start begins accepting connections and returns once the server is
	// listening, or with an error if it can't.
	Start() error

	// Close terminates the server. While this is designed not to return an
	// error so it's easier to use with defer, implementations should log
	// failures to close.
	Close()

	// RetrieveEmails returns all messages the server accepted after time t
	// in Unix epoch nanoseconds.
	RetrieveEmails(t int64) ([]Envelope, error)

	// Address returns the host:port of the server.
	Address() string
}
