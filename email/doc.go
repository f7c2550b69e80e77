package email

// email is responsible for building email messages and submitting them to an
// SMTP relay, including connecting to the server, negotiating TLS and
// authentication, and serializing a message into MIME. It is not designed to
// represent what a message says, and sends whatever content it's given.
//
// A Message is built once with a Builder and never changes afterwards. Each
// call to Transport.Send opens its own session with the relay; nothing is
// pooled or retried.
