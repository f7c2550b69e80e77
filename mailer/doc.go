package mailer

// mailer runs the demonstration sends: a plain text message, an HTML
// message, an HTML message with an inline image and a message to several
// recipients. Each send builds its own message, gets its own transport and
// reports its own outcome, so one failure never gets in the way of the
// next send.
