package email

import "errors"

var (
	// ErrInvalidAddress indicates a sender or recipient that isn't a
	// syntactically valid mailbox.
	ErrInvalidAddress = errors.New("invalid email address")

	// ErrNoSender indicates a message built without a "From" address.
	ErrNoSender = errors.New("email must have a sender")

	// ErrNoRecipient indicates a message built without any "To" address.
	ErrNoRecipient = errors.New("email must have at least one recipient")

	// ErrNoBody indicates a message built without a body.
	ErrNoBody = errors.New("email must have a body")

	// ErrMultipleBodies indicates that more than one body variant was given
	// to the same Builder.
	ErrMultipleBodies = errors.New("email must have exactly one body")

	// ErrUnresolvedContentID indicates an HTML part that references a cid:
	// resource which no inline attachment in the same message provides.
	ErrUnresolvedContentID = errors.New("unresolved content identifier")

	// ErrAttachmentNotFound indicates a missing local attachment file.
	ErrAttachmentNotFound = errors.New("attachment not found")

	// ErrAttachmentTooLarge indicates an attachment above the configured
	// size limit.
	ErrAttachmentTooLarge = errors.New("attachment too large")

	// ErrInvalidConfig indicates relay settings we can't dial with.
	ErrInvalidConfig = errors.New("invalid relay configuration")
)

// Failure kinds reported by Transport.Send. Match them with errors.Is.
var (
	ErrConnection     = errors.New("connection failure")
	ErrAuthentication = errors.New("authentication failure")
	ErrRejected       = errors.New("message rejected by server")
	ErrTimeout        = errors.New("timeout")
	ErrCanceled       = errors.New("send canceled")
)
