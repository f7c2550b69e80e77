package email

import (
	"fmt"
	"net/mail"
	"strings"
)

// Address is a mailbox with an optional display name.
type Address struct {
	Name    string
	Mailbox string
}

// ParseAddress accepts either "Name <local@domain>" or "local@domain".
// Anything else, including an address with an empty local part or domain,
// returns an error wrapping ErrInvalidAddress.
func ParseAddress(s string) (Address, error) {
	a, err := mail.ParseAddress(strings.TrimSpace(s))
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
	}
	return Address{Name: a.Name, Mailbox: a.Address}, nil
}

// String renders a in RFC 5322 form, encoding the display name if it needs
// it.
func (a Address) String() string {
	return (&mail.Address{Name: a.Name, Address: a.Mailbox}).String()
}

// Domain returns the part of the mailbox after the last "@".
func (a Address) Domain() string {
	i := strings.LastIndex(a.Mailbox, "@")
	if i < 0 {
		return ""
	}
	return a.Mailbox[i+1:]
}
