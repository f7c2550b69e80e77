package mailer

import (
	"errors"
	"fmt"

	"github.com/docker/go-units"
	"github.com/ptgott/relaydemo/email"
)

// Defaults for the demonstration messages.
const (
	DefaultFrom           = "contact@bocksdincoding.com"
	DefaultTo             = "questions@bocksdincoding.com"
	DefaultSubject        = "Test Email"
	DefaultAttachmentPath = "assets/logo.png"
)

// DefaultRecipients is who the multiple-recipient send goes to.
var DefaultRecipients = []string{
	"questions@bocksdincoding.com",
	"Rory <rory@bocksdincoding.com>",
}

// Config contains options for the demonstration sends. Addresses are kept
// as the user wrote them; they're only parsed when a message is built, so
// a bad address fails that one send.
type Config struct {
	From       string
	To         string
	Recipients []string
	Subject    string
	// Local file embedded in the inline-image send.
	AttachmentPath    string
	MaxAttachmentSize int64
	// Stop at the first failed send instead of moving on.
	FailFast bool
}

// UnmarshalYAML parses a user-provided YAML configuration, returning any
// parsing errors.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var v struct {
		From              string   `yaml:"from"`
		To                string   `yaml:"to"`
		Recipients        []string `yaml:"recipients"`
		Subject           string   `yaml:"subject"`
		AttachmentPath    string   `yaml:"attachmentPath"`
		MaxAttachmentSize string   `yaml:"maxAttachmentSize"`
		FailFast          bool     `yaml:"failFast"`
	}
	if err := unmarshal(&v); err != nil {
		return fmt.Errorf("can't parse the demo config: %v", err)
	}

	var size int64
	if v.MaxAttachmentSize != "" {
		s, err := units.RAMInBytes(v.MaxAttachmentSize)
		if err != nil {
			return fmt.Errorf(
				"can't parse the maximum attachment size as a size: %v",
				err,
			)
		}
		size = s
	}

	*c = Config{
		From:              v.From,
		To:                v.To,
		Recipients:        v.Recipients,
		Subject:           v.Subject,
		AttachmentPath:    v.AttachmentPath,
		MaxAttachmentSize: size,
		FailFast:          v.FailFast,
	}
	return nil
}

// CheckAndSetDefaults validates c and either returns a copy of c with
// default settings applied or returns an error due to an invalid
// configuration.
func (c *Config) CheckAndSetDefaults() (Config, error) {
	n := *c
	if n.From == "" {
		n.From = DefaultFrom
	}
	if n.To == "" {
		n.To = DefaultTo
	}
	if len(n.Recipients) == 0 {
		n.Recipients = append([]string(nil), DefaultRecipients...)
	} else {
		n.Recipients = append([]string(nil), c.Recipients...)
	}
	if n.Subject == "" {
		n.Subject = DefaultSubject
	}
	if n.AttachmentPath == "" {
		n.AttachmentPath = DefaultAttachmentPath
	}
	if n.MaxAttachmentSize < 0 {
		return Config{}, errors.New("the maximum attachment size can't be negative")
	}
	if n.MaxAttachmentSize == 0 {
		n.MaxAttachmentSize = email.DefaultAttachmentLimit
	}
	return n, nil
}
