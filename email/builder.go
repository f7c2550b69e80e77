package email

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ptgott/relaydemo/html"
)

// Builder assembles a Message. The first error it runs into sticks and is
// returned by Build, so calls can be chained without checking each one.
// A Builder is not safe for concurrent use.
type Builder struct {
	from    *Address
	to      []Address
	subject string
	body    *Body
	err     error
	now     func() time.Time
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{now: time.Now}
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// From sets the sender. s must parse with ParseAddress.
func (b *Builder) From(s string) *Builder {
	a, err := ParseAddress(s)
	if err != nil {
		b.fail(fmt.Errorf("sender: %w", err))
		return b
	}
	b.from = &a
	return b
}

// To appends one "To" recipient per string, keeping the order given.
func (b *Builder) To(addrs ...string) *Builder {
	for _, s := range addrs {
		a, err := ParseAddress(s)
		if err != nil {
			b.fail(fmt.Errorf("recipient: %w", err))
			continue
		}
		b.to = append(b.to, a)
	}
	return b
}

// Subject sets the subject line. Any text is allowed, including none.
func (b *Builder) Subject(s string) *Builder {
	b.subject = s
	return b
}

func (b *Builder) setBody(body Body) *Builder {
	if b.body != nil {
		b.fail(ErrMultipleBodies)
		return b
	}
	b.body = &body
	return b
}

// Text sets a text/plain body.
func (b *Builder) Text(s string) *Builder {
	return b.setBody(Body{kind: TextBody, text: s})
}

// HTML sets a text/html body.
func (b *Builder) HTML(markup string) *Builder {
	return b.setBody(Body{kind: HTMLBody, text: markup})
}

// Related sets a multipart/related body made of parts, in order. It's meant
// for HTML that embeds inline attachments by content identifier.
func (b *Builder) Related(parts ...Part) *Builder {
	if len(parts) == 0 {
		b.fail(fmt.Errorf("%w: a multipart body needs at least one part", ErrNoBody))
		return b
	}
	cp := make([]Part, len(parts))
	for i := range parts {
		cp[i] = parts[i].clone()
	}
	return b.setBody(Body{kind: RelatedBody, parts: cp})
}

// Build validates what the Builder has collected and returns the Message.
// On error no Message is produced.
func (b *Builder) Build() (Message, error) {
	if b.err != nil {
		return Message{}, b.err
	}
	if b.from == nil {
		return Message{}, ErrNoSender
	}
	if len(b.to) == 0 {
		return Message{}, ErrNoRecipient
	}
	if b.body == nil {
		return Message{}, ErrNoBody
	}
	if err := checkContentIDs(*b.body); err != nil {
		return Message{}, err
	}

	return Message{
		id:      uuid.NewString() + "@" + b.from.Domain(),
		date:    b.now(),
		from:    *b.from,
		to:      append([]Address(nil), b.to...),
		subject: b.subject,
		body:    Body{kind: b.body.kind, text: b.body.text, parts: b.body.Parts()},
	}, nil
}

// checkContentIDs makes sure every cid: reference in an HTML part points at
// an inline attachment carried by the same body.
func checkContentIDs(body Body) error {
	var markup []string
	available := map[string]struct{}{}

	switch body.kind {
	case HTMLBody:
		markup = append(markup, body.text)
	case RelatedBody:
		for _, p := range body.parts {
			switch {
			case p.IsAttachment():
				if p.Attachment.Inline && p.Attachment.ContentID != "" {
					available[p.Attachment.ContentID] = struct{}{}
				}
			case p.ContentType == ContentTypeHTML:
				markup = append(markup, p.Text)
			}
		}
	}

	for _, m := range markup {
		ids, err := html.ContentIDs(m)
		if err != nil {
			return fmt.Errorf("can't read the HTML body: %w", err)
		}
		for _, id := range ids {
			if _, ok := available[id]; !ok {
				return fmt.Errorf("%w: cid:%s", ErrUnresolvedContentID, id)
			}
		}
	}
	return nil
}
