package email

import (
	"io"
	"time"

	gomail "gopkg.in/gomail.v2"
)

// MIME types for the body variants a Message can carry.
const (
	ContentTypeText    = "text/plain"
	ContentTypeHTML    = "text/html"
	ContentTypeRelated = "multipart/related"
	ContentTypeMixed   = "multipart/mixed"
)

// BodyKind says which of the body variants a Body holds.
type BodyKind int

const (
	TextBody BodyKind = iota + 1
	HTMLBody
	RelatedBody
)

// Attachment is a named binary resource. Inline attachments are meant to be
// referenced from an HTML part as cid:<ContentID> rather than downloaded on
// their own.
type Attachment struct {
	Filename    string
	ContentType string
	ContentID   string
	Content     []byte
	Inline      bool
}

func (a Attachment) clone() Attachment {
	c := a
	c.Content = append([]byte(nil), a.Content...)
	return c
}

// Part is one segment of a multipart body: either inline text (with
// ContentType and Text set) or an attachment.
type Part struct {
	ContentType string
	Text        string
	Attachment  *Attachment
}

// TextPart returns an inline text/plain part.
func TextPart(text string) Part {
	return Part{ContentType: ContentTypeText, Text: text}
}

// HTMLPart returns an inline text/html part.
func HTMLPart(markup string) Part {
	return Part{ContentType: ContentTypeHTML, Text: markup}
}

// AttachmentPart wraps a copy of a so later changes to the caller's slice
// can't leak into a built Message.
func AttachmentPart(a Attachment) Part {
	c := a.clone()
	return Part{ContentType: c.ContentType, Attachment: &c}
}

// IsAttachment reports whether p carries binary content.
func (p Part) IsAttachment() bool {
	return p.Attachment != nil
}

func (p Part) clone() Part {
	if p.Attachment == nil {
		return p
	}
	return AttachmentPart(*p.Attachment)
}

// Body is exactly one of a plain text body, an HTML body or an ordered
// multipart/related body.
type Body struct {
	kind  BodyKind
	text  string
	parts []Part
}

// Kind returns which variant b holds.
func (b Body) Kind() BodyKind {
	return b.kind
}

// Text returns the original text or markup of a TextBody or HTMLBody. It's
// empty for a RelatedBody.
func (b Body) Text() string {
	return b.text
}

// ContentType returns the MIME type of b as it appears on the wire. A
// multipart body that carries a downloadable attachment goes out as
// multipart/mixed.
func (b Body) ContentType() string {
	switch b.kind {
	case HTMLBody:
		return ContentTypeHTML
	case RelatedBody:
		for _, p := range b.parts {
			if p.IsAttachment() && !p.Attachment.Inline {
				return ContentTypeMixed
			}
		}
		return ContentTypeRelated
	default:
		return ContentTypeText
	}
}

// Parts returns a copy of the parts of a RelatedBody, in order.
func (b Body) Parts() []Part {
	if len(b.parts) == 0 {
		return nil
	}
	p := make([]Part, len(b.parts))
	for i := range b.parts {
		p[i] = b.parts[i].clone()
	}
	return p
}

// Message is a complete email. Build it with a Builder. A Message never
// changes after Build returns it; accessors hand out copies.
type Message struct {
	id      string
	date    time.Time
	from    Address
	to      []Address
	subject string
	body    Body
}

// MessageID returns the Message-ID, without angle brackets.
func (m Message) MessageID() string {
	return m.id
}

// Date returns the time the message was built.
func (m Message) Date() time.Time {
	return m.date
}

// From returns the sender.
func (m Message) From() Address {
	return m.from
}

// To returns the recipients in the order they were added.
func (m Message) To() []Address {
	return append([]Address(nil), m.to...)
}

// Subject returns the subject line.
func (m Message) Subject() string {
	return m.subject
}

// Body returns the message body.
func (m Message) Body() Body {
	return Body{kind: m.body.kind, text: m.body.text, parts: m.body.Parts()}
}

// ContentType is shorthand for m.Body().ContentType().
func (m Message) ContentType() string {
	return m.body.ContentType()
}

// Envelope returns the SMTP reverse-path and forward-paths for m.
func (m Message) Envelope() (from string, to []string) {
	to = make([]string, len(m.to))
	for i, a := range m.to {
		to[i] = a.Mailbox
	}
	return m.from.Mailbox, to
}

// WriteTo writes m to w as a MIME document. It implements io.WriterTo.
func (m Message) WriteTo(w io.Writer) (int64, error) {
	return m.mime().WriteTo(w)
}

// mime translates m into a gomail.Message. Inline text parts are written
// before attachments, and inline attachments end up inside a
// multipart/related section alongside the text that references them.
func (m Message) mime() *gomail.Message {
	g := gomail.NewMessage()
	g.SetHeader("Message-ID", "<"+m.id+">")
	g.SetDateHeader("Date", m.date)
	g.SetAddressHeader("From", m.from.Mailbox, m.from.Name)

	to := make([]string, len(m.to))
	for i, a := range m.to {
		to[i] = g.FormatAddress(a.Mailbox, a.Name)
	}
	g.SetHeader("To", to...)
	g.SetHeader("Subject", m.subject)

	switch m.body.kind {
	case TextBody, HTMLBody:
		g.SetBody(m.body.ContentType(), m.body.text)
	case RelatedBody:
		for _, p := range m.body.parts {
			if !p.IsAttachment() {
				g.AddAlternative(p.ContentType, p.Text)
				continue
			}
			a := *p.Attachment
			settings := []gomail.FileSetting{
				gomail.SetHeader(map[string][]string{
					"Content-Type": {a.ContentType},
				}),
				gomail.SetCopyFunc(func(w io.Writer) error {
					_, err := w.Write(a.Content)
					return err
				}),
			}
			if a.Inline {
				settings = append(settings, gomail.SetHeader(map[string][]string{
					"Content-ID": {"<" + a.ContentID + ">"},
				}))
				g.Embed(a.Filename, settings...)
			} else {
				g.Attach(a.Filename, settings...)
			}
		}
	}

	return g
}
