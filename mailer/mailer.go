package mailer

import (
	"context"
	"fmt"
	"io"

	"github.com/ptgott/relaydemo/email"
	"github.com/ptgott/relaydemo/html"

	"github.com/rs/zerolog/log"
)

// Outcome is the result of one send. A nil Err means the relay accepted the
// message.
type Outcome struct {
	// Name identifies the send in logs, e.g. "plain".
	Name string
	// Label is how the send is described on the status output.
	Label string
	Err   error
}

// OK reports whether the send succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Failed reports whether any of outcomes is a failure.
func Failed(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if !o.OK() {
			return true
		}
	}
	return false
}

// Mailer performs the demonstration sends against one relay. It holds no
// connection between sends; every send asks the factory for a new Sender.
type Mailer struct {
	config    Config
	transport email.TransportConfig
	factory   email.TransportFactory
	// Status lines for the operator. The means of display is controlled
	// by the caller.
	out io.Writer
}

// New returns a Mailer. A nil factory means email.DefaultFactory and a nil
// out discards status lines.
func New(c Config, tc email.TransportConfig, factory email.TransportFactory, out io.Writer) *Mailer {
	if factory == nil {
		factory = email.DefaultFactory
	}
	if out == nil {
		out = io.Discard
	}
	return &Mailer{
		config:    c,
		transport: tc,
		factory:   factory,
		out:       out,
	}
}

// SendPlain sends a text/plain message to the configured recipient.
func (m *Mailer) SendPlain(ctx context.Context) Outcome {
	return m.deliver(ctx, "plain", "Basic email", func() (email.Message, error) {
		txt, err := html.GenerateText(html.DefaultContent)
		if err != nil {
			return email.Message{}, err
		}
		return m.newBuilder().To(m.config.To).Text(txt).Build()
	})
}

// SendHTML sends a text/html message to the configured recipient.
func (m *Mailer) SendHTML(ctx context.Context) Outcome {
	return m.deliver(ctx, "html", "Email with HTML", func() (email.Message, error) {
		bod, err := html.GenerateBody(html.DefaultContent)
		if err != nil {
			return email.Message{}, err
		}
		return m.newBuilder().To(m.config.To).HTML(bod).Build()
	})
}

// SendWithInlineImage sends a multipart/related message whose HTML shows the
// configured attachment inline, referenced by its content identifier.
func (m *Mailer) SendWithInlineImage(ctx context.Context) Outcome {
	return m.deliver(ctx, "inline-image", "Email with attachments", func() (email.Message, error) {
		logo, err := email.LoadInlineAttachment(m.config.AttachmentPath, "", m.config.MaxAttachmentSize)
		if err != nil {
			return email.Message{}, err
		}
		bod, err := html.GenerateBody(html.DefaultContent.WithLogo(logo.ContentID))
		if err != nil {
			return email.Message{}, err
		}
		return m.newBuilder().
			To(m.config.To).
			Related(email.HTMLPart(bod), email.AttachmentPart(logo)).
			Build()
	})
}

// SendToMany sends a text/plain message with every configured recipient on
// the "To" line.
func (m *Mailer) SendToMany(ctx context.Context) Outcome {
	return m.deliver(ctx, "multiple-recipients", "Email with multiple recipients", func() (email.Message, error) {
		txt, err := html.GenerateText(html.DefaultContent)
		if err != nil {
			return email.Message{}, err
		}
		b := m.newBuilder()
		for _, r := range m.config.Recipients {
			b = b.To(r)
		}
		return b.Text(txt).Build()
	})
}

// RunAll performs every demonstration send in order and returns their
// outcomes. A failure is reported and the next send goes ahead, unless the
// Mailer is configured to fail fast. Once ctx is done no further sends are
// started.
func (m *Mailer) RunAll(ctx context.Context) []Outcome {
	sends := []func(context.Context) Outcome{
		m.SendPlain,
		m.SendHTML,
		m.SendWithInlineImage,
		m.SendToMany,
	}

	m.status("Sending emails...")
	outcomes := make([]Outcome, 0, len(sends))
	for _, send := range sends {
		if err := ctx.Err(); err != nil {
			log.Warn().
				Err(err).
				Int("skipped", len(sends)-len(outcomes)).
				Msg("stopping before the remaining sends")
			return outcomes
		}
		o := send(ctx)
		outcomes = append(outcomes, o)
		if !o.OK() && m.config.FailFast {
			log.Warn().
				Str("send", o.Name).
				Int("skipped", len(sends)-len(outcomes)).
				Msg("stopping after a failed send")
			return outcomes
		}
	}
	m.status("Emails sent!")

	return outcomes
}

func (m *Mailer) newBuilder() *email.Builder {
	return email.NewBuilder().From(m.config.From).Subject(m.config.Subject)
}

// deliver builds a message, gets a fresh Sender and sends once. Whatever
// happens is logged, written to the status output and returned.
func (m *Mailer) deliver(ctx context.Context, name, label string, build func() (email.Message, error)) Outcome {
	o := Outcome{Name: name, Label: label}

	msg, err := build()
	if err != nil {
		o.Err = fmt.Errorf("can't build the message: %w", err)
		return m.report(o)
	}

	s, err := m.factory(m.transport)
	if err != nil {
		o.Err = fmt.Errorf("can't set up the transport: %w", err)
		return m.report(o)
	}

	log.Info().
		Str("send", name).
		Str("messageID", msg.MessageID()).
		Int("recipients", len(msg.To())).
		Msg("attempting to send an email")

	if err := s.Send(ctx, msg); err != nil {
		o.Err = err
	}
	return m.report(o)
}

func (m *Mailer) report(o Outcome) Outcome {
	if o.OK() {
		log.Info().Str("send", o.Name).Msg("sent an email")
		m.status(fmt.Sprintf("%v sent!", o.Label))
		return o
	}

	log.Error().Err(o.Err).Str("send", o.Name).Msg("error sending an email")
	m.status(fmt.Sprintf("%v failed to send. %v", o.Label, o.Err))
	return o
}

func (m *Mailer) status(line string) {
	if _, err := fmt.Fprintln(m.out, line); err != nil {
		log.Error().Err(err).Msg("cannot write the status output")
	}
}
