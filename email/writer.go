package email

import (
	"context"
	"fmt"
	"io"
)

// WriterSender prints messages instead of sending them, which helps with
// checking a configuration without a relay.
type WriterSender struct {
	w io.Writer
}

// NewWriterSender returns a WriterSender that writes to w.
func NewWriterSender(w io.Writer) *WriterSender {
	return &WriterSender{w: w}
}

// Send writes the MIME form of msg to the underlying writer, followed by a
// blank line.
func (ws *WriterSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := msg.WriteTo(ws.w); err != nil {
		return fmt.Errorf("cannot write the message output: %w", err)
	}
	_, err := io.WriteString(ws.w, "\r\n")
	return err
}

// WriterFactory returns a TransportFactory that ignores the relay settings
// and hands out WriterSenders for w.
func WriterFactory(w io.Writer) TransportFactory {
	return func(TransportConfig) (Sender, error) {
		return NewWriterSender(w), nil
	}
}
