package smtptest

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

// Part is one decoded leaf of a received MIME message.
type Part struct {
	Header  map[string][]string
	Type    string
	Content []byte
}

// Get returns the first value of the header key.
func (p Part) Get(key string) string {
	return mail.Header(p.Header).Get(key)
}

// ReadMessage parses a message as received by the server.
func ReadMessage(data string) (*mail.Message, error) {
	return mail.ReadMessage(strings.NewReader(data))
}

// Leaves walks a received message and returns its non-multipart parts in
// order, with base64 and quoted-printable content decoded. A message with a
// single-part body yields one Part.
func Leaves(data string) ([]Part, error) {
	m, err := ReadMessage(data)
	if err != nil {
		return nil, err
	}
	return leaves(m.Header, m.Body)
}

func leaves(h map[string][]string, body io.Reader) ([]Part, error) {
	ct := mail.Header(h).Get("Content-Type")
	mt, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return nil, fmt.Errorf("can't parse content type %q: %v", ct, err)
	}

	if !strings.HasPrefix(mt, "multipart/") {
		b, err := decode(mail.Header(h).Get("Content-Transfer-Encoding"), body)
		if err != nil {
			return nil, err
		}
		return []Part{{Header: h, Type: mt, Content: b}}, nil
	}

	var parts []Part
	r := multipart.NewReader(body, params["boundary"])
	for {
		p, err := r.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		sub, err := leaves(p.Header, p)
		if err != nil {
			return nil, err
		}
		parts = append(parts, sub...)
	}
	return parts, nil
}

// decode undoes a Content-Transfer-Encoding. multipart.Reader already
// strips quoted-printable from parts, but not from top-level bodies.
func decode(cte string, r io.Reader) ([]byte, error) {
	switch strings.ToLower(cte) {
	case "base64":
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		b = bytes.Map(func(r rune) rune {
			if r == '\r' || r == '\n' {
				return -1
			}
			return r
		}, b)
		return base64.StdEncoding.DecodeString(string(b))
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(r))
	default:
		return io.ReadAll(r)
	}
}
