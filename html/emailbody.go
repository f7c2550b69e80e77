package html

import (
	"html/template"
	"strings"
	texttemplate "text/template"
)

// BodyContent is used to populate the email body templates.
type BodyContent struct {
	Heading  string
	Context  string
	LinkURL  string
	LinkText string
	// LogoCID is the content identifier of an inline image to show above
	// the heading. No image is rendered if it's empty.
	LogoCID string
}

// DefaultContent is what the demo messages say.
var DefaultContent = BodyContent{
	Heading:  "Hello, this is a test email!",
	Context:  "This is additional context.",
	LinkURL:  "https://bocksdincoding.com",
	LinkText: "Check out my blog!",
}

// WithLogo returns a copy of c that embeds the inline image cid.
func (c BodyContent) WithLogo(cid string) BodyContent {
	c.LogoCID = cid
	return c
}

const emailBodyHTML = `{{ if .LogoCID }}<img src="cid:{{ .LogoCID }}" height=50 width=50 />
{{ end }}<h1>{{ .Heading }}</h1>
<p>{{ .Context }}</p>
<a href="{{ .LinkURL }}">{{ .LinkText }}</a>`

const emailBodyText = `{{ .Heading }}`

// The template text is constant, so parsing can't fail at runtime.
var (
	htmlTmpl = template.Must(template.New("body").Parse(emailBodyHTML))
	textTmpl = texttemplate.Must(texttemplate.New("text").Parse(emailBodyText))
)

// GenerateBody renders c as an HTML fragment.
func GenerateBody(c BodyContent) (string, error) {
	var str strings.Builder
	if err := htmlTmpl.Execute(&str, c); err != nil {
		return "", err
	}
	return str.String(), nil
}

// GenerateText renders c for a text/plain body.
func GenerateText(c BodyContent) (string, error) {
	var str strings.Builder
	if err := textTmpl.Execute(&str, c); err != nil {
		return "", err
	}
	return str.String(), nil
}
