// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package email

import (
	"context"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// content is a localized mail before it is rendered.
type content struct {
	Subject    string
	Greeting   string
	Paragraphs []string
	Code       string // highlighted, empty for none
	Notes      []string
	Signature  string
}

// Text renders the plain text part.
func (c content) Text() string {
	var b strings.Builder
	b.WriteString(c.Greeting)
	b.WriteString("\n\n")
	for _, p := range c.Paragraphs {
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	if c.Code != "" {
		b.WriteString("    ")
		b.WriteString(c.Code)
		b.WriteString("\n\n")
	}
	for _, n := range c.Notes {
		b.WriteString(n)
		b.WriteString("\n")
	}
	if len(c.Notes) > 0 {
		b.WriteString("\n")
	}
	b.WriteString("-- \n")
	b.WriteString(c.Signature)
	b.WriteString("\n")
	return b.String()
}

// HTML renders the HTML alternative. Every text is escaped.
func (c content) HTML() templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<!DOCTYPE html><html><head><meta charset="utf-8"><title>`)
		b.WriteString(templ.EscapeString(c.Subject))
		b.WriteString(`</title></head><body style="margin:0;padding:24px;background:#f4f7fc;font-family:Helvetica,Arial,sans-serif;color:#1e293b">`)
		b.WriteString(`<div style="max-width:560px;margin:0 auto;background:#fff;border-radius:12px;padding:32px">`)
		writeParagraph(&b, c.Greeting, "font-size:18px;font-weight:600")
		for _, p := range c.Paragraphs {
			writeParagraph(&b, p, "")
		}
		if c.Code != "" {
			b.WriteString(`<div style="margin:24px 0;padding:20px;text-align:center;border:2px dashed #2563eb;border-radius:12px;font-family:monospace;font-size:36px;letter-spacing:8px;color:#1e40af">`)
			b.WriteString(templ.EscapeString(c.Code))
			b.WriteString(`</div>`)
		}
		for _, n := range c.Notes {
			writeParagraph(&b, n, "font-size:14px;color:#475569")
		}
		writeParagraph(&b, c.Signature, "margin-top:32px;color:#475569")
		b.WriteString(`</div></body></html>`)

		_, err := io.WriteString(w, b.String())
		return err
	})
}

func writeParagraph(b *strings.Builder, text, style string) {
	if style != "" {
		b.WriteString(`<p style="`)
		b.WriteString(style)
		b.WriteString(`">`)
	} else {
		b.WriteString(`<p>`)
	}
	b.WriteString(templ.EscapeString(text))
	b.WriteString(`</p>`)
}
