package notify

import (
	"context"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// content is the body of one notice, rendered to both HTML and plain text.
type content struct {
	Heading    string
	Paragraphs []string
	ActionText string
	ActionURL  string
	Footer     string
}

func (c content) text() string {
	var b strings.Builder
	b.WriteString(c.Heading)
	for _, p := range c.Paragraphs {
		b.WriteString("\n\n")
		b.WriteString(p)
	}
	if c.ActionURL != "" {
		b.WriteString("\n\n")
		b.WriteString(c.ActionText)
		b.WriteString(": ")
		b.WriteString(c.ActionURL)
	}
	if c.Footer != "" {
		b.WriteString("\n\n--\n")
		b.WriteString(c.Footer)
	}
	return b.String()
}

func layout(subject string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := write(w,
			`<!doctype html><html lang="en"><head><meta charset="utf-8"><meta name="viewport" content="width=device-width">`,
			`<title>`, templ.EscapeString(subject), `</title></head>`,
			`<body style="margin:0;padding:24px;background:#f6f5f2;font-family:Helvetica,Arial,sans-serif;color:#1f2328">`,
			`<table role="presentation" width="100%" style="max-width:560px;margin:0 auto;background:#fff;border-radius:8px"><tr><td style="padding:32px">`,
		); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		return write(w, `</td></tr></table></body></html>`)
	})
}

func bodyView(c content) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if err := write(w, `<h1 style="font-size:20px;margin:0 0 16px">`, templ.EscapeString(c.Heading), `</h1>`); err != nil {
			return err
		}
		for _, p := range c.Paragraphs {
			if err := write(w, `<p style="font-size:15px;line-height:1.5;margin:0 0 12px">`, templ.EscapeString(p), `</p>`); err != nil {
				return err
			}
		}
		if c.ActionURL != "" {
			if err := write(w,
				`<p style="margin:24px 0"><a href="`, templ.EscapeString(string(templ.URL(c.ActionURL))), `" `,
				`style="background:#c2410c;color:#fff;padding:12px 20px;border-radius:6px;text-decoration:none">`,
				templ.EscapeString(c.ActionText), `</a></p>`,
			); err != nil {
				return err
			}
		}
		if c.Footer != "" {
			return write(w, `<p style="font-size:12px;color:#6e7781;margin-top:32px">`, templ.EscapeString(c.Footer), `</p>`)
		}
		return nil
	})
}

func write(w io.Writer, parts ...string) error {
	for _, p := range parts {
		if _, err := io.WriteString(w, p); err != nil {
			return err
		}
	}
	return nil
}
