package matrix

import (
	"fmt"
	"html"
	"strings"

	"github.com/kasumi-bot/kasumi/internal/kasumi/dialog"
)

// renderActivity turns an engine activity into a plain-text body and, for
// cards, an HTML rendition. Text-only activities return an empty html string
// and are sent as ordinary messages.
func renderActivity(a dialog.Activity) (plain, htmlBody string) {
	if a.Card == nil {
		return a.Text, ""
	}
	return renderCardPlain(a.Card), renderCardHTML(a.Card)
}

func renderCardPlain(c *dialog.Card) string {
	var b strings.Builder
	if c.Title != "" {
		b.WriteString(c.Title)
	}
	if c.Section != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(c.Section)
	}
	for _, f := range c.Fields {
		fmt.Fprintf(&b, "\n%s: %s", f.Label, f.Value)
	}
	for _, action := range c.Actions {
		if action.URL != "" {
			fmt.Fprintf(&b, "\n%s: %s", action.Label, action.URL)
		} else {
			fmt.Fprintf(&b, "\n[%s]", action.Label)
		}
	}
	return b.String()
}

func renderCardHTML(c *dialog.Card) string {
	var b strings.Builder
	if c.Title != "" {
		fmt.Fprintf(&b, "<strong>%s</strong>", html.EscapeString(c.Title))
	}
	if c.Section != "" {
		if b.Len() > 0 {
			b.WriteString("<br/>")
		}
		b.WriteString(html.EscapeString(c.Section))
	}
	if len(c.Fields) > 0 {
		b.WriteString("<ul>")
		for _, f := range c.Fields {
			fmt.Fprintf(&b, "<li><b>%s:</b> %s</li>", html.EscapeString(f.Label), html.EscapeString(f.Value))
		}
		b.WriteString("</ul>")
	}
	for i, action := range c.Actions {
		if i > 0 {
			b.WriteString(" ")
		} else if b.Len() > 0 {
			b.WriteString("<br/>")
		}
		if action.URL != "" {
			fmt.Fprintf(&b, `<a href="%s">%s</a>`, html.EscapeString(action.URL), html.EscapeString(action.Label))
		} else {
			fmt.Fprintf(&b, "<code>%s</code>", html.EscapeString(action.Label))
		}
	}
	return b.String()
}
