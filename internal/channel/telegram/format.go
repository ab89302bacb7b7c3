package telegram

import (
	"fmt"
	"regexp"
	"strings"
)

// htmlFormatter renders Telegram parse_mode=HTML markup.
type htmlFormatter struct{}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

func (htmlFormatter) Bold(s string) string   { return "<b>" + escapeHTML(s) + "</b>" }
func (htmlFormatter) Italic(s string) string { return "<i>" + escapeHTML(s) + "</i>" }
func (htmlFormatter) Code(s string) string   { return "<code>" + escapeHTML(s) + "</code>" }
func (htmlFormatter) Pre(s string) string    { return "<pre>" + escapeHTML(s) + "</pre>" }
func (htmlFormatter) Escape(s string) string { return escapeHTML(s) }

func (htmlFormatter) Link(text, url string) string {
	return fmt.Sprintf(`<a href="%s">%s</a>`, escapeHTML(url), escapeHTML(text))
}

var (
	reMDCodeBlock = regexp.MustCompile("(?s)```(?:[a-zA-Z0-9_+-]*\n)?(.*?)```")
	reMDCode      = regexp.MustCompile("`([^`\n]+)`")
	reMDBold      = regexp.MustCompile(`\*\*([^*\n]+)\*\*`)
	reMDItalic    = regexp.MustCompile(`(^|\s)_([^_\n]+)_`)
	reMDLink      = regexp.MustCompile(`\[([^\]\n]+)\]\((https?://[^)\s]+)\)`)
)

// FromMarkdown converts the common markdown subset the tools emit into
// Telegram HTML. Code spans are extracted first so markup inside them is not
// rewritten.
func (f htmlFormatter) FromMarkdown(s string) string {
	type span struct{ html string }
	var spans []span
	placeholder := func(html string) string {
		spans = append(spans, span{html})
		return fmt.Sprintf("\x00%d\x00", len(spans)-1)
	}

	s = reMDCodeBlock.ReplaceAllStringFunc(s, func(m string) string {
		inner := reMDCodeBlock.FindStringSubmatch(m)[1]
		return placeholder("<pre>" + escapeHTML(strings.TrimRight(inner, "\n")) + "</pre>")
	})
	s = reMDCode.ReplaceAllStringFunc(s, func(m string) string {
		inner := reMDCode.FindStringSubmatch(m)[1]
		return placeholder("<code>" + escapeHTML(inner) + "</code>")
	})

	s = escapeHTML(s)
	s = reMDLink.ReplaceAllString(s, `<a href="$2">$1</a>`)
	s = reMDBold.ReplaceAllString(s, "<b>$1</b>")
	s = reMDItalic.ReplaceAllString(s, "$1<i>$2</i>")

	for i, sp := range spans {
		s = strings.Replace(s, fmt.Sprintf("\x00%d\x00", i), sp.html, 1)
	}
	return s
}
