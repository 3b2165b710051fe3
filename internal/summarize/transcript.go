package summarize

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/kalambet/tagask/internal/directory"
)

const defaultSender = "User"

// Transcript renders messages as "<sender>: <content>" lines in
// chronological order. The provider lists messages newest first, so the
// input is walked backwards. Messages with no text are skipped.
func Transcript(msgs []directory.ChatMessage) []string {
	lines := make([]string, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		text := plainText(m.Content, m.ContentType)
		if text == "" {
			continue
		}
		sender := m.SenderName
		if sender == "" {
			sender = defaultSender
		}
		lines = append(lines, fmt.Sprintf("%s: %s", sender, text))
	}
	return lines
}

// plainText reduces an HTML body to its visible text with whitespace
// collapsed. Plain bodies are only trimmed.
func plainText(content, contentType string) string {
	if !strings.EqualFold(contentType, "html") {
		return strings.TrimSpace(content)
	}
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return strings.TrimSpace(content)
	}
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
		case html.ElementNode:
			switch n.Data {
			case "script", "style":
				return
			case "br", "p", "div", "li":
				b.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(strings.Fields(b.String()), " ")
}
