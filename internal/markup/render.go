package markup

import (
	"strings"

	"github.com/xkilldash9x/quill/api/schemas"
)

// Render produces the deterministic fallback markup for blocks: "#" headings,
// "- " list items, "> " quotes, fenced code, emphasis as **b**, *i* and
// `c`, line breaks as a trailing backslash, with blocks separated by one
// blank line.
func Render(blocks []schemas.Block) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if s := renderBlock(b); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

// RenderDocument renders every block of doc.
func RenderDocument(doc schemas.PortableDocument) string {
	return Render(doc.Blocks)
}

func renderBlock(b schemas.Block) string {
	switch b.Kind {
	case schemas.BlockHeading:
		level := min(max(b.Level, 1), 6)
		return strings.Repeat("#", level) + " " + renderInline(b)
	case schemas.BlockListItem:
		return "- " + renderInline(b)
	case schemas.BlockQuote:
		return "> " + renderInline(b)
	case schemas.BlockCode:
		return "```" + b.Lang + "\n" + b.Text + "\n```"
	default:
		return renderInline(b)
	}
}

// breakMarker is the explicit hard line break of the fallback markup.
const breakMarker = "\\\n"

func renderInline(b schemas.Block) string {
	if len(b.Spans) == 0 {
		return withBreaks(b.Text)
	}
	var sb strings.Builder
	for _, s := range b.Spans {
		switch {
		case s.Code:
			sb.WriteString("`" + s.Text + "`")
		case s.Bold && s.Italic:
			sb.WriteString("***" + withBreaks(s.Text) + "***")
		case s.Bold:
			sb.WriteString("**" + withBreaks(s.Text) + "**")
		case s.Italic:
			sb.WriteString("*" + withBreaks(s.Text) + "*")
		default:
			sb.WriteString(withBreaks(s.Text))
		}
	}
	return sb.String()
}

func withBreaks(s string) string {
	return strings.ReplaceAll(s, "\n", breakMarker)
}
