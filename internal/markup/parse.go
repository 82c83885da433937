// Package markup converts between portable documents, their deterministic
// plain markup form, and sanitized HTML for rich-text paste.
package markup

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/xkilldash9x/quill/api/schemas"
)

var md = goldmark.New()

// Parse reads Markdown into a portable document. The document title is the
// text of a leading level-1 heading, which also stays in the blocks.
func Parse(source string) schemas.PortableDocument {
	src := []byte(source)
	root := md.Parser().Parse(text.NewReader(src))

	var doc schemas.PortableDocument
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		doc.Blocks = append(doc.Blocks, blocks(n, src)...)
	}
	if len(doc.Blocks) > 0 && doc.Blocks[0].Kind == schemas.BlockHeading && doc.Blocks[0].Level == 1 {
		doc.Title = doc.Blocks[0].Text
	}
	return doc
}

func blocks(n ast.Node, src []byte) []schemas.Block {
	switch node := n.(type) {
	case *ast.Heading:
		return nonEmpty(withSpans(schemas.Heading(node.Level, ""), inline(node, src)))
	case *ast.Paragraph, *ast.TextBlock:
		return nonEmpty(withSpans(schemas.Paragraph(""), inline(node, src)))
	case *ast.List:
		var out []schemas.Block
		for item := node.FirstChild(); item != nil; item = item.NextSibling() {
			for c := item.FirstChild(); c != nil; c = c.NextSibling() {
				switch c.(type) {
				case *ast.Paragraph, *ast.TextBlock:
					out = append(out, nonEmpty(withSpans(schemas.ListItem(""), inline(c, src)))...)
				default:
					out = append(out, blocks(c, src)...)
				}
			}
		}
		return out
	case *ast.Blockquote:
		var out []schemas.Block
		for c := node.FirstChild(); c != nil; c = c.NextSibling() {
			switch c.(type) {
			case *ast.Paragraph, *ast.TextBlock:
				out = append(out, nonEmpty(withSpans(schemas.Quote(""), inline(c, src)))...)
			default:
				out = append(out, blocks(c, src)...)
			}
		}
		return out
	case *ast.FencedCodeBlock:
		return []schemas.Block{schemas.Code(string(node.Language(src)), codeLines(node, src))}
	case *ast.CodeBlock:
		return []schemas.Block{schemas.Code("", codeLines(node, src))}
	}
	return nil
}

func codeLines(n ast.Node, src []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	return strings.TrimRight(b.String(), "\n")
}

func nonEmpty(b schemas.Block) []schemas.Block {
	if strings.TrimSpace(b.Text) == "" {
		return nil
	}
	return []schemas.Block{b}
}

func withSpans(b schemas.Block, spans []schemas.Span) schemas.Block {
	b.Text = spansText(spans)
	for _, s := range spans {
		if s.Bold || s.Italic || s.Code {
			b.Spans = spans
			break
		}
	}
	return b
}

// inline flattens the inline children of n into merged emphasis runs. Hard
// line breaks are kept as "\n"; soft breaks become a space.
func inline(n ast.Node, src []byte) []schemas.Span {
	var spans []schemas.Span
	add := func(text string, style schemas.Span) {
		if text == "" {
			return
		}
		if last := len(spans) - 1; last >= 0 && sameStyle(spans[last], style) {
			spans[last].Text += text
			return
		}
		style.Text = text
		spans = append(spans, style)
	}

	var walk func(n ast.Node, style schemas.Span)
	walk = func(n ast.Node, style schemas.Span) {
		switch node := n.(type) {
		case *ast.Text:
			add(string(node.Segment.Value(src)), style)
			switch {
			case node.HardLineBreak():
				if last := len(spans) - 1; last >= 0 {
					spans[last].Text = strings.TrimRight(spans[last].Text, " ")
				}
				add("\n", style)
			case node.SoftLineBreak():
				add(" ", style)
			}
			return
		case *ast.String:
			add(string(node.Value), style)
			return
		case *ast.CodeSpan:
			style.Code = true
		case *ast.Emphasis:
			if node.Level >= 2 {
				style.Bold = true
			} else {
				style.Italic = true
			}
		case *ast.AutoLink:
			add(string(node.URL(src)), style)
			return
		case *ast.RawHTML:
			return
		}
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			walk(c, style)
		}
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		walk(c, schemas.Span{})
	}
	return trimEdges(spans)
}

func trimEdges(spans []schemas.Span) []schemas.Span {
	if len(spans) == 0 {
		return spans
	}
	spans[0].Text = strings.TrimLeft(spans[0].Text, " ")
	last := len(spans) - 1
	spans[last].Text = strings.TrimRight(spans[last].Text, " ")
	out := spans[:0]
	for _, s := range spans {
		if s.Text != "" {
			out = append(out, s)
		}
	}
	return out
}

func sameStyle(a, b schemas.Span) bool {
	return a.Bold == b.Bold && a.Italic == b.Italic && a.Code == b.Code
}

func spansText(spans []schemas.Span) string {
	var b strings.Builder
	for _, s := range spans {
		b.WriteString(s.Text)
	}
	return b.String()
}
