package extract

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/quill/api/schemas"
)

// blockSpans flattens a block's HTML into merged runs. Whitespace collapses
// to single spaces, <br> becomes "\n" and nested block elements are
// separated by a space.
func blockSpans(raw string) ([]schemas.Span, error) {
	nodes, err := html.ParseFragment(strings.NewReader(raw), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return nil, err
	}

	var spans []schemas.Span
	add := func(text string, style schemas.Span) {
		if last := len(spans) - 1; last >= 0 && sameStyle(spans[last], style) {
			if strings.HasSuffix(spans[last].Text, " ") {
				text = strings.TrimLeft(text, " ")
			}
			spans[last].Text += text
			return
		}
		style.Text = text
		spans = append(spans, style)
	}
	var walk func(n *html.Node, style schemas.Span)
	walk = func(n *html.Node, style schemas.Span) {
		switch n.Type {
		case html.TextNode:
			if text := collapseRuns(n.Data); text != "" {
				add(text, style)
			}
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			case atom.B, atom.Strong:
				style.Bold = true
			case atom.Em, atom.I:
				style.Italic = true
			case atom.Code:
				style.Code = true
			case atom.Br:
				add("\n", style)
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, style)
		}
		if n.Type == html.ElementNode && blockLevel(n.DataAtom) {
			add(" ", style)
		}
	}
	for _, n := range nodes {
		walk(n, schemas.Span{})
	}
	return trimSpans(spans), nil
}

func blockLevel(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Li, atom.Ul, atom.Ol, atom.Blockquote,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Section:
		return true
	}
	return false
}

func styled(spans []schemas.Span) bool {
	for _, s := range spans {
		if s.Bold || s.Italic || s.Code {
			return true
		}
	}
	return false
}

func sameStyle(a, b schemas.Span) bool {
	return a.Bold == b.Bold && a.Italic == b.Italic && a.Code == b.Code
}

// collapseRuns replaces whitespace runs with a single space, keeping edges.
func collapseRuns(s string) string {
	var b strings.Builder
	space := false
	for _, r := range s {
		if r == ' ' || r == '\n' || r == '\t' || r == '\r' || r == '\f' {
			if !space {
				b.WriteByte(' ')
			}
			space = true
			continue
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// trimSpans drops spaces at the block edges, around line breaks and where
// two runs meet, then removes empty runs.
func trimSpans(spans []schemas.Span) []schemas.Span {
	for i := range spans {
		t := spans[i].Text
		for strings.Contains(t, " \n") || strings.Contains(t, "\n ") {
			t = strings.ReplaceAll(strings.ReplaceAll(t, " \n", "\n"), "\n ", "\n")
		}
		spans[i].Text = t
	}
	for i := 1; i < len(spans); i++ {
		prev := spans[i-1].Text
		if strings.HasSuffix(prev, " ") || strings.HasSuffix(prev, "\n") {
			spans[i].Text = strings.TrimLeft(spans[i].Text, " ")
		}
		if strings.HasPrefix(spans[i].Text, "\n") {
			spans[i-1].Text = strings.TrimRight(prev, " ")
		}
	}
	if len(spans) > 0 {
		spans[0].Text = strings.TrimLeft(spans[0].Text, " \n")
		last := len(spans) - 1
		spans[last].Text = strings.TrimRight(spans[last].Text, " \n")
	}
	out := spans[:0]
	for _, s := range spans {
		if s.Text != "" {
			out = append(out, s)
		}
	}
	return out
}

func spansText(spans []schemas.Span) string {
	var b strings.Builder
	for _, s := range spans {
		b.WriteString(s.Text)
	}
	return b.String()
}
