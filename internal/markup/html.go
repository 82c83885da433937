package markup

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/quill/api/schemas"
)

var policy = func() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^language-[\w+#.-]+$`)).OnElements("code")
	return p
}()

// HTML renders doc as sanitized HTML suitable for a text/html paste.
// Consecutive list items are grouped into one list.
func HTML(doc schemas.PortableDocument) (string, error) {
	var buf bytes.Buffer
	var list *html.Node
	flush := func() error {
		if list == nil {
			return nil
		}
		err := html.Render(&buf, list)
		list = nil
		return err
	}

	for _, b := range doc.Blocks {
		if b.Kind == schemas.BlockListItem {
			if list == nil {
				list = element(atom.Ul)
			}
			li := element(atom.Li)
			appendInline(li, b)
			list.AppendChild(li)
			continue
		}
		if err := flush(); err != nil {
			return "", fmt.Errorf("markup: rendering list: %w", err)
		}
		if err := html.Render(&buf, blockNode(b)); err != nil {
			return "", fmt.Errorf("markup: rendering %s block: %w", b.Kind, err)
		}
	}
	if err := flush(); err != nil {
		return "", fmt.Errorf("markup: rendering list: %w", err)
	}
	return policy.Sanitize(buf.String()), nil
}

func blockNode(b schemas.Block) *html.Node {
	switch b.Kind {
	case schemas.BlockHeading:
		level := min(max(b.Level, 1), 6)
		n := &html.Node{Type: html.ElementNode, Data: "h" + strconv.Itoa(level)}
		n.DataAtom = atom.Lookup([]byte(n.Data))
		appendInline(n, b)
		return n
	case schemas.BlockQuote:
		q := element(atom.Blockquote)
		p := element(atom.P)
		appendInline(p, b)
		q.AppendChild(p)
		return q
	case schemas.BlockCode:
		pre := element(atom.Pre)
		code := element(atom.Code)
		if b.Lang != "" {
			code.Attr = []html.Attribute{{Key: "class", Val: "language-" + b.Lang}}
		}
		code.AppendChild(textNode(b.Text))
		pre.AppendChild(code)
		return pre
	default:
		p := element(atom.P)
		appendInline(p, b)
		return p
	}
}

// appendInline writes the block's spans under parent. Line breaks inside a
// span become <br> elements between its styled runs.
func appendInline(parent *html.Node, b schemas.Block) {
	for _, s := range b.InlineSpans() {
		for i, line := range strings.Split(s.Text, "\n") {
			if i > 0 {
				parent.AppendChild(element(atom.Br))
			}
			if line != "" {
				parent.AppendChild(styled(line, s))
			}
		}
	}
}

func styled(text string, s schemas.Span) *html.Node {
	n := textNode(text)
	if s.Code {
		c := element(atom.Code)
		c.AppendChild(n)
		return c
	}
	if s.Italic {
		em := element(atom.Em)
		em.AppendChild(n)
		n = em
	}
	if s.Bold {
		strong := element(atom.Strong)
		strong.AppendChild(n)
		n = strong
	}
	return n
}

func element(a atom.Atom) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
}

func textNode(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}
