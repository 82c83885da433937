package schemas

import "strings"

// BlockKind is the type of a content block.
type BlockKind string

const (
	BlockHeading   BlockKind = "heading"
	BlockParagraph BlockKind = "paragraph"
	BlockListItem  BlockKind = "list-item"
	BlockQuote     BlockKind = "quote"
	BlockCode      BlockKind = "code-block"
)

// Span is a run of inline text with optional emphasis.
type Span struct {
	Text   string `json:"text"`
	Bold   bool   `json:"bold,omitempty"`
	Italic bool   `json:"italic,omitempty"`
	Code   bool   `json:"code,omitempty"`
}

// Block is one typed unit of a document body. Text always carries the plain
// text; Spans is only set when the block has inline emphasis.
type Block struct {
	Kind  BlockKind `json:"kind"`
	Level int       `json:"level,omitempty"`
	Text  string    `json:"text"`
	Spans []Span    `json:"spans,omitempty"`
	Lang  string    `json:"lang,omitempty"`
}

// Heading builds a heading block.
func Heading(level int, text string) Block {
	return Block{Kind: BlockHeading, Level: level, Text: text}
}

// Paragraph builds a paragraph block.
func Paragraph(text string) Block { return Block{Kind: BlockParagraph, Text: text} }

// ListItem builds a list item block.
func ListItem(text string) Block { return Block{Kind: BlockListItem, Text: text} }

// Quote builds a quote block.
func Quote(text string) Block { return Block{Kind: BlockQuote, Text: text} }

// Code builds a code block.
func Code(lang, text string) Block { return Block{Kind: BlockCode, Lang: lang, Text: text} }

// InlineSpans returns the block's spans, or a single plain span of Text.
func (b Block) InlineSpans() []Span {
	if len(b.Spans) > 0 {
		return b.Spans
	}
	return []Span{{Text: b.Text}}
}

// PortableDocument is a rendering-independent document consumed by the
// injector.
type PortableDocument struct {
	Title  string  `json:"title,omitempty"`
	Blocks []Block `json:"blocks"`
}

// PlainText flattens the document, one block per paragraph.
func (d PortableDocument) PlainText() string {
	parts := make([]string, 0, len(d.Blocks))
	for _, b := range d.Blocks {
		parts = append(parts, b.Text)
	}
	return strings.Join(parts, "\n\n")
}

// Empty reports whether the document has no non-blank blocks.
func (d PortableDocument) Empty() bool {
	for _, b := range d.Blocks {
		if strings.TrimSpace(b.Text) != "" {
			return false
		}
	}
	return true
}
