package content

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/quill/api/schemas"
	"github.com/xkilldash9x/quill/internal/markup"
	"github.com/xkilldash9x/quill/internal/store"
)

// FileSource reads a prepared Markdown document.
type FileSource struct {
	docs *store.Documents
	path string
}

// NewFileSource reads path through docs.
func NewFileSource(docs *store.Documents, path string) *FileSource {
	return &FileSource{docs: docs, path: path}
}

func (s *FileSource) Name() string { return "file" }

func (s *FileSource) Document(ctx context.Context, _ Request) (schemas.PortableDocument, error) {
	if err := ctx.Err(); err != nil {
		return schemas.PortableDocument{}, err
	}
	text, err := s.docs.ReadDocument(s.path)
	if err != nil {
		return schemas.PortableDocument{}, fmt.Errorf("content: %w", err)
	}
	doc := markup.Parse(text)
	if doc.Empty() {
		return schemas.PortableDocument{}, fmt.Errorf("%w: %s", ErrEmptyContent, s.path)
	}
	return doc, nil
}
