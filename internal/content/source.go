// Package content produces the answer documents handed to the injector.
package content

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/quill/api/schemas"
	"github.com/xkilldash9x/quill/internal/config"
	"github.com/xkilldash9x/quill/internal/store"
)

// ErrEmptyContent is returned when a source produced a document without text.
var ErrEmptyContent = errors.New("content: source produced an empty document")

// Request describes what to write about.
type Request struct {
	// Question is the selected candidate. It may be empty for a direct
	// publish, in which case sources that need a topic fail.
	Question schemas.Record
}

// Source produces a portable document for a request.
type Source interface {
	Name() string
	Document(ctx context.Context, req Request) (schemas.PortableDocument, error)
}

// New builds the source selected by cfg. The Gemini source falls back to the
// template when generation fails.
func New(cfg config.ContentConfig, docs *store.Documents, logger *zap.Logger) (Source, error) {
	switch cfg.Source {
	case config.ContentSourceFile:
		return NewFileSource(docs, cfg.DocumentPath), nil
	case config.ContentSourceGemini:
		gemini, err := NewGeminiSource(cfg.Gemini, cfg.SystemPrompt, logger)
		if err != nil {
			return nil, err
		}
		return NewFallback(logger, gemini, NewTemplateSource()), nil
	case config.ContentSourceTemplate:
		return NewTemplateSource(), nil
	default:
		return nil, fmt.Errorf("content: unknown source %q", cfg.Source)
	}
}

// Fallback tries each source in order and returns the first document.
type Fallback struct {
	sources []Source
	logger  *zap.Logger
}

// NewFallback chains sources.
func NewFallback(logger *zap.Logger, sources ...Source) *Fallback {
	return &Fallback{sources: sources, logger: logger.Named("content")}
}

func (f *Fallback) Name() string { return "fallback" }

// Document returns the first non-empty document. Context cancellation stops
// the chain immediately.
func (f *Fallback) Document(ctx context.Context, req Request) (schemas.PortableDocument, error) {
	var errs []error
	for _, s := range f.sources {
		doc, err := s.Document(ctx, req)
		if err == nil {
			return doc, nil
		}
		if ctx.Err() != nil {
			return schemas.PortableDocument{}, ctx.Err()
		}
		f.logger.Warn("Content source failed, trying the next one.", zap.String("source", s.Name()), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	return schemas.PortableDocument{}, fmt.Errorf("content: every source failed: %w", errors.Join(errs...))
}
