package locator

import (
	"context"
	"errors"
)

var (
	// ErrStaleElement is returned by a Page when an element handle no longer
	// resolves to a live node.
	ErrStaleElement = errors.New("element is no longer attached to the page")
	// ErrInvalidSelector is returned by a Page when a selector cannot be parsed.
	ErrInvalidSelector = errors.New("invalid selector")
)

// Element is an opaque handle to a node owned by a Page. The zero value
// denotes the whole document.
type Element struct {
	Ref string
}

// Document is the scope covering the entire page.
var Document = Element{}

// IsDocument reports whether the element denotes the whole document.
func (e Element) IsDocument() bool { return e.Ref == "" }

// Script is a named function evaluated against an element. Source is a
// JavaScript function expression taking (element, arg); pages that do not run
// JavaScript dispatch on Name instead.
type Script struct {
	Name   string
	Source string
}

// Snapshot is a diagnostic capture of the current page state.
type Snapshot struct {
	// Format is the file extension of Data, e.g. "png" or "html".
	Format string
	Data   []byte
}

// Page is the browser capability surface every component depends on.
// Implementations must return query results in document order.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Query(ctx context.Context, scope Element, selector string) ([]Element, error)
	Text(ctx context.Context, el Element) (string, error)
	Attribute(ctx context.Context, el Element, name string) (string, bool, error)
	TagName(ctx context.Context, el Element) (string, error)
	HTML(ctx context.Context, el Element) (string, error)
	Click(ctx context.Context, el Element) error
	Type(ctx context.Context, el Element, text string) error
	Evaluate(ctx context.Context, script Script, el Element, arg any, res any) error
	Snapshot(ctx context.Context) (Snapshot, error)
}
