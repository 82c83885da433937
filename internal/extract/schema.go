// Package extract turns unstable DOM structures into schemas.Record values
// using prioritized locator chains per field.
package extract

import (
	"fmt"
	"regexp"

	"github.com/xkilldash9x/quill/internal/locator"
)

// FieldSpec declares how one field is located and read. Attrs are tried in
// order; when none is present the element text is used if Text is set, or
// when no Attrs are declared at all.
type FieldSpec struct {
	Chain locator.Chain
	Attrs []string
	Text  bool
}

// Declared reports whether the field has any strategy.
func (f FieldSpec) Declared() bool { return !f.Chain.Empty() }

// CounterSpec parses a numeric counter out of free text. Pattern's first
// capture group is the number; without a group the whole match is used.
type CounterSpec struct {
	Name    string
	Chain   locator.Chain
	Pattern *regexp.Regexp
}

// BodySpec locates the body container within the record scope and the
// block-level nodes inside it. An empty Scope scans the record scope itself.
type BodySpec struct {
	Scope  locator.Chain
	Blocks locator.Chain
}

// Schema is the full field declaration of a record type.
type Schema struct {
	Title     FieldSpec
	URL       FieldSpec
	Author    FieldSpec
	Timestamp FieldSpec
	Media     FieldSpec
	Tags      FieldSpec
	Body      BodySpec
	Counters  []CounterSpec
	// URLFromPage fills a missing URL with the page location.
	URLFromPage bool
}

// DefaultBlocks is the block chain used when a body declares none.
var DefaultBlocks = locator.Selectors("body-blocks", "h1, h2, h3, h4, h5, h6, p, li, blockquote, pre")

// Validate checks every declared chain.
func (s Schema) Validate() error {
	fields := []FieldSpec{s.Title, s.URL, s.Author, s.Timestamp, s.Media, s.Tags}
	for _, f := range fields {
		if f.Declared() {
			if err := f.Chain.Validate(); err != nil {
				return err
			}
		}
	}
	for _, c := range []locator.Chain{s.Body.Scope, s.Body.Blocks} {
		if !c.Empty() {
			if err := c.Validate(); err != nil {
				return err
			}
		}
	}
	for _, c := range s.Counters {
		if c.Name == "" {
			return fmt.Errorf("counter with chain %q has no name", c.Chain.Name)
		}
		if c.Pattern == nil {
			return fmt.Errorf("counter %q has no pattern", c.Name)
		}
		if err := c.Chain.Validate(); err != nil {
			return err
		}
	}
	return nil
}
