package schemas

import (
	"sort"
	"time"
)

// Field names used by Record.Present and by extraction schemas.
const (
	FieldTitle     = "title"
	FieldURL       = "url"
	FieldAuthor    = "author"
	FieldTimestamp = "timestamp"
	FieldBody      = "body"
	FieldMedia     = "media"
	FieldTags      = "tags"
	// FieldCounterPrefix prefixes each counter name, e.g. "counters.followers".
	FieldCounterPrefix = "counters."
)

// Counter is an engagement counter scraped from free text. Value is nil when
// the raw text could not be interpreted as a number.
type Counter struct {
	Raw   string `json:"raw"`
	Value *int64 `json:"value,omitempty"`
}

// Int returns the parsed value, or zero when the counter is unparsable.
func (c Counter) Int() int64 {
	if c.Value == nil {
		return 0
	}
	return *c.Value
}

// Record is the structured result of extracting a content page or list item.
// Every field is independently optional.
type Record struct {
	Title     *string            `json:"title,omitempty"`
	URL       *string            `json:"url,omitempty"`
	Author    *string            `json:"author,omitempty"`
	Timestamp *string            `json:"timestamp,omitempty"`
	Body      []Block            `json:"body,omitempty"`
	Media     []string           `json:"media,omitempty"`
	Tags      []string           `json:"tags,omitempty"`
	Counters  map[string]Counter `json:"counters,omitempty"`
	// Origin tags the batch that produced the record, typically the search query.
	Origin      string    `json:"origin,omitempty"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// Identifiable reports whether the record carries a title or a URL. Records
// that are not identifiable never enter ranking.
func (r Record) Identifiable() bool {
	return (r.Title != nil && *r.Title != "") || (r.URL != nil && *r.URL != "")
}

// Counter returns the named counter and whether it was extracted at all.
func (r Record) Counter(name string) (Counter, bool) {
	c, ok := r.Counters[name]
	return c, ok
}

// Present lists the populated field names in a stable order.
func (r Record) Present() []string {
	var out []string
	add := func(ok bool, name string) {
		if ok {
			out = append(out, name)
		}
	}
	add(r.Title != nil, FieldTitle)
	add(r.URL != nil, FieldURL)
	add(r.Author != nil, FieldAuthor)
	add(r.Timestamp != nil, FieldTimestamp)
	add(len(r.Body) > 0, FieldBody)
	add(len(r.Media) > 0, FieldMedia)
	add(len(r.Tags) > 0, FieldTags)

	names := make([]string, 0, len(r.Counters))
	for name := range r.Counters {
		names = append(names, FieldCounterPrefix+name)
	}
	sort.Strings(names)
	return append(out, names...)
}

// TitleOrURL returns a human readable label for logs and prompts.
func (r Record) TitleOrURL() string {
	if r.Title != nil && *r.Title != "" {
		return *r.Title
	}
	if r.URL != nil {
		return *r.URL
	}
	return ""
}

// StringOr dereferences s, returning def when s is nil.
func StringOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

// ScoredCandidate is a Record annotated by one ranking pass.
type ScoredCandidate struct {
	Record Record  `json:"record"`
	Score  float64 `json:"score"`
	// Passed names the filters the record satisfied.
	Passed []string `json:"passed,omitempty"`
	// Eligible is true when every configured filter passed.
	Eligible bool `json:"eligible"`
	// Index is the position of the record in the ranked input, used to keep
	// ordering stable across ties.
	Index int `json:"index"`
}
