package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"go.uber.org/zap"

	"github.com/xkilldash9x/quill/api/schemas"
	"github.com/xkilldash9x/quill/internal/locator"
)

// Stats summarizes a batch extraction.
type Stats struct {
	Seen    int
	Kept    int
	Dropped int
}

// Extractor reads records declared by a Schema.
type Extractor struct {
	resolver *locator.Resolver
	schema   Schema
	logger   *zap.Logger
	now      func() time.Time
	md       *htmltomarkdown.Converter
}

// NewExtractor creates an extractor for schema.
func NewExtractor(resolver *locator.Resolver, schema Schema, logger *zap.Logger) *Extractor {
	if schema.Body.Blocks.Empty() {
		schema.Body.Blocks = DefaultBlocks
	}
	return &Extractor{
		resolver: resolver,
		schema:   schema,
		logger:   logger.Named("extract"),
		now:      time.Now,
		md: htmltomarkdown.NewConverter(
			htmltomarkdown.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}
}

// Extract reads every declared field within scope. Fields that cannot be
// located are left absent; only provider faults and cancellation are errors.
func (e *Extractor) Extract(ctx context.Context, scope locator.Element) (schemas.Record, error) {
	rec := schemas.Record{ExtractedAt: e.now().UTC()}
	page := e.resolver.Page()
	pageURL, err := page.URL(ctx)
	if err != nil {
		return rec, err
	}

	single := []struct {
		spec FieldSpec
		dst  **string
		url  bool
	}{
		{e.schema.Title, &rec.Title, false},
		{e.schema.URL, &rec.URL, true},
		{e.schema.Author, &rec.Author, false},
		{e.schema.Timestamp, &rec.Timestamp, false},
	}
	for _, f := range single {
		if !f.spec.Declared() {
			continue
		}
		v, ok, err := e.readOne(ctx, f.spec, scope)
		if err != nil {
			return rec, err
		}
		if !ok {
			continue
		}
		if f.url {
			v = resolveURL(pageURL, v)
		}
		*f.dst = &v
	}
	if rec.URL == nil && e.schema.URLFromPage && pageURL != "" {
		u := pageURL
		rec.URL = &u
	}

	if e.schema.Media.Declared() {
		values, err := e.readAll(ctx, e.schema.Media, scope)
		if err != nil {
			return rec, err
		}
		for _, v := range values {
			if strings.HasPrefix(v, "data:") {
				continue
			}
			rec.Media = appendUnique(rec.Media, resolveURL(pageURL, v))
		}
	}
	if e.schema.Tags.Declared() {
		values, err := e.readAll(ctx, e.schema.Tags, scope)
		if err != nil {
			return rec, err
		}
		for _, v := range values {
			rec.Tags = appendUnique(rec.Tags, v)
		}
	}

	if rec.Body, err = e.body(ctx, scope); err != nil {
		return rec, err
	}
	if rec.Counters, err = e.counters(ctx, scope); err != nil {
		return rec, err
	}
	return rec, nil
}

// ExtractAll extracts one record per element of the item chain, tagging each
// with origin and keeping at most limit identifiable records (0 for no
// limit). An exhausted item chain is an error naming the chain.
func (e *Extractor) ExtractAll(ctx context.Context, items locator.Chain, origin string, limit int) ([]schemas.Record, Stats, error) {
	var stats Stats
	els, s, err := e.resolver.ResolveAll(ctx, items, locator.Document)
	if err != nil {
		return nil, stats, err
	}
	if len(els) == 0 {
		return nil, stats, locator.Exhausted(items)
	}
	e.logger.Debug("Extracting batch.", zap.String("origin", origin), zap.Stringer("strategy", s), zap.Int("items", len(els)))

	var records []schemas.Record
	for _, el := range els {
		if limit > 0 && len(records) >= limit {
			break
		}
		stats.Seen++
		rec, err := e.Extract(ctx, el)
		if err != nil {
			if errors.Is(err, locator.ErrStaleElement) {
				e.logger.Debug("Item detached during extraction, skipping.", zap.String("ref", el.Ref))
				stats.Dropped++
				continue
			}
			return records, stats, err
		}
		if !rec.Identifiable() {
			stats.Dropped++
			continue
		}
		rec.Origin = origin
		records = append(records, rec)
		stats.Kept++
	}
	if stats.Dropped > 0 {
		e.logger.Info("Dropped records without title or URL.", zap.String("origin", origin), zap.Int("dropped", stats.Dropped))
	}
	return records, stats, nil
}

// Markdown converts the body container under scope to Markdown for archival.
// It returns an empty string when no body container is found.
func (e *Extractor) Markdown(ctx context.Context, scope locator.Element) (string, error) {
	root := scope
	if !e.schema.Body.Scope.Empty() {
		m, err := e.resolver.Probe(ctx, e.schema.Body.Scope, scope)
		if err != nil || !m.Found {
			return "", err
		}
		root = m.Element
	}
	page := e.resolver.Page()
	raw, err := page.HTML(ctx, root)
	if err != nil {
		return "", fmt.Errorf("extract: reading body html: %w", err)
	}
	pageURL, _ := page.URL(ctx)
	var opts []htmltomarkdown.ConvertOptionFunc
	if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
		opts = append(opts, htmltomarkdown.WithDomain(u.Scheme+"://"+u.Host))
	}
	md, err := e.md.ConvertString(raw, opts...)
	if err != nil {
		return "", fmt.Errorf("extract: converting body to markdown: %w", err)
	}
	return strings.TrimSpace(md), nil
}

func (e *Extractor) readOne(ctx context.Context, spec FieldSpec, scope locator.Element) (string, bool, error) {
	m, err := e.resolver.Probe(ctx, spec.Chain, scope)
	if err != nil || !m.Found {
		return "", false, err
	}
	v, err := e.read(ctx, spec, m.Element)
	if err != nil || v == "" {
		return "", false, ignoreStale(err)
	}
	return v, true, nil
}

func (e *Extractor) readAll(ctx context.Context, spec FieldSpec, scope locator.Element) ([]string, error) {
	els, _, err := e.resolver.ProbeAll(ctx, spec.Chain, scope)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, el := range els {
		v, err := e.read(ctx, spec, el)
		if err != nil {
			if err = ignoreStale(err); err != nil {
				return nil, err
			}
			continue
		}
		if v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

func (e *Extractor) read(ctx context.Context, spec FieldSpec, el locator.Element) (string, error) {
	page := e.resolver.Page()
	for _, attr := range spec.Attrs {
		v, ok, err := page.Attribute(ctx, el, attr)
		if err != nil {
			return "", err
		}
		if v = strings.TrimSpace(v); ok && v != "" {
			return v, nil
		}
	}
	if len(spec.Attrs) > 0 && !spec.Text {
		return "", nil
	}
	text, err := page.Text(ctx, el)
	return strings.TrimSpace(text), err
}

func (e *Extractor) body(ctx context.Context, scope locator.Element) ([]schemas.Block, error) {
	root := scope
	if !e.schema.Body.Scope.Empty() {
		m, err := e.resolver.Probe(ctx, e.schema.Body.Scope, scope)
		if err != nil || !m.Found {
			return nil, err
		}
		root = m.Element
	}

	els, strategy, err := e.resolver.ProbeAll(ctx, e.schema.Body.Blocks, root)
	if err != nil {
		return nil, err
	}
	page := e.resolver.Page()
	// A matched node owns the text of every match nested inside it.
	owned := make(map[string]struct{})
	var blocks []schemas.Block
	for _, el := range els {
		if _, ok := owned[el.Ref]; ok {
			continue
		}
		nested, err := page.Query(ctx, el, strategy.Selector)
		if err != nil {
			if err = ignoreStale(err); err != nil {
				return nil, err
			}
			continue
		}
		for _, n := range nested {
			owned[n.Ref] = struct{}{}
		}

		b, ok, err := e.block(ctx, el)
		if err != nil {
			if err = ignoreStale(err); err != nil {
				return nil, err
			}
			continue
		}
		if ok {
			blocks = append(blocks, b)
		}
	}
	return blocks, nil
}

// block maps a node to a block by its tag. Empty blocks are dropped.
func (e *Extractor) block(ctx context.Context, el locator.Element) (schemas.Block, bool, error) {
	page := e.resolver.Page()
	tag, err := page.TagName(ctx, el)
	if err != nil {
		return schemas.Block{}, false, err
	}
	text, err := page.Text(ctx, el)
	if err != nil {
		return schemas.Block{}, false, err
	}

	var b schemas.Block
	switch {
	case tag == "pre":
		code := strings.Trim(text, "\n")
		if strings.TrimSpace(code) == "" {
			return b, false, nil
		}
		lang, err := e.codeLang(ctx, el)
		if err != nil {
			return b, false, err
		}
		return schemas.Code(lang, code), true, nil
	case len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6':
		level, _ := strconv.Atoi(tag[1:])
		b = schemas.Heading(level, text)
	case tag == "li":
		b = schemas.ListItem(text)
	case tag == "blockquote":
		b = schemas.Quote(text)
	default:
		b = schemas.Paragraph(text)
	}

	if b.Kind != schemas.BlockHeading {
		raw, err := page.HTML(ctx, el)
		if err != nil {
			return b, false, err
		}
		// The markup keeps line breaks that element text loses.
		if spans, err := blockSpans(raw); err == nil && len(spans) > 0 {
			b.Text = spansText(spans)
			if styled(spans) {
				b.Spans = spans
			}
		}
	}
	b.Text = strings.TrimSpace(b.Text)
	if b.Text == "" {
		return b, false, nil
	}
	return b, true, nil
}

// codeLang reads the language of a code block from the pre's lang attribute
// or a language-* class on its code child.
func (e *Extractor) codeLang(ctx context.Context, el locator.Element) (string, error) {
	page := e.resolver.Page()
	if lang, ok, err := page.Attribute(ctx, el, "lang"); err != nil || (ok && lang != "") {
		return strings.TrimSpace(lang), err
	}
	codes, err := page.Query(ctx, el, "code")
	if err != nil || len(codes) == 0 {
		return "", err
	}
	class, _, err := page.Attribute(ctx, codes[0], "class")
	if err != nil {
		return "", err
	}
	for _, c := range strings.Fields(class) {
		if lang, ok := strings.CutPrefix(c, "language-"); ok {
			return lang, nil
		}
	}
	return "", nil
}

func ignoreStale(err error) error {
	if errors.Is(err, locator.ErrStaleElement) {
		return nil
	}
	return err
}

func resolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
