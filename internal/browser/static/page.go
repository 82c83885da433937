// Package static implements the page capability over a parsed HTML snapshot.
// It drives extraction of server-rendered pages without a browser and is the
// deterministic page used throughout the test suites.
package static

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/quill/internal/locator"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrNoRoute is returned by Navigate when a URL has no registered route and
	// no HTTP client is configured.
	ErrNoRoute = errors.New("static: no route for url")
	// ErrScriptUnsupported is returned by Evaluate for scripts without a handler.
	ErrScriptUnsupported = errors.New("static: script has no registered handler")
)

// ScriptFunc emulates a named script. el is the document selection when the
// script runs against the document scope.
type ScriptFunc func(ctx context.Context, p *Page, el *goquery.Selection, arg any) (any, error)

// ClickFunc runs when an element matching a hook selector is clicked.
type ClickFunc func(p *Page, el *goquery.Selection)

// Action is one recorded interaction.
type Action struct {
	Kind string
	Ref  string
	Text string
}

type clickHook struct {
	matcher cascadia.Selector
	fn      ClickFunc
}

// Page is a locator.Page backed by goquery.
type Page struct {
	mu      sync.Mutex
	doc     *goquery.Document
	url     string
	nodes   map[string]*html.Node
	refs    map[*html.Node]string
	seq     int
	routes  map[string]string
	client  *http.Client
	scripts map[string]ScriptFunc
	hooks   []clickHook
	actions []Action
}

var _ locator.Page = (*Page)(nil)

// Option configures a Page.
type Option func(*Page)

// WithHTTPClient lets Navigate fetch URLs that have no registered route.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Page) { p.client = c }
}

// WithRoute serves body for url on Navigate.
func WithRoute(url, body string) Option {
	return func(p *Page) { p.routes[url] = body }
}

// WithScript registers a handler for a named script.
func WithScript(name string, fn ScriptFunc) Option {
	return func(p *Page) { p.scripts[name] = fn }
}

// OnClick registers fn for clicks on elements matching selector.
func OnClick(selector string, fn ClickFunc) Option {
	return func(p *Page) {
		p.hooks = append(p.hooks, clickHook{matcher: cascadia.MustCompile(selector), fn: fn})
	}
}

// New creates an empty page.
func New(opts ...Option) *Page {
	p := &Page{
		routes:  make(map[string]string),
		scripts: make(map[string]ScriptFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.reset(nil, "about:blank")
	return p
}

// FromHTML creates a page already showing body at url.
func FromHTML(url, body string, opts ...Option) (*Page, error) {
	p := New(opts...)
	if err := p.SetHTML(url, body); err != nil {
		return nil, err
	}
	return p, nil
}

// SetHTML replaces the document. Outstanding element handles become stale.
func (p *Page) SetHTML(url, body string) error {
	return p.load(url, strings.NewReader(body))
}

func (p *Page) load(url string, r io.Reader) error {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return fmt.Errorf("static: failed to parse document: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset(doc, url)
	return nil
}

func (p *Page) reset(doc *goquery.Document, url string) {
	if doc == nil {
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader("<html><head></head><body></body></html>"))
	}
	p.doc = doc
	p.url = url
	p.nodes = make(map[string]*html.Node)
	p.refs = make(map[*html.Node]string)
}

// Actions returns the recorded interactions.
func (p *Page) Actions() []Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Action, len(p.actions))
	copy(out, p.actions)
	return out
}

// Count returns how many actions of kind were recorded.
func (p *Page) Count(kind string) int {
	n := 0
	for _, a := range p.Actions() {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

// Document returns the current document for assertions.
func (p *Page) Document() *goquery.Document {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc
}

// Navigate loads a registered route or fetches the URL over HTTP.
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.record(Action{Kind: "navigate", Text: url})

	p.mu.Lock()
	body, ok := p.routes[url]
	client := p.client
	p.mu.Unlock()
	if ok {
		return p.SetHTML(url, body)
	}
	if client == nil {
		return fmt.Errorf("%w: %s", ErrNoRoute, url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("static: failed to build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("static: failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("static: fetching %s returned status %d", url, resp.StatusCode)
	}
	return p.load(resp.Request.URL.String(), resp.Body)
}

// URL returns the address of the current document.
func (p *Page) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

// Query returns matches of selector below scope in document order.
func (p *Page) Query(ctx context.Context, scope locator.Element, selector string) ([]locator.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matcher, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", locator.ErrInvalidSelector, selector, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	root, err := p.selection(scope)
	if err != nil {
		return nil, err
	}
	found := root.FindMatcher(matcher)
	out := make([]locator.Element, 0, found.Length())
	for _, n := range found.Nodes {
		out = append(out, locator.Element{Ref: p.refFor(n)})
	}
	return out, nil
}

// Text returns the element's text with whitespace collapsed, except inside
// preformatted elements.
func (p *Page) Text(ctx context.Context, el locator.Element) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sel, err := p.selection(el)
	if err != nil {
		return "", err
	}
	if goquery.NodeName(sel) == "pre" || sel.Closest("pre").Length() > 0 {
		return sel.Text(), nil
	}
	return strings.Join(strings.Fields(sel.Text()), " "), nil
}

// Attribute returns the named attribute.
func (p *Page) Attribute(ctx context.Context, el locator.Element, name string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sel, err := p.selection(el)
	if err != nil {
		return "", false, err
	}
	v, ok := sel.Attr(name)
	return v, ok, nil
}

// TagName returns the lower-case tag name.
func (p *Page) TagName(ctx context.Context, el locator.Element) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sel, err := p.selection(el)
	if err != nil {
		return "", err
	}
	return strings.ToLower(goquery.NodeName(sel)), nil
}

// HTML returns the outer HTML of the element.
func (p *Page) HTML(ctx context.Context, el locator.Element) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sel, err := p.selection(el)
	if err != nil {
		return "", err
	}
	if el.IsDocument() {
		return sel.Html()
	}
	return goquery.OuterHtml(sel)
}

// Click records the click and runs matching hooks.
func (p *Page) Click(ctx context.Context, el locator.Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	sel, err := p.selection(el)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.actions = append(p.actions, Action{Kind: "click", Ref: el.Ref})
	var fns []ClickFunc
	for _, h := range p.hooks {
		if h.matcher.Match(sel.Get(0)) {
			fns = append(fns, h.fn)
		}
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(p, sel)
	}
	return nil
}

// Type appends text to an input's value or to an editable element's content.
func (p *Page) Type(ctx context.Context, el locator.Element, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sel, err := p.selection(el)
	if err != nil {
		return err
	}
	switch goquery.NodeName(sel) {
	case "input", "textarea":
		current, _ := sel.Attr("value")
		sel.SetAttr("value", current+text)
	default:
		sel.AppendHtml(html.EscapeString(text))
	}
	p.actions = append(p.actions, Action{Kind: "type", Ref: el.Ref, Text: text})
	return nil
}

// Evaluate dispatches to the handler registered under script.Name.
func (p *Page) Evaluate(ctx context.Context, script locator.Script, el locator.Element, arg any, res any) error {
	p.mu.Lock()
	fn, ok := p.scripts[script.Name]
	sel, err := p.selection(el)
	p.actions = append(p.actions, Action{Kind: "evaluate", Ref: el.Ref, Text: script.Name})
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrScriptUnsupported, script.Name)
	}
	if err != nil {
		return err
	}

	out, err := fn(ctx, p, sel, arg)
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("static: failed to encode script result: %w", err)
	}
	return json.Unmarshal(raw, res)
}

// Snapshot captures the serialized DOM.
func (p *Page) Snapshot(ctx context.Context) (locator.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var buf bytes.Buffer
	for _, n := range p.doc.Nodes {
		if err := html.Render(&buf, n); err != nil {
			return locator.Snapshot{}, fmt.Errorf("static: failed to render snapshot: %w", err)
		}
	}
	return locator.Snapshot{Format: "html", Data: buf.Bytes()}, nil
}

func (p *Page) record(a Action) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, a)
}

// selection must be called with mu held.
func (p *Page) selection(el locator.Element) (*goquery.Selection, error) {
	if el.IsDocument() {
		return p.doc.Selection, nil
	}
	n, ok := p.nodes[el.Ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", locator.ErrStaleElement, el.Ref)
	}
	return p.doc.FindNodes(n), nil
}

// refFor must be called with mu held.
func (p *Page) refFor(n *html.Node) string {
	if ref, ok := p.refs[n]; ok {
		return ref
	}
	p.seq++
	ref := "s" + strconv.Itoa(p.seq)
	p.refs[n] = ref
	p.nodes[ref] = n
	return ref
}
