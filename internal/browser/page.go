package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/quill/internal/humanoid"
	"github.com/xkilldash9x/quill/internal/locator"
)

const defaultNavigationTimeout = 45 * time.Second

// Page is one browser tab. Elements are addressed by a data attribute
// stamped on each node the first time a query returns it, so handles stay
// valid until the node leaves the document.
type Page struct {
	ctx        context.Context
	cancel     context.CancelFunc
	humanoid   *humanoid.Humanoid
	navTimeout time.Duration
	logger     *zap.Logger
	closeOnce  sync.Once
}

var (
	_ locator.Page      = (*Page)(nil)
	_ humanoid.Executor = (*Page)(nil)
)

func newPage(ctx context.Context, cancel context.CancelFunc, h *humanoid.Humanoid, navTimeout time.Duration, logger *zap.Logger) *Page {
	if navTimeout <= 0 {
		navTimeout = defaultNavigationTimeout
	}
	return &Page{
		ctx:        ctx,
		cancel:     cancel,
		humanoid:   h,
		navTimeout: navTimeout,
		logger:     logger.Named("page"),
	}
}

func (p *Page) close() {
	p.closeOnce.Do(p.cancel)
}

// run executes actions on the tab bounded by the caller's ctx.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Navigate loads url and waits for the document body.
func (p *Page) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, p.navTimeout)
	defer cancel()
	p.logger.Debug("Navigating.", zap.String("url", url))
	if err := p.run(navCtx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// URL returns the tab's current location.
func (p *Page) URL(ctx context.Context) (string, error) {
	var u string
	if err := p.run(ctx, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return u, nil
}

type queryResult struct {
	Refs    []string `json:"refs"`
	Stale   bool     `json:"stale"`
	Invalid string   `json:"invalid"`
}

// Query returns every element under scope matching selector in document order.
func (p *Page) Query(ctx context.Context, scope locator.Element, selector string) ([]locator.Element, error) {
	expr, err := call(queryScript, scope.Ref, selector, refAttribute)
	if err != nil {
		return nil, err
	}
	var res queryResult
	if err := p.run(ctx, chromedp.Evaluate(expr, &res)); err != nil {
		return nil, fmt.Errorf("query %q failed: %w", selector, err)
	}
	switch {
	case res.Invalid != "":
		return nil, fmt.Errorf("%w: %q: %s", locator.ErrInvalidSelector, selector, res.Invalid)
	case res.Stale:
		return nil, locator.ErrStaleElement
	}
	els := make([]locator.Element, len(res.Refs))
	for i, ref := range res.Refs {
		els[i] = locator.Element{Ref: ref}
	}
	return els, nil
}

type elementResult struct {
	Found bool   `json:"found"`
	Value string `json:"value"`
	Has   bool   `json:"has"`
}

func (p *Page) inspect(ctx context.Context, el locator.Element, op, arg string) (elementResult, error) {
	expr, err := call(inspectScript, el.Ref, op, arg, refAttribute)
	if err != nil {
		return elementResult{}, err
	}
	var res elementResult
	if err := p.run(ctx, chromedp.Evaluate(expr, &res)); err != nil {
		return elementResult{}, fmt.Errorf("%s failed: %w", op, err)
	}
	if !res.Found {
		return elementResult{}, locator.ErrStaleElement
	}
	return res, nil
}

// Text returns the element's rendered text.
func (p *Page) Text(ctx context.Context, el locator.Element) (string, error) {
	res, err := p.inspect(ctx, el, "text", "")
	return strings.TrimSpace(res.Value), err
}

// Attribute returns the named attribute and whether it is present.
func (p *Page) Attribute(ctx context.Context, el locator.Element, name string) (string, bool, error) {
	res, err := p.inspect(ctx, el, "attr", name)
	return res.Value, res.Has, err
}

// TagName returns the lower-case tag name.
func (p *Page) TagName(ctx context.Context, el locator.Element) (string, error) {
	res, err := p.inspect(ctx, el, "tag", "")
	return res.Value, err
}

// HTML returns the element's outer HTML.
func (p *Page) HTML(ctx context.Context, el locator.Element) (string, error) {
	res, err := p.inspect(ctx, el, "html", "")
	return res.Value, err
}

// Click scrolls the element into view and clicks its center.
func (p *Page) Click(ctx context.Context, el locator.Element) error {
	if _, err := p.inspect(ctx, el, "scroll", ""); err != nil {
		return err
	}
	if err := p.run(ctx, chromedp.Click(refSelector(el), chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

// Type focuses the element and types text with human cadence.
func (p *Page) Type(ctx context.Context, el locator.Element, text string) error {
	if _, err := p.inspect(ctx, el, "focus", ""); err != nil {
		return err
	}
	return p.humanoid.Type(ctx, p, text)
}

// SendKeys dispatches key events to the focused element.
func (p *Page) SendKeys(ctx context.Context, keys string) error {
	return p.run(ctx, chromedp.KeyEvent(keys))
}

// Sleep pauses for d unless ctx ends first.
func (p *Page) Sleep(ctx context.Context, d time.Duration) error {
	return humanoid.Sleep(ctx, d)
}

// Evaluate runs script.Source as fn(element, arg), awaiting a returned
// promise, and decodes the result into res when res is non-nil.
func (p *Page) Evaluate(ctx context.Context, script locator.Script, el locator.Element, arg any, res any) error {
	if script.Source == "" {
		return fmt.Errorf("script %q has no source", script.Name)
	}
	expr, err := evaluateExpression(script.Source, el.Ref, arg)
	if err != nil {
		return err
	}
	var raw string
	err = p.run(ctx, chromedp.Evaluate(expr, &raw, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithAwaitPromise(true)
	}))
	if err != nil {
		return fmt.Errorf("script %q failed: %w", script.Name, err)
	}
	var out evaluateResult
	if err := json.UnmarshalFromString(raw, &out); err != nil {
		return fmt.Errorf("script %q returned malformed output: %w", script.Name, err)
	}
	if out.Stale {
		return locator.ErrStaleElement
	}
	if res == nil || len(out.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(out.Value, res); err != nil {
		return fmt.Errorf("script %q returned an unexpected result: %w", script.Name, err)
	}
	return nil
}

// Snapshot captures the viewport as a PNG.
func (p *Page) Snapshot(ctx context.Context) (locator.Snapshot, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return locator.Snapshot{}, fmt.Errorf("screenshot failed: %w", err)
	}
	if len(buf) == 0 {
		return locator.Snapshot{}, errors.New("screenshot returned no data")
	}
	return locator.Snapshot{Format: "png", Data: buf}, nil
}
