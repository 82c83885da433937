package locator_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/quill/internal/browser/static"
	"github.com/xkilldash9x/quill/internal/locator"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const fixture = `<html><body>
  <div class="list">
    <div class="item" id="first"><h2><a href="/question/1">First</a></h2></div>
    <div class="item" id="second"><h2><a href="/question/2">Second</a></h2></div>
  </div>
  <div class="other"><span>outside</span></div>
  <button class="tab">验证码登录</button>
  <button class="tab">密码登录</button>
</body></html>`

func newResolver(t *testing.T, page locator.Page) *locator.Resolver {
	t.Helper()
	return locator.NewResolver(page, zaptest.NewLogger(t),
		locator.WithTimeout(20*time.Millisecond),
		locator.WithPollInterval(5*time.Millisecond))
}

func newPage(t *testing.T, body string) *static.Page {
	t.Helper()
	page, err := static.FromHTML("https://example.test/", body)
	require.NoError(t, err)
	return page
}

func TestResolve_PriorityOrder(t *testing.T) {
	ctx := context.Background()
	page := newPage(t, fixture)
	r := newResolver(t, page)

	// For every chain length N and winning position k, strategies before k miss,
	// strategy k matches and strategies after k would also match.
	for n := 1; n <= 5; n++ {
		for k := 0; k < n; k++ {
			t.Run(fmt.Sprintf("N=%d k=%d", n, k), func(t *testing.T) {
				var strategies []locator.Strategy
				for i := 0; i < n; i++ {
					s := locator.Strategy{Name: fmt.Sprintf("s%d", i), Priority: n - i}
					switch {
					case i < k:
						s.Selector = fmt.Sprintf(".missing-%d", i)
					case i == k:
						s.Selector = "#second"
					default:
						s.Selector = ".item"
					}
					strategies = append(strategies, s)
				}

				m, err := r.Resolve(ctx, locator.NewChain("chain", strategies...), locator.Document)
				require.NoError(t, err)
				require.True(t, m.Found)
				assert.Equal(t, fmt.Sprintf("s%d", k), m.Strategy.Name)

				id, ok, err := page.Attribute(ctx, m.Element, "id")
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, "second", id)
			})
		}
	}
}

func TestResolve_FirstMatchInDocumentOrder(t *testing.T) {
	ctx := context.Background()
	page := newPage(t, fixture)
	r := newResolver(t, page)

	m, err := r.Resolve(ctx, locator.Selectors("items", ".item"), locator.Document)
	require.NoError(t, err)
	require.True(t, m.Found)
	id, _, err := page.Attribute(ctx, m.Element, "id")
	require.NoError(t, err)
	assert.Equal(t, "first", id)

	all, s, err := r.ResolveAll(ctx, locator.Selectors("items", ".item"), locator.Document)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, ".item", s.Selector)
}

func TestResolve_NotFoundIsNotAnError(t *testing.T) {
	ctx := context.Background()
	r := newResolver(t, newPage(t, fixture))
	chain := locator.Selectors("submit", "button[type=submit]", ".SignFlow-submitButton")

	m, err := r.Resolve(ctx, chain, locator.Document)
	require.NoError(t, err)
	assert.False(t, m.Found)

	_, err = r.Require(ctx, chain, locator.Document)
	require.Error(t, err)
	assert.True(t, errors.Is(err, locator.ErrExhausted))

	var exhausted *locator.ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, "submit", exhausted.Chain)
	assert.Equal(t, []string{"button[type=submit]", ".SignFlow-submitButton"}, exhausted.Tried)
	assert.Contains(t, err.Error(), `chain "submit" exhausted`)
}

func TestResolve_TextPredicate(t *testing.T) {
	ctx := context.Background()
	page := newPage(t, fixture)
	r := newResolver(t, page)

	chain := locator.NewChain("login-mode",
		locator.Strategy{Selector: "button", Text: []string{"密码登录", "账号密码"}, Priority: 2},
		locator.Strategy{Selector: ".SignFlow-tab", Priority: 1},
	)
	m, err := r.Resolve(ctx, chain, locator.Document)
	require.NoError(t, err)
	require.True(t, m.Found)

	text, err := page.Text(ctx, m.Element)
	require.NoError(t, err)
	assert.Equal(t, "密码登录", text)
}

func TestResolve_ScopeLimitsMatches(t *testing.T) {
	ctx := context.Background()
	page := newPage(t, fixture)
	r := newResolver(t, page)

	scope, err := r.Require(ctx, locator.Selectors("item", "#second"), locator.Document)
	require.NoError(t, err)

	m, err := r.Resolve(ctx, locator.Selectors("title", "h2 a"), scope)
	require.NoError(t, err)
	require.True(t, m.Found)
	text, err := page.Text(ctx, m.Element)
	require.NoError(t, err)
	assert.Equal(t, "Second", text)

	m, err = r.Resolve(ctx, locator.Selectors("outside", ".other span"), scope)
	require.NoError(t, err)
	assert.False(t, m.Found, "matches outside the scope must be ignored")
}

func TestResolve_InvalidSelectorFallsThrough(t *testing.T) {
	ctx := context.Background()
	r := newResolver(t, newPage(t, fixture))

	chain := locator.Selectors("write", `button:has-text("写回答")`, ".item")
	m, err := r.Resolve(ctx, chain, locator.Document)
	require.NoError(t, err)
	require.True(t, m.Found)
	assert.Equal(t, ".item", m.Strategy.Selector)
}

// countingPage counts queries per selector.
type countingPage struct {
	*static.Page
	mu      sync.Mutex
	queries map[string]int
}

func (p *countingPage) Query(ctx context.Context, scope locator.Element, selector string) ([]locator.Element, error) {
	p.mu.Lock()
	p.queries[selector]++
	p.mu.Unlock()
	return p.Page.Query(ctx, scope, selector)
}

func TestResolve_InvalidSelectorIsNotPolled(t *testing.T) {
	ctx := context.Background()
	page := &countingPage{Page: newPage(t, fixture), queries: make(map[string]int)}
	r := locator.NewResolver(page, zaptest.NewLogger(t),
		locator.WithTimeout(2*time.Second),
		locator.WithPollInterval(5*time.Millisecond))

	invalid := `button:has-text("写回答")`
	start := time.Now()
	m, err := r.Resolve(ctx, locator.Selectors("write", invalid, ".item"), locator.Document)
	require.NoError(t, err)
	require.True(t, m.Found)
	assert.Less(t, time.Since(start), time.Second, "the invalid strategy must not use its whole window")
	assert.Equal(t, 1, page.queries[invalid])
}

func TestResolve_WaitsForLateElements(t *testing.T) {
	ctx := context.Background()
	page := newPage(t, `<html><body><div id="app"></div></body></html>`)
	r := locator.NewResolver(page, zaptest.NewLogger(t),
		locator.WithTimeout(2*time.Second),
		locator.WithPollInterval(5*time.Millisecond))

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(30 * time.Millisecond)
		_ = page.SetHTML("https://example.test/", `<html><body><div class="Avatar"></div></body></html>`)
	}()

	m, err := r.Resolve(ctx, locator.Selectors("authenticated", ".Avatar"), locator.Document)
	<-done
	require.NoError(t, err)
	assert.True(t, m.Found)
}

func TestResolve_ContextCancellation(t *testing.T) {
	page := newPage(t, fixture)
	r := locator.NewResolver(page, zaptest.NewLogger(t), locator.WithTimeout(time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Resolve(ctx, locator.Selectors("never", ".never"), locator.Document)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProbe_DoesNotWait(t *testing.T) {
	page := newPage(t, fixture)
	r := locator.NewResolver(page, zaptest.NewLogger(t), locator.WithTimeout(time.Minute))

	start := time.Now()
	m, err := r.Probe(context.Background(), locator.Selectors("never", ".never", ".nope"), locator.Document)
	require.NoError(t, err)
	assert.False(t, m.Found)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAwait_Window(t *testing.T) {
	ctx := context.Background()
	r := newResolver(t, newPage(t, fixture))

	m, err := r.Await(ctx, locator.Selectors("missing", ".never"), locator.Document, 30*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, m.Found)

	m, err = r.Await(ctx, locator.Selectors("present", ".other"), locator.Document, time.Second)
	require.NoError(t, err)
	assert.True(t, m.Found)
}

func TestChainOrdering(t *testing.T) {
	chain := locator.NewChain("c",
		locator.Strategy{Name: "low", Priority: 1, Selector: "a"},
		locator.Strategy{Name: "high-1", Priority: 5, Selector: "b"},
		locator.Strategy{Name: "high-2", Priority: 5, Selector: "c"},
	)
	var names []string
	for _, s := range chain.Strategies() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"high-1", "high-2", "low"}, names, "ties keep declaration order")

	extended := locator.Selectors("d", "x", "y").Then(locator.Strategy{Selector: "z"})
	var selectors []string
	for _, s := range extended.Strategies() {
		selectors = append(selectors, s.Selector)
	}
	assert.Equal(t, []string{"x", "y", "z"}, selectors)

	assert.True(t, locator.Selectors("empty").Empty())
	assert.Error(t, locator.NewChain("bad", locator.Strategy{Text: []string{"登录"}}).Validate())
	assert.NoError(t, chain.Validate())
}
