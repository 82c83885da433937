package locator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	defaultStrategyTimeout = 3 * time.Second
	defaultPollInterval    = 250 * time.Millisecond
)

// Match is the outcome of resolving a chain. Found is false when no strategy
// matched, which is a normal result rather than an error.
type Match struct {
	Element  Element
	Strategy Strategy
	Found    bool
}

// Resolver evaluates strategy chains against a Page.
type Resolver struct {
	page     Page
	timeout  time.Duration
	interval time.Duration
	logger   *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTimeout bounds how long each strategy is polled.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithPollInterval sets the delay between polls of a strategy.
func WithPollInterval(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.interval = d
		}
	}
}

// NewResolver creates a resolver bound to page.
func NewResolver(page Page, logger *zap.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		page:     page,
		timeout:  defaultStrategyTimeout,
		interval: defaultPollInterval,
		logger:   logger.Named("locator"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Page returns the page the resolver operates on.
func (r *Resolver) Page() Page { return r.page }

// Resolve tries each strategy in priority order, polling each one for up to
// the per-strategy timeout, and returns the first element in document order
// matched by the first successful strategy.
func (r *Resolver) Resolve(ctx context.Context, chain Chain, scope Element) (Match, error) {
	els, s, err := r.resolve(ctx, chain, scope, true)
	if err != nil || len(els) == 0 {
		return Match{}, err
	}
	return Match{Element: els[0], Strategy: s, Found: true}, nil
}

// ResolveAll is Resolve returning every element of the winning strategy.
func (r *Resolver) ResolveAll(ctx context.Context, chain Chain, scope Element) ([]Element, Strategy, error) {
	return r.resolve(ctx, chain, scope, true)
}

// Probe is a single non-waiting pass over the chain.
func (r *Resolver) Probe(ctx context.Context, chain Chain, scope Element) (Match, error) {
	els, s, err := r.resolve(ctx, chain, scope, false)
	if err != nil || len(els) == 0 {
		return Match{}, err
	}
	return Match{Element: els[0], Strategy: s, Found: true}, nil
}

// ProbeAll is Probe returning every element of the winning strategy.
func (r *Resolver) ProbeAll(ctx context.Context, chain Chain, scope Element) ([]Element, Strategy, error) {
	return r.resolve(ctx, chain, scope, false)
}

// Require resolves the chain and converts NotFound into an *ExhaustedError
// naming the chain.
func (r *Resolver) Require(ctx context.Context, chain Chain, scope Element) (Element, error) {
	m, err := r.Resolve(ctx, chain, scope)
	if err != nil {
		return Element{}, err
	}
	if !m.Found {
		return Element{}, Exhausted(chain)
	}
	return m.Element, nil
}

// Await probes the whole chain repeatedly until it matches or window
// elapses. It is the waitFor primitive for state indicators that may take
// longer than a single strategy timeout to appear.
func (r *Resolver) Await(ctx context.Context, chain Chain, scope Element, window time.Duration) (Match, error) {
	deadline := time.Now().Add(window)
	for {
		m, err := r.Probe(ctx, chain, scope)
		if err != nil || m.Found {
			return m, err
		}
		if err := r.sleepUntil(ctx, deadline); err != nil {
			if errors.Is(err, errDeadline) {
				return Match{}, nil
			}
			return Match{}, err
		}
	}
}

func (r *Resolver) resolve(ctx context.Context, chain Chain, scope Element, wait bool) ([]Element, Strategy, error) {
	for _, s := range chain.strategies {
		els, err := r.poll(ctx, s, scope, wait)
		if err != nil {
			return nil, Strategy{}, fmt.Errorf("resolving chain %q: %w", chain.Name, err)
		}
		if len(els) > 0 {
			r.logger.Debug("Strategy matched.",
				zap.String("chain", chain.Name),
				zap.Stringer("strategy", s),
				zap.Int("matches", len(els)))
			return els, s, nil
		}
		r.logger.Debug("Strategy did not match, falling through.",
			zap.String("chain", chain.Name),
			zap.Stringer("strategy", s))
	}
	return nil, Strategy{}, nil
}

var (
	errDeadline = errors.New("poll deadline reached")
	// errUnusable marks a strategy that can never match, such as one with a
	// selector the page cannot parse.
	errUnusable = errors.New("strategy cannot match")
)

func (r *Resolver) poll(ctx context.Context, s Strategy, scope Element, wait bool) ([]Element, error) {
	deadline := time.Now().Add(r.timeout)
	for {
		els, err := r.matches(ctx, s, scope)
		if errors.Is(err, errUnusable) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if len(els) > 0 || !wait {
			return els, nil
		}
		if err := r.sleepUntil(ctx, deadline); err != nil {
			if errors.Is(err, errDeadline) {
				return nil, nil
			}
			return nil, err
		}
	}
}

func (r *Resolver) sleepUntil(ctx context.Context, deadline time.Time) error {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return errDeadline
	}
	timer := time.NewTimer(min(r.interval, remaining))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// matches runs one strategy once. Per-call timeouts count as a miss so the
// chain can fall through to the next strategy; invalid selectors return
// errUnusable so the strategy is not polled again.
func (r *Resolver) matches(ctx context.Context, s Strategy, scope Element) ([]Element, error) {
	qctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	els, err := r.page.Query(qctx, scope, s.Selector)
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidSelector):
		r.logger.Warn("Skipping strategy with invalid selector.", zap.Stringer("strategy", s), zap.Error(err))
		return nil, errUnusable
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case qctx.Err() != nil:
		return nil, nil
	default:
		return nil, err
	}
	if len(s.Text) == 0 {
		return els, nil
	}

	filtered := els[:0:0]
	for _, el := range els {
		text, err := r.page.Text(qctx, el)
		if err != nil {
			if errors.Is(err, ErrStaleElement) {
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if qctx.Err() != nil {
				break
			}
			return nil, err
		}
		if s.MatchesText(text) {
			filtered = append(filtered, el)
		}
	}
	return filtered, nil
}
