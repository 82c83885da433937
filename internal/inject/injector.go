// Package inject writes a portable document into a rich-text editor and
// publishes it.
package inject

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/quill/api/schemas"
	"github.com/xkilldash9x/quill/internal/config"
	"github.com/xkilldash9x/quill/internal/locator"
	"github.com/xkilldash9x/quill/internal/markup"
)

var (
	// ErrPublishControlMissing is returned when no publish control can be
	// found after the content was injected.
	ErrPublishControlMissing = errors.New("inject: publish control missing")
	// ErrEmptyDocument is returned for documents without any text.
	ErrEmptyDocument = errors.New("inject: document is empty")
)

// Injection strategies reported in Outcome.Strategy.
const (
	StrategyPaste  = "paste"
	StrategyAssign = "assign"
	StrategyType   = "type"
)

// Chains are the locator chains the injector resolves.
type Chains struct {
	// OpenEditor reveals the editor, e.g. a "write answer" button. Optional.
	OpenEditor locator.Chain
	Editor     locator.Chain
	// Fallback locates a plain input used when Editor cannot be resolved.
	// Optional.
	Fallback locator.Chain
	Publish  locator.Chain
}

// Validate checks that the mandatory chains are present.
func (c Chains) Validate() error {
	for _, ch := range []locator.Chain{c.Editor, c.Publish} {
		if ch.Empty() {
			return fmt.Errorf("inject: chain %q has no strategies", ch.Name)
		}
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("inject: %w", err)
		}
	}
	return nil
}

// Outcome describes how a document reached the page.
type Outcome struct {
	Strategy string `json:"strategy"`
	// Degraded is set when the structured paste failed and plain markup was
	// written instead.
	Degraded  bool   `json:"degraded"`
	Published bool   `json:"published"`
	Snapshot  string `json:"snapshot,omitempty"`
}

// Snapshotter persists a diagnostic capture of the page.
type Snapshotter interface {
	Capture(ctx context.Context, label string) (string, error)
}

// Injector writes documents into the editor of the current page.
type Injector struct {
	resolver  *locator.Resolver
	chains    Chains
	cfg       config.InjectConfig
	snapshots Snapshotter
	logger    *zap.Logger
}

// Option configures an Injector.
type Option func(*Injector)

// WithSnapshotter sets where failure snapshots are written.
func WithSnapshotter(s Snapshotter) Option {
	return func(i *Injector) { i.snapshots = s }
}

// New creates an Injector. cfg.Publish controls whether Inject also
// activates the publish control.
func New(resolver *locator.Resolver, chains Chains, cfg config.InjectConfig, logger *zap.Logger, opts ...Option) *Injector {
	i := &Injector{
		resolver: resolver,
		chains:   chains,
		cfg:      cfg,
		logger:   logger.Named("injector"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Inject writes doc into the editor, degrading to plain markup when the
// structured paste is not consumed, then publishes unless disabled.
func (i *Injector) Inject(ctx context.Context, doc schemas.PortableDocument) (Outcome, error) {
	if doc.Empty() {
		return Outcome{}, ErrEmptyDocument
	}
	if err := i.openEditor(ctx); err != nil {
		return Outcome{}, err
	}

	out, err := i.paste(ctx, doc)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		i.logger.Warn("Structured paste failed, falling back to plain markup.", zap.Error(err))
		out, err = i.fallback(ctx, doc)
		if err != nil {
			return out, err
		}
	}
	i.logger.Info("Content injected.",
		zap.String("strategy", out.Strategy),
		zap.Bool("degraded", out.Degraded),
		zap.Int("blocks", len(doc.Blocks)))

	if err := i.settle(ctx); err != nil {
		return out, err
	}
	if !i.cfg.Publish {
		i.logger.Info("Publishing disabled, leaving draft in the editor.")
		return out, nil
	}
	snapshot, err := i.Publish(ctx)
	out.Snapshot = snapshot
	if err != nil {
		return out, err
	}
	out.Published = true
	return out, nil
}

// Publish resolves and activates the publish control. When it is missing a
// snapshot is captured and its location returned with the error.
func (i *Injector) Publish(ctx context.Context) (string, error) {
	match, err := i.resolver.Resolve(ctx, i.chains.Publish, locator.Document)
	if err != nil {
		return "", fmt.Errorf("inject: %w", err)
	}
	if !match.Found {
		snapshot := i.capture(ctx, "publish-missing")
		return snapshot, fmt.Errorf("%w: %w", ErrPublishControlMissing, locator.Exhausted(i.chains.Publish))
	}
	if err := i.resolver.Page().Click(ctx, match.Element); err != nil {
		return "", fmt.Errorf("inject: failed to activate publish control: %w", err)
	}
	i.logger.Info("Publish control activated.", zap.Stringer("strategy", match.Strategy))
	return "", nil
}

func (i *Injector) openEditor(ctx context.Context) error {
	if i.chains.OpenEditor.Empty() {
		return nil
	}
	match, err := i.resolver.Resolve(ctx, i.chains.OpenEditor, locator.Document)
	if err != nil {
		return fmt.Errorf("inject: %w", err)
	}
	if !match.Found {
		i.logger.Debug("No editor opener found, assuming the editor is already open.")
		return nil
	}
	if err := i.resolver.Page().Click(ctx, match.Element); err != nil {
		return fmt.Errorf("inject: failed to open editor: %w", err)
	}
	return i.settle(ctx)
}

func (i *Injector) paste(ctx context.Context, doc schemas.PortableDocument) (Outcome, error) {
	editor, err := i.resolver.Require(ctx, i.chains.Editor, locator.Document)
	if err != nil {
		return Outcome{}, err
	}
	html, err := markup.HTML(doc)
	if err != nil {
		return Outcome{}, err
	}

	page := i.resolver.Page()
	if err := page.Click(ctx, editor); err != nil {
		return Outcome{}, fmt.Errorf("failed to focus editor: %w", err)
	}
	var res pasteResult
	args := pasteArgs{HTML: html, Text: markup.RenderDocument(doc)}
	if err := page.Evaluate(ctx, pasteScript, editor, args, &res); err != nil {
		return Outcome{}, err
	}
	if !res.Consumed {
		return Outcome{}, errors.New("editor did not consume the paste")
	}
	return Outcome{Strategy: StrategyPaste}, nil
}

// fallback writes the deterministic markup into the fallback input, or the
// editor when no fallback input exists. Direct assignment is tried first,
// then keystrokes.
func (i *Injector) fallback(ctx context.Context, doc schemas.PortableDocument) (Outcome, error) {
	target, err := i.fallbackTarget(ctx)
	if err != nil {
		return Outcome{}, err
	}
	text := markup.RenderDocument(doc)
	page := i.resolver.Page()

	var res assignResult
	err = page.Evaluate(ctx, assignScript, target, text, &res)
	if err == nil {
		return Outcome{Strategy: StrategyAssign, Degraded: true}, nil
	}
	if ctx.Err() != nil {
		return Outcome{}, ctx.Err()
	}
	i.logger.Warn("Direct assignment failed, typing markup instead.", zap.Error(err))
	if err := page.Type(ctx, target, text); err != nil {
		return Outcome{}, fmt.Errorf("inject: failed to type fallback markup: %w", err)
	}
	return Outcome{Strategy: StrategyType, Degraded: true}, nil
}

func (i *Injector) fallbackTarget(ctx context.Context) (locator.Element, error) {
	chains := []locator.Chain{i.chains.Editor}
	if !i.chains.Fallback.Empty() {
		chains = []locator.Chain{i.chains.Fallback, i.chains.Editor}
	}
	for _, chain := range chains {
		match, err := i.resolver.Resolve(ctx, chain, locator.Document)
		if err != nil {
			return locator.Element{}, fmt.Errorf("inject: %w", err)
		}
		if match.Found {
			return match.Element, nil
		}
	}
	i.capture(ctx, "editor-missing")
	return locator.Element{}, fmt.Errorf("inject: no input surface: %w", locator.Exhausted(chains[len(chains)-1]))
}

func (i *Injector) settle(ctx context.Context) error {
	if i.cfg.SettleDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(i.cfg.SettleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (i *Injector) capture(ctx context.Context, label string) string {
	if i.snapshots == nil {
		return ""
	}
	path, err := i.snapshots.Capture(ctx, label)
	if err != nil {
		i.logger.Warn("Failed to capture snapshot.", zap.String("label", label), zap.Error(err))
		return ""
	}
	return path
}
