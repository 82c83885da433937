// Package browser drives a Chromium instance over the DevTools protocol and
// exposes its tabs as locator.Page implementations.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/quill/internal/browser/stealth"
	"github.com/xkilldash9x/quill/internal/config"
	"github.com/xkilldash9x/quill/internal/humanoid"
)

const shutdownGracePeriod = 10 * time.Second

// Manager owns the browser process and hands out tabs.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu     sync.Mutex
	pages  []*Page
	closed bool
}

// NewManager launches the browser. The process lives until Close is called
// or ctx is canceled.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Manager, error) {
	log := logger.Named("browser_manager")
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, AllocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Sugar().Debugf),
		chromedp.WithErrorf(log.Sugar().Warnf),
	)

	// An empty Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	log.Info("Browser launched.", zap.Bool("headless", cfg.Headless))
	return &Manager{
		cfg:           cfg,
		logger:        log,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// NewPage opens a tab with the configured persona and viewport applied.
func (m *Manager) NewPage(ctx context.Context) (*Page, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("browser manager is closed")
	}
	m.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(m.browserCtx)
	setup := chromedp.Tasks{stealth.Apply(m.cfg.Persona, m.logger)}
	if m.cfg.Viewport.Width > 0 && m.cfg.Viewport.Height > 0 {
		setup = append(setup, emulation.SetDeviceMetricsOverride(
			int64(m.cfg.Viewport.Width), int64(m.cfg.Viewport.Height), 1, false))
	}

	runCtx, cancel := CombineContext(tabCtx, ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, setup); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to prepare tab: %w", err)
	}

	p := newPage(tabCtx, tabCancel,
		humanoid.New(m.cfg.Humanoid, m.logger, nil),
		m.cfg.NavigationTimeout,
		m.logger)

	m.mu.Lock()
	m.pages = append(m.pages, p)
	m.mu.Unlock()
	return p, nil
}

// Close shuts the browser down, waiting up to a grace period for Chromium
// to exit.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	pages := m.pages
	m.pages = nil
	m.mu.Unlock()

	for _, p := range pages {
		p.close()
	}

	closeCtx, cancel := context.WithTimeout(Detach(ctx), shutdownGracePeriod)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(m.browserCtx) }()

	var err error
	select {
	case err = <-done:
	case <-closeCtx.Done():
		err = fmt.Errorf("timed out waiting for browser to exit: %w", closeCtx.Err())
	}
	m.browserCancel()
	m.allocCancel()
	m.logger.Info("Browser closed.")
	return err
}
