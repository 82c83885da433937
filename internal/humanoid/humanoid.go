// Package humanoid produces human-like keyboard cadence for form entry.
package humanoid

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/quill/internal/config"
)

// Executor is the low-level surface the humanoid drives.
type Executor interface {
	SendKeys(ctx context.Context, keys string) error
	Sleep(ctx context.Context, d time.Duration) error
}

// Humanoid holds the session-scoped typing state.
type Humanoid struct {
	// mu protects rng and fatigueLevel.
	mu           sync.Mutex
	cfg          config.HumanoidConfig
	rng          *rand.Rand
	fatigueLevel float64
	logger       *zap.Logger
}

// New creates a Humanoid. A nil rng is seeded from the clock.
func New(cfg config.HumanoidConfig, logger *zap.Logger, rng *rand.Rand) *Humanoid {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Humanoid{
		cfg:    cfg,
		rng:    rng,
		logger: logger.Named("humanoid"),
	}
}

// NewTestHumanoid creates a deterministic Humanoid with default cadence.
func NewTestHumanoid(seed int64) *Humanoid {
	cfg := config.NewDefaultConfig().Browser.Humanoid
	return New(cfg, zap.NewNop(), rand.New(rand.NewSource(seed)))
}

// Enabled reports whether cadence simulation is on.
func (h *Humanoid) Enabled() bool { return h.cfg.Enabled }

// Fatigue returns the current fatigue level in [0, 1].
func (h *Humanoid) Fatigue() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fatigueLevel
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
