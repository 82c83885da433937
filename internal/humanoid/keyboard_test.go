package humanoid

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/quill/internal/config"
)

type recordingExecutor struct {
	keys   []string
	slept  time.Duration
	failOn string
}

func (r *recordingExecutor) SendKeys(_ context.Context, keys string) error {
	if r.failOn != "" && keys == r.failOn {
		return errors.New("key dispatch failed")
	}
	r.keys = append(r.keys, keys)
	return nil
}

func (r *recordingExecutor) Sleep(ctx context.Context, d time.Duration) error {
	r.slept += d
	return ctx.Err()
}

func TestPlan_PreservesTextExactly(t *testing.T) {
	h := NewTestHumanoid(42)
	text := "The answer, 13800 中文 and spaces\tend"

	var b strings.Builder
	for _, ks := range h.Plan(text) {
		b.WriteString(ks.Key)
		assert.GreaterOrEqual(t, ks.Hold, 20*time.Millisecond)
		assert.Greater(t, ks.Pause, time.Duration(0))
	}
	assert.Equal(t, text, b.String())
}

func TestPlan_IsDeterministicForSeed(t *testing.T) {
	a := NewTestHumanoid(7).Plan("password123")
	b := NewTestHumanoid(7).Plan("password123")
	assert.Equal(t, a, b)
}

func TestPlan_WordBoundaryPause(t *testing.T) {
	h := NewTestHumanoid(1)
	plan := h.Plan("a bc")
	require.Len(t, plan, 4)
	// 100ms base plus 5ms per rune of the following word.
	assert.GreaterOrEqual(t, plan[1].Pause, 110*time.Millisecond)
	assert.Less(t, plan[1].Pause, 190*time.Millisecond)
}

func TestType_Disabled(t *testing.T) {
	cfg := config.NewDefaultConfig().Browser.Humanoid
	cfg.Enabled = false
	h := New(cfg, zaptest.NewLogger(t), nil)

	exec := &recordingExecutor{}
	require.NoError(t, h.Type(context.Background(), exec, "hunter2"))
	assert.Equal(t, []string{"hunter2"}, exec.keys)
	assert.Zero(t, exec.slept)
}

func TestType_Enabled(t *testing.T) {
	h := NewTestHumanoid(3)
	exec := &recordingExecutor{}
	require.NoError(t, h.Type(context.Background(), exec, "user"))
	assert.Equal(t, []string{"u", "s", "e", "r"}, exec.keys)
	assert.Greater(t, exec.slept, time.Duration(0))
}

func TestType_Errors(t *testing.T) {
	h := NewTestHumanoid(3)
	err := h.Type(context.Background(), &recordingExecutor{failOn: "s"}, "user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `failed to send key "s"`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = h.Type(ctx, &recordingExecutor{}, "user")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFatigue_StaysInRange(t *testing.T) {
	h := NewTestHumanoid(9)
	for i := 0; i < 50; i++ {
		h.Plan(strings.Repeat("x", 200))
	}
	assert.LessOrEqual(t, h.Fatigue(), 1.0)
	assert.GreaterOrEqual(t, h.Fatigue(), 0.0)
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), time.Millisecond))
	require.NoError(t, Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
