package humanoid

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
)

// commonNgrams contains common letter combinations to simulate rhythmic typing.
var commonNgrams = map[string]bool{
	"th": true, "he": true, "in": true, "er": true, "an": true, "re": true,
	"es": true, "on": true, "st": true, "nt": true, "13": true, "00": true,
	"the": true, "and": true, "ing": true, "ion": true, "tio": true,
}

// burstSpeedFactor makes keys within a word faster than the first key.
const burstSpeedFactor = 0.7

// Keystroke is one planned key press.
type Keystroke struct {
	Key   string
	Pause time.Duration // wait before pressing
	Hold  time.Duration // dwell after pressing
}

// Plan computes the keystrokes for text. The text is reproduced exactly;
// whitespace gets a longer, word-boundary pause.
func (h *Humanoid) Plan(text string) []Keystroke {
	runes := []rune(text)
	h.updateFatigue(float64(len(runes)) * 0.05)

	plan := make([]Keystroke, 0, len(runes))
	for i, r := range runes {
		var pause time.Duration
		switch {
		case unicode.IsSpace(r):
			pause = h.wordPause(nextWordLen(runes, i+1))
		case i == 0 || unicode.IsSpace(runes[i-1]):
			pause = h.keyPause(runes, i, 1.0)
		default:
			pause = h.keyPause(runes, i, burstSpeedFactor)
		}
		plan = append(plan, Keystroke{Key: string(r), Pause: pause, Hold: h.keyHoldDuration()})
	}
	return plan
}

// Type sends text through exec with human cadence, or in one call when the
// humanoid is disabled.
func (h *Humanoid) Type(ctx context.Context, exec Executor, text string) error {
	if !h.cfg.Enabled {
		return exec.SendKeys(ctx, text)
	}
	for _, ks := range h.Plan(text) {
		if err := exec.Sleep(ctx, ks.Pause); err != nil {
			return err
		}
		if err := exec.SendKeys(ctx, ks.Key); err != nil {
			return fmt.Errorf("humanoid: failed to send key %q: %w", ks.Key, err)
		}
		if err := exec.Sleep(ctx, ks.Hold); err != nil {
			return err
		}
	}
	return nil
}

func nextWordLen(runes []rune, from int) int {
	n := 0
	for i := from; i < len(runes) && !unicode.IsSpace(runes[i]); i++ {
		n++
	}
	return n
}

// wordPause simulates locating the next word.
func (h *Humanoid) wordPause(nextLen int) time.Duration {
	h.mu.Lock()
	ms := 100 + float64(nextLen)*5 + h.rng.Float64()*80
	h.mu.Unlock()
	return time.Duration(ms) * time.Millisecond
}

// keyHoldDuration calculates how long a key should be held down.
func (h *Humanoid) keyHoldDuration() time.Duration {
	h.mu.Lock()
	delay := h.rng.NormFloat64()*h.cfg.KeyHoldStdDev + h.cfg.KeyHoldMean
	h.mu.Unlock()

	if delay < 20.0 { // minimum realistic hold time
		delay = 20.0
	}
	return time.Duration(delay) * time.Millisecond
}

// keyPause computes the inter-key delay before runes[index].
func (h *Humanoid) keyPause(runes []rune, index int, scale float64) time.Duration {
	h.mu.Lock()
	randNorm := h.rng.NormFloat64()
	fatigueLevel := h.fatigueLevel
	h.mu.Unlock()

	mean := h.cfg.KeyPauseMean * scale
	stdDev := h.cfg.KeyPauseStdDev * scale
	minDelay := h.cfg.KeyPauseMin * scale
	ngramFactor := 1.0

	if index > 1 {
		trigraph := strings.ToLower(string(runes[index-2 : index+1]))
		if commonNgrams[trigraph] {
			ngramFactor = h.cfg.KeyPauseNgramFactor3
		}
	}
	if ngramFactor == 1.0 && index > 0 {
		digraph := strings.ToLower(string(runes[index-1 : index+1]))
		if commonNgrams[digraph] {
			ngramFactor = h.cfg.KeyPauseNgramFactor2
		}
	}

	mean *= ngramFactor
	minDelay *= ngramFactor
	mean *= 1.0 + fatigueLevel*h.cfg.KeyPauseFatigueFactor

	duration := time.Duration(math.Max(minDelay, randNorm*stdDev+mean)) * time.Millisecond
	h.recoverFatigue(duration)
	return duration
}

// updateFatigue raises fatigue in proportion to typing effort.
func (h *Humanoid) updateFatigue(intensity float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fatigueLevel = math.Min(1.0, h.fatigueLevel+h.cfg.FatigueIncreaseRate*intensity)
}

// recoverFatigue lowers fatigue in proportion to pause length.
func (h *Humanoid) recoverFatigue(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fatigueLevel = math.Max(0.0, h.fatigueLevel-h.cfg.FatigueRecoveryRate*d.Seconds())
}
