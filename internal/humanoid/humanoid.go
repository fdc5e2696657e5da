// File: internal/humanoid/humanoid.go

// Package humanoid layers human timing over element interaction: inter-key
// delays with n-gram rhythm and fatigue, Perlin-jittered pauses, realistic
// typos with correction, and jittered click hold times. It drives an
// Executor and never talks to the browser directly.
package humanoid

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
	"go.uber.org/zap"
)

// Humanoid simulates one person for the lifetime of one browser session.
// Fatigue and the noise field accumulate across calls, so the same instance
// must be used for the whole session and never shared between sessions.
type Humanoid struct {
	cfg      Config
	logger   *zap.Logger
	executor Executor

	mu      sync.Mutex
	rng     *rand.Rand
	noise   *perlin.Perlin
	noiseT  float64
	fatigue float64
}

// New builds a humanoid around the executor. The config is sanitized and
// the noise field seeded from cfg.Seed, or fresh entropy when zero.
func New(cfg Config, logger *zap.Logger, executor Executor) *Humanoid {
	cfg.sanitize()
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Humanoid{
		cfg:      cfg,
		logger:   logger.Named("humanoid"),
		executor: executor,
		rng:      rand.New(rand.NewSource(seed)),
		noise:    perlin.NewPerlin(2, 2, 3, seed),
	}
}

// Type focuses nothing and scrolls nothing; it assumes the element is ready
// and emits the keystroke stream for text, typos and corrections included.
// The final field content always equals text: enrollment values are
// credentials and alias addresses, so corrections are never skipped.
func (h *Humanoid) Type(ctx context.Context, selector, text string) error {
	if err := h.CognitivePause(ctx); err != nil {
		return err
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		advanced, err := h.typeCharacter(ctx, selector, runes, i)
		if err != nil {
			return fmt.Errorf("humanoid: typing into %q: %w", selector, err)
		}
		if advanced {
			i++
		}
	}
	return nil
}

// Click presses the element with a jittered hold time after a cognitive
// pause.
func (h *Humanoid) Click(ctx context.Context, selector string) error {
	if err := h.CognitivePause(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	span := h.cfg.ClickHoldMaxMs - h.cfg.ClickHoldMinMs
	hold := time.Duration(h.cfg.ClickHoldMinMs+h.rng.Intn(span)) * time.Millisecond
	h.mu.Unlock()

	if err := h.executor.PressAndRelease(ctx, selector, hold); err != nil {
		return fmt.Errorf("humanoid: clicking %q: %w", selector, err)
	}
	return nil
}

// CognitivePause models the moment of orientation before an interaction.
func (h *Humanoid) CognitivePause(ctx context.Context) error {
	h.mu.Lock()
	ms := h.rng.NormFloat64()*h.cfg.CognitivePauseStdDevMs + h.cfg.CognitivePauseMeanMs
	ms += h.jitterLocked()
	h.mu.Unlock()

	if ms < 40.0 {
		ms = 40.0
	}
	return h.executor.Sleep(ctx, time.Duration(ms)*time.Millisecond)
}

// Fatigue reports the current fatigue level, in [0, 1].
func (h *Humanoid) Fatigue() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fatigue
}

// sendString dispatches keys and holds them for the dwell time.
func (h *Humanoid) sendString(ctx context.Context, selector, keys string) error {
	if err := h.executor.SendKeys(ctx, selector, keys); err != nil {
		return err
	}
	h.mu.Lock()
	dwell := h.rng.NormFloat64()*h.cfg.KeyHoldStdDevMs + h.cfg.KeyHoldMeanMs
	h.addFatigueLocked(h.cfg.FatigueIncreaseRate)
	h.mu.Unlock()

	if dwell < 20.0 {
		dwell = 20.0
	}
	return h.executor.Sleep(ctx, time.Duration(dwell)*time.Millisecond)
}

// keyPause sleeps the inter-key delay. meanScale/stdScale widen the pause
// during typo corrections; runes/index feed the n-gram rhythm model.
func (h *Humanoid) keyPause(ctx context.Context, meanScale, stdScale float64, runes []rune, index int) error {
	h.mu.Lock()
	mean := h.cfg.KeyPauseMeanMs * meanScale
	stdDev := h.cfg.KeyPauseStdDevMs * stdScale
	minDelay := h.cfg.KeyPauseMinMs * meanScale

	ngram := ngramFactor(h.cfg, runes, index)
	mean *= ngram
	minDelay *= ngram

	mean *= 1.0 + h.fatigue*h.cfg.KeyPauseFatigueFactor

	ms := h.rng.NormFloat64()*stdDev + mean + h.jitterLocked()
	h.mu.Unlock()

	ms = math.Max(minDelay, ms)
	d := time.Duration(ms) * time.Millisecond
	h.recoverFatigue(d)
	return h.executor.Sleep(ctx, d)
}

// jitterLocked samples the Perlin field and advances along it. Consecutive
// samples correlate, which is what separates human drift from white noise.
// Callers must hold h.mu.
func (h *Humanoid) jitterLocked() float64 {
	h.noiseT += 0.17
	return h.noise.Noise1D(h.noiseT) * h.cfg.JitterAmplitudeMs
}

func (h *Humanoid) addFatigueLocked(amount float64) {
	h.fatigue = math.Min(1.0, h.fatigue+amount)
}

func (h *Humanoid) recoverFatigue(idle time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fatigue = math.Max(0.0, h.fatigue-h.cfg.FatigueRecoveryRate*idle.Seconds())
}
