// Package engine provides simulated time for a session: the clock, the
// fixed-interval schedule, and the real-time step loop.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultStepInterval is the simulated duration of one step.
const DefaultStepInterval = 50 * time.Millisecond

// Engine drives the simulation forward in fixed steps.
type Engine struct {
	Interval time.Duration // Simulated time per step

	// OnStep runs once per step with the step number and simulated delta.
	OnStep func(step uint64, dt time.Duration)

	mu      sync.Mutex
	step    uint64 // Monotonic, never resets
	speed   float64
	running bool
	cancel  context.CancelFunc
}

// NewEngine creates an engine with default settings.
func NewEngine() *Engine {
	return &Engine{
		Interval: DefaultStepInterval,
		speed:    1.0,
	}
}

// Speed returns the wall-clock multiplier: 1.0 = real-time, 0 = paused.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the wall-clock multiplier. Negative values pause.
func (e *Engine) SetSpeed(speed float64) {
	if speed < 0 {
		speed = 0
	}
	e.mu.Lock()
	e.speed = speed
	e.mu.Unlock()
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Step returns the number of steps taken so far.
func (e *Engine) Step() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.step
}

// Run starts the simulation loop. Blocks until ctx is done or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.running = true
	e.cancel = cancel
	start := e.step
	e.mu.Unlock()

	slog.Info("simulation engine started", "step", start, "speed", e.Speed(), "interval", e.Interval)

	for {
		if ctx.Err() != nil {
			break
		}

		speed := e.Speed()
		if speed <= 0 {
			// Paused: sleep briefly and check again.
			if !sleepCtx(ctx, 100*time.Millisecond) {
				break
			}
			continue
		}

		began := time.Now()
		e.advance()

		// Sleep for the remainder of the step interval, adjusted for speed.
		elapsed := time.Since(began)
		target := time.Duration(float64(e.Interval) / speed)
		if elapsed < target && !sleepCtx(ctx, target-elapsed) {
			break
		}
	}

	e.mu.Lock()
	e.running = false
	e.cancel = nil
	final := e.step
	e.mu.Unlock()

	slog.Info("simulation engine stopped", "step", final)
}

// Stop halts a running loop. Safe to call from OnStep.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// advance takes a single step without sleeping.
func (e *Engine) advance() {
	e.mu.Lock()
	e.step++
	step := e.step
	e.mu.Unlock()

	if e.OnStep != nil {
		e.OnStep(step, e.Interval)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
