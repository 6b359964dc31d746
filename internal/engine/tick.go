// Package engine provides the round-based simulation loop.
package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Engine drives the simulation forward one round at a time.
type Engine struct {
	Round           uint64        // Rounds completed (monotonic, survives restarts via SetRound)
	Interval        time.Duration // Minimum wall time per round; 0 runs flat out
	CheckpointEvery uint64        // Rounds between checkpoints; 0 disables them

	// Callbacks populated during setup.
	OnRound      func(round uint64) error // Every round
	OnCheckpoint func(round uint64) error // Every CheckpointEvery rounds and at the end of Run

	running atomic.Bool
	stopped atomic.Bool // Set by Stop, never cleared by Run
}

// NewEngine creates an engine with no pacing and no checkpoints.
func NewEngine() *Engine {
	return &Engine{}
}

// Running reports whether Run is in progress.
func (e *Engine) Running() bool { return e.running.Load() }

// Run advances up to rounds rounds (forever when rounds <= 0). It returns
// early when ctx is cancelled, Stop is called or a callback fails. Rounds are
// never interrupted midway. Once Stop has been called, Run only checkpoints.
func (e *Engine) Run(ctx context.Context, rounds int) error {
	e.running.Store(true)
	defer e.running.Store(false)
	slog.Info("simulation engine started", "round", e.Round, "rounds", rounds)

	var ticker *time.Ticker
	if e.Interval > 0 {
		ticker = time.NewTicker(e.Interval)
		defer ticker.Stop()
	}

	done := 0
	for rounds <= 0 || done < rounds {
		if e.stopped.Load() {
			slog.Info("simulation stop requested", "round", e.Round)
			break
		}
		if err := ctx.Err(); err != nil {
			slog.Info("simulation interrupted", "round", e.Round, "reason", err)
			break
		}

		if err := e.step(); err != nil {
			return err
		}
		done++

		if ticker != nil && (rounds <= 0 || done < rounds) {
			select {
			case <-ctx.Done():
			case <-ticker.C:
			}
		}
	}

	if e.OnCheckpoint != nil && (e.CheckpointEvery == 0 || e.Round%e.CheckpointEvery != 0) {
		if err := e.OnCheckpoint(e.Round); err != nil {
			return err
		}
	}
	slog.Info("simulation engine stopped", "round", e.Round, "ran", done)
	return nil
}

// Stop halts the loop after the current round. A Stop issued before Run
// starts is honored.
func (e *Engine) Stop() {
	e.stopped.Store(true)
}

// Stopped reports whether Stop has been called.
func (e *Engine) Stopped() bool { return e.stopped.Load() }

// step advances the simulation by one round.
func (e *Engine) step() error {
	if e.OnRound != nil {
		if err := e.OnRound(e.Round); err != nil {
			return err
		}
	}
	e.Round++

	if e.CheckpointEvery > 0 && e.Round%e.CheckpointEvery == 0 && e.OnCheckpoint != nil {
		if err := e.OnCheckpoint(e.Round); err != nil {
			return err
		}
	}
	return nil
}
