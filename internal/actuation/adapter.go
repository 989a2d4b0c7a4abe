// Package actuation applies inbound controller snapshots to an output
// device through the debounce engine.
package actuation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/life-stream-dev/life-stream-go-padlink/internal/clock"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/debounce"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/gamepad"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/logger"
)

const DefaultPressThreshold = 0.5

type Options struct {
	Window time.Duration
	// PressThreshold is the analog value at which a button counts as held.
	PressThreshold float64
	// Fallback is used for untagged snapshots whose layout cannot be
	// probed. Empty rejects them.
	Fallback gamepad.Profile
	Clock    clock.Clock
}

type Stats struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
	Signals  uint64 `json:"signals"`
}

type Adapter struct {
	engine   *debounce.Engine
	opts     Options
	mu       sync.Mutex
	accepted atomic.Uint64
	rejected atomic.Uint64
	signals  atomic.Uint64
}

func NewAdapter(device Device, opts Options) *Adapter {
	if opts.PressThreshold <= 0 {
		opts.PressThreshold = DefaultPressThreshold
	}
	return &Adapter{
		engine: debounce.New(device, opts.Window, opts.Clock),
		opts:   opts,
	}
}

// Handle applies one message. Messages are processed one at a time in
// call order. A message that does not decode is dropped without touching
// any button and the decode error is returned.
func (a *Adapter) Handle(msg []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap, err := gamepad.Decode(msg, a.opts.Fallback)
	if err != nil {
		a.rejected.Add(1)
		logger.Warn("Dropping snapshot", "error", err)
		return err
	}
	a.accepted.Add(1)

	for _, code := range snap.Active(a.opts.PressThreshold) {
		if err := a.engine.Signal(code); err != nil {
			logger.Warn("Failed to signal button", "code", code, "error", err)
			continue
		}
		a.signals.Add(1)
	}
	return nil
}

func (a *Adapter) Stats() Stats {
	return Stats{
		Accepted: a.accepted.Load(),
		Rejected: a.rejected.Load(),
		Signals:  a.signals.Load(),
	}
}

// End releases every held button at once, for when the sending peer goes
// away. The adapter stays usable for a new session.
func (a *Adapter) End() {
	if n := a.engine.ReleaseAll(); n > 0 {
		logger.Info("Session ended, released held buttons", "count", n)
	}
}

// Invoke releases all buttons and stops accepting snapshots.
func (a *Adapter) Invoke(_ context.Context) error {
	return a.engine.Close()
}
