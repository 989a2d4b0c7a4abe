// Package debounce turns level-triggered button signals into edge-triggered
// press and release calls on one output device.
package debounce

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-padlink/internal/clock"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/gamepad"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/logger"
)

const DefaultWindow = 50 * time.Millisecond

var ErrClosed = errors.New("debounce engine closed")

// Device is the output side. Calls are never made concurrently by one
// Engine.
type Device interface {
	Press(code gamepad.Code) error
	Release(code gamepad.Code) error
}

// held is the state of a code in the Held phase. Codes without an entry
// are Idle.
type held struct {
	timer *clock.Timer
	gen   uint64
}

// Engine owns the button state of one device. Every state transition and
// the device call that goes with it happen under one mutex.
type Engine struct {
	mu     sync.Mutex
	device Device
	window time.Duration
	clock  clock.Clock
	keys   map[gamepad.Code]*held
	// seq is shared by all codes so a timer armed for an earlier Held
	// phase can never match the current one.
	seq    uint64
	closed bool
}

func New(device Device, window time.Duration, clk clock.Clock) *Engine {
	if window <= 0 {
		window = DefaultWindow
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Engine{
		device: device,
		window: window,
		clock:  clk,
		keys:   make(map[gamepad.Code]*held),
	}
}

// Signal reports that code is active. An Idle code is pressed; a Held code
// only has its release pushed back by one window.
func (e *Engine) Signal(code gamepad.Code) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	if key, ok := e.keys[code]; ok {
		key.timer.Stop()
		key.gen = e.nextGen()
		key.timer = e.arm(code, key.gen)
		return nil
	}

	if err := e.device.Press(code); err != nil {
		return fmt.Errorf("pressing %s: %w", code, err)
	}
	logger.Debug("Button pressed", "code", code)
	key := &held{gen: e.nextGen()}
	key.timer = e.arm(code, key.gen)
	e.keys[code] = key
	return nil
}

func (e *Engine) nextGen() uint64 {
	e.seq++
	return e.seq
}

func (e *Engine) arm(code gamepad.Code, gen uint64) *clock.Timer {
	return e.clock.AfterFunc(e.window, func() { e.expire(code, gen) })
}

// expire runs when a release timer fires. A firing that lost the race to
// Signal or ReleaseAll finds a different generation and does nothing.
func (e *Engine) expire(code gamepad.Code, gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key, ok := e.keys[code]
	if !ok || key.gen != gen {
		return
	}
	e.releaseLocked(code)
}

func (e *Engine) releaseLocked(code gamepad.Code) {
	delete(e.keys, code)
	if err := e.device.Release(code); err != nil {
		logger.Warn("Failed to release button", "code", code, "error", err)
		return
	}
	logger.Debug("Button released", "code", code)
}

func (e *Engine) Held(code gamepad.Code) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.keys[code]
	return ok
}

// ReleaseAll cancels every pending timer and releases every held code at
// once. It returns how many codes were released.
func (e *Engine) ReleaseAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.releaseAllLocked()
}

func (e *Engine) releaseAllLocked() int {
	count := 0
	for _, code := range gamepad.Codes {
		key, ok := e.keys[code]
		if !ok {
			continue
		}
		key.timer.Stop()
		e.releaseLocked(code)
		count++
	}
	// codes outside the known alphabet
	for code, key := range e.keys {
		key.timer.Stop()
		e.releaseLocked(code)
		count++
	}
	return count
}

// Close releases everything and rejects later signals with ErrClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if n := e.releaseAllLocked(); n > 0 {
		logger.Debug("Released held buttons on close", "count", n)
	}
	return nil
}
