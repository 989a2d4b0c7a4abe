package debounce

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/life-stream-dev/life-stream-go-padlink/internal/clock"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/gamepad"
)

const window = 50 * time.Millisecond

type call struct {
	op   string
	code gamepad.Code
	at   time.Duration
}

// recorder logs device calls and fails on a double press or a release of
// a code that is not down.
type recorder struct {
	mu          sync.Mutex
	clk         clock.Clock
	start       time.Time
	calls       []call
	down        map[gamepad.Code]bool
	violations  []string
	failPress   error
	failRelease error
}

func newRecorder(clk clock.Clock) *recorder {
	return &recorder{clk: clk, start: clk.Now(), down: make(map[gamepad.Code]bool)}
}

func (r *recorder) Press(code gamepad.Code) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failPress != nil {
		return r.failPress
	}
	if r.down[code] {
		r.violations = append(r.violations, fmt.Sprintf("double press of %s", code))
	}
	r.down[code] = true
	r.calls = append(r.calls, call{"press", code, r.clk.Now().Sub(r.start)})
	return nil
}

func (r *recorder) Release(code gamepad.Code) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.down[code] {
		r.violations = append(r.violations, fmt.Sprintf("release of %s while up", code))
	}
	r.down[code] = false
	r.calls = append(r.calls, call{"release", code, r.clk.Now().Sub(r.start)})
	return r.failRelease
}

func (r *recorder) snapshot() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func TestRepeatedSignalsHoldOnePress(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	device := newRecorder(clk)
	engine := New(device, window, clk)

	if err := engine.Signal(gamepad.A); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		clk.Advance(10 * time.Millisecond)
		if err := engine.Signal(gamepad.A); err != nil {
			t.Fatal(err)
		}
	}
	// last signal at 50ms
	clk.Advance(window - time.Millisecond)
	if !engine.Held(gamepad.A) {
		t.Fatal("A released before a full window after the last signal")
	}
	clk.Advance(time.Millisecond)

	expect := []call{
		{"press", gamepad.A, 0},
		{"release", gamepad.A, 100 * time.Millisecond},
	}
	if got := device.snapshot(); fmt.Sprint(got) != fmt.Sprint(expect) {
		t.Fatalf("calls=%v expected=%v", got, expect)
	}
	if engine.Held(gamepad.A) {
		t.Fatal("A still held after release")
	}
	if clk.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", clk.Pending())
	}
}

func TestCodesAreIndependent(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	device := newRecorder(clk)
	engine := New(device, window, clk)

	_ = engine.Signal(gamepad.A)
	clk.Advance(20 * time.Millisecond)
	_ = engine.Signal(gamepad.B)
	clk.Advance(20 * time.Millisecond)
	_ = engine.Signal(gamepad.B)
	clk.Advance(10 * time.Millisecond)
	// A expires at 50ms, B's re-arm must not have touched it
	if engine.Held(gamepad.A) {
		t.Fatal("A not released on time")
	}
	clk.Advance(40 * time.Millisecond)

	expect := []call{
		{"press", gamepad.A, 0},
		{"press", gamepad.B, 20 * time.Millisecond},
		{"release", gamepad.A, 50 * time.Millisecond},
		{"release", gamepad.B, 90 * time.Millisecond},
	}
	if got := device.snapshot(); fmt.Sprint(got) != fmt.Sprint(expect) {
		t.Fatalf("calls=%v expected=%v", got, expect)
	}
}

func TestStaleFiringIsIgnored(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	device := newRecorder(clk)
	engine := New(device, window, clk)

	_ = engine.Signal(gamepad.X)
	engine.mu.Lock()
	stale := engine.keys[gamepad.X].gen
	engine.mu.Unlock()

	// the old timer fires after the re-arm took the lock first
	_ = engine.Signal(gamepad.X)
	engine.expire(gamepad.X, stale)
	if !engine.Held(gamepad.X) {
		t.Fatal("stale firing released a re-armed button")
	}

	// the firing wins: release, then a fresh press
	clk.Advance(window)
	_ = engine.Signal(gamepad.X)
	engine.expire(gamepad.X, stale)
	if !engine.Held(gamepad.X) {
		t.Fatal("stale firing from an earlier Held phase released the button")
	}
	if v := device.violations; len(v) != 0 {
		t.Fatalf("device misuse: %v", v)
	}
	if got := len(device.snapshot()); got != 3 {
		t.Fatalf("expected press, release, press; got %v", device.snapshot())
	}
}

func TestConcurrentSignalsNeverDoublePress(t *testing.T) {
	device := newRecorder(clock.Real())
	engine := New(device, 2*time.Millisecond, clock.Real())

	var wg sync.WaitGroup
	for _, code := range []gamepad.Code{gamepad.A, gamepad.B} {
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(code gamepad.Code) {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					_ = engine.Signal(code)
					if i%7 == 0 {
						time.Sleep(3 * time.Millisecond)
					}
				}
			}(code)
		}
	}
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for engine.Held(gamepad.A) || engine.Held(gamepad.B) {
		if time.Now().After(deadline) {
			t.Fatal("buttons never released")
		}
		time.Sleep(time.Millisecond)
	}

	device.mu.Lock()
	defer device.mu.Unlock()
	if len(device.violations) != 0 {
		t.Fatalf("device misuse: %v", device.violations)
	}
	if device.down[gamepad.A] || device.down[gamepad.B] {
		t.Fatal("device left with a button down")
	}
}

func TestPressFailureLeavesIdle(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	device := newRecorder(clk)
	device.failPress = errors.New("device unplugged")
	engine := New(device, window, clk)

	if err := engine.Signal(gamepad.Y); !errors.Is(err, device.failPress) {
		t.Fatalf("expected press error, got %v", err)
	}
	if engine.Held(gamepad.Y) || clk.Pending() != 0 {
		t.Fatal("failed press left state behind")
	}

	device.failPress = nil
	if err := engine.Signal(gamepad.Y); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestReleaseFailureStillGoesIdle(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	device := newRecorder(clk)
	device.failRelease = errors.New("report write failed")
	engine := New(device, window, clk)

	_ = engine.Signal(gamepad.B)
	clk.Advance(window)
	if engine.Held(gamepad.B) {
		t.Fatal("B stuck held after a failed release")
	}
}

func TestReleaseAllAndClose(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	device := newRecorder(clk)
	engine := New(device, window, clk)

	_ = engine.Signal(gamepad.Y)
	_ = engine.Signal(gamepad.X)
	clk.Advance(10 * time.Millisecond)
	if n := engine.ReleaseAll(); n != 2 {
		t.Fatalf("expected 2 releases, got %d", n)
	}
	clk.Advance(time.Second)

	expect := []call{
		{"press", gamepad.Y, 0},
		{"press", gamepad.X, 0},
		{"release", gamepad.X, 10 * time.Millisecond},
		{"release", gamepad.Y, 10 * time.Millisecond},
	}
	if got := device.snapshot(); fmt.Sprint(got) != fmt.Sprint(expect) {
		t.Fatalf("calls=%v expected=%v", got, expect)
	}

	_ = engine.Signal(gamepad.A)
	if err := engine.Close(); err != nil {
		t.Fatal(err)
	}
	if engine.Held(gamepad.A) {
		t.Fatal("Close left A held")
	}
	if err := engine.Signal(gamepad.A); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
