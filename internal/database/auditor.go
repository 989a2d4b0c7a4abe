package database

import (
	"context"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-padlink/internal/logger"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/mailbox"
)

// Auditor turns mailbox lifecycle events into SessionEvents and writes
// them from a background goroutine so relay requests never wait on the
// database. Events are dropped when the queue is full.
type Auditor struct {
	recorder  Recorder
	app       string
	timeout   time.Duration
	ch        chan SessionEvent
	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

var _ mailbox.Observer = (*Auditor)(nil)

func NewAuditor(recorder Recorder, app string, timeout time.Duration) *Auditor {
	a := &Auditor{
		recorder: recorder,
		app:      app,
		timeout:  timeout,
		ch:       make(chan SessionEvent, 256),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Auditor) OnEvent(ev mailbox.Event) {
	record := SessionEvent{
		SessionID: ev.Session.String(),
		Kind:      string(ev.Kind),
		At:        ev.At.UTC(),
		App:       a.app,
	}
	if ev.Kind == mailbox.EventPublished || ev.Kind == mailbox.EventDelivered {
		record.Role = ev.Role.String()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.ch <- record:
	default:
		logger.Warn("Audit queue full, dropping event", "session", record.SessionID, "kind", record.Kind)
	}
}

func (a *Auditor) run() {
	defer a.wg.Done()
	for ev := range a.ch {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.recorder.Record(ctx, ev); err != nil {
			logger.Warn("Failed to record session event", "session", ev.SessionID, "kind", ev.Kind, "error", err)
		}
		cancel()
	}
}

func (a *Auditor) History(ctx context.Context, sessionID string) ([]SessionEvent, error) {
	return a.recorder.History(ctx, sessionID)
}

// Invoke stops accepting events and waits for queued ones to be written.
func (a *Auditor) Invoke(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.ch)
		a.mu.Unlock()
	})
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
