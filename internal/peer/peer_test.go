package peer

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/life-stream-dev/life-stream-go-padlink/internal/gamepad"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/mailbox"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/server"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/signaling"
)

type collector struct {
	mu       sync.Mutex
	messages []gamepad.Snapshot
	bad      int
	ended    chan struct{}
	endOnce  sync.Once
}

func newCollector() *collector {
	return &collector{ended: make(chan struct{})}
}

func (c *collector) Handle(msg []byte) error {
	snap, err := gamepad.Decode(msg, "")
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.bad++
		return err
	}
	c.messages = append(c.messages, snap)
	return nil
}

func (c *collector) End() {
	c.endOnce.Do(func() { close(c.ended) })
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func newSignaling(t *testing.T) *signaling.Client {
	t.Helper()
	store, err := mailbox.NewStore(mailbox.Options{FetchTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(server.New(store, server.Options{}).Handler())
	t.Cleanup(func() {
		store.Close()
		ts.Close()
	})
	client, err := signaling.NewClient(ts.URL, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func TestSnapshotsFlowOverDataChannel(t *testing.T) {
	client := newSignaling(t)
	cfg := Config{IncludeLoopback: true, SendInterval: 5 * time.Millisecond}

	states := []gamepad.State{
		{Profile: gamepad.ProfileDInput, Buttons: []float64{1, 0, 0, 1}},
		{Profile: gamepad.ProfileDInput, Buttons: []float64{0, 0, 0, 0}},
	}
	sessions := make(chan uuid.UUID, 1)
	offerer := NewOfferer(cfg, client, gamepad.NewReplaySource(states, true))
	offerer.OnSession = func(id uuid.UUID) { sessions <- id }

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	senderCtx, stopSender := context.WithCancel(ctx)
	defer stopSender()

	senderErr := make(chan error, 1)
	go func() { senderErr <- offerer.Run(senderCtx) }()

	var id uuid.UUID
	select {
	case id = <-sessions:
	case err := <-senderErr:
		t.Fatalf("sender stopped before publishing: %v", err)
	case <-ctx.Done():
		t.Fatal("offer never published")
	}

	handler := newCollector()
	answerer := NewAnswerer(cfg, client, handler)
	receiverErr := make(chan error, 1)
	go func() { receiverErr <- answerer.Run(ctx, id) }()

	for handler.count() < 10 {
		select {
		case <-ctx.Done():
			t.Fatalf("only %d snapshots arrived", handler.count())
		case err := <-receiverErr:
			t.Fatalf("receiver stopped early: %v", err)
		case <-time.After(10 * time.Millisecond):
		}
	}

	stopSender()
	if err := <-senderErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("sender: expected context.Canceled, got %v", err)
	}
	select {
	case err := <-receiverErr:
		if err != nil {
			t.Fatalf("receiver: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("receiver did not notice the sender leaving")
	}
	select {
	case <-handler.ended:
	default:
		t.Fatal("handler End was not called")
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if handler.bad != 0 {
		t.Fatalf("%d snapshots failed to decode", handler.bad)
	}
	first := handler.messages[0].Active(0.5)
	if len(first) != 2 || first[0] != gamepad.Y || first[1] != gamepad.X {
		t.Fatalf("first snapshot decoded to %v", first)
	}
}

type failingSignaler struct{ err error }

func (f failingSignaler) PublishOffer(context.Context, string) (uuid.UUID, error) {
	return uuid.Nil, f.err
}

func (f failingSignaler) AwaitAnswer(context.Context, uuid.UUID) (string, error) {
	return "", f.err
}

func (f failingSignaler) CloseSession(context.Context, uuid.UUID) error {
	return f.err
}

func (f failingSignaler) AwaitOffer(context.Context, uuid.UUID) (string, error) {
	return "", f.err
}

func (f failingSignaler) PublishAnswer(context.Context, uuid.UUID, string) error {
	return f.err
}

func TestSignalingFailuresSurface(t *testing.T) {
	relayDown := errors.New("relay down")
	signaler := failingSignaler{err: relayDown}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	offerer := NewOfferer(Config{IncludeLoopback: true}, signaler, gamepad.NewReplaySource(nil, false))
	if err := offerer.Run(ctx); !errors.Is(err, relayDown) {
		t.Fatalf("offerer: expected relay error, got %v", err)
	}

	handler := newCollector()
	answerer := NewAnswerer(Config{}, signaler, handler)
	if err := answerer.Run(ctx, uuid.New()); !errors.Is(err, relayDown) {
		t.Fatalf("answerer: expected relay error, got %v", err)
	}
	select {
	case <-handler.ended:
		t.Fatal("End called although no session was established")
	default:
	}
}

type silentRelay struct {
	failingSignaler
	id     uuid.UUID
	closed chan uuid.UUID
}

func (s *silentRelay) PublishOffer(context.Context, string) (uuid.UUID, error) {
	return s.id, nil
}

func (s *silentRelay) AwaitAnswer(ctx context.Context, _ uuid.UUID) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (s *silentRelay) CloseSession(_ context.Context, id uuid.UUID) error {
	s.closed <- id
	return nil
}

func TestOffererClosesUnansweredSession(t *testing.T) {
	relay := &silentRelay{id: uuid.New(), closed: make(chan uuid.UUID, 1)}
	offerer := NewOfferer(Config{IncludeLoopback: true}, relay, gamepad.NewReplaySource(nil, false))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	published := make(chan struct{})
	offerer.OnSession = func(uuid.UUID) { close(published) }
	errs := make(chan error, 1)
	go func() { errs <- offerer.Run(ctx) }()

	select {
	case <-published:
	case err := <-errs:
		t.Fatalf("offerer stopped before publishing: %v", err)
	}
	cancel()
	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	select {
	case id := <-relay.closed:
		if id != relay.id {
			t.Fatalf("closed %s, expected %s", id, relay.id)
		}
	default:
		t.Fatal("unanswered session was not closed")
	}
}
