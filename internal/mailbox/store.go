// Package mailbox holds the relay's session table: for every session id an
// offer and an answer mailbox, each delivering at most one blob to at most
// one consumer.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/life-stream-dev/life-stream-go-padlink/internal/clock"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/logger"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrTimeout  = errors.New("timed out waiting for peer")
	ErrClaimed  = errors.New("mailbox already has a waiting consumer")
	ErrRetired  = errors.New("session mailbox already delivered")
	ErrClosed   = errors.New("mailbox store closed")
	ErrNoID     = errors.New("could not allocate a session id")
)

const (
	DefaultFetchTimeout    = 30 * time.Second
	DefaultSessionTTL      = 10 * time.Minute
	DefaultSweepInterval   = 30 * time.Second
	DefaultRetiredCapacity = 4096

	idAttempts = 8
)

type Options struct {
	// FetchTimeout bounds every blocking fetch whose context has no
	// earlier deadline.
	FetchTimeout time.Duration
	// SessionTTL is the idle time after which Sweep evicts a session.
	SessionTTL      time.Duration
	SweepInterval   time.Duration
	RetiredCapacity int
	Clock           clock.Clock
	Observer        Observer
	NewID           func() uuid.UUID
}

type Stats struct {
	Sessions int `json:"sessions"`
	Waiters  int `json:"waiters"`
}

type session struct {
	id         uuid.UUID
	boxes      [2]*slot
	createdAt  time.Time
	lastActive time.Time
}

func (s *session) empty() bool {
	return s.boxes[Offer] == nil && s.boxes[Answer] == nil
}

type Store struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*session
	retired  *lru.Cache[uuid.UUID, struct{}]
	waiters  int
	closed   bool
	closedCh chan struct{}
	opts     Options
}

func NewStore(opts Options) (*Store, error) {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.RetiredCapacity <= 0 {
		opts.RetiredCapacity = DefaultRetiredCapacity
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.New
	}
	retired, err := lru.New[uuid.UUID, struct{}](opts.RetiredCapacity)
	if err != nil {
		return nil, fmt.Errorf("creating retired session cache: %w", err)
	}
	return &Store{
		sessions: make(map[uuid.UUID]*session),
		retired:  retired,
		closedCh: make(chan struct{}),
		opts:     opts,
	}, nil
}

// PublishOffer opens a new session holding offer and returns its id.
func (s *Store) PublishOffer(offer string) (uuid.UUID, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return uuid.Nil, ErrClosed
	}

	var id uuid.UUID
	for attempt := 0; ; attempt++ {
		if attempt == idAttempts {
			s.mu.Unlock()
			return uuid.Nil, ErrNoID
		}
		id = s.opts.NewID()
		if _, live := s.sessions[id]; live || id == uuid.Nil || s.retired.Contains(id) {
			continue
		}
		break
	}

	now := s.opts.Clock.Now()
	sess := &session{id: id, createdAt: now, lastActive: now}
	sess.boxes[Offer] = newSlot()
	sess.boxes[Answer] = newSlot()
	sess.boxes[Offer].put(offer)
	s.sessions[id] = sess
	s.mu.Unlock()

	logger.Debug("Offer published", "session", id)
	s.notify(Event{Kind: EventPublished, Session: id, Role: Offer, At: now})
	return id, nil
}

// PublishAnswer fills the answer mailbox of id, creating the session when
// the answer arrives before anything else is known about it. An answer
// that has not been fetched yet is replaced.
func (s *Store) PublishAnswer(id uuid.UUID, answer string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.retired.Contains(id) {
		s.mu.Unlock()
		return ErrRetired
	}

	now := s.opts.Clock.Now()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{id: id, createdAt: now}
		sess.boxes[Answer] = newSlot()
		s.sessions[id] = sess
		logger.Debug("Answer mailbox created before offer", "session", id)
	}
	box := sess.boxes[Answer]
	if box == nil {
		s.mu.Unlock()
		return ErrRetired
	}
	if box.filled() {
		logger.Debug("Replacing unfetched answer", "session", id)
	}
	box.put(answer)
	sess.lastActive = now
	s.mu.Unlock()

	s.notify(Event{Kind: EventPublished, Session: id, Role: Answer, At: now})
	return nil
}

func (s *Store) FetchOffer(ctx context.Context, id uuid.UUID) (string, error) {
	return s.fetch(ctx, id, Offer)
}

func (s *Store) FetchAnswer(ctx context.Context, id uuid.UUID) (string, error) {
	return s.fetch(ctx, id, Answer)
}

// fetch claims the mailbox under the lock so only one caller can wait on
// it, waits outside the lock, and drains it under the lock again. A fetch
// that gives up leaves the payload in place and releases the claim.
func (s *Store) fetch(ctx context.Context, id uuid.UUID, role Role) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	sess, ok := s.sessions[id]
	if !ok || sess.boxes[role] == nil {
		s.mu.Unlock()
		return "", ErrNotFound
	}
	box := sess.boxes[role]
	if box.claimed {
		s.mu.Unlock()
		return "", ErrClaimed
	}
	box.claimed = true
	s.waiters++
	sess.lastActive = s.opts.Clock.Now()
	s.mu.Unlock()

	ctx, cancel := s.withFetchDeadline(ctx)
	defer cancel()

	select {
	case <-box.ready:
	case <-box.gone:
	case <-s.closedCh:
	case <-ctx.Done():
	}

	s.mu.Lock()
	s.waiters--
	switch {
	case s.closed:
		s.mu.Unlock()
		return "", ErrClosed
	case box.torn:
		s.mu.Unlock()
		return "", ErrNotFound
	case ctx.Err() != nil:
		box.claimed = false
		s.mu.Unlock()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", ctx.Err()
	}

	payload := box.payload
	now := s.opts.Clock.Now()
	box.drain()
	sess.boxes[role] = nil
	sess.lastActive = now
	finished := sess.empty()
	if finished {
		delete(s.sessions, id)
		s.retired.Add(id, struct{}{})
	}
	s.mu.Unlock()

	logger.Debug("Mailbox drained", "session", id, "role", role, "finished", finished)
	s.notify(Event{Kind: EventDelivered, Session: id, Role: role, At: now})
	return payload, nil
}

func (s *Store) withFetchDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= s.opts.FetchTimeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.FetchTimeout)
}

// CloseSession tears down both mailboxes of id. Waiting fetchers return
// ErrNotFound and the id is never accepted again.
func (s *Store) CloseSession(id uuid.UUID) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.teardownLocked(sess)
	now := s.opts.Clock.Now()
	s.mu.Unlock()

	logger.Debug("Session closed", "session", id)
	s.notify(Event{Kind: EventClosed, Session: id, At: now})
	return nil
}

func (s *Store) teardownLocked(sess *session) {
	for role, box := range sess.boxes {
		if box != nil {
			box.tear()
			sess.boxes[role] = nil
		}
	}
	delete(s.sessions, sess.id)
	s.retired.Add(sess.id, struct{}{})
}

// Sweep evicts sessions idle for longer than SessionTTL and returns how
// many were removed.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	var evicted []uuid.UUID
	for id, sess := range s.sessions {
		last := sess.lastActive
		if last.IsZero() {
			last = sess.createdAt
		}
		if now.Sub(last) > s.opts.SessionTTL {
			s.teardownLocked(sess)
			evicted = append(evicted, id)
		}
	}
	s.mu.Unlock()

	for _, id := range evicted {
		s.notify(Event{Kind: EventEvicted, Session: id, At: now})
	}
	if len(evicted) > 0 {
		logger.InfoF("Evicted %d stale sessions", len(evicted))
	}
	return len(evicted)
}

// RunSweeper calls Sweep every SweepInterval until ctx ends or the store
// is closed.
func (s *Store) RunSweeper(ctx context.Context) {
	ticker := s.opts.Clock.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closedCh:
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Sessions: len(s.sessions), Waiters: s.waiters}
}

// Close drops every session and wakes all waiting fetchers with ErrClosed.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.closedCh)
	count := len(s.sessions)
	s.sessions = make(map[uuid.UUID]*session)
	logger.InfoF("Mailbox store closed, %d sessions dropped", count)
}

// Invoke lets the store be registered with the shutdown cleaner.
func (s *Store) Invoke(_ context.Context) error {
	s.Close()
	return nil
}

func (s *Store) notify(ev Event) {
	if s.opts.Observer != nil {
		s.opts.Observer.OnEvent(ev)
	}
}
