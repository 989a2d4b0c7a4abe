package mailbox

import (
	"time"

	"github.com/google/uuid"
)

type Role int

const (
	Offer Role = iota
	Answer
)

func (r Role) String() string {
	switch r {
	case Offer:
		return "offer"
	case Answer:
		return "answer"
	}
	return "unknown"
}

type EventKind string

const (
	EventPublished EventKind = "published"
	EventDelivered EventKind = "delivered"
	EventEvicted   EventKind = "evicted"
	EventClosed    EventKind = "closed"
)

// Event describes a session lifecycle step. Role is meaningless for
// EventEvicted and EventClosed, which cover the whole session.
type Event struct {
	Kind    EventKind
	Session uuid.UUID
	Role    Role
	At      time.Time
}

// Observer is called outside the store's lock, from the goroutine that
// caused the event.
type Observer interface {
	OnEvent(ev Event)
}

type ObserverFunc func(ev Event)

func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

// slot is one single-item mailbox. All fields are guarded by the owning
// Store's mutex; ready and gone are closed at most once and may be waited
// on without the lock.
type slot struct {
	payload  string
	ready    chan struct{}
	gone     chan struct{}
	isFilled bool
	claimed  bool
	torn     bool
}

func newSlot() *slot {
	return &slot{
		ready: make(chan struct{}),
		gone:  make(chan struct{}),
	}
}

func (b *slot) filled() bool { return b.isFilled }

func (b *slot) put(payload string) {
	b.payload = payload
	if !b.isFilled {
		b.isFilled = true
		close(b.ready)
	}
}

func (b *slot) drain() {
	b.payload = ""
	b.claimed = false
}

func (b *slot) tear() {
	if !b.torn {
		b.torn = true
		close(b.gone)
	}
}
