package database

import (
	"context"
	"errors"
	"time"
)

const SessionEventCollectionName = "session_events"

var SessionIdEmptyError = errors.New("session_id is empty")

// SessionEvent is one audit record of a rendezvous session. It is written
// for operators only; the relay never reads it back to rebuild state.
type SessionEvent struct {
	SessionID string    `bson:"session_id" json:"sessionId"`
	Kind      string    `bson:"kind" json:"kind"`
	Role      string    `bson:"role,omitempty" json:"role,omitempty"`
	At        time.Time `bson:"at" json:"at"`
	App       string    `bson:"app,omitempty" json:"app,omitempty"`
}

type Recorder interface {
	Record(ctx context.Context, ev SessionEvent) error
	// History returns the events of one session, oldest first.
	History(ctx context.Context, sessionID string) ([]SessionEvent, error)
}
