package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/life-stream-dev/life-stream-go-padlink/internal/logger"
)

type DBStore struct {
	collection       *mongo.Collection
	operationTimeout time.Duration
}

func (ds *DBStore) Record(ctx context.Context, ev SessionEvent) error {
	if ev.SessionID == "" {
		return SessionIdEmptyError
	}
	ctx, cancel := context.WithTimeout(ctx, ds.operationTimeout)
	defer cancel()

	if _, err := ds.collection.InsertOne(ctx, ev); err != nil {
		return fmt.Errorf("database operation failed: %w", err)
	}
	return nil
}

func (ds *DBStore) History(ctx context.Context, sessionID string) ([]SessionEvent, error) {
	if sessionID == "" {
		return nil, SessionIdEmptyError
	}
	ctx, cancel := context.WithTimeout(ctx, ds.operationTimeout)
	defer cancel()

	startTime := time.Now()
	cursor, err := ds.collection.Find(ctx,
		bson.D{{Key: "session_id", Value: sessionID}},
		options.Find().SetSort(bson.D{{Key: "at", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("database operation failed: %w", err)
	}
	var events []SessionEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("decoding session events: %w", err)
	}
	logger.DebugF("session history query cost: %v", time.Since(startTime))
	return events, nil
}
