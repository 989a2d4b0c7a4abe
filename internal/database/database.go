package database

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	c "github.com/life-stream-dev/life-stream-go-padlink/internal/config"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/logger"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/utils"
)

const eventRetention = 7 * 24 * time.Hour

type DBCloseCallback struct {
	client  *mongo.Client
	timeout time.Duration
}

func (dc *DBCloseCallback) Invoke(ctx context.Context) error {
	logger.InfoF("Closing database connection")
	ctx, cancel := context.WithTimeout(ctx, dc.timeout)
	defer cancel()
	return dc.client.Disconnect(ctx)
}

func databaseURL(config c.DatabaseConfig) string {
	if config.Username == "" {
		return fmt.Sprintf("mongodb://%s:%d/", config.Host, config.Port)
	}
	return fmt.Sprintf("mongodb://%s:%s@%s:%d/?authSource=admin",
		url.QueryEscape(config.Username), url.QueryEscape(config.Password),
		config.Host,
		config.Port,
	)
}

// ConnectDatabase opens the audit database and prepares its indexes. The
// returned callback disconnects the client and belongs in the cleaner.
func ConnectDatabase(config c.Config) (*DBStore, *DBCloseCallback, error) {
	logger.DebugF("Connecting to database...")
	dbConfig := config.Database
	operationTimeout := utils.DurationOr(dbConfig.OperationTimeout, 5*time.Second)

	clientOptions := options.Client().ApplyURI(databaseURL(dbConfig)).SetAppName(config.AppName)
	clientOptions.SetMinPoolSize(dbConfig.MinPoolSize)
	clientOptions.SetMaxPoolSize(dbConfig.MaxPoolSize)
	clientOptions.SetConnectTimeout(utils.DurationOr(dbConfig.ConnectTimeout, 10*time.Second))
	clientOptions.SetHeartbeatInterval(utils.DurationOr(dbConfig.Heartbeat, 15*time.Second))
	if dbConfig.UseTLS {
		clientOptions.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	clientOptions.SetPoolMonitor(&event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated:
				logger.Debug("Database connection created", "address", evt.Address, "connection", evt.ConnectionID)
			case event.ConnectionClosed:
				logger.Debug("Database connection closed", "address", evt.Address, "reason", evt.Reason)
			}
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("error occured while connecting to database: %w", err)
	}
	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("error occured while pinging database: %w", err)
	}

	collection := client.Database(dbConfig.Database).Collection(SessionEventCollectionName)
	_, err = collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "at", Value: 1}},
			Options: options.Index().SetName("session_events_session_at"),
		},
		{
			Keys:    bson.D{{Key: "at", Value: 1}},
			Options: options.Index().SetName("session_events_ttl").SetExpireAfterSeconds(int32(eventRetention.Seconds())),
		},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("error occured while creating database indexes: %w", err)
	}

	store := &DBStore{collection: collection, operationTimeout: operationTimeout}
	return store, &DBCloseCallback{client: client, timeout: operationTimeout}, nil
}
