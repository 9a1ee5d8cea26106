// Package mongodb stores install records in MongoDB.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/custodia-labs/agencylink/internal/core/domain"
)

// InstallsCollection holds one document per tenant key.
const InstallsCollection = "install_records"

var (
	clientMu       sync.Mutex
	clientInstance *mongo.Client
)

// dialClient connects and pings. Swapped in tests.
var dialClient = func(ctx context.Context, uri string) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(uri).SetConnectTimeout(10 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: connect mongodb: %w", domain.ErrStoreUnavailable, err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: ping mongodb: %w", domain.ErrStoreUnavailable, err)
	}
	return client, nil
}

// Connect returns the process-wide client, dialing it on first use.
// Only a successful dial is kept; a failed one is retried on the next call.
// Once connected, later calls return the same client regardless of uri.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	clientMu.Lock()
	defer clientMu.Unlock()

	if clientInstance != nil {
		return clientInstance, nil
	}
	client, err := dialClient(ctx, uri)
	if err != nil {
		return nil, err
	}
	slog.Info("mongodb client initialized")
	clientInstance = client
	return client, nil
}

// Close disconnects the process-wide client if it was created.
func Close(ctx context.Context) error {
	clientMu.Lock()
	client := clientInstance
	clientInstance = nil
	clientMu.Unlock()

	if client == nil {
		return nil
	}
	return client.Disconnect(ctx)
}

// EnsureIndexes creates the secondary indexes used by lookups.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(InstallsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: fieldScopeKind, Value: 1}, {Key: fieldUpdatedAt, Value: -1}}},
		{Keys: bson.D{{Key: fieldAgencyID, Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create install indexes: %w", err)
	}
	return nil
}

// unavailable tags a driver error as a store outage. Context errors pass
// through unchanged.
func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}
