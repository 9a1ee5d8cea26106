package mongodb

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/custodia-labs/agencylink/internal/core/domain"
)

// stubDial replaces dialClient for the duration of a test.
func stubDial(t *testing.T, fn func(ctx context.Context, uri string) (*mongo.Client, error)) {
	t.Helper()
	orig := dialClient
	dialClient = fn
	t.Cleanup(func() {
		dialClient = orig
		_ = Close(context.Background())
	})
}

// lazyClient builds a client without contacting a server.
func lazyClient(t *testing.T) *mongo.Client {
	t.Helper()
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI("mongodb://127.0.0.1:1"))
	require.NoError(t, err)
	return client
}

func TestConnect_RetriesAfterFailedDial(t *testing.T) {
	calls := 0
	client := lazyClient(t)
	stubDial(t, func(ctx context.Context, uri string) (*mongo.Client, error) {
		calls++
		if calls == 1 {
			return nil, errors.Join(domain.ErrStoreUnavailable, errors.New("connection refused"))
		}
		return client, nil
	})

	_, err := Connect(context.Background(), "mongodb://db")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	got, err := Connect(context.Background(), "mongodb://db")
	require.NoError(t, err)
	assert.Same(t, client, got)
	assert.Equal(t, 2, calls)
}

func TestConnect_ReusesClient(t *testing.T) {
	calls := 0
	client := lazyClient(t)
	stubDial(t, func(ctx context.Context, uri string) (*mongo.Client, error) {
		calls++
		return client, nil
	})

	first, err := Connect(context.Background(), "mongodb://db")
	require.NoError(t, err)
	second, err := Connect(context.Background(), "mongodb://other")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestClose_WithoutClient(t *testing.T) {
	assert.NoError(t, Close(context.Background()))
}
