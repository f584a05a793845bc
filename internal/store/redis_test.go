package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/model"
)

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "escrow:agreement:7", agreementKey(7))
	assert.Equal(t, "escrow:mandates:7", mandatesKey(7))
	assert.Equal(t, "escrow:events:7", eventsKey(7))
}

// TestCachedStore_ReadThrough needs a live Redis at ESCROW_TEST_REDIS_URL.
func TestCachedStore_ReadThrough(t *testing.T) {
	url := os.Getenv("ESCROW_TEST_REDIS_URL")
	if url == "" {
		t.Skip("ESCROW_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	ctx := context.Background()
	primary := NewMemoryStore()
	s := NewCachedStore(primary, rdb, time.Minute)
	rdb.Del(ctx, agreementKey(42), mandatesKey(42))

	require.NoError(t, s.UpsertAgreement(ctx, &model.Agreement{ID: 42, Manager: "m", Status: model.StatusPublished}))
	got, err := s.GetAgreement(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPublished, got.Status)

	n, err := rdb.Exists(ctx, agreementKey(42)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "read populated the cache")

	require.NoError(t, s.UpsertAgreement(ctx, &model.Agreement{ID: 42, Manager: "m", Status: model.StatusActive}))
	got, err = s.GetAgreement(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status, "writes invalidate")
}
