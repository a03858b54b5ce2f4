package cache

import (
	"context"
	"os"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) CacheInterface {
	t.Helper()
	_ = godotenv.Load("../../.env")
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	c, err := NewCache(url)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Clear(context.Background())
		_ = c.Disconnect()
	})
	return c
}

func TestSetAndGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "activity_1", true))

	value, err := c.Get(ctx, "activity_1")
	require.NoError(t, err)
	assert.Equal(t, true, value)
}

func TestGetMissingKey(t *testing.T) {
	c := newTestCache(t)

	_, err := c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestConnectRejectsBadURL(t *testing.T) {
	_, err := NewCache("not a url")
	assert.Error(t, err)
}
