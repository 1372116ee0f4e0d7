package cache

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guiyumin/vfetch/internal/core/media"
)

func TestDisabledWithoutAddress(t *testing.T) {
	c := New(Config{}, zerolog.Nop())
	assert.False(t, c.IsAvailable())
	assert.Equal(t, DefaultInfoTTL, c.ttl)

	ctx := context.Background()
	require.NoError(t, c.SetInfo(ctx, "https://youtu.be/x", &media.Info{Title: "x"}))

	info, ok, err := c.GetInfo(ctx, "https://youtu.be/x")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, info)
	assert.NoError(t, c.Invalidate(ctx, "https://youtu.be/x"))
	assert.NoError(t, c.Close())
}

func TestUnreachableRedisDisables(t *testing.T) {
	// Port 1 refuses connections immediately
	c := New(Config{RedisAddr: "127.0.0.1:1"}, zerolog.Nop())
	assert.False(t, c.IsAvailable())

	_, ok, err := c.GetInfo(context.Background(), "https://youtu.be/x")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestNilCache(t *testing.T) {
	var c *Cache
	assert.False(t, c.IsAvailable())
	assert.NoError(t, c.Close())
}

func TestKey(t *testing.T) {
	a := Key("https://www.youtube.com/watch?v=a")
	b := Key("https://www.youtube.com/watch?v=b")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, KeyInfo))
	assert.Equal(t, a, Key("https://www.youtube.com/watch?v=a"))
	assert.Len(t, strings.TrimPrefix(a, KeyInfo), 32)
}
