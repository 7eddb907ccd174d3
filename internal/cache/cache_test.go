package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetExpiry(t *testing.T) {
	c := New[string](time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("models", "claude")
	v, ok := c.Get("models")
	require.True(t, ok)
	assert.Equal(t, "claude", v)

	now = now.Add(time.Minute)
	_, ok = c.Get("models")
	assert.False(t, ok, "entry should expire at ttl")
	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 0, c.Len())
}

func TestDelete(t *testing.T) {
	c := New[int](time.Hour)
	c.Set("a", 1)
	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestGetOrLoadCallsLoaderOnce(t *testing.T) {
	c := New[[]string](time.Hour)
	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) ([]string, error) {
		calls.Add(1)
		<-release
		return []string{"a", "b"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "k", load)
			assert.NoError(t, err)
			assert.Len(t, v, 2)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	v, err := c.GetOrLoad(context.Background(), "k", load)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrLoadDoesNotCacheErrors(t *testing.T) {
	c := New[int](time.Hour)
	boom := errors.New("boom")
	_, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	v, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}
