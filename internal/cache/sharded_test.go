package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetAndGetRoundTrip(t *testing.T) {
	c := NewShardedCache(Config{})
	defer c.Close()

	hash := Key("example.com.", 1, 1)
	entry := &Entry{QName: "example.com.", OrigTTL: 300}
	c.Set(hash, entry)

	got, ok := c.Get(hash)
	assert.True(t, ok)
	assert.Equal(t, "example.com.", got.QName)
}

func TestGetMissIncrementsMisses(t *testing.T) {
	c := NewShardedCache(Config{})
	defer c.Close()

	_, ok := c.Get(Key("nowhere.example.", 1, 1))
	assert.False(t, ok)
	assert.EqualValues(t, 1, c.GetStats().Misses)
}

func TestSetClampsTTL(t *testing.T) {
	c := NewShardedCache(Config{TTLMin: 60, TTLMax: 3600})
	defer c.Close()

	hash := Key("short.example.", 1, 1)
	c.Set(hash, &Entry{OrigTTL: 5})
	entry, ok := c.Get(hash)
	assert.True(t, ok)
	assert.EqualValues(t, 60, entry.OrigTTL)

	hash2 := Key("long.example.", 1, 1)
	c.Set(hash2, &Entry{OrigTTL: 100000})
	entry2, ok := c.Get(hash2)
	assert.True(t, ok)
	assert.EqualValues(t, 3600, entry2.OrigTTL)
}

func TestExpiredEntryIsAMissWithoutServeStale(t *testing.T) {
	c := NewShardedCache(Config{})
	defer c.Close()

	hash := Key("expired.example.", 1, 1)
	entry := &Entry{OrigTTL: 1}
	c.Set(hash, entry)
	entry.ExpiresAt = time.Now().Add(-time.Second)

	_, ok := c.Get(hash)
	assert.False(t, ok)
}

func TestServeStaleWithinWindow(t *testing.T) {
	c := NewShardedCache(Config{ServeStale: true, MaxStaleTTL: time.Hour})
	defer c.Close()

	hash := Key("stale.example.", 1, 1)
	entry := &Entry{OrigTTL: 1}
	c.Set(hash, entry)
	entry.ExpiresAt = time.Now().Add(-time.Minute)

	got, ok := c.Get(hash)
	assert.True(t, ok, "entry within serve-stale window should still be returned")
	assert.Equal(t, entry, got)
}

func TestNegativeEntryHasEmptyData(t *testing.T) {
	c := NewShardedCache(Config{})
	defer c.Close()

	hash := Key("nxdomain.example.", 1, 1)
	c.Set(hash, &Entry{OrigTTL: 300, State: StateNegative})

	got, ok := c.Get(hash)
	assert.True(t, ok)
	assert.Equal(t, StateNegative, got.State)
	assert.Empty(t, got.Data)
}

func TestFlushClearsAllEntries(t *testing.T) {
	c := NewShardedCache(Config{})
	defer c.Close()

	c.Set(Key("a.example.", 1, 1), &Entry{OrigTTL: 300})
	c.Set(Key("b.example.", 1, 1), &Entry{OrigTTL: 300})
	c.Flush()

	assert.Equal(t, 0, c.GetStats().Size)
}

func TestKeyIsDeterministicAndCaseInsensitive(t *testing.T) {
	a := Key("Example.COM.", 1, 1)
	b := Key("example.com.", 1, 1)
	assert.Equal(t, a, b)
}
