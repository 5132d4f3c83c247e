package ratelimit

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsBurstThenThrottles(t *testing.T) {
	rl := New(Config{QueriesPerSecond: 10, BurstSize: 10, CleanupInterval: time.Minute})
	ip := net.ParseIP("192.168.1.1")

	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow(ip), "query %d should be allowed", i)
	}
	assert.False(t, rl.Allow(ip), "11th query should be rate limited")
}

func TestLimiterTracksClientsIndependently(t *testing.T) {
	rl := New(Config{QueriesPerSecond: 5, BurstSize: 5, CleanupInterval: time.Minute})
	ip1 := net.ParseIP("192.168.1.1")
	ip2 := net.ParseIP("192.168.1.2")

	for i := 0; i < 5; i++ {
		rl.Allow(ip1)
	}
	assert.False(t, rl.Allow(ip1))

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow(ip2), "ip2 query %d should be allowed", i)
	}
}

func TestLimiterExemptNeverThrottled(t *testing.T) {
	rl := New(Config{QueriesPerSecond: 1, BurstSize: 1, CleanupInterval: time.Minute})
	require.NoError(t, rl.AddExempt("127.0.0.0/8"))

	ip := net.ParseIP("127.0.0.1")
	for i := 0; i < 50; i++ {
		assert.True(t, rl.Allow(ip))
	}
}

func TestStatsTracksClientCount(t *testing.T) {
	rl := New(DefaultConfig())
	rl.Allow(net.ParseIP("192.0.2.1"))
	rl.Allow(net.ParseIP("192.0.2.2"))
	assert.Equal(t, 2, rl.Stats().TrackedClients)
}
