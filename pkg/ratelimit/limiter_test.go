package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPerPrincipalBucketAllowsWithinBurst(t *testing.T) {
	l := NewLimiter(PrincipalConfig{RequestsPerSecond: 1, BurstSize: 3})
	assert.True(t, l.CheckRateLimit("alice"))
	assert.True(t, l.CheckRateLimit("alice"))
	assert.True(t, l.CheckRateLimit("alice"))
	assert.False(t, l.CheckRateLimit("alice"))
}

func TestBucketRefillsOverTime(t *testing.T) {
	b := newBucket(2, 10) // capacity 2, refill 10/sec
	now := time.Now()
	assert.True(t, b.allow(now))
	assert.True(t, b.allow(now))
	assert.False(t, b.allow(now))

	later := now.Add(200 * time.Millisecond) // +2 tokens
	assert.True(t, b.allow(later))
}

func TestBucketSaturatesAtCapacity(t *testing.T) {
	b := newBucket(2, 100)
	now := time.Now()
	far := now.Add(time.Hour)
	assert.InDelta(t, 2.0, b.Tokens(far), 0.001)
}

func TestGlobalLimitAppliesAcrossPrincipals(t *testing.T) {
	l := NewLimiter(PrincipalConfig{RequestsPerSecond: 100, BurstSize: 100}, WithGlobalLimit(1))
	assert.True(t, l.CheckRateLimit("alice"))
	assert.True(t, l.CheckRateLimit("bob"))
	assert.False(t, l.CheckRateLimit("carol"))
}

func TestRecordBandwidthResetsOnWindowExpiry(t *testing.T) {
	l := NewLimiter(PrincipalConfig{RequestsPerSecond: 10, BurstSize: 10})
	l.RecordBandwidth("alice", 1000)
	rate1 := l.BandwidthRate("alice")
	assert.Greater(t, rate1, 0.0)

	time.Sleep(1100 * time.Millisecond)
	l.RecordBandwidth("alice", 500)
	rate2 := l.BandwidthRate("alice")
	assert.Less(t, rate2, rate1*10)

	l.mu.Lock()
	st := l.principals["alice"]
	l.mu.Unlock()
	st.windowMu.Lock()
	windowBytes := st.windowByte
	st.windowMu.Unlock()
	assert.Equal(t, uint64(500), windowBytes, "window reset, not cumulative with first burst")
}

func TestEvictionPrunesStalePrincipals(t *testing.T) {
	l := NewLimiter(PrincipalConfig{RequestsPerSecond: 1, BurstSize: 1}, WithSoftCap(1))
	l.evictAfter = 0 // evict immediately for this test
	l.CheckRateLimit("alice")
	l.CheckRateLimit("bob") // triggers eviction check since len > softCap
	l.mu.Lock()
	_, bobPresent := l.principals["bob"]
	l.mu.Unlock()
	assert.True(t, bobPresent, "the principal that triggered eviction is always kept")
}

func TestDrainTrafficAccumulatesAndResets(t *testing.T) {
	l := NewLimiter(PrincipalConfig{RequestsPerSecond: 100, BurstSize: 100})
	l.RecordBandwidth("alice", 100)
	l.RecordBandwidth("alice", 50)
	l.RecordBandwidth("bob", 10)

	drained := l.DrainTraffic()
	assert.Equal(t, uint64(150), drained["alice"])
	assert.Equal(t, uint64(10), drained["bob"])

	again := l.DrainTraffic()
	_, alicePresent := again["alice"]
	assert.False(t, alicePresent, "drained counters reset to zero and are omitted next time")
}
