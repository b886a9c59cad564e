package ratelimit

import (
	"sync"
	"time"

	"github.com/meridianvpn/fleet/pkg/log"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultSoftCap       = 10_000
	defaultEvictAfter    = time.Hour
	bandwidthWindowWidth = time.Second
)

// PrincipalConfig is the per-principal bucket shape, applied to every
// principal the limiter has not seen before.
type PrincipalConfig struct {
	RequestsPerSecond float64
	BurstSize         float64
}

// principalState bundles one principal's request bucket and rolling
// bandwidth window.
type principalState struct {
	requests   *bucket
	windowMu   sync.Mutex
	windowFrom time.Time
	windowByte uint64
	totalBytes uint64
	lastSeen   time.Time
}

// Limiter is the two-tier (global + per-principal) token bucket rate
// limiter with per-principal bandwidth accounting.
type Limiter struct {
	global      *rate.Limiter // nil when no global cap is configured
	globalBurst int

	principalCfg PrincipalConfig

	mu         sync.Mutex
	principals map[string]*principalState
	softCap    int
	evictAfter time.Duration

	logger zerolog.Logger
}

// Option configures a Limiter at construction time.
type Option func(*Limiter)

// WithGlobalLimit configures the optional global bucket: capacity is
// 2×requestsPerSecond, refill is requestsPerSecond tokens/sec.
func WithGlobalLimit(requestsPerSecond float64) Option {
	return func(l *Limiter) {
		burst := int(requestsPerSecond * 2)
		if burst < 1 {
			burst = 1
		}
		l.global = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
		l.globalBurst = burst
	}
}

// WithSoftCap overrides the default 10,000-entry eviction threshold.
func WithSoftCap(n int) Option {
	return func(l *Limiter) { l.softCap = n }
}

// NewLimiter builds a Limiter whose per-principal buckets use cfg.
func NewLimiter(cfg PrincipalConfig, opts ...Option) *Limiter {
	l := &Limiter{
		principalCfg: cfg,
		principals:   make(map[string]*principalState),
		softCap:      defaultSoftCap,
		evictAfter:   defaultEvictAfter,
		logger:       log.WithComponent("ratelimit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) stateFor(principal string, now time.Time) *principalState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.principals[principal]
	if !ok {
		st = &principalState{
			requests:   newBucket(l.principalCfg.BurstSize, l.principalCfg.RequestsPerSecond),
			windowFrom: now,
			lastSeen:   now,
		}
		l.principals[principal] = st
		if len(l.principals) > l.softCap {
			l.evictStaleLocked(now)
		}
	}
	st.lastSeen = now
	return st
}

// CheckRateLimit reports whether principal may proceed: both the global
// bucket (if configured) and the principal's own bucket must have a token
// available.
func (l *Limiter) CheckRateLimit(principal string) bool {
	now := time.Now()
	if l.global != nil && !l.global.AllowN(now, 1) {
		return false
	}
	st := l.stateFor(principal, now)
	return st.requests.allow(now)
}

// RecordBandwidth accumulates bytes into principal's rolling 1-second
// window, resetting it if expired.
func (l *Limiter) RecordBandwidth(principal string, bytes uint64) {
	now := time.Now()
	st := l.stateFor(principal, now)

	st.windowMu.Lock()
	defer st.windowMu.Unlock()
	if now.Sub(st.windowFrom) >= bandwidthWindowWidth {
		st.windowFrom = now
		st.windowByte = 0
	}
	st.windowByte += bytes
	st.totalBytes += bytes
}

// DrainTraffic returns, per principal, the bytes accumulated since the
// last DrainTraffic call (or since the principal's first RecordBandwidth
// call), resetting each counter to zero. Intended for a periodic flush job
// that persists bandwidth usage somewhere durable; principals with nothing
// to report are omitted.
func (l *Limiter) DrainTraffic() map[string]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]uint64)
	for principal, st := range l.principals {
		st.windowMu.Lock()
		if st.totalBytes > 0 {
			out[principal] = st.totalBytes
			st.totalBytes = 0
		}
		st.windowMu.Unlock()
	}
	return out
}

// BandwidthRate returns principal's current bytes/sec, computed over its
// rolling window.
func (l *Limiter) BandwidthRate(principal string) float64 {
	now := time.Now()
	st := l.stateFor(principal, now)

	st.windowMu.Lock()
	defer st.windowMu.Unlock()
	elapsed := now.Sub(st.windowFrom).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(st.windowByte) / elapsed
}

// evictStaleLocked drops principals inactive for longer than evictAfter.
// Caller must hold l.mu.
func (l *Limiter) evictStaleLocked(now time.Time) {
	removed := 0
	for id, st := range l.principals {
		if now.Sub(st.lastSeen) > l.evictAfter {
			delete(l.principals, id)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Debug().Int("removed", removed).Msg("rate limiter evicted stale principals")
	}
}
