// Package pool is the bounded upstream connection pool: a global admission
// semaphore, per-destination admission semaphores created lazily, and
// per-destination idle queues of reusable TCP connections.
package pool

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meridianvpn/fleet/pkg/ferrors"
	"github.com/meridianvpn/fleet/pkg/log"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// pooledConn is one idle upstream connection awaiting reuse.
type pooledConn struct {
	conn      net.Conn
	createdAt time.Time
	lastUsed  time.Time
	useCount  int
}

func (p *pooledConn) eligible(now time.Time, idleTimeout, maxLifetime time.Duration) bool {
	if now.Sub(p.createdAt) > maxLifetime {
		return false
	}
	if now.Sub(p.lastUsed) > idleTimeout {
		return false
	}
	return isReachable(p.conn)
}

// destPool is the per-destination idle queue plus its admission semaphore.
type destPool struct {
	addr    string
	mu      sync.Mutex
	idle    []*pooledConn
	perHost *semaphore.Weighted

	// outstanding counts permits currently held against perHost, whether
	// idle-queued or checked out by a trackedConn. Cleanup must not delete
	// this destPool's map entry while it's nonzero, or a checked-out
	// trackedConn's eventual Release would land on an orphaned semaphore
	// while destPoolFor hands the address a brand-new, fully-available one.
	outstanding atomic.Int64
}

// Config bounds the pool's total and per-host admission.
type Config struct {
	MaxTotalConnections   int64
	MaxConnectionsPerHost int64
	IdleTimeout           time.Duration
	MaxLifetime           time.Duration
	ConnectTimeout        time.Duration // defaults to IdleTimeout if zero
}

// Pool is the bounded upstream connection pool described by spec §4.6.
type Pool struct {
	cfg    Config
	global *semaphore.Weighted

	mu    sync.Mutex
	pools map[string]*destPool

	openConns atomic.Int64 // connections currently holding a global permit, idle or in use

	logger zerolog.Logger
}

// Stats returns a snapshot of the pool's idle and in-use connection counts,
// for periodic export as proxy_connection_pool_size{state}.
func (p *Pool) Stats() (idle, inUse int64) {
	p.mu.Lock()
	dps := make([]*destPool, 0, len(p.pools))
	for _, dp := range p.pools {
		dps = append(dps, dp)
	}
	p.mu.Unlock()

	for _, dp := range dps {
		dp.mu.Lock()
		idle += int64(len(dp.idle))
		dp.mu.Unlock()
	}

	inUse = p.openConns.Load() - idle
	if inUse < 0 {
		inUse = 0
	}
	return idle, inUse
}

// New builds a Pool from cfg.
func New(cfg Config) *Pool {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = cfg.IdleTimeout
	}
	return &Pool{
		cfg:    cfg,
		global: semaphore.NewWeighted(cfg.MaxTotalConnections),
		pools:  make(map[string]*destPool),
		logger: log.WithComponent("pool"),
	}
}

func (p *Pool) destPoolFor(addr string) *destPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	dp, ok := p.pools[addr]
	if !ok {
		dp = &destPool{addr: addr, perHost: semaphore.NewWeighted(p.cfg.MaxConnectionsPerHost)}
		p.pools[addr] = dp
	}
	return dp
}

// GetOrCreate returns a connection to addr, reusing a healthy idle entry
// when one exists, or dialing a fresh one after acquiring both the global
// and per-host admission permits.
func (p *Pool) GetOrCreate(ctx context.Context, addr string) (net.Conn, error) {
	dp := p.destPoolFor(addr)

	if c := p.tryReuse(dp); c != nil {
		return c, nil
	}

	if !p.global.TryAcquire(1) {
		acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
		defer cancel()
		if err := p.global.Acquire(acquireCtx, 1); err != nil {
			return nil, ferrors.ErrConnectionPoolExhaust
		}
	}
	p.openConns.Add(1)

	if !dp.perHost.TryAcquire(1) {
		acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
		defer cancel()
		if err := dp.perHost.Acquire(acquireCtx, 1); err != nil {
			p.global.Release(1)
			p.openConns.Add(-1)
			return nil, ferrors.ErrConnectionPoolExhaust
		}
	}
	dp.outstanding.Add(1)

	dialer := net.Dialer{Timeout: p.cfg.ConnectTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		p.global.Release(1)
		p.openConns.Add(-1)
		dp.perHost.Release(1)
		dp.outstanding.Add(-1)
		if dialCtx.Err() != nil {
			return nil, ferrors.ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", ferrors.ErrUpstreamConnFailed, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	return &trackedConn{Conn: conn, pool: p, addr: addr, dp: dp, createdAt: time.Now()}, nil
}

// tryReuse dequeues the first healthy idle entry, dropping any expired ones
// it encounters along the way.
func (p *Pool) tryReuse(dp *destPool) net.Conn {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	now := time.Now()
	for len(dp.idle) > 0 {
		candidate := dp.idle[0]
		dp.idle = dp.idle[1:]
		if !candidate.eligible(now, p.cfg.IdleTimeout, p.cfg.MaxLifetime) {
			_ = candidate.conn.Close()
			p.global.Release(1)
			p.openConns.Add(-1)
			dp.perHost.Release(1)
			dp.outstanding.Add(-1)
			continue
		}
		candidate.useCount++
		candidate.lastUsed = now
		return &trackedConn{Conn: candidate.conn, pool: p, addr: dp.addr, dp: dp, createdAt: candidate.createdAt}
	}
	return nil
}

// ReturnConnection reinserts conn into addr's idle queue with a fresh
// last-used timestamp if its peer is still reachable, otherwise drops it
// and releases its admission permits.
func (p *Pool) ReturnConnection(addr string, conn net.Conn) {
	createdAt := time.Now()
	raw := conn

	// A trackedConn carries the destPool it was checked out against; use it
	// directly instead of a fresh destPoolFor lookup. Cleanup can delete a
	// destination's map entry between this connection's dial and its
	// return, and destPoolFor would then silently hand back a brand-new
	// destPool with a fresh, fully-available semaphore instead of the one
	// this connection's permit is actually held against. destPoolFor is
	// only a fallback for a bare net.Conn, which no call site in this repo
	// actually passes.
	var dp *destPool
	if tc, ok := conn.(*trackedConn); ok {
		raw = tc.Conn
		createdAt = tc.createdAt
		dp = tc.dp
	} else {
		dp = p.destPoolFor(addr)
	}

	if !isReachable(raw) {
		_ = raw.Close()
		p.global.Release(1)
		p.openConns.Add(-1)
		dp.perHost.Release(1)
		dp.outstanding.Add(-1)
		return
	}

	dp.mu.Lock()
	dp.idle = append(dp.idle, &pooledConn{conn: raw, createdAt: createdAt, lastUsed: time.Now()})
	dp.mu.Unlock()
}

// Cleanup drops expired idle entries across all destinations and removes
// any destination pool left with no idle entries and no in-flight permits.
// Intended to run on a background ticker.
func (p *Pool) Cleanup() {
	now := time.Now()
	p.mu.Lock()
	dps := make([]*destPool, 0, len(p.pools))
	for _, dp := range p.pools {
		dps = append(dps, dp)
	}
	p.mu.Unlock()

	for _, dp := range dps {
		dp.mu.Lock()
		kept := dp.idle[:0]
		for _, c := range dp.idle {
			if c.eligible(now, p.cfg.IdleTimeout, p.cfg.MaxLifetime) {
				kept = append(kept, c)
				continue
			}
			_ = c.conn.Close()
			p.global.Release(1)
			p.openConns.Add(-1)
			dp.perHost.Release(1)
			dp.outstanding.Add(-1)
		}
		dp.idle = kept
		// A destPool with permits still outstanding has trackedConns
		// checked out against dp.perHost beyond what's sitting idle here;
		// deleting the map entry now would let destPoolFor hand the next
		// caller a fresh semaphore, doubling the effective per-host cap
		// until those connections eventually release the orphaned one.
		empty := len(dp.idle) == 0 && dp.outstanding.Load() == 0
		dp.mu.Unlock()

		if empty {
			p.mu.Lock()
			if cur, ok := p.pools[dp.addr]; ok && cur == dp {
				delete(p.pools, dp.addr)
			}
			p.mu.Unlock()
		}
	}
}

// RunCleanupLoop calls Cleanup on interval until ctx is canceled.
func (p *Pool) RunCleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Cleanup()
		}
	}
}

func isReachable(conn net.Conn) bool {
	if conn == nil {
		return false
	}
	// A short read probe: a 1-byte read under a 1ms deadline (cleared
	// afterwards). A timeout means the socket is alive and idle; EOF or
	// another error means it is dead. A byte that does arrive is consumed.
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return true
	}
	one := make([]byte, 1)
	_ = tc.SetReadDeadline(time.Now().Add(time.Millisecond))
	_, err := tc.Read(one)
	_ = tc.SetReadDeadline(time.Time{})
	if err == nil {
		return true // unexpected data; treat as alive, data is lost (rare in practice for idle upstreams)
	}
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
