// Package proxy assembles the auth manager, rate limiter, connection pool,
// and protocol engines (HTTP forward proxy, SOCKS5) into the listener
// lifecycle a running fleet node exposes to clients. Grounded on
// cuemby-warren/pkg/api/server.go's Start/Stop shape, extended with a
// connection WaitGroup so shutdown can drain in-flight relays instead of
// cutting them off at GracefulStop.
package proxy

import (
	"context"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridianvpn/fleet/pkg/auth"
	"github.com/meridianvpn/fleet/pkg/log"
	"github.com/meridianvpn/fleet/pkg/metrics"
	"github.com/meridianvpn/fleet/pkg/pool"
	"github.com/meridianvpn/fleet/pkg/proxyhttp"
	"github.com/meridianvpn/fleet/pkg/ratelimit"
	"github.com/meridianvpn/fleet/pkg/socks5"
)

// DrainGrace bounds how long a Serve* method waits for its in-flight
// connections to finish relaying once ctx is canceled, per spec.md §5's
// shutdown semantics.
const DrainGrace = 30 * time.Second

// UserStore is the subset of pkg/user.Store the traffic-flush job needs,
// declared locally so pkg/proxy never imports pkg/user.
type UserStore interface {
	RecordTraffic(name string, bytes uint64) error
}

// Config wires the protocol engines' shared dependencies and the addresses
// they listen on. Either address may be empty to leave that protocol
// unserved.
type Config struct {
	HTTPAddr  string
	SOCKSAddr string

	AuthBackend  auth.Backend
	AuthOptions  []auth.Option
	RateLimit    ratelimit.PrincipalConfig
	RateOptions  []ratelimit.Option
	Pool         pool.Config
	AuthEnabled  bool
	IPWhitelist  []string
	PoolCleanup  time.Duration
	CacheJanitor time.Duration

	// UserStore and TrafficFlush together enable periodically draining
	// the rate limiter's per-principal bandwidth tracker into durable
	// per-user traffic stats. Leave UserStore nil to skip this.
	UserStore    UserStore
	TrafficFlush time.Duration
}

// Manager owns one node's client-facing listeners and the shared
// infrastructure (auth, rate limiting, connection pool, metrics) their
// engines depend on. ServeHTTP and ServeSOCKS5 are independent lifecycle
// methods a caller runs concurrently (e.g. via errgroup), each blocking
// until its ctx is canceled and its own connections have drained.
type Manager struct {
	cfg Config

	auth    *auth.Manager
	limiter *ratelimit.Limiter
	pool    *pool.Pool

	httpEngine  *proxyhttp.Engine
	socksEngine *socks5.Engine

	httpAddr  addrBox
	socksAddr addrBox

	logger zerolog.Logger
}

// addrBox lets ServeHTTP/ServeSOCKS5 publish the listener address they
// actually bound (useful when Config uses a ":0" port) for readers that
// race the goroutine serving it.
type addrBox struct {
	mu    sync.Mutex
	ready chan struct{}
	addr  net.Addr
}

func newAddrBox() addrBox { return addrBox{ready: make(chan struct{})} }

func (b *addrBox) set(addr net.Addr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.ready:
	default:
		b.addr = addr
		close(b.ready)
	}
}

// Addr blocks until the listener is bound (or ctx is done) and returns its
// address.
func (b *addrBox) Addr(ctx context.Context) net.Addr {
	select {
	case <-b.ready:
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.addr
	case <-ctx.Done():
		return nil
	}
}

// NewManager assembles a Manager from cfg. It does not open any listeners;
// call ServeHTTP/ServeSOCKS5 for that.
func NewManager(cfg Config) *Manager {
	opts := append([]auth.Option{}, cfg.AuthOptions...)
	if len(cfg.IPWhitelist) > 0 {
		opts = append(opts, auth.WithIPWhitelist(cfg.IPWhitelist))
	}
	authMgr := auth.NewManager(cfg.AuthBackend, opts...)
	limiter := ratelimit.NewLimiter(cfg.RateLimit, cfg.RateOptions...)
	connPool := pool.New(cfg.Pool)

	m := &Manager{
		cfg:       cfg,
		auth:      authMgr,
		limiter:   limiter,
		pool:      connPool,
		httpAddr:  newAddrBox(),
		socksAddr: newAddrBox(),
		logger:    log.WithComponent("proxy"),
	}

	m.httpEngine = proxyhttp.New(proxyhttp.Config{
		Auth:        authMgr,
		RateLimiter: limiter,
		Dialer:      connPool,
		Metrics:     metrics.ForProtocol("http"),
		AuthEnabled: cfg.AuthEnabled,
	})
	m.socksEngine = socks5.New(socks5.Config{
		Auth:        authMgr,
		RateLimiter: limiter,
		Dialer:      connPool,
		Metrics:     metrics.ForProtocol("socks5"),
		AuthEnabled: cfg.AuthEnabled,
	})

	return m
}

// Pool exposes the connection pool for metrics.Collector wiring.
func (m *Manager) Pool() *pool.Pool { return m.pool }

// RunBackgroundJobs starts the pool idle-connection reaper, the auth cache
// janitor and the traffic-flush loop, each only if configured. It returns
// immediately; all loops stop when ctx is canceled.
func (m *Manager) RunBackgroundJobs(ctx context.Context) {
	if m.cfg.PoolCleanup > 0 {
		go m.pool.RunCleanupLoop(ctx, m.cfg.PoolCleanup)
	}
	if m.cfg.CacheJanitor > 0 {
		go m.auth.RunCacheJanitor(ctx, m.cfg.CacheJanitor)
	}
	if m.cfg.TrafficFlush > 0 && m.cfg.UserStore != nil {
		go m.runTrafficFlushLoop(ctx)
	}
}

// runTrafficFlushLoop periodically drains the rate limiter's per-principal
// byte counters into the configured UserStore, so connection-time
// bandwidth tracking survives past the limiter's in-memory window.
func (m *Manager) runTrafficFlushLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.TrafficFlush)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for principal, bytes := range m.limiter.DrainTraffic() {
				if err := m.cfg.UserStore.RecordTraffic(principal, bytes); err != nil {
					m.logger.Warn().Err(err).Str("principal", principal).Msg("failed to flush traffic stats")
				}
			}
		}
	}
}

// HTTPAddr blocks until the HTTP listener is bound (or ctx ends) and
// returns its address, or nil if ServeHTTP was never started for this ctx.
func (m *Manager) HTTPAddr(ctx context.Context) net.Addr { return m.httpAddr.Addr(ctx) }

// SOCKSAddr is HTTPAddr's SOCKS5 counterpart.
func (m *Manager) SOCKSAddr(ctx context.Context) net.Addr { return m.socksAddr.Addr(ctx) }

// ServeHTTP opens the HTTP forward-proxy listener and serves until ctx is
// canceled, then drains in-flight connections for up to DrainGrace. A
// blank Config.HTTPAddr makes this a no-op.
func (m *Manager) ServeHTTP(ctx context.Context) error {
	if m.cfg.HTTPAddr == "" {
		return nil
	}
	return m.serve(ctx, "http", m.cfg.HTTPAddr, &m.httpAddr, m.httpEngine.ServeConn)
}

// ServeSOCKS5 is ServeHTTP's SOCKS5 counterpart. A blank Config.SOCKSAddr
// makes this a no-op.
func (m *Manager) ServeSOCKS5(ctx context.Context) error {
	if m.cfg.SOCKSAddr == "" {
		return nil
	}
	return m.serve(ctx, "socks5", m.cfg.SOCKSAddr, &m.socksAddr, m.socksEngine.ServeConn)
}

func (m *Manager) serve(ctx context.Context, protocol, addr string, box *addrBox, handle func(context.Context, net.Conn)) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("proxy: listen %s: %w", protocol, err)
	}
	box.set(lis.Addr())
	m.logger.Info().Str("protocol", protocol).Str("addr", lis.Addr().String()).Msg("proxy listening")

	var conns sync.WaitGroup
	acceptErr := make(chan error, 1)
	go func() { acceptErr <- m.acceptLoop(ctx, lis, &conns, handle) }()

	<-ctx.Done()
	_ = lis.Close()
	err = <-acceptErr

	drained := make(chan struct{})
	go func() { conns.Wait(); close(drained) }()
	select {
	case <-drained:
	case <-time.After(DrainGrace):
		m.logger.Warn().Str("protocol", protocol).Msg("drain grace period elapsed with connections still open")
	}

	if ctx.Err() != nil {
		return nil
	}
	return err
}

// acceptLoop accepts connections on lis until it's closed, dispatching each
// to handle in its own goroutine tracked by conns for drain accounting.
func (m *Manager) acceptLoop(ctx context.Context, lis net.Listener, conns *sync.WaitGroup, handle func(context.Context, net.Conn)) error {
	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("proxy: accept: %w", err)
		}
		conns.Add(1)
		go func() {
			defer conns.Done()
			defer m.recoverConn(conn)
			handle(ctx, conn)
		}()
	}
}

// recoverConn stops a handler panic from taking down the whole daemon. The
// connection it was relaying is no longer in a known state, so it's closed
// rather than returned to the pool.
func (m *Manager) recoverConn(conn net.Conn) {
	if r := recover(); r != nil {
		m.logger.Error().
			Interface("panic", r).
			Str("remote", conn.RemoteAddr().String()).
			Bytes("stack", debug.Stack()).
			Msg("recovered panic in connection handler")
		_ = conn.Close()
	}
}
