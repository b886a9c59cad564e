package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meridianvpn/fleet/pkg/ferrors"
	"github.com/meridianvpn/fleet/pkg/log"
	"github.com/rs/zerolog"
)

const defaultCacheTTL = 300 * time.Second

// AnonymousPrincipal is returned for IP-whitelisted callers and for
// successful NoAuth SOCKS5 negotiation.
const AnonymousPrincipal = "anonymous"

// Backend verifies a username/password pair and returns a principal id.
// LDAPBackend is the only implementation that always fails; it exists so
// the backend set stays closed rather than becoming an open registry.
type Backend interface {
	Verify(ctx context.Context, user, pass string) (principalID string, err error)
}

type cacheEntry struct {
	principalID string
	expiresAt   time.Time
}

// Manager authenticates callers against a single configured Backend, with a
// TTL cache in front of it that never stores negative results.
type Manager struct {
	backend   Backend
	cacheTTL  time.Duration
	whitelist map[string]struct{}

	mu    sync.RWMutex
	cache map[string]cacheEntry

	logger zerolog.Logger
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithCacheTTL overrides the default 300s cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.cacheTTL = ttl }
}

// WithIPWhitelist configures source addresses that bypass authentication
// entirely.
func WithIPWhitelist(addrs []string) Option {
	return func(m *Manager) {
		for _, a := range addrs {
			m.whitelist[a] = struct{}{}
		}
	}
}

// NewManager builds a Manager around backend.
func NewManager(backend Backend, opts ...Option) *Manager {
	m := &Manager{
		backend:   backend,
		cacheTTL:  defaultCacheTTL,
		whitelist: make(map[string]struct{}),
		cache:     make(map[string]cacheEntry),
		logger:    log.WithComponent("auth"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsWhitelisted reports whether sourceAddr bypasses authentication.
func (m *Manager) IsWhitelisted(sourceAddr string) bool {
	_, ok := m.whitelist[sourceAddr]
	return ok
}

func cacheKey(user, pass string) string { return user + ":" + pass }

// Authenticate verifies user/pass, consulting the cache first. Cache hits
// never re-invoke the backend; failures are never cached.
func (m *Manager) Authenticate(ctx context.Context, user, pass string) (string, error) {
	key := cacheKey(user, pass)

	m.mu.RLock()
	entry, ok := m.cache[key]
	m.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.principalID, nil
	}

	principalID, err := m.backend.Verify(ctx, user, pass)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ferrors.ErrAuthenticationFailed, err)
	}

	m.mu.Lock()
	m.cache[key] = cacheEntry{principalID: principalID, expiresAt: time.Now().Add(m.cacheTTL)}
	m.mu.Unlock()

	return principalID, nil
}

// CleanupCache opportunistically removes expired entries and returns how
// many were removed.
func (m *Manager) CleanupCache() int {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, e := range m.cache {
		if now.After(e.expiresAt) {
			delete(m.cache, k)
			removed++
		}
	}
	return removed
}

// RunCacheJanitor cleans up expired cache entries on interval until ctx is
// canceled.
func (m *Manager) RunCacheJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.CleanupCache(); n > 0 {
				m.logger.Debug().Int("removed", n).Msg("auth cache cleanup")
			}
		}
	}
}
