package user

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	fcrypto "github.com/meridianvpn/fleet/pkg/crypto"
	"github.com/meridianvpn/fleet/pkg/ferrors"
	"github.com/meridianvpn/fleet/pkg/log"
	"github.com/rs/zerolog"
)

// entry pairs a user record with the mutex that serializes mutations
// against it, so concurrent UpdateUser calls for the same id observe
// last-write-wins ordering instead of interleaving.
type entry struct {
	mu   sync.Mutex
	user *User
}

// Store is the concurrent, filesystem-backed user directory. Reads look the
// entry up under a brief RLock and return a snapshot copied under the entry's
// mutex; writes are serialized per
// id and structural changes (create/delete) take the store-wide lock.
type Store struct {
	mu       sync.RWMutex
	byID     map[string]*entry
	byName   map[string]string // name (matched exactly) -> id
	baseDir  string
	template ServerTemplate
	maxUsers int // 0 = unlimited

	readOnly atomic.Bool
	logger   zerolog.Logger
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithMaxUsers caps the number of users the store will create.
func WithMaxUsers(n int) Option {
	return func(s *Store) { s.maxUsers = n }
}

// NewStore opens (or initializes) a user store rooted at baseDir. Unreadable
// or malformed per-user files are logged and skipped rather than treated as
// fatal; if baseDir itself cannot be created or listed due to permissions,
// the store starts in read-only mode and mutating calls return
// ferrors.ErrReadOnlyMode.
func NewStore(baseDir string, tmpl ServerTemplate, opts ...Option) (*Store, error) {
	s := &Store{
		byID:     make(map[string]*entry),
		byName:   make(map[string]string),
		baseDir:  baseDir,
		template: tmpl,
		logger:   log.WithComponent("user-store"),
	}
	for _, opt := range opts {
		opt(s)
	}

	usersDir := filepath.Join(baseDir, "users")
	if err := os.MkdirAll(usersDir, 0o755); err != nil {
		s.logger.Warn().Err(err).Msg("user store opened read-only: cannot create users directory")
		s.readOnly.Store(true)
		return s, nil
	}
	if err := os.MkdirAll(filepath.Join(baseDir, "config"), 0o755); err != nil {
		s.logger.Warn().Err(err).Msg("user store opened read-only: cannot create config directory")
		s.readOnly.Store(true)
		return s, nil
	}

	dirEntries, err := os.ReadDir(usersDir)
	if err != nil {
		s.logger.Warn().Err(err).Msg("user store opened read-only: cannot list users directory")
		s.readOnly.Store(true)
		return s, nil
	}

	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		u, err := readUserConfig(filepath.Join(usersDir, de.Name()))
		if err != nil {
			s.logger.Warn().Err(err).Str("dir", de.Name()).Msg("skipping unreadable or malformed user entry")
			continue
		}
		s.byID[u.ID] = &entry{user: u}
		s.byName[normalizeName(u.Name)] = u.ID
	}

	return s, nil
}

func normalizeName(name string) string { return name }

// CreateUser provisions a new identity: generates fresh key material, writes
// the per-user directory atomically, and regenerates the canonical server
// config.
func (s *Store) CreateUser(name string, protocol Protocol) (*User, error) {
	if s.readOnly.Load() {
		return nil, ferrors.ErrReadOnlyMode
	}

	s.mu.Lock()
	if _, exists := s.byName[normalizeName(name)]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ferrors.ErrUserAlreadyExist, name)
	}
	if s.maxUsers > 0 && len(s.byID) >= s.maxUsers {
		s.mu.Unlock()
		return nil, ferrors.ErrUserLimitExceed
	}

	u := &User{
		ID:        fcrypto.GenerateUUIDV4(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Status:    StatusActive,
		Protocol:  protocol,
		Config: ConfigBlock{
			ServerHost: s.template.Host,
			ServerPort: s.template.Port,
			SNI:        s.template.SNI,
			Flow:       s.template.Flow,
			Network:    s.template.Network,
			Security:   s.template.Security,
			Path:       s.template.Path,
			HeaderType: s.template.HeaderType,
		},
	}
	if protocol.requiresKeyMaterial() {
		kp, err := fcrypto.GenerateKeyPair()
		if err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("user: generate keypair: %w", err)
		}
		u.Config.PrivateKey = kp.PrivateKey
		u.Config.PublicKey = kp.PublicKey
		u.Config.ShortID = fcrypto.DeriveShortID(u.ID)
	}
	if protocol == ProtocolOutline {
		u.Config.Method = "chacha20-ietf-poly1305"
		u.Config.Password = fcrypto.Base64URLEncode([]byte(fcrypto.GenerateUUIDV4()))
	}

	// Reserve the name/id before releasing the lock so a concurrent
	// CreateUser for the same name observes the collision, then do the
	// (slower) disk I/O without holding the store lock.
	e := &entry{user: u}
	s.byID[u.ID] = e
	s.byName[normalizeName(name)] = u.ID
	s.mu.Unlock()

	if err := s.persistUser(u); err != nil {
		s.mu.Lock()
		delete(s.byID, u.ID)
		delete(s.byName, normalizeName(name))
		s.mu.Unlock()
		return nil, err
	}

	if err := s.regenerateServerConfig(); err != nil {
		s.logger.Error().Err(err).Msg("failed to regenerate server config after create")
	}

	return u.clone(), nil
}

// GetUser returns a snapshot of the user with id, or ferrors.ErrUserNotFound.
func (s *Store) GetUser(id string) (*User, error) {
	s.mu.RLock()
	e, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ferrors.ErrUserNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.user.clone(), nil
}

// GetUserByName returns a snapshot of the user named name.
func (s *Store) GetUserByName(name string) (*User, error) {
	s.mu.RLock()
	id, ok := s.byName[normalizeName(name)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ferrors.ErrUserNotFound, name)
	}
	return s.GetUser(id)
}

// UpdateUser persists user, bumping LastActive. Concurrent updates to the
// same id serialize through the entry's mutex; the last writer's view wins.
func (s *Store) UpdateUser(u *User) error {
	if s.readOnly.Load() {
		return ferrors.ErrReadOnlyMode
	}
	s.mu.RLock()
	e, ok := s.byID[u.ID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ferrors.ErrUserNotFound, u.ID)
	}

	e.mu.Lock()
	updated := u.clone()
	now := time.Now().UTC()
	updated.LastActive = &now
	e.user = updated
	e.mu.Unlock()

	if err := s.persistUser(updated); err != nil {
		return err
	}
	if err := s.regenerateServerConfig(); err != nil {
		s.logger.Error().Err(err).Msg("failed to regenerate server config after update")
	}
	return nil
}

// RecordTraffic adds bytes to the named user's cumulative traffic counter
// and bumps LastActive, for periodic stats-flush jobs draining
// pkg/ratelimit's per-principal bandwidth tracker back into the store.
func (s *Store) RecordTraffic(name string, bytes uint64) error {
	u, err := s.GetUserByName(name)
	if err != nil {
		return err
	}
	u.Stats.BytesSent += bytes
	return s.UpdateUser(u)
}

// DeleteUser removes the user and its directory tree. Deleting an id that
// is already gone is not an error (idempotent for repeated calls).
func (s *Store) DeleteUser(id string) error {
	if s.readOnly.Load() {
		return ferrors.ErrReadOnlyMode
	}
	s.mu.Lock()
	e, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.byID, id)
	delete(s.byName, normalizeName(e.user.Name))
	s.mu.Unlock()

	dir := filepath.Join(s.baseDir, "users", id)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("user: remove directory: %w", err)
	}
	if err := s.regenerateServerConfig(); err != nil {
		s.logger.Error().Err(err).Msg("failed to regenerate server config after delete")
	}
	return nil
}

// ListUsers returns snapshots of users matching opts, filtered, sorted, and
// optionally truncated to opts.Limit.
func (s *Store) ListUsers(opts ListOptions) ([]*User, error) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.byID))
	for _, e := range s.byID {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]*User, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		u := e.user.clone()
		e.mu.Unlock()
		if opts.Status != nil && u.Status != *opts.Status {
			continue
		}
		if opts.Protocol != nil && u.Protocol != *opts.Protocol {
			continue
		}
		out = append(out, u)
	}

	sortUsers(out, opts.SortBy)

	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func sortUsers(users []*User, key SortKey) {
	switch key {
	case SortByCreatedAt:
		sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	case SortByLastActive:
		sort.Slice(users, func(i, j int) bool {
			a, b := users[i].LastActive, users[j].LastActive
			if a == nil && b == nil {
				return false
			}
			if a == nil {
				return false // nil sorts last
			}
			if b == nil {
				return true
			}
			return a.Before(*b)
		})
	case SortByTotalTraffic:
		sort.Slice(users, func(i, j int) bool {
			ti := users[i].Stats.BytesSent + users[i].Stats.BytesReceived
			tj := users[j].Stats.BytesSent + users[j].Stats.BytesReceived
			return ti > tj
		})
	default: // SortByName and unset
		sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	}
}

// IsReadOnly reports whether mutating operations currently fail.
func (s *Store) IsReadOnly() bool { return s.readOnly.Load() }
