package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/argon2"
)

type stubBackend struct {
	calls int
	fail  bool
}

func (b *stubBackend) Verify(_ context.Context, user, pass string) (string, error) {
	b.calls++
	if b.fail {
		return "", fmt.Errorf("denied")
	}
	return user, nil
}

func TestAuthenticateCachesSuccess(t *testing.T) {
	backend := &stubBackend{}
	m := NewManager(backend)

	id1, err := m.Authenticate(context.Background(), "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "alice", id1)

	id2, err := m.Authenticate(context.Background(), "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "alice", id2)
	assert.Equal(t, 1, backend.calls, "second call should hit the cache")
}

func TestAuthenticateNeverCachesFailure(t *testing.T) {
	backend := &stubBackend{fail: true}
	m := NewManager(backend)

	_, err := m.Authenticate(context.Background(), "bob", "wrong")
	assert.Error(t, err)
	_, err = m.Authenticate(context.Background(), "bob", "wrong")
	assert.Error(t, err)
	assert.Equal(t, 2, backend.calls, "failures must never be cached")
}

func TestCleanupCacheRemovesExpired(t *testing.T) {
	backend := &stubBackend{}
	m := NewManager(backend, WithCacheTTL(time.Millisecond))
	_, err := m.Authenticate(context.Background(), "alice", "pw")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, m.CleanupCache())
}

func TestIPWhitelist(t *testing.T) {
	m := NewManager(&stubBackend{}, WithIPWhitelist([]string{"10.0.0.1"}))
	assert.True(t, m.IsWhitelisted("10.0.0.1"))
	assert.False(t, m.IsWhitelisted("10.0.0.2"))
}

type fakeLookup struct {
	records map[string]UserRecord
}

func (f fakeLookup) GetUserByName(name string) (UserRecord, error) {
	r, ok := f.records[name]
	if !ok {
		return UserRecord{}, fmt.Errorf("not found")
	}
	return r, nil
}

func TestStoreBackend(t *testing.T) {
	lookup := fakeLookup{records: map[string]UserRecord{
		"alice": {ID: "id-1", PrivateKey: "privkey", Active: true},
		"bob":   {ID: "id-2", Active: false},
	}}
	backend := NewStoreBackend(lookup)

	id, err := backend.Verify(context.Background(), "alice", "privkey")
	require.NoError(t, err)
	assert.Equal(t, "alice", id)

	_, err = backend.Verify(context.Background(), "alice", "wrong")
	assert.Error(t, err)

	_, err = backend.Verify(context.Background(), "bob", "anything")
	assert.Error(t, err)
}

func TestFileBackend(t *testing.T) {
	salt := []byte("0123456789abcdef")
	hash := argon2.IDKey([]byte("s3cret!"), salt, 3, 65536, 4, 32)
	line := fmt.Sprintf("alice:$argon2id$v=19$m=65536,t=3,p=4$%s$%s\n",
		base64.RawStdEncoding.EncodeToString(salt), base64.RawStdEncoding.EncodeToString(hash))

	dir := t.TempDir()
	path := filepath.Join(dir, "credentials")
	require.NoError(t, os.WriteFile(path, []byte(line), 0o600))

	backend, err := NewFileBackend(path)
	require.NoError(t, err)

	id, err := backend.Verify(context.Background(), "alice", "s3cret!")
	require.NoError(t, err)
	assert.Equal(t, "alice", id)

	_, err = backend.Verify(context.Background(), "alice", "wrong")
	assert.Error(t, err)
}

func TestHTTPBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"user_id":"remote-123"}`))
	}))
	defer srv.Close()

	backend := NewHTTPBackend(srv.URL, time.Second)
	id, err := backend.Verify(context.Background(), "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "remote-123", id)
}

func TestHTTPBackendFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	backend := NewHTTPBackend(srv.URL, time.Second)
	_, err := backend.Verify(context.Background(), "alice", "pw")
	assert.Error(t, err)
}

func TestLDAPBackendAlwaysReturnsConfigError(t *testing.T) {
	backend := NewLDAPBackend()
	_, err := backend.Verify(context.Background(), "alice", "pw")
	assert.Error(t, err)
}
