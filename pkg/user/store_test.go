package user

import (
	"path/filepath"
	"testing"

	"github.com/meridianvpn/fleet/pkg/ferrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTemplate() ServerTemplate {
	return ServerTemplate{Host: "vpn.example.com", Port: 443, SNI: "www.example.com", Network: "tcp", Security: "reality"}
}

func TestCreateAndGetUser(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, testTemplate())
	require.NoError(t, err)

	u, err := s.CreateUser("alice", ProtocolVLESS)
	require.NoError(t, err)
	assert.NotEmpty(t, u.Config.PrivateKey)
	assert.NotEmpty(t, u.Config.PublicKey)
	assert.NotEmpty(t, u.Config.ShortID)

	got, err := s.GetUser(u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	byName, err := s.GetUserByName("alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)

	assert.FileExists(t, filepath.Join(dir, "users", u.ID, "config.json"))
	assert.FileExists(t, filepath.Join(dir, "users", u.ID, "connection.link"))
	assert.FileExists(t, filepath.Join(dir, "config", "config.json"))
}

func TestCreateUserDuplicateName(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, testTemplate())
	require.NoError(t, err)

	_, err = s.CreateUser("bob", ProtocolOutline)
	require.NoError(t, err)
	_, err = s.CreateUser("bob", ProtocolOutline)
	assert.ErrorContains(t, err, "already exist")
}

func TestCreateUserLimitExceeded(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, testTemplate(), WithMaxUsers(1))
	require.NoError(t, err)

	_, err = s.CreateUser("one", ProtocolOutline)
	require.NoError(t, err)
	_, err = s.CreateUser("two", ProtocolOutline)
	assert.Error(t, err)
}

func TestGetUserNotFound(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, testTemplate())
	require.NoError(t, err)
	_, err = s.GetUser("does-not-exist")
	assert.Error(t, err)
}

func TestUpdateUserSetsLastActive(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, testTemplate())
	require.NoError(t, err)
	u, err := s.CreateUser("carol", ProtocolOutline)
	require.NoError(t, err)
	assert.Nil(t, u.LastActive)

	u.Status = StatusSuspended
	require.NoError(t, s.UpdateUser(u))

	got, err := s.GetUser(u.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, got.Status)
	assert.NotNil(t, got.LastActive)
}

func TestDeleteUserIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, testTemplate())
	require.NoError(t, err)
	u, err := s.CreateUser("dana", ProtocolOutline)
	require.NoError(t, err)

	require.NoError(t, s.DeleteUser(u.ID))
	require.NoError(t, s.DeleteUser(u.ID))

	_, err = s.GetUser(u.ID)
	assert.Error(t, err)
}

func TestListUsersFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, testTemplate())
	require.NoError(t, err)

	_, err = s.CreateUser("zeta", ProtocolOutline)
	require.NoError(t, err)
	_, err = s.CreateUser("alpha", ProtocolVLESS)
	require.NoError(t, err)

	out, err := s.ListUsers(ListOptions{SortBy: SortByName})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "alpha", out[0].Name)
	assert.Equal(t, "zeta", out[1].Name)

	vless := ProtocolVLESS
	filtered, err := s.ListUsers(ListOptions{Protocol: &vless})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "alpha", filtered[0].Name)
}

func TestListUsersLastActiveNoneSortsLast(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, testTemplate())
	require.NoError(t, err)

	a, err := s.CreateUser("has-active", ProtocolOutline)
	require.NoError(t, err)
	_, err = s.CreateUser("never-active", ProtocolOutline)
	require.NoError(t, err)

	require.NoError(t, s.UpdateUser(a))

	out, err := s.ListUsers(ListOptions{SortBy: SortByLastActive})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "has-active", out[0].Name)
	assert.Equal(t, "never-active", out[1].Name)
}

func TestStoreReopenLoadsPersistedUsers(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewStore(dir, testTemplate())
	require.NoError(t, err)
	u, err := s1.CreateUser("erin", ProtocolVLESS)
	require.NoError(t, err)

	s2, err := NewStore(dir, testTemplate())
	require.NoError(t, err)
	got, err := s2.GetUser(u.ID)
	require.NoError(t, err)
	assert.Equal(t, "erin", got.Name)
}

func TestReadOnlyStoreRejectsMutations(t *testing.T) {
	// A store pointed at a path that cannot be created as a directory
	// (an existing file, not a dir) opens read-only.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocked")
	require.NoError(t, writeFileAtomic(blocker, []byte("x"), 0o644))

	s, err := NewStore(blocker, testTemplate())
	require.NoError(t, err)
	assert.True(t, s.IsReadOnly())

	_, err = s.CreateUser("x", ProtocolOutline)
	assert.ErrorIs(t, err, ferrors.ErrReadOnlyMode)
}

func TestRecordTrafficAccumulatesBytesSent(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, testTemplate())
	require.NoError(t, err)

	u, err := s.CreateUser("alice", ProtocolVLESS)
	require.NoError(t, err)
	require.Zero(t, u.Stats.BytesSent)

	require.NoError(t, s.RecordTraffic("alice", 1024))
	require.NoError(t, s.RecordTraffic("alice", 256))

	got, err := s.GetUser(u.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1280), got.Stats.BytesSent)
	assert.NotNil(t, got.LastActive)
}

func TestRecordTrafficUnknownUserErrors(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, testTemplate())
	require.NoError(t, err)

	err = s.RecordTraffic("nobody", 10)
	assert.ErrorIs(t, err, ferrors.ErrUserNotFound)
}
