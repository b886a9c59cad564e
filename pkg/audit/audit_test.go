package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogGrantAppendsJSONLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l := New(path)

	l.LogGrant("alice", "", "bind_low_port", []string{"fleetd", "serve"})

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())

	var ev Event
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
	assert.Equal(t, "alice", ev.User)
	assert.True(t, ev.Granted)
	assert.Equal(t, "bind_low_port", ev.Operation)
	assert.NotEmpty(t, ev.SessionID)
	assert.False(t, scanner.Scan())
}

func TestLogDenialRecordsReason(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l := New(path)

	l.LogDenial("bob", "bind_low_port", []string{"fleetd", "serve"}, "capability not granted")

	events := l.RecentEvents(10)
	require.Len(t, events, 1)
	assert.False(t, events[0].Granted)
	assert.Equal(t, "capability not granted", events[0].DenialReason)
}

func TestRecentEventsOrdersNewestFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l := New(path)

	l.LogGrant("alice", "", "op1", nil)
	l.LogGrant("alice", "", "op2", nil)
	l.LogGrant("alice", "", "op3", nil)

	events := l.RecentEvents(2)
	require.Len(t, events, 2)
	assert.Equal(t, "op3", events[0].Operation)
	assert.Equal(t, "op2", events[1].Operation)
}

func TestWriteSilentlyNoOpsOnUnwritablePath(t *testing.T) {
	// A path under a directory that cannot be created (a file standing in
	// for a directory) must not panic or block.
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	l := New(filepath.Join(blocker, "sub", "audit.log"))
	assert.NotPanics(t, func() {
		l.LogGrant("alice", "", "op", nil)
	})
}

func TestRecentEventsOnMissingLogReturnsEmpty(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "missing.log"))
	assert.Empty(t, l.RecentEvents(5))
}
