// Package audit is an append-only JSONL log of privilege-escalation
// decisions: who asked, for what operation, and whether it was granted.
// Writes are best-effort — an unprivileged process must keep functioning
// even when the configured log path isn't writable.
package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Event is one line of the audit log.
type Event struct {
	Timestamp    time.Time `json:"timestamp"`
	User         string    `json:"user"`
	OriginalUser string    `json:"original_user,omitempty"`
	Operation    string    `json:"operation"`
	Command      []string  `json:"command"`
	Granted      bool      `json:"granted"`
	DenialReason string    `json:"denial_reason,omitempty"`
	PID          int       `json:"pid"`
	SessionID    string    `json:"session_id"`
}

// Logger appends Events to a JSONL file.
type Logger struct {
	path string
}

// New returns a Logger writing to path. No file or directory is created
// until the first call to LogGrant/LogDenial, so constructing a Logger
// never fails even under a read-only log directory.
func New(path string) *Logger {
	return &Logger{path: path}
}

// LogGrant records a successful privilege grant.
func (l *Logger) LogGrant(user, originalUser, operation string, command []string) {
	l.write(Event{
		Timestamp:    time.Now(),
		User:         user,
		OriginalUser: originalUser,
		Operation:    operation,
		Command:      command,
		Granted:      true,
		PID:          os.Getpid(),
		SessionID:    uuid.NewString(),
	})
}

// LogDenial records a privilege denial with its reason.
func (l *Logger) LogDenial(user, operation string, command []string, reason string) {
	l.write(Event{
		Timestamp:    time.Now(),
		User:         user,
		Operation:    operation,
		Command:      command,
		Granted:      false,
		DenialReason: reason,
		PID:          os.Getpid(),
		SessionID:    uuid.NewString(),
	})
}

// RecentEvents returns up to count of the most recently logged events,
// newest first. Returns an empty slice (never an error) if the log is
// missing or unreadable, matching the write path's best-effort posture.
func (l *Logger) RecentEvents(count int) []Event {
	f, err := os.Open(l.path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var all []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err == nil {
			all = append(all, ev)
		}
	}

	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if len(all) > count {
		all = all[:count]
	}
	return all
}

// write appends one JSON-encoded event to the log file. Any failure —
// permission denied on the directory or the file — is swallowed: an
// unprivileged process must keep running whether or not it can audit
// itself.
func (l *Logger) write(ev Event) {
	if dir := filepath.Dir(l.path); dir != "." {
		_ = os.MkdirAll(dir, 0o700)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return
	}
	defer f.Close()

	line, err := json.Marshal(ev)
	if err != nil {
		return
	}
	line = append(line, '\n')
	_, _ = f.Write(line)
}
