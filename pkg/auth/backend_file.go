package auth

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/meridianvpn/fleet/pkg/ferrors"
	"golang.org/x/crypto/argon2"
)

// FileBackend authenticates against a flat file of "user:argon2_hash"
// lines, verified with Argon2id. The hash format is
// "$argon2id$v=19$m=<mem>,t=<time>,p=<threads>$<salt-b64>$<hash-b64>",
// matching what argon2-cli and most Go argon2 wrappers emit.
type FileBackend struct {
	path string

	mu      sync.RWMutex
	entries map[string]argon2Hash
}

type argon2Hash struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	hash    []byte
}

// NewFileBackend loads credentials from path. The file is re-read on every
// Verify call's cache miss path is intentionally avoided; instead it is
// loaded once here and must be reloaded via Reload after edits.
func NewFileBackend(path string) (*FileBackend, error) {
	b := &FileBackend{path: path, entries: make(map[string]argon2Hash)}
	if err := b.Reload(); err != nil {
		return nil, err
	}
	return b, nil
}

// Reload re-parses the credentials file from disk.
func (b *FileBackend) Reload() error {
	f, err := os.Open(b.path)
	if err != nil {
		return fmt.Errorf("auth: open credentials file: %w", err)
	}
	defer f.Close()

	entries := make(map[string]argon2Hash)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		h, err := parseArgon2Hash(parts[1])
		if err != nil {
			continue
		}
		entries[parts[0]] = h
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("auth: scan credentials file: %w", err)
	}

	b.mu.Lock()
	b.entries = entries
	b.mu.Unlock()
	return nil
}

func parseArgon2Hash(encoded string) (argon2Hash, error) {
	parts := strings.Split(encoded, "$")
	// ["", "argon2id", "v=19", "m=65536,t=3,p=4", "<salt>", "<hash>"]
	if len(parts) != 6 {
		return argon2Hash{}, fmt.Errorf("%w: malformed argon2 hash", ferrors.ErrInvalidCredential)
	}
	var mem, timeCost uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &timeCost, &threads); err != nil {
		return argon2Hash{}, fmt.Errorf("%w: malformed argon2 params", ferrors.ErrInvalidCredential)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return argon2Hash{}, fmt.Errorf("%w: malformed argon2 salt", ferrors.ErrInvalidCredential)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return argon2Hash{}, fmt.Errorf("%w: malformed argon2 hash payload", ferrors.ErrInvalidCredential)
	}
	return argon2Hash{memory: mem, time: timeCost, threads: threads, salt: salt, hash: hash}, nil
}

func (b *FileBackend) Verify(_ context.Context, user, pass string) (string, error) {
	b.mu.RLock()
	h, ok := b.entries[user]
	b.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: unknown user %q", ferrors.ErrAuthenticationFailed, user)
	}
	computed := argon2.IDKey([]byte(pass), h.salt, h.time, h.memory, h.threads, uint32(len(h.hash)))
	if !constantTimeEqual(computed, h.hash) {
		return "", fmt.Errorf("%w: credential mismatch", ferrors.ErrInvalidCredential)
	}
	return user, nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
