package user

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/meridianvpn/fleet/pkg/link"
)

const (
	configFileName = "config.json"
	linkFileName   = "connection.link"
)

// persistUser writes u's directory (config.json + connection.link) using a
// write-to-temp-then-rename sequence so a reader never observes a partially
// written file, then fsyncs the parent directory so the rename itself is
// durable across a crash.
func (s *Store) persistUser(u *User) error {
	dir := filepath.Join(s.baseDir, "users", u.ID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("user: create directory: %w", err)
	}

	data, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return fmt.Errorf("user: marshal config: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, configFileName), data, 0o600); err != nil {
		return fmt.Errorf("user: write config: %w", err)
	}

	linkStr, err := link.Emit(userToLinkParams(u))
	if err != nil {
		return fmt.Errorf("user: emit connection link: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, linkFileName), []byte(linkStr), 0o600); err != nil {
		return fmt.Errorf("user: write connection link: %w", err)
	}

	return nil
}

// writeFileAtomic writes data to a temp file in the same directory as path
// and renames it into place, so concurrent readers of path never see a
// partial write.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	if dirF, err := os.Open(dir); err == nil {
		_ = dirF.Sync()
		_ = dirF.Close()
	}
	return nil
}

// readUserConfig loads a single user's config.json from its directory.
func readUserConfig(dir string) (*User, error) {
	data, err := os.ReadFile(filepath.Join(dir, configFileName))
	if err != nil {
		return nil, err
	}
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("user: unmarshal config: %w", err)
	}
	return &u, nil
}
