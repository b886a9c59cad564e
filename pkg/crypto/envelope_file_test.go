package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotateKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "key.json")

	blob, err := EncryptWithPassword([]byte("private-key-bytes"), "oldPassw0rd!")
	require.NoError(t, err)
	data, err := json.MarshalIndent(blob, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	require.NoError(t, RotateKey(path, "oldPassw0rd!", "NewStrongPassw0rd!"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var rotated EncryptedBlob
	require.NoError(t, json.Unmarshal(raw, &rotated))

	plaintext, err := DecryptWithPassword(rotated, "NewStrongPassw0rd!")
	require.NoError(t, err)
	assert.Equal(t, "private-key-bytes", string(plaintext))

	_, err = DecryptWithPassword(rotated, "oldPassw0rd!")
	assert.Error(t, err)
}

func TestRotateKeyRejectsWeakPassword(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "key.json")
	blob, err := EncryptWithPassword([]byte("x"), "oldPassw0rd!")
	require.NoError(t, err)
	data, _ := json.Marshal(blob)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	err = RotateKey(path, "oldPassw0rd!", "weak")
	assert.Error(t, err)
}

func TestSecureDelete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret.bin")
	require.NoError(t, os.WriteFile(path, []byte("sensitive"), 0o600))

	require.NoError(t, SecureDelete(path))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSecureDeleteMissingFileIsNoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.bin")
	assert.NoError(t, SecureDelete(path))
}
