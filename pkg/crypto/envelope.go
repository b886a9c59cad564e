package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
	"unicode"

	"github.com/meridianvpn/fleet/pkg/ferrors"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize       = 32
	nonceSize      = 12
	derivedKeySize = 32
	pbkdf2Iters    = 100_000
	envelopeVersion = "1"
)

// EncryptedBlob is the on-disk envelope for a password-encrypted secret: a
// random salt and nonce (never reused with the same password) plus the
// AES-256-GCM ciphertext.
type EncryptedBlob struct {
	Version    string    `json:"version"`
	Salt       []byte    `json:"salt"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
	Created    time.Time `json:"created"`
}

// blobFile mirrors EncryptedBlob's spec.md §6 wire representation, where
// byte slices are Base64 strings rather than JSON's default behavior
// (encoding/json already base64-encodes []byte fields, so blobFile exists
// only to pin the field order/names of the serialized document).
type blobFile struct {
	Version    string `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
	Created    string `json:"created"`
}

// EncryptWithPassword derives a 32-byte key from password via
// PBKDF2-HMAC-SHA256 (100,000 iterations) over a fresh random salt, then
// seals plaintext with AES-256-GCM under a fresh random nonce.
func EncryptWithPassword(plaintext []byte, password string) (EncryptedBlob, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return EncryptedBlob{}, fmt.Errorf("crypto: read salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return EncryptedBlob{}, fmt.Errorf("crypto: read nonce: %w", err)
	}

	gcm, err := newGCM(deriveKey(password, salt))
	if err != nil {
		return EncryptedBlob{}, err
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return EncryptedBlob{
		Version:    envelopeVersion,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		Created:    time.Now().UTC(),
	}, nil
}

// DecryptWithPassword opens an EncryptedBlob. It fails with ErrDecryption on
// GCM tag mismatch (wrong password or corrupted data).
func DecryptWithPassword(blob EncryptedBlob, password string) ([]byte, error) {
	gcm, err := newGCM(deriveKey(password, blob.Salt))
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, blob.Nonce, blob.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w", ferrors.ErrDecryption)
	}
	return plaintext, nil
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iters, derivedKeySize, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	return gcm, nil
}

// MarshalJSON serializes an EncryptedBlob to the spec.md §6 key-file format.
func (b EncryptedBlob) MarshalJSON() ([]byte, error) {
	return json.Marshal(blobFile{
		Version:    b.Version,
		Salt:       Base64Encode(b.Salt),
		Nonce:      Base64Encode(b.Nonce),
		Ciphertext: Base64Encode(b.Ciphertext),
		Created:    b.Created.Format(time.RFC3339),
	})
}

// UnmarshalJSON parses the spec.md §6 key-file format back into an
// EncryptedBlob.
func (b *EncryptedBlob) UnmarshalJSON(data []byte) error {
	var f blobFile
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	salt, err := Base64Decode(f.Salt)
	if err != nil {
		return err
	}
	nonce, err := Base64Decode(f.Nonce)
	if err != nil {
		return err
	}
	ciphertext, err := Base64Decode(f.Ciphertext)
	if err != nil {
		return err
	}
	created, _ := time.Parse(time.RFC3339, f.Created)
	*b = EncryptedBlob{
		Version:    f.Version,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		Created:    created,
	}
	return nil
}

// ValidatePasswordStrength enforces RotateKey's new-password policy: at
// least 12 characters, with upper, lower, digit, and special classes all
// present.
func ValidatePasswordStrength(password string) error {
	if len(password) < 12 {
		return fmt.Errorf("%w: password must be at least 12 characters", ferrors.ErrInvalidRequest)
	}
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !hasSpecial {
		return fmt.Errorf("%w: password must contain upper, lower, digit, and special characters", ferrors.ErrInvalidRequest)
	}
	return nil
}

// RotateKey decrypts the blob stored at path with oldPassword and
// re-encrypts it under a fresh salt/nonce with newPassword, which must
// satisfy ValidatePasswordStrength. The file is replaced atomically.
func RotateKey(path, oldPassword, newPassword string) error {
	if err := ValidatePasswordStrength(newPassword); err != nil {
		return err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("crypto: read key file: %w", err)
	}
	var blob EncryptedBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return fmt.Errorf("crypto: parse key file: %w", err)
	}
	plaintext, err := DecryptWithPassword(blob, oldPassword)
	if err != nil {
		return err
	}
	newBlob, err := EncryptWithPassword(plaintext, newPassword)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(newBlob, "", "  ")
	if err != nil {
		return fmt.Errorf("crypto: marshal key file: %w", err)
	}
	return writeFileAtomic(path, data, 0o600)
}

// SecureDelete overwrites path with three passes of random bytes before
// unlinking it, to reduce the chance of residual plaintext key material
// surviving on disk after deletion.
func SecureDelete(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("crypto: stat for secure delete: %w", err)
	}
	size := info.Size()

	f, err := os.OpenFile(path, os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("crypto: open for secure delete: %w", err)
	}
	defer f.Close()

	buf := make([]byte, size)
	for pass := 0; pass < 3; pass++ {
		if _, err := io.ReadFull(rand.Reader, buf); err != nil {
			return fmt.Errorf("crypto: fill overwrite buffer: %w", err)
		}
		if _, err := f.WriteAt(buf, 0); err != nil {
			return fmt.Errorf("crypto: overwrite pass %d: %w", pass+1, err)
		}
		if err := f.Sync(); err != nil {
			return fmt.Errorf("crypto: sync overwrite pass %d: %w", pass+1, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("crypto: close before unlink: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("crypto: unlink: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("crypto: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("crypto: rename temp file: %w", err)
	}
	return nil
}
