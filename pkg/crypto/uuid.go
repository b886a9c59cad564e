package crypto

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateUUIDV4 returns a new random (version 4, variant 10) UUID in
// canonical dashed form.
func GenerateUUIDV4() string {
	return uuid.New().String()
}

// ValidateUUID reports whether s is a syntactically valid UUID. It does not
// require version 4 specifically, matching common VLESS tooling that
// accepts any well-formed UUID as a user id.
func ValidateUUID(s string) error {
	if _, err := uuid.Parse(s); err != nil {
		return fmt.Errorf("crypto: invalid uuid %q: %w", s, err)
	}
	return nil
}
