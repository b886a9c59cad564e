package auth

import (
	"context"
	"fmt"

	"github.com/meridianvpn/fleet/pkg/ferrors"
)

// LDAPBackend is reserved: it always returns ferrors.ErrConfig. Wiring a
// real LDAP bind is out of scope for this revision; the type exists so the
// backend set stays a closed sum and callers that request "ldap" get a
// clear configuration error rather than a missing case.
type LDAPBackend struct{}

// NewLDAPBackend builds the reserved LDAPBackend.
func NewLDAPBackend() *LDAPBackend { return &LDAPBackend{} }

func (b *LDAPBackend) Verify(_ context.Context, _, _ string) (string, error) {
	return "", fmt.Errorf("%w: ldap auth backend is reserved in this revision", ferrors.ErrConfig)
}
