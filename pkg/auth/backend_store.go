package auth

import (
	"context"
	"fmt"

	"github.com/meridianvpn/fleet/pkg/ferrors"
)

// UserLookup is the subset of pkg/user.Store that StoreBackend needs. It is
// declared here rather than imported concretely so pkg/auth never depends
// on pkg/user's filesystem layout.
type UserLookup interface {
	GetUserByName(name string) (UserRecord, error)
}

// UserRecord is the projection of a user record StoreBackend checks
// credentials against.
type UserRecord struct {
	ID         string
	PrivateKey string
	Active     bool
}

// StoreBackend authenticates against the provisioned user store: the
// principal is the user name, and the accepted credential is the user's
// private key (or, if the user carries no key material, its id).
type StoreBackend struct {
	lookup UserLookup
}

// NewStoreBackend builds a StoreBackend over lookup.
func NewStoreBackend(lookup UserLookup) *StoreBackend {
	return &StoreBackend{lookup: lookup}
}

func (b *StoreBackend) Verify(_ context.Context, user, pass string) (string, error) {
	rec, err := b.lookup.GetUserByName(user)
	if err != nil {
		return "", fmt.Errorf("user lookup: %w", err)
	}
	if !rec.Active {
		return "", fmt.Errorf("user %q is not active", user)
	}
	credential := rec.PrivateKey
	if credential == "" {
		credential = rec.ID
	}
	if pass != credential {
		return "", fmt.Errorf("%w: credential mismatch", ferrors.ErrInvalidCredential)
	}
	return user, nil
}
