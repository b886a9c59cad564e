// Package ferrors defines the fleet-wide error taxonomy shared by every
// component. Errors are sentinel values so callers can compare with
// errors.Is after a component wraps them with additional context via
// fmt.Errorf("...: %w", ...).
package ferrors

import "errors"

// Invalid input.
var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidKeyFormat  = errors.New("invalid key format")
	ErrInvalidCredential = errors.New("invalid credentials")
)

// Authentication.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// Capacity.
var (
	ErrRateLimitExceeded      = errors.New("rate limit exceeded")
	ErrConnectionPoolExhaust  = errors.New("connection pool exhausted")
)

// Upstream.
var (
	ErrUpstreamConnFailed = errors.New("upstream connection failed")
	ErrTimeout            = errors.New("timeout")
)

// Config/runtime.
var (
	ErrConfig   = errors.New("configuration error")
	ErrInternal = errors.New("internal error")
)

// Cluster.
var (
	ErrNoQuorum  = errors.New("no quorum")
	ErrNotLeader = errors.New("not leader")
	ErrCancelled = errors.New("cancelled")
)

// Storage.
var (
	ErrReadOnlyMode     = errors.New("store is in read-only mode")
	ErrUserNotFound     = errors.New("user not found")
	ErrUserAlreadyExist = errors.New("user already exists")
	ErrUserLimitExceed  = errors.New("user limit exceeded")
	ErrIO               = errors.New("storage I/O error")
)

// Decryption.
var (
	ErrDecryption = errors.New("decryption failed")
)

// Link emission.
var (
	ErrLinkGeneration = errors.New("link generation error")
)

// Privilege.
var (
	ErrPermissionDenied = errors.New("operation requires elevated privileges")
)
