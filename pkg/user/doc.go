// Package user holds the provisioned identity store: user records, their
// per-user directories on disk, and the regenerated server-wide protocol
// config that reflects the active set.
package user
