// Package link renders per-protocol connection strings, subscription
// blobs, Clash profiles, and QR codes from provisioned user config. Every
// exported function here is a pure transform; nothing touches a store or
// the filesystem.
package link
