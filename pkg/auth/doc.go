// Package auth verifies proxy credentials against one of a closed set of
// backends (store, file, http, ldap) and caches verified results for a
// bounded TTL.
package auth
