/*
Package crypto is the leaf dependency of the identity core: every other
package in this module that needs key material, identifiers, or at-rest
encryption imports crypto, and the only package of this module crypto
imports is ferrors.

Operations are pure and fast; the only failure modes are bad encoding,
short/invalid input, or GCM authentication failure on decrypt. I/O (secure
delete, key rotation) is the one place this package touches the filesystem.
*/
package crypto
