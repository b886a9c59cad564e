package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Base64Encode encodes b as standard (padded) Base64.
func Base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Base64Decode decodes standard Base64, accepting both padded and unpadded
// input since connection links in the wild are inconsistent about it.
func Base64Decode(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	b, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid base64: %w", err)
	}
	return b, nil
}

// Base64URLEncode encodes b as unpadded URL-safe Base64, the form used by
// subscription aggregates and ss:// userinfo.
func Base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Base64URLDecode decodes unpadded URL-safe Base64.
func Base64URLDecode(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid base64url: %w", err)
	}
	return b, nil
}

// HexEncode lowercases-encodes b as hex.
func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

// HexDecode decodes a hex string.
func HexDecode(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid hex: %w", err)
	}
	return b, nil
}
