package bdecrypto

import (
	"crypto/sha256"
	"fmt"
	"unicode/utf16"
)

// HashPasswordUTF16 computes the double SHA-256 hash BDE uses for both
// user passwords and recovery-password groups: sha256(sha256(utf16le)).
// libbde_password.c skips a leading 2-byte byte-order-mark when present
// before hashing, so callers that already have a UTF-16LE byte stream
// (rather than Go string/[]uint16 input) must strip it themselves; the
// string-based entry points below never produce one.
func HashPasswordUTF16(units []uint16) []byte {
	raw := make([]byte, len(units)*2)
	for i, u := range units {
		raw[i*2] = byte(u)
		raw[i*2+1] = byte(u >> 8)
	}
	first := sha256.Sum256(raw)
	second := sha256.Sum256(first[:])
	return second[:]
}

// HashPasswordUTF16Bytes hashes a raw little-endian UTF-16 byte stream,
// skipping a leading BOM (0xFF 0xFE) if present, matching
// libbde_password_calculate_hash's handling of externally supplied
// UTF-16LE key material.
func HashPasswordUTF16Bytes(utf16le []byte) []byte {
	if len(utf16le) >= 2 && utf16le[0] == 0xFF && utf16le[1] == 0xFE {
		utf16le = utf16le[2:]
	}
	first := sha256.Sum256(utf16le)
	second := sha256.Sum256(first[:])
	return second[:]
}

// EncodeUTF16LE converts a Go string into the UTF-16LE code unit sequence
// BDE password hashing operates on.
func EncodeUTF16LE(s string) []uint16 {
	return utf16.Encode([]rune(s))
}

// HashPassword is the common entry point for a user-supplied password
// string: UTF-16LE encode, then HashPasswordUTF16.
func HashPassword(password string) ([]byte, error) {
	if password == "" {
		return nil, fmt.Errorf("bdecrypto: password must not be empty")
	}
	return HashPasswordUTF16(EncodeUTF16LE(password)), nil
}
