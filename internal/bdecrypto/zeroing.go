// Package bdecrypto implements the cryptographic primitives of the BDE
// key-unwrapping and sector-encryption pipeline: AES-ECB/CBC/CCM/XTS, the
// SHA-256 password/recovery-password hash and key stretch, and the two
// Elephant Diffuser variants.
//
// This is AUDIT-CRITICAL code - every constant and byte order here is
// fixed by the on-disk format and must not be "improved".
package bdecrypto

import "crypto/subtle"

// SecureZero overwrites a byte slice with zeros in a way that the compiler
// will not optimize away, to shrink the window key material spends in
// memory after use.
func SecureZero(b []byte) {
	if len(b) == 0 {
		return
	}
	zeros := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zeros)
}

// SecureZeroMultiple zeros several buffers in one call.
func SecureZeroMultiple(slices ...[]byte) {
	for _, s := range slices {
		SecureZero(s)
	}
}
