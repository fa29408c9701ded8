package bdecrypto

import (
	"crypto/aes"
	"fmt"
)

// ECBEncryptBlock AES-ECB-encrypts exactly one 16-byte block under key.
// Go's standard library deliberately has no cipher.BlockMode for ECB
// (it is not a safe general-purpose mode), so - like libbde's
// libcaes_crypt_ecb, which is always called with a single 16-byte block
// in this codebase - we drive the block cipher directly rather than pull
// in a third-party ECB wrapper for one call site.
func ECBEncryptBlock(key, block []byte) ([]byte, error) {
	if len(block) != aes.BlockSize {
		return nil, fmt.Errorf("bdecrypto: ecb block must be %d bytes, got %d", aes.BlockSize, len(block))
	}
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, aes.BlockSize)
	c.Encrypt(out, block)
	return out, nil
}

// PaddedUint64LE encodes v as a little-endian uint64 in the first 8 bytes
// of a 16-byte block, with the remaining bytes zero (the "block key"
// representation used to derive the CBC IV and diffuser sector key).
func PaddedUint64LE(v uint64) []byte {
	b := make([]byte, aes.BlockSize)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}
