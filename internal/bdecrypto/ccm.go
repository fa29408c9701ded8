package bdecrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"fmt"
)

// CCM implements the AES-CCM construction used to wrap volume master keys
// and FVEK payloads: a 12-byte nonce, a 16-byte authentication tag, and no
// associated data. Go's standard library does not expose CCM (only GCM),
// so this is built directly on crypto/aes per RFC 3610 / NIST SP 800-38C,
// grounded on the two reference CCM implementations retrieved alongside
// this spec and cross-checked against libbde_encryption_context.c's use
// of the construction to unwrap VMK and FVEK payloads.
const (
	CCMNonceSize = 12
	CCMTagSize   = 16

	ccmBlockSize = aes.BlockSize
	ccmLenSize   = 15 - CCMNonceSize // L: 3 bytes for the length field
)

// CCMEncrypt seals plaintext under key and nonce, returning ciphertext||tag.
func CCMEncrypt(key, nonce, plaintext []byte) ([]byte, error) {
	block, err := newCCMBlock(key, nonce)
	if err != nil {
		return nil, err
	}

	tag := ccmComputeTag(block, nonce, plaintext)

	out := make([]byte, len(plaintext)+CCMTagSize)
	ccmCTRCrypt(block, nonce, out[:len(plaintext)], plaintext)

	s0 := ccmCounterBlock(block, nonce, 0)
	for i := 0; i < CCMTagSize; i++ {
		out[len(plaintext)+i] = tag[i] ^ s0[i]
	}
	return out, nil
}

// CCMDecrypt opens ciphertext (plaintext||tag) under key and nonce,
// returning the plaintext or an error if the tag does not verify.
func CCMDecrypt(key, nonce, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < CCMTagSize {
		return nil, fmt.Errorf("bdecrypto: ccm ciphertext shorter than tag (%d bytes)", len(ciphertext))
	}
	block, err := newCCMBlock(key, nonce)
	if err != nil {
		return nil, err
	}

	encData := ciphertext[:len(ciphertext)-CCMTagSize]
	encTag := ciphertext[len(ciphertext)-CCMTagSize:]

	s0 := ccmCounterBlock(block, nonce, 0)
	receivedTag := make([]byte, CCMTagSize)
	for i := 0; i < CCMTagSize; i++ {
		receivedTag[i] = encTag[i] ^ s0[i]
	}

	plaintext := make([]byte, len(encData))
	ccmCTRCrypt(block, nonce, plaintext, encData)

	expectedTag := ccmComputeTag(block, nonce, plaintext)
	if subtle.ConstantTimeCompare(receivedTag, expectedTag) != 1 {
		SecureZero(plaintext)
		return nil, fmt.Errorf("bdecrypto: ccm authentication failed")
	}
	return plaintext, nil
}

func newCCMBlock(key, nonce []byte) (cipher.Block, error) {
	if len(nonce) != CCMNonceSize {
		return nil, fmt.Errorf("bdecrypto: ccm nonce must be %d bytes, got %d", CCMNonceSize, len(nonce))
	}
	return aes.NewCipher(key)
}

// ccmCounterBlock encrypts the counter-mode input block for counter value
// ctr: flags(1) || nonce(12) || counter(3, big-endian).
func ccmCounterBlock(block cipher.Block, nonce []byte, ctr uint32) []byte {
	var in [ccmBlockSize]byte
	// Flags byte: only L' (length-field-size - 1) is set; no Adata, M' unused here.
	in[0] = byte(ccmLenSize - 1)
	copy(in[1:1+CCMNonceSize], nonce)
	putBE(in[1+CCMNonceSize:], ctr, ccmLenSize)

	out := make([]byte, ccmBlockSize)
	block.Encrypt(out, in[:])
	return out
}

// ccmCTRCrypt XORs src with the CCM counter-mode keystream starting at
// counter 1 (counter 0 is reserved for masking the tag).
func ccmCTRCrypt(block cipher.Block, nonce []byte, dst, src []byte) {
	counter := uint32(1)
	for off := 0; off < len(src); off += ccmBlockSize {
		ks := ccmCounterBlock(block, nonce, counter)
		end := off + ccmBlockSize
		if end > len(src) {
			end = len(src)
		}
		for i := off; i < end; i++ {
			dst[i] = src[i] ^ ks[i-off]
		}
		counter++
	}
}

// ccmComputeTag computes the CBC-MAC over B0 (no associated data, so B0
// alone carries the flags/nonce/length) followed by the plaintext blocks,
// zero-padded to a whole number of blocks.
func ccmComputeTag(block cipher.Block, nonce, plaintext []byte) []byte {
	var b0 [ccmBlockSize]byte
	flags := byte((CCMTagSize-2)/2) << 3
	flags |= byte(ccmLenSize - 1)
	b0[0] = flags
	copy(b0[1:1+CCMNonceSize], nonce)
	putBE(b0[1+CCMNonceSize:], uint32(len(plaintext)), ccmLenSize)

	mac := make([]byte, ccmBlockSize)
	block.Encrypt(mac, b0[:])

	for off := 0; off < len(plaintext); off += ccmBlockSize {
		var in [ccmBlockSize]byte
		n := copy(in[:], plaintext[off:])
		_ = n
		for i := 0; i < ccmBlockSize; i++ {
			mac[i] ^= in[i]
		}
		block.Encrypt(mac, mac)
	}

	return mac[:CCMTagSize]
}

// putBE writes v as a big-endian integer into the trailing n bytes of dst.
func putBE(dst []byte, v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
}
