package bdecrypto

import (
	"crypto/aes"
	"fmt"
)

// AES-XTS sector encryption, used for Windows 7+ volumes in place of the
// CBC+diffuser construction. Go's standard library has no XTS mode, and
// the one XTS implementation found in the retrieved examples multiplies
// the tweak in the wrong byte direction for this little-endian, IEEE 1619
// convention, so the galois step below is written from the standard
// (not copied) to match what libbde_encryption_context.c actually does:
// tweak = AES-Encrypt(tweak_key, block_key_le), then tweak *= alpha^i in
// GF(2^128) for each successive 16-byte unit within the sector.
const xtsBlockSize = aes.BlockSize

// XTSKeyPair holds the two independent AES keys an XTS cipher needs: one
// for the data itself, one for encrypting the tweak.
type XTSKeyPair struct {
	DataKey  []byte
	TweakKey []byte
}

// XTSEncryptSector / XTSDecryptSector transform exactly one sector's worth
// of data (a multiple of 16 bytes) given the sector's little-endian block
// key (its absolute byte offset). Each is a stateless, single-sector
// operation; BDE has no notion of a "ciphertext stealing" partial final
// block because sectors are always a multiple of 16 bytes.

func XTSEncryptSector(keys XTSKeyPair, blockKeyLE uint64, data []byte) ([]byte, error) {
	return xtsCrypt(keys, blockKeyLE, data, true)
}

func XTSDecryptSector(keys XTSKeyPair, blockKeyLE uint64, data []byte) ([]byte, error) {
	return xtsCrypt(keys, blockKeyLE, data, false)
}

func xtsCrypt(keys XTSKeyPair, blockKeyLE uint64, data []byte, encrypt bool) ([]byte, error) {
	if len(data) == 0 || len(data)%xtsBlockSize != 0 {
		return nil, fmt.Errorf("bdecrypto: xts data size %d is not a multiple of %d", len(data), xtsBlockSize)
	}

	dataCipher, err := aes.NewCipher(keys.DataKey)
	if err != nil {
		return nil, fmt.Errorf("bdecrypto: xts data key: %w", err)
	}
	tweak, err := ECBEncryptBlock(keys.TweakKey, PaddedUint64LE(blockKeyLE))
	if err != nil {
		return nil, fmt.Errorf("bdecrypto: xts tweak derivation: %w", err)
	}

	out := make([]byte, len(data))
	var block [xtsBlockSize]byte
	for off := 0; off < len(data); off += xtsBlockSize {
		for i := 0; i < xtsBlockSize; i++ {
			block[i] = data[off+i] ^ tweak[i]
		}
		if encrypt {
			dataCipher.Encrypt(block[:], block[:])
		} else {
			dataCipher.Decrypt(block[:], block[:])
		}
		for i := 0; i < xtsBlockSize; i++ {
			out[off+i] = block[i] ^ tweak[i]
		}
		xtsGaloisDouble(tweak)
	}
	return out, nil
}

// xtsGaloisDouble multiplies the little-endian 128-bit tweak by the
// primitive element alpha (x) in GF(2^128) modulo x^128+x^7+x^2+x+1,
// in place.
func xtsGaloisDouble(tweak []byte) {
	var carry byte
	for i := 0; i < len(tweak); i++ {
		nextCarry := tweak[i] >> 7
		tweak[i] = (tweak[i] << 1) | carry
		carry = nextCarry
	}
	if carry != 0 {
		tweak[0] ^= 0x87
	}
}
