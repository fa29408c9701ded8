// Package bdeencryption implements the per-sector encryption primitive:
// AES-CBC with the Elephant Diffuser (Vista/Windows 7), plain AES-CBC, or
// AES-XTS (Windows 7+), selected by the volume's encryption method and
// keyed from the sector's absolute plaintext byte offset ("block key").
package bdeencryption

import (
	"bdevolume/internal/bdecrypto"
	"bdevolume/internal/bdeerrors"
	"bdevolume/internal/bdemetadata"
)

// Context holds the derived key schedules for one unlocked volume. It is
// immutable after construction; the set of populated fields is fully
// determined by Method, per §3's EncryptionContext invariant.
type Context struct {
	Method bdemetadata.EncryptionMethod

	fvek  []byte
	tweak []byte

	// xtsKeys holds the split (data, tweak) key pair for XTS methods.
	xtsKeys bdecrypto.XTSKeyPair
}

// NewContext builds an encryption context from raw FVEK/TWEAK material,
// validating their lengths against the method's requirements (§4.5).
func NewContext(method bdemetadata.EncryptionMethod, fvek, tweak []byte) (*Context, error) {
	if len(fvek) != method.FVEKSize() {
		return nil, bdeerrors.NewCryptoError("context_init", bdeerrors.ErrInvalidArgument)
	}
	if len(tweak) != method.TweakSize() {
		return nil, bdeerrors.NewCryptoError("context_init", bdeerrors.ErrInvalidArgument)
	}

	c := &Context{Method: method}
	c.fvek = append([]byte(nil), fvek...)
	if len(tweak) > 0 {
		c.tweak = append([]byte(nil), tweak...)
	}

	if method.UsesXTS() {
		half := len(fvek) / 2
		c.xtsKeys = bdecrypto.XTSKeyPair{
			DataKey:  c.fvek[:half],
			TweakKey: c.fvek[half:],
		}
	}

	return c, nil
}

// Close zeroizes the context's key material. Callers must not use the
// context afterward.
func (c *Context) Close() {
	bdecrypto.SecureZeroMultiple(c.fvek, c.tweak)
}

// DecryptSector decrypts one sector's ciphertext, given the plaintext
// byte offset of the sector's start (the "block key"), per §4.6. It
// returns the plaintext in a new slice of the same length; data itself
// is not modified.
func (c *Context) DecryptSector(blockKey uint64, data []byte) ([]byte, error) {
	switch c.Method {
	case bdemetadata.MethodNone:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil

	case bdemetadata.MethodAESCBC128, bdemetadata.MethodAESCBC256:
		return c.cbcDecrypt(blockKey, data, false)

	case bdemetadata.MethodAESCBC128D, bdemetadata.MethodAESCBC256D:
		return c.cbcDecrypt(blockKey, data, true)

	case bdemetadata.MethodAESXTS128, bdemetadata.MethodAESXTS256:
		return bdecrypto.XTSDecryptSector(c.xtsKeys, blockKey, data)

	default:
		return nil, bdeerrors.NewCryptoError("decrypt_sector", bdeerrors.ErrUnsupportedFormat)
	}
}

// EncryptSector is the inverse of DecryptSector, provided for symmetry
// and test round-tripping; the public façade never calls it (the core is
// read-only, per §1).
func (c *Context) EncryptSector(blockKey uint64, data []byte) ([]byte, error) {
	switch c.Method {
	case bdemetadata.MethodNone:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil

	case bdemetadata.MethodAESCBC128, bdemetadata.MethodAESCBC256:
		return c.cbcEncrypt(blockKey, data, false)

	case bdemetadata.MethodAESCBC128D, bdemetadata.MethodAESCBC256D:
		return c.cbcEncrypt(blockKey, data, true)

	case bdemetadata.MethodAESXTS128, bdemetadata.MethodAESXTS256:
		return bdecrypto.XTSEncryptSector(c.xtsKeys, blockKey, data)

	default:
		return nil, bdeerrors.NewCryptoError("encrypt_sector", bdeerrors.ErrUnsupportedFormat)
	}
}

// deriveIVAndSectorKey computes the CBC IV and, for diffuser variants,
// the 32-byte sector key, from the block key, per §4.6 steps 1-3.
func (c *Context) deriveIVAndSectorKey(blockKey uint64, diffuser bool) (iv, sectorKey []byte, err error) {
	bk := bdecrypto.PaddedUint64LE(blockKey)

	iv, err = bdecrypto.ECBEncryptBlock(c.fvek, bk)
	if err != nil {
		return nil, nil, bdeerrors.NewCryptoError("derive_iv", err)
	}
	if !diffuser {
		return iv, nil, nil
	}

	sectorKey = make([]byte, 32)
	half1, err := bdecrypto.ECBEncryptBlock(c.tweak, bk)
	if err != nil {
		return nil, nil, bdeerrors.NewCryptoError("derive_sector_key", err)
	}
	copy(sectorKey[0:16], half1)

	bk[15] = 0x80
	half2, err := bdecrypto.ECBEncryptBlock(c.tweak, bk)
	if err != nil {
		return nil, nil, bdeerrors.NewCryptoError("derive_sector_key", err)
	}
	copy(sectorKey[16:32], half2)

	return iv, sectorKey, nil
}

// cbcDecrypt implements §4.6's decrypt path: AES-CBC-decrypt first, then
// (for diffuser variants) Diffuser-B^-1, Diffuser-A^-1, then XOR in the
// sector key.
func (c *Context) cbcDecrypt(blockKey uint64, data []byte, diffuser bool) ([]byte, error) {
	iv, sectorKey, err := c.deriveIVAndSectorKey(blockKey, diffuser)
	if err != nil {
		return nil, err
	}

	out, err := bdecrypto.CBCDecrypt(c.fvek, iv, data)
	if err != nil {
		return nil, bdeerrors.NewCryptoError("cbc_decrypt", err)
	}

	if diffuser {
		if err := bdecrypto.DiffuserDecrypt(out); err != nil {
			return nil, bdeerrors.NewCryptoError("diffuser_decrypt", err)
		}
		for i := range out {
			out[i] ^= sectorKey[i%32]
		}
	}
	return out, nil
}

// cbcEncrypt implements §4.6's encrypt path: XOR in the sector key first,
// then Diffuser-A, Diffuser-B, then AES-CBC-encrypt - the exact inverse
// ordering of cbcDecrypt.
func (c *Context) cbcEncrypt(blockKey uint64, data []byte, diffuser bool) ([]byte, error) {
	iv, sectorKey, err := c.deriveIVAndSectorKey(blockKey, diffuser)
	if err != nil {
		return nil, err
	}

	in := make([]byte, len(data))
	copy(in, data)

	if diffuser {
		for i := range in {
			in[i] ^= sectorKey[i%32]
		}
		if err := bdecrypto.DiffuserEncrypt(in); err != nil {
			return nil, bdeerrors.NewCryptoError("diffuser_encrypt", err)
		}
	}

	out, err := bdecrypto.CBCEncrypt(c.fvek, iv, in)
	if err != nil {
		return nil, bdeerrors.NewCryptoError("cbc_encrypt", err)
	}
	return out, nil
}
