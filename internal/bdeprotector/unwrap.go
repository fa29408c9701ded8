package bdeprotector

import (
	"encoding/binary"

	"bdevolume/internal/bdecrypto"
	"bdevolume/internal/bdeerrors"
	"bdevolume/internal/bdemetadata"
)

// validationPrefaceSize is the fixed {size:u16, _:u16, type:u32,
// version:u32, _:u32} preface every AES-CCM-decrypted payload starts
// with, per §4.4 step 3.
const validationPrefaceSize = 16

const (
	expectedValidationVersion = 1
	expectedValidationSize    = 0x2c
)

// Credentials bundles the subset of configured caller credentials a
// single unlock attempt needs; bdevolume's façade fills in whichever
// fields it has.
type Credentials struct {
	PasswordHash         []byte // 32 bytes, from bdecrypto.HashPassword
	RecoveryPasswordHash []byte // 32 bytes, from bdecrypto.HashRecoveryPassword
	StartupKeyEntries    []*bdemetadata.Entry
}

// CanAttempt reports whether the configured credentials include material
// this protector's type requires.
func (c Credentials) CanAttempt(p *Protector) bool {
	switch p.ProtectionType {
	case ProtectionClearKey:
		return true
	case ProtectionRecoveryPassword:
		return len(c.RecoveryPasswordHash) == 32
	case ProtectionPassword:
		return len(c.PasswordHash) == 32
	case ProtectionStartupKey:
		return len(c.StartupKeyEntries) > 0
	default:
		return false
	}
}

// UnwrapVMK attempts to recover this protector's 32-byte volume master
// key using the given credentials, per §4.4 steps 1-4. It returns
// (nil, nil) - not an error - when the protector type is unsupported or
// the credential it needs was not supplied, so callers can move on to
// the next protector.
func UnwrapVMK(p *Protector, creds Credentials) ([]byte, error) {
	if !p.ProtectionType.Supported() {
		return nil, nil
	}

	if p.ProtectionType == ProtectionClearKey {
		return unwrapClearKey(p.Entry.Children)
	}

	if !creds.CanAttempt(p) {
		return nil, nil
	}

	stretchEntry := bdemetadata.FindByValueType(p.Entry.Children, bdemetadata.ValueTypeStretchKey)
	if stretchEntry == nil {
		return nil, nil
	}

	var credentialHash []byte
	switch p.ProtectionType {
	case ProtectionRecoveryPassword:
		credentialHash = creds.RecoveryPasswordHash
	case ProtectionPassword:
		credentialHash = creds.PasswordHash
	case ProtectionStartupKey:
		return unwrapStartupKey(stretchEntry, creds.StartupKeyEntries)
	}

	salt, ccmEntry, err := parseStretchKey(stretchEntry)
	if err != nil {
		return nil, err
	}

	stretched, err := bdecrypto.StretchKey(credentialHash, salt)
	if err != nil {
		return nil, bdeerrors.NewCryptoError("stretch", err)
	}
	defer bdecrypto.SecureZero(stretched)

	return decryptAndExtractKey(ccmEntry, stretched)
}

// unwrapClearKey handles the degenerate ClearKey protector: its
// AesCcmEncryptedKey child is "encrypted" under an all-zero 32-byte key,
// so the VMK is effectively stored unencrypted.
func unwrapClearKey(children []*bdemetadata.Entry) ([]byte, error) {
	ccmEntry := bdemetadata.FindByValueType(children, bdemetadata.ValueTypeAesCcmEncryptedKey)
	if ccmEntry == nil {
		return nil, bdeerrors.NewMetadataError("clear_key", bdeerrors.ErrCorrupted)
	}
	zeroKey := make([]byte, 32)
	return decryptAndExtractKey(ccmEntry, zeroKey)
}

// unwrapStartupKey recovers the VMK for a StartupKey protector: the
// AES-CCM key is not derived from a credential hash but is the 32-byte
// key read out of the caller-supplied .BEK external-key entry stream,
// used as is. The key is not matched to the protector by GUID (see
// findExternalKey).
func unwrapStartupKey(stretchEntry *bdemetadata.Entry, startupEntries []*bdemetadata.Entry) ([]byte, error) {
	extKey := findExternalKey(startupEntries)
	if extKey == nil {
		return nil, nil
	}

	_, ccmEntry, err := parseStretchKey(stretchEntry)
	if err != nil {
		return nil, err
	}
	return decryptAndExtractKey(ccmEntry, extKey)
}

// findExternalKey returns the 32-byte key material of the first
// ExternalKey entry in a parsed .BEK startup-key file's entry stream. A
// startup-key file carries exactly one external key, matched to its
// protector by the caller having read the correct .BEK file rather than
// by any in-band identifier.
func findExternalKey(entries []*bdemetadata.Entry) []byte {
	e := bdemetadata.FindByValueType(entries, bdemetadata.ValueTypeExternalKey)
	if e == nil || len(e.Payload) < 32 {
		return nil
	}
	return e.Payload[:32]
}

// parseStretchKey extracts the 16-byte salt and the nested
// AesCcmEncryptedKey entry from a StretchKey entry, per §3 Data Model:
// a 4-byte encryption-method tag, a 16-byte salt, then nested entries.
func parseStretchKey(stretchEntry *bdemetadata.Entry) (salt []byte, ccmEntry *bdemetadata.Entry, err error) {
	if len(stretchEntry.Payload) < 20 {
		return nil, nil, bdeerrors.NewMetadataError("read_stretch_key", bdeerrors.ErrCorrupted)
	}
	salt = stretchEntry.Payload[4:20]

	ccmEntry = bdemetadata.FindByValueType(stretchEntry.Children, bdemetadata.ValueTypeAesCcmEncryptedKey)
	if ccmEntry == nil {
		return nil, nil, bdeerrors.NewMetadataError("read_stretch_key", bdeerrors.ErrCorrupted)
	}
	return salt, ccmEntry, nil
}

// decryptAndExtractKey AES-CCM-decrypts an AesCcmEncryptedKey payload
// under key, validates the resulting validation preface, and returns a
// copy of the embedded Key entry's payload, whatever its length (§4.4
// steps 2-4).
func decryptAndExtractKey(ccmEntry *bdemetadata.Entry, key []byte) ([]byte, error) {
	nonce, ciphertext, err := parseAesCcmEncryptedKey(ccmEntry)
	if err != nil {
		return nil, err
	}

	plaintext, err := bdecrypto.CCMDecrypt(key, nonce, ciphertext)
	if err != nil {
		return nil, nil // authentication failure: wrong credential, not a hard error
	}
	defer bdecrypto.SecureZero(plaintext)

	if len(plaintext) < validationPrefaceSize {
		return nil, bdeerrors.NewMetadataError("validate_payload", bdeerrors.ErrCorrupted)
	}
	size := binary.LittleEndian.Uint16(plaintext[0:2])
	version := binary.LittleEndian.Uint32(plaintext[8:12])
	if version != expectedValidationVersion || size != expectedValidationSize {
		return nil, bdeerrors.NewMetadataError("validate_payload", bdeerrors.ErrCorrupted)
	}

	inner, err := bdemetadata.ParseEntryStream(plaintext[validationPrefaceSize:], 0)
	if err != nil {
		return nil, err
	}
	keyEntry := bdemetadata.FindByValueType(inner, bdemetadata.ValueTypeKey)
	if keyEntry == nil {
		return nil, bdeerrors.NewMetadataError("read_key", bdeerrors.ErrCorrupted)
	}

	out := make([]byte, len(keyEntry.Payload))
	copy(out, keyEntry.Payload)
	return out, nil
}

// parseAesCcmEncryptedKey splits an AesCcmEncryptedKey entry's payload
// into its 12-byte nonce and ciphertext+tag.
func parseAesCcmEncryptedKey(e *bdemetadata.Entry) (nonce, ciphertext []byte, err error) {
	if len(e.Payload) < bdecrypto.CCMNonceSize+bdecrypto.CCMTagSize {
		return nil, nil, bdeerrors.NewMetadataError("read_ccm_key", bdeerrors.ErrCorrupted)
	}
	return e.Payload[:bdecrypto.CCMNonceSize], e.Payload[bdecrypto.CCMNonceSize:], nil
}

// UnwrapFVEK uses a recovered VMK to AES-CCM-decrypt the top-level FVEK
// entry and returns the raw key material inside (§4.4 step 5), which
// bdeprotector's caller then interprets per the metadata's encryption
// method (§4.5).
func UnwrapFVEK(topLevelEntries []*bdemetadata.Entry, vmk []byte) ([]byte, error) {
	fvekEntry := bdemetadata.FindByEntryType(topLevelEntries, bdemetadata.EntryTypeFVEK)
	if fvekEntry == nil || fvekEntry.ValueType != bdemetadata.ValueTypeAesCcmEncryptedKey {
		return nil, bdeerrors.NewMetadataError("read_fvek", bdeerrors.ErrCorrupted)
	}
	return decryptAndExtractKey(fvekEntry, vmk)
}
