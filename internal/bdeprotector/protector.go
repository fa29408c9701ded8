// Package bdeprotector enumerates the VolumeMasterKey protector tree of a
// parsed metadata copy and implements the unwrap pipeline that recovers a
// volume master key (and, from it, the FVEK) from caller-supplied
// credentials.
package bdeprotector

import (
	"encoding/binary"

	"github.com/google/uuid"

	"bdevolume/internal/bdeerrors"
	"bdevolume/internal/bdemetadata"
)

// ProtectionType is the protector's `protection_type` tag.
type ProtectionType uint16

const (
	ProtectionClearKey         ProtectionType = 0x0000
	ProtectionTPM              ProtectionType = 0x0100
	ProtectionStartupKey       ProtectionType = 0x0200
	ProtectionTPMAndPIN        ProtectionType = 0x0400
	ProtectionRecoveryPassword ProtectionType = 0x0800
	ProtectionPassword         ProtectionType = 0x2000
)

func (p ProtectionType) String() string {
	switch p {
	case ProtectionClearKey:
		return "clear-key"
	case ProtectionTPM:
		return "tpm"
	case ProtectionStartupKey:
		return "startup-key"
	case ProtectionTPMAndPIN:
		return "tpm-and-pin"
	case ProtectionRecoveryPassword:
		return "recovery-password"
	case ProtectionPassword:
		return "password"
	default:
		return "unknown"
	}
}

// Supported reports whether the unwrap pipeline implements this
// protection type; TPM and TPMAndPIN protectors require a TPM binding
// with no meaning for an offline image and are always skipped.
func (p ProtectionType) Supported() bool {
	switch p {
	case ProtectionTPM, ProtectionTPMAndPIN:
		return false
	default:
		return true
	}
}

// Protector is one VolumeMasterKey entry's parsed protector preface plus
// its child entries (StretchKey / AesCcmEncryptedKey / optional
// Properties), per §4.4.
type Protector struct {
	Identifier     uuid.UUID
	LastModified   uint64 // raw FILETIME
	ProtectionType ProtectionType
	Entry          *bdemetadata.Entry
}

// protectorPrefaceSize is the fixed prefix of a VolumeMasterKey payload:
// a 16-byte GUID, an 8-byte FILETIME, a 2-byte protection type, and 2
// bytes of padding, for a total of 28 bytes before the nested entries.
const protectorPrefaceSize = 28

// Enumerate collects every VolumeMasterKey entry in a metadata copy's
// top-level entry list, in discovery order.
func Enumerate(entries []*bdemetadata.Entry) ([]*Protector, error) {
	var protectors []*Protector
	for _, e := range bdemetadata.AllByEntryType(entries, bdemetadata.EntryTypeVMK) {
		if e.ValueType != bdemetadata.ValueTypeVolumeMasterKey {
			continue
		}
		p, err := parseProtector(e)
		if err != nil {
			return nil, err
		}
		protectors = append(protectors, p)
	}
	return protectors, nil
}

func parseProtector(e *bdemetadata.Entry) (*Protector, error) {
	if len(e.Payload) < protectorPrefaceSize {
		return nil, bdeerrors.NewMetadataError("read_protector", bdeerrors.ErrCorrupted)
	}
	id, err := uuid.FromBytes(mixedEndianToRFC(e.Payload[0:16]))
	if err != nil {
		return nil, bdeerrors.NewMetadataError("read_protector", bdeerrors.ErrCorrupted)
	}
	return &Protector{
		Identifier:     id,
		LastModified:   binary.LittleEndian.Uint64(e.Payload[16:24]),
		ProtectionType: ProtectionType(binary.LittleEndian.Uint16(e.Payload[24:26])),
		Entry:          e,
	}, nil
}

func mixedEndianToRFC(b []byte) []byte {
	out := make([]byte, 16)
	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	out[4], out[5] = b[5], b[4]
	out[6], out[7] = b[7], b[6]
	copy(out[8:16], b[8:16])
	return out
}

// Order returns protectors sorted into the priority bdevolume's
// unlock loop should try them in: recovery password, then password, then
// startup key, then clear key, with discovery order preserved within
// each category. Unsupported types (TPM, TPMAndPIN) sort last.
func Order(protectors []*Protector) []*Protector {
	rank := func(p *Protector) int {
		switch p.ProtectionType {
		case ProtectionRecoveryPassword:
			return 0
		case ProtectionPassword:
			return 1
		case ProtectionStartupKey:
			return 2
		case ProtectionClearKey:
			return 3
		default:
			return 4
		}
	}

	ordered := make([]*Protector, len(protectors))
	copy(ordered, protectors)

	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && rank(ordered[j]) < rank(ordered[j-1]); j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	return ordered
}
