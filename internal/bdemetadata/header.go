package bdemetadata

import (
	"encoding/binary"

	"github.com/google/uuid"

	"bdevolume/internal/bdeerrors"
)

// HeaderSize is the fixed, format-version-1 size of a MetadataHeader, in
// bytes: metadata_size, version, metadata_header_size, metadata_size_copy
// (4 bytes each), a 16-byte volume identifier GUID, encryption_method and
// its copy (2 bytes each), an 8-byte creation FILETIME, and a 4-byte
// next-nonce counter.
const HeaderSize = 48

// EncryptionMethod identifies the FVEK algorithm and key sizes in use,
// per the method table the spec derives from libbde_encryption_context.c.
type EncryptionMethod uint16

const (
	MethodNone       EncryptionMethod = 0x0000
	MethodAESCBC128D EncryptionMethod = 0x8000
	MethodAESCBC256D EncryptionMethod = 0x8001
	MethodAESCBC128  EncryptionMethod = 0x8002
	MethodAESCBC256  EncryptionMethod = 0x8003
	MethodAESXTS128  EncryptionMethod = 0x8004
	MethodAESXTS256  EncryptionMethod = 0x8005
)

// UsesDiffuser reports whether this method pairs AES-CBC with the
// Elephant Diffuser (and therefore has a non-empty TWEAK).
func (m EncryptionMethod) UsesDiffuser() bool {
	return m == MethodAESCBC128D || m == MethodAESCBC256D
}

// UsesXTS reports whether this method is an AES-XTS variant.
func (m EncryptionMethod) UsesXTS() bool {
	return m == MethodAESXTS128 || m == MethodAESXTS256
}

// FVEKSize and TweakSize return the expected byte lengths of the FVEK and
// TWEAK key material for this method, per the method table in §4.5.
func (m EncryptionMethod) FVEKSize() int {
	switch m {
	case MethodAESCBC128D, MethodAESCBC128:
		return 16
	case MethodAESCBC256D, MethodAESCBC256:
		return 32
	case MethodAESXTS128:
		return 32
	case MethodAESXTS256:
		return 64
	default:
		return 0
	}
}

func (m EncryptionMethod) TweakSize() int {
	switch m {
	case MethodAESCBC128D:
		return 16
	case MethodAESCBC256D:
		return 32
	default:
		return 0
	}
}

// Header is the parsed, format-version-1 MetadataHeader.
type Header struct {
	MetadataSize     uint32
	FormatVersion    uint32
	MetadataSizeCopy uint32
	VolumeIdentifier uuid.UUID
	EncryptionMethod EncryptionMethod
	// CreationTime is a raw Windows FILETIME; use bdeutil.FILETimeToUnix
	// to convert it for display.
	CreationTime     uint64
	NextNonceCounter uint32
}

// ParseHeader parses the first HeaderSize bytes of a metadata copy.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, bdeerrors.NewMetadataError("read_header", bdeerrors.ErrCorrupted)
	}

	h := &Header{
		MetadataSize:     binary.LittleEndian.Uint32(data[0:4]),
		FormatVersion:    binary.LittleEndian.Uint32(data[4:8]),
		MetadataSizeCopy: binary.LittleEndian.Uint32(data[12:16]),
		EncryptionMethod: EncryptionMethod(binary.LittleEndian.Uint16(data[32:34])),
		NextNonceCounter: binary.LittleEndian.Uint32(data[44:48]),
	}
	headerSizeField := binary.LittleEndian.Uint32(data[8:12])
	h.CreationTime = binary.LittleEndian.Uint64(data[36:44])

	var err error
	h.VolumeIdentifier, err = uuid.FromBytes(mixedEndianToRFC(data[16:32]))
	if err != nil {
		return nil, bdeerrors.NewMetadataError("read_header", bdeerrors.ErrCorrupted)
	}

	if h.FormatVersion != 1 {
		return nil, bdeerrors.NewMetadataError("read_header", bdeerrors.ErrUnsupportedFormat)
	}
	if headerSizeField != HeaderSize {
		return nil, bdeerrors.NewMetadataError("read_header", bdeerrors.ErrCorrupted)
	}
	if h.MetadataSize != h.MetadataSizeCopy {
		return nil, bdeerrors.NewMetadataError("read_header", bdeerrors.ErrCorrupted)
	}

	return h, nil
}

// mixedEndianToRFC converts a Microsoft-mixed-endian 16-byte GUID into the
// big-endian byte order uuid.FromBytes expects.
func mixedEndianToRFC(b []byte) []byte {
	out := make([]byte, 16)
	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	out[4], out[5] = b[5], b[4]
	out[6], out[7] = b[7], b[6]
	copy(out[8:16], b[8:16])
	return out
}
