// Package bdeheader parses the 512-byte BDE volume header that replaces
// the filesystem boot sector on an encrypted volume, in its three format
// variants (Windows Vista, Windows 7+, "BitLocker To Go").
package bdeheader

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"

	"bdevolume/internal/bdeerrors"
)

// Version identifies which of the three on-disk volume header layouts was
// detected.
type Version int

const (
	VersionUnknown Version = iota
	VersionVista
	VersionWindows7
	VersionToGo
)

func (v Version) String() string {
	switch v {
	case VersionVista:
		return "windows-vista"
	case VersionWindows7:
		return "windows-7"
	case VersionToGo:
		return "to-go"
	default:
		return "unknown"
	}
}

// HeaderSize is the fixed size of the BDE volume header sector.
const HeaderSize = 512

var (
	bootEntryPointVista    = []byte{0xeb, 0x52, 0x90}
	bootEntryPointWindows7 = []byte{0xeb, 0x58, 0x90}
	fveSignature           = []byte("-FVE-FS-")

	// bdeIdentifier is the GUID libbde calls "bde_identifier"; it marks a
	// Windows-7-style header (shared by both the plain Win7 and To-Go
	// layouts, disambiguated by header length/offset below).
	bdeIdentifier = [16]byte{
		0x3b, 0xd6, 0x67, 0x49, 0x29, 0x2e, 0xd8, 0x4a,
		0x83, 0x99, 0xf6, 0xa3, 0x39, 0xe3, 0xd0, 0x01,
	}
	bdeIdentifierUsedDiskSpaceOnly = [16]byte{
		0x3b, 0x4d, 0xa8, 0x92, 0x80, 0xdd, 0x0e, 0x4d,
		0x9e, 0x4e, 0xb1, 0xe3, 0x28, 0x4e, 0xae, 0xd8,
	}
)

// Header is the parsed, version-independent view of a BDE volume header:
// just enough of the replaced boot-sector fields to locate the volume's
// FVE metadata and to describe the virtual region BDE carves out of the
// plaintext address space.
type Header struct {
	Version Version

	BytesPerSector         uint16
	SectorsPerClusterBlock uint8
	TotalNumberOfSectors   uint64
	VolumeSize             uint64

	// VolumeIdentifier is present on Windows 7+ and To-Go headers; it is
	// the zero GUID on a Vista header, which carries no identifier field.
	VolumeIdentifier uuid.UUID

	FirstMetadataOffset  int64
	SecondMetadataOffset int64
	ThirdMetadataOffset  int64
	MetadataSize         uint32
}

// Parse reads a 512-byte volume header buffer and returns its parsed form.
// It mirrors libbde_volume_header_read_data: version is detected from the
// boot entry point and (for the Windows-7-shaped layouts) the identifier
// GUID, since the Windows 7 and To Go layouts share the same entry point
// bytes but diverge in field placement past that point.
func Parse(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, bdeerrors.NewHeaderError("size", bdeerrors.ErrCorrupted)
	}

	h := &Header{}

	switch {
	case bytes.Equal(data[0:3], bootEntryPointVista):
		h.Version = VersionVista
	case bytes.Equal(data[0:3], bootEntryPointWindows7):
		win7ID := data[win7IdentifierOffset : win7IdentifierOffset+16]
		togoID := data[togoIdentifierOffset : togoIdentifierOffset+16]
		switch {
		case bytes.Equal(win7ID, bdeIdentifier[:]), bytes.Equal(win7ID, bdeIdentifierUsedDiskSpaceOnly[:]):
			h.Version = VersionWindows7
		case bytes.Equal(togoID, bdeIdentifier[:]):
			h.Version = VersionToGo
		default:
			return nil, bdeerrors.NewHeaderError("identifier", bdeerrors.ErrUnsupportedFormat)
		}
	default:
		return nil, bdeerrors.NewHeaderError("boot_entry_point", bdeerrors.ErrUnsupportedFormat)
	}

	if h.Version == VersionVista || h.Version == VersionWindows7 {
		if !bytes.Equal(data[3:11], fveSignature) {
			return nil, bdeerrors.NewHeaderError("signature", bdeerrors.ErrUnsupportedFormat)
		}
	}

	h.BytesPerSector = binary.LittleEndian.Uint16(data[11:13])
	h.SectorsPerClusterBlock = data[13]

	switch h.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return nil, bdeerrors.NewHeaderError("bytes_per_sector", bdeerrors.ErrUnsupportedFormat)
	}

	totalSectors16 := binary.LittleEndian.Uint16(data[19:21])
	totalSectors32 := binary.LittleEndian.Uint32(data[32:36])

	var first, second, third uint64

	switch h.Version {
	case VersionVista:
		totalSectors64 := binary.LittleEndian.Uint64(data[40:48])
		h.TotalNumberOfSectors = resolveSectorCount(totalSectors16, totalSectors32, totalSectors64)
		first = binary.LittleEndian.Uint64(data[56:64])

		clusterSize := uint32(h.SectorsPerClusterBlock) * uint32(h.BytesPerSector)
		if clusterSize == 0 {
			return nil, bdeerrors.NewHeaderError("sectors_per_cluster_block", bdeerrors.ErrCorrupted)
		}
		h.FirstMetadataOffset = int64(first * uint64(clusterSize))
		h.MetadataSize = 16384

		copy(h.VolumeIdentifier[:], make([]byte, 16))

	case VersionWindows7:
		h.TotalNumberOfSectors = resolveSectorCount(totalSectors16, totalSectors32, 0)
		first = binary.LittleEndian.Uint64(data[368:376])
		second = binary.LittleEndian.Uint64(data[376:384])
		third = binary.LittleEndian.Uint64(data[384:392])
		h.FirstMetadataOffset = int64(first)
		h.SecondMetadataOffset = int64(second)
		h.ThirdMetadataOffset = int64(third)
		h.MetadataSize = 65536
		h.VolumeIdentifier = parseMixedEndianGUID(data[win7IdentifierOffset : win7IdentifierOffset+16])

	case VersionToGo:
		h.TotalNumberOfSectors = resolveSectorCount(totalSectors16, totalSectors32, 0)
		first = binary.LittleEndian.Uint64(data[440:448])
		second = binary.LittleEndian.Uint64(data[448:456])
		third = binary.LittleEndian.Uint64(data[456:464])
		h.FirstMetadataOffset = int64(first)
		h.SecondMetadataOffset = int64(second)
		h.ThirdMetadataOffset = int64(third)
		h.MetadataSize = 65536
		h.VolumeIdentifier = parseMixedEndianGUID(data[togoIdentifierOffset : togoIdentifierOffset+16])
	}

	if h.TotalNumberOfSectors > uint64(1<<63-1)/uint64(h.BytesPerSector) {
		return nil, bdeerrors.NewHeaderError("total_number_of_sectors", bdeerrors.ErrCorrupted)
	}
	h.VolumeSize = h.TotalNumberOfSectors * uint64(h.BytesPerSector)

	return h, nil
}

const (
	win7IdentifierOffset = 352
	togoIdentifierOffset = 424
)

func resolveSectorCount(sectors16 uint16, sectors32 uint32, sectors64 uint64) uint64 {
	if sectors64 != 0 {
		return sectors64
	}
	if sectors32 != 0 {
		return uint64(sectors32)
	}
	return uint64(sectors16)
}

// parseMixedEndianGUID decodes a Microsoft-style GUID: the first three
// components are little-endian, the remaining eight bytes are taken as-is.
func parseMixedEndianGUID(b []byte) uuid.UUID {
	var out uuid.UUID
	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	out[4], out[5] = b[5], b[4]
	out[6], out[7] = b[7], b[6]
	copy(out[8:16], b[8:16])
	return out
}
