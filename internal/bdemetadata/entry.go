// Package bdemetadata parses the FVE (Full Volume Encryption) metadata
// block that follows the volume header: a fixed 48-byte MetadataHeader
// plus an ordered, possibly-nested tree of TLV Entry records.
package bdemetadata

import (
	"encoding/binary"

	"bdevolume/internal/bdeerrors"
)

// EntryType is the `entry_type` tag of a metadata Entry.
type EntryType uint16

const (
	EntryTypeProperty          EntryType = 0x0000
	EntryTypeVMK               EntryType = 0x0002
	EntryTypeFVEK              EntryType = 0x0003
	EntryTypeValidation        EntryType = 0x0004
	EntryTypeStartupKey        EntryType = 0x0006
	EntryTypeDescription       EntryType = 0x0007
	EntryTypeVolumeHeaderBlock EntryType = 0x000f
)

// ValueType is the `value_type` tag that determines how an Entry's
// payload should be interpreted.
type ValueType uint16

const (
	ValueTypeErased              ValueType = 0x0000
	ValueTypeKey                 ValueType = 0x0001
	ValueTypeUnicodeStringUTF16  ValueType = 0x0002
	ValueTypeStretchKey          ValueType = 0x0003
	ValueTypeUseKey              ValueType = 0x0004
	ValueTypeAesCcmEncryptedKey  ValueType = 0x0005
	ValueTypeTpmEncodedKey       ValueType = 0x0006
	ValueTypeValidation          ValueType = 0x0007
	ValueTypeVolumeMasterKey     ValueType = 0x0008
	ValueTypeExternalKey         ValueType = 0x0009
	ValueTypeUpdate              ValueType = 0x000a
	ValueTypeError               ValueType = 0x000b
	ValueTypeOffsetAndSize       ValueType = 0x000f
)

// entryPrefaceSize is the size of the fixed {entry_size, entry_type,
// value_type, version} preface every entry starts with.
const entryPrefaceSize = 8

// maxEntryNestingDepth bounds recursive entry-stream parsing to defeat
// malformed/hostile metadata.
const maxEntryNestingDepth = 4

// Entry is one TLV record of the metadata entry tree. Payload holds the
// bytes after the 8-byte preface, unparsed; type-specific accessors in
// this package and in bdeprotector interpret it further. Unknown
// entry/value types are preserved here but otherwise ignored upstream.
type Entry struct {
	EntryType EntryType
	ValueType ValueType
	Version   uint16
	Payload   []byte

	// Children holds the parsed nested entry stream for container value
	// types (StretchKey, UseKey, VolumeMasterKey); nil otherwise.
	Children []*Entry
}

// ParseEntryStream parses a back-to-back sequence of TLV entries from
// data until it is exhausted or a zero-sized entry preface is seen.
// It is shared by the top-level metadata entry list, nested protector
// entries, and the .BEK startup-key file format (ParseStartupKeyFile),
// which uses the same entry encoding.
func ParseEntryStream(data []byte, depth int) ([]*Entry, error) {
	if depth > maxEntryNestingDepth {
		return nil, bdeerrors.NewMetadataError("read_entry", bdeerrors.ErrCorrupted)
	}

	var entries []*Entry
	offset := 0
	for offset < len(data) {
		remaining := data[offset:]
		if len(remaining) < entryPrefaceSize {
			break
		}

		entrySize := binary.LittleEndian.Uint16(remaining[0:2])
		if entrySize == 0 {
			break
		}
		if entrySize < entryPrefaceSize || int(entrySize) > len(remaining) {
			return nil, bdeerrors.NewMetadataError("read_entry", bdeerrors.ErrCorrupted)
		}

		e := &Entry{
			EntryType: EntryType(binary.LittleEndian.Uint16(remaining[2:4])),
			ValueType: ValueType(binary.LittleEndian.Uint16(remaining[4:6])),
			Version:   binary.LittleEndian.Uint16(remaining[6:8]),
			Payload:   remaining[entryPrefaceSize:entrySize],
		}

		if err := parseNestedChildren(e, depth); err != nil {
			return nil, err
		}

		entries = append(entries, e)
		offset += int(entrySize)
	}
	return entries, nil
}

// parseNestedChildren recursively parses the child entry stream carried
// by container value types. StretchKey carries a 4-byte encryption-method
// tag plus a 16-byte salt before its nested AesCcmEncryptedKey entry;
// UseKey carries only a 4-byte encryption-method tag. VolumeMasterKey's
// child stream begins immediately after its own fixed 28-byte protector
// preface (GUID, last-modified FILETIME, protection type, padding).
func parseNestedChildren(e *Entry, depth int) error {
	var nestedOffset int
	switch e.ValueType {
	case ValueTypeVolumeMasterKey:
		nestedOffset = 28
	case ValueTypeStretchKey:
		nestedOffset = 20
	case ValueTypeUseKey:
		nestedOffset = 4
	default:
		return nil
	}
	if nestedOffset > len(e.Payload) {
		return nil
	}
	children, err := ParseEntryStream(e.Payload[nestedOffset:], depth+1)
	if err != nil {
		return err
	}
	e.Children = children
	return nil
}

// FindByEntryType returns the first direct child with the given entry
// type, or nil.
func FindByEntryType(entries []*Entry, t EntryType) *Entry {
	for _, e := range entries {
		if e.EntryType == t {
			return e
		}
	}
	return nil
}

// FindByValueType returns the first direct child with the given value
// type, or nil.
func FindByValueType(entries []*Entry, t ValueType) *Entry {
	for _, e := range entries {
		if e.ValueType == t {
			return e
		}
	}
	return nil
}

// AllByEntryType returns every direct child with the given entry type.
func AllByEntryType(entries []*Entry, t EntryType) []*Entry {
	var out []*Entry
	for _, e := range entries {
		if e.EntryType == t {
			out = append(out, e)
		}
	}
	return out
}
