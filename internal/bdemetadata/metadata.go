package bdemetadata

import (
	"bdevolume/internal/bdeerrors"
	"bdevolume/internal/bdelog"
)

// ByteSource is the minimal injected collaborator metadata reading needs:
// random-access reads over the backing image. Defined here (rather than
// imported from bdeio) to keep this package free of a dependency on the
// sector-I/O layer; bdeio.Source satisfies it.
type ByteSource interface {
	ReadAt(p []byte, off int64) (int, error)
}

// Metadata is one parsed copy of the FVE metadata block: its header and
// the flat top-level entry list (VolumeMasterKey entries nest their own
// protector-specific children).
type Metadata struct {
	Header  *Header
	Entries []*Entry
}

// ReadHeader reads and parses just the MetadataHeader at offset.
func ReadHeader(source ByteSource, offset int64) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := source.ReadAt(buf, offset); err != nil {
		return nil, bdeerrors.NewIOError("read_at", offset, HeaderSize, err)
	}
	return ParseHeader(buf)
}

// ReadAll reads metadata_size bytes at offset, parses the header, then
// the entry stream that follows it, per §4.2: iterate entries until
// entry_size == 0 or the declared metadata payload is exhausted.
func ReadAll(source ByteSource, offset int64) (*Metadata, error) {
	header, err := ReadHeader(source, offset)
	if err != nil {
		return nil, err
	}
	if header.MetadataSize < HeaderSize {
		return nil, bdeerrors.NewMetadataError("read_all", bdeerrors.ErrCorrupted)
	}

	buf := make([]byte, header.MetadataSize)
	if _, err := source.ReadAt(buf, offset); err != nil {
		return nil, bdeerrors.NewIOError("read_at", offset, int(header.MetadataSize), err)
	}

	entries, err := ParseEntryStream(buf[HeaderSize:], 0)
	if err != nil {
		return nil, err
	}

	return &Metadata{Header: header, Entries: entries}, nil
}

// ParseStartupKeyFile parses the contents of a .BEK external-key file:
// it shares the metadata copy's on-disk shape (a MetadataHeader followed
// by an entry stream) per libbde's handling of external key files, so
// this is a thin wrapper around ParseHeader/ParseEntryStream operating
// on an in-memory buffer rather than a Source, since startup-key files
// are always small enough to read whole.
func ParseStartupKeyFile(data []byte) ([]*Entry, error) {
	if len(data) < HeaderSize {
		return nil, bdeerrors.NewMetadataError("read_startup_key_file", bdeerrors.ErrCorrupted)
	}
	if _, err := ParseHeader(data[:HeaderSize]); err != nil {
		return nil, err
	}
	return ParseEntryStream(data[HeaderSize:], 0)
}

// ReadCanonical implements the cross-copy policy of §4.2: try each
// candidate offset in order, returning the first copy that parses
// cleanly. Offsets that are zero are skipped (Vista volumes carry only
// one metadata copy). If more than one copy parses, their volume
// identifiers must agree; a mismatch is reported but does not abort -
// the first successful copy remains canonical, matching the
// diagnostic-only role the spec gives to the non-canonical copies.
func ReadCanonical(source ByteSource, offsets []int64) (*Metadata, error) {
	var canonical *Metadata
	var lastErr error

	for i, offset := range offsets {
		if offset == 0 {
			continue
		}
		m, err := ReadAll(source, offset)
		if err != nil {
			bdelog.Warn("metadata copy failed to parse", bdelog.Int("copy", i), bdelog.Err(err))
			lastErr = err
			continue
		}
		if canonical == nil {
			canonical = m
			continue
		}
		if canonical.Header.VolumeIdentifier != m.Header.VolumeIdentifier {
			bdelog.Warn("metadata copy volume identifier mismatch", bdelog.Int("copy", i))
		}
	}

	if canonical == nil {
		if lastErr != nil {
			return nil, bdeerrors.Wrap(lastErr, "no valid metadata copy")
		}
		return nil, bdeerrors.NewMetadataError("read_all", bdeerrors.ErrCorrupted)
	}
	return canonical, nil
}
