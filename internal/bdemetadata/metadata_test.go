package bdemetadata

import (
	"testing"

	"github.com/google/uuid"
)

// memorySource is a simple in-memory ByteSource for tests.
type memorySource struct {
	data []byte
}

func (m memorySource) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m.data[off:])
	return n, nil
}

func buildMetadataBuffer(t *testing.T, id uuid.UUID, entries []byte) []byte {
	t.Helper()
	total := HeaderSize + len(entries)
	header := buildMetadataHeader(uint32(total), id, MethodAESCBC128)
	return append(header, entries...)
}

func TestReadAllRoundTrip(t *testing.T) {
	id := uuid.New()
	entry := buildEntry(EntryTypeDescription, ValueTypeUnicodeStringUTF16, 1, []byte("vol"))
	buf := buildMetadataBuffer(t, id, entry)

	m, err := ReadAll(memorySource{buf}, 0)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if m.Header.VolumeIdentifier != id {
		t.Errorf("VolumeIdentifier = %s, want %s", m.Header.VolumeIdentifier, id)
	}
	if len(m.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(m.Entries))
	}
}

func TestReadAllAtNonZeroOffset(t *testing.T) {
	id := uuid.New()
	entry := buildEntry(EntryTypeDescription, ValueTypeUnicodeStringUTF16, 1, []byte("vol"))
	metadata := buildMetadataBuffer(t, id, entry)
	buf := append(make([]byte, 4096), metadata...)

	m, err := ReadAll(memorySource{buf}, 4096)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(m.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(m.Entries))
	}
}

func TestParseStartupKeyFile(t *testing.T) {
	entry := buildEntry(EntryTypeVMK, ValueTypeExternalKey, 1, make([]byte, 32))
	buf := buildMetadataBuffer(t, uuid.New(), entry)

	entries, err := ParseStartupKeyFile(buf)
	if err != nil {
		t.Fatalf("ParseStartupKeyFile: %v", err)
	}
	if len(entries) != 1 || entries[0].ValueType != ValueTypeExternalKey {
		t.Errorf("entries = %+v, want a single ExternalKey entry", entries)
	}
}

func TestReadCanonicalPrefersFirstGoodCopy(t *testing.T) {
	id := uuid.New()
	entry := buildEntry(EntryTypeDescription, ValueTypeUnicodeStringUTF16, 1, []byte("vol"))
	good := buildMetadataBuffer(t, id, entry)

	// Lay out three 16 KiB-aligned copies; only the second is valid.
	const copySize = 16384
	buf := make([]byte, copySize*3)
	copy(buf[copySize:], good)

	m, err := ReadCanonical(memorySource{buf}, []int64{0, copySize, copySize * 2})
	if err != nil {
		t.Fatalf("ReadCanonical: %v", err)
	}
	if m.Header.VolumeIdentifier != id {
		t.Errorf("VolumeIdentifier = %s, want %s", m.Header.VolumeIdentifier, id)
	}
}

func TestReadCanonicalSkipsZeroOffsets(t *testing.T) {
	id := uuid.New()
	entry := buildEntry(EntryTypeDescription, ValueTypeUnicodeStringUTF16, 1, []byte("vol"))
	good := buildMetadataBuffer(t, id, entry)

	m, err := ReadCanonical(memorySource{good}, []int64{0, 0, 0})
	if err == nil {
		t.Fatalf("ReadCanonical succeeded with m=%v, want an error since every offset was 0", m)
	}
}

func TestReadCanonicalFailsWhenNoCopyParses(t *testing.T) {
	buf := make([]byte, 4096)
	if _, err := ReadCanonical(memorySource{buf}, []int64{0, 4096}); err == nil {
		t.Error("ReadCanonical succeeded with no parseable copy")
	}
}
