package bdemetadata

import (
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
)

func buildMetadataHeader(metadataSize uint32, volumeID uuid.UUID, method EncryptionMethod) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], metadataSize)
	binary.LittleEndian.PutUint32(buf[4:8], 1) // format version
	binary.LittleEndian.PutUint32(buf[8:12], HeaderSize)
	binary.LittleEndian.PutUint32(buf[12:16], metadataSize)
	idBytes, _ := volumeID.MarshalBinary()
	copy(buf[16:32], mixedEndianToRFC(idBytes)) // mixedEndianToRFC is its own inverse here
	binary.LittleEndian.PutUint16(buf[32:34], uint16(method))
	binary.LittleEndian.PutUint64(buf[36:44], 0x01D5E7D1A2B3C4D5)
	binary.LittleEndian.PutUint32(buf[44:48], 7)
	return buf
}

func TestParseHeaderValid(t *testing.T) {
	id := uuid.New()
	buf := buildMetadataHeader(65536, id, MethodAESXTS128)

	h, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.MetadataSize != 65536 {
		t.Errorf("MetadataSize = %d, want 65536", h.MetadataSize)
	}
	if h.VolumeIdentifier != id {
		t.Errorf("VolumeIdentifier = %s, want %s", h.VolumeIdentifier, id)
	}
	if h.EncryptionMethod != MethodAESXTS128 {
		t.Errorf("EncryptionMethod = %v, want %v", h.EncryptionMethod, MethodAESXTS128)
	}
	if h.NextNonceCounter != 7 {
		t.Errorf("NextNonceCounter = %d, want 7", h.NextNonceCounter)
	}
}

func TestParseHeaderRejectsShortBuffer(t *testing.T) {
	if _, err := ParseHeader(make([]byte, 10)); err == nil {
		t.Error("ParseHeader accepted a buffer shorter than HeaderSize")
	}
}

func TestParseHeaderRejectsWrongFormatVersion(t *testing.T) {
	buf := buildMetadataHeader(65536, uuid.New(), MethodAESCBC128)
	binary.LittleEndian.PutUint32(buf[4:8], 2)
	if _, err := ParseHeader(buf); err == nil {
		t.Error("ParseHeader accepted a non-1 format version")
	}
}

func TestParseHeaderRejectsBadHeaderSizeField(t *testing.T) {
	buf := buildMetadataHeader(65536, uuid.New(), MethodAESCBC128)
	binary.LittleEndian.PutUint32(buf[8:12], 40)
	if _, err := ParseHeader(buf); err == nil {
		t.Error("ParseHeader accepted a metadata_header_size field != 48")
	}
}

func TestParseHeaderRejectsMismatchedSizeCopy(t *testing.T) {
	buf := buildMetadataHeader(65536, uuid.New(), MethodAESCBC128)
	binary.LittleEndian.PutUint32(buf[12:16], 4096)
	if _, err := ParseHeader(buf); err == nil {
		t.Error("ParseHeader accepted metadata_size != metadata_size_copy")
	}
}

func TestEncryptionMethodSizes(t *testing.T) {
	cases := []struct {
		method         EncryptionMethod
		fvekSize       int
		tweakSize      int
		usesDiffuser   bool
		usesXTS        bool
	}{
		{MethodAESCBC128D, 16, 16, true, false},
		{MethodAESCBC256D, 32, 32, true, false},
		{MethodAESCBC128, 16, 0, false, false},
		{MethodAESCBC256, 32, 0, false, false},
		{MethodAESXTS128, 32, 0, false, true},
		{MethodAESXTS256, 64, 0, false, true},
		{MethodNone, 0, 0, false, false},
	}
	for _, c := range cases {
		if got := c.method.FVEKSize(); got != c.fvekSize {
			t.Errorf("%v.FVEKSize() = %d, want %d", c.method, got, c.fvekSize)
		}
		if got := c.method.TweakSize(); got != c.tweakSize {
			t.Errorf("%v.TweakSize() = %d, want %d", c.method, got, c.tweakSize)
		}
		if got := c.method.UsesDiffuser(); got != c.usesDiffuser {
			t.Errorf("%v.UsesDiffuser() = %v, want %v", c.method, got, c.usesDiffuser)
		}
		if got := c.method.UsesXTS(); got != c.usesXTS {
			t.Errorf("%v.UsesXTS() = %v, want %v", c.method, got, c.usesXTS)
		}
	}
}

func TestMixedEndianToRFCRoundTrip(t *testing.T) {
	id := uuid.New()
	idBytes, _ := id.MarshalBinary()
	mixed := mixedEndianToRFC(idBytes)
	back := mixedEndianToRFC(mixed)
	if !uuidBytesEqual(back, idBytes) {
		t.Error("mixedEndianToRFC is not its own inverse")
	}
}

func uuidBytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
