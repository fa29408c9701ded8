package bdecrypto

import (
	"bytes"
	"testing"
)

func TestDiffuserRoundTrip(t *testing.T) {
	data := make([]byte, 512)
	for i := range data {
		data[i] = byte(i * 7)
	}
	original := bytes.Clone(data)

	if err := DiffuserEncrypt(data); err != nil {
		t.Fatalf("DiffuserEncrypt: %v", err)
	}
	if bytes.Equal(data, original) {
		t.Fatal("DiffuserEncrypt left the sector unchanged")
	}

	if err := DiffuserDecrypt(data); err != nil {
		t.Fatalf("DiffuserDecrypt: %v", err)
	}
	if !bytes.Equal(data, original) {
		t.Errorf("round trip mismatch: got %x, want %x", data, original)
	}
}

func TestDiffuserRejectsUndersizedData(t *testing.T) {
	if err := DiffuserEncrypt(make([]byte, 4)); err == nil {
		t.Error("DiffuserEncrypt accepted a buffer smaller than the minimum word count")
	}
	if err := DiffuserDecrypt(make([]byte, 4)); err == nil {
		t.Error("DiffuserDecrypt accepted a buffer smaller than the minimum word count")
	}
}

func TestDiffuserRejectsUnalignedData(t *testing.T) {
	if err := DiffuserEncrypt(make([]byte, 61)); err == nil {
		t.Error("DiffuserEncrypt accepted a size not a multiple of 4")
	}
}

func TestDiffuserRejectsEmptyData(t *testing.T) {
	if err := DiffuserEncrypt(nil); err == nil {
		t.Error("DiffuserEncrypt accepted empty data")
	}
}

func TestRotl32(t *testing.T) {
	if got := rotl32(0x80000000, 1); got != 1 {
		t.Errorf("rotl32(0x80000000, 1) = 0x%x, want 0x1", got)
	}
	if got := rotl32(1, 1); got != 2 {
		t.Errorf("rotl32(1, 1) = 0x%x, want 0x2", got)
	}
}
