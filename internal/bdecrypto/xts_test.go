package bdecrypto

import (
	"bytes"
	"testing"
)

func testXTSKeys() XTSKeyPair {
	return XTSKeyPair{
		DataKey:  bytes.Repeat([]byte{0x10}, 32),
		TweakKey: bytes.Repeat([]byte{0x20}, 32),
	}
}

func TestXTSRoundTrip(t *testing.T) {
	keys := testXTSKeys()
	sector := make([]byte, 512)
	for i := range sector {
		sector[i] = byte(i)
	}

	ciphertext, err := XTSEncryptSector(keys, 0x1000, sector)
	if err != nil {
		t.Fatalf("XTSEncryptSector: %v", err)
	}
	if bytes.Equal(ciphertext, sector) {
		t.Fatal("ciphertext equals plaintext")
	}

	plaintext, err := XTSDecryptSector(keys, 0x1000, ciphertext)
	if err != nil {
		t.Fatalf("XTSDecryptSector: %v", err)
	}
	if !bytes.Equal(plaintext, sector) {
		t.Errorf("round trip mismatch: got %x, want %x", plaintext, sector)
	}
}

func TestXTSDifferentBlockKeysProduceDifferentCiphertext(t *testing.T) {
	keys := testXTSKeys()
	sector := bytes.Repeat([]byte{0xAA}, 512)

	c1, err := XTSEncryptSector(keys, 0, sector)
	if err != nil {
		t.Fatalf("XTSEncryptSector: %v", err)
	}
	c2, err := XTSEncryptSector(keys, 1, sector)
	if err != nil {
		t.Fatalf("XTSEncryptSector: %v", err)
	}
	if bytes.Equal(c1, c2) {
		t.Error("different block keys produced identical ciphertext")
	}
}

func TestXTSRejectsUnalignedData(t *testing.T) {
	keys := testXTSKeys()
	if _, err := XTSEncryptSector(keys, 0, make([]byte, 17)); err == nil {
		t.Error("XTSEncryptSector accepted data not a multiple of the block size")
	}
	if _, err := XTSEncryptSector(keys, 0, nil); err == nil {
		t.Error("XTSEncryptSector accepted empty data")
	}
}

func TestXTSGaloisDoubleNoOverflow(t *testing.T) {
	tweak := make([]byte, 16)
	tweak[0] = 0x01
	xtsGaloisDouble(tweak)
	want := make([]byte, 16)
	want[0] = 0x02
	if !bytes.Equal(tweak, want) {
		t.Errorf("xtsGaloisDouble(0x01...) = %x, want %x", tweak, want)
	}
}

func TestXTSGaloisDoubleOverflow(t *testing.T) {
	tweak := make([]byte, 16)
	tweak[15] = 0x80
	xtsGaloisDouble(tweak)
	want := make([]byte, 16)
	want[0] = 0x87
	if !bytes.Equal(tweak, want) {
		t.Errorf("xtsGaloisDouble overflow case = %x, want %x", tweak, want)
	}
}
