package bdevolume

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"bdevolume/internal/bdeheader"
	"bdevolume/internal/bdemetadata"
)

// validRecoveryPassword builds an 8-group recovery password string where
// every group is a multiple of 11, matching the checksum DecodeRecoveryPassword
// enforces.
func validRecoveryPassword() string {
	return "000000-000011-000022-000033-000044-000055-000066-000077"
}

func TestSetPasswordConfiguresHash(t *testing.T) {
	vol := New()
	if err := vol.SetPassword("correct horse battery staple"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if len(vol.passwordHash) != 32 {
		t.Fatalf("passwordHash length = %d, want 32", len(vol.passwordHash))
	}
}

func TestSetPasswordUTF16MatchesSetPassword(t *testing.T) {
	vol1 := New()
	if err := vol1.SetPassword("hunter2"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}

	vol2 := New()
	units := []uint16{'h', 'u', 'n', 't', 'e', 'r', '2'}
	if err := vol2.SetPasswordUTF16(units); err != nil {
		t.Fatalf("SetPasswordUTF16: %v", err)
	}

	if string(vol1.passwordHash) != string(vol2.passwordHash) {
		t.Error("SetPassword and SetPasswordUTF16 produced different hashes for the same password")
	}
}

func TestSetRecoveryPasswordAccepted(t *testing.T) {
	vol := New()
	if err := vol.SetRecoveryPassword(validRecoveryPassword()); err != nil {
		t.Fatalf("SetRecoveryPassword: %v", err)
	}
	if len(vol.recoveryPasswordHash) != 32 {
		t.Fatalf("recoveryPasswordHash length = %d, want 32", len(vol.recoveryPasswordHash))
	}
}

func TestSetRecoveryPasswordRejectsBadChecksum(t *testing.T) {
	vol := New()
	bad := "000001-000011-000022-000033-000044-000055-000066-000077"
	if err := vol.SetRecoveryPassword(bad); err == nil {
		t.Error("SetRecoveryPassword accepted a group that fails the mod-11 checksum")
	}
}

func TestSetRecoveryPasswordRejectsWrongGroupCount(t *testing.T) {
	vol := New()
	if err := vol.SetRecoveryPassword("000000-000011-000022"); err == nil {
		t.Error("SetRecoveryPassword accepted fewer than 8 groups")
	}
}

func TestSetKeysInstallsRawMaterial(t *testing.T) {
	vol := New()
	fvek := []byte{1, 2, 3, 4}
	tweak := []byte{5, 6, 7, 8}
	if err := vol.SetKeys(fvek, tweak); err != nil {
		t.Fatalf("SetKeys: %v", err)
	}
	if !vol.useRawKeys {
		t.Error("SetKeys did not set useRawKeys")
	}
	if string(vol.rawFVEK) != string(fvek) {
		t.Errorf("rawFVEK = %x, want %x", vol.rawFVEK, fvek)
	}
	if string(vol.rawTweak) != string(tweak) {
		t.Errorf("rawTweak = %x, want %x", vol.rawTweak, tweak)
	}
}

func TestSetKeysWithoutTweak(t *testing.T) {
	vol := New()
	if err := vol.SetKeys([]byte{1, 2, 3}, nil); err != nil {
		t.Fatalf("SetKeys: %v", err)
	}
	if vol.rawTweak != nil {
		t.Errorf("rawTweak = %x, want nil", vol.rawTweak)
	}
}

// TestSetKeysCombinedFVEKTweakFormSplitsAtUnlock exercises the single
// concatenated FVEK‖TWEAK convenience form: a caller may pass it all as
// fvek with a nil tweak, and installRawKeysLocked must split it into the
// same halves a caller who split it themselves would have passed.
func TestSetKeysCombinedFVEKTweakFormSplitsAtUnlock(t *testing.T) {
	combined := make([]byte, 64)
	for i := range combined {
		combined[i] = byte(i)
	}

	testHeader := &bdeheader.Header{BytesPerSector: 512, VolumeSize: 512 * 8}

	combinedVol := New()
	combinedVol.state = stateOpen
	combinedVol.header = testHeader
	combinedVol.metadata = &bdemetadata.Metadata{Header: &bdemetadata.Header{EncryptionMethod: bdemetadata.MethodAESCBC256D}}
	if err := combinedVol.SetKeys(combined, nil); err != nil {
		t.Fatalf("SetKeys: %v", err)
	}
	if err := combinedVol.installRawKeysLocked(); err != nil {
		t.Fatalf("installRawKeysLocked with combined form: %v", err)
	}

	splitVol := New()
	splitVol.state = stateOpen
	splitVol.header = testHeader
	splitVol.metadata = &bdemetadata.Metadata{Header: &bdemetadata.Header{EncryptionMethod: bdemetadata.MethodAESCBC256D}}
	if err := splitVol.SetKeys(combined[:32], combined[32:]); err != nil {
		t.Fatalf("SetKeys: %v", err)
	}
	if err := splitVol.installRawKeysLocked(); err != nil {
		t.Fatalf("installRawKeysLocked with pre-split form: %v", err)
	}

	ciphertext := bytes.Repeat([]byte{0xAB}, 512)
	combinedPlain, err := combinedVol.ctx.DecryptSector(0, ciphertext)
	if err != nil {
		t.Fatalf("DecryptSector (combined): %v", err)
	}
	splitPlain, err := splitVol.ctx.DecryptSector(0, ciphertext)
	if err != nil {
		t.Fatalf("DecryptSector (split): %v", err)
	}
	if !bytes.Equal(combinedPlain, splitPlain) {
		t.Error("combined FVEK‖TWEAK form decrypted differently than the equivalent pre-split form")
	}
}

func TestReadStartupKeyRejectsMissingFile(t *testing.T) {
	vol := New()
	if err := vol.ReadStartupKey(filepath.Join(t.TempDir(), "missing.bek")); err == nil {
		t.Error("ReadStartupKey succeeded against a nonexistent file")
	}
}

func TestReadStartupKeyRejectsTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truncated.bek")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	vol := New()
	if err := vol.ReadStartupKey(path); err == nil {
		t.Error("ReadStartupKey succeeded against a truncated .BEK file")
	}
}

func TestReadStartupKeyParsesValidFile(t *testing.T) {
	data := make([]byte, 48)
	data[4] = 1  // format version
	data[8] = 48 // metadata header size

	path := filepath.Join(t.TempDir(), "valid.bek")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	vol := New()
	if err := vol.ReadStartupKey(path); err != nil {
		t.Fatalf("ReadStartupKey: %v", err)
	}
	if len(vol.startupKeyEntries) != 0 {
		t.Errorf("startupKeyEntries = %v, want empty for a header-only .BEK file", vol.startupKeyEntries)
	}
}
