package bdevolume

import (
	"testing"

	"bdevolume/internal/bdecrypto"
)

func TestNewVolumeStartsLocked(t *testing.T) {
	vol := New()
	if !vol.IsLocked() {
		t.Error("a freshly constructed Volume reports IsLocked() == false")
	}
}

func TestMetadataAccessorsBeforeOpenFail(t *testing.T) {
	vol := New()

	if _, err := vol.EncryptionMethod(); err == nil {
		t.Error("EncryptionMethod succeeded before Open")
	}
	if _, err := vol.VolumeIdentifier(); err == nil {
		t.Error("VolumeIdentifier succeeded before Open")
	}
	if _, err := vol.CreationTime(); err == nil {
		t.Error("CreationTime succeeded before Open")
	}
	if _, err := vol.Description(); err == nil {
		t.Error("Description succeeded before Open")
	}
	if _, err := vol.KeyProtector(0); err == nil {
		t.Error("KeyProtector succeeded before Open")
	}
	if _, err := vol.HasClearKeyProtector(); err == nil {
		t.Error("HasClearKeyProtector succeeded before Open")
	}
}

func TestOpenTwiceFails(t *testing.T) {
	image, _, _ := buildSyntheticImage(t)
	vol := New()
	defer vol.Close()

	if err := vol.Open(memSource{image}); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := vol.Open(memSource{image}); err == nil {
		t.Error("second Open call succeeded, want ErrAlreadyOpen")
	}
}

func TestSignalAbortFailsSubsequentReads(t *testing.T) {
	image, dataOffset, _ := buildSyntheticImage(t)
	vol := New()
	defer vol.Close()

	if err := vol.Open(memSource{image}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	vol.SignalAbort()

	if _, err := vol.ReadAt(make([]byte, 16), dataOffset); err == nil {
		t.Error("ReadAt succeeded after SignalAbort")
	}
	if _, err := vol.Unlock(); err == nil {
		t.Error("Unlock succeeded after SignalAbort")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	image, _, _ := buildSyntheticImage(t)
	vol := New()

	if err := vol.Open(memSource{image}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := vol.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := vol.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestCloseZeroizesCredentialMaterial(t *testing.T) {
	vol := New()
	if err := vol.SetPassword("hunter2"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	hash := vol.passwordHash

	if err := vol.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for i, b := range hash {
		if b != 0 {
			t.Errorf("passwordHash[%d] = %d after Close, want 0", i, b)
		}
	}
	if vol.passwordHash != nil {
		t.Error("Close did not nil out passwordHash")
	}
}

func TestReadAfterCloseFails(t *testing.T) {
	image, dataOffset, _ := buildSyntheticImage(t)
	vol := New()

	if err := vol.Open(memSource{image}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := vol.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := vol.ReadAt(make([]byte, 16), dataOffset); err == nil {
		t.Error("ReadAt succeeded on a closed volume")
	}
}

func TestDescriptionEmptyWhenAbsent(t *testing.T) {
	image, _, _ := buildSyntheticImage(t)
	vol := New()
	defer vol.Close()

	if err := vol.Open(memSource{image}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	desc, err := vol.Description()
	if err != nil {
		t.Fatalf("Description: %v", err)
	}
	if desc != "" {
		t.Errorf("Description() = %q, want empty string (no Description entry)", desc)
	}
}

func TestDecodeUTF16LEStopsAtNUL(t *testing.T) {
	// "Hi" followed by a NUL terminator and trailing garbage that must
	// not appear in the decoded string.
	raw := []byte{'H', 0, 'i', 0, 0, 0, 'X', 0}
	got := decodeUTF16LE(raw)
	if got != "Hi" {
		t.Errorf("decodeUTF16LE = %q, want %q", got, "Hi")
	}
}

func TestZeroUint16sClearsBuffer(t *testing.T) {
	// Exercises the zeroing helper SetPassword relies on to scrub its
	// intermediate UTF-16 password buffer after hashing it.
	units := []uint16{1, 2, 3}
	zeroUint16s(units)
	for i, u := range units {
		if u != 0 {
			t.Errorf("units[%d] = %d after zeroUint16s, want 0", i, u)
		}
	}
}

func TestSecureZeroMultipleHelper(t *testing.T) {
	a := []byte{1, 2, 3}
	b := []byte{4, 5, 6}
	bdecrypto.SecureZeroMultiple(a, b)
	for _, buf := range [][]byte{a, b} {
		for i, v := range buf {
			if v != 0 {
				t.Errorf("byte[%d] = %d after SecureZeroMultiple, want 0", i, v)
			}
		}
	}
}
