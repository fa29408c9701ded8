package bdevolume

import (
	"os"

	"bdevolume/internal/bdecrypto"
	"bdevolume/internal/bdeerrors"
	"bdevolume/internal/bdemetadata"
)

// SetPassword configures a UTF-8 user password credential. Secret inputs
// are never retained as strings longer than necessary; the intermediate
// UTF-16 buffer is zeroized before this call returns.
func (v *Volume) SetPassword(password string) error {
	units := bdecrypto.EncodeUTF16LE(password)
	defer zeroUint16s(units)

	hash := bdecrypto.HashPasswordUTF16(units)

	v.mu.Lock()
	defer v.mu.Unlock()
	bdecrypto.SecureZero(v.passwordHash)
	v.passwordHash = hash
	return nil
}

// SetPasswordUTF16 configures a user password credential already encoded
// as UTF-16LE code units (kept as a distinct entry point from
// SetPassword, per the narrow/wide API split resolved in SPEC_FULL.md's
// Open Questions - callers that already hold UTF-16 key material should
// never have to round-trip it through a Go string).
func (v *Volume) SetPasswordUTF16(units []uint16) error {
	hash := bdecrypto.HashPasswordUTF16(units)

	v.mu.Lock()
	defer v.mu.Unlock()
	bdecrypto.SecureZero(v.passwordHash)
	v.passwordHash = hash
	return nil
}

// SetRecoveryPassword configures a recovery-password credential, e.g.
// "111111-222222-333333-444444-555555-666666-777777-888888". An
// invalidly formatted recovery password is reported as an error rather
// than silently ignored here (unlike §4.3's internal decode step, which
// treats a failed group checksum as "try something else" - by the time
// a caller is calling this setter, a malformed string is a usage
// mistake worth surfacing).
func (v *Volume) SetRecoveryPassword(recoveryPassword string) error {
	hash, err := bdecrypto.HashRecoveryPassword(recoveryPassword)
	if err != nil {
		return bdeerrors.Wrap(err, "invalid recovery password")
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	bdecrypto.SecureZero(v.recoveryPasswordHash)
	v.recoveryPasswordHash = hash
	return nil
}

// SetKeys installs raw FVEK (and, for diffuser methods, TWEAK) key
// material directly, bypassing the protector unwrap pipeline entirely
// per §4.5. SetKeys does not check the sizes itself; they are validated
// against the metadata's encryption method when the keys are installed,
// at Open or at a later Unlock.
//
// tweak may be nil and fvek may instead hold the single concatenated
// FVEK‖TWEAK form (64 bytes for AES-256-CBC with the Elephant Diffuser);
// it is split into its two halves once the volume's encryption method is
// known, at unlock time.
func (v *Volume) SetKeys(fvek, tweak []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	bdecrypto.SecureZero(v.rawFVEK)
	bdecrypto.SecureZero(v.rawTweak)

	v.rawFVEK = append([]byte(nil), fvek...)
	if len(tweak) > 0 {
		v.rawTweak = append([]byte(nil), tweak...)
	} else {
		v.rawTweak = nil
	}
	v.useRawKeys = true
	return nil
}

// ReadStartupKey reads a BitLocker external-key (.BEK) file from the
// local filesystem and configures it as a StartupKey credential. Unlike
// the volume image itself (an injected Source), startup-key files are
// small, local, and read once at configuration time, so a direct
// filesystem read is the natural collaborator here.
func (v *Volume) ReadStartupKey(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return bdeerrors.NewIOError("read_startup_key", 0, 0, err)
	}

	entries, err := bdemetadata.ParseStartupKeyFile(data)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.startupKeyEntries = entries
	return nil
}

func zeroUint16s(units []uint16) {
	for i := range units {
		units[i] = 0
	}
}
