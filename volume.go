// Package bdevolume provides read-only, random-access to the plaintext
// contents of a Windows BitLocker Drive Encryption (BDE) volume image.
// Callers supply a raw partition/image byte-source and one of several
// credentials (recovery password, user password, startup-key file,
// external clear key, or raw FVEK/TWEAK key material) and receive a
// byte-addressable, seekable plaintext stream.
package bdevolume

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"bdevolume/internal/bdecrypto"
	"bdevolume/internal/bdeencryption"
	"bdevolume/internal/bdeerrors"
	"bdevolume/internal/bdeheader"
	"bdevolume/internal/bdeio"
	"bdevolume/internal/bdelog"
	"bdevolume/internal/bdemetadata"
	"bdevolume/internal/bdeprotector"
)

// state is the Volume lifecycle: new -> open -> unlocked -> closed.
// Configuring credentials does not change the state.
type state int

const (
	stateNew state = iota
	stateOpen
	stateUnlocked
	stateClosed
)

// Volume is the public façade (component I): a typed volume object
// offering open/unlock/seek/read and metadata accessors. It implements
// io.ReaderAt, io.Seeker, and io.Closer.
type Volume struct {
	cfg *config

	mu      sync.Mutex
	state   state
	aborted atomic.Bool

	source bdeio.Source
	header *bdeheader.Header

	metadata   *bdemetadata.Metadata
	protectors []*bdeprotector.Protector

	// Pending credentials, configured before or after Open; zeroized on
	// Close and on unlock success/failure transitions where they are no
	// longer needed.
	passwordHash         []byte
	recoveryPasswordHash []byte
	startupKeyEntries    []*bdemetadata.Entry
	rawFVEK              []byte
	rawTweak             []byte
	useRawKeys           bool

	unlockedProtector *bdeprotector.Protector

	ctx    *bdeencryption.Context
	engine *bdeio.Engine

	offset int64
}

// New creates a Volume in the "new" state; configure credentials with
// SetPassword/SetRecoveryPassword/SetKeys/ReadStartupKey and then call
// Open.
func New(opts ...Option) *Volume {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Volume{cfg: cfg, state: stateNew}
}

// checkAbort returns ErrAborted once SignalAbort has been called.
func (v *Volume) checkAbort() error {
	if v.aborted.Load() {
		return bdeerrors.ErrAborted
	}
	return nil
}

// SignalAbort is idempotent; after calling it, every further read or
// unlock attempt fails with ErrAborted.
func (v *Volume) SignalAbort() {
	v.aborted.Store(true)
}

// IsLocked reports whether the FVEK is not yet known.
func (v *Volume) IsLocked() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state != stateUnlocked
}

// Size returns the plaintext volume size in bytes. Valid once Open has
// succeeded.
func (v *Volume) Size() (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.header == nil {
		return 0, bdeerrors.ErrNotOpen
	}
	return v.header.VolumeSize, nil
}

// EncryptionMethod returns the volume's encryption method code.
func (v *Volume) EncryptionMethod() (bdemetadata.EncryptionMethod, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.metadata == nil {
		return 0, bdeerrors.ErrNotOpen
	}
	return v.metadata.Header.EncryptionMethod, nil
}

// VolumeIdentifier returns the volume's identifier GUID.
func (v *Volume) VolumeIdentifier() (uuid.UUID, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.metadata == nil {
		return uuid.UUID{}, bdeerrors.ErrNotOpen
	}
	return v.metadata.Header.VolumeIdentifier, nil
}

// CreationTime returns the volume's creation time as a raw FILETIME;
// convert with bdeutil.FILETimeToUnix for display.
func (v *Volume) CreationTime() (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.metadata == nil {
		return 0, bdeerrors.ErrNotOpen
	}
	return v.metadata.Header.CreationTime, nil
}

// Description returns the text of the metadata's Description entry, if
// present (a supplemented accessor; libbde surfaces this for forensic
// front-ends even though the specification's distillation omitted it).
func (v *Volume) Description() (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.metadata == nil {
		return "", bdeerrors.ErrNotOpen
	}
	e := bdemetadata.FindByEntryType(v.metadata.Entries, bdemetadata.EntryTypeDescription)
	if e == nil {
		return "", nil
	}
	return decodeUTF16LE(e.Payload), nil
}

func decodeUTF16LE(b []byte) string {
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = uint16(b[i*2]) | uint16(b[i*2+1])<<8
	}
	return string(uint16sToRunes(units))
}

func uint16sToRunes(units []uint16) []rune {
	out := make([]rune, 0, len(units))
	for _, u := range units {
		if u == 0 {
			break
		}
		out = append(out, rune(u))
	}
	return out
}

// NumberOfKeyProtectors returns the number of VMK protectors discovered
// in the canonical metadata copy.
func (v *Volume) NumberOfKeyProtectors() (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.metadata == nil {
		return 0, bdeerrors.ErrNotOpen
	}
	return len(v.protectors), nil
}

// KeyProtector returns the i-th discovered protector's public summary.
func (v *Volume) KeyProtector(i int) (Protector, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.metadata == nil {
		return Protector{}, bdeerrors.ErrNotOpen
	}
	if i < 0 || i >= len(v.protectors) {
		return Protector{}, bdeerrors.ErrInvalidArgument
	}
	p := v.protectors[i]
	return Protector{
		Identifier:     p.Identifier,
		ProtectionType: p.ProtectionType.String(),
	}, nil
}

// Protector is the public, read-only summary of a discovered VMK
// protector.
type Protector struct {
	Identifier     uuid.UUID
	ProtectionType string
}

// HasClearKeyProtector reports whether the volume carries an unencrypted
// ClearKey protector (a supplemented accessor, surfaced per SPEC_FULL.md
// since a clear-key volume needs no credential at all and tooling built
// on this library benefits from knowing that up front).
func (v *Volume) HasClearKeyProtector() (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.metadata == nil {
		return false, bdeerrors.ErrNotOpen
	}
	for _, p := range v.protectors {
		if p.ProtectionType == bdeprotector.ProtectionClearKey {
			return true, nil
		}
	}
	return false, nil
}

// Close zeroizes all key material and the sector cache, and transitions
// the Volume to the closed state. After Close, Open fails with
// ErrAlreadyOpen, Unlock with ErrNotOpen and reads with ErrStillLocked;
// the metadata accessors keep returning the values parsed at Open.
// Close is safe to call multiple times.
func (v *Volume) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	bdecrypto.SecureZeroMultiple(v.passwordHash, v.recoveryPasswordHash, v.rawFVEK, v.rawTweak)
	v.passwordHash = nil
	v.recoveryPasswordHash = nil
	v.rawFVEK = nil
	v.rawTweak = nil
	for _, e := range v.startupKeyEntries {
		bdecrypto.SecureZero(e.Payload)
	}
	v.startupKeyEntries = nil

	if v.ctx != nil {
		v.ctx.Close()
		v.ctx = nil
	}
	if v.engine != nil {
		v.engine.Close()
		v.engine = nil
	}

	v.state = stateClosed
	bdelog.Debug("volume closed")
	return nil
}
