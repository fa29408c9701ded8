package bdevolume

import (
	"bdevolume/internal/bdecrypto"
	"bdevolume/internal/bdeencryption"
	"bdevolume/internal/bdeerrors"
	"bdevolume/internal/bdelog"
	"bdevolume/internal/bdeprotector"
)

// Unlock retries the protector loop with whatever credentials are
// currently configured. It returns true iff the FVEK is now known; a
// protector loop that exhausts every configured credential without
// success returns (false, nil), not an error, per §4.4/§4.8: "if none
// succeed, unlock returns 'still locked'."
func (v *Volume) Unlock() (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state == stateNew || v.state == stateClosed {
		return false, bdeerrors.ErrNotOpen
	}
	if err := v.checkAbort(); err != nil {
		return false, err
	}
	if v.state == stateUnlocked {
		return true, nil
	}

	return v.attemptUnlockLocked()
}

// attemptUnlockLocked runs the unlock procedure; caller holds v.mu.
func (v *Volume) attemptUnlockLocked() (bool, error) {
	if v.useRawKeys {
		if err := v.installRawKeysLocked(); err != nil {
			return false, err
		}
		return true, nil
	}

	creds := bdeprotector.Credentials{
		PasswordHash:         v.passwordHash,
		RecoveryPasswordHash: v.recoveryPasswordHash,
		StartupKeyEntries:    v.startupKeyEntries,
	}

	for _, p := range v.protectors {
		if err := v.checkAbort(); err != nil {
			return false, err
		}
		if !p.ProtectionType.Supported() {
			continue
		}

		vmk, err := bdeprotector.UnwrapVMK(p, creds)
		if err != nil {
			bdelog.Warn("vmk unwrap failed", bdelog.String("protector_type", p.ProtectionType.String()), bdelog.Err(err))
			continue
		}
		if vmk == nil {
			continue
		}

		fvekMaterial, err := bdeprotector.UnwrapFVEK(v.metadata.Entries, vmk)
		bdecrypto.SecureZero(vmk)
		if err != nil {
			bdelog.Warn("fvek unwrap failed after vmk recovery", bdelog.Err(err))
			continue
		}

		if err := v.installFVEKMaterialLocked(fvekMaterial); err != nil {
			return false, err
		}

		v.unlockedProtector = p
		v.state = stateUnlocked
		bdecrypto.SecureZeroMultiple(v.passwordHash, v.recoveryPasswordHash)
		v.passwordHash = nil
		v.recoveryPasswordHash = nil
		bdelog.Info("volume unlocked", bdelog.String("protector_type", p.ProtectionType.String()))
		return true, nil
	}

	return false, nil
}

// installFVEKMaterialLocked splits recovered FVEK material into
// FVEK/TWEAK per the metadata's encryption method and builds the
// encryption context and sector I/O engine.
func (v *Volume) installFVEKMaterialLocked(material []byte) error {
	method := v.metadata.Header.EncryptionMethod
	fvekSize := method.FVEKSize()
	tweakSize := method.TweakSize()

	if len(material) < fvekSize+tweakSize {
		return bdeerrors.NewCryptoError("install_fvek", bdeerrors.ErrCorrupted)
	}

	fvek := material[:fvekSize]
	tweak := material[fvekSize : fvekSize+tweakSize]

	ctx, err := bdeencryption.NewContext(method, fvek, tweak)
	if err != nil {
		return err
	}
	v.ctx = ctx
	v.buildEngine()
	return nil
}

// installRawKeysLocked bypasses the protector pipeline entirely per
// §4.5, validating the caller-supplied raw key sizes against the
// metadata's encryption method.
func (v *Volume) installRawKeysLocked() error {
	method := v.metadata.Header.EncryptionMethod

	fvek, tweak := v.rawFVEK, v.rawTweak
	if tweak == nil && method.TweakSize() > 0 && len(fvek) == method.FVEKSize()+method.TweakSize() {
		// SetKeys was given the single FVEK‖TWEAK convenience form; split
		// it now that the real method's key sizes are known.
		fvek, tweak = fvek[:method.FVEKSize()], fvek[method.FVEKSize():]
	}

	ctx, err := bdeencryption.NewContext(method, fvek, tweak)
	if err != nil {
		return err
	}
	v.ctx = ctx
	v.buildEngine()
	v.state = stateUnlocked
	bdelog.Info("volume unlocked with raw keys")
	return nil
}
