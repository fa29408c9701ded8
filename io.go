package bdevolume

import (
	"io"

	"bdevolume/internal/bdeerrors"
)

// ReadAt implements io.ReaderAt over the plaintext address space. It
// requires the volume to be unlocked; reads past the end of the volume
// return (n, io.EOF) with n possibly 0, matching io.ReaderAt's contract.
func (v *Volume) ReadAt(p []byte, off int64) (int, error) {
	v.mu.Lock()
	engine := v.engine
	volumeSize := uint64(0)
	if v.header != nil {
		volumeSize = v.header.VolumeSize
	}
	locked := v.state != stateUnlocked
	v.mu.Unlock()

	if locked {
		return 0, bdeerrors.ErrStillLocked
	}
	if err := v.checkAbort(); err != nil {
		return 0, err
	}

	n, err := engine.ReadAt(p, off, v.aborted.Load)
	if err != nil {
		return n, err
	}
	if uint64(off)+uint64(n) >= volumeSize && n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Read reads from the volume's current offset and advances it, per
// §4.8. Reads past the end return 0 bytes and io.EOF.
func (v *Volume) Read(p []byte) (int, error) {
	v.mu.Lock()
	off := v.offset
	v.mu.Unlock()

	n, err := v.ReadAt(p, off)

	v.mu.Lock()
	v.offset += int64(n)
	v.mu.Unlock()

	return n, err
}

// Seek implements io.Seeker. It accepts negative results and offsets
// past the end of the volume, mirroring POSIX lseek semantics per §4.8;
// reads from past the end return 0 bytes and io.EOF, and reads from a
// negative offset fail with an error.
func (v *Volume) Seek(offset int64, whence int) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var newOffset int64
	switch whence {
	case io.SeekStart:
		newOffset = offset
	case io.SeekCurrent:
		newOffset = v.offset + offset
	case io.SeekEnd:
		if v.header == nil {
			return 0, bdeerrors.ErrNotOpen
		}
		newOffset = int64(v.header.VolumeSize) + offset
	default:
		return 0, bdeerrors.ErrInvalidArgument
	}

	v.offset = newOffset
	return newOffset, nil
}

// Offset returns the volume's current read offset.
func (v *Volume) Offset() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.offset
}
