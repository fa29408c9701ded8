package bdeio

import (
	"sync"

	"bdevolume/internal/bdeencryption"
	"bdevolume/internal/bdeerrors"
	"bdevolume/internal/bdeutil"
)

// Overlay describes the unencrypted-region remapping a Win7/ToGo volume
// needs, per §3's "Geometry overlay" and §4.7: the plaintext range
// [0, Length) is actually stored, encrypted, at ciphertext offset CipherOffset.
// A zero-value Overlay (Length == 0) means no remapping is in effect
// (Vista volumes have no VolumeHeaderBlock entry).
type Overlay struct {
	CipherOffset int64
	Length       int64
}

// Engine performs plaintext-offset reads against an encrypted volume: it
// maps each touched sector to its ciphertext location, applies the
// unencrypted-MBR-sector passthrough rule, decrypts via an
// bdeencryption.Context, and serves/populates a small sector cache.
// All mutable state (cache) is guarded by mu, per §5's concurrency model.
type Engine struct {
	source     boundedSource
	ctx        *bdeencryption.Context
	sectorSize int
	volumeSize int64

	overlay             Overlay
	firstMetadataOffset int64

	mu    sync.Mutex
	cache *sectorCache
}

// NewEngine constructs a read engine. cacheCapacity <= 0 selects the
// default capacity.
func NewEngine(source Source, ctx *bdeencryption.Context, sectorSize int, volumeSize int64, overlay Overlay, firstMetadataOffset int64, cacheCapacity int) *Engine {
	return &Engine{
		source:              boundedSource{source},
		ctx:                 ctx,
		sectorSize:          sectorSize,
		volumeSize:          volumeSize,
		overlay:             overlay,
		firstMetadataOffset: firstMetadataOffset,
		cache:               newSectorCache(cacheCapacity),
	}
}

// Close zeroizes the engine's sector cache. The encryption context is
// owned by the caller and closed separately.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.clear()
}

// ReadAt reads len(p) bytes starting at plaintext offset off, per §4.7's
// read procedure. A request that starts at or past the end of the volume
// returns 0 bytes and no error; a request overlapping the end is clamped.
func (e *Engine) ReadAt(p []byte, off int64, abort func() bool) (int, error) {
	if off < 0 {
		return 0, bdeerrors.NewIOError("read_at", off, len(p), bdeerrors.ErrInvalidArgument)
	}
	if off >= e.volumeSize {
		return 0, nil
	}

	want := len(p)
	if remaining := e.volumeSize - off; int64(want) > remaining {
		want = int(remaining)
	}

	total := 0
	for total < want {
		if abort != nil && abort() {
			return total, bdeerrors.ErrAborted
		}

		plainOffset := off + int64(total)
		sectorIndex := uint64(plainOffset) / uint64(e.sectorSize)
		sectorStart := int64(sectorIndex) * int64(e.sectorSize)
		inSectorOffset := int(plainOffset - sectorStart)

		sector, err := e.readSector(sectorIndex, sectorStart)
		if err != nil {
			return total, err
		}

		n := copy(p[total:want], sector[inSectorOffset:])
		total += n
	}
	return total, nil
}

// readSector returns the decrypted contents of the plaintext sector
// starting at sectorStart, consulting and populating the cache.
func (e *Engine) readSector(sectorIndex uint64, sectorStart int64) ([]byte, error) {
	e.mu.Lock()
	if cached, ok := e.cache.get(sectorIndex); ok {
		e.mu.Unlock()
		return cached, nil
	}
	e.mu.Unlock()

	cipherOffset, passthrough := e.mapOffset(sectorStart)

	pool := bdeutil.PoolForSectorSize(e.sectorSize)
	var raw []byte
	if pool != nil {
		raw = pool.Get()
	} else {
		raw = make([]byte, e.sectorSize)
	}
	if err := e.source.readExact(raw, cipherOffset); err != nil {
		if pool != nil {
			pool.Put(raw)
		}
		return nil, err
	}

	var plain []byte
	var err error
	if passthrough {
		// raw is handed to the caller as plain, so it must not go back to
		// the pool; allocate a fresh copy instead.
		plain = make([]byte, len(raw))
		copy(plain, raw)
		if pool != nil {
			pool.Put(raw)
		}
	} else {
		plain, err = e.ctx.DecryptSector(uint64(sectorStart), raw)
		if pool != nil {
			pool.Put(raw)
		}
		if err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	e.cache.put(sectorIndex, plain)
	e.mu.Unlock()

	return plain, nil
}

// mapOffset implements §4.7's translation rules: the overlay remaps
// [0, overlay.Length) to the overlay's ciphertext offset; the sector
// physically at the primary metadata offset is an unencrypted MBR
// passthrough; everything else maps identically.
func (e *Engine) mapOffset(plaintextSectorStart int64) (cipherOffset int64, passthrough bool) {
	if e.overlay.Length > 0 && plaintextSectorStart < e.overlay.Length {
		return e.overlay.CipherOffset + plaintextSectorStart, false
	}
	if plaintextSectorStart == e.firstMetadataOffset {
		return plaintextSectorStart, true
	}
	return plaintextSectorStart, false
}
