package bdevolume

import (
	"encoding/binary"

	"bdevolume/internal/bdeerrors"
	"bdevolume/internal/bdeheader"
	"bdevolume/internal/bdeio"
	"bdevolume/internal/bdelog"
	"bdevolume/internal/bdemetadata"
	"bdevolume/internal/bdeprotector"
)

// Open binds a byte-source, parses the volume header and FVE metadata,
// enumerates key protectors, and attempts an unlock with whatever
// credentials are already configured. A failed unlock attempt at open
// time is not an error: Open succeeds into the "open" (still locked)
// state and the caller may retry with Unlock after configuring more
// credentials, per §4.8.
func (v *Volume) Open(source bdeio.Source) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != stateNew {
		return bdeerrors.ErrAlreadyOpen
	}
	if err := v.checkAbort(); err != nil {
		return err
	}

	v.source = source

	if err := v.openReadHeader(); err != nil {
		return err
	}
	if err := v.openReadMetadata(); err != nil {
		return err
	}
	if err := v.openEnumerateProtectors(); err != nil {
		return err
	}

	v.state = stateOpen
	bdelog.Info("volume opened", bdelog.String("version", v.header.Version.String()))

	v.attemptUnlockLocked()

	return nil
}

func (v *Volume) openReadHeader() error {
	buf := make([]byte, bdeheader.HeaderSize)
	if _, err := v.source.ReadAt(buf, 0); err != nil {
		return bdeerrors.NewIOError("read_at", 0, bdeheader.HeaderSize, err)
	}
	h, err := bdeheader.Parse(buf)
	if err != nil {
		return err
	}
	v.header = h
	return nil
}

func (v *Volume) openReadMetadata() error {
	offsets := []int64{v.header.FirstMetadataOffset, v.header.SecondMetadataOffset, v.header.ThirdMetadataOffset}
	m, err := bdemetadata.ReadCanonical(metadataSourceAdapter{v.source}, offsets)
	if err != nil {
		return err
	}
	v.metadata = m
	return nil
}

// metadataSourceAdapter adapts bdeio.Source to bdemetadata.ByteSource
// (the metadata package intentionally does not depend on bdeio).
type metadataSourceAdapter struct {
	bdeio.Source
}

func (v *Volume) openEnumerateProtectors() error {
	protectors, err := bdeprotector.Enumerate(v.metadata.Entries)
	if err != nil {
		return err
	}
	v.protectors = v.cfg.protectorOrder(protectors)
	return nil
}

// overlayFromMetadata extracts the VolumeHeaderBlock entry's
// OffsetAndSize payload, per §3's "Geometry overlay": two little-endian
// u64 fields, ciphertext offset and length.
func overlayFromMetadata(entries []*bdemetadata.Entry) bdeio.Overlay {
	e := bdemetadata.FindByEntryType(entries, bdemetadata.EntryTypeVolumeHeaderBlock)
	if e == nil || len(e.Payload) < 16 {
		return bdeio.Overlay{}
	}
	return bdeio.Overlay{
		CipherOffset: int64(binary.LittleEndian.Uint64(e.Payload[0:8])),
		Length:       int64(binary.LittleEndian.Uint64(e.Payload[8:16])),
	}
}

// buildEngine constructs the sector I/O engine once the encryption
// context is known, wiring the overlay and the primary-metadata-sector
// passthrough rule.
func (v *Volume) buildEngine() {
	overlay := overlayFromMetadata(v.metadata.Entries)
	v.engine = bdeio.NewEngine(
		v.source,
		v.ctx,
		int(v.header.BytesPerSector),
		int64(v.header.VolumeSize),
		overlay,
		v.header.FirstMetadataOffset,
		v.cfg.cacheCapacity,
	)
}
