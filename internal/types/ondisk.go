package types

import "github.com/google/uuid"

// VolumeInfo is the per-volume header read at open time: UUID, sizing, and
// the segment range this extent contributes to its LVM.
type VolumeInfo struct {
	UUID     uuid.UUID
	LVMUUID  uuid.UUID
	Size     uint64
	Blocks   uint64
	NumExtents   uint32
	FirstSegment uint32
	LastSegment  uint32
	NumSegments  uint32
}

// LVMInfo is seeded from the first extent added to an LVM and then used to
// validate every subsequent extent.
type LVMInfo struct {
	UUID       uuid.UUID
	Size       uint64
	Blocks     uint64
	NumExtents uint32
}

// Matches reports whether vi agrees with the sizing fields already recorded
// in an LVMInfo, per the add_extent matching rule in spec.md section 4.1.
func (li LVMInfo) Matches(vi VolumeInfo) bool {
	return li.UUID == vi.LVMUUID &&
		li.Size == vi.Size &&
		li.Blocks == vi.Blocks &&
		li.NumExtents == vi.NumExtents
}

// MetadataHeader (mdh) is the on-disk lock record embedded in every bitmap
// entry: position, generation counter, and current owner.
type MetadataHeader struct {
	Pos         uint64
	Gen         uint32
	Locked      bool
	Owner       uuid.UUID
	LockCounter uint32
}

// IsFree reports whether the header carries no owner.
func (m MetadataHeader) IsFree() bool {
	return !m.Locked
}

// OwnedBy reports whether the header is currently locked by owner.
func (m MetadataHeader) OwnedBy(owner uuid.UUID) bool {
	return m.Locked && m.Owner == owner
}

// BitmapHeader (bmh) describes the fixed layout of one of the filesystem's
// four bitmaps. It is read once at mount and never mutated afterward.
type BitmapHeader struct {
	// ItemsPerBitmapEntry is the number of items a single bitmap entry
	// governs.
	ItemsPerBitmapEntry uint32
	// DataSize is the payload size in bytes of a single item.
	DataSize uint32
	// EntrySize is the on-disk size in bytes of one bitmap entry record
	// (VMFS_BITMAP_ENTRY_SIZE), including its metadata header.
	EntrySize uint32
	// EntryCount is the total number of entries in this bitmap.
	EntryCount uint32
	// BitmapStart is the byte offset of the entry array, relative to the
	// owning Bitmap's Base (Mount uses Base 0, so there it is an
	// LVM-relative offset).
	BitmapStart uint64
}

// EntryOffset returns the on-disk byte offset of bitmap entry idx.
func (h BitmapHeader) EntryOffset(idx uint32) uint64 {
	return h.BitmapStart + uint64(idx)*uint64(h.EntrySize)
}

// BitmapEntry is a mutable cell identified by (bitmap, entry index): a
// metadata header plus a bit array marking each of ItemsPerBitmapEntry
// items allocated or free. It is materialized from disk on demand and is
// not owned in memory across calls; the canonical state lives on disk
// under the metadata lock.
type BitmapEntry struct {
	ID   uint32
	MDH  MetadataHeader
	Bits []byte
}

// NewBitmapEntry allocates a zeroed entry with a bit array sized for
// itemsPerEntry items.
func NewBitmapEntry(id uint32, itemsPerEntry uint32) BitmapEntry {
	return BitmapEntry{
		ID:   id,
		Bits: make([]byte, (itemsPerEntry+7)/8),
	}
}

// ItemStatus reports whether item i is allocated.
func (e BitmapEntry) ItemStatus(i uint32) bool {
	byteIdx, bit := i/8, i%8
	if int(byteIdx) >= len(e.Bits) {
		return false
	}
	return e.Bits[byteIdx]&(1<<bit) != 0
}

// SetItemStatus sets item i's allocated bit to allocated.
func (e *BitmapEntry) SetItemStatus(i uint32, allocated bool) {
	byteIdx, bit := i/8, i%8
	if allocated {
		e.Bits[byteIdx] |= 1 << bit
	} else {
		e.Bits[byteIdx] &^= 1 << bit
	}
}

// FindFreeItem returns the index of the first free item and true, or
// (0, false) if every item in the entry is allocated.
func (e BitmapEntry) FindFreeItem(itemsPerEntry uint32) (uint32, bool) {
	for i := uint32(0); i < itemsPerEntry; i++ {
		if !e.ItemStatus(i) {
			return i, true
		}
	}
	return 0, false
}
