// Package types holds the on-disk structures and the packed 32-bit block-ID
// codec shared by every layer of the VMFS core: volume headers, bitmap and
// metadata headers, and the four block-ID encodings (File Block, Sub-Block,
// Pointer Block, File Descriptor).
package types

// BlockID is a packed 32-bit on-disk block identifier. The low 3 bits carry
// the type discriminator; the remaining 29 bits carry either a single
// address (File Block) or an (entry, item) pair (Sub-Block, Pointer Block,
// File Descriptor).
type BlockID uint32

// BlockType is the type discriminator extracted from a BlockID's low bits.
type BlockType uint32

const (
	// BlockTypeInvalid marks a discriminator value with no defined meaning.
	BlockTypeInvalid BlockType = 0
	// BlockTypeFB identifies a File Block (bulk data).
	BlockTypeFB BlockType = 1
	// BlockTypeSB identifies a Sub-Block (small-file storage).
	BlockTypeSB BlockType = 2
	// BlockTypePB identifies a Pointer Block (indirection).
	BlockTypePB BlockType = 3
	// BlockTypeFD identifies a File Descriptor (inode).
	BlockTypeFD BlockType = 4
)

const (
	typeBits  = 3
	typeMask  = (1 << typeBits) - 1
	itemBits  = 10
	itemMask  = (1 << itemBits) - 1
	entryBits = 32 - typeBits - itemBits

	// addrBits is the width available to VMFS_BLK_FB_BUILD's single
	// address field: everything above the type discriminator.
	addrBits = 32 - typeBits
	addrMask = (1 << addrBits) - 1
	entryMax = (1 << entryBits) - 1
)

// Type returns the block type discriminator. An unrecognized value yields
// BlockTypeInvalid.
func (b BlockID) Type() BlockType {
	switch t := BlockType(uint32(b) & typeMask); t {
	case BlockTypeFB, BlockTypeSB, BlockTypePB, BlockTypeFD:
		return t
	default:
		return BlockTypeInvalid
	}
}

// Valid reports whether b carries a recognized type discriminator.
func (b BlockID) Valid() bool {
	return b.Type() != BlockTypeInvalid
}

// FBBuild packs a File Block ID from a single address.
func FBBuild(addr uint32) BlockID {
	return BlockID(((addr & addrMask) << typeBits) | uint32(BlockTypeFB))
}

// FBItem extracts the address encoded by FBBuild. It is the exact inverse
// of FBBuild for any addr that fits in addrBits.
func (b BlockID) FBItem() uint32 {
	return uint32(b) >> typeBits
}

// SBBuild packs a Sub-Block ID from an (entry, item) pair.
func SBBuild(entry, item uint32) BlockID {
	return buildEntryItem(entry, item, BlockTypeSB)
}

// SBEntry extracts the entry index encoded by SBBuild.
func (b BlockID) SBEntry() uint32 { return entryOf(b) }

// SBItem extracts the item index encoded by SBBuild.
func (b BlockID) SBItem() uint32 { return itemOf(b) }

// PBBuild packs a Pointer Block ID from an (entry, item) pair.
func PBBuild(entry, item uint32) BlockID {
	return buildEntryItem(entry, item, BlockTypePB)
}

// PBEntry extracts the entry index encoded by PBBuild.
func (b BlockID) PBEntry() uint32 { return entryOf(b) }

// PBItem extracts the item index encoded by PBBuild.
func (b BlockID) PBItem() uint32 { return itemOf(b) }

// FDBuild packs a File Descriptor ID from an (entry, item) pair.
func FDBuild(entry, item uint32) BlockID {
	return buildEntryItem(entry, item, BlockTypeFD)
}

// FDEntry extracts the entry index encoded by FDBuild.
func (b BlockID) FDEntry() uint32 { return entryOf(b) }

// FDItem extracts the item index encoded by FDBuild.
func (b BlockID) FDItem() uint32 { return itemOf(b) }

func buildEntryItem(entry, item uint32, t BlockType) BlockID {
	return BlockID(((entry & entryMax) << (typeBits + itemBits)) |
		((item & itemMask) << typeBits) |
		uint32(t))
}

func entryOf(b BlockID) uint32 {
	return uint32(b) >> (typeBits + itemBits)
}

func itemOf(b BlockID) uint32 {
	return (uint32(b) >> typeBits) & itemMask
}

// MaxEntry is the largest entry index representable by SBBuild, PBBuild and
// FDBuild.
const MaxEntry = entryMax

// MaxItem is the largest item index representable by SBBuild, PBBuild and
// FDBuild. File Block IDs carry a single addrBits-wide address instead.
const MaxItem = itemMask
