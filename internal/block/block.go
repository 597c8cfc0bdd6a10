// Package block implements the Block Layer: typed block-ID dispatch,
// allocation, status query, zeroizing, sub-block and file-block piecewise
// read/write with direct-I/O alignment, and pointer-block reclamation.
// Every operation here is grounded directly on vmfs_block.c from the
// original vmfs6-tools sources; the corrected boolean sense of the lock
// check (spec.md section 9's open question) and the normalized clen return
// from read_fb/write_fb (spec.md section 4.2's prescribed fix for the
// original's fast/slow-path return-length asymmetry) are both applied.
package block

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-vmfs/internal/bitmap"
	"github.com/deploymenttheory/go-vmfs/internal/filesystem"
	"github.com/deploymenttheory/go-vmfs/internal/iobuf"
	"github.com/deploymenttheory/go-vmfs/internal/types"
	"github.com/deploymenttheory/go-vmfs/internal/verrors"
)

// DioBlockSize is the direct-I/O alignment unit (M_DIO_BLK_SIZE). It is a
// package variable rather than a constant so cmd/vmfsutil can set it from
// internal/config without threading it through every call.
var DioBlockSize uint64 = 512

// GetBitmapInfo dispatches a block ID to its owning bitmap and the (entry,
// item) pair within it. A File Block address is split into
// (addr / items_per_bitmap_entry, addr % items_per_bitmap_entry), the
// inverse of how Alloc builds it.
func GetBitmapInfo(fs *filesystem.Filesystem, id types.BlockID) (*bitmap.Bitmap, uint32, uint32, error) {
	switch id.Type() {
	case types.BlockTypeFB:
		addr, perEntry := id.FBItem(), fs.Fbb.Header.ItemsPerBitmapEntry
		return fs.Fbb, addr / perEntry, addr % perEntry, nil
	case types.BlockTypeSB:
		return fs.Sbc, id.SBEntry(), id.SBItem(), nil
	case types.BlockTypePB:
		return fs.Pbc, id.PBEntry(), id.PBItem(), nil
	case types.BlockTypeFD:
		return fs.Fdc, id.FDEntry(), id.FDItem(), nil
	default:
		return nil, 0, 0, fmt.Errorf("block %08x: %w", uint32(id), verrors.ErrInvalidBlockID)
	}
}

// GetStatus reports whether id is allocated. It is non-mutating and takes
// no lock.
func GetStatus(fs *filesystem.Filesystem, id types.BlockID) (bool, error) {
	bmp, entryIdx, itemIdx, err := GetBitmapInfo(fs, id)
	if err != nil {
		return false, err
	}

	entry, err := bmp.GetEntry(fs.Device(), entryIdx, itemIdx)
	if err != nil {
		return false, err
	}
	return bmp.GetItemStatus(entry, itemIdx), nil
}

// setStatus is the shared body of AllocSpecified and Free: load the entry,
// lock it, flip the bit, persist, unlock — unlocking on every exit path,
// including a failure after the lock was taken.
func setStatus(fs *filesystem.Filesystem, id types.BlockID, allocated bool) error {
	bmp, entryIdx, itemIdx, err := GetBitmapInfo(fs, id)
	if err != nil {
		return err
	}

	return fs.WithLock(func() error {
		entry, err := bmp.GetEntry(fs.Device(), entryIdx, itemIdx)
		if err != nil {
			return err
		}

		locked, err := fs.Locker().Acquire(fs.Device(), entry.MDH)
		if err != nil {
			return err
		}
		entry.MDH = locked

		bmp.SetItemStatus(&entry, itemIdx, allocated)

		if err := bmp.PutEntry(fs.Device(), entry); err != nil {
			fs.Locker().Release(fs.Device(), entry.MDH)
			return err
		}
		return fs.Locker().Release(fs.Device(), entry.MDH)
	})
}

// AllocSpecified marks id allocated.
func AllocSpecified(fs *filesystem.Filesystem, id types.BlockID) error {
	return setStatus(fs, id, true)
}

// Free marks id free.
func Free(fs *filesystem.Filesystem, id types.BlockID) error {
	return setStatus(fs, id, false)
}

// Alloc finds and marks allocated a single free item of the requested
// type, returning its reconstructed block ID.
func Alloc(fs *filesystem.Filesystem, t types.BlockType) (types.BlockID, error) {
	var bmp *bitmap.Bitmap
	switch t {
	case types.BlockTypeFB:
		bmp = fs.Fbb
	case types.BlockTypeSB:
		bmp = fs.Sbc
	case types.BlockTypePB:
		bmp = fs.Pbc
	case types.BlockTypeFD:
		bmp = fs.Fdc
	default:
		return 0, fmt.Errorf("alloc type %d: %w", t, verrors.ErrInvalidBlockID)
	}

	var id types.BlockID
	err := fs.WithLock(func() error {
		entry, err := bmp.FindFreeItems(fs.Device(), fs.Locker(), 1)
		if err != nil {
			return err
		}

		item, err := bitmap.AllocItem(&entry, bmp.Header.ItemsPerBitmapEntry)
		if err != nil {
			fs.Locker().Release(fs.Device(), entry.MDH)
			return err
		}

		if err := bmp.PutEntry(fs.Device(), entry); err != nil {
			fs.Locker().Release(fs.Device(), entry.MDH)
			return err
		}
		if err := fs.Locker().Release(fs.Device(), entry.MDH); err != nil {
			return err
		}

		switch t {
		case types.BlockTypeFB:
			addr := entry.ID*bmp.Header.ItemsPerBitmapEntry + item
			id = types.FBBuild(addr)
		case types.BlockTypeSB:
			id = types.SBBuild(entry.ID, item)
		case types.BlockTypePB:
			id = types.PBBuild(entry.ID, item)
		case types.BlockTypeFD:
			id = types.FDBuild(entry.ID, item)
		}
		return nil
	})
	return id, err
}

// ZeroizeFB writes zero-filled DioBlockSize buffers across the whole File
// Block, failing on any short write.
func ZeroizeFB(fs *filesystem.Filesystem, id types.BlockID) error {
	if id.Type() != types.BlockTypeFB {
		return fmt.Errorf("zeroize %08x: %w", uint32(id), verrors.ErrInvalidBlockID)
	}

	buf := make([]byte, DioBlockSize)
	item := id.FBItem()
	blen := int64(fs.BlockSize())

	for pos := int64(0); pos < blen; pos += int64(DioBlockSize) {
		n, err := fs.Write(item, pos, buf)
		if err != nil {
			return err
		}
		if n != len(buf) {
			return fmt.Errorf("zeroize %08x at %d: %w", uint32(id), pos, verrors.ErrIO)
		}
	}
	return nil
}

// FreePB frees every non-zero block ID referenced by indices [start, end)
// of the pointer block pbBlk, zeroing those slots. If the range covers the
// entire pointer block, the pointer block itself is freed; otherwise the
// modified pointer block is persisted. It returns the count of indices
// whose on-disk value was non-zero before the call.
func FreePB(fs *filesystem.Filesystem, pbBlk types.BlockID, start, end uint32) (int, error) {
	if pbBlk.Type() != types.BlockTypePB {
		return 0, fmt.Errorf("free_pb %08x: %w", uint32(pbBlk), verrors.ErrInvalidBlockID)
	}

	entryIdx, itemIdx := pbBlk.PBEntry(), pbBlk.PBItem()
	buf := make([]byte, fs.Pbc.Header.DataSize)
	if err := fs.Pbc.GetItem(fs.Device(), entryIdx, itemIdx, buf); err != nil {
		return 0, err
	}

	count := 0
	for i := start; i < end; i++ {
		off := i * 4
		id := types.BlockID(binary.LittleEndian.Uint32(buf[off : off+4]))
		if id != 0 {
			if err := Free(fs, id); err != nil {
				return count, err
			}
			binary.LittleEndian.PutUint32(buf[off:off+4], 0)
			count++
		}
	}

	total := fs.Pbc.Header.DataSize / 4
	if start == 0 && end == total {
		if err := Free(fs, pbBlk); err != nil {
			return count, err
		}
	} else if err := fs.Pbc.SetItem(fs.Device(), entryIdx, itemIdx, buf); err != nil {
		return count, err
	}

	return count, nil
}

// ReadSB reads a piece of a sub-block, at most one sub-block's worth of
// bytes, into buf.
func ReadSB(fs *filesystem.Filesystem, id types.BlockID, pos int64, buf []byte) (int, error) {
	if id.Type() != types.BlockTypeSB {
		return 0, fmt.Errorf("read_sb %08x: %w", uint32(id), verrors.ErrInvalidBlockID)
	}
	dataSize := int64(fs.Sbc.Header.DataSize)
	offset := pos % dataSize
	clen := minInt64(dataSize-offset, int64(len(buf)))

	scratch := make([]byte, dataSize)
	if err := fs.Sbc.GetItem(fs.Device(), id.SBEntry(), id.SBItem(), scratch); err != nil {
		return 0, err
	}
	copy(buf[:clen], scratch[offset:offset+clen])
	return int(clen), nil
}

// WriteSB writes a piece of a sub-block. A write that covers the whole
// sub-block skips the read-modify-write step.
func WriteSB(fs *filesystem.Filesystem, id types.BlockID, pos int64, buf []byte) (int, error) {
	if id.Type() != types.BlockTypeSB {
		return 0, fmt.Errorf("write_sb %08x: %w", uint32(id), verrors.ErrInvalidBlockID)
	}
	dataSize := int64(fs.Sbc.Header.DataSize)
	offset := pos % dataSize
	clen := minInt64(dataSize-offset, int64(len(buf)))

	scratch := make([]byte, dataSize)
	if offset != 0 || clen != int64(len(buf)) {
		if err := fs.Sbc.GetItem(fs.Device(), id.SBEntry(), id.SBItem(), scratch); err != nil {
			return 0, err
		}
	}

	copy(scratch[offset:offset+clen], buf[:clen])

	if err := fs.Sbc.SetItem(fs.Device(), id.SBEntry(), id.SBItem(), scratch); err != nil {
		return 0, err
	}
	return int(clen), nil
}

// ReadFB reads a piece of a file block, applying direct-I/O alignment: the
// fast path passes the caller's buffer straight through when it is already
// aligned; the slow path uses an aligned scratch buffer. Both paths return
// the logical length requested (spec.md section 4.2's normalization),
// never the original's aligned-length fast-path value.
func ReadFB(fs *filesystem.Filesystem, id types.BlockID, pos int64, buf []byte) (int, error) {
	if id.Type() != types.BlockTypeFB {
		return 0, fmt.Errorf("read_fb %08x: %w", uint32(id), verrors.ErrInvalidBlockID)
	}
	blkSize := int64(fs.BlockSize())
	offset := pos % blkSize
	clen := minInt64(blkSize-offset, int64(len(buf)))

	nOffset := int64(iobuf.AlignDown(uint64(offset), DioBlockSize))
	nClen := int64(iobuf.AlignUp(uint64(clen+(offset-nOffset)), DioBlockSize))

	item := id.FBItem()

	if nOffset == offset && nClen == clen && iobuf.Aligned(buf, int(DioBlockSize)) {
		n, err := fs.Read(item, nOffset, buf[:nClen])
		if err != nil {
			return 0, err
		}
		if int64(n) != nClen {
			return 0, fmt.Errorf("read_fb %08x: %w", uint32(id), verrors.ErrIO)
		}
		return int(clen), nil
	}

	tmp := iobuf.Alloc(int(nClen), int(DioBlockSize))
	n, err := fs.Read(item, nOffset, tmp)
	if err != nil {
		return 0, err
	}
	if int64(n) != nClen {
		return 0, fmt.Errorf("read_fb %08x: %w", uint32(id), verrors.ErrIO)
	}
	copy(buf[:clen], tmp[offset-nOffset:offset-nOffset+clen])
	return int(clen), nil
}

// WriteFB writes a piece of a file block with the same alignment handling
// as ReadFB; the slow path performs a read-modify-write over the aligned
// window.
func WriteFB(fs *filesystem.Filesystem, id types.BlockID, pos int64, buf []byte) (int, error) {
	if id.Type() != types.BlockTypeFB {
		return 0, fmt.Errorf("write_fb %08x: %w", uint32(id), verrors.ErrInvalidBlockID)
	}
	blkSize := int64(fs.BlockSize())
	offset := pos % blkSize
	clen := minInt64(blkSize-offset, int64(len(buf)))

	nOffset := int64(iobuf.AlignDown(uint64(offset), DioBlockSize))
	nClen := int64(iobuf.AlignUp(uint64(clen+(offset-nOffset)), DioBlockSize))

	item := id.FBItem()

	if nOffset == offset && nClen == clen && iobuf.Aligned(buf, int(DioBlockSize)) {
		n, err := fs.Write(item, nOffset, buf[:nClen])
		if err != nil {
			return 0, err
		}
		if int64(n) != nClen {
			return 0, fmt.Errorf("write_fb %08x: %w", uint32(id), verrors.ErrIO)
		}
		return int(clen), nil
	}

	tmp := iobuf.Alloc(int(nClen), int(DioBlockSize))
	n, err := fs.Read(item, nOffset, tmp)
	if err != nil {
		return 0, err
	}
	if int64(n) != nClen {
		return 0, fmt.Errorf("write_fb %08x: %w", uint32(id), verrors.ErrIO)
	}

	copy(tmp[offset-nOffset:offset-nOffset+clen], buf[:clen])

	n, err = fs.Write(item, nOffset, tmp)
	if err != nil {
		return 0, err
	}
	if int64(n) != nClen {
		return 0, fmt.Errorf("write_fb %08x: %w", uint32(id), verrors.ErrIO)
	}
	return int(clen), nil
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
