package filesystem

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-vmfs/internal/bitmap"
	"github.com/deploymenttheory/go-vmfs/internal/storage"
	"github.com/deploymenttheory/go-vmfs/internal/types"
	"github.com/deploymenttheory/go-vmfs/internal/verrors"
)

// SuperblockOffset is the fixed LVM-relative byte offset of the filesystem
// superblock: the four bitmaps' headers, the File Block size, and the start
// of the bulk File Block storage area. It plays the role vmfs_fs_open's
// on-disk fs_info read plays in the original, simplified to the handful of
// fields the Block Layer needs.
const SuperblockOffset = 0x20000

const superblockMagic = 0xfeedface

// bitmapHeaderSize is the on-disk size of one serialized BitmapHeader.
const bitmapHeaderSize = 4 + 4 + 4 + 4 + 8

const superblockSize = 4 + 4 + 8 + 4*bitmapHeaderSize

func encodeBitmapHeader(buf []byte, h types.BitmapHeader) {
	binary.LittleEndian.PutUint32(buf[0:4], h.ItemsPerBitmapEntry)
	binary.LittleEndian.PutUint32(buf[4:8], h.DataSize)
	binary.LittleEndian.PutUint32(buf[8:12], h.EntrySize)
	binary.LittleEndian.PutUint32(buf[12:16], h.EntryCount)
	binary.LittleEndian.PutUint64(buf[16:24], h.BitmapStart)
}

func decodeBitmapHeader(buf []byte) types.BitmapHeader {
	return types.BitmapHeader{
		ItemsPerBitmapEntry: binary.LittleEndian.Uint32(buf[0:4]),
		DataSize:            binary.LittleEndian.Uint32(buf[4:8]),
		EntrySize:           binary.LittleEndian.Uint32(buf[8:12]),
		EntryCount:          binary.LittleEndian.Uint32(buf[12:16]),
		BitmapStart:         binary.LittleEndian.Uint64(buf[16:24]),
	}
}

// WriteSuperblock serializes the filesystem layout to dev at
// SuperblockOffset. Formatting tooling (and tests) use this; Mount is its
// read-side counterpart.
func WriteSuperblock(dev storage.Device, blockSize uint32, fbAreaBase int64, fbb, sbc, pbc, fdc types.BitmapHeader) error {
	buf := make([]byte, superblockSize)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:off+4], superblockMagic)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], blockSize)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(fbAreaBase))
	off += 8
	for _, h := range []types.BitmapHeader{fbb, sbc, pbc, fdc} {
		encodeBitmapHeader(buf[off:off+bitmapHeaderSize], h)
		off += bitmapHeaderSize
	}

	if _, err := dev.Write(SuperblockOffset, buf); err != nil {
		return fmt.Errorf("writing filesystem superblock: %w", err)
	}
	return nil
}

// Mount reads the filesystem superblock from dev and constructs a ready to
// use Filesystem over its four well-known bitmaps (fs_open/fs_create in the
// original, collapsed into one step since nothing here depends on create
// vs. open semantics).
func Mount(dev storage.Device) (*Filesystem, error) {
	buf := make([]byte, superblockSize)
	if _, err := dev.Read(SuperblockOffset, buf); err != nil {
		return nil, fmt.Errorf("reading filesystem superblock: %w", err)
	}

	off := 0
	magic := binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	if magic != superblockMagic {
		return nil, fmt.Errorf("filesystem superblock: %w", verrors.ErrCorrupt)
	}
	blockSize := binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	fbAreaBase := int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8

	headers := make([]types.BitmapHeader, 4)
	for i := range headers {
		headers[i] = decodeBitmapHeader(buf[off : off+bitmapHeaderSize])
		off += bitmapHeaderSize
	}

	fbb := bitmap.New("fbb", 0, headers[0])
	sbc := bitmap.New("sbc", 0, headers[1])
	pbc := bitmap.New("pbc", 0, headers[2])
	fdc := bitmap.New("fdc", 0, headers[3])

	return New(dev, fbb, sbc, pbc, fdc, blockSize, fbAreaBase), nil
}
