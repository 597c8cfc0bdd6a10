// Package filesystem is the façade described in spec.md section 4.4: it
// holds the four well-known bitmaps (fbb, sbc, pbc, fdc) discovered at
// mount and exposes read/write/blocksize to the Block Layer, delegating to
// the LVM. It also holds the single Metadata Locker used by every block
// operation, and a mutex that serializes this process's critical sections
// the way spec.md section 5 requires (at most one metadata lock held at a
// time per caller).
package filesystem

import (
	"fmt"
	"sync"

	"github.com/deploymenttheory/go-vmfs/internal/bitmap"
	"github.com/deploymenttheory/go-vmfs/internal/mdlock"
	"github.com/deploymenttheory/go-vmfs/internal/storage"
)

// Filesystem is the mounted handle passed to every block-layer operation.
type Filesystem struct {
	dev storage.Device

	Fbb *bitmap.Bitmap
	Sbc *bitmap.Bitmap
	Pbc *bitmap.Bitmap
	Fdc *bitmap.Bitmap

	blockSize  uint32
	fbAreaBase int64

	locker *mdlock.Locker
	mu     sync.Mutex
}

// New constructs the façade over an already-open device and the four
// bitmaps discovered at mount. fbAreaBase is the LVM-relative byte offset
// where bulk File Block storage begins, distinct from the region the four
// bitmaps occupy.
func New(dev storage.Device, fbb, sbc, pbc, fdc *bitmap.Bitmap, blockSize uint32, fbAreaBase int64) *Filesystem {
	return &Filesystem{
		dev:        dev,
		Fbb:        fbb,
		Sbc:        sbc,
		Pbc:        pbc,
		Fdc:        fdc,
		blockSize:  blockSize,
		fbAreaBase: fbAreaBase,
		locker:     mdlock.New(),
	}
}

// Device returns the storage device bitmaps and the metadata lock protocol
// read and write through. The Block Layer uses this rather than the
// Filesystem holding a back-reference into bitmap internals, per the
// cycle-breaking note in spec.md section 9.
func (fs *Filesystem) Device() storage.Device { return fs.dev }

// Locker returns the Metadata Locker this mount uses for every critical
// section.
func (fs *Filesystem) Locker() *mdlock.Locker { return fs.locker }

// BlockSize returns the filesystem-header-declared File Block size
// (fs_get_blocksize).
func (fs *Filesystem) BlockSize() uint32 { return fs.blockSize }

// itemOffset maps a File Block item index to its logical LVM position.
func (fs *Filesystem) itemOffset(item uint32) int64 {
	return fs.fbAreaBase + int64(item)*int64(fs.blockSize)
}

// Read reads len(buf) bytes at pos within File Block item (fs_read).
func (fs *Filesystem) Read(item uint32, pos int64, buf []byte) (int, error) {
	n, err := fs.dev.Read(fs.itemOffset(item)+pos, buf)
	if err != nil {
		return n, fmt.Errorf("fs read item %d pos %d: %w", item, pos, err)
	}
	return n, nil
}

// Write writes buf at pos within File Block item (fs_write).
func (fs *Filesystem) Write(item uint32, pos int64, buf []byte) (int, error) {
	n, err := fs.dev.Write(fs.itemOffset(item)+pos, buf)
	if err != nil {
		return n, fmt.Errorf("fs write item %d pos %d: %w", item, pos, err)
	}
	return n, nil
}

// WithLock runs fn while holding the in-process critical-section mutex,
// guaranteeing this process never attempts nested metadata-lock
// acquisition, which spec.md section 4.3 forbids.
func (fs *Filesystem) WithLock(fn func() error) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fn()
}
