package block

import (
	"sync"
	"testing"

	"github.com/deploymenttheory/go-vmfs/internal/bitmap"
	"github.com/deploymenttheory/go-vmfs/internal/filesystem"
	"github.com/deploymenttheory/go-vmfs/internal/iobuf"
	"github.com/deploymenttheory/go-vmfs/internal/mdlock"
	"github.com/deploymenttheory/go-vmfs/internal/types"
)

type memDevice struct {
	mu   sync.Mutex
	data []byte
}

func newMemDevice(size int) *memDevice {
	return &memDevice{data: make([]byte, size)}
}

func (d *memDevice) Read(pos int64, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := copy(buf, d.data[pos:])
	return n, nil
}

func (d *memDevice) Write(pos int64, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := copy(d.data[pos:], buf)
	return n, nil
}

func (d *memDevice) Reserve(pos int64) error { return nil }
func (d *memDevice) Release(pos int64) error { return nil }

func entrySize(itemsPerEntry, dataSize uint32) uint32 {
	bits := (itemsPerEntry + 7) / 8
	return uint32(mdlock.HeaderSize) + bits + itemsPerEntry*dataSize
}

func seed(dev *memDevice, b *bitmap.Bitmap) {
	for i := uint32(0); i < b.Header.EntryCount; i++ {
		b.PutEntry(dev, b.NewEntry(i))
	}
}

// newTestFS builds a filesystem over an in-memory device with small fbb,
// sbc, pbc and fdc bitmaps, enough to exercise every block-layer operation.
func newTestFS(t *testing.T) (*filesystem.Filesystem, *memDevice) {
	t.Helper()

	const (
		fbbItemsPerEntry = 4
		fbbEntryCount    = 2
		sbcItemsPerEntry = 8
		sbcDataSize      = 16
		sbcEntryCount    = 2
		pbcItemsPerEntry = 4
		pbcDataSize      = 32 // 8 uint32 slots
		pbcEntryCount    = 2
		fdcItemsPerEntry = 4
		fdcDataSize      = 16
		fdcEntryCount    = 2
		blockSize        = 1024
	)

	fbbHdr := types.BitmapHeader{ItemsPerBitmapEntry: fbbItemsPerEntry, DataSize: 0, EntrySize: entrySize(fbbItemsPerEntry, 0), EntryCount: fbbEntryCount}
	sbcHdr := types.BitmapHeader{ItemsPerBitmapEntry: sbcItemsPerEntry, DataSize: sbcDataSize, EntrySize: entrySize(sbcItemsPerEntry, sbcDataSize), EntryCount: sbcEntryCount}
	pbcHdr := types.BitmapHeader{ItemsPerBitmapEntry: pbcItemsPerEntry, DataSize: pbcDataSize, EntrySize: entrySize(pbcItemsPerEntry, pbcDataSize), EntryCount: pbcEntryCount}
	fdcHdr := types.BitmapHeader{ItemsPerBitmapEntry: fdcItemsPerEntry, DataSize: fdcDataSize, EntrySize: entrySize(fdcItemsPerEntry, fdcDataSize), EntryCount: fdcEntryCount}

	var base int64
	fbbHdr.BitmapStart, base = 0, int64(fbbHdr.EntryOffset(fbbHdr.EntryCount))
	sbcBase := base
	sbcHdr.BitmapStart = 0
	base += int64(sbcHdr.EntryOffset(sbcHdr.EntryCount))
	pbcBase := base
	pbcHdr.BitmapStart = 0
	base += int64(pbcHdr.EntryOffset(pbcHdr.EntryCount))
	fdcBase := base
	fdcHdr.BitmapStart = 0
	base += int64(fdcHdr.EntryOffset(fdcHdr.EntryCount))
	fbAreaBase := base

	totalFBItems := fbbItemsPerEntry * fbbEntryCount
	devSize := int(fbAreaBase) + totalFBItems*blockSize

	dev := newMemDevice(devSize)

	fbb := bitmap.New("fbb", 0, fbbHdr)
	sbc := bitmap.New("sbc", sbcBase, sbcHdr)
	pbc := bitmap.New("pbc", pbcBase, pbcHdr)
	fdc := bitmap.New("fdc", fdcBase, fdcHdr)

	seed(dev, fbb)
	seed(dev, sbc)
	seed(dev, pbc)
	seed(dev, fdc)

	fs := filesystem.New(dev, fbb, sbc, pbc, fdc, blockSize, fbAreaBase)
	return fs, dev
}

// TestAllocFreeStatus is scenario S3 from spec.md section 8: allocating a
// block marks it allocated, and freeing it reports it free again.
func TestAllocFreeStatus(t *testing.T) {
	fs, _ := newTestFS(t)

	id, err := Alloc(fs, types.BlockTypeFB)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	allocated, err := GetStatus(fs, id)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if !allocated {
		t.Fatal("freshly allocated block reports free")
	}

	if err := Free(fs, id); err != nil {
		t.Fatalf("Free: %v", err)
	}
	allocated, err = GetStatus(fs, id)
	if err != nil {
		t.Fatalf("GetStatus after Free: %v", err)
	}
	if allocated {
		t.Fatal("freed block still reports allocated")
	}
}

func TestAllocExhaustion(t *testing.T) {
	fs, _ := newTestFS(t)

	for i := 0; i < 8; i++ {
		if _, err := Alloc(fs, types.BlockTypeFB); err != nil {
			t.Fatalf("Alloc #%d: %v", i, err)
		}
	}
	if _, err := Alloc(fs, types.BlockTypeFB); err == nil {
		t.Fatal("Alloc on an exhausted bitmap returned no error")
	}
}

// TestSubBlockWriteWithOffset is scenario S6: a sub-block write at a
// non-zero offset only touches the bytes it covers.
func TestSubBlockWriteWithOffset(t *testing.T) {
	fs, _ := newTestFS(t)

	id, err := Alloc(fs, types.BlockTypeSB)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	filler := make([]byte, fs.Sbc.Header.DataSize)
	for i := range filler {
		filler[i] = 0xff
	}
	if _, err := WriteSB(fs, id, 0, filler); err != nil {
		t.Fatalf("seeding WriteSB: %v", err)
	}

	payload := []byte("abc")
	n, err := WriteSB(fs, id, 4, payload)
	if err != nil {
		t.Fatalf("WriteSB: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("WriteSB returned %d, want %d", n, len(payload))
	}

	got := make([]byte, fs.Sbc.Header.DataSize)
	if _, err := ReadSB(fs, id, 0, got); err != nil {
		t.Fatalf("ReadSB: %v", err)
	}
	if string(got[4:7]) != "abc" {
		t.Fatalf("bytes [4:7] = %q, want %q", got[4:7], "abc")
	}
	for i, b := range got {
		if i >= 4 && i < 7 {
			continue
		}
		if b != 0xff {
			t.Fatalf("byte %d = %x, want untouched 0xff", i, b)
		}
	}
}

// TestDirectIOUnalignedRoundTrip is property 6 from spec.md section 8:
// reading back what was written through an unaligned window returns
// exactly those bytes, regardless of direct-I/O alignment machinery.
func TestDirectIOUnalignedRoundTrip(t *testing.T) {
	fs, _ := newTestFS(t)

	id, err := Alloc(fs, types.BlockTypeFB)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := ZeroizeFB(fs, id); err != nil {
		t.Fatalf("ZeroizeFB: %v", err)
	}

	want := []byte("the quick brown fox")
	n, err := WriteFB(fs, id, 100, want)
	if err != nil {
		t.Fatalf("WriteFB: %v", err)
	}
	if n != len(want) {
		t.Fatalf("WriteFB returned %d, want %d", n, len(want))
	}

	got := make([]byte, len(want))
	n, err = ReadFB(fs, id, 100, got)
	if err != nil {
		t.Fatalf("ReadFB: %v", err)
	}
	if n != len(want) {
		t.Fatalf("ReadFB returned %d, want %d", n, len(want))
	}
	if string(got) != string(want) {
		t.Fatalf("ReadFB = %q, want %q", got, want)
	}
}

// TestDirectIOAlignedFastPath exercises the fast path: an aligned offset and
// an aligned, block-sized buffer pass straight through without a scratch
// allocation, and still round-trip correctly.
func TestDirectIOAlignedFastPath(t *testing.T) {
	fs, _ := newTestFS(t)

	id, err := Alloc(fs, types.BlockTypeFB)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	want := iobuf.Alloc(int(fs.BlockSize()), int(DioBlockSize))
	for i := range want {
		want[i] = byte(i)
	}
	n, err := WriteFB(fs, id, 0, want)
	if err != nil {
		t.Fatalf("WriteFB: %v", err)
	}
	if n != len(want) {
		t.Fatalf("WriteFB returned %d, want %d", n, len(want))
	}

	got := iobuf.Alloc(int(fs.BlockSize()), int(DioBlockSize))
	n, err = ReadFB(fs, id, 0, got)
	if err != nil {
		t.Fatalf("ReadFB: %v", err)
	}
	if n != len(got) {
		t.Fatalf("ReadFB returned %d, want %d", n, len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %x, want %x", i, got[i], want[i])
		}
	}
}

func writeUint32Slot(t *testing.T, fs *filesystem.Filesystem, pbBlk types.BlockID, slot int, v uint32) {
	t.Helper()
	buf := make([]byte, fs.Pbc.Header.DataSize)
	if err := fs.Pbc.GetItem(fs.Device(), pbBlk.PBEntry(), pbBlk.PBItem(), buf); err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	buf[slot*4+0] = byte(v)
	buf[slot*4+1] = byte(v >> 8)
	buf[slot*4+2] = byte(v >> 16)
	buf[slot*4+3] = byte(v >> 24)
	if err := fs.Pbc.SetItem(fs.Device(), pbBlk.PBEntry(), pbBlk.PBItem(), buf); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
}

// TestFreePBPartial is scenario S4: freeing indices [0,4) of an 8-slot
// pointer block that has two populated slots reports a count of 2 and
// leaves the pointer block itself allocated.
func TestFreePBPartial(t *testing.T) {
	fs, _ := newTestFS(t)

	pb, err := Alloc(fs, types.BlockTypePB)
	if err != nil {
		t.Fatalf("Alloc PB: %v", err)
	}
	fb0, err := Alloc(fs, types.BlockTypeFB)
	if err != nil {
		t.Fatalf("Alloc FB: %v", err)
	}
	fb1, err := Alloc(fs, types.BlockTypeFB)
	if err != nil {
		t.Fatalf("Alloc FB: %v", err)
	}
	writeUint32Slot(t, fs, pb, 0, uint32(fb0))
	writeUint32Slot(t, fs, pb, 1, uint32(fb1))

	count, err := FreePB(fs, pb, 0, 4)
	if err != nil {
		t.Fatalf("FreePB: %v", err)
	}
	if count != 2 {
		t.Fatalf("FreePB count = %d, want 2", count)
	}

	allocated, err := GetStatus(fs, pb)
	if err != nil {
		t.Fatalf("GetStatus(pb): %v", err)
	}
	if !allocated {
		t.Fatal("partial FreePB freed the pointer block itself")
	}
	for _, fb := range []types.BlockID{fb0, fb1} {
		allocated, err := GetStatus(fs, fb)
		if err != nil {
			t.Fatalf("GetStatus(fb): %v", err)
		}
		if allocated {
			t.Fatalf("referenced block %08x still allocated after FreePB", uint32(fb))
		}
	}
}

// TestFreePBFull is scenario S5: freeing the whole index range of a pointer
// block reclaims the pointer block itself.
func TestFreePBFull(t *testing.T) {
	fs, _ := newTestFS(t)

	pb, err := Alloc(fs, types.BlockTypePB)
	if err != nil {
		t.Fatalf("Alloc PB: %v", err)
	}
	fb, err := Alloc(fs, types.BlockTypeFB)
	if err != nil {
		t.Fatalf("Alloc FB: %v", err)
	}
	writeUint32Slot(t, fs, pb, 0, uint32(fb))

	total := fs.Pbc.Header.DataSize / 4
	count, err := FreePB(fs, pb, 0, total)
	if err != nil {
		t.Fatalf("FreePB: %v", err)
	}
	if count != 1 {
		t.Fatalf("FreePB count = %d, want 1", count)
	}

	allocated, err := GetStatus(fs, pb)
	if err != nil {
		t.Fatalf("GetStatus(pb): %v", err)
	}
	if allocated {
		t.Fatal("full-range FreePB did not reclaim the pointer block itself")
	}
}
