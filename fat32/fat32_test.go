package fat32

import (
	"encoding/binary"
	"testing"

	"raspbit/board"
	"raspbit/defs"
	"raspbit/ustr"
	"raspbit/vfs"
)

const (
	testPartStart  = 1
	testReserved   = 2
	testNumFATs    = 1
	testFATSize    = 2
	testSecPerClus = 1
	testRootClus   = 2
)

// buildImage lays out a minimal one-partition FAT32 volume: MBR at block
// 0, BPB at testPartStart, FAT region, then data region whose first
// cluster (the root directory) holds one file "HELLO.TXT".
func buildImage() *board.Fake {
	f := board.NewFake()

	var mbr [512]byte
	mbr[0x1BE+4] = 0x0B
	binary.LittleEndian.PutUint32(mbr[0x1BE+8:], testPartStart)
	writeBlock(f, 0, mbr[:])

	var bpb [512]byte
	binary.LittleEndian.PutUint16(bpb[11:13], 512)
	bpb[13] = testSecPerClus
	binary.LittleEndian.PutUint16(bpb[14:16], testReserved)
	bpb[16] = testNumFATs
	binary.LittleEndian.PutUint32(bpb[36:40], testFATSize)
	binary.LittleEndian.PutUint32(bpb[44:48], testRootClus)
	writeBlock(f, testPartStart, bpb[:])

	fatStart := testPartStart + testReserved
	dataStart := fatStart + testNumFATs*testFATSize

	var fat [512]byte
	binary.LittleEndian.PutUint32(fat[2*4:2*4+4], 0x0FFFFFFF) // root cluster EOC
	binary.LittleEndian.PutUint32(fat[3*4:3*4+4], 0x0FFFFFFF) // file's cluster EOC
	writeBlock(f, fatStart, fat[:])

	var rootDir [512]byte
	copy(rootDir[0:8], []byte("HELLO   "))
	copy(rootDir[8:11], []byte("TXT"))
	rootDir[11] = 0
	binary.LittleEndian.PutUint16(rootDir[20:22], 0)
	binary.LittleEndian.PutUint16(rootDir[26:28], 3)
	binary.LittleEndian.PutUint32(rootDir[28:32], 5)
	writeBlock(f, dataStart+(testRootClus-2), rootDir[:])

	var fileData [512]byte
	copy(fileData[:], []byte("hello"))
	writeBlock(f, dataStart+(3-2), fileData[:])

	return f
}

func writeBlock(f *board.Fake, idx uint32, buf []byte) {
	var blk [512]byte
	copy(blk[:], buf)
	f.Blocks[idx] = blk
}

func TestMountTraversesRootDirectory(t *testing.T) {
	mounted = nil
	dev := buildImage()
	Register(dev)
	if ierr := vfs.InitRootfs("fat32"); ierr != 0 {
		t.Fatalf("InitRootfs: %d", ierr)
	}
	v, err := vfs.Lookup(ustr.Ustr("/"))
	if err != 0 {
		t.Fatalf("failed to mount fat32 root: %d", err)
	}
	_ = v
	child, lerr := v.Ops.Lookup(v, ustr.Ustr("HELLO.TXT"))
	if lerr != 0 {
		t.Fatalf("expected HELLO.TXT in root directory, got error %d", lerr)
	}
	buf := make([]uint8, 16)
	uio := &fakeUio{buf: buf}
	n, rerr := child.Fops.Read(uio)
	if rerr != 0 {
		t.Fatalf("read failed: %d", rerr)
	}
	if string(uio.buf[:n]) != "hello" {
		t.Fatalf("expected 'hello', got %q", string(uio.buf[:n]))
	}
}

// TestCreateWriteGrowSyncRoundTrip exercises the on-disk mutation path
// that TestMountTraversesRootDirectory never touches: Create allocates
// a dirent, Pwrite spans enough bytes to force allocCluster/
// extendAndWalk to grow the file across three clusters, and the
// written bytes stay invisible to a second, independent mount of the
// same backing device until Syncfs flushes the write-back cache.
func TestCreateWriteGrowSyncRoundTrip(t *testing.T) {
	mounted = nil
	dev := buildImage()
	Register(dev)
	if ierr := vfs.InitRootfs("fat32"); ierr != 0 {
		t.Fatalf("InitRootfs: %d", ierr)
	}

	fo, operr := vfs.Open(ustr.Ustr("/BIG.TXT"), defs.O_CREAT|defs.O_RDWR)
	if operr != 0 {
		t.Fatalf("open/create BIG.TXT: %d", operr)
	}

	data := make([]byte, 1100)
	for i := range data {
		data[i] = byte(i)
	}
	n, werr := fo.Write(&fakeUio{buf: data})
	if werr != 0 || n != len(data) {
		t.Fatalf("write: n=%d err=%d", n, werr)
	}

	var st fakeStat
	if serr := fo.Fstat(&st); serr != 0 || st.size != uint(len(data)) {
		t.Fatalf("fstat after write: size=%d err=%d", st.size, serr)
	}

	if err := Syncfs(); err != nil {
		t.Fatalf("Syncfs: %v", err)
	}

	f2, merr := mount(dev)
	if merr != nil {
		t.Fatalf("second mount: %v", merr)
	}
	root2 := newVnode(f2, true, "", 0, 0, f2.rootCluster, 0)
	traverse(root2, f2.rootCluster)

	child, lerr := vnodeOps{}.Lookup(root2, ustr.Ustr("BIG.TXT"))
	if lerr != 0 {
		t.Fatalf("lookup BIG.TXT on second mount: %d", lerr)
	}
	in := child.Internal.(*inode)
	if in.size != uint32(len(data)) {
		t.Fatalf("expected size %d after remount, got %d", len(data), in.size)
	}

	got := make([]byte, len(data))
	rn, rerr := child.Fops.Read(&fakeUio{buf: got})
	if rerr != 0 || rn != len(data) {
		t.Fatalf("reread: n=%d err=%d", rn, rerr)
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("byte %d: got %#x want %#x", i, got[i], data[i])
		}
	}
}

// TestCacheStaysDirtyUntilSync confirms the block cache buffers a write
// in memory and leaves the backing device untouched until Syncfs flushes
// it, matching the write-back contract newCache documents.
func TestCacheStaysDirtyUntilSync(t *testing.T) {
	mounted = nil
	dev := buildImage()
	Register(dev)
	if ierr := vfs.InitRootfs("fat32"); ierr != 0 {
		t.Fatalf("InitRootfs: %d", ierr)
	}

	fo, operr := vfs.Open(ustr.Ustr("/DIRTY.TXT"), defs.O_CREAT|defs.O_RDWR)
	if operr != 0 {
		t.Fatalf("open/create DIRTY.TXT: %d", operr)
	}
	payload := []byte("cache me")
	if n, werr := fo.Write(&fakeUio{buf: payload}); werr != 0 || n != len(payload) {
		t.Fatalf("write: n=%d err=%d", n, werr)
	}

	// DIRTY.TXT is the first file created after HELLO.TXT, so it claims
	// the next free cluster (4) ahead of its dirent's first block.
	f := mounted
	dataBlock := f.clusterToDataBlock(4)
	if blk := dev.Blocks[dataBlock]; string(blk[:len(payload)]) == string(payload) {
		t.Fatalf("write reached the backing device before Syncfs")
	}

	if err := Syncfs(); err != nil {
		t.Fatalf("Syncfs: %v", err)
	}
	blk := dev.Blocks[dataBlock]
	if string(blk[:len(payload)]) != string(payload) {
		t.Fatalf("expected %q on disk after Syncfs, got %q", payload, blk[:len(payload)])
	}
}

// TestMkdirWritesDotEntries confirms Mkdir allocates a cluster for the
// new directory and seeds it with "." and ".." entries pointing at
// itself and its parent, matching writeDotEntries.
func TestMkdirWritesDotEntries(t *testing.T) {
	mounted = nil
	dev := buildImage()
	Register(dev)
	if ierr := vfs.InitRootfs("fat32"); ierr != 0 {
		t.Fatalf("InitRootfs: %d", ierr)
	}

	child, merr := vfs.Mkdir(ustr.Ustr("/SUBDIR"))
	if merr != 0 {
		t.Fatalf("mkdir: %d", merr)
	}
	if err := Syncfs(); err != nil {
		t.Fatalf("Syncfs: %v", err)
	}

	in := child.Internal.(*inode)
	if !in.isDir {
		t.Fatalf("expected SUBDIR to be a directory")
	}
	f := mounted
	blk := dev.Blocks[f.clusterToDataBlock(in.firstCluster)]

	dot := blk[0:direntSize]
	if trimSpaces(dot[0:8])+trimSpaces(dot[8:11]) != "." {
		t.Fatalf("expected '.' entry, got name %q", sfnToName(dot))
	}
	dotCluster := uint32(binaryLE16(dot[20:22]))<<16 | uint32(binaryLE16(dot[26:28]))
	if dotCluster != in.firstCluster {
		t.Fatalf("'.' cluster = %d, want %d", dotCluster, in.firstCluster)
	}

	dotdot := blk[direntSize : 2*direntSize]
	if trimSpaces(dotdot[0:8]) != ".." {
		t.Fatalf("expected '..' entry, got name %q", sfnToName(dotdot))
	}
	dotdotCluster := uint32(binaryLE16(dotdot[20:22]))<<16 | uint32(binaryLE16(dotdot[26:28]))
	if dotdotCluster != f.rootCluster {
		t.Fatalf("'..' cluster = %d, want root cluster %d", dotdotCluster, f.rootCluster)
	}
}

func binaryLE16(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b)
}

type fakeStat struct {
	size uint
}

func (s *fakeStat) Wdev(uint)  {}
func (s *fakeStat) Wino(uint)  {}
func (s *fakeStat) Wmode(uint) {}
func (s *fakeStat) Wsize(v uint) {
	s.size = v
}
func (s *fakeStat) Wrdev(uint) {}

type fakeUio struct {
	buf []uint8
	off int
}

func (u *fakeUio) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, u.buf[u.off:])
	u.off += n
	return n, 0
}

func (u *fakeUio) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(u.buf[u.off:], src)
	u.off += n
	return n, 0
}

func (u *fakeUio) Remain() int  { return len(u.buf) - u.off }
func (u *fakeUio) Totalsz() int { return len(u.buf) }
