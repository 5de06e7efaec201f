// Package fat32 implements the on-disk FAT32 driver and its write-back
// block cache (component L), grounded on fat32fs_setup_mount's MBR/BPB
// parse and fat32fs_traverse_directory's recursive short-filename scan.
//
// The teacher's cache is a doubly-linked list scanned end to end on
// every lookup (fat32fs_cache_list_find); here the list still orders
// entries for sync (nothing is evicted before it), but a hashtable keyed by block index gives
// O(1) lookup instead of the O(n) walk.
package fat32

import (
	"container/list"
	"encoding/binary"
	"sync"

	"raspbit/board"
	"raspbit/defs"
	"raspbit/fdops"
	"raspbit/hashtable"
	"raspbit/ustr"
	"raspbit/vfs"
)

const (
	blockSize    = 512
	direntSize   = 32
	dirAttr      = 0x10
	lfnAttr      = 0x0F
	freeCluster  = 0x00000000
	eocThreshold = 0x0FFFFFF8
	partitionType = 0x0B
	maxDirEntry  = 64
)

type cacheEntry struct {
	blockIdx uint32
	buf      [blockSize]byte
	dirty    bool
	elem     *list.Element
}

/// cache is the write-back block cache: readBlock returns a hit or loads
/// and inserts; writeBlock marks the cached block dirty; sync flushes
/// every dirty entry to dev and frees the cache, matching syncfs.
type cache struct {
	mu    sync.Mutex
	dev   board.BlockDevice_i
	index *hashtable.Hashtable_t
	order *list.List
}

func newCache(dev board.BlockDevice_i) *cache {
	return &cache{dev: dev, index: hashtable.MkHash(64), order: list.New()}
}

func (c *cache) find(idx uint32) *cacheEntry {
	v, ok := c.index.Get(int(idx))
	if !ok {
		return nil
	}
	return v.(*cacheEntry)
}

func (c *cache) readBlock(idx uint32) (*cacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.find(idx); e != nil {
		return e, nil
	}
	e := &cacheEntry{blockIdx: idx}
	if err := c.dev.ReadBlock(idx, e.buf[:]); err != nil {
		return nil, err
	}
	e.elem = c.order.PushBack(e)
	c.index.Set(int(idx), e)
	return e, nil
}

func (c *cache) writeBlock(idx uint32, buf []byte) error {
	e, err := c.readBlock(idx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	copy(e.buf[:], buf)
	e.dirty = true
	c.mu.Unlock()
	return nil
}

func (c *cache) sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*cacheEntry)
		if e.dirty {
			if err := c.dev.WriteBlock(e.blockIdx, e.buf[:]); err != nil {
				return err
			}
		}
		c.order.Remove(el)
		c.index.Del(int(e.blockIdx))
		el = next
	}
	return nil
}

/// fs is the mounted FAT32 volume's shared state: geometry derived from
/// the BPB plus the block cache, referenced by every vnode's inode.
type fs struct {
	c              *cache
	partitionStart uint32
	fatStart       uint32
	dataStart      uint32
	sectorsPerClus uint32
	rootCluster    uint32
}

func (f *fs) clusterToDataBlock(cluster uint32) uint32 {
	return f.dataStart + (cluster-2)*f.sectorsPerClus
}

func (f *fs) clusterToFATBlock(cluster uint32) (blockIdx uint32, byteOff uint32) {
	fatByte := cluster * 4
	return f.fatStart + fatByte/blockSize, fatByte % blockSize
}

func (f *fs) fatEntry(cluster uint32) (uint32, error) {
	blk, off, err := f.readFATBlock(cluster)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(blk[off:off+4]) & 0x0FFFFFFF, nil
}

func (f *fs) readFATBlock(cluster uint32) ([]byte, uint32, error) {
	bi, off := f.clusterToFATBlock(cluster)
	e, err := f.c.readBlock(bi)
	if err != nil {
		return nil, 0, err
	}
	return e.buf[:], off, nil
}

func (f *fs) setFATEntry(cluster uint32, val uint32) error {
	bi, off := f.clusterToFATBlock(cluster)
	e, err := f.c.readBlock(bi)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(e.buf[off:off+4], val&0x0FFFFFFF)
	return f.c.writeBlock(bi, e.buf[:])
}

/// allocCluster scans the FAT for a free entry, marks it EOC, and
/// returns its cluster index, matching fat32fs_get_free_fat_entry.
func (f *fs) allocCluster() (uint32, defs.Err_t) {
	for cl := uint32(2); ; cl++ {
		bi, _ := f.clusterToFATBlock(cl)
		if _, err := f.c.readBlock(bi); err != nil {
			return 0, -defs.ENOSPC
		}
		v, err := f.fatEntry(cl)
		if err != nil {
			return 0, -defs.EIO
		}
		if v == freeCluster {
			if err := f.setFATEntry(cl, 0x0FFFFFFF); err != nil {
				return 0, -defs.EIO
			}
			return cl, 0
		}
		if cl > 0x0FFFFFF {
			return 0, -defs.ENOSPC
		}
	}
}

type inode struct {
	fs           *fs
	isDir        bool
	name         string
	direntBlock  uint32 // disk block index holding this entry's 32-byte dirent
	direntOff    int    // byte offset of the dirent within that block
	firstCluster uint32
	size         uint32
	children     []*vfs.Vnode_t
}

// mounted is the single parsed volume; like the original's one global
// rootfs/fat32_md pair, this board has exactly one SD card.
var mounted *fs

/// Register installs fat32 in the vfs registry under "fat32"; dev backs
/// the block cache with 512-byte reads/writes. Every mount parses the
/// volume and traverses its directory tree afresh, with a new cache.
func Register(dev board.BlockDevice_i) {
	vfs.RegisterFilesystem(&vfs.Filesystem_t{
		Name: "fat32",
		SetupMount: func(vfsFs *vfs.Filesystem_t) *vfs.Mount_t {
			f, err := mount(dev)
			if err != nil {
				panic("fat32: " + err.Error())
			}
			mounted = f
			root := newVnode(f, true, "", 0, 0, f.rootCluster, 0)
			traverse(root, f.rootCluster)
			return &vfs.Mount_t{Fs: vfsFs, Root: root}
		},
	})
}

/// Syncfs flushes the block cache's dirty entries to the backing
/// device, matching fat32fs_sync. A no-op if fat32 was never mounted.
func Syncfs() error {
	if mounted == nil {
		return nil
	}
	return mounted.c.sync()
}

type mountErr string

func (e mountErr) Error() string { return string(e) }

func mount(dev board.BlockDevice_i) (*fs, error) {
	c := newCache(dev)
	mbr, err := c.readBlock(0)
	if err != nil {
		return nil, err
	}
	const partTableOff = 0x1BE
	var partStart uint32 = 0xffffffff
	for i := 0; i < 4; i++ {
		e := partTableOff + i*16
		if mbr.buf[e+4] == partitionType {
			partStart = binary.LittleEndian.Uint32(mbr.buf[e+8 : e+12])
			break
		}
	}
	if partStart == 0xffffffff {
		return nil, mountErr("no FAT32 partition of type 0x0B found")
	}
	boot, err := c.readBlock(partStart)
	if err != nil {
		return nil, err
	}
	b := boot.buf[:]
	bytesPerSector := binary.LittleEndian.Uint16(b[11:13])
	if bytesPerSector != blockSize {
		return nil, mountErr("unsupported bytes-per-sector")
	}
	sectorsPerCluster := uint32(b[13])
	reservedSectors := uint32(binary.LittleEndian.Uint16(b[14:16]))
	numFATs := uint32(b[16])
	fatSize32 := binary.LittleEndian.Uint32(b[36:40])
	rootCluster := binary.LittleEndian.Uint32(b[44:48])

	fatStart := partStart + reservedSectors
	dataStart := fatStart + numFATs*fatSize32
	return &fs{
		c:              c,
		partitionStart: partStart,
		fatStart:       fatStart,
		dataStart:      dataStart,
		sectorsPerClus: sectorsPerCluster,
		rootCluster:    rootCluster,
	}, nil
}

func newVnode(f *fs, isDir bool, name string, direntBlock uint32, direntOff int, firstCluster uint32, size uint32) *vfs.Vnode_t {
	in := &inode{fs: f, isDir: isDir, name: name, direntBlock: direntBlock, direntOff: direntOff, firstCluster: firstCluster, size: size}
	v := &vfs.Vnode_t{Type: vfs.NTypeFat32, Internal: in}
	v.Ops = vnodeOps{}
	v.Fops = &fileHandle{v: v}
	return v
}

/// traverse recursively builds the in-memory vnode tree for a directory
/// cluster chain, matching fat32fs_traverse_directory. LFN entries are
/// skipped; short-filename 8.3 names are decoded with trailing spaces
/// trimmed, "." and ".." are skipped.
func traverse(dirVnode *vfs.Vnode_t, cluster uint32) {
	in := dirVnode.Internal.(*inode)
	f := in.fs
	for cluster < eocThreshold && cluster >= 2 {
		blockIdx := f.clusterToDataBlock(cluster)
		for s := uint32(0); s < f.sectorsPerClus; s++ {
			e, err := f.c.readBlock(blockIdx + s)
			if err != nil {
				return
			}
			for off := 0; off+direntSize <= blockSize; off += direntSize {
				ent := e.buf[off : off+direntSize]
				if ent[0] == 0x00 {
					return
				}
				if ent[0] == 0xE5 {
					continue
				}
				attr := ent[11]
				if attr == lfnAttr {
					continue
				}
				name := sfnToName(ent)
				if name == "." || name == ".." {
					continue
				}
				hi := uint32(binary.LittleEndian.Uint16(ent[20:22]))
				lo := uint32(binary.LittleEndian.Uint16(ent[26:28]))
				firstClus := hi<<16 | lo
				size := binary.LittleEndian.Uint32(ent[28:32])
				isDir := attr&dirAttr != 0
				child := newVnode(f, isDir, name, blockIdx+s, off, firstClus, size)
				in.children = append(in.children, child)
				if isDir {
					traverse(child, firstClus)
				}
			}
		}
		next, err := f.fatEntry(cluster)
		if err != nil {
			return
		}
		cluster = next
	}
}

func sfnToName(ent []byte) string {
	base := trimSpaces(ent[0:8])
	ext := trimSpaces(ent[8:11])
	if ext == "" {
		return base
	}
	return base + "." + ext
}

func trimSpaces(b []byte) string {
	n := len(b)
	for n > 0 && b[n-1] == ' ' {
		n--
	}
	return string(b[:n])
}

func fillSFN(ent []byte, name string) {
	base, ext := splitExt(name)
	for i := 0; i < 8; i++ {
		ent[i] = ' '
	}
	for i := 0; i < 3; i++ {
		ent[8+i] = ' '
	}
	copy(ent[0:8], []byte(upper(base)))
	copy(ent[8:11], []byte(upper(ext)))
}

func splitExt(name string) (string, string) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i], name[i+1:]
		}
	}
	return name, ""
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

type vnodeOps struct{}

func (vnodeOps) Lookup(dir *vfs.Vnode_t, name ustr.Ustr) (*vfs.Vnode_t, defs.Err_t) {
	in := dir.Internal.(*inode)
	if !in.isDir {
		return nil, -defs.ENOTDIR
	}
	s := name.String()
	for _, c := range in.children {
		if c.Internal.(*inode).name == s {
			return c, 0
		}
	}
	return nil, -defs.ENOENT
}

/// findFreeDirentSlot scans dir's cluster chain for a free dirent (first
/// byte 0x00 or 0xE5); if none exists, allocates and links a new
/// cluster, matching the create/mkdir scan-or-grow loop.
func findFreeDirentSlot(in *inode) (blockIdx uint32, off int, cluster uint32, err defs.Err_t) {
	f := in.fs
	cluster = in.firstCluster
	var lastCluster uint32
	for cluster < eocThreshold && cluster >= 2 {
		lastCluster = cluster
		bi := f.clusterToDataBlock(cluster)
		for s := uint32(0); s < f.sectorsPerClus; s++ {
			e, rerr := f.c.readBlock(bi + s)
			if rerr != nil {
				return 0, 0, 0, -defs.EIO
			}
			for o := 0; o+direntSize <= blockSize; o += direntSize {
				if e.buf[o] == 0x00 || e.buf[o] == 0xE5 {
					return bi + s, o, cluster, 0
				}
			}
		}
		next, ferr := f.fatEntry(cluster)
		if ferr != nil {
			return 0, 0, 0, -defs.EIO
		}
		cluster = next
	}
	newClus, aerr := f.allocCluster()
	if aerr != 0 {
		return 0, 0, 0, aerr
	}
	if err := f.setFATEntry(lastCluster, newClus); err != nil {
		return 0, 0, 0, -defs.EIO
	}
	var zero [blockSize]byte
	for s := uint32(0); s < f.sectorsPerClus; s++ {
		if err := f.c.writeBlock(f.clusterToDataBlock(newClus)+s, zero[:]); err != nil {
			return 0, 0, 0, -defs.EIO
		}
	}
	return f.clusterToDataBlock(newClus), 0, newClus, 0
}

func (vnodeOps) Create(dir *vfs.Vnode_t, name ustr.Ustr) (*vfs.Vnode_t, defs.Err_t) {
	in := dir.Internal.(*inode)
	if !in.isDir {
		return nil, -defs.ENOTDIR
	}
	f := in.fs
	blockIdx, off, _, err := findFreeDirentSlot(in)
	if err != 0 {
		return nil, err
	}
	e, rerr := f.c.readBlock(blockIdx)
	if rerr != nil {
		return nil, -defs.EIO
	}
	ent := e.buf[off : off+direntSize]
	fillSFN(ent, name.String())
	ent[11] = 0
	binary.LittleEndian.PutUint16(ent[20:22], 0)
	binary.LittleEndian.PutUint16(ent[26:28], 0)
	binary.LittleEndian.PutUint32(ent[28:32], 0)
	if werr := f.c.writeBlock(blockIdx, e.buf[:]); werr != nil {
		return nil, -defs.EIO
	}
	child := newVnode(f, false, name.String(), blockIdx, off, 0, 0)
	in.children = append(in.children, child)
	return child, 0
}

func (vnodeOps) Mkdir(dir *vfs.Vnode_t, name ustr.Ustr) (*vfs.Vnode_t, defs.Err_t) {
	in := dir.Internal.(*inode)
	if !in.isDir {
		return nil, -defs.ENOTDIR
	}
	f := in.fs
	newClus, aerr := f.allocCluster()
	if aerr != 0 {
		return nil, aerr
	}
	blockIdx, off, _, err := findFreeDirentSlot(in)
	if err != 0 {
		return nil, err
	}
	e, rerr := f.c.readBlock(blockIdx)
	if rerr != nil {
		return nil, -defs.EIO
	}
	ent := e.buf[off : off+direntSize]
	fillSFN(ent, name.String())
	ent[11] = dirAttr
	binary.LittleEndian.PutUint16(ent[20:22], uint16(newClus>>16))
	binary.LittleEndian.PutUint16(ent[26:28], uint16(newClus&0xffff))
	binary.LittleEndian.PutUint32(ent[28:32], 0)
	if werr := f.c.writeBlock(blockIdx, e.buf[:]); werr != nil {
		return nil, -defs.EIO
	}

	var dotBlock [blockSize]byte
	writeDotEntries(dotBlock[:], newClus, in.firstCluster)
	if werr := f.c.writeBlock(f.clusterToDataBlock(newClus), dotBlock[:]); werr != nil {
		return nil, -defs.EIO
	}

	child := newVnode(f, true, name.String(), blockIdx, off, newClus, 0)
	in.children = append(in.children, child)
	return child, 0
}

func writeDotEntries(block []byte, selfCluster uint32, parentCluster uint32) {
	dot := block[0:direntSize]
	copy(dot[0:8], []byte(".       "))
	copy(dot[8:11], []byte("   "))
	dot[11] = dirAttr
	binary.LittleEndian.PutUint16(dot[20:22], uint16(selfCluster>>16))
	binary.LittleEndian.PutUint16(dot[26:28], uint16(selfCluster&0xffff))

	dotdot := block[direntSize : 2*direntSize]
	copy(dotdot[0:8], []byte("..      "))
	copy(dotdot[8:11], []byte("   "))
	dotdot[11] = dirAttr
	binary.LittleEndian.PutUint16(dotdot[20:22], uint16(parentCluster>>16))
	binary.LittleEndian.PutUint16(dotdot[26:28], uint16(parentCluster&0xffff))
}

type fileHandle struct {
	v   *vfs.Vnode_t
	pos int
}

func (h *fileHandle) Close() defs.Err_t { return 0 }

func (h *fileHandle) Fstat(st fdops.Stat_i) defs.Err_t {
	in := h.v.Internal.(*inode)
	mode := uint(0)
	if in.isDir {
		mode = 1
	}
	st.Wmode(mode)
	st.Wsize(uint(in.size))
	return 0
}

func (h *fileHandle) Lseek(off int, whence int) (int, defs.Err_t) {
	in := h.v.Internal.(*inode)
	switch whence {
	case defs.SEEK_SET:
		if off >= int(in.size) {
			return -1, 0
		}
		h.pos = off
	case defs.SEEK_CUR:
		h.pos += off
	case defs.SEEK_END:
		h.pos = int(in.size) + off
	default:
		return 0, -defs.EINVAL
	}
	return h.pos, 0
}

func (h *fileHandle) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	n, err := h.Pread(dst, h.pos)
	h.pos += n
	return n, err
}

func (h *fileHandle) Write(src fdops.Userio_i) (int, defs.Err_t) {
	n, err := h.Pwrite(src, h.pos)
	h.pos += n
	return n, err
}

/// clusterAt walks the FAT chain forward n blocks from first_cluster,
/// matching the read/write loop's "walk the FAT forward f_pos/512 steps".
func clusterAt(f *fs, first uint32, nblocks int) (uint32, defs.Err_t) {
	cluster := first
	blocksPerCluster := int(f.sectorsPerClus)
	for nblocks >= blocksPerCluster {
		next, err := f.fatEntry(cluster)
		if err != nil {
			return 0, -defs.EIO
		}
		if next >= eocThreshold {
			return 0, -defs.EIO
		}
		cluster = next
		nblocks -= blocksPerCluster
	}
	return cluster, 0
}

func (h *fileHandle) Pread(dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	in := h.v.Internal.(*inode)
	f := in.fs
	if offset >= int(in.size) {
		return 0, 0
	}
	remain := int(in.size) - offset
	want := dst.Remain()
	if want > remain {
		want = remain
	}
	total := 0
	for total < want {
		blockNo := (offset + total) / blockSize
		blockOff := (offset + total) % blockSize
		cluster, err := clusterAt(f, in.firstCluster, blockNo)
		if err != 0 {
			return total, err
		}
		e, rerr := f.c.readBlock(f.clusterToDataBlock(cluster) + uint32(blockNo)%f.sectorsPerClus)
		if rerr != nil {
			return total, -defs.EIO
		}
		n := blockSize - blockOff
		if n > want-total {
			n = want - total
		}
		wn, werr := dst.Uiowrite(e.buf[blockOff : blockOff+n])
		if werr != 0 {
			return total, werr
		}
		total += wn
		if wn < n {
			break
		}
	}
	return total, 0
}

func (h *fileHandle) Pwrite(src fdops.Userio_i, offset int) (int, defs.Err_t) {
	in := h.v.Internal.(*inode)
	f := in.fs
	if in.firstCluster == 0 {
		newClus, err := f.allocCluster()
		if err != 0 {
			return 0, err
		}
		in.firstCluster = newClus
	}
	total := 0
	want := src.Remain()
	blocksPerCluster := int(f.sectorsPerClus)
	for total < want {
		blockNo := (offset + total) / blockSize
		blockOff := (offset + total) % blockSize
		cluster, cerr := extendAndWalk(f, in, blockNo, blocksPerCluster)
		if cerr != 0 {
			return total, cerr
		}
		e, rerr := f.c.readBlock(f.clusterToDataBlock(cluster) + uint32(blockNo)%f.sectorsPerClus)
		if rerr != nil {
			return total, -defs.EIO
		}
		n := blockSize - blockOff
		if n > want-total {
			n = want - total
		}
		rn, rerr2 := src.Uioread(e.buf[blockOff : blockOff+n])
		if rerr2 != 0 {
			return total, rerr2
		}
		if err := f.c.writeBlock(f.clusterToDataBlock(cluster)+uint32(blockNo)%f.sectorsPerClus, e.buf[:]); err != nil {
			return total, -defs.EIO
		}
		total += rn
		if rn < n {
			break
		}
	}
	if uint32(offset+total) > in.size {
		in.size = uint32(offset + total)
		if werr := updateDirentSize(f, in); werr != 0 {
			return total, werr
		}
	}
	return total, 0
}

/// extendAndWalk walks the FAT forward to the cluster owning blockNo,
/// allocating and linking new clusters as needed, matching the grow
/// path of fat32fs_write.
func extendAndWalk(f *fs, in *inode, blockNo int, blocksPerCluster int) (uint32, defs.Err_t) {
	cluster := in.firstCluster
	remaining := blockNo
	for remaining >= blocksPerCluster {
		next, err := f.fatEntry(cluster)
		if err != nil {
			return 0, -defs.EIO
		}
		if next >= eocThreshold {
			newClus, aerr := f.allocCluster()
			if aerr != 0 {
				return 0, aerr
			}
			if serr := f.setFATEntry(cluster, newClus); serr != nil {
				return 0, -defs.EIO
			}
			next = newClus
		}
		cluster = next
		remaining -= blocksPerCluster
	}
	return cluster, 0
}

func updateDirentSize(f *fs, in *inode) defs.Err_t {
	bi, off := in.direntBlock, in.direntOff
	ent, rerr := f.c.readBlock(bi)
	if rerr != nil {
		return -defs.EIO
	}
	binary.LittleEndian.PutUint32(ent.buf[off+28:off+32], in.size)
	if in.firstCluster != 0 {
		binary.LittleEndian.PutUint16(ent.buf[off+20:off+22], uint16(in.firstCluster>>16))
		binary.LittleEndian.PutUint16(ent.buf[off+26:off+28], uint16(in.firstCluster&0xffff))
	}
	if werr := f.c.writeBlock(bi, ent.buf[:]); werr != nil {
		return -defs.EIO
	}
	return 0
}

func (h *fileHandle) Reopen() defs.Err_t { return 0 }

func (h *fileHandle) Fullpath() (string, defs.Err_t) {
	return h.v.Internal.(*inode).name, 0
}

func (h *fileHandle) Truncate(newlen uint) defs.Err_t {
	in := h.v.Internal.(*inode)
	in.size = uint32(newlen)
	return updateDirentSize(in.fs, in)
}

func (h *fileHandle) Ioctl(req int, arg uintptr) (int, defs.Err_t) {
	return 0, -defs.ENOTTY
}

