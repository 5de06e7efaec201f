// Package initramfs parses a CPIO "newc" archive into a read-only vnode
// tree (component K), grounded on initramfs_setup_mount's header walk:
// each entry is a 110-byte ASCII-hex header, followed by the NUL-
// terminated pathname, followed by 4-byte-aligned padding, followed by
// the file's bytes, followed by 4-byte-aligned padding, until the
// TRAILER!!! sentinel entry.
package initramfs

import (
	"encoding/hex"
	"fmt"

	"raspbit/defs"
	"raspbit/fdops"
	"raspbit/ustr"
	"raspbit/vfs"
)

const (
	magic       = "070701"
	headerSize  = 110
	trailerName = "TRAILER!!!"
)

type inode struct {
	isDir    bool
	name     string
	children []*vfs.Vnode_t
	data     []byte
}

/// Register installs initramfs in the vfs registry under "initramfs".
/// archive is the raw CPIO newc bytes (normally the DTB-reserved ramdisk
/// range exposed by board.Cpio_i); SetupMount parses it fresh each
/// time it is mounted.
func Register(archive []byte) {
	vfs.RegisterFilesystem(&vfs.Filesystem_t{
		Name: "initramfs",
		SetupMount: func(fs *vfs.Filesystem_t) *vfs.Mount_t {
			root := newVnode(true, "")
			if err := parse(archive, root); err != nil {
				panic(fmt.Sprintf("initramfs: %s", err))
			}
			return &vfs.Mount_t{Fs: fs, Root: root}
		},
	})
}

func newVnode(isDir bool, name string) *vfs.Vnode_t {
	in := &inode{isDir: isDir, name: name}
	v := &vfs.Vnode_t{Type: vfs.NTypeInitram, Internal: in}
	v.Ops = vnodeOps{}
	v.Fops = &fileHandle{v: v}
	return v
}

func hexToUint(b []byte) (uint64, error) {
	raw, err := hex.DecodeString(string(b))
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, x := range raw {
		v = v<<8 | uint64(x)
	}
	return v, nil
}

func align4(off int) int {
	return (off + 3) &^ 3
}

func parse(archive []byte, root *vfs.Vnode_t) error {
	rootInode := root.Internal.(*inode)
	off := 0
	for {
		if off+headerSize > len(archive) {
			return fmt.Errorf("truncated header at offset %d", off)
		}
		hdr := archive[off : off+headerSize]
		if string(hdr[0:6]) != magic {
			return fmt.Errorf("bad magic at offset %d", off)
		}
		namesize, err := hexToUint(hdr[94:102])
		if err != nil {
			return err
		}
		filesize, err := hexToUint(hdr[54:62])
		if err != nil {
			return err
		}
		nameStart := off + headerSize
		nameEnd := nameStart + int(namesize)
		if nameEnd > len(archive) {
			return fmt.Errorf("truncated name at offset %d", off)
		}
		name := cstr(archive[nameStart:nameEnd])
		dataStart := align4(nameEnd)
		dataEnd := dataStart + int(filesize)
		if dataEnd > len(archive) {
			return fmt.Errorf("truncated data at offset %d", off)
		}
		if name == trailerName {
			return nil
		}
		data := archive[dataStart:dataEnd]
		fv := newVnode(false, name)
		fv.Internal.(*inode).data = data
		rootInode.children = append(rootInode.children, fv)
		off = align4(dataEnd)
	}
}

func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
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

func (vnodeOps) Create(dir *vfs.Vnode_t, name ustr.Ustr) (*vfs.Vnode_t, defs.Err_t) {
	return nil, -defs.EROFS
}

func (vnodeOps) Mkdir(dir *vfs.Vnode_t, name ustr.Ustr) (*vfs.Vnode_t, defs.Err_t) {
	return nil, -defs.EROFS
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
	st.Wsize(uint(len(in.data)))
	return 0
}

func (h *fileHandle) Lseek(off int, whence int) (int, defs.Err_t) {
	in := h.v.Internal.(*inode)
	switch whence {
	case defs.SEEK_SET:
		if off >= len(in.data) {
			return -1, 0
		}
		h.pos = off
	case defs.SEEK_CUR:
		h.pos += off
	case defs.SEEK_END:
		h.pos = len(in.data) + off
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
	return 0, -defs.EROFS
}

func (h *fileHandle) Pread(dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	in := h.v.Internal.(*inode)
	if offset >= len(in.data) {
		return 0, 0
	}
	n, err := dst.Uiowrite(in.data[offset:])
	return n, err
}

func (h *fileHandle) Pwrite(src fdops.Userio_i, offset int) (int, defs.Err_t) {
	return 0, -defs.EROFS
}

func (h *fileHandle) Reopen() defs.Err_t { return 0 }

func (h *fileHandle) Fullpath() (string, defs.Err_t) {
	return h.v.Internal.(*inode).name, 0
}

func (h *fileHandle) Truncate(newlen uint) defs.Err_t {
	return -defs.EROFS
}

func (h *fileHandle) Ioctl(req int, arg uintptr) (int, defs.Err_t) {
	return 0, -defs.ENOTTY
}
