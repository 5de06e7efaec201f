// Package tmpfs implements the in-memory root filesystem (component K):
// directories hold a slice of child vnodes, files hold a byte slice
// capped at MaxFileSize, grounded on tmpfs_create_vnode/tmpfs_lookup/
// tmpfs_create/tmpfs_mkdir/tmpfs_write/tmpfs_read.
package tmpfs

import (
	"raspbit/defs"
	"raspbit/fdops"
	"raspbit/ustr"
	"raspbit/vfs"
)

/// MaxFileSize bounds a single tmpfs file, matching the original's
/// fixed 0x1000 backing allocation per inode.
const MaxFileSize = 4096

/// MaxNameLen bounds a path component, matching FILE_NAME_MAX.
const MaxNameLen = 15

type inode struct {
	isDir    bool
	name     string
	children []*vfs.Vnode_t
	data     []byte
	size     int
}

/// Register installs tmpfs in the vfs filesystem registry under the
/// name "tmpfs", matching register_tmpfs.
func Register() {
	vfs.RegisterFilesystem(&vfs.Filesystem_t{
		Name: "tmpfs",
		SetupMount: func(fs *vfs.Filesystem_t) *vfs.Mount_t {
			root := newVnode(true, "")
			return &vfs.Mount_t{Fs: fs, Root: root}
		},
	})
}

func newVnode(isDir bool, name string) *vfs.Vnode_t {
	in := &inode{isDir: isDir, name: name}
	if !isDir {
		in.data = make([]byte, 0, MaxFileSize)
	}
	v := &vfs.Vnode_t{Type: vfs.NTypeTmp, Internal: in}
	v.Ops = vnodeOps{}
	v.Fops = &fileHandle{v: v}
	return v
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
	in := dir.Internal.(*inode)
	if !in.isDir {
		return nil, -defs.ENOTDIR
	}
	if len(name) > MaxNameLen {
		return nil, -defs.ENAMETOOLONG
	}
	s := name.String()
	for _, c := range in.children {
		if c.Internal.(*inode).name == s && !c.Internal.(*inode).isDir {
			return nil, -defs.EEXIST
		}
	}
	nv := newVnode(false, s)
	in.children = append(in.children, nv)
	return nv, 0
}

func (vnodeOps) Mkdir(dir *vfs.Vnode_t, name ustr.Ustr) (*vfs.Vnode_t, defs.Err_t) {
	in := dir.Internal.(*inode)
	if !in.isDir {
		return nil, -defs.ENOTDIR
	}
	if len(name) > MaxNameLen {
		return nil, -defs.ENAMETOOLONG
	}
	s := name.String()
	for _, c := range in.children {
		if c.Internal.(*inode).name == s {
			return nil, -defs.EEXIST
		}
	}
	nv := newVnode(true, s)
	in.children = append(in.children, nv)
	return nv, 0
}

/// fileHandle is the open-file state for one fd pointed at a tmpfs
/// vnode: just an independent seek offset, matching file_t.f_pos.
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
		if off >= in.size {
			return -1, 0
		}
		h.pos = off
	case defs.SEEK_CUR:
		h.pos += off
	case defs.SEEK_END:
		h.pos = in.size + off
	default:
		return 0, -defs.EINVAL
	}
	return h.pos, 0
}

func (h *fileHandle) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	return h.Pread(dst, h.pos)
}

func (h *fileHandle) Write(src fdops.Userio_i) (int, defs.Err_t) {
	return h.Pwrite(src, h.pos)
}

func (h *fileHandle) Pread(dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	in := h.v.Internal.(*inode)
	if offset >= in.size {
		return 0, 0
	}
	avail := in.size - offset
	buf := make([]byte, avail)
	copy(buf, in.data[offset:in.size])
	n, err := dst.Uiowrite(buf)
	if err != 0 {
		return 0, err
	}
	h.pos = offset + n
	return n, 0
}

func (h *fileHandle) Pwrite(src fdops.Userio_i, offset int) (int, defs.Err_t) {
	in := h.v.Internal.(*inode)
	remain := src.Remain()
	if offset+remain > MaxFileSize {
		remain = MaxFileSize - offset
	}
	if remain <= 0 {
		return 0, -defs.EFBIG
	}
	if cap(in.data) < offset+remain {
		grown := make([]byte, offset+remain)
		copy(grown, in.data)
		in.data = grown
	} else if len(in.data) < offset+remain {
		in.data = in.data[:offset+remain]
	}
	n, err := src.Uioread(in.data[offset : offset+remain])
	if err != 0 {
		return 0, err
	}
	if offset+n > in.size {
		in.size = offset + n
	}
	h.pos = offset + n
	return n, 0
}

func (h *fileHandle) Reopen() defs.Err_t { return 0 }

func (h *fileHandle) Fullpath() (string, defs.Err_t) {
	return h.v.Internal.(*inode).name, 0
}

func (h *fileHandle) Truncate(newlen uint) defs.Err_t {
	in := h.v.Internal.(*inode)
	if int(newlen) > MaxFileSize {
		return -defs.EFBIG
	}
	in.size = int(newlen)
	return 0
}

func (h *fileHandle) Ioctl(req int, arg uintptr) (int, defs.Err_t) {
	return 0, -defs.ENOTTY
}
