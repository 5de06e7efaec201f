// Package vfs implements the mount-tree virtual filesystem (component
// J): a single global rootfs mount, vnode/file/mount structs, and
// vnode_ops/file_ops dispatch tables, grounded on vfs_lookup/vfs_open/
// vfs_mount's component-by-component path walk with mount-boundary
// crossing at each lookup.
package vfs

import (
	"sync"

	"raspbit/bpath"
	"raspbit/defs"
	"raspbit/fdops"
	"raspbit/stat"
	"raspbit/ustr"
)

/// NodeType mirrors node_type_t: which backing filesystem owns a vnode.
type NodeType int

const (
	NTypeTmp NodeType = iota
	NTypeInitram
	NTypeFat32
	NTypeDev
)

/// VnodeOps_i is a filesystem's directory operations, dispatched through
/// Vnode_t.Ops exactly like v_ops in the original.
type VnodeOps_i interface {
	Lookup(dir *Vnode_t, name ustr.Ustr) (*Vnode_t, defs.Err_t)
	Create(dir *Vnode_t, name ustr.Ustr) (*Vnode_t, defs.Err_t)
	Mkdir(dir *Vnode_t, name ustr.Ustr) (*Vnode_t, defs.Err_t)
}

/// Vnode_t is one filesystem object: a directory or a file, owned by
/// exactly one Mount_t and carrying filesystem-private state in
/// Internal (each of tmpfs, initramfs and fat32 stores a pointer to its
/// own unexported inode type).
type Vnode_t struct {
	Type     NodeType
	Ops      VnodeOps_i
	Fops     fdops.Fdops_i
	Mount    *Mount_t // non-nil once something is mounted here; lookups cross into Mount.Root
	Internal interface{}
}

/// Mount_t is one mounted filesystem instance.
type Mount_t struct {
	Fs   *Filesystem_t
	Root *Vnode_t
}

/// Filesystem_t is a registered filesystem type (tmpfs, initramfs,
/// fat32): SetupMount builds a fresh Mount_t's root vnode.
type Filesystem_t struct {
	Name      string
	SetupMount func(fs *Filesystem_t) *Mount_t
}

var (
	mu         sync.Mutex
	registered = map[string]*Filesystem_t{}
	rootfs     *Mount_t
	devices    []fdops.Fdops_i // registered device file_ops, indexed by mknod's returned id
)

/// RegisterFilesystem adds fs to the registry findable by name in Mount.
func RegisterFilesystem(fs *Filesystem_t) {
	mu.Lock()
	defer mu.Unlock()
	registered[fs.Name] = fs
}

/// RegisterDevice adds file operations for a device node and returns its
/// id, used by Mknod the same way register_dev's reg_dev slot index is.
func RegisterDevice(fo fdops.Fdops_i) int {
	mu.Lock()
	defer mu.Unlock()
	devices = append(devices, fo)
	return len(devices) - 1
}

func findFilesystem(name string) *Filesystem_t {
	mu.Lock()
	defer mu.Unlock()
	return registered[name]
}

/// InitRootfs mounts fsname (normally "tmpfs") as the root. Must be
/// called exactly once before Lookup/Open/Mkdir are usable.
func InitRootfs(fsname string) defs.Err_t {
	fs := findFilesystem(fsname)
	if fs == nil {
		return -defs.ENOENT
	}
	mu.Lock()
	rootfs = fs.SetupMount(fs)
	mu.Unlock()
	return 0
}

/// Lookup resolves pathname (already canonical, no "." or "..") to a
/// vnode, matching vfs_lookup's component-by-component walk: each
/// directory lookup crosses into a child mount's root if one exists
/// before the walk continues.
func Lookup(pathname ustr.Ustr) (*Vnode_t, defs.Err_t) {
	mu.Lock()
	root := rootfs
	mu.Unlock()
	if root == nil {
		return nil, -defs.ENOENT
	}
	p := bpath.Canonicalize(pathname)
	if len(p) == 0 || (len(p) == 1 && p[0] == '/') {
		return crossMounts(root.Root), 0
	}
	cur := root.Root
	for _, comp := range splitComponents(p) {
		next, err := cur.Ops.Lookup(cur, comp)
		if err != 0 {
			return nil, err
		}
		cur = crossMounts(next)
	}
	return cur, 0
}

func crossMounts(v *Vnode_t) *Vnode_t {
	for v.Mount != nil {
		v = v.Mount.Root
	}
	return v
}

func splitComponents(p ustr.Ustr) []ustr.Ustr {
	var out []ustr.Ustr
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				out = append(out, ustr.Ustr(string(p[start:i])))
			}
			start = i + 1
		}
	}
	return out
}

/// Create makes a regular file at pathname, matching vfs_create: the
/// parent directory is looked up and asked to create a single new
/// component.
func Create(pathname ustr.Ustr) (*Vnode_t, defs.Err_t) {
	parent, name := bpath.Split(bpath.Canonicalize(pathname))
	dir, err := Lookup(parent)
	if err != 0 {
		return nil, err
	}
	return dir.Ops.Create(dir, name)
}

/// Mkdir makes a directory at pathname, matching vfs_mkdir.
func Mkdir(pathname ustr.Ustr) (*Vnode_t, defs.Err_t) {
	parent, name := bpath.Split(bpath.Canonicalize(pathname))
	dir, err := Lookup(parent)
	if err != 0 {
		return nil, err
	}
	return dir.Ops.Mkdir(dir, name)
}

/// Mount grafts the named filesystem's fresh mount onto target,
/// matching vfs_mount.
func Mount(target ustr.Ustr, fsname string) defs.Err_t {
	fs := findFilesystem(fsname)
	if fs == nil {
		return -defs.ENOENT
	}
	dir, err := Lookup(target)
	if err != 0 {
		return err
	}
	dir.Mount = fs.SetupMount(fs)
	return 0
}

/// Mknod opens pathname for creation (if needed) and rebinds its file
/// operations to the registered device id, matching vfs_mknod.
func Mknod(pathname ustr.Ustr, devID int) defs.Err_t {
	v, err := Lookup(pathname)
	if err != 0 {
		v, err = Create(pathname)
		if err != 0 {
			return err
		}
	}
	mu.Lock()
	if devID < 0 || devID >= len(devices) {
		mu.Unlock()
		return -defs.EINVAL
	}
	fo := devices[devID]
	mu.Unlock()
	v.Fops = fo
	v.Type = NTypeDev
	return 0
}

/// Open opens pathname for fdops, creating it first when flags asks for
/// O_CREAT and the lookup fails, matching vfs_open.
func Open(pathname ustr.Ustr, flags int) (fdops.Fdops_i, defs.Err_t) {
	v, err := Lookup(pathname)
	if err != 0 {
		if flags&defs.O_CREAT == 0 {
			return nil, err
		}
		v, err = Create(pathname)
		if err != 0 {
			return nil, err
		}
	}
	return v.Fops, 0
}

/// StatVnode fills a stat struct for v, used by fstat-style syscalls
/// once a vnode's file operations have been opened.
func StatVnode(v *Vnode_t) stat.Stat_t {
	var st stat.Stat_t
	if v.Fops != nil {
		v.Fops.Fstat(&st)
	}
	return st
}
