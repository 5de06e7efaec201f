// Package fdops defines the operation tables every open file descriptor
// and every kind of user I/O buffer implement.
package fdops

import "raspbit/defs"

/// Userio_i abstracts a buffer that user code reads from or writes into,
/// so file operations never need to know whether the other end is a real
/// userspace VMA or an in-kernel fake buffer used for bootstrapping and
/// tests.
type Userio_i interface {
	Uioread(dst []uint8) (int, defs.Err_t)
	Uiowrite(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

/// Stat_i is the narrow stat-writer interface file operations fill in.
/// Kept separate from package stat to avoid an import cycle (vfs imports
/// both fdops and stat).
type Stat_i interface {
	Wdev(uint)
	Wino(uint)
	Wmode(uint)
	Wsize(uint)
	Wrdev(uint)
}

/// Fdops_i is the dispatch table every open file descriptor (regular
/// file, directory, device) implements.
type Fdops_i interface {
	Close() defs.Err_t
	Fstat(st Stat_i) defs.Err_t
	Lseek(off int, whence int) (int, defs.Err_t)
	Read(dst Userio_i) (int, defs.Err_t)
	Write(src Userio_i) (int, defs.Err_t)
	Pread(dst Userio_i, offset int) (int, defs.Err_t)
	Pwrite(src Userio_i, offset int) (int, defs.Err_t)
	Reopen() defs.Err_t
	Fullpath() (string, defs.Err_t)
	Truncate(newlen uint) defs.Err_t
	Ioctl(req int, arg uintptr) (int, defs.Err_t)
}
