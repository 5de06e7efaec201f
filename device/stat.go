package device

import (
	"time"

	"github.com/google/pprof/profile"

	"raspbit/bpath"
	"raspbit/defs"
	"raspbit/diag"
	"raspbit/fdops"
	"raspbit/mem"
	"raspbit/proc"
	"raspbit/ustr"
	"raspbit/vfs"
)

// pollWindow is the nominal sampling interval D_PROF reports as its
// capture duration; this board has no real sampling timer driving it,
// so every read is treated as its own one-window snapshot.
const pollWindow = 100 * time.Millisecond

/// StatFile backs /dev/stat (D_STAT): each read returns a fresh pprof
/// snapshot of the current buddy/slab/scheduler counters, re-encoded
/// from scratch every call since there is nothing to page through.
type StatFile struct {
	buddy *mem.Buddy_t
	pool  *mem.Pool_t
	sched *proc.Sched_t
}

/// ProfFile backs /dev/prof (D_PROF): the same snapshot as StatFile,
/// stamped with a capture window, standing in for a real profiling
/// timer's sampling interval.
type ProfFile struct {
	buddy *mem.Buddy_t
	pool  *mem.Pool_t
	sched *proc.Sched_t
}

/// RegisterStat installs /dev/stat, matching vfs_mknod for the
/// statistics device named in defs.D_STAT.
func RegisterStat(buddy *mem.Buddy_t, pool *mem.Pool_t, sched *proc.Sched_t) defs.Err_t {
	id := vfs.RegisterDevice(&StatFile{buddy: buddy, pool: pool, sched: sched})
	return vfs.Mknod(bpath.Canonicalize(ustr.Ustr("/dev/stat")), id)
}

/// RegisterProf installs /dev/prof, matching vfs_mknod for the
/// profiling device named in defs.D_PROF.
func RegisterProf(buddy *mem.Buddy_t, pool *mem.Pool_t, sched *proc.Sched_t) defs.Err_t {
	id := vfs.RegisterDevice(&ProfFile{buddy: buddy, pool: pool, sched: sched})
	return vfs.Mknod(bpath.Canonicalize(ustr.Ustr("/dev/prof")), id)
}

func (f *StatFile) Close() defs.Err_t { return 0 }
func (f *StatFile) Fstat(st fdops.Stat_i) defs.Err_t {
	st.Wmode(0)
	return 0
}
func (f *StatFile) Lseek(off int, whence int) (int, defs.Err_t) { return 0, -defs.ESPIPE }
func (f *StatFile) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	return readSnapshot(diag.StatSnapshot(f.buddy, f.pool, f.sched), dst)
}
func (f *StatFile) Write(src fdops.Userio_i) (int, defs.Err_t) { return 0, -defs.EINVAL }
func (f *StatFile) Pread(dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	return 0, -defs.ESPIPE
}
func (f *StatFile) Pwrite(src fdops.Userio_i, offset int) (int, defs.Err_t) {
	return 0, -defs.ESPIPE
}
func (f *StatFile) Reopen() defs.Err_t             { return 0 }
func (f *StatFile) Fullpath() (string, defs.Err_t) { return "/dev/stat", 0 }
func (f *StatFile) Truncate(newlen uint) defs.Err_t { return -defs.EINVAL }
func (f *StatFile) Ioctl(req int, arg uintptr) (int, defs.Err_t) {
	return 0, -defs.ENOTTY
}

func (f *ProfFile) Close() defs.Err_t { return 0 }
func (f *ProfFile) Fstat(st fdops.Stat_i) defs.Err_t {
	st.Wmode(0)
	return 0
}
func (f *ProfFile) Lseek(off int, whence int) (int, defs.Err_t) { return 0, -defs.ESPIPE }
func (f *ProfFile) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	return readSnapshot(diag.ProfSnapshot(f.buddy, f.pool, f.sched, pollWindow), dst)
}
func (f *ProfFile) Write(src fdops.Userio_i) (int, defs.Err_t) { return 0, -defs.EINVAL }
func (f *ProfFile) Pread(dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	return 0, -defs.ESPIPE
}
func (f *ProfFile) Pwrite(src fdops.Userio_i, offset int) (int, defs.Err_t) {
	return 0, -defs.ESPIPE
}
func (f *ProfFile) Reopen() defs.Err_t             { return 0 }
func (f *ProfFile) Fullpath() (string, defs.Err_t) { return "/dev/prof", 0 }
func (f *ProfFile) Truncate(newlen uint) defs.Err_t { return -defs.EINVAL }
func (f *ProfFile) Ioctl(req int, arg uintptr) (int, defs.Err_t) {
	return 0, -defs.ENOTTY
}

/// readSnapshot encodes p in pprof wire format and copies as much as
/// dst has room for. A snapshot that doesn't fit in one read is
/// truncated, not paginated: D_STAT/D_PROF have no file position of
/// their own, matching uartFile's "each read drains what's available
/// right now" contract rather than a regular file's seekable stream.
func readSnapshot(p *profile.Profile, dst fdops.Userio_i) (int, defs.Err_t) {
	buf, err := diag.Encode(p)
	if err != nil {
		return 0, -defs.EIO
	}
	return dst.Uiowrite(buf)
}
