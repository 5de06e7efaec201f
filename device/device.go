// Package device implements the character device shims (component M):
// a UART backed by a circbuf ring buffer, and a linear framebuffer.
// Each registers a file_operations-equivalent table against a vfs
// device id, matching init_dev_uart/init_dev_framebuffer + vfs_mknod.
package device

import (
	"raspbit/bpath"
	"raspbit/circbuf"
	"raspbit/defs"
	"raspbit/fdops"
	"raspbit/ustr"
	"raspbit/vfs"
)

// UART ring buffer size. Arbitrary but generous for a teaching kernel's
// line-oriented shell traffic.
const uartBufSize = 1024

/// Uart_t is the device-side half of the UART: RX bytes pushed in by
/// the interrupt handler (PushRX), TX bytes read out by the interrupt
/// handler (PopTX) to hand to putc_async.
type Uart_t struct {
	rx circbuf.Circbuf_t
	tx circbuf.Circbuf_t
}

/// NewUart allocates both ring buffers.
func NewUart() *Uart_t {
	u := &Uart_t{}
	u.rx.Cb_init(uartBufSize)
	u.tx.Cb_init(uartBufSize)
	return u
}

/// PushRX is called by the RX interrupt handler (AUX_MU_IIR bit 0x04)
/// with one byte read via getc_async.
func (u *Uart_t) PushRX(b byte) {
	uio := &byteUio{b: [1]byte{b}, n: 1}
	u.rx.Copyin(uio)
}

/// PopTX is called by the TX interrupt handler (AUX_MU_IIR bit 0x02);
/// ok is false when there is nothing queued to send.
func (u *Uart_t) PopTX() (byte, bool) {
	if u.tx.Empty() {
		return 0, false
	}
	var out [1]byte
	uio := &byteUio{out: out[:]}
	u.tx.Copyout_n(uio, 1)
	return uio.out[0], true
}

/// Read drains whatever is queued in the RX ring into dst, matching
/// syscall 1 (uartread): it bypasses the vfs/fd layer entirely, exactly
/// as the original uartread syscall talks to the UART directly rather
/// than through a file descriptor.
func (u *Uart_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	return u.rx.Copyout(dst)
}

/// Write queues src into the TX ring, matching syscall 2 (uartwrite).
func (u *Uart_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	return u.tx.Copyin(src)
}

type byteUio struct {
	b   [1]byte
	n   int
	out []byte
	off int
}

func (b *byteUio) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, b.b[:b.n])
	b.n -= n
	return n, 0
}
func (b *byteUio) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(b.out, src)
	return n, 0
}
func (b *byteUio) Remain() int  { return b.n }
func (b *byteUio) Totalsz() int { return 1 }

type uartFile struct {
	u *Uart_t
}

func (f *uartFile) Close() defs.Err_t { return 0 }
func (f *uartFile) Fstat(st fdops.Stat_i) defs.Err_t {
	st.Wmode(0)
	return 0
}
func (f *uartFile) Lseek(off int, whence int) (int, defs.Err_t) { return 0, -defs.ESPIPE }

/// Read drains whatever is currently queued in the RX ring, matching
/// the uartread syscall's "loop over getc_async" behavior: it does not
/// block waiting for more bytes to arrive.
func (f *uartFile) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	return f.u.rx.Copyout(dst)
}

/// Write queues src into the TX ring for the interrupt handler to drain
/// via PopTX, matching uartwrite.
func (f *uartFile) Write(src fdops.Userio_i) (int, defs.Err_t) {
	return f.u.tx.Copyin(src)
}
func (f *uartFile) Pread(dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	return f.Read(dst)
}
func (f *uartFile) Pwrite(src fdops.Userio_i, offset int) (int, defs.Err_t) {
	return f.Write(src)
}
func (f *uartFile) Reopen() defs.Err_t            { return 0 }
func (f *uartFile) Fullpath() (string, defs.Err_t) { return "/dev/uart", 0 }
func (f *uartFile) Truncate(newlen uint) defs.Err_t { return -defs.EINVAL }
func (f *uartFile) Ioctl(req int, arg uintptr) (int, defs.Err_t) {
	return 0, -defs.ENOTTY
}

/// RegisterUart installs u as /dev/uart, matching init_dev_uart +
/// vfs_mknod("/dev/uart", uart_id).
func RegisterUart(u *Uart_t) defs.Err_t {
	id := vfs.RegisterDevice(&uartFile{u: u})
	return vfs.Mknod(bpath.Canonicalize(ustr.Ustr("/dev/uart")), id)
}

/// Framebuffer_t is a linear RGB/indexed framebuffer: writes memcpy into
/// Pixels, bounded by Pitch*Height, matching dev_framebuffer_write.
type Framebuffer_t struct {
	Pixels       []byte
	Width        int
	Height       int
	Pitch        int
	IsRGB        bool
	pos          int
}

/// FbInfo is the struct ioctl(request=0) reports, matching
/// dev_framebuffer_ioctl's ("get info") request.
type FbInfo struct {
	Width  uint32
	Height uint32
	Pitch  uint32
	IsRGB  uint32
}

type fbFile struct {
	fb *Framebuffer_t
}

func (f *fbFile) Close() defs.Err_t { return 0 }
func (f *fbFile) Fstat(st fdops.Stat_i) defs.Err_t {
	st.Wsize(uint(f.fb.Pitch * f.fb.Height))
	return 0
}
func (f *fbFile) Lseek(off int, whence int) (int, defs.Err_t) {
	switch whence {
	case defs.SEEK_SET:
		f.fb.pos = off
	case defs.SEEK_CUR:
		f.fb.pos += off
	case defs.SEEK_END:
		f.fb.pos = f.fb.Pitch*f.fb.Height + off
	default:
		return 0, -defs.EINVAL
	}
	return f.fb.pos, 0
}
func (f *fbFile) Read(dst fdops.Userio_i) (int, defs.Err_t) { return 0, -defs.EINVAL }

/// Write memcpies src into the framebuffer at the current position,
/// bounded by pitch*height, matching dev_framebuffer_write.
func (f *fbFile) Write(src fdops.Userio_i) (int, defs.Err_t) {
	return f.Pwrite(src, f.fb.pos)
}
func (f *fbFile) Pread(dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (f *fbFile) Pwrite(src fdops.Userio_i, offset int) (int, defs.Err_t) {
	bound := f.fb.Pitch * f.fb.Height
	if offset >= bound {
		return 0, -defs.ENOSPC
	}
	remain := bound - offset
	want := src.Remain()
	if want > remain {
		want = remain
	}
	n, err := src.Uioread(f.fb.Pixels[offset : offset+want])
	if err != 0 {
		return n, err
	}
	f.fb.pos = offset + n
	return n, 0
}
func (f *fbFile) Reopen() defs.Err_t { return 0 }
func (f *fbFile) Fullpath() (string, defs.Err_t) {
	return "/dev/framebuffer", 0
}
func (f *fbFile) Truncate(newlen uint) defs.Err_t { return -defs.EINVAL }

/// Ioctl accepts request 0 and returns 0; any other request fails with
/// EINVAL. It does not copy the framebuffer geometry to arg, and
/// syscall.Proc_t.Ioctl only forwards req/arg to it: the geometry is
/// available to Go callers through Framebuffer_t.Info.
func (f *fbFile) Ioctl(req int, arg uintptr) (int, defs.Err_t) {
	if req != 0 {
		return 0, -defs.EINVAL
	}
	return 0, 0
}

/// Info returns the current geometry as an FbInfo.
func (f *Framebuffer_t) Info() FbInfo {
	rgb := uint32(0)
	if f.IsRGB {
		rgb = 1
	}
	return FbInfo{Width: uint32(f.Width), Height: uint32(f.Height), Pitch: uint32(f.Pitch), IsRGB: rgb}
}

/// RegisterFramebuffer installs fb as /dev/framebuffer.
func RegisterFramebuffer(fb *Framebuffer_t) defs.Err_t {
	id := vfs.RegisterDevice(&fbFile{fb: fb})
	return vfs.Mknod(bpath.Canonicalize(ustr.Ustr("/dev/framebuffer")), id)
}
