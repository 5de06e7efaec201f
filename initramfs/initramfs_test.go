package initramfs

import (
	"bytes"
	"fmt"
	"testing"

	"raspbit/defs"
	"raspbit/ustr"
	"raspbit/vfs"
)

func cpioEntry(name string, data []byte) []byte {
	var buf bytes.Buffer
	hdr := fmt.Sprintf("070701%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x",
		0, 0o100644, 0, 0, 1, 0, len(data), 0, 0, 0, 0, len(name)+1, 0)
	buf.WriteString(hdr)
	buf.WriteString(name)
	buf.WriteByte(0)
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
	buf.Write(data)
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func trailer() []byte {
	return cpioEntry(trailerName, nil)
}

func buildArchive() []byte {
	var out []byte
	out = append(out, cpioEntry("hello.txt", []byte("hi there"))...)
	out = append(out, trailer()...)
	return out
}

func TestParseFindsFile(t *testing.T) {
	Register(buildArchive())
	if err := vfs.InitRootfs("initramfs"); err != 0 {
		t.Fatalf("InitRootfs: %d", err)
	}
	v, err := vfs.Lookup(ustr.Ustr("/hello.txt"))
	if err != 0 {
		t.Fatalf("lookup failed: %d", err)
	}
	buf := make([]uint8, 32)
	uio := fakeUio{buf: buf}
	n, rerr := v.Fops.Read(&uio)
	if rerr != 0 {
		t.Fatalf("read failed: %d", rerr)
	}
	if string(uio.buf[:n]) != "hi there" {
		t.Fatalf("expected 'hi there', got %q", string(uio.buf[:n]))
	}
}

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
