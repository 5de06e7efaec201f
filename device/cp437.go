package device

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"raspbit/defs"
)

// chunkUio adapts a plain, offset-tracked []byte to fdops.Userio_i on
// either side of a transfer: Uioread drains it as a source (WriteString
// feeding the TX ring), Uiowrite fills it as a destination (ReadString
// draining the RX ring). circbuf's Copyin/Copyout_n may call either
// method more than once as the ring wraps, so — unlike byteUio, sized
// for exactly one byte — this tracks how much has been consumed so a
// second call appends instead of overwriting from the start.
type chunkUio struct {
	buf []byte
	off int
}

func (c *chunkUio) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, c.buf[c.off:])
	c.off += n
	return n, 0
}
func (c *chunkUio) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(c.buf[c.off:], src)
	c.off += n
	return n, 0
}
func (c *chunkUio) Remain() int  { return len(c.buf) - c.off }
func (c *chunkUio) Totalsz() int { return len(c.buf) }

/// WriteString encodes s from UTF-8 to CP437 — the code page a real
/// serial terminal attached to this board's UART is expected to
/// speak — and queues the resulting bytes exactly as Write does,
/// giving callers that work with Go strings a path that doesn't bypass
/// the UART's actual byte-stream encoding.
func (u *Uart_t) WriteString(s string) (int, error) {
	encoded, _, err := transform.String(charmap.CodePage437.NewEncoder(), s)
	if err != nil {
		return 0, err
	}
	n, everr := u.Write(&chunkUio{buf: []byte(encoded)})
	if everr != 0 {
		return n, errFromErrno(everr)
	}
	return n, nil
}

/// ReadString drains the RX ring and decodes it from CP437 to UTF-8,
/// the inverse of WriteString.
func (u *Uart_t) ReadString() (string, error) {
	buf := make([]byte, uartBufSize)
	uio := &chunkUio{buf: buf}
	n, err := u.Read(uio)
	if err != 0 {
		return "", errFromErrno(err)
	}
	decoded, _, derr := transform.Bytes(charmap.CodePage437.NewDecoder(), buf[:n])
	if derr != nil {
		return "", derr
	}
	return strings.TrimRight(string(decoded), "\x00"), nil
}

type errnoErr defs.Err_t

func (e errnoErr) Error() string { return "uart i/o error" }

func errFromErrno(e defs.Err_t) error { return errnoErr(e) }
