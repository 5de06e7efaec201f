package syscall

import (
	"raspbit/defs"
	"raspbit/device"
)

// theUart is the board's single UART, wired once at boot via SetUart.
// syscalls 1 (uartread) and 2 (uartwrite) talk to it directly instead of
// through the fd table, matching the original uartread/uartwrite
// syscalls' "bypass vfs entirely" contract (see device.Uart_t's doc
// comment) — there is exactly one UART, so unlike /dev/uart (which any
// process may also open through the vfs) these two syscalls need no fd
// number at all.
var theUart *device.Uart_t

// SetUart wires the board's UART for syscalls 1/2, called once during
// boot alongside device.RegisterUart.
func SetUart(u *device.Uart_t) {
	theUart = u
}

// UartRead drains whatever is queued in the RX ring into buf (syscall 1).
func (p *Proc_t) UartRead(buf []byte) (int, defs.Err_t) {
	if theUart == nil {
		return 0, -defs.ENODEV
	}
	return theUart.Read(&bufio_t{buf: buf})
}

// UartWrite queues buf onto the TX ring for the interrupt handler to
// drain (syscall 2).
func (p *Proc_t) UartWrite(buf []byte) (int, defs.Err_t) {
	if theUart == nil {
		return 0, -defs.ENODEV
	}
	return theUart.Write(&bufio_t{buf: buf})
}
