package vm

import (
	"fmt"

	"golang.org/x/arch/arm64/arm64asm"
)

/// DiagnoseFault renders a one-line description of a fatal fault for the
/// diagnostic mmu_memfail_abort_handler prints before calling
/// thread_exit(): the faulting address, the fault's error, and the
/// mnemonic of the instruction that caused it. insn is the raw 4-byte
/// little-endian encoding of the faulting instruction — the host
/// simulation has no real EL0 code stream to read this from, so callers
/// that don't have a real encoding pass a zeroed insn and get "unknown
/// instruction" rather than a bogus decode.
func DiagnoseFault(va uintptr, err int, insn uint32) string {
	var buf [4]byte
	buf[0] = byte(insn)
	buf[1] = byte(insn >> 8)
	buf[2] = byte(insn >> 16)
	buf[3] = byte(insn >> 24)

	inst, decErr := arm64asm.Decode(buf[:])
	if decErr != nil {
		return fmt.Sprintf("fault at %#x (err %d): unknown instruction %#08x", va, err, insn)
	}
	return fmt.Sprintf("fault at %#x (err %d): %s", va, err, inst.String())
}
