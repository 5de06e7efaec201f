package syscall

import (
	"fmt"

	"raspbit/defs"
	"raspbit/vm"
)

// HandleFault is the host simulation's stand-in for
// mmu_memfail_abort_handler's top half: classify the fault through vm,
// and on anything vm can't service itself (EFAULT, a permission fault
// that isn't a COW write), print a diagnostic line naming the faulting
// address and instruction and kill the faulting thread — matching the real handler's
// "print, then thread_exit()" branch rather than returning an error to
// a caller that has no EL0 to resume.
func (p *Proc_t) HandleFault(va uintptr, kind defs.FaultKind, wasWrite bool, insn uint32) {
	err := p.As.HandleFault(va, kind, wasWrite)
	if err == 0 {
		return
	}
	fmt.Println(vm.DiagnoseFault(va, int(err), insn))
	p.Exit(-int(defs.SIGSEGV))
}
