package syscall

import (
	"raspbit/defs"
	"raspbit/fd"
	"raspbit/mem"
	"raspbit/vm"
)

// Fork creates a child process sharing the parent's address space
// copy-on-write (syscall 4): every VMA
// other than the peripheral/wrapper regions is duplicated with shared,
// refcounted frames, the fd table and signal handlers are copied, and
// the peripheral/wrapper VMAs are reinstalled fresh in the child.
//
// A real fork resumes both parent and child from the same trapframe,
// the child observing a 0 return where the parent observes the child's
// pid. A Go goroutine cannot be duplicated mid-stack that way, so the
// caller supplies childBody: the code the child process runs from the
// point of the fork onward, taking the child's own Proc_t exactly as
// the parent's program took its own. Fork itself returns the child's
// pid to the parent, matching fork's parent-side return value.
func (p *Proc_t) Fork(childBody func(child *Proc_t)) (int, defs.Err_t) {
	child := &Proc_t{Sched: p.Sched, buddy: p.buddy}

	th := p.Sched.Create(func() { childBody(child) })
	child.Th = th
	child.As = p.As.Fork()
	child.Sig = p.Sig.Clone(func() { child.Exit(-int(defs.SIGKILL)) })
	child.Cwd = p.Cwd

	p.mu.Lock()
	for i, f := range p.fds {
		if f == nil {
			continue
		}
		nf, err := fd.Copyfd(f)
		if err != 0 {
			continue
		}
		child.fds[i] = nf
	}
	p.mu.Unlock()

	wrapperPa := ensureWrapperPage(p.buddy)
	child.As.AddExternalVMA(defs.PERIPHERAL_BASE, defs.PERIPHERAL_END-defs.PERIPHERAL_BASE,
		vm.PermRead|vm.PermWrite, mem.Pa_t(defs.PERIPHERAL_BASE))
	child.As.AddExternalVMA(defs.USER_SIGNAL_WRAPPER_VA, mem.PGSIZE, vm.PermRead|vm.PermExec, wrapperPa)

	return th.Pid, 0
}
