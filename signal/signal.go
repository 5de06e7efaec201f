// Package signal implements signal delivery (component H): a per-thread
// handler table and pending-count array, delivered on every return to
// user mode via check_signal's round-robin scan over signal numbers.
//
// The real kernel delivers a caught signal by redirecting the
// interrupted trapframe to a fixed user-mode wrapper page (`blr x0;
// svc #50`) so the handler runs at EL0 and the sigreturn syscall
// restores the interrupted context. This simulation has no EL0/EL1
// boundary to cross, so CheckSignal calls the registered Go handler
// directly with the signal number and continues its scan once the
// handler returns; there is no saved context to restore, and
// syscall.Proc_t.SigReturn (the SYS_SIGRETURN entry) is a no-op.
package signal

import (
	"sync"

	"raspbit/defs"
)

/// Handler_t is a registered signal handler. The zero value means "use
/// the default handler" (kill the thread), matching every slot's
/// initial value being signal_default_handler in thread_create.
type Handler_t func(sig int)

/// Proc_t is one thread's signal-delivery state.
type Proc_t struct {
	mu       sync.Mutex
	handlers [defs.SIGMAX + 1]Handler_t
	pending  [defs.SIGMAX + 1]int
	running  bool
	savedCtx int // opaque "signal context" the real kernel store_context saves; simulation only needs a generation counter

	/// KillSelf is invoked by the default handler; wired by the owning
	/// thread to its own exit path.
	KillSelf func()
}

/// New creates signal-delivery state. killSelf is called when a signal
/// with no registered handler (the default: kill) is delivered.
func New(killSelf func()) *Proc_t {
	return &Proc_t{KillSelf: killSelf}
}

/// Register installs handler for sig, matching syscall 8 (signal). It
/// refuses SIGKILL, which can never be caught.
func (p *Proc_t) Register(sig int, h Handler_t) defs.Err_t {
	if sig < 0 || sig > defs.SIGMAX {
		return -defs.EINVAL
	}
	if !defs.SignalCatchable(sig) {
		return -defs.EINVAL
	}
	p.mu.Lock()
	p.handlers[sig] = h
	p.mu.Unlock()
	return 0
}

/// Raise increments sig's pending count, matching syscall 9 (signal
/// kill) or an external kill() targeting this thread.
func (p *Proc_t) Raise(sig int) defs.Err_t {
	if sig < 0 || sig > defs.SIGMAX {
		return -defs.EINVAL
	}
	p.mu.Lock()
	p.pending[sig]++
	p.mu.Unlock()
	return 0
}

/// CheckSignal is called on every return to user mode. It is a no-op if
/// a signal delivery is already in progress (signal_running), otherwise
/// it scans every signal number in ascending order and, for each one
/// with a positive pending count, decrements it and runs exactly one
/// delivery — the same order and reentrancy guard as check_signal.
func (p *Proc_t) CheckSignal() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	for sig := 0; sig <= defs.SIGMAX; sig++ {
		p.mu.Lock()
		p.savedCtx++
		due := p.pending[sig] > 0
		if due {
			p.pending[sig]--
		}
		p.mu.Unlock()
		if due {
			p.runSignal(sig)
		}
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}

func (p *Proc_t) runSignal(sig int) {
	p.mu.Lock()
	h := p.handlers[sig]
	p.mu.Unlock()
	if h == nil {
		if p.KillSelf != nil {
			p.KillSelf()
		}
		return
	}
	h(sig)
}

/// Pending reports sig's current pending count, for tests and
/// diagnostics.
func (p *Proc_t) Pending(sig int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending[sig]
}

/// Clone copies the registered handler table to a freshly created child,
/// matching fork's "copy fd table, signal handlers" contract. Pending
/// counts are not inherited: a signal raised against the
/// parent before the fork was never destined for the child.
func (p *Proc_t) Clone(killSelf func()) *Proc_t {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := New(killSelf)
	c.handlers = p.handlers
	return c
}
