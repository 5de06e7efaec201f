// Package proc implements the kernel's fixed-size process table and
// round-robin scheduler (component F). A Thread_t's entry point runs on
// its own goroutine; the scheduler hands off the CPU by unblocking
// exactly one thread's goroutine at a time and waiting for it to yield
// or exit, giving host-process-level cooperative round robin the same
// observable ordering as the board's single-core preemptive scheduler
// (there is no second goroutine able to run kernel code concurrently
// with the scheduled thread, matching the spec's single-core Non-goal).
package proc

import (
	"sync"

	"raspbit/accnt"
)

/// State_t is a thread's scheduling state.
type State_t int

const (
	IDLE State_t = iota
	READY
	RUNNING
	ZOMBIE
)

/// Thread_t is one entry in the fixed process table; Pid is its table
/// index, following a "pid == table slot" design.
type Thread_t struct {
	Pid   int
	State State_t
	Accnt accnt.Accnt_t

	resumeCh chan struct{}
	doneCh   chan struct{}
	exit     bool
}

/// Sched_t owns the process table and the round-robin run queue.
type Sched_t struct {
	mu      sync.Mutex
	table   []*Thread_t
	runq    []int // pids in round-robin order
	current *Thread_t
}

/// New creates a scheduler with a fixed-size process table of n slots.
func New(n int) *Sched_t {
	s := &Sched_t{table: make([]*Thread_t, n)}
	for i := range s.table {
		s.table[i] = &Thread_t{Pid: i, State: IDLE}
	}
	return s
}

/// Create finds an IDLE table slot, marks it READY, and starts entry on
/// its own goroutine blocked until the scheduler first runs it.
func (s *Sched_t) Create(entry func()) *Thread_t {
	s.mu.Lock()
	var th *Thread_t
	for _, t := range s.table {
		if t.State == IDLE {
			th = t
			break
		}
	}
	if th == nil {
		panic("proc: process table full")
	}
	th.State = READY
	th.resumeCh = make(chan struct{})
	th.doneCh = make(chan struct{})
	th.exit = false
	s.runq = append(s.runq, th.Pid)
	s.mu.Unlock()

	go func() {
		<-th.resumeCh
		entry()
		s.exitLocked(th)
	}()
	return th
}

func (s *Sched_t) exitLocked(th *Thread_t) {
	s.mu.Lock()
	th.State = ZOMBIE
	th.exit = true
	s.mu.Unlock()
	th.doneCh <- struct{}{}
}

/// Current returns the thread presently holding the CPU, or nil if the
/// scheduler has not run yet.
func (s *Sched_t) Current() *Thread_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

/// Schedule advances the run queue by one slot, round robin, and runs
/// the next READY thread for exactly one quantum (until it calls
/// Yield() or exits). It returns false if no READY thread was found
/// (every thread is a zombie or idle — the caller, typically the idle
/// thread itself, should reap and retry).
func (s *Sched_t) Schedule() bool {
	s.mu.Lock()
	if s.current != nil && s.current.State == RUNNING {
		s.current.State = READY
	}
	var next *Thread_t
	for i := 0; i < len(s.runq); i++ {
		pid := s.runq[0]
		s.runq = append(s.runq[1:], pid)
		cand := s.table[pid]
		if cand.State == READY {
			next = cand
			break
		}
	}
	if next == nil {
		s.mu.Unlock()
		return false
	}
	next.State = RUNNING
	s.current = next
	s.mu.Unlock()

	next.resumeCh <- struct{}{}
	<-next.doneCh
	return true
}

/// KillZombies removes every ZOMBIE thread from the run queue and
/// returns its table slot to IDLE, matching kill_zombies's reaping pass
/// (normally invoked from the idle thread).
func (s *Sched_t) KillZombies() {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.runq[:0]
	for _, pid := range s.runq {
		t := s.table[pid]
		if t.State == ZOMBIE {
			t.State = IDLE
			continue
		}
		kept = append(kept, pid)
	}
	s.runq = kept
}

/// Yield blocks the calling thread's goroutine until the scheduler
/// chooses it again. It must be called from within the thread's own
/// entry function, with th being that thread (obtained from Current()
/// before yielding, since Current() changes once Yield hands off).
func Yield(th *Thread_t) {
	th.doneCh <- struct{}{}
	<-th.resumeCh
}

/// Exit marks the calling thread ZOMBIE and yields the CPU permanently;
/// it never returns to its caller.
func Exit(th *Thread_t) {
	th.State = ZOMBIE
	th.doneCh <- struct{}{}
	<-th.resumeCh // never resumed: a ZOMBIE is never re-marked READY
}

/// Threads returns a snapshot of every table slot's pointer, in pid
/// order, for the D_STAT device's per-thread accounting dump; the
/// returned Thread_t pointers are still live and mutated by the
/// scheduler, so callers should treat fields read through them as a
/// best-effort snapshot rather than a consistent point-in-time copy.
func (s *Sched_t) Threads() []*Thread_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Thread_t, len(s.table))
	copy(out, s.table)
	return out
}

/// NumReady reports how many threads are currently READY or RUNNING,
/// used by cmd/kernel's schedule timer to decide whether a reschedule
/// is worthwhile.
func (s *Sched_t) NumReady() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.table {
		if t.State == READY || t.State == RUNNING {
			n++
		}
	}
	return n
}
