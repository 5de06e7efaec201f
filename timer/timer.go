// Package timer implements the kernel's sorted timer task list
// (component E), driving a simulated ARM generic-timer comparator
// register the way core_timer_update drives cntp_cval_el0.
package timer

import (
	"container/list"
	"sync"

	"raspbit/irq"
)

/// Clock_i abstracts the ARM generic timer's counter/frequency pair so
/// tests can supply a fake clock instead of real CPU registers.
type Clock_i interface {
	Ticks() uint64
	FreqHz() uint64
}

/// task_t is one entry in the sorted trigger-time list.
type task_t struct {
	trigger  uint64
	priority int
	run      func()
}

/// Timer_t is a sorted list of pending timer tasks plus the comparator
/// value the hardware timer should be reprogrammed to.
type Timer_t struct {
	sync.Mutex
	clock Clock_i
	tasks *list.List

	// OnReprogram, if set, is called with the new absolute comparator
	// value whenever the pending list's head changes — the seam a board
	// backend uses to actually write cntp_cval_el0.
	OnReprogram func(cval uint64)
}

/// New creates a Timer_t driven by clock.
func New(clock Clock_i) *Timer_t {
	return &Timer_t{clock: clock, tasks: list.New()}
}

/// Add schedules run to fire at an offset from now. If priority is -1,
/// ticks is already an absolute tick count (used when re-arming an
/// expired task as an IRQ task); otherwise ticks is a relative duration
/// in seconds, converted to ticks via the clock's frequency, matching
/// create_timer_task's two branches.
func (tm *Timer_t) Add(ticks uint64, priority int, run func()) {
	now := tm.clock.Ticks()
	var trigger uint64
	if priority == -1 {
		trigger = now + ticks
	} else {
		trigger = now + ticks*tm.clock.FreqHz()
	}

	tm.Lock()
	t := task_t{trigger: trigger, priority: priority, run: run}
	inserted := false
	for e := tm.tasks.Front(); e != nil; e = e.Next() {
		if t.trigger < e.Value.(task_t).trigger {
			tm.tasks.InsertBefore(t, e)
			inserted = true
			break
		}
	}
	if !inserted {
		tm.tasks.PushBack(t)
	}
	cval := tm.nextComparatorLocked()
	tm.Unlock()

	if tm.OnReprogram != nil {
		tm.OnReprogram(cval)
	}
}

/// nextComparatorLocked mirrors core_timer_update: if the list is empty,
/// arm far in the future; otherwise arm at the head's trigger time, or
/// immediately if it has already passed.
func (tm *Timer_t) nextComparatorLocked() uint64 {
	now := tm.clock.Ticks()
	if tm.tasks.Len() == 0 {
		return now + tm.clock.FreqHz()*10000
	}
	head := tm.tasks.Front().Value.(task_t)
	if head.trigger > now {
		return head.trigger
	}
	return now
}

/// Fire pops every expired task (trigger <= now) and defers each one to
/// the irq package's preemptive queue, matching
/// add_timer_task_to_irq/core_timer_handler's behavior of moving the
/// expired head into the IRQ task list rather than running it directly
/// from timer context; it repeats while the new head is also expired.
func (tm *Timer_t) Fire() {
	now := tm.clock.Ticks()
	for {
		tm.Lock()
		if tm.tasks.Len() == 0 {
			tm.Unlock()
			return
		}
		front := tm.tasks.Front()
		head := front.Value.(task_t)
		if head.trigger > now {
			tm.Unlock()
			return
		}
		tm.tasks.Remove(front)
		tm.Unlock()

		irq.Defer(irq.Task_t{Priority: head.priority, Run: head.run})
	}
}

/// Len reports the number of pending timer tasks (diagnostics/tests).
func (tm *Timer_t) Len() int {
	tm.Lock()
	defer tm.Unlock()
	return tm.tasks.Len()
}
