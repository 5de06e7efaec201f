// Package irq implements the kernel's interrupt dispatch (component D):
// a recursive interrupt-disable lock and a priority-ordered deferred
// task queue that lets a higher-priority interrupt preempt a
// lower-priority one's callback.
package irq

import (
	"container/list"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
)

// maxInFlightTasks bounds how many deferred tasks may be queued or
// executing at once, the same "admission before committing a resource"
// idea the bounds/res packages apply to page-table walks, here
// applied to the deferred-task queue with its own independent bound.
const maxInFlightTasks = 64

var inFlight = semaphore.NewWeighted(maxInFlightTasks)

/// Task_t is a deferred unit of work queued from an interrupt handler
/// (e.g. "run the UART rx handler", "run the timer's expired task").
/// Lower Priority values run first and can preempt a running higher
/// (numerically larger) priority callback.
type Task_t struct {
	Priority int
	Run      func()
}

var (
	mu           sync.Mutex
	nestCount    int
	initDone     bool
	curPriority  = 1 << 30 // "no task running" sentinel, lower than any real priority
	pending      = list.New()
	enableIRQFn  func()
	disableIRQFn func()
)

/// SetHardware wires the board-level functions that actually mask/unmask
/// the CPU's IRQ line. Tests leave these nil, in which case Lock/Unlock
/// only track nesting without touching any hardware.
func SetHardware(enable, disable func()) {
	enableIRQFn, disableIRQFn = enable, disable
}

/// MarkInitDone records that boot has finished; before this point
/// Unlock never re-enables IRQs even at nesting count zero, since the
/// boot sequence itself runs with interrupts masked.
func MarkInitDone() {
	mu.Lock()
	initDone = true
	mu.Unlock()
}

/// Lock increments the recursive interrupt-disable nesting counter,
/// masking IRQs on the first (outermost) call.
func Lock() {
	mu.Lock()
	if nestCount == 0 && disableIRQFn != nil {
		disableIRQFn()
	}
	nestCount++
	mu.Unlock()
}

/// Unlock decrements the nesting counter and only re-enables IRQs once
/// it reaches zero and initialization has completed.
func Unlock() {
	mu.Lock()
	nestCount--
	if nestCount < 0 {
		panic("irq: unlock without matching lock")
	}
	if nestCount == 0 && initDone && enableIRQFn != nil {
		enableIRQFn()
	}
	mu.Unlock()
}

/// Defer inserts t into the priority-ordered pending list, keeping the
/// list sorted by ascending priority (ties broken FIFO), the same order
/// irq_task_list_insert maintains.
func Defer(t Task_t) {
	// Admission is non-blocking: an interrupt handler can't afford to
	// block waiting for a slot, so exhausting the bound is treated as
	// fatal, matching "allocation failures in kernel paths
	// are fatal" for every other admission-controlled resource.
	if !inFlight.TryAcquire(1) {
		panic("irq: too many deferred tasks in flight")
	}
	Lock()
	defer Unlock()
	for e := pending.Front(); e != nil; e = e.Next() {
		if e.Value.(Task_t).Priority > t.Priority {
			pending.InsertBefore(t, e)
			return
		}
	}
	pending.PushBack(t)
}

/// RunPreemptive drains the pending queue, running each task whose
/// priority is strictly less than the priority of whatever task is
/// currently executing (curPriority), so a task queued mid-callback by
/// a nested interrupt is picked up by the same draining loop rather
/// than waiting for the next hardware interrupt.
func RunPreemptive() {
	for {
		Lock()
		if pending.Len() == 0 {
			Unlock()
			return
		}
		front := pending.Front()
		t := front.Value.(Task_t)
		if curPriority <= t.Priority {
			Unlock()
			return
		}
		pending.Remove(front)
		prev := curPriority
		curPriority = t.Priority
		Unlock()

		t.Run()
		inFlight.Release(1)

		Lock()
		curPriority = prev
		Unlock()
	}
}

/// CurrentPriority reports the priority of the deferred task currently
/// executing, or the "none" sentinel if the queue is idle. Exposed for
/// tests and for the scheduler's preemption check.
func CurrentPriority() int {
	mu.Lock()
	defer mu.Unlock()
	return curPriority
}

/// PendingPriorities returns the priorities still queued, in the order
/// they will run — used only by tests to assert ordering.
func PendingPriorities() []int {
	mu.Lock()
	defer mu.Unlock()
	var out []int
	for e := pending.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Task_t).Priority)
	}
	return out
}

/// sortedCopy is a test helper confirming pending is kept sorted.
func sortedCopy(in []int) []int {
	out := append([]int(nil), in...)
	sort.Ints(out)
	return out
}
