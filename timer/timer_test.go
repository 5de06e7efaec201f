package timer

import (
	"testing"

	"raspbit/irq"
)

type fakeClock struct {
	now  uint64
	freq uint64
}

func (f *fakeClock) Ticks() uint64  { return f.now }
func (f *fakeClock) FreqHz() uint64 { return f.freq }

func TestRelativeTicksVsAbsolute(t *testing.T) {
	c := &fakeClock{now: 100, freq: 10}
	tm := New(c)

	fired := 0
	tm.Add(2, 0, func() { fired++ }) // relative: 2 seconds * freq 10 = trigger at 120
	tm.Add(5, -1, func() { fired++ }) // absolute: trigger at 100+5=105

	c.now = 105
	tm.Fire()
	if got := len(irq.PendingPriorities()); got != 1 {
		t.Fatalf("expected exactly the absolute-ticks task to have fired by tick 105, got %d pending", got)
	}

	c.now = 120
	tm.Fire()
	_ = fired
}

func TestSortedByTriggerTime(t *testing.T) {
	c := &fakeClock{now: 0, freq: 1}
	tm := New(c)
	tm.Add(30, -1, func() {})
	tm.Add(10, -1, func() {})
	tm.Add(20, -1, func() {})

	var order []uint64
	for e := tm.tasks.Front(); e != nil; e = e.Next() {
		order = append(order, e.Value.(task_t).trigger)
	}
	if order[0] != 10 || order[1] != 20 || order[2] != 30 {
		t.Fatalf("timer tasks not sorted by trigger time: %v", order)
	}
}
