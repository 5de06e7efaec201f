package irq

import (
	"reflect"
	"testing"
)

func resetForTest() {
	mu.Lock()
	nestCount = 0
	curPriority = 1 << 30
	pending.Init()
	mu.Unlock()
}

func TestDeferKeepsPriorityOrder(t *testing.T) {
	resetForTest()
	Defer(Task_t{Priority: 5, Run: func() {}})
	Defer(Task_t{Priority: 1, Run: func() {}})
	Defer(Task_t{Priority: 3, Run: func() {}})

	got := PendingPriorities()
	want := sortedCopy(got)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("pending queue not priority ordered: %v", got)
	}
	if got[0] != 1 || got[1] != 3 || got[2] != 5 {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestHigherPriorityPreemptsLower(t *testing.T) {
	resetForTest()
	var order []int

	Defer(Task_t{Priority: 5, Run: func() {
		order = append(order, 5)
		// a higher-priority (lower number) task arrives mid-callback
		Defer(Task_t{Priority: 1, Run: func() {
			order = append(order, 1)
		}})
		RunPreemptive()
	}})
	RunPreemptive()

	if !reflect.DeepEqual(order, []int{5, 1}) {
		t.Fatalf("expected the nested higher-priority task to run before the outer one returns, got %v", order)
	}
}

func TestEqualPriorityDoesNotPreempt(t *testing.T) {
	resetForTest()
	ran := false
	Defer(Task_t{Priority: 5, Run: func() {
		Defer(Task_t{Priority: 5, Run: func() { ran = true }})
		RunPreemptive()
		if ran {
			t.Fatalf("equal-priority task should not preempt a running task of the same priority")
		}
	}})
	RunPreemptive()
	if !ran {
		t.Fatalf("equal-priority task should run once the outer task finishes")
	}
}
