package proc

import "testing"

func TestRoundRobinFairness(t *testing.T) {
	s := New(8)
	var order []int

	mk := func(n int) *Thread_t {
		var th *Thread_t
		th = s.Create(func() {
			for i := 0; i < 3; i++ {
				order = append(order, th.Pid)
				Yield(th)
			}
		})
		return th
	}
	a := mk(0)
	b := mk(0)
	c := mk(0)
	_ = a
	_ = b
	_ = c

	for i := 0; i < 9; i++ {
		if !s.Schedule() {
			break
		}
	}

	if len(order) != 9 {
		t.Fatalf("expected all three threads to each run 3 times, got %d events: %v", len(order), order)
	}
	counts := map[int]int{}
	for _, pid := range order {
		counts[pid]++
	}
	for pid, n := range counts {
		if n != 3 {
			t.Fatalf("thread %d ran %d times, want 3 (round robin should be fair): %v", pid, n, order)
		}
	}
}

func TestZombieReaping(t *testing.T) {
	s := New(4)
	th := s.Create(func() {})
	s.Schedule() // runs to completion, becomes ZOMBIE
	if th.State != ZOMBIE {
		t.Fatalf("expected thread to be ZOMBIE after its entry returned, got %v", th.State)
	}
	s.KillZombies()
	if th.State != IDLE {
		t.Fatalf("expected KillZombies to return the slot to IDLE, got %v", th.State)
	}
}
