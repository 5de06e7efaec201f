package diag

import (
	"strconv"
	"testing"

	"raspbit/mem"
	"raspbit/proc"
)

func TestStatSnapshotIncludesBuddyAndThreadSamples(t *testing.T) {
	buddy := mem.Phys_init(64, nil)
	pool := mem.MkPool(buddy)
	pool.Alloc(32)
	sched := proc.New(4)
	th := sched.Create(func() {})
	th.Accnt.Utadd(1000)

	p := StatSnapshot(buddy, pool, sched)
	if len(p.Sample) == 0 {
		t.Fatalf("expected at least one sample")
	}

	var sawBuddy, sawSlab, sawThread bool
	for _, s := range p.Sample {
		switch s.Label["kind"][0] {
		case "buddy_free_pages":
			sawBuddy = true
		case "slab_pages":
			sawSlab = true
		case "user_ns":
			if s.Label["pid"][0] == strconv.Itoa(th.Pid) && s.Value[0] == 1000 {
				sawThread = true
			}
		}
	}
	if !sawBuddy {
		t.Fatalf("expected a buddy_free_pages sample")
	}
	if !sawSlab {
		t.Fatalf("expected a slab_pages sample")
	}
	if !sawThread {
		t.Fatalf("expected the created thread's user_ns sample with value 1000")
	}
}

func TestEncodeProducesNonEmptyBytes(t *testing.T) {
	buddy := mem.Phys_init(64, nil)
	pool := mem.MkPool(buddy)
	sched := proc.New(2)

	p := StatSnapshot(buddy, pool, sched)
	out, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(out) == 0 {
		t.Fatalf("expected a non-empty encoded profile")
	}
}
