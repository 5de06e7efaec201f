package vm

import (
	"testing"

	"raspbit/defs"
	"raspbit/mem"
	"raspbit/res"
)

func setup(t *testing.T) *mem.Buddy_t {
	res.SetTotal(1 << 20)
	return mem.Phys_init(256, nil)
}

func TestDemandPagingAllocatesOnFault(t *testing.T) {
	b := setup(t)
	as := New(b)
	as.AddVMA(0x400000, mem.PGSIZE, PermRead|PermWrite, 0, false, false)

	if _, ok := as.Translate(0x400000); ok {
		t.Fatalf("expected no mapping before the fault is serviced")
	}
	if err := as.HandleFault(0x400000, defs.FaultTranslation, false); err != 0 {
		t.Fatalf("EnsureMapped failed: %d", err)
	}
	if _, ok := as.Translate(0x400000); !ok {
		t.Fatalf("expected a mapping to exist after the translation fault was serviced")
	}
}

func TestForkCOWSharesFrameUntilWrite(t *testing.T) {
	b := setup(t)
	parent := New(b)
	parent.AddVMA(0x500000, mem.PGSIZE, PermRead|PermWrite, 0, false, false)
	if err := parent.HandleFault(0x500000, defs.FaultTranslation, false); err != 0 {
		t.Fatalf("setup fault failed: %d", err)
	}
	pa, _ := parent.Translate(0x500000)
	if b.Refcnt(pa) != 1 {
		t.Fatalf("expected refcount 1 before fork, got %d", b.Refcnt(pa))
	}

	child := parent.Fork()
	if b.Refcnt(pa) != 2 {
		t.Fatalf("expected refcount 2 after a COW fork, got %d", b.Refcnt(pa))
	}

	// parent writes: since the frame is still shared, this must copy
	if err := parent.HandleFault(0x500000, defs.FaultPermission, true); err != 0 {
		t.Fatalf("COW fault failed: %d", err)
	}
	parentPa, _ := parent.Translate(0x500000)
	if parentPa == pa {
		t.Fatalf("expected the parent's write to break sharing onto a new frame")
	}
	if b.Refcnt(pa) != 1 {
		t.Fatalf("expected the original frame's refcount to drop back to 1 (now solely owned by the child), got %d", b.Refcnt(pa))
	}

	childPa, _ := child.Translate(0x500000)
	if childPa != pa {
		t.Fatalf("expected the child to still reference the original frame")
	}
}

func TestFaultOutsideAnyVMAIsSegfault(t *testing.T) {
	b := setup(t)
	as := New(b)
	if err := as.HandleFault(0xdeadbeef, defs.FaultTranslation, false); err != -defs.EFAULT {
		t.Fatalf("expected EFAULT for an address outside every VMA, got %d", err)
	}
}
