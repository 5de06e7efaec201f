package mem

import "testing"

func TestAllocFreeRoundTrip(t *testing.T) {
	b := Phys_init(64, nil)
	before := b.FreePages_count()
	pa := b.AllocPages(1)
	if b.FreePages_count() != before-1 {
		t.Fatalf("alloc did not remove a page from the free count")
	}
	b.FreePages(pa)
	if b.FreePages_count() != before {
		t.Fatalf("free did not restore the free count: got %d want %d", b.FreePages_count(), before)
	}
}

func TestBuddyCoalescing(t *testing.T) {
	b := Phys_init(8, nil)
	pas := make([]Pa_t, 8)
	for i := range pas {
		pas[i] = b.AllocPages(1)
	}
	if b.FreePages_count() != 0 {
		t.Fatalf("expected no free pages after exhausting the arena")
	}
	for _, pa := range pas {
		b.FreePages(pa)
	}
	// 8 pages coalesce all the way up to one level-3 (2^3 page) block
	if len(b.levels[3].freelist) != 1 {
		t.Fatalf("expected full coalescing back to a single top-level block")
	}
}

func TestReservedRangeNeverAllocated(t *testing.T) {
	b := Phys_init(16, []Pa_t{0, Pa_t(3 * PGSIZE)})
	for i := 0; i < 64; i++ {
		if b.FreePages_count() == 0 {
			break
		}
		pa := b.AllocPages(1)
		idx := b.pageIndex(pa)
		if idx >= 0 && idx <= 3 {
			t.Fatalf("reserved page %d was handed out by the allocator", idx)
		}
	}
}

func TestOOMPanics(t *testing.T) {
	b := Phys_init(1, nil)
	b.AllocPages(1)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected AllocPages to panic once the arena is exhausted")
		}
	}()
	b.AllocPages(1)
}

func TestAllocPagesRejectsZero(t *testing.T) {
	b := Phys_init(64, nil)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected AllocPages(0) to panic")
		}
	}()
	b.AllocPages(0)
}

func TestAllocPagesRejectsOversized(t *testing.T) {
	b := Phys_init(64, nil)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected AllocPages beyond 1<<MaxLevel to panic")
		}
	}()
	b.AllocPages(1<<MaxLevel + 1)
}

func TestSlabPoolReuse(t *testing.T) {
	b := Phys_init(4, nil)
	p := MkPool(b)
	o1 := p.Alloc(40)
	o1.Bytes()[0] = 42
	p.Free(o1)
	o2 := p.Alloc(40)
	if o2.Bytes()[0] != 0 {
		t.Fatalf("expected a freed-then-reallocated slot to be zeroed")
	}
}
