package mem

import "sync"

/// slabSizes are the fixed small-object size classes (component C).
var slabSizes = [...]int{32, 64, 128, 256, 512, 1024}

func slabClass(n int) int {
	for i, sz := range slabSizes {
		if n <= sz {
			return i
		}
	}
	panic("mem: object too large for the slab pool")
}

type slabPage_t struct {
	pa     Pa_t
	slots  uint32 // one bit per slot, set == free
	nslots int
	inUse  int
}

/// Pool_t is the small-object allocator sitting in front of the buddy
/// allocator: pages are requested from the buddy on demand as a size
/// class's free list empties, and returned once a page's slots are all
/// free again.
type Pool_t struct {
	sync.Mutex
	buddy   *Buddy_t
	classes [len(slabSizes)][]*slabPage_t
}

/// MkPool creates a Pool_t backed by buddy.
func MkPool(buddy *Buddy_t) *Pool_t {
	return &Pool_t{buddy: buddy}
}

/// Alloc returns a zeroed object of at least n bytes.
func (p *Pool_t) Alloc(n int) unsafe_ptr {
	p.Lock()
	defer p.Unlock()

	cls := slabClass(n)
	size := slabSizes[cls]
	pages := p.classes[cls]
	for _, pg := range pages {
		if pg.slots != 0 {
			return p.takeSlot(cls, pg, size)
		}
	}
	pg := p.newSlabPage(cls, size)
	p.classes[cls] = append(p.classes[cls], pg)
	return p.takeSlot(cls, pg, size)
}

func (p *Pool_t) newSlabPage(cls, size int) *slabPage_t {
	pa := p.buddy.AllocPages(1)
	nslots := PGSIZE / size
	if nslots > 32 {
		nslots = 32
	}
	var mask uint32
	for i := 0; i < nslots; i++ {
		mask |= 1 << uint(i)
	}
	return &slabPage_t{pa: pa, slots: mask, nslots: nslots}
}

func (p *Pool_t) takeSlot(cls int, pg *slabPage_t, size int) unsafe_ptr {
	for i := 0; i < pg.nslots; i++ {
		if pg.slots&(1<<uint(i)) != 0 {
			pg.slots &^= 1 << uint(i)
			pg.inUse++
			base := p.buddy.Dmap(pg.pa)
			slot := base[i*size : i*size+size]
			for j := range slot {
				slot[j] = 0
			}
			return unsafe_ptr{pg: pg, cls: cls, off: i * size, base: slot}
		}
	}
	panic("mem: slab page reported free slots it doesn't have")
}

/// ClassStat reports one size class's page and in-use-slot counts, for
/// the D_STAT device's slab breakdown.
type ClassStat struct {
	Size   int
	Pages  int
	InUse  int
}

/// Stats snapshots every size class, smallest first.
func (p *Pool_t) Stats() []ClassStat {
	p.Lock()
	defer p.Unlock()
	out := make([]ClassStat, len(slabSizes))
	for cls, pages := range p.classes {
		out[cls].Size = slabSizes[cls]
		out[cls].Pages = len(pages)
		for _, pg := range pages {
			out[cls].InUse += pg.inUse
		}
	}
	return out
}

/// unsafe_ptr is an opaque handle to a slab-allocated object; callers
/// that need the bytes use Bytes(), callers that need to free it pass
/// the handle back to Pool_t.Free.
type unsafe_ptr struct {
	pg   *slabPage_t
	cls  int
	off  int
	base []byte
}

/// Bytes returns the backing bytes of the slab object.
func (u unsafe_ptr) Bytes() []byte { return u.base }

/// Free releases a previously allocated slab object. If the page it
/// lived on becomes entirely free, the page itself is returned to the
/// buddy allocator.
func (p *Pool_t) Free(u unsafe_ptr) {
	p.Lock()
	defer p.Unlock()

	size := slabSizes[u.cls]
	slot := u.off / size
	pg := u.pg
	if pg.slots&(1<<uint(slot)) != 0 {
		panic("mem: double free of slab object")
	}
	pg.slots |= 1 << uint(slot)
	pg.inUse--
	if pg.inUse == 0 {
		pages := p.classes[u.cls]
		for i, cand := range pages {
			if cand == pg {
				p.classes[u.cls] = append(pages[:i], pages[i+1:]...)
				break
			}
		}
		p.buddy.FreePages(pg.pa)
	}
}
