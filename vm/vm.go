// Package vm implements the kernel's 4-level page tables and VMA lists
// (component G): demand paging on a translation fault, and
// copy-on-write on a write fault against a shared read-only mapping.
//
// Each page table level (PGD, PUD, PMD, PTE) is backed by one physical
// frame charged against the buddy allocator, the same as the original
// walker's map_one_page — but represented here as a Go struct rather
// than a bit-packed hardware descriptor, since there is no real MMU to
// satisfy and only the traversal/accounting semantics are observable.
package vm

import (
	"sync"

	"raspbit/bounds"
	"raspbit/caller"
	"raspbit/defs"
	"raspbit/mem"
	"raspbit/res"
)

/// Perm bits, matching the rwx encoding mmu_add_vma's callers use:
/// bit 0 = present/accessible, bit 1 = writable, bit 2 = executable.
const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

type Perm int

/// VMA_t describes one mapped region of a thread's address space.
type VMA_t struct {
	VirtAddr  uintptr
	PhysAddr  mem.Pa_t // valid only once IsAlloced; otherwise backing is demand-paged
	Size      uintptr
	Perm      Perm
	IsAlloced bool // true once at least one page has been backed by a real frame
	Shared    bool // true for a COW-eligible mapping (e.g. post-fork)

	// External marks a fixed identity mapping outside the buddy arena
	// (the peripheral MMIO VMA exec installs) or a single shared
	// kernel-owned page mapped read-only into every process (the signal
	// wrapper VMA). Neither is refcounted or torn down by DelVMA/Fork,
	// matching exec's "peripheral identity VMA" / "signal wrapper VMA"
	// being reinstalled fresh rather than inherited across fork.
	External bool
}

func (v *VMA_t) contains(va uintptr) bool {
	return va >= v.VirtAddr && va < v.VirtAddr+v.Size
}

type entry_t struct {
	present bool
	child   *pageTable_t // non-nil at levels 0..2
	leafPa  mem.Pa_t     // valid at level 3 (a leaf PTE) when present
	perm    Perm
}

type pageTable_t struct {
	entries [512]entry_t
	framePa mem.Pa_t
}

/// As_t is a thread's address space: its VMA list plus its 4-level page
/// table root (PGD).
type As_t struct {
	sync.Mutex
	buddy *mem.Buddy_t
	pgd   *pageTable_t
	vmas  []*VMA_t
}

/// New creates an empty address space backed by buddy.
func New(buddy *mem.Buddy_t) *As_t {
	return &As_t{buddy: buddy, pgd: newTable(buddy)}
}

func newTable(buddy *mem.Buddy_t) *pageTable_t {
	pa := buddy.AllocPages(1)
	return &pageTable_t{framePa: pa}
}

func levelIndex(va uintptr, level int) int {
	return int((va >> uint(39-level*9)) & 0x1ff)
}

/// walk descends the 4 levels (PGD→PUD→PMD→PTE), allocating intermediate
/// tables on demand when create is true. It returns the leaf entry slot,
/// or nil if create is false and a table along the path doesn't exist
/// yet. Allocating intermediate tables is admission-controlled by
/// bounds/res so a page-table walk can never half-allocate a chain: the
/// caller reserves the worst case (3 new tables) before calling walk
/// with create=true.
func (as *As_t) walk(va uintptr, create bool) *entry_t {
	table := as.pgd
	for level := 0; level < 3; level++ {
		idx := levelIndex(va, level)
		e := &table.entries[idx]
		if !e.present {
			if !create {
				return nil
			}
			e.present = true
			e.child = newTable(as.buddy)
		}
		table = e.child
	}
	idx := levelIndex(va, 3)
	return &table.entries[idx]
}

/// AddVMA registers a new mapped region. phys is meaningful only when
/// alloced is true (the caller already owns the frames, e.g. exec's
/// image pages); otherwise pages are demand-paged in on first fault.
func (as *As_t) AddVMA(va uintptr, size uintptr, perm Perm, phys mem.Pa_t, alloced bool, shared bool) *VMA_t {
	as.Lock()
	defer as.Unlock()
	size = roundup(size, mem.PGSIZE)
	v := &VMA_t{VirtAddr: va, Size: size, Perm: perm, PhysAddr: phys, IsAlloced: alloced, Shared: shared}
	as.vmas = append(as.vmas, v)
	return v
}

/// AddExternalVMA registers a fixed mapping (peripheral MMIO, the signal
/// wrapper page) whose backing is not buddy-owned memory: DelVMA/Fork
/// skip refcounting it, matching exec reinstalling these fresh every
/// time rather than inheriting or releasing them like an ordinary VMA.
func (as *As_t) AddExternalVMA(va uintptr, size uintptr, perm Perm, phys mem.Pa_t) *VMA_t {
	as.Lock()
	defer as.Unlock()
	size = roundup(size, mem.PGSIZE)
	v := &VMA_t{VirtAddr: va, Size: size, Perm: perm, PhysAddr: phys, IsAlloced: true, External: true}
	as.vmas = append(as.vmas, v)
	return v
}

func roundup(v, b uintptr) uintptr {
	return (v + b - 1) / b * b
}

func (as *As_t) findVMA(va uintptr) *VMA_t {
	for _, v := range as.vmas {
		if v.contains(va) {
			return v
		}
	}
	return nil
}

/// DelVMA drops every VMA and releases the frames it owned, refcounted
/// through the buddy allocator exactly like mmu_del_vma.
func (as *As_t) DelVMA() {
	as.Lock()
	defer as.Unlock()
	for _, v := range as.vmas {
		if v.IsAlloced && !v.External {
			npages := int(v.Size / mem.PGSIZE)
			for i := 0; i < npages; i++ {
				as.buddy.Refdown(v.PhysAddr + mem.Pa_t(i*mem.PGSIZE))
			}
		}
	}
	as.vmas = nil
}

/// freeTables recursively returns every non-leaf page-table frame to the
/// buddy allocator, matching free_page_tables's post-order walk over
/// levels 0..2 (level 3 holds leaf PTEs, which are frames owned by VMAs,
/// not by the table itself).
func freeTables(buddy *mem.Buddy_t, table *pageTable_t, level int) {
	if level < 3 {
		for i := range table.entries {
			e := &table.entries[i]
			if e.present && e.child != nil {
				freeTables(buddy, e.child, level+1)
			}
		}
	}
	buddy.FreePages(table.framePa)
}

/// Reset discards the address space's entire page-table tree and VMA
/// list, matching exec's "discard the VMA list; free the page-table
/// tree; zero the root" sequence. Frames backing VMAs are
/// released via DelVMA's refcounting first.
func (as *As_t) Reset() {
	as.DelVMA()
	as.Lock()
	defer as.Unlock()
	freeTables(as.buddy, as.pgd, 0)
	as.pgd = newTable(as.buddy)
}

/// EnsureMapped installs a page-table entry for va (a translation
/// fault): if the owning VMA is demand-paged (not yet alloced), a fresh
/// zeroed frame is allocated and mapped; if it already owns a frame,
/// that frame is mapped with the VMA's permissions, minus write access
/// when the VMA is COW-shared so the next write takes the COW path.
func (as *As_t) EnsureMapped(va uintptr) defs.Err_t {
	as.Lock()
	defer as.Unlock()

	v := as.findVMA(va)
	if v == nil {
		return -defs.EFAULT
	}
	if !res.Resadd_noblock(bounds.Bounds(bounds.B_VM_ENSUREMAPPED_INNER)) {
		caller.Callerdump(2)
		panic("vm: out of page-table admission")
	}
	defer res.Resfree(bounds.Bounds(bounds.B_VM_ENSUREMAPPED_INNER))

	pageVA := va &^ (mem.PGSIZE - 1)
	off := pageVA - v.VirtAddr

	var pa mem.Pa_t
	if v.IsAlloced {
		pa = v.PhysAddr + mem.Pa_t(off)
	} else {
		_, newPa, ok := as.buddy.Refpg_new()
		if !ok {
			caller.Callerdump(2)
			panic("vm: out of memory servicing a demand-paging fault")
		}
		pa = newPa
		if !v.Shared && off == 0 {
			// single-page anonymous VMAs become "alloced" once backed
			v.PhysAddr = pa
			v.IsAlloced = true
		}
	}
	e := as.walk(pageVA, true)
	e.present = true
	e.leafPa = pa
	e.perm = v.Perm
	if v.Shared {
		e.perm &^= PermWrite
	}
	return 0
}

/// HandleCOWFault services a write fault against a page whose VMA is
/// marked Shared and writable: if the frame is still referenced by
/// another address space (refcount > 1) a private copy is made and the
/// VMA's mapping is updated to point at it, exactly mirroring the
/// reference-count branch in mmu_memfail_abort_handler; if this address
/// space already holds the only reference, the page is simply remapped
/// writable in place.
func (as *As_t) HandleCOWFault(va uintptr) defs.Err_t {
	as.Lock()
	defer as.Unlock()

	v := as.findVMA(va)
	if v == nil {
		return -defs.EFAULT
	}
	if v.Perm&PermWrite == 0 {
		return -defs.EACCES
	}
	pageVA := va &^ (mem.PGSIZE - 1)
	off := pageVA - v.VirtAddr
	curPa := v.PhysAddr + mem.Pa_t(off)

	if as.buddy.Refcnt(curPa) > 1 {
		newPg, newPa, ok := as.buddy.Refpg_new()
		if !ok {
			caller.Callerdump(2)
			panic("vm: out of memory servicing a copy-on-write fault")
		}
		copy(newPg[:], as.buddy.Dmap(curPa)[:])
		as.buddy.Refdown(curPa)
		if off == 0 {
			v.PhysAddr = newPa
		}
		e := as.walk(pageVA, true)
		e.present = true
		e.leafPa = newPa
		e.perm = v.Perm
	} else {
		e := as.walk(pageVA, true)
		e.present = true
		e.leafPa = curPa
		e.perm = v.Perm
	}
	return 0
}

/// Translate returns the physical address currently mapped for va, and
/// whether a mapping exists at all — used by tests and by the syscall
/// layer's copy-in/copy-out helpers.
func (as *As_t) Translate(va uintptr) (mem.Pa_t, bool) {
	as.Lock()
	defer as.Unlock()
	e := as.walk(va&^(mem.PGSIZE-1), false)
	if e == nil || !e.present {
		return 0, false
	}
	off := va & (mem.PGSIZE - 1)
	return e.leafPa + mem.Pa_t(off), true
}

/// HandleFault classifies and dispatches a fault the way
/// mmu_memfail_abort_handler does, returning 0 on success or the error
/// the caller should use to kill the faulting thread (EFAULT for "area
/// not part of the address space", EACCES for "permission fault").
func (as *As_t) HandleFault(va uintptr, kind defs.FaultKind, wasWrite bool) defs.Err_t {
	as.Lock()
	v := as.findVMA(va)
	as.Unlock()
	if v == nil {
		return -defs.EFAULT
	}
	switch kind {
	case defs.FaultTranslation:
		return as.EnsureMapped(va)
	case defs.FaultPermission:
		if wasWrite && v.Shared && v.Perm&PermWrite != 0 {
			return as.HandleCOWFault(va)
		}
		return -defs.EACCES
	default:
		return -defs.EFAULT
	}
}
