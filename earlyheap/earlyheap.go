// Package earlyheap implements the bump allocator used before the buddy
// allocator (package mem) is initialized (component A), plus the
// reservation table that records every byte range the bump allocator
// and the boot loader have already claimed so Phys_init never hands
// them back out.
package earlyheap

import "raspbit/util"

/// Range_t is a half-open [Start, End) byte range, expressed as offsets
/// into the memory arena (see mem.Phys_init's reserved parameter).
type Range_t struct {
	Start uintptr
	End   uintptr
}

/// Heap_t is a simple bump allocator: it never frees individual
/// allocations (there is no way to free from a bump heap), and it
/// panics rather than returning an error once exhausted, matching
/// a "kernel allocation failures are fatal" policy.
type Heap_t struct {
	mem   []byte
	off   int
	rsv   []Range_t
}

/// New creates a Heap_t over a fresh arena of size bytes.
func New(size int) *Heap_t {
	return &Heap_t{mem: make([]byte, size)}
}

/// Alloc returns size bytes, 8-byte aligned, bumping the heap pointer.
/// It also records the allocation in the reservation table so that once
/// the buddy allocator takes over it will never reclaim this memory.
func (h *Heap_t) Alloc(size int) []byte {
	start := util.Roundup(h.off, 8)
	end := start + size
	if end > len(h.mem) {
		panic("earlyheap: bump allocator exhausted")
	}
	h.off = end
	h.rsv = append(h.rsv, Range_t{Start: uintptr(start), End: uintptr(end)})
	return h.mem[start:end]
}

/// Reserve records an externally-allocated range (the kernel image, the
/// initial page tables, the CPIO initramfs image, a DTB reserved-memory
/// entry) without carving it out of the bump heap itself.
func (h *Heap_t) Reserve(start, end uintptr) {
	h.rsv = append(h.rsv, Range_t{Start: start, End: end})
}

/// Reservations returns every recorded range as a Range_t, in the order
/// recorded; callers flatten them into the (start, end, start, end, ...)
/// byte-offset form mem.Phys_init expects.
func (h *Heap_t) Reservations() []Range_t {
	return h.rsv
}

/// Used returns the number of bytes consumed so far, for diagnostics.
func (h *Heap_t) Used() int {
	return h.off
}
