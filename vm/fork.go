package vm

import "raspbit/mem"

/// Fork creates a child address space sharing every currently-alloced
/// frame with the parent, copy-on-write: both address spaces' VMAs are
/// marked Shared (so a subsequent write takes the COW fault path) and
/// every shared frame's refcount is bumped once for the child. VMAs
/// that were never demand-paged in (IsAlloced false) are copied as
/// VMA_t descriptors only — they stay demand-paged independently in
/// each address space, since there is nothing to share yet.
func (as *As_t) Fork() *As_t {
	as.Lock()
	defer as.Unlock()

	child := New(as.buddy)
	for _, v := range as.vmas {
		if v.External {
			// peripheral/wrapper regions are reinstalled fresh by the
			// caller after Fork returns, not inherited.
			continue
		}
		nv := &VMA_t{
			VirtAddr:  v.VirtAddr,
			Size:      v.Size,
			Perm:      v.Perm,
			PhysAddr:  v.PhysAddr,
			IsAlloced: v.IsAlloced,
			Shared:    v.Shared,
		}
		if v.IsAlloced && v.Perm&PermWrite != 0 {
			v.Shared = true
			nv.Shared = true
			npages := int(v.Size / mem.PGSIZE)
			for i := 0; i < npages; i++ {
				pa := v.PhysAddr + mem.Pa_t(i*mem.PGSIZE)
				as.buddy.Refup(pa)
				pageVA := v.VirtAddr + uintptr(i)*mem.PGSIZE
				e := child.walk(pageVA, true)
				e.present = true
				e.leafPa = pa
				e.perm = v.Perm &^ PermWrite
				// reinstall the parent's own mapping too, in case its page
				// table didn't have this page faulted in yet
				pe := as.walk(pageVA, true)
				pe.present = true
				pe.leafPa = pa
				pe.perm = v.Perm &^ PermWrite
			}
		}
		child.vmas = append(child.vmas, nv)
	}
	return child
}
