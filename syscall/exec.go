package syscall

import (
	"raspbit/defs"
	"raspbit/mem"
	"raspbit/signal"
	"raspbit/ustr"
	"raspbit/vfs"
	"raspbit/vm"
)

// wrapperPage holds the one shared signal-wrapper payload every process
// maps read-only+executable at USER_SIGNAL_WRAPPER_VA. It is allocated
// once, lazily, the first time any process execs.
var wrapperPage struct {
	pa  mem.Pa_t
	set bool
}

func ensureWrapperPage(buddy *mem.Buddy_t) mem.Pa_t {
	if wrapperPage.set {
		return wrapperPage.pa
	}
	_, pa, ok := buddy.Refpg_new()
	if !ok {
		panic("syscall: out of memory allocating the signal wrapper page")
	}
	wrapperPage.pa = pa
	wrapperPage.set = true
	return pa
}

// Exec replaces the calling process's image with the program registered
// at path (syscall 3). It discards the old address space, loads the new
// program's pages, installs the user stack/peripheral/wrapper VMAs, and
// resets signal handlers to default — exactly exec's contract —
// then runs the program to completion in place of
// returning, since this simulation's "user code" is the Go closure
// itself rather than a separate instruction stream the CPU jumps to.
// Exec returns -ENOENT (without running anything) if path has no
// registered program backing it, and vfs.Open's error if path does not
// resolve through the vfs.
func (p *Proc_t) Exec(path string, argv []string) defs.Err_t {
	canon := p.Cwd.Canonicalpath(ustr.Ustr(path))
	fn, registered := lookupProgram(path)
	if !registered {
		return -defs.ENOENT
	}
	ops, err := vfs.Open(canon, defs.O_RDONLY)
	if err != 0 {
		return err
	}
	image, rerr := readAll(ops)
	ops.Close()
	if rerr != 0 {
		return rerr
	}

	p.As.Reset()
	loadImage(p.As, p.buddy, image)

	p.As.AddVMA(defs.USER_STACK_BASE-defs.USER_STACK_SIZE, defs.USER_STACK_SIZE,
		vm.PermRead|vm.PermWrite, 0, false, false)
	p.As.AddExternalVMA(defs.PERIPHERAL_BASE, defs.PERIPHERAL_END-defs.PERIPHERAL_BASE,
		vm.PermRead|vm.PermWrite, mem.Pa_t(defs.PERIPHERAL_BASE))
	wrapperPa := ensureWrapperPage(p.buddy)
	p.As.AddExternalVMA(defs.USER_SIGNAL_WRAPPER_VA, mem.PGSIZE, vm.PermRead|vm.PermExec, wrapperPa)

	p.mu.Lock()
	p.argv = argv
	for i := range p.fds {
		p.fds[i] = nil
	}
	p.mu.Unlock()
	p.Sig = signal.New(func() { p.Exit(-int(defs.SIGKILL)) })

	fn(p)
	return 0
}

// loadImage allocates one frame per page of image (at least one page,
// even for an empty image) and adds a distinct VMA for each, matching
// "allocate user-space pages one-by-one (so each gets a distinct VMA),
// fill each from the executable file".
func loadImage(as *vm.As_t, buddy *mem.Buddy_t, image []byte) {
	npages := (len(image) + mem.PGSIZE - 1) / mem.PGSIZE
	if npages == 0 {
		npages = 1
	}
	for i := 0; i < npages; i++ {
		pg, pa, ok := buddy.Refpg_new()
		if !ok {
			panic("syscall: out of memory loading exec image")
		}
		start := i * mem.PGSIZE
		end := start + mem.PGSIZE
		if end > len(image) {
			end = len(image)
		}
		if start < end {
			copy(pg[:], image[start:end])
		}
		va := defs.USER_SPACE + uintptr(i*mem.PGSIZE)
		as.AddVMA(va, mem.PGSIZE, vm.PermRead|vm.PermWrite|vm.PermExec, pa, true, false)
	}
}
