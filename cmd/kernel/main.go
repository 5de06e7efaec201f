// Command kernel is raspbit's boot entry: the host-simulation
// equivalent of the assembly boot stub that jumps into Go code once the
// MMU is off and one CPU is alive. It performs, in dependency order,
// the early heap and reservation table come up first, then the buddy
// allocator and slab pool, then the scheduler with its idle thread, then
// the timer installs a periodic tick that drives the scheduler through
// the IRQ dispatcher, and finally a handful of registered "user
// programs" are exec'd to exercise the VFS, FAT32, tmpfs, initramfs,
// device, signal, and fork/COW paths end to end.
//
// On real hardware this file would instead be reached from a `.s` reset
// vector; since this board target has no patched runtime to boot a Go
// program on bare ARM64, this binary
// runs the entire kernel as an ordinary host process, wiring every
// board-level collaborator to board.Fake instead of real MMIO.
package main

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"raspbit/board"
	"raspbit/defs"
	"raspbit/device"
	"raspbit/earlyheap"
	"raspbit/fat32"
	"raspbit/initramfs"
	"raspbit/irq"
	"raspbit/mem"
	"raspbit/proc"
	"raspbit/res"
	"raspbit/syscall"
	"raspbit/timer"
	"raspbit/tmpfs"
	"raspbit/ustr"
	"raspbit/vfs"
	"raspbit/vm"
)

// npages sizes the simulated DRAM range the buddy allocator manages;
// large enough to cover a handful of user execs, a fork, and a FAT32
// mount without exhausting it, small enough to keep the demo's
// diagnostic output readable.
const npages = 1 << 14

// schedTickPeriod is "freq >> 5" with the demo clock's freq fixed at 32,
// matching a self-rearming schedule_timer interval of one
// simulated tick.
const (
	clockFreqHz     = 32
	schedTickPeriod = clockFreqHz >> 5
)

// simClock is the host stand-in for the ARM generic timer's counter and
// frequency registers (board.go's narrow collaborator contract has no
// clock interface of its own since only timer.Clock_i needs one).
type simClock struct {
	now uint64
}

func (c *simClock) Ticks() uint64  { return atomic.LoadUint64(&c.now) }
func (c *simClock) FreqHz() uint64 { return clockFreqHz }
func (c *simClock) tick()          { atomic.AddUint64(&c.now, 1) }

func main() {
	fmt.Println("raspbit: booting")

	heap, reserved := bootReservations()
	buddy := mem.Phys_init(npages, reserved)
	pool := mem.MkPool(buddy)
	res.SetTotal(buddy.FreePages_count())
	fmt.Printf("raspbit: %d pages free after reservations (bump heap used %d bytes)\n",
		buddy.FreePages_count(), heap.Used())

	clock := &simClock{}
	tm := timer.New(clock)
	irq.SetHardware(nil, nil) // no real MMIO interrupt controller to mask
	irq.MarkInitDone()

	sched := proc.New(64)
	mountFilesystems()
	uart, _ := mountDevices(buddy, pool, sched)
	syscall.SetUart(uart)

	armScheduleTimer(tm, sched)
	registerDemoPrograms(buddy)
	execPrograms(sched, buddy, []string{
		"/bin/hello", "/bin/forker", "/bin/signaled", "/bin/fatreader", "/bin/uartecho",
	})

	driveIdleLoop(sched, clock, tm)

	if out := drainUart(uart); out != "" {
		fmt.Printf("raspbit: UART TX drained: %q\n", out)
	}
	if n := readDiagDevice(sched, buddy, "/dev/stat"); n > 0 {
		fmt.Printf("raspbit: /dev/stat read back %d bytes of pprof profile\n", n)
	}
	fmt.Println("raspbit: init exited, halting")
}

// readDiagDevice opens and reads one of the diagnostic devices through
// the ordinary vfs path (the same syscalls a user program would issue),
// rather than calling the diag package directly, so the D_STAT/D_PROF
// device nodes registered in mountDevices are actually exercised.
func readDiagDevice(sched *proc.Sched_t, buddy *mem.Buddy_t, path string) int {
	th := sched.Create(func() {})
	p := syscall.New(sched, th, buddy)
	fdno, err := p.Open(path, defs.O_RDONLY)
	if err != 0 {
		return 0
	}
	defer p.Close(fdno)
	buf := make([]byte, 4096)
	n, err := p.Read(fdno, buf)
	if err != 0 {
		return 0
	}
	return n
}

// bootReservations plays the role of the assembly boot stub's handoff:
// it reserves the byte ranges a booting kernel needs up front (page-table region,
// kernel image, initramfs, DTB reserved entries) via a bump heap, then
// flattens them into the (start, end, start, end, ...) form
// mem.Phys_init expects, mirroring buddy_system_init's reserve-then-
// merge order.
func bootReservations() (*earlyheap.Heap_t, []mem.Pa_t) {
	heap := earlyheap.New(1 << 20)

	// Page-table region: the root tables every thread will need before
	// the buddy can hand out frames of its own.
	heap.Reserve(0, 0x6000)
	// Kernel image: [_start.._end), simulated as a fixed low range.
	heap.Reserve(0x6000, 0x20000)
	// A scratch allocation for board metadata, exercising Alloc itself.
	_ = heap.Alloc(256)

	dtb := board.NewFake()
	dtb.Reserved = []board.Reservation{
		{Start: 0x20000, End: 0x24000}, // device-tree blob itself
	}
	for _, r := range dtb.Reservations() {
		heap.Reserve(r.Start, r.End)
	}

	cpio := buildInitramfsArchive()
	cpioStart := uintptr(0x24000)
	cpioEnd := cpioStart + uintptr(len(cpio))
	heap.Reserve(cpioStart, cpioEnd)
	initramfs.Register(cpio)

	flat := make([]mem.Pa_t, 0, len(heap.Reservations())*2)
	for _, r := range heap.Reservations() {
		flat = append(flat, mem.Pa_t(r.Start), mem.Pa_t(r.End))
	}
	return heap, flat
}

// buildInitramfsArchive assembles a tiny CPIO "newc" archive
// (110-byte ASCII header with 8-hex
// c_filesize/c_namesize, name+padding, data+padding, TRAILER!!!),
// standing in for the archive a real boot loader would hand off
// alongside the device tree.
func buildInitramfsArchive() []byte {
	entry := func(name string, data []byte) []byte {
		var out []byte
		hdr := fmt.Sprintf("070701%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x",
			0, 0o100644, 0, 0, 1, 0, len(data), 0, 0, 0, 0, len(name)+1, 0)
		out = append(out, []byte(hdr)...)
		out = append(out, []byte(name)...)
		out = append(out, 0)
		for len(out)%4 != 0 {
			out = append(out, 0)
		}
		out = append(out, data...)
		for len(out)%4 != 0 {
			out = append(out, 0)
		}
		return out
	}
	var archive []byte
	archive = append(archive, entry("motd.txt", []byte("raspbit initramfs online\n"))...)
	archive = append(archive, entry("TRAILER!!!", nil)...)
	return archive
}

// buildFAT32Image lays down a minimal one-partition MBR + BPB + FAT +
// root directory on a board.Fake, matching fat32fs_setup_mount's exact
// parse (partition type 0x0B, BPB field offsets): enough for fat32.mount
// to traverse a root directory containing one file.
func buildFAT32Image() board.BlockDevice_i {
	const (
		partStart  = 2048
		reserved   = 32
		numFATs    = 1
		fatSize    = 64
		secPerClus = 8
		rootClus   = 2
		fileClus   = 3
	)
	f := board.NewFake()

	var mbr [512]byte
	mbr[0x1BE+4] = 0x0B
	binary.LittleEndian.PutUint32(mbr[0x1BE+8:], partStart)
	writeFakeBlock(f, 0, mbr[:])

	var bpb [512]byte
	binary.LittleEndian.PutUint16(bpb[11:13], 512)
	bpb[13] = secPerClus
	binary.LittleEndian.PutUint16(bpb[14:16], reserved)
	bpb[16] = numFATs
	binary.LittleEndian.PutUint32(bpb[36:40], fatSize)
	binary.LittleEndian.PutUint32(bpb[44:48], rootClus)
	writeFakeBlock(f, partStart, bpb[:])

	fatStart := uint32(partStart + reserved)
	dataStart := fatStart + numFATs*fatSize

	var fat [512]byte
	binary.LittleEndian.PutUint32(fat[rootClus*4:rootClus*4+4], 0x0FFFFFFF)
	binary.LittleEndian.PutUint32(fat[fileClus*4:fileClus*4+4], 0x0FFFFFFF)
	writeFakeBlock(f, fatStart, fat[:])

	var rootDir [512]byte
	copy(rootDir[0:8], []byte("README  "))
	copy(rootDir[8:11], []byte("TXT"))
	binary.LittleEndian.PutUint16(rootDir[20:22], 0)
	binary.LittleEndian.PutUint16(rootDir[26:28], fileClus)
	body := []byte("FAT32 mounted by raspbit\n")
	binary.LittleEndian.PutUint32(rootDir[28:32], uint32(len(body)))
	writeFakeBlock(f, dataStart+(rootClus-2), rootDir[:])

	var fileBlock [512]byte
	copy(fileBlock[:], body)
	writeFakeBlock(f, dataStart+(fileClus-2), fileBlock[:])

	return f
}

func writeFakeBlock(f *board.Fake, idx uint32, buf []byte) {
	var blk [512]byte
	copy(blk[:], buf)
	f.Blocks[idx] = blk
}

// mountFilesystems wires up J/K/L: tmpfs as the root, initramfs grafted
// under /initramfs, a FAT32 image grafted under /mnt.
func mountFilesystems() {
	tmpfs.Register()
	if err := vfs.InitRootfs("tmpfs"); err != 0 {
		panic(fmt.Sprintf("raspbit: mount root tmpfs: %d", err))
	}

	if _, err := vfs.Mkdir(ustr.Ustr("/initramfs")); err != 0 {
		panic(fmt.Sprintf("raspbit: mkdir /initramfs: %d", err))
	}
	if err := vfs.Mount(ustr.Ustr("/initramfs"), "initramfs"); err != 0 {
		panic(fmt.Sprintf("raspbit: mount initramfs: %d", err))
	}

	fat32.Register(buildFAT32Image())
	if _, err := vfs.Mkdir(ustr.Ustr("/mnt")); err != 0 {
		panic(fmt.Sprintf("raspbit: mkdir /mnt: %d", err))
	}
	if err := vfs.Mount(ustr.Ustr("/mnt"), "fat32"); err != 0 {
		panic(fmt.Sprintf("raspbit: mount fat32: %d", err))
	}
}

// mountDevices wires up component M: /dev/uart, /dev/framebuffer, and
// the D_STAT/D_PROF diagnostic devices.
func mountDevices(buddy *mem.Buddy_t, pool *mem.Pool_t, sched *proc.Sched_t) (*device.Uart_t, *device.Framebuffer_t) {
	u := device.NewUart()
	if err := device.RegisterUart(u); err != 0 {
		panic(fmt.Sprintf("raspbit: register /dev/uart: %d", err))
	}
	fb := &device.Framebuffer_t{
		Pixels: make([]byte, 64*32*4),
		Width:  64, Height: 32, Pitch: 64 * 4, IsRGB: true,
	}
	if err := device.RegisterFramebuffer(fb); err != 0 {
		panic(fmt.Sprintf("raspbit: register /dev/framebuffer: %d", err))
	}
	if err := device.RegisterStat(buddy, pool, sched); err != 0 {
		panic(fmt.Sprintf("raspbit: register /dev/stat: %d", err))
	}
	if err := device.RegisterProf(buddy, pool, sched); err != 0 {
		panic(fmt.Sprintf("raspbit: register /dev/prof: %d", err))
	}
	return u, fb
}

// armScheduleTimer installs the self-rearming schedule_timer task:
// every schedTickPeriod ticks it checks whether more
// than one thread is runnable and, if so, defers a preemptive
// reschedule at timer priority before re-arming itself.
func armScheduleTimer(tm *timer.Timer_t, sched *proc.Sched_t) {
	var fire func()
	fire = func() {
		if sched.NumReady() > 1 {
			sched.Schedule()
		}
		tm.Add(schedTickPeriod, -1, fire)
	}
	tm.Add(schedTickPeriod, -1, fire)
}

func drainUart(u *device.Uart_t) string {
	var out []byte
	for {
		b, ok := u.PopTX()
		if !ok {
			break
		}
		out = append(out, b)
	}
	return string(out)
}

// registerDemoPrograms installs the "user programs" exec will run,
// standing in for ELF binaries placed on disk: each is a ProgramFunc
// closure that drives a Proc_t purely through the syscall package, the
// same surface a real EL0 program would reach via `svc`.
func registerDemoPrograms(buddy *mem.Buddy_t) {
	syscall.RegisterProgram("/bin/hello", func(p *syscall.Proc_t) {
		fdno, err := p.Open("/greeting", defs.O_CREAT|defs.O_RDWR)
		if err != 0 {
			p.Exit(1)
			return
		}
		p.Write(fdno, []byte("Hello\n"))
		p.Close(fdno)
		p.Exit(0)
	})

	syscall.RegisterProgram("/bin/forker", func(p *syscall.Proc_t) {
		p.As.AddVMA(0x10000, mem.PGSIZE, vm.PermRead|vm.PermWrite, 0, false, false)
		if err := p.As.HandleFault(0x10000, defs.FaultTranslation, false); err != 0 {
			p.Exit(1)
			return
		}
		if pa, ok := p.As.Translate(0x10000); ok {
			buddy.Dmap(pa)[0] = 'P'
		}

		done := make(chan struct{})
		_, ferr := p.Fork(func(child *syscall.Proc_t) {
			if err := child.As.HandleFault(0x10000, defs.FaultPermission, true); err == 0 {
				if pa, ok := child.As.Translate(0x10000); ok {
					buddy.Dmap(pa)[0] = 'C'
				}
			}
			close(done)
		})
		if ferr != 0 {
			p.Exit(1)
			return
		}
		p.Exit(0)
		_ = done // the child runs on its own scheduler slot; main drains it via driveIdleLoop
	})

	syscall.RegisterProgram("/bin/signaled", func(p *syscall.Proc_t) {
		caught := false
		p.Signal(defs.SIGTERM, func(sig int) { caught = true })
		syscall.Kill(p)
		p.Sig.CheckSignal()
		p.SigReturn()
		if !caught {
			p.Exit(1)
			return
		}
		p.Exit(0)
	})

	syscall.RegisterProgram("/bin/fatreader", func(p *syscall.Proc_t) {
		fdno, err := p.Open("/mnt/README.TXT", defs.O_RDONLY)
		if err != 0 {
			p.Exit(1)
			return
		}
		buf := make([]byte, 64)
		p.Read(fdno, buf)
		p.Close(fdno)
		p.Exit(0)
	})

	syscall.RegisterProgram("/bin/uartecho", func(p *syscall.Proc_t) {
		p.UartWrite([]byte("raspbit shell ready\n"))
		p.Exit(0)
	})
}

// execPrograms seeds an empty vfs file for each registered program
// (standing in for placing an ELF binary at that path) and execs it on
// its own freshly-created thread, mirroring "user processes enter via
// exec". A real init process would exec one shell and let
// it fork/exec the rest; this demo runs them as siblings so every
// syscall path gets exercised without threading a shell implementation
// through the boot sequence (the shell itself is out of scope).
func execPrograms(sched *proc.Sched_t, buddy *mem.Buddy_t, paths []string) {
	if _, err := vfs.Mkdir(ustr.Ustr("/bin")); err != 0 {
		panic(fmt.Sprintf("raspbit: mkdir /bin: %d", err))
	}
	for _, path := range paths {
		if _, err := vfs.Create(ustr.Ustr(path)); err != 0 {
			panic(fmt.Sprintf("raspbit: seed %s: %d", path, err))
		}
		path := path
		var p *syscall.Proc_t
		th := sched.Create(func() {
			if err := p.Exec(path, nil); err != 0 {
				fmt.Printf("raspbit: exec %s failed: %d\n", path, err)
			}
		})
		p = syscall.New(sched, th, buddy)
	}
}

// driveIdleLoop plays the idle thread's role ("repeatedly
// reap ZOMBIEs and call schedule()"): it advances the simulated clock,
// fires expired timer tasks into the IRQ queue, drains the queue, and
// round-robins the scheduler until every thread (init plus whatever it
// spawned) has reached ZOMBIE and been reaped.
func driveIdleLoop(sched *proc.Sched_t, clock *simClock, tm *timer.Timer_t) {
	const maxTicks = 4096
	for tick := 0; tick < maxTicks; tick++ {
		clock.tick()
		tm.Fire()
		irq.RunPreemptive()

		if !sched.Schedule() {
			sched.KillZombies()
			if allReaped(sched) {
				return
			}
			continue
		}
		sched.KillZombies()
	}
	fmt.Println("raspbit: idle loop budget exhausted without reaping every thread")
}

func allReaped(sched *proc.Sched_t) bool {
	for _, th := range sched.Threads() {
		if th.State != proc.IDLE {
			return false
		}
	}
	return true
}

