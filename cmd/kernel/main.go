// Command kernel boots the multiprocessor teaching kernel (spec.md
// §4.10's boot sequence): build the physical-page allocator, mount
// the root ext2 volume off a disk image, wire the console and
// profiling devices into it, start the first process against /init,
// and hand out virtual CPUs to the scheduler.
//
// _teacher/mkfs/mkfs.go is this pack's model for a small, flag-parsed
// command-line tool's main(); this command follows the same shape
// (flag.StringVar/IntVar, fail loud to stderr, os.Exit(1)) scaled up
// to the boot sequence spec.md §4.10 describes.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"mpk/buf"
	"mpk/console"
	"mpk/defs"
	"mpk/disk"
	"mpk/elf"
	"mpk/ext2"
	"mpk/fd"
	"mpk/file"
	"mpk/lock"
	"mpk/mem"
	"mpk/proc"
	"mpk/prof"
	"mpk/syscall"
	"mpk/trap"
	"mpk/vm"
)

// Bootopt_t holds the kernel's boot-time configuration, plain struct
// fields populated by flag.Parse (spec.md §2's ambient Configuration
// section) rather than a config file or environment variables — the
// same minimal, no-framework approach the teacher's mkfs takes to its
// own command-line handling.
type Bootopt_t struct {
	Image string
	Ncpu  int
	Npage int
	Init  string
}

func parseBootopt() Bootopt_t {
	var o Bootopt_t
	flag.StringVar(&o.Image, "image", "", "path to the root ext2 disk image")
	flag.IntVar(&o.Ncpu, "ncpu", 1, "number of virtual CPUs to start")
	flag.IntVar(&o.Npage, "npage", 4096, "physical pages to reserve for the page allocator")
	flag.StringVar(&o.Init, "init", "/init", "path of the first process to exec")
	flag.Parse()
	return o
}

// bootWaiter is the synthetic lock.Waiter used for every call made
// before the first process exists to sleep/wake through — mount,
// device registration, and building init's own address space all run
// before there is any fiber to block. Mirrors cmd/mkfs's bootWaiter.
type bootWaiter struct{}

func (bootWaiter) ID() int { return -1 }
func (bootWaiter) Sleep(chankey uintptr, cpu *lock.Cpu_t, l *lock.Spinlock_t) {
	panic("kernel: unexpected boot-time contention")
}
func (bootWaiter) Wakeup(chankey uintptr) {}
func (bootWaiter) Killed() bool { return false }

func main() {
	opt := parseBootopt()
	if opt.Image == "" {
		fmt.Fprintln(os.Stderr, "kernel: -image is required")
		os.Exit(1)
	}
	if opt.Ncpu < 1 {
		fmt.Fprintln(os.Stderr, "kernel: -ncpu must be at least 1")
		os.Exit(1)
	}

	w := bootWaiter{}
	bootCpu := &lock.Cpu_t{ID: -1}

	// Phase 1: reserve a small lock-free pool so the boot CPU can
	// allocate before any other virtual CPU exists; phase 2 opens the
	// rest under the allocator's own lock (spec.md §4.2).
	alloc := mem.NewAllocator(opt.Npage)
	alloc.Init(opt.Npage / 4)
	alloc.Phase2Init()

	dev, err := disk.OpenFile(opt.Image, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kernel: %v\n", err)
		os.Exit(1)
	}

	bufs := buf.NewCache(dev, 0, 512)
	fs, errt := ext2.Mount(bufs, 0, w, bootCpu)
	if errt != 0 {
		fmt.Fprintf(os.Stderr, "kernel: mount: %d\n", errt)
		os.Exit(1)
	}

	files := file.MkTable()
	procs := proc.MkTable()
	trapTable := trap.MkTable(nil, procs)
	sysKernel := &syscall.Kernel{
		Fs:           fs,
		Files:        files,
		Procs:        procs,
		Ticks:        trapTable.Ticks,
		TicksChanKey: trapTable.TicksChanKey,
	}
	trapTable.Sys = sysKernel

	con := console.MkConsole(os.Stdout, procs)
	con.ProcDump = func() { dumpProcs(procs, bootCpu) }
	fs.RegisterDevice(bootCpu, defs.D_CONSOLE, con)
	startStdinPump(trapTable, con, bootCpu)
	startTimerPump(trapTable, &lock.Cpu_t{ID: -2})

	profDev := prof.MkDevice(procs)
	fs.RegisterDevice(bootCpu, defs.D_PROF, profDev)

	root, errt := fs.Iget(bootCpu, fs.DevID, ext2.RootIno)
	if errt != 0 {
		fmt.Fprintf(os.Stderr, "kernel: root lookup: %d\n", errt)
		os.Exit(1)
	}
	ip, errt := fs.Namei(w, bootCpu, opt.Init, root)
	fs.Iput(w, bootCpu, root)
	if errt != 0 {
		fmt.Fprintf(os.Stderr, "kernel: lookup %s: %d\n", opt.Init, errt)
		os.Exit(1)
	}

	initVm := vm.NewVm(alloc)
	img, lerr := elf.Load(w, bootCpu, fs, ip, initVm, []string{opt.Init})
	fs.Iput(w, bootCpu, ip)
	if lerr != 0 {
		fmt.Fprintf(os.Stderr, "kernel: load %s: %d\n", opt.Init, lerr)
		os.Exit(1)
	}

	rootCwd, errt := fs.Iget(bootCpu, fs.DevID, ext2.RootIno)
	if errt != 0 {
		fmt.Fprintf(os.Stderr, "kernel: root cwd: %d\n", errt)
		os.Exit(1)
	}
	cwd := fd.MkRootCwd(rootCwd)

	procs.StartInit(opt.Init, cwd, initVm, initEntry(procs, img))

	done := make(chan struct{}, opt.Ncpu)
	for i := 0; i < opt.Ncpu; i++ {
		cpu := &lock.Cpu_t{ID: i}
		go func() {
			procs.SchedulerLoop(cpu)
			done <- struct{}{}
		}()
	}
	<-done
}

// initEntry is the first process's user-mode body, standing in for
// /init's compiled logic: interpreting arbitrary loaded x86 machine
// code is outside this kernel's scope (package proc's own doc explains
// why Entry is a Go closure rather than decoded instructions), so the
// one thing left for a hosted init to meaningfully do is exactly what
// a real init falls back to once it has no children left to reap:
// wait, and exit once none remain. img.Sp still seeds Tf.Esp so the
// process's recorded state matches what elf.Load built.
func initEntry(procs *proc.Table_t, img *elf.Image) proc.Entry {
	return func(p *proc.Proc_t, forkRet int) {
		p.Tf.Esp = img.Sp
		for {
			_, _, err := procs.Wait(p, p.Cpu())
			if err != 0 {
				procs.Exit(p, p.Cpu(), 0)
				return
			}
		}
	}
}

// dumpProcs is wired as the console's ^P handler (spec.md §4.11). It
// is not lockless: it prints from Snapshot, which takes the
// process-table lock, so each printed line is a consistent copy of one
// slot and the dump waits whenever another CPU holds that lock.
func dumpProcs(procs *proc.Table_t, cpu *lock.Cpu_t) {
	for _, info := range procs.Snapshot(cpu) {
		fmt.Printf("%d %s %s user=%dns sys=%dns\n", info.Pid, info.State, info.Name, info.Userns, info.Sysns)
	}
}

// stdinSource hands trap's keyboard-IRQ handler exactly the one byte
// startStdinPump just read off the host's stdin (spec.md §9's
// "console_intr(getc) feeds pending bytes" contract) — there is no
// hardware scancode port to poll in a hosted kernel, so a single
// already-read byte stands in for one.
type stdinSource struct {
	b  byte
	ok bool
}

func (s *stdinSource) Getc() (byte, bool) {
	if s.ok {
		s.ok = false
		return s.b, true
	}
	return 0, false
}

// startTimerPump fires trap.IRQTimer on a fixed host-clock interval,
// standing in for the periodic timer interrupt spec.md §5.3 assumes:
// without it t.ticks never advances, so uptime stays 0 and a process
// blocked in sleep never wakes (spec.md §4.10 sleep, §6 uptime).
func startTimerPump(t *trap.Table, cpu *lock.Cpu_t) {
	go func() {
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for range tick.C {
			t.Dispatch(cpu, nil, trap.IRQTimer, true)
		}
	}()
}

// startStdinPump reads the host process's stdin one byte at a time and
// fires the keyboard IRQ through trap.Table.Dispatch for each one,
// exercising the real IRQKbd -> IRQHandler -> ByteSource path (package
// trap, package console) instead of calling con.Intr directly.
func startStdinPump(t *trap.Table, con *console.Console_t, cpu *lock.Cpu_t) {
	src := &stdinSource{}
	t.RegisterIRQ(trap.IRQKbd, &console.IRQAdapter{Console: con, Cpu: cpu, Src: src})
	go func() {
		var b [1]byte
		for {
			n, err := os.Stdin.Read(b[:])
			if n > 0 {
				src.b, src.ok = b[0], true
				t.Dispatch(cpu, nil, trap.IRQKbd, false)
			}
			if err != nil {
				return
			}
		}
	}()
}
