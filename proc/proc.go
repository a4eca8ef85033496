// Package proc implements the process table and scheduler (spec.md
// §4.10): process lifecycle, fork/exit/wait, sleep/wakeup/kill, and a
// per-CPU scheduler loop.
//
// Biscuit's own proc.go (not retrieved for this pack — only its
// go.mod survived) switches real callee-saved register contexts via
// assembly (swtch) and resumes a process by restoring its kernel
// stack and iret-ing into user mode. A hosted Go process has none of
// that: there is no kernel stack to fabricate and no trap frame a CPU
// will ever iret through. This package keeps the scheduler's locking
// discipline and process lifecycle exactly as spec.md §4.10 describes
// while replacing the "swtch to a saved context" mechanism with the
// GLOSSARY's own suggested "fiber" framing: each process is a
// goroutine blocked on a private channel, and the scheduler loop hands
// it the "CPU" by sending on that channel and waiting for it to hand
// control back (spec.md §9: "treat the forkret/trapret trick as the
// explicit start function of a fiber"). A process's user-mode body is
// supplied as a Go closure (Proc_t.Entry) rather than decoded x86
// machine code — this module's scope is the kernel core, not an x86
// emulator, and the spec's own Non-goals place user-space programs
// outside it.
package proc

import (
	"sync/atomic"
	"time"

	"mpk/accnt"
	"mpk/defs"
	"mpk/fd"
	"mpk/lock"
	"mpk/vm"
)

// State is a process's position in spec.md §3's lifecycle:
// UNUSED -> EMBRYO -> RUNNABLE -> RUNNING -> SLEEPING/RUNNABLE (repeat)
// -> ZOMBIE -> UNUSED.
type State int

const (
	UNUSED State = iota
	EMBRYO
	SLEEPING
	RUNNABLE
	RUNNING
	ZOMBIE
)

// NOFILE bounds a process's open-file-descriptor table (spec.md §3:
// "up to N (default 16) open-file slots").
const NOFILE = 16

// NPROC bounds the process table (spec.md §4.10: alloc_proc scans a
// fixed-size table for an UNUSED slot).
const NPROC = 64

// Entry is a process's user-mode body: in real xv6/Biscuit this is
// machine code reached via iret; here it is a Go closure the
// scheduler's fiber hand-off resumes. forkRet is the value fork(2)
// "returns" to this fiber: 0 when it is running as a freshly forked
// child, meaningless for the first process.
type Entry func(p *Proc_t, forkRet int)

// Trapframe stands in for the saved register snapshot spec.md §3
// says sits at the top of a process's kernel stack. This module
// tracks only the two fields any syscall body needs: Eax, which
// doubles as both the syscall number on entry and the return value on
// exit, and Esp, the user stack pointer syscall argument fetches read
// from (spec.md §4.9: "arguments sit on the user stack at known
// offsets").
type Trapframe struct {
	Eax int
	Esp int
}

// Proc_t is one process-table entry (spec.md §3, "Process").
type Proc_t struct {
	Pid    int
	Name   string
	Parent *Proc_t
	killed bool
	State  State
	Chan   uintptr // valid only while SLEEPING

	Cwd *fd.Cwd_t
	Fds [NOFILE]*fd.Fd_t

	Vm    *vm.Vm_t
	Accnt accnt.Accnt_t
	Tf    Trapframe

	// NextChildEntry is consulted by the fork syscall body (package
	// syscall) to decide what closure the new child fiber runs. Real
	// fork(2) takes no argument because the child resumes at the
	// parent's own program counter; a hosted Go fiber has no such
	// counter to resume, so whatever sets up a process that intends to
	// fork must first store here what its child should do. Left nil,
	// the child simply re-runs the parent's own Entry with forkRet 0.
	NextChildEntry Entry

	ExitStatus int

	table    *Table_t
	cpu      *lock.Cpu_t
	entry    Entry
	lastTrap time.Time

	run  chan int       // scheduler -> fiber: dispatch/redispatch, carrying forkRet
	done chan struct{}  // fiber -> scheduler: yielded or returned; check State to tell which
}

// ID satisfies lock.Waiter.
func (p *Proc_t) ID() int { return p.Pid }

// Entry returns the closure this process itself was started with, the
// fork syscall's fallback child body when NextChildEntry is unset.
func (p *Proc_t) Entry() Entry { return p.entry }

// Cpu returns the virtual CPU SchedulerLoop last dispatched this fiber
// onto, the same Cpu_t a real trap entry would have captured off the
// hardware before calling into this body. A process's own Entry
// closure (and anything it calls, like trap.Table.Dispatch) needs this
// to thread through every lock acquisition spec.md requires be
// cpu-aware (nested cli counting).
func (p *Proc_t) Cpu() *lock.Cpu_t { return p.cpu }

// Sleep satisfies lock.Waiter, delegating to the owning table so the
// wakeup scan below can see every sleeper (spec.md §4.10, "sleep").
func (p *Proc_t) Sleep(chankey uintptr, cpu *lock.Cpu_t, l *lock.Spinlock_t) {
	p.table.sleep(p, chankey, cpu, l)
}

// Wakeup satisfies lock.Waiter.
func (p *Proc_t) Wakeup(chankey uintptr) {
	p.table.wakeup(chankey)
}

// Killed satisfies lock.Waiter (spec.md §5.3's "killed is a soft flag
// observed at... every wake-up inside pipe read, wait, and sleep").
func (p *Proc_t) Killed() bool { return p.killed }

// ChargeUser adds the wall-clock gap since p's last trap to its user
// time, then resets the mark to now: the time between one trap and the
// next is time p spent running its own code, not the kernel's (spec.md
// §4.10's accounting fields). Called from trap.Table.Dispatch, which
// owns the other half of the charge (the syscall body's own duration,
// charged as system time).
func (p *Proc_t) ChargeUser(now time.Time) {
	if !p.lastTrap.IsZero() {
		p.Accnt.Utadd(now.Sub(p.lastTrap))
	}
	p.lastTrap = now
}

// SetKilled sets p's killed flag, called by Kill and by a trap handler
// that marks a faulting user-mode process killed (spec.md §7(d)).
func (p *Proc_t) SetKilled() { p.killed = true }

// Table_t is the system-wide process table (spec.md §5(a): "one
// spinlock, acquired before sleep/wakeup and during state
// transitions").
type Table_t struct {
	Lock  *lock.Spinlock_t
	procs [NPROC]*Proc_t
	nextP int64
	Init  *Proc_t
}

// MkTable returns an empty process table.
func MkTable() *Table_t {
	return &Table_t{Lock: lock.MkSpinlock("proctab")}
}

// allocProc finds an UNUSED slot, assigns the next PID, and marks it
// EMBRYO (spec.md §4.10, "Allocation"). Must be called with Lock held.
func (t *Table_t) allocProc(name string, entry Entry) (*Proc_t, defs.Err_t) {
	for i := range t.procs {
		if t.procs[i] == nil {
			pid := int(atomic.AddInt64(&t.nextP, 1))
			p := &Proc_t{
				Pid:   pid,
				Name:  name,
				State: EMBRYO,
				table: t,
				entry: entry,
				run:   make(chan int),
				done:  make(chan struct{}),
			}
			t.procs[i] = p
			return p, 0
		}
	}
	return nil, -defs.EAGAIN
}

// StartInit allocates and launches the first process (spec.md §4.10,
// "First user process"): no parent, no cwd/fds of its own to
// duplicate — the caller (cmd/kernel) supplies both after mount.
func (t *Table_t) StartInit(name string, cwd *fd.Cwd_t, v *vm.Vm_t, entry Entry) *Proc_t {
	t.Lock.Acquire(cpuBootstrap)
	p, err := t.allocProc(name, entry)
	t.Lock.Release(cpuBootstrap)
	if err != 0 {
		panic("proc: process table exhausted at boot")
	}
	p.Cwd = cwd
	p.Vm = v
	p.State = RUNNABLE
	t.Init = p
	go p.fiber()
	return p
}

// cpuBootstrap is a throwaway Cpu_t used only for the handful of
// table-lock acquisitions that happen before any real per-CPU
// scheduler loop exists (spec.md's boot sequence runs before the
// scheduler starts handing out multiple runnable processes).
var cpuBootstrap = &lock.Cpu_t{ID: -1}

// fiber is a process's goroutine body: it blocks for dispatch, runs
// its entry closure to completion (or until the closure itself
// suspends via Sleep inside a syscall), then reports back.
func (p *Proc_t) fiber() {
	forkRet := <-p.run
	if p.entry != nil {
		p.entry(p, forkRet)
	}
	p.done <- struct{}{}
}

// Fork duplicates parent into a new child process (spec.md §4.10,
// "fork"): fd references are duplicated (not the underlying
// file/inode), the child shares the parent's Cwd_t itself without
// taking a new inode reference, the child is linked under parent and marked
// RUNNABLE. childEntry is the hosted-Go stand-in for "the child
// resumes at the same program counter, fork() returning 0" — see the
// package doc for why a real continuation isn't reproducible without
// an x86 emulator.
func (t *Table_t) Fork(parent *Proc_t, cpu *lock.Cpu_t, childEntry Entry) (*Proc_t, defs.Err_t) {
	t.Lock.Acquire(cpu)
	child, err := t.allocProc(parent.Name, childEntry)
	if err != 0 {
		t.Lock.Release(cpu)
		return nil, err
	}
	t.Lock.Release(cpu)

	for i, pfd := range parent.Fds {
		if pfd == nil {
			continue
		}
		nfd, err := fd.Copyfd(pfd, cpu)
		if err != 0 {
			for j := 0; j < i; j++ {
				if child.Fds[j] != nil {
					fd.Close_panic(child.Fds[j], parent, cpu)
				}
			}
			t.freeSlot(child)
			return nil, err
		}
		child.Fds[i] = nfd
	}
	child.Cwd = parent.Cwd

	childVm, verr := parent.Vm.CopyUvm()
	if verr != 0 {
		for _, f := range child.Fds {
			if f != nil {
				fd.Close_panic(f, parent, cpu)
			}
		}
		t.freeSlot(child)
		return nil, verr
	}
	child.Vm = childVm

	t.Lock.Acquire(cpu)
	child.Parent = parent
	child.State = RUNNABLE
	t.Lock.Release(cpu)

	go child.fiber()
	return child, 0
}

// freeSlot removes p from the table outright, used only to unwind a
// failed fork before the child is ever made visible as RUNNABLE.
func (t *Table_t) freeSlot(p *Proc_t) {
	t.Lock.Acquire(cpuBootstrap)
	for i := range t.procs {
		if t.procs[i] == p {
			t.procs[i] = nil
			break
		}
	}
	t.Lock.Release(cpuBootstrap)
}

// Exit tears a process down (spec.md §4.10, "exit"): closes every open
// file, reparents children to init (waking init if one was already a
// zombie), wakes the parent, and marks ZOMBIE. It leaves p.Cwd alone:
// Fork shares the parent's Cwd_t rather than taking a new inode
// reference, so no cwd reference is dropped here. It does not return to the caller's fiber in the sense real
// exit() never returns — callers invoke Exit as the last thing their
// entry closure does.
func (t *Table_t) Exit(p *Proc_t, cpu *lock.Cpu_t, status int) {
	for i, f := range p.Fds {
		if f != nil {
			fd.Close_panic(f, p, cpu)
			p.Fds[i] = nil
		}
	}

	t.Lock.Acquire(cpu)
	for i := range t.procs {
		c := t.procs[i]
		if c != nil && c.Parent == p {
			c.Parent = t.Init
			if c.State == ZOMBIE {
				p.Wakeup(t.Init.chanKey())
			}
		}
	}
	p.ExitStatus = status
	p.State = ZOMBIE
	if p.Parent != nil {
		p.Wakeup(p.Parent.chanKey())
	}
	t.Lock.Release(cpu)
}

// chanKey derives a wait-channel address from a process's own
// identity, the same "address of a shared structure" convention
// lock.Sleeplock_t's chankey() uses (spec.md GLOSSARY, "Sleep
// channel"). wait() sleeps on the parent's own chanKey and exit()
// wakes it.
func (p *Proc_t) chanKey() uintptr {
	return uintptr(p.Pid)<<1 | 1
}

// Wait reaps one zombie child of p, freeing its table slot and
// returning its PID and exit status (spec.md §4.10, "wait"). Blocks
// until a child becomes a zombie, or returns -1 if p has no children
// or is killed.
func (t *Table_t) Wait(p *Proc_t, cpu *lock.Cpu_t) (int, int, defs.Err_t) {
	t.Lock.Acquire(cpu)
	for {
		haveChild := false
		for i := range t.procs {
			c := t.procs[i]
			if c == nil || c.Parent != p {
				continue
			}
			haveChild = true
			if c.State == ZOMBIE {
				pid := c.Pid
				status := c.ExitStatus
				p.Accnt.Add(&c.Accnt)
				t.procs[i] = nil
				t.Lock.Release(cpu)
				return pid, status, 0
			}
		}
		if !haveChild || p.killed {
			t.Lock.Release(cpu)
			return -1, 0, -defs.ECHILD
		}
		p.Sleep(p.chanKey(), cpu, t.Lock)
	}
}

// sleep implements spec.md §4.10's sleep(channel, lk): if lk is not
// the process-table lock, take the table lock and release lk first;
// mark SLEEPING, release the table lock so the scheduler and every
// other CPU can make progress while this fiber is parked, park until
// woken, reacquire, then clear chan and restore lk if it was swapped.
func (t *Table_t) sleep(p *Proc_t, chankey uintptr, cpu *lock.Cpu_t, l *lock.Spinlock_t) {
	swapped := l != t.Lock
	if swapped {
		t.Lock.Acquire(cpu)
		l.Release(cpu)
	}
	p.Chan = chankey
	p.State = SLEEPING
	t.Lock.Release(cpu)
	t.parkAndWaitRedispatch(p, cpu)
	t.Lock.Acquire(cpu)
	p.Chan = 0
	if swapped {
		t.Lock.Release(cpu)
		l.Acquire(cpu)
	}
}

// wakeup implements spec.md §4.10's wakeup(channel): set every
// SLEEPING process whose chan matches to RUNNABLE. Caller must hold
// Lock (every call site above already does).
func (t *Table_t) wakeup(chankey uintptr) {
	for i := range t.procs {
		c := t.procs[i]
		if c != nil && c.State == SLEEPING && c.Chan == chankey {
			c.State = RUNNABLE
		}
	}
}

// WakeupAll is wakeup's lock-taking counterpart for callers that are
// not themselves a process's lock.Waiter — the timer-IRQ tick handler
// (package trap) is the one caller in this kernel without a current
// process to route a sleep/wakeup pair through.
func (t *Table_t) WakeupAll(cpu *lock.Cpu_t, chankey uintptr) {
	t.Lock.Acquire(cpu)
	t.wakeup(chankey)
	t.Lock.Release(cpu)
}

// Kill implements spec.md §4.10's kill(pid): set killed, and wake the
// target if it is sleeping so the next syscall or wake-up boundary
// observes the flag (spec.md §5, "Cancellation").
func (t *Table_t) Kill(cpu *lock.Cpu_t, pid int) defs.Err_t {
	t.Lock.Acquire(cpu)
	defer t.Lock.Release(cpu)
	for i := range t.procs {
		c := t.procs[i]
		if c != nil && c.Pid == pid {
			c.killed = true
			if c.State == SLEEPING {
				c.State = RUNNABLE
			}
			return 0
		}
	}
	return -defs.ESRCH
}

// ProcInfo is a read-only snapshot of one process-table slot, the
// data the profiling device (package prof) and a process dump need
// without either holding Lock or reaching into Proc_t's private
// fields.
type ProcInfo struct {
	Pid    int
	Name   string
	State  State
	Userns int64
	Sysns  int64
	Rusage accnt.Rusage
}

// Snapshot returns a point-in-time copy of every live process-table
// slot, taken under Lock so no reader ever observes a torn Pid/State
// pair. cmd/kernel's ^P dump prints from it.
func (t *Table_t) Snapshot(cpu *lock.Cpu_t) []ProcInfo {
	t.Lock.Acquire(cpu)
	defer t.Lock.Release(cpu)
	var out []ProcInfo
	for _, p := range t.procs {
		if p == nil {
			continue
		}
		out = append(out, ProcInfo{
			Pid:    p.Pid,
			Name:   p.Name,
			State:  p.State,
			Userns: atomic.LoadInt64(&p.Accnt.Userns),
			Sysns:  atomic.LoadInt64(&p.Accnt.Sysns),
			Rusage: p.Accnt.Fetch(),
		})
	}
	return out
}

// String names a process lifecycle state (spec.md §3's lifecycle
// enum), used by the profiling device and process dump.
func (s State) String() string {
	switch s {
	case UNUSED:
		return "UNUSED"
	case EMBRYO:
		return "EMBRYO"
	case SLEEPING:
		return "SLEEPING"
	case RUNNABLE:
		return "RUNNABLE"
	case RUNNING:
		return "RUNNING"
	case ZOMBIE:
		return "ZOMBIE"
	default:
		return "?"
	}
}
