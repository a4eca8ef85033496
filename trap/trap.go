// Package trap implements the kernel's trap dispatch (spec.md §4.8):
// syscall entry, timer/disk/UART/keyboard IRQ routing, and the
// tick-driven wakeup of sleepers on the global ticks channel.
//
// Real Biscuit installs a 256-entry IDT and reaches trap() through an
// assembly stub that builds a trap frame off a hardware interrupt or
// `int T_SYSCALL`. A hosted Go program never receives a CPU interrupt
// or takes a real trap — there is no IDT to install and no assembly
// stub to write. This package keeps trap()'s dispatch *logic* (which
// IRQ does what, the syscall handoff, the tick count and its wakeup)
// and exposes it as a plain function callers invoke explicitly in
// place of a hardware vector firing; "IDT install" correspondingly
// degenerates to registering the handler table below.
package trap

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/arch/x86/x86asm"

	"mpk/lock"
	"mpk/proc"
	"mpk/syscall"
)

// Kind identifies what drove a call to Dispatch.
type Kind int

const (
	Syscall Kind = iota
	IRQTimer
	IRQDisk
	IRQUart
	IRQKbd
)

// IRQHandler is the narrow interface a driver (console, disk) supplies
// so Dispatch can route device IRQs to it (spec.md §4.8: "call the
// driver's interrupt handler; acknowledge").
type IRQHandler interface {
	Interrupt()
}

// Table holds everything Dispatch needs: the syscall kernel, the
// process table for tick-wakeups, and the registered IRQ handlers.
type Table struct {
	Sys   *syscall.Kernel
	Procs *proc.Table_t

	mu    sync.Mutex
	ticks uint64
	irqs  map[Kind]IRQHandler
}

// MkTable returns an empty trap table.
func MkTable(sys *syscall.Kernel, procs *proc.Table_t) *Table {
	return &Table{Sys: sys, Procs: procs, irqs: make(map[Kind]IRQHandler)}
}

// ticksChanKey is the wait-channel address sleepers waiting on elapsed
// time use, conventionally the address of the ticks counter itself
// (spec.md GLOSSARY, "Sleep channel").
func (t *Table) ticksChanKey() uintptr {
	return uintptr(unsafe.Pointer(&t.ticks))
}

// RegisterIRQ installs h as the handler for the given device IRQ kind,
// analogous to spec.md §4.8's "call the driver's interrupt handler".
func (t *Table) RegisterIRQ(k Kind, h IRQHandler) {
	t.mu.Lock()
	t.irqs[k] = h
	t.mu.Unlock()
}

// Dispatch is the hosted stand-in for trap(tf): given what fired,
// route to the matching policy (spec.md §4.8). cpu0 reports whether
// the caller represents "CPU 0" for the purposes of the single
// tick-counter increment spec.md assigns it ("only CPU 0 increments
// the global tick count").
func (t *Table) Dispatch(cpu *lock.Cpu_t, p *proc.Proc_t, kind Kind, cpu0 bool) {
	switch kind {
	case Syscall:
		if p == nil {
			panic("trap: syscall dispatch with no current process")
		}
		start := time.Now()
		p.ChargeUser(start)
		syscall.Dispatch(t.Sys, p, cpu)
		p.Accnt.Systadd(time.Since(start))
	case IRQTimer:
		if cpu0 {
			t.mu.Lock()
			t.ticks++
			t.mu.Unlock()
			t.Procs.WakeupAll(cpu, t.ticksChanKey())
		}
	case IRQDisk:
		t.fire(IRQDisk)
	case IRQUart:
		t.fire(IRQUart)
	case IRQKbd:
		t.fire(IRQKbd)
	}
}

func (t *Table) fire(k Kind) {
	t.mu.Lock()
	h := t.irqs[k]
	t.mu.Unlock()
	if h != nil {
		h.Interrupt()
	}
}

// Ticks returns the current tick count, used by the uptime syscall.
func (t *Table) Ticks() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticks
}

// TicksChanKey exposes ticksChanKey to package syscall, which cannot
// import package trap (trap.Dispatch's Syscall case already imports
// syscall, so the reverse import would cycle) — wired through
// syscall.Kernel's own function field, the same seam Ticks uses.
func (t *Table) TicksChanKey() uintptr {
	return t.ticksChanKey()
}

// FaultKind distinguishes the two hardware signals spec.md §7(d)
// names explicitly.
type FaultKind int

const (
	PageFault FaultKind = iota
	GeneralProtection
)

func (k FaultKind) String() string {
	if k == GeneralProtection {
		return "general protection fault"
	}
	return "page fault"
}

// decodeFault disassembles the faulting instruction's bytes for the
// summary spec.md §7(d) calls for ("print fault summary"), the one
// piece of x86-aware tooling this hosted kernel can still meaningfully
// do without a real CPU trap frame: code is whatever bytes the caller
// captured from the process image at the faulting address.
func decodeFault(code []byte) string {
	inst, err := x86asm.Decode(code, 32)
	if err != nil {
		return fmt.Sprintf("<undecodable: %v>", err)
	}
	return x86asm.GNUSyntax(inst, 0, nil)
}

// Fault handles a page fault or general-protection signal (spec.md
// §7(d)): from user mode it marks p killed and returns; the process is
// not exited here or at trap return, and while the flag is set every
// later syscall dispatch for p returns -1 (package syscall). From kernel mode the same condition is a
// programming invariant violation and is fatal. code is the faulting
// instruction's bytes, used only for the printed summary.
func (t *Table) Fault(p *proc.Proc_t, kind FaultKind, faultAddr uintptr, code []byte, fromUser bool) {
	summary := fmt.Sprintf("%s at %#x: %s", kind, faultAddr, decodeFault(code))
	if !fromUser {
		panic("trap: " + summary + " in kernel mode")
	}
	fmt.Println(summary)
	p.SetKilled()
}
