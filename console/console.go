// Package console implements the console line discipline (spec.md
// §4.11): a device inode whose reader blocks on a line buffer
// accumulated from keyboard/UART interrupts, ^C flushing the current
// line, ^P triggering a process dump, backspace editing
// within the line, and writes serialized under a small console lock.
//
// _teacher/circbuf/circbuf.go is this pack's grounding for the ring
// buffer shape: ever-increasing head/tail counters taken mod a fixed
// capacity rather than a wrapped index pair, so Full/Empty/Used read
// as plain subtraction. This package keeps that idiom but drops
// circbuf's page-allocator backing (Cb_ensure, Refup/Refdown) since a
// console line buffer has no business pinning a physical page the way
// a TCP socket's receive buffer does; a plain byte array suffices.
package console

import (
	"os"
	"unicode/utf8"
	"unsafe"

	"golang.org/x/text/transform"
	"golang.org/x/text/width"

	"mpk/defs"
	"mpk/ext2"
	"mpk/lock"
	"mpk/proc"
)

// BufSize bounds the completed-line ring buffer (spec.md doesn't fix a
// size; 512 matches the pipe's bound for a similarly small, bursty
// byte stream).
const BufSize = 512

// EditMax bounds an in-progress line before it is committed, avoiding
// an unbounded edit buffer if a line is never terminated.
const EditMax = 128

const (
	ctrlC   = 0x03
	ctrlP   = 0x10
	bs      = 0x08
	del     = 0x7f
	newline = '\n'
)

// Console_t is the single console device: one line discipline feeding
// one completed-line ring buffer, and one small lock serializing
// writes to the output sink.
type Console_t struct {
	mu         *lock.Spinlock_t
	buf        [BufSize]byte
	head, tail int // ever-increasing, indexed mod BufSize

	edit []byte
	utf8 []byte // pending bytes of a not-yet-complete UTF-8 rune

	wmu *lock.Spinlock_t
	out *os.File // the hosted stand-in for CRT/UART output

	procs *proc.Table_t // for waking blocked readers from interrupt context

	// ProcDump, if set, is invoked by ^P. The console takes no
	// process-table lock around the call; any locking is the dump
	// function's own (cmd/kernel's dump takes the table lock through
	// proc.Table_t.Snapshot).
	ProcDump func()
}

var _ ext2.CharDevice = (*Console_t)(nil)

// MkConsole returns a console device writing to out (os.Stdout in
// production; any *os.File, including one from os.Pipe, in tests) and
// waking blocked readers through procs.
func MkConsole(out *os.File, procs *proc.Table_t) *Console_t {
	return &Console_t{
		mu:    lock.MkSpinlock("console.line"),
		wmu:   lock.MkSpinlock("console.write"),
		out:   out,
		procs: procs,
	}
}

func (c *Console_t) full() bool  { return c.head-c.tail == BufSize }
func (c *Console_t) empty() bool { return c.head == c.tail }

func (c *Console_t) push(b byte) {
	if c.full() {
		c.tail++ // drop oldest, the bounded line buffer's overflow policy
	}
	c.buf[c.head%BufSize] = b
	c.head++
}

func (c *Console_t) commitLine() {
	for _, b := range c.edit {
		c.push(b)
	}
	c.edit = c.edit[:0]
}

// chankey is the wait-channel address blocked readers sleep on and
// Intr wakes, derived from the buffer's own head counter (spec.md
// GLOSSARY, "Sleep channel": "conventionally the address of a shared
// structure").
func (c *Console_t) chankey() uintptr {
	return uintptr(unsafe.Pointer(&c.head))
}

// fold accumulates UTF-8 continuation bytes and, once a full rune is
// assembled, narrows it to its halfwidth/ASCII form (golang.org/x/text/
// width) before it reaches the edit buffer — a fullwidth keyboard
// layout or terminal emulator forwarding "Ａ" (U+FF21) should edit the
// same as a plain "A". Bytes of an incomplete sequence are held in
// c.utf8 and produce no output yet; a byte that can't extend the
// pending sequence discards it rather than wedging the line forever.
// Caller must hold c.mu.
func (c *Console_t) fold(b byte) []byte {
	if b < utf8.RuneSelf && len(c.utf8) == 0 {
		return []byte{b}
	}
	c.utf8 = append(c.utf8, b)
	r, size := utf8.DecodeRune(c.utf8)
	if r == utf8.RuneError && size <= 1 {
		if len(c.utf8) >= utf8.UTFMax {
			c.utf8 = c.utf8[:0]
		}
		return nil
	}
	if size != len(c.utf8) {
		return nil // sequence still incomplete
	}
	c.utf8 = c.utf8[:0]
	narrowed, _, err := transform.String(width.Narrow, string(r))
	if err != nil {
		return []byte(string(r))
	}
	return []byte(narrowed)
}

// Intr feeds one interrupt-delivered byte into the line discipline
// (spec.md §4.8: "Disk IRQ / UART IRQ / KBD IRQ: call the driver's
// interrupt handler"; §4.11 describes what that handler does for the
// console). There is no current process at interrupt level to route a
// Sleep/Wakeup pair through, so Intr wakes blocked readers via the
// process table directly (mirroring package trap's timer-tick
// wakeup), the same way spec.md's real console_intr runs outside any
// particular process's context.
func (c *Console_t) Intr(cpu *lock.Cpu_t, b byte) {
	c.mu.Acquire(cpu)
	wake := false
	switch b {
	case ctrlC:
		c.commitLine()
		wake = true
	case ctrlP:
		if c.ProcDump != nil {
			c.ProcDump()
		}
	case bs, del:
		if len(c.edit) > 0 {
			c.edit = c.edit[:len(c.edit)-1]
		}
	case newline:
		c.edit = append(c.edit, newline)
		c.commitLine()
		wake = true
	default:
		for _, nb := range c.fold(b) {
			if len(c.edit) < EditMax {
				c.edit = append(c.edit, nb)
			}
		}
	}
	c.mu.Release(cpu)
	if wake && c.procs != nil {
		c.procs.WakeupAll(cpu, c.chankey())
	}
}

// Read blocks until at least one completed line is available, then
// drains up to len(dst) bytes of it (spec.md §4.11: "a device inode
// whose reader blocks on a line buffer").
func (c *Console_t) Read(w lock.Waiter, cpu *lock.Cpu_t, dst []byte) (int, defs.Err_t) {
	c.mu.Acquire(cpu)
	for c.empty() {
		w.Sleep(c.chankey(), cpu, c.mu)
	}
	n := 0
	for n < len(dst) && !c.empty() {
		dst[n] = c.buf[c.tail%BufSize]
		c.tail++
		n++
	}
	c.mu.Release(cpu)
	return n, 0
}

// ByteSource is the pull-model keyboard/UART source spec.md §9
// describes as "console_intr(getc) feeds pending bytes": hardware
// register reads live behind Getc, not a pushed argument, since an
// interrupt handler has no byte of its own until it asks the device
// for one.
type ByteSource interface {
	Getc() (byte, bool)
}

// IRQAdapter satisfies package trap's IRQHandler by draining a
// ByteSource into a console's line discipline whenever an IRQ fires.
type IRQAdapter struct {
	Console *Console_t
	Cpu     *lock.Cpu_t
	Src     ByteSource
}

// Interrupt drains every pending byte Src reports, per spec.md's
// "console_intr(getc) feeds pending bytes" contract.
func (a *IRQAdapter) Interrupt() {
	for {
		b, ok := a.Src.Getc()
		if !ok {
			return
		}
		a.Console.Intr(a.Cpu, b)
	}
}

// Write serializes src to the output sink under the console's write
// lock (spec.md §4.11: "Writers serialize prints to CRT and UART under
// a small console lock").
func (c *Console_t) Write(w lock.Waiter, cpu *lock.Cpu_t, src []byte) (int, defs.Err_t) {
	c.wmu.Acquire(cpu)
	defer c.wmu.Release(cpu)
	if c.out == nil {
		return len(src), 0
	}
	n, err := c.out.Write(src)
	if err != nil {
		return n, -defs.EIO
	}
	return n, 0
}
