// Package pipe implements the kernel's single-producer/single-consumer
// byte pipe (spec.md §4.7), grounded on the sleep/wakeup discipline
// lock.Sleeplock_t already establishes: a spinlock-guarded ring buffer
// with two wait-channel addresses, one per direction, so a blocked
// writer does not wake a blocked writer and vice versa.
package pipe

import (
	"unsafe"

	"mpk/defs"
	"mpk/lock"
)

// PipeSize is the pipe's fixed ring-buffer capacity (spec.md §3:
// "Bounded circular byte buffer (default 512 bytes)").
const PipeSize = 512

// Pipe_t is a bounded circular byte buffer shared by exactly one
// reader and one writer end. nread/nwrite count total bytes
// transferred (not wrapped), so nwrite-nread is always the number of
// bytes currently buffered.
type Pipe_t struct {
	mu                  *lock.Spinlock_t
	data                [PipeSize]byte
	nread, nwrite       int
	readOpen, writeOpen bool
}

// MkPipe returns a new pipe with both ends open.
func MkPipe() *Pipe_t {
	return &Pipe_t{mu: lock.MkSpinlock("pipe"), readOpen: true, writeOpen: true}
}

// readChan and writeChan are the two wait-channel addresses: readers
// block on readChan waiting for data or EOF; writers block on
// writeChan waiting for space or a closed reader.
func (p *Pipe_t) readChan() uintptr  { return uintptr(unsafe.Pointer(&p.nread)) }
func (p *Pipe_t) writeChan() uintptr { return uintptr(unsafe.Pointer(&p.nwrite)) }

// Write copies src into the ring buffer, blocking while it is full and
// the reader is still open. Returns -defs.EPIPE if the reader has
// already closed (spec.md: writing to a pipe with no reader fails).
func (p *Pipe_t) Write(w lock.Waiter, cpu *lock.Cpu_t, src []byte) (int, defs.Err_t) {
	p.mu.Acquire(cpu)
	defer p.mu.Release(cpu)
	total := 0
	for total < len(src) {
		if !p.readOpen {
			return total, -defs.EPIPE
		}
		if p.nwrite-p.nread == PipeSize {
			w.Wakeup(p.readChan())
			w.Sleep(p.writeChan(), cpu, p.mu)
			continue
		}
		p.data[p.nwrite%PipeSize] = src[total]
		p.nwrite++
		total++
	}
	w.Wakeup(p.readChan())
	return total, 0
}

// Read copies up to len(dst) buffered bytes into dst, blocking while
// the buffer is empty and the writer is still open. Once the writer
// has closed and the buffer has drained, Read returns (0, 0): exactly
// the EOF convention the rest of the kernel uses (spec.md: "a pipe
// write of M bytes followed by closing the writer is observed by the
// reader as exactly M bytes followed by EOF"). A reader killed while
// blocked on an empty pipe returns (0, -1) instead of waiting forever
// (spec.md §5, "killed is... observed at every wake-up inside pipe
// read").
func (p *Pipe_t) Read(w lock.Waiter, cpu *lock.Cpu_t, dst []byte) (int, defs.Err_t) {
	p.mu.Acquire(cpu)
	defer p.mu.Release(cpu)
	for p.nread == p.nwrite && p.writeOpen {
		if w.Killed() {
			return 0, -1
		}
		w.Sleep(p.readChan(), cpu, p.mu)
	}
	n := 0
	for n < len(dst) && p.nread < p.nwrite {
		dst[n] = p.data[p.nread%PipeSize]
		p.nread++
		n++
	}
	w.Wakeup(p.writeChan())
	return n, 0
}

// CloseReader marks the read end closed and wakes any writer blocked
// on a full buffer so it can observe EPIPE.
func (p *Pipe_t) CloseReader(w lock.Waiter, cpu *lock.Cpu_t) {
	p.mu.Acquire(cpu)
	p.readOpen = false
	p.mu.Release(cpu)
	w.Wakeup(p.writeChan())
}

// CloseWriter marks the write end closed and wakes any reader blocked
// on an empty buffer so it can observe EOF.
func (p *Pipe_t) CloseWriter(w lock.Waiter, cpu *lock.Cpu_t) {
	p.mu.Acquire(cpu)
	p.writeOpen = false
	p.mu.Release(cpu)
	w.Wakeup(p.readChan())
}
