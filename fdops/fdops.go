// Package fdops declares the operation set every open file description
// (inode file, pipe end, device) must implement, adapted from the
// teacher's fdops package contract referenced by fd.Fd_t.Fops. Every
// method that can block or must touch sleeplock-protected state takes
// the calling process's lock.Waiter and lock.Cpu_t explicitly, the
// same threading discipline package buf and package ext2 already use
// in place of Biscuit's implicit per-hardware-CPU state.
package fdops

import (
	"mpk/defs"
	"mpk/lock"
	"mpk/stat"
)

// Fdops_i is implemented via a pointer receiver: Fops is always a
// reference to shared state (an inode file's offset, a pipe's ring
// buffer), never a value copied by Fd_t assignment.
type Fdops_i interface {
	// Read copies up to len(dst) bytes into dst, returning the count
	// actually read. 0 bytes with no error signals EOF.
	Read(w lock.Waiter, cpu *lock.Cpu_t, dst []uint8) (int, defs.Err_t)

	// Write copies len(src) bytes out of src, returning the count
	// actually written.
	Write(w lock.Waiter, cpu *lock.Cpu_t, src []uint8) (int, defs.Err_t)

	// Fstat fills st with this descriptor's metadata.
	Fstat(w lock.Waiter, cpu *lock.Cpu_t, st *stat.Stat_t) defs.Err_t

	// Reopen is called when a descriptor is duplicated (dup, fork) to
	// bump whatever reference count backs it.
	Reopen(cpu *lock.Cpu_t) defs.Err_t

	// Close drops one reference, releasing backing state when the
	// last reference goes away.
	Close(w lock.Waiter, cpu *lock.Cpu_t) defs.Err_t
}
