// Package fd holds the per-process open-file-descriptor and
// current-working-directory types, adapted from the teacher's fd
// package.
package fd

import (
	"sync"

	"mpk/defs"
	"mpk/ext2"
	"mpk/fdops"
	"mpk/lock"
)

// File descriptor permission bits.
const (
	FD_READ    = 0x1
	FD_WRITE   = 0x2
	FD_CLOEXEC = 0x4
)

// Fd_t represents one entry in a process's descriptor table.
type Fd_t struct {
	// Fops is an interface implemented via a pointer receiver, so Fops
	// is a reference, not a value — copying an Fd_t (dup, fork) shares
	// the same backing Fdops_i until Reopen bumps its refcount.
	Fops  fdops.Fdops_i
	Perms int
}

// Copyfd duplicates an open file descriptor by reopening it, used by
// dup(2) and by fork(2) to populate the child's table.
func Copyfd(fd *Fd_t, cpu *lock.Cpu_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *fd
	if err := nfd.Fops.Reopen(cpu); err != 0 {
		return nil, err
	}
	return nfd, 0
}

// Close_panic closes f and panics if that fails — used at points where
// failure would mean a refcounting bug, not a user-triggerable error.
func Close_panic(f *Fd_t, w lock.Waiter, cpu *lock.Cpu_t) {
	if f.Fops.Close(w, cpu) != 0 {
		panic("fd: close_panic: close failed")
	}
}

// Cwd_t tracks a process's current working directory as an inode
// reference (held, not locked), not a path string: ext2's Namei/NameiParent already
// take an inode to resolve relative paths against, so there is no need
// to re-derive or canonicalize a string path on every lookup the way
// the teacher's path-string Cwd_t does.
type Cwd_t struct {
	sync.Mutex // serializes concurrent chdirs
	Dir *ext2.Inode_t
}

// MkRootCwd constructs a Cwd_t pinned at root.
func MkRootCwd(root *ext2.Inode_t) *Cwd_t {
	return &Cwd_t{Dir: root}
}

// Chdir swaps in a new working directory and returns the previous one
// so the caller can release its reference (via fs.Iput) after
// unlocking whatever lock it used to resolve newDir. Caller has
// already validated newDir is a directory with one reference held on
// the process's behalf.
func (cwd *Cwd_t) Chdir(newDir *ext2.Inode_t) (old *ext2.Inode_t) {
	cwd.Lock()
	old = cwd.Dir
	cwd.Dir = newDir
	cwd.Unlock()
	return old
}
