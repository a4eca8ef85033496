// Package file implements the kernel's file table (spec.md §4.6): a
// fixed-size array of open-file objects guarded by one spinlock,
// tagged PIPE/INODE/NONE per spec.md §3. Handle adapts a (File_t,
// Table_t) pair to fdops.Fdops_i so it can be installed directly as an
// Fd_t's Fops, the same polymorphic-descriptor idiom _teacher/fd/fd.go
// establishes — generalized here from Biscuit's per-kind Fdops_i
// implementations into one tagged-union File_t, matching spec.md's
// explicit file-table data model instead.
package file

import (
	"mpk/defs"
	"mpk/ext2"
	"mpk/fdops"
	"mpk/lock"
	"mpk/pipe"
	"mpk/stat"
)

// Ftype tags which variant of the open-file union a File_t holds.
type Ftype int

const (
	FD_NONE Ftype = iota
	FD_PIPE
	FD_INODE
)

// NFile bounds the number of simultaneously open files system-wide
// (spec.md §4.6: "a fixed-size array of file objects").
const NFile = 256

// WriteChunk bounds how many bytes a single Filewrite call pushes into
// Writei at once, so a huge user write doesn't pin an arbitrarily
// large kernel buffer for the call's duration (spec.md §4.6: "writes
// to inode-backed files are chunked to limit any single call's
// working set").
const WriteChunk = 4096

// File_t is one entry in the file table: a reference-counted handle to
// either a pipe end or an inode, opened with a fixed read/write
// permission pair and, for inodes, a private seek offset.
type File_t struct {
	Type Ftype
	ref  int // file-table spinlock only

	Pipe     *pipe.Pipe_t
	Writable bool // this end's direction, for PIPE

	Fs        *ext2.FS_t
	Ino       *ext2.Inode_t
	Off       int
	Readable  bool
	Iwritable bool
}

// Table_t is the system-wide file table.
type Table_t struct {
	mu    *lock.Spinlock_t
	files [NFile]*File_t
}

// MkTable returns an empty file table.
func MkTable() *Table_t {
	return &Table_t{mu: lock.MkSpinlock("filetable")}
}

// Filealloc returns the first zero-ref slot, installing a fresh
// File_t with one reference already counted for the caller.
func (t *Table_t) Filealloc(cpu *lock.Cpu_t) (*File_t, defs.Err_t) {
	t.mu.Acquire(cpu)
	defer t.mu.Release(cpu)
	for i := range t.files {
		if t.files[i] == nil {
			f := &File_t{ref: 1}
			t.files[i] = f
			return f, 0
		}
	}
	return nil, -defs.ENFILE
}

// Filedup increments f's reference count, used when an Fd_t wrapping
// f is duplicated (dup, fork).
func (t *Table_t) Filedup(cpu *lock.Cpu_t, f *File_t) defs.Err_t {
	t.mu.Acquire(cpu)
	defer t.mu.Release(cpu)
	if f.ref < 1 {
		panic("filedup: dup of unreferenced file")
	}
	f.ref++
	return 0
}

// Fileclose decrements f's reference count. On reaching zero it frees
// f's table slot and, outside the table lock, releases the backing
// pipe endpoint or inode reference (spec.md §4.6).
func (t *Table_t) Fileclose(w lock.Waiter, cpu *lock.Cpu_t, f *File_t) defs.Err_t {
	t.mu.Acquire(cpu)
	if f.ref < 1 {
		t.mu.Release(cpu)
		panic("fileclose: close of unreferenced file")
	}
	f.ref--
	last := f.ref == 0
	if last {
		for i := range t.files {
			if t.files[i] == f {
				t.files[i] = nil
				break
			}
		}
	}
	t.mu.Release(cpu)

	if !last {
		return 0
	}
	switch f.Type {
	case FD_PIPE:
		if f.Writable {
			f.Pipe.CloseWriter(w, cpu)
		} else {
			f.Pipe.CloseReader(w, cpu)
		}
	case FD_INODE:
		return f.Fs.Iput(w, cpu, f.Ino)
	}
	return 0
}

// Fileread dispatches a read by type (spec.md §4.6). For an
// inode-backed file it locks the inode, reads at the file's private
// offset, advances it, and unlocks.
func (t *Table_t) Fileread(w lock.Waiter, cpu *lock.Cpu_t, f *File_t, dst []uint8) (int, defs.Err_t) {
	if !f.Readable {
		return 0, -defs.EACCES
	}
	switch f.Type {
	case FD_PIPE:
		return f.Pipe.Read(w, cpu, dst)
	case FD_INODE:
		f.Fs.Ilock(w, cpu, f.Ino)
		n, err := f.Fs.Readi(w, cpu, f.Ino, dst, f.Off)
		if err == 0 {
			f.Off += n
		}
		f.Fs.Iunlock(w, cpu, f.Ino)
		return n, err
	}
	return 0, -defs.EBADF
}

// Filewrite dispatches a write by type, chunking inode writes at
// WriteChunk bytes per Writei call.
func (t *Table_t) Filewrite(w lock.Waiter, cpu *lock.Cpu_t, f *File_t, src []uint8) (int, defs.Err_t) {
	if !f.Iwritable && f.Type == FD_INODE {
		return 0, -defs.EACCES
	}
	if f.Type == FD_PIPE && !f.Writable {
		return 0, -defs.EACCES
	}
	switch f.Type {
	case FD_PIPE:
		return f.Pipe.Write(w, cpu, src)
	case FD_INODE:
		total := 0
		for total < len(src) {
			end := total + WriteChunk
			if end > len(src) {
				end = len(src)
			}
			want := end - total
			f.Fs.Ilock(w, cpu, f.Ino)
			n, err := f.Fs.Writei(w, cpu, f.Ino, src[total:end], f.Off)
			f.Off += n
			f.Fs.Iunlock(w, cpu, f.Ino)
			total += n
			if err != 0 {
				return total, err
			}
			if n != want {
				break // short write: stop rather than loop forever
			}
		}
		return total, 0
	}
	return 0, -defs.EBADF
}

// Fstat fills st with this file's metadata. Only inode-backed files
// have metadata to report; for any other file (a pipe end) it returns
// -EINVAL and leaves st untouched.
func (f *File_t) Fstat(w lock.Waiter, cpu *lock.Cpu_t, st *stat.Stat_t) defs.Err_t {
	if f.Type != FD_INODE {
		return -defs.EINVAL
	}
	f.Fs.Ilock(w, cpu, f.Ino)
	f.Fs.Stati(f.Ino, st)
	f.Fs.Iunlock(w, cpu, f.Ino)
	return 0
}

// Handle pairs a File_t with the table it lives in, adapting the
// table's alloc/dup/close/read/write verbs to fdops.Fdops_i so a
// Handle can be installed directly as an Fd_t's Fops.
type Handle struct {
	F *File_t
	T *Table_t
}

var _ fdops.Fdops_i = (*Handle)(nil)

func (h *Handle) Read(w lock.Waiter, cpu *lock.Cpu_t, dst []uint8) (int, defs.Err_t) {
	return h.T.Fileread(w, cpu, h.F, dst)
}

func (h *Handle) Write(w lock.Waiter, cpu *lock.Cpu_t, src []uint8) (int, defs.Err_t) {
	return h.T.Filewrite(w, cpu, h.F, src)
}

func (h *Handle) Fstat(w lock.Waiter, cpu *lock.Cpu_t, st *stat.Stat_t) defs.Err_t {
	return h.F.Fstat(w, cpu, st)
}

func (h *Handle) Reopen(cpu *lock.Cpu_t) defs.Err_t {
	return h.T.Filedup(cpu, h.F)
}

func (h *Handle) Close(w lock.Waiter, cpu *lock.Cpu_t) defs.Err_t {
	return h.T.Fileclose(w, cpu, h.F)
}
