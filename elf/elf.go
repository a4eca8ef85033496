// Package elf implements exec's ELF32 loader (spec.md §4.10, "exec"):
// validate the header, load each PT_LOAD segment into a fresh address
// space, and build the initial user stack.
//
// _teacher/kernel/chentry.go is this pack's only surviving ELF-aware
// source (a standalone tool that rewrites a binary's entry point for
// the build process); it already reaches for stdlib debug/elf rather
// than hand-rolling header parsing, which this package follows. Where
// chentry.go validates an x86-64 image, this kernel is 32-bit, so the
// checks here target ELFCLASS32/EM_386 instead.
package elf

import (
	"bytes"
	"debug/elf"
	"io"

	"mpk/defs"
	"mpk/ext2"
	"mpk/lock"
	"mpk/mem"
	"mpk/util"
	"mpk/vm"
)

const wordSize = 4

// Image describes where a freshly loaded program should resume: the
// trap frame's instruction pointer and stack pointer fields.
type Image struct {
	Entry int
	Sp    int
}

// checkHeader validates the parts of an ELF header spec.md §4.10
// calls out: "validate magic" generalizes, for this 32-bit kernel, to
// class/endianness/type/machine all matching what this kernel can
// run.
func checkHeader(eh *elf.FileHeader) defs.Err_t {
	if eh.Class != elf.ELFCLASS32 {
		return -defs.EINVAL
	}
	if eh.Data != elf.ELFDATA2LSB {
		return -defs.EINVAL
	}
	if eh.Type != elf.ET_EXEC {
		return -defs.EINVAL
	}
	if eh.Machine != elf.EM_386 {
		return -defs.EINVAL
	}
	return 0
}

// Load reads ip's contents, validates it as an ELF32 executable, maps
// and populates every PT_LOAD segment into v, then builds a stack
// guard page and initial user stack holding argv (spec.md §4.10:
// "push argument strings word-aligned, then the argv pointer array
// with a terminator, then argc and a fake return address"). On any
// failure v is left as if freshly allocated — the caller's existing
// image, if any, is untouched since Load always builds into a fresh
// Vm_t (spec.md: "on any failure path before commit... return -1
// without disturbing the caller's image").
func Load(w lock.Waiter, cpu *lock.Cpu_t, fs *ext2.FS_t, ip *ext2.Inode_t, v *vm.Vm_t, argv []string) (*Image, defs.Err_t) {
	fs.Ilock(w, cpu, ip)
	raw := make([]byte, ip.Size)
	n, err := fs.Readi(w, cpu, ip, raw, 0)
	fs.Iunlock(w, cpu, ip)
	if err != 0 {
		return nil, err
	}
	raw = raw[:n]

	ef, ferr := elf.NewFile(bytes.NewReader(raw))
	if ferr != nil {
		return nil, -defs.EINVAL
	}
	if err := checkHeader(&ef.FileHeader); err != 0 {
		return nil, err
	}

	sz := 0
	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if prog.Memsz < prog.Filesz {
			return nil, -defs.EINVAL // shrinking memsz below filesz
		}
		va := int(prog.Vaddr)
		if va < 0 || uintptr(va)%wordSize != 0 {
			return nil, -defs.EINVAL // bad virtual address or alignment
		}
		newsz, aerr := v.AllocUvm(sz, va+int(prog.Memsz))
		if aerr != 0 {
			v.Uvmfree()
			return nil, aerr
		}
		sz = newsz

		seg := make([]byte, prog.Filesz)
		if _, rerr := io.ReadFull(prog.Open(), seg); rerr != nil {
			v.Uvmfree()
			return nil, -defs.EIO
		}
		if lerr := v.LoadUvm(va, seg); lerr != 0 {
			v.Uvmfree()
			return nil, lerr
		}
	}

	sz = util.Roundup(sz, mem.PGSIZE)
	guardVa := sz
	stackTop := guardVa + 2*mem.PGSIZE
	newsz, aerr := v.AllocUvm(sz, stackTop)
	if aerr != 0 {
		v.Uvmfree()
		return nil, aerr
	}
	v.ClearPteU(guardVa)

	sp := newsz
	argPtrs := make([]int, len(argv))
	for i, s := range argv {
		b := append([]byte(s), 0)
		sp -= util.Roundup(len(b), wordSize)
		if perr := v.K2User(b, sp); perr != 0 {
			v.Uvmfree()
			return nil, perr
		}
		argPtrs[i] = sp
	}

	// ustack[0] = fake return address, [1] = argc, [2] = argv pointer,
	// [3:] = the argv pointer array itself, terminated by a NULL entry.
	hdrWords := 3 + len(argv) + 1
	sp = util.Rounddown(sp-hdrWords*wordSize, wordSize)
	argvBase := sp + 3*wordSize // address of ustack[3], the array itself

	ustack := make([]byte, hdrWords*wordSize)
	util.Writen32(ustack, 0*wordSize, 0xffffffff)
	util.Writen32(ustack, 1*wordSize, uint32(len(argv)))
	util.Writen32(ustack, 2*wordSize, uint32(argvBase))
	for i, p := range argPtrs {
		util.Writen32(ustack, (3+i)*wordSize, uint32(p))
	}
	util.Writen32(ustack, (3+len(argv))*wordSize, 0)

	if perr := v.K2User(ustack, sp); perr != 0 {
		v.Uvmfree()
		return nil, perr
	}

	return &Image{Entry: int(ef.Entry), Sp: sp}, 0
}
