// Package vm simulates a per-process user address space: the
// operations spec.md §4.3 lists (alloc_uvm, copy_uvm, load_uvm,
// switch_uvm, and the byte-copy helpers every syscall argument fetch
// goes through).
//
// Biscuit's vm.Vm_t walks real x86 page-table radix trees reached
// through a direct-mapped view of physical memory (vm/as.go in the
// teacher). A plain Go process cannot install page tables or take
// page faults from user mode, so this package keeps Vm_t's role and
// its locking discipline (one mutex guarding the whole address space,
// spec.md §4.3) but represents the page table as an explicit
// map[uintptr]*pte over mem.Pa_t pages instead of walking PTE radix
// levels through unsafe.Pointer. "Page fault" handling degenerates to
// a map lookup that fails fast with EFAULT instead of a to-be-resolved
// trap, since there is no hardware MMU event to catch.
package vm

import (
	"sync"

	"mpk/defs"
	"mpk/mem"
	"mpk/util"
)

// Perm bits, analogous to PTE_W/PTE_U in the teacher's mem package,
// kept here instead since this package owns the page-table shape.
const (
	PermW = 1 << 0 // writable
	PermU = 1 << 1 // user-accessible (always true for entries we create)
)

type pte struct {
	pa    mem.Pa_t
	perm  uint
	guard bool // present in the map but deliberately unmapped (stack guard)
}

// Vm_t is a process's user address space: a page table (map) plus the
// page allocator it draws from. The mutex is the single per-address-
// space lock spec.md §4.3/§5 requires; it must be held across any
// lookup-then-mutate sequence (Biscuit calls this "Lock_pmap").
type Vm_t struct {
	sync.Mutex
	Size  int // bytes of user address space currently mapped, from VA 0
	alloc *mem.Allocator
	table map[uintptr]*pte
}

// NewVm returns an empty address space drawing pages from alloc.
func NewVm(alloc *mem.Allocator) *Vm_t {
	return &Vm_t{alloc: alloc, table: make(map[uintptr]*pte)}
}

// Allocator returns the page allocator backing this address space, so
// a fresh Vm_t for the same process (exec building a replacement
// image) draws from the same physical page pool.
func (vm *Vm_t) Allocator() *mem.Allocator {
	return vm.alloc
}

func pagerAligned(va int) uintptr {
	return uintptr(util.Rounddown(va, mem.PGSIZE))
}

// AllocUvm grows the address space from oldsz to newsz (both byte
// counts), mapping freshly allocated, zeroed pages for the new range.
// It fails atomically: any pages allocated before a failure are freed
// before returning (spec.md §4.3, "Failure policy").
func (vm *Vm_t) AllocUvm(oldsz, newsz int) (int, defs.Err_t) {
	vm.Lock()
	defer vm.Unlock()
	if newsz < oldsz {
		return oldsz, 0
	}
	first := util.Roundup(oldsz, mem.PGSIZE)
	var mapped []uintptr
	for va := first; va < newsz; va += mem.PGSIZE {
		pg, _, ok := vm.alloc.Alloc()
		if !ok {
			for _, v := range mapped {
				e := vm.table[v]
				vm.alloc.Free(e.pa)
				delete(vm.table, v)
			}
			return oldsz, -defs.ENOMEM
		}
		vm.table[uintptr(va)] = &pte{pa: pg, perm: PermW | PermU}
		mapped = append(mapped, uintptr(va))
	}
	vm.Size = newsz
	return newsz, 0
}

// DeallocUvm shrinks the address space from oldsz to newsz, freeing
// every page no longer covered.
func (vm *Vm_t) DeallocUvm(oldsz, newsz int) int {
	vm.Lock()
	defer vm.Unlock()
	if newsz >= oldsz {
		return oldsz
	}
	first := util.Roundup(newsz, mem.PGSIZE)
	for va := first; va < oldsz; va += mem.PGSIZE {
		v := uintptr(va)
		if e, ok := vm.table[v]; ok {
			vm.alloc.Free(e.pa)
			delete(vm.table, v)
		}
	}
	vm.Size = newsz
	return newsz
}

// ClearPteU clears the user-accessible bit on the page mapping va,
// used to carve out the exec-time stack guard page (spec.md §4.10).
func (vm *Vm_t) ClearPteU(va int) {
	v := uintptr(util.Rounddown(va, mem.PGSIZE))
	e, ok := vm.table[v]
	if !ok {
		panic("clearpteu: unmapped page")
	}
	e.perm &^= PermU
	e.guard = true
}

// CopyUvm deep-copies this address space (every page physically
// duplicated, not just referenced) into a fresh Vm_t, used by fork
// (spec.md §4.10). Non-goals rule out copy-on-write (spec.md §1), so
// every page is eagerly copied.
func (vm *Vm_t) CopyUvm() (*Vm_t, defs.Err_t) {
	vm.Lock()
	defer vm.Unlock()
	nvm := NewVm(vm.alloc)
	for va, e := range vm.table {
		npg, data, ok := vm.alloc.Alloc()
		if !ok {
			nvm.Uvmfree()
			return nil, -defs.ENOMEM
		}
		copy(data, vm.alloc.Page(e.pa))
		nvm.table[va] = &pte{pa: npg, perm: e.perm, guard: e.guard}
	}
	nvm.Size = vm.Size
	return nvm, 0
}

// Uvmfree releases every page mapped in this address space.
func (vm *Vm_t) Uvmfree() {
	vm.Lock()
	defer vm.Unlock()
	for va, e := range vm.table {
		vm.alloc.Free(e.pa)
		delete(vm.table, va)
	}
	vm.Size = 0
}

// lookup returns the page backing va and the byte offset within it, or
// ok=false if va is unmapped or guarded.
func (vm *Vm_t) lookup(va int) (*pte, int, bool) {
	v := pagerAligned(va)
	e, ok := vm.table[v]
	if !ok || e.guard {
		return nil, 0, false
	}
	return e, va - int(v), true
}

// LoadUvm copies data into the user address range starting at va, at
// page granularity, used by exec to load PT_LOAD segments (spec.md
// §4.3, §4.10). va and len(data) need not be page-aligned; the pages
// covering [va, va+len(data)) must already be mapped (AllocUvm first).
func (vm *Vm_t) LoadUvm(va int, data []byte) defs.Err_t {
	off := 0
	for off < len(data) {
		e, poff, ok := vm.lookup(va + off)
		if !ok {
			return -defs.EFAULT
		}
		pg := vm.alloc.Page(e.pa)
		n := util.Min(len(pg)-poff, len(data)-off)
		copy(pg[poff:poff+n], data[off:off+n])
		off += n
	}
	return 0
}

// K2User copies src into the user address space starting at uva,
// the primitive behind every syscall that writes results back to user
// memory (spec.md §4.3).
func (vm *Vm_t) K2User(src []byte, uva int) defs.Err_t {
	off := 0
	for off < len(src) {
		e, poff, ok := vm.lookup(uva + off)
		if !ok {
			return -defs.EFAULT
		}
		if e.perm&PermW == 0 {
			return -defs.EFAULT
		}
		pg := vm.alloc.Page(e.pa)
		n := util.Min(len(pg)-poff, len(src)-off)
		copy(pg[poff:poff+n], src[off:off+n])
		off += n
	}
	return 0
}

// User2K copies len(dst) bytes from the user address uva into dst,
// the primitive behind every syscall argument fetch (spec.md §4.9).
func (vm *Vm_t) User2K(dst []byte, uva int) defs.Err_t {
	off := 0
	for off < len(dst) {
		e, poff, ok := vm.lookup(uva + off)
		if !ok {
			return -defs.EFAULT
		}
		pg := vm.alloc.Page(e.pa)
		n := util.Min(len(pg)-poff, len(dst)-off)
		copy(dst[off:off+n], pg[poff:poff+n])
		off += n
	}
	return 0
}

// UserStr copies a NUL-terminated string from user space, up to
// lenmax bytes, returning ENAMETOOLONG if no NUL is found in range
// (spec.md §4.9: "string fetchers further require a NUL within
// proc.size").
func (vm *Vm_t) UserStr(uva, lenmax int) (string, defs.Err_t) {
	var out []byte
	for i := 0; i < lenmax; i++ {
		var b [1]byte
		if err := vm.User2K(b[:], uva+i); err != 0 {
			return "", err
		}
		if b[0] == 0 {
			return string(out), 0
		}
		out = append(out, b[0])
	}
	return "", -defs.ENAMETOOLONG
}

// Bound validates a user pointer/length pair against the address
// space's current size, the check spec.md §4.9 requires of every
// argument fetcher: "addr < proc.size && addr + len <= proc.size".
func (vm *Vm_t) Bound(addr, length int) bool {
	if addr < 0 || length < 0 {
		return false
	}
	return addr < vm.Size && addr+length <= vm.Size
}

// Mapped reports whether va falls within a live (non-guard) mapping.
func (vm *Vm_t) Mapped(va int) bool {
	_, _, ok := vm.lookup(va)
	return ok
}
