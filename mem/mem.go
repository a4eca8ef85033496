// Package mem implements the kernel's physical page allocator (spec.md
// §4.2): a freelist of fixed-size pages, two-phase initialization, and
// a poison-on-free discipline.
//
// Biscuit's allocator threads a free list through the first word of
// each free physical page, addressed via a direct map the bootloader
// sets up (mem.Dmap in the teacher's mem package). This rewrite has no
// bootloader and no MMU to program, so "physical memory" is simply a
// Go byte slab and a page is a Pa_t index into it; the freelist is an
// explicit slice-backed stack rather than pointer-chased pages, which
// keeps the race detector happy and sidesteps unsafe.Pointer entirely.
// The free/allocate/poison contract spec.md §4.2 describes is
// unchanged.
package mem

import (
	"fmt"
	"sync"
)

// PGSHIFT and PGSIZE describe the simulated page geometry.
const (
	PGSHIFT = 12
	PGSIZE  = 1 << PGSHIFT
)

// Pa_t is a simulated physical page number (not a byte address): page i
// occupies bytes [i*PGSIZE, (i+1)*PGSIZE) of the allocator's backing
// slab.
type Pa_t uint32

// poison is written over a page's content when it is freed, so that
// use-after-free shows up as a recognizable pattern instead of silent
// stale data (spec.md §4.2: "Free: overwrite with a recognizable
// poison byte").
const poison = 0xdc

// Allocator is a freelist of fixed-size pages backed by a single slab.
// One cache-wide mutex protects the freelist; this corresponds to the
// lock spec.md §5(e) requires for the page allocator.
type Allocator struct {
	mu       sync.Mutex
	slab     []byte
	npages   int
	free     []Pa_t // stack of free page numbers
	reserved int     // pages reserved for phase-1, lock-free bootstrap
	phase2   bool
}

// NewAllocator reserves npages pages of backing storage. No pages are
// free until Init (phase 1) and then Phase2Init (phase 2) run, mirroring
// spec.md's two-phase bootstrap.
func NewAllocator(npages int) *Allocator {
	if npages <= 0 {
		panic("bad page count")
	}
	return &Allocator{
		slab:   make([]byte, npages*PGSIZE),
		npages: npages,
	}
}

// Init seeds the allocator with the first n pages, runs without taking
// the mutex, and must complete before any other goroutine touches the
// allocator — it corresponds to phase 1 in spec.md §4.2, when only the
// bootstrap CPU exists.
func (a *Allocator) Init(n int) {
	if a.phase2 {
		panic("Init called after Phase2Init")
	}
	if n < 0 || n > a.npages {
		panic("bad phase-1 reservation")
	}
	for i := 0; i < n; i++ {
		a.free = append(a.free, Pa_t(i))
	}
	a.reserved = n
}

// Phase2Init adds the remaining pages and switches the allocator to
// locked operation (spec.md §4.2, phase 2).
func (a *Allocator) Phase2Init() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := a.reserved; i < a.npages; i++ {
		a.free = append(a.free, Pa_t(i))
	}
	a.phase2 = true
}

// Alloc removes a page from the head of the freelist and returns it
// along with a byte slice viewing its contents. ok is false if the
// allocator is exhausted (spec.md §4.2: resource exhaustion is a
// returned failure, never a panic).
func (a *Allocator) Alloc() (Pa_t, []byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.free) == 0 {
		return 0, nil, false
	}
	n := len(a.free) - 1
	pg := a.free[n]
	a.free = a.free[:n]
	return pg, a.page(pg), true
}

// Free returns pg to the freelist after poisoning its contents. It
// panics on an out-of-range page; it does not detect a page freed
// twice, which leaves pg on the freelist twice.
func (a *Allocator) Free(pg Pa_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if int(pg) >= a.npages {
		panic(fmt.Sprintf("page %d out of range", pg))
	}
	p := a.page(pg)
	for i := range p {
		p[i] = poison
	}
	a.free = append(a.free, pg)
}

// Page returns a byte slice viewing the contents of physical page pg.
// The slice aliases the allocator's backing slab; callers must not
// retain it past a Free of the same page.
func (a *Allocator) Page(pg Pa_t) []byte {
	if int(pg) >= a.npages {
		panic(fmt.Sprintf("page %d out of range", pg))
	}
	return a.page(pg)
}

func (a *Allocator) page(pg Pa_t) []byte {
	off := int(pg) * PGSIZE
	return a.slab[off : off+PGSIZE]
}

// Npages reports the allocator's total page capacity.
func (a *Allocator) Npages() int { return a.npages }

// Free_count returns the number of pages currently on the freelist,
// used by tests asserting the allocator returns to its starting state.
func (a *Allocator) Free_count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free)
}
