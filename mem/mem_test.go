package mem

import "testing"

func TestAllocatorTwoPhaseBootstrap(t *testing.T) {
	a := NewAllocator(16)
	a.Init(4)
	if got := a.Free_count(); got != 4 {
		t.Fatalf("after Init(4), Free_count() = %d, want 4", got)
	}
	a.Phase2Init()
	if got := a.Free_count(); got != 16 {
		t.Fatalf("after Phase2Init, Free_count() = %d, want 16", got)
	}
}

func TestAllocatorInitAfterPhase2Panics(t *testing.T) {
	a := NewAllocator(4)
	a.Init(1)
	a.Phase2Init()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic calling Init after Phase2Init")
		}
	}()
	a.Init(1)
}

func TestAllocatorAllocFreeRoundTrip(t *testing.T) {
	a := NewAllocator(4)
	a.Init(0)
	a.Phase2Init()

	pg, page, ok := a.Alloc()
	if !ok {
		t.Fatal("Alloc failed on a fresh allocator")
	}
	if len(page) != PGSIZE {
		t.Fatalf("len(page) = %d, want %d", len(page), PGSIZE)
	}
	if got := a.Free_count(); got != 3 {
		t.Fatalf("Free_count() after one Alloc = %d, want 3", got)
	}

	page[0] = 0xAB
	page[PGSIZE-1] = 0xCD

	a.Free(pg)
	if got := a.Free_count(); got != 4 {
		t.Fatalf("Free_count() after Free = %d, want 4", got)
	}

	// Free poisons the page's contents.
	same := a.Page(pg)
	for i, b := range same {
		if b == 0xAB || b == 0xCD {
			t.Fatalf("byte %d = %#x, page was not poisoned on Free", i, b)
		}
	}
}

func TestAllocatorExhaustion(t *testing.T) {
	a := NewAllocator(2)
	a.Init(0)
	a.Phase2Init()

	var got []Pa_t
	for i := 0; i < 2; i++ {
		pg, _, ok := a.Alloc()
		if !ok {
			t.Fatalf("Alloc %d failed before exhaustion", i)
		}
		got = append(got, pg)
	}
	if _, _, ok := a.Alloc(); ok {
		t.Fatal("Alloc succeeded past capacity")
	}
	if got[0] == got[1] {
		t.Fatalf("Alloc returned the same page twice: %d", got[0])
	}

	a.Free(got[0])
	pg, _, ok := a.Alloc()
	if !ok {
		t.Fatal("Alloc failed after a Free made room")
	}
	if pg != got[0] {
		t.Fatalf("Alloc returned page %d, want reused page %d", pg, got[0])
	}
}

func TestAllocatorOutOfRangePanics(t *testing.T) {
	a := NewAllocator(2)
	a.Init(0)
	a.Phase2Init()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic freeing an out-of-range page")
		}
	}()
	a.Free(Pa_t(5))
}

func TestAllocatorNpages(t *testing.T) {
	a := NewAllocator(7)
	if a.Npages() != 7 {
		t.Fatalf("Npages() = %d, want 7", a.Npages())
	}
}
