package vm

import (
	"mpk/defs"
	"mpk/mem"
	"testing"
)

func newTestVm(npages int) *Vm_t {
	a := mem.NewAllocator(npages)
	a.Init(0)
	a.Phase2Init()
	return NewVm(a)
}

func TestAllocUvmGrowsAndZeroes(t *testing.T) {
	v := newTestVm(8)
	newsz, err := v.AllocUvm(0, 2*mem.PGSIZE+10)
	if err != 0 {
		t.Fatalf("AllocUvm failed: %d", err)
	}
	if newsz != 2*mem.PGSIZE+10 {
		t.Fatalf("newsz = %d, want %d", newsz, 2*mem.PGSIZE+10)
	}
	if !v.Mapped(0) || !v.Mapped(mem.PGSIZE) {
		t.Fatal("expected both pages mapped")
	}
	if !v.Bound(0, 2*mem.PGSIZE+10) {
		t.Fatal("Bound should accept the full mapped range")
	}
	if v.Bound(0, 2*mem.PGSIZE+11) {
		t.Fatal("Bound should reject a range past size")
	}
}

func TestAllocUvmFailureFreesPartialMapping(t *testing.T) {
	v := newTestVm(1)
	_, err := v.AllocUvm(0, 3*mem.PGSIZE)
	if err != -defs.ENOMEM {
		t.Fatalf("err = %d, want -ENOMEM", err)
	}
	if v.Size != 0 {
		t.Fatalf("Size = %d after failed AllocUvm, want 0", v.Size)
	}
	if v.alloc.Free_count() != 1 {
		t.Fatalf("Free_count = %d after rollback, want 1 (all pages returned)", v.alloc.Free_count())
	}
}

func TestDeallocUvmFreesPages(t *testing.T) {
	v := newTestVm(4)
	v.AllocUvm(0, 4*mem.PGSIZE)
	v.DeallocUvm(4*mem.PGSIZE, mem.PGSIZE)
	if v.Mapped(mem.PGSIZE) {
		t.Fatal("page should have been unmapped")
	}
	if v.alloc.Free_count() != 3 {
		t.Fatalf("Free_count = %d, want 3", v.alloc.Free_count())
	}
}

func TestLoadUvmAndUser2K(t *testing.T) {
	v := newTestVm(2)
	v.AllocUvm(0, mem.PGSIZE)
	data := []byte("hello, world")
	if err := v.LoadUvm(4, data); err != 0 {
		t.Fatalf("LoadUvm failed: %d", err)
	}
	out := make([]byte, len(data))
	if err := v.User2K(out, 4); err != 0 {
		t.Fatalf("User2K failed: %d", err)
	}
	if string(out) != string(data) {
		t.Fatalf("User2K = %q, want %q", out, data)
	}
}

func TestK2UserRespectsWritePermission(t *testing.T) {
	v := newTestVm(2)
	v.AllocUvm(0, mem.PGSIZE)
	if err := v.K2User([]byte("abc"), 0); err != 0 {
		t.Fatalf("K2User into writable page failed: %d", err)
	}
	v.ClearPteU(0)
	// ClearPteU only clears PermU/guards the page; writes through a
	// guard page must fail with EFAULT via the unmapped lookup path.
	if err := v.K2User([]byte("x"), 0); err != -defs.EFAULT {
		t.Fatalf("K2User into guard page = %d, want -EFAULT", err)
	}
}

func TestUserStrReadsNulTerminated(t *testing.T) {
	v := newTestVm(2)
	v.AllocUvm(0, mem.PGSIZE)
	v.LoadUvm(0, []byte("/bin/sh\x00garbage"))
	s, err := v.UserStr(0, mem.PGSIZE)
	if err != 0 {
		t.Fatalf("UserStr failed: %d", err)
	}
	if s != "/bin/sh" {
		t.Fatalf("UserStr = %q, want %q", s, "/bin/sh")
	}
}

func TestUserStrTooLongWithoutNul(t *testing.T) {
	v := newTestVm(2)
	v.AllocUvm(0, mem.PGSIZE)
	buf := make([]byte, 16)
	for i := range buf {
		buf[i] = 'a'
	}
	v.LoadUvm(0, buf)
	if _, err := v.UserStr(0, 8); err != -defs.ENAMETOOLONG {
		t.Fatalf("UserStr err = %d, want -ENAMETOOLONG", err)
	}
}

func TestCopyUvmDeepCopies(t *testing.T) {
	v := newTestVm(4)
	v.AllocUvm(0, mem.PGSIZE)
	v.LoadUvm(0, []byte("original"))

	cp, err := v.CopyUvm()
	if err != 0 {
		t.Fatalf("CopyUvm failed: %d", err)
	}
	if cp.Size != v.Size {
		t.Fatalf("copy Size = %d, want %d", cp.Size, v.Size)
	}

	v.LoadUvm(0, []byte("mutated!"))
	out := make([]byte, 8)
	cp.User2K(out, 0)
	if string(out) != "original" {
		t.Fatalf("copy observed mutation: %q", out)
	}
}

func TestUvmfreeReturnsAllPages(t *testing.T) {
	v := newTestVm(4)
	v.AllocUvm(0, 4*mem.PGSIZE)
	v.Uvmfree()
	if v.Size != 0 {
		t.Fatalf("Size = %d after Uvmfree, want 0", v.Size)
	}
	if v.alloc.Free_count() != 4 {
		t.Fatalf("Free_count = %d after Uvmfree, want 4", v.alloc.Free_count())
	}
}

func TestBoundRejectsNegative(t *testing.T) {
	v := newTestVm(2)
	v.AllocUvm(0, mem.PGSIZE)
	if v.Bound(-1, 1) {
		t.Fatal("Bound accepted a negative address")
	}
	if v.Bound(0, -1) {
		t.Fatal("Bound accepted a negative length")
	}
}
