package ext2

import (
	"bytes"
	"testing"

	"mpk/buf"
	"mpk/defs"
	"mpk/disk"
	"mpk/lock"
)

// nilWaiter is safe for these tests since a single in-process mount
// with no contention never actually blocks on a sleeplock.
type nilWaiter struct{ id int }

func (w nilWaiter) ID() int { return w.id }
func (w nilWaiter) Sleep(chankey uintptr, cpu *lock.Cpu_t, l *lock.Spinlock_t) {
	panic("ext2 test: unexpected block")
}
func (w nilWaiter) Wakeup(chankey uintptr) {}
func (w nilWaiter) Killed() bool { return false }

func newTestFS(t *testing.T, nblocks, ninodes int) (*FS_t, lock.Waiter, *lock.Cpu_t) {
	t.Helper()
	dev := disk.NewMemDevice(nblocks)
	if err := Format(dev, nblocks, ninodes); err != nil {
		t.Fatalf("Format: %v", err)
	}
	bufs := buf.NewCache(dev, 0, 128)
	w := nilWaiter{id: 1}
	cpu := &lock.Cpu_t{ID: 0}
	fs, err := Mount(bufs, 0, w, cpu)
	if err != 0 {
		t.Fatalf("Mount failed: %d", err)
	}
	return fs, w, cpu
}

func TestWriteiReadiRoundTrip(t *testing.T) {
	fs, w, cpu := newTestFS(t, 4096, 512)

	ip, err := fs.Create(w, cpu, "/a", nil, defs.S_IFREG|0644)
	if err != 0 {
		t.Fatalf("Create failed: %d", err)
	}

	msg := []byte("hello ext2")
	n, werr := fs.Writei(w, cpu, ip, msg, 0)
	if werr != 0 || n != len(msg) {
		t.Fatalf("Writei = (%d, %d), want (%d, 0)", n, werr, len(msg))
	}
	if ip.Size != len(msg) {
		t.Fatalf("ip.Size = %d, want %d", ip.Size, len(msg))
	}
	fs.IunlockPut(w, cpu, ip)

	ip2, err := fs.Namei(w, cpu, "/a", nil)
	if err != 0 {
		t.Fatalf("Namei failed: %d", err)
	}
	fs.Ilock(w, cpu, ip2)
	out := make([]byte, len(msg))
	n, rerr := fs.Readi(w, cpu, ip2, out, 0)
	if rerr != 0 || n != len(msg) {
		t.Fatalf("Readi = (%d, %d), want (%d, 0)", n, rerr, len(msg))
	}
	if !bytes.Equal(out, msg) {
		t.Fatalf("Readi = %q, want %q", out, msg)
	}
	fs.IunlockPut(w, cpu, ip2)
}

func TestTruncateZeroesEveryAddrSlot(t *testing.T) {
	fs, w, cpu := newTestFS(t, 4096, 512)

	ip, err := fs.Create(w, cpu, "/big", nil, defs.S_IFREG|0644)
	if err != 0 {
		t.Fatalf("Create failed: %d", err)
	}

	// Touch every direct slot plus the first block of the single-,
	// double-, and triple-indirect tiers, so all NAddrs slots are in use.
	bns := []int{NDIRECT, NDIRECT + NINDIRECT, NDIRECT + NINDIRECT + NINDIRECT*NINDIRECT}
	for bn := 0; bn < NDIRECT; bn++ {
		bns = append(bns, bn)
	}
	for _, bn := range bns {
		data := bytes.Repeat([]byte{byte(bn)}, 4)
		if _, werr := fs.Writei(w, cpu, ip, data, bn*BSIZE); werr != 0 {
			t.Fatalf("Writei at bn %d failed: %d", bn, werr)
		}
	}
	for i := 0; i < NAddrs; i++ {
		if ip.addrs[i] == 0 {
			t.Fatalf("addrs[%d] unexpectedly unallocated before truncate", i)
		}
	}

	if terr := fs.Truncate(w, cpu, ip); terr != 0 {
		t.Fatalf("Truncate failed: %d", terr)
	}
	if ip.Size != 0 {
		t.Fatalf("ip.Size after truncate = %d, want 0", ip.Size)
	}
	for i := 0; i < NAddrs; i++ {
		if ip.addrs[i] != 0 {
			t.Fatalf("addrs[%d] = %d after truncate, want 0", i, ip.addrs[i])
		}
	}
	fs.IunlockPut(w, cpu, ip)
}

func TestCrossDoubleIndirectWrite(t *testing.T) {
	fs, w, cpu := newTestFS(t, 4096, 512)

	ip, err := fs.Create(w, cpu, "/far", nil, defs.S_IFREG|0644)
	if err != 0 {
		t.Fatalf("Create failed: %d", err)
	}

	bn := NDIRECT + NINDIRECT // first double-indirect block
	off := bn * BSIZE
	msg := []byte("double indirect")
	if _, werr := fs.Writei(w, cpu, ip, msg, off); werr != 0 {
		t.Fatalf("Writei at double-indirect offset failed: %d", werr)
	}
	if ip.addrs[DindSlot] == 0 {
		t.Fatal("double-indirect slot never allocated")
	}

	out := make([]byte, len(msg))
	if _, rerr := fs.Readi(w, cpu, ip, out, off); rerr != 0 {
		t.Fatalf("Readi at double-indirect offset failed: %d", rerr)
	}
	if !bytes.Equal(out, msg) {
		t.Fatalf("Readi = %q, want %q", out, msg)
	}
	fs.IunlockPut(w, cpu, ip)
}

func TestNameiParentAgreesWithNamei(t *testing.T) {
	fs, w, cpu := newTestFS(t, 4096, 512)

	dir, err := fs.Mkdir(w, cpu, "/dir", nil)
	if err != 0 {
		t.Fatalf("Mkdir failed: %d", err)
	}
	dirInum := dir.Inum
	fs.IunlockPut(w, cpu, dir)

	file, err := fs.Create(w, cpu, "/dir/file", nil, defs.S_IFREG|0644)
	if err != 0 {
		t.Fatalf("Create failed: %d", err)
	}
	fileInum := file.Inum
	fs.IunlockPut(w, cpu, file)

	dp, name, perr := fs.NameiParent(w, cpu, "/dir/file", nil)
	if perr != 0 {
		t.Fatalf("NameiParent failed: %d", perr)
	}
	if dp.Inum != dirInum {
		t.Fatalf("NameiParent returned parent inum %d, want %d", dp.Inum, dirInum)
	}
	if name != "file" {
		t.Fatalf("NameiParent returned name %q, want %q", name, "file")
	}
	fs.IunlockPut(w, cpu, dp)

	resolved, nerr := fs.Namei(w, cpu, "/dir/file", nil)
	if nerr != 0 {
		t.Fatalf("Namei failed: %d", nerr)
	}
	if resolved.Inum != fileInum {
		t.Fatalf("Namei resolved inum %d, want %d", resolved.Inum, fileInum)
	}
	fs.Iput(w, cpu, resolved)
}

func TestUnlinkThenNameiFails(t *testing.T) {
	fs, w, cpu := newTestFS(t, 4096, 512)

	ip, err := fs.Create(w, cpu, "/gone", nil, defs.S_IFREG|0644)
	if err != 0 {
		t.Fatalf("Create failed: %d", err)
	}
	fs.IunlockPut(w, cpu, ip)

	if uerr := fs.Unlink(w, cpu, "/gone", nil); uerr != 0 {
		t.Fatalf("Unlink failed: %d", uerr)
	}
	if _, nerr := fs.Namei(w, cpu, "/gone", nil); nerr != -defs.ENOENT {
		t.Fatalf("Namei after unlink = %d, want -ENOENT", nerr)
	}
}

func TestUnlinkNonEmptyDirFails(t *testing.T) {
	fs, w, cpu := newTestFS(t, 4096, 512)

	dir, err := fs.Mkdir(w, cpu, "/d", nil)
	if err != 0 {
		t.Fatalf("Mkdir failed: %d", err)
	}
	fs.IunlockPut(w, cpu, dir)

	file, err := fs.Create(w, cpu, "/d/f", nil, defs.S_IFREG|0644)
	if err != 0 {
		t.Fatalf("Create failed: %d", err)
	}
	fs.IunlockPut(w, cpu, file)

	if uerr := fs.Unlink(w, cpu, "/d", nil); uerr != -defs.ENOTEMPTY {
		t.Fatalf("Unlink on non-empty dir = %d, want -ENOTEMPTY", uerr)
	}
}

func TestUnlinkDotDotIsInvalid(t *testing.T) {
	fs, w, cpu := newTestFS(t, 4096, 512)

	dir, err := fs.Mkdir(w, cpu, "/d2", nil)
	if err != 0 {
		t.Fatalf("Mkdir failed: %d", err)
	}
	fs.IunlockPut(w, cpu, dir)

	if uerr := fs.Unlink(w, cpu, "/d2/..", nil); uerr != -defs.EINVAL {
		t.Fatalf("Unlink(\"/d2/..\") = %d, want -EINVAL", uerr)
	}
}

func TestLinkRestrictedToRegularFiles(t *testing.T) {
	fs, w, cpu := newTestFS(t, 4096, 512)

	dir, err := fs.Mkdir(w, cpu, "/onlydir", nil)
	if err != 0 {
		t.Fatalf("Mkdir failed: %d", err)
	}
	fs.IunlockPut(w, cpu, dir)

	if lerr := fs.Link(w, cpu, "/onlydir", "/onlydir2", nil); lerr != -defs.EPERM {
		t.Fatalf("Link on a directory = %d, want -EPERM", lerr)
	}
}

func TestLinkSurvivesOriginalUnlink(t *testing.T) {
	fs, w, cpu := newTestFS(t, 4096, 512)

	ip, err := fs.Create(w, cpu, "/orig", nil, defs.S_IFREG|0644)
	if err != 0 {
		t.Fatalf("Create failed: %d", err)
	}
	msg := []byte("linked content")
	if _, werr := fs.Writei(w, cpu, ip, msg, 0); werr != 0 {
		t.Fatalf("Writei failed: %d", werr)
	}
	fs.IunlockPut(w, cpu, ip)

	if lerr := fs.Link(w, cpu, "/orig", "/alias", nil); lerr != 0 {
		t.Fatalf("Link failed: %d", lerr)
	}
	if uerr := fs.Unlink(w, cpu, "/orig", nil); uerr != 0 {
		t.Fatalf("Unlink of original failed: %d", uerr)
	}

	aliased, nerr := fs.Namei(w, cpu, "/alias", nil)
	if nerr != 0 {
		t.Fatalf("Namei on alias failed: %d", nerr)
	}
	fs.Ilock(w, cpu, aliased)
	out := make([]byte, len(msg))
	if _, rerr := fs.Readi(w, cpu, aliased, out, 0); rerr != 0 {
		t.Fatalf("Readi via alias failed: %d", rerr)
	}
	if !bytes.Equal(out, msg) {
		t.Fatalf("Readi via alias = %q, want %q", out, msg)
	}
	fs.IunlockPut(w, cpu, aliased)
}

func TestBallocBfreeReusesFreedBlock(t *testing.T) {
	fs, w, cpu := newTestFS(t, 4096, 512)

	first, err := fs.Balloc(w, cpu)
	if err != 0 {
		t.Fatalf("Balloc failed: %d", err)
	}
	second, err := fs.Balloc(w, cpu)
	if err != 0 {
		t.Fatalf("Balloc failed: %d", err)
	}
	if first == second {
		t.Fatalf("Balloc returned the same block twice: %d", first)
	}

	if ferr := fs.Bfree(w, cpu, first); ferr != 0 {
		t.Fatalf("Bfree failed: %d", ferr)
	}
	third, err := fs.Balloc(w, cpu)
	if err != 0 {
		t.Fatalf("Balloc failed: %d", err)
	}
	if third != first {
		t.Fatalf("Balloc after Bfree returned %d, want reused block %d", third, first)
	}
}

func TestIsDirEmpty(t *testing.T) {
	fs, w, cpu := newTestFS(t, 4096, 512)

	dir, err := fs.Mkdir(w, cpu, "/empty", nil)
	if err != 0 {
		t.Fatalf("Mkdir failed: %d", err)
	}
	empty, eerr := fs.IsDirEmpty(w, cpu, dir)
	if eerr != 0 {
		t.Fatalf("IsDirEmpty failed: %d", eerr)
	}
	if !empty {
		t.Fatal("freshly made directory reported non-empty")
	}
	fs.IunlockPut(w, cpu, dir)

	file, err := fs.Create(w, cpu, "/empty/f", nil, defs.S_IFREG|0644)
	if err != 0 {
		t.Fatalf("Create failed: %d", err)
	}
	fs.IunlockPut(w, cpu, file)

	dir2, nerr := fs.Namei(w, cpu, "/empty", nil)
	if nerr != 0 {
		t.Fatalf("Namei failed: %d", nerr)
	}
	fs.Ilock(w, cpu, dir2)
	empty, eerr = fs.IsDirEmpty(w, cpu, dir2)
	if eerr != 0 {
		t.Fatalf("IsDirEmpty failed: %d", eerr)
	}
	if empty {
		t.Fatal("directory containing a file reported empty")
	}
	fs.IunlockPut(w, cpu, dir2)
}

func TestCreateReturnsExistingEntryLocked(t *testing.T) {
	fs, w, cpu := newTestFS(t, 4096, 512)

	ip, err := fs.Create(w, cpu, "/x", nil, defs.S_IFREG|0644)
	if err != 0 {
		t.Fatalf("first Create failed: %d", err)
	}
	wantInum := ip.Inum
	fs.IunlockPut(w, cpu, ip)

	again, err := fs.Create(w, cpu, "/x", nil, defs.S_IFREG|0644)
	if err != 0 {
		t.Fatalf("second Create failed: %d", err)
	}
	if again.Inum != wantInum {
		t.Fatalf("second Create returned inum %d, want %d", again.Inum, wantInum)
	}
	fs.IunlockPut(w, cpu, again)
}

func TestMknodCreatesCharDeviceInode(t *testing.T) {
	fs, w, cpu := newTestFS(t, 4096, 512)

	ip, err := fs.Mknod(w, cpu, "/dev0", nil, 7, 3)
	if err != 0 {
		t.Fatalf("Mknod failed: %d", err)
	}
	if ip.Major != 7 || ip.Minor != 3 {
		t.Fatalf("Mknod inode major/minor = %d/%d, want 7/3", ip.Major, ip.Minor)
	}
	if ip.Mode&defs.S_IFCHR == 0 {
		t.Fatal("Mknod inode is not marked as a character device")
	}
	fs.IunlockPut(w, cpu, ip)
}
