package ext2

import (
	"mpk/buf"
	"mpk/defs"
	"mpk/lock"
)

// FS_t ties together the buffer cache, the cached superblock and
// group-descriptor table, the in-memory inode cache, and the
// per-allocator spinlocks spec.md §5(e) calls for ("allocators
// (pages, ext2 blocks, ext2 inodes): each guarded by its own
// spinlock"). One FS_t mounts exactly one ext2 volume, matching
// spec.md's Non-goal of "no multi-device filesystems".
type FS_t struct {
	Bufs  *buf.Cache
	DevID int

	super       Superblock_t
	superRaw    []byte
	superBlock  int
	groups      []GroupDesc_t
	groupsRaw   []byte
	groupsBlock int
	nGroups     int

	BallocLock *lock.Spinlock_t
	IallocLock *lock.Spinlock_t

	icacheLock *lock.Spinlock_t
	inodes     []*Inode_t

	DevTabLock  *lock.Spinlock_t
	devtab      map[int]DevEntry
	charDevices map[int]CharDevice

	RootInum int
}

// Inode_t is the in-memory inode cache entry (spec.md §3, "Inode (in
// memory)"). Dev/Inum/ref are protected only by FS_t's icache
// spinlock; every other field requires this inode's own sleeplock.
type Inode_t struct {
	Dev  int
	Inum int

	ref int // icache spinlock only

	lk    *lock.Sleeplock_t
	valid bool

	Mode  uint16
	Links int
	Size  int
	Mtime uint32
	Major int
	Minor int
	addrs [NAddrs]int
}

// DevEntry is one parsed /etc/devtab record (spec.md §6).
type DevEntry struct {
	Class string // "char" is the only class this kernel's device table dispatches
	Major int
	Minor int
}

// bread fetches and reads block n of this volume (volume-relative, per
// spec.md §9's bmap discipline decision), returning it locked.
func (fs *FS_t) bread(w lock.Waiter, cpu *lock.Cpu_t, n int) (*buf.Buf_t, defs.Err_t) {
	b, err := fs.Bufs.Get(cpu, n)
	if err != 0 {
		return nil, err
	}
	b.Lock(w, cpu)
	if err := fs.Bufs.Read(b); err != 0 {
		b.Unlock(w, cpu)
		fs.Bufs.Release(b, w, cpu)
		return nil, err
	}
	return b, 0
}

// bwrite marks b dirty and writes it through, assuming the caller
// already holds b's sleeplock.
func (fs *FS_t) bwrite(b *buf.Buf_t) defs.Err_t {
	return fs.Bufs.Write(b)
}

// brelse releases a buffer obtained from bread.
func (fs *FS_t) brelse(b *buf.Buf_t, w lock.Waiter, cpu *lock.Cpu_t) {
	fs.Bufs.Release(b, w, cpu)
}

// zeroBlock overwrites block n with zeroes and writes it through,
// used when a freshly allocated block (data, indirect, or bitmap)
// must start clean (spec.md §4.5: "zero the underlying block"). It
// does not read the block's prior contents first — the buffer is
// about to be entirely overwritten, so there is nothing to preserve.
func (fs *FS_t) zeroBlock(w lock.Waiter, cpu *lock.Cpu_t, n int) defs.Err_t {
	b, err := fs.Bufs.Get(cpu, n)
	if err != 0 {
		return err
	}
	b.Lock(w, cpu)
	for i := range b.Data {
		b.Data[i] = 0
	}
	err = fs.bwrite(b)
	fs.brelse(b, w, cpu)
	return err
}
