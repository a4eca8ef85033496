package ext2

import (
	"mpk/buf"
	"mpk/defs"
	"mpk/lock"
)

// RootIno is the inode number of the filesystem root, matching real
// ext2's convention.
const RootIno = 2

// NInodeCache is the size of the in-memory inode cache table.
const NInodeCache = 64

// Mount reads the superblock and group-descriptor table from devID
// through bufs and builds an FS_t, parsing /etc/devtab once as its own
// final step (spec.md §9's third open-question decision: devtab is read
// at mount time, not lazily on first open). The parsed table is guarded
// by FS_t.DevTabLock, not by the file table's lock. w/cpu identify the calling context for the buffer
// sleeplocks touched along the way; mount runs before the scheduler
// starts handing out multiple runnable processes, so w is typically a
// synthetic bootstrap context (see cmd/kernel).
func Mount(bufs *buf.Cache, devID int, w lock.Waiter, cpu *lock.Cpu_t) (*FS_t, defs.Err_t) {
	fs := &FS_t{
		Bufs:       bufs,
		DevID:      devID,
		superBlock: 1, // bytes [1024,2048) within the partition
		BallocLock: lock.MkSpinlock("balloc"),
		IallocLock: lock.MkSpinlock("ialloc"),
		icacheLock: lock.MkSpinlock("icache"),
		DevTabLock: lock.MkSpinlock("devtab"),
		devtab:     make(map[int]DevEntry),
		RootInum:   RootIno,
	}

	sbuf, err := fs.bread(w, cpu, fs.superBlock)
	if err != 0 {
		return nil, err
	}
	fs.superRaw = make([]byte, BSIZE)
	copy(fs.superRaw, sbuf.Data[:])
	fs.brelse(sbuf, w, cpu)
	fs.super = Superblock_t{Data: fs.superRaw}

	if fs.super.Magic() != SuperMagic {
		return nil, -defs.EINVAL
	}

	fs.nGroups = (fs.super.BlocksCount() + fs.super.BlocksPerGroup() - 1) / fs.super.BlocksPerGroup()
	fs.groupsBlock = fs.super.FirstDataBlock() + 1

	gdBytesTotal := fs.nGroups * GroupDescBytes
	gdBlocks := (gdBytesTotal + BSIZE - 1) / BSIZE
	fs.groupsRaw = make([]byte, gdBlocks*BSIZE)
	for i := 0; i < gdBlocks; i++ {
		b, err := fs.bread(w, cpu, fs.groupsBlock+i)
		if err != 0 {
			return nil, err
		}
		copy(fs.groupsRaw[i*BSIZE:(i+1)*BSIZE], b.Data[:])
		fs.brelse(b, w, cpu)
	}
	fs.groups = make([]GroupDesc_t, fs.nGroups)
	for g := 0; g < fs.nGroups; g++ {
		fs.groups[g] = GroupDesc_t{Data: fs.groupsRaw[g*GroupDescBytes : (g+1)*GroupDescBytes]}
	}

	fs.inodes = make([]*Inode_t, NInodeCache)
	for i := range fs.inodes {
		fs.inodes[i] = &Inode_t{lk: lock.MkSleeplock("inode")}
	}

	if err := fs.loadDevtab(w, cpu); err != 0 {
		return nil, err
	}

	return fs, 0
}

// writeSuper flushes the cached superblock back to disk, used after
// any free-count update (spec.md: superblock is "cached at mount",
// implying in-memory updates must still reach disk for free-space
// accounting to be durable).
func (fs *FS_t) writeSuper(w lock.Waiter, cpu *lock.Cpu_t) defs.Err_t {
	b, err := fs.Bufs.Get(cpu, fs.superBlock)
	if err != 0 {
		return err
	}
	b.Lock(w, cpu)
	copy(b.Data[:], fs.superRaw)
	err = fs.bwrite(b)
	fs.brelse(b, w, cpu)
	return err
}

// writeGroup flushes group descriptor g back to disk.
func (fs *FS_t) writeGroup(w lock.Waiter, cpu *lock.Cpu_t, g int) defs.Err_t {
	blockOff := (g * GroupDescBytes) / BSIZE
	b, err := fs.Bufs.Get(cpu, fs.groupsBlock+blockOff)
	if err != 0 {
		return err
	}
	b.Lock(w, cpu)
	copy(b.Data[:], fs.groupsRaw[blockOff*BSIZE:(blockOff+1)*BSIZE])
	err = fs.bwrite(b)
	fs.brelse(b, w, cpu)
	return err
}
