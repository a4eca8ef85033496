package ext2

import (
	"mpk/defs"
	"mpk/lock"
)

// inodeLocation returns the block number and byte offset within that
// block of inode inum's on-disk record.
func (fs *FS_t) inodeLocation(inum int) (int, int, defs.Err_t) {
	if inum < 1 || inum > fs.super.InodesCount() {
		return 0, 0, -defs.EINVAL
	}
	ipg := fs.super.InodesPerGroup()
	g := (inum - 1) / ipg
	idx := (inum - 1) % ipg
	if g >= fs.nGroups {
		return 0, 0, -defs.EINVAL
	}
	isz := fs.super.InodeSize()
	byteOff := idx * isz
	block := fs.groups[g].InodeTable() + byteOff/BSIZE
	return block, byteOff % BSIZE, 0
}

// Ilock acquires ip's sleeplock and, on first use, reads its on-disk
// record (spec.md §4.5: "ilock: sleeplock + populate-on-first-use").
func (fs *FS_t) Ilock(w lock.Waiter, cpu *lock.Cpu_t, ip *Inode_t) defs.Err_t {
	if ip.ref < 1 {
		panic("ilock: inode has no references")
	}
	ip.lk.Acquire(w, cpu)
	if ip.valid {
		return 0
	}
	block, off, err := fs.inodeLocation(ip.Inum)
	if err != 0 {
		ip.lk.Release(w, cpu)
		return err
	}
	b, err := fs.bread(w, cpu, block)
	if err != 0 {
		ip.lk.Release(w, cpu)
		return err
	}
	di := Dinode_t{Data: b.Data[off : off+DinodeBytes]}
	ip.Mode = di.Mode()
	ip.Links = di.Links()
	ip.Size = di.Size()
	ip.Mtime = di.Mtime()
	if (ip.Mode & defs.S_IFCHR) == defs.S_IFCHR {
		ip.Major = di.DevMajor()
		ip.Minor = di.DevMinor()
	}
	for i := 0; i < NAddrs; i++ {
		ip.addrs[i] = di.Addr(i)
	}
	fs.brelse(b, w, cpu)
	ip.valid = true
	return 0
}

// Iunlock releases ip's sleeplock.
func (fs *FS_t) Iunlock(w lock.Waiter, cpu *lock.Cpu_t, ip *Inode_t) {
	ip.lk.Release(w, cpu)
}

// Iupdate writes ip's cached in-memory fields back to its on-disk
// record. Caller must hold ip's sleeplock.
func (fs *FS_t) Iupdate(w lock.Waiter, cpu *lock.Cpu_t, ip *Inode_t) defs.Err_t {
	block, off, err := fs.inodeLocation(ip.Inum)
	if err != 0 {
		return err
	}
	b, err := fs.bread(w, cpu, block)
	if err != 0 {
		return err
	}
	di := Dinode_t{Data: b.Data[off : off+DinodeBytes]}
	di.SetMode(ip.Mode)
	di.SetLinks(ip.Links)
	di.SetSize(ip.Size)
	di.SetMtime(ip.Mtime)
	if (ip.Mode & defs.S_IFCHR) == defs.S_IFCHR {
		di.SetDevMajor(ip.Major)
		di.SetDevMinor(ip.Minor)
	}
	for i := 0; i < NAddrs; i++ {
		di.SetAddr(i, ip.addrs[i])
	}
	err = fs.bwrite(b)
	fs.brelse(b, w, cpu)
	return err
}

// Iput drops a reference to ip. If this was the last reference and
// the inode's link count has reached zero, its on-disk storage is
// truncated and freed (spec.md §4.5: "iput ... if reaching zero and
// nlink==0, truncates and frees on disk").
func (fs *FS_t) Iput(w lock.Waiter, cpu *lock.Cpu_t, ip *Inode_t) defs.Err_t {
	fs.icacheLock.Acquire(cpu)
	r := ip.ref
	fs.icacheLock.Release(cpu)

	if r == 1 {
		fs.Ilock(w, cpu, ip)
		if ip.valid && ip.Links == 0 {
			if err := fs.Truncate(w, cpu, ip); err != 0 {
				fs.Iunlock(w, cpu, ip)
				return err
			}
			ip.Mode = 0
			if err := fs.Iupdate(w, cpu, ip); err != 0 {
				fs.Iunlock(w, cpu, ip)
				return err
			}
			fs.Ifree(w, cpu, ip.Inum)
			ip.valid = false
		}
		fs.Iunlock(w, cpu, ip)
	}

	fs.icacheLock.Acquire(cpu)
	ip.ref--
	fs.icacheLock.Release(cpu)
	return 0
}

// IunlockPut is the common unlock-then-drop-reference sequence.
func (fs *FS_t) IunlockPut(w lock.Waiter, cpu *lock.Cpu_t, ip *Inode_t) defs.Err_t {
	fs.Iunlock(w, cpu, ip)
	return fs.Iput(w, cpu, ip)
}

// Ialloc walks the group-descriptor table for a zero bit in an inode
// bitmap, claims it, zeroes the matching on-disk inode record with the
// given mode, and installs it into the in-memory cache (spec.md §4.5:
// "Inode allocation"). It is guarded by FS_t's own allocator spinlock
// (spec.md §5(e)).
func (fs *FS_t) Ialloc(w lock.Waiter, cpu *lock.Cpu_t, mode uint16) (*Inode_t, defs.Err_t) {
	fs.IallocLock.Acquire(cpu)
	defer fs.IallocLock.Release(cpu)

	ipg := fs.super.InodesPerGroup()
	for g := 0; g < fs.nGroups; g++ {
		bitmapBlock := fs.groups[g].InodeBitmap()
		b, err := fs.bread(w, cpu, bitmapBlock)
		if err != 0 {
			return nil, err
		}
		bit := findZeroBit(b.Data[:], ipg)
		if bit < 0 {
			fs.brelse(b, w, cpu)
			continue
		}
		setBit(b.Data[:], bit)
		err = fs.bwrite(b)
		fs.brelse(b, w, cpu)
		if err != 0 {
			return nil, err
		}

		inum := g*ipg + bit + 1
		block, off, err := fs.inodeLocation(inum)
		if err != 0 {
			return nil, err
		}
		ib, err := fs.bread(w, cpu, block)
		if err != 0 {
			return nil, err
		}
		di := Dinode_t{Data: ib.Data[off : off+DinodeBytes]}
		for i := range di.Data {
			di.Data[i] = 0
		}
		di.SetMode(mode)
		di.SetLinks(0)
		di.SetSize(0)
		err = fs.bwrite(ib)
		fs.brelse(ib, w, cpu)
		if err != 0 {
			return nil, err
		}

		fs.groups[g].SetFreeInodes(fs.groups[g].FreeInodes() - 1)
		fs.writeGroup(w, cpu, g)
		fs.super.SetFreeInodes(fs.super.FreeInodes() - 1)
		fs.writeSuper(w, cpu)

		ip, err := fs.Iget(cpu, fs.DevID, inum)
		if err != 0 {
			return nil, err
		}
		return ip, 0
	}
	return nil, -defs.ENOSPC
}

// Ifree clears inum's bit in its group's inode bitmap (spec.md §4.5:
// "ifree clears the bitmap bit").
func (fs *FS_t) Ifree(w lock.Waiter, cpu *lock.Cpu_t, inum int) defs.Err_t {
	fs.IallocLock.Acquire(cpu)
	defer fs.IallocLock.Release(cpu)

	ipg := fs.super.InodesPerGroup()
	g := (inum - 1) / ipg
	bit := (inum - 1) % ipg
	if g >= fs.nGroups {
		return -defs.EINVAL
	}
	b, err := fs.bread(w, cpu, fs.groups[g].InodeBitmap())
	if err != 0 {
		return err
	}
	if !testBit(b.Data[:], bit) {
		fs.brelse(b, w, cpu)
		panic("ifree: freeing an already-free inode")
	}
	clearBit(b.Data[:], bit)
	err = fs.bwrite(b)
	fs.brelse(b, w, cpu)
	if err != 0 {
		return err
	}
	fs.groups[g].SetFreeInodes(fs.groups[g].FreeInodes() + 1)
	fs.writeGroup(w, cpu, g)
	fs.super.SetFreeInodes(fs.super.FreeInodes() + 1)
	fs.writeSuper(w, cpu)
	return 0
}
