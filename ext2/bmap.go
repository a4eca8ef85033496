package ext2

import (
	"mpk/defs"
	"mpk/lock"
	"mpk/util"
)

// ensureAddr returns ip.addrs[slot], allocating and persisting a fresh
// block there first if it is currently unset (0 means "unallocated",
// matching ext2's convention that block 0 never holds file data).
func (fs *FS_t) ensureAddr(w lock.Waiter, cpu *lock.Cpu_t, ip *Inode_t, slot int) (int, defs.Err_t) {
	if ip.addrs[slot] != 0 {
		return ip.addrs[slot], 0
	}
	blk, err := fs.Balloc(w, cpu)
	if err != 0 {
		return 0, err
	}
	ip.addrs[slot] = blk
	if err := fs.Iupdate(w, cpu, ip); err != 0 {
		return 0, err
	}
	return blk, 0
}

// indirectChild reads the idx'th four-byte pointer out of the block at
// base, allocating and writing back a fresh block there if the slot is
// currently unset.
func (fs *FS_t) indirectChild(w lock.Waiter, cpu *lock.Cpu_t, base, idx int) (int, defs.Err_t) {
	b, err := fs.bread(w, cpu, base)
	if err != 0 {
		return 0, err
	}
	ptr := int(util.Readn32(b.Data[:], idx*4))
	if ptr == 0 {
		blk, err := fs.Balloc(w, cpu)
		if err != 0 {
			fs.brelse(b, w, cpu)
			return 0, err
		}
		util.Writen32(b.Data[:], idx*4, uint32(blk))
		if err := fs.bwrite(b); err != 0 {
			fs.brelse(b, w, cpu)
			return 0, err
		}
		ptr = blk
	}
	fs.brelse(b, w, cpu)
	return ptr, 0
}

// Bmap returns the volume-relative disk block holding file-relative
// block bn of ip, allocating intermediate indirect blocks as necessary
// (spec.md §4.5, "Block mapping"). A bn beyond the triple-indirect
// limit is a programming-invariant violation (spec.md §7(c)).
func (fs *FS_t) Bmap(w lock.Waiter, cpu *lock.Cpu_t, ip *Inode_t, bn int) (int, defs.Err_t) {
	if bn < NDIRECT {
		return fs.ensureAddr(w, cpu, ip, bn)
	}
	bn -= NDIRECT

	if bn < NINDIRECT {
		ind, err := fs.ensureAddr(w, cpu, ip, IndSlot)
		if err != 0 {
			return 0, err
		}
		return fs.indirectChild(w, cpu, ind, bn)
	}
	bn -= NINDIRECT

	if bn < NINDIRECT*NINDIRECT {
		dind, err := fs.ensureAddr(w, cpu, ip, DindSlot)
		if err != 0 {
			return 0, err
		}
		singleBlk, err := fs.indirectChild(w, cpu, dind, bn/NINDIRECT)
		if err != 0 {
			return 0, err
		}
		return fs.indirectChild(w, cpu, singleBlk, bn%NINDIRECT)
	}
	bn -= NINDIRECT * NINDIRECT

	if bn < NINDIRECT*NINDIRECT*NINDIRECT {
		tind, err := fs.ensureAddr(w, cpu, ip, TindSlot)
		if err != 0 {
			return 0, err
		}
		doubleBlk, err := fs.indirectChild(w, cpu, tind, bn/(NINDIRECT*NINDIRECT))
		if err != 0 {
			return 0, err
		}
		rem := bn % (NINDIRECT * NINDIRECT)
		singleBlk, err := fs.indirectChild(w, cpu, doubleBlk, rem/NINDIRECT)
		if err != 0 {
			return 0, err
		}
		return fs.indirectChild(w, cpu, singleBlk, rem%NINDIRECT)
	}

	panic("bmap: block index beyond triple-indirect limit")
}

// freeIndirect recursively frees every non-zero pointer stored in the
// block at addr, where level is the number of indirection tiers addr
// itself represents (1: addr's entries are data blocks; 2: addr's
// entries are level-1 indirect blocks; 3: addr's entries are level-2
// indirect blocks), then frees addr itself.
func (fs *FS_t) freeIndirect(w lock.Waiter, cpu *lock.Cpu_t, addr, level int) defs.Err_t {
	b, err := fs.bread(w, cpu, addr)
	if err != 0 {
		return err
	}
	for i := 0; i < NINDIRECT; i++ {
		ptr := int(util.Readn32(b.Data[:], i*4))
		if ptr == 0 {
			continue
		}
		if level > 1 {
			if err := fs.freeIndirect(w, cpu, ptr, level-1); err != 0 {
				fs.brelse(b, w, cpu)
				return err
			}
		} else {
			if err := fs.Bfree(w, cpu, ptr); err != 0 {
				fs.brelse(b, w, cpu)
				return err
			}
		}
	}
	fs.brelse(b, w, cpu)
	return fs.Bfree(w, cpu, addr)
}

// Truncate releases every block reachable from ip's address vector
// and resets its size to zero (spec.md §4.5, "Truncate").
func (fs *FS_t) Truncate(w lock.Waiter, cpu *lock.Cpu_t, ip *Inode_t) defs.Err_t {
	for i := 0; i < NDIRECT; i++ {
		if ip.addrs[i] != 0 {
			if err := fs.Bfree(w, cpu, ip.addrs[i]); err != 0 {
				return err
			}
			ip.addrs[i] = 0
		}
	}
	tiers := []struct {
		slot, level int
	}{{IndSlot, 1}, {DindSlot, 2}, {TindSlot, 3}}
	for _, t := range tiers {
		if ip.addrs[t.slot] != 0 {
			if err := fs.freeIndirect(w, cpu, ip.addrs[t.slot], t.level); err != 0 {
				return err
			}
			ip.addrs[t.slot] = 0
		}
	}
	ip.Size = 0
	return fs.Iupdate(w, cpu, ip)
}
