package ext2

import (
	"mpk/defs"
	"mpk/lock"
)

// findZeroBit returns the index of the first zero bit among the first
// count bits of data, or -1 if none.
func findZeroBit(data []byte, count int) int {
	for i := 0; i < count; i++ {
		if data[i/8]&(1<<uint(i%8)) == 0 {
			return i
		}
	}
	return -1
}

func testBit(data []byte, i int) bool {
	return data[i/8]&(1<<uint(i%8)) != 0
}

func setBit(data []byte, i int) {
	data[i/8] |= 1 << uint(i%8)
}

func clearBit(data []byte, i int) {
	data[i/8] &^= 1 << uint(i%8)
}

// Balloc scans the block-group bitmaps for a zero bit, claims it, and
// returns the volume-relative block number it names, already zeroed
// (spec.md §4.5, "Block allocation"). It is guarded by FS_t's own
// block-allocator spinlock (spec.md §5(e)).
func (fs *FS_t) Balloc(w lock.Waiter, cpu *lock.Cpu_t) (int, defs.Err_t) {
	fs.BallocLock.Acquire(cpu)
	defer fs.BallocLock.Release(cpu)

	bpg := fs.super.BlocksPerGroup()
	for g := 0; g < fs.nGroups; g++ {
		bitmapBlock := fs.groups[g].BlockBitmap()
		b, err := fs.bread(w, cpu, bitmapBlock)
		if err != 0 {
			return 0, err
		}
		groupBlocks := bpg
		if last := fs.super.BlocksCount() - (fs.super.FirstDataBlock() + g*bpg); last < groupBlocks {
			groupBlocks = last
		}
		bit := findZeroBit(b.Data[:], groupBlocks)
		if bit < 0 {
			fs.brelse(b, w, cpu)
			continue
		}
		setBit(b.Data[:], bit)
		err = fs.bwrite(b)
		fs.brelse(b, w, cpu)
		if err != 0 {
			return 0, err
		}

		blockno := fs.super.FirstDataBlock() + g*bpg + bit
		if err := fs.zeroBlock(w, cpu, blockno); err != 0 {
			return 0, err
		}

		fs.groups[g].SetFreeBlocks(fs.groups[g].FreeBlocks() - 1)
		fs.writeGroup(w, cpu, g)
		fs.super.SetFreeBlocks(fs.super.FreeBlocks() - 1)
		fs.writeSuper(w, cpu)
		return blockno, 0
	}
	return 0, -defs.ENOSPC
}

// Bfree returns block blockno to its group's free-block bitmap.
// Freeing an already-free block is a programming-invariant violation
// (spec.md §4.5: "freeing an already-free block is a fatal error").
func (fs *FS_t) Bfree(w lock.Waiter, cpu *lock.Cpu_t, blockno int) defs.Err_t {
	fs.BallocLock.Acquire(cpu)
	defer fs.BallocLock.Release(cpu)

	bpg := fs.super.BlocksPerGroup()
	rel := blockno - fs.super.FirstDataBlock()
	g := rel / bpg
	bit := rel % bpg
	if g < 0 || g >= fs.nGroups {
		return -defs.EINVAL
	}
	b, err := fs.bread(w, cpu, fs.groups[g].BlockBitmap())
	if err != 0 {
		return err
	}
	if !testBit(b.Data[:], bit) {
		fs.brelse(b, w, cpu)
		panic("bfree: freeing an already-free block")
	}
	clearBit(b.Data[:], bit)
	err = fs.bwrite(b)
	fs.brelse(b, w, cpu)
	if err != 0 {
		return err
	}
	fs.groups[g].SetFreeBlocks(fs.groups[g].FreeBlocks() + 1)
	fs.writeGroup(w, cpu, g)
	fs.super.SetFreeBlocks(fs.super.FreeBlocks() + 1)
	fs.writeSuper(w, cpu)
	return 0
}
