package ext2

import (
	"errors"

	"mpk/defs"
	"mpk/disk"
)

// Format lays down a fresh, single-group ext2 volume of nblocks blocks
// with room for ninodes inodes directly on dev, and creates the root
// directory (inode RootIno, "." and ".." both pointing at itself).
// cmd/mkfs is spec.md's own "external collaborator... treated with a
// defined interface only" (§"Out of scope"); Format is the interface
// this package offers it, the one piece of image construction that
// must stay bit-exact with what Mount later expects to read (spec.md
// §6's "persisted on-disk format").
//
// Formatting runs before anything is mounted, with no other goroutine
// touching dev, so it writes blocks directly rather than routing
// through buf.Cache's lock and LRU bookkeeping — there is nothing yet
// to cache.
//
// A single group keeps both the block and inode bitmaps within one
// BSIZE block each (spec.md §3's "Bitmap block: a 1 KiB block"), which
// bounds nblocks to 8*BSIZE and ninodes to 8*BSIZE; Format returns
// errTooLarge if the caller asks for more than that.
func Format(dev disk.Device, nblocks, ninodes int) error {
	maxPerBitmap := 8 * BSIZE
	if nblocks > maxPerBitmap || ninodes > maxPerBitmap {
		return errTooLarge
	}

	inodeTableBlocks := (ninodes*DinodeBytes + BSIZE - 1) / BSIZE
	groupDescBlocks := (GroupDescBytes + BSIZE - 1) / BSIZE

	const (
		bootBlock  = 0
		superBlock = 1
	)
	groupDescBlock := superBlock + 1
	blockBitmapBlock := groupDescBlock + groupDescBlocks
	inodeBitmapBlock := blockBitmapBlock + 1
	inodeTableBlock := inodeBitmapBlock + 1
	rootDataBlock := inodeTableBlock + inodeTableBlocks
	firstFreeBlock := rootDataBlock + 1

	if firstFreeBlock >= nblocks {
		return errTooLarge
	}

	zero := make([]byte, BSIZE)
	if err := dev.WriteBlock(bootBlock, zero); err != nil {
		return err
	}

	sbData := make([]byte, BSIZE)
	sb := Superblock_t{Data: sbData}
	sb.SetInodesCount(ninodes)
	sb.SetBlocksCount(nblocks)
	sb.SetFreeBlocks(nblocks - firstFreeBlock)
	sb.SetFreeInodes(ninodes - 1) // root consumes inode RootIno
	sb.SetFirstDataBlock(1)
	sb.SetLogBlockSize(0) // 1024 << 0 == BSIZE
	sb.SetBlocksPerGroup(nblocks)
	sb.SetInodesPerGroup(ninodes)
	sb.SetMagic(SuperMagic)
	sb.SetFirstIno(RootIno)
	sb.SetInodeSize(DinodeBytes)
	if err := dev.WriteBlock(superBlock, sbData); err != nil {
		return err
	}

	gdData := make([]byte, groupDescBlocks*BSIZE)
	gd := GroupDesc_t{Data: gdData[:GroupDescBytes]}
	gd.SetBlockBitmap(blockBitmapBlock)
	gd.SetInodeBitmap(inodeBitmapBlock)
	gd.SetInodeTable(inodeTableBlock)
	gd.SetFreeBlocks(nblocks - firstFreeBlock)
	gd.SetFreeInodes(ninodes - 1)
	gd.SetUsedDirs(1)
	for i := 0; i < groupDescBlocks; i++ {
		if err := dev.WriteBlock(groupDescBlock+i, gdData[i*BSIZE:(i+1)*BSIZE]); err != nil {
			return err
		}
	}

	blockBitmap := make([]byte, BSIZE)
	for b := 0; b < firstFreeBlock; b++ {
		setBit(blockBitmap, b)
	}
	if err := dev.WriteBlock(blockBitmapBlock, blockBitmap); err != nil {
		return err
	}

	inodeBitmap := make([]byte, BSIZE)
	setBit(inodeBitmap, RootIno-1) // bitmaps are 0-indexed, inode numbers are 1-indexed
	if err := dev.WriteBlock(inodeBitmapBlock, inodeBitmap); err != nil {
		return err
	}

	for i := 0; i < inodeTableBlocks; i++ {
		if err := dev.WriteBlock(inodeTableBlock+i, zero); err != nil {
			return err
		}
	}

	rootDirent := make([]byte, BSIZE)
	writeDirent(rootDirent[0:], RootIno, 12, ".", FtDir)
	writeDirent(rootDirent[12:], RootIno, BSIZE-12, "..", FtDir)
	if err := dev.WriteBlock(rootDataBlock, rootDirent); err != nil {
		return err
	}

	rootBlockOff, rootInodeOff, err := inodeLocationRaw(RootIno, ninodes, inodeTableBlock)
	if err != nil {
		return err
	}
	tableBlock := make([]byte, BSIZE)
	if err := dev.ReadBlock(rootBlockOff, tableBlock); err != nil {
		return err
	}
	root := Dinode_t{Data: tableBlock[rootInodeOff : rootInodeOff+DinodeBytes]}
	root.SetMode(uint16(defs.S_IFDIR | 0755))
	root.SetSize(BSIZE)
	root.SetLinks(2) // "." and the directory's own name from its parent (itself)
	root.SetAddr(0, rootDataBlock)
	if err := dev.WriteBlock(rootBlockOff, tableBlock); err != nil {
		return err
	}

	return dev.Sync()
}

// inodeLocationRaw mirrors FS_t.inodeLocation's (block, byteOffset)
// return shape, without requiring a mounted FS_t, since Format runs
// before one exists.
func inodeLocationRaw(inum, ninodes, inodeTableBlock int) (block int, off int, err error) {
	if inum < 1 || inum > ninodes {
		return 0, 0, errTooLarge
	}
	idx := inum - 1
	perBlock := BSIZE / DinodeBytes
	block = inodeTableBlock + idx/perBlock
	off = (idx % perBlock) * DinodeBytes
	return block, off, nil
}

var errTooLarge = errors.New("ext2: image geometry exceeds single-group bitmap capacity")
