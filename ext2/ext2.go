// Package ext2 implements the on-disk filesystem (spec.md §4.5):
// superblock, block-group descriptor table, inode and block bitmaps,
// an in-memory inode cache, block mapping over direct/indirect/
// double/triple tiers, directory entries, and pathname resolution.
//
// No teacher fs.go survived retrieval for this pack (Biscuit's actual
// inode/bmap/directory code lives outside what _teacher/fs/ kept —
// only blk.go and super.go did); super.go's field-accessor idiom
// (fieldr/fieldw over a raw page) is the concrete piece this package
// is grounded on, generalized from Biscuit's own homegrown superblock
// format to bit-exact ext2 field offsets per spec.md §6. Everything
// else here (bitmaps, bmap, directory entries, path walk) is built
// directly from spec.md §4.5's prose, in the teacher's style: small
// locked structs, Err_t returns, no hidden global state.
package ext2

import "mpk/disk"

// BSIZE is the ext2 block size, equal to the buffer cache's block size
// (spec.md §4.5: "ext2 volume whose block size equals the buffer block
// size").
const BSIZE = disk.BSIZE

// Address-vector geometry (spec.md §4.5's bmap table): 12 direct
// slots, then one single-, one double-, and one triple-indirect.
const (
	NDIRECT   = 12
	NINDIRECT = BSIZE / 4 // 256 four-byte block pointers per indirect block
	IndSlot   = 12
	DindSlot  = 13
	TindSlot  = 14
	NAddrs    = 15

	MaxFileBlocks = NDIRECT + NINDIRECT + NINDIRECT*NINDIRECT + NINDIRECT*NINDIRECT*NINDIRECT
)

// MaxName is the ext2 directory-entry name length limit.
const MaxName = 255

// On-disk superblock field offsets (bytes), populated only through
// s_inode_size — the fields this implementation actually reads and
// writes. Reserved fields in between are left zero; this is "bit-exact"
// for the subset exercised, documented rather than silently partial
// (see DESIGN.md).
const (
	sbInodesCount    = 0
	sbBlocksCount    = 4
	sbFreeBlocksCnt  = 12
	sbFreeInodesCnt  = 16
	sbFirstDataBlock = 20
	sbLogBlockSize   = 24
	sbBlocksPerGroup = 32
	sbInodesPerGroup = 40
	sbMagic          = 56
	sbFirstIno       = 84
	sbInodeSize      = 88
	sbSize           = 96 // bytes of superblock this implementation touches

	SuperMagic = 0xEF53
)

// Group descriptor field offsets (32-byte records).
const (
	gdBlockBitmap  = 0
	gdInodeBitmap  = 4
	gdInodeTable   = 8
	gdFreeBlocks   = 12
	gdFreeInodes   = 14
	gdUsedDirs     = 16
	GroupDescBytes = 32
)

// On-disk inode field offsets (128-byte records, per s_inode_size).
const (
	diMode       = 0
	diSize       = 4
	diAtime      = 8
	diCtime      = 12
	diMtime      = 16
	diDtime      = 20
	diLinksCount = 26
	diBlocks     = 28
	diBlockArray = 40 // 15 * 4 bytes
	diGeneration = 100
	DinodeBytes  = 128
)

// Directory entry header (spec.md §6): inode:u32, rec_len:u16,
// name_len:u8, file_type:u8, then name[name_len], the whole record
// 4-byte aligned.
const (
	deInode    = 0
	deRecLen   = 4
	deNameLen  = 6
	deFileType = 7
	deHeader   = 8
)

// File-type byte values stored in directory entries.
const (
	FtUnknown = 0
	FtReg     = 1
	FtDir     = 2
	FtChr     = 3
)
