package ext2

import "mpk/util"

// Superblock_t is a typed view over the raw superblock block, in the
// style of _teacher/fs/super.go's Superblock_t/fieldr/fieldw (there
// keyed on *mem.Bytepg_t; here keyed on a plain []byte since this
// package has no direct-mapped physical memory to view into).
type Superblock_t struct {
	Data []byte
}

func (sb *Superblock_t) InodesCount() int    { return int(util.Readn32(sb.Data, sbInodesCount)) }
func (sb *Superblock_t) BlocksCount() int    { return int(util.Readn32(sb.Data, sbBlocksCount)) }
func (sb *Superblock_t) FreeBlocks() int     { return int(util.Readn32(sb.Data, sbFreeBlocksCnt)) }
func (sb *Superblock_t) FreeInodes() int     { return int(util.Readn32(sb.Data, sbFreeInodesCnt)) }
func (sb *Superblock_t) FirstDataBlock() int { return int(util.Readn32(sb.Data, sbFirstDataBlock)) }
func (sb *Superblock_t) LogBlockSize() int   { return int(util.Readn32(sb.Data, sbLogBlockSize)) }
func (sb *Superblock_t) BlocksPerGroup() int { return int(util.Readn32(sb.Data, sbBlocksPerGroup)) }
func (sb *Superblock_t) InodesPerGroup() int { return int(util.Readn32(sb.Data, sbInodesPerGroup)) }
func (sb *Superblock_t) Magic() uint16       { return util.Readn16(sb.Data, sbMagic) }
func (sb *Superblock_t) FirstIno() int       { return int(util.Readn32(sb.Data, sbFirstIno)) }
func (sb *Superblock_t) InodeSize() int      { return int(util.Readn16(sb.Data, sbInodeSize)) }

func (sb *Superblock_t) SetInodesCount(v int)    { util.Writen32(sb.Data, sbInodesCount, uint32(v)) }
func (sb *Superblock_t) SetBlocksCount(v int)    { util.Writen32(sb.Data, sbBlocksCount, uint32(v)) }
func (sb *Superblock_t) SetFreeBlocks(v int)     { util.Writen32(sb.Data, sbFreeBlocksCnt, uint32(v)) }
func (sb *Superblock_t) SetFreeInodes(v int)     { util.Writen32(sb.Data, sbFreeInodesCnt, uint32(v)) }
func (sb *Superblock_t) SetFirstDataBlock(v int) { util.Writen32(sb.Data, sbFirstDataBlock, uint32(v)) }
func (sb *Superblock_t) SetLogBlockSize(v int)   { util.Writen32(sb.Data, sbLogBlockSize, uint32(v)) }
func (sb *Superblock_t) SetBlocksPerGroup(v int) { util.Writen32(sb.Data, sbBlocksPerGroup, uint32(v)) }
func (sb *Superblock_t) SetInodesPerGroup(v int) { util.Writen32(sb.Data, sbInodesPerGroup, uint32(v)) }
func (sb *Superblock_t) SetMagic(v uint16)       { util.Writen16(sb.Data, sbMagic, v) }
func (sb *Superblock_t) SetFirstIno(v int)       { util.Writen32(sb.Data, sbFirstIno, uint32(v)) }
func (sb *Superblock_t) SetInodeSize(v int)      { util.Writen16(sb.Data, sbInodeSize, uint16(v)) }

// BlockSize returns the volume's block size in bytes, derived from
// LogBlockSize the way real ext2 does: 1024 << log.
func (sb *Superblock_t) BlockSize() int { return 1024 << sb.LogBlockSize() }

// GroupDesc_t is a typed view over one 32-byte group descriptor
// record, in a slice that may hold the whole descriptor table.
type GroupDesc_t struct {
	Data []byte // exactly GroupDescBytes long
}

func (gd *GroupDesc_t) BlockBitmap() int { return int(util.Readn32(gd.Data, gdBlockBitmap)) }
func (gd *GroupDesc_t) InodeBitmap() int { return int(util.Readn32(gd.Data, gdInodeBitmap)) }
func (gd *GroupDesc_t) InodeTable() int  { return int(util.Readn32(gd.Data, gdInodeTable)) }
func (gd *GroupDesc_t) FreeBlocks() int  { return int(util.Readn16(gd.Data, gdFreeBlocks)) }
func (gd *GroupDesc_t) FreeInodes() int  { return int(util.Readn16(gd.Data, gdFreeInodes)) }
func (gd *GroupDesc_t) UsedDirs() int    { return int(util.Readn16(gd.Data, gdUsedDirs)) }

func (gd *GroupDesc_t) SetBlockBitmap(v int) { util.Writen32(gd.Data, gdBlockBitmap, uint32(v)) }
func (gd *GroupDesc_t) SetInodeBitmap(v int) { util.Writen32(gd.Data, gdInodeBitmap, uint32(v)) }
func (gd *GroupDesc_t) SetInodeTable(v int)  { util.Writen32(gd.Data, gdInodeTable, uint32(v)) }
func (gd *GroupDesc_t) SetFreeBlocks(v int)  { util.Writen16(gd.Data, gdFreeBlocks, uint16(v)) }
func (gd *GroupDesc_t) SetFreeInodes(v int)  { util.Writen16(gd.Data, gdFreeInodes, uint16(v)) }
func (gd *GroupDesc_t) SetUsedDirs(v int)    { util.Writen16(gd.Data, gdUsedDirs, uint16(v)) }

// Dinode_t is a typed view over one on-disk inode record.
type Dinode_t struct {
	Data []byte // exactly DinodeBytes long
}

func (di *Dinode_t) Mode() uint16  { return util.Readn16(di.Data, diMode) }
func (di *Dinode_t) Size() int     { return int(util.Readn32(di.Data, diSize)) }
func (di *Dinode_t) Links() int    { return int(util.Readn16(di.Data, diLinksCount)) }
func (di *Dinode_t) Mtime() uint32 { return util.Readn32(di.Data, diMtime) }

func (di *Dinode_t) SetMode(v uint16)  { util.Writen16(di.Data, diMode, v) }
func (di *Dinode_t) SetSize(v int)     { util.Writen32(di.Data, diSize, uint32(v)) }
func (di *Dinode_t) SetLinks(v int)    { util.Writen16(di.Data, diLinksCount, uint16(v)) }
func (di *Dinode_t) SetMtime(v uint32) { util.Writen32(di.Data, diMtime, v) }

// Addr returns the i'th entry of the inode's address vector (0..11
// direct, 12 single-indirect, 13 double-indirect, 14 triple-indirect).
func (di *Dinode_t) Addr(i int) int {
	return int(util.Readn32(di.Data, diBlockArray+4*i))
}

// SetAddr writes the i'th address-vector entry.
func (di *Dinode_t) SetAddr(i, v int) {
	util.Writen32(di.Data, diBlockArray+4*i, uint32(v))
}

// DevMajor/DevMinor overload the first two address-vector slots for
// character-device inodes, matching this implementation's simplified
// rdev encoding (see DESIGN.md: real ext2's i_block[0]/i_block[1] rdev
// packing is not exercised by any spec.md invariant, so this package
// uses the two slots directly as major/minor rather than reproducing
// the historical encoding bit-for-bit).
func (di *Dinode_t) DevMajor() int   { return di.Addr(0) }
func (di *Dinode_t) DevMinor() int   { return di.Addr(1) }
func (di *Dinode_t) SetDevMajor(v int) { di.SetAddr(0, v) }
func (di *Dinode_t) SetDevMinor(v int) { di.SetAddr(1, v) }
