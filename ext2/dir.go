package ext2

import (
	"mpk/defs"
	"mpk/lock"
	"mpk/util"
)

// writeDirent packs one directory entry into slot, which must be
// exactly recLen bytes long (spec.md §6's on-disk format:
// inode:u32, rec_len:u16, name_len:u8, file_type:u8, name[name_len]).
func writeDirent(slot []byte, inum, recLen int, name string, ftype byte) {
	util.Writen32(slot, deInode, uint32(inum))
	util.Writen16(slot, deRecLen, uint16(recLen))
	slot[deNameLen] = byte(len(name))
	slot[deFileType] = ftype
	copy(slot[deHeader:deHeader+len(name)], name)
}

// writeDirBlock writes buf (one full BSIZE directory block) back to
// dp at byte offset off.
func (fs *FS_t) writeDirBlock(w lock.Waiter, cpu *lock.Cpu_t, dp *Inode_t, off int, buf []byte) defs.Err_t {
	n, err := fs.Writei(w, cpu, dp, buf, off)
	if err != 0 {
		return err
	}
	if n != len(buf) {
		return -defs.EIO
	}
	return 0
}

// Dirlookup iterates dp's entries, matching by name-length then
// byte-compare, and returns the referenced inode via Iget (spec.md
// §4.5, "dirlookup"). dp must be locked and a directory.
func (fs *FS_t) Dirlookup(w lock.Waiter, cpu *lock.Cpu_t, dp *Inode_t, name string) (*Inode_t, int, defs.Err_t) {
	if dp.Mode&defs.S_IFDIR == 0 {
		panic("dirlookup: not a directory")
	}
	buf := make([]byte, BSIZE)
	for off := 0; off < dp.Size; off += BSIZE {
		n, err := fs.Readi(w, cpu, dp, buf, off)
		if err != 0 {
			return nil, 0, err
		}
		pos := 0
		for pos+deHeader <= n {
			inum := int(util.Readn32(buf, pos+deInode))
			recLen := int(util.Readn16(buf, pos+deRecLen))
			nameLen := int(buf[pos+deNameLen])
			if recLen < deHeader {
				break
			}
			if inum != 0 && nameLen == len(name) && string(buf[pos+deHeader:pos+deHeader+nameLen]) == name {
				ip, err := fs.Iget(cpu, dp.Dev, inum)
				return ip, off + pos, err
			}
			pos += recLen
		}
	}
	return nil, 0, -defs.ENOENT
}

// Dirlink verifies name does not already exist in dp, then installs an
// entry for it — reusing a free slot's tail space if one is large
// enough, or appending a fresh block otherwise (spec.md §4.5,
// "dirlink"). dp must be locked and a directory.
func (fs *FS_t) Dirlink(w lock.Waiter, cpu *lock.Cpu_t, dp *Inode_t, name string, inum int, ftype byte) defs.Err_t {
	if len(name) > MaxName {
		return -defs.ENAMETOOLONG
	}
	if existing, _, err := fs.Dirlookup(w, cpu, dp, name); err == 0 {
		fs.Iput(w, cpu, existing)
		return -defs.EEXIST
	}

	need := util.Roundup(deHeader+len(name), 4)
	buf := make([]byte, BSIZE)
	for off := 0; off < dp.Size; off += BSIZE {
		n, err := fs.Readi(w, cpu, dp, buf, off)
		if err != 0 {
			return err
		}
		pos := 0
		for pos+deHeader <= n {
			inum0 := int(util.Readn32(buf, pos+deInode))
			recLen := int(util.Readn16(buf, pos+deRecLen))
			nameLen := int(buf[pos+deNameLen])
			if recLen < deHeader {
				break
			}
			if inum0 == 0 && recLen >= need {
				writeDirent(buf[pos:pos+recLen], inum, recLen, name, ftype)
				return fs.writeDirBlock(w, cpu, dp, off, buf)
			}
			if inum0 != 0 {
				used := util.Roundup(deHeader+nameLen, 4)
				free := recLen - used
				if free >= need {
					util.Writen16(buf, pos+deRecLen, uint16(used))
					newOff := pos + used
					writeDirent(buf[newOff:newOff+free], inum, free, name, ftype)
					return fs.writeDirBlock(w, cpu, dp, off, buf)
				}
			}
			pos += recLen
		}
	}

	newBuf := make([]byte, BSIZE)
	writeDirent(newBuf, inum, BSIZE, name, ftype)
	n, err := fs.Writei(w, cpu, dp, newBuf, dp.Size)
	if err != 0 {
		return err
	}
	if n != BSIZE {
		return -defs.EIO
	}
	return 0
}

// IsDirEmpty reports whether every valid entry in dp is "." or ".."
// (spec.md §4.5: "a directory is empty iff every valid entry is . or
// ..").
func (fs *FS_t) IsDirEmpty(w lock.Waiter, cpu *lock.Cpu_t, dp *Inode_t) (bool, defs.Err_t) {
	buf := make([]byte, BSIZE)
	for off := 0; off < dp.Size; off += BSIZE {
		n, err := fs.Readi(w, cpu, dp, buf, off)
		if err != 0 {
			return false, err
		}
		pos := 0
		for pos+deHeader <= n {
			inum := int(util.Readn32(buf, pos+deInode))
			recLen := int(util.Readn16(buf, pos+deRecLen))
			nameLen := int(buf[pos+deNameLen])
			if recLen < deHeader {
				break
			}
			if inum != 0 {
				name := string(buf[pos+deHeader : pos+deHeader+nameLen])
				if name != "." && name != ".." {
					return false, 0
				}
			}
			pos += recLen
		}
	}
	return true, 0
}
