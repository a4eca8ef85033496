package ext2

import (
	"mpk/defs"
	"mpk/lock"
	"mpk/util"
)

// Create resolves path's parent, then either returns an existing entry
// of that name (locked) or allocates, populates, and links a fresh
// inode of the given mode. It backs the open(O_CREAT) syscall path.
func (fs *FS_t) Create(w lock.Waiter, cpu *lock.Cpu_t, path string, cwd *Inode_t, mode uint16) (*Inode_t, defs.Err_t) {
	dp, name, err := fs.NameiParent(w, cpu, path, cwd)
	if err != 0 {
		return nil, err
	}

	if existing, _, err := fs.Dirlookup(w, cpu, dp, name); err == 0 {
		fs.IunlockPut(w, cpu, dp)
		fs.Ilock(w, cpu, existing)
		if (mode&defs.S_IFDIR) != 0 && (existing.Mode&defs.S_IFDIR) == 0 {
			fs.IunlockPut(w, cpu, existing)
			return nil, -defs.ENOTDIR
		}
		return existing, 0
	}

	ip, err := fs.Ialloc(w, cpu, mode)
	if err != 0 {
		fs.IunlockPut(w, cpu, dp)
		return nil, err
	}
	fs.Ilock(w, cpu, ip)
	ip.Links = 1
	if err := fs.Iupdate(w, cpu, ip); err != 0 {
		fs.IunlockPut(w, cpu, ip)
		fs.IunlockPut(w, cpu, dp)
		return nil, err
	}

	ftype := byte(FtReg)
	if mode&defs.S_IFDIR != 0 {
		ftype = FtDir
	} else if mode&defs.S_IFCHR != 0 {
		ftype = FtChr
	}
	if err := fs.Dirlink(w, cpu, dp, name, ip.Inum, ftype); err != 0 {
		fs.IunlockPut(w, cpu, ip)
		fs.IunlockPut(w, cpu, dp)
		return nil, err
	}
	fs.IunlockPut(w, cpu, dp)
	return ip, 0
}

// Mkdir creates a directory at path, pre-populated with "." and ".."
// entries, and bumps the parent's link count for the child's ".."
// (spec.md §6: "mkdir: creates . and ..").
func (fs *FS_t) Mkdir(w lock.Waiter, cpu *lock.Cpu_t, path string, cwd *Inode_t) (*Inode_t, defs.Err_t) {
	dp, name, err := fs.NameiParent(w, cpu, path, cwd)
	if err != 0 {
		return nil, err
	}
	if existing, _, err := fs.Dirlookup(w, cpu, dp, name); err == 0 {
		fs.IunlockPut(w, cpu, existing)
		fs.IunlockPut(w, cpu, dp)
		return nil, -defs.EEXIST
	}

	ip, err := fs.Ialloc(w, cpu, defs.S_IFDIR)
	if err != 0 {
		fs.IunlockPut(w, cpu, dp)
		return nil, err
	}
	fs.Ilock(w, cpu, ip)
	ip.Links = 2
	if err := fs.Iupdate(w, cpu, ip); err != 0 {
		fs.IunlockPut(w, cpu, ip)
		fs.IunlockPut(w, cpu, dp)
		return nil, err
	}
	if err := fs.Dirlink(w, cpu, ip, ".", ip.Inum, FtDir); err != 0 {
		fs.IunlockPut(w, cpu, ip)
		fs.IunlockPut(w, cpu, dp)
		return nil, err
	}
	if err := fs.Dirlink(w, cpu, ip, "..", dp.Inum, FtDir); err != 0 {
		fs.IunlockPut(w, cpu, ip)
		fs.IunlockPut(w, cpu, dp)
		return nil, err
	}
	if err := fs.Dirlink(w, cpu, dp, name, ip.Inum, FtDir); err != 0 {
		fs.IunlockPut(w, cpu, ip)
		fs.IunlockPut(w, cpu, dp)
		return nil, err
	}
	dp.Links++
	if err := fs.Iupdate(w, cpu, dp); err != 0 {
		fs.IunlockPut(w, cpu, ip)
		fs.IunlockPut(w, cpu, dp)
		return nil, err
	}
	fs.IunlockPut(w, cpu, dp)
	return ip, 0
}

// Mknod creates a character-device inode at path with the given major
// and minor numbers (spec.md §6: "mknod: (path, major, minor) -> 0").
func (fs *FS_t) Mknod(w lock.Waiter, cpu *lock.Cpu_t, path string, cwd *Inode_t, major, minor int) (*Inode_t, defs.Err_t) {
	dp, name, err := fs.NameiParent(w, cpu, path, cwd)
	if err != 0 {
		return nil, err
	}
	if existing, _, err := fs.Dirlookup(w, cpu, dp, name); err == 0 {
		fs.IunlockPut(w, cpu, existing)
		fs.IunlockPut(w, cpu, dp)
		return nil, -defs.EEXIST
	}

	ip, err := fs.Ialloc(w, cpu, defs.S_IFCHR)
	if err != 0 {
		fs.IunlockPut(w, cpu, dp)
		return nil, err
	}
	fs.Ilock(w, cpu, ip)
	ip.Links = 1
	ip.Major = major
	ip.Minor = minor
	if err := fs.Iupdate(w, cpu, ip); err != 0 {
		fs.IunlockPut(w, cpu, ip)
		fs.IunlockPut(w, cpu, dp)
		return nil, err
	}
	if err := fs.Dirlink(w, cpu, dp, name, ip.Inum, FtChr); err != 0 {
		fs.IunlockPut(w, cpu, ip)
		fs.IunlockPut(w, cpu, dp)
		return nil, err
	}
	fs.IunlockPut(w, cpu, dp)
	return ip, 0
}

// clearDirent zeroes the inode field of the directory entry header
// starting at byte offset off within dp, freeing the slot for reuse
// by a later Dirlink while leaving its rec_len intact as a free-space
// marker (spec.md §4.5).
func (fs *FS_t) clearDirent(w lock.Waiter, cpu *lock.Cpu_t, dp *Inode_t, off int) defs.Err_t {
	blockOff := (off / BSIZE) * BSIZE
	pos := off % BSIZE
	buf := make([]byte, BSIZE)
	if _, err := fs.Readi(w, cpu, dp, buf, blockOff); err != 0 {
		return err
	}
	util.Writen32(buf, pos+deInode, 0)
	return fs.writeDirBlock(w, cpu, dp, blockOff, buf)
}

// Unlink removes name's entry from its parent directory, decrementing
// the target's link count (and, for a directory target, the parent's
// link count too). Fails on a non-empty directory (spec.md §6:
// "unlink: fails on non-empty dirs").
func (fs *FS_t) Unlink(w lock.Waiter, cpu *lock.Cpu_t, path string, cwd *Inode_t) defs.Err_t {
	dp, name, err := fs.NameiParent(w, cpu, path, cwd)
	if err != 0 {
		return err
	}
	if name == "." || name == ".." {
		fs.IunlockPut(w, cpu, dp)
		return -defs.EINVAL
	}

	ip, off, err := fs.Dirlookup(w, cpu, dp, name)
	if err != 0 {
		fs.IunlockPut(w, cpu, dp)
		return err
	}
	fs.Ilock(w, cpu, ip)

	if ip.Mode&defs.S_IFDIR != 0 {
		empty, err := fs.IsDirEmpty(w, cpu, ip)
		if err != 0 {
			fs.IunlockPut(w, cpu, ip)
			fs.IunlockPut(w, cpu, dp)
			return err
		}
		if !empty {
			fs.IunlockPut(w, cpu, ip)
			fs.IunlockPut(w, cpu, dp)
			return -defs.ENOTEMPTY
		}
	}

	if err := fs.clearDirent(w, cpu, dp, off); err != 0 {
		fs.IunlockPut(w, cpu, ip)
		fs.IunlockPut(w, cpu, dp)
		return err
	}
	if ip.Mode&defs.S_IFDIR != 0 {
		dp.Links--
		fs.Iupdate(w, cpu, dp)
	}
	ip.Links--
	fs.Iupdate(w, cpu, ip)
	fs.IunlockPut(w, cpu, ip)
	fs.IunlockPut(w, cpu, dp)
	return 0
}

// Link creates a new directory entry newpath referring to the same
// inode as oldpath, restricted to regular files (spec.md §6: "link:
// files only").
func (fs *FS_t) Link(w lock.Waiter, cpu *lock.Cpu_t, oldpath, newpath string, cwd *Inode_t) defs.Err_t {
	ip, err := fs.Namei(w, cpu, oldpath, cwd)
	if err != 0 {
		return err
	}
	fs.Ilock(w, cpu, ip)
	if ip.Mode&defs.S_IFDIR != 0 {
		fs.IunlockPut(w, cpu, ip)
		return -defs.EPERM
	}
	ip.Links++
	fs.Iupdate(w, cpu, ip)
	fs.Iunlock(w, cpu, ip)

	dp, name, err := fs.NameiParent(w, cpu, newpath, cwd)
	if err != 0 {
		fs.Ilock(w, cpu, ip)
		ip.Links--
		fs.Iupdate(w, cpu, ip)
		fs.IunlockPut(w, cpu, ip)
		return err
	}
	if err := fs.Dirlink(w, cpu, dp, name, ip.Inum, FtReg); err != 0 {
		fs.IunlockPut(w, cpu, dp)
		fs.Ilock(w, cpu, ip)
		ip.Links--
		fs.Iupdate(w, cpu, ip)
		fs.IunlockPut(w, cpu, ip)
		return err
	}
	fs.IunlockPut(w, cpu, dp)
	fs.Iput(w, cpu, ip)
	return 0
}
