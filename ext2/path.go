package ext2

import (
	"mpk/defs"
	"mpk/lock"
	"mpk/ustr"
)

// namex is the shared path-walk behind Namei and NameiParent (spec.md
// §4.5, "Path resolution"). Absolute paths start at the filesystem
// root; relative paths start at cwd. At each step the parent directory
// is locked, the next component looked up, and the lock released in
// favor of the child — except on the final component of a
// nameiparent walk, where the parent is returned still locked (the
// unified contract recorded in DESIGN.md's open-question decisions:
// NameiParent callers need the parent locked to perform their
// directory mutation without a second Ilock/Dirlookup round trip).
func (fs *FS_t) namex(w lock.Waiter, cpu *lock.Cpu_t, path string, cwd *Inode_t, nameiparent bool) (*Inode_t, string, defs.Err_t) {
	var ip *Inode_t
	if len(path) > 0 && path[0] == '/' {
		got, err := fs.Iget(cpu, fs.DevID, fs.RootInum)
		if err != 0 {
			return nil, "", err
		}
		ip = got
	} else {
		ip = fs.Idup(cpu, cwd)
	}

	comps := ustr.Ustr(path).Components()
	if len(comps) == 0 {
		if nameiparent {
			fs.Iput(w, cpu, ip)
			return nil, "", -defs.EINVAL
		}
		return ip, "", 0
	}

	for i, comp := range comps {
		if len(comp) > MaxName {
			fs.Iput(w, cpu, ip)
			return nil, "", -defs.ENAMETOOLONG
		}
		fs.Ilock(w, cpu, ip)
		if ip.Mode&defs.S_IFDIR == 0 {
			fs.IunlockPut(w, cpu, ip)
			return nil, "", -defs.ENOTDIR
		}
		last := i == len(comps)-1
		if nameiparent && last {
			return ip, comp, 0
		}
		next, _, err := fs.Dirlookup(w, cpu, ip, comp)
		fs.Iunlock(w, cpu, ip)
		if err != 0 {
			fs.Iput(w, cpu, ip)
			return nil, "", err
		}
		fs.Iput(w, cpu, ip)
		ip = next
	}
	return ip, "", 0
}

// Namei resolves path to an inode, returned unlocked (one reference
// held). Callers must Ilock it themselves before reading its fields.
func (fs *FS_t) Namei(w lock.Waiter, cpu *lock.Cpu_t, path string, cwd *Inode_t) (*Inode_t, defs.Err_t) {
	ip, _, err := fs.namex(w, cpu, path, cwd, false)
	return ip, err
}

// NameiParent resolves path down to its parent directory, returning it
// locked together with the unresolved final component name. Used by
// create/unlink/link, which mutate the parent's directory contents
// directly. Callers must Iunlock (or IunlockPut) the parent themselves.
func (fs *FS_t) NameiParent(w lock.Waiter, cpu *lock.Cpu_t, path string, cwd *Inode_t) (*Inode_t, string, defs.Err_t) {
	return fs.namex(w, cpu, path, cwd, true)
}
