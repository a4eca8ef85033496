package ext2

import (
	"mpk/defs"
	"mpk/lock"
)

// Iget returns the in-memory inode for (dev, inum), bumping its
// reference count, allocating a cache slot if this is the first
// reference (spec.md §4.5: "iget: return the existing entry or
// recycle an unused slot"). The returned inode is not locked and may
// not yet be VALID; call Ilock before reading its fields.
func (fs *FS_t) Iget(cpu *lock.Cpu_t, dev, inum int) (*Inode_t, defs.Err_t) {
	fs.icacheLock.Acquire(cpu)
	defer fs.icacheLock.Release(cpu)

	var empty *Inode_t
	for _, ip := range fs.inodes {
		if ip.ref > 0 && ip.Dev == dev && ip.Inum == inum {
			ip.ref++
			return ip, 0
		}
		if empty == nil && ip.ref == 0 {
			empty = ip
		}
	}
	if empty == nil {
		return nil, -defs.ENFILE
	}
	empty.Dev = dev
	empty.Inum = inum
	empty.ref = 1
	empty.valid = false
	return empty, 0
}

// idup increments ip's reference count, used when a second owner
// (e.g. a duplicated file descriptor, or a cwd reference) needs its
// own hold on an already-cached inode.
func (fs *FS_t) Idup(cpu *lock.Cpu_t, ip *Inode_t) *Inode_t {
	fs.icacheLock.Acquire(cpu)
	ip.ref++
	fs.icacheLock.Release(cpu)
	return ip
}
