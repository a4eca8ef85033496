package ext2

import (
	"mpk/defs"
	"mpk/lock"
	"mpk/stat"
	"mpk/util"
)

// CharDevice is the narrow interface a character-device driver (the
// console, for instance) registers under a major number so that
// device inodes can dispatch to it (spec.md §4.5: "Device inodes
// dispatch to the registered driver by major number rather than
// touching blocks").
type CharDevice interface {
	Read(w lock.Waiter, cpu *lock.Cpu_t, dst []byte) (int, defs.Err_t)
	Write(w lock.Waiter, cpu *lock.Cpu_t, src []byte) (int, defs.Err_t)
}

// RegisterDevice installs dev as the driver for the given major
// number, guarded by FS_t's device-table lock. cmd/kernel calls it at
// boot for the console and the profiling device.
func (fs *FS_t) RegisterDevice(cpu *lock.Cpu_t, major int, dev CharDevice) {
	fs.DevTabLock.Acquire(cpu)
	if fs.charDevices == nil {
		fs.charDevices = make(map[int]CharDevice)
	}
	fs.charDevices[major] = dev
	fs.DevTabLock.Release(cpu)
}

func (fs *FS_t) device(cpu *lock.Cpu_t, major int) (CharDevice, bool) {
	fs.DevTabLock.Acquire(cpu)
	defer fs.DevTabLock.Release(cpu)
	dev, ok := fs.charDevices[major]
	return dev, ok
}

// Readi reads up to len(dst) bytes starting at byte offset off of ip
// into dst, returning the number of bytes actually read (spec.md
// §4.5, "Read/Write"). Caller must hold ip's sleeplock.
func (fs *FS_t) Readi(w lock.Waiter, cpu *lock.Cpu_t, ip *Inode_t, dst []byte, off int) (int, defs.Err_t) {
	if (ip.Mode & defs.S_IFCHR) == defs.S_IFCHR {
		dev, ok := fs.device(cpu, ip.Major)
		if !ok {
			return 0, -defs.ENODEV
		}
		return dev.Read(w, cpu, dst)
	}
	if off < 0 || off > ip.Size {
		return 0, -defs.EINVAL
	}
	n := len(dst)
	if off+n > ip.Size {
		n = ip.Size - off
	}
	total := 0
	for total < n {
		bn := (off + total) / BSIZE
		boff := (off + total) % BSIZE
		blockno, err := fs.Bmap(w, cpu, ip, bn)
		if err != 0 {
			return total, err
		}
		b, err := fs.bread(w, cpu, blockno)
		if err != 0 {
			return total, err
		}
		m := util.Min(BSIZE-boff, n-total)
		copy(dst[total:total+m], b.Data[boff:boff+m])
		fs.brelse(b, w, cpu)
		total += m
	}
	return total, 0
}

// Writei writes len(src) bytes to ip starting at byte offset off,
// extending the file and updating its on-disk size if the write
// crosses the prior end (spec.md §4.5: "extends size if the write
// crossed the end, and updates the inode on size change"). There is
// no log layer: every block touched is written through immediately.
// Caller must hold ip's sleeplock.
func (fs *FS_t) Writei(w lock.Waiter, cpu *lock.Cpu_t, ip *Inode_t, src []byte, off int) (int, defs.Err_t) {
	if (ip.Mode & defs.S_IFCHR) == defs.S_IFCHR {
		dev, ok := fs.device(cpu, ip.Major)
		if !ok {
			return 0, -defs.ENODEV
		}
		return dev.Write(w, cpu, src)
	}
	if off < 0 {
		return 0, -defs.EINVAL
	}
	if off+len(src) > MaxFileBlocks*BSIZE {
		return 0, -defs.EINVAL
	}
	total := 0
	for total < len(src) {
		bn := (off + total) / BSIZE
		boff := (off + total) % BSIZE
		blockno, err := fs.Bmap(w, cpu, ip, bn)
		if err != 0 {
			return total, err
		}
		b, err := fs.bread(w, cpu, blockno)
		if err != 0 {
			return total, err
		}
		m := util.Min(BSIZE-boff, len(src)-total)
		copy(b.Data[boff:boff+m], src[total:total+m])
		err = fs.bwrite(b)
		fs.brelse(b, w, cpu)
		if err != 0 {
			return total, err
		}
		total += m
	}
	if off+total > ip.Size {
		ip.Size = off + total
	}
	if err := fs.Iupdate(w, cpu, ip); err != 0 {
		return total, err
	}
	return total, 0
}

// Stati fills st with ip's metadata, the backing implementation of the
// fstat syscall (spec.md §6).
func (fs *FS_t) Stati(ip *Inode_t, st *stat.Stat_t) {
	st.Wdev(uint(ip.Dev))
	st.Wino(uint(ip.Inum))
	st.Wmode(uint(ip.Mode))
	st.Wsize(uint(ip.Size))
	st.Wnlink(uint(ip.Links))
	st.Wmtime(uint(ip.Mtime))
	if (ip.Mode & defs.S_IFCHR) == defs.S_IFCHR {
		st.Wrdev(uint(defs.Mkdev(ip.Major, ip.Minor)))
	}
}
