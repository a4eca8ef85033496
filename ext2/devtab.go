package ext2

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"mpk/defs"
	"mpk/lock"
)

// DevtabPath is the fixed location of the device table, read once at
// mount time (spec.md §6: "the device console must appear as 9 char 1
// 1"). It is itself an ordinary file inside the volume just mounted.
const DevtabPath = "/etc/devtab"

// loadDevtab resolves /etc/devtab and parses its line-oriented records
// of the form "<inum> <class> <major> <minor>" into fs.devtab, keyed
// by inode number. A missing devtab is not an error: an early mkfs
// image may not have written one yet, and the root filesystem itself
// must mount before any device node can be looked up.
func (fs *FS_t) loadDevtab(w lock.Waiter, cpu *lock.Cpu_t) defs.Err_t {
	root, err := fs.Iget(cpu, fs.DevID, fs.RootInum)
	if err != 0 {
		return err
	}
	ip, err := fs.Namei(w, cpu, DevtabPath, root)
	fs.Iput(w, cpu, root)
	if err != 0 {
		if err == -defs.ENOENT {
			return 0
		}
		return err
	}

	fs.Ilock(w, cpu, ip)
	data := make([]byte, ip.Size)
	n, err := fs.Readi(w, cpu, ip, data, 0)
	fs.IunlockPut(w, cpu, ip)
	if err != 0 {
		return err
	}
	data = data[:n]

	fs.DevTabLock.Acquire(cpu)
	defer fs.DevTabLock.Release(cpu)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 4 {
			continue
		}
		inum, e1 := strconv.Atoi(fields[0])
		major, e2 := strconv.Atoi(fields[2])
		minor, e3 := strconv.Atoi(fields[3])
		if e1 != nil || e2 != nil || e3 != nil {
			continue
		}
		fs.devtab[inum] = DevEntry{Class: fields[1], Major: major, Minor: minor}
	}
	return 0
}

// DevtabLookup returns the parsed devtab record for inum, if any.
func (fs *FS_t) DevtabLookup(cpu *lock.Cpu_t, inum int) (DevEntry, bool) {
	fs.DevTabLock.Acquire(cpu)
	defer fs.DevTabLock.Release(cpu)
	e, ok := fs.devtab[inum]
	return e, ok
}
