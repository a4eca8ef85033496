// Command mkfs builds an ext2 image from a host directory tree,
// mirroring _teacher/mkfs/mkfs.go's copydata/addfiles walk but against
// this module's own ext2 package instead of Biscuit's ufs. spec.md
// itself lists "the mkfs tool" among the kernel's out-of-scope
// external collaborators ("treated as external collaborators with
// defined interfaces only"); this command is that collaborator, built
// against ext2.Format/Create/Mkdir/Mknod the same way a second,
// independent program would be.
package main

import (
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"mpk/buf"
	"mpk/defs"
	"mpk/disk"
	"mpk/ext2"
	"mpk/lock"
)

// bootWaiter is the synthetic lock.Waiter this single-threaded tool
// passes to every ext2 call: mkfs never contends a sleeplock against
// itself, so Sleep should never actually be invoked, and does so
// panicking rather than silently deadlocking if that invariant breaks.
type bootWaiter struct{}

func (bootWaiter) ID() int { return -1 }
func (bootWaiter) Sleep(chankey uintptr, cpu *lock.Cpu_t, l *lock.Spinlock_t) {
	panic("mkfs: unexpected contention building a fresh image")
}
func (bootWaiter) Wakeup(chankey uintptr) {}
func (bootWaiter) Killed() bool { return false }

const (
	nblocks = 8192
	ninodes = 1024
)

func main() {
	var image, skelDir string
	flag.StringVar(&image, "image", "", "path to the ext2 image to create")
	flag.StringVar(&skelDir, "root", "", "host directory tree to copy into the image")
	flag.Parse()

	if image == "" {
		fmt.Fprintln(os.Stderr, "mkfs: -image is required")
		os.Exit(1)
	}

	if err := os.Remove(image); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "mkfs: %v\n", err)
		os.Exit(1)
	}
	dev, err := disk.OpenFile(image, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: %v\n", err)
		os.Exit(1)
	}
	if err := dev.Truncate(nblocks); err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: %v\n", err)
		os.Exit(1)
	}
	if err := ext2.Format(dev, nblocks, ninodes); err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: format: %v\n", err)
		os.Exit(1)
	}
	if err := dev.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: %v\n", err)
		os.Exit(1)
	}

	dev, err = disk.OpenFile(image, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: %v\n", err)
		os.Exit(1)
	}
	defer dev.Close()

	bufs := buf.NewCache(dev, 0, 256)
	w := bootWaiter{}
	cpu := &lock.Cpu_t{ID: -1}

	volume, errt := ext2.Mount(bufs, 0, w, cpu)
	if errt != 0 {
		fmt.Fprintf(os.Stderr, "mkfs: mount: %d\n", errt)
		os.Exit(1)
	}

	root, errt := volume.Iget(cpu, 0, ext2.RootIno)
	if errt != 0 {
		fmt.Fprintf(os.Stderr, "mkfs: root lookup: %d\n", errt)
		os.Exit(1)
	}

	mkEtc(volume, w, cpu, root)

	if skelDir != "" {
		addFiles(volume, w, cpu, root, skelDir)
	}

	volume.Iput(w, cpu, root)
}

// mkEtc creates /etc, /etc/devtab (recording the console device per
// spec.md §6: "the device console must appear as 9 char 1 1"), and the
// /dev/console node itself.
func mkEtc(volume *ext2.FS_t, w lock.Waiter, cpu *lock.Cpu_t, root *ext2.Inode_t) {
	mkdir(volume, w, cpu, root, "/etc")
	mkdir(volume, w, cpu, root, "/dev")

	console, errt := volume.Mknod(w, cpu, "/dev/console", root, defs.D_CONSOLE, 1)
	if errt != 0 {
		fmt.Fprintf(os.Stderr, "mkfs: mknod /dev/console: %d\n", errt)
		os.Exit(1)
	}
	consoleInum := console.Inum
	volume.IunlockPut(w, cpu, console)

	devtab, errt := volume.Create(w, cpu, "/etc/devtab", root, uint16(defs.S_IFREG|0644))
	if errt != 0 {
		fmt.Fprintf(os.Stderr, "mkfs: create /etc/devtab: %d\n", errt)
		os.Exit(1)
	}
	line := fmt.Sprintf("%d char %d %d\n", consoleInum, defs.D_CONSOLE, 1)
	if _, errt := volume.Writei(w, cpu, devtab, []byte(line), 0); errt != 0 {
		fmt.Fprintf(os.Stderr, "mkfs: write /etc/devtab: %d\n", errt)
		os.Exit(1)
	}
	volume.IunlockPut(w, cpu, devtab)
}

// mkdir creates path as a directory and releases it, tolerating an
// already-existing entry (skelDir walks may revisit a directory mkfs
// itself already created, e.g. /dev or /etc).
func mkdir(volume *ext2.FS_t, w lock.Waiter, cpu *lock.Cpu_t, root *ext2.Inode_t, path string) {
	ip, errt := volume.Mkdir(w, cpu, path, root)
	if errt != 0 {
		if errt != -defs.EEXIST {
			fmt.Fprintf(os.Stderr, "mkfs: mkdir %s: %d\n", path, errt)
		}
		return
	}
	volume.IunlockPut(w, cpu, ip)
}

// addFiles walks skelDir on the host and replicates its contents into
// the image, the same directory-tree copy _teacher/mkfs/mkfs.go's
// addfiles/copydata perform against ufs.Ufs_t.
func addFiles(volume *ext2.FS_t, w lock.Waiter, cpu *lock.Cpu_t, root *ext2.Inode_t, skelDir string) {
	err := filepath.WalkDir(skelDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(path, skelDir)
		if rel == "" {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, "/") {
			rel = "/" + rel
		}

		if d.IsDir() {
			mkdir(volume, w, cpu, root, rel)
			return nil
		}

		ip, errt := volume.Create(w, cpu, rel, root, uint16(defs.S_IFREG|0644))
		if errt != 0 {
			fmt.Fprintf(os.Stderr, "mkfs: create %s: %d\n", rel, errt)
			return nil
		}
		copyData(volume, w, cpu, ip, path)
		volume.IunlockPut(w, cpu, ip)
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: walk %s: %v\n", skelDir, err)
		os.Exit(1)
	}
}

// copyData streams src's contents from the host into ip.
func copyData(volume *ext2.FS_t, w lock.Waiter, cpu *lock.Cpu_t, ip *ext2.Inode_t, src string) {
	f, err := os.Open(src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: open %s: %v\n", src, err)
		return
	}
	defer f.Close()

	chunk := make([]byte, ext2.BSIZE)
	off := 0
	for {
		n, rerr := f.Read(chunk)
		if n > 0 {
			if _, errt := volume.Writei(w, cpu, ip, chunk[:n], off); errt != 0 {
				fmt.Fprintf(os.Stderr, "mkfs: write %s: %d\n", src, errt)
				return
			}
			off += n
		}
		if rerr == io.EOF {
			return
		}
		if rerr != nil {
			fmt.Fprintf(os.Stderr, "mkfs: read %s: %v\n", src, rerr)
			return
		}
	}
}
