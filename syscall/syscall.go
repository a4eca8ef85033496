// Package syscall implements the kernel's syscall surface (spec.md
// §4.9, §6): argument fetching from the user stack, a static dispatch
// table indexed by call number, and the twenty-one syscall bodies.
//
// Biscuit's own syscall.go (not retrieved for this pack — only its
// go.mod survived) threads a *Proc_t/trap frame through each body and
// validates every user pointer before touching it; this package keeps
// exactly that shape, fetching arguments through proc.Proc_t's Vm and
// Tf fields rather than Biscuit's direct per-hardware-CPU trap frame.
package syscall

import (
	"fmt"

	"mpk/defs"
	"mpk/elf"
	"mpk/ext2"
	"mpk/fd"
	"mpk/file"
	"mpk/lock"
	"mpk/pipe"
	"mpk/proc"
	"mpk/stat"
	"mpk/util"
	"mpk/vm"
)

// Kernel bundles the global, system-wide state every syscall body may
// need: the single mounted filesystem, the shared file table, and the
// process table. Passed explicitly rather than through package-level
// globals so tests can construct an isolated instance per case.
type Kernel struct {
	Fs    *ext2.FS_t
	Files *file.Table_t
	Procs *proc.Table_t

	// Ticks reports the current timer-tick count (package trap owns
	// the counter; wired here rather than imported directly to avoid
	// a syscall<->trap import cycle, since trap.Dispatch calls into
	// syscall.Dispatch for the syscall vector).
	Ticks func() uint64

	// TicksChanKey returns the wait-channel address trap's IRQTimer
	// case wakes on every tick, so sysSleep can park on the same
	// channel a real sleeper waits on (spec.md §4.10 sleep).
	TicksChanKey func() uintptr
}

type body func(k *Kernel, p *proc.Proc_t, cpu *lock.Cpu_t) int

var table = map[int]body{
	defs.SYS_FORK:   sysFork,
	defs.SYS_EXIT:   sysExit,
	defs.SYS_WAIT:   sysWait,
	defs.SYS_PIPE:   sysPipe,
	defs.SYS_READ:   sysRead,
	defs.SYS_KILL:   sysKill,
	defs.SYS_EXEC:   sysExec,
	defs.SYS_FSTAT:  sysFstat,
	defs.SYS_CHDIR:  sysChdir,
	defs.SYS_DUP:    sysDup,
	defs.SYS_GETPID: sysGetpid,
	defs.SYS_SBRK:   sysSbrk,
	defs.SYS_SLEEP:  sysSleep,
	defs.SYS_UPTIME: sysUptime,
	defs.SYS_OPEN:   sysOpen,
	defs.SYS_WRITE:  sysWrite,
	defs.SYS_MKNOD:  sysMknod,
	defs.SYS_UNLINK: sysUnlink,
	defs.SYS_LINK:   sysLink,
	defs.SYS_MKDIR:  sysMkdir,
	defs.SYS_CLOSE:  sysClose,
}

// Dispatch reads the call number out of p.Tf.Eax (spec.md §4.9: "the
// user invokes int T_SYSCALL with the call number in eax"), runs the
// matching body, and writes its return value back into Tf.Eax.
// Unknown numbers return -1 with a diagnostic, per spec.md §4.9.
func Dispatch(k *Kernel, p *proc.Proc_t, cpu *lock.Cpu_t) {
	sysno := p.Tf.Eax
	fn, ok := table[sysno]
	if !ok {
		fmt.Printf("%d %s: unknown sys call %d\n", p.Pid, p.Name, sysno)
		p.Tf.Eax = -1
		return
	}
	if p.Killed() {
		p.Tf.Eax = -1
		return
	}
	p.Tf.Eax = fn(k, p, cpu)
}

// argint fetches the n'th (0-indexed) int32 syscall argument, stored
// on the user stack starting just above the fake return address the
// syscall trampoline pushed (spec.md §4.9).
func argint(p *proc.Proc_t, n int) (int, defs.Err_t) {
	off := p.Tf.Esp + 4 + 4*n
	if !p.Vm.Bound(off, 4) {
		return 0, -defs.EFAULT
	}
	var b [4]byte
	if err := p.Vm.User2K(b[:], off); err != 0 {
		return 0, err
	}
	return int(int32(util.Readn32(b[:], 0))), 0
}

// argstr fetches the n'th argument as a user pointer, then copies a
// NUL-terminated string of at most max bytes from it.
func argstr(p *proc.Proc_t, n, max int) (string, defs.Err_t) {
	uva, err := argint(p, n)
	if err != 0 {
		return "", err
	}
	return p.Vm.UserStr(uva, max)
}

// argfd fetches the n'th argument as a file descriptor number,
// validating it names an open slot in p's descriptor table.
func argfd(p *proc.Proc_t, n int) (*fd.Fd_t, int, defs.Err_t) {
	fdno, err := argint(p, n)
	if err != 0 {
		return nil, 0, err
	}
	if fdno < 0 || fdno >= proc.NOFILE || p.Fds[fdno] == nil {
		return nil, 0, -defs.EBADF
	}
	return p.Fds[fdno], fdno, 0
}

// fdalloc installs f in the first free slot of p's descriptor table.
func fdalloc(p *proc.Proc_t, f *fd.Fd_t) (int, defs.Err_t) {
	for i := range p.Fds {
		if p.Fds[i] == nil {
			p.Fds[i] = f
			return i, 0
		}
	}
	return 0, -defs.EMFILE
}

const maxPath = 256

func sysFork(k *Kernel, p *proc.Proc_t, cpu *lock.Cpu_t) int {
	childEntry := p.NextChildEntry
	if childEntry == nil {
		childEntry = p.Entry()
	}
	child, err := k.Procs.Fork(p, cpu, childEntry)
	if err != 0 {
		return int(err)
	}
	return child.Pid
}

func sysExit(k *Kernel, p *proc.Proc_t, cpu *lock.Cpu_t) int {
	status, _ := argint(p, 0)
	k.Procs.Exit(p, cpu, status)
	return 0
}

func sysWait(k *Kernel, p *proc.Proc_t, cpu *lock.Cpu_t) int {
	pid, _, err := k.Procs.Wait(p, cpu)
	if err != 0 {
		return int(err)
	}
	return pid
}

func sysPipe(k *Kernel, p *proc.Proc_t, cpu *lock.Cpu_t) int {
	uva, err := argint(p, 0)
	if err != 0 {
		return int(err)
	}
	if !p.Vm.Bound(uva, 8) {
		return int(-defs.EFAULT)
	}
	pp := pipe.MkPipe()

	rf, err := k.Files.Filealloc(cpu)
	if err != 0 {
		return int(err)
	}
	rf.Type = file.FD_PIPE
	rf.Pipe = pp
	rf.Readable = true

	wf, err := k.Files.Filealloc(cpu)
	if err != 0 {
		k.Files.Fileclose(p, cpu, rf)
		return int(err)
	}
	wf.Type = file.FD_PIPE
	wf.Pipe = pp
	wf.Writable = true

	rfd, err := fdalloc(p, &fd.Fd_t{Fops: &file.Handle{F: rf, T: k.Files}, Perms: fd.FD_READ})
	if err != 0 {
		k.Files.Fileclose(p, cpu, rf)
		k.Files.Fileclose(p, cpu, wf)
		return int(err)
	}
	wfd, err := fdalloc(p, &fd.Fd_t{Fops: &file.Handle{F: wf, T: k.Files}, Perms: fd.FD_WRITE})
	if err != 0 {
		p.Fds[rfd] = nil
		k.Files.Fileclose(p, cpu, rf)
		k.Files.Fileclose(p, cpu, wf)
		return int(err)
	}

	var fds [8]byte
	util.Writen32(fds[:], 0, uint32(rfd))
	util.Writen32(fds[:], 4, uint32(wfd))
	if err := p.Vm.K2User(fds[:], uva); err != 0 {
		return int(err)
	}
	return 0
}

func sysRead(k *Kernel, p *proc.Proc_t, cpu *lock.Cpu_t) int {
	fdp, _, err := argfd(p, 0)
	if err != 0 {
		return int(err)
	}
	uva, err := argint(p, 1)
	if err != 0 {
		return int(err)
	}
	n, err := argint(p, 2)
	if err != 0 {
		return int(err)
	}
	if n < 0 || !p.Vm.Bound(uva, n) {
		return int(-defs.EFAULT)
	}
	buf := make([]byte, n)
	got, err := fdp.Fops.Read(p, cpu, buf)
	if err != 0 {
		return int(err)
	}
	if werr := p.Vm.K2User(buf[:got], uva); werr != 0 {
		return int(werr)
	}
	return got
}

func sysWrite(k *Kernel, p *proc.Proc_t, cpu *lock.Cpu_t) int {
	fdp, _, err := argfd(p, 0)
	if err != 0 {
		return int(err)
	}
	uva, err := argint(p, 1)
	if err != 0 {
		return int(err)
	}
	n, err := argint(p, 2)
	if err != 0 {
		return int(err)
	}
	if n < 0 || !p.Vm.Bound(uva, n) {
		return int(-defs.EFAULT)
	}
	buf := make([]byte, n)
	if rerr := p.Vm.User2K(buf, uva); rerr != 0 {
		return int(rerr)
	}
	put, err := fdp.Fops.Write(p, cpu, buf)
	if err != 0 {
		return int(err)
	}
	return put
}

func sysKill(k *Kernel, p *proc.Proc_t, cpu *lock.Cpu_t) int {
	pid, err := argint(p, 0)
	if err != 0 {
		return int(err)
	}
	return int(k.Procs.Kill(cpu, pid))
}

// maxExecArgs bounds how many argv pointers sysExec reads out of the
// user-supplied array before giving up, mirroring argstr/argint's own
// fixed bound on untrusted input.
const maxExecArgs = 32

// sysExec implements spec.md §4.10's exec: build a brand new address
// space from the named file via package elf, and on success swap it
// in for the caller's own. There is no trap-frame instruction pointer
// to redirect here (Proc_t's Entry is the Go closure already running,
// not a machine address) — Tf.Esp is updated so any further argument
// fetch against the new image's stack lands in the right place, and a
// successful exec reports 0 rather than the entry address, the same
// "never returns to its caller in spirit" contract real exec(2) has.
func sysExec(k *Kernel, p *proc.Proc_t, cpu *lock.Cpu_t) int {
	path, err := argstr(p, 0, maxPath)
	if err != 0 {
		return int(err)
	}
	uargv, err := argint(p, 1)
	if err != 0 {
		return int(err)
	}

	var argv []string
	for i := 0; i < maxExecArgs; i++ {
		var ptr [4]byte
		if rerr := p.Vm.User2K(ptr[:], uargv+4*i); rerr != 0 {
			return int(rerr)
		}
		uva := int(util.Readn32(ptr[:], 0))
		if uva == 0 {
			break
		}
		s, serr := p.Vm.UserStr(uva, maxPath)
		if serr != 0 {
			return int(serr)
		}
		argv = append(argv, s)
	}

	ip, err := k.Fs.Namei(p, cpu, path, p.Cwd.Dir)
	if err != 0 {
		return int(err)
	}

	nvm := vm.NewVm(p.Vm.Allocator())
	img, lerr := elf.Load(p, cpu, k.Fs, ip, nvm, argv)
	k.Fs.Iput(p, cpu, ip)
	if lerr != 0 {
		nvm.Uvmfree()
		return int(lerr)
	}

	old := p.Vm
	p.Vm = nvm
	p.Tf.Esp = img.Sp
	old.Uvmfree()
	return 0
}

func sysFstat(k *Kernel, p *proc.Proc_t, cpu *lock.Cpu_t) int {
	fdp, _, err := argfd(p, 0)
	if err != 0 {
		return int(err)
	}
	uva, err := argint(p, 1)
	if err != 0 {
		return int(err)
	}
	if !p.Vm.Bound(uva, stat.Len) {
		return int(-defs.EFAULT)
	}
	var st stat.Stat_t
	if serr := fdp.Fops.Fstat(p, cpu, &st); serr != 0 {
		return int(serr)
	}
	if werr := p.Vm.K2User(st.Bytes(), uva); werr != 0 {
		return int(werr)
	}
	return 0
}

func sysChdir(k *Kernel, p *proc.Proc_t, cpu *lock.Cpu_t) int {
	path, err := argstr(p, 0, maxPath)
	if err != 0 {
		return int(err)
	}
	ip, err := k.Fs.Namei(p, cpu, path, p.Cwd.Dir)
	if err != 0 {
		return int(err)
	}
	k.Fs.Ilock(p, cpu, ip)
	if ip.Mode&defs.S_IFDIR == 0 {
		k.Fs.IunlockPut(p, cpu, ip)
		return int(-defs.ENOTDIR)
	}
	k.Fs.Iunlock(p, cpu, ip)
	old := p.Cwd.Chdir(ip)
	k.Fs.Iput(p, cpu, old)
	return 0
}

func sysDup(k *Kernel, p *proc.Proc_t, cpu *lock.Cpu_t) int {
	f, _, err := argfd(p, 0)
	if err != 0 {
		return int(err)
	}
	nf, derr := fd.Copyfd(f, cpu)
	if derr != 0 {
		return int(derr)
	}
	nfdno, aerr := fdalloc(p, nf)
	if aerr != 0 {
		fd.Close_panic(nf, p, cpu)
		return int(aerr)
	}
	return nfdno
}

func sysGetpid(k *Kernel, p *proc.Proc_t, cpu *lock.Cpu_t) int {
	return p.Pid
}

func sysSbrk(k *Kernel, p *proc.Proc_t, cpu *lock.Cpu_t) int {
	n, err := argint(p, 0)
	if err != 0 {
		return int(err)
	}
	old := p.Vm.Size
	if n >= 0 {
		if _, aerr := p.Vm.AllocUvm(old, old+n); aerr != 0 {
			return int(aerr)
		}
	} else {
		p.Vm.DeallocUvm(old, old+n)
	}
	return old
}

// sysSleep blocks p until n ticks have elapsed or p is killed, waking
// on the same channel trap's IRQTimer case signals every tick (spec.md
// §4.10 sleep, §5.3 "killed is... observed at every wake-up inside
// pipe read, wait, and sleep").
func sysSleep(k *Kernel, p *proc.Proc_t, cpu *lock.Cpu_t) int {
	n, err := argint(p, 0)
	if err != 0 {
		return int(err)
	}
	if p.Killed() {
		return -1
	}
	if n <= 0 || k.Ticks == nil || k.TicksChanKey == nil {
		return 0
	}
	target := k.Ticks() + uint64(n)
	k.Procs.Lock.Acquire(cpu)
	for k.Ticks() < target && !p.Killed() {
		p.Sleep(k.TicksChanKey(), cpu, k.Procs.Lock)
	}
	k.Procs.Lock.Release(cpu)
	if p.Killed() {
		return -1
	}
	return 0
}

func sysUptime(k *Kernel, p *proc.Proc_t, cpu *lock.Cpu_t) int {
	if k.Ticks == nil {
		return 0
	}
	return int(k.Ticks())
}

func sysOpen(k *Kernel, p *proc.Proc_t, cpu *lock.Cpu_t) int {
	path, err := argstr(p, 0, maxPath)
	if err != 0 {
		return int(err)
	}
	flags, err := argint(p, 1)
	if err != 0 {
		return int(err)
	}

	var ip *ext2.Inode_t
	if flags&defs.O_CREAT != 0 {
		ip, err = k.Fs.Create(p, cpu, path, p.Cwd.Dir, uint16(defs.S_IFREG|0666))
	} else {
		ip, err = k.Fs.Namei(p, cpu, path, p.Cwd.Dir)
	}
	if err != 0 {
		return int(err)
	}

	k.Fs.Ilock(p, cpu, ip)
	if ip.Mode&defs.S_IFDIR != 0 && flags != defs.O_RDONLY {
		k.Fs.IunlockPut(p, cpu, ip)
		return int(-defs.EISDIR)
	}

	f, ferr := k.Files.Filealloc(cpu)
	if ferr != 0 {
		k.Fs.IunlockPut(p, cpu, ip)
		return int(ferr)
	}
	f.Type = file.FD_INODE
	f.Fs = k.Fs
	f.Ino = ip
	f.Readable = flags&defs.O_WRONLY == 0
	f.Iwritable = flags&defs.O_WRONLY != 0 || flags&defs.O_RDWR != 0
	if flags&defs.O_TRUNC != 0 {
		if terr := k.Fs.Truncate(p, cpu, ip); terr != 0 {
			k.Fs.IunlockPut(p, cpu, ip)
			k.Files.Fileclose(p, cpu, f)
			return int(terr)
		}
	}
	if flags&defs.O_APPEND != 0 {
		f.Off = ip.Size
	}
	k.Fs.Iunlock(p, cpu, ip)

	fdno, aerr := fdalloc(p, &fd.Fd_t{Fops: &file.Handle{F: f, T: k.Files}, Perms: permsFor(flags)})
	if aerr != 0 {
		k.Files.Fileclose(p, cpu, f)
		return int(aerr)
	}
	return fdno
}

func permsFor(flags int) int {
	perms := 0
	if flags&defs.O_WRONLY == 0 {
		perms |= fd.FD_READ
	}
	if flags&defs.O_WRONLY != 0 || flags&defs.O_RDWR != 0 {
		perms |= fd.FD_WRITE
	}
	return perms
}

func sysMknod(k *Kernel, p *proc.Proc_t, cpu *lock.Cpu_t) int {
	path, err := argstr(p, 0, maxPath)
	if err != 0 {
		return int(err)
	}
	major, err := argint(p, 1)
	if err != 0 {
		return int(err)
	}
	minor, err := argint(p, 2)
	if err != 0 {
		return int(err)
	}
	ip, merr := k.Fs.Mknod(p, cpu, path, p.Cwd.Dir, major, minor)
	if merr != 0 {
		return int(merr)
	}
	k.Fs.Iput(p, cpu, ip)
	return 0
}

func sysUnlink(k *Kernel, p *proc.Proc_t, cpu *lock.Cpu_t) int {
	path, err := argstr(p, 0, maxPath)
	if err != 0 {
		return int(err)
	}
	return int(k.Fs.Unlink(p, cpu, path, p.Cwd.Dir))
}

func sysLink(k *Kernel, p *proc.Proc_t, cpu *lock.Cpu_t) int {
	oldpath, err := argstr(p, 0, maxPath)
	if err != 0 {
		return int(err)
	}
	newpath, err := argstr(p, 1, maxPath)
	if err != 0 {
		return int(err)
	}
	return int(k.Fs.Link(p, cpu, oldpath, newpath, p.Cwd.Dir))
}

func sysMkdir(k *Kernel, p *proc.Proc_t, cpu *lock.Cpu_t) int {
	path, err := argstr(p, 0, maxPath)
	if err != 0 {
		return int(err)
	}
	ip, merr := k.Fs.Mkdir(p, cpu, path, p.Cwd.Dir)
	if merr != 0 {
		return int(merr)
	}
	k.Fs.Iput(p, cpu, ip)
	return 0
}

func sysClose(k *Kernel, p *proc.Proc_t, cpu *lock.Cpu_t) int {
	f, fdno, err := argfd(p, 0)
	if err != 0 {
		return int(err)
	}
	p.Fds[fdno] = nil
	return int(f.Fops.Close(p, cpu))
}
