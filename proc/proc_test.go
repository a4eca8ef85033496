package proc_test

import (
	"fmt"
	"testing"
	"time"

	"mpk/lock"
	"mpk/mem"
	"mpk/proc"
	"mpk/vm"
)

func newTestVm() *vm.Vm_t {
	a := mem.NewAllocator(4)
	a.Init(0)
	a.Phase2Init()
	return vm.NewVm(a)
}

// TestWaitWithNoChildrenReturnsECHILD exercises the no-sleep-needed
// path of Wait directly: a process with no children observes -ECHILD
// immediately, never parking.
func TestWaitWithNoChildrenReturnsECHILD(t *testing.T) {
	procs := proc.MkTable()
	cpu := &lock.Cpu_t{ID: 0}
	done := make(chan error, 1)

	entry := func(p *proc.Proc_t, forkRet int) {
		_, _, err := procs.Wait(p, p.Cpu())
		if err == 0 {
			done <- fmt.Errorf("Wait succeeded with no children")
			return
		}
		done <- nil
	}
	procs.StartInit("init", nil, newTestVm(), entry)
	go procs.SchedulerLoop(cpu)

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("entry never completed")
	}
}

// TestForkWaitExitSingleChild exercises one full fork -> child exit ->
// parent Wait round trip, including the parent actually parking since
// the child has not run yet when Wait is first called.
func TestForkWaitExitSingleChild(t *testing.T) {
	procs := proc.MkTable()
	cpu := &lock.Cpu_t{ID: 0}
	done := make(chan error, 1)

	childEntry := func(cp *proc.Proc_t, forkRet int) {
		procs.Exit(cp, cp.Cpu(), 42)
	}

	entry := func(p *proc.Proc_t, forkRet int) {
		child, err := procs.Fork(p, p.Cpu(), childEntry)
		if err != 0 {
			done <- fmt.Errorf("Fork failed: %d", err)
			return
		}
		pid, status, werr := procs.Wait(p, p.Cpu())
		if werr != 0 {
			done <- fmt.Errorf("Wait failed: %d", werr)
			return
		}
		if pid != child.Pid {
			done <- fmt.Errorf("Wait returned pid %d, want %d", pid, child.Pid)
			return
		}
		if status != 42 {
			done <- fmt.Errorf("Wait returned status %d, want 42", status)
			return
		}
		if _, _, err := procs.Wait(p, p.Cpu()); err == 0 {
			done <- fmt.Errorf("second Wait succeeded after the only child was reaped")
			return
		}
		done <- nil
	}
	procs.StartInit("init", nil, newTestVm(), entry)
	go procs.SchedulerLoop(cpu)

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fork/wait/exit round trip never completed")
	}
}

// TestForkToTableExhaustionThenReapAll forks children until the
// process table is full, confirms the table reports exactly NPROC
// slots occupied, reaps every child through Wait, and confirms the
// table returns to holding just the parent (spec.md §4.10's NPROC
// bound and Wait/Exit's slot-freeing contract).
func TestForkToTableExhaustionThenReapAll(t *testing.T) {
	procs := proc.MkTable()
	cpu := &lock.Cpu_t{ID: 0}

	type result struct {
		forked, afterForkCount, reaped, afterReapCount int
		err                                            error
	}
	done := make(chan result, 1)

	childEntry := func(cp *proc.Proc_t, forkRet int) {
		procs.Exit(cp, cp.Cpu(), 7)
	}

	entry := func(p *proc.Proc_t, forkRet int) {
		var r result
		for {
			_, err := procs.Fork(p, p.Cpu(), childEntry)
			if err != 0 {
				break
			}
			r.forked++
		}
		r.afterForkCount = len(procs.Snapshot(p.Cpu()))

		for i := 0; i < r.forked; i++ {
			_, status, err := procs.Wait(p, p.Cpu())
			if err != 0 {
				r.err = fmt.Errorf("Wait failed after reaping %d: %d", r.reaped, err)
				break
			}
			if status != 7 {
				r.err = fmt.Errorf("reaped child status = %d, want 7", status)
				break
			}
			r.reaped++
		}
		r.afterReapCount = len(procs.Snapshot(p.Cpu()))
		done <- r
	}
	procs.StartInit("init", nil, newTestVm(), entry)
	go procs.SchedulerLoop(cpu)

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatal(r.err)
		}
		if r.forked != proc.NPROC-1 {
			t.Fatalf("forked %d children, want %d", r.forked, proc.NPROC-1)
		}
		if r.afterForkCount != proc.NPROC {
			t.Fatalf("table holds %d procs at exhaustion, want %d", r.afterForkCount, proc.NPROC)
		}
		if r.reaped != proc.NPROC-1 {
			t.Fatalf("reaped %d children, want %d", r.reaped, proc.NPROC-1)
		}
		if r.afterReapCount != 1 {
			t.Fatalf("table holds %d procs after reaping everything, want 1 (just init)", r.afterReapCount)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("fork-to-exhaustion/reap-all never completed")
	}
}

// TestKillWakesSleepingWaiter confirms Kill marks a SLEEPING process
// RUNNABLE so a blocked Wait with no zombie children observes -ECHILD
// rather than hanging forever (spec.md §5, "Cancellation").
func TestKillWakesSleepingWaiter(t *testing.T) {
	procs := proc.MkTable()
	cpu := &lock.Cpu_t{ID: 0}
	done := make(chan error, 1)

	// childEntry never exits on its own; it just keeps the process
	// table non-empty so the parent's Wait has a child to block on.
	// Since it never calls Exit, it stays in the table without ever
	// becoming a zombie.
	childEntry := func(cp *proc.Proc_t, forkRet int) {
		procs.Wait(cp, cp.Cpu()) // returns -ECHILD at once: it has no children
	}

	pidCh := make(chan int, 1)
	entry := func(p *proc.Proc_t, forkRet int) {
		pidCh <- p.Pid
		if _, err := procs.Fork(p, p.Cpu(), childEntry); err != 0 {
			done <- fmt.Errorf("Fork failed: %d", err)
			return
		}
		_, _, err := procs.Wait(p, p.Cpu())
		if err == 0 {
			done <- fmt.Errorf("Wait succeeded unexpectedly")
			return
		}
		done <- nil
	}
	procs.StartInit("init", nil, newTestVm(), entry)
	go procs.SchedulerLoop(cpu)

	parentPid := <-pidCh
	// Kill may race the parent reaching its own Wait/Sleep call; either
	// ordering is correct since Wait checks p.Killed() before sleeping
	// and Kill flips a SLEEPING process back to RUNNABLE so it rechecks.
	killCpu := &lock.Cpu_t{ID: 1}
	if err := procs.Kill(killCpu, parentPid); err != 0 {
		t.Fatalf("Kill failed: %d", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("killed waiter never woke")
	}
}
