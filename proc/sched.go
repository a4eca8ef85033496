package proc

import "mpk/lock"

// SchedulerLoop is one virtual CPU's scheduler (spec.md §4.10,
// "Scheduler"): repeatedly pick a RUNNABLE process, hand it the "CPU"
// by dispatching its fiber, and wait for the fiber to yield (sleep)
// or finish (exit). There is no timer-interrupt
// preemption here — spec.md's Non-goals exclude real multiprocessor
// timeslicing and this module models cooperative handoff through
// sleep/exit only, which is the only place Biscuit's own scheduler
// ever actually reschedules a CPU-bound kernel thread in this teaching
// kernel's scope.
//
// Call SchedulerLoop once per simulated CPU, each on its own
// goroutine; cpu distinguishes which Cpu_t's pushcli/popcli nesting
// this loop owns.
func (t *Table_t) SchedulerLoop(cpu *lock.Cpu_t) {
	for {
		t.Lock.Acquire(cpu)
		var next *Proc_t
		for _, c := range t.procs {
			if c != nil && c.State == RUNNABLE {
				next = c
				break
			}
		}
		if next == nil {
			t.Lock.Release(cpu)
			continue
		}
		next.State = RUNNING
		next.cpu = cpu
		t.Lock.Release(cpu)

		next.run <- 0
		<-next.done
	}
}

// parkAndWaitRedispatch is the fiber side of the handoff: called from
// within sleep() on the sleeping process's own goroutine, it reports
// back to the scheduler that this fiber has given up the CPU, then
// blocks until some later SchedulerLoop iteration finds it RUNNABLE
// again and redispatches it.
func (t *Table_t) parkAndWaitRedispatch(p *Proc_t, cpu *lock.Cpu_t) {
	p.done <- struct{}{}
	<-p.run
}
