// Package accnt tracks per-process CPU accounting, adapted from the
// teacher's accnt package.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"
)

// Accnt_t accumulates user and system time for one process. Both
// counters are nanoseconds. The embedded mutex protects Add, which
// merges a child's usage into a parent's at wait(2) time.
type Accnt_t struct {
	Userns int64
	Sysns  int64
	sync.Mutex
}

// Utadd adds delta nanoseconds of user time.
func (a *Accnt_t) Utadd(delta time.Duration) {
	atomic.AddInt64(&a.Userns, int64(delta))
}

// Systadd adds delta nanoseconds of system time.
func (a *Accnt_t) Systadd(delta time.Duration) {
	atomic.AddInt64(&a.Sysns, int64(delta))
}

// Add merges n's usage into a, guarded by a's lock. Used when a parent
// reaps a zombie child and wants its cumulative rusage to include the
// child's consumption.
func (a *Accnt_t) Add(n *Accnt_t) {
	a.Lock()
	a.Userns += atomic.LoadInt64(&n.Userns)
	a.Sysns += atomic.LoadInt64(&n.Sysns)
	a.Unlock()
}

// Rusage is Accnt_t's accumulated user and system time split into
// seconds and microseconds, as returned by Fetch. proc.Table_t.Snapshot
// copies it and the profiling device reports it; no syscall returns it.
type Rusage struct {
	UserSecs, UserUsecs int64
	SysSecs, SysUsecs   int64
}

// Fetch returns a consistent snapshot of the accounting record.
func (a *Accnt_t) Fetch() Rusage {
	a.Lock()
	defer a.Unlock()
	return Rusage{
		UserSecs:  a.Userns / 1e9,
		UserUsecs: (a.Userns % 1e9) / 1000,
		SysSecs:   a.Sysns / 1e9,
		SysUsecs:  (a.Sysns % 1e9) / 1000,
	}
}
