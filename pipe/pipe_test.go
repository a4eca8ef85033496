package pipe

import (
	"testing"

	"mpk/defs"
	"mpk/lock"
)

// panicWaiter is safe to use whenever a test's write/read sequencing
// guarantees neither side ever actually blocks (every write here stays
// under PipeSize, and every read finds buffered data, a closed writer,
// or a killed waiter), so Sleep should never be called.
type panicWaiter struct {
	id     int
	killed bool
}

func (w panicWaiter) ID() int { return w.id }
func (w panicWaiter) Sleep(chankey uintptr, cpu *lock.Cpu_t, l *lock.Spinlock_t) {
	panic("pipe test: unexpected block")
}
func (w panicWaiter) Wakeup(chankey uintptr) {}
func (w panicWaiter) Killed() bool { return w.killed }

func TestPipeWriteThenReadRoundTrip(t *testing.T) {
	p := MkPipe()
	w := panicWaiter{id: 1}
	cpu := &lock.Cpu_t{ID: 0}

	msg := []byte("hello pipe")
	n, err := p.Write(w, cpu, msg)
	if err != 0 || n != len(msg) {
		t.Fatalf("Write = (%d, %d), want (%d, 0)", n, err, len(msg))
	}

	out := make([]byte, len(msg))
	n, err = p.Read(w, cpu, out)
	if err != 0 || n != len(msg) {
		t.Fatalf("Read = (%d, %d), want (%d, 0)", n, err, len(msg))
	}
	if string(out) != string(msg) {
		t.Fatalf("Read = %q, want %q", out, msg)
	}
}

func TestPipeEOFAfterWriterCloses(t *testing.T) {
	p := MkPipe()
	w := panicWaiter{id: 1}
	cpu := &lock.Cpu_t{ID: 0}

	msg := []byte("fixed amount")
	p.Write(w, cpu, msg)
	p.CloseWriter(w, cpu)

	out := make([]byte, len(msg))
	n, err := p.Read(w, cpu, out)
	if err != 0 || n != len(msg) {
		t.Fatalf("Read = (%d, %d), want (%d, 0)", n, err, len(msg))
	}
	if string(out) != string(msg) {
		t.Fatalf("Read = %q, want %q", out, msg)
	}

	n, err = p.Read(w, cpu, out)
	if err != 0 || n != 0 {
		t.Fatalf("Read after drain = (%d, %d), want (0, 0) for EOF", n, err)
	}
}

func TestPipeWriteAfterReaderClosedIsEPIPE(t *testing.T) {
	p := MkPipe()
	w := panicWaiter{id: 1}
	cpu := &lock.Cpu_t{ID: 0}

	p.CloseReader(w, cpu)
	_, err := p.Write(w, cpu, []byte("x"))
	if err != -defs.EPIPE {
		t.Fatalf("Write err = %d, want -EPIPE", err)
	}
}

func TestPipePartialReadLeavesRemainderBuffered(t *testing.T) {
	p := MkPipe()
	w := panicWaiter{id: 1}
	cpu := &lock.Cpu_t{ID: 0}

	p.Write(w, cpu, []byte("abcdef"))

	first := make([]byte, 3)
	n, _ := p.Read(w, cpu, first)
	if n != 3 || string(first) != "abc" {
		t.Fatalf("first Read = %q, n=%d", first, n)
	}

	second := make([]byte, 3)
	n, _ = p.Read(w, cpu, second)
	if n != 3 || string(second) != "def" {
		t.Fatalf("second Read = %q, n=%d", second, n)
	}
}

// TestPipeReadOnKilledWaiterReturnsMinusOne confirms a reader blocked
// on an empty, still-open pipe gives up rather than looping forever
// once its waiter reports killed (spec.md §5, "killed is... observed
// at every wake-up inside pipe read").
func TestPipeReadOnKilledWaiterReturnsMinusOne(t *testing.T) {
	p := MkPipe()
	w := panicWaiter{id: 1, killed: true}
	cpu := &lock.Cpu_t{ID: 0}

	out := make([]byte, 8)
	n, err := p.Read(w, cpu, out)
	if n != 0 || err != -1 {
		t.Fatalf("Read on a killed waiter = (%d, %d), want (0, -1)", n, err)
	}
}
