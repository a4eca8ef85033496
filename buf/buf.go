// Package buf implements the block buffer cache (spec.md §4.4): an
// LRU-ordered set of fixed-size disk blocks with reference counts and
// per-buffer sleeplocks.
//
// Biscuit's Bdev_block_t (see _teacher/fs/blk.go) wraps an async
// request/ack-channel protocol to its disk driver and a hand-rolled
// doubly linked list (BlkList_t) for LRU order. This rewrite keeps the
// same buffer shape and the same Get/Read/Write/Release contract, but:
// uses container/list for the LRU chain (the teacher already reaches
// for container/list in BlkList_t, just for request batches rather
// than the cache itself) plus a map for O(1) lookup instead of the
// teacher's linear list scan; and collapses concurrent misses on the
// same (dev, block) through golang.org/x/sync/singleflight so two
// goroutines racing to Get() an un-cached block issue exactly one
// disk read between them, which is how spec.md §4.4's "at most one
// cache entry per (dev,bno)" invariant survives concurrent callers.
//
// The cache-wide lock is a lock.Spinlock_t, not a bare sync.Mutex,
// matching spec.md §5(d)'s "buffer cache: one spinlock for the LRU
// list and identity" and letting cmd/lockcheck recognize it as a link
// in the process-table → inode-cache → file-table → buffer-cache →
// sleeplock ordering.
package buf

import (
	"container/list"
	"fmt"

	"golang.org/x/sync/singleflight"

	"mpk/defs"
	"mpk/disk"
	"mpk/lock"
)

// key identifies a cached block by device and block number.
type key struct {
	dev   int
	block int
}

// Buf_t is one cached disk block (spec.md §3, "Buffer").
type Buf_t struct {
	Dev    int
	Block  int
	Data   [disk.BSIZE]byte
	Dirty  bool
	valid  bool
	refcnt int
	lk     *lock.Sleeplock_t
	elem   *list.Element // this buffer's node in the cache's LRU list
}

// Cache is the buffer cache: one spinlock-protected LRU list plus a
// lookup index, backed by a single disk.Device (spec.md's Non-goals
// exclude multi-device filesystems).
type Cache struct {
	mu    *lock.Spinlock_t
	dev   disk.Device
	devID int
	cap   int
	lru   *list.List // front = most-recently-used
	index map[key]*Buf_t
	sf    singleflight.Group
}

// NewCache returns a buffer cache of the given capacity backed by dev,
// whose device identifier is devID (spec.md's (device, block_no)
// identity pair, kept for data-model fidelity even though only one
// device is ever mounted).
func NewCache(dev disk.Device, devID, capacity int) *Cache {
	return &Cache{
		mu:    lock.MkSpinlock("bcache"),
		dev:   dev,
		devID: devID,
		cap:   capacity,
		lru:   list.New(),
		index: make(map[key]*Buf_t),
	}
}

// touch moves b to the front (most-recently-used end) of the LRU list.
// Caller must hold c.mu.
func (c *Cache) touch(b *Buf_t) {
	c.lru.MoveToFront(b.elem)
}

// evict picks the least-recently-used buffer with refcnt==0 and not
// Dirty, and returns it for reuse, or nil if none is evictable (spec.md
// §4.4: "DIRTY buffers are never reclaimed"). Caller must hold c.mu.
func (c *Cache) evict() *Buf_t {
	for e := c.lru.Back(); e != nil; e = e.Prev() {
		b := e.Value.(*Buf_t)
		if b.refcnt == 0 && !b.Dirty {
			return b
		}
	}
	return nil
}

// get implements the uncontended half of Get: look up an existing
// entry, or repurpose/allocate one for a miss.
func (c *Cache) get(cpu *lock.Cpu_t, block int) (*Buf_t, bool) {
	c.mu.Acquire(cpu)
	defer c.mu.Release(cpu)

	k := key{c.devID, block}
	if b, ok := c.index[k]; ok {
		b.refcnt++
		c.touch(b)
		return b, true
	}

	var b *Buf_t
	if c.lru.Len() < c.cap {
		b = &Buf_t{lk: lock.MkSleeplock(fmt.Sprintf("buf(%d,%d)", c.devID, block))}
		b.elem = c.lru.PushFront(b)
	} else if ev := c.evict(); ev != nil {
		delete(c.index, key{ev.Dev, ev.Block})
		b = ev
		c.touch(b)
	} else {
		return nil, false
	}
	b.Dev = c.devID
	b.Block = block
	b.valid = false
	b.Dirty = false
	b.refcnt = 1
	c.index[k] = b
	return b, true
}

// Get returns the buffer for (dev, block), incrementing its refcount.
// The caller does not hold the buffer's sleeplock on return; lock it
// via Buf_t's Lock/Unlock methods before touching its contents, per
// spec.md §4.4.
//
// Get itself does not need singleflight: c.mu already serializes the
// lookup-or-allocate decision, so concurrent callers for the same key
// correctly share one *Buf_t with an accurate refcount. singleflight
// instead guards the disk read in Read below, where the actual I/O
// happens outside that lock.
func (c *Cache) Get(cpu *lock.Cpu_t, block int) (*Buf_t, defs.Err_t) {
	b, ok := c.get(cpu, block)
	if !ok {
		return nil, -defs.ENOMEM
	}
	return b, 0
}

// Lock acquires the buffer's sleeplock, identifying the caller as w.
func (b *Buf_t) Lock(w lock.Waiter, cpu *lock.Cpu_t) { b.lk.Acquire(w, cpu) }

// Unlock releases the buffer's sleeplock.
func (b *Buf_t) Unlock(w lock.Waiter, cpu *lock.Cpu_t) { b.lk.Release(w, cpu) }

// Valid reports whether the buffer's contents mirror the disk.
func (b *Buf_t) Valid() bool { return b.valid }

// Read returns the buffer for (dev via the cache, block), populating it
// from disk if not already VALID (spec.md §4.4). The sleeplock must be
// acquired by the caller before calling Read, matching the teacher's
// convention that I/O methods assume the lock is already held.
//
// The fill itself goes through singleflight keyed by (dev,block): the
// sleeplock already prevents two holders of the same buffer from
// racing here, but a fresh Get of a still-invalid buffer can overlap
// with another goroutine's Get of the same key before either has taken
// the sleeplock, so singleflight collapses any such overlap into one
// disk read instead of two (spec.md §4.4's "at most one cache entry
// per (dev,bno)" extended to "at most one fill").
func (c *Cache) Read(b *Buf_t) defs.Err_t {
	if b.valid {
		return 0
	}
	sfKey := fmt.Sprintf("%d:%d", b.Dev, b.Block)
	_, err, _ := c.sf.Do(sfKey, func() (interface{}, error) {
		if b.valid {
			return nil, nil
		}
		if err := c.dev.ReadBlock(b.Block, b.Data[:]); err != nil {
			return nil, err
		}
		b.valid = true
		b.Dirty = false
		return nil, nil
	})
	if err != nil {
		return -defs.EIO
	}
	return 0
}

// Write marks b dirty and synchronously writes it through to disk
// (spec.md §4.4: "write: must hold sleeplock; set DIRTY; hand to the
// gateway synchronously"; there is no log layer to defer through,
// spec.md's Non-goals exclude journaling).
func (c *Cache) Write(b *Buf_t) defs.Err_t {
	b.Dirty = true
	if err := c.dev.WriteBlock(b.Block, b.Data[:]); err != nil {
		return -defs.EIO
	}
	b.Dirty = false
	b.valid = true
	return 0
}

// Release drops a reference to b, releasing its sleeplock and moving
// it to the head of the LRU list (spec.md §4.4).
func (c *Cache) Release(b *Buf_t, w lock.Waiter, cpu *lock.Cpu_t) {
	b.Unlock(w, cpu)
	c.mu.Acquire(cpu)
	c.touch(b)
	if b.refcnt == 0 {
		panic("buf: release of unreferenced buffer")
	}
	b.refcnt--
	c.mu.Release(cpu)
}

// Refcount returns b's current reference count, for tests asserting
// the "never reclaimed while refcnt>0" invariant.
func (b *Buf_t) Refcount() int { return b.refcnt }
