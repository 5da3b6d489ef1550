// Package sync provides the spinlock implementation used to protect the
// kernel's shared tables (process table, ready queue, dispatch table) and
// keeps a census of held locks so that the trap return path can verify that
// no lock is carried across a point of no return.
package sync

import "sync/atomic"

var (
	// yieldFn is invoked while busy-waiting for a contended lock. It is
	// overridden once the scheduler is up so that spinning tasks donate
	// their time slice.
	yieldFn func()

	// heldCount tracks the number of currently held spinlocks across all
	// lock instances. A privilege drop with heldCount != 0 means some
	// code path leaked a lock into a control transfer that never returns,
	// leaving it permanently unavailable.
	heldCount int32
)

// SetYieldFn registers the function invoked while spinning on a contended
// lock.
func SetYieldFn(fn func()) { yieldFn = fn }

// HeldLockCount returns the number of spinlocks currently held. The trap
// gate consults this immediately before dropping privilege; see
// gate.(*Gate).Leave.
func HeldLockCount() int {
	return int(atomic.LoadInt32(&heldCount))
}

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available. Spinlocks are always short-held: holders
// must release them before blocking, rescheduling or returning to user mode.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for !l.TryToAcquire() {
		if yieldFn != nil {
			yieldFn()
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	if atomic.SwapUint32(&l.state, 1) == 0 {
		atomic.AddInt32(&heldCount, 1)
		return true
	}
	return false
}

// Release relinquishes a held lock allowing other tasks to acquire it.
// Releasing a lock that is not held is a no-op.
func (l *Spinlock) Release() {
	if atomic.SwapUint32(&l.state, 0) == 1 {
		atomic.AddInt32(&heldCount, -1)
	}
}
