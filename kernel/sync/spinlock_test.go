package sync

import (
	"sync/atomic"
	"testing"
)

func TestSpinlockAcquireRelease(t *testing.T) {
	var l Spinlock

	if base := HeldLockCount(); base != 0 {
		t.Fatalf("expected no locks to be held; got %d", base)
	}

	l.Acquire()
	if got := HeldLockCount(); got != 1 {
		t.Fatalf("expected held lock count to be 1; got %d", got)
	}

	if l.TryToAcquire() {
		t.Fatal("expected TryToAcquire on a held lock to fail")
	}

	l.Release()
	if got := HeldLockCount(); got != 0 {
		t.Fatalf("expected held lock count to drop to 0; got %d", got)
	}
}

func TestSpinlockDoubleReleaseIsNoOp(t *testing.T) {
	var l Spinlock

	l.Acquire()
	l.Release()
	l.Release()

	if got := HeldLockCount(); got != 0 {
		t.Fatalf("expected held lock count to be 0 after double release; got %d", got)
	}
}

func TestSpinlockContendedAcquireYields(t *testing.T) {
	defer SetYieldFn(nil)

	var (
		l          Spinlock
		yieldCalls int32
	)

	l.Acquire()
	SetYieldFn(func() {
		atomic.AddInt32(&yieldCalls, 1)
		// Release the lock from the "other task" so Acquire completes.
		l.Release()
	})

	l.Acquire()
	defer l.Release()

	if atomic.LoadInt32(&yieldCalls) == 0 {
		t.Fatal("expected contended Acquire to invoke the yield function")
	}
}
