// Package sched implements a round-robin scheduler over the thread type
// from the task package. Each Ready thread is reachable from the ready
// queue exactly once; the queue never contains the running thread, the
// idle thread or any blocked or terminated thread.
package sched

import (
	"badgeros/kernel/cpu"
	"badgeros/kernel/sync"
	"badgeros/kernel/task"
)

// activateSpaceFn performs the address space switch for the incoming
// thread. We use a variable so tests can record handoffs without touching
// CPU state.
var activateSpaceFn = func(t *task.Thread, c *cpu.CPU) {
	if t.Space != nil {
		t.Space.Activate(c)
	}
}

// Scheduler implements round-robin scheduling on a single CPU. The idle
// thread runs only when the ready queue is empty and the outgoing thread
// cannot continue.
type Scheduler struct {
	lock sync.Spinlock

	cpu     *cpu.CPU
	current *task.Thread
	idle    *task.Thread

	readyQueue []*task.Thread

	needResched bool
}

// New creates a scheduler bound to the given CPU. The idle thread is
// created lazily by the caller and starts as the current thread so the
// first Schedule call has something to switch away from.
func New(c *cpu.CPU, idle *task.Thread) *Scheduler {
	idle.SetRunning()
	return &Scheduler{
		cpu:     c,
		current: idle,
		idle:    idle,
	}
}

// Current returns the thread that owns the CPU.
func (s *Scheduler) Current() *task.Thread {
	s.lock.Acquire()
	cur := s.current
	s.lock.Release()
	return cur
}

// Idle returns the idle thread.
func (s *Scheduler) Idle() *task.Thread { return s.idle }

// ReadyCount returns the number of threads waiting in the ready queue.
func (s *Scheduler) ReadyCount() int {
	s.lock.Acquire()
	n := len(s.readyQueue)
	s.lock.Release()
	return n
}

// Enqueue marks a thread Ready and appends it to the ready queue. A thread
// that is already queued, terminated or the idle thread is left alone.
func (s *Scheduler) Enqueue(t *task.Thread) {
	s.lock.Acquire()
	s.enqueueLocked(t)
	s.lock.Release()
}

func (s *Scheduler) enqueueLocked(t *task.Thread) {
	if t == nil || t == s.idle || t.State() == task.Terminated {
		return
	}
	// The Ready transition must happen even when a stale queue entry
	// still carries the thread: dequeue only honors entries whose thread
	// is Ready, so skipping it here would lose the wakeup for good.
	t.SetReady()
	if !t.SetQueued(true) {
		return
	}
	s.readyQueue = append(s.readyQueue, t)
}

// MarkNeedResched requests a reschedule at the next preemption point. The
// timer interrupt calls this on quantum expiry.
func (s *Scheduler) MarkNeedResched() {
	s.lock.Acquire()
	s.needResched = true
	s.lock.Release()
}

// TakeNeedResched consumes the pending reschedule request and reports
// whether one was set. The trap gate checks this just before returning to
// user mode.
func (s *Scheduler) TakeNeedResched() bool {
	s.lock.Acquire()
	pending := s.needResched
	s.needResched = false
	s.lock.Release()
	return pending
}

// Schedule picks the next runnable thread and hands it the CPU. The
// outgoing thread, if still runnable, goes to the back of the queue, so
// every Ready thread runs before any thread runs twice. Returns the thread
// now owning the CPU.
func (s *Scheduler) Schedule() *task.Thread {
	s.lock.Acquire()

	prev := s.current
	if prev.Runnable() {
		s.enqueueLocked(prev)
	}

	next := s.dequeueLocked()
	if next == nil {
		next = s.idle
	}

	next.SetRunning()
	s.current = next
	s.needResched = false
	s.lock.Release()

	if next != prev {
		activateSpaceFn(next, s.cpu)
	}
	return next
}

func (s *Scheduler) dequeueLocked() *task.Thread {
	for len(s.readyQueue) > 0 {
		t := s.readyQueue[0]
		s.readyQueue[0] = nil
		s.readyQueue = s.readyQueue[1:]
		t.SetQueued(false)

		// Threads may terminate or block while queued; skip them.
		if t.State() == task.Ready {
			return t
		}
	}
	return nil
}

// Yield voluntarily gives up the CPU. The calling thread stays runnable
// and will be picked again once every other Ready thread has run.
func (s *Scheduler) Yield() *task.Thread {
	return s.Schedule()
}

// Block suspends the current thread for the given reason and switches to
// the next runnable thread. Blocking the idle thread is not allowed and is
// ignored.
func (s *Scheduler) Block(reason task.BlockReason) *task.Thread {
	s.lock.Acquire()
	if s.current != s.idle {
		s.current.SetBlocked(reason)
	}
	s.lock.Release()
	return s.Schedule()
}

// Park marks a thread blocked without switching away from it. Trap
// handlers park the calling thread and let the trap return path hand the
// CPU to the next runnable one. Parking the idle thread is ignored.
func (s *Scheduler) Park(t *task.Thread, reason task.BlockReason) {
	s.lock.Acquire()
	if t != s.idle {
		t.SetBlocked(reason)
	}
	s.lock.Release()
}

// Unblock makes a blocked thread runnable again. Waking a thread that is
// not blocked is a no-op, so redundant wakeups from racing event sources
// are harmless.
func (s *Scheduler) Unblock(t *task.Thread) {
	s.lock.Acquire()
	if t.State() == task.Blocked {
		s.enqueueLocked(t)
	}
	s.lock.Release()
}

// ExitCurrent terminates the calling thread with the given code and
// switches away from it for good.
func (s *Scheduler) ExitCurrent(exitCode int32) *task.Thread {
	s.lock.Acquire()
	if s.current != s.idle {
		s.current.SetTerminated(exitCode)
	}
	s.lock.Release()
	return s.Schedule()
}
