// Package task defines the thread type shared by the scheduler and the
// process manager. Keeping it in its own leaf package is what keeps the
// dependency between the two one-directional: the scheduler manipulates
// threads only through the state accessors defined here and never needs to
// know about processes.
package task

import (
	"sync/atomic"

	"badgeros/kernel/gate"
	"badgeros/kernel/mm/vmm"
)

// ID uniquely identifies a thread.
type ID uint64

// nextID holds the last allocated thread id.
var nextID uint64

// AllocID returns a fresh thread id.
func AllocID() ID {
	return ID(atomic.AddUint64(&nextID, 1))
}

// State describes the scheduling state of a thread.
type State uint8

const (
	// Ready marks a thread waiting in the ready queue for CPU time.
	Ready State = iota

	// Running marks the thread currently executing; at most one thread
	// per CPU is Running.
	Running

	// Blocked marks a thread suspended until an awaited event occurs.
	Blocked

	// Terminated marks a thread that will never run again.
	Terminated
)

// BlockReason describes why a thread is blocked.
type BlockReason uint8

const (
	// BlockNone is the zero reason carried by non-blocked threads.
	BlockNone BlockReason = iota

	// BlockWait marks a thread sleeping in wait() for a child to exit.
	BlockWait

	// BlockRead marks a thread sleeping until file or device data is
	// available.
	BlockRead

	// BlockSleep marks a thread sleeping until a timer wakeup.
	BlockSleep

	// BlockPause marks a thread suspended until a signal arrives.
	BlockPause

	// BlockStopped marks a thread stopped by a job-control signal; only
	// a continue signal unblocks it.
	BlockStopped
)

// Interruptible returns true if a signal may cut the block short. A thread
// woken this way observes EINTR instead of the awaited event.
func (r BlockReason) Interruptible() bool {
	switch r {
	case BlockWait, BlockRead, BlockSleep, BlockPause:
		return true
	default:
		return false
	}
}

// Privilege describes the mode a thread executes in.
type Privilege uint8

const (
	// PrivilegeUser marks a thread running user code.
	PrivilegeUser Privilege = iota

	// PrivilegeKernel marks a kernel-internal thread (e.g. idle).
	PrivilegeKernel
)

// Thread is one schedulable execution context. The saved frame always
// reflects exactly the state needed to resume the thread: either "about to
// return to user mode at this instruction" or "blocked pending the recorded
// reason".
type Thread struct {
	id        ID
	processID uint64
	privilege Privilege

	// Frame is the register snapshot applied when the thread next leaves
	// to user mode. It is written by the trap gate on entry and patched
	// by fork/exec/signal delivery.
	Frame gate.Registers

	// Space is the address space the thread executes in. It is replaced
	// wholesale by exec; the scheduler reads it on every handoff.
	Space *vmm.AddressSpace

	// SignalFrame saves the interrupted frame while a signal handler
	// runs; sigreturn restores it.
	SignalFrame *gate.Registers

	state       State
	blockReason BlockReason
	exitCode    int32

	// queued tracks ready-queue membership so a thread can never be
	// enqueued twice.
	queued bool
}

// New returns a thread owned by the given process, resuming at the supplied
// frame inside the supplied address space.
func New(processID uint64, privilege Privilege, frame gate.Registers, space *vmm.AddressSpace) *Thread {
	return &Thread{
		id:        AllocID(),
		processID: processID,
		privilege: privilege,
		Frame:     frame,
		Space:     space,
		state:     Ready,
	}
}

// ID returns the unique thread id.
func (t *Thread) ID() ID { return t.id }

// ProcessID returns the id of the owning process.
func (t *Thread) ProcessID() uint64 { return t.processID }

// Privilege returns the execution mode of the thread.
func (t *Thread) Privilege() Privilege { return t.privilege }

// State returns the current scheduling state.
func (t *Thread) State() State { return t.state }

// BlockReason returns why the thread is blocked, or BlockNone.
func (t *Thread) BlockReason() BlockReason { return t.blockReason }

// ExitCode returns the code recorded when the thread terminated.
func (t *Thread) ExitCode() int32 { return t.exitCode }

// Runnable returns true if the scheduler may hand the CPU to this thread.
func (t *Thread) Runnable() bool {
	return t.state == Ready || t.state == Running
}

// SetReady transitions the thread to Ready. Terminated threads stay dead.
func (t *Thread) SetReady() {
	if t.state == Terminated {
		return
	}
	t.state = Ready
	t.blockReason = BlockNone
}

// SetRunning marks the thread as the one currently executing.
func (t *Thread) SetRunning() {
	if t.state == Terminated {
		return
	}
	t.state = Running
	t.blockReason = BlockNone
}

// SetBlocked suspends the thread for the given reason.
func (t *Thread) SetBlocked(reason BlockReason) {
	if t.state == Terminated {
		return
	}
	t.state = Blocked
	t.blockReason = reason
}

// SetTerminated marks the thread dead with the supplied exit code. The
// transition is final.
func (t *Thread) SetTerminated(exitCode int32) {
	t.state = Terminated
	t.blockReason = BlockNone
	t.exitCode = exitCode
}

// SetQueued records ready-queue membership and reports whether the caller
// may actually enqueue the thread: enqueueing an already queued thread must
// be a no-op so each Ready thread is reachable from the queue exactly once.
func (t *Thread) SetQueued(queued bool) bool {
	if queued && t.queued {
		return false
	}
	t.queued = queued
	return true
}

// Queued returns true while the thread sits in the ready queue.
func (t *Thread) Queued() bool { return t.queued }
