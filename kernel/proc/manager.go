// Package proc implements process lifecycle management: creation from a
// program image, fork, exec, exit and wait. The manager owns the process
// table; the scheduler owns the ready queue; the two meet only through
// thread state accessors.
package proc

import (
	"badgeros/kernel"
	"badgeros/kernel/gate"
	"badgeros/kernel/mm"
	"badgeros/kernel/mm/vmm"
	"badgeros/kernel/sched"
	"badgeros/kernel/signal"
	"badgeros/kernel/sync"
	"badgeros/kernel/task"
)

var (
	// ErrNoProcess is returned when a thread or pid names no live
	// process.
	ErrNoProcess = &kernel.Error{Module: "proc", Message: "no such process"}

	// ErrNoChildren is returned by a wait with nothing to wait for.
	ErrNoChildren = &kernel.Error{Module: "proc", Message: "no children to wait for"}

	// ErrNoExitedChild is returned by a non-blocking wait when children
	// exist but none has exited yet.
	ErrNoExitedChild = &kernel.Error{Module: "proc", Message: "no exited child yet"}

	// ErrBadSignal is returned for kill with an invalid signal number.
	ErrBadSignal = &kernel.Error{Module: "proc", Message: "invalid signal number"}
)

// User stack placement. The stack grows down from just below the top of
// the user half; the initial stack pointer starts one slot inside the
// mapped range, 16-byte aligned per the ABI.
const (
	userStackTop   = uintptr(0x00007ffffffff000)
	userStackPages = 16
)

// Manager owns the process table and implements the process lifecycle.
type Manager struct {
	lock sync.Spinlock

	alloc         *mm.Allocator
	kernelRegions []vmm.KernelRegion
	scheduler     *sched.Scheduler
	delivery      *signal.Delivery

	processes map[uint64]*Process
	byThread  map[task.ID]*Process
	nextPID   uint64
}

// NewManager creates a process manager. It wires its own signal delivery
// engine so that default actions feed back into process exit and the
// scheduler's block and unblock operations.
func NewManager(alloc *mm.Allocator, kernelRegions []vmm.KernelRegion, scheduler *sched.Scheduler) *Manager {
	m := &Manager{
		alloc:         alloc,
		kernelRegions: kernelRegions,
		scheduler:     scheduler,
		processes:     make(map[uint64]*Process),
		byThread:      make(map[task.ID]*Process),
	}
	m.delivery = signal.NewDelivery(signal.Callbacks{
		Terminate: func(t *task.Thread, exitCode int32) {
			m.Exit(t, exitCode)
		},
		Stop: func(t *task.Thread) {
			scheduler.Park(t, task.BlockStopped)
		},
		Continue: func(t *task.Thread) {
			scheduler.Unblock(t)
		},
		Wake: func(t *task.Thread) {
			scheduler.Unblock(t)
		},
	})
	return m
}

// Delivery returns the signal delivery engine used by the trap path.
func (m *Manager) Delivery() *signal.Delivery { return m.delivery }

// ProcessFor returns the process a thread belongs to.
func (m *Manager) ProcessFor(t *task.Thread) (*Process, *kernel.Error) {
	m.lock.Acquire()
	p := m.byThread[t.ID()]
	m.lock.Release()
	if p == nil {
		return nil, ErrNoProcess
	}
	return p, nil
}

// Find returns the live process with the given id.
func (m *Manager) Find(pid uint64) (*Process, *kernel.Error) {
	m.lock.Acquire()
	p := m.processes[pid]
	m.lock.Release()
	if p == nil {
		return nil, ErrNoProcess
	}
	return p, nil
}

// ProcessCount returns the number of table entries, zombies included.
func (m *Manager) ProcessCount() int {
	m.lock.Acquire()
	n := len(m.processes)
	m.lock.Release()
	return n
}

// Create builds a process from a program image: a fresh address space with
// the segments and a user stack mapped, one thread parked at the entry
// point, and the thread handed to the scheduler. A malformed image or an
// exhausted allocator leaves no trace behind.
func (m *Manager) Create(img *Image, files *FDTable) (uint64, *kernel.Error) {
	if err := img.Validate(); err != nil {
		return 0, err
	}

	space, err := vmm.NewAddressSpace(m.alloc, m.kernelRegions)
	if err != nil {
		return 0, err
	}
	stackPtr, err := m.loadInto(space, img)
	if err != nil {
		space.Release()
		return 0, err
	}

	if files == nil {
		files = NewFDTable()
	}

	var frame gate.Registers
	frame.SetUserEntry(img.Entry, stackPtr)

	m.lock.Acquire()
	pid := m.allocPIDLocked()
	thread := task.New(pid, task.PrivilegeUser, frame, space)
	p := &Process{
		id:      pid,
		threads: []*task.Thread{thread},
		space:   space,
		files:   files,
		signals: signal.NewState(),
	}
	m.processes[pid] = p
	m.byThread[thread.ID()] = p
	m.lock.Release()

	m.scheduler.Enqueue(thread)
	return pid, nil
}

// Fork clones the calling thread's process. The child gets a copy-on-write
// view of the parent's address space, a copy of the descriptor table over
// the same open files, the parent's signal dispositions with an empty
// pending set, and a frame identical to the parent's except that its
// result register reads zero. The parent's own frame is untouched so the
// caller stores the child pid there after the fact.
func (m *Manager) Fork(parent *task.Thread) (uint64, *kernel.Error) {
	p, err := m.ProcessFor(parent)
	if err != nil {
		return 0, err
	}

	childSpace, err := p.space.CloneForFork()
	if err != nil {
		return 0, err
	}

	childFrame := parent.Frame
	childFrame.RAX = 0

	m.lock.Acquire()
	pid := m.allocPIDLocked()
	thread := task.New(pid, task.PrivilegeUser, childFrame, childSpace)
	child := &Process{
		id:       pid,
		parentID: p.id,
		threads:  []*task.Thread{thread},
		space:    childSpace,
		files:    p.files.ForkCopy(),
		signals:  p.signals.ForkCopy(),
	}
	m.processes[pid] = child
	m.byThread[thread.ID()] = child
	m.lock.Release()

	m.scheduler.Enqueue(thread)
	return pid, nil
}

// Exec replaces the calling thread's program. The new address space is
// fully built before anything is touched, so a bad image or allocation
// failure leaves the original process intact. On success the new space and
// the new entry frame are installed durably in the thread and process
// records before returning; a preemption firing right after Exec finds
// only the new state.
func (m *Manager) Exec(t *task.Thread, img *Image) *kernel.Error {
	if err := img.Validate(); err != nil {
		return err
	}

	space, err := vmm.NewAddressSpace(m.alloc, m.kernelRegions)
	if err != nil {
		return err
	}
	stackPtr, err := m.loadInto(space, img)
	if err != nil {
		space.Release()
		return err
	}

	m.lock.Acquire()
	p := m.byThread[t.ID()]
	if p == nil {
		m.lock.Release()
		space.Release()
		return ErrNoProcess
	}
	old := p.space
	p.installSpace(space)
	p.signals.ExecReset()
	t.SignalFrame = nil
	t.Frame.SetUserEntry(img.Entry, stackPtr)
	m.lock.Release()

	old.Release()
	return nil
}

// Exit terminates the process the thread belongs to. Every thread is
// marked Terminated, the address space is released, the record lingers as
// a zombie for the parent to reap, and a parent blocked in wait is woken
// along with a SIGCHLD post. An orphan with no live parent is dropped
// immediately.
func (m *Manager) Exit(t *task.Thread, status int32) {
	m.lock.Acquire()
	p := m.byThread[t.ID()]
	if p == nil || p.state != ProcessAlive {
		m.lock.Release()
		return
	}

	for _, thread := range p.threads {
		thread.SetTerminated(status)
		delete(m.byThread, thread.ID())
	}
	p.state = ProcessZombie
	p.exitStatus = status
	space := p.space
	p.space = nil

	parent := m.processes[p.parentID]
	if parent == nil || parent.state != ProcessAlive {
		// No one will ever wait for us.
		p.state = ProcessReaped
		delete(m.processes, p.id)
		parent = nil
	}
	m.lock.Release()

	if space != nil {
		space.Release()
	}
	if parent != nil {
		m.delivery.Post(parent.signals, parent.MainThread(), signal.SIGCHLD)
		for _, waiter := range parent.threads {
			if waiter.State() == task.Blocked && waiter.BlockReason() == task.BlockWait {
				m.scheduler.Unblock(waiter)
			}
		}
	}
}

// ReapChild collects one exited child of the calling thread's process.
// targetPID selects a specific child; zero or negative matches any. The
// zombie record is consumed: a second wait for the same child fails. With
// children alive but none exited, ErrNoExitedChild tells the caller to
// block and retry or, for a non-blocking wait, to bail out.
func (m *Manager) ReapChild(caller *task.Thread, targetPID int64) (uint64, int32, *kernel.Error) {
	m.lock.Acquire()
	p := m.byThread[caller.ID()]
	if p == nil {
		m.lock.Release()
		return 0, 0, ErrNoProcess
	}

	haveChildren := false
	for pid, child := range m.processes {
		if child.parentID != p.id {
			continue
		}
		if targetPID > 0 && pid != uint64(targetPID) {
			continue
		}
		haveChildren = true
		if child.state == ProcessZombie {
			child.state = ProcessReaped
			delete(m.processes, pid)
			status := child.exitStatus
			m.lock.Release()
			return pid, status, nil
		}
	}
	m.lock.Release()

	if !haveChildren {
		return 0, 0, ErrNoChildren
	}
	return 0, 0, ErrNoExitedChild
}

// Kill posts a signal to a process. Signal zero probes for existence
// without posting. Zombies cannot receive signals.
func (m *Manager) Kill(pid uint64, sig uint32) *kernel.Error {
	if sig != 0 && signal.Mask(sig) == 0 {
		return ErrBadSignal
	}

	m.lock.Acquire()
	p := m.processes[pid]
	if p == nil || p.state != ProcessAlive {
		m.lock.Release()
		return ErrNoProcess
	}
	target := p.MainThread()
	state := p.signals
	m.lock.Release()

	if sig != 0 {
		m.delivery.Post(state, target, sig)
	}
	return nil
}

// WakeReaders unblocks every thread parked waiting for device input. Input
// drivers call it after queueing fresh data; a woken thread re-executes its
// read and either drains the data or parks again.
func (m *Manager) WakeReaders() {
	m.lock.Acquire()
	var woken []*task.Thread
	for _, p := range m.processes {
		for _, t := range p.threads {
			if t.State() == task.Blocked && t.BlockReason() == task.BlockRead {
				woken = append(woken, t)
			}
		}
	}
	m.lock.Release()

	for _, t := range woken {
		m.scheduler.Unblock(t)
	}
}

func (m *Manager) allocPIDLocked() uint64 {
	m.nextPID++
	return m.nextPID
}

// loadInto maps the image segments and the user stack into a fresh space
// and returns the initial stack pointer. MapRange rolls a failed segment
// back by itself; earlier segments are the caller's to release along with
// the space.
func (m *Manager) loadInto(space *vmm.AddressSpace, img *Image) (uint64, *kernel.Error) {
	for i := range img.Segments {
		seg := &img.Segments[i]
		startPage := mm.PageFromAddress(seg.VirtAddr)
		if err := space.MapRange(startPage, seg.pageCount(), seg.pageFlags()); err != nil {
			return 0, err
		}
		if err := m.writeSegment(space, seg); err != nil {
			return 0, err
		}
	}

	stackBase := userStackTop - userStackPages*mm.PageSize
	stackFlags := vmm.FlagPresent | vmm.FlagRW | vmm.FlagUserAccessible | vmm.FlagNoExecute
	if err := space.MapRange(mm.PageFromAddress(stackBase), userStackPages, stackFlags); err != nil {
		return 0, err
	}

	return uint64(userStackTop - 16), nil
}

// writeSegment copies the initializer data of a segment into the freshly
// mapped frames, page by page. The frames were just allocated and zeroed,
// so the tail past len(Data) is already zero filled.
func (m *Manager) writeSegment(space *vmm.AddressSpace, seg *Segment) *kernel.Error {
	data := seg.Data
	virtAddr := seg.VirtAddr
	for len(data) > 0 {
		physAddr, err := space.Translate(virtAddr)
		if err != nil {
			return err
		}
		slice, err := m.alloc.FrameSlice(mm.FrameFromAddress(physAddr))
		if err != nil {
			return err
		}
		copied := kernel.Memcopy(slice, data)
		data = data[copied:]
		virtAddr += uintptr(copied)
	}
	return nil
}
