package proc

import (
	"badgeros/kernel/mm/vmm"
	"badgeros/kernel/signal"
	"badgeros/kernel/task"
)

// ProcessState tracks a process through its lifecycle. A terminated
// process lingers as a zombie until its parent collects the exit status.
type ProcessState uint8

const (
	// ProcessAlive marks a process with at least one live thread.
	ProcessAlive ProcessState = iota

	// ProcessZombie marks a terminated process awaiting wait().
	ProcessZombie

	// ProcessReaped marks a collected process about to be dropped from
	// the table.
	ProcessReaped
)

// Process is one address space plus the threads executing in it. All
// fields are guarded by the manager's lock.
type Process struct {
	id       uint64
	parentID uint64

	threads []*task.Thread
	space   *vmm.AddressSpace
	files   *FDTable
	signals *signal.State

	state      ProcessState
	exitStatus int32
}

// ID returns the process id.
func (p *Process) ID() uint64 { return p.id }

// ParentID returns the id of the parent process, or 0 for the root.
func (p *Process) ParentID() uint64 { return p.parentID }

// Space returns the address space shared by all threads of the process.
func (p *Process) Space() *vmm.AddressSpace { return p.space }

// Files returns the descriptor table.
func (p *Process) Files() *FDTable { return p.files }

// Signals returns the signal bookkeeping.
func (p *Process) Signals() *signal.State { return p.signals }

// State returns the lifecycle state.
func (p *Process) State() ProcessState { return p.state }

// ExitStatus returns the status recorded at termination.
func (p *Process) ExitStatus() int32 { return p.exitStatus }

// MainThread returns the first thread of the process.
func (p *Process) MainThread() *task.Thread {
	if len(p.threads) == 0 {
		return nil
	}
	return p.threads[0]
}

// installSpace swaps in a new address space and repoints every thread at
// it. The caller holds the manager lock, so no reschedule can observe a
// thread whose space disagrees with its process.
func (p *Process) installSpace(space *vmm.AddressSpace) {
	p.space = space
	for _, t := range p.threads {
		t.Space = space
	}
}
