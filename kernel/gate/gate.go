// Package gate implements the protocol that moves the CPU between user and
// kernel privilege. Each transition is a step in a small state machine
// (Enter -> dispatch -> Leave or Terminate) so that the one-way nature of the
// final privilege drop is visible in the control flow instead of being a
// convention: once Leave commits, the interrupted context is gone and any
// cleanup that was not done beforehand will never happen.
package gate

import (
	"badgeros/kernel"
	"badgeros/kernel/cpu"
	"badgeros/kernel/kfmt"
	"badgeros/kernel/mm/vmm"
	ksync "badgeros/kernel/sync"
)

// Origin describes the privilege level a trap arrived from.
type Origin uint8

const (
	// FromUser marks a transition that interrupted user-mode code.
	FromUser Origin = iota

	// FromKernel marks a nested transition: an exception or interrupt
	// that arrived while the CPU was already executing kernel code.
	FromKernel
)

// maxNesting bounds the number of in-flight trap frames. A depth beyond this
// means the kernel is faulting while servicing faults.
const maxNesting = 8

var (
	errNotEntered     = &kernel.Error{Module: "gate", Message: "leave without a matching trap entry"}
	errNestingTooDeep = &kernel.Error{Module: "gate", Message: "trap nesting exceeds the fault-in-fault limit"}
	errFrameMismatch  = &kernel.Error{Module: "gate", Message: "leave frame does not match the innermost trap entry"}
	errNoAddressSpace = &kernel.Error{Module: "gate", Message: "resume to user mode without a valid address space"}
	errLockedLeave    = &kernel.Error{Module: "gate", Message: "spinlock held across a privilege drop"}

	// panicFn is used by tests to intercept the fatal error path.
	panicFn = kfmt.Panic

	// applyContextFn models the final register restore plus privilege
	// drop (iretq). Overridden by tests to observe the committed frame.
	applyContextFn = func(regs *Registers) {}

	// heldLockCountFn is used by tests to fake a leaked lock.
	heldLockCountFn = ksync.HeldLockCount
)

// Gate tracks the trap state of one CPU. All methods run with interrupts
// disabled on that CPU; the hardware trap mechanism already serializes
// entries.
type Gate struct {
	cpu *cpu.CPU

	// frames holds the saved register snapshot of each in-flight trap,
	// innermost last. Nested entries must never corrupt an outer frame,
	// so every entry keeps its own snapshot.
	frames []*Registers

	// pendingSpace is an address-space switch scheduled earlier in the
	// current trap (e.g. by the scheduler picking another thread). It is
	// applied synchronously in Leave, before the final register restore;
	// deferring it any later would resume a thread inside the wrong
	// address space.
	pendingSpace *vmm.AddressSpace
}

// New returns a trap gate bound to the supplied CPU.
func New(c *cpu.CPU) *Gate {
	return &Gate{cpu: c}
}

// Depth returns the number of in-flight trap entries.
func (g *Gate) Depth() int { return len(g.frames) }

// Enter records a privilege transition into kernel mode. The supplied frame
// holds the register snapshot saved at the entry point, byte for byte. On the
// outermost entry the CPU switches to its kernel stack; nested entries keep
// running on it. The returned Origin is derived from the saved privilege
// field and is the only trustworthy statement about where the trap came
// from.
func (g *Gate) Enter(frame *Registers) Origin {
	if len(g.frames) >= maxNesting {
		g.fatal(errNestingTooDeep, frame)
	}

	g.cpu.DisableInterrupts()
	g.frames = append(g.frames, frame)

	if frame.IsUserMode() {
		return FromUser
	}
	return FromKernel
}

// DeferSpaceSwitch schedules an address-space switch to be applied during
// the next Leave, immediately before the final register restore.
func (g *Gate) DeferSpaceSwitch(space *vmm.AddressSpace) {
	g.pendingSpace = space
}

// Leave completes the innermost trap and resumes the context described by
// frame inside the supplied address space. For a user-mode frame the space
// must be valid; kernel-mode frames resume in whatever space is active.
//
// Leave is the point of no return: it verifies that no spinlock is still
// held, applies any deferred address-space switch, restores the saved
// registers exactly and drops privilege. Inconsistencies detected here are
// fatal; returning to user mode with a broken frame or the wrong address
// space would execute the wrong process's code.
func (g *Gate) Leave(frame *Registers, space *vmm.AddressSpace) {
	if len(g.frames) == 0 {
		g.fatal(errNotEntered, frame)
		return
	}
	if innermost := g.frames[len(g.frames)-1]; innermost != frame {
		g.fatal(errFrameMismatch, frame)
		return
	}
	if frame.IsUserMode() && space == nil && g.pendingSpace == nil {
		g.fatal(errNoAddressSpace, frame)
		return
	}
	if heldLockCountFn() != 0 {
		g.fatal(errLockedLeave, frame)
		return
	}

	// Apply any deferred space switch now; the register restore and the
	// privilege drop below are not independently retryable.
	if target := g.pendingSpace; target != nil {
		space = target
	}
	if space != nil && g.cpu.ActiveSpaceRoot() != space.Root().Address() {
		space.Activate(g.cpu)
	}
	g.pendingSpace = nil

	g.frames = g.frames[:len(g.frames)-1]
	g.cpu.EnableInterrupts()
	applyContextFn(frame)
}

// Terminate abandons the innermost trap without resuming the interrupted
// context. It is used when the trapping thread exits instead of returning to
// user mode; the scheduler then picks another thread and leaves through its
// frame.
func (g *Gate) Terminate(frame *Registers) {
	if len(g.frames) == 0 {
		g.fatal(errNotEntered, frame)
		return
	}
	if innermost := g.frames[len(g.frames)-1]; innermost != frame {
		g.fatal(errFrameMismatch, frame)
		return
	}

	g.frames = g.frames[:len(g.frames)-1]
	g.cpu.EnableInterrupts()
}

// fatal reports a broken trap protocol invariant together with the frame
// that exposed it and halts. It never returns control to user mode.
func (g *Gate) fatal(err *kernel.Error, frame *Registers) {
	kfmt.Printf("\ntrap gate failure on cpu %d (depth %d)\n", g.cpu.ID(), len(g.frames))
	if frame != nil {
		frame.DumpTo(kfmt.GetOutputSink())
	}
	panicFn(err)
}
