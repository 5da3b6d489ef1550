// Package cpu models the per-processor state that the execution core mutates:
// the interrupt flag, the kernel stack used while servicing a trap and the
// active page-table root. The kernel currently drives a single logical CPU
// but all state is kept per-CPU so a multi-core extension only needs to
// instantiate more of them.
package cpu

// CPU holds the execution state of one logical processor.
type CPU struct {
	id uint32

	// intDisableDepth counts nested DisableInterrupts calls. Interrupts
	// are delivered only while the depth is zero.
	intDisableDepth int

	// kernelStackTop is the address the trap gate switches the stack
	// pointer to on entry from user mode. It is never the interrupted
	// thread's user stack.
	kernelStackTop uintptr

	// activeSpaceRoot is the physical address of the page-table root the
	// MMU currently translates through.
	activeSpaceRoot uintptr
}

// New returns the state object for the logical CPU with the given id. The
// supplied kernel stack top must point into kernel-owned memory.
func New(id uint32, kernelStackTop uintptr) *CPU {
	return &CPU{id: id, kernelStackTop: kernelStackTop}
}

// ID returns the logical CPU id.
func (c *CPU) ID() uint32 { return c.id }

// KernelStackTop returns the stack address used when entering kernel mode on
// this CPU.
func (c *CPU) KernelStackTop() uintptr { return c.kernelStackTop }

// DisableInterrupts masks interrupt delivery on this CPU. Calls nest; each
// one must be paired with an EnableInterrupts call.
func (c *CPU) DisableInterrupts() { c.intDisableDepth++ }

// EnableInterrupts unwinds one DisableInterrupts call, unmasking interrupt
// delivery once the outermost pair completes.
func (c *CPU) EnableInterrupts() {
	if c.intDisableDepth > 0 {
		c.intDisableDepth--
	}
}

// InterruptsEnabled returns true if this CPU currently delivers interrupts.
func (c *CPU) InterruptsEnabled() bool { return c.intDisableDepth == 0 }

// SetActiveSpaceRoot switches the MMU to translate through the page-table
// hierarchy rooted at the supplied physical address and invalidates cached
// translations.
func (c *CPU) SetActiveSpaceRoot(root uintptr) {
	c.activeSpaceRoot = root
}

// ActiveSpaceRoot returns the physical address of the page-table root this
// CPU currently translates through.
func (c *CPU) ActiveSpaceRoot() uintptr { return c.activeSpaceRoot }

// FlushTLBEntry invalidates any cached translation for a particular virtual
// address. Page-table walks in this tree always read the live tables, so the
// call is a synchronization point rather than a cache operation; it is kept
// as a distinct function so mapping code marks every spot where real hardware
// needs an invlpg.
func FlushTLBEntry(virtAddr uintptr) {}

// Halt stops instruction execution on the calling CPU. It is the terminal
// step of the fatal error path and never returns.
func Halt() {
	for {
	}
}
