package gate

import (
	"io"

	"badgeros/kernel/kfmt"
)

// Segment selector and flag values loaded into saved frames depending on the
// privilege level the frame resumes to.
const (
	// KernelCS is the kernel code segment selector (ring 0).
	KernelCS = uint64(0x08)

	// KernelSS is the kernel data segment selector.
	KernelSS = uint64(0x10)

	// UserCS is the user code segment selector (ring 3, RPL bits set).
	UserCS = uint64(0x33)

	// UserSS is the user data segment selector.
	UserSS = uint64(0x2b)

	// KernelRFlags is the initial RFLAGS value for kernel threads:
	// interrupts masked, mandatory bit 1 set.
	KernelRFlags = uint64(0x002)

	// UserRFlags is the initial RFLAGS value for user threads: interrupts
	// enabled, mandatory bit 1 set.
	UserRFlags = uint64(0x202)
)

// Registers contains a snapshot of all register values when an exception,
// interrupt or syscall occurs.
type Registers struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Info contains the exception code for exceptions, the syscall number
	// for syscall entries or the IRQ number for HW interrupts.
	Info uint64

	// The return frame used by IRETQ
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// IsUserMode reports whether this frame was captured while the CPU executed
// at user privilege. The requested privilege level lives in the low two bits
// of the saved CS selector. Every code path that trusts "this is a syscall
// from user space" must consult this field before proceeding; it is the one
// check the whole privilege boundary rests on.
func (r *Registers) IsUserMode() bool {
	return r.CS&3 == 3
}

// SetUserEntry points the frame at a user-mode entry point with a fresh
// stack, resetting the general registers.
func (r *Registers) SetUserEntry(entry, stackTop uint64) {
	*r = Registers{
		RIP:    entry,
		CS:     UserCS,
		RFlags: UserRFlags,
		RSP:    stackTop,
		SS:     UserSS,
	}
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "RAX = %16x RBX = %16x\n", r.RAX, r.RBX)
	kfmt.Fprintf(w, "RCX = %16x RDX = %16x\n", r.RCX, r.RDX)
	kfmt.Fprintf(w, "RSI = %16x RDI = %16x\n", r.RSI, r.RDI)
	kfmt.Fprintf(w, "RBP = %16x\n", r.RBP)
	kfmt.Fprintf(w, "R8  = %16x R9  = %16x\n", r.R8, r.R9)
	kfmt.Fprintf(w, "R10 = %16x R11 = %16x\n", r.R10, r.R11)
	kfmt.Fprintf(w, "R12 = %16x R13 = %16x\n", r.R12, r.R13)
	kfmt.Fprintf(w, "R14 = %16x R15 = %16x\n", r.R14, r.R15)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "RIP = %16x CS  = %16x\n", r.RIP, r.CS)
	kfmt.Fprintf(w, "RSP = %16x SS  = %16x\n", r.RSP, r.SS)
	kfmt.Fprintf(w, "RFL = %16x\n", r.RFlags)
}
