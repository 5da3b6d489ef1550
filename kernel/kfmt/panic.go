package kfmt

import (
	"badgeros/kernel"
	"badgeros/kernel/cpu"
)

var (
	// cpuHaltFn is overridden by tests.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic outputs the supplied error (if not nil) to the active output sink and
// halts the CPU. Panic is the kernel's fatal tier: it is invoked for broken
// core invariants that cannot be reported back to user code as an error value
// (an invalid frame or address space on the trap return path, a kernel
// mapping found user-accessible, an unrecoverable hardware exception). Calls
// to Panic never return.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	cpuHaltFn()
}
