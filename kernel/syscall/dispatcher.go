// Package syscall maps system call numbers to kernel handlers. The
// dispatcher owns nothing but the table; the handlers installed by the
// process manager carry all the state.
package syscall

import (
	"badgeros/kernel/gate"
	"badgeros/kernel/kfmt"
)

// System call numbers recognized by the dispatcher.
const (
	SysExit        = 0
	SysWrite       = 1
	SysRead        = 2
	SysYield       = 3
	SysGetTime     = 4
	SysFork        = 5
	SysSigaction   = 13
	SysSigprocmask = 14
	SysSigreturn   = 15
	SysPause       = 34
	SysGetPID      = 39
	SysExec        = 59
	SysWait4       = 61
	SysKill        = 62
)

// maxSyscall bounds the dispatch table.
const maxSyscall = 64

// Handler implements one system call. It reads its arguments from the
// saved frame (RDI, RSI, RDX, R10, R8, R9 in order) and returns the value
// to place in RAX: a non-negative result or a negated errno.
type Handler func(frame *gate.Registers) int64

// Dispatcher routes trap-gate system call entries to handlers.
type Dispatcher struct {
	handlers [maxSyscall]Handler
}

// NewDispatcher returns a dispatcher with an empty table. Every slot
// reports ENOSYS until a handler is registered.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register installs a handler for the given system call number. Numbers
// outside the table are ignored with a log line so a bad registration
// shows up during bring-up instead of as a silent ENOSYS.
func (d *Dispatcher) Register(num uint64, handler Handler) {
	if num >= maxSyscall {
		kfmt.Printf("syscall: ignoring handler registration for out-of-range number %d\n", num)
		return
	}
	d.handlers[num] = handler
}

// Dispatch invokes the handler selected by the RAX slot of the frame and
// stores its result back into RAX. Unknown numbers yield ENOSYS; no
// number, valid or not, can take down the kernel.
func (d *Dispatcher) Dispatch(frame *gate.Registers) {
	num := frame.RAX

	var handler Handler
	if num < maxSyscall {
		handler = d.handlers[num]
	}
	if handler == nil {
		var unknown int64 = ENOSYS
		frame.RAX = uint64(unknown)
		return
	}

	frame.RAX = uint64(handler(frame))
}
