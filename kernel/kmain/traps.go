package kmain

import (
	"badgeros/kernel"
	"badgeros/kernel/gate"
	"badgeros/kernel/kfmt"
	"badgeros/kernel/signal"
)

var (
	errKernelSyscall   = &kernel.Error{Module: "kmain", Message: "syscall trap from kernel mode"}
	errKernelPageFault = &kernel.Error{Module: "kmain", Message: "unrecoverable page fault in kernel mode"}
)

// SyscallEntry services a syscall trap. The live frame is snapshotted into
// the thread record and the dispatcher runs against that durable copy, so
// anything the handler does to the frame (fork result, exec entry, signal
// redirect) survives an immediate preemption.
func (k *Kernel) SyscallEntry(frame *gate.Registers) {
	if origin := k.gate.Enter(frame); origin != gate.FromUser {
		kfmt.Panic(errKernelSyscall)
	}

	cur := k.scheduler.Current()
	cur.Frame = *frame
	k.dispatcher.Dispatch(&cur.Frame)

	k.finishTrap(frame)
}

// TimerTick services the periodic timer interrupt: advance the clock and
// request a reschedule. A tick that lands while the kernel is already
// handling a trap only advances the clock; the outer trap reschedules.
func (k *Kernel) TimerTick(frame *gate.Registers) {
	k.gate.Enter(frame)
	k.ticks++

	if k.gate.Depth() > 1 {
		// Nested inside another trap; the outer one reschedules.
		k.gate.Leave(frame, nil)
		return
	}

	// Snapshot the interrupted context regardless of origin: a kernel
	// mode tick interrupts the idle loop, and resuming idle must restore
	// exactly the registers the tick preempted, not a stale frame.
	cur := k.scheduler.Current()
	cur.Frame = *frame
	k.scheduler.MarkNeedResched()

	k.finishTrap(frame)
}

// PageFaultEntry services a page fault. A write fault on a copy-on-write
// page is resolved transparently; everything else from user mode raises
// SIGSEGV in the faulting process. A kernel-mode fault is a kernel bug and
// halts.
func (k *Kernel) PageFaultEntry(frame *gate.Registers, faultAddr uintptr, write bool) {
	if origin := k.gate.Enter(frame); origin == gate.FromKernel {
		kfmt.Panic(errKernelPageFault)
	}

	cur := k.scheduler.Current()
	cur.Frame = *frame

	recovered := false
	if write && cur.Space != nil {
		recovered = cur.Space.HandleWriteFault(faultAddr) == nil
	}
	if !recovered {
		p, err := k.manager.ProcessFor(cur)
		if err != nil || p.Signals().Blocked()&signal.Mask(signal.SIGSEGV) != 0 {
			// No process to signal, or the fault signal is masked
			// and would just re-fault forever.
			k.manager.Exit(cur, 128+signal.SIGSEGV)
		} else {
			k.manager.Delivery().Post(p.Signals(), cur, signal.SIGSEGV)
		}
	}

	k.finishTrap(frame)
}

// finishTrap is the shared return-to-user path: honor a requested
// reschedule, deliver pending signals to the thread about to resume, and
// leave through its frame. A delivery that kills or stops the chosen
// thread sends the scheduler back for another one.
func (k *Kernel) finishTrap(frame *gate.Registers) {
	next := k.scheduler.Current()
	if k.scheduler.TakeNeedResched() || !next.Runnable() {
		next = k.scheduler.Schedule()
	}

	for next != k.idle {
		p, err := k.manager.ProcessFor(next)
		if err != nil {
			break
		}
		outcome := k.manager.Delivery().DeliverPending(p.Signals(), next)
		if outcome == signal.OutcomeTerminated || outcome == signal.OutcomeStopped {
			next = k.scheduler.Schedule()
			continue
		}
		break
	}

	*frame = next.Frame
	k.gate.Leave(frame, next.Space)
}
