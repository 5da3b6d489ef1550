package kmain

import (
	"badgeros/kernel"
	"badgeros/kernel/gate"
	"badgeros/kernel/mm/vmm"
	"badgeros/kernel/proc"
	"badgeros/kernel/signal"
	"badgeros/kernel/syscall"
	"badgeros/kernel/task"
)

// maxIOBytes caps a single read or write transfer.
const maxIOBytes = 0x10000

// syscallInsnLen is the length of the trap instruction; blocking syscalls
// rewind the saved instruction pointer by this much so a woken thread
// re-executes the call.
const syscallInsnLen = 2

// maxUserPathLen bounds path strings read from user memory.
const maxUserPathLen = 256

// userActionSize is the byte size of the user-visible sigaction record:
// handler, mask, flags and restorer, eight bytes each.
const userActionSize = 32

func (k *Kernel) registerSyscalls() {
	k.dispatcher.Register(syscall.SysExit, k.sysExit)
	k.dispatcher.Register(syscall.SysWrite, k.sysWrite)
	k.dispatcher.Register(syscall.SysRead, k.sysRead)
	k.dispatcher.Register(syscall.SysYield, k.sysYield)
	k.dispatcher.Register(syscall.SysGetTime, k.sysGetTime)
	k.dispatcher.Register(syscall.SysFork, k.sysFork)
	k.dispatcher.Register(syscall.SysSigaction, k.sysSigaction)
	k.dispatcher.Register(syscall.SysSigprocmask, k.sysSigprocmask)
	k.dispatcher.Register(syscall.SysSigreturn, k.sysSigreturn)
	k.dispatcher.Register(syscall.SysPause, k.sysPause)
	k.dispatcher.Register(syscall.SysGetPID, k.sysGetPID)
	k.dispatcher.Register(syscall.SysExec, k.sysExec)
	k.dispatcher.Register(syscall.SysWait4, k.sysWait4)
	k.dispatcher.Register(syscall.SysKill, k.sysKill)
}

// current returns the calling thread and its process. Syscalls only run on
// behalf of the thread owning the CPU.
func (k *Kernel) current() (*task.Thread, *proc.Process, *kernel.Error) {
	cur := k.scheduler.Current()
	p, err := k.manager.ProcessFor(cur)
	if err != nil {
		return cur, nil, err
	}
	return cur, p, nil
}

func (k *Kernel) sysExit(frame *gate.Registers) int64 {
	cur := k.scheduler.Current()
	k.manager.Exit(cur, int32(frame.RDI))
	return 0
}

func (k *Kernel) sysWrite(frame *gate.Registers) int64 {
	cur, p, err := k.current()
	if err != nil {
		return syscall.ESRCH
	}
	fd := int(int64(frame.RDI))
	count := frame.RDX
	if count > maxIOBytes {
		count = maxIOBytes
	}
	if count == 0 {
		return 0
	}

	buf := make([]byte, count)
	if err := vmm.CopyFromUser(cur.Space, uintptr(frame.RSI), buf); err != nil {
		return syscall.EFAULT
	}

	n, werr := p.Files().Write(fd, buf)
	if werr == proc.ErrBadDescriptor {
		return syscall.EBADF
	}
	if werr != nil {
		return syscall.EIO
	}
	return int64(n)
}

func (k *Kernel) sysRead(frame *gate.Registers) int64 {
	cur, p, err := k.current()
	if err != nil {
		return syscall.ESRCH
	}
	fd := int(int64(frame.RDI))
	count := frame.RDX
	if count > maxIOBytes {
		count = maxIOBytes
	}
	if count == 0 {
		return 0
	}

	buf := make([]byte, count)
	n, rerr := p.Files().Read(fd, buf)
	if rerr == proc.ErrBadDescriptor {
		return syscall.EBADF
	}
	if rerr == proc.ErrEndOfFile {
		return 0
	}
	if rerr != nil {
		return syscall.EIO
	}
	if n == 0 {
		// No data yet. A pending signal takes priority; otherwise the
		// thread sleeps and re-executes the call once a driver wakes
		// it.
		if p.Signals().HasDeliverable() {
			return syscall.EINTR
		}
		return k.blockAndRestart(cur, task.BlockRead, syscall.SysRead)
	}

	if err := vmm.CopyToUser(cur.Space, uintptr(frame.RSI), buf[:n]); err != nil {
		return syscall.EFAULT
	}
	return int64(n)
}

func (k *Kernel) sysYield(_ *gate.Registers) int64 {
	k.scheduler.MarkNeedResched()
	return 0
}

func (k *Kernel) sysGetTime(_ *gate.Registers) int64 {
	return int64(k.ticks)
}

func (k *Kernel) sysFork(_ *gate.Registers) int64 {
	cur := k.scheduler.Current()
	pid, err := k.manager.Fork(cur)
	switch err {
	case nil:
		return int64(pid)
	case proc.ErrNoProcess:
		return syscall.ESRCH
	default:
		return syscall.ENOMEM
	}
}

func (k *Kernel) sysGetPID(_ *gate.Registers) int64 {
	return int64(k.scheduler.Current().ProcessID())
}

func (k *Kernel) sysPause(_ *gate.Registers) int64 {
	cur, p, err := k.current()
	if err != nil {
		return syscall.ESRCH
	}
	if p.Signals().HasActionable() {
		return syscall.EINTR
	}

	// Pause sleeps until a signal with a visible effect arrives and then
	// reports EINTR: the saved result register already carries it when
	// the wakeup resumes the thread. Signals that resolve to no action
	// never wake the sleep.
	k.scheduler.Park(cur, task.BlockPause)
	return syscall.EINTR
}

func (k *Kernel) sysExec(frame *gate.Registers) int64 {
	cur, _, err := k.current()
	if err != nil {
		return syscall.ESRCH
	}

	path, perr := k.readUserPath(cur.Space, uintptr(frame.RDI))
	if perr != nil {
		return syscall.EFAULT
	}
	img, lerr := k.loader.LoadImage(path)
	if lerr != nil {
		return syscall.EIO
	}

	switch k.manager.Exec(cur, img) {
	case nil:
		// The thread record now carries the new entry frame; the zero
		// result lands in its fresh result register.
		return 0
	case proc.ErrBadImage:
		return syscall.EINVAL
	default:
		return syscall.ENOMEM
	}
}

func (k *Kernel) sysWait4(frame *gate.Registers) int64 {
	cur, _, err := k.current()
	if err != nil {
		return syscall.ESRCH
	}
	const waitNoHang = 1
	targetPID := int64(frame.RDI)
	statusAddr := uintptr(frame.RSI)
	noHang := frame.RDX&waitNoHang != 0

	pid, status, werr := k.manager.ReapChild(cur, targetPID)
	switch werr {
	case nil:
	case proc.ErrNoChildren:
		return syscall.ECHILD
	case proc.ErrNoExitedChild:
		if noHang {
			return 0
		}
		return k.blockAndRestart(cur, task.BlockWait, syscall.SysWait4)
	default:
		return syscall.ESRCH
	}

	if statusAddr != 0 {
		var buf [4]byte
		putU32(buf[:], uint32(status))
		if err := vmm.CopyToUser(cur.Space, statusAddr, buf[:]); err != nil {
			return syscall.EFAULT
		}
	}
	return int64(pid)
}

func (k *Kernel) sysKill(frame *gate.Registers) int64 {
	pid := frame.RDI
	sig := uint32(frame.RSI)

	switch k.manager.Kill(pid, sig) {
	case nil:
		return 0
	case proc.ErrBadSignal:
		return syscall.EINVAL
	default:
		return syscall.ESRCH
	}
}

func (k *Kernel) sysSigaction(frame *gate.Registers) int64 {
	cur, p, err := k.current()
	if err != nil {
		return syscall.ESRCH
	}
	sig := uint32(frame.RDI)
	newAddr := uintptr(frame.RSI)
	oldAddr := uintptr(frame.RDX)

	if signal.Mask(sig) == 0 || signal.Uncatchable(sig) {
		return syscall.EINVAL
	}

	prev := p.Signals().ActionFor(sig)
	if newAddr != 0 {
		var buf [userActionSize]byte
		if err := vmm.CopyFromUser(cur.Space, newAddr, buf[:]); err != nil {
			return syscall.EFAULT
		}
		action := signal.Action{
			Handler: getU64(buf[0:]),
			Mask:    getU64(buf[8:]),
			Flags:   getU64(buf[16:]),
		}
		if _, ok := p.Signals().SetAction(sig, action); !ok {
			return syscall.EINVAL
		}
	}
	if oldAddr != 0 {
		var buf [userActionSize]byte
		putU64(buf[0:], prev.Handler)
		putU64(buf[8:], prev.Mask)
		putU64(buf[16:], prev.Flags)
		if err := vmm.CopyToUser(cur.Space, oldAddr, buf[:]); err != nil {
			return syscall.EFAULT
		}
	}
	return 0
}

// Sigprocmask how values, matching the Linux ABI.
const (
	sigBlock   = 0
	sigUnblock = 1
	sigSetMask = 2
)

func (k *Kernel) sysSigprocmask(frame *gate.Registers) int64 {
	cur, p, err := k.current()
	if err != nil {
		return syscall.ESRCH
	}
	how := frame.RDI
	newAddr := uintptr(frame.RSI)
	oldAddr := uintptr(frame.RDX)

	old := p.Signals().Blocked()
	if newAddr != 0 {
		var buf [8]byte
		if err := vmm.CopyFromUser(cur.Space, newAddr, buf[:]); err != nil {
			return syscall.EFAULT
		}
		mask := getU64(buf[:])
		switch how {
		case sigBlock:
			p.Signals().BlockSignals(mask)
		case sigUnblock:
			p.Signals().UnblockSignals(mask)
		case sigSetMask:
			p.Signals().SetBlocked(mask)
		default:
			return syscall.EINVAL
		}
	}
	if oldAddr != 0 {
		var buf [8]byte
		putU64(buf[:], old)
		if err := vmm.CopyToUser(cur.Space, oldAddr, buf[:]); err != nil {
			return syscall.EFAULT
		}
	}
	return 0
}

func (k *Kernel) sysSigreturn(_ *gate.Registers) int64 {
	cur, p, err := k.current()
	if err != nil {
		return syscall.ESRCH
	}
	if err := signal.Sigreturn(p.Signals(), cur); err != nil {
		return syscall.EINVAL
	}
	// The restored frame carries the interrupted result register; hand
	// it back so the dispatcher's store is a no-op.
	return int64(cur.Frame.RAX)
}

// blockAndRestart parks the calling thread and arranges for the trap
// instruction to re-execute when it wakes: the instruction pointer rewinds
// past the trap instruction and the returned value re-arms the syscall
// number register.
func (k *Kernel) blockAndRestart(cur *task.Thread, reason task.BlockReason, sysNum int64) int64 {
	cur.Frame.RIP -= syscallInsnLen
	k.scheduler.Park(cur, reason)
	return sysNum
}

// readUserPath copies a NUL-terminated path out of user memory.
func (k *Kernel) readUserPath(space *vmm.AddressSpace, addr uintptr) (string, *kernel.Error) {
	var buf [maxUserPathLen]byte
	for i := 0; i < maxUserPathLen; i++ {
		if err := vmm.CopyFromUser(space, addr+uintptr(i), buf[i:i+1]); err != nil {
			return "", err
		}
		if buf[i] == 0 {
			return string(buf[:i]), nil
		}
	}
	return string(buf[:]), nil
}

func getU64(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

func putU32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}
