package kmain

import (
	"testing"

	"badgeros/kernel"
	"badgeros/kernel/gate"
	"badgeros/kernel/mm"
	"badgeros/kernel/mm/vmm"
	"badgeros/kernel/proc"
	"badgeros/kernel/signal"
	"badgeros/kernel/sync"
	"badgeros/kernel/syscall"
)

var errImageNotFound = &kernel.Error{Module: "kmain_test", Message: "image not found"}

type testLoader struct {
	images map[string]*proc.Image
}

func (l *testLoader) LoadImage(path string) (*proc.Image, *kernel.Error) {
	img, ok := l.images[path]
	if !ok {
		return nil, errImageNotFound
	}
	return img, nil
}

// consoleFile is an in-memory console: writes append to out, reads consume
// whatever a test primed into in.
type consoleFile struct {
	out []byte
	in  []byte
}

func (f *consoleFile) ReadAt(dst []byte, offset int64) (int, *kernel.Error) {
	if offset >= int64(len(f.in)) {
		return 0, nil
	}
	return kernel.Memcopy(dst, f.in[offset:]), nil
}

func (f *consoleFile) WriteAt(src []byte, _ int64) (int, *kernel.Error) {
	f.out = append(f.out, src...)
	return len(src), nil
}

const (
	initEntry = uint64(0x401000)
	toolEntry = uint64(0x501000)
	dataAddr  = uintptr(0x402000)
)

func initImage() *proc.Image {
	return &proc.Image{
		Entry: initEntry,
		Segments: []proc.Segment{
			{VirtAddr: 0x401000, MemSize: mm.PageSize, Data: []byte{0x0f, 0x05, 0xc3}, Flags: proc.SegmentRead | proc.SegmentExec},
			{VirtAddr: dataAddr, MemSize: 2 * mm.PageSize, Data: []byte("initialized data"), Flags: proc.SegmentRead | proc.SegmentWrite},
		},
	}
}

func toolImage() *proc.Image {
	return &proc.Image{
		Entry: toolEntry,
		Segments: []proc.Segment{
			{VirtAddr: 0x501000, MemSize: mm.PageSize, Data: []byte{0x0f, 0x05}, Flags: proc.SegmentRead | proc.SegmentExec},
		},
	}
}

// bootTestKernel assembles a kernel, starts init and schedules it onto the
// CPU. It returns the live register area as the init thread left it.
func bootTestKernel(t *testing.T) (*Kernel, *consoleFile, uint64, gate.Registers) {
	t.Helper()
	console := &consoleFile{}
	loader := &testLoader{images: map[string]*proc.Image{
		"/bin/init":  initImage(),
		"/sbin/tool": toolImage(),
	}}
	k := NewKernel(4096, loader, console)

	pid, err := k.StartInit(initImage())
	if err != nil {
		t.Fatalf("unexpected init start error: %v", err)
	}
	cur := k.scheduler.Schedule()
	if cur == k.idle {
		t.Fatal("expected the init thread to be scheduled")
	}
	return k, console, pid, cur.Frame
}

func TestWriteSyscallReachesConsole(t *testing.T) {
	k, console, _, live := bootTestKernel(t)

	live.RAX = syscall.SysWrite
	live.RDI = 1
	live.RSI = uint64(dataAddr)
	live.RDX = 16
	k.SyscallEntry(&live)

	if got := int64(live.RAX); got != 16 {
		t.Fatalf("expected a 16 byte write; got %d", got)
	}
	if got := string(console.out); got != "initialized data" {
		t.Fatalf("expected the user data on the console; got %q", got)
	}
}

func TestWriteBadDescriptor(t *testing.T) {
	k, _, _, live := bootTestKernel(t)

	live.RAX = syscall.SysWrite
	live.RDI = 17
	live.RSI = uint64(dataAddr)
	live.RDX = 4
	k.SyscallEntry(&live)

	if got := int64(live.RAX); got != syscall.EBADF {
		t.Fatalf("expected EBADF; got %d", got)
	}
}

func TestWriteBadUserPointer(t *testing.T) {
	k, _, _, live := bootTestKernel(t)

	live.RAX = syscall.SysWrite
	live.RDI = 1
	live.RSI = uint64(vmm.KernelSpaceBase) + 0x100000
	live.RDX = 4
	k.SyscallEntry(&live)

	if got := int64(live.RAX); got != syscall.EFAULT {
		t.Fatalf("expected EFAULT for a kernel address; got %d", got)
	}
}

func TestGetPIDSyscall(t *testing.T) {
	k, _, pid, live := bootTestKernel(t)

	live.RAX = syscall.SysGetPID
	k.SyscallEntry(&live)
	if got := live.RAX; got != pid {
		t.Fatalf("expected pid %d; got %d", pid, got)
	}
}

func TestUnknownSyscallReturnsENOSYS(t *testing.T) {
	k, _, _, live := bootTestKernel(t)

	live.RAX = 63
	k.SyscallEntry(&live)
	if got := int64(live.RAX); got != syscall.ENOSYS {
		t.Fatalf("expected ENOSYS; got %d", got)
	}
}

func TestGetTimeAdvancesWithTicks(t *testing.T) {
	k, _, _, live := bootTestKernel(t)

	live.RAX = syscall.SysGetTime
	k.SyscallEntry(&live)
	if got := int64(live.RAX); got != 0 {
		t.Fatalf("expected time 0 before any tick; got %d", got)
	}

	k.TimerTick(&live)
	k.TimerTick(&live)

	live.RAX = syscall.SysGetTime
	k.SyscallEntry(&live)
	if got := int64(live.RAX); got != 2 {
		t.Fatalf("expected time 2 after two ticks; got %d", got)
	}
}

func TestTimerTickPreservesIdleContext(t *testing.T) {
	console := &consoleFile{}
	loader := &testLoader{images: map[string]*proc.Image{}}
	k := NewKernel(4096, loader, console)

	// With nothing runnable the CPU idles in kernel mode; a tick that
	// interrupts the idle loop must resume it exactly where it stopped.
	idleRIP := uint64(vmm.KernelSpaceBase) + 0x1234a0
	live := k.idle.Frame
	live.RIP = idleRIP
	live.RBX = 0x1111

	k.TimerTick(&live)

	if got := live.RIP; got != idleRIP {
		t.Fatalf("expected the interrupted idle context restored; frame resumes at %x", got)
	}
	if got := live.RBX; got != uint64(0x1111) {
		t.Fatalf("expected the interrupted registers preserved; got RBX %x", got)
	}
	if got := k.scheduler.Current(); got != k.idle {
		t.Fatalf("expected idle still current; got process %d", got.ProcessID())
	}
}

func TestForkChildExitWait(t *testing.T) {
	k, _, initPID, live := bootTestKernel(t)

	live.RAX = syscall.SysFork
	live.RIP = initEntry + 2
	k.SyscallEntry(&live)

	childPID := live.RAX
	if int64(childPID) <= int64(initPID) {
		t.Fatalf("expected a fresh child pid in the parent's result; got %d", childPID)
	}

	// The next timer tick rotates to the child, whose frame must read a
	// zero fork result at the same saved instruction.
	k.TimerTick(&live)
	child := k.scheduler.Current()
	if child.ProcessID() != childPID {
		t.Fatalf("expected the child on the CPU; got process %d", child.ProcessID())
	}
	if got := live.RAX; got != 0 {
		t.Fatalf("expected the child to observe a zero fork result; got %d", got)
	}
	if got := live.RIP; got != initEntry+2 {
		t.Fatalf("expected the child to resume at the parent's position; got %x", got)
	}

	// Child exits; control falls back to the parent.
	live.RAX = syscall.SysExit
	live.RDI = 7
	k.SyscallEntry(&live)
	if got := k.scheduler.Current().ProcessID(); got != initPID {
		t.Fatalf("expected the parent back on the CPU; got process %d", got)
	}

	// The parent reaps the exit status into user memory.
	live.RAX = syscall.SysWait4
	live.RDI = ^uint64(0)
	live.RSI = uint64(dataAddr)
	live.RDX = 0
	k.SyscallEntry(&live)
	if got := live.RAX; got != childPID {
		t.Fatalf("expected wait to return the child pid %d; got %d", childPID, got)
	}

	parent, err := k.manager.Find(initPID)
	if err != nil {
		t.Fatalf("parent vanished: %v", err)
	}
	var buf [4]byte
	if err := vmm.CopyFromUser(parent.Space(), dataAddr, buf[:]); err != nil {
		t.Fatalf("unexpected user copy error: %v", err)
	}
	if got := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24; got != 7 {
		t.Fatalf("expected exit status 7 in user memory; got %d", got)
	}
}

func TestBlockingWaitRestartsAcrossChildExit(t *testing.T) {
	k, _, initPID, live := bootTestKernel(t)

	live.RAX = syscall.SysFork
	live.RIP = initEntry + 2
	k.SyscallEntry(&live)
	childPID := live.RAX

	// Nothing exited: the wait parks the parent and rewinds the trap
	// instruction so the call restarts on wakeup.
	live.RAX = syscall.SysWait4
	live.RDI = ^uint64(0)
	live.RSI = 0
	live.RDX = 0
	k.SyscallEntry(&live)

	// The child now owns the CPU.
	if got := k.scheduler.Current().ProcessID(); got != childPID {
		t.Fatalf("expected the child on the CPU; got process %d", got)
	}

	// Child exit wakes the parent; the live frame is the parent's
	// restart frame: syscall number re-armed, pointer rewound.
	live.RAX = syscall.SysExit
	live.RDI = 3
	k.SyscallEntry(&live)
	if got := k.scheduler.Current().ProcessID(); got != initPID {
		t.Fatalf("expected the woken parent on the CPU; got process %d", got)
	}
	if got := live.RAX; got != syscall.SysWait4 {
		t.Fatalf("expected the re-armed wait syscall number; got %d", got)
	}
	if got := live.RIP; got != initEntry {
		t.Fatalf("expected the pointer rewound to the trap instruction; got %x", got)
	}

	// Re-executing the trap completes the wait.
	k.SyscallEntry(&live)
	if got := live.RAX; got != childPID {
		t.Fatalf("expected the restarted wait to reap child %d; got %d", childPID, got)
	}
}

func TestWaitNoHangAndECHILD(t *testing.T) {
	k, _, _, live := bootTestKernel(t)

	live.RAX = syscall.SysWait4
	live.RDI = ^uint64(0)
	live.RDX = 0
	k.SyscallEntry(&live)
	if got := int64(live.RAX); got != syscall.ECHILD {
		t.Fatalf("expected ECHILD with no children; got %d", got)
	}

	live.RAX = syscall.SysFork
	k.SyscallEntry(&live)

	live.RAX = syscall.SysWait4
	live.RDI = ^uint64(0)
	live.RDX = 1
	k.SyscallEntry(&live)
	if got := int64(live.RAX); got != 0 {
		t.Fatalf("expected a no-hang wait to return zero; got %d", got)
	}
}

func TestYieldRotatesThreads(t *testing.T) {
	k, _, initPID, live := bootTestKernel(t)

	live.RAX = syscall.SysFork
	k.SyscallEntry(&live)
	childPID := live.RAX

	live.RAX = syscall.SysYield
	k.SyscallEntry(&live)
	if got := k.scheduler.Current().ProcessID(); got != childPID {
		t.Fatalf("expected yield to rotate to the child; got process %d", got)
	}
	if got := live.RAX; got != 0 {
		t.Fatalf("expected the child frame's zero fork result; got %d", got)
	}

	live.RAX = syscall.SysYield
	k.SyscallEntry(&live)
	if got := k.scheduler.Current().ProcessID(); got != initPID {
		t.Fatalf("expected yield to rotate back to init; got process %d", got)
	}
}

func TestExecSyscall(t *testing.T) {
	k, _, initPID, live := bootTestKernel(t)

	p, err := k.manager.Find(initPID)
	if err != nil {
		t.Fatalf("init vanished: %v", err)
	}
	if err := vmm.CopyToUser(p.Space(), dataAddr, []byte("/sbin/tool\x00")); err != nil {
		t.Fatalf("unexpected user copy error: %v", err)
	}

	live.RAX = syscall.SysExec
	live.RDI = uint64(dataAddr)
	k.SyscallEntry(&live)

	if got := int64(live.RAX); got != 0 {
		t.Fatalf("unexpected exec result %d", got)
	}
	if got := live.RIP; got != toolEntry {
		t.Fatalf("expected the live frame at the new entry; got %x", got)
	}

	// The old data segment must be gone from the replaced image.
	var buf [4]byte
	if err := vmm.CopyFromUser(p.Space(), dataAddr, buf[:]); err == nil {
		t.Fatal("expected the old image to be unmapped after exec")
	}
}

func TestExecSurvivesImmediatePreemption(t *testing.T) {
	k, _, initPID, live := bootTestKernel(t)

	// A sibling thread guarantees the tick actually switches away.
	live.RAX = syscall.SysFork
	live.RIP = initEntry + 2
	k.SyscallEntry(&live)
	childPID := live.RAX

	p, _ := k.manager.Find(initPID)
	if err := vmm.CopyToUser(p.Space(), dataAddr, []byte("/sbin/tool\x00")); err != nil {
		t.Fatalf("unexpected user copy error: %v", err)
	}
	live.RAX = syscall.SysExec
	live.RDI = uint64(dataAddr)
	k.SyscallEntry(&live)
	if got := int64(live.RAX); got != 0 {
		t.Fatalf("unexpected exec result %d", got)
	}

	// Force a preemption the instant the handler returns, run the
	// sibling, then rotate back: the replaced image must still be fully
	// in place in the thread record.
	k.TimerTick(&live)
	if got := k.scheduler.Current().ProcessID(); got != childPID {
		t.Fatalf("expected the sibling on the CPU; got process %d", got)
	}
	k.TimerTick(&live)
	if got := k.scheduler.Current().ProcessID(); got != initPID {
		t.Fatalf("expected the exec'd thread back on the CPU; got process %d", got)
	}
	if got := live.RIP; got != toolEntry {
		t.Fatalf("expected the new entry after preemption; got %x", got)
	}
	if got := int64(live.RAX); got != 0 {
		t.Fatalf("expected the fresh zero result after preemption; got %d", got)
	}
	var buf [4]byte
	if err := vmm.CopyFromUser(p.Space(), dataAddr, buf[:]); err == nil {
		t.Fatal("expected the old image gone after the preempted exec")
	}
}

func TestExecHoldsNoLockAcrossReturn(t *testing.T) {
	k, _, initPID, live := bootTestKernel(t)

	p, _ := k.manager.Find(initPID)
	if err := vmm.CopyToUser(p.Space(), dataAddr, []byte("/sbin/tool\x00")); err != nil {
		t.Fatalf("unexpected user copy error: %v", err)
	}
	live.RAX = syscall.SysExec
	live.RDI = uint64(dataAddr)
	k.SyscallEntry(&live)
	if got := int64(live.RAX); got != 0 {
		t.Fatalf("unexpected exec result %d", got)
	}

	// The trap already returned through the gate's live lock census, so
	// reaching this point means no lock crossed the privilege drop;
	// the census must also read zero afterwards.
	if got := sync.HeldLockCount(); got != 0 {
		t.Fatalf("expected no spinlock held after the exec trap; got %d", got)
	}
}

func TestExecUnknownPathFails(t *testing.T) {
	k, _, initPID, live := bootTestKernel(t)

	p, _ := k.manager.Find(initPID)
	if err := vmm.CopyToUser(p.Space(), dataAddr, []byte("/no/such\x00")); err != nil {
		t.Fatalf("unexpected user copy error: %v", err)
	}

	savedRIP := live.RIP
	live.RAX = syscall.SysExec
	live.RDI = uint64(dataAddr)
	k.SyscallEntry(&live)

	if got := int64(live.RAX); got != syscall.EIO {
		t.Fatalf("expected EIO for an unknown image; got %d", got)
	}
	if got := live.RIP; got != savedRIP {
		t.Fatalf("expected a failed exec to keep the caller's position; got %x", got)
	}
}

func TestReadBlocksUntilConsoleData(t *testing.T) {
	k, console, initPID, live := bootTestKernel(t)

	live.RAX = syscall.SysRead
	live.RDI = 0
	live.RSI = uint64(dataAddr)
	live.RDX = 8
	live.RIP = initEntry + 2
	k.SyscallEntry(&live)

	// No data: the thread parks and the idle thread takes over.
	if got := k.scheduler.Current(); got != k.idle {
		t.Fatalf("expected the idle thread on the CPU; got process %d", got.ProcessID())
	}

	// The console driver delivers data and wakes the reader.
	console.in = append(console.in, []byte("hi there")...)
	k.manager.WakeReaders()

	k.TimerTick(&live)
	if got := k.scheduler.Current().ProcessID(); got != initPID {
		t.Fatalf("expected the reader back on the CPU; got process %d", got)
	}
	if got := live.RAX; got != syscall.SysRead {
		t.Fatalf("expected the re-armed read syscall number; got %d", got)
	}

	k.SyscallEntry(&live)
	if got := int64(live.RAX); got != 8 {
		t.Fatalf("expected an 8 byte read; got %d", got)
	}
	p, _ := k.manager.Find(initPID)
	buf := make([]byte, 8)
	if err := vmm.CopyFromUser(p.Space(), dataAddr, buf); err != nil {
		t.Fatalf("unexpected user copy error: %v", err)
	}
	if string(buf) != "hi there" {
		t.Fatalf("expected console data in user memory; got %q", buf)
	}
}

// regularFile is a finite file: reads past the last byte hit end of file
// rather than waiting for more data.
type regularFile struct {
	data []byte
}

func (f *regularFile) ReadAt(dst []byte, offset int64) (int, *kernel.Error) {
	if offset >= int64(len(f.data)) {
		return 0, proc.ErrEndOfFile
	}
	return kernel.Memcopy(dst, f.data[offset:]), nil
}

func (f *regularFile) WriteAt(src []byte, _ int64) (int, *kernel.Error) {
	return len(src), nil
}

func TestReadReturnsZeroAtEndOfFile(t *testing.T) {
	k, _, initPID, live := bootTestKernel(t)

	p, _ := k.manager.Find(initPID)
	fd, err := p.Files().Install(&regularFile{data: []byte("data")})
	if err != nil {
		t.Fatalf("unexpected install error: %v", err)
	}

	live.RAX = syscall.SysRead
	live.RDI = uint64(fd)
	live.RSI = uint64(dataAddr)
	live.RDX = 16
	k.SyscallEntry(&live)
	if got := int64(live.RAX); got != 4 {
		t.Fatalf("expected a 4 byte read; got %d", got)
	}

	// At end of file the read completes with zero instead of parking
	// the caller to wait for data that will never come.
	live.RAX = syscall.SysRead
	live.RDI = uint64(fd)
	k.SyscallEntry(&live)
	if got := int64(live.RAX); got != 0 {
		t.Fatalf("expected a zero-length read at end of file; got %d", got)
	}
	if got := k.scheduler.Current().ProcessID(); got != initPID {
		t.Fatalf("expected the reader still running; got process %d", got)
	}
}

func TestPauseKillHandlerSigreturn(t *testing.T) {
	k, _, initPID, live := bootTestKernel(t)
	const handlerAddr = uint64(0x401100)

	// Register a SIGTERM handler through the syscall surface.
	p, _ := k.manager.Find(initPID)
	var action [userActionSize]byte
	putU64(action[0:], handlerAddr)
	if err := vmm.CopyToUser(p.Space(), dataAddr, action[:]); err != nil {
		t.Fatalf("unexpected user copy error: %v", err)
	}
	live.RAX = syscall.SysSigaction
	live.RDI = signal.SIGTERM
	live.RSI = uint64(dataAddr)
	live.RDX = 0
	k.SyscallEntry(&live)
	if got := int64(live.RAX); got != 0 {
		t.Fatalf("unexpected sigaction result %d", got)
	}

	// Pause parks the thread until a signal arrives.
	pauseRIP := live.RIP
	live.RAX = syscall.SysPause
	k.SyscallEntry(&live)
	if got := k.scheduler.Current(); got != k.idle {
		t.Fatalf("expected the idle thread while paused; got process %d", got.ProcessID())
	}

	if err := k.manager.Kill(initPID, signal.SIGTERM); err != nil {
		t.Fatalf("unexpected kill error: %v", err)
	}

	// The next tick resumes the thread inside its handler.
	k.TimerTick(&live)
	if got := live.RIP; got != handlerAddr {
		t.Fatalf("expected the frame redirected to the handler; got %x", got)
	}
	if got := live.RDI; got != signal.SIGTERM {
		t.Fatalf("expected the signal number as first argument; got %d", got)
	}

	// Sigreturn restores the interrupted pause frame with EINTR.
	live.RAX = syscall.SysSigreturn
	k.SyscallEntry(&live)
	if got := int64(live.RAX); got != syscall.EINTR {
		t.Fatalf("expected the restored pause result EINTR; got %d", got)
	}
	if got := live.RIP; got != pauseRIP {
		t.Fatalf("expected the pre-signal position restored; got %x", got)
	}
}

func TestPauseSleepsThroughInvisibleSignals(t *testing.T) {
	k, _, initPID, live := bootTestKernel(t)

	live.RAX = syscall.SysPause
	k.SyscallEntry(&live)
	if got := k.scheduler.Current(); got != k.idle {
		t.Fatalf("expected idle while paused; got process %d", got.ProcessID())
	}

	// A default-ignored signal resolves to no visible action and must
	// not end the pause.
	if err := k.manager.Kill(initPID, signal.SIGCHLD); err != nil {
		t.Fatalf("unexpected kill error: %v", err)
	}
	k.TimerTick(&live)
	if got := k.scheduler.Current(); got != k.idle {
		t.Fatalf("expected the pause to continue; got process %d", got.ProcessID())
	}

	// A terminating signal ends it for good.
	if err := k.manager.Kill(initPID, signal.SIGTERM); err != nil {
		t.Fatalf("unexpected kill error: %v", err)
	}
	k.TimerTick(&live)
	if _, err := k.manager.Find(initPID); err == nil {
		t.Fatal("expected the paused process terminated by SIGTERM")
	}
}

func TestKillDefaultTerminates(t *testing.T) {
	k, _, _, live := bootTestKernel(t)

	live.RAX = syscall.SysFork
	k.SyscallEntry(&live)
	childPID := live.RAX

	live.RAX = syscall.SysKill
	live.RDI = childPID
	live.RSI = signal.SIGKILL
	k.SyscallEntry(&live)
	if got := int64(live.RAX); got != 0 {
		t.Fatalf("unexpected kill result %d", got)
	}

	// The child dies on its way back to user mode; the parent reaps the
	// signal exit status.
	k.TimerTick(&live)
	live.RAX = syscall.SysWait4
	live.RDI = ^uint64(0)
	live.RSI = 0
	live.RDX = 0
	k.SyscallEntry(&live)
	if got := live.RAX; got != childPID {
		t.Fatalf("expected to reap child %d; got %d", childPID, got)
	}

	child, err := k.manager.Find(childPID)
	if err == nil {
		t.Fatalf("expected the reaped child gone from the table; got state %d", child.State())
	}
}

func TestSigprocmaskBlocksDelivery(t *testing.T) {
	k, _, initPID, live := bootTestKernel(t)

	p, _ := k.manager.Find(initPID)
	var mask [8]byte
	putU64(mask[:], signal.Mask(signal.SIGUSR1))
	if err := vmm.CopyToUser(p.Space(), dataAddr, mask[:]); err != nil {
		t.Fatalf("unexpected user copy error: %v", err)
	}

	live.RAX = syscall.SysSigprocmask
	live.RDI = sigBlock
	live.RSI = uint64(dataAddr)
	live.RDX = 0
	k.SyscallEntry(&live)
	if got := int64(live.RAX); got != 0 {
		t.Fatalf("unexpected sigprocmask result %d", got)
	}

	// A blocked SIGUSR1 stays pending instead of killing the process.
	if err := k.manager.Kill(initPID, signal.SIGUSR1); err != nil {
		t.Fatalf("unexpected kill error: %v", err)
	}
	k.TimerTick(&live)
	if got := k.scheduler.Current().ProcessID(); got != initPID {
		t.Fatalf("expected the process to survive the blocked signal; got process %d", got)
	}

	// Unblocking releases the pending signal; the default action kills
	// the process on the next return to user mode.
	live.RAX = syscall.SysSigprocmask
	live.RDI = sigUnblock
	live.RSI = uint64(dataAddr)
	live.RDX = 0
	k.SyscallEntry(&live)
	if got := k.scheduler.Current(); got != k.idle {
		t.Fatalf("expected the process terminated by SIGUSR1; got process %d", got.ProcessID())
	}
}

func TestPageFaultResolvesCopyOnWrite(t *testing.T) {
	k, _, initPID, live := bootTestKernel(t)

	live.RAX = syscall.SysFork
	k.SyscallEntry(&live)

	// The parent's data pages went read-only at the fork; a user write
	// fault must resolve transparently and resume the same thread.
	k.PageFaultEntry(&live, dataAddr+5, true)
	if got := k.scheduler.Current().ProcessID(); got != initPID {
		t.Fatalf("expected the writer resumed after the fault; got process %d", got)
	}

	p, _ := k.manager.Find(initPID)
	if err := vmm.CopyToUser(p.Space(), dataAddr, []byte("x")); err != nil {
		t.Fatalf("expected the page writable after the fault: %v", err)
	}
}

func TestPageFaultSegfaultsOnBadAccess(t *testing.T) {
	k, _, initPID, live := bootTestKernel(t)

	k.PageFaultEntry(&live, 0x900000, false)

	if got := k.scheduler.Current(); got != k.idle {
		t.Fatalf("expected the faulting process terminated; got process %d", got.ProcessID())
	}
	if _, err := k.manager.Find(initPID); err == nil {
		t.Fatal("expected the faulting orphan dropped from the table")
	}
}
