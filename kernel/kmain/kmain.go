// Package kmain wires the execution core together: physical memory, the
// trap gate, the syscall surface, the scheduler and the process manager.
// Kmain is the only symbol the early boot code needs.
package kmain

import (
	"badgeros/kernel"
	"badgeros/kernel/cpu"
	"badgeros/kernel/driver/console"
	"badgeros/kernel/gate"
	"badgeros/kernel/kfmt"
	"badgeros/kernel/mm"
	"badgeros/kernel/mm/vmm"
	"badgeros/kernel/proc"
	"badgeros/kernel/sched"
	"badgeros/kernel/syscall"
	"badgeros/kernel/task"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
)

// kernelStackTop is the top of the trap-entry stack region mapped into
// every address space.
const kernelStackTop = uintptr(vmm.KernelSpaceBase + 0x410000)

// ProgramLoader resolves a program path to a loadable image. The
// filesystem layer implements it; the execution core only consumes the
// image format.
type ProgramLoader interface {
	LoadImage(path string) (*proc.Image, *kernel.Error)
}

// Kernel is the assembled execution core for one CPU.
type Kernel struct {
	cpu        *cpu.CPU
	gate       *gate.Gate
	alloc      *mm.Allocator
	scheduler  *sched.Scheduler
	manager    *proc.Manager
	dispatcher *syscall.Dispatcher
	idle       *task.Thread

	loader  ProgramLoader
	console proc.File

	// ticks counts timer interrupts since boot.
	ticks uint64
}

// NewKernel builds the execution core: frameCount physical frames behind
// the allocator, the default kernel regions in every address space, and
// the full syscall surface registered.
func NewKernel(frameCount int, loader ProgramLoader, console proc.File) *Kernel {
	c := cpu.New(0, kernelStackTop)

	idleFrame := gate.Registers{
		CS:     gate.KernelCS,
		SS:     gate.KernelSS,
		RFlags: gate.KernelRFlags,
		RSP:    uint64(kernelStackTop),
	}
	idle := task.New(0, task.PrivilegeKernel, idleFrame, nil)

	scheduler := sched.New(c, idle)
	alloc := mm.NewAllocator(frameCount)

	k := &Kernel{
		cpu:        c,
		gate:       gate.New(c),
		alloc:      alloc,
		scheduler:  scheduler,
		manager:    proc.NewManager(alloc, vmm.DefaultKernelRegions(), scheduler),
		dispatcher: syscall.NewDispatcher(),
		idle:       idle,
		loader:     loader,
		console:    console,
	}
	k.registerSyscalls()
	return k
}

// Scheduler exposes the scheduler to drivers that need to wake threads.
func (k *Kernel) Scheduler() *sched.Scheduler { return k.scheduler }

// Manager exposes the process manager.
func (k *Kernel) Manager() *proc.Manager { return k.manager }

// Ticks returns the number of timer interrupts since boot.
func (k *Kernel) Ticks() uint64 { return k.ticks }

// StartInit creates the first user process from an image, with the console
// wired to the three standard descriptors.
func (k *Kernel) StartInit(img *proc.Image) (uint64, *kernel.Error) {
	files := proc.NewFDTable()
	for fd := 0; fd < 3; fd++ {
		if err := files.InstallAt(fd, k.console); err != nil {
			return 0, err
		}
	}
	return k.manager.Create(img, files)
}

// Run enters the scheduler and never returns; with no runnable thread the
// CPU halts until the next interrupt.
func (k *Kernel) Run() {
	k.scheduler.Schedule()
	for {
		cpu.Halt()
	}
}

// Kmain assembles the kernel, starts the init program and hands the CPU to
// the scheduler. It is not expected to return; if it does, the early boot
// code halts the CPU.
//
//go:noinline
func Kmain(frameCount int, loader ProgramLoader, initPath string) {
	cons := console.New()
	kfmt.SetOutputSink(cons)
	k := NewKernel(frameCount, loader, cons)
	cons.SetWakeFn(k.manager.WakeReaders)
	kfmt.Printf("badgeros: %d frames, init %s\n", frameCount, initPath)

	img, err := loader.LoadImage(initPath)
	if err != nil {
		kfmt.Panic(err)
	}
	pid, err := k.StartInit(img)
	if err != nil {
		kfmt.Panic(err)
	}
	kfmt.Printf("badgeros: init running as pid %d\n", pid)

	k.Run()

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}
