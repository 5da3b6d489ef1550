package mm

import (
	"badgeros/kernel"
	ksync "badgeros/kernel/sync"
)

// allocBaseFrame is the first frame the allocator hands out. The frames
// below 8MiB hold firmware areas and the kernel image and are never
// allocatable.
const allocBaseFrame = Frame(0x800)

var (
	// ErrOutOfFrames is returned when no physical frame is available to
	// back an allocation request.
	ErrOutOfFrames = &kernel.Error{Module: "mm", Message: "out of physical frames"}

	errFrameNotAllocated = &kernel.Error{Module: "mm", Message: "frame is not allocated"}
)

// Allocator owns the machine's allocatable physical frames together with the
// reference count of each frame. The reference counts are what make
// copy-on-write sharing across address spaces unambiguous: a frame is shared
// exactly when its count is greater than one, and the allocator, not the
// address spaces pointing at the frame, decides when the frame is released.
type Allocator struct {
	lock ksync.Spinlock

	// contents holds the payload of each frame, indexed by frame number
	// relative to allocBaseFrame. A nil slice marks a free frame.
	contents [][]byte

	// refCounts tracks the number of address-space mappings that share
	// each allocated frame.
	refCounts []uint32

	// freeList holds the indices of released frames for O(1) reuse.
	freeList []int

	// nextUnused is the lowest index that has never been allocated.
	nextUnused int

	inUse int
}

// NewAllocator returns a frame allocator managing frameCount physical frames.
func NewAllocator(frameCount int) *Allocator {
	return &Allocator{
		contents:  make([][]byte, frameCount),
		refCounts: make([]uint32, frameCount),
	}
}

// AllocFrame reserves a zero-filled physical frame with a reference count of
// one. It returns ErrOutOfFrames when every managed frame is in use.
func (a *Allocator) AllocFrame() (Frame, *kernel.Error) {
	a.lock.Acquire()
	defer a.lock.Release()

	var index int
	switch {
	case len(a.freeList) > 0:
		index = a.freeList[len(a.freeList)-1]
		a.freeList = a.freeList[:len(a.freeList)-1]
	case a.nextUnused < len(a.contents):
		index = a.nextUnused
		a.nextUnused++
	default:
		return InvalidFrame, ErrOutOfFrames
	}

	a.contents[index] = make([]byte, PageSize)
	a.refCounts[index] = 1
	a.inUse++

	return allocBaseFrame + Frame(index), nil
}

// IncRef adds a reference to an allocated frame. It is used when a fork
// makes a frame reachable from a second address space.
func (a *Allocator) IncRef(frame Frame) *kernel.Error {
	a.lock.Acquire()
	defer a.lock.Release()

	index, err := a.indexOf(frame)
	if err != nil {
		return err
	}

	a.refCounts[index]++
	return nil
}

// DecRef drops a reference to an allocated frame, releasing the frame once
// the last reference is gone.
func (a *Allocator) DecRef(frame Frame) *kernel.Error {
	a.lock.Acquire()
	defer a.lock.Release()

	index, err := a.indexOf(frame)
	if err != nil {
		return err
	}

	a.refCounts[index]--
	if a.refCounts[index] == 0 {
		a.contents[index] = nil
		a.freeList = append(a.freeList, index)
		a.inUse--
	}
	return nil
}

// RefCount returns the number of references to an allocated frame or zero if
// the frame is free.
func (a *Allocator) RefCount(frame Frame) uint32 {
	a.lock.Acquire()
	defer a.lock.Release()

	index, err := a.indexOf(frame)
	if err != nil {
		return 0
	}
	return a.refCounts[index]
}

// FrameSlice returns the page-sized contents of an allocated frame.
func (a *Allocator) FrameSlice(frame Frame) ([]byte, *kernel.Error) {
	a.lock.Acquire()
	defer a.lock.Release()

	index, err := a.indexOf(frame)
	if err != nil {
		return nil, err
	}
	return a.contents[index], nil
}

// FramesInUse returns the number of currently allocated frames.
func (a *Allocator) FramesInUse() int {
	a.lock.Acquire()
	defer a.lock.Release()
	return a.inUse
}

// indexOf translates a frame number to a slot index. The caller must hold
// the allocator lock.
func (a *Allocator) indexOf(frame Frame) (int, *kernel.Error) {
	index := int(frame) - int(allocBaseFrame)
	if index < 0 || index >= len(a.contents) || a.contents[index] == nil {
		return 0, errFrameNotAllocated
	}
	return index, nil
}
