package vmm

import (
	"badgeros/kernel"
	"badgeros/kernel/mm"
)

var (
	// ErrUnrecoverableFault is returned for write faults that copy-on-write
	// recovery cannot handle; the faulting process must be terminated.
	ErrUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page fault cannot be recovered"}
)

// HandleWriteFault attempts to recover from a write fault at virtAddr. The
// only recoverable case is a write through a read-only page tagged
// copy-on-write: the shared frame is replaced with a private, writable copy
// and the faulting instruction can be retried. When this address space holds
// the last reference to the frame no copy is needed and the entry is simply
// upgraded back to read-write.
//
// Any other write fault is reported as unrecoverable and it is the caller's
// responsibility to terminate the faulting process.
func (s *AddressSpace) HandleWriteFault(virtAddr uintptr) *kernel.Error {
	pte, err := s.walk(virtAddr, false)
	if err != nil {
		return ErrUnrecoverableFault
	}
	if !pte.HasFlags(FlagPresent) || pte.HasFlags(FlagRW) || !pte.HasFlags(FlagCopyOnWrite) {
		return ErrUnrecoverableFault
	}

	page := mm.PageFromAddress(virtAddr)
	sharedFrame := pte.Frame()

	if s.alloc.RefCount(sharedFrame) == 1 {
		// Sole owner; the sibling that shared this frame has already
		// broken or released its mapping.
		pte.ClearFlags(FlagCopyOnWrite)
		pte.SetFlags(FlagRW)
		flushTLBEntryFn(page.Address())
		return nil
	}

	privateFrame, err := s.alloc.AllocFrame()
	if err != nil {
		return err
	}

	src, err := s.alloc.FrameSlice(sharedFrame)
	if err != nil {
		return err
	}
	dst, err := s.alloc.FrameSlice(privateFrame)
	if err != nil {
		return err
	}
	kernel.Memcopy(dst, src)

	s.alloc.DecRef(sharedFrame)
	pte.SetFrame(privateFrame)
	pte.ClearFlags(FlagCopyOnWrite)
	pte.SetFlags(FlagRW)
	flushTLBEntryFn(page.Address())

	return nil
}
