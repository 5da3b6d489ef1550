// Package vmm implements the per-process address spaces of the kernel.
//
// Each AddressSpace owns a 4-level page-table hierarchy built out of frames
// obtained from the physical frame allocator. User mappings live in the
// canonical lower half; the upper half carries the kernel-owned regions that
// every address space must map so a privilege transition can be serviced
// while the space is active. Kernel mappings never carry the user-accessible
// bit; a mapping operation that would violate this is treated as a fatal
// configuration error rather than a recoverable one.
package vmm

import (
	"badgeros/kernel"
	"badgeros/kernel/cpu"
	"badgeros/kernel/kfmt"
	"badgeros/kernel/mm"
)

var (
	// ErrAlreadyMapped is returned when attempting to map a page that
	// overlaps an existing mapping.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "virtual page is already mapped"}

	// ErrInvalidMapping is returned when trying to access a virtual
	// memory address that is not mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrNotUserAccessible is returned when a user-copy operation touches
	// a page that user code has no right to access.
	ErrNotUserAccessible = &kernel.Error{Module: "vmm", Message: "virtual address is not accessible from user mode"}

	// ErrPageReadOnly is returned when a user-copy operation attempts to
	// write through a read-only, non copy-on-write mapping.
	ErrPageReadOnly = &kernel.Error{Module: "vmm", Message: "write to a read-only page"}

	errKernelUserMapping = &kernel.Error{Module: "vmm", Message: "attempt to map a kernel-owned range as user-accessible"}

	// flushTLBEntryFn is used by tests to count TLB invalidations.
	flushTLBEntryFn = cpu.FlushTLBEntry

	// panicFn is used by tests to intercept fatal configuration errors.
	panicFn = kfmt.Panic
)

// KernelRegion describes one kernel-owned range that every address space
// must map: the kernel's code, the trap-entry stack and the global kernel
// data needed to service a privilege transition.
type KernelRegion struct {
	Name      string
	VirtStart uintptr
	PhysStart uintptr
	Size      uintptr
	Flags     PageTableEntryFlag
}

// DefaultKernelRegions returns the kernel-owned regions mapped into every
// address space. The physical placement mirrors where the loader put the
// kernel image.
func DefaultKernelRegions() []KernelRegion {
	return []KernelRegion{
		{
			Name:      "kernel.text",
			VirtStart: KernelSpaceBase + 0x100000,
			PhysStart: 0x100000,
			Size:      0x200000,
			Flags:     FlagPresent | FlagGlobal,
		},
		{
			Name:      "kernel.data",
			VirtStart: KernelSpaceBase + 0x300000,
			PhysStart: 0x300000,
			Size:      0x100000,
			Flags:     FlagPresent | FlagRW | FlagGlobal | FlagNoExecute,
		},
		{
			Name:      "kernel.trapstack",
			VirtStart: KernelSpaceBase + 0x400000,
			PhysStart: 0x400000,
			Size:      0x10000,
			Flags:     FlagPresent | FlagRW | FlagGlobal | FlagNoExecute,
		},
	}
}

// AddressSpace owns the page-table hierarchy defining one process's virtual
// memory view. Its tables are mutated only by the threads of the owning
// process, except during fork and exec where the process manager holds
// exclusive access until the clone or replace completes; mutations always
// happen with interrupts disabled on the local CPU so no internal locking is
// required.
type AddressSpace struct {
	alloc *mm.Allocator

	root          mm.Frame
	tables        map[mm.Frame]*pageTable
	kernelRegions []KernelRegion
}

// NewAddressSpace builds a fresh address space containing only the supplied
// kernel regions. None of the kernel mappings are user-accessible; a region
// carrying FlagUserAccessible is a fatal configuration error as it would
// breach the privilege boundary.
func NewAddressSpace(alloc *mm.Allocator, kernelRegions []KernelRegion) (*AddressSpace, *kernel.Error) {
	space := &AddressSpace{
		alloc:         alloc,
		tables:        make(map[mm.Frame]*pageTable),
		kernelRegions: kernelRegions,
	}

	rootFrame, err := space.newTable()
	if err != nil {
		return nil, err
	}
	space.root = rootFrame

	for _, region := range kernelRegions {
		if region.Flags&FlagUserAccessible != 0 {
			panicFn(errKernelUserMapping)
			return nil, errKernelUserMapping
		}

		startPage, pageCount := pageRangeForRegion(region.VirtStart, region.Size)
		frame := mm.FrameFromAddress(region.PhysStart)
		for i := 0; i < pageCount; i++ {
			if err := space.mapEntry(startPage+mm.Page(i), frame+mm.Frame(i), region.Flags); err != nil {
				space.Release()
				return nil, err
			}
		}
	}

	return space, nil
}

// Root returns the physical frame holding the top-most table of this address
// space.
func (s *AddressSpace) Root() mm.Frame { return s.root }

// Activate switches the supplied CPU to translate through this address
// space.
func (s *AddressSpace) Activate(c *cpu.CPU) {
	c.SetActiveSpaceRoot(s.root.Address())
}

// Map installs a mapping from a virtual page to a physical frame. It returns
// ErrAlreadyMapped if the page overlaps an existing mapping and propagates
// mm.ErrOutOfFrames if an intermediate table cannot be allocated. Mapping a
// kernel-owned range with FlagUserAccessible is fatal.
func (s *AddressSpace) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	if page.Address() >= UserSpaceTop && flags&FlagUserAccessible != 0 {
		panicFn(errKernelUserMapping)
		return errKernelUserMapping
	}
	return s.mapEntry(page, frame, flags)
}

// MapRange allocates pageCount fresh physical frames and maps them
// contiguously starting at startPage. On failure the already mapped prefix is
// unmapped again so no partial range remains.
func (s *AddressSpace) MapRange(startPage mm.Page, pageCount int, flags PageTableEntryFlag) *kernel.Error {
	for i := 0; i < pageCount; i++ {
		frame, err := s.alloc.AllocFrame()
		if err == nil {
			err = s.Map(startPage+mm.Page(i), frame, flags)
			if err != nil {
				s.alloc.DecRef(frame)
			}
		}

		if err != nil {
			for j := 0; j < i; j++ {
				s.Unmap(startPage + mm.Page(j))
			}
			return err
		}
	}
	return nil
}

// Unmap removes the mapping for a page and returns the flags it carried so
// copy-on-write logic can distinguish "unmapped" from "mapped read-only". If
// the backing frame is owned by the frame allocator its reference is
// dropped.
func (s *AddressSpace) Unmap(page mm.Page) (PageTableEntryFlag, *kernel.Error) {
	pte, err := s.walk(page.Address(), false)
	if err != nil {
		return 0, err
	}
	if !pte.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	prevFlags := pte.Flags()
	frame := pte.Frame()
	*pte = 0
	flushTLBEntryFn(page.Address())

	if s.alloc.RefCount(frame) > 0 {
		s.alloc.DecRef(frame)
	}
	return prevFlags, nil
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address is not mapped.
func (s *AddressSpace) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pte, err := s.walk(virtAddr, false)
	if err != nil {
		return 0, err
	}
	if !pte.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}
	return pte.Frame().Address() + (virtAddr & (mm.PageSize - 1)), nil
}

// MappingVisitor is invoked by VisitMappings for every mapped page. Returning
// false aborts the visit.
type MappingVisitor func(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) bool

// VisitMappings walks the full table hierarchy and invokes the visitor for
// every present leaf mapping, kernel regions included. It exists so that the
// core invariants (kernel invisibility, isolation) can be verified by
// walking the tables after they are mutated.
func (s *AddressSpace) VisitMappings(visit MappingVisitor) {
	s.visitLeaves(func(page mm.Page, pte *pageTableEntry) bool {
		return visit(page, pte.Frame(), pte.Flags())
	})
}

// CloneForFork produces a new address space for a forked child. All user
// pages of the parent become shared, read-only and copy-on-write tagged in
// both spaces, re-using the same physical backing. Pages marked FlagShared
// keep their permissions and stay shared. Kernel mappings are rebuilt fresh
// and never copied, so the child cannot alias the parent's trap stack.
func (s *AddressSpace) CloneForFork() (*AddressSpace, *kernel.Error) {
	child, err := NewAddressSpace(s.alloc, s.kernelRegions)
	if err != nil {
		return nil, err
	}

	s.visitLeaves(func(page mm.Page, pte *pageTableEntry) bool {
		if page.Address() >= UserSpaceTop {
			return true
		}

		childFlags := pte.Flags()
		if !pte.HasFlags(FlagShared) {
			// Downgrade both sides to read-only copy-on-write.
			pte.ClearFlags(FlagRW)
			pte.SetFlags(FlagCopyOnWrite)
			flushTLBEntryFn(page.Address())
			childFlags = (childFlags &^ FlagRW) | FlagCopyOnWrite
		}

		if err = s.alloc.IncRef(pte.Frame()); err != nil {
			return false
		}
		if err = child.mapEntry(page, pte.Frame(), childFlags); err != nil {
			return false
		}
		return true
	})

	if err != nil {
		child.Release()
		return nil, err
	}
	return child, nil
}

// Release drops the references this address space holds on its user frames
// and frees the frames backing its tables. The caller must guarantee that no
// thread can resume in this space afterwards.
func (s *AddressSpace) Release() {
	s.visitLeaves(func(page mm.Page, pte *pageTableEntry) bool {
		if frame := pte.Frame(); s.alloc.RefCount(frame) > 0 {
			s.alloc.DecRef(frame)
		}
		*pte = 0
		return true
	})

	for frame := range s.tables {
		s.alloc.DecRef(frame)
		delete(s.tables, frame)
	}
	s.root = mm.InvalidFrame
}

// newTable allocates and registers a zero-filled page-table frame.
func (s *AddressSpace) newTable() (mm.Frame, *kernel.Error) {
	frame, err := s.alloc.AllocFrame()
	if err != nil {
		return mm.InvalidFrame, err
	}
	s.tables[frame] = new(pageTable)
	return frame, nil
}

// mapEntry installs a leaf mapping without the kernel-range ownership check.
// It is the shared path for Map and for the kernel-region mappings installed
// by NewAddressSpace.
func (s *AddressSpace) mapEntry(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	pte, err := s.walk(page.Address(), true)
	if err != nil {
		return err
	}
	if pte.HasFlags(FlagPresent) {
		return ErrAlreadyMapped
	}

	*pte = 0
	pte.SetFrame(frame)
	pte.SetFlags(flags)
	flushTLBEntryFn(page.Address())
	return nil
}

// walk descends the table hierarchy for virtAddr and returns a pointer to
// the leaf entry. With allocate set, missing intermediate tables are created
// on the way down; otherwise ErrInvalidMapping is returned.
func (s *AddressSpace) walk(virtAddr uintptr, allocate bool) (*pageTableEntry, *kernel.Error) {
	table := s.tables[s.root]

	for level := 0; level < pageLevels-1; level++ {
		pte := &table[tableIndexForLevel(virtAddr, level)]
		if !pte.HasFlags(FlagPresent) {
			if !allocate {
				return nil, ErrInvalidMapping
			}

			nextFrame, err := s.newTable()
			if err != nil {
				return nil, err
			}

			*pte = 0
			pte.SetFrame(nextFrame)
			pte.SetFlags(FlagPresent | FlagRW)
			if virtAddr < UserSpaceTop {
				// Intermediate entries must carry the user bit
				// for user mappings to be reachable from ring 3.
				pte.SetFlags(FlagUserAccessible)
			}
		}
		table = s.tables[pte.Frame()]
	}

	return &table[tableIndexForLevel(virtAddr, pageLevels-1)], nil
}

// leafVisitor is the internal counterpart of MappingVisitor; it exposes the
// entry itself so callers like CloneForFork can mutate flags in place.
type leafVisitor func(page mm.Page, pte *pageTableEntry) bool

func (s *AddressSpace) visitLeaves(visit leafVisitor) {
	s.visitTable(s.tables[s.root], 0, 0, visit)
}

func (s *AddressSpace) visitTable(table *pageTable, level int, virtBase uintptr, visit leafVisitor) bool {
	if table == nil {
		return true
	}

	for index := 0; index < tableEntryCount; index++ {
		pte := &table[index]
		if !pte.HasFlags(FlagPresent) {
			continue
		}

		virtAddr := virtBase | (uintptr(index) << pageLevelShifts[level])
		if level == pageLevels-1 {
			// Sign-extend canonical upper-half addresses.
			if virtAddr&(uintptr(1)<<47) != 0 {
				virtAddr |= ^uintptr(1<<48 - 1)
			}
			if !visit(mm.PageFromAddress(virtAddr), pte) {
				return false
			}
			continue
		}

		if !s.visitTable(s.tables[pte.Frame()], level+1, virtAddr, visit) {
			return false
		}
	}
	return true
}
