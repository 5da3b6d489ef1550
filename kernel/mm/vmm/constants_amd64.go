package vmm

import "badgeros/kernel/mm"

const (
	// pageLevels indicates the number of page levels supported by the
	// amd64 architecture.
	pageLevels = 4

	// tableEntryCount is the number of entries in a page table at each
	// level.
	tableEntryCount = 512

	// ptePhysPageMask is a mask that allows us to extract the physical
	// memory address pointed to by a page table entry. For this particular
	// architecture, bits 12-51 contain the physical memory address.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// UserSpaceTop is the first virtual address past the canonical lower
	// half. User mappings must live strictly below it; everything at or
	// above KernelSpaceBase is kernel-owned.
	UserSpaceTop = uintptr(0x0000800000000000)

	// KernelSpaceBase is the start of the kernel's half of every address
	// space. The regions mapped there are identical across address spaces
	// and never carry the user-accessible bit.
	KernelSpaceBase = uintptr(0xffff800000000000)
)

var (
	// pageLevelShifts defines the shift required to extract each page
	// table index from a virtual address.
	pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}
)

// PageTableEntryFlag describes a flag that can be applied to a page table
// entry.
type PageTableEntryFlag uintptr

const (
	// FlagPresent is set when the page is available in memory.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode code can access this page.
	// If not set only kernel code can access this page. Kernel-owned
	// mappings must never carry this flag; that is the security boundary
	// between the two privilege levels.
	FlagUserAccessible

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagGlobal prevents the TLB from flushing the cached translation
	// for this page when the page-table root changes.
	FlagGlobal

	// FlagCopyOnWrite marks a read-only page whose backing frame is
	// shared with another address space. A write fault on such a page
	// allocates a private copy; see HandleWriteFault. This flag occupies
	// one of the entry bits the MMU ignores.
	FlagCopyOnWrite

	// FlagShared marks a page that is deliberately shared between address
	// spaces (mapped file, shared memory). Shared pages keep their
	// permissions across a fork instead of being downgraded to
	// copy-on-write.
	FlagShared
)

// FlagNoExecute prevents instruction fetches from this page. It maps to the
// topmost entry bit on this architecture.
const FlagNoExecute = PageTableEntryFlag(1) << 63

// flagMask selects the bits of an entry that encode flags rather than the
// frame address.
const flagMask = ^PageTableEntryFlag(ptePhysPageMask)

// tableIndexForLevel extracts the page-table index for the given level from a
// virtual address.
func tableIndexForLevel(virtAddr uintptr, level int) uintptr {
	return (virtAddr >> pageLevelShifts[level]) & (tableEntryCount - 1)
}

// pageRangeForRegion returns the first page and page count that cover a
// region of size bytes starting at start. The size is always rounded up to
// the nearest page boundary.
func pageRangeForRegion(start, size uintptr) (mm.Page, int) {
	pageCount := int((size + (mm.PageSize - 1)) >> mm.PageShift)
	return mm.PageFromAddress(start), pageCount
}
