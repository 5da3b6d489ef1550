package proc

import (
	"badgeros/kernel"
	"badgeros/kernel/mm"
	"badgeros/kernel/mm/vmm"
)

var (
	// ErrBadImage is returned when a program image fails validation.
	ErrBadImage = &kernel.Error{Module: "proc", Message: "malformed program image"}
)

// SegmentFlag describes the permissions of one loadable segment.
type SegmentFlag uint8

const (
	// SegmentRead marks a readable segment.
	SegmentRead SegmentFlag = 1 << iota

	// SegmentWrite marks a writable segment.
	SegmentWrite

	// SegmentExec marks an executable segment.
	SegmentExec
)

// Segment is one loadable region of a program image. MemSize bytes are
// mapped at VirtAddr; the first len(Data) bytes are initialized from Data
// and the rest is zero filled.
type Segment struct {
	VirtAddr uintptr
	MemSize  uintptr
	Data     []byte
	Flags    SegmentFlag
}

// Image is a loaded executable handed over by the loader collaborator. The
// process manager consumes this format; it never produces it.
type Image struct {
	Entry    uint64
	Segments []Segment
}

// Validate checks the structural invariants of an image: at least one
// segment, page-aligned placement inside the user half, initializer data
// that fits its segment, and an entry address covered by an executable
// segment.
func (img *Image) Validate() *kernel.Error {
	if len(img.Segments) == 0 {
		return ErrBadImage
	}

	entryCovered := false
	for i := range img.Segments {
		seg := &img.Segments[i]
		if seg.MemSize == 0 || seg.VirtAddr&(mm.PageSize-1) != 0 {
			return ErrBadImage
		}
		end := seg.VirtAddr + seg.MemSize
		if end < seg.VirtAddr || end > vmm.UserSpaceTop {
			return ErrBadImage
		}
		if uintptr(len(seg.Data)) > seg.MemSize {
			return ErrBadImage
		}
		if seg.Flags&SegmentExec != 0 &&
			uintptr(img.Entry) >= seg.VirtAddr && uintptr(img.Entry) < end {
			entryCovered = true
		}
	}
	if !entryCovered {
		return ErrBadImage
	}
	return nil
}

// pageFlags translates segment permissions into page table entry flags.
func (seg *Segment) pageFlags() vmm.PageTableEntryFlag {
	flags := vmm.FlagPresent | vmm.FlagUserAccessible
	if seg.Flags&SegmentWrite != 0 {
		flags |= vmm.FlagRW
	}
	if seg.Flags&SegmentExec == 0 {
		flags |= vmm.FlagNoExecute
	}
	return flags
}

// pageCount returns the number of pages the segment spans.
func (seg *Segment) pageCount() int {
	return int((seg.MemSize + mm.PageSize - 1) >> mm.PageShift)
}
