package vmm

import (
	"badgeros/kernel"
	"badgeros/kernel/mm"
)

// CopyFromUser copies len(dst) bytes from the user virtual address virtAddr
// in this address space into dst. Every touched page must be mapped and
// user-accessible; syscall handlers rely on this check to reject buffers
// that point into kernel memory.
func CopyFromUser(space *AddressSpace, virtAddr uintptr, dst []byte) *kernel.Error {
	for copied := 0; copied < len(dst); {
		pte, err := space.userPage(virtAddr + uintptr(copied))
		if err != nil {
			return err
		}

		src, err := space.alloc.FrameSlice(pte.Frame())
		if err != nil {
			return ErrNotUserAccessible
		}

		offset := (virtAddr + uintptr(copied)) & (mm.PageSize - 1)
		copied += kernel.Memcopy(dst[copied:], src[offset:])
	}
	return nil
}

// CopyToUser copies src to the user virtual address virtAddr in this address
// space. Writes through copy-on-write pages break the sharing first, exactly
// as a user-mode store would; writes through plain read-only pages fail with
// ErrPageReadOnly.
func CopyToUser(space *AddressSpace, virtAddr uintptr, src []byte) *kernel.Error {
	for copied := 0; copied < len(src); {
		addr := virtAddr + uintptr(copied)

		pte, err := space.userPage(addr)
		if err != nil {
			return err
		}

		if !pte.HasFlags(FlagRW) {
			if !pte.HasFlags(FlagCopyOnWrite) {
				return ErrPageReadOnly
			}
			if err = space.HandleWriteFault(addr); err != nil {
				return err
			}
			if pte, err = space.userPage(addr); err != nil {
				return err
			}
		}

		dst, err := space.alloc.FrameSlice(pte.Frame())
		if err != nil {
			return ErrNotUserAccessible
		}

		offset := addr & (mm.PageSize - 1)
		copied += kernel.Memcopy(dst[offset:], src[copied:])
	}
	return nil
}

// userPage returns the leaf entry for a user-accessible mapping of virtAddr.
func (s *AddressSpace) userPage(virtAddr uintptr) (*pageTableEntry, *kernel.Error) {
	if virtAddr >= UserSpaceTop {
		return nil, ErrNotUserAccessible
	}

	pte, err := s.walk(virtAddr, false)
	if err != nil {
		return nil, err
	}
	if !pte.HasFlags(FlagPresent) {
		return nil, ErrInvalidMapping
	}
	if !pte.HasFlags(FlagUserAccessible) {
		return nil, ErrNotUserAccessible
	}
	return pte, nil
}
