package proc

import (
	"badgeros/kernel"
)

var (
	// ErrBadDescriptor is returned for operations on a descriptor that
	// names no open file.
	ErrBadDescriptor = &kernel.Error{Module: "proc", Message: "bad file descriptor"}

	// ErrTooManyFiles is returned when the descriptor table is full.
	ErrTooManyFiles = &kernel.Error{Module: "proc", Message: "descriptor table full"}

	// ErrEndOfFile is returned by ReadAt at the end of a finite file.
	// It is the only way a reader can tell "no more data ever" from
	// "no data yet"; the read syscall turns it into a zero-length read
	// instead of parking the caller forever.
	ErrEndOfFile = &kernel.Error{Module: "proc", Message: "end of file"}
)

// File is the opaque handle through which the execution core performs I/O.
// The filesystem and device layers implement it; the core never sees an
// on-disk layout. Implementations must not hand locks back to the caller.
type File interface {
	// ReadAt copies up to len(dst) bytes from the given offset into dst
	// and returns the byte count. A zero count with a nil error means
	// no data is available yet and the caller may block and retry;
	// a finite file past its last byte returns ErrEndOfFile instead.
	ReadAt(dst []byte, offset int64) (int, *kernel.Error)

	// WriteAt copies len(src) bytes to the given offset and returns the
	// byte count actually accepted.
	WriteAt(src []byte, offset int64) (int, *kernel.Error)
}

// maxDescriptors bounds the per-process descriptor table.
const maxDescriptors = 32

// descriptor pairs an open file with its cursor.
type descriptor struct {
	file   File
	offset int64
}

// FDTable maps small integer descriptors to open files. Fork shares the
// underlying file handles but copies the table, so descriptors opened
// after the fork are private to each side.
type FDTable struct {
	slots [maxDescriptors]*descriptor
}

// NewFDTable returns an empty descriptor table.
func NewFDTable() *FDTable {
	return &FDTable{}
}

// Install places a file in the lowest free slot and returns its number.
func (t *FDTable) Install(file File) (int, *kernel.Error) {
	for fd := range t.slots {
		if t.slots[fd] == nil {
			t.slots[fd] = &descriptor{file: file}
			return fd, nil
		}
	}
	return -1, ErrTooManyFiles
}

// InstallAt places a file at a specific descriptor, replacing any previous
// occupant. Used to wire the standard descriptors at process creation.
func (t *FDTable) InstallAt(fd int, file File) *kernel.Error {
	if fd < 0 || fd >= maxDescriptors {
		return ErrBadDescriptor
	}
	t.slots[fd] = &descriptor{file: file}
	return nil
}

// Get returns the file behind a descriptor.
func (t *FDTable) Get(fd int) (File, *kernel.Error) {
	if fd < 0 || fd >= maxDescriptors || t.slots[fd] == nil {
		return nil, ErrBadDescriptor
	}
	return t.slots[fd].file, nil
}

// Read copies data from the descriptor's cursor position and advances it.
func (t *FDTable) Read(fd int, dst []byte) (int, *kernel.Error) {
	if fd < 0 || fd >= maxDescriptors || t.slots[fd] == nil {
		return 0, ErrBadDescriptor
	}
	d := t.slots[fd]
	n, err := d.file.ReadAt(dst, d.offset)
	d.offset += int64(n)
	return n, err
}

// Write copies data to the descriptor's cursor position and advances it.
func (t *FDTable) Write(fd int, src []byte) (int, *kernel.Error) {
	if fd < 0 || fd >= maxDescriptors || t.slots[fd] == nil {
		return 0, ErrBadDescriptor
	}
	d := t.slots[fd]
	n, err := d.file.WriteAt(src, d.offset)
	d.offset += int64(n)
	return n, err
}

// Close removes a descriptor.
func (t *FDTable) Close(fd int) *kernel.Error {
	if fd < 0 || fd >= maxDescriptors || t.slots[fd] == nil {
		return ErrBadDescriptor
	}
	t.slots[fd] = nil
	return nil
}

// ForkCopy returns the table inherited by a forked child. Parent and child
// share each open file description, cursor included, while the tables
// themselves stay independent: closing a descriptor on one side leaves the
// other side's descriptor open.
func (t *FDTable) ForkCopy() *FDTable {
	child := &FDTable{}
	for fd, d := range t.slots {
		child.slots[fd] = d
	}
	return child
}
