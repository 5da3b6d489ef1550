package kernel

// Error describes a recoverable kernel error. Kernel errors are defined as
// global variables that are pointers to the Error structure so that error
// paths never need to allocate.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
