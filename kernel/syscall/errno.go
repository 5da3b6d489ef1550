package syscall

// Errno values returned to user code as negated values in the RAX slot of
// the saved frame. The numbering follows the Linux ABI so existing user
// space headers keep working.
const (
	EPERM  = -1
	ESRCH  = -3
	EINTR  = -4
	EIO    = -5
	EBADF  = -9
	ECHILD = -10
	EAGAIN = -11
	ENOMEM = -12
	EFAULT = -14
	EINVAL = -22
	ENOSYS = -38
)
