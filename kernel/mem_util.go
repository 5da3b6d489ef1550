package kernel

// Memset sets all bytes in dst to the supplied value. The implementation is
// based on bytes.Repeat; instead of using a for loop, this function uses
// log2(len(dst)) copy calls which should give us a speed boost as frame
// buffers are always page-sized.
func Memset(dst []byte, value byte) {
	if len(dst) == 0 {
		return
	}

	// Set first element and make log2(len(dst)) optimized copies
	dst[0] = value
	for index := 1; index < len(dst); index *= 2 {
		copy(dst[index:], dst[:index])
	}
}

// Memcopy copies min(len(src), len(dst)) bytes from src to dst and returns
// the number of bytes copied.
func Memcopy(dst, src []byte) int {
	return copy(dst, src)
}
