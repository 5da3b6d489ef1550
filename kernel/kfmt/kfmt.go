// Package kfmt provides a minimal, allocation-free Printf implementation that
// can be safely used from interrupt context and from the kernel's fatal error
// path.
package kfmt

import "io"

// maxIntBufSize defines the buffer size for formatting numbers.
const maxIntBufSize = 32

var (
	errMissingArg   = []byte("%!(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	// singleByte is used as a shared buffer for passing single characters
	// to doWrite.
	singleByte = []byte(" ")

	// earlyPrintBuffer buffers Printf output generated before an output
	// sink has been registered.
	earlyPrintBuffer ringBuffer

	// outputSink is the io.Writer where Printf sends its output. While
	// nil, output is redirected to earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the target for calls to Printf to w and drains any data
// accumulated in the early print buffer into it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the current Printf output target. If no sink has been
// registered yet, the early print buffer is returned instead.
func GetOutputSink() io.Writer {
	if outputSink == nil {
		return &earlyPrintBuffer
	}
	return outputSink
}

// Printf formats its arguments and writes them to the registered output sink.
// It supports a subset of the fmt verbs: %s (string or []byte), %d (base-10
// integer), %x (base-16 integer), %o (base-8 integer) and %t (bool). An
// optional decimal width immediately preceding the verb left-pads the value:
// with spaces for %s and %d, with zeroes for %x and %o.
//
// Printf does not allocate; all formatting happens through fixed buffers so
// it remains usable while servicing a trap or reporting a fatal error.
func Printf(format string, args ...interface{}) {
	Fprintf(GetOutputSink(), format, args...)
}

// Fprintf behaves exactly like Printf but writes the formatted output to the
// supplied io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex int
		i        int
	)

	for i < len(format) {
		ch := format[i]
		if ch != '%' {
			writeByte(w, ch)
			i++
			continue
		}

		// Scan optional pad width and the verb that follows it
		i++
		padLen := 0
		for ; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			padLen = padLen*10 + int(format[i]-'0')
		}

		if i >= len(format) {
			doWrite(w, errNoVerb)
			return
		}

		verb := format[i]
		i++

		if verb == '%' {
			writeByte(w, '%')
			continue
		}

		if argIndex >= len(args) {
			doWrite(w, errMissingArg)
			continue
		}

		switch verb {
		case 'd':
			fmtInt(w, args[argIndex], 10, padLen)
		case 'x':
			fmtInt(w, args[argIndex], 16, padLen)
		case 'o':
			fmtInt(w, args[argIndex], 8, padLen)
		case 's':
			fmtString(w, args[argIndex], padLen)
		case 't':
			fmtBool(w, args[argIndex])
		default:
			doWrite(w, errNoVerb)
		}
		argIndex++
	}
}

// writeByte emits a single byte through the shared single-byte buffer. Slicing
// the format string directly would trigger a memory allocation.
func writeByte(w io.Writer, ch byte) {
	singleByte[0] = ch
	doWrite(w, singleByte)
}

func doWrite(w io.Writer, p []byte) {
	if w != nil {
		w.Write(p)
	}
}

// fmtBool prints a formatted version of boolean value v.
func fmtBool(w io.Writer, v interface{}) {
	bVal, isBool := v.(bool)
	if !isBool {
		doWrite(w, errWrongArgType)
		return
	}

	if bVal {
		doWrite(w, trueValue)
		return
	}
	doWrite(w, falseValue)
}

// fmtString prints a formatted version of string or []byte value v, applying
// the padding specified by padLen.
func fmtString(w io.Writer, v interface{}, padLen int) {
	switch sVal := v.(type) {
	case string:
		fmtRepeat(w, ' ', padLen-len(sVal))
		// converting the string to a byte slice triggers a memory
		// allocation so this happens one byte at a time.
		for i := 0; i < len(sVal); i++ {
			writeByte(w, sVal[i])
		}
	case []byte:
		fmtRepeat(w, ' ', padLen-len(sVal))
		doWrite(w, sVal)
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtRepeat writes count bytes with value ch.
func fmtRepeat(w io.Writer, ch byte, count int) {
	for i := 0; i < count; i++ {
		writeByte(w, ch)
	}
}

// fmtInt prints out a formatted version of v in the requested base, applying
// the padding specified by padLen. This function supports all built-in signed
// and unsigned integer types and base 8, 10 and 16 output.
func fmtInt(w io.Writer, v interface{}, base, padLen int) {
	var (
		uval     uint64
		negative bool
		buf      [maxIntBufSize]byte
	)

	if padLen >= maxIntBufSize {
		padLen = maxIntBufSize - 1
	}

	switch iVal := v.(type) {
	case uint8:
		uval = uint64(iVal)
	case uint16:
		uval = uint64(iVal)
	case uint32:
		uval = uint64(iVal)
	case uint64:
		uval = iVal
	case uint:
		uval = uint64(iVal)
	case uintptr:
		uval = uint64(iVal)
	case int8:
		negative, uval = iVal < 0, abs(int64(iVal))
	case int16:
		negative, uval = iVal < 0, abs(int64(iVal))
	case int32:
		negative, uval = iVal < 0, abs(int64(iVal))
	case int64:
		negative, uval = iVal < 0, abs(int64(iVal))
	case int:
		negative, uval = iVal < 0, abs(int64(iVal))
	default:
		doWrite(w, errWrongArgType)
		return
	}

	padCh := byte(' ')
	if base != 10 {
		padCh = '0'
	}

	// Render digits right-to-left into buf
	end := len(buf)
	pos := end
	for {
		pos--
		digit := uval % uint64(base)
		if digit < 10 {
			buf[pos] = byte('0' + digit)
		} else {
			buf[pos] = byte('a' + digit - 10)
		}
		uval /= uint64(base)
		if uval == 0 {
			break
		}
	}

	if negative && padCh == ' ' {
		pos--
		buf[pos] = '-'
	}

	for end-pos < padLen && pos > 0 {
		pos--
		buf[pos] = padCh
	}

	if negative && padCh == '0' {
		pos--
		buf[pos] = '-'
	}

	doWrite(w, buf[pos:end])
}

func abs(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}
