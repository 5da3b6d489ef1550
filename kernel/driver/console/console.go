// Package console provides the kernel's boot console: a byte-oriented
// character device that user programs reach through their standard
// descriptors. Output accumulates in a fixed ring so early boot messages
// survive until a video or serial sink attaches; input bytes injected by an
// interrupt handler queue up until a reader consumes them.
package console

import (
	"badgeros/kernel"
	"badgeros/kernel/sync"
)

const (
	// outBufSize defines the size of the output ring in bytes.
	outBufSize = 16384

	// inBufSize defines the size of the input queue in bytes. Input
	// arriving while the queue is full is dropped; a user program that
	// cannot keep up with a keyboard loses keystrokes, same as real
	// hardware with a full FIFO.
	inBufSize = 1024
)

// Console implements a terminal-style character device. Reads consume queued
// input in arrival order and report no data rather than an error when the
// queue is empty, which lets the file layer park the reader until Feed
// delivers more bytes.
type Console struct {
	lock sync.Spinlock

	out     [outBufSize]byte
	outHead int
	outLen  int

	in     [inBufSize]byte
	inHead int
	inLen  int

	// wakeFn is invoked after Feed queues input. The kernel points it at
	// its blocked-reader wakeup so a parked read syscall restarts.
	wakeFn func()
}

// New creates a detached console with empty buffers.
func New() *Console {
	return &Console{}
}

// SetWakeFn installs the callback that Feed invokes after queueing input.
func (c *Console) SetWakeFn(fn func()) {
	c.lock.Acquire()
	c.wakeFn = fn
	c.lock.Release()
}

// WriteAt appends src to the output ring. The offset is ignored; a terminal
// has no notion of position and the ring overwrites its oldest contents when
// full. It never fails and always reports the full length written.
func (c *Console) WriteAt(src []byte, _ int64) (int, *kernel.Error) {
	c.lock.Acquire()
	for _, b := range src {
		c.out[(c.outHead+c.outLen)%outBufSize] = b
		if c.outLen < outBufSize {
			c.outLen++
		} else {
			c.outHead = (c.outHead + 1) % outBufSize
		}
	}
	c.lock.Release()
	return len(src), nil
}

// Write appends kernel diagnostics to the output ring. It satisfies
// io.Writer so the console can serve as the kfmt output sink.
func (c *Console) Write(p []byte) (int, error) {
	n, _ := c.WriteAt(p, 0)
	return n, nil
}

// ReadAt consumes up to len(dst) queued input bytes. The offset is ignored.
// An empty queue reads zero bytes with a nil error so the caller can block
// for more input instead of treating it as end of stream.
func (c *Console) ReadAt(dst []byte, _ int64) (int, *kernel.Error) {
	c.lock.Acquire()
	n := 0
	for n < len(dst) && c.inLen > 0 {
		dst[n] = c.in[c.inHead]
		c.inHead = (c.inHead + 1) % inBufSize
		c.inLen--
		n++
	}
	c.lock.Release()
	return n, nil
}

// Feed queues input bytes as an interrupt handler would and invokes the wake
// callback so a parked reader gets another chance to run. Bytes beyond the
// queue capacity are dropped.
func (c *Console) Feed(data []byte) {
	c.lock.Acquire()
	for _, b := range data {
		if c.inLen == inBufSize {
			break
		}
		c.in[(c.inHead+c.inLen)%inBufSize] = b
		c.inLen++
	}
	wake := c.wakeFn
	c.lock.Release()

	if wake != nil {
		wake()
	}
}

// Contents returns a copy of the buffered output in write order. A late
// attaching video or serial sink uses it to replay the boot log.
func (c *Console) Contents() []byte {
	c.lock.Acquire()
	snapshot := make([]byte, c.outLen)
	for i := 0; i < c.outLen; i++ {
		snapshot[i] = c.out[(c.outHead+i)%outBufSize]
	}
	c.lock.Release()
	return snapshot
}
