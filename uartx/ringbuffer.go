package uartx

import "sync/atomic"

// RingBuffer is a fixed-capacity byte queue for exactly one producer and one consumer.
//
// The producer owns head and the consumer owns tail. Each side stores the data it moves
// before publishing its cursor, so the other side never observes a cursor ahead of the
// bytes it covers. Cursors run modulo 2*size, which tells full from empty without
// reserving a slot and without requiring a power-of-two size.
type RingBuffer struct {
	buf  []byte
	size uint32
	head atomic.Uint32 // producer cursor
	tail atomic.Uint32 // consumer cursor
}

// NewRingBuffer returns a ring buffer holding exactly size bytes.
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return newRingBuffer(make([]byte, size))
}

func newRingBuffer(storage []byte) *RingBuffer {
	return &RingBuffer{buf: storage, size: uint32(len(storage))}
}

// Size returns the total capacity of the buffer in bytes.
func (rb *RingBuffer) Size() int { return int(rb.size) }

// Used returns how many bytes are waiting to be read.
func (rb *RingBuffer) Used() int {
	return int(rb.distance(rb.head.Load(), rb.tail.Load()))
}

// Free returns how many bytes can be written before the buffer is full.
func (rb *RingBuffer) Free() int { return int(rb.size) - rb.Used() }

// Empty reports whether there is nothing to read.
func (rb *RingBuffer) Empty() bool { return rb.head.Load() == rb.tail.Load() }

// Full reports whether a Put would fail.
func (rb *RingBuffer) Full() bool { return rb.Used() == int(rb.size) }

func (rb *RingBuffer) distance(h, t uint32) uint32 {
	return (h + 2*rb.size - t) % (2 * rb.size)
}

func (rb *RingBuffer) advance(c, n uint32) uint32 {
	return (c + n) % (2 * rb.size)
}

// Put stores a byte in the buffer. If the buffer is already full, it returns false and
// leaves the contents untouched.
func (rb *RingBuffer) Put(val byte) bool {
	h := rb.head.Load()
	if rb.distance(h, rb.tail.Load()) == rb.size {
		return false
	}
	rb.buf[h%rb.size] = val         // 1) write data
	rb.head.Store(rb.advance(h, 1)) // 2) publish
	return true
}

// Get returns a byte from the buffer. If the buffer is empty, it returns (0, false).
func (rb *RingBuffer) Get() (byte, bool) {
	t := rb.tail.Load()
	if rb.head.Load() == t {
		return 0, false
	}
	v := rb.buf[t%rb.size]          // 1) read current element
	rb.tail.Store(rb.advance(t, 1)) // 2) publish consumption
	return v, true
}

// Write copies as much of p as fits and returns the number of bytes stored.
func (rb *RingBuffer) Write(p []byte) int {
	h := rb.head.Load()
	free := rb.size - rb.distance(h, rb.tail.Load())
	n := uint32(len(p))
	if n > free {
		n = free
	}
	if n == 0 {
		return 0
	}
	i := h % rb.size
	first := copy(rb.buf[i:], p[:n])
	copy(rb.buf, p[first:n])
	rb.head.Store(rb.advance(h, n))
	return int(n)
}

// Read copies up to len(p) buffered bytes into p and returns the count.
func (rb *RingBuffer) Read(p []byte) int {
	t := rb.tail.Load()
	used := rb.distance(rb.head.Load(), t)
	n := uint32(len(p))
	if n > used {
		n = used
	}
	if n == 0 {
		return 0
	}
	i := t % rb.size
	first := copy(p[:n], rb.buf[i:])
	copy(p[first:n], rb.buf)
	rb.tail.Store(rb.advance(t, n))
	return int(n)
}

// Peek returns the longest contiguous run of readable bytes without consuming them.
// The slice aliases the buffer and is valid until the next Skip or Get by the consumer.
func (rb *RingBuffer) Peek() []byte {
	t := rb.tail.Load()
	used := rb.distance(rb.head.Load(), t)
	if used == 0 {
		return nil
	}
	i := t % rb.size
	end := i + used
	if end > rb.size {
		end = rb.size
	}
	return rb.buf[i:end]
}

// Skip consumes n bytes previously returned by Peek.
func (rb *RingBuffer) Skip(n int) {
	if n <= 0 {
		return
	}
	t := rb.tail.Load()
	used := rb.distance(rb.head.Load(), t)
	if uint32(n) > used {
		n = int(used)
	}
	rb.tail.Store(rb.advance(t, uint32(n)))
}

// Clear resets the head and tail pointers to zero. The producer must be quiesced.
func (rb *RingBuffer) Clear() {
	rb.tail.Store(0)
	rb.head.Store(0)
}
