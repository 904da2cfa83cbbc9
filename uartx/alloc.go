package uartx

import "sync"

// Allocator supplies ring buffer storage. Open returns ErrAllocationFailed when Alloc
// fails and releases anything it already obtained, so a failed Open leaves no storage
// outstanding.
type Allocator interface {
	Alloc(n int) ([]byte, bool)
	Free(b []byte)
}

// HeapAllocator allocates from the Go heap against an optional byte budget, the way a
// small target has a fixed amount of internal RAM for driver buffers.
type HeapAllocator struct {
	// Limit caps the bytes outstanding at once; zero means no cap.
	Limit int

	mu    sync.Mutex
	inUse int
}

// Alloc returns n zeroed bytes, or false when the budget would be exceeded.
func (h *HeapAllocator) Alloc(n int) ([]byte, bool) {
	if n <= 0 {
		return nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Limit > 0 && h.inUse+n > h.Limit {
		return nil, false
	}
	h.inUse += n
	return make([]byte, n), true
}

// Free returns b to the budget.
func (h *HeapAllocator) Free(b []byte) {
	h.mu.Lock()
	h.inUse -= cap(b)
	h.mu.Unlock()
}

// InUse reports the bytes currently allocated.
func (h *HeapAllocator) InUse() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inUse
}

// allocRing returns nil with ok=true for a zero size: the port runs unbuffered.
func allocRing(a Allocator, size int) (rb *RingBuffer, ok bool) {
	if size <= 0 {
		return nil, true
	}
	storage, ok := a.Alloc(size)
	if !ok {
		return nil, false
	}
	return newRingBuffer(storage[:size:size]), true
}

func freeRing(a Allocator, rb *RingBuffer) {
	if rb != nil {
		a.Free(rb.buf)
	}
}
