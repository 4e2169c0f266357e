package terminal

import "sync"

// DefaultHistorySize is the per-session output history kept in memory.
const DefaultHistorySize = 1024 * 1024

// Ring is a fixed-capacity byte history addressed by monotonic offsets.
// Offset N is the N-th byte ever written; the ring retains the most recent
// capacity bytes. Safe for concurrent use.
type Ring struct {
	mu    sync.Mutex
	buf   []byte
	next  int    // write position inside buf
	total uint64 // bytes ever written
}

// NewRing creates a ring holding at most capacity bytes
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &Ring{buf: make([]byte, capacity)}
}

// Write appends p and returns the offset just past it
func (r *Ring) Write(p []byte) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total += uint64(len(p))
	if len(p) > len(r.buf) {
		p = p[len(p)-len(r.buf):]
	}
	n := copy(r.buf[r.next:], p)
	if n < len(p) {
		copy(r.buf, p[n:])
	}
	r.next = (r.next + len(p)) % len(r.buf)
	return r.total
}

// ReadFrom returns the bytes from offset to the current end together with
// the offset the returned data actually starts at. When offset has already
// been overwritten, the returned start is later than requested.
func (r *Ring) ReadFrom(offset uint64) ([]byte, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := r.total
	if stored > uint64(len(r.buf)) {
		stored = uint64(len(r.buf))
	}
	oldest := r.total - stored
	if offset < oldest {
		offset = oldest
	}
	if offset >= r.total {
		return nil, r.total
	}

	size := int(r.total - offset)
	out := make([]byte, size)
	start := (r.next - size + len(r.buf)) % len(r.buf)
	n := copy(out, r.buf[start:])
	if n < size {
		copy(out[n:], r.buf[:size-n])
	}
	return out, offset
}

// Offset returns the total number of bytes written
func (r *Ring) Offset() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
