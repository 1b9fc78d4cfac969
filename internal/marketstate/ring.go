package marketstate

import "trading_engine/internal/core"

// barRing is a fixed-capacity FIFO of bars: inserting past capacity
// evicts the oldest. Not safe for concurrent use; the owning partition
// serializes access.
type barRing struct {
	buf   []core.Bar
	head  int // index of oldest element
	count int
}

func newBarRing(capacity int) *barRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &barRing{buf: make([]core.Bar, capacity)}
}

func (r *barRing) push(b core.Bar) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = b
		r.count++
		return
	}
	// Full: overwrite oldest
	r.buf[r.head] = b
	r.head = (r.head + 1) % len(r.buf)
}

func (r *barRing) len() int {
	return r.count
}

// ordered returns the bars oldest-first as a fresh slice
func (r *barRing) ordered() []core.Bar {
	out := make([]core.Bar, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}
