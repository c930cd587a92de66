package bus

import "github.com/petal-labs/callstream/runtime"

// ring is a fixed-capacity FIFO that overwrites its oldest entry when full.
type ring struct {
	buf   []runtime.LogEvent
	head  int // index of the oldest entry
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]runtime.LogEvent, capacity)}
}

func (r *ring) push(e runtime.LogEvent) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.head] = e
	r.head = (r.head + 1) % len(r.buf)
}

// items returns a copy of the contents, oldest first.
func (r *ring) items() []runtime.LogEvent {
	out := make([]runtime.LogEvent, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

func (r *ring) len() int {
	return r.count
}

func (r *ring) reset() {
	clear(r.buf)
	r.head = 0
	r.count = 0
}
