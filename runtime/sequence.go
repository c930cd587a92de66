package runtime

import "sync/atomic"

// Sequence produces monotonically increasing event sequence numbers.
// The zero value is ready to use.
type Sequence struct {
	counter atomic.Uint64
}

// Next returns the next sequence number (1-indexed).
func (s *Sequence) Next() uint64 {
	return s.counter.Add(1)
}

// Current returns the most recently issued sequence number (0 if none).
func (s *Sequence) Current() uint64 {
	return s.counter.Load()
}
