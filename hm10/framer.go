package hm10

import (
	"fmt"
	"sync"
)

// Framer turns the circular receive region into discrete messages, using
// idle-line events as frame boundaries.
//
// Messages go into a single slot. Every completed frame overwrites it, so a
// reader must take the message before the next idle event or it is lost.
type Framer struct {
	region []byte
	start  int

	mu   sync.Mutex
	slot []byte // len(region)+1, content then NUL
	n    int
}

// NewFramer returns a framer over a region of the given capacity.
func NewFramer(capacity int) *Framer {
	return &Framer{
		region: make([]byte, capacity),
		slot:   make([]byte, capacity+1),
	}
}

// Region is the circular area the transport writes into.
func (f *Framer) Region() []byte { return f.region }

// Start is the offset of the first unconsumed byte.
func (f *Framer) Start() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.start
}

// Complete reconstructs the frame that ended at the idle event and returns
// it. remaining is the transport's count of bytes left before its cursor
// wraps. A frame that wrapped past the end of the region is reassembled in
// arrival order.
//
// Complete runs in notification context: it does not block beyond the slot
// lock and does not allocate.
func (f *Framer) Complete(remaining int) ([]byte, error) {
	size := len(f.region)
	if remaining < 0 || remaining > size {
		return nil, fmt.Errorf("idle event reports %d bytes remaining in a %d byte region", remaining, size)
	}
	end := size - remaining

	f.mu.Lock()
	defer f.mu.Unlock()

	if end >= f.start {
		f.n = copy(f.slot, f.region[f.start:end])
	} else {
		prefix := copy(f.slot, f.region[f.start:])
		f.n = prefix + copy(f.slot[prefix:], f.region[:end])
	}
	f.slot[f.n] = 0

	f.start = end % size
	return f.slot[:f.n], nil
}

// Reset moves the start back to the beginning of the region. It must be
// called whenever reception is restarted.
func (f *Framer) Reset() {
	f.mu.Lock()
	f.start = 0
	f.mu.Unlock()
}

// Message returns a copy of the last reconstructed frame.
func (f *Framer) Message() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, f.n)
	copy(out, f.slot[:f.n])
	return out
}
