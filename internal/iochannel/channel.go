package iochannel

import (
	"sync"

	"github.com/lattice-storage/go-raid/internal/interfaces"
)

// Channel is one host thread's private view of an array's slots. Channels
// are never shared across threads (§5 "Per-thread channels are never
// shared across threads"); each worker thread dispatches I/O only
// through its own Channel, indexed by slot.
type Channel struct {
	mu      sync.RWMutex
	devices []interfaces.BaseDevice
}

// NewChannel returns a Channel with numSlots entries, all initially nil.
func NewChannel(numSlots int) *Channel {
	return &Channel{devices: make([]interfaces.BaseDevice, numSlots)}
}

// Get returns the backing device currently bound to slot idx on this
// thread, or nil if the slot is empty or has been cleared.
func (c *Channel) Get(idx int) interfaces.BaseDevice {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if idx < 0 || idx >= len(c.devices) {
		return nil
	}
	return c.devices[idx]
}

// Set binds dev to slot idx on this thread.
func (c *Channel) Set(idx int, dev interfaces.BaseDevice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx < 0 || idx >= len(c.devices) {
		return
	}
	c.devices[idx] = dev
}

// Clear nulls slot idx so in-flight and new I/Os on this thread stop
// seeing it (§4.5 Remove: "null the slot's entry so in-flight and new
// I/Os stop seeing it").
func (c *Channel) Clear(idx int) {
	c.Set(idx, nil)
}

// NumSlots reports the slot capacity of this channel.
func (c *Channel) NumSlots() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.devices)
}

// ThreadSet holds one Channel per host worker thread for a single array.
type ThreadSet struct {
	channels []*Channel
}

// NewThreadSet allocates a ThreadSet with numThreads channels, each with
// numSlots entries.
func NewThreadSet(numThreads, numSlots int) *ThreadSet {
	ts := &ThreadSet{channels: make([]*Channel, numThreads)}
	for i := range ts.channels {
		ts.channels[i] = NewChannel(numSlots)
	}
	return ts
}

// Channel returns the per-thread channel for threadIdx.
func (ts *ThreadSet) Channel(threadIdx int) *Channel {
	if threadIdx < 0 || threadIdx >= len(ts.channels) {
		return nil
	}
	return ts.channels[threadIdx]
}

// NumThreads reports how many per-thread channels this set holds.
func (ts *ThreadSet) NumThreads() int {
	return len(ts.channels)
}

// ClearSlotAsync walks every per-thread channel nulling slotIdx, one
// thread at a time, yielding back through post between each step and
// calling done once every channel has been visited. This is the
// "per-thread channel iteration" suspension point named in §5: the
// application thread never blocks scanning every channel in one go, it
// resumes via the continuation captured in the closure passed to post.
func (ts *ThreadSet) ClearSlotAsync(slotIdx int, post func(func()), done func()) {
	var step func(i int)
	step = func(i int) {
		if i >= len(ts.channels) {
			if done != nil {
				done()
			}
			return
		}
		ts.channels[i].Clear(slotIdx)
		post(func() { step(i + 1) })
	}
	step(0)
}
