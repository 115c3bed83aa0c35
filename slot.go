package raid

import (
	"github.com/google/uuid"

	"github.com/lattice-storage/go-raid/internal/iochannel"
	"github.com/lattice-storage/go-raid/internal/interfaces"
)

// Slot is one per-slot base-device record (C3), owned exclusively by its
// Array.
type Slot struct {
	Index uint32
	Name  string    // assigned logical name; empty until bound
	UUID  uuid.UUID // expected UUID; NullUUID until bound

	Device  interfaces.BaseDevice // backing descriptor; nil when empty/evicted
	Channel *iochannel.Channel    // application-thread channel handle for superblock I/O

	ResetWait *iochannel.WaitQueue // parked RESET continuation, lazily created at bind

	CapacityBlocks uint64
	DataOffset     uint64 // blocks
	DataSize       uint64 // blocks

	Configured      bool
	RemoveScheduled bool

	onRemoveComplete func(status Status)
}

// IsEmpty reports whether this slot has no backing device bound.
func (s *Slot) IsEmpty() bool {
	return s.Device == nil
}

// clear resets the slot to its unbound state, releasing the backing
// descriptor. Caller must hold the owning Array's slot lock.
func (s *Slot) clear() {
	s.Device = nil
	s.Channel = nil
	s.ResetWait = nil
	s.Configured = false
	s.RemoveScheduled = false
	s.CapacityBlocks = 0
	s.DataOffset = 0
	s.DataSize = 0
	s.onRemoveComplete = nil
}
