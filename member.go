package raid

import (
	"github.com/lattice-storage/go-raid/internal/interfaces"
	"github.com/lattice-storage/go-raid/internal/logging"
	"github.com/lattice-storage/go-raid/internal/superblock"
)

// MemberHostHooks are the quiesce/unquiesce collaborators Remove needs
// from the host I/O layer (§4.5 Remove, §9 "Ownership around quiesce").
// Quiesce reports either success, via done, or failure, via fail; on
// failure the remove is left retryable (§8 "Quiesce failure during
// removal leaves remove_scheduled cleared so the operation can be
// retried").
type MemberHostHooks struct {
	Quiesce   func(a *Array, done func(), fail func(error))
	Unquiesce func(a *Array, done func())
}

// MemberEngine implements C9: Add, Remove, Grow, Resize.
type MemberEngine struct {
	Catalog *Catalog
	Codec   *superblock.Codec
	Examine *ExamineEngine
	Hosts   MemberHostHooks
	logger  *logging.Logger
}

// NewMemberEngine constructs a MemberEngine.
func NewMemberEngine(catalog *Catalog, codec *superblock.Codec, examine *ExamineEngine, hosts MemberHostHooks, logger *logging.Logger) *MemberEngine {
	if logger == nil {
		logger = logging.Default()
	}
	return &MemberEngine{
		Catalog: catalog,
		Codec:   codec,
		Examine: examine,
		Hosts:   hosts,
		logger:  logger.Named("member"),
	}
}

// Add preassigns slotIndex a name and, if dev is non-nil, immediately
// binds it (§4.5 Add).
func (m *MemberEngine) Add(a *Array, slotIndex int, name string, dev interfaces.BaseDevice) error {
	const op = "array.add_slot"

	a.mu.Lock()
	if slotIndex < 0 || slotIndex >= len(a.Slots) {
		a.mu.Unlock()
		return NewArrayError(op, a.Name, CodeInvalid, "slot index out of range")
	}
	slot := a.Slots[slotIndex]
	if slot.Name != "" {
		a.mu.Unlock()
		return NewSlotError(op, a.Name, name, CodeBusy, "slot already has a name")
	}
	if !superblock.IsNull(slot.UUID) {
		a.mu.Unlock()
		return NewSlotError(op, a.Name, name, CodeBusy, "slot already has a UUID")
	}
	slot.Name = name
	a.mu.Unlock()

	if dev == nil {
		return nil
	}
	return m.Examine.bind(a, slot, dev, name, false)
}

// firstEmptySlot returns the first slot with no name assigned, used by
// array.add_slot's "bind into first empty slot" semantics.
func firstEmptySlot(a *Array) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for i, s := range a.Slots {
		if s.Name == "" {
			return i
		}
	}
	return -1
}

// findSlotByName performs the reverse lookup Remove needs to locate a
// slot from a backing-device identity (§4.5 Remove, §9 "Reverse lookup
// from a backing device uses iter + slot scan").
func findSlotByName(a *Array, name string) *Slot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, s := range a.Slots {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Remove detaches the named base device from a, running the
// quiesce/null-channels/unquiesce/release/superblock-update sequence
// when the array stays ONLINE (§4.5 Remove). post hops the quiesce
// continuation back onto the application thread; cb receives the final
// status.
func (m *MemberEngine) Remove(a *Array, deviceName string, post func(func()), cb func(Status)) error {
	const op = "array.remove_slot"

	slot := findSlotByName(a, deviceName)
	if slot == nil {
		return NewArrayError(op, a.Name, CodeNoDevice, "no slot bound to "+deviceName)
	}

	a.mu.Lock()
	if slot.RemoveScheduled {
		a.mu.Unlock()
		if cb != nil {
			cb(StatusSuccess)
		}
		return nil
	}
	slot.RemoveScheduled = true
	slot.onRemoveComplete = cb
	state := a.State
	a.mu.Unlock()

	if state != StateOnline {
		a.mu.Lock()
		slot.clear()
		a.mu.Unlock()
		if cb != nil {
			cb(StatusSuccess)
		}
		if a.allSlotsEmpty() {
			m.Catalog.Remove(a)
		}
		return nil
	}

	a.mu.Lock()
	wouldDrop := a.OperationalCount-1 < a.MinOperational
	a.mu.Unlock()

	if wouldDrop {
		a.mu.Lock()
		a.OperationalCount--
		a.mu.Unlock()
		if err := a.Deconfigure(func(arr *Array, done func()) {
			if m.Examine.Hosts.Unregister != nil {
				m.Examine.Hosts.Unregister(arr, done)
			} else if done != nil {
				done()
			}
		}); err != nil {
			slot.RemoveScheduled = false
			return err
		}
		a.mu.Lock()
		slot.Device = nil
		a.mu.Unlock()
		if cb != nil {
			cb(StatusSuccess)
		}
		return nil
	}

	m.removeWithQuiesce(a, slot, post, cb)
	return nil
}

func (a *Array) allSlotsEmpty() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, s := range a.Slots {
		if !s.IsEmpty() {
			return false
		}
	}
	return true
}

// removeWithQuiesce is the continuation chain: quiesce -> null per-thread
// channel entries -> unquiesce -> release descriptor -> update superblock
// -> invoke callback (§4.5 Remove, §9 "Ownership around quiesce").
func (m *MemberEngine) removeWithQuiesce(a *Array, slot *Slot, post func(func()), cb func(Status)) {
	quiesceDone := func() {
		a.Threads.ClearSlotAsync(int(slot.Index), post, func() {
			unquiesceDone := func() {
				a.mu.Lock()
				slot.Device = nil
				slot.Configured = false
				a.OperationalCount--
				a.mu.Unlock()

				var writeErr error
				if a.SuperblockEnabled && a.superblockBuf != nil {
					a.mu.Lock()
					if int(slot.Index) < len(a.superblockBuf.Slots) {
						a.superblockBuf.Slots[slot.Index].State = superblock.StateFailed
					}
					devices := a.configuredDevices()
					a.mu.Unlock()
					writeErr = m.Codec.WriteAll(a.superblockBuf, devices)
				}

				status := StatusSuccess
				if writeErr != nil {
					status = StatusFailed
					m.logger.Warn("superblock update failed after remove", "array", a.Name, "slot", slot.Index, "err", writeErr)
				}
				if cb != nil {
					cb(status)
				}
			}
			if m.Hosts.Unquiesce != nil {
				m.Hosts.Unquiesce(a, unquiesceDone)
			} else {
				unquiesceDone()
			}
		})
	}

	quiesceFailed := func(err error) {
		a.mu.Lock()
		slot.RemoveScheduled = false
		a.mu.Unlock()
		m.logger.Warn("quiesce failed during remove, remove_scheduled cleared for retry", "array", a.Name, "slot", slot.Index, "err", err)
		if cb != nil {
			cb(StatusFailed)
		}
	}

	if m.Hosts.Quiesce != nil {
		m.Hosts.Quiesce(a, quiesceDone, quiesceFailed)
	} else {
		quiesceDone()
	}
}

// Grow extends a's slot count by one, binds the new slot, and invokes
// the personality's resize hook (§4.5 Grow). Rejected if the personality
// does not implement Resizer.
func (m *MemberEngine) Grow(a *Array, name string, dev interfaces.BaseDevice) error {
	const op = "array.grow"

	resizer, ok := a.Personality.(Resizer)
	if !ok {
		return NewArrayError(op, a.Name, CodeInvalid, "personality has no resize hook")
	}

	a.mu.Lock()
	newIndex := len(a.Slots)
	a.Slots = append(a.Slots, &Slot{Index: uint32(newIndex)})
	a.NumSlots++
	a.OperationalCount++
	if a.SuperblockEnabled && a.superblockBuf != nil {
		a.superblockBuf.Slots = append(a.superblockBuf.Slots, superblock.SlotEntry{
			Index: uint32(newIndex),
			State: superblock.StateFailed,
		})
	}
	a.mu.Unlock()

	if err := m.Add(a, newIndex, name, dev); err != nil {
		return WrapError(op, err)
	}
	return resizer.Resize(a)
}

// Resize notes a base device's grown capacity on its slot and invokes
// the personality's resize hook if present (§4.5 Resize). No superblock
// change is mandated unless the personality requests one.
func (m *MemberEngine) Resize(a *Array, slot *Slot, newCapacityBlocks uint64) error {
	a.mu.Lock()
	slot.CapacityBlocks = newCapacityBlocks
	a.mu.Unlock()

	if resizer, ok := a.Personality.(Resizer); ok {
		return resizer.Resize(a)
	}
	return nil
}
