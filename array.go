package raid

import (
	"sync"

	"github.com/google/uuid"

	"github.com/lattice-storage/go-raid/internal/iochannel"
	"github.com/lattice-storage/go-raid/internal/interfaces"
	"github.com/lattice-storage/go-raid/internal/logging"
	"github.com/lattice-storage/go-raid/internal/superblock"
)

// State is an Array's lifecycle state (§3 "State ∈ {CONFIGURING, ONLINE,
// OFFLINE}").
type State int

const (
	StateConfiguring State = iota
	StateOnline
	StateOffline
)

func (s State) String() string {
	switch s {
	case StateConfiguring:
		return "CONFIGURING"
	case StateOnline:
		return "ONLINE"
	case StateOffline:
		return "OFFLINE"
	default:
		return "UNKNOWN"
	}
}

// Array is the per-array record (C4).
type Array struct {
	// mu is the "spinlock" of §3/§9: it protects Slots during reads by
	// worker threads and mutations by the application thread. Slot scans
	// and single-slot pointer swaps hold it only briefly; Configure holds
	// the write lock for its whole transition, including the
	// personality's Start, the superblock write to every slot and the
	// register callback.
	mu sync.RWMutex

	UUID uuid.UUID
	Name string

	Personality   Personality
	Level         string
	StripSizeKB   uint64
	StripSizeBlks uint64
	BlockSize     uint32

	NumSlots         int
	MinOperational   int
	OperationalCount int
	DiscoveredCount  int

	State State

	SuperblockEnabled bool
	superblockBuf     *superblock.Superblock

	Slots []*Slot

	Threads *iochannel.ThreadSet

	destroyStarted bool

	logger *logging.Logger
	codec  *superblock.Codec
}

// NewArrayParams are the inputs to Create (§4.4).
type NewArrayParams struct {
	Name              string
	StripSizeKB       uint64
	NumSlots          int
	Level             string
	SuperblockEnabled bool
	UUID              uuid.UUID // may be NullUUID
	NumThreads        int
}

// CreateArray validates and constructs a fresh Array in CONFIGURING
// state (§4.4 Creation). It does not bind any slots; callers bind slots
// one at a time (Add / examine Bind) and Configure transitions to
// ONLINE once every slot is discovered.
func CreateArray(params NewArrayParams, registry *Registry, codec *superblock.Codec, logger *logging.Logger) (*Array, error) {
	const op = "array.create"

	if logger == nil {
		logger = logging.Default()
	}

	if len(params.Name) == 0 || len(params.Name) > MaxNameLen {
		return nil, NewArrayError(op, params.Name, CodeInvalid, "name length out of bounds")
	}

	personality, err := registry.Lookup(params.Level)
	if err != nil {
		return nil, WrapError(op, err)
	}

	if params.NumSlots < personality.MinSlots() {
		return nil, NewArrayError(op, params.Name, CodeInvalid, "slot count below personality minimum")
	}

	if personality.RequiresZeroStripSize() {
		if params.StripSizeKB != 0 {
			return nil, NewArrayError(op, params.Name, CodeInvalid, "mirroring level requires strip size zero")
		}
	} else if !isPowerOfTwo(params.StripSizeKB) {
		return nil, NewArrayError(op, params.Name, CodeInvalid, "strip size must be a power of two in kibibytes")
	}

	minOperational, err := personality.Constraint().MinOperational(params.NumSlots)
	if err != nil {
		return nil, WrapError(op, err)
	}

	id := params.UUID
	if params.SuperblockEnabled && superblock.IsNull(id) {
		id = uuid.New()
	}

	numThreads := params.NumThreads
	if numThreads <= 0 {
		numThreads = 1
	}

	a := &Array{
		UUID:              id,
		Name:              params.Name,
		Personality:       personality,
		Level:             params.Level,
		StripSizeKB:       params.StripSizeKB,
		NumSlots:          params.NumSlots,
		MinOperational:    minOperational,
		OperationalCount:  params.NumSlots,
		DiscoveredCount:   0,
		State:             StateConfiguring,
		SuperblockEnabled: params.SuperblockEnabled,
		Slots:             make([]*Slot, params.NumSlots),
		Threads:           iochannel.NewThreadSet(numThreads, params.NumSlots),
		logger:            logger.Named("lifecycle"),
		codec:             codec,
	}
	for i := range a.Slots {
		a.Slots[i] = &Slot{Index: uint32(i)}
	}

	a.logger.Info("array created", "name", a.Name, "level", a.Level, "slots", a.NumSlots, "min_operational", a.MinOperational)
	return a, nil
}

func isPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

// StateString returns a's current lifecycle state as its wire string
// (§6 array.list).
func (a *Array) StateString() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.State.String()
}

// SlotSummary is the read-only slot view used by the control surface.
type SlotSummary struct {
	Index  uint32
	Name   string
	UUID   uuid.UUID
	Empty  bool
	Online bool
}

// SlotViews returns a summary of every slot, for array.list.
func (a *Array) SlotViews() []SlotSummary {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]SlotSummary, len(a.Slots))
	for i, s := range a.Slots {
		out[i] = SlotSummary{
			Index:  s.Index,
			Name:   s.Name,
			UUID:   s.UUID,
			Empty:  s.IsEmpty(),
			Online: s.Configured,
		}
	}
	return out
}

// FirstEmptySlot returns the index of the first slot with no name
// assigned, or -1 if none (§4.5 Add "bind into first empty slot").
func (a *Array) FirstEmptySlot() int {
	return firstEmptySlot(a)
}

// HasSlotNamed reports whether any slot carries the given base-device
// name, used by array.remove_slot's reverse lookup.
func (a *Array) HasSlotNamed(name string) bool {
	return findSlotByName(a, name) != nil
}

// assembleFromSuperblock rebuilds operational_count from the superblock's
// CONFIGURED slot entries (§4.4 Creation "for assembly from a
// superblock").
func assembleFromSuperblock(sb *superblock.Superblock, registry *Registry, codec *superblock.Codec, logger *logging.Logger) (*Array, error) {
	const op = "array.assemble"

	personality, err := registry.Lookup(sb.Level)
	if err != nil {
		return nil, WrapError(op, err)
	}

	minOperational, err := personality.Constraint().MinOperational(len(sb.Slots))
	if err != nil {
		return nil, WrapError(op, err)
	}

	configuredCount := 0
	for _, entry := range sb.Slots {
		if entry.State == superblock.StateConfigured {
			configuredCount++
		}
	}

	a := &Array{
		UUID:              sb.ArrayUUID,
		Name:              sb.ArrayName,
		Personality:       personality,
		Level:             sb.Level,
		StripSizeBlks:     sb.StripSizeBlocks,
		BlockSize:         sb.BlockSize,
		NumSlots:          len(sb.Slots),
		MinOperational:    minOperational,
		OperationalCount:  configuredCount,
		DiscoveredCount:   0,
		State:             StateConfiguring,
		SuperblockEnabled: true,
		superblockBuf:     sb,
		Slots:             make([]*Slot, len(sb.Slots)),
		Threads:           iochannel.NewThreadSet(1, len(sb.Slots)),
		logger:            logger.Named("lifecycle"),
		codec:             codec,
	}
	for i, entry := range sb.Slots {
		a.Slots[i] = &Slot{
			Index:      uint32(i),
			UUID:       entry.UUID,
			DataOffset: entry.DataOffset,
			DataSize:   entry.DataSize,
		}
	}
	return a, nil
}

// Configure transitions the Array to ONLINE (§4.4 Configuration).
// Precondition: discovered_count == operational_count.
func (a *Array) Configure(register func(*Array) error, unregister func(*Array)) error {
	const op = "array.configure"

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.DiscoveredCount != a.OperationalCount {
		return NewArrayError(op, a.Name, CodeBusy, "not all operational slots discovered")
	}

	var blockSize uint32
	for _, s := range a.Slots {
		if !s.Configured {
			continue
		}
		var probeSize uint32
		if cp, ok := s.Device.(interfaces.CapacityProbe); ok {
			probeSize = uint32(cp.BlockSize())
		}
		if blockSize == 0 {
			blockSize = probeSize
		} else if probeSize != 0 && probeSize != blockSize {
			return NewArrayError(op, a.Name, CodeIncompatible, "slot block sizes disagree")
		}
	}
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	a.BlockSize = blockSize

	stripBlocks := a.StripSizeBlks
	if stripBlocks == 0 {
		stripBlocks = (a.StripSizeKB * 1024) / uint64(blockSize)
	}
	if !a.Personality.RequiresZeroStripSize() && stripBlocks == 0 {
		return NewArrayError(op, a.Name, CodeInvalid, "strip size in blocks must be nonzero")
	}
	a.StripSizeBlks = stripBlocks

	if err := a.Personality.Start(a); err != nil {
		return WrapError(op, err)
	}

	if a.SuperblockEnabled {
		if a.superblockBuf == nil || superblock.IsNull(a.superblockBuf.ArrayUUID) {
			a.superblockBuf = a.buildFreshSuperblock()
		} else {
			if a.superblockBuf.ArrayUUID != a.UUID || a.superblockBuf.BlockSize != a.BlockSize {
				return NewArrayError(op, a.Name, CodeIncompatible, "on-disk superblock does not match array")
			}
		}

		devices := a.configuredDevices()
		if err := a.codec.WriteAll(a.superblockBuf, devices); err != nil {
			return WrapError(op, err)
		}
	}

	if register != nil {
		if err := register(a); err != nil {
			a.State = StateConfiguring
			if unregister != nil {
				unregister(a)
			}
			return WrapError(op, err)
		}
	}

	a.State = StateOnline
	a.logger.Info("array online", "name", a.Name)
	return nil
}

func (a *Array) buildFreshSuperblock() *superblock.Superblock {
	sb := &superblock.Superblock{
		ArrayUUID:       a.UUID,
		ArrayName:       a.Name,
		Level:           a.Level,
		StripSizeBlocks: a.StripSizeBlks,
		BlockSize:       a.BlockSize,
		TotalBlocks:     a.totalBlocks(),
		Slots:           make([]superblock.SlotEntry, len(a.Slots)),
	}
	for i, s := range a.Slots {
		state := superblock.StateFailed
		if s.Configured {
			state = superblock.StateConfigured
		}
		sb.Slots[i] = superblock.SlotEntry{
			UUID:       s.UUID,
			Index:      s.Index,
			State:      state,
			DataOffset: s.DataOffset,
			DataSize:   s.DataSize,
		}
	}
	return sb
}

func (a *Array) totalBlocks() uint64 {
	var total uint64
	for _, s := range a.Slots {
		if s.Configured {
			total += s.DataSize
		}
	}
	return total
}

func (a *Array) configuredDevices() []interfaces.BaseDevice {
	var devices []interfaces.BaseDevice
	for _, s := range a.Slots {
		if s.Configured && s.Device != nil {
			devices = append(devices, s.Device)
		}
	}
	return devices
}

// Deconfigure transitions the Array to OFFLINE (§4.4 Deconfiguration).
func (a *Array) Deconfigure(unregister func(*Array, func())) error {
	const op = "array.deconfigure"

	a.mu.Lock()
	if a.DiscoveredCount == 0 {
		a.mu.Unlock()
		return NewArrayError(op, a.Name, CodeInvalid, "discovered_count must be > 0 to deconfigure")
	}
	a.State = StateOffline
	a.mu.Unlock()

	a.logger.Info("array offline", "name", a.Name)
	if unregister != nil {
		unregister(a, func() {})
	}
	return nil
}

// Destruct runs the host unregister pipeline's per-slot teardown
// (§4.4 Destruct).
func (a *Array) Destruct(shutdownStarted bool, stopDone func()) {
	a.mu.Lock()
	for _, s := range a.Slots {
		if shutdownStarted || s.RemoveScheduled {
			s.Device = nil
		}
	}
	a.mu.Unlock()

	done := a.Personality.Stop(a, stopDone)
	if done && stopDone != nil {
		stopDone()
	}
}

// Delete marks every slot remove_scheduled and releases what can be
// released synchronously (§4.4 Delete). Idempotent.
func (a *Array) Delete(deconfigure func(*Array) error) error {
	const op = "array.delete"

	a.mu.Lock()
	if a.destroyStarted {
		a.mu.Unlock()
		return NewArrayError(op, a.Name, CodeInProgress, "delete already in progress")
	}
	a.destroyStarted = true

	remaining := 0
	for _, s := range a.Slots {
		s.RemoveScheduled = true
		if a.State != StateOnline {
			s.clear()
		} else if !s.IsEmpty() {
			remaining++
		}
	}
	state := a.State
	a.mu.Unlock()

	if remaining == 0 || state != StateOnline {
		return nil
	}
	if deconfigure != nil {
		return deconfigure(a)
	}
	return nil
}
