package raid

import (
	"github.com/lattice-storage/go-raid/internal/iochannel"
	"github.com/lattice-storage/go-raid/internal/interfaces"
	"github.com/lattice-storage/go-raid/internal/logging"
	"github.com/lattice-storage/go-raid/internal/superblock"
)

// HostHooks are the host-block-layer collaborators the Examine and
// Lifecycle engines call out to (§1 "the host block layer... treated as
// external collaborators"). A real deployment wires these to whatever
// registers character/block-device front ends; tests wire stub
// closures.
type HostHooks struct {
	// Claim exclusively claims a backing device for a slot (single-claim
	// semantics, §4.6 Bind). Returns an error if already claimed.
	Claim func(dev interfaces.BaseDevice) error

	// Register publishes an ONLINE array's I/O front end.
	Register func(a *Array) error

	// Unregister withdraws an array's I/O front end, invoking done when
	// torn down.
	Unregister func(a *Array, done func())
}

// ExamineEngine implements C8: new-base-device discovery.
type ExamineEngine struct {
	Catalog    *Catalog
	Registry   *Registry
	Codec      *superblock.Codec
	Hosts      HostHooks
	NumThreads int
	logger     *logging.Logger
}

// NewExamineEngine constructs an ExamineEngine.
func NewExamineEngine(catalog *Catalog, registry *Registry, codec *superblock.Codec, hosts HostHooks, numThreads int, logger *logging.Logger) *ExamineEngine {
	if logger == nil {
		logger = logging.Default()
	}
	if numThreads <= 0 {
		numThreads = 1
	}
	return &ExamineEngine{
		Catalog:    catalog,
		Registry:   registry,
		Codec:      codec,
		Hosts:      hosts,
		NumThreads: numThreads,
		logger:     logger.Named("examine"),
	}
}

// Examine inspects a newly presented backing device (§4.6). post is the
// application-thread hop function used by the superblock-read suspension
// point; done is invoked with the array the device ended up joining (nil
// if ignored) or an error.
func (e *ExamineEngine) Examine(dev interfaces.BaseDevice, deviceName string, post func(func()), done func(*Array, error)) {
	e.Codec.ReadAsync(dev, post, func(sb *superblock.Superblock, outcome superblock.ReadOutcome, err error) {
		switch outcome {
		case superblock.OutcomeAbsent:
			e.examineAbsent(dev, deviceName, done)
		case superblock.OutcomeValid:
			e.examineValid(dev, deviceName, sb, done)
		default:
			done(nil, WrapError("examine", err))
		}
	})
}

// examineAbsent handles step 3: no on-disk superblock. Pre-configured
// arrays without metadata are matched by slot name.
func (e *ExamineEngine) examineAbsent(dev interfaces.BaseDevice, deviceName string, done func(*Array, error)) {
	var matched *Array
	var matchedSlot *Slot

	e.Catalog.Iter(func(a *Array) {
		if matched != nil {
			return
		}
		a.mu.RLock()
		for _, s := range a.Slots {
			if s.Name == deviceName && s.Device == nil {
				matched, matchedSlot = a, s
				break
			}
		}
		a.mu.RUnlock()
	})

	if matched == nil {
		done(nil, nil)
		return
	}

	err := e.bind(matched, matchedSlot, dev, deviceName, false)
	done(matched, err)
}

// examineValid handles step 4: a valid on-disk superblock was found.
func (e *ExamineEngine) examineValid(dev interfaces.BaseDevice, deviceName string, sb *superblock.Superblock, done func(*Array, error)) {
	if cp, ok := dev.(interfaces.CapacityProbe); ok {
		if uint32(cp.BlockSize()) != sb.BlockSize {
			done(nil, NewError("examine", CodeIncompatible, "device block size disagrees with superblock"))
			return
		}
	}

	if superblock.IsNull(sb.ArrayUUID) {
		done(nil, nil)
		return
	}

	existing := e.Catalog.FindByUUID(sb.ArrayUUID)
	if existing != nil {
		existing.mu.RLock()
		seq := existing.superblockBuf
		state := existing.State
		existing.mu.RUnlock()

		if seq != nil && sb.Sequence > seq.Sequence {
			if state != StateConfiguring {
				e.logger.Warn("higher-sequence superblock ignored on non-CONFIGURING array", "array", existing.Name)
				done(nil, nil)
				return
			}
			e.Catalog.Remove(existing)
			array, err := assembleFromSuperblock(sb, e.Registry, e.Codec, e.logger)
			if err != nil {
				done(nil, err)
				return
			}
			e.Catalog.Insert(array)
			existing = array
		} else if seq != nil && sb.Sequence < seq.Sequence {
			sb = seq
		}
	}

	var matchedEntry *superblock.SlotEntry
	if ident, ok := dev.(interfaces.DeviceIdentity); ok {
		devUUID := ident.UUID()
		for i := range sb.Slots {
			if sb.Slots[i].UUID == devUUID {
				matchedEntry = &sb.Slots[i]
				break
			}
		}
	}
	if matchedEntry == nil {
		done(nil, nil)
		return
	}

	if existing == nil {
		array, err := assembleFromSuperblock(sb, e.Registry, e.Codec, e.logger)
		if err != nil {
			done(nil, err)
			return
		}
		e.Catalog.Insert(array)
		existing = array
	}

	if matchedEntry.State != superblock.StateConfigured {
		done(nil, nil)
		return
	}

	slot := existing.Slots[matchedEntry.Index]
	err := e.bind(existing, slot, dev, deviceName, true)
	done(existing, err)
}

// bind attaches dev to slot (C8 Bind, §4.6). fromSuperblock distinguishes
// the foreign-superblock scan required only for freshly added slots.
func (e *ExamineEngine) bind(a *Array, slot *Slot, dev interfaces.BaseDevice, deviceName string, fromSuperblock bool) error {
	const op = "examine.bind"

	if !fromSuperblock {
		// Scan for an existing foreign superblock before committing; a
		// positive hit aborts the bind (§4.6 Bind, last paragraph).
		foreign, _, ferr := tryDecodeForeignSuperblock(e.Codec, dev)
		if ferr == nil && foreign {
			return NewSlotError(op, a.Name, slot.Name, CodeExists, "device already carries a foreign superblock")
		}
	}

	if e.Hosts.Claim != nil {
		if err := e.Hosts.Claim(dev); err != nil {
			return WrapError(op, err)
		}
	}

	a.mu.Lock()
	if ident, ok := dev.(interfaces.DeviceIdentity); ok {
		devUUID := ident.UUID()
		if !superblock.IsNull(slot.UUID) {
			if slot.UUID != devUUID {
				a.mu.Unlock()
				return NewSlotError(op, a.Name, slot.Name, CodeIncompatible, "device UUID does not match slot's recorded UUID")
			}
		} else {
			slot.UUID = devUUID
		}
	}

	slot.Device = dev
	slot.Channel = a.Threads.Channel(0)
	if slot.Channel != nil {
		slot.Channel.Set(int(slot.Index), dev)
	}
	if slot.ResetWait == nil {
		slot.ResetWait = iochannel.NewWaitQueue()
	}

	var capacityBlocks uint64
	var optimalBoundary int64 = 1
	blockSize := int64(a.BlockSize)
	if cp, ok := dev.(interfaces.CapacityProbe); ok {
		if blockSize == 0 {
			blockSize = int64(cp.BlockSize())
		}
		optimalBoundary = cp.OptimalIOBoundary()
		if optimalBoundary <= 0 {
			optimalBoundary = 1
		}
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	capacityBlocks = uint64(dev.Size() / blockSize)
	slot.CapacityBlocks = capacityBlocks

	if a.SuperblockEnabled {
		minOffset := uint64(MinDataOffsetBytes) / uint64(blockSize)
		optimal := roundUp(minOffset, uint64(optimalBoundary))
		if slot.DataOffset != 0 && slot.DataOffset != optimal {
			e.logger.Warn("slot data offset differs from optimal boundary, keeping stored value", "array", a.Name, "slot", slot.Index)
		} else {
			slot.DataOffset = optimal
		}
	}

	if slot.DataOffset >= capacityBlocks || slot.DataOffset+slot.DataSize > capacityBlocks {
		a.mu.Unlock()
		return NewSlotError(op, a.Name, slot.Name, CodeInvalid, "data offset/size exceeds device capacity")
	}
	if slot.DataSize == 0 {
		slot.DataSize = capacityBlocks - slot.DataOffset
	}

	slot.Configured = true
	a.DiscoveredCount++
	triggerConfigure := a.DiscoveredCount == a.OperationalCount
	a.mu.Unlock()

	e.logger.Info("slot bound", "array", a.Name, "slot", slot.Index, "discovered", a.DiscoveredCount, "operational", a.OperationalCount)

	if triggerConfigure {
		return a.Configure(e.Hosts.Register, e.Hosts.Unregister)
	}
	return nil
}

func roundUp(v, boundary uint64) uint64 {
	if boundary == 0 {
		return v
	}
	rem := v % boundary
	if rem == 0 {
		return v
	}
	return v + (boundary - rem)
}

// tryDecodeForeignSuperblock reads dev's superblock region synchronously
// and reports whether a valid (foreign) record is present.
func tryDecodeForeignSuperblock(codec *superblock.Codec, dev interfaces.BaseDevice) (bool, *superblock.Superblock, error) {
	buf := make([]byte, 4096)
	n, err := dev.ReadAt(buf, 0)
	if err != nil && n == 0 {
		return false, nil, err
	}
	sb, err := codec.Decode(buf[:n])
	if err != nil {
		return false, nil, nil
	}
	return true, sb, nil
}
