package raid

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/lattice-storage/go-raid/internal/interfaces"
)

// MockBaseDevice provides a mock implementation of interfaces.BaseDevice
// for testing. It implements the optional DiscardBackend, CapacityProbe,
// DeviceIdentity and Resettable interfaces and tracks method calls for
// verification.
type MockBaseDevice struct {
	data    []byte
	size    int64
	closed  bool
	flushed bool

	blockSize  int
	ioBoundary int64
	id         uuid.UUID

	mu           sync.RWMutex
	readCalls    int
	writeCalls   int
	flushCalls   int
	discardCalls int
	resetCalls   int
	resetFunc    func() error
}

// NewMockBaseDevice creates a new mock base device with the given size in
// bytes, a default 512-byte block size, and a freshly generated identity
// UUID (override with SetUUID to pin it to a specific slot entry).
func NewMockBaseDevice(size int64) *MockBaseDevice {
	return &MockBaseDevice{
		data:       make([]byte, size),
		size:       size,
		blockSize:  512,
		ioBoundary: 1,
		id:         uuid.New(),
	}
}

// ReadAt implements interfaces.BaseDevice.
func (m *MockBaseDevice) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls++

	if m.closed {
		return 0, NewError("mock.read_at", CodeIO, "device closed")
	}
	if off >= m.size {
		return 0, nil
	}

	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}
	return copy(p, m.data[off:off+int64(len(p))]), nil
}

// WriteAt implements interfaces.BaseDevice.
func (m *MockBaseDevice) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeCalls++

	if m.closed {
		return 0, NewError("mock.write_at", CodeIO, "device closed")
	}
	if off >= m.size {
		return 0, NewError("mock.write_at", CodeInvalid, "offset beyond device size")
	}

	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}
	return copy(m.data[off:off+int64(len(p))], p), nil
}

// Size implements interfaces.BaseDevice.
func (m *MockBaseDevice) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Close implements interfaces.BaseDevice.
func (m *MockBaseDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	return nil
}

// Flush implements interfaces.BaseDevice.
func (m *MockBaseDevice) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushCalls++
	m.flushed = true
	return nil
}

// Discard implements interfaces.DiscardBackend.
func (m *MockBaseDevice) Discard(offset, length int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.discardCalls++
	if offset >= m.size {
		return nil
	}
	end := offset + length
	if end > m.size {
		end = m.size
	}
	for i := offset; i < end; i++ {
		m.data[i] = 0
	}
	return nil
}

// BlockSize implements interfaces.CapacityProbe.
func (m *MockBaseDevice) BlockSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.blockSize
}

// OptimalIOBoundary implements interfaces.CapacityProbe.
func (m *MockBaseDevice) OptimalIOBoundary() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ioBoundary
}

// SetBlockSize overrides the block size reported by BlockSize, for tests
// exercising the incompatible-block-size examine path.
func (m *MockBaseDevice) SetBlockSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockSize = n
}

// SetOptimalIOBoundary overrides the boundary reported by
// OptimalIOBoundary.
func (m *MockBaseDevice) SetOptimalIOBoundary(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ioBoundary = n
}

// UUID implements interfaces.DeviceIdentity.
func (m *MockBaseDevice) UUID() uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.id
}

// SetUUID overrides the identity reported by UUID, letting tests pin a
// device to a specific superblock slot entry.
func (m *MockBaseDevice) SetUUID(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = id
}

// Reset implements interfaces.Resettable. By default it succeeds;
// SetResetFunc overrides the outcome for tests exercising RESET's
// transient-retry path.
func (m *MockBaseDevice) Reset() error {
	m.mu.Lock()
	m.resetCalls++
	fn := m.resetFunc
	m.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return nil
}

// SetResetFunc installs fn as Reset's behavior.
func (m *MockBaseDevice) SetResetFunc(fn func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetFunc = fn
}

// IsClosed reports whether Close has been called.
func (m *MockBaseDevice) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// IsFlushed reports whether Flush has been called.
func (m *MockBaseDevice) IsFlushed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flushed
}

// CallCounts returns the number of times each method has been called.
func (m *MockBaseDevice) CallCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int{
		"read":    m.readCalls,
		"write":   m.writeCalls,
		"flush":   m.flushCalls,
		"discard": m.discardCalls,
		"reset":   m.resetCalls,
	}
}

// ResetCounters resets all call counters and state flags, without
// resizing data.
func (m *MockBaseDevice) ResetCounters() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readCalls = 0
	m.writeCalls = 0
	m.flushCalls = 0
	m.discardCalls = 0
	m.resetCalls = 0
	m.flushed = false
}

// Compile-time interface checks.
var (
	_ interfaces.BaseDevice     = (*MockBaseDevice)(nil)
	_ interfaces.DiscardBackend = (*MockBaseDevice)(nil)
	_ interfaces.CapacityProbe  = (*MockBaseDevice)(nil)
	_ interfaces.DeviceIdentity = (*MockBaseDevice)(nil)
	_ interfaces.Resettable     = (*MockBaseDevice)(nil)
)

// PassthroughPersonality is a minimal Personality that routes every I/O
// request to the array's first configured slot. It exists to exercise
// the lifecycle and control-surface plumbing in tests and in the demo
// CLI; it is not a striping, mirroring, or parity implementation (that
// mapping math is outside this module's scope — see the personality
// registry's design note).
type PassthroughPersonality struct {
	LevelName string
	NumSlots  int
	Tolerance Constraint
	ZeroStrip bool

	bitmap MockDeltaBitmap
}

func (p *PassthroughPersonality) Level() string { return p.LevelName }

func (p *PassthroughPersonality) MinSlots() int { return p.NumSlots }

func (p *PassthroughPersonality) Constraint() Constraint { return p.Tolerance }

func (p *PassthroughPersonality) RequiresZeroStripSize() bool { return p.ZeroStrip }

func (p *PassthroughPersonality) Start(a *Array) error { return nil }

func (p *PassthroughPersonality) Stop(a *Array, resume func()) bool { return true }

func (p *PassthroughPersonality) SubmitRW(req *Request) error {
	var dev interfaces.BaseDevice
	for _, s := range req.Array.Slots {
		if s.Configured && s.Device != nil {
			dev = s.Device
			break
		}
	}
	if dev == nil {
		return req.Complete(1, StatusFailed)
	}

	off := int64(req.BlockOffset) * int64(req.Array.BlockSize)
	var err error
	switch req.Op {
	case OpRead:
		_, err = dev.ReadAt(req.Payload, off)
	case OpWrite:
		_, err = dev.WriteAt(req.Payload, off)
	case OpFlush:
		err = dev.Flush()
	default:
		err = NewError("passthrough.submit_rw", CodeInvalid, "unsupported op")
	}

	status := StatusSuccess
	if err != nil {
		status = StatusFailed
	}
	return req.Complete(1, status)
}

// NewPassthroughPersonality constructs a PassthroughPersonality requiring
// every slot operational (ConstraintUnset).
func NewPassthroughPersonality(level string, numSlots int) *PassthroughPersonality {
	return &PassthroughPersonality{
		LevelName: level,
		NumSlots:  numSlots,
		Tolerance: Constraint{Kind: ConstraintUnset},
		bitmap:    MockDeltaBitmap{dirty: make(map[uint64]bool)},
	}
}

// MarkDirty, Clear, and Snapshot implement DeltaBitmap, delegating to an
// internal map-backed bitmap. Exercises the collaborator contract §9
// leaves unspecified beyond its shape.
func (p *PassthroughPersonality) MarkDirty(lba, count uint64) { p.bitmap.MarkDirty(lba, count) }

func (p *PassthroughPersonality) Clear(lba, count uint64) { p.bitmap.Clear(lba, count) }

func (p *PassthroughPersonality) Snapshot() []byte { return p.bitmap.Snapshot() }

var (
	_ Personality = (*PassthroughPersonality)(nil)
	_ DeltaBitmap = (*PassthroughPersonality)(nil)
)

// MockDeltaBitmap is a simple map-backed DeltaBitmap, used directly in
// tests and indirectly through PassthroughPersonality.
type MockDeltaBitmap struct {
	mu    sync.Mutex
	dirty map[uint64]bool
}

// NewMockDeltaBitmap returns an empty MockDeltaBitmap.
func NewMockDeltaBitmap() *MockDeltaBitmap {
	return &MockDeltaBitmap{dirty: make(map[uint64]bool)}
}

func (b *MockDeltaBitmap) MarkDirty(lba, count uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := uint64(0); i < count; i++ {
		b.dirty[lba+i] = true
	}
}

func (b *MockDeltaBitmap) Clear(lba, count uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := uint64(0); i < count; i++ {
		delete(b.dirty, lba+i)
	}
}

// Snapshot encodes the dirty set as a sorted sequence of little-endian
// uint64 LBAs.
func (b *MockDeltaBitmap) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	lbas := make([]uint64, 0, len(b.dirty))
	for lba := range b.dirty {
		lbas = append(lbas, lba)
	}
	sort.Slice(lbas, func(i, j int) bool { return lbas[i] < lbas[j] })

	out := make([]byte, len(lbas)*8)
	for i, lba := range lbas {
		binary.LittleEndian.PutUint64(out[i*8:], lba)
	}
	return out
}

var _ DeltaBitmap = (*MockDeltaBitmap)(nil)
