// Package basedev provides standard interfaces.BaseDevice implementations:
// an in-memory RAM disk for tests and demos, and a file/block-device
// backend for real backing storage.
package basedev

import (
	"sync"

	"github.com/google/uuid"

	"github.com/lattice-storage/go-raid/internal/interfaces"
)

// ShardSize is the size of each memory shard (64KB). Sharded locking
// gives good parallelism for 4K random I/O while keeping lock overhead
// reasonable: a 256MB device has 4096 shards.
const ShardSize = 64 * 1024

// Memory is a RAM-backed base device, suitable as a slot's backing
// device in tests and demos. It uses sharded locking so concurrent
// fan-out across slots doesn't serialize on a single mutex.
type Memory struct {
	data      []byte
	size      int64
	shards    []sync.RWMutex
	blockSize int
	id        uuid.UUID
}

// NewMemory creates a new memory base device of the given size in bytes,
// with a 512-byte logical block size. Its identity is freshly generated
// and does not survive process restart, since the backing RAM disappears
// with it.
func NewMemory(size int64) *Memory {
	numShards := (size + ShardSize - 1) / ShardSize
	if numShards < 1 {
		numShards = 1
	}
	return &Memory{
		data:      make([]byte, size),
		size:      size,
		shards:    make([]sync.RWMutex, numShards),
		blockSize: 512,
		id:        uuid.New(),
	}
}

func (m *Memory) shardRange(off, length int64) (start, end int) {
	start = int(off / ShardSize)
	end = int((off + length - 1) / ShardSize)
	if end >= len(m.shards) {
		end = len(m.shards) - 1
	}
	return start, end
}

// ReadAt implements interfaces.BaseDevice.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	if off >= m.size {
		return 0, nil
	}

	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}

	startShard, endShard := m.shardRange(off, int64(len(p)))
	for i := startShard; i <= endShard; i++ {
		m.shards[i].RLock()
	}
	n := copy(p, m.data[off:off+int64(len(p))])
	for i := startShard; i <= endShard; i++ {
		m.shards[i].RUnlock()
	}
	return n, nil
}

// WriteAt implements interfaces.BaseDevice.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	if off >= m.size {
		return 0, errBeyondDevice
	}

	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}

	startShard, endShard := m.shardRange(off, int64(len(p)))
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Lock()
	}
	n := copy(m.data[off:off+int64(len(p))], p)
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Unlock()
	}
	return n, nil
}

// Size implements interfaces.BaseDevice.
func (m *Memory) Size() int64 {
	return m.size
}

// Close implements interfaces.BaseDevice.
func (m *Memory) Close() error {
	m.data = nil
	return nil
}

// Flush implements interfaces.BaseDevice.
func (m *Memory) Flush() error {
	return nil
}

// Discard implements interfaces.DiscardBackend.
func (m *Memory) Discard(offset, length int64) error {
	if offset >= m.size {
		return nil
	}
	end := offset + length
	if end > m.size {
		end = m.size
	}

	startShard, endShard := m.shardRange(offset, end-offset)
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Lock()
	}
	for i := offset; i < end; i++ {
		m.data[i] = 0
	}
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Unlock()
	}
	return nil
}

// BlockSize implements interfaces.CapacityProbe.
func (m *Memory) BlockSize() int {
	return m.blockSize
}

// OptimalIOBoundary implements interfaces.CapacityProbe.
func (m *Memory) OptimalIOBoundary() int64 {
	return 1
}

// UUID implements interfaces.DeviceIdentity.
func (m *Memory) UUID() uuid.UUID {
	return m.id
}

type memoryError string

func (e memoryError) Error() string { return string(e) }

const errBeyondDevice = memoryError("basedev: write beyond end of device")

var (
	_ interfaces.BaseDevice     = (*Memory)(nil)
	_ interfaces.DiscardBackend = (*Memory)(nil)
	_ interfaces.CapacityProbe  = (*Memory)(nil)
	_ interfaces.DeviceIdentity = (*Memory)(nil)
)
