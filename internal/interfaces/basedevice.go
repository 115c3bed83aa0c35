// Package interfaces provides internal interface definitions for go-raid.
// They live outside the root package to avoid an import cycle: internal
// subpackages (superblock, iochannel) need the
// base-device contract but must not import the root package, which in
// turn imports them.
package interfaces

import "github.com/google/uuid"

// BaseDevice is the contract every backing device of an array slot must
// satisfy (§3 "Slot / Base Device Record": "backing-device open
// descriptor"). It is the RAID analogue of the teacher's ublk Backend.
type BaseDevice interface {
	ReadAt(p []byte, off int64) (n int, err error)
	WriteAt(p []byte, off int64) (n int, err error)
	Size() int64
	Close() error
	Flush() error
}

// DiscardBackend is an optional interface for UNMAP/TRIM support on a base
// device. Whether the array-level UNMAP opcode is advertised depends on
// every configured slot's backing device supporting it (§4.3).
type DiscardBackend interface {
	BaseDevice
	Discard(offset, length int64) error
}

// CapacityProbe is an optional interface a base device can implement to
// report block size and optimal I/O boundary without a round trip through
// Size(); Bind (§4.6) uses it to compute the data offset.
type CapacityProbe interface {
	BlockSize() int
	OptimalIOBoundary() int64
}

// DeviceIdentity is an optional interface reporting a backing device's
// own stable identity, independent of any RAID superblock it may carry.
// Examine's slot-entry match (§4.6.d "find this device's UUID among the
// superblock's slot entries") and Bind's UUID confirm/copy (§4.6 Bind)
// both depend on it; a device that doesn't implement it can never be
// matched to a slot entry by UUID and is ignored.
type DeviceIdentity interface {
	UUID() uuid.UUID
}

// Resettable is an optional interface for backing devices that support a
// RESET operation distinct from FLUSH (§4.3: RESET "submits a reset to
// the backing channel"). A device without it counts as reset
// immediately, since there is nothing on it to reset.
type Resettable interface {
	Reset() error
}

// Logger interface for optional logging, mirrored from internal/logging so
// callers can pass their own without importing that package.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer interface for metrics collection, called from the I/O fan-out
// path. Implementations must be thread-safe.
type Observer interface {
	ObserveRead(bytes uint64, latencyNs uint64, success bool)
	ObserveWrite(bytes uint64, latencyNs uint64, success bool)
	ObserveUnmap(bytes uint64, latencyNs uint64, success bool)
	ObserveFlush(latencyNs uint64, success bool)
	ObserveReset(latencyNs uint64, success bool)
	ObserveQueueDepth(depth uint32)
}
