// Package constants holds default values and fixed layout limits shared
// across the raid package and its internal subpackages.
package constants

import "time"

// Default configuration constants for a newly created array.
const (
	// DefaultStripSizeKB is the default strip size in kibibytes for
	// personalities that require a nonzero strip size.
	DefaultStripSizeKB = 64

	// DefaultBlockSize is the default logical block size in bytes used
	// when a base device does not report one.
	DefaultBlockSize = 512

	// DefaultMaxChildIO has the same value as config.Default's
	// default_max_child_io; no I/O path reads it or bounds in-flight
	// child I/Os by it.
	DefaultMaxChildIO = 128

	// MinOperationalFloor is the smallest legal value of min_operational.
	MinOperationalFloor = 1
)

// Superblock layout constants (C2).
const (
	// SuperblockMagic identifies a valid on-disk record.
	SuperblockMagic uint32 = 0x52414944 // "RAID"

	// SuperblockVersion is the current on-disk format version.
	SuperblockVersion uint32 = 1

	// MaxSuperblockLen bounds the serialised record length; new fields
	// must fit within this without moving existing fields.
	MaxSuperblockLen = 4096

	// MaxSlots bounds the number of slot entries a superblock can record.
	MaxSlots = 32

	// MaxNameLen bounds the array name field, identical on disk and in
	// memory.
	MaxNameLen = 64

	// SuperblockOffset is the well-known byte offset on each base device
	// at which the superblock record is read and written.
	SuperblockOffset = 0

	// MinDataOffsetBytes is the minimum byte offset of array data on a
	// base device, leaving room for the superblock and its alignment
	// padding. Bind (§4.6) rounds this up to the device's optimal I/O
	// boundary.
	MinDataOffsetBytes = 1 << 20 // 1 MiB

	// DeviceIdentityOffset is the byte offset of a basedev.File's
	// persistent identity record: a bare 16-byte UUID, independent of the
	// RAID superblock region, so a device's identity survives a restart
	// even on a device that never joined an array. It sits immediately
	// after the superblock region and well within MinDataOffsetBytes.
	DeviceIdentityOffset = MaxSuperblockLen
)

// Timing constants. Nothing in the module reads them: quiesce resumes
// through the host layer's done/fail callbacks rather than by polling,
// and Examine does not retry a failed superblock read.
const (
	// QuiesceDrainPoll is a drain-complete polling interval.
	QuiesceDrainPoll = 5 * time.Millisecond

	// ExamineRetryBackoff is a superblock-read retry delay.
	ExamineRetryBackoff = 50 * time.Millisecond
)
