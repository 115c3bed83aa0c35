// Package superblock implements the on-disk metadata record (C2) described
// by spec §3 "Superblock (on-disk)" and §4.2, modelled on the manual
// field-by-field binary layout the teacher's internal/uapi package uses for
// the ublk kernel ABI, applied here to the RAID array's own wire format
// instead of a kernel structure.
package superblock

import (
	"github.com/google/uuid"

	"github.com/lattice-storage/go-raid/internal/constants"
)

// State is a slot entry's recorded state within the superblock.
type State uint8

const (
	// StateConfigured marks a slot as an active member.
	StateConfigured State = iota
	// StateFailed marks a slot as removed/failed; its data is not current.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConfigured:
		return "CONFIGURED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// SlotEntry is one per-slot record inside a Superblock.
type SlotEntry struct {
	UUID       uuid.UUID
	Index      uint32
	State      State
	DataOffset uint64 // blocks
	DataSize   uint64 // blocks
}

// Superblock is the fixed-layout on-disk record written to every
// configured base device of an array.
type Superblock struct {
	Magic           uint32
	Version         uint32
	Length          uint32
	CRC             uint32
	Sequence        uint64
	ArrayUUID       uuid.UUID
	ArrayName       string
	Level           string
	StripSizeBlocks uint64
	BlockSize       uint32
	TotalBlocks     uint64
	Slots           []SlotEntry
}

// NullUUID is the on-disk sentinel meaning "no UUID assigned yet" (§4.6
// "Reject if the array UUID is null-sentinel").
var NullUUID = uuid.UUID{}

// IsNull reports whether u is the null-sentinel UUID.
func IsNull(u uuid.UUID) bool {
	return u == NullUUID
}

// maxLevelLen bounds the on-disk RAID level name field.
const maxLevelLen = 16

// Validate checks structural bounds before encoding.
func (sb *Superblock) Validate() error {
	if len(sb.ArrayName) > constants.MaxNameLen {
		return ErrNameTooLong
	}
	if len(sb.Level) > maxLevelLen {
		return ErrLevelTooLong
	}
	if len(sb.Slots) > constants.MaxSlots {
		return ErrTooManySlots
	}
	return nil
}
