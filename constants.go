package raid

import "github.com/lattice-storage/go-raid/internal/constants"

// Re-export constants for public API
const (
	DefaultStripSizeKB  = constants.DefaultStripSizeKB
	DefaultBlockSize    = constants.DefaultBlockSize
	DefaultMaxChildIO   = constants.DefaultMaxChildIO
	MinOperationalFloor = constants.MinOperationalFloor
	SuperblockMagic     = constants.SuperblockMagic
	SuperblockVersion   = constants.SuperblockVersion
	MaxSuperblockLen    = constants.MaxSuperblockLen
	MaxSlots            = constants.MaxSlots
	MaxNameLen          = constants.MaxNameLen
	MinDataOffsetBytes  = constants.MinDataOffsetBytes
)
