package superblock

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/google/uuid"

	"github.com/lattice-storage/go-raid/internal/constants"
)

// Fixed byte offsets/sizes of the on-disk record, little-endian
// throughout (§6 "Endianness: little-endian"). New fields must append
// after slotEntrySize without moving any of these.
const (
	offMagic    = 0
	offVersion  = 4
	offLength   = 8
	offCRC      = 12
	offSequence = 16
	offArrayID  = 24
	offName     = 40
	nameLen     = constants.MaxNameLen // 64
	offLevel    = offName + nameLen    // 104
	levelLen    = maxLevelLen          // 16
	offStrip    = offLevel + levelLen  // 120
	offBlockSz  = offStrip + 8         // 128
	offTotalBlk = offBlockSz + 4       // 132
	offNumSlots = offTotalBlk + 8      // 140
	headerSize  = offNumSlots + 4      // 144

	slotUUIDOff   = 0
	slotIndexOff  = 16
	slotStateOff  = 20
	slotOffsetOff = 24
	slotSizeOff   = 32
	slotEntrySize = 40
)

// encode serialises sb into a freshly allocated buffer with CRC computed
// over the record with the CRC field zeroed, per §6.
func encode(sb *Superblock) ([]byte, error) {
	if err := sb.Validate(); err != nil {
		return nil, err
	}

	total := headerSize + len(sb.Slots)*slotEntrySize
	if total > constants.MaxSuperblockLen {
		return nil, ErrLengthExceedsMax
	}

	buf := make([]byte, total)

	binary.LittleEndian.PutUint32(buf[offMagic:], constants.SuperblockMagic)
	binary.LittleEndian.PutUint32(buf[offVersion:], constants.SuperblockVersion)
	binary.LittleEndian.PutUint32(buf[offLength:], uint32(total))
	// offCRC left zero for checksum computation below.
	binary.LittleEndian.PutUint64(buf[offSequence:], sb.Sequence)
	copy(buf[offArrayID:offArrayID+16], sb.ArrayUUID[:])
	copy(buf[offName:offName+nameLen], []byte(sb.ArrayName))
	copy(buf[offLevel:offLevel+levelLen], []byte(sb.Level))
	binary.LittleEndian.PutUint64(buf[offStrip:], sb.StripSizeBlocks)
	binary.LittleEndian.PutUint32(buf[offBlockSz:], sb.BlockSize)
	binary.LittleEndian.PutUint64(buf[offTotalBlk:], sb.TotalBlocks)
	binary.LittleEndian.PutUint32(buf[offNumSlots:], uint32(len(sb.Slots)))

	for i, slot := range sb.Slots {
		base := headerSize + i*slotEntrySize
		copy(buf[base+slotUUIDOff:base+slotUUIDOff+16], slot.UUID[:])
		binary.LittleEndian.PutUint32(buf[base+slotIndexOff:], slot.Index)
		buf[base+slotStateOff] = byte(slot.State)
		binary.LittleEndian.PutUint64(buf[base+slotOffsetOff:], slot.DataOffset)
		binary.LittleEndian.PutUint64(buf[base+slotSizeOff:], slot.DataSize)
	}

	crc := crc32.ChecksumIEEE(buf)
	binary.LittleEndian.PutUint32(buf[offCRC:], crc)

	return buf, nil
}

// decode parses buf into a Superblock, validating magic, version, length
// and CRC. A magic or version mismatch returns ErrNotSuperblock (the
// "absent/invalid" outcome of §4.2); a CRC mismatch on a matching magic
// and version returns ErrChecksumMismatch, folded into the same outcome
// by callers.
func decode(buf []byte) (*Superblock, error) {
	if len(buf) < headerSize {
		return nil, ErrNotSuperblock
	}

	magic := binary.LittleEndian.Uint32(buf[offMagic:])
	if magic != constants.SuperblockMagic {
		return nil, ErrNotSuperblock
	}
	if binary.LittleEndian.Uint32(buf[offVersion:]) != constants.SuperblockVersion {
		return nil, ErrNotSuperblock
	}

	length := binary.LittleEndian.Uint32(buf[offLength:])
	if length > constants.MaxSuperblockLen {
		return nil, ErrLengthExceedsMax
	}
	if int(length) > len(buf) {
		return nil, ErrTruncated
	}

	record := buf[:length]
	storedCRC := binary.LittleEndian.Uint32(record[offCRC:])

	verifyBuf := make([]byte, length)
	copy(verifyBuf, record)
	binary.LittleEndian.PutUint32(verifyBuf[offCRC:], 0)
	if crc32.ChecksumIEEE(verifyBuf) != storedCRC {
		return nil, ErrChecksumMismatch
	}

	sb := &Superblock{
		Magic:    magic,
		Version:  binary.LittleEndian.Uint32(record[offVersion:]),
		Length:   length,
		CRC:      storedCRC,
		Sequence: binary.LittleEndian.Uint64(record[offSequence:]),
	}
	copy(sb.ArrayUUID[:], record[offArrayID:offArrayID+16])
	sb.ArrayName = trimZeros(record[offName : offName+nameLen])
	sb.Level = trimZeros(record[offLevel : offLevel+levelLen])
	sb.StripSizeBlocks = binary.LittleEndian.Uint64(record[offStrip:])
	sb.BlockSize = binary.LittleEndian.Uint32(record[offBlockSz:])
	sb.TotalBlocks = binary.LittleEndian.Uint64(record[offTotalBlk:])

	numSlots := binary.LittleEndian.Uint32(record[offNumSlots:])
	if numSlots > constants.MaxSlots {
		return nil, ErrTooManySlots
	}

	need := headerSize + int(numSlots)*slotEntrySize
	if need > len(record) {
		return nil, ErrTruncated
	}

	sb.Slots = make([]SlotEntry, numSlots)
	for i := range sb.Slots {
		base := headerSize + i*slotEntrySize
		var id uuid.UUID
		copy(id[:], record[base+slotUUIDOff:base+slotUUIDOff+16])
		sb.Slots[i] = SlotEntry{
			UUID:       id,
			Index:      binary.LittleEndian.Uint32(record[base+slotIndexOff:]),
			State:      State(record[base+slotStateOff]),
			DataOffset: binary.LittleEndian.Uint64(record[base+slotOffsetOff:]),
			DataSize:   binary.LittleEndian.Uint64(record[base+slotSizeOff:]),
		}
	}

	return sb, nil
}

func trimZeros(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
