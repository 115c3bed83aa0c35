package superblock

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSuperblock() *Superblock {
	return &Superblock{
		ArrayUUID:       uuid.New(),
		ArrayName:       "tank0",
		Level:           "raid1",
		StripSizeBlocks: 128,
		BlockSize:       512,
		TotalBlocks:     1 << 20,
		Slots: []SlotEntry{
			{UUID: uuid.New(), Index: 0, State: StateConfigured, DataOffset: 2048, DataSize: 1 << 20},
			{UUID: uuid.New(), Index: 1, State: StateConfigured, DataOffset: 2048, DataSize: 1 << 20},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	codec := NewCodec()
	sb := sampleSuperblock()
	sb.Sequence = codec.NextSequence(sb.ArrayUUID)

	buf, err := codec.Encode(sb)
	require.NoError(t, err)

	got, err := codec.Decode(buf)
	require.NoError(t, err)

	assert.Equal(t, sb.ArrayUUID, got.ArrayUUID)
	assert.Equal(t, sb.ArrayName, got.ArrayName)
	assert.Equal(t, sb.Level, got.Level)
	assert.Equal(t, sb.Sequence, got.Sequence)
	assert.Equal(t, sb.StripSizeBlocks, got.StripSizeBlocks)
	assert.Equal(t, sb.BlockSize, got.BlockSize)
	assert.Equal(t, sb.TotalBlocks, got.TotalBlocks)
	require.Len(t, got.Slots, 2)
	assert.Equal(t, sb.Slots[0].UUID, got.Slots[0].UUID)
	assert.Equal(t, sb.Slots[1].DataOffset, got.Slots[1].DataOffset)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf := make([]byte, headerSize)
	_, err := decode(buf)
	assert.ErrorIs(t, err, ErrNotSuperblock)
}

func TestDecodeRejectsCorruptedCRC(t *testing.T) {
	codec := NewCodec()
	sb := sampleSuperblock()
	buf, err := codec.Encode(sb)
	require.NoError(t, err)

	buf[offSequence] ^= 0xFF

	_, err = codec.Decode(buf)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestNextSequenceMonotonic(t *testing.T) {
	codec := NewCodec()
	id := uuid.New()

	first := codec.NextSequence(id)
	second := codec.NextSequence(id)
	assert.Greater(t, second, first)

	other := uuid.New()
	assert.Equal(t, uint64(1), codec.NextSequence(other))
}

func TestObserveAdvancesWatermark(t *testing.T) {
	codec := NewCodec()
	id := uuid.New()

	codec.Observe(id, 42)
	next := codec.NextSequence(id)
	assert.Equal(t, uint64(43), next)
}

func TestValidateRejectsOversizedName(t *testing.T) {
	sb := sampleSuperblock()
	sb.ArrayName = string(make([]byte, 200))

	_, err := encode(sb)
	assert.ErrorIs(t, err, ErrNameTooLong)
}

func TestValidateRejectsTooManySlots(t *testing.T) {
	sb := sampleSuperblock()
	extra := make([]SlotEntry, 33)
	for i := range extra {
		extra[i] = SlotEntry{UUID: uuid.New(), Index: uint32(i)}
	}
	sb.Slots = extra

	_, err := encode(sb)
	assert.ErrorIs(t, err, ErrTooManySlots)
}
