package superblock

import (
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/lattice-storage/go-raid/internal/interfaces"
)

// ReadOutcome classifies the result of a superblock read as described in
// §4.2's three-way outcome: a valid record, a confirmed absence of any
// record (or a record that fails validation, which the caller treats
// identically), or a hard backing-device I/O error.
type ReadOutcome int

const (
	OutcomeValid ReadOutcome = iota
	OutcomeAbsent
	OutcomeError
)

// Codec encodes, decodes and sequences superblock records. A single Codec
// is shared by every array so sequence numbers stay monotonic process-wide
// even across concurrent Create/Configure calls on different arrays.
type Codec struct {
	mu   sync.Mutex
	last map[uuid.UUID]uint64
}

// NewCodec returns a ready-to-use Codec.
func NewCodec() *Codec {
	return &Codec{last: make(map[uuid.UUID]uint64)}
}

// NextSequence returns a value strictly greater than any previously
// returned for arrayUUID, satisfying §8's "assemble after restart" and
// "higher sequence wins" invariants.
func (c *Codec) NextSequence(arrayUUID uuid.UUID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[arrayUUID]++
	return c.last[arrayUUID]
}

// Observe records seq as the highest sequence known for arrayUUID if it
// exceeds what the Codec has already tracked, so a value read back from
// disk during assembly also advances the in-memory watermark.
func (c *Codec) Observe(arrayUUID uuid.UUID, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq > c.last[arrayUUID] {
		c.last[arrayUUID] = seq
	}
}

// Encode serialises sb to its on-disk byte representation.
func (c *Codec) Encode(sb *Superblock) ([]byte, error) {
	return encode(sb)
}

// Decode parses buf into a Superblock.
func (c *Codec) Decode(buf []byte) (*Superblock, error) {
	return decode(buf)
}

// ReadAsync performs a blocking read of dev's superblock region off the
// calling goroutine, then hops back onto the application thread via post
// before invoking cb — the continuation-style suspension point described
// by the concurrency model's "superblock I/O" case: the application
// thread dispatches the read and resumes other work rather than blocking
// on backing-device I/O.
func (c *Codec) ReadAsync(dev interfaces.BaseDevice, post func(func()), cb func(*Superblock, ReadOutcome, error)) {
	go func() {
		buf := make([]byte, 4096)
		n, err := dev.ReadAt(buf, 0)
		if err != nil && n == 0 {
			post(func() { cb(nil, OutcomeError, err) })
			return
		}

		sb, decErr := decode(buf[:n])
		if decErr != nil {
			post(func() { cb(nil, OutcomeAbsent, decErr) })
			return
		}

		c.Observe(sb.ArrayUUID, sb.Sequence)
		post(func() { cb(sb, OutcomeValid, nil) })
	}()
}

// WriteAll assigns sb the next sequence number for its array and writes
// the encoded record synchronously to every device in devices. Per §4.2
// the write is declared successful only if every device accepted it;
// partial success is reported as an error naming how many succeeded so
// the caller can decide whether the array remains viable.
func (c *Codec) WriteAll(sb *Superblock, devices []interfaces.BaseDevice) error {
	sb.Sequence = c.NextSequence(sb.ArrayUUID)

	buf, err := encode(sb)
	if err != nil {
		return err
	}

	succeeded := 0
	var firstErr error
	for _, dev := range devices {
		if _, werr := dev.WriteAt(buf, 0); werr != nil {
			if firstErr == nil {
				firstErr = werr
			}
			continue
		}
		if ferr := dev.Flush(); ferr != nil {
			if firstErr == nil {
				firstErr = ferr
			}
			continue
		}
		succeeded++
	}

	if succeeded != len(devices) {
		return &PartialWriteError{Succeeded: succeeded, Total: len(devices), Cause: firstErr}
	}
	return nil
}

// PartialWriteError reports that a superblock write did not reach every
// configured device.
type PartialWriteError struct {
	Succeeded int
	Total     int
	Cause     error
}

func (e *PartialWriteError) Error() string {
	return "superblock write succeeded on " + strconv.Itoa(e.Succeeded) + " of " + strconv.Itoa(e.Total) + " devices"
}

func (e *PartialWriteError) Unwrap() error { return e.Cause }
