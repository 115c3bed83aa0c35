package raid

import (
	"github.com/lattice-storage/go-raid/internal/iochannel"
)

// Status is the outcome of a logical or child I/O (§3 I/O Request
// "rolled-up status").
type Status = iochannel.Status

const (
	StatusSuccess = iochannel.StatusSuccess
	StatusFailed  = iochannel.StatusFailed
)

// OpType is the block I/O opcode carried by a Request.
type OpType int

const (
	OpRead OpType = iota
	OpWrite
	OpFlush
	OpUnmap
	OpReset
)

func (o OpType) String() string {
	switch o {
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpFlush:
		return "FLUSH"
	case OpUnmap:
		return "UNMAP"
	case OpReset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

// Request is a logical block I/O (§3 "I/O Request"). It wraps an
// iochannel.Accumulator with the array/channel back-pointers the root
// package needs that the internal accumulator deliberately does not
// reference, keeping internal/iochannel free of any import back onto
// this package.
type Request struct {
	Op          OpType
	BlockOffset uint64
	BlockCount  uint32
	Payload     []byte // iovec-equivalent payload buffer

	Array   *Array
	Channel *iochannel.Channel

	acc *iochannel.Accumulator

	onComplete func(*Request, Status)
}

// NewRequest creates a Request fanned out across remaining child I/Os,
// invoking onComplete exactly once when every child has reported in
// (§4.3).
func NewRequest(op OpType, array *Array, ch *iochannel.Channel, remaining int, onComplete func(*Request, Status)) *Request {
	req := &Request{
		Op:         op,
		Array:      array,
		Channel:    ch,
		onComplete: onComplete,
	}
	req.acc = iochannel.NewAccumulator(remaining, func(s Status) {
		if req.onComplete != nil {
			req.onComplete(req, s)
		}
	})
	return req
}

// SetInterceptor installs a completion-interception callback used by
// personality modules (§3 "optional completion-interception callback").
func (req *Request) SetInterceptor(fn func(Status)) {
	req.acc.SetInterceptor(fn)
}

// Complete reports delta units of completion credit for this request's
// accumulator (§4.3 steps 1-3).
func (req *Request) Complete(delta int, status Status) error {
	return req.acc.Complete(delta, status)
}

// Remaining reports the outstanding completion credit.
func (req *Request) Remaining() int {
	return req.acc.Remaining()
}

// Submitted reports how many children have been submitted so far, used
// to resume fan-out after a wait-queue park.
func (req *Request) Submitted() int {
	return req.acc.Submitted()
}

// AdvanceSubmitted records that n more children were submitted.
func (req *Request) AdvanceSubmitted(n int) {
	req.acc.AdvanceSubmitted(n)
}
