package raid

import (
	"github.com/lattice-storage/go-raid/internal/iochannel"
	"github.com/lattice-storage/go-raid/internal/interfaces"
)

// IOTypeSupported computes the §4.3 opcode-support intersection: every
// configured slot's backing device must support op, and FLUSH/UNMAP
// additionally require the personality to provide a null-payload
// submitter (UNMAP further requires every slot's device to support
// discard).
func (a *Array) IOTypeSupported(op OpType) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	switch op {
	case OpFlush:
		_, ok := a.Personality.(NullPayloadSubmitter)
		return ok
	case OpUnmap:
		if _, ok := a.Personality.(NullPayloadSubmitter); !ok {
			return false
		}
		for _, s := range a.Slots {
			if !s.Configured || s.Device == nil {
				continue
			}
			if _, ok := s.Device.(interfaces.DiscardBackend); !ok {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// SubmitIO is the single array-level I/O request-dispatch entry point
// (§4.3, C6): READ obtains a payload buffer and delegates to the
// personality's submit-rw callback, WRITE goes straight to submit-rw,
// FLUSH/UNMAP go to submit-null-payload, and RESET is handled directly
// by the core. ch is the calling host thread's channel.
func (a *Array) SubmitIO(op OpType, blockOffset uint64, blockCount uint32, ch *iochannel.Channel, onComplete func(*Request, Status)) (*Request, error) {
	const opName = "array.submit_io"

	if !a.IOTypeSupported(op) {
		return nil, NewArrayError(opName, a.Name, CodeIncompatible, "opcode not supported by this array's slots/personality")
	}

	if op == OpReset {
		return a.submitReset(ch, onComplete), nil
	}

	req := NewRequest(op, a, ch, 1, onComplete)
	req.BlockOffset = blockOffset
	req.BlockCount = blockCount

	switch op {
	case OpRead:
		req.Payload = iochannel.GetBuffer(blockCount * a.BlockSize)
		if err := a.Personality.SubmitRW(req); err != nil {
			return req, WrapError(opName, err)
		}
	case OpWrite:
		if err := a.Personality.SubmitRW(req); err != nil {
			return req, WrapError(opName, err)
		}
	case OpFlush, OpUnmap:
		submitter, ok := a.Personality.(NullPayloadSubmitter)
		if !ok {
			return nil, NewArrayError(opName, a.Name, CodeIncompatible, "personality has no null-payload submitter")
		}
		if err := submitter.SubmitNullPayload(req); err != nil {
			return req, WrapError(opName, err)
		}
	default:
		return nil, NewArrayError(opName, a.Name, CodeInvalid, "unknown opcode")
	}

	return req, nil
}

// submitReset implements §4.3's RESET handling: remaining is set to the
// slot count, each slot with no channel/device counts immediately as
// success, and each live slot's device is reset through the backing
// channel. Transient (ENOMEM-class) failures park the request's
// continuation on that slot's single-slot wait queue, resumed via
// ReleaseResetWait; any other failure, or an already-occupied wait
// queue, is a hard failure for the whole request.
func (a *Array) submitReset(ch *iochannel.Channel, onComplete func(*Request, Status)) *Request {
	a.mu.RLock()
	slots := make([]*Slot, len(a.Slots))
	copy(slots, a.Slots)
	a.mu.RUnlock()

	req := NewRequest(OpReset, a, ch, len(slots), onComplete)

	// submit dispatches from req.Submitted() onward. A child's index only
	// advances once it has either completed or hard-failed; a transient
	// park leaves the index where it is, so resume retries the same
	// child (§4.3 "submission continues from the saved submitted index").
	var submit func()
	submit = func() {
		for i := req.Submitted(); i < len(slots); i = req.Submitted() {
			slot := slots[i]

			if slot.Channel == nil || slot.Device == nil {
				req.AdvanceSubmitted(1)
				if err := req.Complete(1, StatusSuccess); err != nil {
					a.logger.Warn("reset completion after request already done", "array", a.Name, "slot", slot.Index, "err", err)
				}
				continue
			}

			err := resetBaseDevice(slot.Device)
			if err == nil {
				req.AdvanceSubmitted(1)
				if cerr := req.Complete(1, StatusSuccess); cerr != nil {
					a.logger.Warn("reset completion after request already done", "array", a.Name, "slot", slot.Index, "err", cerr)
				}
				continue
			}

			if IsCode(err, CodeNoMemory) && slot.ResetWait != nil {
				if perr := slot.ResetWait.Park(submit); perr == nil {
					a.logger.Debug("reset parked on wait queue", "array", a.Name, "slot", slot.Index)
					return
				}
			}

			req.AdvanceSubmitted(1)
			a.logger.Warn("reset failed", "array", a.Name, "slot", slot.Index, "err", err)
			if cerr := req.Complete(1, StatusFailed); cerr != nil {
				a.logger.Warn("reset completion after request already done", "array", a.Name, "slot", slot.Index, "err", cerr)
			}
		}
	}

	submit()
	return req
}

// ReleaseResetWait signals that the host layer has reported capacity for
// slotIndex, resuming any RESET submission parked on that slot's wait
// queue.
func (a *Array) ReleaseResetWait(slotIndex int) {
	a.mu.RLock()
	var wq *iochannel.WaitQueue
	if slotIndex >= 0 && slotIndex < len(a.Slots) {
		wq = a.Slots[slotIndex].ResetWait
	}
	a.mu.RUnlock()

	if wq != nil {
		wq.Release()
	}
}

// resetBaseDevice resets dev if it implements interfaces.Resettable;
// absence of that interface counts as an immediate success, since there
// is nothing on the device to reset.
func resetBaseDevice(dev interfaces.BaseDevice) error {
	r, ok := dev.(interfaces.Resettable)
	if !ok {
		return nil
	}
	return r.Reset()
}
