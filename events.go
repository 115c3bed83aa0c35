package raid

import "github.com/lattice-storage/go-raid/internal/logging"

// EventKind is a host-level event on a slot's backing device (§4.7).
type EventKind int

const (
	EventResize EventKind = iota
	EventRemove
	EventUnknown
)

// HandleEvent dispatches a host-level device event per §4.7: RESIZE is
// logged and forwarded to the personality's resize hook, REMOVE invokes
// the Remove flow with a null callback, and anything else is logged and
// ignored.
func HandleEvent(a *Array, slot *Slot, kind EventKind, newCapacityBlocks uint64, members *MemberEngine, post func(func()), logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Default()
	}
	log := logger.Named("events")

	switch kind {
	case EventResize:
		log.Info("resize event", "array", a.Name, "slot", slot.Index)
		return members.Resize(a, slot, newCapacityBlocks)
	case EventRemove:
		log.Info("remove event", "array", a.Name, "slot", slot.Index)
		return members.Remove(a, slot.Name, post, nil)
	default:
		log.Warn("unknown event ignored", "array", a.Name, "slot", slot.Index)
		return nil
	}
}
