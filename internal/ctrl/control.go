package ctrl

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	raid "github.com/lattice-storage/go-raid"
	"github.com/lattice-storage/go-raid/internal/apploop"
	"github.com/lattice-storage/go-raid/internal/config"
	"github.com/lattice-storage/go-raid/internal/interfaces"
	"github.com/lattice-storage/go-raid/internal/logging"
	"github.com/lattice-storage/go-raid/internal/resync"
	"github.com/lattice-storage/go-raid/internal/superblock"
)

// DeviceOpener opens a named base device for array.create / add_slot /
// grow. A real deployment resolves names through a basedev registry
// (file paths, memory disks); tests wire a stub.
type DeviceOpener func(name string) (interfaces.BaseDevice, error)

// Server is the JSON control surface (§6 "Control contract"), routing
// ten recognised methods onto the Catalog/Registry/Examine/Member
// engines. Every mutating handler's body runs on Dispatcher's single
// application thread (§5), matching the concurrency model the lifecycle
// engine itself assumes; the read-only list/delta-bitmap-get/stop
// methods bypass it, since their data is already guarded by its own
// lock.
type Server struct {
	Catalog    *raid.Catalog
	Registry   *raid.Registry
	Codec      *superblock.Codec
	Examine    *raid.ExamineEngine
	Members    *raid.MemberEngine
	Config     *config.Config
	Limiter    *resync.Limiter
	Open       DeviceOpener
	Dispatcher *apploop.Dispatcher

	logger *logging.Logger
	router *mux.Router
}

// NewServer constructs a control Server and registers its routes.
// dispatcher must already be started (apploop.Dispatcher.Start); Server
// does not own its lifecycle.
func NewServer(catalog *raid.Catalog, registry *raid.Registry, codec *superblock.Codec, examine *raid.ExamineEngine, members *raid.MemberEngine, cfg *config.Config, limiter *resync.Limiter, open DeviceOpener, dispatcher *apploop.Dispatcher, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Server{
		Catalog:    catalog,
		Registry:   registry,
		Codec:      codec,
		Examine:    examine,
		Members:    members,
		Config:     cfg,
		Limiter:    limiter,
		Open:       open,
		Dispatcher: dispatcher,
		logger:     logger.Named("ctrl"),
	}
	s.router = mux.NewRouter()
	s.router.HandleFunc("/v1/array.list", s.handleList).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/array.create", s.handleCreate).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/array.delete", s.handleDelete).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/array.add_slot", s.handleAddSlot).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/array.remove_slot", s.handleRemoveSlot).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/array.grow", s.handleGrow).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/array.set_options", s.handleSetOptions).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/array.delta_bitmap_get", s.handleDeltaBitmapGet).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/array.delta_bitmap_stop", s.handleDeltaBitmapStop).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/array.delta_bitmap_clear", s.handleDeltaBitmapClear).Methods(http.MethodPost)
	return s
}

// Router returns the mux.Router backing this server, for embedding into
// an http.Server or a larger mux.
func (s *Server) Router() *mux.Router {
	return s.router
}

func writeError(w http.ResponseWriter, err error) {
	code := raid.CodeInvalid
	msg := err.Error()
	if rerr, ok := err.(*raid.Error); ok {
		code = rerr.Code
		msg = rerr.Msg
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(errorResponse{Code: string(code), Message: msg})
}

func writeResult(w http.ResponseWriter, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(successResponse{Result: result})
}

func decodeParams(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

func arrayView(a *raid.Array) ArrayView {
	slots := a.SlotViews()
	views := make([]SlotView, len(slots))
	for i, sv := range slots {
		views[i] = SlotView{
			Index:  sv.Index,
			Name:   sv.Name,
			UUID:   sv.UUID.String(),
			Empty:  sv.Empty,
			Online: sv.Online,
		}
	}
	return ArrayView{
		UUID:        a.UUID.String(),
		Name:        a.Name,
		State:       a.StateString(),
		Level:       a.Level,
		StripSizeKB: a.StripSizeKB,
		Slots:       views,
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var p ListParams
	if err := decodeParams(r, &p); err != nil {
		writeError(w, raid.NewError("array.list", raid.CodeInvalid, "malformed parameters"))
		return
	}
	if p.Category == "" {
		p.Category = CategoryAll
	}

	var out []ArrayView
	s.Catalog.Iter(func(a *raid.Array) {
		st := a.StateString()
		switch p.Category {
		case CategoryOnline:
			if st != "ONLINE" {
				return
			}
		case CategoryConfiguring:
			if st != "CONFIGURING" {
				return
			}
		case CategoryOffline:
			if st != "OFFLINE" {
				return
			}
		}
		out = append(out, arrayView(a))
	})
	writeResult(w, out)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "array.create"
	var p CreateParams
	if err := decodeParams(r, &p); err != nil {
		writeError(w, raid.NewError(op, raid.CodeInvalid, "malformed parameters"))
		return
	}

	s.Dispatcher.PostAndWait(r.Context(), func() {
		if s.Catalog.FindByName(p.Name) != nil {
			writeError(w, raid.NewArrayError(op, p.Name, raid.CodeExists, "array name already in use"))
			return
		}

		id := uuid.Nil
		if p.UUID != "" {
			parsed, err := uuid.Parse(p.UUID)
			if err != nil {
				writeError(w, raid.NewArrayError(op, p.Name, raid.CodeInvalid, "malformed uuid"))
				return
			}
			id = parsed
		}

		sbEnabled := true
		if p.Superblock != nil {
			sbEnabled = *p.Superblock
		}

		if p.DeltaBitmap {
			personality, perr := s.Registry.Lookup(p.RaidLevel)
			if perr != nil {
				writeError(w, perr)
				return
			}
			if _, ok := personality.(raid.DeltaBitmap); !ok {
				writeError(w, raid.NewArrayError(op, p.Name, raid.CodeInvalid, "personality does not implement a delta bitmap"))
				return
			}
		}

		a, err := raid.CreateArray(raid.NewArrayParams{
			Name:              p.Name,
			StripSizeKB:       p.StripSizeKB,
			NumSlots:          len(p.BaseBdevs),
			Level:             p.RaidLevel,
			SuperblockEnabled: sbEnabled,
			UUID:              id,
		}, s.Registry, s.Codec, s.logger)
		if err != nil {
			writeError(w, err)
			return
		}
		s.Catalog.Insert(a)

		for i, name := range p.BaseBdevs {
			dev, oerr := s.Open(name)
			if oerr != nil {
				writeError(w, raid.NewSlotError(op, p.Name, name, raid.CodeNoDevice, oerr.Error()))
				return
			}
			if err := s.Members.Add(a, i, name, dev); err != nil {
				writeError(w, err)
				return
			}
		}

		writeResult(w, arrayView(a))
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	const op = "array.delete"
	var p DeleteParams
	if err := decodeParams(r, &p); err != nil {
		writeError(w, raid.NewError(op, raid.CodeInvalid, "malformed parameters"))
		return
	}

	s.Dispatcher.PostAndWait(r.Context(), func() {
		a := s.Catalog.FindByName(p.Name)
		if a == nil {
			writeResult(w, true)
			return
		}

		err := a.Delete(func(arr *raid.Array) error {
			return arr.Deconfigure(func(x *raid.Array, done func()) {
				if s.Examine.Hosts.Unregister != nil {
					s.Examine.Hosts.Unregister(x, done)
				} else if done != nil {
					done()
				}
			})
		})
		if err != nil {
			writeError(w, err)
			return
		}
		s.Catalog.Remove(a)
		writeResult(w, true)
	})
}

func (s *Server) handleAddSlot(w http.ResponseWriter, r *http.Request) {
	const op = "array.add_slot"
	var p AddSlotParams
	if err := decodeParams(r, &p); err != nil {
		writeError(w, raid.NewError(op, raid.CodeInvalid, "malformed parameters"))
		return
	}

	s.Dispatcher.PostAndWait(r.Context(), func() {
		a := s.Catalog.FindByName(p.RaidBdev)
		if a == nil {
			writeError(w, raid.NewArrayError(op, p.RaidBdev, raid.CodeNoDevice, "array not found"))
			return
		}

		dev, err := s.Open(p.BaseBdev)
		if err != nil {
			writeError(w, raid.NewSlotError(op, p.RaidBdev, p.BaseBdev, raid.CodeNoDevice, err.Error()))
			return
		}

		idx := a.FirstEmptySlot()
		if idx < 0 {
			writeError(w, raid.NewArrayError(op, p.RaidBdev, raid.CodeBusy, "no empty slot"))
			return
		}

		if err := s.Members.Add(a, idx, p.BaseBdev, dev); err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, true)
	})
}

func (s *Server) handleRemoveSlot(w http.ResponseWriter, r *http.Request) {
	const op = "array.remove_slot"
	var p RemoveSlotParams
	if err := decodeParams(r, &p); err != nil {
		writeError(w, raid.NewError(op, raid.CodeInvalid, "malformed parameters"))
		return
	}

	var target *raid.Array
	s.Catalog.Iter(func(a *raid.Array) {
		if target != nil {
			return
		}
		if a.HasSlotNamed(p.Name) {
			target = a
		}
	})
	if target == nil {
		writeError(w, raid.NewError(op, raid.CodeNoDevice, "no array owns base device "+p.Name))
		return
	}

	done := make(chan error, 1)
	var callErr error
	s.Dispatcher.PostAndWait(r.Context(), func() {
		callErr = s.Members.Remove(target, p.Name, s.Dispatcher.Post, func(status raid.Status) {
			if status != raid.StatusSuccess {
				done <- raid.NewArrayError(op, target.Name, raid.CodeIO, "remove completed with failure status")
				return
			}
			done <- nil
		})
	})
	if callErr != nil {
		writeError(w, callErr)
		return
	}
	if cbErr := <-done; cbErr != nil {
		writeError(w, cbErr)
		return
	}
	writeResult(w, true)
}

func (s *Server) handleGrow(w http.ResponseWriter, r *http.Request) {
	const op = "array.grow"
	var p GrowParams
	if err := decodeParams(r, &p); err != nil {
		writeError(w, raid.NewError(op, raid.CodeInvalid, "malformed parameters"))
		return
	}

	s.Dispatcher.PostAndWait(r.Context(), func() {
		a := s.Catalog.FindByName(p.RaidName)
		if a == nil {
			writeError(w, raid.NewArrayError(op, p.RaidName, raid.CodeNoDevice, "array not found"))
			return
		}

		dev, err := s.Open(p.BaseName)
		if err != nil {
			writeError(w, raid.NewSlotError(op, p.RaidName, p.BaseName, raid.CodeNoDevice, err.Error()))
			return
		}

		if err := s.Members.Grow(a, p.BaseName, dev); err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, true)
	})
}

func (s *Server) handleSetOptions(w http.ResponseWriter, r *http.Request) {
	const op = "array.set_options"
	var p SetOptionsParams
	if err := decodeParams(r, &p); err != nil {
		writeError(w, raid.NewError(op, raid.CodeInvalid, "malformed parameters"))
		return
	}

	s.Dispatcher.PostAndWait(r.Context(), func() {
		if p.ProcessWindowSizeKB != nil || p.ProcessMaxBandwidthMBSec != nil {
			windowKB := s.Limiter.WindowSizeKB()
			mbPerSec := s.Limiter.MBPerSec()
			if p.ProcessWindowSizeKB != nil {
				windowKB = *p.ProcessWindowSizeKB
			}
			if p.ProcessMaxBandwidthMBSec != nil {
				mbPerSec = *p.ProcessMaxBandwidthMBSec
			}
			s.Limiter.SetRate(mbPerSec, windowKB)
		}
		writeResult(w, true)
	})
}

// deltaBitmapOf looks up name's array and its personality's DeltaBitmap
// capability, or returns a populated *raid.Error explaining why not.
func (s *Server) deltaBitmapOf(op, name string) (*raid.Array, raid.DeltaBitmap, *raid.Error) {
	a := s.Catalog.FindByName(name)
	if a == nil {
		return nil, nil, raid.NewArrayError(op, name, raid.CodeNoDevice, "array not found")
	}
	db, ok := a.Personality.(raid.DeltaBitmap)
	if !ok {
		return nil, nil, raid.NewArrayError(op, name, raid.CodeInvalid, "personality does not implement a delta bitmap")
	}
	return a, db, nil
}

// handleDeltaBitmapGet reads the bitmap directly off the calling
// goroutine rather than through Dispatcher: Catalog lookups and the
// bitmap's own mutex make this safe without serializing on the
// application thread, the same reasoning registry.go gives for
// Catalog's read-only lookups.
func (s *Server) handleDeltaBitmapGet(w http.ResponseWriter, r *http.Request) {
	const op = "array.delta_bitmap_get"
	var p DeltaBitmapGetParams
	if err := decodeParams(r, &p); err != nil {
		writeError(w, raid.NewError(op, raid.CodeInvalid, "malformed parameters"))
		return
	}
	_, db, err := s.deltaBitmapOf(op, p.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, DeltaBitmapView{Bitmap: db.Snapshot()})
}

// handleDeltaBitmapStop returns the final bitmap snapshot the way get
// does; a caller uses it to end its rebuild-tracking window before a
// array.delta_bitmap_clear (§9 "delta-bitmap mechanism is a collaborator
// contract, not specified here").
func (s *Server) handleDeltaBitmapStop(w http.ResponseWriter, r *http.Request) {
	const op = "array.delta_bitmap_stop"
	var p DeltaBitmapGetParams
	if err := decodeParams(r, &p); err != nil {
		writeError(w, raid.NewError(op, raid.CodeInvalid, "malformed parameters"))
		return
	}
	_, db, err := s.deltaBitmapOf(op, p.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, DeltaBitmapView{Bitmap: db.Snapshot()})
}

func (s *Server) handleDeltaBitmapClear(w http.ResponseWriter, r *http.Request) {
	const op = "array.delta_bitmap_clear"
	var p DeltaBitmapClearParams
	if err := decodeParams(r, &p); err != nil {
		writeError(w, raid.NewError(op, raid.CodeInvalid, "malformed parameters"))
		return
	}
	s.Dispatcher.PostAndWait(r.Context(), func() {
		_, db, err := s.deltaBitmapOf(op, p.Name)
		if err != nil {
			writeError(w, err)
			return
		}
		db.Clear(p.LBA, p.Count)
		writeResult(w, true)
	})
}
