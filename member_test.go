package raid

import (
	"testing"

	"github.com/lattice-storage/go-raid/internal/superblock"
)

// newOnlineMirror builds a 2-slot mirror array, bound and ONLINE, for
// Remove-path tests.
func newOnlineMirror(t *testing.T, hosts MemberHostHooks) (*Array, *Catalog, *MemberEngine) {
	t.Helper()

	registry := NewRegistry()
	p := NewPassthroughPersonality("mirroring", 2)
	p.Tolerance = Constraint{Kind: ConstraintMinOperational, K: 1}
	p.ZeroStrip = true
	registry.Register(p)

	codec := superblock.NewCodec()
	catalog := NewCatalog()
	examine := NewExamineEngine(catalog, registry, codec, HostHooks{}, 1, nil)
	members := NewMemberEngine(catalog, codec, examine, hosts, nil)

	a, err := CreateArray(NewArrayParams{
		Name:              "m0",
		StripSizeKB:       0,
		NumSlots:          2,
		Level:             "mirroring",
		SuperblockEnabled: true,
	}, registry, codec, nil)
	if err != nil {
		t.Fatalf("CreateArray: %v", err)
	}
	catalog.Insert(a)

	for i := 0; i < 2; i++ {
		dev := NewMockBaseDevice(8 << 20)
		if err := members.Add(a, i, deviceName(i), dev); err != nil {
			t.Fatalf("add slot %d: %v", i, err)
		}
	}
	if a.StateString() != "ONLINE" {
		t.Fatalf("precondition: state = %s, want ONLINE", a.StateString())
	}
	return a, catalog, members
}

func deviceName(i int) string {
	return "dev" + string(rune('0'+i))
}

// TestRemoveQuiesceFailureLeavesRetryable covers §8 "Quiesce failure
// during removal leaves remove_scheduled cleared so the operation can be
// retried".
func TestRemoveQuiesceFailureLeavesRetryable(t *testing.T) {
	hosts := MemberHostHooks{
		Quiesce: func(a *Array, done func(), fail func(error)) {
			fail(NewError("quiesce", CodeBusy, "host refused to quiesce"))
		},
	}
	a, _, members := newOnlineMirror(t, hosts)

	var status Status
	called := false
	if err := members.Remove(a, deviceName(0), func(fn func()) { fn() }, func(s Status) {
		status = s
		called = true
	}); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if !called {
		t.Fatalf("remove callback did not fire")
	}
	if status != StatusFailed {
		t.Fatalf("status = %v, want StatusFailed", status)
	}

	slot := findSlotByName(a, deviceName(0))
	if slot == nil {
		t.Fatalf("slot for %s not found", deviceName(0))
	}
	if slot.RemoveScheduled {
		t.Fatalf("remove_scheduled = true, want cleared after quiesce failure")
	}
	if slot.Device == nil {
		t.Fatalf("device was released despite quiesce failure")
	}

	retried := false
	members.Hosts.Quiesce = func(a *Array, done func(), fail func(error)) { done() }
	if err := members.Remove(a, deviceName(0), func(fn func()) { fn() }, func(s Status) {
		if s != StatusSuccess {
			t.Fatalf("retry status = %v, want success", s)
		}
		retried = true
	}); err != nil {
		t.Fatalf("retry Remove: %v", err)
	}
	if !retried {
		t.Fatalf("retried remove callback did not fire")
	}
}
