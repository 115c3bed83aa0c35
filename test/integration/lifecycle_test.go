package integration

import (
	"testing"

	"github.com/google/uuid"
	raid "github.com/lattice-storage/go-raid"
	"github.com/lattice-storage/go-raid/internal/interfaces"
	"github.com/lattice-storage/go-raid/internal/superblock"
)

func newStripingRegistry(numSlots int) *raid.Registry {
	registry := raid.NewRegistry()
	registry.Register(raid.NewPassthroughPersonality("striping", numSlots))
	return registry
}

func newMirrorRegistry() *raid.Registry {
	registry := raid.NewRegistry()
	p := raid.NewPassthroughPersonality("mirroring", 2)
	p.Tolerance = raid.Constraint{Kind: raid.ConstraintMinOperational, K: 1}
	p.ZeroStrip = true
	registry.Register(p)
	return registry
}

// TestCreateAndOnline is scenario 1: a 4-slot striping array over 1 GiB,
// 4096-byte-block devices comes ONLINE with a valid superblock on every
// slot.
func TestCreateAndOnline(t *testing.T) {
	registry := newStripingRegistry(4)
	codec := superblock.NewCodec()
	examine := raid.NewExamineEngine(raid.NewCatalog(), registry, codec, raid.HostHooks{}, 1, nil)
	catalog := examine.Catalog
	members := raid.NewMemberEngine(catalog, codec, examine, raid.MemberHostHooks{}, nil)

	a, err := raid.CreateArray(raid.NewArrayParams{
		Name:              "r0",
		StripSizeKB:       64,
		NumSlots:          4,
		Level:             "striping",
		SuperblockEnabled: true,
	}, registry, codec, nil)
	if err != nil {
		t.Fatalf("CreateArray: %v", err)
	}
	catalog.Insert(a)

	devs := make([]*raid.MockBaseDevice, 4)
	for i := 0; i < 4; i++ {
		dev := raid.NewMockBaseDevice(1 << 30)
		dev.SetBlockSize(4096)
		devs[i] = dev
		if err := members.Add(a, i, deviceName(i), dev); err != nil {
			t.Fatalf("add slot %d: %v", i, err)
		}
	}

	if a.StateString() != "ONLINE" {
		t.Fatalf("state = %s, want ONLINE", a.StateString())
	}
	if a.StripSizeBlks != 16 {
		t.Fatalf("strip_size_blks = %d, want 16", a.StripSizeBlks)
	}

	for i, dev := range devs {
		buf := make([]byte, 4096)
		n, err := dev.ReadAt(buf, 0)
		if err != nil || n == 0 {
			t.Fatalf("slot %d: read superblock: %v", i, err)
		}
		if _, err := codec.Decode(buf[:n]); err != nil {
			t.Fatalf("slot %d: superblock CRC invalid: %v", i, err)
		}
	}
}

func deviceName(i int) string {
	return "dev" + string(rune('0'+i))
}

// TestAssembleAfterRestart is scenario 2: three CONFIGURED superblocks at
// sequence 7 are examined out of order; the array comes ONLINE on the
// third examine regardless of presentation order.
func TestAssembleAfterRestart(t *testing.T) {
	registry := newStripingRegistry(3)
	codec := superblock.NewCodec()
	catalog := raid.NewCatalog()
	examine := raid.NewExamineEngine(catalog, registry, codec, raid.HostHooks{}, 1, nil)

	arrayUUID := uuid.UUID(fixedUUID(1))
	devUUIDs := []uuid.UUID{
		uuid.UUID(fixedUUID(10)),
		uuid.UUID(fixedUUID(11)),
		uuid.UUID(fixedUUID(12)),
	}
	sb := &superblock.Superblock{
		ArrayUUID:       arrayUUID,
		ArrayName:       "r1",
		Level:           "striping",
		StripSizeBlocks: 16,
		BlockSize:       4096,
		Sequence:        7,
		Slots: []superblock.SlotEntry{
			{Index: 0, State: superblock.StateConfigured, DataSize: 100, UUID: devUUIDs[0]},
			{Index: 1, State: superblock.StateConfigured, DataSize: 100, UUID: devUUIDs[1]},
			{Index: 2, State: superblock.StateConfigured, DataSize: 100, UUID: devUUIDs[2]},
		},
	}
	encoded, err := codec.Encode(sb)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	order := []int{2, 0, 1}
	var lastArray *raid.Array
	for _, idx := range order {
		dev := raid.NewMockBaseDevice(8 << 20)
		dev.SetBlockSize(4096)
		dev.WriteAt(encoded, 0)
		dev.SetUUID(devUUIDs[idx])

		a, err := examineAndWait(examine, dev, deviceName(idx))
		if err != nil {
			t.Fatalf("examine slot %d: %v", idx, err)
		}
		lastArray = a
	}

	if lastArray == nil {
		t.Fatalf("no array assembled")
	}
	if lastArray.StateString() != "ONLINE" {
		t.Fatalf("state = %s, want ONLINE", lastArray.StateString())
	}
	if lastArray.OperationalCount != 3 {
		t.Fatalf("operational_count = %d, want 3", lastArray.OperationalCount)
	}
}

// TestDegradedTolerantRemove is scenario 4: a 2-slot mirror with
// min_operational=1 survives removing one slot while ONLINE.
func TestDegradedTolerantRemove(t *testing.T) {
	registry := newMirrorRegistry()
	codec := superblock.NewCodec()
	catalog := raid.NewCatalog()
	examine := raid.NewExamineEngine(catalog, registry, codec, raid.HostHooks{}, 1, nil)
	members := raid.NewMemberEngine(catalog, codec, examine, raid.MemberHostHooks{}, nil)

	a, err := raid.CreateArray(raid.NewArrayParams{
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
		dev := raid.NewMockBaseDevice(8 << 20)
		if err := members.Add(a, i, deviceName(i), dev); err != nil {
			t.Fatalf("add slot %d: %v", i, err)
		}
	}
	if a.StateString() != "ONLINE" {
		t.Fatalf("precondition: state = %s, want ONLINE", a.StateString())
	}

	var status raid.Status
	done := false
	if err := members.Remove(a, deviceName(0), runInline, func(s raid.Status) {
		status = s
		done = true
	}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !done {
		t.Fatalf("remove callback did not fire")
	}
	if status != raid.StatusSuccess {
		t.Fatalf("remove status = %v, want success", status)
	}
	if a.StateString() != "ONLINE" {
		t.Fatalf("state = %s, want ONLINE (stays up at min_operational)", a.StateString())
	}
	if a.OperationalCount != 1 {
		t.Fatalf("operational_count = %d, want 1", a.OperationalCount)
	}
}

// TestBelowMinimumRemove is scenario 5: removing both slots of the mirror
// drives it to OFFLINE on the second removal.
func TestBelowMinimumRemove(t *testing.T) {
	registry := newMirrorRegistry()
	codec := superblock.NewCodec()
	catalog := raid.NewCatalog()

	var unregistered bool
	hosts := raid.HostHooks{
		Unregister: func(arr *raid.Array, done func()) {
			unregistered = true
			if done != nil {
				done()
			}
		},
	}
	examine := raid.NewExamineEngine(catalog, registry, codec, hosts, 1, nil)
	members := raid.NewMemberEngine(catalog, codec, examine, raid.MemberHostHooks{}, nil)

	a, err := raid.CreateArray(raid.NewArrayParams{
		Name:              "m1",
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
		dev := raid.NewMockBaseDevice(8 << 20)
		if err := members.Add(a, i, deviceName(i), dev); err != nil {
			t.Fatalf("add slot %d: %v", i, err)
		}
	}

	if err := members.Remove(a, deviceName(0), runInline, nil); err != nil {
		t.Fatalf("remove slot 0: %v", err)
	}

	var status raid.Status
	done := false
	if err := members.Remove(a, deviceName(1), runInline, func(s raid.Status) {
		status = s
		done = true
	}); err != nil {
		t.Fatalf("remove slot 1: %v", err)
	}
	if !done || status != raid.StatusSuccess {
		t.Fatalf("remove callback = (done=%v, status=%v), want (true, success)", done, status)
	}
	if a.StateString() != "OFFLINE" {
		t.Fatalf("state = %s, want OFFLINE", a.StateString())
	}
	if !unregistered {
		t.Fatalf("block-device front end was not unregistered")
	}
}

// TestHigherSequenceReplacement is scenario 3: an array in CONFIGURING
// with a lower-sequence superblock is deleted and recreated when a
// higher-sequence superblock for the same UUID is presented.
func TestHigherSequenceReplacement(t *testing.T) {
	registry := newStripingRegistry(2)
	codec := superblock.NewCodec()
	catalog := raid.NewCatalog()
	examine := raid.NewExamineEngine(catalog, registry, codec, raid.HostHooks{}, 1, nil)

	arrayUUID := uuid.UUID(fixedUUID(2))

	dev0 := raid.NewMockBaseDevice(8 << 20)
	dev0.SetUUID(uuid.UUID(fixedUUID(20)))
	other := uuid.UUID(fixedUUID(21))

	sbLow := &superblock.Superblock{
		ArrayUUID:       arrayUUID,
		ArrayName:       "r1",
		Level:           "striping",
		StripSizeBlocks: 16,
		BlockSize:       512,
		Sequence:        2,
		Slots: []superblock.SlotEntry{
			{Index: 0, State: superblock.StateConfigured, DataSize: 100, UUID: dev0.UUID()},
			{Index: 1, State: superblock.StateConfigured, DataSize: 100, UUID: other},
		},
	}
	encodedLow, err := codec.Encode(sbLow)
	if err != nil {
		t.Fatalf("encode low: %v", err)
	}
	dev0.WriteAt(encodedLow, 0)

	firstArray, err := examineAndWait(examine, dev0, deviceName(0))
	if err != nil {
		t.Fatalf("first examine: %v", err)
	}
	if firstArray == nil {
		t.Fatalf("no array created on first examine")
	}
	if firstArray.StateString() != "CONFIGURING" {
		t.Fatalf("state = %s, want CONFIGURING (only 1 of 2 slots discovered)", firstArray.StateString())
	}

	dev2 := raid.NewMockBaseDevice(8 << 20)
	dev2.SetUUID(uuid.UUID(fixedUUID(22)))
	sbHigh := &superblock.Superblock{
		ArrayUUID:       arrayUUID,
		ArrayName:       "r1",
		Level:           "striping",
		StripSizeBlocks: 16,
		BlockSize:       512,
		Sequence:        5,
		Slots: []superblock.SlotEntry{
			{Index: 0, State: superblock.StateConfigured, DataSize: 100, UUID: dev2.UUID()},
		},
	}
	encodedHigh, err := codec.Encode(sbHigh)
	if err != nil {
		t.Fatalf("encode high: %v", err)
	}
	dev2.WriteAt(encodedHigh, 0)

	secondArray, err := examineAndWait(examine, dev2, deviceName(2))
	if err != nil {
		t.Fatalf("second examine: %v", err)
	}
	if secondArray == nil {
		t.Fatalf("no array after replacement")
	}
	if secondArray == firstArray {
		t.Fatalf("expected the array to be deleted and recreated, got the same record")
	}
	if secondArray.StateString() != "ONLINE" {
		t.Fatalf("state = %s, want ONLINE (progressed after replacement)", secondArray.StateString())
	}
	if secondArray.OperationalCount != 1 {
		t.Fatalf("operational_count = %d, want 1", secondArray.OperationalCount)
	}
}

// TestTransientResetRetry is scenario 6: a RESET whose second child
// submission returns ENOMEM parks on that slot's wait queue and resumes
// from the saved submitted index once the host layer signals capacity,
// finishing with aggregated status SUCCESS.
func TestTransientResetRetry(t *testing.T) {
	registry := newMirrorRegistry()
	codec := superblock.NewCodec()
	catalog := raid.NewCatalog()
	examine := raid.NewExamineEngine(catalog, registry, codec, raid.HostHooks{}, 1, nil)
	members := raid.NewMemberEngine(catalog, codec, examine, raid.MemberHostHooks{}, nil)

	a, err := raid.CreateArray(raid.NewArrayParams{
		Name:              "m2",
		StripSizeKB:       0,
		NumSlots:          2,
		Level:             "mirroring",
		SuperblockEnabled: false,
	}, registry, codec, nil)
	if err != nil {
		t.Fatalf("CreateArray: %v", err)
	}
	catalog.Insert(a)

	devs := make([]*raid.MockBaseDevice, 2)
	for i := 0; i < 2; i++ {
		dev := raid.NewMockBaseDevice(1 << 20)
		devs[i] = dev
		if err := members.Add(a, i, deviceName(i), dev); err != nil {
			t.Fatalf("add slot %d: %v", i, err)
		}
	}

	attempts := 0
	devs[1].SetResetFunc(func() error {
		attempts++
		if attempts == 1 {
			return raid.NewError("mock.reset", raid.CodeNoMemory, "transient exhaustion")
		}
		return nil
	})

	ch := a.Threads.Channel(0)
	var finalStatus raid.Status
	done := false
	req, err := a.SubmitIO(raid.OpReset, 0, 0, ch, func(r *raid.Request, s raid.Status) {
		finalStatus = s
		done = true
	})
	if err != nil {
		t.Fatalf("SubmitIO reset: %v", err)
	}
	if done {
		t.Fatalf("reset completed before the parked child was released")
	}
	if req.Remaining() != 1 {
		t.Fatalf("remaining = %d, want 1 (slot 1 parked)", req.Remaining())
	}

	a.ReleaseResetWait(1)

	if !done {
		t.Fatalf("reset did not complete after ReleaseResetWait")
	}
	if finalStatus != raid.StatusSuccess {
		t.Fatalf("final status = %v, want success", finalStatus)
	}
	if attempts != 2 {
		t.Fatalf("reset attempts on slot 1 = %d, want 2", attempts)
	}
}

func runInline(fn func()) { fn() }

// examineAndWait runs Examine and blocks until its done callback has run;
// the superblock read happens on its own goroutine.
func examineAndWait(examine *raid.ExamineEngine, dev interfaces.BaseDevice, name string) (*raid.Array, error) {
	type result struct {
		a   *raid.Array
		err error
	}
	ch := make(chan result, 1)
	examine.Examine(dev, name, runInline, func(a *raid.Array, err error) {
		ch <- result{a, err}
	})
	r := <-ch
	return r.a, r.err
}

func fixedUUID(seed byte) (u [16]byte) {
	for i := range u {
		u[i] = seed
	}
	return u
}

var _ interfaces.BaseDevice = (*raid.MockBaseDevice)(nil)
