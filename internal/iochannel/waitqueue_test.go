package iochannel

import "testing"

func TestWaitQueue_ParkAndRelease(t *testing.T) {
	wq := NewWaitQueue()
	resumed := false

	if err := wq.Park(func() { resumed = true }); err != nil {
		t.Fatalf("Park returned error: %v", err)
	}
	if !wq.Occupied() {
		t.Fatal("wait queue should report occupied after Park")
	}

	wq.Release()
	if !resumed {
		t.Fatal("resume callback was not invoked by Release")
	}
	if wq.Occupied() {
		t.Fatal("wait queue should be empty after Release")
	}
}

func TestWaitQueue_SecondParkIsRejected(t *testing.T) {
	wq := NewWaitQueue()
	if err := wq.Park(func() {}); err != nil {
		t.Fatalf("first Park returned error: %v", err)
	}
	if err := wq.Park(func() {}); err != ErrWaitQueueBusy {
		t.Fatalf("second Park error = %v, want ErrWaitQueueBusy", err)
	}
}

func TestWaitQueue_ReleaseWithNothingParkedIsNoop(t *testing.T) {
	wq := NewWaitQueue()
	wq.Release() // must not panic
}
