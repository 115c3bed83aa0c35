package raid

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewArrayError(t *testing.T) {
	err := NewArrayError("array.create", "r0", CodeInvalid, "strip size must be a power of two")

	if err.Op != "array.create" {
		t.Errorf("Op = %q, want array.create", err.Op)
	}
	if err.Code != CodeInvalid {
		t.Errorf("Code = %q, want %q", err.Code, CodeInvalid)
	}
	want := "raid: array.create: strip size must be a power of two (array=r0)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNewSlotError(t *testing.T) {
	err := NewSlotError("array.add_slot", "r0", "dev1", CodeBusy, "slot already has a name")
	want := "raid: array.add_slot: slot already has a name (array=r0)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if err.SlotName != "dev1" {
		t.Errorf("SlotName = %q, want dev1", err.SlotName)
	}
}

func TestErrorDefaultMessage(t *testing.T) {
	err := NewError("array.delete", CodeNoDevice, "")
	want := "raid: array.delete: ENODEV"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestWrapErrorPreservesCode(t *testing.T) {
	inner := NewArrayError("examine.bind", "r0", CodeExists, "foreign superblock present")
	wrapped := WrapError("array.add_slot", inner)

	if wrapped.Code != CodeExists {
		t.Errorf("Code = %q, want %q", wrapped.Code, CodeExists)
	}
	if wrapped.Op != "array.add_slot" {
		t.Errorf("Op = %q, want array.add_slot", wrapped.Op)
	}
	if !errors.Is(wrapped, inner) {
		t.Errorf("wrapped error does not match inner by code via errors.Is")
	}
}

func TestWrapErrorOpaqueCause(t *testing.T) {
	cause := fmt.Errorf("disk read failed")
	wrapped := WrapError("array.create", cause)

	if wrapped.Code != CodeIO {
		t.Errorf("Code = %q, want %q", wrapped.Code, CodeIO)
	}
	if !errors.Is(wrapped, wrapped) {
		t.Errorf("wrapped error does not match itself")
	}
	if errors.Unwrap(wrapped) != cause {
		t.Errorf("Unwrap() did not return the original cause")
	}
}

func TestWrapErrorNil(t *testing.T) {
	if WrapError("array.create", nil) != nil {
		t.Errorf("WrapError(nil) should return nil")
	}
}

func TestIsCode(t *testing.T) {
	err := NewArrayError("array.grow", "r0", CodeBusy, "quiesce in progress")
	if !IsCode(err, CodeBusy) {
		t.Errorf("IsCode(err, CodeBusy) = false, want true")
	}
	if IsCode(err, CodeInvalid) {
		t.Errorf("IsCode(err, CodeInvalid) = true, want false")
	}
	if IsCode(nil, CodeBusy) {
		t.Errorf("IsCode(nil, ...) = true, want false")
	}
}
