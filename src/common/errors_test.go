package common

import (
	"fmt"
	"testing"
)

func TestErrIs(t *testing.T) {
	err := NewErr("Session", NotFound, "abc")

	if !Is(err, NotFound) {
		t.Fatal("err should be NotFound")
	}
	if Is(err, Conflict) {
		t.Fatal("err should not be Conflict")
	}

	wrapped := fmt.Errorf("join call: %w", err)
	if !Is(wrapped, NotFound) {
		t.Fatal("wrapped err should be NotFound")
	}

	if Is(fmt.Errorf("plain"), NotFound) {
		t.Fatal("plain errors carry no type")
	}
}

func TestErrMessage(t *testing.T) {
	err := NewErrMsg("Call", Authorization, "c1", "only the initiator can end the call")

	if err.Error() != "Call, c1, Unauthorized: only the initiator can end the call" {
		t.Fatalf("unexpected error string %q", err.Error())
	}
	if err.Message() != "only the initiator can end the call" {
		t.Fatalf("unexpected message %q", err.Message())
	}
	if err.Type().Code() != "unauthorized" {
		t.Fatalf("unexpected code %q", err.Type().Code())
	}

	plain := NewErr("Chat", NotFound, "c2")
	if plain.Message() != "Chat Not Found" {
		t.Fatalf("unexpected message %q", plain.Message())
	}
}

func TestTypeOf(t *testing.T) {
	if _, ok := TypeOf(fmt.Errorf("x")); ok {
		t.Fatal("plain error should have no type")
	}
	typ, ok := TypeOf(fmt.Errorf("x: %w", NewErr("Token", Expired, "")))
	if !ok || typ != Expired {
		t.Fatalf("expected Expired, got %v %v", typ, ok)
	}
}
