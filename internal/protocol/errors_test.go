package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrUnknownAction,
		ErrBadPayload,
		ErrNotConfigured,
		ErrInsufficientItems,
		ErrPoolExhausted,
		ErrEntityNotFound,
		ErrZoneNotFound,
		ErrConflict,
		ErrTimeout,
		ErrTerminated,
		ErrBusy,
		ErrNotReady,
		ErrSnapshotVersion,
		ErrDeltaGap,
		ErrCompacted,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestEnvelopeRouting(t *testing.T) {
	for _, typ := range []string{TypeInit, TypeDispatch, TypeBatch, TypeGetState,
		TypeGetDelta, TypeMergeState, TypeSaveSnapshot, TypeLoadSnapshot, TypePing, TypeShutdown} {
		if !IsRequest(typ) {
			t.Fatalf("expected request type: %q", typ)
		}
		if IsEvent(typ) {
			t.Fatalf("request classified as event: %q", typ)
		}
	}
	for _, typ := range []string{TypeActionCompleted, TypeStateChanged} {
		if !IsEvent(typ) {
			t.Fatalf("expected event type: %q", typ)
		}
		if IsRequest(typ) {
			t.Fatalf("event classified as request: %q", typ)
		}
	}
}

func TestNewRequestCorrelationIDs(t *testing.T) {
	a, err := NewRequest(TypePing, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	b, err := NewRequest(TypePing, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("correlation ids must be unique and non-empty: %q vs %q", a.ID, b.ID)
	}
}
