package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	err := State("E_CONFLICT", "zone %s exists", "table")
	if CodeOf(err) != "E_CONFLICT" {
		t.Fatalf("code = %s", CodeOf(err))
	}
	if CodeOf(fmt.Errorf("plain")) != "E_INTERNAL" {
		t.Fatalf("non-taxonomy error must map to E_INTERNAL")
	}
}

func TestIsMatchesByCode(t *testing.T) {
	sentinel := &Error{Code: "E_TIMEOUT"}
	err := Boundary("E_TIMEOUT", "call timed out after %s", "5ms")
	if !errors.Is(err, sentinel) {
		t.Fatalf("errors.Is did not match by code")
	}
	other := &Error{Code: "E_BUSY"}
	if errors.Is(err, other) {
		t.Fatalf("errors.Is matched a different code")
	}
}

func TestErrorString(t *testing.T) {
	err := Validation("E_BAD_PAYLOAD", "draw count %d", -1)
	want := "VALIDATION E_BAD_PAYLOAD: draw count -1"
	if err.Error() != want {
		t.Fatalf("message = %q, want %q", err.Error(), want)
	}
}
