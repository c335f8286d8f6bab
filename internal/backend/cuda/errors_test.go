//go:build cuda

package cuda

import (
	"errors"
	"strings"
	"testing"
)

func TestOpErrorWrapsError(t *testing.T) {
	boom := errors.New("boom")
	err := opError("malloc", boom)
	if !strings.Contains(err.Error(), "cuda malloc") {
		t.Fatalf("unexpected message: %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("missing wrapped error: %v", err)
	}
}

func TestOpErrorNil(t *testing.T) {
	if err := opError("free", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
