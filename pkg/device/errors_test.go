package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
)

func TestDriverErrorWraps(t *testing.T) {
	t.Parallel()
	base := errors.New("boom")
	err := DriverError("alloc", base)
	if !errors.Is(err, ErrDriver) {
		t.Fatalf("expected ErrDriver in chain: %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected original error in chain: %v", err)
	}
	if !strings.HasPrefix(err.Error(), "alloc: ") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestDriverErrorNil(t *testing.T) {
	t.Parallel()
	if err := DriverError("free", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestDriverErrorNoDoubleWrap(t *testing.T) {
	t.Parallel()
	inner := DriverError("memcpy", errors.New("bad"))
	outer := DriverError("upload", inner)
	if got := strings.Count(outer.Error(), ErrDriver.Error()); got != 1 {
		t.Fatalf("driver error wrapped %d times: %v", got, outer)
	}
}

func TestKind(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{fmt.Errorf("x: %w", ErrUsage), "usage"},
		{fmt.Errorf("x: %w", ErrNotFound), "not_found"},
		{fmt.Errorf("x: %w", ErrTransferPrecondition), "transfer_precondition"},
		{DriverError("alloc", errors.New("oom")), "driver"},
		{errors.New("plain"), "other"},
	}
	for _, tc := range tests {
		if got := Kind(tc.err); got != tc.want {
			t.Errorf("Kind(%v): got %q want %q", tc.err, got, tc.want)
		}
	}
}

func TestKernelArgDecode(t *testing.T) {
	t.Parallel()
	buf := make([]byte, 4)
	binary.NativeEndian.PutUint32(buf, math.Float32bits(1.5))
	arg := KernelArg{Kind: ArgScalar, Value: buf}
	f, err := arg.Float32()
	if err != nil {
		t.Fatalf("Float32: %v", err)
	}
	if f != 1.5 {
		t.Fatalf("unexpected value %v", f)
	}
	if _, err := arg.Int64(); err == nil {
		t.Fatal("expected size mismatch error")
	}
	ptr := KernelArg{Kind: ArgPointer, Device: 0x1000}
	if ptr.Size() != 8 {
		t.Fatalf("pointer size: got %d", ptr.Size())
	}
	if _, err := ptr.Int32(); err == nil {
		t.Fatal("expected error decoding pointer as scalar")
	}
}
