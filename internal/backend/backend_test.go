package backend

import (
	"io"
	"testing"

	"github.com/samcharles93/accrt/internal/backend/sim"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", Auto, false},
		{"  SIM ", Sim, false},
		{"cuda", CUDA, false},
		{"Auto", Auto, false},
		{"cpu", "", true},
		{"opencl", "", true},
	}
	for _, tc := range tests {
		got, err := Normalize(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("Normalize(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Normalize(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestOpenSim(t *testing.T) {
	t.Parallel()
	drv, err := Open(Options{Name: "sim", Sim: sim.Options{MemoryLimit: 1 << 20}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer drv.(io.Closer).Close()
	if drv.Name() != Sim || !drv.Ready() {
		t.Fatalf("unexpected driver %s ready=%v", drv.Name(), drv.Ready())
	}
}

func TestOpenAutoAlwaysSucceeds(t *testing.T) {
	t.Parallel()
	drv, err := Open(Options{})
	if err != nil {
		t.Fatalf("Open(auto): %v", err)
	}
	defer drv.(io.Closer).Close()
	if !Has(drv.Name()) {
		t.Fatalf("auto opened unavailable backend %s", drv.Name())
	}
}

func TestOpenUnknown(t *testing.T) {
	t.Parallel()
	if _, err := Open(Options{Name: "tpu"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestAvailableIncludesSim(t *testing.T) {
	t.Parallel()
	if got := Available(); got != "sim" && got != "sim,cuda" {
		t.Fatalf("Available() = %q", got)
	}
}
