package boot

import (
	"strings"
	"testing"

	"asidmm/internal/cpuset"
	"asidmm/internal/hal"
	"asidmm/internal/tlb"
)

func TestParseTLBIMaxOps(t *testing.T) {
	if _, err := ParseTLBIMaxOps("not-a-number"); err == nil {
		t.Fatal("expected an error for a non-numeric value")
	}
	if _, err := ParseTLBIMaxOps("0"); err == nil {
		t.Fatal("expected an error for 0")
	}
	if _, err := ParseTLBIMaxOps("512"); err == nil {
		t.Fatal("expected an error at the PTRSPerPTE boundary")
	}
	got, err := ParseTLBIMaxOps(" 4 ")
	if err != nil || got != 4 {
		t.Fatalf("ParseTLBIMaxOps( 4 ) = %d,%v want 4,nil", got, err)
	}
}

func TestParseTLBIMethod(t *testing.T) {
	if _, err := ParseTLBIMethod("nonsense"); err == nil {
		t.Fatal("expected an error for an unknown method")
	}
	ipi, err := ParseTLBIMethod("IPI")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ipi != tlb.ModeIPI {
		t.Fatalf("ParseTLBIMethod(\"IPI\") = %v, want ModeIPI", ipi)
	}
	sbi, err := ParseTLBIMethod("sbi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sbi != tlb.ModeSBI {
		t.Fatalf("ParseTLBIMethod(\"sbi\") = %v, want ModeSBI", sbi)
	}
}

func TestProbeDisabledWhenASIDNotSupported(t *testing.T) {
	ha := hal.NewSim(4, 0) // all-ones mask 0 => fls == 0
	cpus := cpuset.New(4)
	for c := 0; c < 4; c++ {
		cpus.SetCPU(c)
	}
	var lines []string
	sub := Probe(ha, cpus, 0, DefaultParams(), func(l string) { lines = append(lines, l) })

	if sub.Allocator != nil {
		t.Fatal("expected a nil Allocator when ASIDLEN is 0")
	}
	if len(lines) != 1 || lines[0] != "ASID is not supported" {
		t.Fatalf("unexpected diagnostics: %v", lines)
	}
}

func TestProbeDisabledOnInsufficientHeadroom(t *testing.T) {
	// ASIDLEN=2 => N=4, N-1=3 <= numCPUs(4): must disable.
	ha := hal.NewSim(4, 0x3)
	cpus := cpuset.New(4)
	for c := 0; c < 4; c++ {
		cpus.SetCPU(c)
	}
	var lines []string
	sub := Probe(ha, cpus, 0, DefaultParams(), func(l string) { lines = append(lines, l) })

	if sub.Allocator != nil {
		t.Fatal("expected a nil Allocator when headroom is insufficient")
	}
	found := false
	for _, l := range lines {
		if strings.HasPrefix(l, "Not enough ASIDs") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a 'Not enough ASIDs' diagnostic, got %v", lines)
	}
}

func TestProbeSucceedsAndInitialisesAllocator(t *testing.T) {
	// ASIDLEN=8 => N=256, plenty of headroom for 4 CPUs.
	ha := hal.NewSim(4, 0xff)
	cpus := cpuset.New(4)
	for c := 0; c < 4; c++ {
		cpus.SetCPU(c)
	}
	var lines []string
	sub := Probe(ha, cpus, 0, DefaultParams(), func(l string) { lines = append(lines, l) })

	if sub.Allocator == nil {
		t.Fatal("expected a constructed Allocator")
	}
	if sub.ASIDBits != 8 {
		t.Fatalf("ASIDBits = %d, want 8", sub.ASIDBits)
	}
	if sub.Switcher == nil || sub.Shooter == nil {
		t.Fatal("expected a constructed Switcher and Shooter")
	}
	found := false
	for _, l := range lines {
		if strings.Contains(l, "ASID allocator initialised with") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an initialisation diagnostic, got %v", lines)
	}
}

func TestVerifyCPUASIDLenPanicsOnMismatch(t *testing.T) {
	ha := hal.NewSim(2, 0xff) // every cpu reports ASIDLEN 8 in this sim
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a panic on a mismatched secondary-CPU ASIDLEN")
		}
	}()
	VerifyCPUASIDLen(ha, 1, 12) // claim the boot CPU saw 12, forcing a mismatch
}

func TestVerifyCPUASIDLenAcceptsMatch(t *testing.T) {
	ha := hal.NewSim(2, 0xff)
	VerifyCPUASIDLen(ha, 1, 8) // no panic expected
}
