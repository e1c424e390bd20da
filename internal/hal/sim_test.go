package hal

import (
	"testing"

	"asidmm/internal/cpuset"
)

func TestSimSATPWriteTracksCachedASID(t *testing.T) {
	s := NewSim(2, 0xff)
	s.SATPWrite(0, 0x4000, 1, 9)
	if !s.HasCachedASID(0, 9) {
		t.Fatal("expected cpu0 to cache asid 9 after SATPWrite")
	}
	got := s.SATP(0)
	if got.RootPFN != 0x4000 || got.Mode != 1 || got.ASID != 9 {
		t.Fatalf("SATP(0) = %+v, want {0x4000 1 9}", got)
	}
}

func TestSimTLBFlushLocalASIDClearsCache(t *testing.T) {
	s := NewSim(1, 0xff)
	s.SATPWrite(0, 0x1000, 0, 3)
	s.TLBFlushLocalASID(0, 3)
	if s.HasCachedASID(0, 3) {
		t.Fatal("expected asid 3 to be evicted")
	}
}

func TestSimOnEachCPURunsEveryTarget(t *testing.T) {
	s := NewSim(4, 0xff)
	cpus := cpuset.New(4)
	cpus.SetCPU(1)
	cpus.SetCPU(3)

	var hit [4]bool
	s.OnEachCPU(cpus, func(cpu int) { hit[cpu] = true })

	if hit[0] || hit[2] {
		t.Fatal("OnEachCPU must not call fn for CPUs outside the set")
	}
	if !hit[1] || !hit[3] {
		t.Fatal("OnEachCPU must call fn for every CPU in the set")
	}
}

func TestSimRemoteInvalidateAllEvictsTarget(t *testing.T) {
	s := NewSim(2, 0xff)
	s.SATPWrite(0, 0x1000, 0, 6)
	s.SATPWrite(1, 0x1000, 0, 6)
	cpus := cpuset.New(2)
	cpus.SetCPU(0)
	cpus.SetCPU(1)

	s.RemoteInvalidate(cpus, 0, ^uintptr(0), 6)

	if s.HasCachedASID(0, 6) || s.HasCachedASID(1, 6) {
		t.Fatal("expected RemoteInvalidate(SizeAll) to evict asid 6 on every targeted cpu")
	}
}
