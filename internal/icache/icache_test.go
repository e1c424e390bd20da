package icache

import (
	"testing"

	"asidmm/internal/cpuset"
	"asidmm/internal/hal"
)

func TestMaybeInvalidateLocalConsumesPendingBit(t *testing.T) {
	ha := hal.NewSim(2, 0)
	stale := cpuset.New(2)
	stale.SetCPU(1)

	MaybeInvalidateLocal(0, stale, ha)
	if len(ha.CallLog()) != 0 {
		t.Fatal("cpu 0 has no pending invalidation and should not touch hardware")
	}

	MaybeInvalidateLocal(1, stale, ha)
	if stale.TestCPU(1) {
		t.Fatal("the pending bit must be cleared after invalidation")
	}
	log := ha.CallLog()
	if len(log) != 1 || log[0] != "cpu1: icache_invalidate_local" {
		t.Fatalf("expected a single invalidate_local call, got %v", log)
	}

	MaybeInvalidateLocal(1, stale, ha)
	if len(ha.CallLog()) != 1 {
		t.Fatal("a second call with the bit already clear must be a no-op")
	}
}

func TestNotifyModifiedMarksAndIPIsRunningCPUs(t *testing.T) {
	ha := hal.NewSim(4, 0)
	cpuMask := cpuset.New(4)
	cpuMask.SetCPU(0)
	cpuMask.SetCPU(2)
	stale := cpuset.New(4)

	NotifyModified(cpuMask, stale, ha)

	if stale.TestCPU(0) || stale.TestCPU(2) {
		t.Fatal("NotifyModified's own IPI should have already invalidated the running CPUs")
	}
	if stale.TestCPU(1) || stale.TestCPU(3) {
		t.Fatal("NotifyModified must not touch CPUs outside cpuMask")
	}

	log := ha.CallLog()
	count := 0
	for _, line := range log {
		if line == "cpu0: icache_invalidate_local" || line == "cpu2: icache_invalidate_local" {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("expected exactly 2 invalidate_local calls, got %d in %v", count, log)
	}
}
