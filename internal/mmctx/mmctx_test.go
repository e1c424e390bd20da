package mmctx

import (
	"testing"

	"asidmm/internal/asid"
	"asidmm/internal/hal"
)

func newTestSwitcher(t *testing.T, asidBits, ncpus int) (*Switcher, *asid.Allocator, *hal.Sim) {
	t.Helper()
	ha := hal.NewSim(ncpus, (uint64(1)<<uint(asidBits))-1)
	al := asid.New(asid.Config{ASIDBits: asidBits, NumCPUs: ncpus})
	for cpu := 0; cpu < ncpus; cpu++ {
		al.SeedActiveASID(cpu, al.Mask())
	}
	return NewSwitcher(al, ha, 0), al, ha
}

func TestSwitchNoOpWhenSameAddressSpace(t *testing.T) {
	sw, _, ha := newTestSwitcher(t, 4, 2)
	as := New(2, hal.PageSize)
	sw.Switch(0, as, as, nil)
	if len(ha.CallLog()) != 0 {
		t.Fatal("switching to the same address space must not touch hardware")
	}
}

func TestSwitchAssignsFreshASIDOnFirstUse(t *testing.T) {
	sw, al, ha := newTestSwitcher(t, 4, 2)
	idle := New(2, 0)
	as1 := New(2, hal.PageSize)

	sw.Switch(0, idle, as1, nil)

	slot := as1.ASIDSlot()
	if slot == 0 {
		t.Fatal("expected as1 to receive a non-zero asid_slot")
	}
	a := uint32(slot & al.Mask())
	if a == 0 || a == uint32(al.Mask()) {
		t.Fatalf("assigned asid %d must not be 0 or the reserved all-ones value", a)
	}
	if got := ha.SATP(0).ASID; got != a {
		t.Fatalf("SATP.ASID = %d, want %d", got, a)
	}
	if !as1.CPUMask.TestCPU(0) {
		t.Fatal("as1.CPUMask must contain cpu 0 after the switch")
	}
	if idle.CPUMask.TestCPU(0) {
		t.Fatal("idle.CPUMask must no longer contain cpu 0")
	}
}

func TestSwitchFastPathReusesASID(t *testing.T) {
	sw, _, ha := newTestSwitcher(t, 4, 2)
	idle := New(2, 0)
	as1 := New(2, hal.PageSize)
	as2 := New(2, 2*hal.PageSize)

	sw.Switch(0, idle, as1, nil)
	firstASID := ha.SATP(0).ASID

	sw.Switch(0, as1, as2, nil)
	sw.Switch(0, as2, as1, nil)

	if got := ha.SATP(0).ASID; got != firstASID {
		t.Fatalf("switching back to as1 should reuse asid %d, got %d", firstASID, got)
	}
}

func TestSwitchDistinctAddressSpacesGetDistinctASIDs(t *testing.T) {
	sw, _, _ := newTestSwitcher(t, 4, 2)
	idle := New(2, 0)
	as1 := New(2, hal.PageSize)
	as2 := New(2, 2*hal.PageSize)

	sw.Switch(0, idle, as1, nil)
	sw.Switch(0, as1, as2, nil)

	if as1.ASIDSlot() == as2.ASIDSlot() {
		t.Fatal("distinct address spaces must not share an asid_slot within a generation")
	}
}

func TestSwitchNoASIDModeAlwaysFlushes(t *testing.T) {
	ha := hal.NewSim(2, 0)
	sw := NewSwitcher(nil, ha, 0)
	idle := New(2, 0)
	as1 := New(2, hal.PageSize)
	as2 := New(2, 2*hal.PageSize)

	sw.Switch(0, idle, as1, nil)
	if got := ha.SATP(0).ASID; got != 0 {
		t.Fatalf("ASIDs-disabled mode must write SATP.ASID = 0, got %d", got)
	}

	sw.Switch(0, as1, as2, nil)
	found := false
	for _, line := range ha.CallLog() {
		if line == "cpu0: local_flush_tlb_asid asid=0" {
			found = true
		}
	}
	if !found {
		t.Fatal("ASIDs-disabled mode must unconditionally flush on every switch")
	}
}
