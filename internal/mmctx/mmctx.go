// Package mmctx implements the address-space switch path: the per-CPU
// fast path that moves a CPU from one address space to another,
// consulting the ASID allocator only when the fast path's relaxed CAS
// can't confirm the current ASID is still valid.
//
// AddressSpace here plays the role of the externally owned "address space
// handle" — analogous to vm.Vm_t, a struct the process layer
// (proc.Proc_t, outside this module's scope) embeds and locks around
// page-table operations.
package mmctx

import (
	"sync/atomic"

	"asidmm/internal/cpuset"
	"asidmm/internal/diag"
	"asidmm/internal/hal"
	"asidmm/internal/icache"
)

// / AddressSpace is the per-address-space state the core requires: an
// / atomic asid_slot, the three CPU masks, and an opaque page-table root.
// / The zero value is not ready for use; construct with New.
type AddressSpace struct {
	asidSlot uint64 // atomic: generation | asid, 0 = never assigned

	CPUMask         *cpuset.Set_t // CPUs currently running this address space
	CacheMask       *cpuset.Set_t // CPUs that may hold TLB entries for it
	IcacheStaleMask *cpuset.Set_t // CPUs owing a local icache invalidation

	RootPFN uintptr
}

// / New allocates an AddressSpace sized for ncpus CPUs, with asid_slot = 0
// / and every mask empty, matching the address space's lifecycle from
// / creation to its first context switch.
func New(ncpus int, rootPFN uintptr) *AddressSpace {
	return &AddressSpace{
		CPUMask:         cpuset.New(ncpus),
		CacheMask:       cpuset.New(ncpus),
		IcacheStaleMask: cpuset.New(ncpus),
		RootPFN:         rootPFN,
	}
}

// / LoadASIDSlot implements asid.AddressSpaceSlot.
func (as *AddressSpace) LoadASIDSlot() uint64 {
	return atomic.LoadUint64(&as.asidSlot)
}

// / StoreASIDSlot implements asid.AddressSpaceSlot.
func (as *AddressSpace) StoreASIDSlot(v uint64) {
	atomic.StoreUint64(&as.asidSlot, v)
}

// / ASIDSlot is an exported read of the current slot, for diagnostics and
// / tests; equivalent to LoadASIDSlot.
func (as *AddressSpace) ASIDSlot() uint64 {
	return as.LoadASIDSlot()
}

// / allocator is the minimal surface Switcher needs from internal/asid.
// / Defined locally so mmctx does not need to import asid's Allocator type
// / directly for anything beyond these calls, keeping the dependency
// / explicit and narrow.
type allocator interface {
	Mask() uint64
	Generation() uint64
	ActiveASID(cpu int) uint64
	CASActiveASID(cpu int, old, new uint64) bool
	Lock()
	Unlock()
	AllocLocked(prevSlot uint64) uint64
	PublishActiveASID(cpu int, value uint64)
}

// / Switcher implements switch_mm, wiring together the ASID allocator, the
// / hardware abstraction, and the deferred-icache protocol. A nil
// / Allocator models A == 0 ("ASIDs disabled"): every switch degrades to an
// / unconditional local flush.
type Switcher struct {
	Allocator allocator
	HA        hal.HA
	MMUMode   hal.MMUMode

	noASIDWarn diag.OnceWarner
}

// / NewSwitcher constructs a Switcher. Pass a nil allocator to model the
// / ASIDs-disabled boot path.
func NewSwitcher(al allocator, ha hal.HA, mode hal.MMUMode) *Switcher {
	return &Switcher{Allocator: al, HA: ha, MMUMode: mode}
}

// / Switch installs next as the active address space for cpu, moving it
// / off prev. It is a no-op when prev == next. The task argument is
// / accepted for symmetry with switch_mm's signature but is not otherwise
// / used by the core.
func (sw *Switcher) Switch(cpu int, prev, next *AddressSpace, task interface{}) {
	if prev == next {
		return
	}

	if sw.Allocator == nil {
		sw.switchNoASID(cpu, prev, next)
		return
	}

	a := sw.resolveASID(cpu, next)

	prev.CPUMask.ClearCPU(cpu)
	next.CPUMask.SetCPU(cpu)
	next.CacheMask.SetCPU(cpu)

	sw.HA.SATPWrite(cpu, next.RootPFN, sw.MMUMode, uint32(a&sw.Allocator.Mask()))
	icache.MaybeInvalidateLocal(cpu, next.IcacheStaleMask, sw.HA)
}

// / resolveASID runs the fast path and, only if it cannot confirm the
// / current ASID, the slow path under the allocator lock.
func (sw *Switcher) resolveASID(cpu int, next *AddressSpace) uint64 {
	al := sw.Allocator

	a := next.LoadASIDSlot()
	old := al.ActiveASID(cpu)
	if old != 0 && (a&^al.Mask()) == al.Generation() && al.CASActiveASID(cpu, old, a) {
		return a
	}

	al.Lock()
	defer al.Unlock()

	a = next.LoadASIDSlot()
	if (a &^ al.Mask()) != al.Generation() {
		a = al.AllocLocked(a)
		// After a rollover, CPUs outside cpu_mask no longer hold valid
		// TLB entries for next; only the currently-running set does.
		next.CacheMask.CopyFrom(next.CPUMask)
		next.StoreASIDSlot(a)
	}

	al.PublishActiveASID(cpu, a)
	return a
}

// / switchNoASID is the ASIDs-disabled path: skip the allocator entirely,
// / write SATP with ASID field 0, and unconditionally flush locally.
func (sw *Switcher) switchNoASID(cpu int, prev, next *AddressSpace) {
	sw.noASIDWarn.Warn("mmctx: ASIDs disabled, switch_mm falling back to an unconditional local flush")
	prev.CacheMask.ClearCPU(cpu)
	next.CacheMask.SetCPU(cpu)
	sw.HA.SATPWrite(cpu, next.RootPFN, sw.MMUMode, 0)
	sw.HA.TLBFlushLocalASID(cpu, 0)
}
