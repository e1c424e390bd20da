// Package icache implements the deferred instruction-cache invalidation
// protocol: RISC-V has no remote icache shootdown, so a code modification
// marks every CPU running the affected address space as needing a local
// invalidation, and only IPIs the CPUs that are running it right now. CPUs
// that pick the address space up later discover the pending bit and
// handle it themselves at entry.
package icache

import (
	"asidmm/internal/cpuset"
	"asidmm/internal/hal"
)

// / MaybeInvalidateLocal is flush_icache_deferred: test-and-clear cpu's bit
// / in staleMask and, on a hit, invalidate the local icache. Called on
// / every context switch into an address space before returning to user
// / mode, and from the IPI handler NotifyModified triggers for CPUs
// / currently running the address space.
func MaybeInvalidateLocal(cpu int, staleMask *cpuset.Set_t, ha hal.HA) {
	if !staleMask.TestAndClearCPU(cpu) {
		return
	}
	// The original pairs this with a write barrier in the modifier
	// (smp_mb() in flush_icache_deferred, matching the store in
	// flush_icache_mm/NotifyModified); Go's atomic bit operations already
	// carry that ordering, so no separate fence is issued here.
	ha.ICacheInvalidateLocal(cpu)
}

// / NotifyModified is flush_icache_mm: called whenever code in an address
// / space is modified. It marks every CPU in cpuMask (the address space's
// / currently-running set) as needing a local icache invalidation, then
// / IPIs exactly that set so CPUs actively running the address space
// / invalidate immediately rather than waiting for their next switch into
// / it — avoiding an IPI storm for single-hart processes on a many-hart
// / machine.
func NotifyModified(cpuMask, staleMask *cpuset.Set_t, ha hal.HA) {
	cpuMask.Each(func(cpu int) {
		staleMask.SetCPU(cpu)
	})
	ha.OnEachCPU(cpuMask, func(cpu int) {
		MaybeInvalidateLocal(cpu, staleMask, ha)
	})
}
