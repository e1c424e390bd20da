// Package hal defines the Hardware Abstraction contract: the narrow set of
// primitives the ASID allocator, address-space switch, and TLB shootdown
// logic are built on top of. Everything else in this module is pure Go
// over this interface, the way vm.Vm_t is built on top of the mem.Page_i
// collaborator interface rather than calling physical-memory internals
// directly.
package hal

import "asidmm/internal/cpuset"

// / PageSize is the base page size the core reasons about, grounded on
// / mem.PGSIZE (4096).
const PageSize = 4096

// / PTRSPerPTE bounds the legal range of the tlbi_max_ops boot parameter,
// / grounded on the 512-entry mem.Pmap_t.
const PTRSPerPTE = 512

// / MMUMode is an opaque MMU-mode selector passed through to SATPWrite; the
// / core never interprets it.
type MMUMode uint8

// / HA is the hardware/platform collaborator the rest of this module is
// / built against. A production binding writes real CSRs and sends real
// / IPIs or SBI calls; Sim (sim.go) is a host-testable reference binding.
type HA interface {
	// TLBFlushLocalAll flushes every TLB entry on the calling CPU,
	// regardless of ASID.
	TLBFlushLocalAll(cpu int)

	// TLBFlushLocalPage flushes the single page va, tagged with asid, on
	// the calling CPU.
	TLBFlushLocalPage(cpu int, va uintptr, asid uint32)

	// TLBFlushLocalASID flushes every TLB entry tagged with asid on the
	// calling CPU.
	TLBFlushLocalASID(cpu int, asid uint32)

	// ICacheInvalidateLocal invalidates the calling CPU's instruction
	// cache.
	ICacheInvalidateLocal(cpu int)

	// SATPWrite installs rootPFN/mode/asid as the calling CPU's active
	// translation root.
	SATPWrite(cpu int, rootPFN uintptr, mode MMUMode, asid uint32)

	// SATPReadASIDMask returns the all-ones ASID field SATP reads back as
	// at boot, before any generation has been established; ASIDLEN is
	// recovered from it.
	SATPReadASIDMask(cpu int) uint64

	// OnEachCPU is the IPI-mode cross-CPU call primitive: it calls fn(c)
	// once per CPU in cpus and returns only once every call has completed
	// ("waits for completion"). fn is expected to run the local
	// flush/invalidate sequence.
	OnEachCPU(cpus *cpuset.Set_t, fn func(cpu int))

	// RemoteInvalidate is the remote-fence ("sbi") mode delivery: a single
	// opaque call that performs the invalidation on every CPU in cpus
	// without the caller supplying a handler, matching
	// sbi_remote_sfence_vma[_asid] in the original.
	RemoteInvalidate(cpus *cpuset.Set_t, va uintptr, size uintptr, asid uint32)

	// NumPossibleCPUs reports the number of CPUs the platform was booted
	// with, used by the headroom check at probe time.
	NumPossibleCPUs() int
}
