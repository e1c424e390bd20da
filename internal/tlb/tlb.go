// Package tlb implements TLB shootdown: range/page/all flushes dispatched
// either via IPI broadcast or via a remote-fence ("sbi") primitive,
// honoring the page-vs-address-space threshold policy.
package tlb

import (
	"asidmm/internal/cpuset"
	"asidmm/internal/hal"
	"asidmm/internal/kutil"
)

// / SizeAll is the sentinel size meaning "flush everything for this tag",
// / grounded on the original's SFENCE_VMA_FLUSH_ALL ((unsigned long)-1).
const SizeAll = ^uintptr(0)

// / Mode selects the delivery strategy. Both IPI and remote-fence delivery
// / are kept as a boot-time selection rather than picking just one.
type Mode int

const (
	// / ModeIPI packages a descriptor and runs the local flush sequence
	// / concurrently on every target CPU via HA.OnEachCPU, waiting for all
	// / of them to finish before returning.
	ModeIPI Mode = iota
	// / ModeSBI calls the platform's remote-fence primitive directly
	// / (HA.RemoteInvalidate), translating the CPU set into whatever the
	// / platform needs (e.g. a hart-id mask for an SBI call).
	ModeSBI
)

// / Shooter implements the TS operations over a hal.HA binding.
type Shooter struct {
	HA      hal.HA
	Mode    Mode
	AllCPUs *cpuset.Set_t // every CPU in the system, for untagged/global flushes

	// ThresholdBytes bounds the size of range a page-granular flush will
	// cover before it is promoted to a full address-space flush
	// (tlbi_max_ops, default one page).
	ThresholdBytes uintptr
}

// / NewShooter constructs a Shooter with the default one-page threshold.
func NewShooter(ha hal.HA, mode Mode, allCPUs *cpuset.Set_t) *Shooter {
	return &Shooter{
		HA:             ha,
		Mode:           mode,
		AllCPUs:        allCPUs,
		ThresholdBytes: hal.PageSize,
	}
}

func (t *Shooter) dispatch(cpus *cpuset.Set_t, va, size uintptr, asid uint32) {
	switch t.Mode {
	case ModeIPI:
		t.HA.OnEachCPU(cpus, func(cpu int) {
			localSequence(t.HA, cpu, va, size, asid)
		})
	case ModeSBI:
		t.HA.RemoteInvalidate(cpus, va, size, asid)
	default:
		panic("tlb: unknown delivery mode")
	}
}

// / localSequence is the sequence a single CPU runs to satisfy a flush,
// / used both by the IPI handler and directly on uniprocessor builds:
// / size == SizeAll flushes the whole ASID (or everything, for ASID 0);
// / otherwise it issues page-granular invalidations across the range.
func localSequence(ha hal.HA, cpu int, va, size uintptr, asid uint32) {
	if size == SizeAll {
		if asid == 0 {
			ha.TLBFlushLocalAll(cpu)
		} else {
			ha.TLBFlushLocalASID(cpu, asid)
		}
		return
	}
	for off := uintptr(0); off < size; off += hal.PageSize {
		ha.TLBFlushLocalPage(cpu, va+off, asid)
	}
}

// / FlushAll broadcasts a global, all-ASID flush to every CPU.
func (t *Shooter) FlushAll() {
	t.dispatch(t.AllCPUs, 0, SizeAll, 0)
}

// / FlushMM broadcasts an ASID-tagged full flush to cpus (the address
// / space's cpu_mask). If ASIDs are disabled the caller passes asid 0, and
// / the local sequence above degrades to an untagged flush automatically.
func (t *Shooter) FlushMM(cpus *cpuset.Set_t, asid uint32) {
	t.dispatch(cpus, 0, SizeAll, asid)
}

// / FlushPage broadcasts a single-page, ASID-tagged flush.
func (t *Shooter) FlushPage(cpus *cpuset.Set_t, va uintptr, asid uint32) {
	t.dispatch(cpus, va, hal.PageSize, asid)
}

// / FlushRange applies the page/mm threshold: ranges no larger than
// / ThresholdBytes are flushed page by page, larger ones are promoted to a
// / full FlushMM. start/end are rounded out to page boundaries first, since
// / the hardware only ever invalidates whole pages.
func (t *Shooter) FlushRange(cpus *cpuset.Set_t, start, end uintptr, asid uint32) {
	start, end = alignRange(start, end)
	if end-start > t.ThresholdBytes {
		t.FlushMM(cpus, asid)
		return
	}
	t.dispatch(cpus, start, end-start, asid)
}

// / FlushKernelRange is like FlushRange but untagged (ASID 0, affecting
// / only global mappings) and broadcast to every CPU rather than a single
// / address space's cpu_mask.
func (t *Shooter) FlushKernelRange(start, end uintptr) {
	start, end = alignRange(start, end)
	if end-start > t.ThresholdBytes {
		t.FlushAll()
		return
	}
	t.dispatch(t.AllCPUs, start, end-start, 0)
}

// / alignRange rounds start down and end up to page boundaries.
func alignRange(start, end uintptr) (uintptr, uintptr) {
	return kutil.Rounddown(start, uintptr(hal.PageSize)), kutil.Roundup(end, uintptr(hal.PageSize))
}

// / ASIDOf extracts the low A bits (the ASID) from an address space's
// / asid_slot word, given the allocator's mask; a small free function so
// / callers translating mmctx.AddressSpace state into Shooter calls don't
// / need to reimplement the mask arithmetic.
func ASIDOf(slot, mask uint64) uint32 {
	return uint32(slot & mask)
}
