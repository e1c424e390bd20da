// Package asid implements the generation-based ASID allocator: a free
// bitmap over 2^A slots, a generation counter that advances on exhaustion,
// and per-CPU active/reserved slots that let a rollover preserve in-flight
// ASIDs.
//
// The allocator owns no knowledge of address spaces beyond the single
// uint64 "generation | asid" word called asid_slot; callers
// (internal/mmctx) own the AddressSpace type and pass its current slot in.
// This mirrors how mem.Physmem_t owns physical-page bookkeeping without
// knowing anything about the Vm_t that calls it.
package asid

import (
	"fmt"
	"sync"
	"sync/atomic"

	"asidmm/internal/bitmap"
	"asidmm/internal/diag"
)

// / AddressSpaceSlot is the minimal surface the pessimistic 32-bit-wrap
// / fixup needs from a live address space: read and overwrite its asid_slot
// / word. The process layer registers a for_each_address_space-style
// / callback built from an iterator function over values satisfying this
// / interface, so package asid never imports the process layer.
type AddressSpaceSlot interface {
	LoadASIDSlot() uint64
	StoreASIDSlot(uint64)
}

// / Config parameters an Allocator at construction, corresponding to
// / asids_init() in the original: ASIDBits is the detected ASIDLEN,
// / NumCPUs sizes the per-CPU tables, and GenerationLimit selects 64-bit
// / mode (0: overflow is a fatal invariant violation) or 32-bit mode (a
// / nonzero ceiling after which the generation wraps and the pessimistic
// / fixup runs).
type Config struct {
	ASIDBits        int
	NumCPUs         int
	GenerationLimit uint64
	// FlushAll is invoked, still under the allocator lock, at the end of a
	// rollover ("broadcast tlb_flush_all()"). Left nil in unit tests that only care
	// about allocator bookkeeping.
	FlushAll func()
	// OnGenerationOverflow is invoked, still under the allocator lock, when
	// a 32-bit-generation allocator wraps (the "ASID generation overflown"
	// diagnostic). Never called in 64-bit mode, where an overflow is
	// instead a panic.
	OnGenerationOverflow func()
	// Counters, if non-nil, is incremented as allocations and rollovers
	// occur.
	Counters *diag.Counters
}

// / Allocator holds every piece of global allocator state: the generation
// / counter, the free bitmap, the allocation hint, and the per-CPU
// / active/reserved slots, all reachable only through a constructed handle
// / (a single initialized-at-boot singleton, not package-level globals).
type Allocator struct {
	a        int
	n        uint64
	mask     uint64
	genStep  uint64
	genLimit uint64

	mu   sync.Mutex
	held bool // for lockassert, mirroring vm.Vm_t.pgfltaken

	generation uint64 // atomic; written under mu, read anywhere (relaxed)
	freeBitmap *bitmap.Bitmap_t
	curIdx     int

	active   []uint64 // atomic per-CPU active_asid
	reserved []uint64 // per-CPU reserved_asid, touched only under mu

	flushAll   func()
	onOverflow func()
	iterate    func(visit func(AddressSpaceSlot))
	counters   *diag.Counters
}

// / New constructs an Allocator for the given ASIDLEN and CPU count and
// / performs the one-time initialization asids_init() does once the
// / headroom check has passed: generation starts at GEN_STEP, and the
// / all-ones ASID (the boot-time SATP convention) is reserved so it is
// / never handed out in the first generation (invariant I3).
func New(cfg Config) *Allocator {
	if cfg.ASIDBits <= 0 {
		panic("asid: ASIDBits must be positive")
	}
	if cfg.NumCPUs <= 0 {
		panic("asid: NumCPUs must be positive")
	}
	n := uint64(1) << uint(cfg.ASIDBits)
	al := &Allocator{
		a:          cfg.ASIDBits,
		n:          n,
		mask:       n - 1,
		genStep:    n,
		genLimit:   cfg.GenerationLimit,
		freeBitmap: bitmap.New(int(n)),
		curIdx:     1,
		active:     make([]uint64, cfg.NumCPUs),
		reserved:   make([]uint64, cfg.NumCPUs),
		flushAll:   cfg.FlushAll,
		onOverflow: cfg.OnGenerationOverflow,
		counters:   cfg.Counters,
	}
	atomic.StoreUint64(&al.generation, al.genStep)
	al.freeBitmap.Set(int(al.mask))
	return al
}

// / ASIDBits returns A.
func (al *Allocator) ASIDBits() int { return al.a }

// / N returns the size of the ASID space, 2^A.
func (al *Allocator) N() uint64 { return al.n }

// / Mask returns MASK, N-1.
func (al *Allocator) Mask() uint64 { return al.mask }

// / Generation returns the current generation, a relaxed atomic load since
// / the fast path in internal/mmctx races a concurrent rollover by design.
func (al *Allocator) Generation() uint64 {
	return atomic.LoadUint64(&al.generation)
}

// / SeedActiveASID sets cpu's active_asid without going through a switch,
// / used once at boot to record the hardware's all-ones convention (every
// / CPU's active_asid starts out as MASK).
func (al *Allocator) SeedActiveASID(cpu int, value uint64) {
	atomic.StoreUint64(&al.active[cpu], value)
}

// / ActiveASID returns cpu's active_asid.
func (al *Allocator) ActiveASID(cpu int) uint64 {
	return atomic.LoadUint64(&al.active[cpu])
}

// / CASActiveASID performs the fast-path publication CAS on cpu's
// / active_asid.
func (al *Allocator) CASActiveASID(cpu int, old, new uint64) bool {
	return atomic.CompareAndSwapUint64(&al.active[cpu], old, new)
}

// / PublishActiveASID unconditionally stores cpu's active_asid; callers
// / must hold the allocator lock (the slow path's "unconditionally publish
// / a into active_asid[cpu]").
func (al *Allocator) PublishActiveASID(cpu int, value uint64) {
	al.lockassert()
	atomic.StoreUint64(&al.active[cpu], value)
}

// / SetAddressSpaceIterator registers the process layer's
// / for_each_address_space provider, used only by the 32-bit generation
// / wrap's pessimistic fixup.
func (al *Allocator) SetAddressSpaceIterator(fn func(visit func(AddressSpaceSlot))) {
	al.iterate = fn
}

// / Lock acquires the allocator's slow-path lock (alloc_lock).
func (al *Allocator) Lock() {
	al.mu.Lock()
	al.held = true
}

// / Unlock releases alloc_lock.
func (al *Allocator) Unlock() {
	al.held = false
	al.mu.Unlock()
}

func (al *Allocator) lockassert() {
	if !al.held {
		panic("asid: alloc_lock must be held")
	}
}

// / checkReserved walks every CPU's reserved_asid, rewriting any copy equal
// / to old into newValue, and reports whether any match was found. Every
// / copy is upgraded; the walk never exits early.
func (al *Allocator) checkReserved(old, newValue uint64) bool {
	hit := false
	for cpu := range al.reserved {
		if al.reserved[cpu] == old {
			hit = true
			al.reserved[cpu] = newValue
		}
	}
	return hit
}

// / AllocLocked implements alloc_asid(as): given the address space's
// / current asid_slot (0 if never assigned), it returns a fresh
// / generation|asid word. Callers must hold the allocator lock, since this
// / is only ever invoked from the slow path of switch_mm.
func (al *Allocator) AllocLocked(prevSlot uint64) uint64 {
	al.lockassert()

	generation := al.Generation()
	if prevSlot != 0 {
		cand := generation | (prevSlot & al.mask)
		if al.checkReserved(prevSlot, cand) {
			return cand
		}
	}

	idx, ok := al.freeBitmap.NextZero(al.curIdx)
	if !ok {
		al.rollover()
		generation = al.Generation()
		idx, ok = al.freeBitmap.NextZero(1)
		if !ok {
			panic("asid: no free ASID immediately after rollover")
		}
	}

	al.freeBitmap.Set(idx)
	al.curIdx = idx
	if al.counters != nil {
		al.counters.Allocations.Add(1)
	}
	return generation | uint64(idx)
}

// / rollover implements new_asid_generation(): advance the generation,
// / reset the free bitmap, and preserve every CPU's in-flight ASID as a
// / reserved slot. Callers must hold the allocator lock.
func (al *Allocator) rollover() {
	al.lockassert()

	generation := al.Generation()
	newGeneration := generation + al.genStep
	overflowed := newGeneration < generation // uint64 wraparound

	narrow := al.genLimit != 0
	if narrow {
		if newGeneration > al.genLimit {
			newGeneration = al.genStep
			overflowed = true
		} else {
			overflowed = false
		}
	} else if overflowed {
		panic("asid: generation overflow on a 64-bit-generation allocator")
	}

	// Only the lock holder writes; still an atomic store so the fast
	// path's relaxed concurrent read never observes a torn value.
	atomic.StoreUint64(&al.generation, newGeneration)
	al.freeBitmap.ClearAll()

	for cpu := range al.active {
		a := atomic.SwapUint64(&al.active[cpu], 0)
		if a == 0 {
			// This CPU has already rolled over once without switching
			// again; its reserved slot is the only record of what it is
			// still running.
			a = al.reserved[cpu]
		}
		al.freeBitmap.Set(int(a & al.mask))
		al.reserved[cpu] = a
	}

	if al.counters != nil {
		al.counters.Rollovers.Add(1)
	}

	if narrow && overflowed {
		if al.counters != nil {
			al.counters.Overflows.Add(1)
		}
		if al.onOverflow != nil {
			al.onOverflow()
		}
		al.pessimisticFixup(newGeneration)
	}

	if al.flushAll != nil {
		al.flushAll()
	}
}

// / pessimisticFixup implements asid_generation_overflow(): every live
// / address space either carries its reserved low bits forward into the
// / new generation, or is reset to 0 to force reallocation on its next
// / switch. It is a no-op if no process layer registered an iterator.
func (al *Allocator) pessimisticFixup(newGeneration uint64) {
	if al.iterate == nil {
		return
	}
	al.iterate(func(as AddressSpaceSlot) {
		old := as.LoadASIDSlot()
		if old == 0 {
			return
		}
		cand := newGeneration | (old & al.mask)
		if al.checkReserved(old, cand) {
			as.StoreASIDSlot(cand)
		} else {
			as.StoreASIDSlot(0)
		}
	})
}

// / String renders a short diagnostic summary, useful in test failures and
// / the demo binary.
func (al *Allocator) String() string {
	return fmt.Sprintf("asid.Allocator{A=%d N=%d generation=%d}", al.a, al.n, al.Generation())
}
