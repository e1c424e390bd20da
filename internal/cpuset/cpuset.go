// Package cpuset provides the fixed-size CPU-set primitive the core needs
// for cpu_mask, cache_mask, and icache_stale_mask, generalizing a raw
// uint64 per-page CPU mask (mem.Physpg_t.Cpumask, read through
// mem.Physmem_t.Tlbaddr) to an arbitrary CPU count.
package cpuset

import "asidmm/internal/bitmap"

// / Set_t is a CPU set: test/set/clear/copy/iterate/equals.
type Set_t struct {
	bits *bitmap.AtomicBitmap_t
	n    int
}

// / New allocates an empty Set_t sized for n CPUs.
func New(n int) *Set_t {
	return &Set_t{bits: bitmap.NewAtomic(n), n: n}
}

// / NumCPUs returns the CPU count the set was sized for.
func (s *Set_t) NumCPUs() int {
	return s.n
}

// / SetCPU adds cpu to the set.
func (s *Set_t) SetCPU(cpu int) {
	s.bits.Set(cpu)
}

// / ClearCPU removes cpu from the set.
func (s *Set_t) ClearCPU(cpu int) {
	s.bits.Clear(cpu)
}

// / TestCPU reports whether cpu is a member of the set.
func (s *Set_t) TestCPU(cpu int) bool {
	return s.bits.Test(cpu)
}

// / TestAndClearCPU clears cpu from the set and reports whether it had been
// / a member, used by the deferred icache protocol to consume a pending
// / invalidation.
func (s *Set_t) TestAndClearCPU(cpu int) bool {
	return s.bits.TestAndClear(cpu)
}

// / Clear empties the set.
func (s *Set_t) Clear() {
	s.bits.ClearAllBits()
}

// / CopyFrom snapshots src's membership into s, as cpumask_copy does when a
// / rollover invalidates every CPU's cached view of an address space except
// / the ones currently running it.
func (s *Set_t) CopyFrom(src *Set_t) {
	s.bits.Copy(src.bits)
}

// / Each calls f once for every CPU currently in the set, in ascending
// / order.
func (s *Set_t) Each(f func(cpu int)) {
	s.bits.Each(f)
}

// / Equals reports whether s and other contain exactly the same CPUs.
func (s *Set_t) Equals(other *Set_t) bool {
	if s.n != other.n {
		return false
	}
	eq := true
	seen := make(map[int]bool, s.n)
	s.Each(func(cpu int) { seen[cpu] = true })
	other.Each(func(cpu int) {
		if !seen[cpu] {
			eq = false
		}
		delete(seen, cpu)
	})
	return eq && len(seen) == 0
}

// / Slice returns the CPUs currently in the set as a sorted slice. Intended
// / for diagnostics and tests, not the hot path.
func (s *Set_t) Slice() []int {
	var out []int
	s.Each(func(cpu int) { out = append(out, cpu) })
	return out
}
