package hal

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"asidmm/internal/cpuset"
)

// / SatpState_t records what a simulated CPU's SATP register currently
// / names, so tests can assert "fast-path / slow-path equivalence" by
// / comparing the final SATP.asid regardless of which path a Switch call
// / took.
type SatpState_t struct {
	RootPFN uintptr
	Mode    MMUMode
	ASID    uint32
}

// / Sim is a host-testable HA binding. It performs no real CSR or IPI work;
// / instead it records enough state (current SATP per CPU, which ASIDs a
// / CPU's simulated TLB currently caches) that tests can assert allocator
// / and switch-path invariants directly, and enough of a call log that
// / diagnostics can report what would have happened on real hardware.
type Sim struct {
	mu sync.Mutex

	ncpus      int
	allOnes    uint64
	satp       []SatpState_t
	cachedASID []map[uint32]bool
	icacheDone []int
	calls      []string
}

// / NewSim constructs a Sim for ncpus CPUs. allOnesASIDMask is the value
// / SATPReadASIDMask reports, i.e. the boot-time convention of every
// / implemented ASID bit set; callers pick it to match the ASIDLEN they
// / want probed (e.g. 0xff for A=8).
func NewSim(ncpus int, allOnesASIDMask uint64) *Sim {
	if ncpus <= 0 {
		panic("bad cpu count")
	}
	s := &Sim{
		ncpus:      ncpus,
		allOnes:    allOnesASIDMask,
		satp:       make([]SatpState_t, ncpus),
		cachedASID: make([]map[uint32]bool, ncpus),
		icacheDone: make([]int, ncpus),
	}
	for i := range s.cachedASID {
		s.cachedASID[i] = make(map[uint32]bool)
	}
	return s
}

func (s *Sim) checkCPU(cpu int) {
	if cpu < 0 || cpu >= s.ncpus {
		panic("cpu out of range")
	}
}

func (s *Sim) log(format string, args ...interface{}) {
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
}

// / TLBFlushLocalAll implements HA.
func (s *Sim) TLBFlushLocalAll(cpu int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkCPU(cpu)
	s.cachedASID[cpu] = make(map[uint32]bool)
	s.log("cpu%d: local_flush_tlb_all", cpu)
}

// / TLBFlushLocalPage implements HA. The simulation does not model
// / page-level residency, so a page flush invalidates the whole ASID's
// / entry for this CPU, a conservative (over-)approximation.
func (s *Sim) TLBFlushLocalPage(cpu int, va uintptr, asid uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkCPU(cpu)
	delete(s.cachedASID[cpu], asid)
	s.log("cpu%d: local_flush_tlb_page va=%#x asid=%d", cpu, va, asid)
}

// / TLBFlushLocalASID implements HA.
func (s *Sim) TLBFlushLocalASID(cpu int, asid uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkCPU(cpu)
	delete(s.cachedASID[cpu], asid)
	s.log("cpu%d: local_flush_tlb_asid asid=%d", cpu, asid)
}

// / ICacheInvalidateLocal implements HA.
func (s *Sim) ICacheInvalidateLocal(cpu int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkCPU(cpu)
	s.icacheDone[cpu]++
	s.log("cpu%d: icache_invalidate_local", cpu)
}

// / SATPWrite implements HA. Writing SATP is what makes a CPU's simulated
// / TLB start caching translations for the named ASID.
func (s *Sim) SATPWrite(cpu int, rootPFN uintptr, mode MMUMode, asid uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkCPU(cpu)
	s.satp[cpu] = SatpState_t{RootPFN: rootPFN, Mode: mode, ASID: asid}
	s.cachedASID[cpu][asid] = true
	s.log("cpu%d: satp_write root=%#x mode=%d asid=%d", cpu, rootPFN, mode, asid)
}

// / SATP returns the last value written on cpu, for tests and diagnostics.
func (s *Sim) SATP(cpu int) SatpState_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkCPU(cpu)
	return s.satp[cpu]
}

// / HasCachedASID reports whether cpu's simulated TLB currently caches
// / translations for asid, the state a flush-completion property
// / constrains.
func (s *Sim) HasCachedASID(cpu int, asid uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkCPU(cpu)
	return s.cachedASID[cpu][asid]
}

// / SATPReadASIDMask implements HA.
func (s *Sim) SATPReadASIDMask(cpu int) uint64 {
	s.checkCPU(cpu)
	return s.allOnes
}

// / NumPossibleCPUs implements HA.
func (s *Sim) NumPossibleCPUs() int {
	return s.ncpus
}

// / OnEachCPU implements HA's IPI-mode cross-CPU call primitive: it runs fn
// / concurrently, one goroutine per target CPU, and blocks until every call
// / has returned — the same join errgroup.Wait provides for concurrent
// / per-CPU work, which is how on_each_cpu's "wait" argument behaves.
func (s *Sim) OnEachCPU(cpus *cpuset.Set_t, fn func(cpu int)) {
	var g errgroup.Group
	cpus.Each(func(cpu int) {
		g.Go(func() error {
			fn(cpu)
			return nil
		})
	})
	// Local handlers never fail; the error is structurally impossible.
	_ = g.Wait()
}

// / RemoteInvalidate implements HA's remote-fence ("sbi") mode delivery: a
// / single opaque call, with no handler supplied by the caller, that
// / invalidates the named range on every CPU in cpus.
func (s *Sim) RemoteInvalidate(cpus *cpuset.Set_t, va uintptr, size uintptr, asid uint32) {
	s.mu.Lock()
	s.log("remote_sfence_vma va=%#x size=%#x asid=%d cpus=%v", va, size, asid, cpus.Slice())
	s.mu.Unlock()

	all := size == ^uintptr(0)
	cpus.Each(func(cpu int) {
		if all {
			if asid == 0 {
				s.TLBFlushLocalAll(cpu)
			} else {
				s.TLBFlushLocalASID(cpu, asid)
			}
			return
		}
		for off := uintptr(0); off < size; off += PageSize {
			s.TLBFlushLocalPage(cpu, va+off, asid)
		}
	})
}

// / CallLog returns a copy of the recorded call trace, newest last.
func (s *Sim) CallLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}
