// Package boot implements bring-up: ASIDLEN
// detection, the headroom check against the CPU count, boot-parameter
// parsing, and construction of the allocator/switcher/shooter triple that
// the rest of the kernel drives. This plays the role asids_init() and
// cpu_set_supported_cpus/verify_cpu_asidlen play in the original: a single
// place that turns platform probing results into a ready-to-use subsystem.
package boot

import (
	"fmt"
	"strconv"
	"strings"

	"asidmm/internal/asid"
	"asidmm/internal/cpuset"
	"asidmm/internal/diag"
	"asidmm/internal/hal"
	"asidmm/internal/mmctx"
	"asidmm/internal/tlb"
)

// / Subsystem bundles the three constructed collaborators plus the detected
// / ASID width, the unit callers wire into the rest of the kernel. A nil
// / Allocator (and Switcher.Allocator == nil, transitively) means ASIDs are
// / disabled: every address-space switch falls back to an unconditional
// / local flush, matching the degrade-and-log path for the no-ASID case.
type Subsystem struct {
	Allocator *asid.Allocator
	Switcher  *mmctx.Switcher
	Shooter   *tlb.Shooter
	ASIDBits  int
	Counters  *diag.Counters
}

// / Params are the boot command-line/device-tree knobs: tlbi_max_ops bounds
// / how large a range a page-granular flush will cover before being
// / promoted to a full address-space flush, and tlbi_method selects the
// / delivery strategy.
type Params struct {
	TLBIMaxOps int
	TLBIMethod tlb.Mode
	GenLimit   uint64 // 0 selects 64-bit generations
	MMUMode    hal.MMUMode
}

// / DefaultParams matches what the original boots with absent any override:
// / a one-page threshold and IPI-based delivery.
func DefaultParams() Params {
	return Params{
		TLBIMaxOps: 1,
		TLBIMethod: tlb.ModeIPI,
	}
}

// / ParseTLBIMaxOps validates the tlbi_max_ops boot parameter: an integer in
// / [1, hal.PTRSPerPTE), the range the original bounds it to so a promoted
// / flush is never pointlessly larger than one page-table's worth of entries.
func ParseTLBIMaxOps(raw string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("boot: invalid tlbi_max_ops %q: %w", raw, err)
	}
	if v < 1 || v >= hal.PTRSPerPTE {
		return 0, fmt.Errorf("boot: tlbi_max_ops %d out of range [1,%d)", v, hal.PTRSPerPTE)
	}
	return v, nil
}

// / ParseTLBIMethod validates the tlbi_method boot parameter ("ipi" or
// / "sbi").
func ParseTLBIMethod(raw string) (tlb.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ipi":
		return tlb.ModeIPI, nil
	case "sbi":
		return tlb.ModeSBI, nil
	default:
		return 0, fmt.Errorf("boot: unknown tlbi_method %q (want \"ipi\" or \"sbi\")", raw)
	}
}

// / fls returns the index of the highest set bit plus one (find-last-set),
// / the primitive get_cpu_asidlen derives ASIDLEN with: v is the all-ones
// / ASID field SATP reads back as at boot, and fls(v) is its bit width.
func fls(v uint64) int {
	n := 0
	for v != 0 {
		v >>= 1
		n++
	}
	return n
}

// / ProbeASIDLen reads back cpu's all-ones ASID field and returns its width,
// / the per-CPU half of get_cpu_asidlen/verify_cpu_asidlen.
func ProbeASIDLen(ha hal.HA, cpu int) int {
	return fls(ha.SATPReadASIDMask(cpu))
}

// / VerifyCPUASIDLen implements verify_cpu_asidlen, restored from
// / original_source/context.c's secondary-CPU bring-up path: every secondary
// / CPU brought up after the boot CPU has already selected bootASIDLen must
// / agree with it, a hardware-homogeneity invariant the allocator's sizing
// / assumes and never rechecks. A mismatch is an unrecoverable platform bug,
// / not a normal degrade path, so it panics with the exact fatal diagnostic.
func VerifyCPUASIDLen(ha hal.HA, cpu, bootASIDLen int) {
	got := ProbeASIDLen(ha, cpu)
	if got != bootASIDLen {
		panic(diag.HeterogeneousASIDLen(cpu, got, bootASIDLen))
	}
}

// / Logger receives the diagnostic lines Probe emits, in order. Pass a
// / function wrapping log.Print, fmt.Println, or (in tests) a slice
// / collector; nil is accepted and silently drops every line.
type Logger func(line string)

// / Probe implements asids_init(): detect ASIDLEN on the boot CPU, apply the
// / headroom check, and, if ASIDs remain viable, construct the Subsystem.
// / cpus is every CPU in the system (AllCPUs for the Shooter); bootCPU
// / identifies which of them to probe.
func Probe(ha hal.HA, cpus *cpuset.Set_t, bootCPU int, params Params, log Logger) *Subsystem {
	emit := func(s string) {
		if log != nil {
			log(s)
		}
	}

	numCPUs := ha.NumPossibleCPUs()
	a := ProbeASIDLen(ha, bootCPU)
	if a == 0 {
		emit(diag.NotSupported())
		return disabledSubsystem(ha, cpus, params)
	}
	emit(diag.ASIDLen(a))

	n := uint64(1) << uint(a)
	if n-1 <= uint64(numCPUs) {
		emit(diag.NotEnoughASIDs(n, numCPUs))
		return disabledSubsystem(ha, cpus, params)
	}

	shooter := tlb.NewShooter(ha, params.TLBIMethod, cpus)
	if params.TLBIMaxOps > 0 {
		shooter.ThresholdBytes = uintptr(params.TLBIMaxOps) * hal.PageSize
	}

	counters := &diag.Counters{}
	al := asid.New(asid.Config{
		ASIDBits:        a,
		NumCPUs:         numCPUs,
		GenerationLimit: params.GenLimit,
		FlushAll:        shooter.FlushAll,
		OnGenerationOverflow: func() {
			emit(diag.GenerationOverflow())
		},
		Counters: counters,
	})
	for cpu := 0; cpu < numCPUs; cpu++ {
		al.SeedActiveASID(cpu, al.Mask())
	}
	emit(diag.Initialised(n))

	sw := mmctx.NewSwitcher(al, ha, params.MMUMode)

	return &Subsystem{Allocator: al, Switcher: sw, Shooter: shooter, ASIDBits: a, Counters: counters}
}

// / disabledSubsystem builds the ASIDs-disabled Subsystem: a Switcher with a
// / nil allocator (every switch degrades to an unconditional flush) and the
// / same Shooter the enabled path builds; with ASIDs disabled, callers pass
// / ASID 0 to its tagged flushes.
func disabledSubsystem(ha hal.HA, cpus *cpuset.Set_t, params Params) *Subsystem {
	shooter := tlb.NewShooter(ha, params.TLBIMethod, cpus)
	if params.TLBIMaxOps > 0 {
		shooter.ThresholdBytes = uintptr(params.TLBIMaxOps) * hal.PageSize
	}
	sw := mmctx.NewSwitcher(nil, ha, params.MMUMode)
	return &Subsystem{Allocator: nil, Switcher: sw, Shooter: shooter, ASIDBits: 0}
}
