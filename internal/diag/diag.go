// Package diag renders the exact textual diagnostics the boot and switch
// paths are required to emit, plus an optional verbose instruction-trace
// line for the switch path. Counts are formatted with
// golang.org/x/text/message so large ASID spaces (N up to 65536) print
// with thousands separators.
package diag

import (
	"golang.org/x/arch/riscv64/riscv64asm"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// / NotSupported is the exact diagnostic for A == 0.
func NotSupported() string {
	return "ASID is not supported"
}

// / ASIDLen is the exact diagnostic on successful ASIDLEN detection.
func ASIDLen(a int) string {
	return printer.Sprintf("ASIDLEN = %d", a)
}

// / NotEnoughASIDs is the exact diagnostic when the headroom check fails.
func NotEnoughASIDs(n uint64, numCPUs int) string {
	return printer.Sprintf("Not enough ASIDs(%d) for number of CPUs(%d). ASID is disabled", n, numCPUs)
}

// / Initialised is the exact diagnostic on successful allocator setup.
func Initialised(n uint64) string {
	return printer.Sprintf("ASID allocator initialised with %d entries", n)
}

// / GenerationOverflow is the exact diagnostic on a 32-bit generation wrap.
func GenerationOverflow() string {
	return "ASID generation overflown"
}

// / HeterogeneousASIDLen is the exact fatal message for a secondary CPU
// / whose ASIDLEN disagrees with the boot CPU's.
func HeterogeneousASIDLen(cpu, got, want int) string {
	return printer.Sprintf("CPU%d's ASIDLEN(%d) different from boot CPU's (%d)", cpu, got, want)
}

// / satpWriteEncoding is a canned little-endian encoding of
// / "csrrw x0, satp, a0" (CSR 0x180, rs1 = x10, rd = x0), the instruction
// / switch_mm conceptually issues to publish a new ASID; decoding it is a
// / diagnostics nicety and never load-bearing.
var satpWriteEncoding = []byte{0x73, 0x10, 0x05, 0x18}

// / SwitchTrace renders a verbose, best-effort trace line naming the
// / instruction the switch path issues to publish SATP. If the encoding
// / cannot be decoded (e.g. on a future riscv64asm release with stricter
// / validation) it returns the empty string rather than failing, since
// / this is purely informational.
func SwitchTrace() string {
	inst, err := riscv64asm.Decode(satpWriteEncoding)
	if err != nil {
		return ""
	}
	return printer.Sprintf("switch_mm: issuing %s", inst.String())
}
