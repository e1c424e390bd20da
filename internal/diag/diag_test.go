package diag

import "testing"

func TestExactDiagnosticStrings(t *testing.T) {
	cases := []struct {
		got, want string
	}{
		{NotSupported(), "ASID is not supported"},
		{ASIDLen(8), "ASIDLEN = 8"},
		{NotEnoughASIDs(4, 8), "Not enough ASIDs(4) for number of CPUs(8). ASID is disabled"},
		{Initialised(256), "ASID allocator initialised with 256 entries"},
		{GenerationOverflow(), "ASID generation overflown"},
		{HeterogeneousASIDLen(2, 6, 8), "CPU2's ASIDLEN(6) different from boot CPU's (8)"},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Fatalf("got %q, want %q", c.got, c.want)
		}
	}
}

func TestInitialisedUsesThousandsSeparator(t *testing.T) {
	got := Initialised(65536)
	want := "ASID allocator initialised with 65,536 entries"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSwitchTraceDoesNotPanic(t *testing.T) {
	_ = SwitchTrace()
}
