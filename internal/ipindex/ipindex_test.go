package ipindex

import (
	"errors"
	"testing"
)

func TestParseAddr(t *testing.T) {
	cases := []struct {
		in   string
		want uint32
		ok   bool
	}{
		{"0.0.0.0", 0, true},
		{"255.255.255.255", 0xFFFFFFFF, true},
		{"10.0.0.7", 10<<24 | 7, true},
		{"198.51.100.0", 198<<24 | 51<<16 | 100<<8, true},
		{"::1", 0, false},
		{"2001:db8::1", 0, false},
		{"10.0.0", 0, false},
		{"not-an-ip", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseAddr(tc.in)
		if tc.ok {
			if err != nil || got != tc.want {
				t.Errorf("ParseAddr(%q) = %d, %v; want %d", tc.in, got, err, tc.want)
			}
			continue
		}
		if !errors.Is(err, ErrBadAddr) {
			t.Errorf("ParseAddr(%q) err = %v, want ErrBadAddr", tc.in, err)
		}
	}
}

func TestFormatAddrRoundTrip(t *testing.T) {
	for _, s := range []string{"0.0.0.0", "10.0.0.7", "198.51.100.255", "255.255.255.255"} {
		n, err := ParseAddr(s)
		if err != nil {
			t.Fatalf("ParseAddr(%q): %v", s, err)
		}
		if got := FormatAddr(n); got != s {
			t.Errorf("FormatAddr(ParseAddr(%q)) = %q", s, got)
		}
	}
}

func TestOverlaps(t *testing.T) {
	base := Range{Start: 100, End: 200}
	cases := []struct {
		name string
		r    Range
		want bool
	}{
		{"start inside", Range{Start: 150, End: 300}, true},
		{"end inside", Range{Start: 50, End: 150}, true},
		{"enclosing", Range{Start: 50, End: 300}, true},
		{"enclosed", Range{Start: 120, End: 180}, true},
		{"identical", Range{Start: 100, End: 200}, true},
		{"touching start", Range{Start: 50, End: 100}, true},
		{"touching end", Range{Start: 200, End: 300}, true},
		{"disjoint below", Range{Start: 0, End: 99}, false},
		{"disjoint above", Range{Start: 201, End: 400}, false},
	}
	for _, tc := range cases {
		if got := Overlaps(tc.r, base); got != tc.want {
			t.Errorf("%s: Overlaps = %v, want %v", tc.name, got, tc.want)
		}
		// Overlap is symmetric.
		if got := Overlaps(base, tc.r); got != tc.want {
			t.Errorf("%s (flipped): Overlaps = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestConflicts(t *testing.T) {
	existing := []Range{
		{Start: 0, End: 99, InstitutionID: "inst-a"},
		{Start: 100, End: 199, InstitutionID: "inst-b"},
		{Start: 200, End: 299, InstitutionID: "inst-b"},
		{Start: 300, End: 399, InstitutionID: "inst-c"},
		{Start: 400, End: 499, InstitutionID: "inst-d"},
	}

	got := Conflicts(Range{Start: 150, End: 450, InstitutionID: "inst-x"}, existing, 3)
	if len(got) != 3 {
		t.Fatalf("conflicts = %v, want 3 distinct institutions", got)
	}

	// Duplicate owners are reported once.
	got = Conflicts(Range{Start: 100, End: 299, InstitutionID: "inst-x"}, existing, 3)
	if len(got) != 1 || got[0] != "inst-b" {
		t.Fatalf("conflicts = %v, want [inst-b]", got)
	}

	// The candidate's own institution never conflicts.
	got = Conflicts(Range{Start: 100, End: 299, InstitutionID: "inst-b"}, existing, 3)
	if len(got) != 0 {
		t.Fatalf("conflicts = %v, want none", got)
	}

	if got = Conflicts(Range{Start: 500, End: 600, InstitutionID: "inst-x"}, existing, 3); len(got) != 0 {
		t.Fatalf("conflicts = %v, want none for disjoint candidate", got)
	}
}

func TestContainsAndValid(t *testing.T) {
	r := Range{Start: 10, End: 20}
	if !r.Valid() || !r.Contains(10) || !r.Contains(20) || r.Contains(9) || r.Contains(21) {
		t.Fatalf("containment wrong for %+v", r)
	}
	if (Range{Start: 20, End: 10}).Valid() {
		t.Fatal("inverted range must be invalid")
	}
}
