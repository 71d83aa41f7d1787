// Package ipindex provides IPv4 interval arithmetic for the institution
// IP range index: address parsing, point containment and the overlap
// check behind the non-overlap invariant.
package ipindex

import (
	"errors"
	"fmt"
	"net"
)

var ErrBadAddr = errors.New("ipindex: not an IPv4 address")

// ParseAddr converts a dotted-quad IPv4 address into its numeric form.
func ParseAddr(s string) (uint32, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return 0, ErrBadAddr
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, ErrBadAddr
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3]), nil
}

// FormatAddr renders a numeric address as a dotted quad.
func FormatAddr(a uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(a>>24), byte(a>>16), byte(a>>8), byte(a))
}

// Range is an inclusive IPv4 interval owned by one institution.
type Range struct {
	Start         uint32
	End           uint32
	InstitutionID string
}

// Valid reports whether the interval is well formed.
func (r Range) Valid() bool { return r.Start <= r.End }

// Contains reports whether addr falls inside the interval.
func (r Range) Contains(addr uint32) bool {
	return r.Start <= addr && addr <= r.End
}

// Overlaps checks the three interval conditions: a's start inside b, a's end
// inside b, or a fully enclosing b.
func Overlaps(a, b Range) bool {
	return b.Contains(a.Start) || b.Contains(a.End) || (a.Start <= b.Start && b.End <= a.End)
}

// Conflicts returns the institution ids of existing ranges owned by a
// different institution that the candidate intersects, capped at limit.
// Same-institution overlap is permitted.
func Conflicts(candidate Range, existing []Range, limit int) []string {
	if limit <= 0 {
		limit = 3
	}
	var out []string
	seen := make(map[string]struct{})
	for _, r := range existing {
		if r.InstitutionID == candidate.InstitutionID {
			continue
		}
		if !Overlaps(candidate, r) {
			continue
		}
		if _, dup := seen[r.InstitutionID]; dup {
			continue
		}
		seen[r.InstitutionID] = struct{}{}
		out = append(out, r.InstitutionID)
		if len(out) >= limit {
			break
		}
	}
	return out
}
