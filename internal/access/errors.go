package access

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound     = errors.New("access: not found")
	ErrConflict     = errors.New("access: conflict")
	ErrInvalidInput = errors.New("access: invalid input")
)

// OverlapError rejects an IP range that intersects ranges owned by other
// institutions. Institutions lists up to three conflicting institution names.
type OverlapError struct {
	Institutions []string
}

func (e *OverlapError) Error() string {
	if len(e.Institutions) == 0 {
		return "access: ip range overlaps a range owned by another institution"
	}
	return fmt.Sprintf("access: ip range overlaps ranges owned by %s", strings.Join(e.Institutions, ", "))
}

func (e *OverlapError) Unwrap() error { return ErrConflict }
