package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and the timeclock service translates them into domain codes:
//   - ErrNotFound: entry, site or presence record does not exist
//   - ErrConflict: a uniqueness rule rejected the write (second open shift)
//   - ErrInvalidState: a conditional update matched no row because the entry
//     has moved on (already closed, lunch already recorded)
//   - ErrUnavailable: backing service temporarily unreachable
//
// Validation problems use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
