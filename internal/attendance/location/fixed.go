package location

import (
	"context"
	"sync"
	"time"

	"timeclock/internal/attendance/models"
)

// Fixed is a provider whose position is set by the host, for devices where
// the fix comes from outside the process (an operator, a companion app).
// Until a fix is set it reports ErrPositionUnavailable.
type Fixed struct {
	mu      sync.Mutex
	reading *models.LocationReading
	err     error
}

// NewFixed returns a provider with no fix.
func NewFixed() *Fixed {
	return &Fixed{}
}

// Set installs the current fix and clears any forced failure.
func (f *Fixed) Set(r models.LocationReading) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reading = &r
	f.err = nil
}

// Fail forces subsequent requests to fail with err.
func (f *Fixed) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// CurrentReading implements Provider. CapturedAt is left zero so the gate
// stamps each request with its own acquisition time.
func (f *Fixed) CurrentReading(ctx context.Context, _ Request) (models.LocationReading, error) {
	if err := ctx.Err(); err != nil {
		return models.LocationReading{}, ErrTimeout
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.LocationReading{}, f.err
	}
	if f.reading == nil {
		return models.LocationReading{}, ErrPositionUnavailable
	}
	r := *f.reading
	r.CapturedAt = time.Time{}
	return r, nil
}
