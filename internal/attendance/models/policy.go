package models

import (
	"time"

	dErrors "timeclock/pkg/domain-errors"
)

const (
	DefaultHeartbeatInterval = 2 * time.Minute
	DefaultLocationTimeout   = 10 * time.Second
	DefaultMaxAccuracyMeters = 50.0
)

// Policy is the attendance policy an engine is constructed with.
type Policy struct {
	// HeartbeatInterval is the cadence of presence samples while a shift is open.
	HeartbeatInterval time.Duration
	// LocationTimeout bounds a single location request.
	LocationTimeout time.Duration
	// MaxAccuracyMeters is the largest accuracy radius admitted by the gate.
	MaxAccuracyMeters float64
	// RequireGeofenceAtClockIn turns the clock-in geofence check from a
	// warning into a hard block.
	RequireGeofenceAtClockIn bool
}

// DefaultPolicy returns the documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		HeartbeatInterval: DefaultHeartbeatInterval,
		LocationTimeout:   DefaultLocationTimeout,
		MaxAccuracyMeters: DefaultMaxAccuracyMeters,
	}
}

// WithDefaults fills zero fields with the documented defaults.
func (p Policy) WithDefaults() Policy {
	d := DefaultPolicy()
	if p.HeartbeatInterval == 0 {
		p.HeartbeatInterval = d.HeartbeatInterval
	}
	if p.LocationTimeout == 0 {
		p.LocationTimeout = d.LocationTimeout
	}
	if p.MaxAccuracyMeters == 0 {
		p.MaxAccuracyMeters = d.MaxAccuracyMeters
	}
	return p
}

// Validate rejects negative durations and thresholds.
func (p Policy) Validate() error {
	if p.HeartbeatInterval < 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "heartbeat interval must be positive")
	}
	if p.LocationTimeout < 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "location timeout must be positive")
	}
	if p.MaxAccuracyMeters < 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "max accuracy must be positive")
	}
	return nil
}
