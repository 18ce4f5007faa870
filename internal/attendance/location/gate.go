// Package location acquires device readings and admits them for use in shift
// transitions.
package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"timeclock/internal/attendance/models"
	dErrors "timeclock/pkg/domain-errors"
)

// Provider-level failures. Providers return these (optionally wrapped); any
// other provider error is treated as ErrPositionUnavailable.
var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrPositionUnavailable = errors.New("location unavailable")
	ErrTimeout             = errors.New("location request timed out")
)

// Request describes a single location request. MaximumAge is always zero:
// every admitted reading is freshly acquired.
type Request struct {
	Timeout      time.Duration
	MaximumAge   time.Duration
	HighAccuracy bool
}

// Provider returns the device position at the moment of the request.
type Provider interface {
	CurrentReading(ctx context.Context, req Request) (models.LocationReading, error)
}

// Reason classifies why a reading was not admitted.
type Reason string

const (
	ReasonPermissionDenied    Reason = "permission_denied"
	ReasonPositionUnavailable Reason = "position_unavailable"
	ReasonTimeout             Reason = "timeout"
	ReasonLowAccuracy         Reason = "low_accuracy"
)

// Code maps the reason onto the domain error taxonomy.
func (r Reason) Code() dErrors.Code {
	switch r {
	case ReasonPermissionDenied:
		return dErrors.CodeLocationPermissionDenied
	case ReasonTimeout:
		return dErrors.CodeLocationTimeout
	case ReasonLowAccuracy:
		return dErrors.CodeLowAccuracy
	default:
		return dErrors.CodeLocationUnavailable
	}
}

// Rejection is returned when the gate refuses a request. It is terminal for
// that request; callers retry by issuing a new one.
type Rejection struct {
	Reason            Reason
	AccuracyMeters    float64
	MaxAccuracyMeters float64
	Err               error
}

func (r *Rejection) Error() string {
	if r.Reason == ReasonLowAccuracy {
		return fmt.Sprintf("GPS accuracy too low: %.0fm (max %.0fm)", r.AccuracyMeters, r.MaxAccuracyMeters)
	}
	if r.Err != nil {
		return r.Err.Error()
	}
	return string(r.Reason)
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// DomainError wraps the rejection in its taxonomy code; errors.As still
// reaches the *Rejection for the numeric accuracy.
func (r *Rejection) DomainError() *dErrors.Error {
	return dErrors.Wrap(r, r.Reason.Code(), r.Error())
}

// Gate validates readings against the freshness and accuracy policy.
type Gate struct {
	provider Provider
	timeout  time.Duration
	maxAcc   float64
	now      func() time.Time
}

type GateOption func(*Gate)

// WithClock overrides the time used to stamp readings without CapturedAt.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGate builds a gate for provider using the policy's timeout and accuracy.
func NewGate(provider Provider, policy models.Policy, opts ...GateOption) (*Gate, error) {
	if provider == nil {
		return nil, errors.New("location provider is required")
	}
	policy = policy.WithDefaults()
	g := &Gate{
		provider: provider,
		timeout:  policy.LocationTimeout,
		maxAcc:   policy.MaxAccuracyMeters,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Acquire requests a fresh reading and admits it. The provider is bounded by
// the policy timeout even when it ignores its context.
func (g *Gate) Acquire(ctx context.Context) (models.LocationReading, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		reading models.LocationReading
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		r, err := g.provider.CurrentReading(ctx, Request{Timeout: g.timeout, MaximumAge: 0, HighAccuracy: true})
		ch <- result{reading: r, err: err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return models.LocationReading{}, ctx.Err()
		}
		return models.LocationReading{}, &Rejection{Reason: ReasonTimeout, Err: ErrTimeout}
	}

	if res.err != nil {
		if errors.Is(res.err, context.Canceled) {
			return models.LocationReading{}, res.err
		}
		return models.LocationReading{}, classify(res.err)
	}
	if res.reading.CapturedAt.IsZero() {
		res.reading.CapturedAt = g.now()
	}
	if err := g.Admit(res.reading); err != nil {
		return models.LocationReading{}, err
	}
	return res.reading, nil
}

// Admit applies the accuracy policy to an already acquired reading.
func (g *Gate) Admit(reading models.LocationReading) error {
	return Admit(reading, g.maxAcc)
}

// Admit rejects a reading whose accuracy radius exceeds maxAccuracyMeters.
// The server applies it to readings reported by devices.
func Admit(reading models.LocationReading, maxAccuracyMeters float64) error {
	if reading.AccuracyMeters > maxAccuracyMeters {
		return &Rejection{
			Reason:            ReasonLowAccuracy,
			AccuracyMeters:    reading.AccuracyMeters,
			MaxAccuracyMeters: maxAccuracyMeters,
		}
	}
	return nil
}

func classify(err error) *Rejection {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return &Rejection{Reason: ReasonPermissionDenied, Err: err}
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return &Rejection{Reason: ReasonTimeout, Err: err}
	default:
		return &Rejection{Reason: ReasonPositionUnavailable, Err: err}
	}
}
