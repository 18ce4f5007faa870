// Package service is the authoritative side of the attendance gateway: it
// stamps server time, re-evaluates readings against the stored site,
// enforces the shift lifecycle on stored entries and raises alerts.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	att "timeclock/internal/attendance/models"
	"timeclock/internal/timeclock/alerts"
	"timeclock/internal/timeclock/metrics"
	"timeclock/internal/timeclock/models"
	dErrors "timeclock/pkg/domain-errors"
	"timeclock/pkg/platform/sentinel"
)

type EntryStore interface {
	Create(ctx context.Context, e *models.Entry) error
	FindByID(ctx context.Context, id string) (*models.Entry, error)
	FindOpenByApprentice(ctx context.Context, apprenticeID string) (*models.Entry, error)
	ListByWeek(ctx context.Context, apprenticeID string, weekEnding time.Time) ([]*models.Entry, error)
	Execute(ctx context.Context, id string, validate func(*models.Entry) error, mutate func(*models.Entry)) (*models.Entry, error)
	AddHeartbeat(ctx context.Context, hb *models.Heartbeat) error
	ListHeartbeats(ctx context.Context, entryID string, limit int) ([]*models.Heartbeat, error)
}

type SiteStore interface {
	ListForApprentice(ctx context.Context, apprenticeID string) ([]att.Site, error)
	FindForApprentice(ctx context.Context, apprenticeID, siteID string) (*att.Site, error)
	FindByID(ctx context.Context, siteID string) (*att.Site, error)
}

type PresenceStore interface {
	Save(ctx context.Context, p *models.Presence) error
	Get(ctx context.Context, entryID string) (*models.Presence, error)
	Delete(ctx context.Context, entryID string) error
}

type Broadcaster interface {
	Broadcast(ctx context.Context, entryID string, payload []byte)
}

// Rules are the compliance thresholds behind lunch alerts.
type Rules struct {
	LunchStandard     time.Duration
	MissingLunchAfter time.Duration
}

// DefaultRules returns a 60 minute lunch standard and flags shifts of six
// hours or more without a lunch.
func DefaultRules() Rules {
	return Rules{LunchStandard: time.Hour, MissingLunchAfter: 6 * time.Hour}
}

// Service implements the timeclock operations for authenticated apprentices.
type Service struct {
	entries     EntryStore
	sites       SiteStore
	presence    PresenceStore
	alerts      alerts.Publisher
	broadcaster Broadcaster
	policy      att.Policy
	rules       Rules
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithPresence(p PresenceStore) Option {
	return func(s *Service) {
		s.presence = p
	}
}

func WithAlerts(p alerts.Publisher) Option {
	return func(s *Service) {
		s.alerts = p
	}
}

func WithBroadcaster(b Broadcaster) Option {
	return func(s *Service) {
		s.broadcaster = b
	}
}

func WithPolicy(p att.Policy) Option {
	return func(s *Service) {
		s.policy = p.WithDefaults()
	}
}

func WithRules(r Rules) Option {
	return func(s *Service) {
		if r.LunchStandard > 0 {
			s.rules.LunchStandard = r.LunchStandard
		}
		if r.MissingLunchAfter > 0 {
			s.rules.MissingLunchAfter = r.MissingLunchAfter
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer("timeclock/service")
		}
	}
}

// New constructs a Service.
func New(entries EntryStore, sites SiteStore, opts ...Option) (*Service, error) {
	if entries == nil {
		return nil, errors.New("entry store is required")
	}
	if sites == nil {
		return nil, errors.New("site store is required")
	}
	s := &Service{
		entries: entries,
		sites:   sites,
		policy:  att.DefaultPolicy(),
		rules:   DefaultRules(),
		logger:  slog.Default(),
		tracer:  otel.Tracer("timeclock/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.policy.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Policy returns the attendance policy the service enforces.
func (s *Service) Policy() att.Policy {
	return s.policy
}

// begin opens a span and returns a finisher that records the outcome on
// the span and in metrics.
func (s *Service) begin(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "timeclock."+operation, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		outcome := "ok"
		if errp != nil && *errp != nil {
			err := *errp
			outcome = string(dErrors.CodeOf(err))
			if outcome == "" {
				outcome = string(dErrors.CodeInternal)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.SetAttributes(attribute.String("outcome", outcome))
		span.End()
		s.metrics.ObserveOperation(operation, outcome, start)
	}
}

// translate maps store sentinels onto domain codes. Errors that already
// carry a code pass through.
func translate(err error, what string) error {
	if err == nil {
		return nil
	}
	if dErrors.CodeOf(err) != "" {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, what+" not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeShiftAlreadyOpen, "an open shift already exists for this apprentice")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeInvalidTransition, what+" has already been closed")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "storage unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to access "+what)
	}
}

// publish delivers an alert best-effort.
func (s *Service) publish(ctx context.Context, alert alerts.Alert) {
	if s.alerts == nil {
		return
	}
	err := s.alerts.Publish(ctx, alert)
	s.metrics.IncrementAlert(string(alert.Type), err == nil)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to publish alert",
			"alert_type", alert.Type,
			"apprentice_id", alert.ApprenticeID,
			"entry_id", alert.EntryID,
			"error", err,
		)
	}
}
