// Package alerts publishes compliance and operations alerts raised by the
// timeclock service. Publishing is best-effort: callers log failures and
// carry on.
package alerts

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Type identifies the rule that raised an alert.
type Type string

const (
	TypeGeofenceViolation Type = "geofence_violation"
	TypeExcessiveLunch    Type = "excessive_lunch"
	TypeMissingLunch      Type = "missing_lunch"
	TypeOutsideGeofence   Type = "outside_geofence"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// Alert is one raised alert. Details carries rule-specific values such as
// distance_m or lunch_minutes.
type Alert struct {
	Type         Type           `json:"alert_type"`
	Severity     Severity       `json:"severity"`
	ApprenticeID string         `json:"apprentice_id"`
	EntryID      string         `json:"entry_id"`
	SiteID       string         `json:"site_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	RaisedAt     time.Time      `json:"raised_at"`
}

// Publisher delivers alerts to whoever reviews them.
type Publisher interface {
	Publish(ctx context.Context, alert Alert) error
}

// MemoryPublisher keeps alerts in process for tests and local tooling.
type MemoryPublisher struct {
	mu     sync.Mutex
	alerts []Alert
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(_ context.Context, alert Alert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, alert)
	return nil
}

// Alerts returns a snapshot of everything published so far.
func (p *MemoryPublisher) Alerts() []Alert {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Alert, len(p.alerts))
	copy(out, p.alerts)
	return out
}

// OfType filters the snapshot by type.
func (p *MemoryPublisher) OfType(t Type) []Alert {
	var out []Alert
	for _, a := range p.Alerts() {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

// LogPublisher writes alerts to the log. The server uses it when no broker
// is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, alert Alert) error {
	p.logger.WarnContext(ctx, "alert raised",
		"alert_type", alert.Type,
		"severity", alert.Severity,
		"apprentice_id", alert.ApprenticeID,
		"entry_id", alert.EntryID,
		"site_id", alert.SiteID,
		"details", alert.Details,
	)
	return nil
}
