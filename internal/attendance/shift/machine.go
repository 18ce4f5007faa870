// Package shift owns the lifecycle of a single shift entry.
//
// The machine follows a validate-then-apply split: Transition checks the
// requested action and its guards without touching the entry and returns a
// planned Transition; Apply mutates the entry only once the caller has a
// confirmation from durable storage. A failed persistence round-trip
// therefore never advances the machine.
//
// Lifecycle:
//
//	NotStarted --clock_in--> Active --lunch_start--> OnLunch
//	                           ^                        |
//	                           +------lunch_end---------+
//	Active --clock_out--> Closed (terminal)
//
// Only one lunch cycle is allowed per shift.
package shift

import (
	"fmt"
	"time"

	"timeclock/internal/attendance/models"
	dErrors "timeclock/pkg/domain-errors"
)

type rule struct {
	from models.State
	to   models.State
}

var rules = map[models.Action]rule{
	models.ActionClockIn:    {from: models.StateNotStarted, to: models.StateActive},
	models.ActionLunchStart: {from: models.StateActive, to: models.StateOnLunch},
	models.ActionLunchEnd:   {from: models.StateOnLunch, to: models.StateActive},
	models.ActionClockOut:   {from: models.StateActive, to: models.StateClosed},
}

// Input carries everything the guards of an action look at.
type Input struct {
	// Site is the resolved site for clock_in; ignored by other actions.
	Site *models.Site
	// Reading has already been admitted by the location gate.
	Reading models.LocationReading
	// Verdict is the geofence evaluation for Reading, when a site is known.
	Verdict *models.GeofenceVerdict
}

// Transition is a validated, not yet applied, state change.
type Transition struct {
	Action  models.Action
	From    models.State
	To      models.State
	SiteID  string
	Reading models.LocationReading
	Verdict *models.GeofenceVerdict
}

// Confirmation is what durable storage returned for a transition.
type Confirmation struct {
	// Entry is the created entry; required for clock_in only.
	Entry *models.ShiftEntry
	// At is the authoritative timestamp of the action.
	At time.Time
}

// Machine tracks one shift entry. It is not safe for concurrent use; the
// owning engine serializes access.
type Machine struct {
	entry  *models.ShiftEntry
	policy models.Policy
}

// NewMachine returns a machine positioned at the state implied by entry. A
// nil entry starts at NotStarted.
func NewMachine(entry *models.ShiftEntry, policy models.Policy) (*Machine, error) {
	if err := ValidateEntry(entry); err != nil {
		return nil, err
	}
	return &Machine{entry: entry.Clone(), policy: policy.WithDefaults()}, nil
}

// State is derived from the entry timestamps.
func (m *Machine) State() models.State {
	return models.StateOf(m.entry)
}

// Entry returns a copy of the tracked entry, or nil before clock-in.
func (m *Machine) Entry() *models.ShiftEntry {
	return m.entry.Clone()
}

// Allowed lists the actions that are legal right now, in lifecycle order.
func (m *Machine) Allowed() []models.Action {
	var out []models.Action
	for _, a := range models.Actions {
		if m.Can(a) == nil {
			out = append(out, a)
		}
	}
	return out
}

// Can checks the state-only legality of an action.
func (m *Machine) Can(action models.Action) error {
	r, ok := rules[action]
	if !ok {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown action %q", action))
	}
	state := m.State()
	if state != r.from {
		return invalid(action, state)
	}
	if action == models.ActionLunchStart && m.entry.LunchStartAt != nil {
		return dErrors.New(dErrors.CodeInvalidTransition, "lunch already taken for this shift")
	}
	return nil
}

// Transition validates action against the current state and the guards and
// returns the planned change. It never mutates the machine.
func (m *Machine) Transition(action models.Action, in Input) (Transition, error) {
	if err := m.Can(action); err != nil {
		return Transition{}, err
	}
	r := rules[action]
	t := Transition{
		Action:  action,
		From:    r.from,
		To:      r.to,
		Reading: in.Reading,
		Verdict: in.Verdict,
	}

	if action == models.ActionClockIn {
		if in.Site == nil || in.Site.ID == "" {
			return Transition{}, dErrors.New(dErrors.CodeNoSiteSelected, "select a work site before clocking in")
		}
		t.SiteID = in.Site.ID
		if m.policy.RequireGeofenceAtClockIn && in.Verdict != nil && !in.Verdict.WithinGeofence {
			return Transition{}, dErrors.New(dErrors.CodeOutsideGeofence,
				fmt.Sprintf("%.0fm from %s, outside the %.0fm geofence", in.Verdict.DistanceMeters, in.Site.Name, in.Site.RadiusMeters))
		}
	} else {
		t.SiteID = m.entry.SiteID
	}
	return t, nil
}

// Apply commits a transition after storage confirmed it. The machine must
// still be in the state the transition was planned from.
func (m *Machine) Apply(t Transition, c Confirmation) error {
	if state := m.State(); state != t.From {
		return invalid(t.Action, state)
	}
	if c.At.IsZero() {
		return dErrors.New(dErrors.CodeInvariantViolation, "confirmation timestamp is required")
	}
	at := c.At

	switch t.Action {
	case models.ActionClockIn:
		if c.Entry == nil || c.Entry.EntryID == "" {
			return dErrors.New(dErrors.CodeInvariantViolation, "created entry is required for clock_in")
		}
		e := c.Entry.Clone()
		if e.SiteID == "" {
			e.SiteID = t.SiteID
		}
		if models.StateOf(e) != models.StateActive {
			return dErrors.New(dErrors.CodeInvariantViolation, "created entry is not active")
		}
		m.entry = e
	case models.ActionLunchStart:
		m.entry.LunchStartAt = &at
	case models.ActionLunchEnd:
		m.entry.LunchEndAt = &at
	case models.ActionClockOut:
		m.entry.ClockOutAt = &at
	default:
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown action %q", t.Action))
	}
	return nil
}

// Reset starts a fresh NotStarted session after a closed shift.
func (m *Machine) Reset() error {
	if state := m.State(); state != models.StateClosed {
		return dErrors.New(dErrors.CodeInvalidTransition, fmt.Sprintf("cannot reset while %s", state))
	}
	m.entry = nil
	return nil
}

// ValidateEntry checks the timestamp invariants of a stored entry.
func ValidateEntry(e *models.ShiftEntry) error {
	if e == nil {
		return nil
	}
	if e.ClockInAt.IsZero() {
		if e.LunchStartAt != nil || e.LunchEndAt != nil || e.ClockOutAt != nil {
			return dErrors.New(dErrors.CodeInvariantViolation, "entry has timestamps without clock-in")
		}
		return nil
	}
	if e.LunchEndAt != nil && e.LunchStartAt == nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "lunch end recorded without lunch start")
	}
	if e.ClockOutAt != nil && e.OnLunch() {
		return dErrors.New(dErrors.CodeInvariantViolation, "clock-out recorded while on lunch")
	}
	if e.LunchStartAt != nil && e.LunchStartAt.Before(e.ClockInAt) {
		return dErrors.New(dErrors.CodeInvariantViolation, "lunch start precedes clock-in")
	}
	if e.LunchStartAt != nil && e.LunchEndAt != nil && e.LunchEndAt.Before(*e.LunchStartAt) {
		return dErrors.New(dErrors.CodeInvariantViolation, "lunch end precedes lunch start")
	}
	if e.ClockOutAt != nil && e.ClockOutAt.Before(e.ClockInAt) {
		return dErrors.New(dErrors.CodeInvariantViolation, "clock-out precedes clock-in")
	}
	return nil
}

func invalid(action models.Action, state models.State) error {
	return dErrors.New(dErrors.CodeInvalidTransition, fmt.Sprintf("%s is not allowed while %s", action, state))
}
