package models

import (
	dErrors "timeclock/pkg/domain-errors"
)

// Action is a user-initiated shift transition.
type Action string

const (
	ActionClockIn    Action = "clock_in"
	ActionLunchStart Action = "lunch_start"
	ActionLunchEnd   Action = "lunch_end"
	ActionClockOut   Action = "clock_out"
)

// Actions lists every action in lifecycle order.
var Actions = []Action{ActionClockIn, ActionLunchStart, ActionLunchEnd, ActionClockOut}

// IsValid checks if the action is one of the supported values.
func (a Action) IsValid() bool {
	switch a {
	case ActionClockIn, ActionLunchStart, ActionLunchEnd, ActionClockOut:
		return true
	}
	return false
}

func (a Action) String() string {
	return string(a)
}

// ParseAction validates a wire action name.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "invalid action: must be one of clock_in, lunch_start, lunch_end, clock_out")
	}
	return a, nil
}

// State is the lifecycle state of a shift.
type State string

const (
	StateNotStarted State = "not_started"
	StateActive     State = "active"
	StateOnLunch    State = "on_lunch"
	StateClosed     State = "closed"
)

func (s State) String() string {
	return string(s)
}

// StateOf derives the lifecycle state from the entry timestamps. The entry
// is the single source of truth; state is never stored separately.
func StateOf(e *ShiftEntry) State {
	switch {
	case e == nil || e.ClockInAt.IsZero():
		return StateNotStarted
	case e.ClockOutAt != nil:
		return StateClosed
	case e.OnLunch():
		return StateOnLunch
	default:
		return StateActive
	}
}

// ShiftOpen reports whether heartbeats should run in this state.
func (s State) ShiftOpen() bool {
	return s == StateActive || s == StateOnLunch
}
