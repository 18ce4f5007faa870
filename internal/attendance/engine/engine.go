// Package engine is the attendance engine: one instance per apprentice
// session, composing the location gate, the shift machine and the heartbeat
// supervisor behind a single action API.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"timeclock/internal/attendance/geofence"
	"timeclock/internal/attendance/heartbeat"
	"timeclock/internal/attendance/location"
	"timeclock/internal/attendance/metrics"
	"timeclock/internal/attendance/models"
	"timeclock/internal/attendance/shift"
	dErrors "timeclock/pkg/domain-errors"
)

// ActionRequest asks the engine to perform one shift action. ApprenticeID and
// EntryID are optional cross-checks against the session; SiteID is only read
// by clock_in.
type ActionRequest struct {
	Action       models.Action
	ApprenticeID string
	SiteID       string
	EntryID      string
}

// Result describes a completed action.
type Result struct {
	Action  models.Action
	State   models.State
	Entry   *models.ShiftEntry
	Reading models.LocationReading
	// Verdict is informational; it is nil when no site was known.
	Verdict *models.GeofenceVerdict
}

// Engine owns one apprentice session.
type Engine struct {
	apprenticeID string
	contexts     ContextProvider
	gateway      PersistenceGateway
	provider     location.Provider
	visibility   heartbeat.Visibility

	policy    models.Policy
	logger    *slog.Logger
	metrics   *metrics.Metrics
	observer  func(models.HeartbeatSample)
	newTicker func(time.Duration) heartbeat.Ticker
	clock     func() time.Time
	gate      *location.Gate

	// actionMu serializes actions; mu guards the fields below it so hosts can
	// read state while an action is waiting on a fix or on storage.
	actionMu   sync.Mutex
	mu         sync.Mutex
	started    bool
	appCtx     *models.ApprenticeContext
	machine    *shift.Machine
	supervisor *heartbeat.Supervisor
	runCtx     context.Context
	runCancel  context.CancelFunc

	sampleMu   sync.Mutex
	lastSample *models.HeartbeatSample
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithPolicy overrides the default attendance policy. Zero fields keep their
// defaults.
func WithPolicy(p models.Policy) Option {
	return func(e *Engine) {
		e.policy = p.WithDefaults()
	}
}

// WithSampleObserver is called with every confirmed heartbeat sample.
func WithSampleObserver(fn func(models.HeartbeatSample)) Option {
	return func(e *Engine) {
		e.observer = fn
	}
}

// WithHeartbeatTicker replaces the heartbeat interval timer.
func WithHeartbeatTicker(newTicker func(time.Duration) heartbeat.Ticker) Option {
	return func(e *Engine) {
		e.newTicker = newTicker
	}
}

// WithClock sets the time used to stamp readings the provider left unstamped.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.clock = now
	}
}

// New builds a stopped engine for apprenticeID. visibility may be nil.
func New(apprenticeID string, contexts ContextProvider, gateway PersistenceGateway, provider location.Provider, visibility heartbeat.Visibility, opts ...Option) (*Engine, error) {
	if apprenticeID == "" {
		return nil, errors.New("apprentice id is required")
	}
	if contexts == nil {
		return nil, errors.New("context provider is required")
	}
	if gateway == nil {
		return nil, errors.New("persistence gateway is required")
	}
	if provider == nil {
		return nil, errors.New("location provider is required")
	}
	e := &Engine{
		apprenticeID: apprenticeID,
		contexts:     contexts,
		gateway:      gateway,
		provider:     provider,
		visibility:   visibility,
		policy:       models.DefaultPolicy(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.policy.Validate(); err != nil {
		return nil, err
	}

	var gateOpts []location.GateOption
	if e.clock != nil {
		gateOpts = append(gateOpts, location.WithClock(e.clock))
	}
	gate, err := location.NewGate(provider, e.policy, gateOpts...)
	if err != nil {
		return nil, err
	}
	e.gate = gate
	return e, nil
}

// Start loads the apprentice context and, when a shift is still open,
// resumes it and restarts the heartbeat supervisor.
func (e *Engine) Start(ctx context.Context) error {
	e.actionMu.Lock()
	defer e.actionMu.Unlock()

	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	appCtx, err := e.contexts.LoadContext(ctx, e.apprenticeID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load apprentice context")
	}
	if appCtx == nil {
		appCtx = &models.ApprenticeContext{ApprenticeID: e.apprenticeID}
	}

	active := appCtx.ActiveShift
	if active != nil && !active.IsOpen() {
		e.logger.WarnContext(ctx, "ignoring closed shift returned as active", "apprentice_id", e.apprenticeID, "entry_id", active.EntryID)
		active = nil
	}
	if active != nil && active.ApprenticeID != "" && active.ApprenticeID != e.apprenticeID {
		return dErrors.New(dErrors.CodeInvariantViolation, "active shift belongs to another apprentice")
	}
	machine, err := shift.NewMachine(active, e.policy)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.appCtx = appCtx
	e.machine = machine
	e.runCtx, e.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	e.started = true

	if active != nil {
		site, _ := e.siteFor(active.SiteID)
		e.logger.InfoContext(ctx, "resuming open shift",
			"apprentice_id", e.apprenticeID,
			"entry_id", active.EntryID,
			"state", machine.State(),
		)
		if err := e.startSupervisorLocked(active.EntryID, site); err != nil {
			return err
		}
	}
	return nil
}

// Stop tears the session down. No heartbeat is reported after Stop returns.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopSupervisorLocked()
	if e.runCancel != nil {
		e.runCancel()
		e.runCancel = nil
	}
	e.started = false
}

// RequestAction performs one shift action. Location rejections, state
// violations and storage failures are returned as domain errors and leave the
// shift unchanged.
func (e *Engine) RequestAction(ctx context.Context, req ActionRequest) (*Result, error) {
	start := time.Now()
	res, err := e.requestAction(ctx, req)

	outcome := "ok"
	if err != nil {
		outcome = string(dErrors.CodeOf(err))
		if outcome == "" {
			outcome = string(dErrors.CodeInternal)
		}
		e.logger.InfoContext(ctx, "shift action rejected",
			"apprentice_id", e.apprenticeID,
			"action", req.Action,
			"error", err,
		)
	}
	e.metrics.ObserveAction(string(req.Action), outcome, start)
	return res, err
}

func (e *Engine) requestAction(ctx context.Context, req ActionRequest) (*Result, error) {
	if !req.Action.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown action %q", req.Action))
	}
	if req.ApprenticeID != "" && req.ApprenticeID != e.apprenticeID {
		return nil, dErrors.New(dErrors.CodeForbidden, "action requested for another apprentice")
	}

	e.actionMu.Lock()
	defer e.actionMu.Unlock()

	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "engine not started")
	}
	machine := e.machine
	current := machine.Entry()
	e.mu.Unlock()

	if req.EntryID != "" && (current == nil || current.EntryID != req.EntryID) {
		return nil, dErrors.New(dErrors.CodeInvalidTransition, "action targets an entry that is not the current shift")
	}
	// state and site checks need no location fix
	if err := machine.Can(req.Action); err != nil {
		return nil, err
	}

	var site *models.Site
	if req.Action == models.ActionClockIn {
		var err error
		if site, err = e.selectSite(req.SiteID); err != nil {
			return nil, err
		}
	} else if s, ok := e.lookupSite(current.SiteID); ok {
		site = &s
	}

	reading, err := e.gate.Acquire(ctx)
	if err != nil {
		var rej *location.Rejection
		if errors.As(err, &rej) {
			e.metrics.IncrementGateRejection(string(rej.Reason))
			return nil, rej.DomainError()
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeLocationUnavailable, "location unavailable")
	}

	var verdict *models.GeofenceVerdict
	if site != nil {
		v := geofence.Evaluate(reading, *site, reading.CapturedAt)
		verdict = &v
	}

	t, err := machine.Transition(req.Action, shift.Input{Site: site, Reading: reading, Verdict: verdict})
	if err != nil {
		return nil, err
	}

	conf, err := e.persist(ctx, t, current)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := machine.Apply(t, conf); err != nil {
		return nil, err
	}
	entry := machine.Entry()

	switch req.Action {
	case models.ActionClockIn:
		if verdict != nil && !verdict.WithinGeofence {
			e.logger.WarnContext(ctx, "clock-in outside geofence",
				"apprentice_id", e.apprenticeID,
				"entry_id", entry.EntryID,
				"site_id", entry.SiteID,
				"distance_m", verdict.DistanceMeters,
			)
		}
		if err := e.startSupervisorLocked(entry.EntryID, *site); err != nil {
			// the shift is recorded; heartbeats are best-effort
			e.logger.ErrorContext(ctx, "failed to start heartbeat supervisor", "entry_id", entry.EntryID, "error", err)
		}
	case models.ActionClockOut:
		e.stopSupervisorLocked()
	}

	e.logger.InfoContext(ctx, "shift action recorded",
		"apprentice_id", e.apprenticeID,
		"entry_id", entry.EntryID,
		"action", req.Action,
		"state", machine.State(),
	)
	return &Result{
		Action:  req.Action,
		State:   machine.State(),
		Entry:   entry,
		Reading: reading,
		Verdict: verdict,
	}, nil
}

func (e *Engine) persist(ctx context.Context, t shift.Transition, current *models.ShiftEntry) (shift.Confirmation, error) {
	var (
		conf shift.Confirmation
		err  error
	)
	switch t.Action {
	case models.ActionClockIn:
		var created *models.ShiftEntry
		created, err = e.gateway.CreateEntry(ctx, e.apprenticeID, t.SiteID, t.Reading)
		if err == nil && (created == nil || created.EntryID == "") {
			err = errors.New("gateway returned no entry")
		}
		if err == nil {
			conf = shift.Confirmation{Entry: created, At: created.ClockInAt}
		}
	case models.ActionLunchStart:
		conf.At, err = e.gateway.RecordLunchStart(ctx, current.EntryID, t.Reading)
	case models.ActionLunchEnd:
		conf.At, err = e.gateway.RecordLunchEnd(ctx, current.EntryID, t.Reading)
	case models.ActionClockOut:
		conf.At, err = e.gateway.CloseEntry(ctx, current.EntryID, t.Reading)
	}
	if err != nil {
		return shift.Confirmation{}, persistenceError(t.Action, err)
	}
	return conf, nil
}

// persistenceError folds transport and server faults into a retryable
// persistence failure. Domain answers from the gateway pass through.
func persistenceError(action models.Action, err error) error {
	switch dErrors.CodeOf(err) {
	case "", dErrors.CodeUnavailable, dErrors.CodeInternal, dErrors.CodeTimeout:
		return dErrors.Wrap(err, dErrors.CodePersistenceFailure, fmt.Sprintf("failed to record %s", action))
	}
	return err
}

// selectSite resolves the clock-in site. A single assigned site is selected
// implicitly.
func (e *Engine) selectSite(siteID string) (*models.Site, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sites := e.appCtx.AllowedSites
	if siteID == "" {
		if len(sites) == 1 {
			s := sites[0]
			return &s, nil
		}
		return nil, dErrors.New(dErrors.CodeNoSiteSelected, "select a work site before clocking in")
	}
	s, ok := e.appCtx.Site(siteID)
	if !ok {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("site %q is not assigned to this apprentice", siteID))
	}
	return &s, nil
}

func (e *Engine) lookupSite(siteID string) (models.Site, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.siteFor(siteID)
}

func (e *Engine) siteFor(siteID string) (models.Site, bool) {
	if e.appCtx != nil {
		if s, ok := e.appCtx.Site(siteID); ok {
			return s, true
		}
	}
	return models.Site{ID: siteID}, false
}

func (e *Engine) startSupervisorLocked(entryID string, site models.Site) error {
	e.stopSupervisorLocked()
	opts := []heartbeat.Option{
		heartbeat.WithLogger(e.logger),
		heartbeat.WithMetrics(e.metrics),
		heartbeat.WithObserver(e.recordSample),
	}
	if e.newTicker != nil {
		opts = append(opts, heartbeat.WithTicker(e.newTicker))
	}
	sup, err := heartbeat.New(entryID, site, e.gate, e.gateway, e.visibility, e.policy.HeartbeatInterval, opts...)
	if err != nil {
		return err
	}
	sup.Start(e.runCtx)
	e.supervisor = sup
	return nil
}

func (e *Engine) stopSupervisorLocked() {
	if e.supervisor == nil {
		return
	}
	e.supervisor.Stop()
	e.supervisor = nil
}

func (e *Engine) recordSample(s models.HeartbeatSample) {
	e.sampleMu.Lock()
	e.lastSample = &s
	observer := e.observer
	e.sampleMu.Unlock()
	if observer != nil {
		observer(s)
	}
}

// Reset begins a fresh session after a closed shift.
func (e *Engine) Reset() error {
	e.actionMu.Lock()
	defer e.actionMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return dErrors.New(dErrors.CodeInvariantViolation, "engine not started")
	}
	if err := e.machine.Reset(); err != nil {
		return err
	}
	e.sampleMu.Lock()
	e.lastSample = nil
	e.sampleMu.Unlock()
	return nil
}

// ApprenticeID is the apprentice this session belongs to.
func (e *Engine) ApprenticeID() string {
	return e.apprenticeID
}

// Policy is the effective attendance policy.
func (e *Engine) Policy() models.Policy {
	return e.policy
}

// State is NotStarted until Start has loaded the context.
func (e *Engine) State() models.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.machine == nil {
		return models.StateNotStarted
	}
	return e.machine.State()
}

// Entry returns a copy of the current shift entry, or nil.
func (e *Engine) Entry() *models.ShiftEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.machine == nil {
		return nil
	}
	return e.machine.Entry()
}

// AllowedActions is the legal action set hosts should offer.
func (e *Engine) AllowedActions() []models.Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}
	return e.machine.Allowed()
}

// Sites lists the apprentice's assigned sites.
func (e *Engine) Sites() []models.Site {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.appCtx == nil {
		return nil
	}
	return append([]models.Site(nil), e.appCtx.AllowedSites...)
}

// HeartbeatRunning reports whether presence sampling is active.
func (e *Engine) HeartbeatRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.supervisor != nil && e.supervisor.Running()
}

// LastSample is the most recent confirmed heartbeat sample, or nil.
func (e *Engine) LastSample() *models.HeartbeatSample {
	e.sampleMu.Lock()
	defer e.sampleMu.Unlock()
	if e.lastSample == nil {
		return nil
	}
	s := *e.lastSample
	return &s
}
