package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"timeclock/internal/attendance/location"
	att "timeclock/internal/attendance/models"
	ratelimit "timeclock/internal/ratelimit/middleware"
	rlmodels "timeclock/internal/ratelimit/models"
	"timeclock/internal/timeclock/models"
	dErrors "timeclock/pkg/domain-errors"
	"timeclock/pkg/platform/httputil"
	"timeclock/pkg/platform/middleware/auth"
	"timeclock/pkg/platform/middleware/requesttime"
	"timeclock/pkg/requestcontext"
)

// Service defines the timeclock operations exposed over HTTP.
type Service interface {
	LoadContext(ctx context.Context, apprenticeID string) (*att.ApprenticeContext, error)
	CreateEntry(ctx context.Context, apprenticeID, siteID string, reading att.LocationReading) (*models.Entry, error)
	RecordLunchStart(ctx context.Context, apprenticeID, entryID string, reading att.LocationReading) (time.Time, error)
	RecordLunchEnd(ctx context.Context, apprenticeID, entryID string, reading att.LocationReading) (time.Time, error)
	CloseEntry(ctx context.Context, apprenticeID, entryID string, reading att.LocationReading) (time.Time, error)
	ReportHeartbeat(ctx context.Context, apprenticeID, entryID string, reading att.LocationReading, advisory att.GeofenceVerdict) (att.GeofenceVerdict, error)
	Presence(ctx context.Context, apprenticeID, entryID string) (*models.Presence, error)
	Heartbeats(ctx context.Context, apprenticeID, entryID string, limit int) ([]*models.Heartbeat, error)
	Timesheet(ctx context.Context, apprenticeID string, weekEnding time.Time) ([]*models.Entry, error)
}

// Handler wires the timeclock endpoints to the service.
type Handler struct {
	service   Service
	validator auth.TokenValidator
	stream    http.Handler
	limiter   *ratelimit.Middleware
	logger    *slog.Logger
}

type Option func(*Handler)

// WithStream mounts the live presence websocket at
// /timeclock/entries/{entryID}/stream.
func WithStream(stream http.Handler) Option {
	return func(h *Handler) {
		h.stream = stream
	}
}

// WithRateLimit throttles each route by its endpoint class.
func WithRateLimit(limiter *ratelimit.Middleware) Option {
	return func(h *Handler) {
		h.limiter = limiter
	}
}

// New constructs a timeclock handler. Every route requires a bearer token
// accepted by validator.
func New(service Service, validator auth.TokenValidator, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{service: service, validator: validator, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the timeclock routes on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/timeclock", func(r chi.Router) {
		r.Use(requesttime.Middleware)
		r.Use(auth.RequireAuth(h.validator, h.logger))

		reads := h.limiter.RateLimit(rlmodels.ClassRead)
		actions := h.limiter.RateLimit(rlmodels.ClassAction)

		r.With(reads).Get("/context", h.HandleContext)
		r.With(reads).Get("/entries", h.HandleTimesheet)
		r.With(actions).Post("/entries", h.HandleCreateEntry)
		r.Route("/entries/{entryID}", func(r chi.Router) {
			r.With(actions).Post("/lunch-start", h.handleAction(att.ActionLunchStart, h.service.RecordLunchStart))
			r.With(actions).Post("/lunch-end", h.handleAction(att.ActionLunchEnd, h.service.RecordLunchEnd))
			r.With(actions).Post("/clock-out", h.handleAction(att.ActionClockOut, h.service.CloseEntry))
			r.With(h.limiter.RateLimit(rlmodels.ClassHeartbeat)).Post("/heartbeats", h.HandleHeartbeat)
			r.With(reads).Get("/heartbeats", h.HandleListHeartbeats)
			r.With(reads).Get("/presence", h.HandlePresence)
			if h.stream != nil {
				r.With(reads).Get("/stream", h.stream.ServeHTTP)
			}
		})
	})
}

// HandleContext handles GET /timeclock/context.
func (h *Handler) HandleContext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	apprenticeID, ok := h.apprentice(w, r)
	if !ok {
		return
	}

	out, err := h.service.LoadContext(ctx, apprenticeID)
	if err != nil {
		h.fail(w, r, "load context failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// HandleCreateEntry handles POST /timeclock/entries.
func (h *Handler) HandleCreateEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	apprenticeID, ok := h.apprentice(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[CreateEntryRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	entry, err := h.service.CreateEntry(ctx, apprenticeID, req.SiteID, req.Reading.reading())
	if err != nil {
		h.fail(w, r, "clock-in failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromEntry(entry))
}

type actionFunc func(ctx context.Context, apprenticeID, entryID string, reading att.LocationReading) (time.Time, error)

func (h *Handler) handleAction(action att.Action, do actionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := requestcontext.RequestID(ctx)
		apprenticeID, ok := h.apprentice(w, r)
		if !ok {
			return
		}
		entryID := chi.URLParam(r, "entryID")

		req, ok := httputil.DecodeAndPrepare[ActionRequest](w, r, h.logger, ctx, requestID)
		if !ok {
			return
		}

		at, err := do(ctx, apprenticeID, entryID, req.Reading.reading())
		if err != nil {
			h.fail(w, r, string(action)+" failed", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, ActionResponse{EntryID: entryID, Action: action, At: at})
	}
}

// HandleHeartbeat handles POST /timeclock/entries/{entryID}/heartbeats.
func (h *Handler) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	apprenticeID, ok := h.apprentice(w, r)
	if !ok {
		return
	}
	entryID := chi.URLParam(r, "entryID")

	req, ok := httputil.DecodeAndPrepare[HeartbeatRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	verdict, err := h.service.ReportHeartbeat(ctx, apprenticeID, entryID, req.Reading.reading(), req.Verdict)
	if err != nil {
		h.fail(w, r, "heartbeat rejected", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, HeartbeatResponse{EntryID: entryID, Verdict: verdict})
}

// HandleListHeartbeats handles GET /timeclock/entries/{entryID}/heartbeats.
func (h *Handler) HandleListHeartbeats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	apprenticeID, ok := h.apprentice(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	list, err := h.service.Heartbeats(ctx, apprenticeID, chi.URLParam(r, "entryID"), limit)
	if err != nil {
		h.fail(w, r, "list heartbeats failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, HeartbeatListResponse{Heartbeats: list})
}

// HandlePresence handles GET /timeclock/entries/{entryID}/presence.
func (h *Handler) HandlePresence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	apprenticeID, ok := h.apprentice(w, r)
	if !ok {
		return
	}

	p, err := h.service.Presence(ctx, apprenticeID, chi.URLParam(r, "entryID"))
	if err != nil {
		h.fail(w, r, "presence lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

// HandleTimesheet handles GET /timeclock/entries?week_ending=YYYY-MM-DD.
// Without week_ending it lists the current week.
func (h *Handler) HandleTimesheet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	apprenticeID, ok := h.apprentice(w, r)
	if !ok {
		return
	}

	weekEnding := models.WeekEnding(requestcontext.Now(ctx))
	if raw := r.URL.Query().Get("week_ending"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "week_ending must be a date (YYYY-MM-DD)"))
			return
		}
		weekEnding = parsed
	}

	entries, err := h.service.Timesheet(ctx, apprenticeID, weekEnding)
	if err != nil {
		h.fail(w, r, "timesheet failed", err)
		return
	}
	resp := TimesheetResponse{
		WeekEnding: weekEnding.Format(dateLayout),
		Entries:    make([]EntryResponse, 0, len(entries)),
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, FromEntry(e))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) apprentice(w http.ResponseWriter, r *http.Request) (string, bool) {
	apprenticeID := requestcontext.ApprenticeID(r.Context())
	if apprenticeID == "" {
		h.logger.ErrorContext(r.Context(), "apprentice missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(r.Context()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return "", false
	}
	return apprenticeID, true
}

// fail logs err and writes its envelope. Accuracy rejections carry the
// measured and permitted radius so the device can tell the user.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	code := dErrors.CodeOf(err)
	level := slog.LevelWarn
	if code == "" || code == dErrors.CodeInternal || code == dErrors.CodeUnavailable {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"apprentice_id", requestcontext.ApprenticeID(ctx),
		"entry_id", chi.URLParam(r, "entryID"),
		"error", err,
	)

	var rej *location.Rejection
	if code == dErrors.CodeLowAccuracy && errors.As(err, &rej) {
		httputil.WriteJSON(w, http.StatusBadRequest, LowAccuracyResponse{
			Error:            string(code),
			ErrorDescription: rej.Error(),
			AccuracyMeters:   rej.AccuracyMeters,
			MaxAccuracy:      rej.MaxAccuracyMeters,
		})
		return
	}
	httputil.WriteError(w, err)
}
