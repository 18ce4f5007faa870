// Package client is the device side of the attendance gateway: it implements
// the engine's ContextProvider and PersistenceGateway over the timeclock HTTP
// API and turns error envelopes back into domain codes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"timeclock/internal/attendance/location"
	att "timeclock/internal/attendance/models"
	"timeclock/internal/platform/config"
	"timeclock/internal/timeclock/handler"
	dErrors "timeclock/pkg/domain-errors"
	"timeclock/pkg/platform/circuit"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 16 << 10
)

// Client talks to one timeclock server on behalf of one apprentice.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  oauth2.TokenSource
	breaker *circuit.Breaker
	logger  *slog.Logger
}

type Option func(*Client)

// WithHTTPClient sets the base client; the token transport wraps its
// transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) {
		if b != nil {
			c.breaker = b
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New constructs a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		breaker: circuit.New("timeclock-server", circuit.WithFailureThreshold(3), circuit.WithCooldown(30*time.Second)),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tokens != nil {
		base := c.http.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		c.http = &http.Client{
			Transport: &oauth2.Transport{Source: oauth2.ReuseTokenSource(nil, c.tokens), Base: base},
			Timeout:   c.http.Timeout,
		}
	}
	return c, nil
}

// TokenSource builds the bearer token source for cfg: a static token when
// one is configured, otherwise the client credentials grant.
func TokenSource(ctx context.Context, cfg config.Client) (oauth2.TokenSource, error) {
	if cfg.Token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"}), nil
	}
	if cfg.TokenURL == "" || cfg.ClientID == "" {
		return nil, errors.New("either TIMECLOCK_TOKEN or TIMECLOCK_TOKEN_URL with TIMECLOCK_CLIENT_ID is required")
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	return cc.TokenSource(ctx), nil
}

// LoadContext implements engine.ContextProvider. The apprentice is the
// token's subject; apprenticeID is only checked against the answer.
func (c *Client) LoadContext(ctx context.Context, apprenticeID string) (*att.ApprenticeContext, error) {
	var out att.ApprenticeContext
	if err := c.do(ctx, http.MethodGet, "/timeclock/context", nil, &out); err != nil {
		return nil, err
	}
	if apprenticeID != "" && out.ApprenticeID != apprenticeID {
		return nil, dErrors.New(dErrors.CodeUnauthorized,
			fmt.Sprintf("token belongs to %s, not %s", out.ApprenticeID, apprenticeID))
	}
	return &out, nil
}

func (c *Client) CreateEntry(ctx context.Context, apprenticeID, siteID string, reading att.LocationReading) (*att.ShiftEntry, error) {
	body := handler.CreateEntryRequest{SiteID: siteID, Reading: payload(reading)}
	var out handler.EntryResponse
	if err := c.do(ctx, http.MethodPost, "/timeclock/entries", body, &out); err != nil {
		return nil, err
	}
	return &att.ShiftEntry{
		EntryID:      out.EntryID,
		ApprenticeID: out.ApprenticeID,
		SiteID:       out.SiteID,
		ClockInAt:    out.ClockInAt,
		LunchStartAt: out.LunchStartAt,
		LunchEndAt:   out.LunchEndAt,
		ClockOutAt:   out.ClockOutAt,
	}, nil
}

func (c *Client) RecordLunchStart(ctx context.Context, entryID string, reading att.LocationReading) (time.Time, error) {
	return c.action(ctx, entryID, "lunch-start", reading)
}

func (c *Client) RecordLunchEnd(ctx context.Context, entryID string, reading att.LocationReading) (time.Time, error) {
	return c.action(ctx, entryID, "lunch-end", reading)
}

func (c *Client) CloseEntry(ctx context.Context, entryID string, reading att.LocationReading) (time.Time, error) {
	return c.action(ctx, entryID, "clock-out", reading)
}

func (c *Client) ReportHeartbeat(ctx context.Context, entryID string, reading att.LocationReading, verdict att.GeofenceVerdict) (att.GeofenceVerdict, error) {
	body := handler.HeartbeatRequest{Reading: payload(reading), Verdict: verdict}
	var out handler.HeartbeatResponse
	if err := c.do(ctx, http.MethodPost, entryPath(entryID, "heartbeats"), body, &out); err != nil {
		return att.GeofenceVerdict{}, err
	}
	return out.Verdict, nil
}

func (c *Client) action(ctx context.Context, entryID, path string, reading att.LocationReading) (time.Time, error) {
	var out handler.ActionResponse
	if err := c.do(ctx, http.MethodPost, entryPath(entryID, path), handler.ActionRequest{Reading: payload(reading)}, &out); err != nil {
		return time.Time{}, err
	}
	return out.At, nil
}

func entryPath(entryID, action string) string {
	return "/timeclock/entries/" + entryID + "/" + action
}

func payload(r att.LocationReading) *handler.ReadingPayload {
	lat, lng, acc := r.Latitude, r.Longitude, r.AccuracyMeters
	return &handler.ReadingPayload{Latitude: &lat, Longitude: &lng, AccuracyMeters: &acc, CapturedAt: r.CapturedAt}
}

// do sends one request through the breaker. Server faults and transport
// errors count against the breaker; domain rejections do not.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if !c.breaker.Allow() {
		return dErrors.New(dErrors.CodeUnavailable, "timeclock server circuit open")
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			c.recordFailure(ctx, err)
		}
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "timeclock server unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		rejected := decodeError(resp)
		c.recordFailure(ctx, rejected)
		return rejected
	}
	c.recordSuccess(ctx)

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "malformed server response")
	}
	return nil
}

func (c *Client) recordFailure(ctx context.Context, err error) {
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.WarnContext(ctx, "timeclock server circuit opened", "base_url", c.baseURL, "error", err)
	}
}

func (c *Client) recordSuccess(ctx context.Context) {
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "timeclock server circuit closed", "base_url", c.baseURL)
	}
}

type errorEnvelope struct {
	Error            string   `json:"error"`
	ErrorDescription string   `json:"error_description"`
	AccuracyMeters   *float64 `json:"accuracy_m"`
	MaxAccuracy      *float64 `json:"max_accuracy_m"`
}

// decodeError rebuilds the domain error from an error envelope. Accuracy
// rejections come back as *location.Rejection so callers see the same error
// in-process and over HTTP.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Error == "" {
		code := dErrors.CodeInternal
		if resp.StatusCode >= http.StatusInternalServerError {
			code = dErrors.CodeUnavailable
		}
		return dErrors.New(code, fmt.Sprintf("unexpected response %d", resp.StatusCode))
	}

	code := dErrors.Code(env.Error)
	if code == dErrors.CodeLowAccuracy && env.AccuracyMeters != nil && env.MaxAccuracy != nil {
		return (&location.Rejection{
			Reason:            location.ReasonLowAccuracy,
			AccuracyMeters:    *env.AccuracyMeters,
			MaxAccuracyMeters: *env.MaxAccuracy,
		}).DomainError()
	}
	desc := env.ErrorDescription
	if desc == "" {
		desc = http.StatusText(resp.StatusCode)
	}
	return dErrors.New(code, desc)
}
