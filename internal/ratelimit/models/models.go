package models

import "time"

// EndpointClass groups routes that share one request budget.
type EndpointClass string

const (
	// ClassAction covers clock-in, lunch and clock-out writes.
	ClassAction EndpointClass = "action"
	// ClassHeartbeat covers heartbeat reports.
	ClassHeartbeat EndpointClass = "heartbeat"
	// ClassRead covers context, timesheet and presence reads.
	ClassRead EndpointClass = "read"
)

// Limit is a sliding-window budget: at most Requests per Window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// RateLimitResult is the outcome of one check against a bucket.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

// Key builds the bucket key for one subject within a class.
func Key(class EndpointClass, subject string) string {
	return "ratelimit:" + string(class) + ":" + subject
}
