package limiter

import (
	"context"
	"time"
)

// Params are the sliding-window parameters for one check. Burst is carried
// for wire compatibility with existing deployments but does not currently
// alter the admission decision.
type Params struct {
	Requests int
	Window   time.Duration
	Burst    int
}

// Decision is the transient result of one admission check. It is produced
// fresh per call and never persisted.
//
// Err is set when the decision came from the fail-open path: the store was
// unreachable or timed out, the request was allowed anyway, and Err records
// why for observability. Callers must treat such a decision as valid.
type Decision struct {
	Allowed      bool
	CurrentCount int64
	Limit        int
	ResetTime    float64 // unix seconds when the window frees up
	Remaining    int
	Err          error
}

// RetryAfter is the number of seconds until the caller may retry, floored
// at zero.
func (d Decision) RetryAfter(now time.Time) float64 {
	delta := d.ResetTime - float64(now.UnixNano())/1e9
	if delta < 0 {
		return 0
	}
	return delta
}

// Stats is a non-mutating view of one identifier's window. Oldest and
// Newest are nil when the window is empty.
type Stats struct {
	CurrentCount int64    `json:"current_count"`
	Oldest       *float64 `json:"oldest_request"`
	Newest       *float64 `json:"newest_request"`
	WindowStart  *float64 `json:"window_start"`
	WindowEnd    *float64 `json:"window_end"`
}

// Limiter is the admission contract shared by the Redis and in-memory
// backends. Allow never returns an error: dependency failures fail open
// (Decision.Err annotated) so the limiter can never become the outage.
type Limiter interface {
	Allow(ctx context.Context, identifier string) Decision
	AllowWith(ctx context.Context, identifier string, p Params) Decision
	Reset(ctx context.Context, identifier string) error
	Stats(ctx context.Context, identifier string) (Stats, error)
}
