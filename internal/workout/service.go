package workout

import (
	"context"
	"log/slog"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/protocol"
)

const fetchLimit = 1000

// Window is a half-open time interval: Start inclusive, End exclusive.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains applies the half-open rule to a record timestamp.
func (w Window) Contains(ts nostr.Timestamp) bool {
	t := ts.Time()
	return !t.Before(w.Start) && t.Before(w.End)
}

// Querier is the slice of the relay pool the service needs.
type Querier interface {
	FetchAll(ctx context.Context, filter nostr.Filter, deadline time.Duration) []*nostr.Event
}

// Service fetches and parses workout records.
type Service struct {
	pool     Querier
	deadline time.Duration // zero defers to the pool's subscription deadline
}

// NewService wires the workout query service.
func NewService(pool Querier) *Service {
	return &Service{pool: pool}
}

// FetchResult carries the parsed records plus the count of records that
// failed a required parse.
type FetchResult struct {
	Workouts []Workout
	Dropped  int
}

// Fetch queries workout records for a cohort inside a window, optionally
// restricted to one activity type. Authors may be hex or npub.
func (s *Service) Fetch(ctx context.Context, authors []string, window Window, activityFilter string) (FetchResult, error) {
	hexAuthors := make([]string, 0, len(authors))
	for _, a := range authors {
		hex, err := protocol.NormalizePubKey(a)
		if err != nil {
			return FetchResult{}, err
		}
		hexAuthors = append(hexAuthors, hex)
	}

	since := nostr.Timestamp(window.Start.Unix())
	until := nostr.Timestamp(window.End.Unix())
	filter := nostr.Filter{
		Kinds:   []int{protocol.KindWorkoutRecord},
		Authors: hexAuthors,
		Since:   &since,
		Until:   &until,
		Limit:   fetchLimit,
	}

	var result FetchResult
	for _, ev := range s.pool.FetchAll(ctx, filter, s.deadline) {
		// Relay until-handling is inclusive; re-apply the half-open
		// window so created_at == window.End is excluded.
		if !window.Contains(ev.CreatedAt) {
			continue
		}
		w, err := Parse(ev)
		if err != nil {
			result.Dropped++
			slog.Debug("dropping workout record", "event_id", ev.ID, "error", err)
			continue
		}
		if !MatchesActivity(w.Activity, activityFilter) {
			continue
		}
		result.Workouts = append(result.Workouts, *w)
	}
	if result.Dropped > 0 {
		slog.Info("workout fetch dropped malformed records",
			"kept", len(result.Workouts), "dropped", result.Dropped)
	}
	return result, nil
}
