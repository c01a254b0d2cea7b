// Package competition implements league (kind 30100) and one-day event
// (kind 30101) definitions: building, validation, querying, and the
// authoritative time-window logic. The status tag is advisory; the time
// window always decides whether a competition is live.
package competition

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/protocol"
)

// ErrInvalidRange covers bad temporal or numeric configuration caught
// before any network I/O.
var ErrInvalidRange = errors.New("invalid competition range")

const dateLayout = "2006-01-02"

// Status is the advisory lifecycle tag.
type Status string

const (
	StatusUpcoming  Status = "upcoming"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) valid() bool {
	switch s {
	case StatusUpcoming, StatusActive, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// ScoringFrequency controls how often a league leaderboard resets.
type ScoringFrequency string

const (
	ScoreDaily  ScoringFrequency = "daily"
	ScoreWeekly ScoringFrequency = "weekly"
	ScoreTotal  ScoringFrequency = "total"
)

func (f ScoringFrequency) valid() bool {
	switch f {
	case ScoreDaily, ScoreWeekly, ScoreTotal:
		return true
	}
	return false
}

// GoalType selects the leaderboard scoring rule.
type GoalType string

const (
	GoalDistance    GoalType = "distance"
	GoalSpeed       GoalType = "speed"
	GoalDuration    GoalType = "duration"
	GoalConsistency GoalType = "consistency"
	GoalFastestTime GoalType = "fastest_time" // event-only
	GoalAveragePace GoalType = "average_pace" // event-only
)

// competitionTypes maps the display competition type to its goal and
// whether it is restricted to one-day events.
var competitionTypes = map[string]struct {
	goal      GoalType
	eventOnly bool
}{
	"Total Distance":    {GoalDistance, false},
	"Average Speed":     {GoalSpeed, false},
	"Total Duration":    {GoalDuration, false},
	"Most Consistent":   {GoalConsistency, false},
	"Fastest Time":      {GoalFastestTime, true},
	"Best Average Pace": {GoalAveragePace, true},
}

// activityCompetitionTypes enumerates which competition types each
// activity supports. Strength Training has no meaningful distance, so
// distance- and pace-based goals are excluded.
var activityCompetitionTypes = map[string][]string{
	"Running":           {"Total Distance", "Average Speed", "Total Duration", "Most Consistent", "Fastest Time", "Best Average Pace"},
	"Walking":           {"Total Distance", "Average Speed", "Total Duration", "Most Consistent", "Fastest Time", "Best Average Pace"},
	"Cycling":           {"Total Distance", "Average Speed", "Total Duration", "Most Consistent", "Fastest Time", "Best Average Pace"},
	"Strength Training": {"Total Duration", "Most Consistent"},
	"Any":               {"Total Distance", "Total Duration", "Most Consistent"},
}

// Goal resolves a competition type string to its scoring rule.
func Goal(competitionType string) (GoalType, bool) {
	ct, ok := competitionTypes[competitionType]
	return ct.goal, ok
}

func validateType(activity, competitionType string, isEvent bool) error {
	allowed, ok := activityCompetitionTypes[activity]
	if !ok {
		return fmt.Errorf("%w: unknown activity type %q", ErrInvalidRange, activity)
	}
	ct, ok := competitionTypes[competitionType]
	if !ok {
		return fmt.Errorf("%w: unknown competition type %q", ErrInvalidRange, competitionType)
	}
	if ct.eventOnly && !isEvent {
		return fmt.Errorf("%w: %q is only valid for one-day events", ErrInvalidRange, competitionType)
	}
	for _, a := range allowed {
		if a == competitionType {
			return nil
		}
	}
	return fmt.Errorf("%w: %q does not support %q", ErrInvalidRange, activity, competitionType)
}

// League is a parsed kind-30100 definition.
type League struct {
	DTag             string           `json:"d_tag"`
	TeamDTag         string           `json:"team_d_tag"`
	Name             string           `json:"name"`
	ActivityType     string           `json:"activity_type"`
	CompetitionType  string           `json:"competition_type"`
	StartDate        time.Time        `json:"start_date"`
	EndDate          time.Time        `json:"end_date"`
	DurationDays     int              `json:"duration_days"`
	ScoringFrequency ScoringFrequency `json:"scoring_frequency"`
	Status           Status           `json:"status"`
	MaxParticipants  int              `json:"max_participants"`
	Captain          string           `json:"captain"`
	CreatedAt        nostr.Timestamp  `json:"created_at"`
	EventID          string           `json:"event_id"`
}

// Window returns the league's scoring window as a half-open interval.
// The end date is inclusive as a calendar day, so the exclusive bound is
// the midnight after it.
func (l *League) Window() (start, end time.Time) {
	return l.StartDate, l.EndDate.Add(24 * time.Hour)
}

// IsCurrentlyActive reports whether now falls inside the window. The
// status tag is not consulted.
func (l *League) IsCurrentlyActive(now time.Time) bool {
	start, end := l.Window()
	return !now.Before(start) && now.Before(end)
}

// Event is a parsed kind-30101 one-day event definition.
type Event struct {
	DTag            string          `json:"d_tag"`
	TeamDTag        string          `json:"team_d_tag"`
	Name            string          `json:"name"`
	ActivityType    string          `json:"activity_type"`
	CompetitionType string          `json:"competition_type"`
	EventDate       time.Time       `json:"event_date"`
	Status          Status          `json:"status"`
	MaxParticipants int             `json:"max_participants"`
	TargetValue     float64         `json:"target_value,omitempty"`
	TargetUnit      string          `json:"target_unit,omitempty"`
	Captain         string          `json:"captain"`
	CreatedAt       nostr.Timestamp `json:"created_at"`
	EventID         string          `json:"event_id"`
}

// Window returns the event's effective window: [00:00, 24:00) UTC on the
// event date.
func (e *Event) Window() (start, end time.Time) {
	return e.EventDate, e.EventDate.Add(24 * time.Hour)
}

// IsCurrentlyActive reports whether now falls on the event's UTC day.
func (e *Event) IsCurrentlyActive(now time.Time) bool {
	start, end := e.Window()
	return !now.Before(start) && now.Before(end)
}

// LeagueParams describes a league to be created.
type LeagueParams struct {
	TeamDTag         string
	Name             string
	ActivityType     string
	CompetitionType  string
	StartDate        time.Time
	EndDate          time.Time
	DurationDays     int
	ScoringFrequency ScoringFrequency
	MaxParticipants  int
}

func (p LeagueParams) validate() error {
	if err := validateType(p.ActivityType, p.CompetitionType, false); err != nil {
		return err
	}
	if !p.EndDate.After(p.StartDate) {
		return fmt.Errorf("%w: end_date must be after start_date", ErrInvalidRange)
	}
	if p.DurationDays <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidRange)
	}
	// The duration tag must agree with the date range within one day.
	rangeDays := int(p.EndDate.Sub(p.StartDate).Hours() / 24)
	if diff := p.DurationDays - rangeDays; diff < -1 || diff > 1 {
		return fmt.Errorf("%w: duration %dd disagrees with date range %dd", ErrInvalidRange, p.DurationDays, rangeDays)
	}
	if !p.ScoringFrequency.valid() {
		return fmt.Errorf("%w: scoring_frequency %q", ErrInvalidRange, p.ScoringFrequency)
	}
	if p.MaxParticipants <= 0 {
		return fmt.Errorf("%w: max_participants must be positive", ErrInvalidRange)
	}
	if p.TeamDTag == "" {
		return fmt.Errorf("%w: team d tag is required", ErrInvalidRange)
	}
	return nil
}

// EventParams describes a one-day event to be created.
type EventParams struct {
	TeamDTag        string
	Name            string
	ActivityType    string
	CompetitionType string
	EventDate       time.Time
	MaxParticipants int
	TargetValue     float64
	TargetUnit      string
}

func (p EventParams) validate(now time.Time) error {
	if err := validateType(p.ActivityType, p.CompetitionType, true); err != nil {
		return err
	}
	if !dayStart(p.EventDate).After(now) {
		return fmt.Errorf("%w: event_date must be in the future", ErrInvalidRange)
	}
	if p.MaxParticipants <= 0 {
		return fmt.Errorf("%w: max_participants must be positive", ErrInvalidRange)
	}
	if p.TargetValue < 0 {
		return fmt.Errorf("%w: target_value must not be negative", ErrInvalidRange)
	}
	if p.TeamDTag == "" {
		return fmt.Errorf("%w: team d tag is required", ErrInvalidRange)
	}
	return nil
}

// buildLeagueEvent assembles the signed kind-30100 event.
func buildLeagueEvent(p LeagueParams, dtag, sk string) (*nostr.Event, error) {
	tags := nostr.Tags{
		{"d", dtag},
		{"team", p.TeamDTag},
		{"name", p.Name},
		{"activity_type", p.ActivityType},
		{"competition_type", p.CompetitionType},
		{"start_date", p.StartDate.UTC().Format(dateLayout)},
		{"end_date", p.EndDate.UTC().Format(dateLayout)},
		{"duration", strconv.Itoa(p.DurationDays)},
		{"scoring_frequency", string(p.ScoringFrequency)},
		{"status", string(StatusUpcoming)},
		{"max_participants", strconv.Itoa(p.MaxParticipants)},
	}
	mirror, err := json.Marshal(map[string]any{
		"name":              p.Name,
		"team":              p.TeamDTag,
		"activity_type":     p.ActivityType,
		"competition_type":  p.CompetitionType,
		"start_date":        p.StartDate.UTC().Format(dateLayout),
		"end_date":          p.EndDate.UTC().Format(dateLayout),
		"scoring_frequency": p.ScoringFrequency,
		"max_participants":  p.MaxParticipants,
	})
	if err != nil {
		return nil, err
	}
	return protocol.BuildEvent(protocol.KindLeague, tags, string(mirror), sk)
}

// buildFitnessEvent assembles the signed kind-30101 event.
func buildFitnessEvent(p EventParams, dtag, sk string) (*nostr.Event, error) {
	tags := nostr.Tags{
		{"d", dtag},
		{"team", p.TeamDTag},
		{"name", p.Name},
		{"activity_type", p.ActivityType},
		{"competition_type", p.CompetitionType},
		{"event_date", p.EventDate.UTC().Format(dateLayout)},
		{"status", string(StatusUpcoming)},
		{"max_participants", strconv.Itoa(p.MaxParticipants)},
	}
	if p.TargetValue > 0 {
		tags = append(tags,
			nostr.Tag{"target_value", strconv.FormatFloat(p.TargetValue, 'f', -1, 64)},
			nostr.Tag{"target_unit", p.TargetUnit},
		)
	}
	mirror, err := json.Marshal(map[string]any{
		"name":             p.Name,
		"team":             p.TeamDTag,
		"activity_type":    p.ActivityType,
		"competition_type": p.CompetitionType,
		"event_date":       p.EventDate.UTC().Format(dateLayout),
		"max_participants": p.MaxParticipants,
		"target_value":     p.TargetValue,
		"target_unit":      p.TargetUnit,
	})
	if err != nil {
		return nil, err
	}
	return protocol.BuildEvent(protocol.KindFitnessEvent, tags, string(mirror), sk)
}

// ParseLeague extracts a League from a kind-30100 event. Events with
// unparseable dates are rejected; unknown activity or competition types
// are preserved verbatim for forward compatibility.
func ParseLeague(ev *nostr.Event) (*League, bool) {
	if ev == nil || ev.Kind != protocol.KindLeague {
		return nil, false
	}
	dtag := protocol.FirstTag(ev, "d")
	start, err1 := time.Parse(dateLayout, protocol.FirstTag(ev, "start_date"))
	end, err2 := time.Parse(dateLayout, protocol.FirstTag(ev, "end_date"))
	if dtag == "" || err1 != nil || err2 != nil {
		return nil, false
	}
	duration, _ := strconv.Atoi(protocol.FirstTag(ev, "duration"))
	maxP, _ := strconv.Atoi(protocol.FirstTag(ev, "max_participants"))
	return &League{
		DTag:             dtag,
		TeamDTag:         protocol.FirstTag(ev, "team"),
		Name:             protocol.FirstTag(ev, "name"),
		ActivityType:     protocol.FirstTag(ev, "activity_type"),
		CompetitionType:  protocol.FirstTag(ev, "competition_type"),
		StartDate:        start.UTC(),
		EndDate:          end.UTC(),
		DurationDays:     duration,
		ScoringFrequency: ScoringFrequency(protocol.FirstTag(ev, "scoring_frequency")),
		Status:           Status(protocol.FirstTag(ev, "status")),
		MaxParticipants:  maxP,
		Captain:          ev.PubKey,
		CreatedAt:        ev.CreatedAt,
		EventID:          ev.ID,
	}, true
}

// ParseEvent extracts an Event from a kind-30101 event.
func ParseEvent(ev *nostr.Event) (*Event, bool) {
	if ev == nil || ev.Kind != protocol.KindFitnessEvent {
		return nil, false
	}
	dtag := protocol.FirstTag(ev, "d")
	date, err := time.Parse(dateLayout, protocol.FirstTag(ev, "event_date"))
	if dtag == "" || err != nil {
		return nil, false
	}
	maxP, _ := strconv.Atoi(protocol.FirstTag(ev, "max_participants"))
	target, _ := strconv.ParseFloat(protocol.FirstTag(ev, "target_value"), 64)
	return &Event{
		DTag:            dtag,
		TeamDTag:        protocol.FirstTag(ev, "team"),
		Name:            protocol.FirstTag(ev, "name"),
		ActivityType:    protocol.FirstTag(ev, "activity_type"),
		CompetitionType: protocol.FirstTag(ev, "competition_type"),
		EventDate:       date.UTC(),
		Status:          Status(protocol.FirstTag(ev, "status")),
		MaxParticipants: maxP,
		TargetValue:     target,
		TargetUnit:      protocol.FirstTag(ev, "target_unit"),
		Captain:         ev.PubKey,
		CreatedAt:       ev.CreatedAt,
		EventID:         ev.ID,
	}, true
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
