package leaderboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/competition"
	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/team"
	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/workout"
)

// ErrCompetitionNotFound is returned when no league or event matches the
// requested competition id.
var ErrCompetitionNotFound = errors.New("competition not found")

// TeamReader fetches rosters.
type TeamReader interface {
	GetList(ctx context.Context, captain, teamDTag string) (*team.List, error)
}

// CompetitionReader fetches competition definitions for a team.
type CompetitionReader interface {
	QueryForTeam(ctx context.Context, teamDTag string) ([]competition.League, []competition.Event, error)
}

// WorkoutReader fetches parsed workout records.
type WorkoutReader interface {
	Fetch(ctx context.Context, authors []string, window workout.Window, activityFilter string) (workout.FetchResult, error)
}

// Service assembles a leaderboard from the roster, the competition
// definition, and the cohort's workouts.
type Service struct {
	teams        TeamReader
	competitions CompetitionReader
	workouts     WorkoutReader
}

// NewService wires the leaderboard service.
func NewService(teams TeamReader, competitions CompetitionReader, workouts WorkoutReader) *Service {
	return &Service{teams: teams, competitions: competitions, workouts: workouts}
}

// ForCompetition computes the current leaderboard for one competition id
// on a team. A missing membership list produces an empty leaderboard, not
// an error: "no roster yet" still renders.
func (s *Service) ForCompetition(ctx context.Context, captain, teamDTag, competitionID string) (Leaderboard, error) {
	leagues, events, err := s.competitions.QueryForTeam(ctx, teamDTag)
	if err != nil {
		return Leaderboard{}, err
	}

	var (
		goalName string
		window   workout.Window
		activity string
		targetKm float64
	)
	found := false
	for _, l := range leagues {
		if l.DTag == competitionID {
			goalName = l.CompetitionType
			start, end := l.Window()
			window = workout.Window{Start: start, End: end}
			activity = l.ActivityType
			found = true
			break
		}
	}
	if !found {
		for _, e := range events {
			if e.DTag == competitionID {
				goalName = e.CompetitionType
				start, end := e.Window()
				window = workout.Window{Start: start, End: end}
				activity = e.ActivityType
				targetKm = targetInKm(e.TargetValue, e.TargetUnit)
				found = true
				break
			}
		}
	}
	if !found {
		return Leaderboard{}, fmt.Errorf("%w: %s", ErrCompetitionNotFound, competitionID)
	}

	goal, ok := competition.Goal(goalName)
	if !ok {
		return Leaderboard{}, fmt.Errorf("%w: unscorable competition type %q", ErrCompetitionNotFound, goalName)
	}

	var cohort []string
	list, err := s.teams.GetList(ctx, captain, teamDTag)
	switch {
	case errors.Is(err, team.ErrListNotFound):
		// no roster yet
	case err != nil:
		return Leaderboard{}, err
	default:
		cohort = list.Members
	}

	in := Input{Goal: goal, Cohort: cohort, TargetDistanceKm: targetKm}
	if len(cohort) > 0 {
		fetched, err := s.workouts.Fetch(ctx, cohort, window, activity)
		if err != nil {
			return Leaderboard{}, err
		}
		in.Workouts = fetched.Workouts
	}
	return Compute(in), nil
}

func targetInKm(value float64, unit string) float64 {
	switch unit {
	case "m":
		return value / 1000
	case "mi":
		return value * 1.60934
	default: // km
		return value
	}
}
