// Package leaderboard implements deterministic scoring of a cohort's
// workouts against a competition goal type: aggregation, ranking with
// defined tie-breaks, and display formatting. For fixed inputs the
// output is byte-identical across runs and platforms.
package leaderboard

import (
	"fmt"
	"math"
	"sort"

	"github.com/nbd-wtf/go-nostr"

	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/competition"
	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/workout"
)

const (
	paceFloorMinPerKm   = 0.0
	paceCeilingMinPerKm = 30.0
	qualifyingFraction  = 0.95
)

// Entry is one ranked participant.
type Entry struct {
	PubKey           string          `json:"pubkey"`
	Rank             int             `json:"rank"`
	Score            float64         `json:"score"`
	FormattedScore   string          `json:"formatted_score"`
	WorkoutCount     int             `json:"workout_count"`
	TotalDistanceKm  float64         `json:"total_distance_km"`
	TotalDurationSec int             `json:"total_duration_sec"`
	LastActivity     nostr.Timestamp `json:"last_activity"`
	Qualified        bool            `json:"qualified"`
}

// Leaderboard is the ranked projection of one cohort over one window.
type Leaderboard struct {
	Entries       []Entry `json:"entries"`
	ScoringMethod string  `json:"scoring_method"`
}

// Input binds a cohort and their fetched workouts to a goal.
type Input struct {
	Goal     competition.GoalType
	Cohort   []string // hex pubkeys
	Workouts []workout.Workout

	// TargetDistanceKm gates fastest_time qualification: a workout
	// counts only when its distance reaches 95% of the target.
	TargetDistanceKm float64
}

var scoringMethods = map[competition.GoalType]string{
	competition.GoalDistance:    "Total distance covered (km)",
	competition.GoalSpeed:       "Average speed (1000 / mean pace)",
	competition.GoalDuration:    "Total workout duration",
	competition.GoalConsistency: "Number of workouts completed",
	competition.GoalFastestTime: "Fastest time over the target distance",
	competition.GoalAveragePace: "Best average pace (min/km)",
}

// lowerIsBetter goals rank ascending; everything else descends.
func lowerIsBetter(goal competition.GoalType) bool {
	return goal == competition.GoalFastestTime || goal == competition.GoalAveragePace
}

// Compute scores and ranks the cohort. Zero-valid-workout participants
// land in a shared bottom bucket; ranking uses unrounded scores while
// display rounds to two decimals.
func Compute(in Input) Leaderboard {
	method := scoringMethods[in.Goal]
	if method == "" {
		method = fmt.Sprintf("Unknown goal %q", in.Goal)
	}
	if len(in.Cohort) == 0 {
		return Leaderboard{Entries: []Entry{}, ScoringMethod: method}
	}

	byAuthor := make(map[string][]workout.Workout)
	for _, w := range in.Workouts {
		if w.DistanceKm == 0 || w.DurationSec == 0 {
			continue
		}
		byAuthor[w.PubKey] = append(byAuthor[w.PubKey], w)
	}

	entries := make([]Entry, 0, len(in.Cohort))
	seen := make(map[string]struct{}, len(in.Cohort))
	for _, pk := range in.Cohort {
		if _, dup := seen[pk]; dup {
			continue
		}
		seen[pk] = struct{}{}
		entries = append(entries, score(in, pk, byAuthor[pk]))
	}

	rank(entries, in.Goal)
	return Leaderboard{Entries: entries, ScoringMethod: method}
}

func score(in Input, pk string, workouts []workout.Workout) Entry {
	// Deterministic aggregation order regardless of relay arrival.
	sort.Slice(workouts, func(i, j int) bool {
		if workouts[i].CreatedAt != workouts[j].CreatedAt {
			return workouts[i].CreatedAt < workouts[j].CreatedAt
		}
		return workouts[i].EventID < workouts[j].EventID
	})

	e := Entry{PubKey: pk, WorkoutCount: len(workouts)}
	for _, w := range workouts {
		e.TotalDistanceKm += w.DistanceKm
		e.TotalDurationSec += w.DurationSec
		if w.CreatedAt > e.LastActivity {
			e.LastActivity = w.CreatedAt
		}
	}

	switch in.Goal {
	case competition.GoalDistance:
		e.Score = e.TotalDistanceKm * 1000
		e.Qualified = len(workouts) > 0
		e.FormattedScore = fmt.Sprintf("%.2f km", e.Score/1000)

	case competition.GoalSpeed:
		paces := validPaces(workouts)
		if len(paces) == 0 {
			e.FormattedScore = "—"
			break
		}
		var sum float64
		for _, p := range paces {
			sum += p
		}
		mean := sum / float64(len(paces))
		e.Score = 1000 / mean
		e.Qualified = true
		e.FormattedScore = formatPace(mean)

	case competition.GoalDuration:
		e.Score = float64(e.TotalDurationSec)
		e.Qualified = len(workouts) > 0
		e.FormattedScore = formatHoursMinutes(e.TotalDurationSec)

	case competition.GoalConsistency:
		e.Score = float64(len(workouts))
		e.Qualified = len(workouts) > 0
		e.FormattedScore = formatWorkoutCount(len(workouts))

	case competition.GoalFastestTime:
		best := 0
		threshold := in.TargetDistanceKm * qualifyingFraction
		for _, w := range workouts {
			if w.DistanceKm < threshold {
				continue
			}
			if best == 0 || w.DurationSec < best {
				best = w.DurationSec
			}
		}
		if best == 0 {
			e.FormattedScore = "—"
			break
		}
		e.Score = float64(best)
		e.Qualified = true
		e.FormattedScore = formatClock(best)

	case competition.GoalAveragePace:
		paces := validPaces(workouts)
		if len(paces) == 0 {
			e.FormattedScore = "—"
			break
		}
		e.Score = paces[0] // sorted ascending, best first
		e.Qualified = true
		e.FormattedScore = formatPace(e.Score)

	default:
		e.FormattedScore = "—"
	}
	return e
}

// validPaces returns the workouts' paces inside the plausible band,
// sorted ascending so summation order is input-independent.
func validPaces(workouts []workout.Workout) []float64 {
	var paces []float64
	for _, w := range workouts {
		pace, ok := w.PaceMinPerKm()
		if !ok || pace <= paceFloorMinPerKm || pace >= paceCeilingMinPerKm {
			continue
		}
		paces = append(paces, pace)
	}
	sort.Float64s(paces)
	return paces
}

// rank sorts entries and assigns dense ranks. Qualified entries come
// first ordered by score, then workout count (more first), then last
// activity (earlier first), then pubkey. True ties share a rank. The
// unqualified bucket shares the rank after the last qualified one.
func rank(entries []Entry, goal competition.GoalType) {
	asc := lowerIsBetter(goal)
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Qualified != b.Qualified {
			return a.Qualified
		}
		if a.Qualified && a.Score != b.Score {
			if asc {
				return a.Score < b.Score
			}
			return a.Score > b.Score
		}
		if a.WorkoutCount != b.WorkoutCount {
			return a.WorkoutCount > b.WorkoutCount
		}
		if a.LastActivity != b.LastActivity {
			return a.LastActivity < b.LastActivity
		}
		return a.PubKey < b.PubKey
	})

	next := 1
	for i := range entries {
		if !entries[i].Qualified {
			entries[i].Rank = next
			continue
		}
		if i > 0 && entries[i-1].Qualified && trueTie(entries[i-1], entries[i]) {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = next
		next++
	}

	for i := range entries {
		entries[i].Score = round2(entries[i].Score)
	}
}

func trueTie(a, b Entry) bool {
	return a.Score == b.Score && a.WorkoutCount == b.WorkoutCount && a.LastActivity == b.LastActivity
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// formatPace renders minutes-per-km as "4:32 /km".
func formatPace(pace float64) string {
	min := int(pace)
	sec := int(math.Round((pace - float64(min)) * 60))
	if sec == 60 {
		min, sec = min+1, 0
	}
	return fmt.Sprintf("%d:%02d /km", min, sec)
}

// formatClock renders seconds as "25:00" or "1:23:45" past the hour.
func formatClock(totalSec int) string {
	h := totalSec / 3600
	m := (totalSec % 3600) / 60
	s := totalSec % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// formatHoursMinutes renders seconds as "1h 23m" or "42m" under an hour.
func formatHoursMinutes(totalSec int) string {
	h := totalSec / 3600
	m := (totalSec % 3600) / 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

func formatWorkoutCount(n int) string {
	if n == 1 {
		return "1 workout"
	}
	return fmt.Sprintf("%d workouts", n)
}
