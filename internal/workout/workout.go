// Package workout implements kind-1301 workout record queries and the
// tag-to-metric parser. Records that fail a required parse never reach
// the leaderboard engine; they are dropped with a counter.
package workout

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/protocol"
)

const (
	maxDistanceKm  = 1000
	maxDurationSec = 24 * 60 * 60
)

var errBadRecord = errors.New("malformed workout record")

// Workout is a parsed kind-1301 record. created_at is the workout's
// clock time and the sole temporal anchor for windowing.
type Workout struct {
	EventID     string
	PubKey      string
	Activity    string
	DistanceKm  float64
	DurationSec int
	Calories    int
	HasCalories bool
	CreatedAt   nostr.Timestamp
}

// PaceMinPerKm returns the workout's pace in minutes per kilometer, or
// ok=false when the distance is zero.
func (w *Workout) PaceMinPerKm() (float64, bool) {
	if w.DistanceKm <= 0 {
		return 0, false
	}
	return (float64(w.DurationSec) / 60) / w.DistanceKm, true
}

// Parse extracts typed metrics from a kind-1301 event. Unknown activity
// strings are preserved verbatim; they simply never match a competition
// filter.
func Parse(ev *nostr.Event) (*Workout, error) {
	if ev == nil || ev.Kind != protocol.KindWorkoutRecord {
		return nil, fmt.Errorf("%w: wrong kind", errBadRecord)
	}

	activity := protocol.FirstTag(ev, "exercise")
	if activity == "" {
		return nil, fmt.Errorf("%w: missing exercise tag", errBadRecord)
	}

	distStr := protocol.FirstTag(ev, "distance")
	dist, err := strconv.ParseFloat(distStr, 64)
	if err != nil || math.IsNaN(dist) || math.IsInf(dist, 0) {
		return nil, fmt.Errorf("%w: distance %q", errBadRecord, distStr)
	}
	if dist < 0 || dist > maxDistanceKm {
		return nil, fmt.Errorf("%w: distance %.2f km out of range", errBadRecord, dist)
	}

	durStr := protocol.FirstTag(ev, "duration")
	dur, err := parseDuration(durStr)
	if err != nil {
		return nil, fmt.Errorf("%w: duration %q: %v", errBadRecord, durStr, err)
	}

	w := &Workout{
		EventID:     ev.ID,
		PubKey:      ev.PubKey,
		Activity:    activity,
		DistanceKm:  dist,
		DurationSec: dur,
		CreatedAt:   ev.CreatedAt,
	}
	if calStr := protocol.FirstTag(ev, "calories"); calStr != "" {
		// Calories are optional metadata; a bad value loses the field,
		// not the record.
		if cal, err := strconv.Atoi(calStr); err == nil && cal >= 0 {
			w.Calories = cal
			w.HasCalories = true
		}
	}
	return w, nil
}

// parseDuration converts an HH:MM:SS string to seconds. Durations must
// be positive and at most 24 hours.
func parseDuration(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, errors.New("want HH:MM:SS")
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, errors.New("non-numeric component")
	}
	if h < 0 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, errors.New("component out of range")
	}
	total := h*3600 + m*60 + sec
	if total <= 0 {
		return 0, errors.New("must be positive")
	}
	if total > maxDurationSec {
		return 0, errors.New("longer than 24h")
	}
	return total, nil
}

// activityAliases maps a competition's activity type to the workout
// exercise strings that count for it. Comparison is case-insensitive.
var activityAliases = map[string][]string{
	"Running":           {"running", "run", "jog", "jogging"},
	"Walking":           {"walking", "walk", "hike", "hiking"},
	"Cycling":           {"cycling", "bike", "biking", "ride"},
	"Strength Training": {"strength_training", "strength", "gym", "weightlifting"},
}

// MatchesActivity reports whether a workout's exercise string counts for
// a competition's activity type. "Any" disables the filter.
func MatchesActivity(exercise, competitionActivity string) bool {
	if competitionActivity == "" || competitionActivity == "Any" {
		return true
	}
	aliases, ok := activityAliases[competitionActivity]
	if !ok {
		return false
	}
	ex := strings.ToLower(strings.TrimSpace(exercise))
	for _, a := range aliases {
		if ex == a {
			return true
		}
	}
	return false
}
