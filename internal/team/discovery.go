package team

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/protocol"
)

const (
	discoveryTTL   = 10 * time.Minute
	discoveryLimit = 200
)

// Discover fetches public team definitions from the relays, deduplicated
// to the latest version per coordinate. Teams renamed to "Deleted" are a
// soft-delete convention some clients use; they are hidden unless
// includeDeleted is set. Results are cached with a short TTL.
func (s *Service) Discover(ctx context.Context, includeDeleted bool) ([]Team, error) {
	if s.cache != nil && !includeDeleted {
		var cached []Team
		if s.cache.DiscoveredTeams(&cached, discoveryTTL) {
			return cached, nil
		}
	}

	filter := nostr.Filter{
		Kinds: []int{protocol.KindTeam},
		Tags:  nostr.TagMap{"t": []string{"team"}},
		Limit: discoveryLimit,
	}
	events := s.pool.FetchAll(ctx, filter, s.deadline)

	latest := make(map[protocol.Coordinate]*nostr.Event)
	for _, ev := range events {
		coord, ok := protocol.CoordinateOf(ev)
		if !ok {
			continue
		}
		if protocol.Supersedes(ev, latest[coord]) {
			latest[coord] = ev
		}
	}

	teams := make([]Team, 0, len(latest))
	for _, ev := range latest {
		t, ok := Parse(ev)
		if !ok {
			continue
		}
		if !includeDeleted && t.Name == "Deleted" {
			continue
		}
		teams = append(teams, *t)
	}

	// Newest first, d tag as a stable secondary key.
	sort.Slice(teams, func(i, j int) bool {
		if teams[i].CreatedAt != teams[j].CreatedAt {
			return teams[i].CreatedAt > teams[j].CreatedAt
		}
		return teams[i].DTag < teams[j].DTag
	})

	if s.cache != nil && !includeDeleted {
		if err := s.cache.SetDiscoveredTeams(teams); err != nil {
			slog.Warn("caching discovered teams failed", "error", err)
		}
	}
	return teams, nil
}

// GetTeam fetches the latest definition for one coordinate.
func (s *Service) GetTeam(ctx context.Context, captain, dtag string) (*Team, error) {
	captainHex, err := protocol.NormalizePubKey(captain)
	if err != nil {
		return nil, err
	}
	filter := nostr.Filter{
		Kinds:   []int{protocol.KindTeam},
		Authors: []string{captainHex},
		Tags:    nostr.TagMap{"d": []string{dtag}},
		Limit:   1,
	}
	events := s.pool.FetchAll(ctx, filter, s.deadline)

	var latest *nostr.Event
	for _, ev := range events {
		if protocol.Supersedes(ev, latest) {
			latest = ev
		}
	}
	if latest == nil {
		return nil, nil
	}
	t, ok := Parse(latest)
	if !ok {
		return nil, nil
	}
	return t, nil
}
