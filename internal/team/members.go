package team

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/protocol"
)

const membersSuffix = "-members"

// MembersDTag derives the membership list coordinate from a team d tag.
func MembersDTag(teamDTag string) string { return teamDTag + membersSuffix }

// List is a parsed membership list: a full roster snapshot, never a delta.
type List struct {
	Event    *nostr.Event
	TeamDTag string
	Captain  string   // hex
	Members  []string // hex, tag order preserved
}

// IsMember reports whether pubkey (hex or npub) is on the roster.
func (l *List) IsMember(pubkey string) bool {
	hex, err := protocol.NormalizePubKey(pubkey)
	if err != nil {
		return false
	}
	for _, m := range l.Members {
		if m == hex {
			return true
		}
	}
	return false
}

// Querier is the slice of the relay pool the service needs.
type Querier interface {
	FetchAll(ctx context.Context, filter nostr.Filter, deadline time.Duration) []*nostr.Event
}

// Cache persists roster snapshots and discovery results between runs.
// internal/db satisfies it; nil disables caching.
type Cache interface {
	SetMemberSnapshot(teamDTag string, members []string) error
	MemberSnapshot(teamDTag string) ([]string, bool)
	SetDiscoveredTeams(teams any) error
	DiscoveredTeams(out any, ttl time.Duration) bool
}

// Latester is the slice of the addressable store used for staleness
// checks before a prepare. nil disables the check.
type Latester interface {
	Latest(coord protocol.Coordinate) (*nostr.Event, bool)
}

// Service implements roster reads and prepares unsigned replacement
// snapshots for adds and removes. It never signs: templates go back to
// the captain's key holder.
type Service struct {
	pool     Querier
	cache    Cache
	latest   Latester
	deadline time.Duration // zero defers to the pool's subscription deadline
}

// NewService wires the membership service. cache and latest may be nil.
func NewService(pool Querier, cache Cache, latest Latester) *Service {
	return &Service{pool: pool, cache: cache, latest: latest}
}

// BuildList constructs and signs a fresh membership list for a team. The
// captain is always on the roster, whether or not the caller listed them.
func BuildList(teamDTag string, members []string, privKey string) (*nostr.Event, error) {
	sk, pk, err := protocol.NormalizePrivateKey(privKey)
	if err != nil {
		return nil, err
	}

	roster := []string{pk}
	seen := map[string]struct{}{pk: {}}
	for _, m := range members {
		hex, err := protocol.NormalizePubKey(m)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[hex]; dup {
			continue
		}
		seen[hex] = struct{}{}
		roster = append(roster, hex)
	}

	tags := nostr.Tags{{"d", MembersDTag(teamDTag)}}
	for _, m := range roster {
		tags = append(tags, nostr.Tag{"p", m})
	}
	return protocol.BuildEvent(protocol.KindMembershipList, tags, "", sk)
}

// GetList fetches the latest membership list for a team from the relays.
// Returns ErrListNotFound when no list exists, which callers must treat
// as "no roster yet" rather than an empty roster.
func (s *Service) GetList(ctx context.Context, captain, teamDTag string) (*List, error) {
	captainHex, err := protocol.NormalizePubKey(captain)
	if err != nil {
		return nil, err
	}

	filter := nostr.Filter{
		Kinds:   []int{protocol.KindMembershipList},
		Authors: []string{captainHex},
		Tags:    nostr.TagMap{"d": []string{MembersDTag(teamDTag)}},
		Limit:   1,
	}
	events := s.pool.FetchAll(ctx, filter, s.deadline)

	// Relays may return stale versions; keep the supersede winner.
	var latest *nostr.Event
	for _, ev := range events {
		if ev.PubKey != captainHex {
			continue
		}
		if protocol.Supersedes(ev, latest) {
			latest = ev
		}
	}
	if latest == nil {
		return nil, ErrListNotFound
	}

	list := parseList(latest)
	if s.cache != nil {
		if err := s.cache.SetMemberSnapshot(list.TeamDTag, list.Members); err != nil {
			return list, nil // snapshot cache is best-effort
		}
	}
	return list, nil
}

// CachedMembers returns the last persisted roster snapshot for a team.
// ok=false means no snapshot exists.
func (s *Service) CachedMembers(teamDTag string) ([]string, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.MemberSnapshot(teamDTag)
}

// PrepareAdd returns an unsigned replacement list with the member
// appended, or (nil, nil) when the member is already on the roster. The
// caller signs with the captain's key and publishes.
func (s *Service) PrepareAdd(list *List, member string) (*nostr.Event, error) {
	hex, err := protocol.NormalizePubKey(member)
	if err != nil {
		return nil, err
	}
	if err := s.checkFresh(list); err != nil {
		return nil, err
	}
	if list.IsMember(hex) {
		return nil, nil
	}
	return replacementTemplate(list, append(append([]string{}, list.Members...), hex))
}

// PrepareRemove mirrors PrepareAdd: (nil, nil) when the member is not on
// the roster. The captain cannot be removed.
func (s *Service) PrepareRemove(list *List, member string) (*nostr.Event, error) {
	hex, err := protocol.NormalizePubKey(member)
	if err != nil {
		return nil, err
	}
	if hex == list.Captain {
		return nil, ErrNotCaptain
	}
	if err := s.checkFresh(list); err != nil {
		return nil, err
	}
	if !list.IsMember(hex) {
		return nil, nil
	}
	roster := make([]string, 0, len(list.Members))
	for _, m := range list.Members {
		if m != hex {
			roster = append(roster, m)
		}
	}
	return replacementTemplate(list, roster)
}

// checkFresh rejects prepares built from a list older than the latest
// observed version, so a stale device cannot silently clobber a roster.
func (s *Service) checkFresh(list *List) error {
	if s.latest == nil || list.Event == nil {
		return nil
	}
	coord, ok := protocol.CoordinateOf(list.Event)
	if !ok {
		return nil
	}
	stored, ok := s.latest.Latest(coord)
	if ok && stored.ID != list.Event.ID && protocol.Supersedes(stored, list.Event) {
		return ErrStaleList
	}
	return nil
}

func replacementTemplate(list *List, roster []string) (*nostr.Event, error) {
	tags := nostr.Tags{{"d", MembersDTag(list.TeamDTag)}}
	for _, m := range roster {
		tags = append(tags, nostr.Tag{"p", m})
	}
	ev := &nostr.Event{
		Kind:      protocol.KindMembershipList,
		CreatedAt: nostr.Now(),
		Tags:      tags,
		Content:   list.Event.Content,
	}
	if err := protocol.ValidateTemplate(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func parseList(ev *nostr.Event) *List {
	dtag := protocol.FirstTag(ev, "d")
	teamDTag := dtag
	if n := len(dtag) - len(membersSuffix); n > 0 && dtag[n:] == membersSuffix {
		teamDTag = dtag[:n]
	}

	var members []string
	seen := make(map[string]struct{})
	for _, tag := range ev.Tags {
		if len(tag) < 2 || tag[0] != "p" {
			continue
		}
		hex, err := protocol.NormalizePubKey(tag[1])
		if err != nil {
			continue
		}
		if _, dup := seen[hex]; dup {
			continue
		}
		seen[hex] = struct{}{}
		members = append(members, hex)
	}

	return &List{Event: ev, TeamDTag: teamDTag, Captain: ev.PubKey, Members: members}
}

// rosterJSON is the admin API projection of a list.
type rosterJSON struct {
	TeamDTag string   `json:"team_d_tag"`
	Captain  string   `json:"captain"`
	Members  []string `json:"members"`
}

// MarshalJSON renders the roster without the raw event.
func (l *List) MarshalJSON() ([]byte, error) {
	return json.Marshal(rosterJSON{TeamDTag: l.TeamDTag, Captain: l.Captain, Members: l.Members})
}
