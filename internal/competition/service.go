package competition

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/protocol"
	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/relay"
)

// Publisher is the slice of the publish engine the service needs.
type Publisher interface {
	Publish(ctx context.Context, ev *nostr.Event) (relay.PublishResult, error)
}

// Querier is the slice of the relay pool the service needs.
type Querier interface {
	FetchAll(ctx context.Context, filter nostr.Filter, deadline time.Duration) []*nostr.Event
}

// Service publishes and queries competition definitions.
type Service struct {
	publisher Publisher
	pool      Querier
	deadline  time.Duration // zero defers to the pool's subscription deadline
	now       func() time.Time
}

// NewService wires the competition service.
func NewService(publisher Publisher, pool Querier) *Service {
	return &Service{
		publisher: publisher,
		pool:      pool,
		now:       time.Now,
	}
}

// CreateResult reports a successful competition publish.
type CreateResult struct {
	CompetitionID  string            `json:"competition_id"`
	RelaysAccepted []string          `json:"relays_accepted"`
	Rejected       []relay.Rejection `json:"rejected,omitempty"`
}

// CreateLeague validates, builds, signs, and publishes a kind-30100
// league definition.
func (s *Service) CreateLeague(ctx context.Context, p LeagueParams, privKey string) (*CreateResult, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	sk, _, err := protocol.NormalizePrivateKey(privKey)
	if err != nil {
		return nil, err
	}
	dtag := protocol.CompetitionDTag(protocol.KindLeague, p.Name)
	ev, err := buildLeagueEvent(p, dtag, sk)
	if err != nil {
		return nil, err
	}
	return s.publish(ctx, dtag, ev)
}

// CreateEvent validates, builds, signs, and publishes a kind-30101
// one-day event definition. The event date must be in the future.
func (s *Service) CreateEvent(ctx context.Context, p EventParams, privKey string) (*CreateResult, error) {
	if err := p.validate(s.now()); err != nil {
		return nil, err
	}
	sk, _, err := protocol.NormalizePrivateKey(privKey)
	if err != nil {
		return nil, err
	}
	dtag := protocol.CompetitionDTag(protocol.KindFitnessEvent, p.Name)
	ev, err := buildFitnessEvent(p, dtag, sk)
	if err != nil {
		return nil, err
	}
	return s.publish(ctx, dtag, ev)
}

func (s *Service) publish(ctx context.Context, dtag string, ev *nostr.Event) (*CreateResult, error) {
	result, err := s.publisher.Publish(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("publish competition: %w", err)
	}
	return &CreateResult{
		CompetitionID:  dtag,
		RelaysAccepted: result.Accepted,
		Rejected:       result.Rejected,
	}, nil
}

// QueryForTeam fetches all leagues and events tagged with a team's d
// tag, deduplicated to the latest version per coordinate.
func (s *Service) QueryForTeam(ctx context.Context, teamDTag string) (leagues []League, events []Event, err error) {
	filter := nostr.Filter{
		Kinds: []int{protocol.KindLeague, protocol.KindFitnessEvent},
		Tags:  nostr.TagMap{"team": []string{teamDTag}},
	}
	raw := s.pool.FetchAll(ctx, filter, s.deadline)

	latest := make(map[protocol.Coordinate]*nostr.Event)
	for _, ev := range raw {
		coord, ok := protocol.CoordinateOf(ev)
		if !ok {
			continue
		}
		if protocol.Supersedes(ev, latest[coord]) {
			latest[coord] = ev
		}
	}

	for _, ev := range latest {
		switch ev.Kind {
		case protocol.KindLeague:
			if l, ok := ParseLeague(ev); ok && l.TeamDTag == teamDTag {
				leagues = append(leagues, *l)
			}
		case protocol.KindFitnessEvent:
			if e, ok := ParseEvent(ev); ok && e.TeamDTag == teamDTag {
				events = append(events, *e)
			}
		}
	}
	return leagues, events, nil
}

// UpdateStatus republishes a competition definition with a new status
// tag and a fresh created_at; the replace rule converges relays to it.
// The signing key must be the original author's.
func (s *Service) UpdateStatus(ctx context.Context, original *nostr.Event, newStatus Status, privKey string) (*CreateResult, error) {
	if !newStatus.valid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidRange, newStatus)
	}
	sk, pk, err := protocol.NormalizePrivateKey(privKey)
	if err != nil {
		return nil, err
	}
	if pk != original.PubKey {
		return nil, fmt.Errorf("status update signed by %s but competition is owned by %s", pk, original.PubKey)
	}

	tags := make(nostr.Tags, 0, len(original.Tags))
	replaced := false
	for _, tag := range original.Tags {
		if len(tag) >= 2 && tag[0] == "status" {
			tags = append(tags, nostr.Tag{"status", string(newStatus)})
			replaced = true
			continue
		}
		tags = append(tags, tag)
	}
	if !replaced {
		tags = append(tags, nostr.Tag{"status", string(newStatus)})
	}

	ev, err := protocol.BuildEvent(original.Kind, tags, original.Content, sk)
	if err != nil {
		return nil, err
	}
	if ev.CreatedAt <= original.CreatedAt {
		// A same-second update would lose or tie the replace race.
		ev.CreatedAt = original.CreatedAt + 1
		if err := ev.Sign(sk); err != nil {
			return nil, err
		}
	}

	slog.Info("republishing competition status",
		"d_tag", protocol.FirstTag(ev, "d"), "status", newStatus)
	return s.publish(ctx, protocol.FirstTag(ev, "d"), ev)
}
