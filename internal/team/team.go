// Package team implements team definitions (kind 33404) and the
// membership list lifecycle (kind 30000). A team is exclusively owned by
// its captain pubkey; the membership list is a full snapshot replaced on
// every add or remove.
package team

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/protocol"
)

var (
	// ErrNotCaptain is returned when a mutation is attempted by a pubkey
	// other than the team's captain.
	ErrNotCaptain = errors.New("not the team captain")

	// ErrStaleList is returned when the caller's reference list is older
	// than the latest observed version. The caller must refresh first.
	ErrStaleList = errors.New("membership list is stale")

	// ErrListNotFound means no membership list exists for the team yet.
	// Distinct from an empty roster.
	ErrListNotFound = errors.New("membership list not found")
)

// Team is a parsed kind-33404 definition.
type Team struct {
	DTag        string          `json:"d_tag"`
	Name        string          `json:"name"`
	About       string          `json:"about"`
	Captain     string          `json:"captain"` // hex
	Public      bool            `json:"public"`
	Activity    string          `json:"activity,omitempty"`
	Location    string          `json:"location,omitempty"`
	ListSupport bool            `json:"list_support"`
	CreatedAt   nostr.Timestamp `json:"created_at"`
	EventID     string          `json:"event_id"`
}

// Params describes a team to be created.
type Params struct {
	Name        string
	About       string
	Public      bool
	Activity    string
	Location    string
	ListSupport bool
}

// Build constructs and signs a team definition. The signer becomes the
// captain. The content carries a JSON echo of the tags for clients that
// don't parse tag arrays.
func Build(params Params, privKey string) (*nostr.Event, error) {
	sk, pk, err := protocol.NormalizePrivateKey(privKey)
	if err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, errors.New("team name is required")
	}

	dtag := protocol.TeamDTag(params.Name)
	tags := nostr.Tags{
		{"d", dtag},
		{"name", params.Name},
		{"about", params.About},
		{"captain", pk},
		{"public", boolString(params.Public)},
		{"t", "team"},
		{"t", "fitness"},
	}
	if params.Activity != "" {
		tags = append(tags, nostr.Tag{"activity", params.Activity})
	}
	if params.Location != "" {
		tags = append(tags, nostr.Tag{"location", params.Location})
	}
	if params.ListSupport {
		tags = append(tags, nostr.Tag{"list_support", "true"})
	}

	echo, err := json.Marshal(map[string]any{
		"name":     params.Name,
		"about":    params.About,
		"captain":  pk,
		"public":   params.Public,
		"activity": params.Activity,
		"location": params.Location,
	})
	if err != nil {
		return nil, err
	}

	return protocol.BuildEvent(protocol.KindTeam, tags, string(echo), sk)
}

// Parse extracts a Team from a kind-33404 event. Events whose captain tag
// names a pubkey other than the author are ignored: only the captain's
// signature mutates a team.
func Parse(ev *nostr.Event) (*Team, bool) {
	if ev == nil || ev.Kind != protocol.KindTeam {
		return nil, false
	}
	dtag := protocol.FirstTag(ev, "d")
	name := protocol.FirstTag(ev, "name")
	if dtag == "" || name == "" {
		return nil, false
	}

	captain := ev.PubKey
	if c := protocol.FirstTag(ev, "captain"); c != "" {
		hex, err := protocol.NormalizePubKey(c)
		if err != nil || hex != ev.PubKey {
			return nil, false
		}
		captain = hex
	}

	return &Team{
		DTag:        dtag,
		Name:        name,
		About:       protocol.FirstTag(ev, "about"),
		Captain:     captain,
		Public:      protocol.FirstTag(ev, "public") == "true",
		Activity:    protocol.FirstTag(ev, "activity"),
		Location:    protocol.FirstTag(ev, "location"),
		ListSupport: protocol.FirstTag(ev, "list_support") == "true",
		CreatedAt:   ev.CreatedAt,
		EventID:     ev.ID,
	}, true
}

// RequireCaptain verifies that the given key (hex or npub) is the team's
// captain before a mutation is prepared.
func (t *Team) RequireCaptain(pubkey string) error {
	hex, err := protocol.NormalizePubKey(pubkey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotCaptain, err)
	}
	if hex != t.Captain {
		return ErrNotCaptain
	}
	return nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
