package protocol

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestBuildEventSignsAndValidates(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)

	ev, err := BuildEvent(KindTeam, nostr.Tags{{"d", "runners-ab12"}, {"name", "Runners"}}, "{}", sk)
	if err != nil {
		t.Fatalf("BuildEvent: %v", err)
	}
	if ev.PubKey != pk {
		t.Errorf("pubkey = %s, want %s", ev.PubKey, pk)
	}
	if err := VerifyEvent(ev); err != nil {
		t.Errorf("built event does not verify: %v", err)
	}
	if ev.CreatedAt == 0 {
		t.Error("created_at not set")
	}
}

func TestBuildEventValidation(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	bigTag := nostr.Tag{"name", strings.Repeat("x", 2048)}

	tests := []struct {
		name    string
		kind    int
		tags    nostr.Tags
		wantErr error
	}{
		{"zero kind", 0, nil, ErrInvalidKind},
		{"negative kind", -5, nil, ErrInvalidKind},
		{"addressable missing d", KindLeague, nostr.Tags{{"team", "x"}}, ErrMissingDTag},
		{"addressable duplicate d", KindLeague, nostr.Tags{{"d", "a"}, {"d", "b"}}, ErrMissingDTag},
		{"oversized tag", KindWorkoutRecord, nostr.Tags{bigTag}, ErrOversizedTag},
		{"regular kind needs no d", KindWorkoutRecord, nostr.Tags{{"exercise", "running"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildEvent(tt.kind, tt.tags, "", sk)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("BuildEvent: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("BuildEvent error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Morning Runners", "morning-runners"},
		{"  Café & Friends!  ", "café-friends"},
		{"UPPER", "upper"},
		{"---", "team"},
		{"", "team"},
		{strings.Repeat("a", 50), strings.Repeat("a", 30)},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in, 30); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTeamDTagShape(t *testing.T) {
	d := TeamDTag("Morning Runners")
	if !regexp.MustCompile(`^morning-runners-[0-9a-z]{1,4}$`).MatchString(d) {
		t.Errorf("TeamDTag = %q", d)
	}
}

func TestCompetitionDTagShape(t *testing.T) {
	d := CompetitionDTag(KindLeague, "Spring 5K")
	if !regexp.MustCompile(`^30100_spring-5k_[0-9a-z]+_[0-9a-z]{4}$`).MatchString(d) {
		t.Errorf("CompetitionDTag = %q", d)
	}
}

func TestNormalizePubKey(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)
	npub := Npub(pk)
	if !strings.HasPrefix(npub, "npub") {
		t.Fatalf("Npub = %q", npub)
	}

	fromHex, err := NormalizePubKey(pk)
	if err != nil || fromHex != pk {
		t.Errorf("NormalizePubKey(hex) = %q, %v", fromHex, err)
	}
	fromNpub, err := NormalizePubKey(npub)
	if err != nil || fromNpub != pk {
		t.Errorf("NormalizePubKey(npub) = %q, %v", fromNpub, err)
	}
	if _, err := NormalizePubKey("garbage"); err == nil {
		t.Error("garbage key accepted")
	}
}

func TestNormalizePrivateKey(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)

	gotSK, gotPK, err := NormalizePrivateKey(sk)
	if err != nil || gotSK != sk || gotPK != pk {
		t.Errorf("NormalizePrivateKey(hex) = %q, %q, %v", gotSK, gotPK, err)
	}
}
