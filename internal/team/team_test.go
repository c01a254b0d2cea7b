package team

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/protocol"
)

// fakePool serves canned events for FetchAll.
type fakePool struct {
	events       []*nostr.Event
	lastDeadline time.Duration
}

func (f *fakePool) FetchAll(_ context.Context, _ nostr.Filter, deadline time.Duration) []*nostr.Event {
	f.lastDeadline = deadline
	return f.events
}

func TestFetchesUsePoolDeadline(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)
	pool := &fakePool{lastDeadline: time.Hour}
	svc := NewService(pool, nil, nil)

	if _, err := svc.GetList(context.Background(), pk, "runners-1234"); !errors.Is(err, ErrListNotFound) {
		t.Fatalf("GetList on empty relays: %v", err)
	}
	if pool.lastDeadline != 0 {
		t.Errorf("GetList deadline = %v, want 0 so the pool default applies", pool.lastDeadline)
	}

	pool.lastDeadline = time.Hour
	if _, err := svc.Discover(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if pool.lastDeadline != 0 {
		t.Errorf("Discover deadline = %v, want 0 so the pool default applies", pool.lastDeadline)
	}
}

type fakeCache struct {
	snapshots  map[string][]string
	discovered any
}

func newFakeCache() *fakeCache { return &fakeCache{snapshots: make(map[string][]string)} }

func (f *fakeCache) SetMemberSnapshot(teamDTag string, members []string) error {
	f.snapshots[teamDTag] = members
	return nil
}

func (f *fakeCache) MemberSnapshot(teamDTag string) ([]string, bool) {
	m, ok := f.snapshots[teamDTag]
	return m, ok
}

func (f *fakeCache) SetDiscoveredTeams(teams any) error {
	f.discovered = teams
	return nil
}

func (f *fakeCache) DiscoveredTeams(out any, ttl time.Duration) bool { return false }

func TestBuildAndParseTeam(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)

	ev, err := Build(Params{
		Name:        "Morning Runners",
		About:       "dawn patrol",
		Public:      true,
		Activity:    "Running",
		ListSupport: true,
	}, sk)
	if err != nil {
		t.Fatal(err)
	}
	if err := protocol.VerifyEvent(ev); err != nil {
		t.Fatalf("built team fails verification: %v", err)
	}

	parsed, ok := Parse(ev)
	if !ok {
		t.Fatal("Parse rejected a built team")
	}
	if parsed.Name != "Morning Runners" || parsed.Captain != pk {
		t.Errorf("parsed = %+v", parsed)
	}
	if !parsed.Public || !parsed.ListSupport || parsed.Activity != "Running" {
		t.Errorf("flags lost: %+v", parsed)
	}
	if parsed.DTag == "" {
		t.Error("missing d tag")
	}
}

func TestParseRejectsCaptainMismatch(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	otherPK, _ := nostr.GetPublicKey(nostr.GeneratePrivateKey())

	ev := nostr.Event{
		Kind:      protocol.KindTeam,
		CreatedAt: nostr.Now(),
		Tags: nostr.Tags{
			{"d", "runners-1234"},
			{"name", "Runners"},
			{"captain", otherPK},
		},
	}
	if err := ev.Sign(sk); err != nil {
		t.Fatal(err)
	}
	if _, ok := Parse(&ev); ok {
		t.Error("accepted a team whose captain tag is not the author")
	}
}

func TestRequireCaptain(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)
	tm := &Team{Captain: pk}

	if err := tm.RequireCaptain(pk); err != nil {
		t.Errorf("captain rejected: %v", err)
	}
	npub, err := nip19.EncodePublicKey(pk)
	if err != nil {
		t.Fatal(err)
	}
	if err := tm.RequireCaptain(npub); err != nil {
		t.Errorf("npub form of captain rejected: %v", err)
	}
	stranger, _ := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	if err := tm.RequireCaptain(stranger); !errors.Is(err, ErrNotCaptain) {
		t.Errorf("stranger: %v, want ErrNotCaptain", err)
	}
}

// S1: a fresh team and list have the captain as the sole member.
func TestListCreation(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)

	listEv, err := BuildList("runners-1234", nil, sk)
	if err != nil {
		t.Fatal(err)
	}
	cache := newFakeCache()
	svc := NewService(&fakePool{events: []*nostr.Event{listEv}}, cache, nil)

	list, err := svc.GetList(context.Background(), pk, "runners-1234")
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Members) != 1 || list.Members[0] != pk {
		t.Errorf("roster = %v, want sole captain", list.Members)
	}
	if !list.IsMember(pk) {
		t.Error("captain not a member")
	}
	stranger, _ := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	if list.IsMember(stranger) {
		t.Error("stranger reported as member")
	}
	if snap, ok := cache.MemberSnapshot("runners-1234"); !ok || len(snap) != 1 {
		t.Errorf("snapshot not cached: %v %v", snap, ok)
	}
}

func TestGetListNotFound(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)
	svc := NewService(&fakePool{}, nil, nil)

	_, err := svc.GetList(context.Background(), pk, "runners-1234")
	if !errors.Is(err, ErrListNotFound) {
		t.Errorf("err = %v, want ErrListNotFound", err)
	}
}

func TestGetListPicksSupersedeWinner(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)
	member, _ := nostr.GetPublicKey(nostr.GeneratePrivateKey())

	old, err := BuildList("runners-1234", nil, sk)
	if err != nil {
		t.Fatal(err)
	}
	old.CreatedAt = 1000
	if err := old.Sign(sk); err != nil {
		t.Fatal(err)
	}
	newer, err := BuildList("runners-1234", []string{member}, sk)
	if err != nil {
		t.Fatal(err)
	}
	newer.CreatedAt = 2000
	if err := newer.Sign(sk); err != nil {
		t.Fatal(err)
	}

	svc := NewService(&fakePool{events: []*nostr.Event{old, newer}}, nil, nil)
	list, err := svc.GetList(context.Background(), pk, "runners-1234")
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Members) != 2 {
		t.Errorf("stale list version won: %v", list.Members)
	}
}

// S2: add then remove round-trips the roster; re-remove is a no-op.
func TestPrepareAddRemove(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)
	p1, _ := nostr.GetPublicKey(nostr.GeneratePrivateKey())

	listEv, err := BuildList("runners-1234", nil, sk)
	if err != nil {
		t.Fatal(err)
	}
	svc := NewService(&fakePool{}, nil, nil)
	list := parseList(listEv)

	tmpl, err := svc.PrepareAdd(list, p1)
	if err != nil {
		t.Fatal(err)
	}
	if tmpl == nil {
		t.Fatal("PrepareAdd returned nil for a new member")
	}
	if tmpl.Sig != "" {
		t.Error("template is pre-signed")
	}
	if err := tmpl.Sign(sk); err != nil {
		t.Fatal(err)
	}
	grown := parseList(tmpl)
	if len(grown.Members) != 2 || !grown.IsMember(p1) || !grown.IsMember(pk) {
		t.Errorf("after add roster = %v", grown.Members)
	}

	// Adding an existing member is a no-op.
	if tmpl, err := svc.PrepareAdd(grown, p1); err != nil || tmpl != nil {
		t.Errorf("PrepareAdd(existing) = %v, %v", tmpl, err)
	}

	rm, err := svc.PrepareRemove(grown, p1)
	if err != nil {
		t.Fatal(err)
	}
	if rm == nil {
		t.Fatal("PrepareRemove returned nil for a present member")
	}
	if err := rm.Sign(sk); err != nil {
		t.Fatal(err)
	}
	shrunk := parseList(rm)
	if len(shrunk.Members) != 1 || shrunk.IsMember(p1) {
		t.Errorf("after remove roster = %v", shrunk.Members)
	}

	if tmpl, err := svc.PrepareRemove(shrunk, p1); err != nil || tmpl != nil {
		t.Errorf("PrepareRemove(absent) = %v, %v", tmpl, err)
	}
}

func TestPrepareRemoveProtectsCaptain(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)
	listEv, err := BuildList("runners-1234", nil, sk)
	if err != nil {
		t.Fatal(err)
	}
	svc := NewService(&fakePool{}, nil, nil)

	if _, err := svc.PrepareRemove(parseList(listEv), pk); !errors.Is(err, ErrNotCaptain) {
		t.Errorf("removing captain: %v, want ErrNotCaptain", err)
	}
}

type fakeLatest struct {
	ev *nostr.Event
}

func (f *fakeLatest) Latest(protocol.Coordinate) (*nostr.Event, bool) {
	return f.ev, f.ev != nil
}

func TestPrepareRejectsStaleList(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	p1, _ := nostr.GetPublicKey(nostr.GeneratePrivateKey())

	old, err := BuildList("runners-1234", nil, sk)
	if err != nil {
		t.Fatal(err)
	}
	old.CreatedAt = 1000
	if err := old.Sign(sk); err != nil {
		t.Fatal(err)
	}
	newer, err := BuildList("runners-1234", []string{p1}, sk)
	if err != nil {
		t.Fatal(err)
	}
	newer.CreatedAt = 2000
	if err := newer.Sign(sk); err != nil {
		t.Fatal(err)
	}

	svc := NewService(&fakePool{}, nil, &fakeLatest{ev: newer})
	if _, err := svc.PrepareAdd(parseList(old), p1); !errors.Is(err, ErrStaleList) {
		t.Errorf("stale prepare: %v, want ErrStaleList", err)
	}

	// The latest version itself prepares fine.
	p2, _ := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	if _, err := svc.PrepareAdd(parseList(newer), p2); err != nil {
		t.Errorf("fresh prepare rejected: %v", err)
	}
}

func TestListAcceptsNpubMembers(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	member, _ := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	npub, err := nip19.EncodePublicKey(member)
	if err != nil {
		t.Fatal(err)
	}

	listEv, err := BuildList("runners-1234", []string{npub}, sk)
	if err != nil {
		t.Fatal(err)
	}
	list := parseList(listEv)
	// Stored and compared in hex regardless of input encoding.
	if !list.IsMember(member) || !list.IsMember(npub) {
		t.Errorf("npub member lost: %v", list.Members)
	}
}

func TestDiscoverFiltersDeletedTeams(t *testing.T) {
	sk := nostr.GeneratePrivateKey()

	alive, err := Build(Params{Name: "Runners", Public: true}, sk)
	if err != nil {
		t.Fatal(err)
	}
	deleted, err := Build(Params{Name: "Deleted"}, sk)
	if err != nil {
		t.Fatal(err)
	}

	svc := NewService(&fakePool{events: []*nostr.Event{alive, deleted}}, nil, nil)

	teams, err := svc.Discover(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if len(teams) != 1 || teams[0].Name != "Runners" {
		t.Errorf("filtered discovery = %v", teams)
	}

	all, err := svc.Discover(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("unfiltered discovery = %d teams, want 2", len(all))
	}
}

func TestDiscoverDeduplicatesVersions(t *testing.T) {
	sk := nostr.GeneratePrivateKey()

	v1, err := Build(Params{Name: "Runners"}, sk)
	if err != nil {
		t.Fatal(err)
	}
	// A rename published later at the same coordinate.
	v2 := *v1
	v2.CreatedAt = v1.CreatedAt + 100
	v2.Tags = nostr.Tags{}
	for _, tag := range v1.Tags {
		if len(tag) >= 2 && tag[0] == "name" {
			v2.Tags = append(v2.Tags, nostr.Tag{"name", "Road Runners"})
			continue
		}
		v2.Tags = append(v2.Tags, tag)
	}
	if err := v2.Sign(sk); err != nil {
		t.Fatal(err)
	}

	svc := NewService(&fakePool{events: []*nostr.Event{v1, &v2}}, nil, nil)
	teams, err := svc.Discover(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if len(teams) != 1 {
		t.Fatalf("got %d teams, want 1", len(teams))
	}
	if teams[0].Name != "Road Runners" {
		t.Errorf("stale version won: %q", teams[0].Name)
	}
}
