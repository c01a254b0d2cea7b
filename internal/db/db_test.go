package db

import (
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestDetectDriver(t *testing.T) {
	tests := []struct {
		url, driver, dsn string
	}{
		{"runstr.db", "sqlite", "runstr.db"},
		{"sqlite:///tmp/x.db", "sqlite", "/tmp/x.db"},
		{"postgres://u:p@host/db", "postgres", "postgres://u:p@host/db"},
		{"postgresql://u:p@host/db", "postgres", "postgresql://u:p@host/db"},
	}
	for _, tt := range tests {
		driver, dsn := detectDriver(tt.url)
		if driver != tt.driver || dsn != tt.dsn {
			t.Errorf("detectDriver(%q) = (%q, %q), want (%q, %q)", tt.url, driver, dsn, tt.driver, tt.dsn)
		}
	}
}

func TestKVRoundTrip(t *testing.T) {
	s := testStore(t)

	if _, ok := s.GetKV("missing"); ok {
		t.Error("GetKV(missing) reported ok")
	}

	if err := s.SetKV("k", "v1"); err != nil {
		t.Fatal(err)
	}
	if v, ok := s.GetKV("k"); !ok || v != "v1" {
		t.Errorf("GetKV = (%q, %v)", v, ok)
	}

	// Upsert replaces.
	if err := s.SetKV("k", "v2"); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.GetKV("k"); v != "v2" {
		t.Errorf("after upsert GetKV = %q", v)
	}

	if err := s.DeleteKV("k"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.GetKV("k"); ok {
		t.Error("key survived DeleteKV")
	}
}

func TestScanKV(t *testing.T) {
	s := testStore(t)
	pairs := map[string]string{
		"addressable/aa/30000/x": "1",
		"addressable/bb/30100/y": "2",
		"relays":                 "3",
	}
	for k, v := range pairs {
		if err := s.SetKV(k, v); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ScanKV("addressable/")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("ScanKV returned %d entries, want 2", len(got))
	}
	if got["addressable/aa/30000/x"] != "1" || got["addressable/bb/30100/y"] != "2" {
		t.Errorf("ScanKV = %v", got)
	}
}

func TestRelays(t *testing.T) {
	s := testStore(t)

	if urls := s.Relays(); urls != nil {
		t.Errorf("Relays on empty store = %v", urls)
	}

	want := []string{"wss://relay.damus.io", "wss://nos.lol"}
	if err := s.SetRelays(want); err != nil {
		t.Fatal(err)
	}
	got := s.Relays()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Relays = %v, want %v", got, want)
	}
}

func TestMemberSnapshot(t *testing.T) {
	s := testStore(t)

	// Missing snapshot is distinct from an empty roster.
	if _, ok := s.MemberSnapshot("ruckers-4f2a"); ok {
		t.Error("missing snapshot reported ok")
	}

	if err := s.SetMemberSnapshot("ruckers-4f2a", []string{}); err != nil {
		t.Fatal(err)
	}
	members, ok := s.MemberSnapshot("ruckers-4f2a")
	if !ok {
		t.Fatal("empty roster snapshot not found")
	}
	if len(members) != 0 {
		t.Errorf("members = %v, want empty", members)
	}

	if err := s.SetMemberSnapshot("ruckers-4f2a", []string{"aa", "bb"}); err != nil {
		t.Fatal(err)
	}
	members, _ = s.MemberSnapshot("ruckers-4f2a")
	if len(members) != 2 {
		t.Errorf("members = %v", members)
	}
}

func TestDiscoveredTeamsTTL(t *testing.T) {
	s := testStore(t)

	type team struct {
		Name string `json:"name"`
	}

	var out []team
	if s.DiscoveredTeams(&out, time.Hour) {
		t.Error("cache hit on empty store")
	}

	if err := s.SetDiscoveredTeams([]team{{Name: "ruckers"}}); err != nil {
		t.Fatal(err)
	}
	if !s.DiscoveredTeams(&out, time.Hour) {
		t.Fatal("fresh cache entry missed")
	}
	if len(out) != 1 || out[0].Name != "ruckers" {
		t.Errorf("out = %v", out)
	}

	// An expired entry is a miss.
	if s.DiscoveredTeams(&out, -time.Second) {
		t.Error("expired cache entry hit")
	}
}
