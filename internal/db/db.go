// Package db implements the persistent key/value cache behind the core:
// relay lists, the addressable event cache, discovered teams, and member
// snapshots. It supports both SQLite (default, no external dependencies)
// and PostgreSQL (for larger deployments).
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Store wraps a database connection and provides all data access methods.
type Store struct {
	db     *sql.DB
	driver string
}

// Open opens a database connection. The URL can be:
//   - A file path like "runstr.db" → SQLite
//   - "sqlite:///path/to/file.db" → SQLite
//   - "postgres://..." → PostgreSQL
func Open(databaseURL string) (*Store, error) {
	driver, dsn := detectDriver(databaseURL)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if driver == "sqlite" {
		// SQLite performs best with WAL mode and a single writer.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}

	return &Store{db: db, driver: driver}, nil
}

// Migrate runs all pending database migrations.
func (s *Store) Migrate() error {
	slog.Info("running database migrations")
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			if s.driver == "postgres" && strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	slog.Info("migrations complete")
	return nil
}

// migrations lists DDL shared between SQLite and PostgreSQL.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── Key-Value store ──────────────────────────────────────────────────────────

// SetKV upserts a key-value pair.
func (s *Store) SetKV(key, value string) error {
	var q string
	if s.driver == "sqlite" {
		q = `INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`
	} else {
		q = `INSERT INTO kv (key, value) VALUES ($1, $2) ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value`
	}
	_, err := s.db.Exec(q, key, value)
	return err
}

// GetKV retrieves a value by key. Returns ("", false) if not found.
func (s *Store) GetKV(key string) (string, bool) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = `+s.ph(), key).Scan(&value)
	if err != nil {
		return "", false
	}
	return value, true
}

// DeleteKV removes a key.
func (s *Store) DeleteKV(key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE key = `+s.ph(), key)
	return err
}

// ScanKV returns every key/value pair whose key starts with prefix.
// Used to preload the addressable cache on startup.
func (s *Store) ScanKV(prefix string) (map[string]string, error) {
	var q string
	if s.driver == "sqlite" {
		q = `SELECT key, value FROM kv WHERE key LIKE ? || '%'`
	} else {
		q = `SELECT key, value FROM kv WHERE key LIKE $1 || '%'`
	}
	rows, err := s.db.Query(q, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		result[k] = v
	}
	return result, rows.Err()
}

// ─── Typed convenience accessors over the kv layout ──────────────────────────

const (
	keyRelays          = "relays"
	keyDiscoveredTeams = "teams/discovered"
	memberKeyPrefix    = "members/"
)

// SetRelays persists the relay URL list under the "relays" key.
func (s *Store) SetRelays(urls []string) error {
	raw, err := json.Marshal(urls)
	if err != nil {
		return err
	}
	return s.SetKV(keyRelays, string(raw))
}

// Relays returns the persisted relay URL list, or nil if none saved.
func (s *Store) Relays() []string {
	raw, ok := s.GetKV(keyRelays)
	if !ok {
		return nil
	}
	var urls []string
	if err := json.Unmarshal([]byte(raw), &urls); err != nil {
		slog.Warn("damaged relays cache entry, ignoring", "error", err)
		return nil
	}
	return urls
}

// SetMemberSnapshot caches the latest roster (hex pubkeys) for a team.
func (s *Store) SetMemberSnapshot(teamDTag string, members []string) error {
	raw, err := json.Marshal(members)
	if err != nil {
		return err
	}
	return s.SetKV(memberKeyPrefix+teamDTag, string(raw))
}

// MemberSnapshot returns the cached roster for a team, with ok=false when
// no snapshot exists — callers must treat that as "no roster yet", not as
// an empty roster.
func (s *Store) MemberSnapshot(teamDTag string) ([]string, bool) {
	raw, ok := s.GetKV(memberKeyPrefix + teamDTag)
	if !ok {
		return nil, false
	}
	var members []string
	if err := json.Unmarshal([]byte(raw), &members); err != nil {
		return nil, false
	}
	return members, true
}

type discoveredTeams struct {
	SavedAt time.Time       `json:"saved_at"`
	Teams   json.RawMessage `json:"teams"`
}

// SetDiscoveredTeams caches a team discovery result with its save time.
func (s *Store) SetDiscoveredTeams(teams any) error {
	rawTeams, err := json.Marshal(teams)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(discoveredTeams{SavedAt: time.Now().UTC(), Teams: rawTeams})
	if err != nil {
		return err
	}
	return s.SetKV(keyDiscoveredTeams, string(raw))
}

// DiscoveredTeams loads the cached discovery result if it is younger than
// ttl, unmarshalling into out.
func (s *Store) DiscoveredTeams(out any, ttl time.Duration) bool {
	raw, ok := s.GetKV(keyDiscoveredTeams)
	if !ok {
		return false
	}
	var cached discoveredTeams
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return false
	}
	if time.Since(cached.SavedAt) > ttl {
		return false
	}
	return json.Unmarshal(cached.Teams, out) == nil
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// ph returns the SQL placeholder token for a single-argument query.
// SQLite uses ? and PostgreSQL uses $1.
func (s *Store) ph() string {
	if s.driver == "postgres" {
		return "$1"
	}
	return "?"
}

func detectDriver(u string) (driver, dsn string) {
	if strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://") {
		return "postgres", u
	}
	if strings.HasPrefix(u, "sqlite://") {
		return "sqlite", strings.TrimPrefix(u, "sqlite://")
	}
	// Treat bare paths as SQLite file paths.
	return "sqlite", u
}
