// Package store implements the process-wide addressable event cache: the
// latest observed version of every (pubkey, kind, d-tag) coordinate,
// with the deterministic supersede rule and coalesced persistence to the
// key/value cache.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/protocol"
)

// KV is the persistence collaborator: a flat key/value cache with prefix
// scans. internal/db satisfies it.
type KV interface {
	SetKV(key, value string) error
	GetKV(key string) (string, bool)
	ScanKV(prefix string) (map[string]string, error)
}

const (
	keyPrefix     = "addressable/"
	flushInterval = time.Second
)

// Addressable caches the latest seen event per coordinate. Writes come
// from a single writer (the pool's event middleware); reads are lock-free
// snapshots off the concurrent map. Dirty coordinates are flushed to the
// KV cache on a 1 s coalesced schedule.
type Addressable struct {
	events *xsync.MapOf[protocol.Coordinate, *nostr.Event]

	kv      KV // nil disables persistence
	mu      sync.Mutex
	dirty   map[protocol.Coordinate]struct{}
	replace sync.Mutex // serializes the read-compare-write in Observe
}

// New creates an empty store. kv may be nil for a purely in-memory store.
func New(kv KV) *Addressable {
	return &Addressable{
		events: xsync.NewMapOf[protocol.Coordinate, *nostr.Event](),
		kv:     kv,
		dirty:  make(map[protocol.Coordinate]struct{}),
	}
}

// Preload warms the cache from the KV collaborator. Damaged entries are
// skipped with a warning; they will be re-fetched from relays.
func (a *Addressable) Preload() {
	if a.kv == nil {
		return
	}
	entries, err := a.kv.ScanKV(keyPrefix)
	if err != nil {
		slog.Warn("addressable preload failed", "error", err)
		return
	}
	loaded := 0
	for key, raw := range entries {
		var ev nostr.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			slog.Warn("dropping damaged addressable cache entry", "key", key, "error", err)
			continue
		}
		if coord, ok := protocol.CoordinateOf(&ev); ok {
			a.events.Store(coord, &ev)
			loaded++
		}
	}
	slog.Info("addressable store preloaded", "entries", loaded)
}

// Observe applies the replace rule to an incoming event and reports
// whether it superseded the stored version. Non-addressable events are
// ignored.
func (a *Addressable) Observe(ev *nostr.Event) bool {
	coord, ok := protocol.CoordinateOf(ev)
	if !ok {
		return false
	}

	a.replace.Lock()
	stored, _ := a.events.Load(coord)
	if !protocol.Supersedes(ev, stored) {
		a.replace.Unlock()
		return false
	}
	a.events.Store(coord, ev)
	a.replace.Unlock()

	if a.kv != nil {
		a.mu.Lock()
		a.dirty[coord] = struct{}{}
		a.mu.Unlock()
	}
	return true
}

// Latest returns the latest observed event at a coordinate.
func (a *Addressable) Latest(coord protocol.Coordinate) (*nostr.Event, bool) {
	return a.events.Load(coord)
}

// LatestByAuthorKind returns every cached event for one author and kind.
func (a *Addressable) LatestByAuthorKind(pubkey string, kind int) []*nostr.Event {
	var out []*nostr.Event
	a.events.Range(func(c protocol.Coordinate, ev *nostr.Event) bool {
		if c.PubKey == pubkey && c.Kind == kind {
			out = append(out, ev)
		}
		return true
	})
	return out
}

// Len reports the number of cached coordinates.
func (a *Addressable) Len() int { return a.events.Size() }

// Run flushes dirty coordinates to the KV cache every flushInterval until
// ctx is cancelled, then performs a final flush.
func (a *Addressable) Run(ctx context.Context) {
	if a.kv == nil {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.flush()
			return
		case <-ticker.C:
			a.flush()
		}
	}
}

func (a *Addressable) flush() {
	a.mu.Lock()
	if len(a.dirty) == 0 {
		a.mu.Unlock()
		return
	}
	dirty := a.dirty
	a.dirty = make(map[protocol.Coordinate]struct{})
	a.mu.Unlock()

	for coord := range dirty {
		ev, ok := a.events.Load(coord)
		if !ok {
			continue
		}
		raw, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := a.kv.SetKV(cacheKey(coord), string(raw)); err != nil {
			slog.Warn("addressable flush failed", "key", cacheKey(coord), "error", err)
		}
	}
}

func cacheKey(c protocol.Coordinate) string {
	return fmt.Sprintf("%s%s/%d/%s", keyPrefix, c.PubKey, c.Kind, c.DTag)
}
