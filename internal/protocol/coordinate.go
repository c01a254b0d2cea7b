package protocol

import "github.com/nbd-wtf/go-nostr"

// Coordinate identifies one logical addressable object: two events sharing
// a coordinate are two versions of the same thing.
type Coordinate struct {
	PubKey string
	Kind   int
	DTag   string
}

// CoordinateOf extracts the addressable coordinate of an event, or false
// if the kind is not addressable or the d tag is missing.
func CoordinateOf(ev *nostr.Event) (Coordinate, bool) {
	if !IsAddressable(ev.Kind) {
		return Coordinate{}, false
	}
	d, ok := LookupTag(ev, "d")
	if !ok {
		return Coordinate{}, false
	}
	return Coordinate{PubKey: ev.PubKey, Kind: ev.Kind, DTag: d}, true
}

// Supersedes reports whether incoming replaces stored under the
// addressable replace rule: larger created_at wins; on a timestamp tie the
// lexicographically smaller id wins. Ties never produce split-brain.
func Supersedes(incoming, stored *nostr.Event) bool {
	if stored == nil {
		return true
	}
	if incoming.CreatedAt != stored.CreatedAt {
		return incoming.CreatedAt > stored.CreatedAt
	}
	return incoming.ID < stored.ID
}

// FirstTag returns the first value of the first tag whose key matches, or
// "" when no such tag exists.
func FirstTag(ev *nostr.Event, key string) string {
	v, _ := LookupTag(ev, key)
	return v
}

// LookupTag is FirstTag with a presence bit, for callers that must tell a
// missing tag from an empty value.
func LookupTag(ev *nostr.Event, key string) (string, bool) {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == key {
			return tag[1], true
		}
	}
	return "", false
}

// TagValues returns every value carried by tags with the given key.
func TagValues(ev *nostr.Event, key string) []string {
	var vals []string
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == key {
			vals = append(vals, tag[1])
		}
	}
	return vals
}
