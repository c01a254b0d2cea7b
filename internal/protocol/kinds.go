// Package protocol implements the Nostr wire layer used by the fitness
// core: frame parsing and construction, event verification, addressable
// event coordinates, and the event builder/signer.
package protocol

// Event kinds used by the core.
const (
	KindWorkoutRecord  = 1301  // regular event
	KindMembershipList = 30000 // NIP-51 categorized people list
	KindLeague         = 30100 // addressable league definition
	KindFitnessEvent   = 30101 // addressable one-day event definition
	KindTeam           = 33404 // addressable team definition
)

// IsAddressable reports whether a kind is parameterized-replaceable, i.e.
// its logical identity is the (pubkey, kind, d-tag) coordinate.
func IsAddressable(kind int) bool {
	return kind >= 30000 && kind < 40000
}
