package protocol

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// BuildEventFrame serializes an outbound ["EVENT", event] frame. The pool
// queues these on connections that are between attempts and writes them
// raw on reconnect.
func BuildEventFrame(ev *nostr.Event) ([]byte, error) {
	env := nostr.EventEnvelope{Event: *ev}
	return env.MarshalJSON()
}

// VerifyEvent checks the two ingress invariants: the id equals the hash of
// the canonical serialization, and the Schnorr signature over the id
// verifies against the author pubkey. Events failing either check are
// dropped at ingress.
func VerifyEvent(ev *nostr.Event) error {
	if !nostr.IsValidPublicKey(ev.PubKey) {
		return fmt.Errorf("%w: pubkey %q", ErrBadSignature, ev.PubKey)
	}
	if ev.GetID() != ev.ID {
		return fmt.Errorf("%w: %s", ErrBadID, ev.ID)
	}
	if ok, err := ev.CheckSignature(); !ok || err != nil {
		return fmt.Errorf("%w: %s", ErrBadSignature, ev.ID)
	}
	return nil
}
