package protocol

import (
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// NormalizePubKey accepts a public key as 64-char hex or bech32 npub and
// returns the hex form. All internal storage and equality comparisons use
// hex; npub is a rendering concern.
func NormalizePubKey(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "npub") {
		prefix, val, err := nip19.Decode(s)
		if err != nil {
			return "", fmt.Errorf("decode npub: %w", err)
		}
		if prefix != "npub" {
			return "", fmt.Errorf("expected npub, got %s", prefix)
		}
		return val.(string), nil
	}
	if !nostr.IsValidPublicKey(s) {
		return "", fmt.Errorf("invalid public key %q", shortKey(s))
	}
	return s, nil
}

// NormalizePrivateKey accepts a private key as hex or bech32 nsec and
// returns the hex form plus the derived public key.
func NormalizePrivateKey(s string) (sk, pk string, err error) {
	sk = strings.TrimSpace(s)
	if strings.HasPrefix(sk, "nsec") {
		prefix, val, err := nip19.Decode(sk)
		if err != nil {
			return "", "", fmt.Errorf("decode nsec: %w", err)
		}
		if prefix != "nsec" {
			return "", "", fmt.Errorf("expected nsec, got %s", prefix)
		}
		sk = val.(string)
	}
	pk, err = nostr.GetPublicKey(sk)
	if err != nil {
		return "", "", fmt.Errorf("derive public key: %w", err)
	}
	return sk, pk, nil
}

// Npub renders a hex public key as bech32; falls back to hex if encoding
// fails.
func Npub(hexPK string) string {
	npub, err := nip19.EncodePublicKey(hexPK)
	if err != nil {
		return hexPK
	}
	return npub
}

func shortKey(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
