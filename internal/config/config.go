package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/protocol"
	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/relay"
)

// defaultRelays is the initial fleet used when neither the environment
// nor the persistent cache supplies one.
var defaultRelays = []string{
	"wss://relay.damus.io",
	"wss://nos.lol",
	"wss://relay.primal.net",
	"wss://nostr.wine",
}

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	NostrPrivateKey string // hex
	NostrPublicKey  string // hex
	NostrNpub       string
	NostrRelays     []string
	DatabaseURL     string
	Port            string
	Pool            relay.Options
}

// Load reads configuration from environment variables.
// Exits if NOSTR_PRIVATE_KEY is missing or invalid.
func Load() *Config {
	rawKey := os.Getenv("NOSTR_PRIVATE_KEY")
	if rawKey == "" {
		fmt.Fprintln(os.Stderr, "ERROR: NOSTR_PRIVATE_KEY is not set!")
		fmt.Fprintln(os.Stderr, "Set it to your Nostr private key (hex or nsec).")
		os.Exit(1)
	}

	privKey, pubKey, err := protocol.NormalizePrivateKey(rawKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: invalid NOSTR_PRIVATE_KEY: %v\n", err)
		os.Exit(1)
	}

	relays := parseRelays(os.Getenv("NOSTR_RELAYS"))
	if len(relays) == 0 {
		relays = defaultRelays
	}

	return &Config{
		NostrPrivateKey: privKey,
		NostrPublicKey:  pubKey,
		NostrNpub:       protocol.Npub(pubKey),
		NostrRelays:     relays,
		DatabaseURL:     getEnv("DATABASE_URL", "runstr.db"),
		Port:            getEnv("PORT", "8000"),
		Pool: relay.Options{
			ConnectTimeout:       parseDuration(os.Getenv("CONNECTION_TIMEOUT"), 0),
			PingInterval:         parseDuration(os.Getenv("PING_INTERVAL"), 0),
			ReconnectDelay:       parseDuration(os.Getenv("RECONNECT_DELAY"), 0),
			MaxReconnectAttempts: parseInt(os.Getenv("MAX_RECONNECT_ATTEMPTS"), 0),
			PublishDeadline:      parseDuration(os.Getenv("PUBLISH_DEADLINE"), 0),
			SubscriptionDeadline: parseDuration(os.Getenv("SUBSCRIPTION_DEADLINE"), 0),
			MinRelaysForEOSE:     parseInt(os.Getenv("MIN_RELAYS_FOR_EOSE"), 0),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseRelays(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// parseDuration accepts Go duration strings ("4s", "500ms"). Zero values
// fall through to the pool's defaults.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
