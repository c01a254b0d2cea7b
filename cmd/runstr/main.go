// runstr is the decentralized fitness-competition core: teams, rosters,
// leagues, events, and leaderboards computed from signed workout records
// on public Nostr relays. It runs as a single binary with SQLite by
// default, requiring no external database.
//
// Usage:
//
//	export NOSTR_PRIVATE_KEY=<hex or nsec>
//	export NOSTR_RELAYS=wss://relay.damus.io,wss://nos.lol
//	./runstr
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/competition"
	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/config"
	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/db"
	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/leaderboard"
	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/relay"
	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/server"
	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/store"
	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/team"
	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/workout"
)

func main() {
	// Structured JSON logging by default — easy to parse with any log aggregator.
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("starting runstr core", "version", "1.0.0")

	// ─── Configuration ────────────────────────────────────────────────────────
	cfg := config.Load()
	slog.Info("config loaded",
		"relays", len(cfg.NostrRelays),
		"database", cfg.DatabaseURL,
		"pubkey", cfg.NostrPublicKey[:8],
	)

	// ─── Database ─────────────────────────────────────────────────────────────
	kv, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open database", "error", err, "url", cfg.DatabaseURL)
		os.Exit(1)
	}
	defer kv.Close()

	if err := kv.Migrate(); err != nil {
		slog.Error("database migration failed", "error", err)
		os.Exit(1)
	}

	// The persisted relay list survives admin edits across restarts.
	relays := kv.Relays()
	if len(relays) == 0 {
		relays = cfg.NostrRelays
	}

	// ─── Graceful shutdown ────────────────────────────────────────────────────
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ─── Addressable store ────────────────────────────────────────────────────
	addr := store.New(kv)
	addr.Preload()
	go addr.Run(ctx)

	// ─── Relay pool ───────────────────────────────────────────────────────────
	pool := relay.New(relays, cfg.Pool,
		relay.WithEventMiddleware(func(ev *nostr.Event, relayURL string) {
			addr.Observe(ev)
		}),
		relay.WithAuthSigner(func(ev *nostr.Event) error {
			return ev.Sign(cfg.NostrPrivateKey)
		}),
		relay.WithRelaysChanged(func(urls []string) {
			if err := kv.SetRelays(urls); err != nil {
				slog.Warn("persisting relay list failed", "error", err)
			}
		}),
	)
	pool.Start(ctx)
	if !pool.WaitForMinimumConnection(ctx, 2, 2*time.Second) {
		slog.Warn("starting degraded, connection work continues in the background",
			"connected", pool.Status().ConnectedCount)
	}

	// ─── Services ─────────────────────────────────────────────────────────────
	publisher := relay.NewPublisher(pool)
	teams := team.NewService(pool, kv, addr)
	competitions := competition.NewService(publisher, pool)
	workouts := workout.NewService(pool)
	leaderboards := leaderboard.NewService(teams, competitions, workouts)

	// ─── HTTP server ──────────────────────────────────────────────────────────
	srv := server.New(cfg, pool)
	srv.SetTeamAPI(teams)
	srv.SetCompetitionAPI(competitions)
	srv.SetLeaderboardAPI(leaderboards)
	srv.Start(ctx) // blocks until ctx is cancelled

	slog.Info("runstr core stopped")
}
