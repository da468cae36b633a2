// Command campaign runs one vote race and serves it over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/campaign/internal/api"
	"github.com/talgya/campaign/internal/config"
	"github.com/talgya/campaign/internal/engine"
	"github.com/talgya/campaign/internal/entropy"
	"github.com/talgya/campaign/internal/journal"
	"github.com/talgya/campaign/internal/persistence"
	"github.com/talgya/campaign/internal/session"
)

func main() {
	// ── Configuration ─────────────────────────────────────────────────
	cfgPath := envOrDefault("CAMPAIGN_CONFIG", "configs/campaign.yaml")
	cfg, err := config.Load(cfgPath)
	if errors.Is(err, os.ErrNotExist) {
		cfg = config.Default()
		err = nil
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	slog.Info("Campaign: vote race", "config", cfgPath, "total_votes", cfg.TotalVotes, "supporters", len(cfg.Supporters))

	// ── Database ──────────────────────────────────────────────────────
	var db *persistence.DB
	if cfg.Database != "" {
		db, err = persistence.Open(cfg.Database)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		slog.Info("database opened", "path", cfg.Database)

		if rec, err := db.Record(); err == nil && rec.Played > 0 {
			slog.Info("campaign record", "played", rec.Played, "won", rec.Won, "lost", rec.Lost)
		}
	} else {
		slog.Warn("no database configured, match history disabled")
	}

	// ── Session ───────────────────────────────────────────────────────
	rng := entropy.New(cfg.Seed)
	sess, err := session.New(cfg, rng)
	if err != nil {
		slog.Error("failed to create session", "error", err)
		os.Exit(1)
	}
	slog.Info("random source ready", "seed", rng.Seed())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recordDone := make(chan struct{})
	if db != nil {
		sess.OnFinish = func(res session.Result) {
			if err := db.SaveSession(res); err != nil {
				slog.Error("saving session failed", "error", err)
			}
		}
		_, ch := sess.SubscribeAll()
		go func() {
			defer close(recordDone)
			if err := db.RecordEvents(context.Background(), sess.ID.String(), ch); err != nil {
				slog.Error("event recording stopped", "error", err)
			}
		}()
	} else {
		close(recordDone)
	}

	// ── Journal ───────────────────────────────────────────────────────
	journalDone := make(chan struct{})
	if cfg.JournalDir != "" {
		jw, err := journal.Create(cfg.JournalDir, sess.ID.String())
		if err != nil {
			slog.Error("failed to open journal", "error", err)
			os.Exit(1)
		}
		_, ch := sess.SubscribeAll()
		go func() {
			defer close(journalDone)
			if err := jw.Drain(context.Background(), ch); err != nil {
				slog.Error("journal close failed", "error", err)
			}
		}()
		slog.Info("journal opened", "path", jw.Path())
	} else {
		close(journalDone)
	}

	// ── Engine ────────────────────────────────────────────────────────
	eng := engine.NewEngine()
	eng.Interval = cfg.StepInterval()
	eng.SetSpeed(cfg.Speed)
	eng.OnStep = func(step uint64, dt time.Duration) {
		sess.Step(dt)
		if sess.Over() {
			eng.Stop()
		}
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	adminKey := os.Getenv("CAMPAIGN_ADMIN_KEY")
	if adminKey == "" {
		slog.Warn("CAMPAIGN_ADMIN_KEY not set, speed changes will be disabled")
	}

	apiServer := &api.Server{
		Session:  sess,
		Eng:      eng,
		DB:       db,
		Port:     cfg.APIPort,
		AdminKey: adminKey,
		RelayKey: os.Getenv("CAMPAIGN_RELAY_KEY"),
	}
	apiServer.Start()

	// ── Start ─────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	fmt.Printf("\nThe race is on: first to %s of %s votes wins.\n",
		humanize.Comma(int64(cfg.TotalVotes/2)), humanize.Comma(int64(cfg.TotalVotes)))
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.APIPort)
	fmt.Println("Starting campaign... (Ctrl+C to stop)")

	eng.Run(ctx)

	// Keep serving the final state until asked to stop.
	if sess.Over() && ctx.Err() == nil {
		fmt.Println("Race decided. API stays up for the results (Ctrl+C to exit).")
		<-ctx.Done()
	}

	sess.Close()
	<-journalDone
	<-recordDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}

	res := sess.Result()
	st := res.Stats
	fmt.Printf("Campaign %s after %ds: %s votes for you, %s for the opposition.\n",
		res.Outcome, res.ElapsedSeconds,
		humanize.Comma(int64(res.PlayerVotes)), humanize.Comma(int64(res.OpponentVotes)))
	fmt.Printf("%s clicks, %s supporters recruited, %s votes spent.\n",
		humanize.Comma(int64(st.Clicks)), humanize.Comma(int64(st.Purchases)), humanize.Comma(int64(st.VotesSpent)))
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
