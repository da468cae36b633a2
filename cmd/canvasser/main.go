// Command canvasser plays a running campaign automatically.
// It observes the race, picks a move with fixed rules, and acts via the
// click and buy endpoints until the race is decided.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/talgya/campaign/internal/canvasser"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Configuration from environment.
	apiURL := envOrDefault("CAMPAIGN_API_URL", "http://localhost:8080")
	intervalMs := envIntOrDefault("CANVASSER_INTERVAL_MS", 100)
	maxPayback := envIntOrDefault("CANVASSER_MAX_PAYBACK", 0)

	interval := time.Duration(intervalMs) * time.Millisecond
	rules := canvasser.Rules{MaxPaybackSeconds: float64(maxPayback)}

	slog.Info("canvasser starting",
		"api_url", apiURL,
		"interval", interval,
		"max_payback", maxPayback,
	)

	observer := canvasser.NewObserver(apiURL)
	actor := canvasser.NewActor(apiURL)
	mem := canvasser.NewMemory()

	slog.Info("waiting for campaign API...")
	waitForAPI(apiURL)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			if done := runCycle(observer, actor, rules, mem); done {
				fmt.Println("Canvasser finished:", mem.Summary())
				return
			}
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			fmt.Println("Canvasser stopped:", mem.Summary())
			return
		}
	}
}

// runCycle executes one observe → decide → act cycle. It reports true once
// the race is decided.
func runCycle(observer *canvasser.Observer, actor *canvasser.Actor, rules canvasser.Rules, mem *canvasser.CycleMemory) bool {
	snap, err := observer.Observe()
	if err != nil {
		slog.Error("observation failed", "error", err)
		return false
	}

	decision := canvasser.Decide(snap, rules)
	if decision.Action == canvasser.ActionStop {
		slog.Info("race decided",
			"state", snap.Status.State,
			"player_votes", snap.Status.PlayerVotes,
			"opponent_votes", snap.Status.OpponentVotes,
			"elapsed", snap.Status.ElapsedSeconds,
		)
		return true
	}

	result, err := actor.Act(decision)
	var limited *canvasser.RateLimitedError
	switch {
	case errors.Is(err, canvasser.ErrGameOver):
		return true
	case errors.As(err, &limited):
		slog.Warn("rate limited", "retry_after", limited.RetryAfter)
		time.Sleep(limited.RetryAfter)
		return false
	case err != nil:
		slog.Error("action failed", "action", decision.Action, "error", err)
		return false
	}

	outcome := "ok"
	if decision.Action == canvasser.ActionBuy && !result.Success {
		outcome = result.Result
	}
	mem.Record(canvasser.CycleRecord{
		Step:        snap.Status.Step,
		Action:      decision.Action,
		Producer:    decision.Producer,
		Outcome:     outcome,
		PlayerVotes: result.PlayerVotes,
	})

	if decision.Action == canvasser.ActionBuy {
		slog.Info("recruited",
			"producer", decision.Producer,
			"outcome", outcome,
			"owned", result.Owned,
			"rationale", decision.Rationale,
		)
	}
	return false
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// waitForAPI polls the campaign status endpoint with exponential backoff
// until it responds. Exits after 5 minutes if the API never becomes ready.
func waitForAPI(apiURL string) {
	backoff := 500 * time.Millisecond
	maxBackoff := 10 * time.Second
	deadline := time.Now().Add(5 * time.Minute)

	for {
		resp, err := http.Get(apiURL + "/api/v1/status")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				slog.Info("campaign API is ready")
				return
			}
		}
		if time.Now().After(deadline) {
			slog.Error("campaign API did not become ready within 5 minutes")
			os.Exit(1)
		}
		slog.Info("campaign not ready, retrying...", "backoff", backoff)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
