package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/talgya/campaign/internal/config"
	"github.com/talgya/campaign/internal/economy"
	"github.com/talgya/campaign/internal/entropy"
	"github.com/talgya/campaign/internal/session"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "campaign.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testResult(id string, outcome economy.GameState, finished time.Time) session.Result {
	return session.Result{
		ID:             id,
		Outcome:        outcome,
		Threshold:      1000,
		PlayerVotes:    512,
		OpponentVotes:  340,
		ElapsedSeconds: 42,
		Stats: session.Stats{
			Clicks:          300,
			ClickVotes:      300,
			Purchases:       4,
			VotesSpent:      90,
			FailedPurchases: map[string]int{"insufficient_funds": 2},
		},
		StartedAt:  finished.Add(-42 * time.Second),
		FinishedAt: finished,
	}
}

func TestSaveAndLoadResults(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := db.SaveResult(testResult("a", economy.StateWon, base)); err != nil {
		t.Fatalf("save a: %v", err)
	}
	if err := db.SaveResult(testResult("b", economy.StateLost, base.Add(time.Minute))); err != nil {
		t.Fatalf("save b: %v", err)
	}

	got, err := db.RecentResults(10)
	if err != nil {
		t.Fatalf("RecentResults: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results got %d", len(got))
	}
	if got[0].ID != "b" || got[1].ID != "a" {
		t.Fatalf("expected newest first, got %s then %s", got[0].ID, got[1].ID)
	}
	if got[0].Outcome != economy.StateLost || got[1].Outcome != economy.StateWon {
		t.Fatalf("outcomes not preserved: %s %s", got[0].Outcome, got[1].Outcome)
	}
	a := got[1]
	if a.PlayerVotes != 512 || a.Stats.Clicks != 300 || a.Stats.FailedPurchases["insufficient_funds"] != 2 {
		t.Fatalf("fields not preserved: %+v", a)
	}
	if !a.FinishedAt.Equal(base) {
		t.Fatalf("expected finished at %v got %v", base, a.FinishedAt)
	}

	limited, err := db.RecentResults(1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("expected 1 limited result, got %d (%v)", len(limited), err)
	}
}

func TestRecord(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()

	rec, err := db.Record()
	if err != nil {
		t.Fatalf("Record on empty db: %v", err)
	}
	if rec.Played != 0 {
		t.Fatalf("expected empty record got %+v", rec)
	}

	for i, outcome := range []economy.GameState{economy.StateWon, economy.StateLost, economy.StateWon} {
		id := string(rune('a' + i))
		if err := db.SaveResult(testResult(id, outcome, now)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	// Replacing an id does not double count.
	if err := db.SaveResult(testResult("a", economy.StateWon, now)); err != nil {
		t.Fatalf("resave: %v", err)
	}

	rec, err = db.Record()
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.Played != 3 || rec.Won != 2 || rec.Lost != 1 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestSaveSessionEvents(t *testing.T) {
	db := openTestDB(t)
	res := testResult("s1", economy.StateWon, time.Now())
	events := []session.Event{
		{Seq: 1, Step: 0, Category: "click", Description: "Ballot cast: +1", Meta: map[string]any{"votes": 1}},
		{Seq: 2, Step: 20, Elapsed: 1, Category: "opponent", Description: "The opposition gained 9 votes"},
		{Seq: 3, Step: 20, Elapsed: 1, Category: "won", Description: "You won the election!"},
	}

	if err := db.SaveSession(res); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := db.SaveEvents(res.ID, events); err != nil {
		t.Fatalf("SaveEvents: %v", err)
	}
	// A repeated batch is skipped rather than duplicated.
	if err := db.SaveEvents(res.ID, events[1:]); err != nil {
		t.Fatalf("repeat SaveEvents: %v", err)
	}

	got, err := db.SessionEvents("s1")
	if err != nil {
		t.Fatalf("SessionEvents: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events got %d", len(got))
	}
	if got[2].Category != "won" || got[1].Elapsed != 1 {
		t.Fatalf("events not preserved: %+v", got)
	}
	if v, ok := got[0].Meta["votes"].(float64); !ok || v != 1 {
		t.Fatalf("meta not preserved: %v", got[0].Meta)
	}
	if got[1].Meta != nil {
		t.Fatalf("expected nil meta got %v", got[1].Meta)
	}

	last, err := db.GetMeta("last_session")
	if err != nil || last != "s1" {
		t.Fatalf("expected last_session s1 got %q (%v)", last, err)
	}

	if err := db.SaveEvents("s1", nil); err != nil {
		t.Fatalf("empty save: %v", err)
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data", "campaign.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	db.Close()
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("expected directory created: %v", err)
	}
}

func TestOpenUnusableDirectory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	if _, err := Open(filepath.Join(blocker, "campaign.db")); err == nil {
		t.Fatalf("expected error when parent path is a file")
	}
}

func TestRecordEventsKeepsWholeRace(t *testing.T) {
	db := openTestDB(t)
	cfg := config.Default()
	cfg.TotalVotes = 1_000_000
	s, err := session.New(cfg, entropy.Fixed(3))
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}

	_, ch := s.SubscribeAll()
	const clicks = 1200
	for i := 0; i < clicks; i++ {
		s.Click()
	}

	done := make(chan error, 1)
	go func() { done <- db.RecordEvents(context.Background(), s.ID.String(), ch) }()
	s.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RecordEvents: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("RecordEvents did not return after Close")
	}

	// The in-memory log keeps only the newest events; the database keeps all.
	if first := s.Events(0)[0].Seq; first == 1 {
		t.Fatalf("expected in-memory log to be trimmed")
	}
	got, err := db.SessionEvents(s.ID.String())
	if err != nil {
		t.Fatalf("SessionEvents: %v", err)
	}
	if len(got) != clicks {
		t.Fatalf("expected %d events got %d", clicks, len(got))
	}
	for i, e := range got {
		if e.Seq != uint64(i+1) {
			t.Fatalf("event %d has seq %d", i, e.Seq)
		}
	}
}

func TestRecordEventsCancelled(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := db.RecordEvents(ctx, "s1", make(chan session.Event)); err == nil {
		t.Fatalf("expected context error")
	}
}
