// Package persistence stores finished races and their event logs in SQLite.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/campaign/internal/economy"
	"github.com/talgya/campaign/internal/session"
)

// DB wraps a SQLite connection for match history.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path, creating the
// parent directory if needed.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		outcome TEXT NOT NULL,
		total_votes INTEGER NOT NULL,
		player_votes INTEGER NOT NULL,
		opponent_votes INTEGER NOT NULL,
		elapsed_seconds INTEGER NOT NULL,
		stats_json TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		step INTEGER NOT NULL,
		elapsed_seconds INTEGER NOT NULL,
		category TEXT NOT NULL,
		description TEXT NOT NULL,
		meta_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS campaign_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_events_session ON events(session_id, seq);
	CREATE INDEX IF NOT EXISTS idx_sessions_finished ON sessions(finished_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// resultRow is the sessions table as sqlx scans it.
type resultRow struct {
	ID             string `db:"id"`
	Outcome        string `db:"outcome"`
	TotalVotes     int    `db:"total_votes"`
	PlayerVotes    int    `db:"player_votes"`
	OpponentVotes  int    `db:"opponent_votes"`
	ElapsedSeconds int    `db:"elapsed_seconds"`
	StatsJSON      string `db:"stats_json"`
	StartedAt      int64  `db:"started_at"`
	FinishedAt     int64  `db:"finished_at"`
}

func (r resultRow) result() (session.Result, error) {
	outcome, ok := economy.ParseGameState(r.Outcome)
	if !ok {
		return session.Result{}, fmt.Errorf("session %s: unknown outcome %q", r.ID, r.Outcome)
	}
	res := session.Result{
		ID:             r.ID,
		Outcome:        outcome,
		Threshold:      r.TotalVotes,
		PlayerVotes:    r.PlayerVotes,
		OpponentVotes:  r.OpponentVotes,
		ElapsedSeconds: r.ElapsedSeconds,
		StartedAt:      time.UnixMilli(r.StartedAt).UTC(),
		FinishedAt:     time.UnixMilli(r.FinishedAt).UTC(),
	}
	if err := json.Unmarshal([]byte(r.StatsJSON), &res.Stats); err != nil {
		return session.Result{}, fmt.Errorf("session %s: decode stats: %w", r.ID, err)
	}
	return res, nil
}

// SaveResult writes one finished race. Saving the same id twice replaces it.
func (db *DB) SaveResult(r session.Result) error {
	statsJSON, err := json.Marshal(r.Stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}

	_, err = db.conn.Exec(`INSERT OR REPLACE INTO sessions
		(id, outcome, total_votes, player_votes, opponent_votes, elapsed_seconds,
		 stats_json, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Outcome.String(), r.Threshold, r.PlayerVotes, r.OpponentVotes,
		r.ElapsedSeconds, string(statsJSON), r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", r.ID, err)
	}
	return nil
}

// SaveEvents appends a session's events to the database. Events already
// stored under the same sequence number are skipped.
func (db *DB) SaveEvents(sessionID string, events []session.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT OR IGNORE INTO events
		(session_id, seq, step, elapsed_seconds, category, description, meta_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		metaJSON, _ := json.Marshal(e.Meta)
		if _, err := stmt.Exec(
			sessionID, e.Seq, e.Step, e.Elapsed, e.Category, e.Description, string(metaJSON),
		); err != nil {
			return fmt.Errorf("insert event %d: %w", e.Seq, err)
		}
	}

	return tx.Commit()
}

// SaveMeta stores a key-value pair in campaign metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO campaign_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM campaign_meta WHERE key = ?", key)
	return value, err
}

// SaveSession stores a finished race's summary and marks it as the last
// session. Its events arrive separately through RecordEvents.
func (db *DB) SaveSession(r session.Result) error {
	slog.Info("saving session", "id", r.ID, "outcome", r.Outcome.String())

	if err := db.SaveResult(r); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	if err := db.SaveMeta("last_session", r.ID); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	return nil
}

// recordBatch caps how many queued events go into one transaction.
const recordBatch = 256

// RecordEvents stores events from ch as they arrive, batching whatever is
// already queued into one transaction. It returns when ch closes or ctx is
// done. A failed batch is logged and recording continues.
func (db *DB) RecordEvents(ctx context.Context, sessionID string, ch <-chan session.Event) error {
	stored := 0
	for {
		var batch []session.Event
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				slog.Info("event recording finished", "session", sessionID, "events", stored)
				return nil
			}
			batch = append(batch, e)
		}

		closed := false
	fill:
		for len(batch) < recordBatch {
			select {
			case e, ok := <-ch:
				if !ok {
					closed = true
					break fill
				}
				batch = append(batch, e)
			default:
				break fill
			}
		}

		if err := db.SaveEvents(sessionID, batch); err != nil {
			slog.Warn("recording events failed", "session", sessionID, "first_seq", batch[0].Seq, "count", len(batch), "error", err)
		} else {
			stored += len(batch)
		}
		if closed {
			slog.Info("event recording finished", "session", sessionID, "events", stored)
			return nil
		}
	}
}

// RecentResults returns the most recently finished races, newest first.
func (db *DB) RecentResults(limit int) ([]session.Result, error) {
	var rows []resultRow
	err := db.conn.Select(&rows,
		`SELECT id, outcome, total_votes, player_votes, opponent_votes, elapsed_seconds,
		        stats_json, started_at, finished_at
		 FROM sessions ORDER BY finished_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}

	out := make([]session.Result, 0, len(rows))
	for _, r := range rows {
		res, err := r.result()
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Record is the all-time win/loss tally.
type Record struct {
	Played int `db:"played" json:"played"`
	Won    int `db:"won" json:"won"`
	Lost   int `db:"lost" json:"lost"`
}

// Record tallies every stored race by outcome.
func (db *DB) Record() (Record, error) {
	var rec Record
	err := db.conn.Get(&rec, `SELECT
		COUNT(*) AS played,
		COALESCE(SUM(outcome = 'won'), 0) AS won,
		COALESCE(SUM(outcome = 'lost'), 0) AS lost
		FROM sessions`)
	return rec, err
}

// SessionEvents returns the stored events for one race in order.
func (db *DB) SessionEvents(sessionID string) ([]session.Event, error) {
	var rows []struct {
		Seq         uint64 `db:"seq"`
		Step        uint64 `db:"step"`
		Elapsed     int    `db:"elapsed_seconds"`
		Category    string `db:"category"`
		Description string `db:"description"`
		MetaJSON    string `db:"meta_json"`
	}
	err := db.conn.Select(&rows,
		`SELECT seq, step, elapsed_seconds, category, description, meta_json
		 FROM events WHERE session_id = ? ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}

	out := make([]session.Event, 0, len(rows))
	for _, r := range rows {
		e := session.Event{
			Seq:         r.Seq,
			Step:        r.Step,
			Elapsed:     r.Elapsed,
			Category:    r.Category,
			Description: r.Description,
		}
		if r.MetaJSON != "" && r.MetaJSON != "null" {
			if err := json.Unmarshal([]byte(r.MetaJSON), &e.Meta); err != nil {
				return nil, fmt.Errorf("event %d: decode meta: %w", r.Seq, err)
			}
		}
		out = append(out, e)
	}
	return out, nil
}
