package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/talgya/campaign/internal/config"
	"github.com/talgya/campaign/internal/economy"
	"github.com/talgya/campaign/internal/engine"
	"github.com/talgya/campaign/internal/entropy"
	"github.com/talgya/campaign/internal/persistence"
	"github.com/talgya/campaign/internal/session"
)

func newTestServer(t *testing.T, totalVotes int) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.TotalVotes = totalVotes
	sess, err := session.New(cfg, entropy.Fixed(10))
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	return &Server{
		Session:      sess,
		Eng:          engine.NewEngine(),
		AdminKey:     "secret",
		ClickLimiter: NewRateLimiter(1000, 1000),
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestStatusAndProducers(t *testing.T) {
	s := newTestServer(t, 1000)
	h := s.Routes()

	rec := do(t, h, http.MethodGet, "/api/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200 got %d", rec.Code)
	}
	var status struct {
		TotalVotes   int     `json:"total_votes"`
		WinningVotes int     `json:"winning_votes"`
		State        string  `json:"state"`
		Speed        float64 `json:"speed"`
		Producers    []any   `json:"producers"`
	}
	decode(t, rec, &status)
	if status.TotalVotes != 1000 || status.WinningVotes != 500 || status.State != "continue" {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.Speed != 1 {
		t.Fatalf("expected speed 1 got %v", status.Speed)
	}
	if len(status.Producers) != 0 {
		t.Fatalf("status should not list producers")
	}

	rec = do(t, h, http.MethodGet, "/api/v1/producers", "")
	var producers []session.ProducerView
	decode(t, rec, &producers)
	if len(producers) != 4 || producers[0].ID != "volunteer" || producers[0].Description == "" {
		t.Fatalf("unexpected producers %+v", producers)
	}
}

func TestClickAndBuy(t *testing.T) {
	s := newTestServer(t, 1000)
	h := s.Routes()

	if rec := do(t, h, http.MethodGet, "/api/v1/click", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET click: expected 405 got %d", rec.Code)
	}

	for i := 0; i < 12; i++ {
		rec := do(t, h, http.MethodPost, "/api/v1/click", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("click %d: expected 200 got %d", i, rec.Code)
		}
	}

	rec := do(t, h, http.MethodPost, "/api/v1/buy", `{"producer":"volunteer"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("buy: expected 200 got %d: %s", rec.Code, rec.Body)
	}
	var buy struct {
		Result      string `json:"result"`
		Success     bool   `json:"success"`
		Owned       int    `json:"owned"`
		PlayerVotes int    `json:"player_votes"`
	}
	decode(t, rec, &buy)
	if !buy.Success || buy.Result != "ok" || buy.Owned != 1 || buy.PlayerVotes != 2 {
		t.Fatalf("unexpected buy response %+v", buy)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/buy", `{"producer":"volunteer"}`)
	decode(t, rec, &buy)
	if buy.Success || buy.Result != "insufficient_funds" || buy.Owned != 1 {
		t.Fatalf("expected insufficient funds got %+v", buy)
	}

	if rec := do(t, h, http.MethodPost, "/api/v1/buy", `{"producer":"mayor"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown producer: expected 404 got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/buy", `not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad body: expected 400 got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/buy", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty producer: expected 400 got %d", rec.Code)
	}

	var stats session.Stats
	decode(t, do(t, h, http.MethodGet, "/api/v1/stats", ""), &stats)
	if stats.Clicks != 12 || stats.Purchases != 1 || stats.FailedPurchases["unknown_type"] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestGameOverConflicts(t *testing.T) {
	s := newTestServer(t, 4)
	h := s.Routes()

	do(t, h, http.MethodPost, "/api/v1/click", "")
	rec := do(t, h, http.MethodPost, "/api/v1/click", "")
	var click struct {
		State string `json:"state"`
	}
	decode(t, rec, &click)
	if click.State != "won" {
		t.Fatalf("expected won after 2 clicks at threshold 4, got %q", click.State)
	}

	if rec := do(t, h, http.MethodPost, "/api/v1/click", ""); rec.Code != http.StatusConflict {
		t.Fatalf("click after win: expected 409 got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/buy", `{"producer":"volunteer"}`); rec.Code != http.StatusConflict {
		t.Fatalf("buy after win: expected 409 got %d", rec.Code)
	}
}

func TestEventsLimitAndFilter(t *testing.T) {
	s := newTestServer(t, 1000)
	h := s.Routes()
	for i := 0; i < 5; i++ {
		do(t, h, http.MethodPost, "/api/v1/click", "")
	}
	do(t, h, http.MethodPost, "/api/v1/buy", `{"producer":"newspaper"}`)

	var events []session.Event
	decode(t, do(t, h, http.MethodGet, "/api/v1/events?limit=2", ""), &events)
	if len(events) != 2 || events[1].Category != "purchase_failed" {
		t.Fatalf("unexpected limited events %+v", events)
	}

	decode(t, do(t, h, http.MethodGet, "/api/v1/events?category=click", ""), &events)
	if len(events) != 5 {
		t.Fatalf("expected 5 click events got %d", len(events))
	}

	// Out-of-range limits fall back to the default.
	decode(t, do(t, h, http.MethodGet, "/api/v1/events?limit=9999", ""), &events)
	if len(events) != 6 {
		t.Fatalf("expected all 6 events got %d", len(events))
	}
}

func TestSpeedRequiresAdmin(t *testing.T) {
	s := newTestServer(t, 1000)
	h := s.Routes()

	if rec := do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":5}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/speed", strings.NewReader(`{"speed":5}`))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token got %d", rec.Code)
	}
	if s.Eng.Speed() != 5 {
		t.Fatalf("expected engine speed 5 got %v", s.Eng.Speed())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/speed", strings.NewReader(`{"speed":5000}`))
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range speed got %d", rec.Code)
	}

	s.AdminKey = ""
	if rec := do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":1}`); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with admin disabled got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/speed", ""); rec.Code != http.StatusOK {
		t.Fatalf("GET speed: expected 200 got %d", rec.Code)
	}
}

func TestHistory(t *testing.T) {
	s := newTestServer(t, 1000)
	h := s.Routes()

	if rec := do(t, h, http.MethodGet, "/api/v1/history", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without db got %d", rec.Code)
	}

	db, err := persistence.Open(filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	s.DB = db

	res := session.Result{ID: "old", Outcome: economy.StateLost, Threshold: 100, FinishedAt: time.Now(), StartedAt: time.Now()}
	events := []session.Event{{Seq: 1, Category: "lost", Description: "You lost the election!"}}
	if err := db.SaveSession(res); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := db.SaveEvents(res.ID, events); err != nil {
		t.Fatalf("SaveEvents: %v", err)
	}

	var body struct {
		Record   persistence.Record `json:"record"`
		Sessions []session.Result   `json:"sessions"`
	}
	decode(t, do(t, h, http.MethodGet, "/api/v1/history", ""), &body)
	if body.Record.Played != 1 || body.Record.Lost != 1 || len(body.Sessions) != 1 || body.Sessions[0].Outcome != economy.StateLost {
		t.Fatalf("unexpected history %+v", body)
	}

	var got []session.Event
	decode(t, do(t, h, http.MethodGet, "/api/v1/history/old/events", ""), &got)
	if len(got) != 1 || got[0].Category != "lost" {
		t.Fatalf("unexpected session events %+v", got)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/history/missing/events", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session got %d", rec.Code)
	}
}

func TestClickRateLimited(t *testing.T) {
	s := newTestServer(t, 1000)
	s.ClickLimiter = NewRateLimiter(1, 2)
	h := s.Routes()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, h, http.MethodPost, "/api/v1/click", "").Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected 200 200 429 got %v", codes)
	}
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, 1000)
	h := s.Routes()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/click", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight: expected 204 got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Fatalf("missing allow-origin header")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected allow-origin for unknown origin")
	}
}

func TestStreamDeliversEvents(t *testing.T) {
	s := newTestServer(t, 1000)
	s.Session.Click()

	ts := httptest.NewServer(s.Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/stream")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream got %q", ct)
	}

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	want := []string{"id: 1", "id: 2"}
	sentLive := false
	deadline := time.After(5 * time.Second)
	for len(want) > 0 {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream closed early, still waiting for %v", want)
			}
			if line == want[0] {
				want = want[1:]
				// The catch-up event arrived; produce a live one.
				if !sentLive {
					sentLive = true
					s.Session.Click()
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v", want)
		}
	}
}

func TestStreamConnectionLimit(t *testing.T) {
	s := newTestServer(t, 1000)
	s.sseConns = maxSSEConns
	rec := do(t, s.Routes(), http.MethodGet, "/api/v1/stream", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 at the connection limit got %d", rec.Code)
	}

	s.sseConns = 0
	s.RelayKey = "relay"
	rec = do(t, s.Routes(), http.MethodGet, "/api/v1/stream", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without relay key got %d", rec.Code)
	}
}
