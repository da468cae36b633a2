// Package canvasser implements an automatic player for a running campaign.
// It observes the race via the API, picks the next move with fixed rules,
// and acts via the click and buy endpoints.
package canvasser

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Snapshot holds all data collected during an observation cycle.
type Snapshot struct {
	Status    Status     `json:"status"`
	Producers []Producer `json:"producers"`
}

// Status mirrors GET /api/v1/status.
type Status struct {
	ID             string  `json:"id"`
	TotalVotes     int     `json:"total_votes"`
	WinningVotes   int     `json:"winning_votes"`
	PlayerVotes    int     `json:"player_votes"`
	OpponentVotes  int     `json:"opponent_votes"`
	State          string  `json:"state"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	VotesPerTick   int     `json:"votes_per_tick"`
	Step           uint64  `json:"step"`
	Speed          float64 `json:"speed"`
	Running        bool    `json:"running"`
}

// Over reports whether the race has been decided.
func (s Status) Over() bool {
	return s.State == "won" || s.State == "lost"
}

// Producer mirrors items from GET /api/v1/producers.
type Producer struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Cost         int    `json:"cost"`
	VotesPerTick int    `json:"votes_per_tick"`
	MaxOwned     int    `json:"max_owned"`
	Owned        int    `json:"owned"`
	CanAfford    bool   `json:"can_afford"`
}

// AtCapacity reports whether no more of this producer can be bought.
func (p Producer) AtCapacity() bool {
	return p.Owned >= p.MaxOwned
}

// Observer fetches race state from the API.
type Observer struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewObserver creates an Observer targeting the given API base URL.
func NewObserver(baseURL string) *Observer {
	return &Observer{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Observe fetches status and producers and returns a Snapshot.
func (o *Observer) Observe() (*Snapshot, error) {
	snap := &Snapshot{}

	if err := o.fetchJSON("/api/v1/status", &snap.Status); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	if err := o.fetchJSON("/api/v1/producers", &snap.Producers); err != nil {
		return nil, fmt.Errorf("fetch producers: %w", err)
	}

	return snap, nil
}

// fetchJSON GETs a path and decodes the JSON response into target.
func (o *Observer) fetchJSON(path string, target any) error {
	resp, err := o.HTTPClient.Get(o.BaseURL + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
