package canvasser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ErrGameOver is returned when the server refuses input after the race.
var ErrGameOver = errors.New("game over")

// RateLimitedError carries the server's Retry-After hint.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Result is the server's answer to a click or buy.
type Result struct {
	Credited    int    `json:"credited"`
	Result      string `json:"result"`
	Success     bool   `json:"success"`
	Owned       int    `json:"owned"`
	PlayerVotes int    `json:"player_votes"`
	State       string `json:"state"`
}

// Actor sends input to the API.
type Actor struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewActor creates an Actor targeting the given API base URL.
func NewActor(baseURL string) *Actor {
	return &Actor{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Act carries out a decision. Stop decisions do nothing.
func (a *Actor) Act(d Decision) (*Result, error) {
	switch d.Action {
	case ActionClick:
		return a.post("/api/v1/click", nil)
	case ActionBuy:
		return a.post("/api/v1/buy", map[string]string{"producer": d.Producer})
	case ActionStop:
		return &Result{}, nil
	}
	return nil, fmt.Errorf("unknown action %q", d.Action)
}

func (a *Actor) post(path string, payload any) (*Result, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequest(http.MethodPost, a.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusConflict:
		return nil, ErrGameOver
	case http.StatusTooManyRequests:
		secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		if secs < 1 {
			secs = 1
		}
		return nil, &RateLimitedError{RetryAfter: time.Duration(secs) * time.Second}
	default:
		return nil, fmt.Errorf("POST %s failed (%d): %s", path, resp.StatusCode, string(respBody))
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}
