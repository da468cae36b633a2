package session

import (
	"time"

	"github.com/talgya/campaign/internal/economy"
)

// ProducerView is one supporter as the presentation layer shows it.
type ProducerView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Cost         int    `json:"cost"`
	YieldPerTick int    `json:"votes_per_tick"`
	MaxOwned     int    `json:"max_owned"`
	Owned        int    `json:"owned"`
	CanAfford    bool   `json:"can_afford"`
}

// Snapshot is a point-in-time copy of everything the display reads.
type Snapshot struct {
	ID             string            `json:"id"`
	Threshold      int               `json:"total_votes"`
	WinningVotes   int               `json:"winning_votes"`
	PlayerVotes    int               `json:"player_votes"`
	OpponentVotes  int               `json:"opponent_votes"`
	State          economy.GameState `json:"state"`
	ElapsedSeconds int               `json:"elapsed_seconds"`
	YieldPerTick   int               `json:"votes_per_tick"`
	Step           uint64            `json:"step"`
	Producers      []ProducerView    `json:"producers,omitempty"`
}

// Stats tracks aggregate activity over the session.
type Stats struct {
	Clicks          int            `json:"clicks"`
	ClickVotes      int            `json:"click_votes"`
	Purchases       int            `json:"purchases"`
	VotesSpent      int            `json:"votes_spent"`
	FailedPurchases map[string]int `json:"failed_purchases"`
	SupporterVotes  int            `json:"supporter_votes"`
	OpponentVotes   int            `json:"opponent_votes"`
	AccrualTicks    int            `json:"accrual_ticks"`
}

func newStats() Stats {
	return Stats{FailedPurchases: make(map[string]int)}
}

func (st Stats) clone() Stats {
	out := st
	out.FailedPurchases = make(map[string]int, len(st.FailedPurchases))
	for k, v := range st.FailedPurchases {
		out.FailedPurchases[k] = v
	}
	return out
}

// Result summarizes a session for match history.
type Result struct {
	ID             string            `json:"id"`
	Outcome        economy.GameState `json:"outcome"`
	Threshold      int               `json:"total_votes"`
	PlayerVotes    int               `json:"player_votes"`
	OpponentVotes  int               `json:"opponent_votes"`
	ElapsedSeconds int               `json:"elapsed_seconds"`
	Stats          Stats             `json:"stats"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
}

// Snapshot returns the current state with one view per supporter.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.statusLocked()
	for _, t := range s.registry.Types() {
		snap.Producers = append(snap.Producers, ProducerView{
			ID:           t.ID,
			Name:         t.Name,
			Description:  t.Description,
			Cost:         s.registry.Cost(t),
			YieldPerTick: t.YieldPerTick,
			MaxOwned:     t.MaxOwned,
			Owned:        s.registry.Owned(t),
			CanAfford:    s.registry.CanAfford(t),
		})
	}
	return snap
}

// Status returns the snapshot without the per-supporter views.
func (s *Session) Status() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Snapshot {
	return Snapshot{
		ID:             s.ID.String(),
		Threshold:      s.ledger.Threshold(),
		WinningVotes:   s.ledger.WinningVotes(),
		PlayerVotes:    s.ledger.PlayerVotes(),
		OpponentVotes:  s.ledger.OpponentVotes(),
		State:          s.ledger.State(),
		ElapsedSeconds: s.clock.ElapsedSeconds(),
		YieldPerTick:   s.registry.TotalYieldPerTick(),
		Step:           s.step,
	}
}

// Stats returns a copy of the session statistics.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.clone()
}

// Result returns the session summary. FinishedAt is zero while the race runs.
func (s *Session) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resultLocked()
}

func (s *Session) resultLocked() Result {
	return Result{
		ID:             s.ID.String(),
		Outcome:        s.ledger.State(),
		Threshold:      s.ledger.Threshold(),
		PlayerVotes:    s.ledger.PlayerVotes(),
		OpponentVotes:  s.ledger.OpponentVotes(),
		ElapsedSeconds: s.clock.ElapsedSeconds(),
		Stats:          s.stats.clone(),
		StartedAt:      s.startedAt,
		FinishedAt:     s.finishedAt,
	}
}
