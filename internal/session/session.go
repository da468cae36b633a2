// Package session ties the ledger, supporter registry, opponent and clock
// into one vote race, and is the only entry point for input and rendering.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/talgya/campaign/internal/config"
	"github.com/talgya/campaign/internal/economy"
	"github.com/talgya/campaign/internal/engine"
	"github.com/talgya/campaign/internal/entropy"
	"github.com/talgya/campaign/internal/opponent"
)

// ErrGameOver is returned by input after the race is decided.
var ErrGameOver = errors.New("game over")

// Session holds the complete state of one race. All methods are safe for
// concurrent use; a single mutex serializes every mutation.
type Session struct {
	ID uuid.UUID

	// OnFinish runs once, outside the session lock, when the race is decided.
	OnFinish func(Result)

	mu         sync.Mutex
	ledger     *economy.Ledger
	registry   *economy.Registry
	clock      *engine.Clock
	schedule   engine.Schedule
	opponent   *opponent.Accrual
	clickVotes int
	step       uint64

	events   []Event
	seq      uint64
	subs     map[int]chan Event
	lossless map[int]*queuedSub
	nextID   int
	closed   bool

	stats      Stats
	startedAt  time.Time
	finishedAt time.Time
	pending    bool // ledger decided, won/lost event not yet emitted
	delivered  bool // OnFinish handed off
	now        func() time.Time
}

// New builds a session from cfg, drawing opponent gains from rng.
func New(cfg config.Config, rng entropy.Source) (*Session, error) {
	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}

	ledger := economy.NewLedger(cfg.TotalVotes)
	registry := economy.NewRegistry(ledger)
	for _, t := range catalog.All() {
		registry.Register(t)
	}

	clock := engine.NewClock()
	opp := opponent.New(ledger, clock, rng)
	opp.MinVotes = cfg.Opponent.MinVotes
	opp.MaxVotes = cfg.Opponent.MaxVotes

	s := &Session{
		ID:         uuid.New(),
		ledger:     ledger,
		registry:   registry,
		clock:      clock,
		opponent:   opp,
		clickVotes: cfg.ClickVotes,
		subs:       make(map[int]chan Event),
		lossless:   make(map[int]*queuedSub),
		stats:      newStats(),
		now:        time.Now,
	}
	s.startedAt = s.now()
	ledger.OnStateChange = s.decided

	// Supporters are registered first so they are paid before the opponent
	// when both fall due at the same instant.
	interval := cfg.AccrualInterval()
	s.schedule.Every("supporters", interval, interval, s.paySupporters)
	s.schedule.Every("opponent", interval, interval, s.payOpponent)

	slog.Info("session created",
		"id", s.ID,
		"total_votes", cfg.TotalVotes,
		"winning_votes", ledger.WinningVotes(),
		"supporters", catalog.Len(),
		"accrual_interval", interval,
	)
	return s, nil
}

// Click credits one manual action's worth of votes to the player.
func (s *Session) Click() (int, error) {
	s.mu.Lock()
	defer s.unlock()

	if s.ledger.State().Terminal() {
		return 0, ErrGameOver
	}

	s.ledger.CreditPlayer(s.clickVotes)
	s.stats.Clicks++
	s.stats.ClickVotes += s.clickVotes
	s.emit("click", fmt.Sprintf("Ballot cast: +%d", s.clickVotes), map[string]any{
		"votes":        s.clickVotes,
		"player_votes": s.ledger.PlayerVotes(),
	})
	return s.clickVotes, nil
}

// Buy attempts to purchase one supporter of the given id. Unknown ids are
// reported through the result, not the error.
func (s *Session) Buy(id string) (economy.PurchaseResult, error) {
	s.mu.Lock()
	defer s.unlock()

	if s.ledger.State().Terminal() {
		return 0, ErrGameOver
	}

	t, ok := s.registry.Lookup(id)
	if !ok {
		s.recordFailure(id, economy.PurchaseUnknownType)
		return economy.PurchaseUnknownType, nil
	}

	res := s.registry.Purchase(t)
	if res != economy.PurchaseOK {
		s.recordFailure(id, res)
		return res, nil
	}

	s.stats.Purchases++
	s.stats.VotesSpent += t.Cost
	s.emit("purchase", fmt.Sprintf("Recruited a %s (%d of %d)", t.Name, s.registry.Owned(t), t.MaxOwned), map[string]any{
		"producer":     t.ID,
		"cost":         t.Cost,
		"owned":        s.registry.Owned(t),
		"player_votes": s.ledger.PlayerVotes(),
	})
	return res, nil
}

// Step advances simulated time by dt and runs any accrual that falls due.
// It does nothing once the race is decided.
func (s *Session) Step(dt time.Duration) {
	s.mu.Lock()
	defer s.unlock()

	if s.ledger.State().Terminal() {
		return
	}
	s.step++
	s.clock.Advance(dt)
	s.schedule.Advance(s.clock.Elapsed())
}

// Over reports whether the race has been decided.
func (s *Session) Over() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.State().Terminal()
}

func (s *Session) paySupporters() {
	if s.ledger.State().Terminal() {
		return
	}
	amount := s.registry.Tick()
	s.stats.AccrualTicks++
	s.stats.SupporterVotes += amount
	if amount == 0 {
		return
	}
	s.emit("producers", fmt.Sprintf("Supporters brought in %s votes", humanize.Comma(int64(amount))), map[string]any{
		"votes":        amount,
		"player_votes": s.ledger.PlayerVotes(),
	})
}

func (s *Session) payOpponent() {
	if s.ledger.State().Terminal() {
		return
	}
	amount := s.opponent.Tick()
	s.stats.OpponentVotes += amount
	s.emit("opponent", fmt.Sprintf("The opposition gained %s votes", humanize.Comma(int64(amount))), map[string]any{
		"votes":          amount,
		"opponent_votes": s.ledger.OpponentVotes(),
		"time_passed":    s.clock.ElapsedSeconds(),
	})
}

// decided runs inside the ledger's transition. The won/lost event waits
// for unlock so it follows the event that caused it.
func (s *Session) decided(state economy.GameState) {
	s.finishedAt = s.now()
	s.pending = true
}

func (s *Session) recordFailure(id string, res economy.PurchaseResult) {
	s.stats.FailedPurchases[res.String()]++
	s.emit("purchase_failed", fmt.Sprintf("Could not recruit %s: %s", id, res), map[string]any{
		"producer":     id,
		"reason":       res.String(),
		"player_votes": s.ledger.PlayerVotes(),
	})
}

// unlock records a decided race, releases the lock, then hands the result
// to OnFinish exactly once.
func (s *Session) unlock() {
	var (
		res     Result
		deliver bool
	)
	state := s.ledger.State()
	if s.pending {
		s.pending = false
		desc := "You won the election!"
		if state == economy.StateLost {
			desc = "You lost the election!"
		}
		s.emit(state.String(), desc, map[string]any{
			"player_votes":   s.ledger.PlayerVotes(),
			"opponent_votes": s.ledger.OpponentVotes(),
			"elapsed":        s.clock.ElapsedSeconds(),
		})
	}
	if state.Terminal() && !s.delivered && s.OnFinish != nil {
		s.delivered = true
		res = s.resultLocked()
		deliver = true
	}
	s.mu.Unlock()

	if deliver {
		s.OnFinish(res)
	}
}
