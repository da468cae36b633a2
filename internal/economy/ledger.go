package economy

import (
	"fmt"
	"log/slog"
)

// GameState is the outcome of the vote race.
type GameState uint8

const (
	StateContinue GameState = iota
	StateWon
	StateLost
)

// String returns the lower-case state name used in logs and JSON.
func (g GameState) String() string {
	switch g {
	case StateWon:
		return "won"
	case StateLost:
		return "lost"
	default:
		return "continue"
	}
}

// Terminal reports whether the race has been decided.
func (g GameState) Terminal() bool {
	return g != StateContinue
}

// MarshalText encodes the state by name.
func (g GameState) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (g *GameState) UnmarshalText(b []byte) error {
	s, ok := ParseGameState(string(b))
	if !ok {
		return fmt.Errorf("unknown game state %q", b)
	}
	*g = s
	return nil
}

// ParseGameState maps a state name back to its value.
func ParseGameState(name string) (GameState, bool) {
	switch name {
	case "continue":
		return StateContinue, true
	case "won":
		return StateWon, true
	case "lost":
		return StateLost, true
	}
	return StateContinue, false
}

// Ledger owns both vote counters and the win/loss state machine.
// It is not safe for concurrent use; callers serialize access.
type Ledger struct {
	threshold     int
	playerVotes   int
	opponentVotes int
	state         GameState

	// OnStateChange fires once, on the transition out of StateContinue.
	OnStateChange func(GameState)
}

// NewLedger creates a ledger for a race over threshold total votes.
func NewLedger(threshold int) *Ledger {
	return &Ledger{threshold: threshold}
}

// Threshold returns the configured total vote count.
func (l *Ledger) Threshold() int { return l.threshold }

// WinningVotes is the half of the threshold either side must reach.
func (l *Ledger) WinningVotes() int { return l.threshold / 2 }

// PlayerVotes returns the player's current balance.
func (l *Ledger) PlayerVotes() int { return l.playerVotes }

// OpponentVotes returns the opponent's current count.
func (l *Ledger) OpponentVotes() int { return l.opponentVotes }

// State returns the current game state.
func (l *Ledger) State() GameState { return l.state }

// CreditPlayer adds votes to the player and re-evaluates the race.
// Negative amounts are ignored.
func (l *Ledger) CreditPlayer(amount int) {
	if amount < 0 {
		slog.Debug("ignoring negative player credit", "amount", amount)
		return
	}
	l.playerVotes += amount
	l.Evaluate()
}

// CreditOpponent adds votes to the opponent and re-evaluates the race.
// Negative amounts are ignored.
func (l *Ledger) CreditOpponent(amount int) {
	if amount < 0 {
		slog.Debug("ignoring negative opponent credit", "amount", amount)
		return
	}
	l.opponentVotes += amount
	l.Evaluate()
}

// DebitPlayer spends votes. It fails without side effects when the
// balance is short or the amount is negative.
func (l *Ledger) DebitPlayer(amount int) bool {
	if amount < 0 || l.playerVotes < amount {
		return false
	}
	l.playerVotes -= amount
	return true
}

// Evaluate checks the win condition, then the loss condition. The player
// is checked first, so a simultaneous crossing is a win. Once decided the
// state never changes again.
func (l *Ledger) Evaluate() GameState {
	if l.state.Terminal() {
		return l.state
	}

	half := l.WinningVotes()
	switch {
	case l.playerVotes >= half:
		l.state = StateWon
	case l.opponentVotes >= half:
		l.state = StateLost
	default:
		return l.state
	}

	slog.Info("race decided",
		"state", l.state.String(),
		"player_votes", l.playerVotes,
		"opponent_votes", l.opponentVotes,
		"threshold", l.threshold,
	)
	if l.OnStateChange != nil {
		l.OnStateChange(l.state)
	}
	return l.state
}
