// Package opponent credits the rival campaign on a fixed cadence with a
// random amount that grows with elapsed time.
package opponent

import (
	"log/slog"

	"github.com/talgya/campaign/internal/entropy"
)

// Default draw bounds; the upper bound is exclusive.
const (
	DefaultMinVotes = 7
	DefaultMaxVotes = 15
)

// Creditor receives opponent votes.
type Creditor interface {
	CreditOpponent(amount int)
}

// ElapsedReader reports whole seconds of simulated time.
type ElapsedReader interface {
	ElapsedSeconds() int
}

// Accrual computes and pays the opponent's periodic gain.
type Accrual struct {
	ledger Creditor
	clock  ElapsedReader
	rng    entropy.Source

	MinVotes int
	MaxVotes int // Exclusive
}

// New creates an Accrual with the default [7, 15) draw.
func New(ledger Creditor, clock ElapsedReader, rng entropy.Source) *Accrual {
	return &Accrual{
		ledger:   ledger,
		clock:    clock,
		rng:      rng,
		MinVotes: DefaultMinVotes,
		MaxVotes: DefaultMaxVotes,
	}
}

// Amount draws the gain for a firing at the clock's current whole second.
// Gains scale with absolute elapsed time, not time since the last firing.
func (a *Accrual) Amount() (amount, draw, seconds int) {
	seconds = a.clock.ElapsedSeconds()
	draw = a.rng.Range(a.MinVotes, a.MaxVotes)
	return draw * seconds, draw, seconds
}

// Tick credits one firing's worth of votes to the opponent and returns it.
func (a *Accrual) Tick() int {
	amount, draw, seconds := a.Amount()
	slog.Debug("increasing opponent votes", "amount", amount, "draw", draw, "time_passed", seconds)
	a.ledger.CreditOpponent(amount)
	return amount
}
