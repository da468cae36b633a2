package canvasser

import (
	"fmt"
	"math"
)

// Action names the move for one cycle.
type Action string

const (
	ActionClick Action = "click"
	ActionBuy   Action = "buy"
	ActionStop  Action = "stop"
)

// Decision is the move chosen for one cycle.
type Decision struct {
	Action    Action `json:"action"`
	Producer  string `json:"producer,omitempty"`
	Rationale string `json:"rationale"`
}

// Rules tune the decision. The zero value buys anything affordable.
type Rules struct {
	// MaxPaybackSeconds skips producers that take longer than this to earn
	// back their cost. Zero means no limit.
	MaxPaybackSeconds float64
}

// Decide picks the next move from a snapshot. It buys the affordable
// producer with the best yield per vote spent, and clicks otherwise.
func Decide(snap *Snapshot, rules Rules) Decision {
	if snap.Status.Over() {
		return Decision{Action: ActionStop, Rationale: "race decided: " + snap.Status.State}
	}

	var (
		best      *Producer
		bestRatio float64
	)
	for i := range snap.Producers {
		p := &snap.Producers[i]
		if p.VotesPerTick <= 0 || p.AtCapacity() || p.Cost > snap.Status.PlayerVotes {
			continue
		}
		payback := payback(*p)
		if rules.MaxPaybackSeconds > 0 && payback > rules.MaxPaybackSeconds {
			continue
		}
		ratio := math.Inf(1)
		if p.Cost > 0 {
			ratio = float64(p.VotesPerTick) / float64(p.Cost)
		}
		if best == nil || ratio > bestRatio || (ratio == bestRatio && p.VotesPerTick > best.VotesPerTick) {
			best, bestRatio = p, ratio
		}
	}

	if best == nil {
		return Decision{Action: ActionClick, Rationale: "nothing worth buying"}
	}
	return Decision{
		Action:    ActionBuy,
		Producer:  best.ID,
		Rationale: fmt.Sprintf("%s pays back in %.1fs", best.Name, payback(*best)),
	}
}

// payback is the number of accrual ticks one unit needs to return its cost.
func payback(p Producer) float64 {
	if p.VotesPerTick <= 0 {
		return math.Inf(1)
	}
	return float64(p.Cost) / float64(p.VotesPerTick)
}
