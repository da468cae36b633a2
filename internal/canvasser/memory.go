package canvasser

import (
	"fmt"
	"sort"
	"strings"
)

const maxRecords = 20

// CycleRecord captures what happened in a single cycle.
type CycleRecord struct {
	Step        uint64 `json:"step"`
	Action      Action `json:"action"`
	Producer    string `json:"producer,omitempty"`
	Outcome     string `json:"outcome"`
	PlayerVotes int    `json:"player_votes"`
}

// CycleMemory keeps a ring of recent cycles and running totals.
type CycleMemory struct {
	Records  []CycleRecord  `json:"records"`
	Clicks   int            `json:"clicks"`
	Bought   map[string]int `json:"bought"`
	Failures int            `json:"failures"`
}

// NewMemory returns an empty memory.
func NewMemory() *CycleMemory {
	return &CycleMemory{Bought: make(map[string]int)}
}

// Record appends a cycle, dropping the oldest beyond the ring size.
func (m *CycleMemory) Record(rec CycleRecord) {
	switch {
	case rec.Action == ActionClick && rec.Outcome == "ok":
		m.Clicks++
	case rec.Action == ActionBuy && rec.Outcome == "ok":
		m.Bought[rec.Producer]++
	case rec.Action != ActionStop:
		m.Failures++
	}

	m.Records = append(m.Records, rec)
	if len(m.Records) > maxRecords {
		m.Records = m.Records[len(m.Records)-maxRecords:]
	}
}

// Summary renders the totals on one line for the shutdown log.
func (m *CycleMemory) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "clicks=%d", m.Clicks)
	ids := make([]string, 0, len(m.Bought))
	for id := range m.Bought {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(&b, " %s=%d", id, m.Bought[id])
	}
	fmt.Fprintf(&b, " failures=%d", m.Failures)
	return b.String()
}
