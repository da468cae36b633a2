// Package economy provides the vote ledger, supporter definitions, and the
// supporter registry that turns purchases into passive income.
package economy

import (
	"fmt"
	"strings"
)

// ProducerType is the immutable definition of one kind of supporter.
// Two values describe the same supporter when their IDs match.
type ProducerType struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Cost         int    `json:"cost"`           // Votes debited per purchase
	YieldPerTick int    `json:"votes_per_tick"` // Votes credited per owned unit each accrual tick
	MaxOwned     int    `json:"max_owned"`
}

// Key returns the stable identity of the type. An empty ID falls back to
// the name, lower-cased with spaces hyphenated.
func (p ProducerType) Key() string {
	if p.ID != "" {
		return p.ID
	}
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(p.Name)), " ", "-")
}

// Validate reports the first field that breaks the non-negativity rules.
func (p ProducerType) Validate() error {
	switch {
	case p.Key() == "":
		return fmt.Errorf("producer has neither id nor name")
	case p.Cost < 0:
		return fmt.Errorf("producer %q: negative cost %d", p.Key(), p.Cost)
	case p.YieldPerTick < 0:
		return fmt.Errorf("producer %q: negative yield %d", p.Key(), p.YieldPerTick)
	case p.MaxOwned < 0:
		return fmt.Errorf("producer %q: negative max owned %d", p.Key(), p.MaxOwned)
	}
	return nil
}

// Catalog is the ordered set of supporter definitions for a session.
type Catalog struct {
	types []ProducerType
	index map[string]int
}

// NewCatalog builds a catalog, normalizing IDs. Duplicate entries with an
// identical definition collapse into one; conflicting duplicates are an error.
func NewCatalog(types ...ProducerType) (*Catalog, error) {
	c := &Catalog{index: make(map[string]int, len(types))}
	for _, t := range types {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		t.ID = t.Key()

		if i, ok := c.index[t.ID]; ok {
			if c.types[i] != t {
				return nil, fmt.Errorf("producer %q defined twice with different values", t.ID)
			}
			continue
		}
		c.index[t.ID] = len(c.types)
		c.types = append(c.types, t)
	}
	return c, nil
}

// Get returns the definition registered under id.
func (c *Catalog) Get(id string) (ProducerType, bool) {
	i, ok := c.index[id]
	if !ok {
		return ProducerType{}, false
	}
	return c.types[i], true
}

// All returns the definitions in catalog order.
func (c *Catalog) All() []ProducerType {
	out := make([]ProducerType, len(c.types))
	copy(out, c.types)
	return out
}

// Len returns the number of distinct definitions.
func (c *Catalog) Len() int {
	return len(c.types)
}
