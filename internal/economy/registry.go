package economy

import "log/slog"

// PurchaseResult explains the outcome of a purchase attempt. The zero
// value means no attempt was made.
type PurchaseResult uint8

const (
	PurchaseOK PurchaseResult = iota + 1
	PurchaseInsufficientFunds
	PurchaseAtCapacity
	PurchaseUnknownType
)

// String returns the snake-case reason code.
func (r PurchaseResult) String() string {
	switch r {
	case PurchaseOK:
		return "ok"
	case PurchaseInsufficientFunds:
		return "insufficient_funds"
	case PurchaseAtCapacity:
		return "at_capacity"
	case PurchaseUnknownType:
		return "unknown_type"
	default:
		return "none"
	}
}

// MarshalText encodes the result by reason code.
func (r PurchaseResult) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Registry tracks how many of each supporter the player owns and pays
// their passive income into the ledger.
type Registry struct {
	ledger *Ledger
	types  map[string]ProducerType
	order  []string
	owned  map[string]int
}

// NewRegistry creates an empty registry paying into ledger.
func NewRegistry(ledger *Ledger) *Registry {
	return &Registry{
		ledger: ledger,
		types:  make(map[string]ProducerType),
		owned:  make(map[string]int),
	}
}

// Register makes a supporter type purchasable with an owned count of 0.
// Registering an already known ID is a no-op.
func (r *Registry) Register(t ProducerType) {
	key := t.Key()
	if _, ok := r.types[key]; ok {
		return
	}
	t.ID = key
	r.types[key] = t
	r.order = append(r.order, key)
	r.owned[key] = 0
	slog.Debug("registered supporter", "id", key, "name", t.Name)
}

// Lookup returns the registered definition for id.
func (r *Registry) Lookup(id string) (ProducerType, bool) {
	t, ok := r.types[id]
	return t, ok
}

// Types returns registered definitions in registration order.
func (r *Registry) Types() []ProducerType {
	out := make([]ProducerType, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.types[key])
	}
	return out
}

// Purchase buys one unit of t. Either the player is debited the cost and
// the owned count goes up by one, or nothing changes.
func (r *Registry) Purchase(t ProducerType) PurchaseResult {
	def, ok := r.types[t.Key()]
	if !ok {
		return PurchaseUnknownType
	}

	if r.owned[def.ID] >= def.MaxOwned {
		slog.Debug("supporter at capacity", "id", def.ID, "owned", r.owned[def.ID], "max", def.MaxOwned)
		return PurchaseAtCapacity
	}

	if !r.ledger.DebitPlayer(def.Cost) {
		slog.Debug("cannot afford supporter", "id", def.ID, "need", def.Cost, "have", r.ledger.PlayerVotes())
		return PurchaseInsufficientFunds
	}

	r.owned[def.ID]++
	slog.Debug("bought supporter", "id", def.ID, "owned", r.owned[def.ID], "votes", r.ledger.PlayerVotes())
	return PurchaseOK
}

// TryPurchase is Purchase reduced to success or failure.
func (r *Registry) TryPurchase(t ProducerType) bool {
	return r.Purchase(t) == PurchaseOK
}

// Cost returns the static price of t, or 0 for unknown types.
func (r *Registry) Cost(t ProducerType) int {
	def, ok := r.types[t.Key()]
	if !ok {
		return 0
	}
	return def.Cost
}

// Owned returns how many units of t the player holds, or 0 for unknown types.
func (r *Registry) Owned(t ProducerType) int {
	return r.owned[t.Key()]
}

// CanAfford reports whether the current balance covers the cost of t.
// It does not consider the ownership cap.
func (r *Registry) CanAfford(t ProducerType) bool {
	def, ok := r.types[t.Key()]
	if !ok {
		return false
	}
	return r.ledger.PlayerVotes() >= def.Cost
}

// TotalYieldPerTick sums owned count times yield over every registered type.
func (r *Registry) TotalYieldPerTick() int {
	total := 0
	for _, key := range r.order {
		total += r.owned[key] * r.types[key].YieldPerTick
	}
	return total
}

// Tick credits one accrual interval of supporter income to the player and
// returns the amount credited.
func (r *Registry) Tick() int {
	amount := r.TotalYieldPerTick()
	r.ledger.CreditPlayer(amount)
	return amount
}
