package risk

import (
	"fmt"

	"github.com/mdeadwiler/pf-blotter-fix/internal/model"
)

// FIX 4.4 OrdRejReason values (tag 103).
const (
	RejReasonNone          = 0
	RejReasonUnknownSymbol = 1
	RejReasonExceedsLimit  = 3
	RejReasonDuplicate     = 6
	RejReasonOther         = 99
)

// Config holds the static pre-trade limits.
type Config struct {
	MaxOrderQty int     `json:"maxOrderQty"`
	MaxNotional float64 `json:"maxNotional"`
}

// DefaultConfig mirrors the gateway's shipped limits.
func DefaultConfig() Config {
	return Config{MaxOrderQty: 10_000, MaxNotional: 1_000_000}
}

// Intent is one order submission under evaluation.
type Intent struct {
	ClOrdID  string
	Symbol   string
	Side     model.Side
	Quantity int
	// Price is the limit price; zero when HasPrice is false.
	Price    float64
	HasPrice bool
}

// Decision is the result of evaluating an intent. An empty Reason means the
// order passed every check.
type Decision struct {
	Reason    string
	RejReason int
}

// Rejected reports whether the intent failed a check.
func (d Decision) Rejected() bool {
	return d.Reason != ""
}

// DuplicateChecker answers whether a clOrdId was already admitted.
type DuplicateChecker interface {
	Exists(clOrdID string) bool
}

// Engine evaluates pre-trade checks in a fixed order; the first failing
// check wins.
type Engine struct {
	cfg  Config
	dups DuplicateChecker
}

// NewEngine creates an engine over the given limits and duplicate set.
func NewEngine(cfg Config, dups DuplicateChecker) *Engine {
	if cfg.MaxOrderQty <= 0 {
		cfg.MaxOrderQty = DefaultConfig().MaxOrderQty
	}
	if cfg.MaxNotional <= 0 {
		cfg.MaxNotional = DefaultConfig().MaxNotional
	}
	return &Engine{cfg: cfg, dups: dups}
}

// Config returns the engine limits.
func (e *Engine) Config() Config {
	return e.cfg
}

// Evaluate runs the admission checks against a new order intent.
func (e *Engine) Evaluate(intent Intent) Decision {
	if intent.Symbol == "" {
		return Decision{Reason: "Symbol is required", RejReason: RejReasonUnknownSymbol}
	}
	if !intent.Side.Valid() {
		return Decision{Reason: "Invalid side (must be 1=Buy or 2=Sell)", RejReason: RejReasonOther}
	}
	if intent.Quantity <= 0 {
		return Decision{Reason: "OrderQty must be positive", RejReason: RejReasonOther}
	}
	if intent.HasPrice && intent.Price <= 0 {
		return Decision{Reason: "Price must be positive for limit orders", RejReason: RejReasonOther}
	}
	if intent.Quantity > e.cfg.MaxOrderQty {
		return Decision{
			Reason:    fmt.Sprintf("Order quantity exceeds limit (%d)", e.cfg.MaxOrderQty),
			RejReason: RejReasonExceedsLimit,
		}
	}
	if intent.HasPrice && float64(intent.Quantity)*intent.Price > e.cfg.MaxNotional {
		return Decision{
			Reason:    fmt.Sprintf("Notional exceeds limit ($%d)", int(e.cfg.MaxNotional)),
			RejReason: RejReasonExceedsLimit,
		}
	}
	if e.dups != nil && e.dups.Exists(intent.ClOrdID) {
		return Decision{Reason: "Duplicate ClOrdID", RejReason: RejReasonDuplicate}
	}
	return Decision{}
}

// CheckNotional re-applies only the notional limit, used by the amend path.
func (e *Engine) CheckNotional(price float64, quantity int) Decision {
	if price > 0 && float64(quantity)*price > e.cfg.MaxNotional {
		return Decision{
			Reason:    fmt.Sprintf("Notional exceeds limit ($%d)", int(e.cfg.MaxNotional)),
			RejReason: RejReasonExceedsLimit,
		}
	}
	return Decision{}
}
