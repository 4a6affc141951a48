package sim

import (
	"math"
	"math/rand"
	"sync"

	"github.com/mdeadwiler/pf-blotter-fix/internal/model"
)

const (
	// DefaultStartPrice seeds symbols with no realistic reference price.
	DefaultStartPrice = 100.0
	// DefaultStep scales every random-walk increment.
	DefaultStep = 0.05

	floorPrice       = 0.01
	completeFillMax  = 100
	minFillRatio     = 0.2
	maxFillRatio     = 1.0
	minLevelQty      = 50
	maxLevelQty      = 500
	minHalfSpreadPct = 0.001
	maxHalfSpreadPct = 0.0025
)

// seedPrices gives well-known tickers a realistic starting mark.
var seedPrices = map[string]float64{
	"AAPL":  189.50,
	"GOOGL": 176.20,
	"MSFT":  421.10,
	"NVDA":  118.40,
	"TSLA":  248.30,
	"AMZN":  183.75,
}

// FillResult is the outcome of one fill attempt.
type FillResult struct {
	FillQty  int
	FillPx   float64
	Complete bool
}

// BookLevel is one price level of the synthesized book.
type BookLevel struct {
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// OrderBook is a two-sided synthetic book for a symbol.
type OrderBook struct {
	Symbol    string      `json:"symbol"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	LastPrice float64     `json:"lastPrice"`
	Spread    float64     `json:"spread"`
}

// Simulator drives a seeded per-symbol random walk. Every operation that
// consumes random numbers runs under the simulator lock, so two simulators
// built with the same seed produce identical output for identical call
// sequences.
type Simulator struct {
	mu         sync.Mutex
	rng        *rand.Rand
	startPrice float64
	step       float64
	last       map[string]float64
}

// New creates a simulator with the given seed and walk parameters.
func New(seed int64, startPrice, step float64) *Simulator {
	if startPrice <= 0 {
		startPrice = DefaultStartPrice
	}
	if step <= 0 {
		step = DefaultStep
	}
	return &Simulator{
		rng:        rand.New(rand.NewSource(seed)),
		startPrice: startPrice,
		step:       step,
		last:       make(map[string]float64),
	}
}

// Mark returns the current price for the symbol, creating its state lazily.
func (s *Simulator) Mark(symbol string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markLocked(symbol)
}

func (s *Simulator) markLocked(symbol string) float64 {
	if px, ok := s.last[symbol]; ok {
		return px
	}
	px := s.startPrice
	if seeded, ok := seedPrices[symbol]; ok {
		px = seeded
	}
	s.last[symbol] = px
	return px
}

// NextTick advances the symbol's random walk and returns the new price.
func (s *Simulator) NextTick(symbol string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextTickLocked(symbol)
}

func (s *Simulator) nextTickLocked(symbol string) float64 {
	px := s.markLocked(symbol)
	px += s.rng.NormFloat64() * s.step * (px / 100.0)
	if px < floorPrice {
		px = floorPrice
	}
	s.last[symbol] = px
	return px
}

// ShouldFill advances the tick and reports whether a limit at limitPx
// would execute against it.
func (s *Simulator) ShouldFill(symbol string, side model.Side, limitPx float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	px := s.nextTickLocked(symbol)
	switch side {
	case model.SideBuy:
		return px <= limitPx
	case model.SideSell:
		return px >= limitPx
	default:
		return false
	}
}

// AttemptFill advances the tick and arbitrates how much of leavesQty
// executes. Orders at or under 100 shares fill completely; larger orders
// fill a random 20-100% slice, at least one share, capped at leavesQty.
func (s *Simulator) AttemptFill(symbol string, side model.Side, limitPx float64, leavesQty int) FillResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result FillResult
	if leavesQty <= 0 {
		return result
	}

	px := s.nextTickLocked(symbol)
	canFill := false
	switch side {
	case model.SideBuy:
		canFill = px <= limitPx
	case model.SideSell:
		canFill = px >= limitPx
	}
	if !canFill {
		return result
	}

	if leavesQty <= completeFillMax {
		result.FillQty = leavesQty
	} else {
		ratio := minFillRatio + s.rng.Float64()*(maxFillRatio-minFillRatio)
		result.FillQty = int(float64(leavesQty) * ratio)
		if result.FillQty < 1 {
			result.FillQty = 1
		}
	}
	if result.FillQty > leavesQty {
		result.FillQty = leavesQty
	}
	result.FillPx = px
	result.Complete = result.FillQty == leavesQty
	return result
}

// OrderBook synthesizes a two-sided book around the current mark. Bids are
// sorted high to low, asks low to high, and the best bid is strictly below
// the best ask.
func (s *Simulator) OrderBook(symbol string, depth int) OrderBook {
	s.mu.Lock()
	defer s.mu.Unlock()

	mid := s.markLocked(symbol)
	if mid <= floorPrice {
		mid = s.startPrice
	}

	halfSpread := mid * (minHalfSpreadPct + s.rng.Float64()*(maxHalfSpreadPct-minHalfSpreadPct))

	book := OrderBook{
		Symbol:    symbol,
		LastPrice: mid,
		Spread:    halfSpread * 2.0,
	}

	bidStart := mid - halfSpread
	for i := 0; i < depth; i++ {
		level := BookLevel{
			Price:    roundCents(bidStart - float64(i)*s.step*2.0),
			Quantity: s.levelQty(),
		}
		if level.Price > 0 {
			book.Bids = append(book.Bids, level)
		}
	}

	askStart := mid + halfSpread
	if len(book.Bids) > 0 && roundCents(askStart) <= book.Bids[0].Price {
		// Cent rounding can collapse a thin spread.
		askStart = book.Bids[0].Price + floorPrice
	}
	for i := 0; i < depth; i++ {
		book.Asks = append(book.Asks, BookLevel{
			Price:    roundCents(askStart + float64(i)*s.step*2.0),
			Quantity: s.levelQty(),
		})
	}
	return book
}

func (s *Simulator) levelQty() int {
	return minLevelQty + s.rng.Intn(maxLevelQty-minLevelQty+1)
}

func roundCents(px float64) float64 {
	return math.Round(px*100.0) / 100.0
}
