package gateway

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"github.com/mdeadwiler/pf-blotter-fix/internal/bus"
	"github.com/mdeadwiler/pf-blotter-fix/internal/model"
	"github.com/mdeadwiler/pf-blotter-fix/internal/obs"
	"github.com/mdeadwiler/pf-blotter-fix/internal/sim"
)

// DefaultTickInterval yields roughly four tick batches per second.
const DefaultTickInterval = 250 * time.Millisecond

// Tick is one symbol's price update inside a feed batch.
type Tick struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp string  `json:"timestamp"`
}

// Feed advances every configured symbol's walk on an interval and fans
// the tick batch out to market-data subscribers.
type Feed struct {
	market   *sim.Simulator
	hub      *bus.Hub
	metrics  *obs.Metrics
	symbols  []string
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFeed creates a feed over the given symbols.
func NewFeed(market *sim.Simulator, hub *bus.Hub, metrics *obs.Metrics, symbols []string, interval time.Duration) *Feed {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Feed{
		market:   market,
		hub:      hub,
		metrics:  metrics,
		symbols:  symbols,
		interval: interval,
	}
}

// Start launches the feed goroutine.
func (f *Feed) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.publishBatch()
			}
		}
	}()
}

// Stop cancels the feed and waits for it to exit.
func (f *Feed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
}

func (f *Feed) publishBatch() {
	now := model.UTCTimestamp(time.Now())
	batch := make([]Tick, 0, len(f.symbols))
	for _, symbol := range f.symbols {
		price := f.market.NextTick(symbol)
		batch = append(batch, Tick{
			Symbol:    symbol,
			Price:     math.Round(price*100) / 100,
			Timestamp: now,
		})
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		logs.Errorf("marshal tick batch: %v", err)
		return
	}
	f.hub.Publish(string(payload))
	f.metrics.IncTick()
}
