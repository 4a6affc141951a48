package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mdeadwiler/pf-blotter-fix/internal/audit"
	"github.com/mdeadwiler/pf-blotter-fix/internal/model"
)

// DefaultFillInterval is how often open orders are swept.
const DefaultFillInterval = 500 * time.Millisecond

// FillLoop periodically advances open orders against the simulator. Apart
// from cancel and amend, it is the only mutator of leaves/cum/avg after
// admission. The simulator and
// store locks are never held together: a fill is two independent critical
// sections.
type FillLoop struct {
	core     *Core
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFillLoop creates a loop sweeping every interval.
func NewFillLoop(core *Core, interval time.Duration) *FillLoop {
	if interval <= 0 {
		interval = DefaultFillInterval
	}
	return &FillLoop{core: core, interval: interval}
}

// Start launches the sweep goroutine.
func (l *FillLoop) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (l *FillLoop) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

// ApplyFill folds one execution into the order's quantities. The average
// price is strict VWAP over every execution so far.
func ApplyFill(order model.OrderRecord, fillQty int, fillPx float64) (status model.Status, leavesQty, cumQty int, avgPx float64) {
	cumQty = order.CumQty + fillQty
	leavesQty = order.Quantity - cumQty
	avgPx = (order.AvgPx*float64(order.CumQty) + fillPx*float64(fillQty)) / float64(cumQty)
	status = model.StatusPartial
	if leavesQty <= 0 {
		status = model.StatusFilled
	}
	return status, leavesQty, cumQty, avgPx
}

// Sweep runs one pass over the open orders, applying any fills the
// simulator grants and publishing a snapshot if anything changed.
func (l *FillLoop) Sweep() {
	start := time.Now()
	open := l.core.Store.OpenOrders()

	mutated := false
	for _, order := range open {
		result := l.core.Market.AttemptFill(order.Symbol, order.Side, order.Price, order.LeavesQty)
		if result.FillQty == 0 {
			continue
		}

		status, leavesQty, cumQty, avgPx := ApplyFill(order, result.FillQty, result.FillPx)
		event := audit.EventOrderPartial
		if status == model.StatusFilled {
			event = audit.EventOrderFilled
		}

		l.core.Store.UpdateStatus(order.ClOrdID, status, leavesQty, cumQty, avgPx)
		l.core.Audit.Event(event, order.ClOrdID, fmtFill(result.FillQty, result.FillPx, cumQty, leavesQty))
		l.core.Metrics.IncFill()
		if status == model.StatusFilled {
			if filled, ok := l.core.Store.Get(order.ClOrdID); ok {
				l.core.Archive.Record(filled)
			}
		}
		mutated = true
	}

	if mutated {
		l.core.PublishSnapshot()
	}
	l.core.Metrics.ObserveFillSweep(time.Since(start))
}

func fmtFill(fillQty int, fillPx float64, cumQty, leavesQty int) string {
	return fmt.Sprintf("fillQty=%d,fillPx=%.4f,cumQty=%d,leavesQty=%d", fillQty, fillPx, cumQty, leavesQty)
}
