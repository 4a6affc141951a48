package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdeadwiler/pf-blotter-fix/internal/bus"
	"github.com/mdeadwiler/pf-blotter-fix/internal/model"
	"github.com/mdeadwiler/pf-blotter-fix/internal/obs"
	"github.com/mdeadwiler/pf-blotter-fix/internal/sim"
)

func TestFeedPublishesTickBatches(t *testing.T) {
	hub := bus.NewHub()
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	symbols := []string{"AAPL", "TSLA"}
	feed := NewFeed(sim.New(42, 100.0, 0.05), hub, obs.NewMetrics(), symbols, time.Hour)
	feed.publishBatch()

	payload, ok, timedOut := sub.Next(time.Second)
	require.True(t, ok)
	require.False(t, timedOut)

	var batch []Tick
	require.NoError(t, json.Unmarshal([]byte(payload), &batch))
	require.Len(t, batch, 2)
	assert.Equal(t, "AAPL", batch[0].Symbol)
	assert.Equal(t, "TSLA", batch[1].Symbol)
	for _, tick := range batch {
		assert.Greater(t, tick.Price, 0.0)
		assert.NotEmpty(t, tick.Timestamp)
	}
}

func TestFeedWorkerRunsOnInterval(t *testing.T) {
	hub := bus.NewHub()
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	feed := NewFeed(sim.New(42, 100.0, 0.05), hub, obs.NewMetrics(), []string{"AAPL"}, 10*time.Millisecond)
	feed.Start(t.Context())
	defer feed.Stop()

	for i := 0; i < 3; i++ {
		_, ok, timedOut := sub.Next(2 * time.Second)
		require.True(t, ok)
		require.False(t, timedOut, "no tick batch arrived")
	}
}

func TestSweepConservesQuantityAcrossPartials(t *testing.T) {
	core := newTestCore(t)
	req := limitOrder("BIGQ")
	// An unseeded symbol starts at 100, well under the 150 limit.
	req.Symbol = "XYZ"
	req.Quantity = 6000
	req.Price = 150.0
	require.True(t, firstOK(core.SubmitOrder(req)))

	loop := NewFillLoop(core, time.Hour)
	for i := 0; i < 100; i++ {
		loop.Sweep()
		got, ok := core.Store.Get("BIGQ")
		require.True(t, ok)
		if !got.Status.Open() {
			break
		}
		// leavesQty + cumQty == quantity holds after every partial.
		require.Equal(t, got.Quantity, got.LeavesQty+got.CumQty)
		require.Equal(t, model.StatusPartial, got.Status)
	}

	got, _ := core.Store.Get("BIGQ")
	require.Equal(t, model.StatusFilled, got.Status)
	assert.Equal(t, 6000, got.CumQty)
	assert.Zero(t, got.LeavesQty)
	assert.InDelta(t, 100.0, got.AvgPx, 25.0)
}

func TestFillLoopWorkerLifecycle(t *testing.T) {
	core := newTestCore(t)
	req := limitOrder("HOT")
	req.Quantity = 50
	req.Price = 10_000
	require.True(t, firstOK(core.SubmitOrder(req)))

	loop := NewFillLoop(core, 10*time.Millisecond)
	loop.Start(t.Context())
	defer loop.Stop()

	require.Eventually(t, func() bool {
		got, ok := core.Store.Get("HOT")
		return ok && got.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)
}
