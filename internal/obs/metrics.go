// Package obs collects lightweight in-process counters. A snapshot is
// logged once at shutdown; there is no external metrics surface.
package obs

import (
	"sync/atomic"
	"time"
)

// Metrics counts gateway activity and aggregates latencies.
type Metrics struct {
	ordersAdmitted  uint64
	ordersRejected  uint64
	cancels         uint64
	amends          uint64
	fills           uint64
	snapshotsSent   uint64
	ticksSent       uint64
	admissionLat    LatencyStats
	fillSweepLat    LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// Observe folds one sample into the stats.
func (s *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	v := uint64(d)
	atomic.AddUint64(&s.count, 1)
	atomic.AddUint64(&s.sum, v)
	for {
		old := atomic.LoadUint64(&s.min)
		if old != 0 && old <= v {
			break
		}
		if atomic.CompareAndSwapUint64(&s.min, old, v) {
			break
		}
	}
	for {
		old := atomic.LoadUint64(&s.max)
		if old >= v {
			break
		}
		if atomic.CompareAndSwapUint64(&s.max, old, v) {
			break
		}
	}
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

func (s *LatencyStats) snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&s.count)
	out := LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&s.min)),
		Max:   time.Duration(atomic.LoadUint64(&s.max)),
	}
	if count > 0 {
		out.Avg = time.Duration(atomic.LoadUint64(&s.sum) / count)
	}
	return out
}

// Snapshot captures the current counter values.
type Snapshot struct {
	OrdersAdmitted uint64
	OrdersRejected uint64
	Cancels        uint64
	Amends         uint64
	Fills          uint64
	SnapshotsSent  uint64
	TicksSent      uint64
	AdmissionLat   LatencySnapshot
	FillSweepLat   LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncAdmitted counts an accepted order.
func (m *Metrics) IncAdmitted() { m.inc(&m.ordersAdmitted) }

// IncRejected counts a rejected order.
func (m *Metrics) IncRejected() { m.inc(&m.ordersRejected) }

// IncCancel counts a successful cancel.
func (m *Metrics) IncCancel() { m.inc(&m.cancels) }

// IncAmend counts a successful amend.
func (m *Metrics) IncAmend() { m.inc(&m.amends) }

// IncFill counts one applied fill (fill loop or synchronous FIX fill).
func (m *Metrics) IncFill() { m.inc(&m.fills) }

// IncSnapshot counts one order-event publication.
func (m *Metrics) IncSnapshot() { m.inc(&m.snapshotsSent) }

// IncTick counts one market-data publication.
func (m *Metrics) IncTick() { m.inc(&m.ticksSent) }

// ObserveAdmission records submit-to-ack latency.
func (m *Metrics) ObserveAdmission(d time.Duration) {
	if m != nil {
		m.admissionLat.Observe(d)
	}
}

// ObserveFillSweep records the duration of one fill-loop pass.
func (m *Metrics) ObserveFillSweep(d time.Duration) {
	if m != nil {
		m.fillSweepLat.Observe(d)
	}
}

func (m *Metrics) inc(counter *uint64) {
	if m != nil {
		atomic.AddUint64(counter, 1)
	}
}

// Snapshot captures the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		OrdersAdmitted: atomic.LoadUint64(&m.ordersAdmitted),
		OrdersRejected: atomic.LoadUint64(&m.ordersRejected),
		Cancels:        atomic.LoadUint64(&m.cancels),
		Amends:         atomic.LoadUint64(&m.amends),
		Fills:          atomic.LoadUint64(&m.fills),
		SnapshotsSent:  atomic.LoadUint64(&m.snapshotsSent),
		TicksSent:      atomic.LoadUint64(&m.ticksSent),
		AdmissionLat:   m.admissionLat.snapshot(),
		FillSweepLat:   m.fillSweepLat.snapshot(),
	}
}
