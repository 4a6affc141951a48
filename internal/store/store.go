package store

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/yanun0323/errors"

	"github.com/mdeadwiler/pf-blotter-fix/internal/model"
)

var (
	ErrUnknownOrder     = errors.New("order not found")
	ErrNotOpen          = errors.New("order is not open")
	ErrDuplicateClOrdID = errors.New("clOrdId already exists")
	ErrBelowCumQty      = errors.New("quantity below executed quantity")
)

// Store is the authoritative record of every order seen this session.
// All mutation is serialized under a single lock; callers only ever hold
// copies of records, never references into the map.
type Store struct {
	mu     sync.Mutex
	orders map[string]model.OrderRecord
	index  []string
}

// New creates an empty store.
func New() *Store {
	return &Store{orders: make(map[string]model.OrderRecord)}
}

// Upsert inserts the record, or overwrites it in place keeping its
// insertion-order position.
func (s *Store) Upsert(record model.OrderRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[record.ClOrdID]; !ok {
		s.index = append(s.index, record.ClOrdID)
	}
	s.orders[record.ClOrdID] = record
}

// UpdateStatus sets status, leavesQty, cumQty and avgPx atomically and
// stamps transactTime. Unknown keys and transitions out of a terminal
// state are ignored.
func (s *Store) UpdateStatus(clOrdID string, status model.Status, leavesQty, cumQty int, avgPx float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[clOrdID]
	if !ok || o.Status.Terminal() {
		return
	}
	o.Status = status
	o.LeavesQty = leavesQty
	o.CumQty = cumQty
	o.AvgPx = avgPx
	o.TransactTime = model.UTCTimestamp(time.Now())
	if status == model.StatusFilled && o.FillTimeUs == 0 {
		o.FillTimeUs = model.NowMicros()
	}
	s.orders[clOrdID] = o
}

// Reject marks the order rejected and stores the reason.
func (s *Store) Reject(clOrdID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[clOrdID]
	if !ok {
		return
	}
	o.Status = model.StatusRejected
	o.RejectReason = reason
	o.LeavesQty = 0
	o.TransactTime = model.UTCTimestamp(time.Now())
	s.orders[clOrdID] = o
}

// Get returns a copy of the record.
func (s *Store) Get(clOrdID string) (model.OrderRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[clOrdID]
	return o, ok
}

// Exists reports membership.
func (s *Store) Exists(clOrdID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.orders[clOrdID]
	return ok
}

// OpenOrders returns copies of all orders still eligible for fills.
func (s *Store) OpenOrders() []model.OrderRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var open []model.OrderRecord
	for _, o := range s.orders {
		if o.Status.Open() {
			open = append(open, o)
		}
	}
	return open
}

// Remove deletes the record and its index entry.
func (s *Store) Remove(clOrdID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[clOrdID]; !ok {
		return
	}
	delete(s.orders, clOrdID)
	for i, id := range s.index {
		if id == clOrdID {
			s.index = append(s.index[:i], s.index[i+1:]...)
			break
		}
	}
}

// Amend atomically applies a replace: the record moves to newID (keeping
// its insertion-order position) with the new quantity and price. It fails
// when the order is gone, terminal, newID is taken, or the new quantity
// fell below what already executed. leavesQty is recomputed; reducing the
// quantity down to cumQty completes the order.
func (s *Store) Amend(origID, newID string, quantity int, price float64) (model.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[origID]
	if !ok {
		return model.OrderRecord{}, ErrUnknownOrder
	}
	if !o.Status.Open() {
		return model.OrderRecord{}, ErrNotOpen
	}
	if newID != origID {
		if _, taken := s.orders[newID]; taken {
			return model.OrderRecord{}, ErrDuplicateClOrdID
		}
	}
	if quantity < o.CumQty {
		return model.OrderRecord{}, ErrBelowCumQty
	}

	o.ClOrdID = newID
	o.Quantity = quantity
	if price > 0 {
		o.Price = price
	}
	o.LeavesQty = quantity - o.CumQty
	if o.LeavesQty == 0 && o.CumQty > 0 {
		o.Status = model.StatusFilled
		if o.FillTimeUs == 0 {
			o.FillTimeUs = model.NowMicros()
		}
	}
	o.TransactTime = model.UTCTimestamp(time.Now())

	if newID != origID {
		delete(s.orders, origID)
		for i, id := range s.index {
			if id == origID {
				s.index[i] = newID
				break
			}
		}
	}
	s.orders[newID] = o
	return o, nil
}

// Snapshot returns copies of all records in first-admission order.
func (s *Store) Snapshot() []model.OrderRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.OrderRecord, 0, len(s.index))
	for _, id := range s.index {
		if o, ok := s.orders[id]; ok {
			out = append(out, o)
		}
	}
	return out
}

// SnapshotJSON renders Snapshot as a JSON array.
func (s *Store) SnapshotJSON() []byte {
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		return []byte("[]")
	}
	return data
}

// Stats are aggregate counters over the whole store.
type Stats struct {
	TotalOrders    int     `json:"totalOrders"`
	NewOrders      int     `json:"newOrders"`
	PartialOrders  int     `json:"partialOrders"`
	FilledOrders   int     `json:"filledOrders"`
	RejectedOrders int     `json:"rejectedOrders"`
	CanceledOrders int     `json:"canceledOrders"`
	AvgLatencyUs   int64   `json:"avgLatencyUs"`
	MinLatencyUs   int64   `json:"minLatencyUs"`
	MaxLatencyUs   int64   `json:"maxLatencyUs"`
	P99LatencyUs   int64   `json:"p99LatencyUs"`
	TotalNotional  float64 `json:"totalNotional"`
	FilledNotional float64 `json:"filledNotional"`
}

// Stats computes aggregates from a full scan under the lock.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats Stats
	latencies := make([]int64, 0, len(s.orders))
	for _, o := range s.orders {
		stats.TotalOrders++
		switch o.Status {
		case model.StatusNew:
			stats.NewOrders++
		case model.StatusPartial:
			stats.PartialOrders++
		case model.StatusFilled:
			stats.FilledOrders++
		case model.StatusRejected:
			stats.RejectedOrders++
		case model.StatusCanceled:
			stats.CanceledOrders++
		}

		stats.TotalNotional += o.Price * float64(o.Quantity)
		if o.Status == model.StatusFilled || o.Status == model.StatusPartial {
			stats.FilledNotional += o.AvgPx * float64(o.CumQty)
		}
		if o.LatencyUs > 0 {
			latencies = append(latencies, o.LatencyUs)
		}
	}

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum int64
		for _, l := range latencies {
			sum += l
		}
		stats.AvgLatencyUs = sum / int64(len(latencies))
		stats.MinLatencyUs = latencies[0]
		stats.MaxLatencyUs = latencies[len(latencies)-1]

		// Nearest-rank p99: floor((n-1) * 0.99), clamped to the last index.
		p99 := int(float64(len(latencies)-1) * 0.99)
		if p99 >= len(latencies) {
			p99 = len(latencies) - 1
		}
		stats.P99LatencyUs = latencies[p99]
	}
	return stats
}
