package model

import "time"

// Side is the order side on the wire and in snapshots.
type Side string

const (
	SideUnknown Side = ""
	SideBuy     Side = "Buy"
	SideSell    Side = "Sell"
)

// Valid reports whether the side is one of the two tradable sides.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrdType distinguishes market orders from limit orders.
type OrdType string

const (
	OrdTypeMarket OrdType = "Market"
	OrdTypeLimit  OrdType = "Limit"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusNew      Status = "NEW"
	StatusPartial  Status = "PARTIAL"
	StatusFilled   Status = "FILLED"
	StatusRejected Status = "REJECTED"
	StatusCanceled Status = "CANCELED"
)

// Terminal reports whether no further transition is legal from the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusRejected, StatusCanceled:
		return true
	default:
		return false
	}
}

// Open reports whether the order can still receive fills.
func (s Status) Open() bool {
	return s == StatusNew || s == StatusPartial
}

// OrderRecord is the store's view of a single client order.
type OrderRecord struct {
	ClOrdID      string  `json:"clOrdId"`
	OrderID      string  `json:"orderId"`
	Symbol       string  `json:"symbol"`
	Side         Side    `json:"side"`
	OrdType      OrdType `json:"orderType"`
	Price        float64 `json:"price"`
	Quantity     int     `json:"quantity"`
	LeavesQty    int     `json:"leavesQty"`
	CumQty       int     `json:"cumQty"`
	AvgPx        float64 `json:"avgPx"`
	Status       Status  `json:"status"`
	RejectReason string  `json:"rejectReason"`
	TransactTime string  `json:"transactTime"`

	SubmitTimeUs int64 `json:"submitTimeUs"`
	AckTimeUs    int64 `json:"ackTimeUs"`
	FillTimeUs   int64 `json:"fillTimeUs"`
	LatencyUs    int64 `json:"latencyUs"`
}

// Notional is the admission-time currency value of the order.
func (r OrderRecord) Notional() float64 {
	return r.Price * float64(r.Quantity)
}

// UTCTimestamp formats t the way transactTime is persisted.
func UTCTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// NowMicros is the current wall clock in microseconds since epoch.
func NowMicros() int64 {
	return time.Now().UnixMicro()
}
