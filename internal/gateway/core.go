// Package gateway holds the order-entry core shared by the FIX and UI
// paths: admission handlers, the fill loop, and the market data feed.
package gateway

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mdeadwiler/pf-blotter-fix/internal/archive"
	"github.com/mdeadwiler/pf-blotter-fix/internal/audit"
	"github.com/mdeadwiler/pf-blotter-fix/internal/bus"
	"github.com/mdeadwiler/pf-blotter-fix/internal/model"
	"github.com/mdeadwiler/pf-blotter-fix/internal/obs"
	"github.com/mdeadwiler/pf-blotter-fix/internal/risk"
	"github.com/mdeadwiler/pf-blotter-fix/internal/sim"
	"github.com/mdeadwiler/pf-blotter-fix/internal/store"
)

// OrderRequest is one UI order submission.
type OrderRequest struct {
	ClOrdID  string
	Symbol   string
	Side     model.Side
	OrdType  model.OrdType
	Quantity int
	Price    float64
}

// CancelRequest asks to cancel a resting order.
type CancelRequest struct {
	OrigClOrdID string
	ClOrdID     string
}

// AmendRequest asks to replace a resting order. A zero NewQuantity or
// NewPrice leaves that field unchanged.
type AmendRequest struct {
	OrigClOrdID string
	ClOrdID     string
	NewQuantity int
	NewPrice    float64
}

// Core wires the store, simulator and risk engine behind the admission
// handlers. All handlers return (ok, reason); a rejected request writes
// no partial state.
type Core struct {
	Store   *store.Store
	Market  *sim.Simulator
	Risk    *risk.Engine
	Audit   *audit.Log
	Events  *bus.Hub
	Archive *archive.Writer
	Metrics *obs.Metrics

	orderCounter uint64
}

// NextOrderID mints a server-assigned order id for the UI path.
func (c *Core) NextOrderID() string {
	return fmt.Sprintf("UI_ORD%d", atomic.AddUint64(&c.orderCounter, 1))
}

// PublishSnapshot broadcasts the full book to all order-event subscribers.
func (c *Core) PublishSnapshot() {
	c.Events.Publish(string(c.Store.SnapshotJSON()))
	c.Metrics.IncSnapshot()
}

// SubmitOrder validates and admits a UI order.
func (c *Core) SubmitOrder(req OrderRequest) (bool, string) {
	submitTime := model.NowMicros()

	intent := risk.Intent{
		ClOrdID:  req.ClOrdID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: req.Quantity,
		Price:    req.Price,
		HasPrice: req.OrdType == model.OrdTypeLimit,
	}
	if decision := c.Risk.Evaluate(intent); decision.Rejected() {
		c.Audit.Event(audit.EventOrderRejected, req.ClOrdID, "reason="+decision.Reason)
		c.Metrics.IncRejected()
		return false, decision.Reason
	}

	price := req.Price
	if req.OrdType == model.OrdTypeMarket {
		// Market orders rest at the admission-time mark, which still
		// counts against the notional limit.
		price = c.Market.Mark(req.Symbol)
		if decision := c.Risk.CheckNotional(price, req.Quantity); decision.Rejected() {
			c.Audit.Event(audit.EventOrderRejected, req.ClOrdID, "reason="+decision.Reason)
			c.Metrics.IncRejected()
			return false, decision.Reason
		}
	}

	ackTime := model.NowMicros()
	record := model.OrderRecord{
		ClOrdID:      req.ClOrdID,
		OrderID:      c.NextOrderID(),
		Symbol:       req.Symbol,
		Side:         req.Side,
		OrdType:      req.OrdType,
		Price:        price,
		Quantity:     req.Quantity,
		LeavesQty:    req.Quantity,
		Status:       model.StatusNew,
		TransactTime: model.UTCTimestamp(time.Now()),
		SubmitTimeUs: submitTime,
		AckTimeUs:    ackTime,
		LatencyUs:    ackTime - submitTime,
	}
	c.Store.Upsert(record)

	c.Audit.Event(audit.EventOrderNew, req.ClOrdID, fmt.Sprintf(
		"symbol=%s,side=%s,qty=%d,px=%.2f", req.Symbol, req.Side, req.Quantity, price))
	c.Metrics.IncAdmitted()
	c.Metrics.ObserveAdmission(time.Duration(record.LatencyUs) * time.Microsecond)

	c.PublishSnapshot()
	return true, ""
}

// CancelOrder cancels a resting order by its original clOrdId.
func (c *Core) CancelOrder(req CancelRequest) (bool, string) {
	existing, ok := c.Store.Get(req.OrigClOrdID)
	if !ok {
		c.Audit.Event(audit.EventCancelRejected, req.OrigClOrdID, "reason=unknown order")
		return false, "Unknown order: " + req.OrigClOrdID
	}

	switch existing.Status {
	case model.StatusFilled:
		c.Audit.Event(audit.EventCancelRejected, req.OrigClOrdID, "reason=too late")
		return false, "Cannot cancel filled order"
	case model.StatusCanceled:
		c.Audit.Event(audit.EventCancelRejected, req.OrigClOrdID, "reason=already canceled")
		return false, "Order already canceled"
	case model.StatusRejected:
		c.Audit.Event(audit.EventCancelRejected, req.OrigClOrdID, "reason=rejected order")
		return false, "Cannot cancel rejected order"
	}

	c.Store.UpdateStatus(req.OrigClOrdID, model.StatusCanceled, 0, 0, 0)
	c.Audit.Event(audit.EventOrderCanceled, req.OrigClOrdID, "cancelClOrdId="+req.ClOrdID)
	c.Metrics.IncCancel()
	if canceled, ok := c.Store.Get(req.OrigClOrdID); ok {
		c.Archive.Record(canceled)
	}

	c.PublishSnapshot()
	return true, ""
}

// AmendOrder replaces a resting order: the quantity may only shrink and
// never below what already executed, the new notional must stay within
// risk, and the record moves to the new clOrdId keeping its place in the
// book.
func (c *Core) AmendOrder(req AmendRequest) (bool, string) {
	existing, ok := c.Store.Get(req.OrigClOrdID)
	if !ok {
		c.Audit.Event(audit.EventReplaceReject, req.OrigClOrdID, "reason=unknown order")
		return false, "Unknown order: " + req.OrigClOrdID
	}
	if !existing.Status.Open() {
		c.Audit.Event(audit.EventReplaceReject, req.OrigClOrdID, "reason=not open")
		return false, fmt.Sprintf("Cannot amend order in status %s", existing.Status)
	}

	quantity := existing.Quantity
	if req.NewQuantity > 0 {
		quantity = req.NewQuantity
	}
	if quantity > existing.Quantity {
		c.Audit.Event(audit.EventReplaceReject, req.OrigClOrdID, "reason=quantity increase")
		return false, "Quantity may only be reduced"
	}
	if quantity < existing.CumQty {
		c.Audit.Event(audit.EventReplaceReject, req.OrigClOrdID, "reason=below cumQty")
		return false, fmt.Sprintf("Quantity cannot go below executed quantity (%d)", existing.CumQty)
	}

	price := existing.Price
	if req.NewPrice > 0 {
		price = req.NewPrice
	}
	if decision := c.Risk.CheckNotional(price, quantity); decision.Rejected() {
		c.Audit.Event(audit.EventReplaceReject, req.OrigClOrdID, "reason="+decision.Reason)
		return false, decision.Reason
	}

	amended, err := c.Store.Amend(req.OrigClOrdID, req.ClOrdID, quantity, price)
	if err != nil {
		c.Audit.Event(audit.EventReplaceReject, req.OrigClOrdID, "reason="+err.Error())
		switch {
		case errors.Is(err, store.ErrDuplicateClOrdID):
			return false, "Duplicate ClOrdID"
		case errors.Is(err, store.ErrBelowCumQty):
			return false, fmt.Sprintf("Quantity cannot go below executed quantity (%d)", existing.CumQty)
		default:
			return false, "Cannot amend order"
		}
	}

	c.Audit.Event(audit.EventOrderReplaced, req.ClOrdID, fmt.Sprintf(
		"origClOrdId=%s,qty=%d->%d,px=%.2f->%.2f",
		req.OrigClOrdID, existing.Quantity, amended.Quantity, existing.Price, amended.Price))
	c.Metrics.IncAmend()
	if amended.Status.Terminal() {
		c.Archive.Record(amended)
	}

	c.PublishSnapshot()
	return true, ""
}
