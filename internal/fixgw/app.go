// Package fixgw terminates the FIX 4.4 order-entry session. It handles
// NewOrderSingle and OrderCancelRequest, runs pre-trade risk, and answers
// with ExecutionReport / OrderCancelReject.
package fixgw

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	"github.com/quickfixgo/fix44/executionreport"
	"github.com/quickfixgo/fix44/newordersingle"
	"github.com/quickfixgo/fix44/ordercancelreject"
	"github.com/quickfixgo/fix44/ordercancelrequest"
	"github.com/quickfixgo/quickfix"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"github.com/mdeadwiler/pf-blotter-fix/internal/audit"
	"github.com/mdeadwiler/pf-blotter-fix/internal/gateway"
	"github.com/mdeadwiler/pf-blotter-fix/internal/model"
	"github.com/mdeadwiler/pf-blotter-fix/internal/risk"
)

// FIX 4.4 CxlRejReason (tag 102) values.
const (
	cxlRejTooLate        = enum.CxlRejReason("0")
	cxlRejUnknownOrder   = enum.CxlRejReason("1")
	cxlRejDuplicateClOrd = enum.CxlRejReason("6")
)

// SendFunc delivers an outgoing message to the session peer. Injected so
// the application is testable without a live acceptor.
type SendFunc func(m quickfix.Messagable, sessionID quickfix.SessionID) error

// App is the quickfix application for the gateway's acceptor side.
type App struct {
	*quickfix.MessageRouter
	core *gateway.Core
	send SendFunc

	orderCounter uint64
	execCounter  uint64
}

// New creates the FIX application over the gateway core. A nil send uses
// quickfix.SendToTarget.
func New(core *gateway.Core, send SendFunc) *App {
	if send == nil {
		send = func(m quickfix.Messagable, sessionID quickfix.SessionID) error {
			return quickfix.SendToTarget(m, sessionID)
		}
	}
	app := &App{
		MessageRouter: quickfix.NewMessageRouter(),
		core:          core,
		send:          send,
	}
	app.AddRoute(newordersingle.Route(app.onNewOrderSingle))
	app.AddRoute(ordercancelrequest.Route(app.onOrderCancelRequest))
	return app
}

// OnCreate implements quickfix.Application.
func (a *App) OnCreate(sessionID quickfix.SessionID) {}

// OnLogon implements quickfix.Application.
func (a *App) OnLogon(sessionID quickfix.SessionID) {
	a.core.Audit.Event(audit.EventFixLogon, "-", "session="+sessionID.String())
	logs.Infof("fix logon: %s", sessionID.String())
}

// OnLogout implements quickfix.Application.
func (a *App) OnLogout(sessionID quickfix.SessionID) {
	a.core.Audit.Event(audit.EventFixLogout, "-", "session="+sessionID.String())
	logs.Infof("fix logout: %s", sessionID.String())
}

// ToAdmin implements quickfix.Application.
func (a *App) ToAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) {}

// FromAdmin implements quickfix.Application.
func (a *App) FromAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return nil
}

// ToApp implements quickfix.Application.
func (a *App) ToApp(msg *quickfix.Message, sessionID quickfix.SessionID) error {
	return nil
}

// FromApp routes inbound application messages.
func (a *App) FromApp(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return a.Route(msg, sessionID)
}

func (a *App) nextOrderID() string {
	return fmt.Sprintf("ORD%d", atomic.AddUint64(&a.orderCounter, 1))
}

func (a *App) nextExecID() string {
	return fmt.Sprintf("EXEC%d", atomic.AddUint64(&a.execCounter, 1))
}

func (a *App) onNewOrderSingle(msg newordersingle.NewOrderSingle, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	submitTime := model.NowMicros()

	clOrdID, err := msg.GetClOrdID()
	if err != nil {
		return err
	}
	symbol, err := msg.GetSymbol()
	if err != nil {
		return err
	}
	fixSide, err := msg.GetSide()
	if err != nil {
		return err
	}
	orderQty, err := msg.GetOrderQty()
	if err != nil {
		return err
	}

	hasPrice := msg.HasPrice()
	px := 0.0
	if hasPrice {
		priceDec, err := msg.GetPrice()
		if err != nil {
			return err
		}
		px, _ = priceDec.Float64()
	}

	qty := int(orderQty.IntPart())
	side := sideFromFIX(fixSide)
	ordType := model.OrdTypeMarket
	if hasPrice {
		ordType = model.OrdTypeLimit
	}

	decision := a.core.Risk.Evaluate(risk.Intent{
		ClOrdID:  clOrdID,
		Symbol:   symbol,
		Side:     side,
		Quantity: qty,
		Price:    px,
		HasPrice: hasPrice,
	})

	orderID := a.nextOrderID()

	if decision.Rejected() {
		reject := executionreport.New(
			field.NewOrderID(orderID),
			field.NewExecID(a.nextExecID()),
			field.NewExecType(enum.ExecType_REJECTED),
			field.NewOrdStatus(enum.OrdStatus_REJECTED),
			field.NewSide(fixSide),
			field.NewLeavesQty(decimal.Zero, 0),
			field.NewCumQty(decimal.Zero, 0),
			field.NewAvgPx(decimal.Zero, 2),
		)
		reject.SetClOrdID(clOrdID)
		reject.SetSymbol(symbol)
		reject.SetOrderQty(orderQty, 0)
		reject.SetOrdRejReason(enum.OrdRejReason(fmt.Sprintf("%d", decision.RejReason)))
		reject.SetText(decision.Reason)
		reject.SetTransactTime(time.Now().UTC())
		a.sendToTarget(reject, sessionID)

		// A duplicate leaves the order already stored under this clOrdId
		// untouched.
		if decision.RejReason != risk.RejReasonDuplicate {
			rejected := model.OrderRecord{
				ClOrdID:      clOrdID,
				OrderID:      orderID,
				Symbol:       symbol,
				Side:         side,
				OrdType:      ordType,
				Price:        px,
				Quantity:     qty,
				Status:       model.StatusRejected,
				RejectReason: decision.Reason,
				TransactTime: model.UTCTimestamp(time.Now()),
				SubmitTimeUs: submitTime,
			}
			a.core.Store.Upsert(rejected)
			a.core.Archive.Record(rejected)
		}
		a.core.Audit.Event(audit.EventOrderRejected, clOrdID, "reason="+decision.Reason)
		a.core.Metrics.IncRejected()
		a.core.PublishSnapshot()
		return nil
	}

	ack := executionreport.New(
		field.NewOrderID(orderID),
		field.NewExecID(a.nextExecID()),
		field.NewExecType(enum.ExecType_NEW),
		field.NewOrdStatus(enum.OrdStatus_NEW),
		field.NewSide(fixSide),
		field.NewLeavesQty(orderQty, 0),
		field.NewCumQty(decimal.Zero, 0),
		field.NewAvgPx(decimal.Zero, 2),
	)
	ack.SetClOrdID(clOrdID)
	ack.SetSymbol(symbol)
	ack.SetOrderQty(orderQty, 0)
	ack.SetTransactTime(time.Now().UTC())
	if hasPrice {
		ack.SetPrice(decimal.NewFromFloat(px), 2)
	}
	a.sendToTarget(ack, sessionID)

	ackTime := model.NowMicros()
	record := model.OrderRecord{
		ClOrdID:      clOrdID,
		OrderID:      orderID,
		Symbol:       symbol,
		Side:         side,
		OrdType:      ordType,
		Price:        px,
		Quantity:     qty,
		LeavesQty:    qty,
		Status:       model.StatusNew,
		TransactTime: model.UTCTimestamp(time.Now()),
		SubmitTimeUs: submitTime,
		AckTimeUs:    ackTime,
		LatencyUs:    ackTime - submitTime,
	}
	a.core.Store.Upsert(record)
	a.core.Audit.Event(audit.EventOrderNew, clOrdID, fmt.Sprintf(
		"symbol=%s,side=%s,qty=%d,px=%.2f", symbol, side, qty, px))
	a.core.Metrics.IncAdmitted()
	a.core.Metrics.ObserveAdmission(time.Duration(record.LatencyUs) * time.Microsecond)

	// A limit crossing the current market fills in full immediately.
	if hasPrice && a.core.Market.ShouldFill(symbol, side, px) {
		pxDec := decimal.NewFromFloat(px)
		fill := executionreport.New(
			field.NewOrderID(orderID),
			field.NewExecID(a.nextExecID()),
			field.NewExecType(enum.ExecType_TRADE),
			field.NewOrdStatus(enum.OrdStatus_FILLED),
			field.NewSide(fixSide),
			field.NewLeavesQty(decimal.Zero, 0),
			field.NewCumQty(orderQty, 0),
			field.NewAvgPx(pxDec, 2),
		)
		fill.SetClOrdID(clOrdID)
		fill.SetSymbol(symbol)
		fill.SetOrderQty(orderQty, 0)
		fill.SetPrice(pxDec, 2)
		fill.SetLastQty(orderQty, 0)
		fill.SetLastPx(pxDec, 2)
		fill.SetTransactTime(time.Now().UTC())
		a.sendToTarget(fill, sessionID)

		a.core.Store.UpdateStatus(clOrdID, model.StatusFilled, 0, qty, px)
		a.core.Audit.Event(audit.EventOrderFilled, clOrdID, fmtSyncFill(qty, px))
		a.core.Metrics.IncFill()
		if filled, ok := a.core.Store.Get(clOrdID); ok {
			a.core.Archive.Record(filled)
		}
	}

	a.core.PublishSnapshot()
	return nil
}

func (a *App) onOrderCancelRequest(msg ordercancelrequest.OrderCancelRequest, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	origClOrdID, err := msg.GetOrigClOrdID()
	if err != nil {
		return err
	}
	clOrdID, err := msg.GetClOrdID()
	if err != nil {
		return err
	}
	symbol, err := msg.GetSymbol()
	if err != nil {
		return err
	}
	fixSide, err := msg.GetSide()
	if err != nil {
		return err
	}

	existing, ok := a.core.Store.Get(origClOrdID)
	if !ok {
		a.sendCancelReject(sessionID, "UNKNOWN", clOrdID, origClOrdID, enum.OrdStatus_REJECTED, cxlRejUnknownOrder)
		a.core.Audit.Event(audit.EventCancelRejected, origClOrdID, "reason=unknown order")
		return nil
	}

	switch existing.Status {
	case model.StatusFilled:
		a.sendCancelReject(sessionID, existing.OrderID, clOrdID, origClOrdID, enum.OrdStatus_FILLED, cxlRejTooLate)
		a.core.Audit.Event(audit.EventCancelRejected, origClOrdID, "reason=too late")
		return nil
	case model.StatusCanceled:
		a.sendCancelReject(sessionID, existing.OrderID, clOrdID, origClOrdID, enum.OrdStatus_CANCELED, cxlRejDuplicateClOrd)
		a.core.Audit.Event(audit.EventCancelRejected, origClOrdID, "reason=already canceled")
		return nil
	case model.StatusRejected:
		// A rejected order is terminal; nothing is left to cancel.
		a.sendCancelReject(sessionID, existing.OrderID, clOrdID, origClOrdID, enum.OrdStatus_REJECTED, cxlRejTooLate)
		a.core.Audit.Event(audit.EventCancelRejected, origClOrdID, "reason=rejected order")
		return nil
	}

	cancel := executionreport.New(
		field.NewOrderID(existing.OrderID),
		field.NewExecID(a.nextExecID()),
		field.NewExecType(enum.ExecType_CANCELED),
		field.NewOrdStatus(enum.OrdStatus_CANCELED),
		field.NewSide(fixSide),
		field.NewLeavesQty(decimal.Zero, 0),
		field.NewCumQty(decimal.Zero, 0),
		field.NewAvgPx(decimal.Zero, 2),
	)
	cancel.SetClOrdID(clOrdID)
	cancel.SetOrigClOrdID(origClOrdID)
	cancel.SetSymbol(symbol)
	cancel.SetTransactTime(time.Now().UTC())
	a.sendToTarget(cancel, sessionID)

	a.core.Store.UpdateStatus(origClOrdID, model.StatusCanceled, 0, 0, 0)
	a.core.Audit.Event(audit.EventOrderCanceled, origClOrdID, "cancelClOrdId="+clOrdID)
	a.core.Metrics.IncCancel()
	if canceled, ok := a.core.Store.Get(origClOrdID); ok {
		a.core.Archive.Record(canceled)
	}
	a.core.PublishSnapshot()
	return nil
}

func (a *App) sendCancelReject(sessionID quickfix.SessionID, orderID, clOrdID, origClOrdID string, status enum.OrdStatus, reason enum.CxlRejReason) {
	if orderID == "" {
		orderID = "UNKNOWN"
	}
	reject := ordercancelreject.New(
		field.NewOrderID(orderID),
		field.NewClOrdID(clOrdID),
		field.NewOrigClOrdID(origClOrdID),
		field.NewOrdStatus(status),
		field.NewCxlRejResponseTo(enum.CxlRejResponseTo_ORDER_CANCEL_REQUEST),
	)
	reject.SetCxlRejReason(reason)
	a.sendToTarget(reject, sessionID)
}

func (a *App) sendToTarget(m quickfix.Messagable, sessionID quickfix.SessionID) {
	if err := a.send(m, sessionID); err != nil {
		logs.Errorf("fix send failed: %v", err)
	}
}

func sideFromFIX(side enum.Side) model.Side {
	switch side {
	case enum.Side_BUY:
		return model.SideBuy
	case enum.Side_SELL:
		return model.SideSell
	default:
		return model.SideUnknown
	}
}

func fmtSyncFill(qty int, px float64) string {
	return fmt.Sprintf("fillQty=%d,fillPx=%.4f,cumQty=%d,leavesQty=0", qty, px, qty)
}
