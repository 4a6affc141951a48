package fixgw

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	"github.com/quickfixgo/fix44/newordersingle"
	"github.com/quickfixgo/fix44/ordercancelrequest"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/tag"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdeadwiler/pf-blotter-fix/internal/audit"
	"github.com/mdeadwiler/pf-blotter-fix/internal/bus"
	"github.com/mdeadwiler/pf-blotter-fix/internal/gateway"
	"github.com/mdeadwiler/pf-blotter-fix/internal/model"
	"github.com/mdeadwiler/pf-blotter-fix/internal/obs"
	"github.com/mdeadwiler/pf-blotter-fix/internal/risk"
	"github.com/mdeadwiler/pf-blotter-fix/internal/sim"
	"github.com/mdeadwiler/pf-blotter-fix/internal/store"
)

type capture struct {
	sent []*quickfix.Message
}

func (c *capture) send(m quickfix.Messagable, _ quickfix.SessionID) error {
	c.sent = append(c.sent, m.ToMessage())
	return nil
}

func newTestApp(t *testing.T) (*App, *capture, *gateway.Core) {
	t.Helper()
	auditLog, err := audit.Open(filepath.Join(t.TempDir(), "audit.log"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditLog.Close() })

	orders := store.New()
	core := &gateway.Core{
		Store:   orders,
		Market:  sim.New(42, 100.0, 0.05),
		Risk:    risk.NewEngine(risk.DefaultConfig(), orders),
		Audit:   auditLog,
		Events:  bus.NewHub(),
		Metrics: obs.NewMetrics(),
	}
	outbox := &capture{}
	return New(core, outbox.send), outbox, core
}

func newOrderMsg(clOrdID, symbol string, side enum.Side, qty int64, price float64) newordersingle.NewOrderSingle {
	ordType := enum.OrdType_MARKET
	if price > 0 {
		ordType = enum.OrdType_LIMIT
	}
	msg := newordersingle.New(
		field.NewClOrdID(clOrdID),
		field.NewSide(side),
		field.NewTransactTime(time.Now().UTC()),
		field.NewOrdType(ordType),
	)
	msg.SetSymbol(symbol)
	msg.SetOrderQty(decimal.NewFromInt(qty), 0)
	if price > 0 {
		msg.SetPrice(decimal.NewFromFloat(price), 2)
	}
	return msg
}

func cancelMsg(clOrdID, origClOrdID, symbol string, side enum.Side) ordercancelrequest.OrderCancelRequest {
	msg := ordercancelrequest.New(
		field.NewOrigClOrdID(origClOrdID),
		field.NewClOrdID(clOrdID),
		field.NewSide(side),
		field.NewTransactTime(time.Now().UTC()),
	)
	msg.SetSymbol(symbol)
	return msg
}

func fieldValue(t *testing.T, m *quickfix.Message, fieldTag quickfix.Tag) string {
	t.Helper()
	value, err := m.Body.GetString(fieldTag)
	require.Nil(t, err, "tag %d missing", fieldTag)
	return value
}

func TestNewOrderSingleAck(t *testing.T) {
	app, outbox, core := newTestApp(t)

	// A buy limit far below the walk rests instead of filling.
	err := app.onNewOrderSingle(newOrderMsg("C1", "AAPL", enum.Side_BUY, 500, 1.00), quickfix.SessionID{})
	require.Nil(t, err)

	require.Len(t, outbox.sent, 1)
	ack := outbox.sent[0]
	assert.Equal(t, string(enum.ExecType_NEW), fieldValue(t, ack, tag.ExecType))
	assert.Equal(t, string(enum.OrdStatus_NEW), fieldValue(t, ack, tag.OrdStatus))
	assert.Equal(t, "C1", fieldValue(t, ack, tag.ClOrdID))
	assert.Equal(t, "500", fieldValue(t, ack, tag.LeavesQty))
	assert.Equal(t, "0", fieldValue(t, ack, tag.CumQty))
	assert.Equal(t, "ORD1", fieldValue(t, ack, tag.OrderID))
	assert.Equal(t, "EXEC1", fieldValue(t, ack, tag.ExecID))

	got, ok := core.Store.Get("C1")
	require.True(t, ok)
	assert.Equal(t, model.StatusNew, got.Status)
	assert.Equal(t, model.OrdTypeLimit, got.OrdType)
	assert.Equal(t, 500, got.LeavesQty)
}

func TestNewOrderSingleSynchronousFill(t *testing.T) {
	app, outbox, core := newTestApp(t)

	// A buy limit far above the walk crosses immediately: NEW then TRADE.
	err := app.onNewOrderSingle(newOrderMsg("C1", "AAPL", enum.Side_BUY, 500, 9_999), quickfix.SessionID{})
	require.Nil(t, err)

	require.Len(t, outbox.sent, 2)
	fill := outbox.sent[1]
	assert.Equal(t, string(enum.ExecType_TRADE), fieldValue(t, fill, tag.ExecType))
	assert.Equal(t, string(enum.OrdStatus_FILLED), fieldValue(t, fill, tag.OrdStatus))
	assert.Equal(t, "500", fieldValue(t, fill, tag.LastQty))
	assert.Equal(t, "500", fieldValue(t, fill, tag.CumQty))
	assert.Equal(t, "0", fieldValue(t, fill, tag.LeavesQty))

	got, _ := core.Store.Get("C1")
	assert.Equal(t, model.StatusFilled, got.Status)
	assert.Equal(t, 500, got.CumQty)
	assert.Equal(t, 9_999.0, got.AvgPx)
}

func TestNewOrderSingleDuplicateRejected(t *testing.T) {
	app, outbox, core := newTestApp(t)

	require.Nil(t, app.onNewOrderSingle(newOrderMsg("DUP", "AAPL", enum.Side_BUY, 100, 1.00), quickfix.SessionID{}))
	require.Nil(t, app.onNewOrderSingle(newOrderMsg("DUP", "AAPL", enum.Side_BUY, 100, 1.00), quickfix.SessionID{}))

	require.Len(t, outbox.sent, 2)
	reject := outbox.sent[1]
	assert.Equal(t, string(enum.ExecType_REJECTED), fieldValue(t, reject, tag.ExecType))
	assert.Equal(t, string(enum.OrdStatus_REJECTED), fieldValue(t, reject, tag.OrdStatus))
	assert.Equal(t, "6", fieldValue(t, reject, tag.OrdRejReason))
	assert.Equal(t, "Duplicate ClOrdID", fieldValue(t, reject, tag.Text))
	assert.Equal(t, "0", fieldValue(t, reject, tag.LeavesQty))

	// The original admission is untouched.
	got, _ := core.Store.Get("DUP")
	assert.Equal(t, model.StatusNew, got.Status)
}

func TestNewOrderSingleNotionalRejected(t *testing.T) {
	app, outbox, core := newTestApp(t)

	err := app.onNewOrderSingle(newOrderMsg("BIG", "AAPL", enum.Side_BUY, 10_000, 150.00), quickfix.SessionID{})
	require.Nil(t, err)

	require.Len(t, outbox.sent, 1)
	reject := outbox.sent[0]
	assert.Equal(t, string(enum.ExecType_REJECTED), fieldValue(t, reject, tag.ExecType))
	assert.Equal(t, "3", fieldValue(t, reject, tag.OrdRejReason))

	// FIX rejects are recorded for UI visibility.
	got, ok := core.Store.Get("BIG")
	require.True(t, ok)
	assert.Equal(t, model.StatusRejected, got.Status)
	assert.Equal(t, "Notional exceeds limit ($1000000)", got.RejectReason)
}

func TestNewOrderSingleInvalidSideRejected(t *testing.T) {
	app, outbox, _ := newTestApp(t)

	err := app.onNewOrderSingle(newOrderMsg("C1", "AAPL", enum.Side("9"), 100, 1.00), quickfix.SessionID{})
	require.Nil(t, err)

	require.Len(t, outbox.sent, 1)
	reject := outbox.sent[0]
	assert.Equal(t, "99", fieldValue(t, reject, tag.OrdRejReason))
	assert.Equal(t, "Invalid side (must be 1=Buy or 2=Sell)", fieldValue(t, reject, tag.Text))
}

func TestOrderIDsAreMonotonic(t *testing.T) {
	app, outbox, _ := newTestApp(t)

	require.Nil(t, app.onNewOrderSingle(newOrderMsg("A", "AAPL", enum.Side_BUY, 10, 1.00), quickfix.SessionID{}))
	require.Nil(t, app.onNewOrderSingle(newOrderMsg("B", "AAPL", enum.Side_BUY, 10, 1.00), quickfix.SessionID{}))

	require.Len(t, outbox.sent, 2)
	assert.Equal(t, "ORD1", fieldValue(t, outbox.sent[0], tag.OrderID))
	assert.Equal(t, "ORD2", fieldValue(t, outbox.sent[1], tag.OrderID))
}

func TestCancelUnknownOrder(t *testing.T) {
	app, outbox, _ := newTestApp(t)

	err := app.onOrderCancelRequest(cancelMsg("X1", "missing", "AAPL", enum.Side_BUY), quickfix.SessionID{})
	require.Nil(t, err)

	require.Len(t, outbox.sent, 1)
	reject := outbox.sent[0]
	assert.Equal(t, "UNKNOWN", fieldValue(t, reject, tag.OrderID))
	assert.Equal(t, string(cxlRejUnknownOrder), fieldValue(t, reject, tag.CxlRejReason))
}

func TestCancelTooLate(t *testing.T) {
	app, outbox, core := newTestApp(t)

	require.Nil(t, app.onNewOrderSingle(newOrderMsg("F", "AAPL", enum.Side_BUY, 100, 9_999), quickfix.SessionID{}))
	got, _ := core.Store.Get("F")
	require.Equal(t, model.StatusFilled, got.Status)
	outbox.sent = nil

	require.Nil(t, app.onOrderCancelRequest(cancelMsg("X1", "F", "AAPL", enum.Side_BUY), quickfix.SessionID{}))

	require.Len(t, outbox.sent, 1)
	reject := outbox.sent[0]
	assert.Equal(t, string(cxlRejTooLate), fieldValue(t, reject, tag.CxlRejReason))
	assert.Equal(t, string(enum.OrdStatus_FILLED), fieldValue(t, reject, tag.OrdStatus))
}

func TestCancelAlreadyCanceled(t *testing.T) {
	app, outbox, core := newTestApp(t)

	require.Nil(t, app.onNewOrderSingle(newOrderMsg("C", "AAPL", enum.Side_BUY, 100, 1.00), quickfix.SessionID{}))
	require.Nil(t, app.onOrderCancelRequest(cancelMsg("X1", "C", "AAPL", enum.Side_BUY), quickfix.SessionID{}))
	got, _ := core.Store.Get("C")
	require.Equal(t, model.StatusCanceled, got.Status)
	outbox.sent = nil

	require.Nil(t, app.onOrderCancelRequest(cancelMsg("X2", "C", "AAPL", enum.Side_BUY), quickfix.SessionID{}))

	require.Len(t, outbox.sent, 1)
	assert.Equal(t, string(cxlRejDuplicateClOrd), fieldValue(t, outbox.sent[0], tag.CxlRejReason))
}

func TestCancelRejectedOrder(t *testing.T) {
	app, outbox, core := newTestApp(t)

	// A failed admission leaves a REJECTED record behind.
	require.Nil(t, app.onNewOrderSingle(newOrderMsg("R", "AAPL", enum.Side_BUY, 0, 1.00), quickfix.SessionID{}))
	got, _ := core.Store.Get("R")
	require.Equal(t, model.StatusRejected, got.Status)
	outbox.sent = nil

	require.Nil(t, app.onOrderCancelRequest(cancelMsg("R_CXL", "R", "AAPL", enum.Side_BUY), quickfix.SessionID{}))

	require.Len(t, outbox.sent, 1)
	reject := outbox.sent[0]
	assert.Equal(t, string(cxlRejTooLate), fieldValue(t, reject, tag.CxlRejReason))
	assert.Equal(t, string(enum.OrdStatus_REJECTED), fieldValue(t, reject, tag.OrdStatus))

	// The record stays REJECTED.
	got, _ = core.Store.Get("R")
	assert.Equal(t, model.StatusRejected, got.Status)
}

func TestCancelRestingOrder(t *testing.T) {
	app, outbox, core := newTestApp(t)

	require.Nil(t, app.onNewOrderSingle(newOrderMsg("R", "AAPL", enum.Side_BUY, 100, 1.00), quickfix.SessionID{}))
	outbox.sent = nil

	require.Nil(t, app.onOrderCancelRequest(cancelMsg("R_CXL", "R", "AAPL", enum.Side_BUY), quickfix.SessionID{}))

	require.Len(t, outbox.sent, 1)
	cancel := outbox.sent[0]
	assert.Equal(t, string(enum.ExecType_CANCELED), fieldValue(t, cancel, tag.ExecType))
	assert.Equal(t, string(enum.OrdStatus_CANCELED), fieldValue(t, cancel, tag.OrdStatus))
	assert.Equal(t, "R_CXL", fieldValue(t, cancel, tag.ClOrdID))
	assert.Equal(t, "R", fieldValue(t, cancel, tag.OrigClOrdID))
	assert.Equal(t, "0", fieldValue(t, cancel, tag.LeavesQty))

	got, _ := core.Store.Get("R")
	assert.Equal(t, model.StatusCanceled, got.Status)
}
