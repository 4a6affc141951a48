// Package archive copies terminal orders into PostgreSQL for offline
// analysis. The writer sits off the hot path behind a buffered queue;
// when no DSN is configured the whole component is inert.
package archive

import (
	"context"
	"sync"

	"github.com/yanun0323/logs"
	"gorm.io/gorm/clause"

	"github.com/mdeadwiler/pf-blotter-fix/internal/model"
	"github.com/mdeadwiler/pf-blotter-fix/pkg/conn"
)

const queueSize = 256

// OrderRow is the archived shape of a terminal order.
type OrderRow struct {
	ClOrdID      string  `gorm:"column:cl_ord_id;primaryKey"`
	OrderID      string  `gorm:"column:order_id"`
	Symbol       string  `gorm:"column:symbol"`
	Side         string  `gorm:"column:side"`
	OrdType      string  `gorm:"column:ord_type"`
	Price        float64 `gorm:"column:price"`
	Quantity     int     `gorm:"column:quantity"`
	CumQty       int     `gorm:"column:cum_qty"`
	AvgPx        float64 `gorm:"column:avg_px"`
	Status       string  `gorm:"column:status"`
	RejectReason string  `gorm:"column:reject_reason"`
	TransactTime string  `gorm:"column:transact_time"`
	LatencyUs    int64   `gorm:"column:latency_us"`
}

// TableName keeps the table name stable across gorm naming strategies.
func (OrderRow) TableName() string {
	return "orders"
}

// Writer drains terminal orders into the database.
type Writer struct {
	client *conn.Client
	ch     chan model.OrderRecord
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Open connects and migrates the archive table. An empty DSN returns a
// nil writer, which every method accepts.
func Open(dsn string) (*Writer, error) {
	if dsn == "" {
		return nil, nil
	}
	client, err := conn.Open(conn.Option{ConnString: dsn})
	if err != nil {
		return nil, err
	}
	if err := client.DB().AutoMigrate(&OrderRow{}); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Writer{
		client: client,
		ch:     make(chan model.OrderRecord, queueSize),
	}, nil
}

// Start launches the drain goroutine.
func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case record := <-w.ch:
				w.store(record)
			}
		}
	}()
}

// Record enqueues a terminal order. Non-terminal records and full queues
// are dropped; the archive is best-effort.
func (w *Writer) Record(record model.OrderRecord) {
	if w == nil || !record.Status.Terminal() {
		return
	}
	select {
	case w.ch <- record:
	default:
		logs.Warn("archive queue full, dropping record")
	}
}

func (w *Writer) store(record model.OrderRecord) {
	row := OrderRow{
		ClOrdID:      record.ClOrdID,
		OrderID:      record.OrderID,
		Symbol:       record.Symbol,
		Side:         string(record.Side),
		OrdType:      string(record.OrdType),
		Price:        record.Price,
		Quantity:     record.Quantity,
		CumQty:       record.CumQty,
		AvgPx:        record.AvgPx,
		Status:       string(record.Status),
		RejectReason: record.RejectReason,
		TransactTime: record.TransactTime,
		LatencyUs:    record.LatencyUs,
	}
	err := w.client.DB().Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		logs.Errorf("archive insert failed: %v", err)
	}
}

// Stop drains nothing further and closes the connection.
func (w *Writer) Stop() {
	if w == nil {
		return
	}
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	if err := w.client.Close(); err != nil {
		logs.Errorf("archive close failed: %v", err)
	}
}
