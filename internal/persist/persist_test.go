package persist

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdeadwiler/pf-blotter-fix/internal/model"
	"github.com/mdeadwiler/pf-blotter-fix/internal/store"
)

func seedStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New()
	s.Upsert(model.OrderRecord{
		ClOrdID:      "A",
		OrderID:      "ORD1",
		Symbol:       "AAPL",
		Side:         model.SideBuy,
		OrdType:      model.OrdTypeLimit,
		Price:        150.25,
		Quantity:     500,
		LeavesQty:    500,
		Status:       model.StatusNew,
		TransactTime: "2026-08-06T10:00:00Z",
		LatencyUs:    42,
	})
	s.Upsert(model.OrderRecord{
		ClOrdID:      "B",
		OrderID:      "ORD2",
		Symbol:       "TSLA",
		Side:         model.SideSell,
		OrdType:      model.OrdTypeMarket,
		Price:        248.30,
		Quantity:     100,
		CumQty:       100,
		AvgPx:        248.11,
		Status:       model.StatusFilled,
		TransactTime: "2026-08-06T10:00:01Z",
	})
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.json")
	source := seedStore(t)

	m, err := NewManager(path, time.Second, source)
	require.NoError(t, err)
	require.NoError(t, m.SaveNow())
	assert.Equal(t, 1, m.SaveCount())
	assert.False(t, m.LastSave().IsZero())

	restored := store.New()
	loader, err := NewManager(path, time.Second, restored)
	require.NoError(t, err)
	count := loader.Load(restored.Upsert)
	assert.Equal(t, 2, count)

	assert.Equal(t, source.Snapshot(), restored.Snapshot())
}

func TestSaveDocumentShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.json")
	m, err := NewManager(path, time.Second, seedStore(t))
	require.NoError(t, err)
	require.NoError(t, m.SaveNow())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 1, doc.Version)
	assert.NotZero(t, doc.SavedAt)
	assert.Len(t, doc.Orders, 2)

	// The temp file never survives a completed save.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestLoadMissingFile(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "absent.json"), time.Second, store.New())
	require.NoError(t, err)
	assert.Zero(t, m.Load(func(model.OrderRecord) { t.Fatal("loader called") }))
}

func TestLoadMalformedDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	m, err := NewManager(path, time.Second, store.New())
	require.NoError(t, err)
	assert.Zero(t, m.Load(func(model.OrderRecord) { t.Fatal("loader called") }))
}

func TestLoadSkipsMalformedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.json")
	doc := `{
	  "version": 1,
	  "savedAt": 1754476800,
	  "orders": [
	    {"clOrdId": "GOOD", "symbol": "AAPL", "quantity": 10, "status": "NEW"},
	    {"clOrdId": 12345},
	    {"symbol": "NOID"},
	    "not an object"
	  ]
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	restored := store.New()
	m, err := NewManager(path, time.Second, restored)
	require.NoError(t, err)

	count := m.Load(restored.Upsert)
	assert.Equal(t, 1, count)
	assert.True(t, restored.Exists("GOOD"))
}

func TestWorkerSavesPeriodicallyAndOnStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.json")
	m, err := NewManager(path, 20*time.Millisecond, seedStore(t))
	require.NoError(t, err)

	m.Start(t.Context())
	require.Eventually(t, func() bool { return m.SaveCount() >= 2 }, 2*time.Second, 10*time.Millisecond)
	m.Stop()

	// Stop triggers one final save.
	final := m.SaveCount()
	assert.GreaterOrEqual(t, final, 3)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
