// Package persist snapshots the order store to disk on an interval and
// restores it at startup. Writes go to a temp file first and are renamed
// into place, so a partial write never corrupts the canonical file.
package persist

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/mdeadwiler/pf-blotter-fix/internal/model"
)

// DefaultInterval is the steady-state save cadence.
const DefaultInterval = 5 * time.Second

const documentVersion = 1

// Document is the version-1 on-disk layout.
type Document struct {
	Version int               `json:"version"`
	SavedAt int64             `json:"savedAt"`
	Orders  []json.RawMessage `json:"orders"`
}

// Snapshotter supplies the records to persist.
type Snapshotter interface {
	Snapshot() []model.OrderRecord
}

// Manager owns the snapshot file and its background save worker.
type Manager struct {
	path     string
	interval time.Duration
	source   Snapshotter

	mu        sync.Mutex
	lastSave  time.Time
	saveCount int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager writing to path every interval.
func NewManager(path string, interval time.Duration, source Snapshotter) (*Manager, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create snapshot dir")
		}
	}
	return &Manager{path: path, interval: interval, source: source}, nil
}

// Load reads the snapshot file and hands every well-formed record to
// loader. A missing file, malformed document, or malformed record is
// non-fatal; bad records are skipped.
func (m *Manager) Load(loader func(model.OrderRecord)) int {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logs.Warnf("snapshot read failed: %v", err)
		}
		return 0
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		logs.Warnf("snapshot parse failed, starting empty: %v", err)
		return 0
	}

	count := 0
	for _, raw := range doc.Orders {
		var record model.OrderRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			logs.Warnf("snapshot record skipped: %v", err)
			continue
		}
		if record.ClOrdID == "" {
			continue
		}
		loader(record)
		count++
	}
	logs.Infof("loaded %d orders from %s", count, m.path)
	return count
}

// Start launches the background save worker.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				// Final save so a clean shutdown never loses state.
				if err := m.SaveNow(); err != nil {
					logs.Errorf("final snapshot save failed: %v", err)
				}
				return
			case <-ticker.C:
				if err := m.SaveNow(); err != nil {
					logs.Errorf("snapshot save failed: %v", err)
				}
			}
		}
	}()
}

// Stop cancels the worker and waits for its final save.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// SaveNow writes the current store snapshot atomically.
func (m *Manager) SaveNow() error {
	snapshot := m.source.Snapshot()
	orders := make([]json.RawMessage, 0, len(snapshot))
	for _, record := range snapshot {
		raw, err := json.Marshal(record)
		if err != nil {
			return errors.Wrap(err, "marshal order")
		}
		orders = append(orders, raw)
	}

	doc := Document{
		Version: documentVersion,
		SavedAt: time.Now().Unix(),
		Orders:  orders,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write temp snapshot")
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return errors.Wrap(err, "rename snapshot")
	}

	m.mu.Lock()
	m.lastSave = time.Now()
	m.saveCount++
	m.mu.Unlock()
	return nil
}

// SaveCount reports how many saves completed.
func (m *Manager) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCount
}

// LastSave reports the wall-clock time of the most recent save.
func (m *Manager) LastSave() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSave
}
