package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	loaded, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), loaded)
	assert.Equal(t, 8080, loaded.HTTPPort)
	assert.Equal(t, int64(42), loaded.MarketSeed)
	assert.Equal(t, 500*time.Millisecond, loaded.FillInterval)
	assert.Equal(t, 10_000, loaded.Risk.MaxOrderQty)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.json")
	cfg := `{
	  "fix": {"settings": "custom/acceptor.cfg"},
	  "http": {"port": 9090, "corsOrigins": ["https://example.com"]},
	  "market": {"seed": 999, "startPrice": 50.5, "step": 0.1, "symbols": ["IBM"], "tickIntervalMs": 100},
	  "fillLoop": {"intervalMs": 250},
	  "persistence": {"path": "state/orders.json", "intervalSeconds": 10},
	  "audit": {"path": "state/audit.log"},
	  "risk": {"maxOrderQty": 500, "maxNotional": 250000},
	  "archive": {"dsn": "postgres://localhost/blotter"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom/acceptor.cfg", loaded.FIXSettings)
	assert.Equal(t, 9090, loaded.HTTPPort)
	assert.Equal(t, []string{"https://example.com"}, loaded.CORSOrigins)
	assert.Equal(t, int64(999), loaded.MarketSeed)
	assert.Equal(t, 50.5, loaded.StartPrice)
	assert.Equal(t, 0.1, loaded.Step)
	assert.Equal(t, []string{"IBM"}, loaded.Symbols)
	assert.Equal(t, 100*time.Millisecond, loaded.TickInterval)
	assert.Equal(t, 250*time.Millisecond, loaded.FillInterval)
	assert.Equal(t, "state/orders.json", loaded.PersistPath)
	assert.Equal(t, 10*time.Second, loaded.PersistInterval)
	assert.Equal(t, "state/audit.log", loaded.AuditPath)
	assert.Equal(t, 500, loaded.Risk.MaxOrderQty)
	assert.Equal(t, 250_000.0, loaded.Risk.MaxNotional)
	assert.Equal(t, "postgres://localhost/blotter", loaded.ArchiveDSN)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"http": {"port": 9999}}`), 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, loaded.HTTPPort)
	assert.Equal(t, Default().Symbols, loaded.Symbols)
	assert.Equal(t, Default().Risk, loaded.Risk)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.json")
	require.NoError(t, os.WriteFile(path, []byte("{oops"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
