// Package ops loads the gateway's JSON configuration file and applies
// defaults for every omitted field.
package ops

import (
	"encoding/json"
	"os"
	"time"

	"github.com/yanun0323/errors"

	"github.com/mdeadwiler/pf-blotter-fix/internal/risk"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	FIX         FIXConfig     `json:"fix"`
	HTTP        HTTPConfig    `json:"http"`
	Market      MarketConfig  `json:"market"`
	FillLoop    LoopConfig    `json:"fillLoop"`
	Persistence PersistConfig `json:"persistence"`
	Audit       AuditConfig   `json:"audit"`
	Risk        risk.Config   `json:"risk"`
	Archive     ArchiveConfig `json:"archive"`
}

// FIXConfig points at the quickfix session settings file.
type FIXConfig struct {
	Settings string `json:"settings"`
}

// HTTPConfig configures the REST/SSE listener.
type HTTPConfig struct {
	Port        int      `json:"port"`
	CORSOrigins []string `json:"corsOrigins"`
}

// MarketConfig parameterizes the simulator and the market data feed.
type MarketConfig struct {
	Seed           int64    `json:"seed"`
	StartPrice     float64  `json:"startPrice"`
	Step           float64  `json:"step"`
	Symbols        []string `json:"symbols"`
	TickIntervalMs int      `json:"tickIntervalMs"`
}

// LoopConfig configures a periodic worker.
type LoopConfig struct {
	IntervalMs int `json:"intervalMs"`
}

// PersistConfig configures the snapshot file.
type PersistConfig struct {
	Path            string `json:"path"`
	IntervalSeconds int    `json:"intervalSeconds"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Path string `json:"path"`
}

// ArchiveConfig configures the optional Postgres archive.
type ArchiveConfig struct {
	DSN string `json:"dsn"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	FIXSettings     string
	HTTPPort        int
	CORSOrigins     []string
	MarketSeed      int64
	StartPrice      float64
	Step            float64
	Symbols         []string
	TickInterval    time.Duration
	FillInterval    time.Duration
	PersistPath     string
	PersistInterval time.Duration
	AuditPath       string
	Risk            risk.Config
	ArchiveDSN      string
}

// Default returns the configuration used when no file is given.
func Default() Loaded {
	return Loaded{
		FIXSettings:     "config/acceptor.cfg",
		HTTPPort:        8080,
		CORSOrigins:     []string{"http://localhost:5173", "http://localhost:3000"},
		MarketSeed:      42,
		StartPrice:      100.0,
		Step:            0.05,
		Symbols:         []string{"AAPL", "GOOGL", "MSFT", "NVDA", "TSLA", "AMZN"},
		TickInterval:    250 * time.Millisecond,
		FillInterval:    500 * time.Millisecond,
		PersistPath:     "data/orders.json",
		PersistInterval: 5 * time.Second,
		AuditPath:       "log/audit.log",
		Risk:            risk.DefaultConfig(),
	}
}

// Load reads a JSON config file and resolves it against the defaults.
// An empty path yields Default().
func Load(path string) (Loaded, error) {
	loaded := Default()
	if path == "" {
		return loaded, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "read config")
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "parse config")
	}

	if cfg.FIX.Settings != "" {
		loaded.FIXSettings = cfg.FIX.Settings
	}
	if cfg.HTTP.Port > 0 {
		loaded.HTTPPort = cfg.HTTP.Port
	}
	if len(cfg.HTTP.CORSOrigins) > 0 {
		loaded.CORSOrigins = cfg.HTTP.CORSOrigins
	}
	if cfg.Market.Seed != 0 {
		loaded.MarketSeed = cfg.Market.Seed
	}
	if cfg.Market.StartPrice > 0 {
		loaded.StartPrice = cfg.Market.StartPrice
	}
	if cfg.Market.Step > 0 {
		loaded.Step = cfg.Market.Step
	}
	if len(cfg.Market.Symbols) > 0 {
		loaded.Symbols = cfg.Market.Symbols
	}
	if cfg.Market.TickIntervalMs > 0 {
		loaded.TickInterval = time.Duration(cfg.Market.TickIntervalMs) * time.Millisecond
	}
	if cfg.FillLoop.IntervalMs > 0 {
		loaded.FillInterval = time.Duration(cfg.FillLoop.IntervalMs) * time.Millisecond
	}
	if cfg.Persistence.Path != "" {
		loaded.PersistPath = cfg.Persistence.Path
	}
	if cfg.Persistence.IntervalSeconds > 0 {
		loaded.PersistInterval = time.Duration(cfg.Persistence.IntervalSeconds) * time.Second
	}
	if cfg.Audit.Path != "" {
		loaded.AuditPath = cfg.Audit.Path
	}
	if cfg.Risk.MaxOrderQty > 0 {
		loaded.Risk.MaxOrderQty = cfg.Risk.MaxOrderQty
	}
	if cfg.Risk.MaxNotional > 0 {
		loaded.Risk.MaxNotional = cfg.Risk.MaxNotional
	}
	loaded.ArchiveDSN = cfg.Archive.DSN
	return loaded, nil
}
