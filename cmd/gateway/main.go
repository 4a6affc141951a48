package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/quickfixgo/quickfix"
	filestore "github.com/quickfixgo/quickfix/store/file"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"github.com/mdeadwiler/pf-blotter-fix/internal/api"
	"github.com/mdeadwiler/pf-blotter-fix/internal/archive"
	"github.com/mdeadwiler/pf-blotter-fix/internal/audit"
	"github.com/mdeadwiler/pf-blotter-fix/internal/bus"
	"github.com/mdeadwiler/pf-blotter-fix/internal/fixgw"
	"github.com/mdeadwiler/pf-blotter-fix/internal/gateway"
	"github.com/mdeadwiler/pf-blotter-fix/internal/obs"
	"github.com/mdeadwiler/pf-blotter-fix/internal/ops"
	"github.com/mdeadwiler/pf-blotter-fix/internal/persist"
	"github.com/mdeadwiler/pf-blotter-fix/internal/risk"
	"github.com/mdeadwiler/pf-blotter-fix/internal/sim"
	"github.com/mdeadwiler/pf-blotter-fix/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	fixSettings := flag.String("fix-cfg", "", "Override for the FIX session settings file")
	httpPort := flag.Int("http-port", 0, "Override for the HTTP listen port")
	flag.Parse()

	if err := run(*configPath, *fixSettings, *httpPort); err != nil {
		logs.Errorf("gateway failed: %v", err)
		os.Exit(1)
	}
}

func run(configPath, fixSettings string, httpPort int) error {
	if addr := os.Getenv("PYROSCOPE_SERVER_ADDRESS"); addr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "pf-blotter-gateway",
			ServerAddress:   addr,
		})
		if err != nil {
			logs.Warnf("pyroscope start failed: %v", err)
		} else {
			defer func() { _ = profiler.Stop() }()
		}
	}

	cfg, err := ops.Load(configPath)
	if err != nil {
		return err
	}
	if fixSettings != "" {
		cfg.FIXSettings = fixSettings
	}
	if httpPort > 0 {
		cfg.HTTPPort = httpPort
	}

	auditLog, err := audit.Open(cfg.AuditPath)
	if err != nil {
		return err
	}
	defer auditLog.Close()
	auditLog.System(string(audit.EventSysStart), fmt.Sprintf("gateway starting, httpPort=%d", cfg.HTTPPort))

	orders := store.New()
	market := sim.New(cfg.MarketSeed, cfg.StartPrice, cfg.Step)
	metrics := obs.NewMetrics()
	events := bus.NewHub()
	marketData := bus.NewHub()

	archiveWriter, err := archive.Open(cfg.ArchiveDSN)
	if err != nil {
		return err
	}

	snapshots, err := persist.NewManager(cfg.PersistPath, cfg.PersistInterval, orders)
	if err != nil {
		return err
	}
	snapshots.Load(orders.Upsert)

	core := &gateway.Core{
		Store:   orders,
		Market:  market,
		Risk:    risk.NewEngine(cfg.Risk, orders),
		Audit:   auditLog,
		Events:  events,
		Archive: archiveWriter,
		Metrics: metrics,
	}

	settingsFile, err := os.Open(cfg.FIXSettings)
	if err != nil {
		return err
	}
	settings, err := quickfix.ParseSettings(settingsFile)
	settingsFile.Close()
	if err != nil {
		return err
	}
	logFactory, err := quickfix.NewFileLogFactory(settings)
	if err != nil {
		return err
	}
	acceptor, err := quickfix.NewAcceptor(
		fixgw.New(core, nil),
		filestore.NewStoreFactory(settings),
		settings,
		logFactory,
	)
	if err != nil {
		return err
	}

	ctx := context.Background()
	fillLoop := gateway.NewFillLoop(core, cfg.FillInterval)
	feed := gateway.NewFeed(market, marketData, metrics, cfg.Symbols, cfg.TickInterval)
	server := api.NewServer(core, events, marketData, cfg.HTTPPort, cfg.CORSOrigins)

	if err := acceptor.Start(); err != nil {
		return err
	}
	archiveWriter.Start(ctx)
	snapshots.Start(ctx)
	fillLoop.Start(ctx)
	feed.Start(ctx)
	server.Start()

	logs.Infof("gateway running (fix_cfg=%s, http_port=%d)", cfg.FIXSettings, cfg.HTTPPort)
	<-sys.Shutdown()

	logs.Info("shutdown signal received")
	auditLog.System(string(audit.EventSysStop), "gateway shutting down")

	acceptor.Stop()
	feed.Stop()
	fillLoop.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logs.Errorf("http shutdown failed: %v", err)
	}

	events.Close()
	marketData.Close()
	snapshots.Stop()
	archiveWriter.Stop()

	snap := metrics.Snapshot()
	logs.Infof("metrics: admitted=%d rejected=%d cancels=%d amends=%d fills=%d snapshots=%d ticks=%d admission=%+v sweep=%+v",
		snap.OrdersAdmitted, snap.OrdersRejected, snap.Cancels, snap.Amends, snap.Fills,
		snap.SnapshotsSent, snap.TicksSent, snap.AdmissionLat, snap.FillSweepLat)
	return nil
}
