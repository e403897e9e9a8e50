package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rustyeddy/fxrisk/config"
	"github.com/rustyeddy/fxrisk/correlation"
	"github.com/rustyeddy/fxrisk/emergency"
	"github.com/rustyeddy/fxrisk/journal"
	"github.com/rustyeddy/fxrisk/logger"
	"github.com/rustyeddy/fxrisk/market"
	"github.com/rustyeddy/fxrisk/metrics"
	"github.com/rustyeddy/fxrisk/notify"
	"github.com/rustyeddy/fxrisk/oanda"
	"github.com/rustyeddy/fxrisk/portfolio"
	"github.com/rustyeddy/fxrisk/service"
	"github.com/rustyeddy/fxrisk/valueatrisk"
	"go.uber.org/zap"
)

// app is a fully wired risk service plus the resources it must release.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	store    *journal.SQLite
	writer   *journal.AsyncWriter
	svc      *service.Service
}

func newApp(cfg *config.Config) (*app, error) {
	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}

	varMon, err := valueatrisk.New(cfg.VaR, valueatrisk.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("var monitor: %w", err)
	}
	corr, err := correlation.New(cfg.Correlation, correlation.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("correlation manager: %w", err)
	}
	emer, err := emergency.New(cfg.Account.Balance, cfg.Emergency, emergency.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("emergency manager: %w", err)
	}

	rec := metrics.New(a.registry)
	if cfg.Journal.Enabled {
		a.store, err = journal.NewSQLite(cfg.Journal.DBPath)
		if err != nil {
			return nil, err
		}
		a.writer = journal.NewAsyncWriter(a.store,
			journal.WithQueueSize(cfg.Journal.QueueSize),
			journal.WithRetry(cfg.Journal.Retries, cfg.Journal.RetryDelay),
			journal.WithWriterLogger(log),
			journal.WithErrorHandler(func(string, error) { rec.CountError("journal") }),
		)
	}

	var (
		snapshots portfolio.SnapshotSource = portfolio.FileSource{Path: cfg.Service.PortfolioFile}
		candles   market.CandleSource      = market.NewCSVSource(cfg.Service.CandleDir)
	)
	if cfg.OANDA.Enabled {
		client := oanda.NewClient(cfg.OANDA.Token, cfg.OANDA.AccountID, cfg.OANDA.Practice,
			oanda.WithGranularity(oanda.Granularity(cfg.OANDA.Granularity)))
		snapshots, candles = client, client
		log.Info("using oanda data", zap.String("account", cfg.OANDA.AccountID), zap.Bool("practice", cfg.OANDA.Practice))
	}

	a.svc, err = service.New(cfg.Service, service.Deps{
		Snapshots:   snapshots,
		Candles:     candles,
		VaR:         varMon,
		Correlation: corr,
		Emergency:   emer,
		Notifier:    notify.MinSeverity{Min: cfg.Service.MinAlertLevel, Next: notify.Log{L: log}},
		Journal:     a.writer,
		Metrics:     rec,
		Logger:      log,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// loadApp loads the --config file and wires the service from it.
func loadApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return newApp(cfg)
}

func (a *app) close() {
	if a.writer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.writer.Close(ctx); err != nil {
			a.log.Warn("journal did not drain", zap.Error(err))
		}
		cancel()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("close journal", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}
