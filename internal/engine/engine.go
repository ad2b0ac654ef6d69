// Package engine implements the reconciliation and execution loop that keeps
// the operator book convergent with the target book: the scan orchestrator,
// the position-delta planner, the execution layer, the independent trader and
// the prediction recorder, all sharing one Engine's state.
package engine

import (
	"context"
	"sync"
	"time"

	"hyperliquid-copy-bot/config"
	"hyperliquid-copy-bot/internal/database"
	"hyperliquid-copy-bot/internal/hyperliquid"
	"hyperliquid-copy-bot/internal/notification"

	"github.com/rs/zerolog"
)

// Store is the persistence surface the engine consumes.
type Store interface {
	HealthCheck(ctx context.Context) error
	Reconnect(ctx context.Context) error

	InsertPrediction(ctx context.Context, p *database.Prediction) error
	UpdatePredictionCopyAction(ctx context.Context, id, action, side string, size float64, label int) error
	UnvalidatedPredictions(ctx context.Context, before time.Time, limit int) ([]database.Prediction, error)
	MarkPredictionValidated(ctx context.Context, id string, exitPrice, paperPnl, paperPnlPct float64, correct bool, validatedAt time.Time) error

	CreateIndependentPosition(ctx context.Context, p *database.IndependentPosition) error
	ConfirmIndependentPosition(ctx context.Context, id string) error
	CloseIndependentPosition(ctx context.Context, id string, exitPrice float64, exitReason string, realizedPnl, realizedPnlPct float64, closedAt time.Time) error
	ActiveIndependentPositions(ctx context.Context) ([]database.IndependentPosition, error)

	RecordCopyAction(ctx context.Context, a *database.CopyActionRecord) error
}

// MarketSource is the read surface for store-resident market state.
type MarketSource interface {
	LatestCandle(ctx context.Context, symbol, timeframe string) (*database.Candle, error)
	RecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]database.Candle, error)
	LatestIndicators(ctx context.Context, symbol, timeframe string) (*database.IndicatorBundle, error)
	LatestFundingRate(ctx context.Context, symbol string) (*database.FundingRate, error)
	LatestHourlyClose(ctx context.Context, symbol string) (float64, error)
}

// settleDelays are the best-effort waits around order dispatch so later
// symbols in the same scan observe updated venue state.
type settleDelays struct {
	leverage  time.Duration // after a leverage update, before the order
	flip      time.Duration // between the close and open legs of a flip
	postTrade time.Duration // after any executed action except adjust
}

// Engine owns the process-wide mutable state of the copy loop and the
// subcomponents operating on it.
type Engine struct {
	cfg      *config.Config
	log      zerolog.Logger
	venue    hyperliquid.Client
	store    Store
	notifier *notification.Manager
	midsFeed *hyperliquid.MidsFeed

	meta        *MetadataCache
	exec        *Executor
	recorder    *Recorder
	independent *IndependentTrader

	settle settleDelays

	mu               sync.Mutex
	scanRunning      bool
	scanStartedAt    time.Time
	lastScanAt       time.Time
	lastScanDuration time.Duration
	lastValidatedAt  time.Time
	scanCount        int64

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// Options carries the optional collaborators.
type Options struct {
	Notifier *notification.Manager
	MidsFeed *hyperliquid.MidsFeed
}

// New wires an Engine from its collaborators.
func New(cfg *config.Config, venue hyperliquid.Client, store Store, market MarketSource, scorer Scorer, opts Options, logger zerolog.Logger) *Engine {
	meta := NewMetadataCache()

	exec := NewExecutor(venue, meta, cfg.VenueConfig.OperatorAccount, ExecutorConfig{
		SlippagePct:    cfg.CopyConfig.SlippagePct,
		Cooldown:       cfg.CopyConfig.OrderCooldown,
		LeverageSettle: time.Second,
	}, logger.With().Str("component", "executor").Logger())

	recorder := NewRecorder(store, market, scorer, RecorderConfig{
		ValidationWindow: cfg.PredictionConfig.ValidationWindow,
		ValidationLimit:  cfg.PredictionConfig.ValidationLimit,
	}, logger.With().Str("component", "recorder").Logger())

	independent := NewIndependentTrader(cfg.IndependentConfig, store, exec, meta, opts.Notifier,
		logger.With().Str("component", "independent").Logger())

	return &Engine{
		cfg:      cfg,
		log:      logger.With().Str("component", "engine").Logger(),
		venue:    venue,
		store:    store,
		notifier: opts.Notifier,
		midsFeed: opts.MidsFeed,

		meta:        meta,
		exec:        exec,
		recorder:    recorder,
		independent: independent,

		settle: settleDelays{
			leverage:  time.Second,
			flip:      2 * time.Second,
			postTrade: 3 * time.Second,
		},

		stopChan: make(chan struct{}),
	}
}

// Recorder exposes the prediction recorder, e.g. for the status API.
func (e *Engine) Recorder() *Recorder { return e.recorder }

// Independent exposes the independent trader.
func (e *Engine) Independent() *IndependentTrader { return e.independent }

// Status is a point-in-time snapshot of engine state for the status API.
type Status struct {
	ScanRunning      bool                 `json:"scan_running"`
	ScanStartedAt    *time.Time           `json:"scan_started_at,omitempty"`
	LastScanAt       *time.Time           `json:"last_scan_at,omitempty"`
	LastScanDuration string               `json:"last_scan_duration,omitempty"`
	ScanCount        int64                `json:"scan_count"`
	Cooldowns        map[string]time.Time `json:"cooldowns,omitempty"`
	CopyEnabled      bool                 `json:"copy_enabled"`
	IndependentOn    bool                 `json:"independent_enabled"`
}

// Status returns the current engine status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		ScanRunning:   e.scanRunning,
		ScanCount:     e.scanCount,
		Cooldowns:     e.exec.Cooldowns(),
		CopyEnabled:   e.cfg.CopyConfig.Enabled,
		IndependentOn: e.cfg.IndependentConfig.Enabled,
	}
	if e.scanRunning {
		t := e.scanStartedAt
		st.ScanStartedAt = &t
	}
	if !e.lastScanAt.IsZero() {
		t := e.lastScanAt
		st.LastScanAt = &t
		st.LastScanDuration = e.lastScanDuration.String()
	}
	return st
}

// sleepCtx waits for d unless the context expires first.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
