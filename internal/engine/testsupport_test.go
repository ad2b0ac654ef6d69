package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"hyperliquid-copy-bot/config"
	"hyperliquid-copy-bot/internal/database"
	"hyperliquid-copy-bot/internal/hyperliquid"

	"github.com/rs/zerolog"
)

const (
	testTarget   = "0xtarget"
	testOperator = "0xoperator"
)

// fakeStore is an in-memory Store and MarketSource for engine tests.
type fakeStore struct {
	mu sync.Mutex

	healthErr    error
	reconnectErr error

	predictions map[string]*database.Prediction
	independent map[string]*database.IndependentPosition
	copyActions []database.CopyActionRecord

	candles    map[string][]database.Candle // keyed symbol|timeframe
	indicators map[string]*database.IndicatorBundle
	funding    map[string]*database.FundingRate
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		predictions: make(map[string]*database.Prediction),
		independent: make(map[string]*database.IndependentPosition),
		candles:     make(map[string][]database.Candle),
		indicators:  make(map[string]*database.IndicatorBundle),
		funding:     make(map[string]*database.FundingRate),
	}
}

// ==================== STORE ====================

func (s *fakeStore) HealthCheck(ctx context.Context) error { return s.healthErr }
func (s *fakeStore) Reconnect(ctx context.Context) error   { return s.reconnectErr }

func (s *fakeStore) InsertPrediction(ctx context.Context, p *database.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.predictions[p.ID] = &cp
	return nil
}

func (s *fakeStore) UpdatePredictionCopyAction(ctx context.Context, id, action, side string, size float64, label int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.predictions[id]
	if !ok {
		return nil
	}
	p.CopyAction = &action
	p.CopySide = &side
	p.CopySize = &size
	p.ActualLabel = &label
	return nil
}

func (s *fakeStore) UnvalidatedPredictions(ctx context.Context, before time.Time, limit int) ([]database.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.Prediction
	for _, p := range s.predictions {
		if p.ValidatedAt == nil && p.Timestamp.Before(before) {
			out = append(out, *p)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *fakeStore) MarkPredictionValidated(ctx context.Context, id string, exitPrice, paperPnl, paperPnlPct float64, correct bool, validatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.predictions[id]
	if !ok {
		return nil
	}
	p.ExitPrice = &exitPrice
	p.PaperPnl = &paperPnl
	p.PaperPnlPct = &paperPnlPct
	p.Correct = &correct
	p.ValidatedAt = &validatedAt
	return nil
}

func (s *fakeStore) CreateIndependentPosition(ctx context.Context, p *database.IndependentPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.independent[p.ID] = &cp
	return nil
}

func (s *fakeStore) ConfirmIndependentPosition(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.independent[id]; ok && p.Status == database.IndependentStatusOpen {
		p.Status = database.IndependentStatusConfirmed
		p.ConfirmedByTarget = true
	}
	return nil
}

func (s *fakeStore) CloseIndependentPosition(ctx context.Context, id string, exitPrice float64, exitReason string, realizedPnl, realizedPnlPct float64, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.independent[id]; ok {
		p.Status = database.IndependentStatusClosed
		p.ExitPrice = &exitPrice
		p.ExitReason = &exitReason
		p.RealizedPnl = &realizedPnl
		p.RealizedPnlPct = &realizedPnlPct
		p.ClosedAt = &closedAt
	}
	return nil
}

func (s *fakeStore) ActiveIndependentPositions(ctx context.Context) ([]database.IndependentPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.IndependentPosition
	for _, p := range s.independent {
		if p.Status == database.IndependentStatusOpen || p.Status == database.IndependentStatusConfirmed {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakeStore) RecordCopyAction(ctx context.Context, a *database.CopyActionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.copyActions = append(s.copyActions, *a)
	return nil
}

// ==================== MARKET SOURCE ====================

func (s *fakeStore) LatestCandle(ctx context.Context, symbol, timeframe string) (*database.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	candles := s.candles[symbol+"|"+timeframe]
	if len(candles) == 0 {
		return nil, database.ErrNotFound
	}
	c := candles[0]
	return &c, nil
}

func (s *fakeStore) RecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]database.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	candles := s.candles[symbol+"|"+timeframe]
	if len(candles) > limit {
		candles = candles[:limit]
	}
	out := make([]database.Candle, len(candles))
	copy(out, candles)
	return out, nil
}

func (s *fakeStore) LatestIndicators(ctx context.Context, symbol, timeframe string) (*database.IndicatorBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.indicators[symbol]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, database.ErrNotFound
}

func (s *fakeStore) LatestFundingRate(ctx context.Context, symbol string) (*database.FundingRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.funding[symbol]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, database.ErrNotFound
}

func (s *fakeStore) LatestHourlyClose(ctx context.Context, symbol string) (float64, error) {
	c, err := s.LatestCandle(ctx, symbol, "1h")
	if err != nil {
		return 0, err
	}
	return c.Close, nil
}

func (s *fakeStore) setHourlyClose(symbol string, close float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles[symbol+"|1h"] = []database.Candle{{Symbol: symbol, Timeframe: "1h", Close: close}}
}

func (s *fakeStore) predictionBySymbol(symbol string) *database.Prediction {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.predictions {
		if p.Symbol == symbol {
			return p
		}
	}
	return nil
}

func (s *fakeStore) activeBySymbol(symbol string) *database.IndependentPosition {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.independent {
		if p.Symbol == symbol && p.Status != database.IndependentStatusClosed {
			return p
		}
	}
	return nil
}

// ==================== ENGINE SETUP ====================

func testConfig() *config.Config {
	return &config.Config{
		VenueConfig: config.VenueConfig{
			TargetAccount:   testTarget,
			OperatorAccount: testOperator,
		},
		CopyConfig: config.CopyConfig{
			Enabled:              true,
			Mode:                 "scaled",
			PollIntervalMinutes:  5,
			ScaleMultiplier:      1.3,
			AdjustThreshold:      0.10,
			MinPositionMarginUSD: 5,
			MinNotionalUSD:       10,
			SlippagePct:          0.02,
			ScanTimeout:          4 * time.Minute,
			SymbolTimeout:        30 * time.Second,
			SyncBatchSize:        5,
			OrderCooldown:        5 * time.Minute,
		},
		IndependentConfig: config.IndependentConfig{
			Enabled:          false,
			MaxAllocationPct: 0.10,
			MaxPositions:     3,
			Leverage:         5,
			UseTimeExit:      true,
			HoldHours:        4,
			MinScore:         90,
		},
		PredictionConfig: config.PredictionConfig{
			Model:            "momentum-v1",
			ValidationWindow: 4 * time.Hour,
			ValidationLimit:  100,
		},
	}
}

var testUniverse = []hyperliquid.AssetMeta{
	{Name: "BTC", SzDecimals: 5, MaxLeverage: 50},
	{Name: "ETH", SzDecimals: 4, MaxLeverage: 50},
	{Name: "SOL", SzDecimals: 2, MaxLeverage: 20},
	{Name: "AAVE", SzDecimals: 2, MaxLeverage: 20},
	{Name: "VVV", SzDecimals: 1, MaxLeverage: 10},
}

// newTestEngine builds an engine over a mock venue and a fake store with
// settle delays zeroed so tests run instantly.
func newTestEngine(t *testing.T, cfg *config.Config) (*Engine, *hyperliquid.MockClient, *fakeStore) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}

	mock := hyperliquid.NewMockClient(testOperator)
	mock.SetUniverse(testUniverse)

	store := newFakeStore()
	scorer := &MomentumScorer{}

	e := New(cfg, mock, store, store, scorer, Options{}, zerolog.Nop())
	e.settle = settleDelays{}
	e.exec.cfg.LeverageSettle = 0
	return e, mock, store
}
