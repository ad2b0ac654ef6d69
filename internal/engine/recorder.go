package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"hyperliquid-copy-bot/internal/database"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Confidence at or above which a directional prediction is expected to be
// right for the validation predicate.
const highConfidenceThreshold = 0.7

// ScoredPrediction is the in-memory mirror of the current scan's prediction
// for one symbol.
type ScoredPrediction struct {
	ID         string
	Symbol     string
	Score      float64
	Confidence float64
	Direction  int
	Reasons    []string
	EntryPrice float64
}

// RecorderConfig holds the recorder tunables.
type RecorderConfig struct {
	ValidationWindow time.Duration
	ValidationLimit  int
}

// Recorder snapshots a score and direction for every scanned symbol each
// cycle, attaches the copy action taken, and later validates the prediction
// against the observed price.
type Recorder struct {
	store  Store
	market MarketSource
	scorer Scorer
	cfg    RecorderConfig
	log    zerolog.Logger

	mu      sync.Mutex
	current map[string]*ScoredPrediction
}

// NewRecorder creates a prediction recorder.
func NewRecorder(store Store, market MarketSource, scorer Scorer, cfg RecorderConfig, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:   store,
		market:  market,
		scorer:  scorer,
		cfg:     cfg,
		log:     logger,
		current: make(map[string]*ScoredPrediction),
	}
}

// LogPredictions scores every symbol in the universe and persists one record
// per symbol. The in-memory map of the previous scan is cleared first.
func (r *Recorder) LogPredictions(ctx context.Context, symbols []string, mids map[string]float64) {
	r.mu.Lock()
	r.current = make(map[string]*ScoredPrediction, len(symbols))
	r.mu.Unlock()

	now := time.Now()
	for _, symbol := range symbols {
		mid, ok := mids[symbol]
		if !ok || mid <= 0 {
			continue
		}

		state := r.buildMarketState(ctx, symbol, mid)
		score, direction, reasons := r.scorer.Score(symbol, state)

		p := &database.Prediction{
			ID:           uuid.NewString(),
			Timestamp:    now,
			Symbol:       symbol,
			Score:        score,
			Confidence:   score / 100,
			Direction:    direction,
			Reasons:      reasons,
			EntryPrice:   mid,
			Features:     state.Features(),
			ModelVersion: r.scorer.Version(),
		}
		if err := r.store.InsertPrediction(ctx, p); err != nil {
			r.log.Warn().Err(err).Str("symbol", symbol).Msg("failed to persist prediction")
			continue
		}

		r.mu.Lock()
		r.current[symbol] = &ScoredPrediction{
			ID:         p.ID,
			Symbol:     symbol,
			Score:      score,
			Confidence: p.Confidence,
			Direction:  direction,
			Reasons:    reasons,
			EntryPrice: mid,
		}
		r.mu.Unlock()
	}
}

// CurrentPredictions returns the current scan's predictions.
func (r *Recorder) CurrentPredictions() []ScoredPrediction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ScoredPrediction, 0, len(r.current))
	for _, p := range r.current {
		out = append(out, *p)
	}
	return out
}

// LogCopyAction attaches the executed copy action to the scan's prediction
// record for a symbol.
func (r *Recorder) LogCopyAction(ctx context.Context, symbol, action, side string, size float64) {
	r.mu.Lock()
	p, ok := r.current[symbol]
	r.mu.Unlock()
	if !ok {
		return
	}

	label := 0
	if action != database.CopyActionNone {
		label = 1
	}
	if err := r.store.UpdatePredictionCopyAction(ctx, p.ID, action, side, size, label); err != nil {
		r.log.Warn().Err(err).Str("symbol", symbol).Msg("failed to update prediction copy action")
	}
}

// FinalizeScanPredictions marks every untraded symbol's record as 'none'.
func (r *Recorder) FinalizeScanPredictions(ctx context.Context, traded map[string]bool) {
	r.mu.Lock()
	pending := make([]*ScoredPrediction, 0, len(r.current))
	for symbol, p := range r.current {
		if !traded[symbol] {
			pending = append(pending, p)
		}
	}
	r.mu.Unlock()

	for _, p := range pending {
		if err := r.store.UpdatePredictionCopyAction(ctx, p.ID, database.CopyActionNone, "", 0, 0); err != nil {
			r.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("failed to finalize prediction")
		}
	}
}

// ValidatePastPredictions computes paper P&L for records older than the
// validation window, up to the configured batch limit.
func (r *Recorder) ValidatePastPredictions(ctx context.Context) {
	before := time.Now().Add(-r.cfg.ValidationWindow)
	predictions, err := r.store.UnvalidatedPredictions(ctx, before, r.cfg.ValidationLimit)
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to load unvalidated predictions")
		return
	}

	validated := 0
	for _, p := range predictions {
		exitPrice, err := r.market.LatestHourlyClose(ctx, p.Symbol)
		if err != nil {
			if !errors.Is(err, database.ErrNotFound) {
				r.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("failed to read exit price")
			}
			continue
		}

		paperPnl := (exitPrice - p.EntryPrice) * float64(p.Direction)
		paperPnlPct := 0.0
		if p.EntryPrice > 0 {
			paperPnlPct = paperPnl / p.EntryPrice * 100
		}

		correct := validationCorrect(&p, paperPnl)
		if err := r.store.MarkPredictionValidated(ctx, p.ID, exitPrice, paperPnl, paperPnlPct, correct, time.Now()); err != nil {
			r.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("failed to persist validation")
			continue
		}
		validated++
	}
	if validated > 0 {
		r.log.Info().Int("validated", validated).Msg("past predictions validated")
	}
}

// validationCorrect holds for a high-confidence directional call that made
// money on paper, and for a low-confidence no-action call that would have
// lost.
func validationCorrect(p *database.Prediction, paperPnl float64) bool {
	if p.Confidence >= highConfidenceThreshold {
		return p.Direction != 0 && paperPnl > 0
	}

	label := 0
	if p.ActualLabel != nil {
		label = *p.ActualLabel
	}
	return label == 0 && paperPnl <= 0
}

// buildMarketState assembles the scorer's input from store-resident market
// data. Missing pieces leave nil fields; scorers must tolerate partial
// state.
func (r *Recorder) buildMarketState(ctx context.Context, symbol string, mid float64) *MarketState {
	state := &MarketState{Symbol: symbol, Price: mid}

	if candles, err := r.market.RecentCandles(ctx, symbol, "1h", 25); err == nil && len(candles) > 0 {
		state.Candles = candles
		state.Delta1h = deltaOver(mid, candles, 1)
		state.Delta4h = deltaOver(mid, candles, 4)
		state.Delta24h = deltaOver(mid, candles, 24)
	}
	if indicators, err := r.market.LatestIndicators(ctx, symbol, "1h"); err == nil {
		state.Indicators = indicators
		if mid > 0 {
			state.Volatility = indicators.ATR / mid
		}
	}
	if funding, err := r.market.LatestFundingRate(ctx, symbol); err == nil {
		state.Funding = funding
	}
	if btc, err := r.market.RecentCandles(ctx, "BTC", "1h", 6); err == nil && len(btc) > 1 {
		state.BTCCandles = btc
		first := btc[len(btc)-1].Close
		if first > 0 {
			state.BTCTrend = (btc[0].Close - first) / first * 100
		}
	}
	return state
}

// deltaOver returns the percentage move of price versus the close n bars
// back. Candles are newest first.
func deltaOver(price float64, candles []database.Candle, n int) float64 {
	if n >= len(candles) {
		return 0
	}
	ref := candles[n].Close
	if ref <= 0 {
		return 0
	}
	return (price - ref) / ref * 100
}
