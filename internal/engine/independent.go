package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"hyperliquid-copy-bot/config"
	"hyperliquid-copy-bot/internal/database"
	"hyperliquid-copy-bot/internal/notification"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// IndependentStatus answers the planner's interlock query for one symbol.
type IndependentStatus struct {
	Exists    bool
	Confirmed bool
}

// ExitStrategy decides the exit parameters at entry and the exit condition
// on every scan. Two variants: time-based and TP/SL. The timeout gate is
// evaluated in both modes.
type ExitStrategy interface {
	// Plan computes tpPrice, slPrice and timeoutAt for a new entry. TP and
	// SL are zero in time-exit mode.
	Plan(entryPrice float64, now time.Time) (tpPrice, slPrice float64, timeoutAt time.Time)

	// Check returns the exit reason for an open position, if any.
	Check(pos *database.IndependentPosition, mid float64, now time.Time) (reason string, exit bool)
}

// timeExit closes on timeout only.
type timeExit struct {
	hold time.Duration
}

func (s timeExit) Plan(entryPrice float64, now time.Time) (float64, float64, time.Time) {
	return 0, 0, now.Add(s.hold)
}

func (s timeExit) Check(pos *database.IndependentPosition, mid float64, now time.Time) (string, bool) {
	if !now.Before(pos.TimeoutAt) {
		return database.ExitReasonTimeout, true
	}
	return "", false
}

// tpslExit closes on take-profit or stop-loss, with the timeout as backstop.
type tpslExit struct {
	tpPct float64
	slPct float64
	hold  time.Duration
}

func (s tpslExit) Plan(entryPrice float64, now time.Time) (float64, float64, time.Time) {
	return entryPrice * (1 + s.tpPct), entryPrice * (1 - s.slPct), now.Add(s.hold)
}

func (s tpslExit) Check(pos *database.IndependentPosition, mid float64, now time.Time) (string, bool) {
	if pos.TPPrice > 0 && mid >= pos.TPPrice {
		return database.ExitReasonTakeProfit, true
	}
	if pos.SLPrice > 0 && mid <= pos.SLPrice {
		return database.ExitReasonStopLoss, true
	}
	if !now.Before(pos.TimeoutAt) {
		return database.ExitReasonTimeout, true
	}
	return "", false
}

// IndependentTrader opens small long positions from high-confidence
// predictions on whitelisted symbols and manages its own exits. It shares
// the operator book with the copy planner and interlocks through Has and
// Confirm.
type IndependentTrader struct {
	cfg      config.IndependentConfig
	store    Store
	exec     *Executor
	meta     *MetadataCache
	notifier *notification.Manager
	exit     ExitStrategy
	log      zerolog.Logger

	mu   sync.RWMutex
	book map[string]*database.IndependentPosition // active, keyed by symbol
}

// NewIndependentTrader wires the trader with the exit strategy the config
// selects.
func NewIndependentTrader(cfg config.IndependentConfig, store Store, exec *Executor, meta *MetadataCache, notifier *notification.Manager, logger zerolog.Logger) *IndependentTrader {
	hold := time.Duration(cfg.HoldHours * float64(time.Hour))
	var exit ExitStrategy
	if cfg.UseTimeExit {
		exit = timeExit{hold: hold}
	} else {
		exit = tpslExit{tpPct: cfg.TakeProfitPct, slPct: cfg.StopLossPct, hold: hold}
	}

	return &IndependentTrader{
		cfg:      cfg,
		store:    store,
		exec:     exec,
		meta:     meta,
		notifier: notifier,
		exit:     exit,
		log:      logger,
		book:     make(map[string]*database.IndependentPosition),
	}
}

// Refresh loads the active book from the store. Called once per scan before
// any planning.
func (t *IndependentTrader) Refresh(ctx context.Context) error {
	positions, err := t.store.ActiveIndependentPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load independent positions: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.book = make(map[string]*database.IndependentPosition, len(positions))
	for i := range positions {
		p := positions[i]
		t.book[p.Symbol] = &p
	}
	return nil
}

// Has reports whether an active independent position covers a symbol. A
// symbol has at most one position in {open, confirmed} at any time.
func (t *IndependentTrader) Has(symbol string) IndependentStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.book[symbol]
	if !ok {
		return IndependentStatus{}
	}
	return IndependentStatus{Exists: true, Confirmed: pos.Status == database.IndependentStatusConfirmed}
}

// Book returns a copy of the active book for the status API.
func (t *IndependentTrader) Book() []database.IndependentPosition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]database.IndependentPosition, 0, len(t.book))
	for _, p := range t.book {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Confirm transitions a position open → confirmed after the target opened
// the same direction. The copy planner owns sizing from here on.
func (t *IndependentTrader) Confirm(ctx context.Context, symbol string) error {
	t.mu.Lock()
	pos, ok := t.book[symbol]
	if !ok || pos.Status != database.IndependentStatusOpen {
		t.mu.Unlock()
		return nil
	}
	pos.Status = database.IndependentStatusConfirmed
	pos.ConfirmedByTarget = true
	id := pos.ID
	t.mu.Unlock()

	if err := t.store.ConfirmIndependentPosition(ctx, id); err != nil {
		return err
	}
	t.log.Info().Str("symbol", symbol).Msg("independent position confirmed by target")
	return nil
}

// ==================== ENTRY ====================

// ProcessSignals consumes the current scan's predictions and opens new long
// positions on whitelisted symbols whose score clears the threshold.
func (t *IndependentTrader) ProcessSignals(ctx context.Context, scan *scanContext, predictions []ScoredPrediction) error {
	if !t.cfg.Enabled {
		return nil
	}

	whitelist := make(map[string]bool, len(t.cfg.Whitelist))
	for _, s := range t.cfg.Whitelist {
		whitelist[s] = true
	}

	t.mu.RLock()
	bookSize := len(t.book)
	usedMargin := 0.0
	for _, p := range t.book {
		usedMargin += p.Margin()
	}
	t.mu.RUnlock()

	slotsRemaining := t.cfg.MaxPositions - bookSize
	if slotsRemaining <= 0 {
		return nil
	}

	var candidates []ScoredPrediction
	for _, p := range predictions {
		if p.Score < t.cfg.MinScore || p.Direction != 1 {
			continue
		}
		if !whitelist[p.Symbol] {
			continue
		}
		if scan.ourPosition(p.Symbol) != nil {
			continue
		}
		if t.Has(p.Symbol).Exists {
			continue
		}
		// A target-held symbol is copy-owned; the planner handles it. This
		// keeps every symbol either copy-owned or independent-owned at
		// entry time, never both.
		if scan.targetPosition(p.Symbol) != nil {
			continue
		}
		candidates = append(candidates, p)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })

	maxAllocation := t.cfg.MaxAllocationPct * scan.ourEquity
	remaining := maxAllocation - usedMargin
	perSlotCap := maxAllocation / float64(t.cfg.MaxPositions)

	for _, candidate := range candidates {
		if slotsRemaining <= 0 {
			break
		}

		marginBudget := remaining / float64(slotsRemaining)
		if marginBudget > perSlotCap {
			marginBudget = perSlotCap
		}
		if marginBudget < 10 {
			break
		}
		if marginBudget > scan.ourWithdrawable*0.95 {
			t.log.Warn().Str("symbol", candidate.Symbol).Msg("insufficient withdrawable for independent entry")
			break
		}

		meta, ok := t.meta.Get(candidate.Symbol)
		if !ok {
			continue
		}
		mid, ok := scan.mid(candidate.Symbol)
		if !ok {
			continue
		}

		leverage := t.cfg.Leverage
		if leverage > meta.MaxLeverage {
			leverage = meta.MaxLeverage
		}
		if leverage < 1 {
			leverage = 1
		}

		notional := marginBudget * float64(leverage)
		size := notional / mid
		now := time.Now()
		tpPrice, slPrice, timeoutAt := t.exit.Plan(mid, now)

		result, err := t.exec.MarketOpen(ctx, candidate.Symbol, SideLong, size, leverage, mid, false)
		if err != nil {
			t.log.Warn().Err(err).Str("symbol", candidate.Symbol).Msg("independent entry failed")
			continue
		}

		entryPrice := mid
		if result != nil && result.AvgPrice > 0 {
			entryPrice = result.AvgPrice
		}

		pos := &database.IndependentPosition{
			ID:                uuid.NewString(),
			Symbol:            candidate.Symbol,
			Side:              "long",
			EntryPrice:        entryPrice,
			Size:              size,
			NotionalUSD:       notional,
			Leverage:          leverage,
			TPPrice:           tpPrice,
			SLPrice:           slPrice,
			TimeoutAt:         timeoutAt,
			Status:            database.IndependentStatusOpen,
			PredictionScore:   candidate.Score,
			PredictionReasons: candidate.Reasons,
			CreatedAt:         now,
		}
		if err := t.store.CreateIndependentPosition(ctx, pos); err != nil {
			t.log.Error().Err(err).Str("symbol", candidate.Symbol).Msg("failed to persist independent position")
		}

		t.mu.Lock()
		t.book[candidate.Symbol] = pos
		t.mu.Unlock()

		scan.setOurPosition(candidate.Symbol, syntheticPosition(candidate.Symbol, SideLong, size, leverage, entryPrice))

		remaining -= marginBudget
		slotsRemaining--

		if t.notifier != nil {
			t.notifier.SendIndependentOpen(candidate.Symbol, size, entryPrice, candidate.Score)
		}
		t.log.Info().
			Str("symbol", candidate.Symbol).
			Float64("size", size).
			Float64("entry", entryPrice).
			Float64("score", candidate.Score).
			Msg("independent position opened")
	}
	return nil
}

// ==================== MANAGEMENT ====================

// ManagePositions walks the active book once per scan: target confirmation
// and conflict handling first, then the exit strategy.
func (t *IndependentTrader) ManagePositions(ctx context.Context, scan *scanContext) error {
	if !t.cfg.Enabled {
		return nil
	}

	now := time.Now()
	for _, pos := range t.Book() {
		mid, ok := scan.mid(pos.Symbol)
		if !ok {
			continue
		}

		targetSide := positionSide(scan.targetPosition(pos.Symbol))
		switch targetSide {
		case SideLong:
			if pos.Status == database.IndependentStatusOpen {
				if err := t.Confirm(ctx, pos.Symbol); err != nil {
					t.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("failed to confirm independent position")
				}
			}
			// Confirmed: the copy planner owns sizing and closing now.
			continue

		case SideShort:
			if err := t.closePosition(ctx, scan, pos.Symbol, mid, database.ExitReasonTargetOpposite); err != nil {
				t.log.Error().Err(err).Str("symbol", pos.Symbol).Msg("failed to close against opposite target")
			}
			continue
		}

		if reason, exit := t.exit.Check(&pos, mid, now); exit {
			if err := t.closePosition(ctx, scan, pos.Symbol, mid, reason); err != nil {
				t.log.Error().Err(err).Str("symbol", pos.Symbol).Str("reason", reason).Msg("independent exit failed")
			}
		}
	}
	return nil
}

// closePosition closes the venue position and records the terminal state:
// status, exit price, exit reason, realized P&L and close time together.
func (t *IndependentTrader) closePosition(ctx context.Context, scan *scanContext, symbol string, mid float64, reason string) error {
	t.mu.Lock()
	pos, ok := t.book[symbol]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if _, err := t.exec.MarketClose(ctx, symbol, 1.0, mid); err != nil && !errors.Is(err, ErrNoPosition) {
		return fmt.Errorf("close order failed: %w", err)
	}

	realizedPnl := (mid - pos.EntryPrice) * pos.Size
	realizedPnlPct := 0.0
	if pos.EntryPrice > 0 {
		realizedPnlPct = (mid - pos.EntryPrice) / pos.EntryPrice * 100
	}

	if err := t.store.CloseIndependentPosition(ctx, pos.ID, mid, reason, realizedPnl, realizedPnlPct, time.Now()); err != nil {
		return fmt.Errorf("failed to persist close: %w", err)
	}

	t.mu.Lock()
	delete(t.book, symbol)
	t.mu.Unlock()
	scan.setOurPosition(symbol, nil)

	if t.notifier != nil {
		t.notifier.SendIndependentClose(symbol, reason, realizedPnl, realizedPnlPct)
	}
	t.log.Info().
		Str("symbol", symbol).
		Str("reason", reason).
		Float64("pnl", realizedPnl).
		Msg("independent position closed")
	return nil
}
