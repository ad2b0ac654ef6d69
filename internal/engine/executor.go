package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"hyperliquid-copy-bot/internal/hyperliquid"

	"github.com/rs/zerolog"
)

// ErrNoPosition is returned by MarketClose when the operator holds nothing.
var ErrNoPosition = errors.New("no open position")

// ErrNoMetadata is returned when the metadata cache has no entry for a
// symbol.
var ErrNoMetadata = errors.New("no instrument metadata")

// ExecutorConfig holds the execution-layer tunables.
type ExecutorConfig struct {
	SlippagePct    float64       // aggressive-limit slippage bound, e.g. 0.02
	Cooldown       time.Duration // per-symbol suppression after a failed open
	LeverageSettle time.Duration // wait after a leverage update
}

// Executor translates planner intents into venue calls: slippage-bounded
// pricing, metadata-driven precision, margin-affordability capping and the
// per-symbol failed-order cool-down.
type Executor struct {
	venue    hyperliquid.Client
	meta     *MetadataCache
	operator string
	cfg      ExecutorConfig
	log      zerolog.Logger

	mu           sync.Mutex
	failedOrders map[string]time.Time
}

// NewExecutor creates an executor for the operator account.
func NewExecutor(venue hyperliquid.Client, meta *MetadataCache, operator string, cfg ExecutorConfig, logger zerolog.Logger) *Executor {
	return &Executor{
		venue:        venue,
		meta:         meta,
		operator:     operator,
		cfg:          cfg,
		log:          logger,
		failedOrders: make(map[string]time.Time),
	}
}

// ==================== COOL-DOWN ====================

// ExpireCooldowns drops entries older than the cool-down window. Called at
// the top of every scan.
func (x *Executor) ExpireCooldowns() {
	x.mu.Lock()
	defer x.mu.Unlock()
	now := time.Now()
	for symbol, failedAt := range x.failedOrders {
		if now.Sub(failedAt) >= x.cfg.Cooldown {
			delete(x.failedOrders, symbol)
		}
	}
}

// CooldownActive reports whether open/flip orders for a symbol are currently
// suppressed. Closes are never subject to cool-down.
func (x *Executor) CooldownActive(symbol string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	failedAt, ok := x.failedOrders[symbol]
	return ok && time.Since(failedAt) < x.cfg.Cooldown
}

// ClearCooldown removes a symbol's cool-down entry after a successful
// execution.
func (x *Executor) ClearCooldown(symbol string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.failedOrders, symbol)
}

// Cooldowns returns a copy of the active cool-down map.
func (x *Executor) Cooldowns() map[string]time.Time {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.failedOrders) == 0 {
		return nil
	}
	out := make(map[string]time.Time, len(x.failedOrders))
	for k, v := range x.failedOrders {
		out[k] = v
	}
	return out
}

func (x *Executor) noteFailure(symbol string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.failedOrders[symbol] = time.Now()
}

// ==================== ORDERS ====================

// MarketOpen places a market order establishing or extending a position.
// Idempotent relative to observed state: an already-open equivalent position
// is a no-op unless addToExisting is set. A failure records the symbol's
// cool-down.
func (x *Executor) MarketOpen(ctx context.Context, symbol string, side Side, size float64, leverage int, mid float64, addToExisting bool) (*hyperliquid.OrderResult, error) {
	meta, ok := x.meta.Get(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoMetadata, symbol)
	}

	state, err := x.venue.ClearinghouseState(ctx, x.operator)
	if err != nil {
		x.noteFailure(symbol)
		return nil, fmt.Errorf("failed to read operator state before open: %w", err)
	}

	current := findPosition(state, symbol)
	if current != nil && !addToExisting {
		if positionSide(current) == side && positionSize(current) >= size*0.999 {
			x.log.Debug().Str("symbol", symbol).Msg("equivalent position already open, skipping")
			return nil, nil
		}
	}

	needLeverage := current == nil || current.Leverage.Value != leverage
	if needLeverage {
		if err := x.venue.UpdateLeverage(ctx, meta.AssetIndex, true, leverage); err != nil {
			x.noteFailure(symbol)
			return nil, fmt.Errorf("failed to update leverage for %s: %w", symbol, err)
		}
		sleepCtx(ctx, x.cfg.LeverageSettle)
	}

	// Cap the order at what free margin can actually carry rather than
	// letting the venue reject it.
	maxNotional := state.Withdrawable * float64(leverage) * 0.95
	if notional := size * mid; notional > maxNotional && maxNotional > 0 {
		capped := maxNotional / mid
		x.log.Warn().
			Str("symbol", symbol).
			Float64("requested", size).
			Float64("capped", capped).
			Msg("order shrunk to affordable notional")
		size = capped
	}

	order := hyperliquid.OrderRequest{
		AssetIndex: meta.AssetIndex,
		Symbol:     symbol,
		IsBuy:      side == SideLong,
		LimitPrice: slippagePrice(mid, side == SideLong, x.cfg.SlippagePct),
		Size:       roundSize(size, meta.SzDecimals),
		ReduceOnly: false,
	}
	if order.Size <= 0 {
		return nil, fmt.Errorf("order size for %s rounded to zero", symbol)
	}

	result, err := x.venue.SubmitMarketOrder(ctx, order)
	if err != nil {
		x.noteFailure(symbol)
		return nil, fmt.Errorf("open order for %s failed: %w", symbol, err)
	}
	return result, nil
}

// MarketClose closes a fraction of the current position with a reduce-only
// order. Closing is never subject to cool-down and never records one.
func (x *Executor) MarketClose(ctx context.Context, symbol string, fraction, mid float64) (*hyperliquid.OrderResult, error) {
	meta, ok := x.meta.Get(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoMetadata, symbol)
	}
	if fraction <= 0 || fraction > 1 {
		return nil, fmt.Errorf("invalid close fraction %f for %s", fraction, symbol)
	}

	state, err := x.venue.ClearinghouseState(ctx, x.operator)
	if err != nil {
		return nil, fmt.Errorf("failed to read operator state before close: %w", err)
	}

	current := findPosition(state, symbol)
	if current == nil || current.Szi == 0 {
		return nil, ErrNoPosition
	}

	side := positionSide(current)
	closeSize := roundSize(positionSize(current)*fraction, meta.SzDecimals)
	if fraction == 1 {
		// A full close takes the whole position; truncation would leave a
		// residue behind.
		closeSize = positionSize(current)
	}
	if closeSize <= 0 {
		return nil, fmt.Errorf("close size for %s rounded to zero", symbol)
	}

	order := hyperliquid.OrderRequest{
		AssetIndex: meta.AssetIndex,
		Symbol:     symbol,
		IsBuy:      side == SideShort, // buying back a short, selling out a long
		LimitPrice: slippagePrice(mid, side == SideShort, x.cfg.SlippagePct),
		Size:       closeSize,
		ReduceOnly: true,
	}

	result, err := x.venue.SubmitMarketOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("close order for %s failed: %w", symbol, err)
	}
	return result, nil
}

func findPosition(state *hyperliquid.ClearinghouseState, symbol string) *hyperliquid.Position {
	for i := range state.AssetPositions {
		if state.AssetPositions[i].Position.Coin == symbol {
			return &state.AssetPositions[i].Position
		}
	}
	return nil
}

// ==================== PRECISION ====================

// slippagePrice bounds an aggressive limit: above mid for buys, below for
// sells.
func slippagePrice(mid float64, buy bool, slippage float64) float64 {
	if buy {
		return roundPrice(mid * (1 + slippage))
	}
	return roundPrice(mid * (1 - slippage))
}

// roundPrice keeps five significant figures, capped at six decimals. Higher
// priced instruments get fewer decimals.
func roundPrice(px float64) float64 {
	if px <= 0 {
		return px
	}
	digits := int(math.Floor(math.Log10(px))) + 1
	decimals := 5 - digits
	if decimals < 0 {
		decimals = 0
	}
	if decimals > 6 {
		decimals = 6
	}
	pow := math.Pow(10, float64(decimals))
	return math.Round(px*pow) / pow
}

// roundSize truncates a size to the instrument's size decimals. Truncation,
// not rounding: never order more than intended.
func roundSize(size float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Floor(size*pow) / pow
}
