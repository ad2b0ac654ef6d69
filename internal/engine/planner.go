package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"hyperliquid-copy-bot/internal/database"
	"hyperliquid-copy-bot/internal/hyperliquid"

	"github.com/google/uuid"
)

// classifyAction computes the required mutation for one symbol. Pure: the
// same inputs always yield the same action. The second return is true when
// the planner must leave the symbol alone because an unconfirmed independent
// position owns the exit.
func classifyAction(targetSide, ourSide Side, scaledTargetSize, ourSize, adjustThreshold float64, indep IndependentStatus) (Action, bool) {
	switch {
	case targetSide == SideNone && ourSide == SideNone:
		return ActionNone, false

	case targetSide == SideNone:
		if indep.Exists && !indep.Confirmed {
			return ActionNone, true
		}
		return ActionClose, false

	case ourSide == SideNone:
		return ActionOpen, false

	case targetSide != ourSide:
		return ActionFlip, false

	default:
		// Same side: adjust only on a strict threshold breach.
		if scaledTargetSize > 0 && math.Abs(ourSize-scaledTargetSize) > scaledTargetSize*adjustThreshold {
			return ActionAdjust, false
		}
		return ActionNone, false
	}
}

// syncPosition plans and executes the mutation for one symbol within a scan.
// Errors are local to the symbol; the caller logs them and continues with
// siblings.
func (e *Engine) syncPosition(ctx context.Context, scan *scanContext, symbol string) error {
	targetPos := scan.targetPosition(symbol)
	ourPos := scan.ourPosition(symbol)

	targetSide := positionSide(targetPos)
	ourSide := positionSide(ourPos)
	targetSize := positionSize(targetPos)
	ourSize := positionSize(ourPos)

	targetLeverage := 1
	if targetPos != nil && targetPos.Leverage.Value > 0 {
		targetLeverage = targetPos.Leverage.Value
	}
	scaled := targetSize * scan.scaleFactor

	indep := e.independent.Has(symbol)

	// A same-direction target position confirms an open independent
	// position: sizing ownership moves to the planner before anything else.
	if targetSide != SideNone && targetSide == ourSide && indep.Exists && !indep.Confirmed {
		if err := e.independent.Confirm(ctx, symbol); err != nil {
			e.log.Warn().Err(err).Str("symbol", symbol).Msg("failed to confirm independent position")
		} else {
			indep.Confirmed = true
		}
	}

	action, independentOwned := classifyAction(targetSide, ourSide, scaled, ourSize, e.cfg.CopyConfig.AdjustThreshold, indep)
	if independentOwned {
		e.log.Debug().Str("symbol", symbol).Msg("unconfirmed independent position owns the exit, skipping")
		return nil
	}
	if action == ActionNone {
		return nil
	}

	meta, ok := e.meta.Get(symbol)
	if !ok {
		e.log.Debug().Str("symbol", symbol).Str("action", string(action)).Msg("no metadata, skipping symbol")
		return nil
	}
	mid, ok := scan.mid(symbol)
	if !ok {
		e.log.Warn().Str("symbol", symbol).Str("action", string(action)).Msg("no mid-price, skipping symbol")
		return nil
	}

	actualLeverage := targetLeverage
	if actualLeverage > meta.MaxLeverage {
		actualLeverage = meta.MaxLeverage
	}
	if actualLeverage < 1 {
		actualLeverage = 1
	}

	notional := scaled * mid
	margin := notional / float64(actualLeverage)

	if action != ActionClose {
		if margin < e.cfg.CopyConfig.MinPositionMarginUSD {
			e.log.Debug().Str("symbol", symbol).Float64("margin", margin).Msg("below margin floor, skipping")
			return nil
		}
		if notional < e.cfg.CopyConfig.MinNotionalUSD {
			e.log.Debug().Str("symbol", symbol).Float64("notional", notional).Msg("below exchange minimum notional, skipping")
			return nil
		}
	}

	if action == ActionOpen || action == ActionFlip {
		if e.exec.CooldownActive(symbol) {
			e.log.Warn().Str("symbol", symbol).Str("action", string(action)).Msg("cool-down active, skipping")
			return nil
		}
		// Earlier orders in this scan may have consumed free margin:
		// re-check affordability against a fresh portfolio read.
		state, err := e.venue.ClearinghouseState(ctx, e.cfg.VenueConfig.OperatorAccount)
		if err != nil {
			return fmt.Errorf("failed to re-fetch operator portfolio: %w", err)
		}
		if margin*1.2 > state.Withdrawable {
			e.log.Warn().
				Str("symbol", symbol).
				Str("action", string(action)).
				Float64("required_margin", margin).
				Float64("withdrawable", state.Withdrawable).
				Msg("insufficient free margin, skipping")
			return nil
		}
	}

	var (
		actionLabel string
		execSide    Side
		execSize    float64
	)

	switch action {
	case ActionClose:
		if _, err := e.exec.MarketClose(ctx, symbol, 1.0, mid); err != nil {
			if errors.Is(err, ErrNoPosition) {
				return nil
			}
			return err
		}
		actionLabel, execSide, execSize = database.CopyActionClose, ourSide, ourSize
		scan.setOurPosition(symbol, nil)

	case ActionOpen:
		if _, err := e.exec.MarketOpen(ctx, symbol, targetSide, scaled, actualLeverage, mid, false); err != nil {
			return err
		}
		actionLabel, execSide, execSize = database.CopyActionOpen, targetSide, scaled
		scan.setOurPosition(symbol, syntheticPosition(symbol, targetSide, scaled, actualLeverage, mid))

	case ActionFlip:
		// Close before open, always. No compensating step if the open leg
		// fails: the cool-down records it and the next scan re-plans from
		// observed state.
		if _, err := e.exec.MarketClose(ctx, symbol, 1.0, mid); err != nil && !errors.Is(err, ErrNoPosition) {
			return err
		}
		scan.setOurPosition(symbol, nil)
		sleepCtx(ctx, e.settle.flip)
		if _, err := e.exec.MarketOpen(ctx, symbol, targetSide, scaled, actualLeverage, mid, false); err != nil {
			return err
		}
		actionLabel, execSide, execSize = database.CopyActionFlip, targetSide, scaled
		scan.setOurPosition(symbol, syntheticPosition(symbol, targetSide, scaled, actualLeverage, mid))

	case ActionAdjust:
		sizeDelta := scaled - ourSize
		if math.Abs(sizeDelta)*mid < e.cfg.CopyConfig.MinNotionalUSD {
			// Too small to trade; do not close-and-reopen, do not oscillate.
			e.log.Debug().Str("symbol", symbol).Float64("delta", sizeDelta).Msg("adjust below minimum notional, skipping")
			return nil
		}
		if sizeDelta > 0 {
			if _, err := e.exec.MarketOpen(ctx, symbol, ourSide, sizeDelta, actualLeverage, mid, true); err != nil {
				return err
			}
			actionLabel = database.CopyActionIncrease
		} else {
			fraction := math.Abs(sizeDelta) / ourSize
			if _, err := e.exec.MarketClose(ctx, symbol, fraction, mid); err != nil {
				if errors.Is(err, ErrNoPosition) {
					return nil
				}
				return err
			}
			actionLabel = database.CopyActionDecrease
		}
		execSide, execSize = ourSide, math.Abs(sizeDelta)
		scan.setOurPosition(symbol, syntheticPosition(symbol, ourSide, scaled, actualLeverage, mid))
	}

	// Let the venue settle so later symbols in this scan observe updated
	// free margin.
	if action != ActionAdjust {
		sleepCtx(ctx, e.settle.postTrade)
	}

	scan.markTraded(symbol)
	e.exec.ClearCooldown(symbol)

	record := &database.CopyActionRecord{
		ID:          uuid.NewString(),
		Timestamp:   time.Now(),
		Symbol:      symbol,
		Action:      actionLabel,
		Side:        string(execSide),
		Size:        execSize,
		Price:       mid,
		Notional:    execSize * mid,
		Leverage:    actualLeverage,
		ScaleFactor: scan.scaleFactor,
	}
	if err := e.store.RecordCopyAction(ctx, record); err != nil {
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("failed to persist copy action")
	}

	e.recorder.LogCopyAction(ctx, symbol, actionLabel, string(execSide), execSize)

	if e.notifier != nil {
		if err := e.notifier.SendCopyAction(symbol, actionLabel, string(execSide), execSize, mid); err != nil {
			e.log.Warn().Err(err).Str("symbol", symbol).Msg("notification failed")
		}
	}

	e.log.Info().
		Str("symbol", symbol).
		Str("action", actionLabel).
		Str("side", string(execSide)).
		Float64("size", execSize).
		Float64("price", mid).
		Msg("copy action executed")
	return nil
}

// syntheticPosition approximates the operator position after an executed
// order so later steps in the same scan classify against current state.
func syntheticPosition(symbol string, side Side, size float64, leverage int, px float64) *hyperliquid.Position {
	szi := size
	if side == SideShort {
		szi = -size
	}
	liq := px * 0.5
	if side == SideShort {
		liq = px * 1.5
	}
	return &hyperliquid.Position{
		Coin:          symbol,
		Szi:           szi,
		Leverage:      hyperliquid.Leverage{Type: "cross", Value: leverage},
		EntryPx:       px,
		LiquidationPx: liq,
	}
}
