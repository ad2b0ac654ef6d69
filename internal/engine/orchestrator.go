package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hyperliquid-copy-bot/internal/hyperliquid"
)

// Feed snapshots older than this fall back to the HTTP mids fetch.
const midsFeedMaxAge = 10 * time.Second

// Start launches the scan scheduler. Scans fire on the configured cadence,
// aligned to the wall-clock minute boundary, with an optional immediate scan
// on start.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.runLoop(ctx)
	e.log.Info().
		Int("interval_minutes", e.cfg.CopyConfig.PollIntervalMinutes).
		Msg("scan scheduler started")
}

// Stop terminates the scheduler and waits for an in-flight scan's bookkeeping
// to finish. In-flight venue orders are not canceled; the venue's native
// order lifetime governs them.
func (e *Engine) Stop() {
	close(e.stopChan)
	e.wg.Wait()
	e.log.Info().Msg("scan scheduler stopped")
}

func (e *Engine) runLoop(ctx context.Context) {
	defer e.wg.Done()

	if e.cfg.CopyConfig.RunOnStart {
		e.Tick(ctx)
	}

	interval := time.Duration(e.cfg.CopyConfig.PollIntervalMinutes) * time.Minute
	for {
		next := time.Now().Truncate(interval).Add(interval)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-e.stopChan:
			timer.Stop()
			return
		case <-timer.C:
			e.Tick(ctx)
		}
	}
}

// Tick runs one scheduler tick: the single-flight guard, the scan body, and
// the unconditional completion bookkeeping. A tick overlapping a healthy
// scan is skipped; a tick overlapping a scan past the scan timeout force-
// resets the flag and proceeds (the previous scan is considered hung).
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	if e.scanRunning {
		if time.Since(e.scanStartedAt) < e.cfg.CopyConfig.ScanTimeout {
			e.log.Warn().
				Time("started_at", e.scanStartedAt).
				Msg("previous scan still running, skipping tick")
			e.mu.Unlock()
			return
		}
		e.log.Warn().
			Time("started_at", e.scanStartedAt).
			Msg("previous scan considered hung, force-resetting")
	}
	e.scanRunning = true
	e.scanStartedAt = time.Now()
	e.mu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Msg("scan panicked")
		}
		e.mu.Lock()
		e.scanRunning = false
		e.lastScanAt = start
		e.lastScanDuration = time.Since(start)
		e.scanCount++
		e.mu.Unlock()
	}()

	err := e.runScan(ctx)

	// One completion log per scan, unconditionally.
	evt := e.log.Info()
	if err != nil {
		evt = e.log.Error().Err(err)
	}
	evt.Dur("duration", time.Since(start)).Msg("scan complete")
}

// runScan is one pass of the reconciliation loop.
func (e *Engine) runScan(ctx context.Context) error {
	// 1. Expire stale failed-order cool-downs.
	e.exec.ExpireCooldowns()

	// 2. Store health probe with a one-shot reconnect.
	if err := e.store.HealthCheck(ctx); err != nil {
		e.log.Warn().Err(err).Msg("store health probe failed, attempting reconnect")
		if err := e.store.Reconnect(ctx); err != nil {
			return fmt.Errorf("store unavailable: %w", err)
		}
	}

	// 3. Lazily populate the metadata cache.
	if e.meta.Empty() {
		meta, err := e.venue.Meta(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch instrument universe: %w", err)
		}
		e.meta.Populate(meta)
	}

	scan := newScanContext(time.Now())

	// 4. Fetch all state in parallel.
	var (
		wg          sync.WaitGroup
		targetState *hyperliquid.ClearinghouseState
		ourState    *hyperliquid.ClearinghouseState
		mids        map[string]float64
		targetErr   error
		ourErr      error
		midsErr     error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		targetState, targetErr = e.venue.ClearinghouseState(ctx, e.cfg.VenueConfig.TargetAccount)
	}()
	go func() {
		defer wg.Done()
		ourState, ourErr = e.venue.ClearinghouseState(ctx, e.cfg.VenueConfig.OperatorAccount)
	}()
	go func() {
		defer wg.Done()
		mids, midsErr = e.fetchMids(ctx)
	}()
	wg.Wait()

	if targetErr != nil {
		return fmt.Errorf("failed to fetch target state: %w", targetErr)
	}
	if ourErr != nil {
		return fmt.Errorf("failed to fetch operator state: %w", ourErr)
	}
	if midsErr != nil {
		return fmt.Errorf("failed to fetch mid-prices: %w", midsErr)
	}

	scan.targetEquity = targetState.Equity()
	scan.ourEquity = ourState.Equity()
	scan.ourWithdrawable = ourState.Withdrawable
	for i := range targetState.AssetPositions {
		p := &targetState.AssetPositions[i].Position
		scan.targetPositions[p.Coin] = p
	}
	for i := range ourState.AssetPositions {
		p := &ourState.AssetPositions[i].Position
		scan.ourPositions[p.Coin] = p
	}
	scan.mids = mids

	// 5. Scale factor.
	if e.cfg.CopyConfig.Mode == "exact" {
		scan.scaleFactor = 1.0
	} else {
		if scan.targetEquity <= 0 {
			return fmt.Errorf("target equity is zero, cannot compute scale factor")
		}
		scan.scaleFactor = scan.ourEquity / scan.targetEquity * e.cfg.CopyConfig.ScaleMultiplier
	}

	// 6. Symbol universe: held by either account, plus the independent
	// whitelist when that feature is on.
	var whitelist []string
	if e.cfg.IndependentConfig.Enabled {
		whitelist = e.cfg.IndependentConfig.Whitelist
	}
	universe := scan.universe(whitelist)

	// 7. Record predictions for the universe.
	e.recorder.LogPredictions(ctx, universe, mids)

	// 8. Independent trader: entries, then management.
	if e.cfg.IndependentConfig.Enabled {
		if err := e.independent.Refresh(ctx); err != nil {
			e.log.Warn().Err(err).Msg("failed to refresh independent book")
		} else {
			if err := e.independent.ProcessSignals(ctx, scan, e.recorder.CurrentPredictions()); err != nil {
				e.log.Error().Err(err).Msg("independent signal processing failed")
			}
			if err := e.independent.ManagePositions(ctx, scan); err != nil {
				e.log.Error().Err(err).Msg("independent position management failed")
			}
		}
	}

	// 9. Plan and execute per symbol, batched so the venue is not saturated.
	if e.cfg.CopyConfig.Enabled {
		e.syncAll(ctx, scan, universe)
	}

	// 10. Every untraded symbol's prediction becomes 'none'.
	e.recorder.FinalizeScanPredictions(ctx, scan.traded())

	// 11. Validate matured predictions about once an hour.
	e.mu.Lock()
	due := time.Since(e.lastValidatedAt) >= time.Hour
	if due {
		e.lastValidatedAt = time.Now()
	}
	e.mu.Unlock()
	if due {
		e.recorder.ValidatePastPredictions(ctx)
	}

	return nil
}

// syncAll runs syncPosition for every symbol with at most SyncBatchSize in
// flight, each under its own timeout. A symbol that times out or errors is
// abandoned without poisoning its siblings.
func (e *Engine) syncAll(ctx context.Context, scan *scanContext, universe []string) {
	batch := e.cfg.CopyConfig.SyncBatchSize
	if batch <= 0 {
		batch = 1
	}
	sem := make(chan struct{}, batch)
	var wg sync.WaitGroup

	for _, symbol := range universe {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					e.log.Error().Interface("panic", r).Str("symbol", symbol).Msg("symbol sync panicked")
				}
			}()

			symCtx, cancel := context.WithTimeout(ctx, e.cfg.CopyConfig.SymbolTimeout)
			defer cancel()
			if err := e.syncPosition(symCtx, scan, symbol); err != nil {
				e.log.Error().Err(err).Str("symbol", symbol).Msg("symbol sync failed")
			}
		}(symbol)
	}
	wg.Wait()
}

// fetchMids prefers a fresh websocket snapshot and falls back to the HTTP
// fetch when the feed is stale or absent.
func (e *Engine) fetchMids(ctx context.Context) (map[string]float64, error) {
	if e.midsFeed != nil {
		if snapshot, age := e.midsFeed.Snapshot(); snapshot != nil && age < midsFeedMaxAge {
			return snapshot, nil
		}
	}
	return e.venue.AllMids(ctx)
}
