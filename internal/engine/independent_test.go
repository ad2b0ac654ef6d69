package engine

import (
	"context"
	"testing"
	"time"

	"hyperliquid-copy-bot/config"
	"hyperliquid-copy-bot/internal/database"
)

func independentConfig() *config.Config {
	cfg := testConfig()
	cfg.IndependentConfig.Enabled = true
	cfg.IndependentConfig.Whitelist = []string{"SOL", "AAVE", "VVV"}
	return cfg
}

// setupIndependentScan builds a scan context around the mock accounts.
func setupIndependentScan(e *Engine, equity, withdrawable float64, mids map[string]float64) *scanContext {
	scan := newScanContext(time.Now())
	scan.scaleFactor = 1
	scan.ourEquity = equity
	scan.ourWithdrawable = withdrawable
	for symbol, mid := range mids {
		scan.mids[symbol] = mid
	}
	return scan
}

func TestProcessSignalsOpensWhitelistedHighScoreLong(t *testing.T) {
	e, mock, store := newTestEngine(t, independentConfig())
	mock.SetAccount(testOperator, 10000, 9000)
	mock.SetMid("SOL", 150)

	scan := setupIndependentScan(e, 10000, 9000, map[string]float64{"SOL": 150})
	predictions := []ScoredPrediction{
		{Symbol: "SOL", Score: 92, Direction: 1, Reasons: []string{"momentum_4h_up"}},
	}

	if err := e.independent.ProcessSignals(context.Background(), scan, predictions); err != nil {
		t.Fatalf("ProcessSignals: %v", err)
	}

	pos := store.activeBySymbol("SOL")
	if pos == nil {
		t.Fatal("expected an independent position")
	}
	if pos.Status != database.IndependentStatusOpen || pos.Side != "long" {
		t.Errorf("unexpected position state: %+v", pos)
	}
	// maxAllocation = 0.10 * 10000 = 1000; per-slot cap = 1000/3.
	wantMargin := 1000.0 / 3
	if got := pos.Margin(); got < wantMargin-1 || got > wantMargin+1 {
		t.Errorf("margin = %v, want ~%v", got, wantMargin)
	}
	if pos.TPPrice != 0 || pos.SLPrice != 0 {
		t.Errorf("time-exit mode must leave TP/SL at zero, got %v/%v", pos.TPPrice, pos.SLPrice)
	}
	if pos.TimeoutAt.IsZero() {
		t.Error("timeout must be set")
	}
	if orders := mock.Orders(); len(orders) != 1 || !orders[0].IsBuy {
		t.Fatalf("expected one buy order, got %+v", orders)
	}
}

func TestProcessSignalsFilters(t *testing.T) {
	tests := []struct {
		name  string
		setup func(e *Engine, scan *scanContext)
		pred  ScoredPrediction
	}{
		{
			name: "below min score",
			pred: ScoredPrediction{Symbol: "SOL", Score: 80, Direction: 1},
		},
		{
			name: "short direction",
			pred: ScoredPrediction{Symbol: "SOL", Score: 95, Direction: -1},
		},
		{
			name: "not whitelisted",
			pred: ScoredPrediction{Symbol: "BTC", Score: 95, Direction: 1},
		},
		{
			name: "operator already holds",
			setup: func(e *Engine, scan *scanContext) {
				scan.setOurPosition("SOL", syntheticPosition("SOL", SideLong, 1, 5, 150))
			},
			pred: ScoredPrediction{Symbol: "SOL", Score: 95, Direction: 1},
		},
		{
			name: "target already holds",
			setup: func(e *Engine, scan *scanContext) {
				scan.targetPositions["SOL"] = syntheticPosition("SOL", SideLong, 1, 5, 150)
			},
			pred: ScoredPrediction{Symbol: "SOL", Score: 95, Direction: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mock, store := newTestEngine(t, independentConfig())
			mock.SetAccount(testOperator, 10000, 9000)
			mock.SetMid("SOL", 150)
			mock.SetMid("BTC", 60000)

			scan := setupIndependentScan(e, 10000, 9000, map[string]float64{"SOL": 150, "BTC": 60000})
			if tt.setup != nil {
				tt.setup(e, scan)
			}

			if err := e.independent.ProcessSignals(context.Background(), scan, []ScoredPrediction{tt.pred}); err != nil {
				t.Fatalf("ProcessSignals: %v", err)
			}
			if pos := store.activeBySymbol(tt.pred.Symbol); pos != nil {
				t.Errorf("expected no entry, got %+v", pos)
			}
		})
	}
}

func TestProcessSignalsRespectsMaxPositionsAndAllocation(t *testing.T) {
	e, mock, store := newTestEngine(t, independentConfig())
	mock.SetAccount(testOperator, 10000, 9000)
	for _, s := range []string{"SOL", "AAVE", "VVV"} {
		mock.SetMid(s, 100)
	}

	scan := setupIndependentScan(e, 10000, 9000, map[string]float64{"SOL": 100, "AAVE": 100, "VVV": 100})
	predictions := []ScoredPrediction{
		{Symbol: "SOL", Score: 95, Direction: 1},
		{Symbol: "AAVE", Score: 93, Direction: 1},
		{Symbol: "VVV", Score: 91, Direction: 1},
	}

	if err := e.independent.ProcessSignals(context.Background(), scan, predictions); err != nil {
		t.Fatalf("ProcessSignals: %v", err)
	}

	var totalMargin float64
	for _, s := range []string{"SOL", "AAVE", "VVV"} {
		pos := store.activeBySymbol(s)
		if pos == nil {
			t.Fatalf("expected an entry for %s", s)
		}
		totalMargin += pos.Margin()
	}
	// Allocation cap: sum of margins never exceeds maxAllocationPct * equity.
	if maxAllocation := 0.10 * 10000; totalMargin > maxAllocation+1 {
		t.Errorf("total margin %v exceeds allocation cap %v", totalMargin, maxAllocation)
	}

	// Book is full: a second pass over the same signals opens nothing
	// more.
	if err := e.independent.ProcessSignals(context.Background(), scan, predictions); err != nil {
		t.Fatalf("second ProcessSignals: %v", err)
	}
	if got := len(e.independent.Book()); got != 3 {
		t.Errorf("book size = %d, want 3", got)
	}
}

func TestManagePositionsTargetConfirmation(t *testing.T) {
	e, mock, store := newTestEngine(t, independentConfig())
	mock.SetAccount(testOperator, 10000, 9000)
	mock.SetMid("SOL", 150)

	scan := setupIndependentScan(e, 10000, 9000, map[string]float64{"SOL": 150})
	preds := []ScoredPrediction{{Symbol: "SOL", Score: 92, Direction: 1}}
	if err := e.independent.ProcessSignals(context.Background(), scan, preds); err != nil {
		t.Fatalf("ProcessSignals: %v", err)
	}

	// Target opens the same direction: the position becomes confirmed and is
	// not closed.
	scan.targetPositions["SOL"] = syntheticPosition("SOL", SideLong, 2, 5, 150)
	if err := e.independent.ManagePositions(context.Background(), scan); err != nil {
		t.Fatalf("ManagePositions: %v", err)
	}

	pos := store.activeBySymbol("SOL")
	if pos == nil || pos.Status != database.IndependentStatusConfirmed || !pos.ConfirmedByTarget {
		t.Fatalf("expected a confirmed position, got %+v", pos)
	}
	if st := e.independent.Has("SOL"); !st.Exists || !st.Confirmed {
		t.Errorf("Has() = %+v, want exists+confirmed", st)
	}
}

func TestManagePositionsTargetOppositeCloses(t *testing.T) {
	e, mock, store := newTestEngine(t, independentConfig())
	mock.SetAccount(testOperator, 10000, 9000)
	mock.SetMid("AAVE", 200)

	scan := setupIndependentScan(e, 10000, 9000, map[string]float64{"AAVE": 200})
	preds := []ScoredPrediction{{Symbol: "AAVE", Score: 95, Direction: 1}}
	if err := e.independent.ProcessSignals(context.Background(), scan, preds); err != nil {
		t.Fatalf("ProcessSignals: %v", err)
	}

	scan.targetPositions["AAVE"] = syntheticPosition("AAVE", SideShort, 3, 5, 200)
	if err := e.independent.ManagePositions(context.Background(), scan); err != nil {
		t.Fatalf("ManagePositions: %v", err)
	}

	if pos := store.activeBySymbol("AAVE"); pos != nil {
		t.Fatalf("expected the position closed, got %+v", pos)
	}
	closed := store.independentByID(t, "AAVE")
	if closed.Status != database.IndependentStatusClosed {
		t.Errorf("status = %s, want closed", closed.Status)
	}
	if closed.ExitReason == nil || *closed.ExitReason != database.ExitReasonTargetOpposite {
		t.Errorf("exit reason = %v, want target_opposite", closed.ExitReason)
	}
	if closed.ExitPrice == nil || closed.RealizedPnl == nil || closed.RealizedPnlPct == nil || closed.ClosedAt == nil {
		t.Error("terminal close must set exit price, pnl, pnl pct and closed_at")
	}
	// The planner now sees the symbol as flat.
	if scan.ourPosition("AAVE") != nil {
		t.Error("scan snapshot must drop the closed position")
	}
}

func TestManagePositionsTimeoutExit(t *testing.T) {
	e, mock, store := newTestEngine(t, independentConfig())
	mock.SetAccount(testOperator, 10000, 9000)
	mock.SetMid("VVV", 10)

	scan := setupIndependentScan(e, 10000, 9000, map[string]float64{"VVV": 10})
	preds := []ScoredPrediction{{Symbol: "VVV", Score: 95, Direction: 1}}
	if err := e.independent.ProcessSignals(context.Background(), scan, preds); err != nil {
		t.Fatalf("ProcessSignals: %v", err)
	}

	// Not yet timed out: nothing happens.
	if err := e.independent.ManagePositions(context.Background(), scan); err != nil {
		t.Fatalf("ManagePositions: %v", err)
	}
	if store.activeBySymbol("VVV") == nil {
		t.Fatal("position must survive before its timeout")
	}

	// Force the timeout into the past.
	e.independent.mu.Lock()
	e.independent.book["VVV"].TimeoutAt = time.Now().Add(-time.Minute)
	e.independent.mu.Unlock()

	if err := e.independent.ManagePositions(context.Background(), scan); err != nil {
		t.Fatalf("ManagePositions: %v", err)
	}
	closed := store.independentByID(t, "VVV")
	if closed.ExitReason == nil || *closed.ExitReason != database.ExitReasonTimeout {
		t.Fatalf("exit reason = %v, want timeout", closed.ExitReason)
	}
}

func TestTPSLExitStrategy(t *testing.T) {
	cfg := independentConfig()
	cfg.IndependentConfig.UseTimeExit = false
	cfg.IndependentConfig.TakeProfitPct = 0.20
	cfg.IndependentConfig.StopLossPct = 0.12
	e, mock, store := newTestEngine(t, cfg)
	mock.SetAccount(testOperator, 10000, 9000)
	mock.SetMid("SOL", 100)

	scan := setupIndependentScan(e, 10000, 9000, map[string]float64{"SOL": 100})
	preds := []ScoredPrediction{{Symbol: "SOL", Score: 95, Direction: 1}}
	if err := e.independent.ProcessSignals(context.Background(), scan, preds); err != nil {
		t.Fatalf("ProcessSignals: %v", err)
	}

	pos := store.activeBySymbol("SOL")
	if pos == nil {
		t.Fatal("expected an entry")
	}
	if pos.TPPrice != 120 || pos.SLPrice != 88 {
		t.Fatalf("tp/sl = %v/%v, want 120/88", pos.TPPrice, pos.SLPrice)
	}

	// Price reaches TP.
	scan.mu.Lock()
	scan.mids["SOL"] = 121
	scan.mu.Unlock()
	if err := e.independent.ManagePositions(context.Background(), scan); err != nil {
		t.Fatalf("ManagePositions: %v", err)
	}
	closed := store.independentByID(t, "SOL")
	if closed.ExitReason == nil || *closed.ExitReason != database.ExitReasonTakeProfit {
		t.Fatalf("exit reason = %v, want tp", closed.ExitReason)
	}
	if closed.RealizedPnl == nil || *closed.RealizedPnl <= 0 {
		t.Errorf("expected a positive realized pnl, got %v", closed.RealizedPnl)
	}
}

func TestSingleIndependentPositionPerSymbol(t *testing.T) {
	e, mock, store := newTestEngine(t, independentConfig())
	mock.SetAccount(testOperator, 10000, 9000)
	mock.SetMid("SOL", 150)

	scan := setupIndependentScan(e, 10000, 9000, map[string]float64{"SOL": 150})
	preds := []ScoredPrediction{{Symbol: "SOL", Score: 95, Direction: 1}}

	if err := e.independent.ProcessSignals(context.Background(), scan, preds); err != nil {
		t.Fatalf("ProcessSignals: %v", err)
	}
	// Second pass with the same signal: the in-book filter rejects it.
	if err := e.independent.ProcessSignals(context.Background(), scan, preds); err != nil {
		t.Fatalf("second ProcessSignals: %v", err)
	}

	count := 0
	store.mu.Lock()
	for _, p := range store.independent {
		if p.Symbol == "SOL" && p.Status != database.IndependentStatusClosed {
			count++
		}
	}
	store.mu.Unlock()
	if count != 1 {
		t.Fatalf("active positions for SOL = %d, want 1", count)
	}
}

// independentByID finds the single record for a symbol, closed or not.
func (s *fakeStore) independentByID(t *testing.T, symbol string) *database.IndependentPosition {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.independent {
		if p.Symbol == symbol {
			return p
		}
	}
	t.Fatalf("no independent position for %s", symbol)
	return nil
}
