package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"hyperliquid-copy-bot/internal/database"
)

func TestClassifyAction(t *testing.T) {
	tests := []struct {
		name       string
		targetSide Side
		ourSide    Side
		scaled     float64
		ourSize    float64
		indep      IndependentStatus
		wantAction Action
		wantSkip   bool
	}{
		{
			name:       "both flat",
			targetSide: SideNone, ourSide: SideNone,
			wantAction: ActionNone,
		},
		{
			name:       "target flat we hold",
			targetSide: SideNone, ourSide: SideLong, ourSize: 1,
			wantAction: ActionClose,
		},
		{
			name:       "target flat we hold unconfirmed independent",
			targetSide: SideNone, ourSide: SideLong, ourSize: 1,
			indep:      IndependentStatus{Exists: true, Confirmed: false},
			wantAction: ActionNone, wantSkip: true,
		},
		{
			name:       "target flat we hold confirmed independent",
			targetSide: SideNone, ourSide: SideLong, ourSize: 1,
			indep:      IndependentStatus{Exists: true, Confirmed: true},
			wantAction: ActionClose,
		},
		{
			name:       "target holds we are flat",
			targetSide: SideLong, ourSide: SideNone, scaled: 1,
			wantAction: ActionOpen,
		},
		{
			name:       "opposite sides",
			targetSide: SideShort, ourSide: SideLong, scaled: 4, ourSize: 0.625,
			wantAction: ActionFlip,
		},
		{
			name:       "same side within threshold",
			targetSide: SideLong, ourSide: SideLong, scaled: 1.0, ourSize: 0.95,
			wantAction: ActionNone,
		},
		{
			name:       "same side beyond threshold",
			targetSide: SideLong, ourSide: SideLong, scaled: 0.12, ourSize: 0.10,
			wantAction: ActionAdjust,
		},
		{
			name:       "delta exactly at threshold is none",
			targetSide: SideLong, ourSide: SideLong, scaled: 1.0, ourSize: 0.90,
			wantAction: ActionNone,
		},
		{
			name:       "short adjust beyond threshold",
			targetSide: SideShort, ourSide: SideShort, scaled: 2.0, ourSize: 2.5,
			wantAction: ActionAdjust,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, skip := classifyAction(tt.targetSide, tt.ourSide, tt.scaled, tt.ourSize, 0.10, tt.indep)
			if action != tt.wantAction || skip != tt.wantSkip {
				t.Errorf("classifyAction() = (%v, %v), want (%v, %v)", action, skip, tt.wantAction, tt.wantSkip)
			}
		})
	}
}

func TestClassifyActionIsDeterministic(t *testing.T) {
	for i := 0; i < 10; i++ {
		action, skip := classifyAction(SideLong, SideLong, 1.3, 1.0, 0.10, IndependentStatus{})
		if action != ActionAdjust || skip {
			t.Fatalf("iteration %d: got (%v, %v)", i, action, skip)
		}
	}
}

func TestSyncPositionFreshOpen(t *testing.T) {
	e, mock, store := newTestEngine(t, nil)

	// Target holds BTC long 0.10 @ 10x; operator equity is 1/8 of target's.
	mock.SetAccount(testTarget, 80000, 40000)
	mock.SetAccount(testOperator, 10000, 9000)
	mock.SetPosition(testTarget, "BTC", 0.10, 10, 59000)
	mock.SetMid("BTC", 60000)

	if err := e.runScan(context.Background()); err != nil {
		t.Fatalf("runScan: %v", err)
	}

	orders := mock.Orders()
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	order := orders[0]
	if !order.IsBuy {
		t.Error("expected a buy order")
	}
	if order.Size != 0.01625 {
		t.Errorf("size = %v, want 0.01625", order.Size)
	}
	if order.LimitPrice != 61200 {
		t.Errorf("limit price = %v, want 61200 (mid +2%%)", order.LimitPrice)
	}
	if got := mock.LeverageFor(0); got != 10 {
		t.Errorf("leverage = %d, want 10", got)
	}

	if len(store.copyActions) != 1 || store.copyActions[0].Action != database.CopyActionOpen {
		t.Fatalf("expected one 'open' telemetry record, got %+v", store.copyActions)
	}
}

func TestSyncPositionIdempotentWhenMatched(t *testing.T) {
	e, mock, _ := newTestEngine(t, nil)

	mock.SetAccount(testTarget, 80000, 40000)
	mock.SetAccount(testOperator, 10000, 9000)
	// scaleFactor = 10000/80000*1.3 = 0.1625; scaled = 0.01625. Operator
	// already holds exactly that.
	mock.SetPosition(testTarget, "BTC", 0.10, 10, 59000)
	mock.SetPosition(testOperator, "BTC", 0.01625, 10, 59500)
	mock.SetMid("BTC", 60000)

	if err := e.runScan(context.Background()); err != nil {
		t.Fatalf("runScan: %v", err)
	}

	if orders := mock.Orders(); len(orders) != 0 {
		t.Fatalf("expected no orders on a matched book, got %d", len(orders))
	}
}

func TestSyncPositionAdjustUp(t *testing.T) {
	e, mock, store := newTestEngine(t, nil)

	// scaleFactor 0.1: our equity 1000 vs target 13000 with multiplier 1.3.
	mock.SetAccount(testTarget, 13000, 6000)
	mock.SetAccount(testOperator, 1000, 900)
	mock.SetPosition(testTarget, "ETH", 1.2, 5, 2900)
	mock.SetPosition(testOperator, "ETH", 0.10, 5, 2900)
	mock.SetMid("ETH", 3000)

	if err := e.runScan(context.Background()); err != nil {
		t.Fatalf("runScan: %v", err)
	}

	orders := mock.Orders()
	if len(orders) != 1 {
		t.Fatalf("expected 1 adjust order, got %d", len(orders))
	}
	if !orders[0].IsBuy || orders[0].ReduceOnly {
		t.Errorf("expected an additive buy, got %+v", orders[0])
	}
	if got := orders[0].Size; got < 0.0199 || got > 0.0201 {
		t.Errorf("adjust size = %v, want 0.02", got)
	}
	if len(store.copyActions) != 1 || store.copyActions[0].Action != database.CopyActionIncrease {
		t.Fatalf("expected one 'increase' record, got %+v", store.copyActions)
	}

	// A second scan with the operator now matched produces no orders.
	mock.SetPosition(testOperator, "ETH", 0.12, 5, 2950)
	if err := e.runScan(context.Background()); err != nil {
		t.Fatalf("second runScan: %v", err)
	}
	if orders := mock.Orders(); len(orders) != 1 {
		t.Fatalf("expected no new orders, got %d total", len(orders))
	}
}

func TestSyncPositionAdjustBelowMinNotionalSkips(t *testing.T) {
	e, mock, _ := newTestEngine(t, nil)

	mock.SetAccount(testTarget, 13000, 6000)
	mock.SetAccount(testOperator, 1000, 900)
	// scaled = 1.15*0.1 = 0.115; delta vs 0.10 is 0.015 (15% > threshold)
	// but 0.015 * 500 = 7.5 USD < 10 USD minimum.
	mock.SetPosition(testTarget, "SOL", 1.15, 5, 490)
	mock.SetPosition(testOperator, "SOL", 0.10, 5, 490)
	mock.SetMid("SOL", 500)

	if err := e.runScan(context.Background()); err != nil {
		t.Fatalf("runScan: %v", err)
	}

	if orders := mock.Orders(); len(orders) != 0 {
		t.Fatalf("expected no orders for a dust adjust, got %d", len(orders))
	}
	// The position must not have been closed either.
	state, _ := mock.ClearinghouseState(context.Background(), testOperator)
	if findPosition(state, "SOL") == nil {
		t.Fatal("dust adjust must not close the position")
	}
}

func TestSyncPositionFlipOrdering(t *testing.T) {
	e, mock, store := newTestEngine(t, nil)

	mock.SetAccount(testTarget, 8000, 4000)
	mock.SetAccount(testOperator, 1000, 900)
	// scale = 1000/8000*1.3 = 0.1625; target short 4.0 → scaled 0.65.
	mock.SetPosition(testTarget, "SOL", -4.0, 5, 160)
	mock.SetPosition(testOperator, "SOL", 0.625, 5, 140)
	mock.SetMid("SOL", 150)

	if err := e.runScan(context.Background()); err != nil {
		t.Fatalf("runScan: %v", err)
	}

	orders := mock.Orders()
	if len(orders) != 2 {
		t.Fatalf("expected close+open, got %d orders", len(orders))
	}
	if !orders[0].ReduceOnly || orders[0].IsBuy {
		t.Errorf("first leg must be a reduce-only sell, got %+v", orders[0])
	}
	if orders[1].ReduceOnly || orders[1].IsBuy {
		t.Errorf("second leg must be an opening sell, got %+v", orders[1])
	}
	if len(store.copyActions) != 1 || store.copyActions[0].Action != database.CopyActionFlip {
		t.Fatalf("expected one 'flip' record, got %+v", store.copyActions)
	}
}

func TestSyncPositionFlipOpenLegFailureSetsCooldown(t *testing.T) {
	e, mock, _ := newTestEngine(t, nil)

	mock.SetAccount(testTarget, 8000, 4000)
	mock.SetAccount(testOperator, 1000, 900)
	mock.SetPosition(testTarget, "SOL", -4.0, 5, 160)
	mock.SetPosition(testOperator, "SOL", 0.625, 5, 140)
	mock.SetMid("SOL", 150)
	mock.FailNextOrder("SOL", errors.New("insufficient margin"))

	if err := e.runScan(context.Background()); err != nil {
		t.Fatalf("runScan: %v", err)
	}

	// The close leg went through, the open leg failed.
	orders := mock.Orders()
	if len(orders) != 1 || !orders[0].ReduceOnly {
		t.Fatalf("expected only the close leg, got %+v", orders)
	}
	if !e.exec.CooldownActive("SOL") {
		t.Fatal("cool-down must be active after a failed open leg")
	}

	// Next scan: target short, operator flat → would open, but the
	// cool-down suppresses it.
	if err := e.runScan(context.Background()); err != nil {
		t.Fatalf("second runScan: %v", err)
	}
	if orders := mock.Orders(); len(orders) != 1 {
		t.Fatalf("cool-down must suppress the re-open, got %d orders", len(orders))
	}

	// Once the window elapses the open goes through.
	e.exec.mu.Lock()
	e.exec.failedOrders["SOL"] = time.Now().Add(-6 * time.Minute)
	e.exec.mu.Unlock()
	if err := e.runScan(context.Background()); err != nil {
		t.Fatalf("third runScan: %v", err)
	}
	orders = mock.Orders()
	if len(orders) != 2 {
		t.Fatalf("expected the re-open after cool-down expiry, got %d orders", len(orders))
	}
	if orders[1].IsBuy || orders[1].ReduceOnly {
		t.Errorf("re-open must be an opening sell, got %+v", orders[1])
	}
	if e.exec.CooldownActive("SOL") {
		t.Error("cool-down must be cleared after a successful execution")
	}
}

func TestSyncPositionInsufficientMarginSkips(t *testing.T) {
	e, mock, _ := newTestEngine(t, nil)

	mock.SetAccount(testTarget, 8000, 4000)
	// Withdrawable far below required margin * 1.2.
	mock.SetAccount(testOperator, 1000, 10)
	mock.SetPosition(testTarget, "BTC", 0.10, 10, 59000)
	mock.SetMid("BTC", 60000)

	if err := e.runScan(context.Background()); err != nil {
		t.Fatalf("runScan: %v", err)
	}
	if orders := mock.Orders(); len(orders) != 0 {
		t.Fatalf("expected no orders without affordable margin, got %d", len(orders))
	}
}

func TestSyncPositionCloseIgnoresCooldown(t *testing.T) {
	e, mock, _ := newTestEngine(t, nil)

	mock.SetAccount(testTarget, 8000, 4000)
	mock.SetAccount(testOperator, 1000, 900)
	mock.SetPosition(testOperator, "ETH", 0.5, 5, 3000)
	mock.SetMid("ETH", 3000)

	// An active cool-down must not block the close.
	e.exec.noteFailure("ETH")

	if err := e.runScan(context.Background()); err != nil {
		t.Fatalf("runScan: %v", err)
	}
	orders := mock.Orders()
	if len(orders) != 1 || !orders[0].ReduceOnly {
		t.Fatalf("expected the close despite cool-down, got %+v", orders)
	}
}

func TestSyncPositionMissingMetadataSkips(t *testing.T) {
	e, mock, _ := newTestEngine(t, nil)

	mock.SetAccount(testTarget, 8000, 4000)
	mock.SetAccount(testOperator, 1000, 900)
	// DOGE is not in the universe: position must be skipped, not invented.
	mock.SetPosition(testTarget, "DOGE", 100, 5, 0.10)
	mock.SetMid("DOGE", 0.10)

	if err := e.runScan(context.Background()); err != nil {
		t.Fatalf("runScan: %v", err)
	}
	if orders := mock.Orders(); len(orders) != 0 {
		t.Fatalf("expected no orders for unknown metadata, got %d", len(orders))
	}
}

func TestSyncPositionMissingMidSkips(t *testing.T) {
	e, mock, _ := newTestEngine(t, nil)

	mock.SetAccount(testTarget, 8000, 4000)
	mock.SetAccount(testOperator, 1000, 900)
	mock.SetPosition(testTarget, "BTC", 0.10, 10, 59000)
	// No mid for BTC.

	if err := e.runScan(context.Background()); err != nil {
		t.Fatalf("runScan: %v", err)
	}
	if orders := mock.Orders(); len(orders) != 0 {
		t.Fatalf("expected no orders without a mid-price, got %d", len(orders))
	}
}
