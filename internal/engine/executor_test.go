package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"hyperliquid-copy-bot/internal/hyperliquid"

	"github.com/rs/zerolog"
)

func TestSlippagePrice(t *testing.T) {
	tests := []struct {
		name     string
		mid      float64
		buy      bool
		slippage float64
		want     float64
	}{
		{"buy btc", 60000, true, 0.02, 61200},
		{"sell btc", 60000, false, 0.02, 58800},
		{"buy mid-priced", 150, true, 0.02, 153},
		{"sell sub-dollar", 0.5, false, 0.02, 0.49},
		{"buy eth", 3000, true, 0.02, 3060},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := slippagePrice(tt.mid, tt.buy, tt.slippage); got != tt.want {
				t.Errorf("slippagePrice(%v, %v) = %v, want %v", tt.mid, tt.buy, got, tt.want)
			}
		})
	}
}

func TestRoundPrice(t *testing.T) {
	tests := []struct {
		px   float64
		want float64
	}{
		{61234.567, 61235},
		{1234.5678, 1234.6},
		{123.45678, 123.46},
		{1.2345678, 1.2346},
		{0.01234567, 0.012346},
		{0.000012345, 0.000012},
	}
	for _, tt := range tests {
		if got := roundPrice(tt.px); got != tt.want {
			t.Errorf("roundPrice(%v) = %v, want %v", tt.px, got, tt.want)
		}
	}
}

func TestRoundSize(t *testing.T) {
	tests := []struct {
		size     float64
		decimals int
		want     float64
	}{
		{0.016254, 5, 0.01625},
		{1.23456, 2, 1.23},
		{0.9999, 0, 0},
		{10.5, 1, 10.5},
	}
	for _, tt := range tests {
		if got := roundSize(tt.size, tt.decimals); got != tt.want {
			t.Errorf("roundSize(%v, %d) = %v, want %v", tt.size, tt.decimals, got, tt.want)
		}
	}
}

func newTestExecutor(t *testing.T) (*Executor, *hyperliquid.MockClient) {
	t.Helper()
	mock := hyperliquid.NewMockClient(testOperator)
	mock.SetUniverse(testUniverse)

	meta := NewMetadataCache()
	m, _ := mock.Meta(context.Background())
	meta.Populate(m)

	exec := NewExecutor(mock, meta, testOperator, ExecutorConfig{
		SlippagePct: 0.02,
		Cooldown:    5 * time.Minute,
	}, zerolog.Nop())
	return exec, mock
}

func TestMarketOpenCapsAtAffordableNotional(t *testing.T) {
	exec, mock := newTestExecutor(t)
	mock.SetAccount(testOperator, 1000, 100)
	mock.SetMid("ETH", 3000)

	// Requested notional 30000; cap = 100 * 5 * 0.95 = 475.
	result, err := exec.MarketOpen(context.Background(), "ETH", SideLong, 10, 5, 3000, false)
	if err != nil {
		t.Fatalf("MarketOpen: %v", err)
	}
	if result == nil {
		t.Fatal("expected an order result")
	}

	orders := mock.Orders()
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	wantSize := roundSize(475.0/3000.0, 4)
	if orders[0].Size != wantSize {
		t.Errorf("capped size = %v, want %v", orders[0].Size, wantSize)
	}
}

func TestMarketOpenIdempotentOnEquivalentPosition(t *testing.T) {
	exec, mock := newTestExecutor(t)
	mock.SetAccount(testOperator, 1000, 900)
	mock.SetPosition(testOperator, "ETH", 0.5, 5, 3000)

	result, err := exec.MarketOpen(context.Background(), "ETH", SideLong, 0.5, 5, 3000, false)
	if err != nil {
		t.Fatalf("MarketOpen: %v", err)
	}
	if result != nil {
		t.Error("expected a no-op for an equivalent open position")
	}
	if orders := mock.Orders(); len(orders) != 0 {
		t.Fatalf("expected no orders, got %d", len(orders))
	}
}

func TestMarketOpenAddToExistingBypassesIdempotence(t *testing.T) {
	exec, mock := newTestExecutor(t)
	mock.SetAccount(testOperator, 1000, 900)
	mock.SetPosition(testOperator, "ETH", 0.5, 5, 3000)

	result, err := exec.MarketOpen(context.Background(), "ETH", SideLong, 0.1, 5, 3000, true)
	if err != nil {
		t.Fatalf("MarketOpen: %v", err)
	}
	if result == nil {
		t.Fatal("expected an order result")
	}
	if orders := mock.Orders(); len(orders) != 1 {
		t.Fatalf("expected the additive order, got %d", len(orders))
	}
}

func TestMarketOpenFailureRecordsCooldown(t *testing.T) {
	exec, mock := newTestExecutor(t)
	mock.SetAccount(testOperator, 1000, 900)
	mock.SetMid("ETH", 3000)
	mock.FailNextOrder("ETH", errors.New("rejected"))

	if _, err := exec.MarketOpen(context.Background(), "ETH", SideLong, 0.1, 5, 3000, false); err == nil {
		t.Fatal("expected the open to fail")
	}
	if !exec.CooldownActive("ETH") {
		t.Error("cool-down must be recorded on a failed open")
	}

	// Expiry: entries older than the window are dropped at scan start.
	exec.mu.Lock()
	exec.failedOrders["ETH"] = time.Now().Add(-6 * time.Minute)
	exec.mu.Unlock()
	exec.ExpireCooldowns()
	if exec.CooldownActive("ETH") {
		t.Error("expired cool-down must be dropped")
	}
}

func TestMarketCloseNeverRecordsCooldown(t *testing.T) {
	exec, mock := newTestExecutor(t)
	mock.SetAccount(testOperator, 1000, 900)

	// No position at all: ErrNoPosition, no cool-down.
	_, err := exec.MarketClose(context.Background(), "ETH", 1.0, 3000)
	if !errors.Is(err, ErrNoPosition) {
		t.Fatalf("expected ErrNoPosition, got %v", err)
	}
	if exec.CooldownActive("ETH") {
		t.Error("close must never record a cool-down")
	}
}

func TestMarketCloseFraction(t *testing.T) {
	exec, mock := newTestExecutor(t)
	mock.SetAccount(testOperator, 1000, 900)
	mock.SetPosition(testOperator, "SOL", 4.0, 5, 150)

	if _, err := exec.MarketClose(context.Background(), "SOL", 0.25, 150); err != nil {
		t.Fatalf("MarketClose: %v", err)
	}

	orders := mock.Orders()
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	if !orders[0].ReduceOnly || orders[0].IsBuy {
		t.Errorf("expected a reduce-only sell, got %+v", orders[0])
	}
	if orders[0].Size != 1.0 {
		t.Errorf("close size = %v, want 1.0", orders[0].Size)
	}
	if orders[0].LimitPrice != 147 {
		t.Errorf("close price = %v, want 147 (mid -2%%)", orders[0].LimitPrice)
	}
}
