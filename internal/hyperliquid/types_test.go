package hyperliquid

import (
	"encoding/json"
	"testing"
)

func TestClearinghouseStateDecoding(t *testing.T) {
	raw := `{
		"marginSummary": {
			"accountValue": "10250.75",
			"totalNtlPos": "4200.00",
			"totalRawUsd": "10250.75",
			"totalMarginUsed": "840.00"
		},
		"withdrawable": "9410.75",
		"assetPositions": [
			{
				"type": "oneWay",
				"position": {
					"coin": "BTC",
					"szi": "-0.015",
					"leverage": {"type": "cross", "value": 10},
					"entryPx": "60123.5",
					"positionValue": "901.85",
					"unrealizedPnl": "-12.4",
					"liquidationPx": "66100.2",
					"marginUsed": "90.18",
					"returnOnEquity": "-0.137"
				}
			}
		]
	}`

	var state ClearinghouseState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if state.Equity() != 10250.75 {
		t.Errorf("equity = %v, want 10250.75", state.Equity())
	}
	if state.Withdrawable != 9410.75 {
		t.Errorf("withdrawable = %v, want 9410.75", state.Withdrawable)
	}
	if len(state.AssetPositions) != 1 {
		t.Fatalf("positions = %d, want 1", len(state.AssetPositions))
	}

	pos := state.AssetPositions[0].Position
	if pos.Coin != "BTC" || pos.Szi != -0.015 {
		t.Errorf("unexpected position: %+v", pos)
	}
	if pos.Leverage.Value != 10 || pos.Leverage.Type != "cross" {
		t.Errorf("unexpected leverage: %+v", pos.Leverage)
	}
	if pos.EntryPx != 60123.5 || pos.LiquidationPx != 66100.2 {
		t.Errorf("unexpected prices: entry %v liq %v", pos.EntryPx, pos.LiquidationPx)
	}
}

func TestMetaDecoding(t *testing.T) {
	raw := `{"universe": [
		{"name": "BTC", "szDecimals": 5, "maxLeverage": 50},
		{"name": "ETH", "szDecimals": 4, "maxLeverage": 50},
		{"name": "XYZ", "szDecimals": 1, "maxLeverage": 3, "onlyIsolated": true}
	]}`

	var meta Meta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(meta.Universe) != 3 {
		t.Fatalf("universe = %d, want 3", len(meta.Universe))
	}
	if meta.Universe[0].Name != "BTC" || meta.Universe[0].SzDecimals != 5 {
		t.Errorf("unexpected first asset: %+v", meta.Universe[0])
	}
	if !meta.Universe[2].OnlyIsolated {
		t.Error("onlyIsolated must decode")
	}
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{61200, "61200"},
		{0.01625, "0.01625"},
		{150.5, "150.5"},
		{0.000012, "0.000012"},
	}
	for _, tt := range tests {
		if got := formatFloat(tt.in); got != tt.want {
			t.Errorf("formatFloat(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
