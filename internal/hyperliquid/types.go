package hyperliquid

// ==================== EXCHANGE INFO ====================

// AssetMeta describes one perpetual instrument in the venue universe.
// The asset index used by the exchange endpoint is the position of the
// instrument in the universe array returned by Meta.
type AssetMeta struct {
	Name         string `json:"name"`
	SzDecimals   int    `json:"szDecimals"`
	MaxLeverage  int    `json:"maxLeverage"`
	OnlyIsolated bool   `json:"onlyIsolated,omitempty"`
}

// Meta is the instrument universe response.
type Meta struct {
	Universe []AssetMeta `json:"universe"`
}

// ==================== ACCOUNT STATE ====================

// Leverage describes the leverage applied to a position.
type Leverage struct {
	Type  string `json:"type"` // "cross" or "isolated"
	Value int    `json:"value"`
}

// Position is one open perpetual position. Szi is signed: positive for
// longs, negative for shorts.
type Position struct {
	Coin           string   `json:"coin"`
	Szi            float64  `json:"szi,string"`
	Leverage       Leverage `json:"leverage"`
	EntryPx        float64  `json:"entryPx,string"`
	PositionValue  float64  `json:"positionValue,string"`
	UnrealizedPnl  float64  `json:"unrealizedPnl,string"`
	LiquidationPx  float64  `json:"liquidationPx,string"`
	MarginUsed     float64  `json:"marginUsed,string"`
	ReturnOnEquity float64  `json:"returnOnEquity,string"`
}

// AssetPosition wraps a position in the clearinghouse response.
type AssetPosition struct {
	Type     string   `json:"type"`
	Position Position `json:"position"`
}

// MarginSummary holds account-level margin aggregates.
type MarginSummary struct {
	AccountValue   float64 `json:"accountValue,string"`
	TotalNtlPos    float64 `json:"totalNtlPos,string"`
	TotalRawUsd    float64 `json:"totalRawUsd,string"`
	TotalMarginUsed float64 `json:"totalMarginUsed,string"`
}

// ClearinghouseState is the per-account state snapshot: equity, free
// margin and all open positions.
type ClearinghouseState struct {
	MarginSummary MarginSummary   `json:"marginSummary"`
	Withdrawable  float64         `json:"withdrawable,string"`
	AssetPositions []AssetPosition `json:"assetPositions"`
}

// Equity returns the account value in USD.
func (s *ClearinghouseState) Equity() float64 {
	return s.MarginSummary.AccountValue
}

// ==================== ORDERS ====================

// OrderRequest is a market order modelled as an aggressive limit at a
// slippage-bounded price, per the venue's order model.
type OrderRequest struct {
	AssetIndex int
	Symbol     string // for logging only; the venue keys on AssetIndex
	IsBuy      bool
	LimitPrice float64
	Size       float64
	ReduceOnly bool
}

// OrderResult is the venue's response to an order submission.
type OrderResult struct {
	OrderID    int64
	Status     string // "filled", "resting", "error"
	FilledSize float64
	AvgPrice   float64
}

// orderAction is the wire form of an order submission.
type orderAction struct {
	Type   string      `json:"type"`
	Orders []wireOrder `json:"orders"`
}

type wireOrder struct {
	Asset      int       `json:"a"`
	IsBuy      bool      `json:"b"`
	Price      string    `json:"p"`
	Size       string    `json:"s"`
	ReduceOnly bool      `json:"r"`
	OrderType  wireOType `json:"t"`
}

type wireOType struct {
	Limit wireLimit `json:"limit"`
}

type wireLimit struct {
	Tif string `json:"tif"` // Ioc for market-style orders
}

// leverageAction is the wire form of a leverage update.
type leverageAction struct {
	Type     string `json:"type"` // "updateLeverage"
	Asset    int    `json:"asset"`
	IsCross  bool   `json:"isCross"`
	Leverage int    `json:"leverage"`
}

// exchangeResponse is the generic exchange endpoint response envelope.
type exchangeResponse struct {
	Status   string `json:"status"`
	Response struct {
		Type string `json:"type"`
		Data struct {
			Statuses []orderStatus `json:"statuses"`
		} `json:"data"`
	} `json:"response"`
}

type orderStatus struct {
	Filled *struct {
		OID     int64   `json:"oid"`
		TotalSz float64 `json:"totalSz,string"`
		AvgPx   float64 `json:"avgPx,string"`
	} `json:"filled,omitempty"`
	Resting *struct {
		OID int64 `json:"oid"`
	} `json:"resting,omitempty"`
	Error string `json:"error,omitempty"`
}
