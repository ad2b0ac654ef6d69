package database

import "time"

// Prediction statuses for copy_action.
const (
	CopyActionOpen     = "open"
	CopyActionClose    = "close"
	CopyActionFlip     = "flip"
	CopyActionIncrease = "increase"
	CopyActionDecrease = "decrease"
	CopyActionNone     = "none"
)

// Independent position statuses.
const (
	IndependentStatusOpen      = "open"
	IndependentStatusConfirmed = "confirmed"
	IndependentStatusClosed    = "closed"
)

// Independent position exit reasons.
const (
	ExitReasonTakeProfit     = "tp"
	ExitReasonStopLoss       = "sl"
	ExitReasonTimeout        = "timeout"
	ExitReasonTargetConfirm  = "target_confirmed"
	ExitReasonTargetOpposite = "target_opposite"
)

// Prediction is one scored prediction record. Copy-action fields are set
// during the scan that created it; validation fields are set once the
// validation window has elapsed.
type Prediction struct {
	ID           string             `json:"id"`
	Timestamp    time.Time          `json:"timestamp"`
	Symbol       string             `json:"symbol"`
	Score        float64            `json:"score"`      // 0..100
	Confidence   float64            `json:"confidence"` // score / 100
	Direction    int                `json:"direction"`  // +1 long, -1 short, 0 neutral
	Reasons      []string           `json:"reasons"`
	EntryPrice   float64            `json:"entry_price"`
	Features     map[string]float64 `json:"features,omitempty"`
	ModelVersion string             `json:"model_version"`

	CopyAction  *string  `json:"copy_action,omitempty"`
	CopySide    *string  `json:"copy_side,omitempty"`
	CopySize    *float64 `json:"copy_size,omitempty"`
	ActualLabel *int     `json:"actual_label,omitempty"`

	ExitPrice   *float64   `json:"exit_price,omitempty"`
	PaperPnl    *float64   `json:"paper_pnl,omitempty"`
	PaperPnlPct *float64   `json:"paper_pnl_pct,omitempty"`
	Correct     *bool      `json:"correct,omitempty"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
}

// IndependentPosition is a long position owned by the independent trader.
type IndependentPosition struct {
	ID                string     `json:"id"`
	Symbol            string     `json:"symbol"`
	Side              string     `json:"side"` // always "long"
	EntryPrice        float64    `json:"entry_price"`
	Size              float64    `json:"size"`
	NotionalUSD       float64    `json:"notional_usd"`
	Leverage          int        `json:"leverage"`
	TPPrice           float64    `json:"tp_price"` // zero in time-exit mode
	SLPrice           float64    `json:"sl_price"` // zero in time-exit mode
	TimeoutAt         time.Time  `json:"timeout_at"`
	Status            string     `json:"status"`
	ConfirmedByTarget bool       `json:"confirmed_by_target"`
	PredictionScore   float64    `json:"prediction_score"`
	PredictionReasons []string   `json:"prediction_reasons"`
	ExitPrice         *float64   `json:"exit_price,omitempty"`
	ExitReason        *string    `json:"exit_reason,omitempty"`
	RealizedPnl       *float64   `json:"realized_pnl,omitempty"`
	RealizedPnlPct    *float64   `json:"realized_pnl_pct,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
}

// Margin returns the margin consumed by this position in USD.
func (p *IndependentPosition) Margin() float64 {
	if p.Leverage <= 0 {
		return p.NotionalUSD
	}
	return p.NotionalUSD / float64(p.Leverage)
}

// CopyActionRecord is one executed copy action, appended for telemetry.
type CopyActionRecord struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Symbol      string    `json:"symbol"`
	Action      string    `json:"action"`
	Side        string    `json:"side"`
	Size        float64   `json:"size"`
	Price       float64   `json:"price"`
	Notional    float64   `json:"notional"`
	Leverage    int       `json:"leverage"`
	ScaleFactor float64   `json:"scale_factor"`
}

// Candle is one OHLCV bar, read-only from this system's perspective.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// IndicatorBundle is the derived technical-indicator row for one bar.
type IndicatorBundle struct {
	Symbol        string    `json:"symbol"`
	Timeframe     string    `json:"timeframe"`
	Timestamp     time.Time `json:"timestamp"`
	RSI           float64   `json:"rsi"`
	MACD          float64   `json:"macd"`
	MACDSignal    float64   `json:"macd_signal"`
	MACDHistogram float64   `json:"macd_histogram"`
	BBUpper       float64   `json:"bb_upper"`
	BBMiddle      float64   `json:"bb_middle"`
	BBLower       float64   `json:"bb_lower"`
	ATR           float64   `json:"atr"`
}

// FundingRate is one funding-rate epoch.
type FundingRate struct {
	Symbol      string    `json:"symbol"`
	FundingRate float64   `json:"funding_rate"`
	FundingTime time.Time `json:"funding_time"`
}
