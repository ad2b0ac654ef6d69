package engine

import (
	"fmt"

	"hyperliquid-copy-bot/internal/database"
)

// MarketState is the scorer's input: current price plus the store-resident
// indicator snapshot. Fields other than Symbol and Price may be nil or zero
// when the store has no data for the symbol yet.
type MarketState struct {
	Symbol     string
	Price      float64
	Candles    []database.Candle // 1h, newest first
	Indicators *database.IndicatorBundle
	Funding    *database.FundingRate
	BTCCandles []database.Candle
	Delta1h    float64 // percentage moves
	Delta4h    float64
	Delta24h   float64
	Volatility float64 // ATR / price
	BTCTrend   float64 // BTC move over the context window, percent
}

// Features returns the numeric snapshot persisted with each prediction.
func (s *MarketState) Features() map[string]float64 {
	f := map[string]float64{
		"price":      s.Price,
		"delta_1h":   s.Delta1h,
		"delta_4h":   s.Delta4h,
		"delta_24h":  s.Delta24h,
		"volatility": s.Volatility,
		"btc_trend":  s.BTCTrend,
	}
	if s.Indicators != nil {
		f["rsi"] = s.Indicators.RSI
		f["macd_histogram"] = s.Indicators.MACDHistogram
		f["bb_upper"] = s.Indicators.BBUpper
		f["bb_lower"] = s.Indicators.BBLower
		f["atr"] = s.Indicators.ATR
	}
	if s.Funding != nil {
		f["funding_rate"] = s.Funding.FundingRate
	}
	return f
}

// Scorer turns a market state into a score, a direction and the signal tags
// that produced it. Implementations are selected by configuration; the
// version is stamped into every record so per-model statistics stay sound.
type Scorer interface {
	Score(symbol string, state *MarketState) (score float64, direction int, reasons []string)
	Version() string
}

// NewScorer resolves a scorer by model name.
func NewScorer(model string) (Scorer, error) {
	switch model {
	case "", "momentum-v1":
		return &MomentumScorer{}, nil
	default:
		return nil, fmt.Errorf("unknown prediction model %q", model)
	}
}

// MomentumScorer scores trend continuation: RSI regime, MACD histogram,
// Bollinger position, multi-window momentum, funding and BTC context.
type MomentumScorer struct{}

func (s *MomentumScorer) Version() string { return "momentum-v1" }

func (s *MomentumScorer) Score(symbol string, state *MarketState) (float64, int, []string) {
	longPoints, shortPoints := 0.0, 0.0
	var reasons []string

	if state.Delta4h > 2 {
		longPoints += 15
		reasons = append(reasons, "momentum_4h_up")
	} else if state.Delta4h < -2 {
		shortPoints += 15
		reasons = append(reasons, "momentum_4h_down")
	}

	if state.Delta24h > 5 {
		longPoints += 10
		reasons = append(reasons, "momentum_24h_up")
	} else if state.Delta24h < -5 {
		shortPoints += 10
		reasons = append(reasons, "momentum_24h_down")
	}

	if ind := state.Indicators; ind != nil {
		switch {
		case ind.RSI > 0 && ind.RSI < 30:
			longPoints += 15
			reasons = append(reasons, "rsi_oversold")
		case ind.RSI > 70:
			shortPoints += 15
			reasons = append(reasons, "rsi_overbought")
		case ind.RSI >= 50 && ind.RSI <= 65:
			longPoints += 5
			reasons = append(reasons, "rsi_bullish_zone")
		}

		if ind.MACDHistogram > 0 {
			longPoints += 10
			reasons = append(reasons, "macd_positive")
		} else if ind.MACDHistogram < 0 {
			shortPoints += 10
			reasons = append(reasons, "macd_negative")
		}

		if ind.BBLower > 0 && state.Price <= ind.BBLower {
			longPoints += 10
			reasons = append(reasons, "bb_lower_touch")
		} else if ind.BBUpper > 0 && state.Price >= ind.BBUpper {
			shortPoints += 10
			reasons = append(reasons, "bb_upper_touch")
		}
	}

	if f := state.Funding; f != nil {
		// Heavily negative funding pays longs; heavily positive pays shorts.
		if f.FundingRate < -0.0005 {
			longPoints += 5
			reasons = append(reasons, "funding_favors_long")
		} else if f.FundingRate > 0.0005 {
			shortPoints += 5
			reasons = append(reasons, "funding_favors_short")
		}
	}

	if state.BTCTrend > 1 {
		longPoints += 5
		reasons = append(reasons, "btc_uptrend")
	} else if state.BTCTrend < -1 {
		shortPoints += 5
		reasons = append(reasons, "btc_downtrend")
	}

	// Extreme volatility argues against any entry.
	if state.Volatility > 0.05 {
		longPoints *= 0.5
		shortPoints *= 0.5
		reasons = append(reasons, "volatility_damped")
	}

	direction := 0
	dominant := 0.0
	switch {
	case longPoints > shortPoints+5:
		direction = 1
		dominant = longPoints
	case shortPoints > longPoints+5:
		direction = -1
		dominant = shortPoints
	default:
		dominant = (longPoints + shortPoints) / 2
	}

	score := 50 + dominant
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score, direction, reasons
}
