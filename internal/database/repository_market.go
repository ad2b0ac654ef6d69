package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned by point reads when no row matches.
var ErrNotFound = errors.New("not found")

// LatestCandle returns the most recent candle for a symbol and timeframe.
func (db *DB) LatestCandle(ctx context.Context, symbol, timeframe string) (*Candle, error) {
	query := `
		SELECT symbol, timeframe, open_time, open, high, low, close, volume
		FROM candles
		WHERE symbol = $1 AND timeframe = $2
		ORDER BY open_time DESC
		LIMIT 1`

	var c Candle
	err := db.Pool().QueryRow(ctx, query, symbol, timeframe).Scan(
		&c.Symbol, &c.Timeframe, &c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest candle: %w", err)
	}
	return &c, nil
}

// RecentCandles returns the most recent candles, newest first.
func (db *DB) RecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	query := `
		SELECT symbol, timeframe, open_time, open, high, low, close, volume
		FROM candles
		WHERE symbol = $1 AND timeframe = $2
		ORDER BY open_time DESC
		LIMIT $3`

	rows, err := db.Pool().Query(ctx, query, symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent candles: %w", err)
	}
	defer rows.Close()

	var out []Candle
	for rows.Next() {
		var c Candle
		if err := rows.Scan(&c.Symbol, &c.Timeframe, &c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LatestIndicators returns the most recent indicator bundle for a symbol.
func (db *DB) LatestIndicators(ctx context.Context, symbol, timeframe string) (*IndicatorBundle, error) {
	query := `
		SELECT symbol, timeframe, timestamp, rsi, macd, macd_signal, macd_histogram,
		       bb_upper, bb_middle, bb_lower, atr
		FROM technical_indicators
		WHERE symbol = $1 AND timeframe = $2
		ORDER BY timestamp DESC
		LIMIT 1`

	var b IndicatorBundle
	err := db.Pool().QueryRow(ctx, query, symbol, timeframe).Scan(
		&b.Symbol, &b.Timeframe, &b.Timestamp, &b.RSI, &b.MACD, &b.MACDSignal, &b.MACDHistogram,
		&b.BBUpper, &b.BBMiddle, &b.BBLower, &b.ATR,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest indicators: %w", err)
	}
	return &b, nil
}

// LatestFundingRate returns the most recent funding-rate epoch for a symbol.
func (db *DB) LatestFundingRate(ctx context.Context, symbol string) (*FundingRate, error) {
	query := `
		SELECT symbol, funding_rate, funding_time
		FROM funding_rates
		WHERE symbol = $1
		ORDER BY funding_time DESC
		LIMIT 1`

	var f FundingRate
	err := db.Pool().QueryRow(ctx, query, symbol).Scan(&f.Symbol, &f.FundingRate, &f.FundingTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest funding rate: %w", err)
	}
	return &f, nil
}

// LatestHourlyClose returns the latest 1h close for a symbol, used as the
// observed exit price when validating predictions.
func (db *DB) LatestHourlyClose(ctx context.Context, symbol string) (float64, error) {
	candle, err := db.LatestCandle(ctx, symbol, "1h")
	if err != nil {
		return 0, err
	}
	return candle.Close, nil
}
