package database

import (
	"context"
	"fmt"
	"time"
)

// CreateIndependentPosition persists a new independent position.
func (db *DB) CreateIndependentPosition(ctx context.Context, p *IndependentPosition) error {
	query := `
		INSERT INTO independent_positions (
			id, symbol, side, entry_price, size, notional_usd, leverage,
			tp_price, sl_price, timeout_at, status, confirmed_by_target,
			prediction_score, prediction_reasons, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := db.Pool().Exec(ctx, query,
		p.ID, p.Symbol, p.Side, p.EntryPrice, p.Size, p.NotionalUSD, p.Leverage,
		p.TPPrice, p.SLPrice, p.TimeoutAt, p.Status, p.ConfirmedByTarget,
		p.PredictionScore, p.PredictionReasons, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create independent position: %w", err)
	}
	return nil
}

// ConfirmIndependentPosition transitions open → confirmed, recording that the
// target opened a same-direction position. Sizing ownership moves to the copy
// planner.
func (db *DB) ConfirmIndependentPosition(ctx context.Context, id string) error {
	query := `
		UPDATE independent_positions SET
			status = $2,
			confirmed_by_target = TRUE
		WHERE id = $1 AND status = $3`

	_, err := db.Pool().Exec(ctx, query, id, IndependentStatusConfirmed, IndependentStatusOpen)
	if err != nil {
		return fmt.Errorf("failed to confirm independent position: %w", err)
	}
	return nil
}

// CloseIndependentPosition records the terminal close: status, exit price,
// exit reason, realized P&L and close time in one update.
func (db *DB) CloseIndependentPosition(ctx context.Context, id string, exitPrice float64, exitReason string, realizedPnl, realizedPnlPct float64, closedAt time.Time) error {
	query := `
		UPDATE independent_positions SET
			status = $2,
			exit_price = $3,
			exit_reason = $4,
			realized_pnl = $5,
			realized_pnl_pct = $6,
			closed_at = $7
		WHERE id = $1`

	_, err := db.Pool().Exec(ctx, query, id, IndependentStatusClosed,
		exitPrice, exitReason, realizedPnl, realizedPnlPct, closedAt)
	if err != nil {
		return fmt.Errorf("failed to close independent position: %w", err)
	}
	return nil
}

// ActiveIndependentPositions returns all positions in {open, confirmed}.
func (db *DB) ActiveIndependentPositions(ctx context.Context) ([]IndependentPosition, error) {
	query := `
		SELECT id, symbol, side, entry_price, size, notional_usd, leverage,
		       tp_price, sl_price, timeout_at, status, confirmed_by_target,
		       prediction_score, prediction_reasons, created_at
		FROM independent_positions
		WHERE status IN ($1, $2)
		ORDER BY created_at ASC`

	rows, err := db.Pool().Query(ctx, query, IndependentStatusOpen, IndependentStatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to query active independent positions: %w", err)
	}
	defer rows.Close()

	var out []IndependentPosition
	for rows.Next() {
		var p IndependentPosition
		if err := rows.Scan(
			&p.ID, &p.Symbol, &p.Side, &p.EntryPrice, &p.Size, &p.NotionalUSD, &p.Leverage,
			&p.TPPrice, &p.SLPrice, &p.TimeoutAt, &p.Status, &p.ConfirmedByTarget,
			&p.PredictionScore, &p.PredictionReasons, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan independent position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
