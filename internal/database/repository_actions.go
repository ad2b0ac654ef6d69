package database

import (
	"context"
	"fmt"
)

// RecordCopyAction appends one executed copy action to the telemetry table.
func (db *DB) RecordCopyAction(ctx context.Context, a *CopyActionRecord) error {
	query := `
		INSERT INTO copy_actions (
			id, timestamp, symbol, action, side, size, price, notional,
			leverage, scale_factor
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := db.Pool().Exec(ctx, query,
		a.ID, a.Timestamp, a.Symbol, a.Action, a.Side, a.Size, a.Price,
		a.Notional, a.Leverage, a.ScaleFactor,
	)
	if err != nil {
		return fmt.Errorf("failed to record copy action: %w", err)
	}
	return nil
}

// RecentCopyActions returns the latest executed actions, newest first. Used
// by the status API.
func (db *DB) RecentCopyActions(ctx context.Context, limit int) ([]CopyActionRecord, error) {
	query := `
		SELECT id, timestamp, symbol, action, side, size, price, notional,
		       leverage, scale_factor
		FROM copy_actions
		ORDER BY timestamp DESC
		LIMIT $1`

	rows, err := db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent copy actions: %w", err)
	}
	defer rows.Close()

	var out []CopyActionRecord
	for rows.Next() {
		var a CopyActionRecord
		if err := rows.Scan(
			&a.ID, &a.Timestamp, &a.Symbol, &a.Action, &a.Side, &a.Size, &a.Price,
			&a.Notional, &a.Leverage, &a.ScaleFactor,
		); err != nil {
			return nil, fmt.Errorf("failed to scan copy action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
