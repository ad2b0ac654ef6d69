package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// InsertPrediction persists a freshly scored prediction.
func (db *DB) InsertPrediction(ctx context.Context, p *Prediction) error {
	var features []byte
	if p.Features != nil {
		var err error
		features, err = json.Marshal(p.Features)
		if err != nil {
			return fmt.Errorf("failed to encode prediction features: %w", err)
		}
	}

	query := `
		INSERT INTO predictions (
			id, timestamp, symbol, score, confidence, direction, reasons,
			entry_price, features, model_version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := db.Pool().Exec(ctx, query,
		p.ID, p.Timestamp, p.Symbol, p.Score, p.Confidence, p.Direction,
		p.Reasons, p.EntryPrice, features, p.ModelVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}
	return nil
}

// UpdatePredictionCopyAction attaches the executed (or 'none') copy action to
// a prediction record. Called exactly once per record per scan.
func (db *DB) UpdatePredictionCopyAction(ctx context.Context, id, action, side string, size float64, label int) error {
	query := `
		UPDATE predictions SET
			copy_action = $2,
			copy_side = $3,
			copy_size = $4,
			actual_label = $5
		WHERE id = $1`

	_, err := db.Pool().Exec(ctx, query, id, action, side, size, label)
	if err != nil {
		return fmt.Errorf("failed to update prediction copy action: %w", err)
	}
	return nil
}

// UnvalidatedPredictions returns up to limit predictions older than before
// whose validation fields are still unset, oldest first.
func (db *DB) UnvalidatedPredictions(ctx context.Context, before time.Time, limit int) ([]Prediction, error) {
	query := `
		SELECT id, timestamp, symbol, score, confidence, direction, reasons,
		       entry_price, model_version, copy_action, actual_label
		FROM predictions
		WHERE validated_at IS NULL AND timestamp < $1
		ORDER BY timestamp ASC
		LIMIT $2`

	rows, err := db.Pool().Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unvalidated predictions: %w", err)
	}
	defer rows.Close()

	var out []Prediction
	for rows.Next() {
		var p Prediction
		if err := rows.Scan(
			&p.ID, &p.Timestamp, &p.Symbol, &p.Score, &p.Confidence, &p.Direction,
			&p.Reasons, &p.EntryPrice, &p.ModelVersion, &p.CopyAction, &p.ActualLabel,
		); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkPredictionValidated records the observed outcome for a prediction.
func (db *DB) MarkPredictionValidated(ctx context.Context, id string, exitPrice, paperPnl, paperPnlPct float64, correct bool, validatedAt time.Time) error {
	query := `
		UPDATE predictions SET
			exit_price = $2,
			paper_pnl = $3,
			paper_pnl_pct = $4,
			correct = $5,
			validated_at = $6
		WHERE id = $1`

	_, err := db.Pool().Exec(ctx, query, id, exitPrice, paperPnl, paperPnlPct, correct, validatedAt)
	if err != nil {
		return fmt.Errorf("failed to mark prediction validated: %w", err)
	}
	return nil
}

// RecentPredictions returns the most recent predictions for one model
// version, newest first. Used by the status API.
func (db *DB) RecentPredictions(ctx context.Context, modelVersion string, limit int) ([]Prediction, error) {
	query := `
		SELECT id, timestamp, symbol, score, confidence, direction, reasons,
		       entry_price, model_version, copy_action, actual_label,
		       exit_price, paper_pnl, paper_pnl_pct, correct, validated_at
		FROM predictions
		WHERE model_version = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	rows, err := db.Pool().Query(ctx, query, modelVersion, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent predictions: %w", err)
	}
	defer rows.Close()

	var out []Prediction
	for rows.Next() {
		var p Prediction
		if err := rows.Scan(
			&p.ID, &p.Timestamp, &p.Symbol, &p.Score, &p.Confidence, &p.Direction,
			&p.Reasons, &p.EntryPrice, &p.ModelVersion, &p.CopyAction, &p.ActualLabel,
			&p.ExitPrice, &p.PaperPnl, &p.PaperPnlPct, &p.Correct, &p.ValidatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
