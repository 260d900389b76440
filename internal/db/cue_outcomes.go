package db

import (
	"context"
	"fmt"

	"github.com/bobarin/cueframe/internal/models"
	"github.com/google/uuid"
)

// ReplaceCueOutcomes stores the outcomes of a render's latest run, dropping any
// left from an earlier attempt.
func (db *DB) ReplaceCueOutcomes(ctx context.Context, renderID uuid.UUID, outcomes []models.CueOutcome) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cue_outcomes WHERE render_id = $1`, renderID); err != nil {
		return fmt.Errorf("failed to clear cue outcomes: %w", err)
	}

	query := `
		INSERT INTO cue_outcomes (
			render_id, idx, position, cue_text, timestamp_seconds,
			status, reason, clip_url, effective_duration_seconds
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, o := range outcomes {
		if _, err := tx.ExecContext(
			ctx, query,
			renderID, o.Index, o.Position, o.CueText, o.TimestampSeconds,
			o.Status, o.Reason, o.ClipURL, o.EffectiveDurationSeconds,
		); err != nil {
			return fmt.Errorf("failed to insert cue outcome %d: %w", o.Index, err)
		}
	}

	return tx.Commit()
}

func (db *DB) GetCueOutcomes(ctx context.Context, renderID uuid.UUID) ([]models.CueOutcome, error) {
	query := `
		SELECT
			idx, position, cue_text, timestamp_seconds,
			status, reason, clip_url, effective_duration_seconds
		FROM cue_outcomes
		WHERE render_id = $1
		ORDER BY idx
	`

	rows, err := db.QueryContext(ctx, query, renderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cue outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []models.CueOutcome{}
	for rows.Next() {
		var o models.CueOutcome
		if err := rows.Scan(
			&o.Index, &o.Position, &o.CueText, &o.TimestampSeconds,
			&o.Status, &o.Reason, &o.ClipURL, &o.EffectiveDurationSeconds,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cue outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}

	return outcomes, rows.Err()
}
