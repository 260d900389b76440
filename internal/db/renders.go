package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bobarin/cueframe/internal/models"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

const renderColumns = `
			id, script, cleaned_script, destination, language, base_video_url,
			status, output_path, duration_seconds, overlay_count, metadata,
			error_code, error_message, created_at, updated_at
`

func scanRender(row interface{ Scan(...interface{}) error }, r *models.Render) error {
	return row.Scan(
		&r.ID, &r.Script, &r.CleanedScript, &r.Destination, &r.Language, &r.BaseVideoURL,
		&r.Status, &r.OutputPath, &r.DurationSeconds, &r.OverlayCount, &r.Metadata,
		&r.ErrorCode, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt,
	)
}

func (db *DB) CreateRender(ctx context.Context, render *models.Render) error {
	query := `
		INSERT INTO renders (
			id, script, destination, language, base_video_url, status, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		render.ID, render.Script, render.Destination, render.Language,
		render.BaseVideoURL, render.Status, render.Metadata,
	).Scan(&render.CreatedAt, &render.UpdatedAt)
}

func (db *DB) GetRender(ctx context.Context, id uuid.UUID) (*models.Render, error) {
	query := `SELECT ` + renderColumns + ` FROM renders WHERE id = $1`

	render := &models.Render{}
	err := scanRender(db.QueryRowContext(ctx, query, id), render)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("render %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get render: %w", err)
	}

	return render, nil
}

// ListRenders returns renders ordered by creation date (newest first).
// Supports optional status filter, limit, and offset for pagination.
func (db *DB) ListRenders(ctx context.Context, status string, limit, offset int) ([]models.Render, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseSelect := `SELECT ` + renderColumns + ` FROM renders`

	if status != "" {
		query := baseSelect + ` WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		rows, err = db.QueryContext(ctx, query, status, limit, offset)
	} else {
		query := baseSelect + ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		rows, err = db.QueryContext(ctx, query, limit, offset)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list renders: %w", err)
	}
	defer rows.Close()

	renders := []models.Render{}
	for rows.Next() {
		var r models.Render
		if err := scanRender(rows, &r); err != nil {
			return nil, fmt.Errorf("failed to scan render: %w", err)
		}
		renders = append(renders, r)
	}

	return renders, rows.Err()
}

// CountRenders returns the total number of renders, optionally filtered by status.
func (db *DB) CountRenders(ctx context.Context, status string) (int, error) {
	var count int
	if status != "" {
		err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM renders WHERE status = $1`, status).Scan(&count)
		return count, err
	}
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM renders`).Scan(&count)
	return count, err
}

func (db *DB) UpdateRenderStatus(ctx context.Context, id uuid.UUID, status models.RenderStatus) error {
	query := `UPDATE renders SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, status, id)
	return err
}

// SetRenderScript stores the annotated script and the narration text derived from it.
func (db *DB) SetRenderScript(ctx context.Context, id uuid.UUID, script, cleaned string) error {
	query := `
		UPDATE renders
		SET script = $1, cleaned_script = $2, updated_at = NOW()
		WHERE id = $3
	`
	_, err := db.ExecContext(ctx, query, script, cleaned, id)
	return err
}

func (db *DB) UpdateRenderError(ctx context.Context, id uuid.UUID, errorCode, errorMessage string) error {
	query := `
		UPDATE renders
		SET status = $1, error_code = $2, error_message = $3, updated_at = NOW()
		WHERE id = $4
	`
	_, err := db.ExecContext(ctx, query, models.RenderStatusFailed, errorCode, errorMessage, id)
	return err
}

// CompleteRender records the uploaded output and marks the render completed.
func (db *DB) CompleteRender(ctx context.Context, id uuid.UUID, outputPath string, durationSeconds float64, overlayCount int, metadata models.JSONB) error {
	query := `
		UPDATE renders
		SET output_path = $1, duration_seconds = $2, overlay_count = $3, metadata = $4,
			status = $5, error_code = NULL, error_message = NULL, updated_at = NOW()
		WHERE id = $6
	`
	_, err := db.ExecContext(ctx, query, outputPath, durationSeconds, overlayCount, metadata, models.RenderStatusCompleted, id)
	return err
}
