package manifest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gridops/caiso-fetch/internal/apperror"
	domain "github.com/gridops/caiso-fetch/internal/manifest"
)

const timeFormat = time.RFC3339

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateRun(ctx context.Context, run *domain.Run) error {
	const query = `INSERT INTO runs (report, market_run, start_date, end_date, chunks_total, status)
		VALUES (?, ?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query,
		run.Report, run.MarketRun,
		run.Start.UTC().Format(timeFormat), run.End.UTC().Format(timeFormat),
		run.ChunksTotal, string(run.Status),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	run.ID, _ = res.LastInsertId()
	run.CreatedAt = time.Now().UTC()
	run.UpdatedAt = run.CreatedAt
	return nil
}

func (r *Repository) FinishRun(ctx context.Context, run *domain.Run) error {
	const query = `UPDATE runs SET downloaded = ?, skipped = ?, failed = ?, status = ?,
		updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE id = ?`

	_, err := r.db.ExecContext(ctx, query,
		run.Downloaded, run.Skipped, run.Failed, string(run.Status), run.ID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	run.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *Repository) GetRun(ctx context.Context, id int64) (*domain.Run, error) {
	const query = `SELECT id, report, market_run, start_date, end_date,
		chunks_total, downloaded, skipped, failed, status, created_at, updated_at
		FROM runs WHERE id = ?`

	run := &domain.Run{}
	var startStr, endStr, status, createdStr, updatedStr string

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.Report, &run.MarketRun,
		&startStr, &endStr,
		&run.ChunksTotal, &run.Downloaded, &run.Skipped, &run.Failed,
		&status, &createdStr, &updatedStr,
	)
	if err == sql.ErrNoRows {
		return nil, apperror.New(apperror.NotFound, fmt.Sprintf("run %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	run.Status = domain.RunStatus(status)
	run.Start, _ = time.Parse(timeFormat, startStr)
	run.End, _ = time.Parse(timeFormat, endStr)
	run.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	run.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)
	return run, nil
}

func (r *Repository) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	const query = `SELECT id, report, market_run, start_date, end_date,
		chunks_total, downloaded, skipped, failed, status, created_at, updated_at
		FROM runs ORDER BY id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []domain.Run
	for rows.Next() {
		var run domain.Run
		var startStr, endStr, status, createdStr, updatedStr string

		if err := rows.Scan(
			&run.ID, &run.Report, &run.MarketRun,
			&startStr, &endStr,
			&run.ChunksTotal, &run.Downloaded, &run.Skipped, &run.Failed,
			&status, &createdStr, &updatedStr,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}

		run.Status = domain.RunStatus(status)
		run.Start, _ = time.Parse(timeFormat, startStr)
		run.End, _ = time.Parse(timeFormat, endStr)
		run.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
		run.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func (r *Repository) RecordChunk(ctx context.Context, c *domain.ChunkRecord) error {
	const query = `INSERT INTO chunk_downloads
		(run_id, chunk_index, chunk_total, start_date, end_date, status, attempts, bytes, path, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query,
		c.RunID, c.Index, c.Total,
		c.Start.UTC().Format(timeFormat), c.End.UTC().Format(timeFormat),
		string(c.Status), c.Attempts, c.Bytes, c.Path, c.Error,
	)
	if err != nil {
		return fmt.Errorf("record chunk: %w", err)
	}

	c.ID, _ = res.LastInsertId()
	c.CreatedAt = time.Now().UTC()
	return nil
}

func (r *Repository) RunChunks(ctx context.Context, runID int64) ([]domain.ChunkRecord, error) {
	const query = `SELECT id, run_id, chunk_index, chunk_total, start_date, end_date,
		status, attempts, bytes, path, error, created_at
		FROM chunk_downloads WHERE run_id = ? ORDER BY chunk_index ASC`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("run chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []domain.ChunkRecord
	for rows.Next() {
		var c domain.ChunkRecord
		var startStr, endStr, status, createdStr string
		var path, chunkErr sql.NullString

		if err := rows.Scan(
			&c.ID, &c.RunID, &c.Index, &c.Total,
			&startStr, &endStr, &status, &c.Attempts, &c.Bytes,
			&path, &chunkErr, &createdStr,
		); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}

		c.Status = domain.ChunkStatus(status)
		if path.Valid {
			c.Path = path.String
		}
		if chunkErr.Valid {
			c.Error = chunkErr.String
		}
		c.Start, _ = time.Parse(timeFormat, startStr)
		c.End, _ = time.Parse(timeFormat, endStr)
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
		chunks = append(chunks, c)
	}

	return chunks, rows.Err()
}

func (r *Repository) LatestDownloaded(ctx context.Context, report, marketRun string, start, end time.Time) (*domain.ChunkRecord, error) {
	const query = `SELECT c.id, c.run_id, c.chunk_index, c.chunk_total, c.start_date, c.end_date,
		c.status, c.attempts, c.bytes, c.path, c.error, c.created_at
		FROM chunk_downloads c
		JOIN runs r ON r.id = c.run_id
		WHERE r.report = ? AND r.market_run = ?
		  AND c.start_date = ? AND c.end_date = ?
		  AND c.status = 'downloaded'
		ORDER BY c.id DESC
		LIMIT 1`

	c := &domain.ChunkRecord{}
	var startStr, endStr, status, createdStr string
	var path, chunkErr sql.NullString

	err := r.db.QueryRowContext(ctx, query,
		report, marketRun,
		start.UTC().Format(timeFormat), end.UTC().Format(timeFormat),
	).Scan(
		&c.ID, &c.RunID, &c.Index, &c.Total,
		&startStr, &endStr, &status, &c.Attempts, &c.Bytes,
		&path, &chunkErr, &createdStr,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest downloaded chunk: %w", err)
	}

	c.Status = domain.ChunkStatus(status)
	if path.Valid {
		c.Path = path.String
	}
	if chunkErr.Valid {
		c.Error = chunkErr.String
	}
	c.Start, _ = time.Parse(timeFormat, startStr)
	c.End, _ = time.Parse(timeFormat, endStr)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	return c, nil
}
