package manifest

import (
	"context"
	"time"
)

type Repository interface {
	CreateRun(ctx context.Context, r *Run) error
	FinishRun(ctx context.Context, r *Run) error
	GetRun(ctx context.Context, id int64) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	RecordChunk(ctx context.Context, c *ChunkRecord) error
	RunChunks(ctx context.Context, runID int64) ([]ChunkRecord, error)
	// LatestDownloaded returns the most recent successfully downloaded chunk
	// covering exactly the given range, or nil if there is none.
	LatestDownloaded(ctx context.Context, report, marketRun string, start, end time.Time) (*ChunkRecord, error)
}
