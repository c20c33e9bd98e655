// Package manifest records download runs and their per-chunk outcomes so
// interrupted or partial runs can be inspected and resumed.
package manifest

import "time"

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

type ChunkStatus string

const (
	ChunkDownloaded ChunkStatus = "downloaded"
	ChunkSkipped    ChunkStatus = "skipped"
	ChunkFailed     ChunkStatus = "failed"
)

// Run is one invocation of the batch downloader over a date range.
type Run struct {
	ID          int64
	Report      string
	MarketRun   string
	Start       time.Time
	End         time.Time
	ChunksTotal int
	Downloaded  int
	Skipped     int
	Failed      int
	Status      RunStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChunkRecord is the outcome of a single chunk within a run.
type ChunkRecord struct {
	ID        int64
	RunID     int64
	Index     int
	Total     int
	Start     time.Time
	End       time.Time
	Status    ChunkStatus
	Attempts  int
	Bytes     int64
	Path      string
	Error     string
	CreatedAt time.Time
}
