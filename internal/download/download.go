// Package download orchestrates chunked report downloads: it splits the
// requested range, fetches each chunk sequentially with pacing between
// requests, validates the downloaded archives, and records every outcome in
// the manifest. A failed chunk never prevents attempting the remaining ones.
package download

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/gridops/caiso-fetch/internal/chunk"
	"github.com/gridops/caiso-fetch/internal/manifest"
	"github.com/gridops/caiso-fetch/internal/oasis"
)

const (
	defaultOutputDir  = "downloads"
	defaultBaseName   = "system_demand"
	defaultRateLimit  = 5 * time.Second
	defaultPaceJitter = 2 * time.Second
)

// Downloader fetches report archives chunk by chunk.
type Downloader struct {
	client     *oasis.Client
	repo       manifest.Repository
	outDir     string
	baseName   string
	rateLimit  time.Duration
	paceJitter time.Duration
	force      bool
}

// New creates a Downloader with the given options applied.
func New(client *oasis.Client, repo manifest.Repository, opts ...Option) *Downloader {
	d := &Downloader{
		client:     client,
		repo:       repo,
		outDir:     defaultOutputDir,
		baseName:   defaultBaseName,
		rateLimit:  defaultRateLimit,
		paceJitter: defaultPaceJitter,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithOutputDir sets where downloaded archives are written.
func WithOutputDir(dir string) Option {
	return func(d *Downloader) { d.outDir = dir }
}

// WithBaseName sets the base of generated archive filenames.
func WithBaseName(name string) Option {
	return func(d *Downloader) { d.baseName = name }
}

// WithRateLimit sets the pause between consecutive requests.
func WithRateLimit(delay time.Duration) Option {
	return func(d *Downloader) { d.rateLimit = delay }
}

// WithPaceJitter bounds the random addition to each inter-request pause.
func WithPaceJitter(jitter time.Duration) Option {
	return func(d *Downloader) { d.paceJitter = jitter }
}

// WithForce disables resume: chunks are re-downloaded even when a previous
// run already fetched them.
func WithForce(force bool) Option {
	return func(d *Downloader) { d.force = force }
}

// Request describes one batch download.
type Request struct {
	Report       string
	MarketRun    oasis.MarketRun
	Range        chunk.DateRange
	MaxChunkDays int
	Version      int
}

// Result is the outcome of a single chunk.
type Result struct {
	Chunk    chunk.Chunk
	Path     string
	Bytes    int64
	Attempts int
	Skipped  bool
	Err      error
}

// Summary aggregates the outcomes of a whole run.
type Summary struct {
	RunID      int64
	Total      int
	Downloaded int
	Skipped    int
	Failed     int
	Results    []Result
}

// Succeeded counts chunks whose archive is on disk, whether fetched by this
// run or an earlier one.
func (s *Summary) Succeeded() int { return s.Downloaded + s.Skipped }

// Status classifies the run for the manifest.
func (s *Summary) Status() manifest.RunStatus {
	switch {
	case s.Failed == 0 && len(s.Results) == s.Total:
		return manifest.RunCompleted
	case s.Succeeded() > 0:
		return manifest.RunPartial
	default:
		return manifest.RunFailed
	}
}

// Run downloads the requested range chunk by chunk. Chunk failures are
// collected in the summary rather than returned; the error return is reserved
// for conditions that abort the whole batch (an invalid range, an unusable
// manifest, or context cancellation).
func (d *Downloader) Run(ctx context.Context, req Request) (*Summary, error) {
	chunks, err := chunk.Split(req.Range, req.MaxChunkDays)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(d.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	run := &manifest.Run{
		Report:      req.Report,
		MarketRun:   string(req.MarketRun),
		Start:       req.Range.Start,
		End:         req.Range.End,
		ChunksTotal: len(chunks),
		Status:      manifest.RunRunning,
	}
	if err := d.repo.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	slog.Info("starting download run", "run", run.ID, "marketRun", req.MarketRun,
		"start", oasis.FormatAPI(req.Range.Start), "end", oasis.FormatAPI(req.Range.End),
		"chunks", len(chunks))

	summary := &Summary{RunID: run.ID, Total: len(chunks)}
	var stopErr error
	requested := false

	for _, c := range chunks {
		if res, ok := d.resume(ctx, req, c); ok {
			summary.Skipped++
			summary.Results = append(summary.Results, res)
			d.recordChunk(ctx, run.ID, res)
			continue
		}

		// Pace only between actual requests so resumed runs restart fast.
		if requested {
			if err := d.pace(ctx); err != nil {
				stopErr = err
				break
			}
		}
		requested = true

		res := d.downloadChunk(ctx, req, c)
		if res.Err != nil {
			summary.Failed++
			slog.Error("chunk download failed", "run", run.ID,
				"chunk", fmt.Sprintf("%d/%d", c.Index, c.Total), "error", res.Err)
		} else {
			summary.Downloaded++
		}
		summary.Results = append(summary.Results, res)
		d.recordChunk(ctx, run.ID, res)

		if ctx.Err() != nil {
			stopErr = ctx.Err()
			break
		}
	}

	run.Downloaded = summary.Downloaded
	run.Skipped = summary.Skipped
	run.Failed = summary.Failed
	run.Status = summary.Status()
	if err := d.repo.FinishRun(ctx, run); err != nil {
		slog.Warn("failed to finalize run in manifest", "run", run.ID, "error", err)
	}

	slog.Info("download run finished", "run", run.ID, "status", run.Status,
		"downloaded", run.Downloaded, "skipped", run.Skipped, "failed", run.Failed)

	return summary, stopErr
}

// resume reports whether the chunk can be skipped because an earlier run
// already downloaded the identical range and its archive is still on disk.
func (d *Downloader) resume(ctx context.Context, req Request, c chunk.Chunk) (Result, bool) {
	if d.force {
		return Result{}, false
	}

	prev, err := d.repo.LatestDownloaded(ctx, req.Report, string(req.MarketRun), c.Start, c.End)
	if err != nil {
		slog.Warn("manifest lookup failed", "chunk", c.Index, "error", err)
		return Result{}, false
	}
	if prev == nil || prev.Path == "" {
		return Result{}, false
	}

	fi, err := os.Stat(prev.Path)
	if err != nil {
		return Result{}, false
	}

	slog.Info("skipping chunk, archive already downloaded",
		"chunk", fmt.Sprintf("%d/%d", c.Index, c.Total), "path", prev.Path)
	return Result{Chunk: c, Path: prev.Path, Bytes: fi.Size(), Skipped: true}, true
}

// downloadChunk fetches a single chunk, writes its archive, and verifies the
// payload is a readable ZIP. An unreadable archive marks the chunk failed but
// the file is kept for inspection.
func (d *Downloader) downloadChunk(ctx context.Context, req Request, c chunk.Chunk) Result {
	slog.Info("downloading chunk", "chunk", fmt.Sprintf("%d/%d", c.Index, c.Total),
		"marketRun", req.MarketRun,
		"start", oasis.FormatAPI(c.Start), "end", oasis.FormatAPI(c.End))

	q := oasis.Query{
		ReportName: req.Report,
		MarketRun:  req.MarketRun,
		Start:      c.Start,
		End:        c.End,
		Version:    req.Version,
	}

	data, attempts, err := d.client.Download(ctx, q)
	if err != nil {
		return Result{Chunk: c, Attempts: attempts, Err: err}
	}

	path := filepath.Join(d.outDir, d.chunkFilename(c, req.MarketRun))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Result{Chunk: c, Attempts: attempts, Err: fmt.Errorf("write archive: %w", err)}
	}

	entries, xmlNames, err := inspectArchive(data)
	if err != nil {
		return Result{
			Chunk: c, Path: path, Bytes: int64(len(data)), Attempts: attempts,
			Err: fmt.Errorf("downloaded file is not a valid archive: %w", err),
		}
	}

	slog.Info("chunk downloaded", "chunk", fmt.Sprintf("%d/%d", c.Index, c.Total),
		"path", path, "bytes", len(data), "entries", entries, "xmlFiles", xmlNames,
		"attempts", attempts)

	return Result{Chunk: c, Path: path, Bytes: int64(len(data)), Attempts: attempts}
}

// chunkFilename builds the deterministic archive name for a chunk, e.g.
// chunk_01_of_04_system_demand_2DA_20230901T0700_20231001T0700.zip.
func (d *Downloader) chunkFilename(c chunk.Chunk, marketRun oasis.MarketRun) string {
	return fmt.Sprintf("chunk_%02d_of_%02d_%s_%s_%s_%s.zip",
		c.Index, c.Total, d.baseName, marketRun,
		oasis.FormatCompact(c.Start), oasis.FormatCompact(c.End))
}

// pace waits the configured delay plus jitter between requests.
func (d *Downloader) pace(ctx context.Context) error {
	delay := d.rateLimit
	if d.paceJitter > 0 {
		delay += time.Duration(rand.Float64() * float64(d.paceJitter))
	}
	if delay <= 0 {
		return ctx.Err()
	}

	slog.Debug("waiting before next chunk", "delay", delay.Round(100*time.Millisecond))
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// recordChunk stores a chunk outcome in the manifest. Bookkeeping failures
// are logged, never allowed to fail the download itself.
func (d *Downloader) recordChunk(ctx context.Context, runID int64, res Result) {
	status := manifest.ChunkDownloaded
	switch {
	case res.Skipped:
		status = manifest.ChunkSkipped
	case res.Err != nil:
		status = manifest.ChunkFailed
	}

	rec := &manifest.ChunkRecord{
		RunID:    runID,
		Index:    res.Chunk.Index,
		Total:    res.Chunk.Total,
		Start:    res.Chunk.Start,
		End:      res.Chunk.End,
		Status:   status,
		Attempts: res.Attempts,
		Bytes:    res.Bytes,
		Path:     res.Path,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}

	if err := d.repo.RecordChunk(ctx, rec); err != nil {
		slog.Warn("failed to record chunk in manifest", "chunk", res.Chunk.Index, "error", err)
	}
}

// inspectArchive confirms data is a readable ZIP and returns its entry count
// and the names of XML members.
func inspectArchive(data []byte) (int, []string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, nil, err
	}

	var xmlNames []string
	for _, f := range zr.File {
		if strings.HasSuffix(strings.ToLower(f.Name), ".xml") {
			xmlNames = append(xmlNames, f.Name)
		}
	}
	return len(zr.File), xmlNames, nil
}
