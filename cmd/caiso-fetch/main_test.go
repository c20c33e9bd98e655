package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
)

func zipPayload(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("report.xml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte(`<?xml version="1.0"?><OASISReport/>`)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// TestRootCmd_BackoffFollowsRateLimit runs the root command against an
// endpoint that fails once. With --rate-limit in the milliseconds the retried
// chunk must finish well inside the 5s built-in backoff base, which only
// holds when the configured rate limit drives the backoff.
func TestRootCmd_BackoffFollowsRateLimit(t *testing.T) {
	payload := zipPayload(t)
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(payload)
	}))
	t.Cleanup(ts.Close)

	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "caiso.toml")
	if err := os.WriteFile(cfgPath, []byte(fmt.Sprintf("base_url = %q\n", ts.URL)), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"--config", cfgPath,
		"--db", filepath.Join(tmp, "caiso.db"),
		"--output-dir", filepath.Join(tmp, "downloads"),
		"--start-date", "2023-09-19",
		"--end-date", "2023-09-20",
		"--max-retries", "1",
		"--rate-limit", "1ms",
		"--no-parse",
	})

	start := time.Now()
	err := cmd.ExecuteContext(context.Background())
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("command failed: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("server hits = %d, want 2 (one retry)", got)
	}
	if elapsed >= 4*time.Second {
		t.Errorf("run took %v, want the retry delay to follow --rate-limit", elapsed)
	}
}
