package oasis

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testQuery() Query {
	return Query{
		ReportName: "SLD_FCST",
		MarketRun:  MarketRun2DA,
		Start:      time.Date(2023, 9, 19, 7, 0, 0, 0, time.UTC),
		End:        time.Date(2023, 9, 20, 7, 0, 0, 0, time.UTC),
		Version:    1,
	}
}

// newTestClient returns a Client pointed at a server running the given
// handler, with backoff waits shrunk so retry tests run instantly.
func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	base := []Option{
		WithBaseURL(ts.URL),
		WithClient(ts.Client()),
		WithBaseDelay(time.Millisecond),
		WithMaxJitter(0),
	}
	return New(append(base, opts...)...)
}

func TestDownload(t *testing.T) {
	payload := []byte("PK\x03\x04 archive bytes")

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("queryname"); got != "SLD_FCST" {
			t.Errorf("queryname = %q, want SLD_FCST", got)
		}
		if got := q.Get("market_run_id"); got != "2DA" {
			t.Errorf("market_run_id = %q, want 2DA", got)
		}
		if got := q.Get("startdatetime"); got != "20230919T07:00-0000" {
			t.Errorf("startdatetime = %q, want 20230919T07:00-0000", got)
		}
		if got := q.Get("enddatetime"); got != "20230920T07:00-0000" {
			t.Errorf("enddatetime = %q, want 20230920T07:00-0000", got)
		}
		if got := q.Get("version"); got != "1" {
			t.Errorf("version = %q, want 1", got)
		}
		_, _ = w.Write(payload)
	})

	data, attempts, err := c.Download(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("data = %q, want %q", data, payload)
	}
}

func TestDownload_RecoversFromTransient(t *testing.T) {
	var hits int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}, WithMaxRetries(3))

	data, attempts, err := c.Download(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if string(data) != "ok" {
		t.Errorf("data = %q, want ok", data)
	}
}

func TestDownload_ExhaustsRetries(t *testing.T) {
	var hits int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusTooManyRequests)
	}, WithMaxRetries(2))

	_, attempts, err := c.Download(context.Background(), testQuery())
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if want := 3; attempts != want || hits != want {
		t.Errorf("attempts = %d, hits = %d, want %d each", attempts, hits, want)
	}

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %T, want *FetchError", err)
	}
	if fe.Attempts != 3 {
		t.Errorf("FetchError.Attempts = %d, want 3", fe.Attempts)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests {
		t.Errorf("cause = %v, want HTTP 429 status error", fe.Err)
	}
}

func TestDownload_PermanentStatusNoRetry(t *testing.T) {
	var hits int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.NotFound(w, r)
	}, WithMaxRetries(3))

	_, attempts, err := c.Download(context.Background(), testQuery())
	if err == nil {
		t.Fatal("expected error for HTTP 404")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if hits != 1 {
		t.Errorf("hits = %d, want 1 (no retry on permanent status)", hits)
	}

	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Errorf("error = %v, want HTTP 404 status error", err)
	}
}

func TestDownload_RetriesClientTimeout(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(100 * time.Millisecond)
	}, WithClient(&http.Client{Timeout: 20 * time.Millisecond}), WithMaxRetries(2))

	_, attempts, err := c.Download(context.Background(), testQuery())
	if err == nil {
		t.Fatal("expected error when every request times out")
	}
	if want := 3; attempts != want || int(hits.Load()) != want {
		t.Errorf("attempts = %d, hits = %d, want %d each (timeouts are transient)",
			attempts, hits.Load(), want)
	}

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %T, want *FetchError", err)
	}
	if fe.Attempts != 3 {
		t.Errorf("FetchError.Attempts = %d, want 3", fe.Attempts)
	}
}

func TestDownload_ContextCanceled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, WithMaxRetries(3), WithBaseDelay(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.Download(ctx, testQuery())
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled in chain", err)
	}
}

func TestRetryDelay(t *testing.T) {
	c := New(WithBaseDelay(5*time.Second), WithMaxJitter(0))

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{2, 5 * time.Second},
		{3, 10 * time.Second},
		{4, 20 * time.Second},
		{5, 40 * time.Second},
	}
	for _, tt := range tests {
		if got := c.retryDelay(tt.attempt); got != tt.want {
			t.Errorf("retryDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryDelay_CapsGrowth(t *testing.T) {
	c := New(WithBaseDelay(5*time.Second), WithMaxJitter(0))

	if got := c.retryDelay(9); got != maxRetryDelay {
		t.Errorf("retryDelay(9) = %v, want cap %v", got, maxRetryDelay)
	}
	// Attempt numbers past the doubling range must not wrap negative or
	// collapse to zero.
	for _, attempt := range []int{64, 65, 200} {
		if got := c.retryDelay(attempt); got != maxRetryDelay {
			t.Errorf("retryDelay(%d) = %v, want cap %v", attempt, got, maxRetryDelay)
		}
	}
}

func TestRetryDelay_JitterOnlyAdds(t *testing.T) {
	c := New(WithBaseDelay(time.Second), WithMaxJitter(2*time.Second))

	for i := 0; i < 100; i++ {
		d := c.retryDelay(3)
		if d < 2*time.Second {
			t.Fatalf("delay %v below exponential floor %v", d, 2*time.Second)
		}
		if d >= 4*time.Second {
			t.Fatalf("delay %v exceeds floor plus max jitter", d)
		}
	}
}

func TestStatusErrorTransient(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
		{http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		se := &StatusError{Code: tt.code}
		if got := se.Transient(); got != tt.want {
			t.Errorf("StatusError{%d}.Transient() = %v, want %v", tt.code, got, tt.want)
		}
	}
}
