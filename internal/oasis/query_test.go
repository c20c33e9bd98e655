package oasis

import (
	"strings"
	"testing"
	"time"
)

func TestParseMarketRun(t *testing.T) {
	tests := []struct {
		in      string
		want    MarketRun
		wantErr bool
	}{
		{"DA", MarketRunDA, false},
		{"2DA", MarketRun2DA, false},
		{"7DA", MarketRun7DA, false},
		{"da", MarketRunDA, false},
		{"7da", MarketRun7DA, false},
		{"RTM", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMarketRun(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseMarketRun(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMarketRun(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMarketRun(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMarketRunQueryID(t *testing.T) {
	// The day-ahead run is the only one renamed on the wire.
	if got := MarketRunDA.QueryID(); got != "DAM" {
		t.Errorf("DA query id = %q, want DAM", got)
	}
	if got := MarketRun2DA.QueryID(); got != "2DA" {
		t.Errorf("2DA query id = %q, want 2DA", got)
	}
	if got := MarketRun7DA.QueryID(); got != "7DA" {
		t.Errorf("7DA query id = %q, want 7DA", got)
	}
}

func TestQueryValues(t *testing.T) {
	q := Query{
		ReportName: "SLD_FCST",
		MarketRun:  MarketRunDA,
		Start:      time.Date(2023, 9, 19, 7, 0, 0, 0, time.UTC),
		End:        time.Date(2023, 9, 20, 7, 0, 0, 0, time.UTC),
		Version:    1,
	}

	v := q.Values()
	want := map[string]string{
		"queryname":     "SLD_FCST",
		"market_run_id": "DAM",
		"startdatetime": "20230919T07:00-0000",
		"enddatetime":   "20230920T07:00-0000",
		"version":       "1",
	}
	for key, val := range want {
		if got := v.Get(key); got != val {
			t.Errorf("%s = %q, want %q", key, got, val)
		}
	}
}

func TestFormatAPI(t *testing.T) {
	// Non-UTC inputs must be converted, and the offset suffix is always -0000.
	loc := time.FixedZone("PST", -8*3600)
	in := time.Date(2023, 9, 19, 23, 30, 0, 0, loc)
	if got, want := FormatAPI(in), "20230920T07:30-0000"; got != want {
		t.Errorf("FormatAPI = %q, want %q", got, want)
	}
}

func TestFormatCompact(t *testing.T) {
	in := time.Date(2023, 9, 19, 7, 0, 0, 0, time.UTC)
	if got, want := FormatCompact(in), "20230919T0700"; got != want {
		t.Errorf("FormatCompact = %q, want %q", got, want)
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2023-09-19", time.Date(2023, 9, 19, 0, 0, 0, 0, time.UTC)},
		{"2023-09-19 07:30", time.Date(2023, 9, 19, 7, 30, 0, 0, time.UTC)},
		{"2023-09-19T07:30", time.Date(2023, 9, 19, 7, 30, 0, 0, time.UTC)},
		{"2023-09-19T07:30:00Z", time.Date(2023, 9, 19, 7, 30, 0, 0, time.UTC)},
		{"20230919T07:00-0000", time.Date(2023, 9, 19, 7, 0, 0, 0, time.UTC)},
		{"  2023-09-19  ", time.Date(2023, 9, 19, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		got, err := ParseDate(tt.in)
		if err != nil {
			t.Errorf("ParseDate(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseDate_Invalid(t *testing.T) {
	for _, in := range []string{"", "not-a-date", "19/09/2023"} {
		if _, err := ParseDate(in); err == nil {
			t.Errorf("ParseDate(%q): expected error", in)
		} else if !strings.Contains(err.Error(), "invalid date") {
			t.Errorf("ParseDate(%q): error = %v, want mention of invalid date", in, err)
		}
	}
}
