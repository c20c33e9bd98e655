package oasis

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	apiTimeLayout  = "20060102T15:04"
	fileTimeLayout = "20060102T1504"
)

// MarketRun identifies the forecast horizon of a demand report.
type MarketRun string

const (
	MarketRunDA  MarketRun = "DA"  // day ahead
	MarketRun2DA MarketRun = "2DA" // 2-day ahead
	MarketRun7DA MarketRun = "7DA" // 7-day ahead
)

// ParseMarketRun validates a user-supplied market run name, ignoring case.
func ParseMarketRun(s string) (MarketRun, error) {
	switch m := MarketRun(strings.ToUpper(s)); m {
	case MarketRunDA, MarketRun2DA, MarketRun7DA:
		return m, nil
	default:
		return "", fmt.Errorf("invalid market run %q: valid options are DA, 2DA, 7DA", s)
	}
}

// QueryID returns the market_run_id value the API expects. The day-ahead run
// is exposed to users as "DA" but identified as "DAM" on the wire.
func (m MarketRun) QueryID() string {
	if m == MarketRunDA {
		return "DAM"
	}
	return string(m)
}

// Query describes one SingleZip report request.
type Query struct {
	ReportName string // queryname, e.g. "SLD_FCST"
	MarketRun  MarketRun
	Start      time.Time
	End        time.Time
	Version    int
}

// Values returns the request parameters in wire form.
func (q Query) Values() url.Values {
	v := url.Values{}
	v.Set("queryname", q.ReportName)
	v.Set("market_run_id", q.MarketRun.QueryID())
	v.Set("startdatetime", FormatAPI(q.Start))
	v.Set("enddatetime", FormatAPI(q.End))
	v.Set("version", strconv.Itoa(q.Version))
	return v
}

// FormatAPI renders a timestamp the way OASIS expects: UTC with an explicit
// "-0000" offset. The offset is appended as a literal because Go would treat
// "-0000" inside the layout string as a numeric zone element.
func FormatAPI(t time.Time) string {
	return t.UTC().Format(apiTimeLayout) + "-0000"
}

// FormatCompact renders a timestamp for use in filenames (no colon, no offset).
func FormatCompact(t time.Time) string {
	return t.UTC().Format(fileTimeLayout)
}

// dateLayouts lists the accepted input forms, tried in order.
var dateLayouts = []string{
	apiTimeLayout + "-0700", // API form, e.g. 20130919T07:00-0000
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseDate parses a user-supplied date in any accepted layout. Inputs
// without an explicit offset are taken as UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: expected a format like 2006-01-02 or 2006-01-02 15:04", s)
}
