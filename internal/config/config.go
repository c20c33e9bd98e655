package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gridops/caiso-fetch/internal/oasis"
)

// Config holds all settings for the downloader CLI.
type Config struct {
	BaseURL   string
	QueryName string
	MarketRun string
	Version   int

	OutputDir string
	DataDir   string
	BaseName  string
	DBPath    string

	DefaultStart string
	DefaultEnd   string

	MaxChunkDays int
	MaxRetries   int
	RateLimit    time.Duration
	HTTPTimeout  time.Duration

	ExtractParse bool
	CompressCSV  bool
	Workers      int
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BaseURL:      oasis.DefaultBaseURL,
		QueryName:    "SLD_FCST",
		MarketRun:    "2DA",
		Version:      1,
		OutputDir:    "downloads",
		DataDir:      "data",
		BaseName:     "system_demand",
		DBPath:       "caiso.db",
		DefaultStart: "20130919T07:00-0000",
		DefaultEnd:   "20130920T07:00-0000",
		MaxChunkDays: 30,
		MaxRetries:   3,
		RateLimit:    5 * time.Second,
		HTTPTimeout:  60 * time.Second,
		ExtractParse: true,
		Workers:      4,
	}
}

// Validate checks the configuration and normalizes derived values.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	if c.QueryName == "" {
		return fmt.Errorf("query_name is required")
	}
	if _, err := oasis.ParseMarketRun(c.MarketRun); err != nil {
		return err
	}
	if c.Version <= 0 {
		return fmt.Errorf("version must be positive")
	}
	if c.MaxChunkDays <= 0 {
		return fmt.Errorf("max_days_per_chunk must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit_delay cannot be negative")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http_timeout must be positive")
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	return nil
}

// setter applies configuration values while respecting flag precedence: a
// value is skipped when the corresponding flag was set on the command line.
type setter struct {
	changed map[string]bool
}

func newSetter(changed map[string]bool) *setter {
	return &setter{changed: changed}
}

func (s *setter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt applies positive values only; zero means the key was absent.
func (s *setter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setIntPtr is for fields where zero is meaningful, so absence must be a nil
// pointer rather than a zero value.
func (s *setter) setIntPtr(flag string, value *int, dst *int) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func (s *setter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func (s *setter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setIntFromString parses environment values; range checks are left to
// Validate so a bad explicit value fails loudly instead of being ignored.
func (s *setter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = i
	return nil
}

func (s *setter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
