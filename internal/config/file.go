package config

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to keep the TOML
// friendly. Key names follow the query parameters and directories they
// configure.
type FileConfig struct {
	BaseURL      string `toml:"base_url"`
	QueryName    string `toml:"query_name"`
	MarketRun    string `toml:"market_run_id"`
	Version      int    `toml:"version"`
	OutputDir    string `toml:"output_directory"`
	DataDir      string `toml:"data_directory"`
	BaseName     string `toml:"base_name"`
	DBPath       string `toml:"db_path"`
	DefaultStart string `toml:"default_start_date"`
	DefaultEnd   string `toml:"default_end_date"`
	MaxChunkDays int    `toml:"max_days_per_chunk"`
	MaxRetries   *int   `toml:"max_retries"`
	RateLimit    string `toml:"rate_limit_delay"`
	HTTPTimeout  string `toml:"http_timeout"`
	ExtractParse *bool  `toml:"extract_and_parse"`
	CompressCSV  *bool  `toml:"compress_csv"`
	Workers      int    `toml:"workers"`
}

// LoadFile reads and parses a TOML config file from the given path.
func LoadFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultPath returns the user-level configuration file path, or "" if the
// home directory cannot be determined.
func DefaultPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".caiso-fetch", "config.toml")
	}
	return ""
}

// FileExists reports whether a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// Apply merges file values into cfg. Flags that were set explicitly on the
// command line (the changed map) keep their values.
func Apply(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newSetter(changed)

	s.setString("base-url", fc.BaseURL, &cfg.BaseURL)
	s.setString("query-name", fc.QueryName, &cfg.QueryName)
	s.setString("market-run", fc.MarketRun, &cfg.MarketRun)
	s.setString("output-dir", fc.OutputDir, &cfg.OutputDir)
	s.setString("data-dir", fc.DataDir, &cfg.DataDir)
	s.setString("base-name", fc.BaseName, &cfg.BaseName)
	s.setString("db", fc.DBPath, &cfg.DBPath)
	s.setString("start-date", fc.DefaultStart, &cfg.DefaultStart)
	s.setString("end-date", fc.DefaultEnd, &cfg.DefaultEnd)

	s.setInt("version", fc.Version, &cfg.Version)
	s.setInt("max-chunk-days", fc.MaxChunkDays, &cfg.MaxChunkDays)
	s.setInt("workers", fc.Workers, &cfg.Workers)
	s.setIntPtr("max-retries", fc.MaxRetries, &cfg.MaxRetries)

	if err := s.setDuration("rate-limit", fc.RateLimit, &cfg.RateLimit); err != nil {
		return err
	}
	if err := s.setDuration("http-timeout", fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}

	s.setBool("no-parse", fc.ExtractParse, &cfg.ExtractParse)
	s.setBool("compress", fc.CompressCSV, &cfg.CompressCSV)

	return nil
}

// ApplyEnv overlays CAISO_* environment variables. Applied after the file so
// the environment wins over it; explicitly set flags still keep their values.
func ApplyEnv(cfg *Config, changed map[string]bool) error {
	s := newSetter(changed)

	s.setString("base-url", os.Getenv("CAISO_BASE_URL"), &cfg.BaseURL)
	s.setString("query-name", os.Getenv("CAISO_QUERY_NAME"), &cfg.QueryName)
	s.setString("market-run", os.Getenv("CAISO_MARKET_RUN"), &cfg.MarketRun)
	s.setString("output-dir", os.Getenv("CAISO_OUTPUT_DIR"), &cfg.OutputDir)
	s.setString("data-dir", os.Getenv("CAISO_DATA_DIR"), &cfg.DataDir)
	s.setString("base-name", os.Getenv("CAISO_BASE_NAME"), &cfg.BaseName)
	s.setString("db", os.Getenv("CAISO_DB"), &cfg.DBPath)

	if err := s.setIntFromString("version", os.Getenv("CAISO_VERSION"), &cfg.Version); err != nil {
		return err
	}
	if err := s.setIntFromString("max-chunk-days", os.Getenv("CAISO_MAX_CHUNK_DAYS"), &cfg.MaxChunkDays); err != nil {
		return err
	}
	if err := s.setIntFromString("max-retries", os.Getenv("CAISO_MAX_RETRIES"), &cfg.MaxRetries); err != nil {
		return err
	}
	if err := s.setIntFromString("workers", os.Getenv("CAISO_WORKERS"), &cfg.Workers); err != nil {
		return err
	}
	if err := s.setDuration("rate-limit", os.Getenv("CAISO_RATE_LIMIT"), &cfg.RateLimit); err != nil {
		return err
	}
	if err := s.setDuration("http-timeout", os.Getenv("CAISO_HTTP_TIMEOUT"), &cfg.HTTPTimeout); err != nil {
		return err
	}

	s.setBoolFromString("no-parse", os.Getenv("CAISO_EXTRACT_PARSE"), &cfg.ExtractParse)
	s.setBoolFromString("compress", os.Getenv("CAISO_COMPRESS"), &cfg.CompressCSV)

	return nil
}
