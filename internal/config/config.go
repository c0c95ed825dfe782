// Package config loads the single Config value built at process start. The
// layering is: environment variable > config.json > default.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marcus/actsync/internal/matcher"
	"github.com/marcus/actsync/internal/models"
)

// StravaConfig holds the source account credentials.
type StravaConfig struct {
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	BaseURL      string `json:"base_url,omitempty"`
	TokenURL     string `json:"token_url,omitempty"`
}

// GarminConfig holds the upload target credentials.
type GarminConfig struct {
	Token   string `json:"token,omitempty"`
	Domain  string `json:"domain,omitempty"` // garmin.com or garmin.cn
	BaseURL string `json:"base_url,omitempty"`
	// RequestDelay spaces listing and upload requests; zero disables pacing.
	RequestDelay Duration `json:"request_delay"`
}

// MatchConfig holds the matcher tolerances.
type MatchConfig struct {
	Window            Duration `json:"window"`
	DistanceTolerance float64  `json:"distance_tolerance"`
	DurationTolerance Duration `json:"duration_tolerance"`
	DurationFloor     float64  `json:"duration_floor"`
	StationaryTypes   []string `json:"stationary_types,omitempty"`
}

// FlybyConfig tunes the detail stream queue.
type FlybyConfig struct {
	RequestDelay Duration `json:"request_delay"`
	MaxRetries   int      `json:"max_retries"`
	BackoffBase  Duration `json:"backoff_base"`
	BackoffCap   Duration `json:"backoff_cap"`
}

// UploadConfig tunes the upload orchestrator.
type UploadConfig struct {
	MaxAttempts       int      `json:"max_attempts"`
	DefaultRetryAfter Duration `json:"default_retry_after"`
	PageSize          int      `json:"page_size"`
	VerifyPageSize    int      `json:"verify_page_size"`
	VerifyPages       int      `json:"verify_pages"`
}

// SentryConfig enables error reporting when DSN is set.
type SentryConfig struct {
	DSN         string `json:"dsn,omitempty"`
	Environment string `json:"environment,omitempty"`
}

// Config is the whole runtime configuration.
type Config struct {
	DataDir     string       `json:"data_dir,omitempty"`
	Database    string       `json:"database,omitempty"` // SQLite path or postgres:// DSN
	Strava      StravaConfig `json:"strava"`
	Garmin      GarminConfig `json:"garmin"`
	Match       MatchConfig  `json:"match"`
	Flyby       FlybyConfig  `json:"flyby"`
	Upload      UploadConfig `json:"upload"`
	MetricsFile string       `json:"metrics_file,omitempty"`
	Sentry      SentryConfig `json:"sentry"`

	path string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Garmin: GarminConfig{Domain: "garmin.com", RequestDelay: Duration{250 * time.Millisecond}},
		Match: MatchConfig{
			Window:            Duration{300 * time.Second},
			DistanceTolerance: 50,
			DurationTolerance: Duration{120 * time.Second},
			DurationFloor:     1,
			StationaryTypes:   append([]string(nil), matcher.DefaultStationaryTypes...),
		},
		Flyby: FlybyConfig{
			RequestDelay: Duration{500 * time.Millisecond},
			MaxRetries:   3,
			BackoffBase:  Duration{60 * time.Second},
			BackoffCap:   Duration{900 * time.Second},
		},
		Upload: UploadConfig{
			MaxAttempts:       3,
			DefaultRetryAfter: Duration{60 * time.Second},
			PageSize:          100,
			VerifyPageSize:    50,
			VerifyPages:       2,
		},
	}
}

// Dir returns ~/.config/actsync.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".config", "actsync"), nil
}

// DefaultPath returns ~/.config/actsync/config.json.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load builds the configuration from defaults, the JSON file at path (a
// missing file is fine) and the environment. An empty path uses
// DefaultPath.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	cfg.path = path
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, err
	}

	cfg.applyEnv()

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(path)
	}
	if cfg.Database == "" {
		cfg.Database = filepath.Join(cfg.DataDir, "activities.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DataDir = getEnv("ACTSYNC_DATA_DIR", c.DataDir)
	c.Database = getEnv("ACTSYNC_DB", c.Database)
	c.Strava.ClientID = getEnv("STRAVA_CLIENT_ID", c.Strava.ClientID)
	c.Strava.ClientSecret = getEnv("STRAVA_CLIENT_SECRET", c.Strava.ClientSecret)
	c.Strava.RefreshToken = getEnv("STRAVA_REFRESH_TOKEN", c.Strava.RefreshToken)
	c.Garmin.Token = getEnv("GARMIN_TOKEN", c.Garmin.Token)
	c.Garmin.Domain = getEnv("GARMIN_DOMAIN", c.Garmin.Domain)
	c.Match.Window.Duration = getDurationEnv("ACTSYNC_MATCH_WINDOW", c.Match.Window.Duration)
	c.Match.DistanceTolerance = getFloatEnv("ACTSYNC_DISTANCE_TOLERANCE", c.Match.DistanceTolerance)
	c.Match.DurationTolerance.Duration = getDurationEnv("ACTSYNC_DURATION_TOLERANCE", c.Match.DurationTolerance.Duration)
	c.Flyby.RequestDelay.Duration = getDurationEnv("FLYBY_REQUEST_SLEEP", c.Flyby.RequestDelay.Duration)
	c.Flyby.MaxRetries = getIntEnv("FLYBY_MAX_RETRIES", c.Flyby.MaxRetries)
	c.MetricsFile = getEnv("ACTSYNC_METRICS_FILE", c.MetricsFile)
	c.Sentry.DSN = getEnv("SENTRY_DSN", c.Sentry.DSN)
	c.Sentry.Environment = getEnv("SENTRY_ENVIRONMENT", c.Sentry.Environment)
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	var problems []string
	if c.Match.Window.Duration < 0 {
		problems = append(problems, "match.window must not be negative")
	}
	if c.Match.DistanceTolerance < 0 {
		problems = append(problems, "match.distance_tolerance must not be negative")
	}
	if c.Match.DurationTolerance.Duration < 0 {
		problems = append(problems, "match.duration_tolerance must not be negative")
	}
	if c.Flyby.MaxRetries < 1 {
		problems = append(problems, "flyby.max_retries must be at least 1")
	}
	if c.Upload.MaxAttempts < 1 {
		problems = append(problems, "upload.max_attempts must be at least 1")
	}
	if c.Garmin.Domain != "garmin.com" && c.Garmin.Domain != "garmin.cn" {
		problems = append(problems, fmt.Sprintf("garmin.domain %q is not garmin.com or garmin.cn", c.Garmin.Domain))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Save writes the config back to its file atomically.
func (c *Config) Save() error {
	if c.path == "" {
		return fmt.Errorf("config has no path")
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "config-*.json.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, c.path)
}

// Tolerances returns the matcher settings.
func (c *Config) Tolerances() matcher.Tolerances {
	return matcher.Tolerances{
		TimeWindow:      c.Match.Window.Duration,
		Distance:        c.Match.DistanceTolerance,
		Duration:        c.Match.DurationTolerance.Duration,
		DurationFloor:   c.Match.DurationFloor,
		StationaryTypes: c.Match.StationaryTypes,
	}
}

// GarminAccount returns the status-table account key for the configured
// Garmin domain.
func (c *Config) GarminAccount() string {
	if c.Garmin.Domain == "garmin.cn" {
		return models.AccountGarminCN
	}
	return models.AccountGarminCom
}

// GarminBaseURL returns the Garmin Connect API root.
func (c *Config) GarminBaseURL() string {
	if c.Garmin.BaseURL != "" {
		return strings.TrimRight(c.Garmin.BaseURL, "/")
	}
	return "https://connectapi." + c.Garmin.Domain
}
