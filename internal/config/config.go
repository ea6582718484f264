package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from .env, YAML and env.
type Config struct {
	ServerPort string
	Version    string
	LogLevel   string
	LogFormat  string

	GFSBaseURL      string
	GFSProduct      string
	GFSFetchTimeout time.Duration
	Wgrib2Path      string
	ProcessingDelay time.Duration
	MaxForecastHour int
	HorizonLookback time.Duration
	CoalesceTimeout time.Duration
	RequestTimeout  time.Duration
	CORSOrigins     []string

	EBirdAPIKey  string
	EBirdAPIURL  string
	EBirdTimeout time.Duration

	CacheBackend   string // "file" or "in_memory"
	CacheDir       string
	CacheMaxAge    time.Duration
	CacheRetention time.Duration

	WarmLevels      []int
	WarmInterval    time.Duration
	WarmConcurrency int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration

	ShutdownTimeout       time.Duration
	InFlightTimeout       time.Duration
	InFlightCheckInterval time.Duration

	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	IdleThresholdReqPerMin int
	IdleWindow             time.Duration
	MinimumLifespan        time.Duration
	DegradedWindow         time.Duration
	DegradedErrorPct       int

	TrackedLevels []int
}

// DefaultCORSOrigins are the clients allowed when the config names none.
var DefaultCORSOrigins = []string{
	"chrome-extension://adngbbngkdibkmdchidpiajjgljdlgad",
	"https://dafekt1ve.github.io",
	"http://localhost:3000",
}

type fileConfig struct {
	Version string `yaml:"version"`

	Server struct {
		Port        string   `yaml:"port"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	GFS struct {
		BaseURL         string `yaml:"base_url"`
		Product         string `yaml:"product"`
		FetchTimeout    string `yaml:"fetch_timeout"`
		Wgrib2Path      string `yaml:"wgrib2_path"`
		ProcessingDelay string `yaml:"processing_delay"`
		MaxForecastHour int    `yaml:"max_forecast_hour"`
		HorizonLookback string `yaml:"horizon_lookback"`
		CoalesceTimeout string `yaml:"coalesce_timeout"`
	} `yaml:"gfs"`

	EBird struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"ebird"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend      string `yaml:"backend"`
		Dir          string `yaml:"dir"`
		MaxAge       string `yaml:"max_age"`
		Retention    string `yaml:"retention"`
		WarmLevels   []int  `yaml:"warm_levels"`
		WarmInterval string `yaml:"warm_interval"`
		WarmWorkers  int    `yaml:"warm_concurrency"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts        int    `yaml:"retry_max_attempts"`
		RetryBaseDelay          string `yaml:"retry_base_delay"`
		RetryMaxDelay           string `yaml:"retry_max_delay"`
		RateLimitRPS            int    `yaml:"rate_limit_rps"`
		RateLimitBurst          int    `yaml:"rate_limit_burst"`
		BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
		BreakerSuccessThreshold int    `yaml:"breaker_success_threshold"`
		BreakerTimeout          string `yaml:"breaker_timeout"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		OverloadWindow         string `yaml:"overload_window"`
		OverloadThresholdPct   int    `yaml:"overload_threshold_pct"`
		IdleThresholdReqPerMin int    `yaml:"idle_threshold_req_per_min"`
		IdleWindow             string `yaml:"idle_window"`
		MinimumLifespan        string `yaml:"minimum_lifespan"`
		DegradedWindow         string `yaml:"degraded_window"`
		DegradedErrorPct       int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`

	Metrics struct {
		TrackedLevels []int `yaml:"tracked_levels"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	EBirdAPIKey string `yaml:"ebird_api_key"`
}

// Load reads .env (when present), then config/{ENV_NAME}.yaml (default dev) and
// config/secrets.yaml. EBIRD_API_KEY may come from env or the secrets file; without it the
// eBird proxy reports itself unconfigured. Call from project root.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}
	cfg.Version = fc.Version
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	cfg.ServerPort = getenvDefault("PORT", fc.Server.Port)
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8000"
	}
	cfg.CORSOrigins = fc.Server.CORSOrigins
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = append([]string(nil), DefaultCORSOrigins...)
	}
	cfg.LogLevel = getenvDefault("LOG_LEVEL", fc.Log.Level)
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(fc.Log.Format))
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}

	cfg.GFSBaseURL = getenvDefault("GFS_BASE_URL", fc.GFS.BaseURL)
	if cfg.GFSBaseURL == "" {
		cfg.GFSBaseURL = "https://noaa-gfs-bdp-pds.s3.amazonaws.com"
	}
	cfg.GFSProduct = fc.GFS.Product
	if cfg.GFSProduct == "" {
		cfg.GFSProduct = "pgrb2.0p25"
	}
	cfg.GFSFetchTimeout = parseDurationOrZero(fc.GFS.FetchTimeout, 60*time.Second)
	cfg.Wgrib2Path = getenvDefault("WGRIB2_PATH", fc.GFS.Wgrib2Path)
	if cfg.Wgrib2Path == "" {
		cfg.Wgrib2Path = "wgrib2"
	}
	cfg.ProcessingDelay = parseDuration(fc.GFS.ProcessingDelay, 4*time.Hour)
	cfg.MaxForecastHour = fc.GFS.MaxForecastHour
	if cfg.MaxForecastHour <= 0 {
		cfg.MaxForecastHour = 120
	}
	cfg.HorizonLookback = parseDuration(fc.GFS.HorizonLookback, 72*time.Hour)
	cfg.CoalesceTimeout = parseDuration(fc.GFS.CoalesceTimeout, 3*time.Minute)
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 3*time.Minute)

	cfg.EBirdAPIKey = os.Getenv("EBIRD_API_KEY")
	if cfg.EBirdAPIKey == "" {
		key, err := readSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
		if err != nil {
			return nil, err
		}
		cfg.EBirdAPIKey = key
	}
	cfg.EBirdAPIURL = fc.EBird.URL
	if cfg.EBirdAPIURL == "" {
		cfg.EBirdAPIURL = "https://api.ebird.org/v2"
	}
	cfg.EBirdTimeout = parseDuration(fc.EBird.Timeout, 10*time.Second)

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "file"
	}
	cfg.CacheDir = getenvDefault("CACHE_DIR", fc.Cache.Dir)
	if cfg.CacheDir == "" {
		cfg.CacheDir = "data"
	}
	cfg.CacheMaxAge = parseDuration(fc.Cache.MaxAge, 6*time.Hour)
	cfg.CacheRetention = parseDurationOrZero(fc.Cache.Retention, 0)
	if cfg.CacheRetention < 0 {
		cfg.CacheRetention = 0
	}
	cfg.WarmLevels = fc.Cache.WarmLevels
	cfg.WarmInterval = parseDuration(fc.Cache.WarmInterval, time.Hour)
	cfg.WarmConcurrency = fc.Cache.WarmWorkers
	if cfg.WarmConcurrency <= 0 {
		cfg.WarmConcurrency = 2
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 500*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 5*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}
	cfg.BreakerFailureThreshold = fc.Reliability.BreakerFailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerSuccessThreshold = fc.Reliability.BreakerSuccessThreshold
	if cfg.BreakerSuccessThreshold <= 0 {
		cfg.BreakerSuccessThreshold = 2
	}
	cfg.BreakerTimeout = parseDuration(fc.Reliability.BreakerTimeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.InFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.InFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.OverloadWindow = parseDurationOrZero(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.IdleThresholdReqPerMin = fc.Lifecycle.IdleThresholdReqPerMin
	cfg.IdleWindow = parseDurationOrZero(fc.Lifecycle.IdleWindow, 0)
	cfg.MinimumLifespan = parseDuration(fc.Lifecycle.MinimumLifespan, 5*time.Minute)
	cfg.DegradedWindow = parseDurationOrZero(fc.Lifecycle.DegradedWindow, 5*time.Minute)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	cfg.TrackedLevels = fc.Metrics.TrackedLevels
	if len(cfg.TrackedLevels) == 0 {
		cfg.TrackedLevels = []int{250, 500, 850}
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readSecrets returns the eBird key from path, or "" when the file does not exist.
func readSecrets(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.EBirdAPIKey), nil
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(def)
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// Ensures GFSFetchTimeout is positive, RequestTimeout > GFSFetchTimeout, warm levels are
// valid pressure levels, and CacheBackend is a valid value. Auto-adjusts RequestTimeout if needed.
func validate(cfg *Config) error {
	if cfg.GFSFetchTimeout <= 0 {
		return fmt.Errorf("gfs.fetch_timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.GFSFetchTimeout {
		cfg.RequestTimeout = cfg.GFSFetchTimeout + time.Second
	}
	switch cfg.CacheBackend {
	case "file", "in_memory":
		// valid
	default:
		return fmt.Errorf("cache.backend must be file or in_memory, got %q", cfg.CacheBackend)
	}
	for _, l := range cfg.WarmLevels {
		if l <= 0 || l > 1000 {
			return fmt.Errorf("cache.warm_levels: invalid pressure level %d", l)
		}
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", cfg.LogFormat)
	}
	return nil
}
