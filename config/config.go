package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the harvester configuration surface.
type Config struct {
	// Anti-detection pacing window applied before every navigation.
	MinDelay time.Duration
	MaxDelay time.Duration

	// Transient retry budget and backoff shape.
	MaxTransientRetries int
	RetryBackoff        time.Duration
	RetryBackoffMax     time.Duration

	// Repair budget. Each repair costs one generation call, so it is
	// tracked independently of transient retries.
	MaxRepairAttempts int

	// Per-call hard timeouts.
	NavigationTimeout time.Duration
	GenerationTimeout time.Duration

	// Worker pool size for the optional bounded-parallel mode.
	Concurrency int
	QueueSize   int

	// Pools for identity generation; loaded from the pools file and
	// overridable here.
	UserAgents []WeightedUserAgent
	Referers   []string
	Proxies    []string

	// Markers treated as anti-bot blocks when found in failed markup
	// or page titles.
	BlockMarkers []string

	GenerationURL   string
	GenerationModel string

	// DSN for the Postgres registry; empty selects the in-memory store.
	RegistryDSN string

	DedupeMaxSize int
	OutputFile    string
	OutputFormat  string // csv, json, or dual
	MetricsAddr   string
	Verbose       bool
}

// WeightedUserAgent is one entry of the user agent pool.
type WeightedUserAgent struct {
	Agent  string `yaml:"agent"`
	Weight int    `yaml:"weight"`
}

// DefaultConfig returns conservative defaults for a hostile target.
func DefaultConfig() *Config {
	return &Config{
		MinDelay:            5 * time.Second,
		MaxDelay:            15 * time.Second,
		MaxTransientRetries: 3,
		RetryBackoff:        2 * time.Second,
		RetryBackoffMax:     60 * time.Second,
		MaxRepairAttempts:   2,
		NavigationTimeout:   60 * time.Second,
		GenerationTimeout:   120 * time.Second,
		Concurrency:         1,
		QueueSize:           64,
		UserAgents: []WeightedUserAgent{
			{Agent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", Weight: 4},
			{Agent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", Weight: 3},
			{Agent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36", Weight: 2},
			{Agent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Version/17.1 Safari/605.1.15", Weight: 1},
		},
		Referers: []string{
			"https://www.google.com/",
			"https://www.bing.com/",
			"https://duckduckgo.com/",
		},
		BlockMarkers: []string{
			"captcha",
			"access denied",
			"verify you are human",
			"pardon our interruption",
			"are you a robot",
		},
		GenerationURL:   "http://localhost:11434/api/generate",
		GenerationModel: "deepseek-r1:70b",
		DedupeMaxSize:   10000,
		OutputFile:      "output/listings.csv",
		OutputFormat:    "csv",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.MinDelay < 0 {
		return fmt.Errorf("min delay cannot be negative")
	}
	if c.MaxDelay < c.MinDelay {
		return fmt.Errorf("max delay (%s) cannot be below min delay (%s)", c.MaxDelay, c.MinDelay)
	}
	if c.MaxTransientRetries < 0 {
		return fmt.Errorf("max transient retries cannot be negative")
	}
	if c.MaxRepairAttempts < 0 {
		return fmt.Errorf("max repair attempts cannot be negative")
	}
	if c.RetryBackoff <= 0 {
		return fmt.Errorf("retry backoff must be positive")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation timeout must be positive")
	}
	if c.GenerationTimeout <= 0 {
		return fmt.Errorf("generation timeout must be positive")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive")
	}
	if len(c.UserAgents) == 0 {
		return fmt.Errorf("user agent pool cannot be empty")
	}
	for _, ua := range c.UserAgents {
		if ua.Agent == "" {
			return fmt.Errorf("user agent pool contains an empty agent")
		}
		if ua.Weight <= 0 {
			return fmt.Errorf("user agent %q has non-positive weight", ua.Agent)
		}
	}
	if c.GenerationURL == "" {
		return fmt.Errorf("generation URL cannot be empty")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	return nil
}

// EnvString reads an environment override.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// EnvInt reads an integer environment override.
func EnvInt(key string) (int, bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, true, nil
}

// EnvDuration reads a duration environment override.
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return 0, false, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, true, nil
}
