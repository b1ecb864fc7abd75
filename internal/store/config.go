package store

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Host           string `yaml:"host"`
	Scheme         string `yaml:"scheme"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRedirects   int    `yaml:"max_redirects"`
	// The target's certificate chain is accepted without verification.
	// This is a deliberate trust relaxation, not an oversight.
	InsecureSkipVerify   bool     `yaml:"insecure_skip_verify"`
	MinRequestIntervalMs int      `yaml:"min_request_interval_ms"`
	UserAgents           []string `yaml:"user_agents"`
	Referers             []string `yaml:"referers"`
	ChallengeMarkers     []string `yaml:"challenge_markers"`
	Tracing              struct {
		ServiceName    string `yaml:"service_name"`
		ServiceVersion string `yaml:"service_version"`
	} `yaml:"tracing"`
}

var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:122.0) Gecko/20100101 Firefox/122.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Edge/121.0.0.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

var DefaultReferers = []string{
	"https://www.google.com/",
	"https://www.google.com/search?q=zerodha+stock+market",
	"https://www.bing.com/",
	"https://www.bing.com/search?q=zerodha+stocks",
	"https://zerodha.com/",
	"https://zerodha.com/markets/",
	"https://zerodha.com/markets/stocks/",
	"https://www.yahoo.com/",
	"https://www.yahoo.com/finance/",
	"https://www.reddit.com/r/IndianStreetBets/",
	"https://www.moneycontrol.com/",
	"https://www.nseindia.com/",
	"https://www.bseindia.com/",
	"https://www.investing.com/",
	"https://www.tradingview.com/",
}

var DefaultChallengeMarkers = []string{
	"Just a moment...",
	"Enable JavaScript and cookies to continue",
	"Checking your browser",
	"cf-browser-verification",
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	c := &Config{
		Host:                 "zerodha.com",
		Scheme:               "https",
		TimeoutSeconds:       30,
		MaxRedirects:         5,
		InsecureSkipVerify:   true,
		MinRequestIntervalMs: 0,
		UserAgents:           append([]string(nil), DefaultUserAgents...),
		Referers:             append([]string(nil), DefaultReferers...),
		ChallengeMarkers:     append([]string(nil), DefaultChallengeMarkers...),
	}
	c.Tracing.ServiceName = "stock-analysis-fetcher"
	c.Tracing.ServiceVersion = "1.0.0"
	return c
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Scheme != "http" && c.Scheme != "https" {
		return fmt.Errorf("invalid scheme '%s': must be 'http' or 'https'", c.Scheme)
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive, got %d", c.TimeoutSeconds)
	}
	if c.MaxRedirects < 0 {
		return fmt.Errorf("max_redirects cannot be negative, got %d", c.MaxRedirects)
	}
	if c.MinRequestIntervalMs < 0 {
		return fmt.Errorf("min_request_interval_ms cannot be negative, got %d", c.MinRequestIntervalMs)
	}
	if len(c.UserAgents) == 0 {
		return errors.New("user_agents cannot be empty")
	}
	if len(c.Referers) == 0 {
		return errors.New("referers cannot be empty")
	}
	return nil
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c *Config) MinRequestInterval() time.Duration {
	return time.Duration(c.MinRequestIntervalMs) * time.Millisecond
}

// ApplyEnv overrides file values with FETCHER_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("FETCHER_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("FETCHER_SCHEME"); v != "" {
		c.Scheme = strings.ToLower(v)
	}
	if v := os.Getenv("FETCHER_INSECURE_SKIP_VERIFY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FETCHER_INSECURE_SKIP_VERIFY: %w", err)
		}
		c.InsecureSkipVerify = b
	}
	if v := os.Getenv("FETCHER_TIMEOUT_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FETCHER_TIMEOUT_SECONDS: %w", err)
		}
		c.TimeoutSeconds = n
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := DefaultConfig()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}

	if err := c.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return c, nil
}

// LoadConfigOrDefault falls back to DefaultConfig when path does not exist.
func LoadConfigOrDefault(path string) (*Config, error) {
	c, err := LoadConfig(path)
	if errors.Is(err, os.ErrNotExist) {
		c = DefaultConfig()
		if err := c.ApplyEnv(); err != nil {
			return nil, err
		}
		return c, c.Validate()
	}
	return c, err
}
