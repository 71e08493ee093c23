// Package config loads runtime settings from an optional TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

// EnvPath names the environment variable holding the settings path.
const EnvPath = "SIEVE_CONFIG"

const maxBatchSize = 1000

// Config holds runtime settings. Zero-valued fields in a file keep their
// defaults.
type Config struct {
	CredsJSON       string        `toml:"creds_json"`
	TokenJSON       string        `toml:"token_json"`
	SieveYML        string        `toml:"sieve_yml"`
	RPS             int           `toml:"rps"`
	PageSize        int           `toml:"page_size"`
	BatchSize       int           `toml:"batch_size"`
	Workers         int           `toml:"workers"`
	GroupBy         string        `toml:"group_by"`
	MatchMode       string        `toml:"match_mode"`
	LogLevel        string        `toml:"log_level"`
	LogFile         string        `toml:"log_file"`
	MetricsTextfile string        `toml:"metrics_textfile"`
	Breaker         BreakerConfig `toml:"breaker"`

	// Undecoded lists keys present in the file that no field consumed.
	Undecoded []string `toml:"-"`
}

type BreakerConfig struct {
	MaxFailures uint32 `toml:"max_failures"`
	Timeout     string `toml:"timeout"`
}

// GetTimeout parses the breaker timeout.
func (b BreakerConfig) GetTimeout() (time.Duration, error) {
	if strings.TrimSpace(b.Timeout) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(b.Timeout)
	if err != nil {
		return 0, fmt.Errorf("breaker timeout: %w", err)
	}
	return d, nil
}

func Default() Config {
	return Config{
		CredsJSON: "./.creds.json",
		SieveYML:  "./sieve.yml",
		RPS:       4,
		PageSize:  500,
		BatchSize: maxBatchSize,
		Workers:   1,
		GroupBy:   "labels",
		MatchMode: "accumulate",
		Breaker:   BreakerConfig{MaxFailures: 5, Timeout: "30s"},
	}
}

// DefaultPath is $SIEVE_CONFIG, else ~/.config/sieve/sieve.toml.
func DefaultPath() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "sieve", "sieve.toml")
}

// LoadEnv reads .env from the working directory when present.
func LoadEnv() error {
	if _, err := os.Stat(".env"); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load decodes path over the defaults. A missing file is an error only when
// required is set; otherwise the defaults are returned.
func Load(path string, required bool) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	content, err := os.ReadFile(path) // #nosec G304 - path chosen by the user
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read settings %s: %w", path, err)
	}
	md, err := toml.Decode(string(content), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parse settings %s: %w", path, err)
	}
	for _, key := range md.Undecoded() {
		cfg.Undecoded = append(cfg.Undecoded, key.String())
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var result *multierror.Error
	if c.RPS < 0 {
		result = multierror.Append(result, fmt.Errorf("rps must not be negative, got %d", c.RPS))
	}
	if c.PageSize < 1 || c.PageSize > 500 {
		result = multierror.Append(result, fmt.Errorf("page_size must be within 1..500, got %d", c.PageSize))
	}
	if c.BatchSize < 1 || c.BatchSize > maxBatchSize {
		result = multierror.Append(result, fmt.Errorf("batch_size must be within 1..%d, got %d", maxBatchSize, c.BatchSize))
	}
	if c.Workers < 1 {
		result = multierror.Append(result, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	switch c.GroupBy {
	case "", "labels", "rules":
	default:
		result = multierror.Append(result, fmt.Errorf("group_by must be labels or rules, got %q", c.GroupBy))
	}
	switch c.MatchMode {
	case "", "accumulate", "first":
	default:
		result = multierror.Append(result, fmt.Errorf("match_mode must be accumulate or first, got %q", c.MatchMode))
	}
	if _, err := c.Breaker.GetTimeout(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
