package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all pipeline configuration.
type Config struct {
	API struct {
		BaseURL   string        `yaml:"base_url"`
		Timeout   time.Duration `yaml:"timeout"`
		RateLimit float64       `yaml:"rate_limit"` // requests per second, shared across workers
		Burst     int           `yaml:"burst"`
	} `yaml:"api"`

	Retry struct {
		MaxAttempts int           `yaml:"max_attempts"`
		BaseDelay   time.Duration `yaml:"base_delay"`
		MaxDelay    time.Duration `yaml:"max_delay"`
	} `yaml:"retry"`

	Pipeline struct {
		Workers      int           `yaml:"workers"`
		QueueSize    int           `yaml:"queue_size"`
		StageTimeout time.Duration `yaml:"stage_timeout"`
	} `yaml:"pipeline"`

	Storage struct {
		DataDir string `yaml:"data_dir"` // raw/ and text/ artifacts live under here
		DSN     string `yaml:"dsn"`      // sqlite path or postgres:// URL
	} `yaml:"storage"`

	Extract struct {
		Pdftotext string `yaml:"pdftotext"`
		Pdftoppm  string `yaml:"pdftoppm"`
		Tesseract string `yaml:"tesseract"`
		Language  string `yaml:"language"`
		DPI       int    `yaml:"dpi"`
		MaxPages  int    `yaml:"max_pages"`
	} `yaml:"extract"`

	LogLevel string `yaml:"log_level"`
}

// Load reads the config file at path (optional), merges environment
// variables, and fills defaults for anything unset.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	mergeWithEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "https://diavgeia.gov.gr/opendata"
	}
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = 60 * time.Second
	}
	if cfg.API.RateLimit == 0 {
		cfg.API.RateLimit = 4.0
	}
	if cfg.API.Burst == 0 {
		cfg.API.Burst = 4
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 5
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 30 * time.Second
	}

	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = 4
	}
	if cfg.Pipeline.QueueSize == 0 {
		cfg.Pipeline.QueueSize = 256
	}
	if cfg.Pipeline.StageTimeout == 0 {
		cfg.Pipeline.StageTimeout = 5 * time.Minute
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "./data/pipeline.db"
	}

	if cfg.Extract.Pdftotext == "" {
		cfg.Extract.Pdftotext = "pdftotext"
	}
	if cfg.Extract.Pdftoppm == "" {
		cfg.Extract.Pdftoppm = "pdftoppm"
	}
	if cfg.Extract.Tesseract == "" {
		cfg.Extract.Tesseract = "tesseract"
	}
	if cfg.Extract.Language == "" {
		cfg.Extract.Language = "ell+eng"
	}
	if cfg.Extract.DPI == 0 {
		cfg.Extract.DPI = 300
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func mergeWithEnv(cfg *Config) {
	if v := os.Getenv("DIAVGEIA_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("DIAVGEIA_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("DIAVGEIA_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("DIAVGEIA_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.API.RateLimit = f
		}
	}
	if v := os.Getenv("DIAVGEIA_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.Workers = n
		}
	}
	if v := os.Getenv("DIAVGEIA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Validate checks settings that have no usable fallback.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required")
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be positive")
	}
	return nil
}
