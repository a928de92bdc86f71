package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Workspace   WorkspaceConfig  `toml:"workspace"`
	Storage     StorageConfig    `toml:"storage"`
	Queue       QueueConfig      `toml:"queue"`
	Extraction  ExtractionConfig `toml:"extraction"`
	Vision      VisionConfig     `toml:"vision"`
	Normalize   NormalizeConfig  `toml:"normalize"`
	Renderer    RendererConfig   `toml:"renderer"`
	Janitor     JanitorConfig    `toml:"janitor"`
	Logging     LoggingConfig    `toml:"logging"`
}

// WorkspaceConfig controls the per-job working directories.
type WorkspaceConfig struct {
	Root      string `toml:"root" validate:"required"`       // Root directory for job workspaces
	OutputDir string `toml:"output_dir" validate:"required"` // Default destination for assembled documents
	KeepFiles bool   `toml:"keep_files"`                     // Keep workspace after upload for forensic inspection
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"` // e.g., "1s" - how often workers poll for messages
	Concurrency       int    `toml:"concurrency" validate:"min=1"`
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g., "10m" - message visibility timeout for redelivery
	MaxReceive        int    `toml:"max_receive" validate:"min=1"`
	QueueName         string `toml:"queue_name"` // Queue name prefix in Badger
}

// ExtractionConfig configures the table/text extraction collaborator.
type ExtractionConfig struct {
	BaseURL      string `toml:"base_url" validate:"required,url"`
	PollInterval string `toml:"poll_interval"` // Delay between status polls
	Timeout      string `toml:"timeout"`       // Overall deadline for submit-to-done
}

// VisionConfig configures the figure annotation collaborator.
// Provider "disabled" is a valid runtime configuration: the annotation
// stage then records a skipped sentinel and the document assembles without
// figure summaries.
type VisionConfig struct {
	Provider          string  `toml:"provider" validate:"oneof=claude gemini disabled"`
	APIKey            string  `toml:"api_key"`
	Model             string  `toml:"model"`
	Timeout           string  `toml:"timeout"`
	MaxTokens         int     `toml:"max_tokens"`
	Temperature       float32 `toml:"temperature"`
	MaxConcurrency    int     `toml:"max_concurrency" validate:"min=1"`    // Bounded pool of in-flight summarize calls
	RequestsPerSecond float64 `toml:"requests_per_second" validate:"gt=0"` // Rate limit across the pool
	MaxRetries        int     `toml:"max_retries" validate:"min=0,max=10"` // Per-figure retries before marking failed
	RawResultWait     string  `toml:"raw_result_wait"`                     // How long to wait for extraction figures before whole-page fallback
}

// NormalizeConfig exposes the extraction-unification thresholds as tunable
// configuration rather than hidden constants, so boundary cases can be
// probed precisely in tests.
type NormalizeConfig struct {
	TableOverlapThreshold float64 `toml:"table_overlap_threshold" validate:"gt=0,lte=1"` // Line area fraction inside a table that marks it a duplicate
	RowTolerance          float64 `toml:"row_tolerance" validate:"gt=0"`                 // Vertical-center clustering tolerance for table rows
	ColumnTolerance       float64 `toml:"column_tolerance" validate:"gt=0"`              // Horizontal-center clustering tolerance for table columns
	ParagraphGap          float64 `toml:"paragraph_gap" validate:"gt=0"`                 // Max vertical gap between lines of one paragraph
	AlignTolerance        float64 `toml:"align_tolerance" validate:"gt=0"`               // Max left-edge drift between lines of one paragraph
	MinFigureArea         float64 `toml:"min_figure_area" validate:"gte=0"`              // Figures below this area are treated as logos/icons
}

// RendererConfig configures the external office-document renderer used to
// convert non-PDF sources. The binary is an external collaborator; sources
// that are already PDF never touch it.
type RendererConfig struct {
	Binary  string `toml:"binary"`
	Timeout string `toml:"timeout"`
}

// JanitorConfig controls pruning of stale job workspaces in serve mode.
type JanitorConfig struct {
	Enabled   bool   `toml:"enabled"`
	Schedule  string `toml:"schedule"`  // Cron schedule format
	Retention string `toml:"retention"` // e.g., "168h" - workspaces older than this are pruned
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs
}

// LoadFromFiles loads configuration with priority: defaults -> file1 ->
// file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the merged configuration using validator tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	// Duration fields are strings in TOML; fail fast rather than at first use.
	for name, val := range map[string]string{
		"queue.poll_interval":      c.Queue.PollInterval,
		"queue.visibility_timeout": c.Queue.VisibilityTimeout,
		"extraction.poll_interval": c.Extraction.PollInterval,
		"extraction.timeout":       c.Extraction.Timeout,
		"vision.timeout":           c.Vision.Timeout,
		"vision.raw_result_wait":   c.Vision.RawResultWait,
		"renderer.timeout":         c.Renderer.Timeout,
		"janitor.retention":        c.Janitor.Retention,
	} {
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}
	return nil
}

// Duration parses a config duration string that Validate has already vetted.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("VERSO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if root := os.Getenv("VERSO_WORKSPACE_ROOT"); root != "" {
		config.Workspace.Root = root
	}
	if badgerPath := os.Getenv("VERSO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if pollInterval := os.Getenv("VERSO_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if concurrency := os.Getenv("VERSO_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}

	if baseURL := os.Getenv("VERSO_EXTRACTION_BASE_URL"); baseURL != "" {
		config.Extraction.BaseURL = baseURL
	}

	if provider := os.Getenv("VERSO_VISION_PROVIDER"); provider != "" {
		config.Vision.Provider = provider
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" && config.Vision.APIKey == "" && config.Vision.Provider == "claude" {
		config.Vision.APIKey = apiKey
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" && config.Vision.APIKey == "" && config.Vision.Provider == "gemini" {
		config.Vision.APIKey = apiKey
	}

	if level := os.Getenv("VERSO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}
