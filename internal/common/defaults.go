// Package common provides shared configuration, logging and defaults.
package common

// NewDefaultConfig returns the baseline configuration. Config files, then
// environment variables, override these values.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Workspace: WorkspaceConfig{
			Root:      "./data/jobs",
			OutputDir: "./data/output",
			KeepFiles: false,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/verso.db",
				ResetOnStartup: false,
			},
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			Concurrency:       2,
			VisibilityTimeout: "15m", // Conversions are slow; redelivery only after a worker dies
			MaxReceive:        3,
			QueueName:         "convert",
		},
		Extraction: ExtractionConfig{
			BaseURL:      "http://localhost:8710",
			PollInterval: "2s",
			Timeout:      "10m",
		},
		Vision: VisionConfig{
			Provider:          "disabled", // User must opt in with an API key
			Model:             "",         // Provider default when empty
			Timeout:           "2m",
			MaxTokens:         1024,
			Temperature:       0,
			MaxConcurrency:    4,
			RequestsPerSecond: 2,
			MaxRetries:        2,
			RawResultWait:     "2m",
		},
		Normalize: NormalizeConfig{
			TableOverlapThreshold: 0.9,
			RowTolerance:          0.01,
			ColumnTolerance:       0.01,
			ParagraphGap:          0.015,
			AlignTolerance:        0.05,
			MinFigureArea:         0.01, // Rejects logos and icons
		},
		Renderer: RendererConfig{
			Binary:  "soffice",
			Timeout: "3m",
		},
		Janitor: JanitorConfig{
			Enabled:   false, // Abandoned state stays on disk unless the user opts in
			Schedule:  "0 0 * * *",
			Retention: "168h",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
	}
}
