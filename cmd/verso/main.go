package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/app"
	"github.com/ternarybob/verso/internal/common"
	"github.com/ternarybob/verso/internal/models"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	// Command-line flags
	configFiles  configPaths // Multiple -config flags supported
	jobID        = flag.String("id", "", "Job id (reusing an id resumes from its last checkpoint)")
	source       = flag.String("source", "", "Document to convert: URL or local path")
	serve        = flag.Bool("serve", false, "Run as a queue worker instead of converting one document")
	enqueue      = flag.Bool("enqueue", false, "Queue the conversion for a running worker instead of converting inline")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	// Register custom flag for multiple config files
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	// Parse command-line flags
	flag.Parse()

	// Handle version flag
	if *showVersion || *showVersionV {
		fmt.Printf("Verso version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Initialize logger
	// 3. Print banner

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("verso.toml"); err == nil {
			configFiles = append(configFiles, "verso.toml")
		} else if _, err := os.Stat("deployments/local/verso.toml"); err == nil {
			// Fallback: check deployments/local for users running from project root
			configFiles = append(configFiles, "deployments/local/verso.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		// Use temporary logger for startup errors
		tempLogger := arbor.NewLogger()
		if len(configFiles) == 0 {
			tempLogger.Fatal().Err(err).Msg("Failed to load configuration: no config file found")
		} else {
			tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration files")
		}
		os.Exit(1)
	}

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	logger.Info().
		Strs("config_files", configFiles).
		Str("workspace_root", config.Workspace.Root).
		Str("extraction_url", config.Extraction.BaseURL).
		Str("vision_provider", config.Vision.Provider).
		Msg("Application configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	if *serve {
		runServe(application, logger)
		return
	}
	if *enqueue {
		runEnqueue(application, logger)
		return
	}
	runOnce(application, logger)
}

// runEnqueue pushes a conversion request onto the queue for a worker
// process to pick up.
func runEnqueue(application *app.App, logger arbor.ILogger) {
	if *source == "" {
		fmt.Fprintln(os.Stderr, "verso: -source is required with -enqueue")
		os.Exit(2)
	}

	id := *jobID
	if id == "" {
		id = common.NewJobID()
	}

	if err := application.Queue.Enqueue(context.Background(), models.ConvertRequest{JobID: id, Source: *source}); err != nil {
		logger.Error().Str("job_id", id).Err(err).Msg("Failed to enqueue conversion")
		application.Close()
		os.Exit(1)
	}
	logger.Info().Str("job_id", id).Str("source", *source).Msg("Conversion queued")
}

// runOnce converts a single document in the foreground. The process exit
// code reflects the pipeline outcome so shell callers can retry failures.
func runOnce(application *app.App, logger arbor.ILogger) {
	if *source == "" && *jobID == "" {
		fmt.Fprintln(os.Stderr, "verso: either -source or -id is required (or -serve)")
		flag.Usage()
		os.Exit(2)
	}

	id := *jobID
	if id == "" {
		id = common.NewJobID()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	outcome := application.Convert(ctx, id, *source)
	switch outcome.Status {
	case models.OutcomeSuccess:
		logger.Info().Str("job_id", id).Msg("Conversion complete")
	case models.OutcomeAlreadyComplete:
		logger.Info().Str("job_id", id).Msg("Job already complete, nothing to do")
	default:
		logger.Error().
			Str("job_id", id).
			Str("stage", outcome.FailedStage).
			Err(outcome.Err).
			Msg("Conversion failed, rerun with the same -id to resume")
		application.Close()
		os.Exit(1)
	}
}

// runServe consumes conversion requests from the queue until interrupted.
func runServe(application *app.App, logger arbor.ILogger) {
	application.Serve()

	logger.Info().
		Int("workers", application.Config.Queue.Concurrency).
		Str("queue", application.Config.Queue.QueueName).
		Msg("Worker pool ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Interrupt signal received, shutting down")
}
