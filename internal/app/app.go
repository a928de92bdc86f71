// -----------------------------------------------------------------------
// App - Wires configuration, storage and services into a runnable unit
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/common"
	"github.com/ternarybob/verso/internal/document"
	"github.com/ternarybob/verso/internal/models"
	"github.com/ternarybob/verso/internal/pipeline"
	"github.com/ternarybob/verso/internal/queue"
	"github.com/ternarybob/verso/internal/services/blobstore"
	"github.com/ternarybob/verso/internal/services/extract"
	"github.com/ternarybob/verso/internal/services/prepare"
	"github.com/ternarybob/verso/internal/services/vision"
	badgerstore "github.com/ternarybob/verso/internal/storage/badger"
)

// App holds all application components and dependencies.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	DB           *badgerstore.BadgerDB
	StateStorage *badgerstore.StateStorage
	Runner       *pipeline.Runner
	Queue        *queue.Manager
	Workers      *queue.WorkerPool
	Janitor      *queue.Janitor

	visionProvider vision.Provider
}

// New builds the application. The vision provider comes up in whatever
// mode the configuration names, including disabled.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	db, err := badgerstore.NewBadgerDB(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}

	stateStorage := badgerstore.NewStateStorage(db, logger)

	provider, err := vision.NewProvider(&cfg.Vision, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize vision provider: %w", err)
	}

	blobs := blobstore.NewService(common.Duration(cfg.Extraction.Timeout), logger)
	renderer := prepare.NewExecRenderer(cfg.Renderer.Binary, common.Duration(cfg.Renderer.Timeout), logger)
	preparer := prepare.NewService(renderer, logger)
	extractor := extract.NewClient(
		cfg.Extraction.BaseURL,
		common.Duration(cfg.Extraction.PollInterval),
		common.Duration(cfg.Extraction.Timeout),
		logger,
	)
	annotator := vision.NewAnnotator(provider, cfg.Vision, cfg.Normalize.MinFigureArea, logger)

	registry, err := pipeline.NewRegistryWithStages(pipeline.Deps{
		Blobs:         blobs,
		Preparer:      preparer,
		Extractor:     extractor,
		Annotator:     annotator,
		Normalizer:    extract.NewNormalizer(cfg.Normalize, logger),
		Merger:        document.NewMerger(logger),
		Assembler:     document.NewAssembler(logger),
		OutputDir:     cfg.Workspace.OutputDir,
		RawResultWait: common.Duration(cfg.Vision.RawResultWait),
		KeepFiles:     cfg.Workspace.KeepFiles,
		Logger:        logger,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	runner := pipeline.NewRunner(registry, stateStorage, cfg.Workspace.Root, logger)

	queueMgr, err := queue.NewManager(
		db.Badger(),
		cfg.Queue.QueueName,
		common.Duration(cfg.Queue.VisibilityTimeout),
		cfg.Queue.MaxReceive,
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize queue: %w", err)
	}

	a := &App{
		Config:         cfg,
		Logger:         logger,
		DB:             db,
		StateStorage:   stateStorage,
		Runner:         runner,
		Queue:          queueMgr,
		visionProvider: provider,
	}
	a.Workers = queue.NewWorkerPool(queueMgr, runner, cfg.Queue.Concurrency, common.Duration(cfg.Queue.PollInterval), logger)

	if cfg.Janitor.Enabled {
		janitor, err := queue.NewJanitor(
			stateStorage,
			cfg.Workspace.Root,
			common.Duration(cfg.Janitor.Retention),
			cfg.Janitor.Schedule,
			logger,
		)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("initialize janitor: %w", err)
		}
		a.Janitor = janitor
	}

	return a, nil
}

// Convert runs one job to completion in the calling goroutine.
func (a *App) Convert(ctx context.Context, jobID, source string) models.Outcome {
	return a.Runner.Run(ctx, jobID, source)
}

// Serve starts the worker pool and janitor; it returns immediately and
// the caller decides how long to stay up.
func (a *App) Serve() {
	a.Workers.Start()
	if a.Janitor != nil {
		a.Janitor.Start()
	}
}

// Close shuts everything down in reverse dependency order.
func (a *App) Close() error {
	if a.Workers != nil {
		a.Workers.Stop()
	}
	if a.Janitor != nil {
		a.Janitor.Stop()
	}
	if a.visionProvider != nil {
		a.visionProvider.Close()
	}
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
