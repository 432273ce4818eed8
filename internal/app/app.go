package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atreyu1968/kdp-optimizer-sub000/internal/blobstore"
	"github.com/atreyu1968/kdp-optimizer-sub000/internal/eventlog"
	"github.com/atreyu1968/kdp-optimizer-sub000/internal/mastering"
	"github.com/atreyu1968/kdp-optimizer-sub000/internal/metrics"
	"github.com/atreyu1968/kdp-optimizer-sub000/internal/migrations"
	"github.com/atreyu1968/kdp-optimizer-sub000/internal/notifications"
	"github.com/atreyu1968/kdp-optimizer-sub000/internal/store"
	"github.com/atreyu1968/kdp-optimizer-sub000/internal/synthesis"
	"github.com/atreyu1968/kdp-optimizer-sub000/internal/tts"
)

// App owns the wired synthesis core: one pool, one store, one provider
// registry and one pipeline, shared by every project the process produces.
type App struct {
	cfg       Config
	logger    *log.Logger
	db        *pgxpool.Pool
	store     *store.Store
	eventLog  *eventlog.Logger
	metrics   *metrics.Metrics
	blobs     *blobstore.Local
	registry  *tts.Registry
	scheduler *synthesis.Scheduler
	recovery  *synthesis.Recovery
	notifier  *notifications.Discord
}

// New connects to the database, applies migrations and wires the pipeline.
// progress may be nil; when set it receives chapter-level completion
// updates for every project this App produces.
func New(cfg Config, logger *log.Logger, progress synthesis.ProgressFunc) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.BlobSecret == "" {
		return nil, errors.New("BLOB_SECRET is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrations.Up(db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := store.New(db)
	el := eventlog.New(db)
	m := metrics.New()

	blobs, err := blobstore.New(cfg.BlobDir, cfg.PublicBaseURL, cfg.BlobSecret, cfg.BlobTTL)
	if err != nil {
		db.Close()
		return nil, err
	}

	registry := tts.NewRegistry(tts.Credentials{
		ElevenLabsAPIKey: cfg.ElevenLabsAPIKey,
		AzureAPIKey:      cfg.AzureSpeechKey,
		AzureRegion:      cfg.AzureRegion,
	})

	masterOpts := mastering.DefaultOptions()
	masterOpts.TargetLUFS = cfg.TargetLUFS
	masterOpts.TruePeak = cfg.TruePeakDB
	masterOpts.DeEss = cfg.DeEss

	manager := synthesis.NewManager(synthesis.ManagerConfig{
		Store:      s,
		Blobs:      blobs,
		Providers:  registry,
		Masterer:   mastering.NewEngine(cfg.FFmpegPath, cfg.WorkDir, logger),
		MasterOpts: masterOpts,
		Events:     el,
		Metrics:    m,
		Logger:     logger,
		WorkDir:    cfg.WorkDir,
		Backoff:    cfg.RetryBackoff,
	})
	scheduler := synthesis.NewScheduler(synthesis.SchedulerConfig{
		Store:       s,
		Runner:      manager,
		Progress:    progress,
		Metrics:     m,
		Logger:      logger,
		Concurrency: cfg.Concurrency,
	})
	recovery := synthesis.NewRecovery(synthesis.RecoveryConfig{
		Store:     s,
		Providers: registry,
		Manager:   manager,
		Scheduler: scheduler,
		Metrics:   m,
		Logger:    logger,
	})

	return &App{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		store:     s,
		eventLog:  el,
		metrics:   m,
		blobs:     blobs,
		registry:  registry,
		scheduler: scheduler,
		recovery:  recovery,
		notifier:  notifications.NewDiscord(cfg.DiscordWebhookURL, logger),
	}, nil
}

// Store exposes the storage layer to callers that enqueue work.
func (a *App) Store() *store.Store {
	return a.store
}

// ProduceProject synthesizes and masters every outstanding chapter of the
// project, then records and announces the outcome.
func (a *App) ProduceProject(ctx context.Context, projectID string) error {
	runErr := a.scheduler.Run(ctx, projectID)

	project, err := a.store.GetProject(ctx, projectID)
	if err != nil || project == nil {
		return runErr
	}
	switch project.Status {
	case store.ProjectCompleted:
		a.eventLog.Record(ctx, projectID, "", string(eventlog.EventProjectCompleted), project.Title)
		a.notifier.NotifyProjectCompleted(ctx, project.Title, project.ChaptersCompleted, project.FailedChapters)
	case store.ProjectFailed:
		reason := "todos los capítulos fallaron"
		if runErr != nil {
			reason = runErr.Error()
		}
		a.eventLog.Record(ctx, projectID, "", string(eventlog.EventProjectFailed), reason)
		a.notifier.NotifyProjectFailed(ctx, project.Title, reason)
	}
	return runErr
}

// Recover reconciles work left in flight by a previous process. Call it
// once at startup before accepting new work.
func (a *App) Recover(ctx context.Context) error {
	return a.recovery.Run(ctx)
}

// Handler serves the process endpoints: Prometheus metrics and signed
// artifact downloads.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.Handle("/blobs/", a.blobs.Handler())
	return mux
}

func (a *App) Close() error {
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
