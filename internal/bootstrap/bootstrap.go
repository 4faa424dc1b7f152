package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/kirillkom/docscan/internal/config"
	"github.com/kirillkom/docscan/internal/core/detection"
	"github.com/kirillkom/docscan/internal/core/pipeline"
	"github.com/kirillkom/docscan/internal/core/ports"
	"github.com/kirillkom/docscan/internal/core/recognition"
	"github.com/kirillkom/docscan/internal/core/usecase"
	"github.com/kirillkom/docscan/internal/infrastructure/engine/inference"
	"github.com/kirillkom/docscan/internal/infrastructure/engine/models"
	"github.com/kirillkom/docscan/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/docscan/internal/infrastructure/extractor/pages"
	"github.com/kirillkom/docscan/internal/infrastructure/imaging"
	redislock "github.com/kirillkom/docscan/internal/infrastructure/lock/redis"
	"github.com/kirillkom/docscan/internal/infrastructure/queue/amqp"
	"github.com/kirillkom/docscan/internal/infrastructure/queue/nats"
	"github.com/kirillkom/docscan/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/docscan/internal/infrastructure/resilience"
	"github.com/kirillkom/docscan/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/docscan/internal/infrastructure/storage/minio"
)

type taskBus interface {
	ports.TaskQueue
	ports.TaskConsumer
	Close()
}

type Options struct {
	// EnsureBucket creates the object store bucket at startup.
	EnsureBucket bool
	// UseLease enables the redis job lease when REDIS_URL is set.
	UseLease bool
	// OnStageRetry observes stage retries.
	OnStageRetry resilience.RetryObserver
}

type App struct {
	Config config.Config

	Jobs      ports.JobStore
	Queue     ports.TaskConsumer
	JobsUC    *usecase.JobService
	ProcessUC *usecase.ProcessTaskUseCase

	closers []func(context.Context)
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	app := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			app.Close(context.WithoutCancel(ctx))
		}
	}()

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.onClose(func(context.Context) { _ = db.Close() })
	repo := postgres.NewJobRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	app.Jobs = repo

	storage, err := newStorage(ctx, cfg, opts.EnsureBucket)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	bus, err := newTaskBus(cfg)
	if err != nil {
		return nil, fmt.Errorf("init task queue: %w", err)
	}
	app.onClose(func(context.Context) { bus.Close() })
	app.Queue = bus

	inferenceClient := inference.New(cfg.InferenceURL, inference.Options{
		Timeout:            cfg.InferenceTimeout,
		ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig()),
	})
	detectorHandle := models.NewHandle("detector", func(ctx context.Context) (ports.TextDetector, error) {
		if err := inferenceClient.Ready(ctx, "detector"); err != nil {
			return nil, err
		}
		return inference.NewDetector(inferenceClient, cfg.System.Detector.Refiner), nil
	}, nil)
	recognizerHandle := models.NewHandle("recognizer", func(ctx context.Context) (ports.LineRecognizer, error) {
		if err := inferenceClient.Ready(ctx, "recognizer"); err != nil {
			return nil, err
		}
		return inference.NewRecognizer(inferenceClient), nil
	}, nil)
	app.onClose(func(ctx context.Context) {
		_ = detectorHandle.Shutdown(ctx)
		_ = recognizerHandle.Shutdown(ctx)
	})

	resizer := imaging.NewResizer()
	orchestrator := pipeline.NewOrchestrator(
		pages.NewExtractor(inference.NewRasterizer(inferenceClient, cfg.RasterDPI)),
		detection.NewStage(models.NewDetector(detectorHandle), resizer, cfg.System.Detector.MaxSide),
		recognition.NewStage(models.NewRecognizer(recognizerHandle), cfg.System.Recognition),
		resizer,
		cfg.System.Preprocess.MaxSide,
	)

	stages := resilience.NewStageRunner(resilience.StageConfig(cfg.StageRetryInitialBackoff, cfg.StageRetryMaxBackoff))
	if opts.OnStageRetry != nil {
		stages.OnRetry(opts.OnStageRetry)
	}

	var locker ports.JobLocker
	if opts.UseLease && cfg.RedisURL != "" {
		client, err := redislock.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("init job lease: %w", err)
		}
		app.onClose(func(context.Context) { _ = client.Close() })
		locker = redislock.NewLocker(client, cfg.LeaseTTL)
	}

	app.JobsUC = usecase.NewJobService(repo, storage, bus, pages.NewPageCounter(), xlsx.NewExporter())
	app.ProcessUC = usecase.NewProcessTaskUseCase(repo, storage, orchestrator, stages, locker, usecase.AttemptPolicy{
		FullPipeline: cfg.StageAttemptsFull,
		Isolated:     cfg.StageAttemptsIsolated,
	})

	ok = true
	return app, nil
}

// OpenRepository opens only the job store, for tooling that does not touch queues or engines.
func OpenRepository(ctx context.Context, cfg config.Config) (*postgres.JobRepository, *sql.DB, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewJobRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return repo, db, nil
}

func newStorage(ctx context.Context, cfg config.Config, ensureBucket bool) (ports.ObjectStorage, error) {
	switch cfg.StorageDriver {
	case "local":
		return localfs.New(cfg.StoragePath)
	case "minio", "":
		storage, err := minio.New(minio.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			return nil, err
		}
		if ensureBucket {
			if err := storage.EnsureBucket(ctx); err != nil {
				return nil, err
			}
			slog.Info("bucket_ready", "bucket", cfg.MinIOBucket)
		}
		return storage, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func newTaskBus(cfg config.Config) (taskBus, error) {
	switch cfg.QueueDriver {
	case "amqp":
		return amqp.New(cfg.AMQPURL, cfg.AMQPQueue, cfg.AMQPPrefetch)
	case "nats", "":
		return nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			QueueGroup:         cfg.NATSQueueGroup,
			MaxDeliveries:      cfg.NATSMaxDeliveries,
			ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig()),
		})
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.QueueDriver)
	}
}

func (a *App) onClose(fn func(context.Context)) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}
