package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/angelmaroco/spark-tunning-ml/internal/aggregate"
	"github.com/angelmaroco/spark-tunning-ml/internal/archive"
	"github.com/angelmaroco/spark-tunning-ml/internal/audit"
	"github.com/angelmaroco/spark-tunning-ml/internal/config"
	"github.com/angelmaroco/spark-tunning-ml/internal/embedding"
	"github.com/angelmaroco/spark-tunning-ml/internal/metrics"
	"github.com/angelmaroco/spark-tunning-ml/internal/record"
	"github.com/angelmaroco/spark-tunning-ml/internal/sparkapi"
)

// HistoryAPI is the slice of the history server client the pipeline
// consumes. Satisfied by *sparkapi.Client.
type HistoryAPI interface {
	CheckVersion(ctx context.Context, allowed []string) (string, error)
	ListApplications(ctx context.Context, limit int, userFilter string) ([]sparkapi.Application, error)
	Environment(ctx context.Context, appID, attemptID string) (sparkapi.Environment, error)
	Executors(ctx context.Context, appID, attemptID string) ([]sparkapi.ExecutorSummary, error)
	Jobs(ctx context.Context, appID, attemptID string) ([]sparkapi.Job, error)
	Stages(ctx context.Context, appID, attemptID string) ([]sparkapi.Stage, error)
	StageAttempts(ctx context.Context, appID, attemptID string, stageID int64) ([]sparkapi.StageDetail, error)
	AllTasks(ctx context.Context, appID, attemptID string, stageID int64, stageAttempt int) ([]sparkapi.Task, error)
	TaskSummary(ctx context.Context, appID, attemptID string, stageID int64, stageAttempt int) (sparkapi.TaskSummary, error)
}

// Store is the slice of the vector store client the pipeline consumes.
// Satisfied by *vectorstore.Client.
type Store interface {
	audit.Ledger

	EnsureCollection(ctx context.Context, schema record.Schema, forceRebuild bool) error
	Insert(ctx context.Context, records []*record.VectorRecord) error
	DeleteApplication(ctx context.Context, appID string) error
}

// Uploader archives raw telemetry payloads. Satisfied by
// *archive.Archiver.
type Uploader interface {
	UploadPayload(ctx context.Context, payload archive.Payload)
}

// Runner wires fetch, aggregation, embedding and loading together. The
// fetch side runs under the API concurrency budget, the embed-and-load
// side under the vector budget, and archival under its own worker
// count. The three budgets never share a limit.
type Runner struct {
	cfg      config.Config
	api      HistoryAPI
	store    Store
	embedder embedding.Embedder
	archiver Uploader

	schema    record.Schema
	agg       *aggregate.Aggregator
	builder   *record.Builder
	processed *audit.Set
	stats     *metrics.Collector
	log       *slog.Logger
}

// NewRunner validates configuration-derived components up front so a
// bad metric path or field spec fails before any network traffic.
// archiver may be nil when archival is disabled.
func NewRunner(cfg config.Config, api HistoryAPI, store Store, embedder embedding.Embedder, archiver Uploader, stats *metrics.Collector, log *slog.Logger) (*Runner, error) {
	schema, err := record.ResolveSchema(cfg.CollectionName(), cfg.Store.Fields)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}

	agg, err := aggregate.New(cfg.Aggregation.Metrics, cfg.Aggregation.Functions, cfg.Aggregation.StageColumns)
	if err != nil {
		return nil, fmt.Errorf("build aggregator: %w", err)
	}

	if embedder.Dimension() != schema.Dimension() {
		return nil, fmt.Errorf("embedding dimension %d does not match schema dimension %d", embedder.Dimension(), schema.Dimension())
	}

	if stats == nil {
		stats = metrics.NewCollector()
	}
	if log == nil {
		log = slog.Default()
	}

	return &Runner{
		cfg:       cfg,
		api:       api,
		store:     store,
		embedder:  embedder,
		archiver:  archiver,
		schema:    schema,
		agg:       agg,
		builder:   record.NewBuilder(schema),
		processed: audit.NewSet(store),
		stats:     stats,
		log:       log,
	}, nil
}

// Run executes one full ingestion cycle and returns its report. The
// returned error is non-nil only for fatal conditions: unsupported
// server version, incompatible collection schema, or an embedding
// dimension that contradicts the declared schema. Per-application
// failures are recorded in the report and do not fail the run.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{}
	log := r.log.With("run_id", uuid.NewString())

	// CheckVersion reports the server version even when it is
	// rejected, so the report carries it either way.
	version, err := r.api.CheckVersion(ctx, r.cfg.Spark.CompatibleVersions)
	report.SparkVersion = version
	if err != nil {
		return report, err
	}
	log.Info("spark version supported", "version", version)

	if err := r.store.EnsureCollection(ctx, r.schema, r.cfg.Store.ForceRebuildSchema); err != nil {
		return report, err
	}

	// The processed set is rebuilt from the store on every run, never
	// trusted across restarts.
	if err := r.processed.Refresh(ctx); err != nil {
		return report, fmt.Errorf("refresh processed set: %w", err)
	}
	log.Info("processed set refreshed", "applications", r.processed.Len())

	if !r.cfg.Spark.LoadApplications {
		log.Info("application loading disabled, nothing to ingest")
		return report, nil
	}

	apps, err := r.api.ListApplications(ctx, r.cfg.Spark.AppsLimit, r.cfg.Spark.UserFilter)
	if err != nil {
		return report, err
	}
	if r.cfg.Spark.Debug.Enabled && r.cfg.Spark.Debug.MaxApps > 0 && len(apps) > r.cfg.Spark.Debug.MaxApps {
		apps = apps[:r.cfg.Spark.Debug.MaxApps]
	}
	log.Info("applications discovered", "count", len(apps))

	archCh, archDone := r.startArchiveWorkers(ctx)

	g, gctx := errgroup.WithContext(ctx)
	work := make(chan appWork, r.cfg.Store.MaxConcurrencyVector*2)

	g.Go(func() error {
		defer close(work)

		fetch, fctx := errgroup.WithContext(gctx)
		fetch.SetLimit(r.cfg.Spark.MaxConcurrencyAPI)
		for _, app := range apps {
			app := app
			fetch.Go(func() error {
				r.fetchApplication(fctx, app, work, archCh, report)
				return fctx.Err()
			})
		}
		return fetch.Wait()
	})

	for i := 0; i < r.cfg.Store.MaxConcurrencyVector; i++ {
		g.Go(func() error {
			for w := range work {
				if err := r.loadApplication(gctx, w, report); err != nil {
					return err
				}
			}
			return nil
		})
	}

	runErr := g.Wait()

	close(archCh)
	<-archDone

	log.Info("run finished", "version", version, "summary", report.Summary())
	return report, runErr
}

// startArchiveWorkers spins up the archival pool when an uploader is
// configured. Archival runs on its own worker count and its failures
// never surface into the run result.
func (r *Runner) startArchiveWorkers(ctx context.Context) (chan<- archive.Payload, <-chan struct{}) {
	ch := make(chan archive.Payload, 16)
	done := make(chan struct{})

	if r.archiver == nil {
		go func() {
			for range ch {
			}
			close(done)
		}()
		return ch, done
	}

	workers := r.cfg.Archive.UploadWorkers
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for payload := range ch {
				r.archiver.UploadPayload(ctx, payload)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	return ch, done
}
