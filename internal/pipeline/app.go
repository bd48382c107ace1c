package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/angelmaroco/spark-tunning-ml/internal/aggregate"
	"github.com/angelmaroco/spark-tunning-ml/internal/archive"
	"github.com/angelmaroco/spark-tunning-ml/internal/metrics"
	"github.com/angelmaroco/spark-tunning-ml/internal/record"
	"github.com/angelmaroco/spark-tunning-ml/internal/sparkapi"
)

// appWork is one application's fetched and aggregated telemetry,
// handed from the fetch pool to the vector pool.
type appWork struct {
	appID   string
	appName string
	stages  int
	records []*record.VectorRecord

	// reindex marks an already-processed application claimed again
	// under forced reprocessing; its existing rows are superseded
	// before the new ones land.
	reindex bool
}

// latestAttemptID returns the attempt segment used in per-application
// URLs. The history server lists attempts newest first; client-mode
// applications have no attempt id and address resources by id alone.
func latestAttemptID(app sparkapi.Application) string {
	if len(app.Attempts) == 0 {
		return ""
	}
	return app.Attempts[0].AttemptID
}

// fetchApplication drives one application through fetch and
// aggregation and queues the result for the vector pool. Failures here
// release the claim so a later run retries the application; nothing
// has been written yet.
func (r *Runner) fetchApplication(ctx context.Context, app sparkapi.Application, out chan<- appWork, archCh chan<- archive.Payload, report *Report) {
	reindex := r.processed.Contains(app.ID)
	if !r.processed.Claim(app.ID, r.cfg.Store.ForceReprocess) {
		r.log.Debug("application already indexed", "app", app.ID)
		report.add(AppOutcome{AppID: app.ID, Status: StatusSkipped, Reason: "already indexed"})
		return
	}

	work, payload, err := r.collect(ctx, app)
	if err != nil {
		r.processed.Release(app.ID)
		if ctx.Err() != nil {
			return
		}
		r.log.Error("application fetch failed", "app", app.ID, "error", err)
		report.add(AppOutcome{AppID: app.ID, Status: StatusFailed, Reason: err.Error()})
		return
	}
	work.reindex = reindex && r.cfg.Store.ForceReprocess

	if r.archiver != nil {
		select {
		case archCh <- payload:
		case <-ctx.Done():
			r.processed.Release(app.ID)
			return
		}
	}

	select {
	case out <- work:
	case <-ctx.Done():
		r.processed.Release(app.ID)
	}
}

// collect fetches an application's telemetry and reduces every stage
// to one vector record. The archive payload carries the raw endpoint
// responses for later replay.
func (r *Runner) collect(ctx context.Context, app sparkapi.Application) (appWork, archive.Payload, error) {
	attemptID := latestAttemptID(app)
	start := time.Now()

	env, err := r.api.Environment(ctx, app.ID, attemptID)
	if err != nil {
		r.stats.RecordError(metrics.OpAPIRequest)
		return appWork{}, archive.Payload{}, err
	}
	appName := env.Property("spark.app.name")
	if appName == "" {
		appName = app.Name
	}

	stages, err := r.api.Stages(ctx, app.ID, attemptID)
	if err != nil {
		r.stats.RecordError(metrics.OpAPIRequest)
		return appWork{}, archive.Payload{}, err
	}
	if len(stages) == 0 {
		return appWork{}, archive.Payload{}, errors.New("no completed stages")
	}

	records := make([]*record.VectorRecord, 0, len(stages))
	for _, stage := range stages {
		row, err := r.reduceStage(ctx, app.ID, attemptID, appName, stage)
		if err != nil {
			return appWork{}, archive.Payload{}, err
		}

		rec, err := r.builder.Build(row)
		if err != nil {
			// A row that cannot satisfy the schema is dropped, not
			// the whole application.
			r.log.Warn("record build failed", "app", app.ID, "stage", stage.StageID, "error", err)
			continue
		}
		if len(rec.Flags) > 0 {
			r.log.Warn("record coerced", "app", app.ID, "stage", stage.StageID, "flags", rec.Flags)
		}
		records = append(records, rec)
	}

	work := appWork{
		appID:   app.ID,
		appName: appName,
		stages:  len(stages),
		records: records,
	}

	var payload archive.Payload
	if r.archiver != nil {
		payload, err = r.buildPayload(ctx, app, attemptID, env, stages)
		if err != nil {
			return appWork{}, archive.Payload{}, err
		}
	}

	r.stats.RecordTiming(metrics.OpAPIRequest, time.Since(start))
	r.log.Info("application collected",
		"app", app.ID, "name", appName,
		"stages", len(stages), "records", len(records),
		"duration_ms", time.Since(start).Milliseconds())
	return work, payload, nil
}

// reduceStage picks the stage attempt per policy and aggregates its
// task population into a feature row.
func (r *Runner) reduceStage(ctx context.Context, appID, attemptID, appName string, stage sparkapi.Stage) (aggregate.FeatureRow, error) {
	attempts, err := r.api.StageAttempts(ctx, appID, attemptID, stage.StageID)
	if err != nil {
		r.stats.RecordError(metrics.OpAPIRequest)
		return aggregate.FeatureRow{}, err
	}

	attempt, ok := aggregate.SelectAttempt(attempts, r.cfg.Aggregation.StageAttemptPolicy)
	if !ok {
		// Stage listed but no attempt detail: fall back to the
		// summary row's own scalars.
		return r.agg.Reduce(appID, appName, stage, nil), nil
	}

	switch {
	case r.cfg.Spark.TaskDetailEnabled:
		tasks := make([]sparkapi.Task, 0, len(attempt.Tasks))
		for _, t := range attempt.Tasks {
			tasks = append(tasks, t)
		}
		if len(tasks) == 0 {
			tasks, err = r.api.AllTasks(ctx, appID, attemptID, attempt.StageID, attempt.AttemptID)
			if err != nil {
				r.stats.RecordError(metrics.OpAPIRequest)
				return aggregate.FeatureRow{}, err
			}
		}
		return r.agg.Reduce(appID, appName, attempt.Stage, tasks), nil

	case r.cfg.Spark.TaskSummaryEnabled:
		summary, err := r.api.TaskSummary(ctx, appID, attemptID, attempt.StageID, attempt.AttemptID)
		if err != nil {
			r.stats.RecordError(metrics.OpAPIRequest)
			return aggregate.FeatureRow{}, err
		}
		return r.agg.ReduceSummary(appID, appName, attempt.Stage, summary), nil

	default:
		return r.agg.Reduce(appID, appName, attempt.Stage, nil), nil
	}
}

// buildPayload captures the raw endpoint responses of an application
// for archival.
func (r *Runner) buildPayload(ctx context.Context, app sparkapi.Application, attemptID string, env sparkapi.Environment, stages []sparkapi.Stage) (archive.Payload, error) {
	executors, err := r.api.Executors(ctx, app.ID, attemptID)
	if err != nil {
		return archive.Payload{}, err
	}
	jobs, err := r.api.Jobs(ctx, app.ID, attemptID)
	if err != nil {
		return archive.Payload{}, err
	}

	files := make(map[string][]byte, 4)
	for name, v := range map[string]any{
		"environment.json": env,
		"stages.json":      stages,
		"executors.json":   executors,
		"jobs.json":        jobs,
	} {
		raw, err := json.Marshal(v)
		if err != nil {
			return archive.Payload{}, err
		}
		files[name] = raw
	}
	return archive.Payload{AppID: app.ID, Files: files}, nil
}

// loadApplication embeds an application's records and writes them to
// the store, then marks the application processed. A dimension
// mismatch between embedder output and schema is fatal and aborts the
// run; everything else releases the claim and records a failure.
func (r *Runner) loadApplication(ctx context.Context, w appWork, report *Report) error {
	if w.reindex {
		// Supersede before anything else, even when the reprocess
		// produced no loadable records: the old rows must never
		// outlive the rerun that replaced them. Clear the durable
		// mark first: if the run dies between the delete and the
		// re-insert, the next run must refetch rather than trust a
		// mark whose rows are gone.
		if err := r.processed.Forget(ctx, w.appID); err != nil {
			r.processed.Release(w.appID)
			report.add(AppOutcome{AppID: w.appID, Status: StatusFailed, Reason: err.Error()})
			return nil
		}
		if err := r.store.DeleteApplication(ctx, w.appID); err != nil {
			r.processed.Release(w.appID)
			report.add(AppOutcome{AppID: w.appID, Status: StatusFailed, Reason: err.Error()})
			return nil
		}
	}

	if len(w.records) == 0 {
		// Claimed but produced nothing loadable. Still mark it done
		// so the next run does not refetch a known-empty application.
		if err := r.processed.Complete(ctx, w.appID, w.stages, 0); err != nil {
			r.processed.Release(w.appID)
			report.add(AppOutcome{AppID: w.appID, Status: StatusFailed, Reason: err.Error()})
			return nil
		}
		report.add(AppOutcome{AppID: w.appID, Status: StatusIndexed, Stages: w.stages})
		return nil
	}

	batch := r.cfg.Store.BatchSize
	for i := 0; i < len(w.records); i += batch {
		j := i + batch
		if j > len(w.records) {
			j = len(w.records)
		}
		chunk := w.records[i:j]

		texts := make([]string, len(chunk))
		for k, rec := range chunk {
			texts[k] = rec.Text
		}

		start := time.Now()
		vectors, err := r.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			r.stats.RecordError(metrics.OpEmbedding)
			return r.failLoad(ctx, w, report, err)
		}
		r.stats.RecordTiming(metrics.OpEmbedding, time.Since(start))

		for k, rec := range chunk {
			if err := r.builder.SetVector(rec, vectors[k]); err != nil {
				// Wrong dimension would corrupt every following
				// application the same way.
				r.processed.Release(w.appID)
				report.add(AppOutcome{AppID: w.appID, Status: StatusFailed, Reason: err.Error()})
				return err
			}
		}

		start = time.Now()
		if err := r.store.Insert(ctx, chunk); err != nil {
			r.stats.RecordError(metrics.OpStoreWrite)
			return r.failLoad(ctx, w, report, err)
		}
		r.stats.RecordTiming(metrics.OpStoreWrite, time.Since(start))
	}

	if err := r.processed.Complete(ctx, w.appID, w.stages, len(w.records)); err != nil {
		return r.failLoad(ctx, w, report, err)
	}

	r.log.Info("application indexed", "app", w.appID, "stages", w.stages, "records", len(w.records))
	report.add(AppOutcome{AppID: w.appID, Status: StatusIndexed, Stages: w.stages, Records: len(w.records)})
	return nil
}

// failLoad rolls back a partially written application: its rows are
// deleted best-effort and the claim released so a later run retries
// from scratch.
func (r *Runner) failLoad(ctx context.Context, w appWork, report *Report, cause error) error {
	if ctx.Err() == nil {
		if err := r.store.DeleteApplication(ctx, w.appID); err != nil {
			r.log.Warn("rollback failed", "app", w.appID, "error", err)
		}
	}
	r.processed.Release(w.appID)
	if ctx.Err() != nil {
		return nil
	}
	r.log.Error("application load failed", "app", w.appID, "error", cause)
	report.add(AppOutcome{AppID: w.appID, Status: StatusFailed, Reason: cause.Error()})
	return nil
}
