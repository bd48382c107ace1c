package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/angelmaroco/spark-tunning-ml/internal/archive"
	"github.com/angelmaroco/spark-tunning-ml/internal/embedding"
	"github.com/angelmaroco/spark-tunning-ml/internal/metrics"
	"github.com/angelmaroco/spark-tunning-ml/internal/pipeline"
	"github.com/angelmaroco/spark-tunning-ml/internal/sparkapi"
	"github.com/angelmaroco/spark-tunning-ml/internal/vectorstore"
)

var (
	sparkAPIURL        string
	appsLimit          int
	forceReprocess     bool
	forceRebuildSchema bool
	showFailed         bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Ingest Spark telemetry and index it into the vector collection",
	Long: `Index fetches completed applications from the history server, skips
the ones already recorded as processed, aggregates each remaining
application's stages, embeds them, and loads the records. Applications
that fail are reported and retried on the next run; they never abort
the run.`,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVar(&sparkAPIURL, "sparkui-api-url", "", "Spark history server API root, e.g. http://spark-history:18080/api/v1")
	indexCmd.Flags().IntVar(&appsLimit, "limit", 0, "override the configured application limit")
	indexCmd.Flags().BoolVar(&forceReprocess, "force-reprocess", false, "reindex applications already recorded as processed")
	indexCmd.Flags().BoolVar(&forceRebuildSchema, "force-rebuild-schema", false, "drop and recreate the collection before indexing")
	indexCmd.Flags().BoolVar(&showFailed, "show-failed", false, "list failed applications after the run")
	_ = indexCmd.MarkFlagRequired("sparkui-api-url")
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if appsLimit > 0 {
		cfg.Spark.AppsLimit = appsLimit
	}
	if forceReprocess {
		cfg.Store.ForceReprocess = true
	}
	if forceRebuildSchema {
		cfg.Store.ForceRebuildSchema = true
	}

	api := sparkapi.NewClient(sparkapi.Config{
		BaseURL:        sparkAPIURL,
		MaxConcurrency: cfg.Spark.MaxConcurrencyAPI,
	}, logger)

	store, err := vectorstore.NewClient(ctx, vectorstore.Config{
		URL:            cfg.Store.URL,
		Namespace:      cfg.Store.Namespace,
		Database:       cfg.Store.Database,
		Username:       cfg.Store.User,
		Password:       cfg.Store.Pass,
		Collection:     cfg.CollectionName(),
		ProcessedTable: cfg.ProcessedTableName(),
	}, logger)
	if err != nil {
		return fmt.Errorf("connect to vector store: %w", err)
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Warn("close vector store", "error", err)
		}
	}()

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		return fmt.Errorf("init embedder: %w", err)
	}

	stats := metrics.NewCollector()

	var archiver pipeline.Uploader
	if cfg.Archive.Enabled {
		blobs, err := archive.NewS3Store(ctx, cfg.Archive.Bucket, cfg.Archive.Region)
		if err != nil {
			return fmt.Errorf("init archive store: %w", err)
		}
		archiver = archive.New(blobs, archive.Config{
			Prefix:          cfg.ProcessName,
			Compress:        cfg.Archive.Compress,
			ForceRemove:     cfg.Archive.ForceRemove,
			UploadWorkers:   cfg.Archive.UploadWorkers,
			DownloadWorkers: cfg.Archive.DownloadWorkers,
		}, logger, stats)
	}

	runner, err := pipeline.NewRunner(cfg, api, store, embedder, archiver, stats, logger)
	if err != nil {
		return err
	}

	report, err := runner.Run(ctx)
	if err != nil {
		if errors.Is(err, sparkapi.ErrUnsupportedVersion) {
			return fmt.Errorf("history server version %q is not in the compatible list %v", report.SparkVersion, cfg.Spark.CompatibleVersions)
		}
		return err
	}

	indexed, skipped, failed, records := report.Counts()
	fmt.Printf("Spark version: %s\n", report.SparkVersion)
	fmt.Printf("Indexed:  %d applications (%d records)\n", indexed, records)
	fmt.Printf("Skipped:  %d already processed\n", skipped)
	fmt.Printf("Failed:   %d\n", failed)

	snapshot, uptime := stats.Snapshot()
	for op, s := range snapshot {
		logger.Info("operation stats", "op", op,
			"count", s.Count, "errors", s.Errors,
			"avg_ms", s.AvgTimeMs, "min_ms", s.MinTimeMs, "max_ms", s.MaxTimeMs)
	}
	logger.Info("run complete", "uptime_s", uptime)

	if showFailed && failed > 0 {
		fmt.Fprintln(os.Stderr, "Failed applications:")
		for _, o := range report.Outcomes() {
			if o.Status == pipeline.StatusFailed {
				fmt.Fprintf(os.Stderr, "  %s: %s\n", o.AppID, o.Reason)
			}
		}
	}
	return nil
}
