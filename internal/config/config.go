// Package config loads pipeline configuration from a YAML file with
// environment overrides for secrets and connection endpoints.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldKind enumerates the value kinds a collection field may declare.
type FieldKind string

const (
	KindInt64       FieldKind = "int64"
	KindFloat64     FieldKind = "float64"
	KindVarChar     FieldKind = "varchar"
	KindFloatVector FieldKind = "float_vector"
)

// FieldSpec declares one field of the vector collection schema.
type FieldSpec struct {
	Name        string    `yaml:"name"`
	Kind        FieldKind `yaml:"kind"`
	MaxLength   int       `yaml:"max_length"`
	Dim         int       `yaml:"dim"`
	Nullable    bool      `yaml:"nullable"`
	PrimaryKey  bool      `yaml:"primary_key"`
	AutoID      bool      `yaml:"auto_id"`
	Description string    `yaml:"description"`
}

// SparkConfig holds Spark history server API settings.
type SparkConfig struct {
	CompatibleVersions []string `yaml:"compatible_versions"`
	AppsLimit          int      `yaml:"apps_limit"`
	UserFilter         string   `yaml:"user_filter"`
	LoadApplications   bool     `yaml:"load_applications"`
	TaskDetailEnabled  bool     `yaml:"task_detail_enabled"`
	TaskSummaryEnabled bool     `yaml:"task_summary_enabled"`
	MaxConcurrencyAPI  int      `yaml:"max_concurrency_api"`
	Debug              struct {
		Enabled bool `yaml:"enabled"`
		MaxApps int  `yaml:"max_apps"`
	} `yaml:"debug"`
}

// AggregationConfig selects task metrics and aggregate functions.
type AggregationConfig struct {
	Metrics            []string `yaml:"metrics"`
	Functions          []string `yaml:"functions"`
	StageColumns       []string `yaml:"stage_columns"`
	StageAttemptPolicy string   `yaml:"stage_attempt_policy"`
}

// StoreConfig holds vector store connection and load settings.
type StoreConfig struct {
	URL                  string      `yaml:"url"`
	Namespace            string      `yaml:"namespace"`
	Database             string      `yaml:"database"`
	User                 string      `yaml:"user"`
	Pass                 string      `yaml:"-"`
	Collection           string      `yaml:"collection"`
	ForceRebuildSchema   bool        `yaml:"force_rebuild_schema"`
	ForceReprocess       bool        `yaml:"force_reprocess"`
	MaxConcurrencyVector int         `yaml:"max_concurrency_vector"`
	BatchSize            int         `yaml:"batch_size"`
	Fields               []FieldSpec `yaml:"fields"`
}

// EmbeddingConfig selects the embedding provider and model.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	Host      string `yaml:"host"`
	APIKey    string `yaml:"-"`
}

// ArchiveConfig holds blob archival settings.
type ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Compress        bool   `yaml:"compress"`
	ForceRemove     bool   `yaml:"force_remove"`
	UploadWorkers   int    `yaml:"upload_workers"`
	DownloadWorkers int    `yaml:"download_workers"`
}

// LogConfig holds logging output settings.
type LogConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// Config holds all configuration values for a pipeline run.
type Config struct {
	ProcessName string            `yaml:"process_name"`
	Spark       SparkConfig       `yaml:"spark"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Store       StoreConfig       `yaml:"store"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Log         LogConfig         `yaml:"log"`
}

// CollectionName returns the store table name for the active process,
// namespacing the base collection by process name.
func (c Config) CollectionName() string {
	return fmt.Sprintf("%s_%s", c.Store.Collection, c.ProcessName)
}

// ProcessedTableName returns the table tracking already-indexed
// applications for the active process.
func (c Config) ProcessedTableName() string {
	return fmt.Sprintf("processed_apps_%s", c.ProcessName)
}

// LogLevel parses the configured level, defaulting to info.
func (c Config) LogLevel() slog.Level {
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns the configuration used when no file is provided.
func Default() Config {
	cfg := Config{
		ProcessName: "sparktune",
		Spark: SparkConfig{
			CompatibleVersions: []string{"3.3.0", "3.3.1", "3.4.0", "3.4.1", "3.5.0"},
			AppsLimit:          100,
			LoadApplications:   true,
			TaskDetailEnabled:  true,
			MaxConcurrencyAPI:  4,
		},
		Aggregation: AggregationConfig{
			Metrics: []string{
				"executorRunTime",
				"executorCpuTime",
				"executorDeserializeTime",
				"jvmGcTime",
				"memoryBytesSpilled",
				"diskBytesSpilled",
				"shuffleReadMetrics.remoteBytesRead",
				"shuffleReadMetrics.localBytesRead",
				"shuffleReadMetrics.recordsRead",
				"shuffleWriteMetrics.bytesWritten",
				"shuffleWriteMetrics.recordsWritten",
			},
			Functions: []string{"min", "max", "sum", "mean", "std"},
			StageColumns: []string{
				"stageId", "numTasks", "inputBytes", "outputBytes",
				"shuffleReadBytes", "shuffleWriteBytes", "executorRunTime",
			},
			StageAttemptPolicy: "latest",
		},
		Store: StoreConfig{
			URL:                  "ws://localhost:8000/rpc",
			Namespace:            "sparktune",
			Database:             "metrics",
			User:                 "root",
			Collection:           "spark_metrics",
			MaxConcurrencyVector: 2,
			BatchSize:            256,
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "all-minilm:l6-v2",
			Dimension: 384,
			Host:      "http://localhost:11434",
		},
		Archive: ArchiveConfig{
			Bucket:          "sparktune-raw",
			Region:          "eu-west-1",
			Compress:        true,
			UploadWorkers:   4,
			DownloadWorkers: 4,
		},
		Log: LogConfig{
			File:  "/tmp/sparktune.log",
			Level: "INFO",
		},
	}
	return cfg
}

// Load reads configuration from path, falling back to defaults when
// path is empty, then applies environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides secrets and endpoints from the environment.
func applyEnv(cfg *Config) {
	cfg.Store.URL = getEnv("SPARKTUNE_STORE_URL", cfg.Store.URL)
	cfg.Store.User = getEnv("SPARKTUNE_STORE_USER", cfg.Store.User)
	cfg.Store.Pass = getEnv("SPARKTUNE_STORE_PASS", cfg.Store.Pass)
	cfg.Embedding.Host = getEnv("SPARKTUNE_EMBEDDING_HOST", cfg.Embedding.Host)
	cfg.Embedding.APIKey = getEnv("SPARKTUNE_EMBEDDING_API_KEY", cfg.Embedding.APIKey)
	cfg.Log.File = getEnv("SPARKTUNE_LOG_FILE", cfg.Log.File)
	cfg.Log.Level = getEnv("SPARKTUNE_LOG_LEVEL", cfg.Log.Level)
	cfg.ProcessName = getEnv("SPARKTUNE_PROCESS_NAME", cfg.ProcessName)
}

// Validate checks invariants that must hold before a run starts.
func (c Config) Validate() error {
	if c.ProcessName == "" {
		return fmt.Errorf("process_name is required")
	}
	if len(c.Spark.CompatibleVersions) == 0 {
		return fmt.Errorf("spark.compatible_versions must not be empty")
	}
	if c.Spark.MaxConcurrencyAPI <= 0 {
		return fmt.Errorf("spark.max_concurrency_api must be positive")
	}
	if c.Store.MaxConcurrencyVector <= 0 {
		return fmt.Errorf("store.max_concurrency_vector must be positive")
	}
	if c.Store.BatchSize <= 0 {
		return fmt.Errorf("store.batch_size must be positive")
	}
	if len(c.Aggregation.Metrics) == 0 {
		return fmt.Errorf("aggregation.metrics must not be empty")
	}
	for _, fn := range c.Aggregation.Functions {
		switch fn {
		case "min", "max", "sum", "mean", "std":
		default:
			return fmt.Errorf("aggregation.functions: unknown function %q", fn)
		}
	}
	switch c.Aggregation.StageAttemptPolicy {
	case "", "latest", "first":
	default:
		return fmt.Errorf("aggregation.stage_attempt_policy: unknown policy %q", c.Aggregation.StageAttemptPolicy)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
