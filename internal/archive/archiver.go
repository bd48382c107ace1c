// Package archive uploads raw application payloads to blob storage.
// Archival is best-effort: failures are logged and never block or
// abort the indexing path.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmaroco/spark-tunning-ml/internal/metrics"
)

// Payload is one application's raw fetched telemetry, keyed by
// relative blob name (e.g. "stages/raw.json").
type Payload struct {
	AppID string
	Files map[string][]byte
}

// BlobStore is the subset of blob operations the archiver needs.
// *S3Store implements it; tests supply fakes.
type BlobStore interface {
	Put(ctx context.Context, key string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// Config holds archiver settings.
type Config struct {
	// Prefix namespaces all keys, normally the process name.
	Prefix string

	// Compress gzips payload files before upload.
	Compress bool

	// ForceRemove deletes an application's existing blobs before
	// uploading fresh ones.
	ForceRemove bool

	// UploadWorkers and DownloadWorkers bound concurrent blob I/O,
	// independent of the API and vector budgets.
	UploadWorkers   int
	DownloadWorkers int
}

// Archiver uploads and downloads application payloads with bounded
// concurrency.
type Archiver struct {
	store BlobStore
	cfg   Config
	log   *slog.Logger
	stats *metrics.Collector

	uploaded atomic.Int64
	failed   atomic.Int64
}

// New creates an archiver over the given blob store.
func New(store BlobStore, cfg Config, log *slog.Logger, stats *metrics.Collector) *Archiver {
	if cfg.UploadWorkers <= 0 {
		cfg.UploadWorkers = 4
	}
	if cfg.DownloadWorkers <= 0 {
		cfg.DownloadWorkers = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Archiver{store: store, cfg: cfg, log: log, stats: stats}
}

// Uploaded returns the number of blobs uploaded so far.
func (a *Archiver) Uploaded() int64 { return a.uploaded.Load() }

// Failed returns the number of failed blob operations so far.
func (a *Archiver) Failed() int64 { return a.failed.Load() }

// key builds the blob key for one payload file.
func (a *Archiver) key(appID, name string) string {
	if a.cfg.Compress {
		name += ".gz"
	}
	return path.Join(a.cfg.Prefix, appID, name)
}

// UploadPayload uploads every file of one application payload. Errors
// are logged and counted, never returned as failures of the run.
func (a *Archiver) UploadPayload(ctx context.Context, payload Payload) {
	if a.cfg.ForceRemove {
		a.removeExisting(ctx, payload.AppID)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.UploadWorkers)

	for name, data := range payload.Files {
		g.Go(func() error {
			body := data
			if a.cfg.Compress {
				var err error
				body, err = gzipBytes(data)
				if err != nil {
					a.fail(payload.AppID, name, err)
					return nil
				}
			}

			start := time.Now()
			err := a.store.Put(gctx, a.key(payload.AppID, name), body)
			if a.stats != nil {
				a.stats.RecordTiming(metrics.OpArchiveUp, time.Since(start))
			}
			if err != nil {
				a.fail(payload.AppID, name, err)
				return nil
			}
			a.uploaded.Add(1)
			return nil
		})
	}
	// Workers swallow errors; Wait only observes context cancellation.
	_ = g.Wait()
}

func (a *Archiver) fail(appID, name string, err error) {
	a.failed.Add(1)
	if a.stats != nil {
		a.stats.RecordError(metrics.OpArchiveUp)
	}
	a.log.Warn("archive upload failed", "app_id", appID, "file", name, "error", err)
}

// removeExisting deletes an application's blobs ahead of re-upload.
func (a *Archiver) removeExisting(ctx context.Context, appID string) {
	prefix := path.Join(a.cfg.Prefix, appID) + "/"
	keys, err := a.store.List(ctx, prefix)
	if err != nil {
		a.log.Warn("archive list failed", "app_id", appID, "error", err)
		return
	}
	for _, key := range keys {
		if err := a.store.Delete(ctx, key); err != nil {
			a.log.Warn("archive delete failed", "key", key, "error", err)
		}
	}
}

// DownloadAll fetches every blob under the configured prefix,
// decompressing when compression is enabled. Returns the payload files
// keyed by app-relative name.
func (a *Archiver) DownloadAll(ctx context.Context) (map[string][]byte, error) {
	keys, err := a.store.List(ctx, a.cfg.Prefix+"/")
	if err != nil {
		return nil, fmt.Errorf("list archive blobs: %w", err)
	}

	out := make(map[string][]byte, len(keys))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.DownloadWorkers)
	for _, key := range keys {
		g.Go(func() error {
			start := time.Now()
			body, err := a.store.Get(gctx, key)
			if a.stats != nil {
				a.stats.RecordTiming(metrics.OpArchiveDown, time.Since(start))
			}
			if err != nil {
				if a.stats != nil {
					a.stats.RecordError(metrics.OpArchiveDown)
				}
				a.log.Warn("archive download failed", "key", key, "error", err)
				return nil
			}

			name := key[len(a.cfg.Prefix)+1:]
			if a.cfg.Compress {
				body, err = gunzipBytes(body)
				if err != nil {
					a.log.Warn("archive decompress failed", "key", key, "error", err)
					return nil
				}
				name = trimGz(name)
			}
			mu.Lock()
			out[name] = body
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func trimGz(name string) string {
	if len(name) > 3 && name[len(name)-3:] == ".gz" {
		return name[:len(name)-3]
	}
	return name
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
