package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/angelmaroco/spark-tunning-ml/internal/archive"
	"github.com/angelmaroco/spark-tunning-ml/internal/metrics"
)

var archiveDir string

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Move raw telemetry payloads between disk and blob storage",
}

var archiveUploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload a directory of per-application payloads to the archive bucket",
	Long: `Upload walks a directory laid out as {appId}/{file} and uploads every
file to the configured bucket under the process prefix. Failures are
logged and counted; the command only errors when nothing could be
read.`,
	RunE: runArchiveUpload,
}

var archiveDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download archived payloads into a local directory",
	RunE:  runArchiveDownload,
}

func init() {
	archiveUploadCmd.Flags().StringVar(&archiveDir, "dir", ".", "directory of per-application payloads")
	archiveDownloadCmd.Flags().StringVar(&archiveDir, "dir", ".", "directory to write payloads into")
	archiveCmd.AddCommand(archiveUploadCmd)
	archiveCmd.AddCommand(archiveDownloadCmd)
}

func newArchiver(cmd *cobra.Command) (*archive.Archiver, error) {
	blobs, err := archive.NewS3Store(cmd.Context(), cfg.Archive.Bucket, cfg.Archive.Region)
	if err != nil {
		return nil, fmt.Errorf("init archive store: %w", err)
	}
	return archive.New(blobs, archive.Config{
		Prefix:          cfg.ProcessName,
		Compress:        cfg.Archive.Compress,
		ForceRemove:     cfg.Archive.ForceRemove,
		UploadWorkers:   cfg.Archive.UploadWorkers,
		DownloadWorkers: cfg.Archive.DownloadWorkers,
	}, logger, metrics.NewCollector()), nil
}

func runArchiveUpload(cmd *cobra.Command, args []string) error {
	archiver, err := newArchiver(cmd)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(archiveDir)
	if err != nil {
		return fmt.Errorf("read payload directory: %w", err)
	}

	var payloads int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		appID := entry.Name()
		appDir := filepath.Join(archiveDir, appID)

		files, err := os.ReadDir(appDir)
		if err != nil {
			logger.Warn("skipping unreadable application directory", "dir", appDir, "error", err)
			continue
		}

		payload := archive.Payload{AppID: appID, Files: make(map[string][]byte, len(files))}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(appDir, f.Name()))
			if err != nil {
				logger.Warn("skipping unreadable payload file", "file", f.Name(), "error", err)
				continue
			}
			payload.Files[f.Name()] = raw
		}
		if len(payload.Files) == 0 {
			continue
		}

		archiver.UploadPayload(cmd.Context(), payload)
		payloads++
	}

	if payloads == 0 {
		return fmt.Errorf("no payloads found under %s", archiveDir)
	}
	fmt.Printf("Uploaded %d files from %d applications (%d failed)\n", archiver.Uploaded(), payloads, archiver.Failed())
	return nil
}

func runArchiveDownload(cmd *cobra.Command, args []string) error {
	archiver, err := newArchiver(cmd)
	if err != nil {
		return err
	}

	files, err := archiver.DownloadAll(cmd.Context())
	if err != nil {
		return err
	}

	for key, data := range files {
		path := filepath.Join(archiveDir, filepath.FromSlash(key))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	fmt.Printf("Downloaded %d files into %s\n", len(files), archiveDir)
	return nil
}
