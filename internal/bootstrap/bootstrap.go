// Package bootstrap provides dependency initialization for the MelodyMind API.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/melodymind/melodymind-api/internal/config"
	"github.com/melodymind/melodymind-api/internal/media"
	"github.com/melodymind/melodymind-api/internal/pipeline"
	"github.com/melodymind/melodymind-api/internal/storage"
	"github.com/melodymind/melodymind-api/internal/suno"
	"github.com/melodymind/melodymind-api/internal/task"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Provider     suno.Client
	Orchestrator *pipeline.Orchestrator
	Tasks        task.Repository
	Files        storage.Store
	Endpoints    pipeline.Endpoints

	db *sql.DB
}

// Close releases held resources.
func (d *Dependencies) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	files, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	db, err := task.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	tasks := task.NewSQLiteRepository(db)
	if err := tasks.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("task store schema: %w", err)
	}

	provider, err := suno.NewClient(cfg.SunoAPIKey, suno.WithBaseURL(cfg.SunoBaseURL))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create Suno client: %w", err)
	}

	fetcher := media.NewHTTPFetcher(files, media.WithTimeout(cfg.DownloadTimeout))

	endpoints := pipeline.Endpoints{
		CallbackURL:  cfg.CallbackURL(),
		MediaBaseURL: cfg.MediaBaseURL(),
		DomainName:   cfg.BaseURL,
	}

	orch := pipeline.NewOrchestrator(tasks, fetcher, provider, endpoints, logger)

	return &Dependencies{
		Provider:     provider,
		Orchestrator: orch,
		Tasks:        tasks,
		Files:        files,
		Endpoints:    endpoints,
		db:           db,
	}, nil
}

// initStorage creates the appropriate media store based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Store(cfg.MediaDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 media store: %w", err)
		}
		logger.Info("S3 media mirror configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	local, err := storage.NewLocal(cfg.MediaDir)
	if err != nil {
		return nil, fmt.Errorf("create local media store: %w", err)
	}
	logger.Info("local media store configured",
		slog.String("media_dir", cfg.MediaDir),
	)
	return local, nil
}
