package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/Spok95/streampoints/internal/config"
	"github.com/Spok95/streampoints/internal/db"
	"github.com/Spok95/streampoints/internal/filestore"
	"github.com/Spok95/streampoints/internal/models"
	"github.com/Spok95/streampoints/internal/points"
	"go.uber.org/zap"
)

type settingsStore interface {
	points.SettingsProvider
	SaveSettings(ctx context.Context, tenant string, st models.Settings) error
}

// backend — выбранное хранилище со всем, что к нему прилагается.
type backend struct {
	store    points.Store
	settings settingsStore
	history  points.HistoryStore
	health   func(ctx context.Context) error
	close    func()
}

func openBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backend, error) {
	switch cfg.Storage {
	case config.StoragePostgres:
		database, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		st := db.NewStore(database, cfg.Points)
		log.Debug("postgres storage ready")
		return &backend{
			store:    st,
			settings: st,
			history:  st,
			health:   func(ctx context.Context) error { return db.Ping(ctx, database) },
			close:    func() { _ = database.Close() },
		}, nil
	default:
		st, err := filestore.New(cfg.DataDir, cfg.Points)
		if err != nil {
			return nil, err
		}
		log.Debug("file storage ready", zap.String("dir", cfg.DataDir))
		return &backend{
			store:    st,
			settings: st,
			history:  st,
			health: func(context.Context) error {
				_, err := os.Stat(cfg.DataDir)
				return err
			},
			close: func() {},
		}, nil
	}
}

func (b *backend) service(cfg *config.Config, log *zap.Logger) *points.Service {
	return points.NewService(b.store, b.settings, log, cfg.Location).WithHistory(b.history)
}

func migrateOnly(ctx context.Context, cfg *config.Config) error {
	if cfg.Storage != config.StoragePostgres {
		return fmt.Errorf("migrate needs STORAGE=%s", config.StoragePostgres)
	}
	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func(d *sql.DB) { _ = d.Close() }(database)
	return db.Migrate(ctx, database)
}
