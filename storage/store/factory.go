package store

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"logpipe/config"
	"logpipe/storage/store/migrations"
)

// NewStore creates the store selected by cfg.Type.
func NewStore(ctx context.Context, cfg config.StoreConfig, logger *log.Entry) (Store, error) {
	logger = logger.WithField("store", cfg.Type)

	switch cfg.Type {
	case config.StorePostgres:
		s, err := NewPostgresStore(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := migrations.RunMigrationsUp(cfg.DSN, logger); err != nil {
				_ = s.Close()
				return nil, err
			}
		}
		return s, nil
	case config.StoreSQLite:
		return NewSQLiteStore(ctx, cfg.Path, logger)
	case config.StoreDatastore:
		return NewDatastoreStore(ctx, cfg.ProjectID, cfg.CredentialsFile, logger)
	case config.StoreMemory:
		return NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}
