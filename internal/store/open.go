package store

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hpungsan/kapy/internal/config"
	"github.com/hpungsan/kapy/internal/db"
	"github.com/hpungsan/kapy/internal/errors"
	"github.com/hpungsan/kapy/internal/logging"
	"github.com/hpungsan/kapy/internal/record"
)

// Open builds the backend selected by cfg.StoreBackend rooted at memoriesDir.
// Every store opened by one process shares a single writer salt.
func Open(cfg *config.Config, memoriesDir string, logger *zap.Logger) (Store, error) {
	logger = logging.OrNop(logger)
	gen := record.NewGenerator(record.NewWriterSalt())

	backend := config.BackendFolder
	if cfg != nil && cfg.StoreBackend != "" {
		backend = cfg.StoreBackend
	}

	switch backend {
	case config.BackendFolder:
		s, err := NewFolder(memoriesDir, gen, logger)
		if err != nil {
			return nil, err
		}
		logger.Debug("opened folder store", zap.String("root", memoriesDir), zap.String("writer", gen.Salt()))
		return s, nil
	case config.BackendSQLite:
		database, err := db.Init(memoriesDir)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		db.ConfigurePool(database, cfg)
		logger.Debug("opened sqlite store", zap.String("root", memoriesDir), zap.String("writer", gen.Salt()))
		return NewSQLite(database, gen, logger), nil
	default:
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown store backend %q (want %q or %q)", backend, config.BackendFolder, config.BackendSQLite))
	}
}
