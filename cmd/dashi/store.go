package main

import (
	"fmt"

	"github.com/rohankatakam/dashi/internal/config"
	"github.com/rohankatakam/dashi/internal/storage"
)

// openStore opens the configured event store
func openStore(cfg *config.Config) (*storage.SQLStore, error) {
	driver, err := storage.DriverFor(cfg.Storage.Type)
	if err != nil {
		return nil, err
	}

	dsn := cfg.Storage.LocalPath
	if driver == "postgres" {
		dsn = cfg.Storage.PostgresDSN
	}

	store, err := storage.NewStore(driver, dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Type, err)
	}
	return store, nil
}
