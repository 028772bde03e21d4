// Package driver opens the storage backend named in the configuration.
package driver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Vasu1712/scenyx-relay/internal/config"
	"github.com/Vasu1712/scenyx-relay/internal/storage"
	"github.com/Vasu1712/scenyx-relay/internal/storage/memory"
	"github.com/Vasu1712/scenyx-relay/internal/storage/postgres"
	"github.com/Vasu1712/scenyx-relay/internal/storage/valkey"
)

// Backend is what every driver provides.
type Backend interface {
	storage.Store
	storage.Seeder
}

func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (Backend, error) {
	switch cfg.Driver {
	case "", "memory":
		log.Info("using in-memory store")
		return memory.NewDMStore(), nil
	case "postgres":
		s, err := postgres.NewPostgresDMStore(ctx, log, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "valkey":
		s, err := valkey.NewValkeyDMStore(ctx, log, cfg.ValkeyAddr)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
