// Command seed creates the demo users and their conversation in the configured store.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/Vasu1712/scenyx-relay/internal/config"
	"github.com/Vasu1712/scenyx-relay/internal/logging"
	"github.com/Vasu1712/scenyx-relay/internal/storage"
	"github.com/Vasu1712/scenyx-relay/internal/storage/driver"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("seed failed", logging.Err(err))
		os.Exit(1)
	}
	log := logging.New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := driver.Open(ctx, cfg.Store, log)
	if err != nil {
		log.Error("seed failed", logging.Err(err))
		os.Exit(1)
	}
	defer store.Close()

	if cfg.Store.Driver == "memory" {
		log.Warn("seeding the in-memory store has no lasting effect; set SEED_DEMO=true on the server instead")
	}
	if _, _, err := storage.SeedDemo(ctx, store, log); err != nil {
		log.Error("seed failed", logging.Err(err))
		store.Close()
		os.Exit(1)
	}
}
