package bootstrap

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/recall/internal/config"
	"github.com/nextlevelbuilder/recall/internal/store"
	"github.com/nextlevelbuilder/recall/internal/store/pg"
	"github.com/nextlevelbuilder/recall/internal/store/sqlite"
)

// OpenStore opens the configured backend and wraps it in the read
// cache. Standalone mode uses the single-file sqlite store; managed
// mode connects to the shared postgres instance.
func OpenStore(cfg *config.Config) (store.Store, error) {
	var (
		inner store.Store
		err   error
	)
	if cfg.IsManaged() {
		dsn, derr := cfg.PostgresDSN()
		if derr != nil {
			return nil, fmt.Errorf("resolve postgres dsn: %w", derr)
		}
		inner, err = pg.New(dsn)
	} else {
		inner, err = sqlite.New(cfg.SQLitePath())
	}
	if err != nil {
		return nil, err
	}

	ttl := time.Duration(cfg.Memory.CacheTTLSeconds) * time.Second
	slog.Debug("bootstrap: store ready", "managed", cfg.IsManaged(), "cache_ttl", ttl)
	return store.NewCached(inner, ttl), nil
}
