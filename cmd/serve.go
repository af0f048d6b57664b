package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/recall/internal/bus"
	"github.com/nextlevelbuilder/recall/internal/config"
	"github.com/nextlevelbuilder/recall/internal/http"
	"github.com/nextlevelbuilder/recall/internal/retention"
	"github.com/nextlevelbuilder/recall/internal/store"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP memory surface",
		Long: `serve exposes the store over HTTP: snapshot reads, event ingestion
and a live WebSocket feed. The retention sweeper runs alongside, and
config edits to retention take effect without a restart.`,
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	cfg := loadConfig()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	token, err := cfg.AuthToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving auth token: %s\n", err)
		os.Exit(1)
	}
	if token == "" {
		slog.Warn("http: no auth token configured, serving unauthenticated")
	}

	st := openStore(cfg)
	defer st.Close()

	feed := bus.New()
	defer feed.Close()

	// The redis mirror makes the live feed span serve instances. Local
	// delivery works without it, so a dead redis only costs the fanout.
	var cast bus.Broadcaster = feed
	if cfg.Serve.RedisAddr != "" {
		mirror := bus.NewMirror(feed, cfg.Serve.RedisAddr)
		if err := mirror.Start(ctx); err != nil {
			slog.Warn("bus: redis mirror unavailable, staying local", "addr", cfg.Serve.RedisAddr, "error", err)
		} else {
			cast = mirror
			defer mirror.Stop()
		}
	}

	sweeper, err := retention.New(cfg.Retention, st, cast)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error in retention config: %s\n", err)
		os.Exit(1)
	}
	sweeper.Start()
	var sweepMu sync.Mutex
	defer func() {
		sweepMu.Lock()
		sweeper.Stop()
		sweepMu.Unlock()
	}()

	startConfigWatch(cfg, st, cast, &sweeper, &sweepMu)

	srv := http.New(http.Options{
		Addr:      cfg.Serve.Addr,
		Token:     token,
		MaxConns:  cfg.Serve.MaxConns,
		DataDir:   cfg.ResolvedDataDir(),
		Store:     st,
		Feed:      feed,
		Broadcast: cast,
		RateRPS:   cfg.Serve.RateLimitRPS,
		RateBurst: cfg.Serve.RateLimitBurst,
	})

	if stopTS := initTailscale(ctx, cfg, srv.Handler()); stopTS != nil {
		defer stopTS()
	}

	if err := srv.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// startConfigWatch hot-reloads the config file. Retention edits swap
// the sweeper in place; everything else on the serve surface needs a
// restart and only gets logged.
func startConfigWatch(cfg *config.Config, st store.Store, cast bus.Broadcaster, sweeper **retention.Sweeper, mu *sync.Mutex) {
	watcher, err := config.NewWatcher(resolveConfigPath())
	if err != nil {
		slog.Debug("config: hot reload unavailable", "error", err)
		return
	}

	retentionNow := cfg.Retention
	watcher.OnChange(func(next *config.Config) {
		if next.Retention == retentionNow {
			slog.Info("config: reloaded, serve options apply on restart")
			return
		}
		replacement, err := retention.New(next.Retention, st, cast)
		if err != nil {
			slog.Warn("config: keeping previous retention settings", "error", err)
			return
		}
		mu.Lock()
		(*sweeper).Stop()
		*sweeper = replacement
		(*sweeper).Start()
		mu.Unlock()
		retentionNow = next.Retention
		slog.Info("config: retention settings applied", "schedule", next.Retention.Schedule)
	})

	if err := watcher.Start(); err != nil {
		// No config file yet. Nothing to watch until onboard writes one.
		slog.Debug("config: hot reload unavailable", "error", err)
	}
}
