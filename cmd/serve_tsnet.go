//go:build tsnet

package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/tsnet"

	"github.com/nextlevelbuilder/recall/internal/config"
)

// initTailscale starts an extra listener on the tailnet sharing the
// serve mux, so agents on other machines reach the store without any
// exposed port. Only compiled with -tags tsnet.
func initTailscale(ctx context.Context, cfg *config.Config, mux http.Handler) func() {
	hostname := cfg.Serve.TSNetHostname
	if hostname == "" {
		slog.Debug("Tailscale available but not configured (set serve.tsnet_hostname)")
		return nil
	}

	srv := &tsnet.Server{
		Hostname: hostname,
		AuthKey:  os.Getenv("RECALL_TSNET_AUTHKEY"),
		Dir:      filepath.Join(cfg.ResolvedDataDir(), "tsnet"),
	}

	ln, err := srv.Listen("tcp", ":80")
	if err != nil {
		slog.Warn("Tailscale listener failed to start", "error", err)
		srv.Close()
		return nil
	}

	slog.Info("Tailscale listener started", "hostname", hostname)

	httpSrv := &http.Server{Handler: mux}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Warn("Tailscale HTTP server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	return func() {
		httpSrv.Close()
		ln.Close()
		srv.Close()
		slog.Info("Tailscale listener stopped")
	}
}
