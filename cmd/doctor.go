package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/recall/internal/bootstrap"
	"github.com/nextlevelbuilder/recall/internal/config"
	"github.com/nextlevelbuilder/recall/internal/session"
	"github.com/nextlevelbuilder/recall/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("recall doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Config
	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg = config.Default()
		} else {
			fmt.Printf("  Config load error: %s\n", err)
			return
		}
	}

	// Data dir
	dataDir := cfg.ResolvedDataDir()
	fmt.Printf("  Data dir: %s", dataDir)
	if _, err := os.Stat(dataDir); err != nil {
		fmt.Println(" (NOT FOUND, created on first load)")
	} else {
		fmt.Println(" (OK)")
	}

	// Store
	fmt.Println()
	fmt.Println("  Store:")
	backend := "sqlite (" + cfg.SQLitePath() + ")"
	if cfg.IsManaged() {
		backend = "postgres (managed)"
	}
	fmt.Printf("    %-12s %s\n", "Backend:", backend)
	checkStore(cfg)

	// Session handoff
	fmt.Println()
	fmt.Println("  Session:")
	checkStateFile(session.StatePath(dataDir))
	checkSnapshots(filepath.Join(dataDir, "sessions"))

	// Serve surface
	fmt.Println()
	fmt.Println("  Serve:")
	fmt.Printf("    %-12s %s\n", "Addr:", cfg.Serve.Addr)
	checkAuthToken(cfg)

	// The finalizer shells out to git for branch and dirty-tree state.
	fmt.Println()
	fmt.Println("  External Tools:")
	checkBinary("git")

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkStore(cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := bootstrap.OpenStore(cfg)
	if err != nil {
		fmt.Printf("    %-12s UNREACHABLE (%s)\n", "Status:", err)
		return
	}
	defer st.Close()

	stats, err := st.Stats(ctx)
	if err != nil {
		fmt.Printf("    %-12s open, stats failed (%s)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-12s OK\n", "Status:")
	fmt.Printf("    %-12s %d (%d in last 24h)\n", "Events:", stats.Events, stats.EventsLast24)
	fmt.Printf("    %-12s %d\n", "Hints:", stats.Hints)
	fmt.Printf("    %-12s %d\n", "Knowledge:", stats.Knowledge)
}

func checkStateFile(path string) {
	info, err := os.Stat(path)
	if err != nil {
		fmt.Printf("    %-12s none yet (written by \"recall finalize\")\n", "State file:")
		return
	}
	fmt.Printf("    %-12s %s (updated %s ago)\n", "State file:", path,
		time.Since(info.ModTime()).Round(time.Minute))
}

func checkSnapshots(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		fmt.Printf("    %-12s none yet (written by \"recall load\")\n", "Snapshots:")
		return
	}
	fmt.Printf("    %-12s %d session(s) under %s\n", "Snapshots:", len(entries), dir)
}

func checkAuthToken(cfg *config.Config) {
	if cfg.Serve.AuthToken == "" {
		fmt.Printf("    %-12s (not configured, serve is open)\n", "Token:")
		return
	}
	token, err := cfg.AuthToken()
	if err != nil {
		fmt.Printf("    %-12s UNRESOLVABLE (%s)\n", "Token:", err)
		return
	}
	fmt.Printf("    %-12s %s\n", "Token:", maskSecret(token))
}

func maskSecret(s string) string {
	if len(s) > 8 {
		return s[:4] + "****" + s[len(s)-4:]
	}
	if s != "" {
		return "****"
	}
	return "(empty)"
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
