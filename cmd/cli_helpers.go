package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/recall/internal/bootstrap"
	"github.com/nextlevelbuilder/recall/internal/config"
	"github.com/nextlevelbuilder/recall/internal/store"
)

// loadConfig reads the active config. A missing file is a normal first
// run and yields defaults; a file that exists but does not parse is
// fatal, because silently running on defaults would hide the typo.
func loadConfig() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err)
		os.Exit(1)
	}
	return cfg
}

// loadConfigQuiet never fails. The session hooks run on every session
// start and end, and a broken config file must not block them.
func loadConfigQuiet() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("config: unreadable, using defaults", "error", err)
		}
		return config.Default()
	}
	return cfg
}

// openStore opens the configured backend or exits.
func openStore(cfg *config.Config) store.Store {
	st, err := bootstrap.OpenStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %s\n", err)
		os.Exit(1)
	}
	return st
}

// truncateCell clips a table cell to max display columns, appending an
// ellipsis when something was cut. Width-aware so wide runes line up.
func truncateCell(s string, max int) string {
	if runewidth.StringWidth(s) <= max {
		return s
	}
	return runewidth.Truncate(s, max, "…")
}
