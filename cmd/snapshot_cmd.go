package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/recall/internal/config"
	"github.com/nextlevelbuilder/recall/internal/snapshot"
)

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect the context snapshot a session was started with",
	}
	cmd.AddCommand(snapshotShowCmd())
	cmd.AddCommand(snapshotPathCmd())
	return cmd
}

func snapshotShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [session]",
		Short: "Print the latest snapshot for a session",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runSnapshotShow(sessionArg(args))
		},
	}
}

func snapshotPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path [session]",
		Short: "Print the snapshot file location for a session",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfigQuiet()
			fmt.Println(snapshot.Path(cfg.ResolvedDataDir(), sessionArg(args)))
		},
	}
}

func sessionArg(args []string) string {
	name := os.Getenv(sessionEnv)
	if len(args) > 0 {
		name = args[0]
	}
	return config.NormalizeSessionID(name)
}

func runSnapshotShow(sessionID string) {
	cfg := loadConfigQuiet()
	path := snapshot.Path(cfg.ResolvedDataDir(), sessionID)

	snap, err := snapshot.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "No snapshot for session %q. Run \"recall load %s\" first.\n", sessionID, sessionID)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Error reading snapshot: %s\n", err)
		os.Exit(1)
	}

	data, _ := json.MarshalIndent(snap, "", "  ")
	fmt.Println(string(data))
}
