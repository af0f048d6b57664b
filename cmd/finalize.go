package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/recall/internal/bootstrap"
	"github.com/nextlevelbuilder/recall/internal/config"
	"github.com/nextlevelbuilder/recall/internal/session"
	"github.com/nextlevelbuilder/recall/internal/store"
)

// finalizeTimeout bounds the git calls and the optional hook command.
const finalizeTimeout = 30 * time.Second

func finalizeCmd() *cobra.Command {
	var workDir string
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "finalize [session]",
		Short: "Session-end hook: save branch, uncommitted work and open specs",
		Long: `finalize collects what the session leaves behind (git branch,
uncommitted files, specs still in progress) and writes the state file
the next session start reads back. In managed mode the state is also
saved to the shared session registry.`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			name := os.Getenv(sessionEnv)
			if len(args) > 0 {
				name = args[0]
			}
			runFinalize(workDir, name, jsonOutput)
		},
	}
	cmd.Flags().StringVar(&workDir, "workdir", ".", "project root the session ran in")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runFinalize(workDir, sessionName string, jsonOutput bool) {
	cfg := loadConfigQuiet()
	sessionID := config.NormalizeSessionID(sessionName)

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	f := &session.Finalizer{
		WorkDir:  workDir,
		SpecsDir: cfg.Session.SpecsDir,
		HookCmd:  cfg.Session.FinalizeHook,
	}
	state := f.Collect(ctx)

	statePath := session.StatePath(cfg.ResolvedDataDir())
	if err := session.Save(statePath, state); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving session state: %s\n", err)
		os.Exit(1)
	}

	if cfg.IsManaged() {
		saveToRegistry(ctx, cfg, sessionID, state)
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(state, "", "  ")
		fmt.Println(string(data))
		return
	}
	fmt.Printf("Session state saved to %s\n", statePath)
	if state.CurrentBranch != "" {
		fmt.Printf("  Branch:      %s\n", state.CurrentBranch)
	}
	fmt.Printf("  Uncommitted: %d files\n", len(state.UncommittedFiles))
	if len(state.SpecsInProgress) > 0 {
		fmt.Printf("  Specs:       %s\n", strings.Join(state.SpecsInProgress, ", "))
	}
}

// saveToRegistry mirrors the local state file into the shared registry.
// Failures are logged and swallowed; the local file already has the
// state and the hook must not fail the session over a network blip.
func saveToRegistry(ctx context.Context, cfg *config.Config, sessionID string, state session.State) {
	st, err := bootstrap.OpenStore(cfg)
	if err != nil {
		slog.Warn("session: registry unavailable", "error", err)
		return
	}
	defer st.Close()

	reg, ok := store.AsSessionRegistry(st)
	if !ok {
		return
	}
	rec := store.SessionRecord{
		SessionID:        sessionID,
		CurrentBranch:    state.CurrentBranch,
		UncommittedFiles: state.UncommittedFiles,
		SpecsInProgress:  state.SpecsInProgress,
		UpdatedAt:        state.LastUpdated,
	}
	if err := reg.SaveSession(ctx, rec); err != nil {
		slog.Warn("session: central registry save failed", "session", sessionID, "error", err)
	}
}
