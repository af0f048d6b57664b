package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/recall/internal/bootstrap"
	"github.com/nextlevelbuilder/recall/internal/config"
	"github.com/nextlevelbuilder/recall/internal/tracing"
)

// sessionEnv names the session when the hook caller cannot pass args.
const sessionEnv = "RECALL_SESSION"

func loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load [session]",
		Short: "Session-start hook: print the merged memory context as JSON",
		Long: `load runs the retrieval pipeline and prints the hook contract
{"continue": true, "systemMessage": ...} on stdout. The session name
comes from the argument, then $RECALL_SESSION, then "default".

The hook never blocks a session: store failures, slow queries and
broken config all degrade to an empty system message with continue
still true.`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			name := os.Getenv(sessionEnv)
			if len(args) > 0 {
				name = args[0]
			}
			runLoad(name)
		},
	}
}

func runLoad(sessionName string) {
	cfg := loadConfigQuiet()
	sessionID := config.NormalizeSessionID(sessionName)

	// The contract holds on every exit path, so print last no matter
	// what happens in between.
	out := bootstrap.HookOutput{Continue: true}
	defer func() {
		data, _ := json.Marshal(out)
		fmt.Println(string(data))
	}()

	st, err := bootstrap.OpenStore(cfg)
	if err != nil {
		slog.Warn("bootstrap: store unavailable, continuing without context", "error", err)
		return
	}
	defer st.Close()

	ctx := context.Background()
	collector := tracing.NewCollector()
	initOTelExporter(ctx, cfg, collector)
	collector.Start()
	defer collector.Stop()

	loader := bootstrap.New(cfg, st)
	loader.Tracer = collector
	out = loader.Load(ctx, sessionID)
}
