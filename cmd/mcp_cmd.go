package cmd

import (
	"context"
	"fmt"
	"os"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/recall/internal/bootstrap"
	"github.com/nextlevelbuilder/recall/internal/mcp"
	"github.com/nextlevelbuilder/recall/internal/tracing"
)

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve memory tools over MCP on stdio",
		Long: `mcp speaks the Model Context Protocol on stdin/stdout so agent
runtimes can read context and record memory through tool calls
instead of shelling out to the CLI.`,
		Run: func(cmd *cobra.Command, args []string) {
			runMCP()
		},
	}
}

func runMCP() {
	cfg := loadConfig()
	st := openStore(cfg)
	defer st.Close()

	ctx := context.Background()
	collector := tracing.NewCollector()
	initOTelExporter(ctx, cfg, collector)
	collector.Start()
	defer collector.Stop()

	loader := bootstrap.New(cfg, st)
	loader.Tracer = collector
	loader.TouchOnUse = true

	srv := mcp.NewServer(st, loader)
	if err := mcpserver.ServeStdio(srv); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
