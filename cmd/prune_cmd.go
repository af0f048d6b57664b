package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/recall/internal/retention"
)

func pruneCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Run one retention sweep now",
		Long: `prune ages out memory immediately instead of waiting for the
scheduled sweep: events past their TTL are deleted and stale
knowledge decays toward the confidence floor.`,
		Run: func(cmd *cobra.Command, args []string) {
			runPrune(jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runPrune(jsonOutput bool) {
	cfg := loadConfig()
	st := openStore(cfg)
	defer st.Close()

	sweeper, err := retention.New(cfg.Retention, st, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error in retention config: %s\n", err)
		os.Exit(1)
	}

	res, err := sweeper.SweepNow(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(data))
		return
	}
	fmt.Printf("Pruned %d events, decayed %d knowledge entries\n", res.EventsPruned, res.KnowledgeDecayed)
}
