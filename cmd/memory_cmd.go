package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/recall/internal/store"
)

const memoryOpTimeout = 10 * time.Second

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and edit long-term memory",
	}
	cmd.AddCommand(memorySetPrefCmd())
	cmd.AddCommand(memoryHintCmd())
	cmd.AddCommand(memoryLearnCmd())
	cmd.AddCommand(memoryForgetCmd())
	cmd.AddCommand(memoryListCmd())
	cmd.AddCommand(memoryExportCmd())
	cmd.AddCommand(memoryImportCmd())
	return cmd
}

func memorySetPrefCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-pref <key> <value>",
		Short: "Set a user preference",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			putHint(store.ScopeUserPreferences, args[0], args[1])
			fmt.Printf("Set %s = %s\n", args[0], args[1])
		},
	}
}

func memoryHintCmd() *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "hint <key> <value>",
		Short: "Set a per-project context hint",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			scope := hintScope(project)
			putHint(scope, args[0], args[1])
			fmt.Printf("Set %s under %s\n", args[0], scope)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project name (default from config)")
	return cmd
}

// hintScope resolves the target scope for a project hint, falling back
// to the configured project.
func hintScope(project string) string {
	if project == "" {
		project = loadConfig().Project
	}
	if project == "" {
		fmt.Fprintln(os.Stderr, "Error: no project given and none configured; use --project or set \"project\" in the config")
		os.Exit(1)
	}
	return store.ProjectScope(project)
}

func putHint(scope, key, value string) {
	cfg := loadConfig()
	st := openStore(cfg)
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), memoryOpTimeout)
	defer cancel()
	if err := st.PutHint(ctx, scope, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func memoryLearnCmd() *cobra.Command {
	var confidence float64
	cmd := &cobra.Command{
		Use:   "learn <topic> <pattern>",
		Short: "Store a learned pattern",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			runMemoryLearn(args[0], args[1], confidence)
		},
	}
	cmd.Flags().Float64Var(&confidence, "confidence", 0.6, "confidence weight in [0,1]")
	return cmd
}

func runMemoryLearn(topic, pattern string, confidence float64) {
	if err := store.ValidateConfidence(confidence); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	cfg := loadConfig()
	st := openStore(cfg)
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), memoryOpTimeout)
	defer cancel()
	if err := st.LearnKnowledge(ctx, topic, pattern, confidence); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("Learned %q (confidence %.2f)\n", topic, confidence)
}

func memoryForgetCmd() *cobra.Command {
	var project string
	var knowledge bool
	cmd := &cobra.Command{
		Use:   "forget <key>",
		Short: "Delete a preference, project hint or learned pattern",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			scope, memoryType := store.ScopeUserPreferences, store.MemoryContextHint
			switch {
			case knowledge:
				scope, memoryType = store.ScopeKnowledge, store.MemorySemantic
			case project != "":
				scope = store.ProjectScope(project)
			}
			runMemoryForget(scope, memoryType, args[0])
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "forget a hint from this project scope")
	cmd.Flags().BoolVar(&knowledge, "knowledge", false, "forget a learned pattern instead of a hint")
	return cmd
}

func runMemoryForget(scope, memoryType, key string) {
	cfg := loadConfig()
	st := openStore(cfg)
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), memoryOpTimeout)
	defer cancel()
	if err := st.ForgetMemory(ctx, scope, memoryType, key); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("Forgot %s from %s\n", key, scope)
}

func memoryListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List preferences and learned patterns",
		Run: func(cmd *cobra.Command, args []string) {
			runMemoryList(jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runMemoryList(jsonOutput bool) {
	cfg := loadConfig()
	st := openStore(cfg)
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), memoryOpTimeout)
	defer cancel()

	prefs, err := st.Preferences(ctx, store.ScopeUserPreferences)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if cfg.Project != "" {
		hints, err := st.Preferences(ctx, store.ProjectScope(cfg.Project))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
		prefs = append(prefs, hints...)
	}
	knowledge, err := st.TopKnowledge(ctx, store.KnowledgeTopK)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(map[string]any{
			"preferences": prefs,
			"knowledge":   knowledge,
		}, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(prefs) == 0 && len(knowledge) == 0 {
		fmt.Println("Memory is empty.")
		return
	}

	if len(prefs) > 0 {
		fmt.Println("Preferences:")
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "  SCOPE\tKEY\tVALUE\n")
		for _, p := range prefs {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", p.Scope, truncateCell(p.Key, 32), truncateCell(p.Value, 48))
		}
		tw.Flush()
	}
	if len(knowledge) > 0 {
		fmt.Println("Knowledge:")
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "  TOPIC\tCONFIDENCE\tLAST USED\tPATTERN\n")
		for _, k := range knowledge {
			fmt.Fprintf(tw, "  %s\t%.2f\t%s\t%s\n",
				truncateCell(k.Topic, 32),
				k.Confidence,
				k.LastUsed.Local().Format(time.DateOnly),
				truncateCell(k.Pattern, 48),
			)
		}
		tw.Flush()
	}
}

func memoryExportCmd() *cobra.Command {
	var format string
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the whole store as JSON or YAML",
		Run: func(cmd *cobra.Command, args []string) {
			runMemoryExport(format, outPath)
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or yaml")
	cmd.Flags().StringVar(&outPath, "out", "", "write to file instead of stdout")
	return cmd
}

func runMemoryExport(format, outPath string) {
	cfg := loadConfig()
	st := openStore(cfg)
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), memoryOpTimeout)
	defer cancel()
	dump, err := st.Dump(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	var data []byte
	switch format {
	case "json":
		data, err = json.MarshalIndent(dump, "", "  ")
		data = append(data, '\n')
	case "yaml":
		data, err = yaml.Marshal(dump)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown format %q (json or yaml)\n", format)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding export: %s\n", err)
		os.Exit(1)
	}

	if outPath == "" {
		os.Stdout.Write(data)
		return
	}
	if err := os.WriteFile(outPath, data, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("Exported %d events, %d hints, %d knowledge entries to %s\n",
		len(dump.Events), len(dump.Hints), len(dump.Knowledge), outPath)
}

func memoryImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a previously exported archive",
		Long: `import replays an export into the store. Hints and knowledge
upsert by key, so importing the same archive twice is safe; events
keep their original IDs and may duplicate across stores.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runMemoryImport(args[0])
		},
	}
}

func runMemoryImport(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	var dump store.Dump
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &dump)
	default:
		err = json.Unmarshal(data, &dump)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing archive: %s\n", err)
		os.Exit(1)
	}

	cfg := loadConfig()
	st := openStore(cfg)
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var events, hints, knowledge, skipped int
	for _, ev := range dump.Events {
		if ev.ID == "" {
			ev.ID = store.GenNewID().String()
		}
		if err := st.RecordEvent(ctx, ev); err != nil {
			fmt.Fprintf(os.Stderr, "Skipping event %s: %s\n", ev.ID, err)
			skipped++
			continue
		}
		events++
	}
	for _, h := range dump.Hints {
		if err := st.PutHint(ctx, h.Scope, h.Key, h.Value); err != nil {
			fmt.Fprintf(os.Stderr, "Skipping hint %s.%s: %s\n", h.Scope, h.Key, err)
			skipped++
			continue
		}
		hints++
	}
	for _, k := range dump.Knowledge {
		if err := st.LearnKnowledge(ctx, k.Topic, k.Pattern, k.Confidence); err != nil {
			fmt.Fprintf(os.Stderr, "Skipping knowledge %s: %s\n", k.Topic, err)
			skipped++
			continue
		}
		knowledge++
	}

	fmt.Printf("Imported %d events, %d hints, %d knowledge entries", events, hints, knowledge)
	if skipped > 0 {
		fmt.Printf(" (%d skipped)", skipped)
	}
	fmt.Println()
}
