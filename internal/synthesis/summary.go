package synthesis

import (
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/recall/internal/session"
	"github.com/nextlevelbuilder/recall/internal/store"
)

const patternPreview = 160

// renderSummary builds the markdown summary. A section appears only
// when its backing data is non-empty; with nothing to say the summary
// is exactly the empty string.
func renderSummary(prefs []store.PreferenceRecord, counts ActivityCounts, knowledge []store.SemanticKnowledge, state session.State, suggestions []string) string {
	hasState := state.CurrentBranch != "" || state.UncommittedChanges || len(state.SpecsInProgress) > 0
	if len(prefs) == 0 && counts.Total() == 0 && len(knowledge) == 0 && !hasState && len(suggestions) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Session Context\n\n")

	if len(prefs) > 0 {
		b.WriteString("### Preferences\n")
		for _, p := range prefs {
			if p.Scope == store.ScopeUserPreferences {
				fmt.Fprintf(&b, "- **%s**: %s\n", p.Key, p.Value)
			}
		}
		for _, p := range prefs {
			if p.Scope != store.ScopeUserPreferences {
				fmt.Fprintf(&b, "- **%s** (project): %s\n", p.Key, p.Value)
			}
		}
		b.WriteString("\n")
	}

	if counts.Total() > 0 {
		b.WriteString("### Recent Activity\n")
		fmt.Fprintf(&b, "- %d events in last 24h (spawned %d, completed %d, errors %d)\n\n",
			counts.Total(), counts.Spawned, counts.Completed, counts.Errored)
	}

	if len(knowledge) > 0 {
		b.WriteString("### Knowledge\n")
		for _, k := range knowledge {
			fmt.Fprintf(&b, "- **%s** (confidence %.2f): %s\n", k.Topic, k.Confidence, truncate(k.Pattern, patternPreview))
		}
		b.WriteString("\n")
	}

	if hasState {
		b.WriteString("### Last Session\n")
		if state.CurrentBranch != "" {
			fmt.Fprintf(&b, "- branch: %s\n", state.CurrentBranch)
		}
		if state.UncommittedChanges {
			fmt.Fprintf(&b, "- %s\n", uncommittedLine(state.UncommittedFiles))
		}
		if len(state.SpecsInProgress) > 0 {
			fmt.Fprintf(&b, "- specs in progress: %s\n", strings.Join(state.SpecsInProgress, ", "))
		}
		if !state.LastUpdated.IsZero() {
			fmt.Fprintf(&b, "- last active: %s\n", state.LastUpdated.UTC().Format(time.RFC3339))
		}
		b.WriteString("\n")
	}

	if len(suggestions) > 0 {
		b.WriteString("### Suggested Next Steps\n")
		for i, sug := range suggestions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, sug)
		}
		b.WriteString("\n")
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func uncommittedLine(files []string) string {
	switch n := len(files); n {
	case 0:
		return "uncommitted changes present"
	case 1:
		return fmt.Sprintf("1 uncommitted file: %s", files[0])
	default:
		const show = 5
		if n <= show {
			return fmt.Sprintf("%d uncommitted files: %s", n, strings.Join(files, ", "))
		}
		return fmt.Sprintf("%d uncommitted files: %s, ...", n, strings.Join(files[:show], ", "))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:runeFloor(s, n)] + "..."
}
