// Package synthesis merges whatever the retrieval batch returned into
// ranked suggestions and a human-readable summary. The merge is pure:
// identical inputs produce byte-identical output, with no clocks and no
// map-iteration-order dependence.
package synthesis

import (
	"fmt"

	"github.com/nextlevelbuilder/recall/internal/retrieve"
	"github.com/nextlevelbuilder/recall/internal/session"
	"github.com/nextlevelbuilder/recall/internal/store"
)

// MaxSuggestions caps the ranked suggestion list.
const MaxSuggestions = 5

// Context is the merged memory bundle, shaped for the snapshot file.
type Context struct {
	UserPreferences      map[string]string         `json:"user_preferences"`
	ProjectHints         map[string]string         `json:"project_hints,omitempty"`
	RecentEpisodes       []store.EpisodicEvent     `json:"recent_episodes"`
	RelevantKnowledge    []store.SemanticKnowledge `json:"relevant_knowledge"`
	SuggestedNextActions []string                  `json:"suggested_next_actions"`
}

// ActivityCounts aggregates episodic events by type.
type ActivityCounts struct {
	Spawned   int
	Completed int
	Errored   int
}

// Total is the event count over the window.
func (c ActivityCounts) Total() int {
	return c.Spawned + c.Completed + c.Errored
}

// Synthesis is the merge result handed to the presenter.
type Synthesis struct {
	Context Context
	Summary string
}

// Synthesizer holds the optional knobs; its zero value merges with
// built-in rules only and no token budget.
type Synthesizer struct {
	// Rules are user-defined suggestion rules, evaluated after the
	// built-ins in declaration order.
	Rules []Rule
	// MaxTokens trims the summary when positive.
	MaxTokens int
}

// Merge folds the batch into suggestions and a summary. Queries that
// timed out or failed contribute nothing.
func (s *Synthesizer) Merge(b retrieve.Batch) Synthesis {
	var (
		prefs     []store.PreferenceRecord
		events    []store.EpisodicEvent
		knowledge []store.SemanticKnowledge
		state     session.State
	)
	if r := b.Results[retrieve.QueryPreferences]; r.OK() {
		prefs = r.Preferences
	}
	if r := b.Results[retrieve.QueryEpisodic]; r.OK() {
		events = r.Events
	}
	if r := b.Results[retrieve.QueryKnowledge]; r.OK() {
		knowledge = r.Knowledge
	}
	if r := b.Results[retrieve.QuerySessionState]; r.OK() {
		state = r.Session
	}

	counts := countActivity(events)
	suggestions := s.suggest(state, counts, prefs, knowledge)

	ctx := Context{
		UserPreferences:      map[string]string{},
		RecentEpisodes:       []store.EpisodicEvent{},
		RelevantKnowledge:    []store.SemanticKnowledge{},
		SuggestedNextActions: []string{},
	}
	for _, p := range prefs {
		if p.Scope == store.ScopeUserPreferences {
			ctx.UserPreferences[p.Key] = p.Value
			continue
		}
		if ctx.ProjectHints == nil {
			ctx.ProjectHints = map[string]string{}
		}
		ctx.ProjectHints[p.Key] = p.Value
	}
	ctx.RecentEpisodes = append(ctx.RecentEpisodes, events...)
	ctx.RelevantKnowledge = append(ctx.RelevantKnowledge, knowledge...)
	ctx.SuggestedNextActions = append(ctx.SuggestedNextActions, suggestions...)

	summary := renderSummary(prefs, counts, knowledge, state, suggestions)
	if s.MaxTokens > 0 {
		summary = trimToBudget(summary, s.MaxTokens)
	}

	return Synthesis{Context: ctx, Summary: summary}
}

// suggest applies the built-in rules in fixed priority order, then any
// user-defined rules, capping the list at MaxSuggestions.
func (s *Synthesizer) suggest(state session.State, counts ActivityCounts, prefs []store.PreferenceRecord, knowledge []store.SemanticKnowledge) []string {
	var out []string

	if state.UncommittedChanges {
		out = append(out, reviewSuggestion(len(state.UncommittedFiles)))
	}
	for _, spec := range state.SpecsInProgress {
		out = append(out, "continue "+spec)
	}
	if counts.Errored > 0 {
		out = append(out, fmt.Sprintf("stabilize recent errors (%d in last 24h)", counts.Errored))
	}

	out = append(out, evalRules(s.Rules, state, counts, prefs, knowledge)...)

	if len(out) > MaxSuggestions {
		out = out[:MaxSuggestions]
	}
	return out
}

func reviewSuggestion(files int) string {
	switch files {
	case 0:
		return "review uncommitted changes"
	case 1:
		return "review uncommitted changes (1 file)"
	default:
		return fmt.Sprintf("review uncommitted changes (%d files)", files)
	}
}

func countActivity(events []store.EpisodicEvent) ActivityCounts {
	var c ActivityCounts
	for _, ev := range events {
		switch ev.EventType {
		case store.EventSpawn:
			c.Spawned++
		case store.EventComplete:
			c.Completed++
		case store.EventError:
			c.Errored++
		}
	}
	return c
}
