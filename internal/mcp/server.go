// Package mcp exposes the memory store over the Model Context
// Protocol. Any MCP-capable agent can pull session context and write
// memories by adding `recall mcp` as a stdio server.
package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nextlevelbuilder/recall/internal/bootstrap"
	"github.com/nextlevelbuilder/recall/internal/config"
	"github.com/nextlevelbuilder/recall/internal/store"
)

// serverInstructions is returned in the initialize response so MCP
// clients know when to reach for these tools.
const serverInstructions = `Recall keeps agent memory that survives across sessions: episodic ` +
	`events, user and project preferences, and learned patterns with confidence ` +
	`weights. Use memory_context at session start to restore prior context, ` +
	`memory_record to log spawn/complete/error events, memory_learn to save a ` +
	`pattern worth reusing, and memory_preferences to read or set preference hints.`

// NewServer builds the MCP server with every memory tool registered.
func NewServer(st store.Store, loader *bootstrap.Loader) *server.MCPServer {
	srv := server.NewMCPServer(
		"recall",
		"0.1.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(serverInstructions),
	)

	registerTools(srv, st, loader)
	return srv
}

func registerTools(srv *server.MCPServer, st store.Store, loader *bootstrap.Loader) {
	srv.AddTool(
		mcp.NewTool("memory_context",
			mcp.WithDescription("Load the merged session context: user preferences, recent activity, learned patterns and prior session state. Call this at the start of a session or after losing context."),
			mcp.WithTitleAnnotation("Load Session Context"),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(false),
			mcp.WithString("session",
				mcp.Description("Session identifier (default: \"default\")"),
			),
		),
		handleContext(loader),
	)

	srv.AddTool(
		mcp.NewTool("memory_record",
			mcp.WithDescription("Record one episodic event in the activity log. Event types: spawn (an agent started), complete (it finished), error (it failed)."),
			mcp.WithTitleAnnotation("Record Event"),
			mcp.WithReadOnlyHintAnnotation(false),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(false),
			mcp.WithOpenWorldHintAnnotation(false),
			mcp.WithString("event_type",
				mcp.Required(),
				mcp.Description("One of: spawn, complete, error"),
			),
			mcp.WithString("agent_id",
				mcp.Required(),
				mcp.Description("Identifier of the agent the event is about"),
			),
			mcp.WithString("agent_type",
				mcp.Description("Agent kind (e.g. coder, reviewer)"),
			),
		),
		handleRecord(st),
	)

	srv.AddTool(
		mcp.NewTool("memory_learn",
			mcp.WithDescription("Save a learned pattern to semantic memory. Call this when you discover something worth reusing: a working approach, a gotcha, a convention. Confidence in [0,1] expresses how sure you are; repeated learning of the same topic overwrites."),
			mcp.WithTitleAnnotation("Learn Pattern"),
			mcp.WithReadOnlyHintAnnotation(false),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(false),
			mcp.WithOpenWorldHintAnnotation(false),
			mcp.WithString("topic",
				mcp.Required(),
				mcp.Description("Short stable topic key (e.g. \"sqlite-busy-timeout\")"),
			),
			mcp.WithString("pattern",
				mcp.Required(),
				mcp.Description("The pattern or insight, one or two sentences"),
			),
			mcp.WithNumber("confidence",
				mcp.Description("Confidence weight in [0,1] (default 0.6)"),
			),
		),
		handleLearn(st),
	)

	srv.AddTool(
		mcp.NewTool("memory_preferences",
			mcp.WithDescription("Read stored preference hints, or set one when both key and value are given. Without a scope this reads user preferences."),
			mcp.WithTitleAnnotation("Preferences"),
			mcp.WithReadOnlyHintAnnotation(false),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(false),
			mcp.WithString("scope",
				mcp.Description("Preference scope (default user.preferences; projects use project.<name>)"),
			),
			mcp.WithString("key",
				mcp.Description("Preference key to set (requires value)"),
			),
			mcp.WithString("value",
				mcp.Description("Preference value to set (requires key)"),
			),
		),
		handlePreferences(st),
	)

	srv.AddTool(
		mcp.NewTool("memory_stats",
			mcp.WithDescription("Summarize what the memory store holds: event, hint and knowledge counts."),
			mcp.WithTitleAnnotation("Memory Stats"),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(false),
		),
		handleStats(st),
	)
}

func handleContext(loader *bootstrap.Loader) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		session, _ := req.GetArguments()["session"].(string)
		if session == "" {
			session = config.DefaultSessionID
		}

		out := loader.Load(ctx, session)
		if out.SystemMessage == "" {
			return mcp.NewToolResultText("No session context to surface yet."), nil
		}
		return mcp.NewToolResultText(out.SystemMessage), nil
	}
}

func handleRecord(st store.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		eventType, _ := req.GetArguments()["event_type"].(string)
		agentID, _ := req.GetArguments()["agent_id"].(string)
		agentType, _ := req.GetArguments()["agent_type"].(string)

		if err := store.ValidateEventType(eventType); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := store.ValidateAgentID(agentID); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		ev := store.EpisodicEvent{
			ID:        store.GenNewID().String(),
			EventType: eventType,
			AgentID:   agentID,
			AgentType: agentType,
			Timestamp: time.Now().UTC(),
		}
		if err := st.RecordEvent(ctx, ev); err != nil {
			return mcp.NewToolResultError("Failed to record event: " + err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Recorded %s event for %s.", eventType, agentID)), nil
	}
}

func handleLearn(st store.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		topic, _ := req.GetArguments()["topic"].(string)
		pattern, _ := req.GetArguments()["pattern"].(string)
		confidence := floatArg(req, "confidence", 0.6)

		if topic == "" || pattern == "" {
			return mcp.NewToolResultError("topic and pattern are required"), nil
		}
		if err := st.LearnKnowledge(ctx, topic, pattern, confidence); err != nil {
			return mcp.NewToolResultError("Failed to learn: " + err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Learned %q (confidence %.2f).", topic, confidence)), nil
	}
}

func handlePreferences(st store.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		scope, _ := req.GetArguments()["scope"].(string)
		key, _ := req.GetArguments()["key"].(string)
		value, _ := req.GetArguments()["value"].(string)
		if scope == "" {
			scope = store.ScopeUserPreferences
		}

		if key != "" && value != "" {
			if err := st.PutHint(ctx, scope, key, value); err != nil {
				return mcp.NewToolResultError("Failed to set preference: " + err.Error()), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("Set %s.%s.", scope, key)), nil
		}
		if key != "" || value != "" {
			return mcp.NewToolResultError("setting a preference requires both key and value"), nil
		}

		prefs, err := st.Preferences(ctx, scope)
		if err != nil {
			return mcp.NewToolResultError("Failed to read preferences: " + err.Error()), nil
		}
		if len(prefs) == 0 {
			return mcp.NewToolResultText(fmt.Sprintf("No preferences stored under %s.", scope)), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%d preferences under %s:\n", len(prefs), scope)
		for _, p := range prefs {
			fmt.Fprintf(&b, "- %s: %s\n", p.Key, p.Value)
		}
		return mcp.NewToolResultText(b.String()), nil
	}
}

func handleStats(st store.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := st.Stats(ctx)
		if err != nil {
			return mcp.NewToolResultError("Failed to get stats: " + err.Error()), nil
		}
		result := fmt.Sprintf("Memory store:\n- Events: %d (%d in last 24h)\n- Preference hints: %d\n- Knowledge entries: %d",
			stats.Events, stats.EventsLast24, stats.Hints, stats.Knowledge)
		return mcp.NewToolResultText(result), nil
	}
}

func floatArg(req mcp.CallToolRequest, key string, defaultVal float64) float64 {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return v
}
