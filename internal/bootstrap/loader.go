// Package bootstrap runs the session-start pipeline: fan the memory
// reads out, merge whatever came back, write the context snapshot and
// hand the hook output to the host. The pipeline never blocks or fails
// the host session; its worst output is an empty message.
package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/recall/internal/config"
	"github.com/nextlevelbuilder/recall/internal/retrieve"
	"github.com/nextlevelbuilder/recall/internal/session"
	"github.com/nextlevelbuilder/recall/internal/snapshot"
	"github.com/nextlevelbuilder/recall/internal/store"
	"github.com/nextlevelbuilder/recall/internal/synthesis"
	"github.com/nextlevelbuilder/recall/internal/tracing"
)

// TimeoutNotice is the single soft warning surfaced when the retrieval
// deadline expired before every query finished.
const TimeoutNotice = "memory load timeout - continuing without context"

// Pipeline phases, in log order.
const (
	phaseInit       = "init"
	phaseFetch      = "parallel_fetch"
	phaseSynthesize = "synthesize"
	phasePresent    = "present"
	phaseDone       = "done"
	phaseDegraded   = "degraded_done"
)

// HookOutput is the session-start hook contract. Continue is always
// true; this pipeline never vetoes a session.
type HookOutput struct {
	Continue      bool   `json:"continue"`
	SystemMessage string `json:"systemMessage"`
}

// Loader wires one retrieval pipeline run.
type Loader struct {
	Store   store.Store
	Synth   *synthesis.Synthesizer
	DataDir string
	Project string
	Timeout time.Duration
	Tracer  *tracing.Collector // optional, nil disables span emission

	// TouchOnUse marks surfaced knowledge as used after a load. The
	// session-start hook leaves it off so repeated loads stay
	// byte-identical; the mcp surface turns it on.
	TouchOnUse bool
}

// New builds a Loader from config. Rule compilation is best effort: a
// broken rule set logs a warning and the built-in suggestions still
// run.
func New(cfg *config.Config, st store.Store) *Loader {
	rules, err := synthesis.CompileRules(cfg.Rules)
	if err != nil {
		slog.Warn("bootstrap: custom rules disabled", "error", err)
		rules = nil
	}
	return &Loader{
		Store: st,
		Synth: &synthesis.Synthesizer{
			Rules:     rules,
			MaxTokens: cfg.Memory.MaxSummaryTokens,
		},
		DataDir: cfg.ResolvedDataDir(),
		Project: cfg.Project,
		Timeout: time.Duration(cfg.Memory.LoadTimeoutMs) * time.Millisecond,
	}
}

// Load runs the pipeline for one session start. Every failure mode
// inside degrades to an empty message; the returned Continue is true
// on every path including panic recovery.
func (l *Loader) Load(ctx context.Context, sessionID string) (out HookOutput) {
	out = HookOutput{Continue: true}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bootstrap: pipeline panic", "phase", phaseDegraded, "panic", r)
			out = HookOutput{Continue: true}
		}
	}()

	start := time.Now()
	sessionID = config.NormalizeSessionID(sessionID)
	slog.Debug("bootstrap: starting", "phase", phaseInit, "session", sessionID)

	retriever := &retrieve.Retriever{
		Store:     l.Store,
		StatePath: session.StatePath(l.DataDir),
		Timeout:   l.Timeout,
	}
	if l.Project != "" {
		retriever.ProjectScope = store.ProjectScope(l.Project)
	}

	slog.Debug("bootstrap: fetching", "phase", phaseFetch, "timeout", retriever.Timeout)
	marks := stageTimes{start: start, fetchStart: time.Now()}
	batch := retriever.Run(ctx)
	if batch.TimedOut() {
		slog.Warn("bootstrap: " + TimeoutNotice)
	}

	slog.Debug("bootstrap: merging", "phase", phaseSynthesize, "degraded", batch.Degraded())
	marks.synthStart = time.Now()
	result := l.Synth.Merge(batch)

	marks.presentStart = time.Now()
	out = l.present(sessionID, result, batch)
	marks.end = time.Now()
	l.emitTrace(sessionID, marks, batch)
	if l.TouchOnUse {
		l.touchUsed(ctx, batch)
	}

	slog.Info("bootstrap: context loaded",
		"phase", phaseDone,
		"session", sessionID,
		"elapsed", time.Since(start).Round(time.Millisecond),
		"degraded", batch.Degraded(),
		"message_len", len(out.SystemMessage))
	return out
}

// present writes the snapshot and shapes the hook output. A snapshot
// write failure is logged and swallowed; it never changes the returned
// values.
func (l *Loader) present(sessionID string, result synthesis.Synthesis, batch retrieve.Batch) HookOutput {
	snap := snapshot.SessionContextSnapshot{
		SessionID: sessionID,
		LoadedAt:  time.Now().UTC(),
		Context:   result.Context,
	}
	path := snapshot.Path(l.DataDir, sessionID)
	if err := snapshot.Write(path, snap); err != nil {
		slog.Error("bootstrap: snapshot write failed", "phase", phasePresent, "path", path, "error", err)
	}

	msg := result.Summary
	if msg == "" && batch.TimedOut() {
		msg = TimeoutNotice
	}
	return HookOutput{Continue: true, SystemMessage: msg}
}

// touchUsed bumps last_used on the knowledge entries that made it into
// the context, so ranking favors what sessions actually see.
func (l *Loader) touchUsed(ctx context.Context, batch retrieve.Batch) {
	res := batch.Results[retrieve.QueryKnowledge]
	if !res.OK() {
		return
	}
	now := time.Now().UTC()
	for _, k := range res.Knowledge {
		if err := l.Store.TouchKnowledge(ctx, k.Topic, now); err != nil {
			slog.Debug("bootstrap: knowledge touch failed", "topic", k.Topic, "error", err)
		}
	}
}
