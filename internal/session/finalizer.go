package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	shellwords "github.com/mattn/go-shellwords"
)

// specIDPattern extracts an identifier like SPEC-001 from a file name.
var specIDPattern = regexp.MustCompile(`[A-Z]+-[0-9]+`)

// openTaskMarker marks a spec file as still in progress.
const openTaskMarker = "- [ ]"

// Finalizer collects end-of-session state from the working tree.
type Finalizer struct {
	// WorkDir is the project root the session ran in.
	WorkDir string
	// SpecsDir holds spec files, relative to WorkDir.
	SpecsDir string
	// HookCmd optionally replaces collection with an external command
	// that prints a State as JSON on stdout.
	HookCmd string
}

// Collect gathers branch, uncommitted files and open specs. Collection
// failures degrade to a partial state, never an error; a session ending
// in a broken tree is exactly when the next session needs whatever
// state we can still get.
func (f *Finalizer) Collect(ctx context.Context) State {
	if f.HookCmd != "" {
		st, err := f.runHook(ctx)
		if err == nil {
			return st
		}
		slog.Warn("session: finalize hook failed, falling back to git", "error", err)
	}

	st := State{LastUpdated: time.Now().UTC()}

	if isGitRepo(ctx, f.WorkDir) {
		st.CurrentBranch = gitBranch(ctx, f.WorkDir)
		st.UncommittedFiles = gitUncommitted(ctx, f.WorkDir)
		st.UncommittedChanges = len(st.UncommittedFiles) > 0
	}

	st.SpecsInProgress = scanSpecs(filepath.Join(f.WorkDir, f.specsDir()))
	return st
}

func (f *Finalizer) specsDir() string {
	if f.SpecsDir == "" {
		return "specs"
	}
	return f.SpecsDir
}

func (f *Finalizer) runHook(ctx context.Context) (State, error) {
	args, err := shellwords.Parse(f.HookCmd)
	if err != nil {
		return State{}, fmt.Errorf("parse hook command: %w", err)
	}
	if len(args) == 0 {
		return State{}, fmt.Errorf("empty hook command")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = f.WorkDir
	out, err := cmd.Output()
	if err != nil {
		return State{}, fmt.Errorf("run hook: %w", err)
	}
	var st State
	if err := json.Unmarshal(bytes.TrimSpace(out), &st); err != nil {
		return State{}, fmt.Errorf("parse hook output: %w", err)
	}
	if st.LastUpdated.IsZero() {
		st.LastUpdated = time.Now().UTC()
	}
	return st, nil
}

func isGitRepo(ctx context.Context, dir string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = dir
	return cmd.Run() == nil
}

func gitBranch(ctx context.Context, dir string) string {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		slog.Debug("session: git branch lookup failed", "error", err)
		return ""
	}
	return strings.TrimSpace(string(out))
}

func gitUncommitted(ctx context.Context, dir string) []string {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		slog.Debug("session: git status failed", "error", err)
		return nil
	}

	var files []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 4 {
			continue
		}
		// Porcelain lines are "XY path", renames "XY old -> new".
		path := strings.TrimSpace(line[3:])
		if _, renamed, ok := strings.Cut(path, " -> "); ok {
			path = renamed
		}
		files = append(files, path)
	}
	return files
}

// scanSpecs lists spec files with open task markers, in file order.
func scanSpecs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var specs []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			slog.Debug("session: unreadable spec file", "file", e.Name(), "error", err)
			continue
		}
		if !strings.Contains(string(data), openTaskMarker) {
			continue
		}
		specs = append(specs, specID(e.Name()))
	}
	return specs
}

// specID derives the spec identifier from a file name, preferring an
// embedded token like SPEC-001 over the raw name.
func specID(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if id := specIDPattern.FindString(strings.ToUpper(base)); id != "" {
		return id
	}
	return base
}
