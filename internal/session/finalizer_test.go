package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestScanSpecs(t *testing.T) {
	dir := t.TempDir()
	specs := filepath.Join(dir, "specs")
	if err := os.MkdirAll(specs, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(specs, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("spec-002-retry.md", "# Retry\n\n- [x] design\n- [ ] implement\n")
	write("spec-001-auth.md", "# Auth\n\n- [ ] write tests\n")
	write("spec-003-done.md", "# Done\n\n- [x] all of it\n")
	write("notes.txt", "- [ ] not a spec file\n")

	f := &Finalizer{WorkDir: dir}
	st := f.Collect(context.Background())

	if len(st.SpecsInProgress) != 2 {
		t.Fatalf("specs = %v, want 2 entries", st.SpecsInProgress)
	}
	// Directory order is file-name order.
	if st.SpecsInProgress[0] != "SPEC-001" || st.SpecsInProgress[1] != "SPEC-002" {
		t.Errorf("specs = %v, want [SPEC-001 SPEC-002]", st.SpecsInProgress)
	}
}

func TestSpecID(t *testing.T) {
	tests := []struct {
		name, want string
	}{
		{"spec-001-auth.md", "SPEC-001"},
		{"SPEC-042.md", "SPEC-042"},
		{"refactor-notes.md", "refactor-notes"},
	}
	for _, tt := range tests {
		if got := specID(tt.name); got != tt.want {
			t.Errorf("specID(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestCollectOutsideGitRepo(t *testing.T) {
	f := &Finalizer{WorkDir: t.TempDir()}
	st := f.Collect(context.Background())

	if st.CurrentBranch != "" {
		t.Errorf("branch = %q, want empty outside a repo", st.CurrentBranch)
	}
	if st.UncommittedChanges {
		t.Errorf("uncommitted_changes = true, want false")
	}
	if st.LastUpdated.IsZero() {
		t.Errorf("last_updated not stamped")
	}
}

func TestCollectHookOverride(t *testing.T) {
	f := &Finalizer{
		WorkDir: t.TempDir(),
		HookCmd: `echo '{"current_branch":"hook-branch","uncommitted_changes":true,"uncommitted_files":["x.go"]}'`,
	}
	st := f.Collect(context.Background())

	if st.CurrentBranch != "hook-branch" {
		t.Errorf("branch = %q, want hook-branch", st.CurrentBranch)
	}
	if !st.UncommittedChanges || len(st.UncommittedFiles) != 1 {
		t.Errorf("uncommitted = %v/%v", st.UncommittedChanges, st.UncommittedFiles)
	}
}

func TestCollectHookFailureFallsBack(t *testing.T) {
	f := &Finalizer{
		WorkDir: t.TempDir(),
		HookCmd: "false",
	}
	st := f.Collect(context.Background())

	// Hook failed; the git fallback outside a repo yields a clean state.
	if st.CurrentBranch != "" || st.UncommittedChanges {
		t.Errorf("fallback state = %+v, want clean", st)
	}
	if st.LastUpdated.IsZero() {
		t.Errorf("last_updated not stamped")
	}
}
