package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte(`{mode: "standalone"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Memory.LoadTimeoutMs != 2000 {
		t.Errorf("LoadTimeoutMs = %d, want 2000", cfg.Memory.LoadTimeoutMs)
	}
	if cfg.Memory.CacheTTLSeconds != 30 {
		t.Errorf("CacheTTLSeconds = %d, want 30", cfg.Memory.CacheTTLSeconds)
	}
	if cfg.Retention.ConfidenceFloor != 0.1 {
		t.Errorf("ConfidenceFloor = %v, want 0.1", cfg.Retention.ConfidenceFloor)
	}
	if cfg.Session.SpecsDir != "specs" {
		t.Errorf("SpecsDir = %q, want specs", cfg.Session.SpecsDir)
	}
}

func TestLoadAcceptsJSON5Syntax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	content := `{
	// comments and trailing commas are fine
	mode: "managed",
	project: "recall",
	memory: {
		load_timeout_ms: 500,
	},
	store: {
		postgres_dsn: "postgres://localhost/recall",
	},
}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "managed" {
		t.Errorf("Mode = %q, want managed", cfg.Mode)
	}
	if cfg.Memory.LoadTimeoutMs != 500 {
		t.Errorf("LoadTimeoutMs = %d, want 500", cfg.Memory.LoadTimeoutMs)
	}
	if !cfg.IsManaged() {
		t.Error("IsManaged() = false, want true")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte("{mode:"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed file")
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json5")

	cfg := Default()
	cfg.Project = "recall"
	cfg.Rules = nil
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load after Save: %v", err)
	}
	if got.Project != "recall" {
		t.Errorf("Project = %q, want recall", got.Project)
	}
	if got.Serve.Addr != cfg.Serve.Addr {
		t.Errorf("Serve.Addr = %q, want %q", got.Serve.Addr, cfg.Serve.Addr)
	}
}

func TestSQLitePathDefaultsUnderDataDir(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/tmp/recall-test"
	if got, want := cfg.SQLitePath(), "/tmp/recall-test/recall.db"; got != want {
		t.Errorf("SQLitePath() = %q, want %q", got, want)
	}

	cfg.Store.SQLitePath = "/elsewhere/mem.db"
	if got := cfg.SQLitePath(); got != "/elsewhere/mem.db" {
		t.Errorf("SQLitePath() = %q, want explicit path", got)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := ExpandHome("~/x"); got != filepath.Join(home, "x") {
		t.Errorf("ExpandHome(~/x) = %q", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandHome(/abs/path) = %q", got)
	}
	if got := ExpandHome("relative"); got != "relative" {
		t.Errorf("ExpandHome(relative) = %q", got)
	}
}

func TestResolveSecretLiteral(t *testing.T) {
	got, err := ResolveSecret("plain-value", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "plain-value" {
		t.Errorf("got %q, want literal passthrough", got)
	}

	got, err = ResolveSecret("", "")
	if err != nil || got != "" {
		t.Errorf("empty value: got %q, %v", got, err)
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	key := strings.Repeat("k", 32)

	enc, err := EncryptSecret("postgres://u:p@h/db", key)
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}
	if !strings.HasPrefix(enc, "aes-gcm:") {
		t.Fatalf("encrypted value %q lacks prefix", enc)
	}

	dec, err := ResolveSecret(enc, key)
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if dec != "postgres://u:p@h/db" {
		t.Errorf("roundtrip = %q", dec)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	enc, err := EncryptSecret("secret", strings.Repeat("a", 32))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ResolveSecret(enc, strings.Repeat("b", 32)); err == nil {
		t.Fatal("expected decrypt failure with wrong key")
	}
}

func TestDecryptWithoutKeyFails(t *testing.T) {
	enc, err := EncryptSecret("secret", strings.Repeat("a", 32))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ResolveSecret(enc, ""); err == nil {
		t.Fatal("expected error when key is missing")
	}
}

func TestEncryptSecretNoKeyPassthrough(t *testing.T) {
	got, err := EncryptSecret("value", "")
	if err != nil || got != "value" {
		t.Errorf("got %q, %v; want passthrough", got, err)
	}
}

func TestDeriveKeyForms(t *testing.T) {
	// 64 hex chars
	if _, err := deriveKey(strings.Repeat("ab", 32)); err != nil {
		t.Errorf("hex form: %v", err)
	}
	// raw 32 bytes
	if _, err := deriveKey(strings.Repeat("x", 32)); err != nil {
		t.Errorf("raw form: %v", err)
	}
	if _, err := deriveKey("short"); err == nil {
		t.Error("expected error for bad key length")
	}
}

func TestNormalizeSessionID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "default"},
		{"  ", "default"},
		{"My Session", "my-session"},
		{"already-fine_1", "already-fine_1"},
		{"UPPER", "upper"},
		{"../../etc/passwd", "etc-passwd"},
		{"--weird--", "weird"},
		{strings.Repeat("a", 80), strings.Repeat("a", 64)},
	}
	for _, tt := range tests {
		if got := NormalizeSessionID(tt.in); got != tt.want {
			t.Errorf("NormalizeSessionID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
