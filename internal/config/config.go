// Package config loads and watches the recall configuration file. The
// file is JSON5 so hand-edited configs may carry comments and trailing
// commas; Save always emits plain JSON, which every JSON5 parser reads.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/recall/internal/synthesis"
)

// DefaultFileName is the config file under the recall home dir.
const DefaultFileName = "config.json5"

// Config is the whole configuration tree.
type Config struct {
	// Mode is "standalone" (local sqlite) or "managed" (shared postgres).
	Mode string `json:"mode,omitempty"`
	// DataDir holds the store, session state and snapshots.
	DataDir string `json:"data_dir,omitempty"`
	// Project names the active project for scoped hints.
	Project string `json:"project,omitempty"`

	Memory    MemoryConfig        `json:"memory,omitempty"`
	Store     StoreConfig         `json:"store,omitempty"`
	Session   SessionConfig       `json:"session,omitempty"`
	Retention RetentionConfig     `json:"retention,omitempty"`
	Rules     []synthesis.RuleDef `json:"rules,omitempty"`
	Serve     ServeConfig         `json:"serve,omitempty"`
	Backup    BackupConfig        `json:"backup,omitempty"`
	Tracing   TracingConfig       `json:"tracing,omitempty"`
}

// MemoryConfig tunes the retrieval pipeline. The episodic window (24h)
// and knowledge top-K (10) are fixed; only the deadline, summary budget
// and cache staleness are tunable.
type MemoryConfig struct {
	LoadTimeoutMs    int `json:"load_timeout_ms,omitempty"`
	MaxSummaryTokens int `json:"max_summary_tokens,omitempty"`
	CacheTTLSeconds  int `json:"cache_ttl_seconds,omitempty"`
}

// StoreConfig selects the backend.
type StoreConfig struct {
	SQLitePath string `json:"sqlite_path,omitempty"`
	// PostgresDSN may be a literal DSN, "keyring:<key>" or an
	// "aes-gcm:" value encrypted with EncryptionKey.
	PostgresDSN   string `json:"postgres_dsn,omitempty"`
	EncryptionKey string `json:"encryption_key,omitempty"`
}

// SessionConfig controls the finalizer.
type SessionConfig struct {
	SpecsDir     string `json:"specs_dir,omitempty"`
	FinalizeHook string `json:"finalize_hook,omitempty"`
}

// RetentionConfig schedules background sweeps.
type RetentionConfig struct {
	Schedule        string  `json:"schedule,omitempty"`
	EventTTLHours   int     `json:"event_ttl_hours,omitempty"`
	DecayAfterDays  int     `json:"decay_after_days,omitempty"`
	DecayFactor     float64 `json:"decay_factor,omitempty"`
	ConfidenceFloor float64 `json:"confidence_floor,omitempty"`
}

// ServeConfig configures the HTTP surface.
type ServeConfig struct {
	Addr string `json:"addr,omitempty"`
	// AuthToken may be a literal, "keyring:<key>" or encrypted.
	AuthToken      string `json:"auth_token,omitempty"`
	MaxConns       int    `json:"max_conns,omitempty"`
	RateLimitRPS   int    `json:"rate_limit_rps,omitempty"`
	RateLimitBurst int    `json:"rate_limit_burst,omitempty"`
	RedisAddr      string `json:"redis_addr,omitempty"`
	TSNetHostname  string `json:"tsnet_hostname,omitempty"`
}

// BackupConfig points store exports at S3. Endpoint switches to an
// S3-compatible server (MinIO etc.); SecretAccessKey goes through the
// secret chain like the other credentials.
type BackupConfig struct {
	S3Bucket        string `json:"s3_bucket,omitempty"`
	S3Prefix        string `json:"s3_prefix,omitempty"`
	Region          string `json:"region,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
}

// TracingConfig configures the OTLP exporter in otel builds.
type TracingConfig struct {
	Endpoint    string            `json:"otlp_endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Default returns a config with every knob at its default.
func Default() *Config {
	return &Config{
		Mode:    "standalone",
		DataDir: "~/.recall",
		Memory: MemoryConfig{
			LoadTimeoutMs:   2000,
			CacheTTLSeconds: 30,
		},
		Session: SessionConfig{SpecsDir: "specs"},
		Retention: RetentionConfig{
			Schedule:        "0 * * * *",
			EventTTLHours:   72,
			DecayAfterDays:  90,
			DecayFactor:     0.9,
			ConfidenceFloor: 0.1,
		},
		Serve: ServeConfig{
			Addr:           "127.0.0.1:7823",
			MaxConns:       256,
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
		Backup: BackupConfig{S3Prefix: "recall/"},
	}
}

// Load reads and parses a config file, filling unset fields with
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes the config as indented JSON.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.Memory.LoadTimeoutMs <= 0 {
		c.Memory.LoadTimeoutMs = d.Memory.LoadTimeoutMs
	}
	if c.Memory.CacheTTLSeconds <= 0 {
		c.Memory.CacheTTLSeconds = d.Memory.CacheTTLSeconds
	}
	if c.Session.SpecsDir == "" {
		c.Session.SpecsDir = d.Session.SpecsDir
	}
	if c.Retention.Schedule == "" {
		c.Retention.Schedule = d.Retention.Schedule
	}
	if c.Retention.EventTTLHours <= 0 {
		c.Retention.EventTTLHours = d.Retention.EventTTLHours
	}
	if c.Retention.DecayAfterDays <= 0 {
		c.Retention.DecayAfterDays = d.Retention.DecayAfterDays
	}
	if c.Retention.DecayFactor <= 0 || c.Retention.DecayFactor >= 1 {
		c.Retention.DecayFactor = d.Retention.DecayFactor
	}
	if c.Retention.ConfidenceFloor <= 0 {
		c.Retention.ConfidenceFloor = d.Retention.ConfidenceFloor
	}
	if c.Serve.Addr == "" {
		c.Serve.Addr = d.Serve.Addr
	}
	if c.Serve.MaxConns <= 0 {
		c.Serve.MaxConns = d.Serve.MaxConns
	}
	if c.Serve.RateLimitRPS <= 0 {
		c.Serve.RateLimitRPS = d.Serve.RateLimitRPS
	}
	if c.Serve.RateLimitBurst <= 0 {
		c.Serve.RateLimitBurst = d.Serve.RateLimitBurst
	}
	if c.Backup.S3Prefix == "" {
		c.Backup.S3Prefix = d.Backup.S3Prefix
	}
}

// ExpandHome resolves a leading ~ against the user home dir.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// ResolvedDataDir returns DataDir with ~ expanded.
func (c *Config) ResolvedDataDir() string {
	return ExpandHome(c.DataDir)
}

// SQLitePath returns the configured sqlite file, defaulting under the
// data dir.
func (c *Config) SQLitePath() string {
	if c.Store.SQLitePath != "" {
		return ExpandHome(c.Store.SQLitePath)
	}
	return filepath.Join(c.ResolvedDataDir(), "recall.db")
}

// IsManaged reports whether the shared postgres backend is selected.
func (c *Config) IsManaged() bool {
	return c.Mode == "managed" && c.Store.PostgresDSN != ""
}
