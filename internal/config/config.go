package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Config holds application configuration.
type Config struct {
	// SkipBelowPercent is the context-usage floor (exclusive) below which the
	// Stop hook does nothing: too little new transcript to be worth extracting.
	SkipBelowPercent int `json:"skip_below_percent"`

	// FlushOnlyPercent is the context-usage bound (inclusive) at which new
	// extraction stops being launched and only inbox consolidation runs.
	FlushOnlyPercent int `json:"flush_only_percent"`

	// BlockPercent is the context-usage bound (inclusive) at which the Stop
	// hook blocks session termination until a flush completes.
	BlockPercent int `json:"block_percent"`

	// ActivityLogCap is the soft cap on activity log records. Exceeding it
	// triggers a synchronous truncation to ActivityLogRetain records.
	ActivityLogCap int `json:"activity_log_cap"`

	// ActivityLogRetain is the trailing window kept when the log is truncated.
	ActivityLogRetain int `json:"activity_log_retain"`

	// InjectRecentCount is how many recent consolidated entries per lens are
	// injected at session start.
	InjectRecentCount int `json:"inject_recent_count"`

	// InjectMaxChars bounds the total injected payload.
	InjectMaxChars int `json:"inject_max_chars"`

	// ExistingEntryContext is how many recent consolidated entries per lens
	// are embedded in extraction prompts for source-side deduplication.
	ExistingEntryContext int `json:"existing_entry_context"`

	// WorkerTimeoutSeconds is the wall-clock budget for one extraction worker.
	WorkerTimeoutSeconds int `json:"worker_timeout_seconds"`

	// WorkerBinary is the host assistant binary invoked in print mode.
	WorkerBinary string `json:"worker_binary,omitempty"`

	// WorkerModel is the model passed to the worker invocation.
	WorkerModel string `json:"worker_model,omitempty"`

	// DBMaxOpenConns limits the maximum number of open index database
	// connections. If set to 1, all access is serialized (reduces
	// "database is locked" errors). 0 means use sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SkipBelowPercent:     10,
		FlushOnlyPercent:     70,
		BlockPercent:         85,
		ActivityLogCap:       1000,
		ActivityLogRetain:    500,
		InjectRecentCount:    20,
		InjectMaxChars:       24000,
		ExistingEntryContext: 20,
		WorkerTimeoutSeconds: 300,
		WorkerBinary:         "claude",
		WorkerModel:          "opus",
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.nous.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithProject loads configuration from both global (~/.nous) and project
// (.claude/nous) directories. Project config is found by walking upward from
// startDir to the nearest .claude/nous/config.json. Project config takes
// precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithProject(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	projectConfigPath := FindProjectConfig(startDir)
	project, err := loadFileRaw(projectConfigPath)
	if err != nil {
		return nil, err
	}

	// Apply defaults, then global, then project
	return Merge(Merge(DefaultConfig(), global), project), nil
}

// FindProjectConfig walks upward from startDir to find the nearest
// .claude/nous/config.json. Returns the path if found, or empty string.
func FindProjectConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".claude", "nous", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root, not found
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.SkipBelowPercent = overlayInt(base.SkipBelowPercent, overlay.SkipBelowPercent)
	result.FlushOnlyPercent = overlayInt(base.FlushOnlyPercent, overlay.FlushOnlyPercent)
	result.BlockPercent = overlayInt(base.BlockPercent, overlay.BlockPercent)
	result.ActivityLogCap = overlayInt(base.ActivityLogCap, overlay.ActivityLogCap)
	result.ActivityLogRetain = overlayInt(base.ActivityLogRetain, overlay.ActivityLogRetain)
	result.InjectRecentCount = overlayInt(base.InjectRecentCount, overlay.InjectRecentCount)
	result.InjectMaxChars = overlayInt(base.InjectMaxChars, overlay.InjectMaxChars)
	result.ExistingEntryContext = overlayInt(base.ExistingEntryContext, overlay.ExistingEntryContext)
	result.WorkerTimeoutSeconds = overlayInt(base.WorkerTimeoutSeconds, overlay.WorkerTimeoutSeconds)
	result.DBMaxOpenConns = overlayInt(base.DBMaxOpenConns, overlay.DBMaxOpenConns)
	result.DBMaxIdleConns = overlayInt(base.DBMaxIdleConns, overlay.DBMaxIdleConns)

	result.WorkerBinary = overlay.WorkerBinary
	if result.WorkerBinary == "" {
		result.WorkerBinary = base.WorkerBinary
	}

	result.WorkerModel = overlay.WorkerModel
	if result.WorkerModel == "" {
		result.WorkerModel = base.WorkerModel
	}

	// Arrays: merge and deduplicate
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

// overlayInt returns overlay if non-zero, else base.
func overlayInt(base, overlay int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
