package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BlockPercent != DefaultConfig().BlockPercent {
		t.Fatalf("BlockPercent = %d, want %d", cfg.BlockPercent, DefaultConfig().BlockPercent)
	}
	if cfg.WorkerBinary != "claude" {
		t.Fatalf("WorkerBinary = %q, want %q", cfg.WorkerBinary, "claude")
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"worker_timeout_seconds": 60, "inject_recent_count": 5}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WorkerTimeoutSeconds != 60 {
		t.Fatalf("WorkerTimeoutSeconds = %d, want 60", cfg.WorkerTimeoutSeconds)
	}
	if cfg.InjectRecentCount != 5 {
		t.Fatalf("InjectRecentCount = %d, want 5", cfg.InjectRecentCount)
	}
	// Untouched scalars keep defaults
	if cfg.ActivityLogCap != 1000 {
		t.Fatalf("ActivityLogCap = %d, want 1000 (default)", cfg.ActivityLogCap)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{not json}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoadWithProject_BothPresent(t *testing.T) {
	globalDir := t.TempDir()
	projectRoot := t.TempDir()

	globalConfig := `{"worker_model": "sonnet", "disabled_tools": ["nous_inventory"]}`
	if err := os.WriteFile(filepath.Join(globalDir, "config.json"), []byte(globalConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	nousDir := filepath.Join(projectRoot, ".claude", "nous")
	if err := os.MkdirAll(nousDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	projectConfig := `{"worker_model": "opus", "disabled_tools": ["nous_search"]}`
	if err := os.WriteFile(filepath.Join(nousDir, "config.json"), []byte(projectConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadWithProject(globalDir, projectRoot)
	if err != nil {
		t.Fatalf("LoadWithProject() error = %v", err)
	}

	// Project overrides scalar
	if cfg.WorkerModel != "opus" {
		t.Errorf("WorkerModel = %q, want %q (project override)", cfg.WorkerModel, "opus")
	}

	// Arrays merged
	if len(cfg.DisabledTools) != 2 {
		t.Errorf("DisabledTools length = %d, want 2", len(cfg.DisabledTools))
	}
}

func TestLoadWithProject_OnlyGlobal(t *testing.T) {
	globalDir := t.TempDir()
	projectDir := t.TempDir() // No config file

	globalConfig := `{"block_percent": 90}`
	if err := os.WriteFile(filepath.Join(globalDir, "config.json"), []byte(globalConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadWithProject(globalDir, projectDir)
	if err != nil {
		t.Fatalf("LoadWithProject() error = %v", err)
	}

	if cfg.BlockPercent != 90 {
		t.Errorf("BlockPercent = %d, want 90", cfg.BlockPercent)
	}
	if cfg.FlushOnlyPercent != 70 {
		t.Errorf("FlushOnlyPercent = %d, want 70 (default)", cfg.FlushOnlyPercent)
	}
}

func TestLoadWithProject_NeitherPresent(t *testing.T) {
	globalDir := t.TempDir()
	projectDir := t.TempDir()

	cfg, err := LoadWithProject(globalDir, projectDir)
	if err != nil {
		t.Fatalf("LoadWithProject() error = %v", err)
	}

	// All defaults
	if cfg.SkipBelowPercent != 10 {
		t.Errorf("SkipBelowPercent = %d, want 10", cfg.SkipBelowPercent)
	}
	if cfg.WorkerTimeoutSeconds != 300 {
		t.Errorf("WorkerTimeoutSeconds = %d, want 300", cfg.WorkerTimeoutSeconds)
	}
	if len(cfg.DisabledTools) != 0 {
		t.Errorf("DisabledTools = %v, want empty", cfg.DisabledTools)
	}
}

func TestMerge_ScalarOverride(t *testing.T) {
	base := &Config{WorkerTimeoutSeconds: 300, DBMaxOpenConns: 5}
	overlay := &Config{WorkerTimeoutSeconds: 120} // DBMaxOpenConns is 0 (zero value)

	result := Merge(base, overlay)

	if result.WorkerTimeoutSeconds != 120 {
		t.Errorf("WorkerTimeoutSeconds = %d, want 120 (overlay)", result.WorkerTimeoutSeconds)
	}
	if result.DBMaxOpenConns != 5 {
		t.Errorf("DBMaxOpenConns = %d, want 5 (base, overlay is zero)", result.DBMaxOpenConns)
	}
}

func TestMerge_StringOverride(t *testing.T) {
	base := &Config{WorkerBinary: "claude", WorkerModel: "opus"}
	overlay := &Config{WorkerModel: "sonnet"}

	result := Merge(base, overlay)

	if result.WorkerBinary != "claude" {
		t.Errorf("WorkerBinary = %q, want %q (base, overlay empty)", result.WorkerBinary, "claude")
	}
	if result.WorkerModel != "sonnet" {
		t.Errorf("WorkerModel = %q, want %q (overlay)", result.WorkerModel, "sonnet")
	}
}

func TestMerge_ArrayMergeDedup(t *testing.T) {
	base := &Config{DisabledTools: []string{"nous_search", "nous_inventory"}}
	overlay := &Config{DisabledTools: []string{"nous_inventory", "nous_recall"}}

	result := Merge(base, overlay)

	if len(result.DisabledTools) != 3 {
		t.Errorf("DisabledTools length = %d, want 3 (merged, deduped)", len(result.DisabledTools))
	}

	has := make(map[string]bool)
	for _, s := range result.DisabledTools {
		has[s] = true
	}
	for _, want := range []string{"nous_search", "nous_inventory", "nous_recall"} {
		if !has[want] {
			t.Errorf("DisabledTools missing %q", want)
		}
	}
}

func TestFindProjectConfig_InCurrentDir(t *testing.T) {
	tmpDir := t.TempDir()
	nousDir := filepath.Join(tmpDir, ".claude", "nous")
	if err := os.MkdirAll(nousDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	configPath := filepath.Join(nousDir, "config.json")
	if err := os.WriteFile(configPath, []byte(`{}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	found := FindProjectConfig(tmpDir)
	if found != configPath {
		t.Errorf("FindProjectConfig() = %q, want %q", found, configPath)
	}
}

func TestFindProjectConfig_InParentDir(t *testing.T) {
	// Create: tmpDir/.claude/nous/config.json
	//         tmpDir/subdir/deeper/
	tmpDir := t.TempDir()
	nousDir := filepath.Join(tmpDir, ".claude", "nous")
	if err := os.MkdirAll(nousDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	configPath := filepath.Join(nousDir, "config.json")
	if err := os.WriteFile(configPath, []byte(`{}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	subdir := filepath.Join(tmpDir, "subdir", "deeper")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	found := FindProjectConfig(subdir)
	if found != configPath {
		t.Errorf("FindProjectConfig() = %q, want %q", found, configPath)
	}
}

func TestFindProjectConfig_NotFound(t *testing.T) {
	tmpDir := t.TempDir()
	// No .claude/nous directory

	found := FindProjectConfig(tmpDir)
	if found != "" {
		t.Errorf("FindProjectConfig() = %q, want empty string", found)
	}
}
