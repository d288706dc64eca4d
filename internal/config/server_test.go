package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/woxQAQ/genpass-host/internal/offline"
	"github.com/woxQAQ/genpass-host/internal/wasm"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Default log level mismatch: got %s, want info", cfg.LogLevel)
	}

	if cfg.MetricsEnabled {
		t.Errorf("Metrics should be disabled by default")
	}

	if cfg.MetricsPort != 9090 {
		t.Errorf("Default metrics port mismatch: got %d, want 9090", cfg.MetricsPort)
	}

	if cfg.Wasm.Engine != wasm.EngineAuto || cfg.Wasm.ModuleAsset != "/genpass.wasm" {
		t.Errorf("Unexpected wasm defaults: %+v", cfg.Wasm)
	}

	if cfg.Wasm.InitFunction != "__wasm_call_ctors" {
		t.Errorf("Default init function mismatch: got %s", cfg.Wasm.InitFunction)
	}

	if cfg.Generator.DefaultCount != 10 {
		t.Errorf("Default count mismatch: got %d, want 10", cfg.Generator.DefaultCount)
	}

	if cfg.Offline.FetchTimeout != offline.DefaultFetchTimeout {
		t.Errorf("Default fetch timeout mismatch: got %s", cfg.Offline.FetchTimeout)
	}

	m, err := cfg.Offline.Manifest()
	if err != nil {
		t.Fatalf("Default manifest invalid: %v", err)
	}
	if m.StoreName() != "genpass-cache-v1" || len(m.Assets) != len(offline.DefaultAssets()) {
		t.Errorf("Unexpected default manifest: %+v", m)
	}
}

func TestLoadServerConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	configContent := `
log_level: debug
metrics_enabled: true
metrics_port: 8080
wasm:
  engine: interpreter
  memory_pages: 32
  execution_timeout: 2s
offline:
  version: v2
  assets:
    - /
    - /genpass.wasm
`
	if err := os.WriteFile(path, []byte(configContent), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("Log level mismatch: got %s, want debug", cfg.LogLevel)
	}

	if cfg.MetricsPort != 8080 {
		t.Errorf("Metrics port mismatch: got %d, want 8080", cfg.MetricsPort)
	}

	rc := cfg.Wasm.Runtime()
	if rc.Engine != wasm.EngineInterpreter || rc.MemoryPages != 32 || rc.ExecutionTimeout != 2*time.Second {
		t.Errorf("Unexpected runtime config: %+v", rc)
	}

	m, err := cfg.Offline.Manifest()
	if err != nil {
		t.Fatalf("Manifest failed: %v", err)
	}
	if m.StoreName() != "genpass-cache-v2" || len(m.Assets) != 2 {
		t.Errorf("Unexpected manifest: %+v", m)
	}
}

func TestLoadServerConfigEnv(t *testing.T) {
	t.Setenv("GENPASS_LOG_LEVEL", "warn")
	t.Setenv("GENPASS_OFFLINE_VERSION", "v7")
	t.Setenv("GENPASS_WASM_ENGINE", "interpreter")

	cfg, err := LoadServerConfig("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("Log level mismatch: got %s, want warn", cfg.LogLevel)
	}
	if cfg.Offline.Version != "v7" {
		t.Errorf("Version mismatch: got %s, want v7", cfg.Offline.Version)
	}
	if cfg.Wasm.Engine != wasm.EngineInterpreter {
		t.Errorf("Engine mismatch: got %s", cfg.Wasm.Engine)
	}
}

func TestLoadServerConfigMissingFile(t *testing.T) {
	if _, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestManifestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.yaml")
	if err := os.WriteFile(path, []byte("version: v3\nassets: [/genpass.wasm]\n"), 0644); err != nil {
		t.Fatal(err)
	}

	oc := OfflineConfig{ManifestFile: path, Version: "ignored"}
	m, err := oc.Manifest()
	if err != nil {
		t.Fatalf("Manifest failed: %v", err)
	}
	if m.StoreName() != "genpass-cache-v3" {
		t.Errorf("StoreName = %s", m.StoreName())
	}
}

func TestManifestInvalid(t *testing.T) {
	oc := OfflineConfig{CachePrefix: "p", Version: "v1", Assets: []string{"relative"}}
	if _, err := oc.Manifest(); err == nil {
		t.Fatal("expected validation error")
	}
}
