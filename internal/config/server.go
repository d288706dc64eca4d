package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/woxQAQ/genpass-host/internal/genpass"
	"github.com/woxQAQ/genpass-host/internal/offline"
	"github.com/woxQAQ/genpass-host/internal/wasm"
)

// EnvPrefix is the prefix of environment overrides, e.g. GENPASS_WASM_ENGINE.
const EnvPrefix = "GENPASS"

type ServerConfig struct {
	LogLevel       string          `mapstructure:"log_level"`
	ListenAddr     string          `mapstructure:"listen_addr"`
	MetricsEnabled bool            `mapstructure:"metrics_enabled"`
	MetricsPort    int             `mapstructure:"metrics_port"`
	Wasm           WasmConfig      `mapstructure:"wasm"`
	Generator      GeneratorConfig `mapstructure:"generator"`
	Offline        OfflineConfig   `mapstructure:"offline"`
}

// WasmConfig holds Wasm runtime configuration.
type WasmConfig struct {
	// Memory limit per module (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages"`
	// Engine is auto, compiler or interpreter.
	Engine string `mapstructure:"engine"`
	// Compilation cache directory.
	CacheDir string `mapstructure:"cache_dir"`
	// ModulePath loads the module from disk when set; otherwise it is
	// fetched as ModuleAsset through the offline cache.
	ModulePath  string `mapstructure:"module_path"`
	ModuleAsset string `mapstructure:"module_asset"`
	// InitFunction is the initializer export called once after instantiation.
	InitFunction string `mapstructure:"init_function"`
	// Module execution timeout. Zero disables it.
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`
}

// GeneratorConfig holds defaults for generate and save.
type GeneratorConfig struct {
	DefaultCount int64 `mapstructure:"default_count"`
	// OutputDir receives the saved text after generate. Empty skips saving.
	OutputDir string `mapstructure:"output_dir"`
}

// OfflineConfig holds the offline cache configuration.
type OfflineConfig struct {
	Origin       string        `mapstructure:"origin"`
	DBPath       string        `mapstructure:"db_path"`
	CachePrefix  string        `mapstructure:"cache_prefix"`
	Version      string        `mapstructure:"version"`
	ManifestFile string        `mapstructure:"manifest_file"`
	Assets       []string      `mapstructure:"assets"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

func LoadServerConfig(configPath string) (*ServerConfig, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("log_level", "info")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("metrics_enabled", false)
	v.SetDefault("metrics_port", 9090)

	// Wasm defaults
	v.SetDefault("wasm.memory_pages", 256) // 16MB
	v.SetDefault("wasm.engine", wasm.EngineAuto)
	v.SetDefault("wasm.cache_dir", "")
	v.SetDefault("wasm.module_path", "")
	v.SetDefault("wasm.module_asset", "/genpass.wasm")
	v.SetDefault("wasm.init_function", genpass.DefaultManagerConfig().InitFunction)
	v.SetDefault("wasm.execution_timeout", 10*time.Second)

	v.SetDefault("generator.default_count", genpass.DefaultCount)
	v.SetDefault("generator.output_dir", "")

	v.SetDefault("offline.origin", "http://127.0.0.1:8000")
	v.SetDefault("offline.db_path", "./genpass-cache.db")
	v.SetDefault("offline.cache_prefix", offline.DefaultPrefix)
	v.SetDefault("offline.version", offline.DefaultVersion)
	v.SetDefault("offline.manifest_file", "")
	v.SetDefault("offline.assets", offline.DefaultAssets())
	v.SetDefault("offline.fetch_timeout", offline.DefaultFetchTimeout)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Runtime converts the wasm section into a runtime configuration.
func (c *WasmConfig) Runtime() *wasm.RuntimeConfig {
	rc := wasm.DefaultRuntimeConfig()
	rc.MemoryPages = c.MemoryPages
	rc.Engine = c.Engine
	rc.CacheDir = c.CacheDir
	rc.ExecutionTimeout = c.ExecutionTimeout
	return rc
}

// Manifest returns the asset manifest: the manifest file when one is
// configured, otherwise the inline prefix, version and assets.
func (c *OfflineConfig) Manifest() (*offline.Manifest, error) {
	if c.ManifestFile != "" {
		return offline.ParseManifest(c.ManifestFile)
	}
	m := &offline.Manifest{
		Prefix:  c.CachePrefix,
		Version: c.Version,
		Assets:  c.Assets,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
