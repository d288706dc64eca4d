// Package offline keeps the page shell and the compute module available
// without the network: a versioned asset manifest, a bbolt-backed cache store
// and an event-driven worker that installs, activates and answers fetches
// cache-first.
package offline

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults for the asset set.
const (
	DefaultPrefix  = "genpass-cache"
	DefaultVersion = "v1"
)

// DefaultAssets returns the resources required to run offline.
func DefaultAssets() []string {
	return []string{
		"/",
		"/app.js",
		"/sw-register.js",
		"/genpass.wasm",
		"/manifest.webmanifest",
		"/style.css",
		"/icon.webp",
	}
}

// Manifest binds an asset list to a cache version.
type Manifest struct {
	Prefix  string   `yaml:"prefix"`
	Version string   `yaml:"version"`
	Assets  []string `yaml:"assets"`

	path string
}

// DefaultManifest returns the built-in manifest.
func DefaultManifest() *Manifest {
	return &Manifest{
		Prefix:  DefaultPrefix,
		Version: DefaultVersion,
		Assets:  DefaultAssets(),
	}
}

// ParseManifest reads a YAML manifest. Missing prefix and version take the
// defaults.
func ParseManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ManifestNotFoundError{Path: path, Err: err}
	}

	m := Manifest{Prefix: DefaultPrefix, Version: DefaultVersion}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestParseError{Path: path, Err: err}
	}
	m.path = path

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// StoreName is the cache store the manifest installs into:
// "{prefix}-{version}".
func (m *Manifest) StoreName() string {
	return m.Prefix + "-" + m.Version
}

// Path returns the file the manifest was read from, if any.
func (m *Manifest) Path() string {
	if m.path == "" {
		return "<builtin>"
	}
	return m.path
}

// Validate checks manifest fields.
func (m *Manifest) Validate() error {
	if m.Prefix == "" {
		return &ManifestValidationError{Path: m.Path(), Field: "prefix", Message: "prefix is required"}
	}
	if strings.HasPrefix(m.Prefix, "__") {
		return &ManifestValidationError{Path: m.Path(), Field: "prefix", Message: "prefix must not start with __"}
	}
	if m.Version == "" {
		return &ManifestValidationError{Path: m.Path(), Field: "version", Message: "version is required"}
	}
	if strings.ContainsAny(m.Version, " /") {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "version",
			Message: fmt.Sprintf("invalid version token: %q", m.Version),
		}
	}
	if len(m.Assets) == 0 {
		return &ManifestValidationError{Path: m.Path(), Field: "assets", Message: "at least one asset is required"}
	}

	seen := make(map[string]bool, len(m.Assets))
	for _, asset := range m.Assets {
		if !strings.HasPrefix(asset, "/") {
			return &ManifestValidationError{
				Path:    m.Path(),
				Field:   "assets",
				Message: fmt.Sprintf("asset must be an absolute path: %s", asset),
			}
		}
		if seen[asset] {
			return &ManifestValidationError{
				Path:    m.Path(),
				Field:   "assets",
				Message: fmt.Sprintf("duplicate asset: %s", asset),
			}
		}
		seen[asset] = true
	}
	return nil
}

// Contains reports whether asset is part of the manifest.
func (m *Manifest) Contains(asset string) bool {
	for _, a := range m.Assets {
		if a == asset {
			return true
		}
	}
	return false
}
