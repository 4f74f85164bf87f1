// Package workspaceconfig loads the workspace configuration: the one
// process-wide, immutable-after-init singleton spec.md §9 names alongside
// the logger ("two process-wide singletons are acceptable: the workspace
// configuration ... and a logger"). Configuration file I/O is named in §1
// as an out-of-scope external concern; this package is the thin adapter
// that satisfies it for the rest of the ERC.
package workspaceconfig

import (
	"os"
	"sync"

	"github.com/goccy/go-yaml"

	"github.com/comfydock/comfydock-core/internal/cerr"
	"github.com/comfydock/comfydock-core/model"
)

// Config is the workspace-wide configuration: where model files live, what
// bearer tokens are configured for which download sources (§6.7, §1
// Non-goals "credential storage beyond a single opaque API token per
// external source"), and the downloader's timeouts (§5 "configurable").
type Config struct {
	ModelsRoot string `yaml:"models_root"`
	ConfigDir  string `yaml:"config_dir"`

	// Tokens maps a SourceType to its bearer token. Only civitai and
	// huggingface sources ever attach one (§6.7); direct never does.
	Tokens map[model.SourceType]string `yaml:"tokens"`

	ConnectTimeoutSeconds  int `yaml:"connect_timeout_seconds"`
	ReadIdleTimeoutSeconds int `yaml:"read_idle_timeout_seconds"`
	MaxRedirects           int `yaml:"max_redirects"`
}

// Default returns a Config with §5's stated defaults (30s connect, 60s
// read-idle, no overall timeout, 10 max redirects per §4.F).
func Default() Config {
	return Config{
		ConnectTimeoutSeconds:  30,
		ReadIdleTimeoutSeconds: 60,
		MaxRedirects:           10,
		Tokens:                 map[model.SourceType]string{},
	}
}

// Token returns the configured bearer token for source, or "" if none.
func (c Config) Token(source model.SourceType) string {
	return c.Tokens[source]
}

// Load reads and parses the YAML configuration file at path, filling in any
// field the file omits from Default().
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, cerr.New(cerr.KindNotFound, "workspace config file not found", err)
		}
		return Config{}, cerr.New(cerr.KindTransport, "reading workspace config file", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, cerr.New(cerr.KindValidation, "parsing workspace config YAML", err)
	}
	if cfg.ModelsRoot == "" {
		return Config{}, cerr.New(cerr.KindValidation, "workspace config missing models_root", nil)
	}
	if cfg.Tokens == nil {
		cfg.Tokens = map[model.SourceType]string{}
	}
	return cfg, nil
}

var (
	mu       sync.RWMutex
	instance Config
	loaded   bool
)

// Init loads cfg into the process-wide singleton. Callers invoke it once at
// startup; it is immutable afterward ("immutable thereafter" per §9): a
// later call fails with a conflict error unless Reset (tests only) has
// cleared the singleton first.
func Init(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return Config{}, err
	}
	mu.Lock()
	defer mu.Unlock()
	if loaded {
		return Config{}, cerr.New(cerr.KindConflict, "workspace config already initialized", nil)
	}
	instance = cfg
	loaded = true
	return cfg, nil
}

// Get returns the process-wide Config. Panics if Init has not been called,
// since every ERC component that reads it assumes startup has completed.
func Get() Config {
	mu.RLock()
	defer mu.RUnlock()
	if !loaded {
		panic("workspaceconfig: Get() called before Init()")
	}
	return instance
}

// Reset clears the singleton, for test isolation only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	instance = Config{}
	loaded = false
}
