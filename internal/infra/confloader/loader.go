package confloader

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the default environment variable prefix.
const DefaultEnvPrefix = "SNAPFN_"

// NestingSeparator separates nesting levels in environment variable names,
// so that keys may keep single underscores: SNAPFN_STORE__TABLE_NAME sets
// store.table_name.
const NestingSeparator = "__"

// DefaultAliases maps platform-provided environment variables to config
// keys. SNAPFN_ variables take precedence over them.
var DefaultAliases = map[string]string{
	"TABLE_NAME":               "store.table_name",
	"AWS_REGION":               "store.region",
	"COLD_START_TIMEOUT_MS":    "runtime.cold_start_timeout_ms",
	"LOG_LEVEL":                "log.level",
	"AWS_LAMBDA_FUNCTION_NAME": "runtime.function_name",
}

// Loader loads configuration from multiple sources.
type Loader struct {
	mu        sync.Mutex
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	aliases   map[string]string
	overrides map[string]any
	lookupEnv func(string) (string, bool)
	loaded    bool
}

// Option is a function that configures the Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile sets the configuration file path.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// WithAliases replaces the platform alias table.
func WithAliases(aliases map[string]string) Option {
	return func(l *Loader) {
		l.aliases = aliases
	}
}

// WithOverrides sets values that win over every other source, typically
// command-line flags. Keys are dotted config keys.
func WithOverrides(values map[string]any) Option {
	return func(l *Loader) {
		l.overrides = values
	}
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
		aliases:   DefaultAliases,
		lookupEnv: os.LookupEnv,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Load loads configuration from all sources and unmarshals into target.
// target should already hold the defaults; only keys present in a source
// are overwritten. Later sources override earlier ones:
//  1. Configuration file (YAML)
//  2. Platform aliases (TABLE_NAME, AWS_REGION, ...)
//  3. Prefixed environment variables
//  4. Overrides
func (l *Loader) Load(target any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.k = koanf.New(".")
	if l.filePath != "" {
		if err := l.loadFile(l.filePath); err != nil {
			return fmt.Errorf("load config file: %w", err)
		}
	}
	if err := l.loadAliases(); err != nil {
		return fmt.Errorf("load aliases: %w", err)
	}
	if err := l.loadEnv(); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	if len(l.overrides) > 0 {
		if err := l.loadMap(l.overrides); err != nil {
			return fmt.Errorf("load overrides: %w", err)
		}
	}

	if err := l.k.Unmarshal("", target); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	l.loaded = true
	return nil
}

// LoadFile loads configuration from a YAML file.
func (l *Loader) LoadFile(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadFile(path)
}

func (l *Loader) loadFile(path string) error {
	if path == "" {
		return nil
	}
	if err := l.k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("load file %s: %w", path, err)
	}
	return nil
}

// EnvKey converts a prefixed environment variable name into a config key:
// SNAPFN_SERVER__HTTP__ADDR -> server.http.addr.
func EnvKey(prefix, name string) string {
	s := strings.TrimPrefix(name, prefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, NestingSeparator, ".")
}

func (l *Loader) loadEnv() error {
	provider := env.Provider(l.envPrefix, ".", func(s string) string {
		return EnvKey(l.envPrefix, s)
	})
	if err := l.k.Load(provider, nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

func (l *Loader) loadAliases() error {
	values := make(map[string]any)
	for name, key := range l.aliases {
		if v, ok := l.lookupEnv(name); ok && v != "" {
			values[key] = v
		}
	}
	if len(values) == 0 {
		return nil
	}
	return l.loadMap(values)
}

// LoadMap loads configuration from a map of dotted keys.
func (l *Loader) LoadMap(data map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadMap(data)
}

func (l *Loader) loadMap(data map[string]any) error {
	if err := l.k.Load(dottedMap(data), nil); err != nil {
		return fmt.Errorf("load map: %w", err)
	}
	return nil
}

// Unmarshal unmarshals the loaded configuration into the target struct.
func (l *Loader) Unmarshal(target any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.k.Unmarshal("", target)
}

// GetString returns a string value from the configuration.
func (l *Loader) GetString(key string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.k.String(key)
}

// GetInt returns an int value from the configuration.
func (l *Loader) GetInt(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.k.Int(key)
}

// GetBool returns a bool value from the configuration.
func (l *Loader) GetBool(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.k.Bool(key)
}

// FilePath returns the configuration file, if any.
func (l *Loader) FilePath() string {
	return l.filePath
}

// IsLoaded returns true if configuration has been loaded.
func (l *Loader) IsLoaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}
