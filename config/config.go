package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Elon-Abulafia/PipeRT/errors"
	"github.com/Elon-Abulafia/PipeRT/pkg/tlsutil"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "PIPERT"

// Config is the process configuration
type Config struct {
	Log             LogConfig        `json:"log" yaml:"log"`
	Transport       TransportConfig  `json:"transport" yaml:"transport"`
	Metrics         MetricsConfig    `json:"metrics" yaml:"metrics"`
	ShutdownTimeout time.Duration    `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	Components      ComponentConfigs `json:"components" yaml:"components"`
}

// LogConfig selects the log handler
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// TransportConfig is the default transport for every component
type TransportConfig struct {
	URL    string `json:"url" yaml:"url"`
	MaxLen int    `json:"max_len" yaml:"max_len"`
	Stream string `json:"stream,omitempty" yaml:"stream,omitempty"`
	// TLS secures nats:// and mqtts:// connections
	TLS *tlsutil.ClientConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path" yaml:"path"`
}

// ComponentConfig describes one component instance. Config holds the
// type-specific settings and is decoded by the component's factory.
type ComponentConfig struct {
	Type     string         `json:"type" yaml:"type"`
	Enabled  *bool          `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Endpoint string         `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Config   map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// IsEnabled reports whether the component should run; unset means enabled
func (c ComponentConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Decode unmarshals the type-specific settings into target, which should
// already hold the defaults
func (c ComponentConfig) Decode(target any) error {
	if len(c.Config) == 0 {
		return nil
	}
	data, err := json.Marshal(c.Config)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "Decode", "marshal component config")
	}
	if err := json.Unmarshal(data, target); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err), "Config", "Decode", "unmarshal component config")
	}
	return nil
}

// ComponentConfigs maps instance names to their configuration
type ComponentConfigs map[string]ComponentConfig

// Names returns the instance names in sorted order
func (c ComponentConfigs) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns the configuration used when no file sets a value
func Default() *Config {
	return &Config{
		Log:             LogConfig{Level: "info", Format: "json"},
		Transport:       TransportConfig{URL: "memory://", MaxLen: 100, Stream: "PIPERT"},
		Metrics:         MetricsConfig{Enabled: false, Port: 9090, Path: "/metrics"},
		ShutdownTimeout: 30 * time.Second,
		Components:      ComponentConfigs{},
	}
}

var componentNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,63}$`)

// Validate checks every section and reports all problems at once
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		invalid("log.level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		invalid("log.format %q", c.Log.Format)
	}

	if u, err := url.Parse(c.Transport.URL); err != nil || u.Scheme == "" {
		invalid("transport.url %q", c.Transport.URL)
	}
	if c.Transport.MaxLen <= 0 {
		invalid("transport.max_len must be positive, got %d", c.Transport.MaxLen)
	}
	if tls := c.Transport.TLS; tls != nil && (tls.CertFile == "") != (tls.KeyFile == "") {
		invalid("transport.tls needs both cert_file and key_file")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			invalid("metrics.port %d", c.Metrics.Port)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			invalid("metrics.path %q must start with /", c.Metrics.Path)
		}
	}

	if c.ShutdownTimeout <= 0 {
		invalid("shutdown_timeout must be positive")
	}

	for _, name := range c.Components.Names() {
		cc := c.Components[name]
		if !componentNamePattern.MatchString(name) {
			invalid("component name %q", name)
		}
		if cc.Type == "" {
			invalid("components.%s.type is required", name)
		}
	}

	if len(errs) > 0 {
		return errors.WrapInvalid(stderrors.Join(errs...), "Config", "Validate", "validate configuration")
	}
	return nil
}

// Clone returns a deep copy
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String returns the indented JSON form
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// SaveToFile writes the configuration as JSON or YAML, chosen by extension
func (c *Config) SaveToFile(path string) error {
	f, err := formatOf(path)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "SaveToFile", "select format")
	}

	var data []byte
	if f == formatYAML {
		raw, err := c.toMap()
		if err != nil {
			return err
		}
		data, err = yaml.Marshal(raw)
		if err != nil {
			return errors.Wrap(err, "Config", "SaveToFile", "marshal yaml")
		}
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return errors.Wrap(err, "Config", "SaveToFile", "marshal json")
		}
	}
	return safeWriteFile(path, data)
}

// toMap renders c the way files are written, with durations as strings
func (c *Config) toMap() (map[string]any, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "Config", "toMap", "marshal")
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "Config", "toMap", "unmarshal")
	}
	m["shutdown_timeout"] = c.ShutdownTimeout.String()
	return m, nil
}

// SafeConfig guards a Config shared between goroutines
type SafeConfig struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewSafeConfig stores a copy of cfg
func NewSafeConfig(cfg *Config) *SafeConfig {
	return &SafeConfig{cfg: cfg.Clone()}
}

// Get returns a copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.cfg.Clone()
}

// Update validates cfg and replaces the current configuration
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "check config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	sc.mu.Lock()
	sc.cfg = cfg.Clone()
	sc.mu.Unlock()
	return nil
}

// Loader merges defaults, file layers and environment overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	getenv     func(string) string
}

// NewLoader creates a loader reading PIPERT_* overrides
func NewLoader() *Loader {
	return &Loader{
		envPrefix: EnvPrefix,
		getenv:    os.Getenv,
	}
}

// AddLayer appends a file; later layers override earlier ones key by key
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation makes Load call Validate
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads defaults plus the single file at path
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges every layer over the defaults and applies env overrides
func (l *Loader) Load() (*Config, error) {
	merged, err := Default().toMap()
	if err != nil {
		return nil, err
	}
	if err := parseDurations(merged); err != nil {
		return nil, err
	}

	for _, path := range l.layers {
		raw, err := loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "load "+path)
		}
		merged = deepMergeMaps(merged, raw)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "marshal merged config")
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err), "Loader", "Load", "decode merged config")
	}
	if cfg.Components == nil {
		cfg.Components = ComponentConfigs{}
	}

	if err := l.applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// loadRaw reads a JSON or YAML file into a generic map
func loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := formatOf(path)
	if err != nil {
		return nil, err
	}

	raw := map[string]any{}
	switch f {
	case formatJSON:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %w", errors.ErrParsingFailed, err)
		}
	case formatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %w", errors.ErrParsingFailed, err)
		}
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// parseDurations turns duration strings into nanoseconds so they decode
// into time.Duration fields
func parseDurations(raw map[string]any) error {
	v, ok := raw["shutdown_timeout"]
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: shutdown_timeout %q: %v", errors.ErrInvalidConfig, s, err)
	}
	raw["shutdown_timeout"] = d.Nanoseconds()
	return nil
}

// deepMergeMaps merges override into base; nested maps merge key by key and
// nil overrides are ignored
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies PIPERT_* variables over the loaded values
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	get := func(name string) (string, error) {
		key := l.envPrefix + "_" + name
		val := l.getenv(key)
		return val, validateEnvVar(key, val)
	}

	strs := []struct {
		name   string
		target *string
	}{
		{"LOG_LEVEL", &cfg.Log.Level},
		{"LOG_FORMAT", &cfg.Log.Format},
		{"TRANSPORT_URL", &cfg.Transport.URL},
		{"TRANSPORT_STREAM", &cfg.Transport.Stream},
		{"METRICS_PATH", &cfg.Metrics.Path},
	}
	for _, s := range strs {
		val, err := get(s.name)
		if err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", s.name)
		}
		if val != "" {
			*s.target = val
		}
	}

	ints := []struct {
		name   string
		target *int
	}{
		{"TRANSPORT_MAX_LEN", &cfg.Transport.MaxLen},
		{"METRICS_PORT", &cfg.Metrics.Port},
	}
	for _, i := range ints {
		val, err := get(i.name)
		if err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", i.name)
		}
		if val == "" {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s_%s=%q", errors.ErrInvalidConfig, l.envPrefix, i.name, val),
				"Loader", "applyEnvOverrides", "parse int")
		}
		*i.target = n
	}

	if val, err := get("METRICS_ENABLED"); err != nil {
		return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "METRICS_ENABLED")
	} else if val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s_METRICS_ENABLED=%q", errors.ErrInvalidConfig, l.envPrefix, val),
				"Loader", "applyEnvOverrides", "parse bool")
		}
		cfg.Metrics.Enabled = b
	}

	if val, err := get("SHUTDOWN_TIMEOUT"); err != nil {
		return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "SHUTDOWN_TIMEOUT")
	} else if val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s_SHUTDOWN_TIMEOUT=%q", errors.ErrInvalidConfig, l.envPrefix, val),
				"Loader", "applyEnvOverrides", "parse duration")
		}
		cfg.ShutdownTimeout = d
	}
	return nil
}
