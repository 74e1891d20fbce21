package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/ttshub/internal/voice"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults and environment overrides applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and the
// environment, and validates the result. An empty document yields the
// default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.LookupEnv)
	return cfg
}

// ApplyDefaults fills every empty field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.MaxTextLength == 0 {
		s.MaxTextLength = DefaultMaxTextLength
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}

	h := &cfg.Hub
	if h.Endpoint == "" {
		h.Endpoint = DefaultHubEndpoint
	}
	if h.Revision == "" {
		h.Revision = DefaultHubRevision
	}
	if h.CacheDir == "" {
		h.CacheDir = defaultCacheDir()
	}
	if h.Timeout == 0 {
		h.Timeout = DefaultHubTimeout
	}
	if h.MaxRetries == nil {
		h.MaxRetries = ptr(DefaultMaxRetries)
	}
	if h.InitialBackoff == 0 {
		h.InitialBackoff = DefaultInitialBackoff
	}
	if h.Breaker.FailureThreshold == 0 {
		h.Breaker.FailureThreshold = DefaultBreakerFailures
	}
	if h.Breaker.Cooldown == 0 {
		h.Breaker.Cooldown = DefaultBreakerCooldown
	}
	if h.Breaker.Probes == 0 {
		h.Breaker.Probes = DefaultBreakerProbes
	}

	if cfg.Cache.Capacity == 0 {
		cfg.Cache.Capacity = DefaultCacheCapacity
	}

	d := &cfg.Data
	if d.PhonemeDir == "" {
		d.PhonemeDir = DefaultPhonemeDir
	}
	if d.DictDir == "" {
		d.DictDir = filepath.Join(h.CacheDir, "dict")
	}
	if d.DictCollection == "" {
		d.DictCollection = DefaultDictCollection
	}
	if d.DictBundle == "" {
		d.DictBundle = DefaultDictBundle
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "ttshub"
	}
	if cfg.Telemetry.TraceSampleRatio == nil {
		cfg.Telemetry.TraceSampleRatio = ptr(1.0)
	}
}

func ptr[T any](v T) *T { return &v }

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "ttshub", "hub")
}

// ApplyEnv applies environment overrides read through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if tok, ok := lookup(TokenEnv); ok && tok != "" {
		cfg.Hub.Token = tok
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.MaxTextLength < 0 {
		errs = append(errs, fmt.Errorf("server.max_text_length %d must not be negative", cfg.Server.MaxTextLength))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %v must not be negative", cfg.Server.ShutdownTimeout))
	}

	// Hub
	if err := validateEndpoint("hub.endpoint", cfg.Hub.Endpoint); err != nil {
		errs = append(errs, err)
	}
	seen := map[string]int{"hub": -1}
	for i, m := range cfg.Hub.Mirrors {
		prefix := fmt.Sprintf("hub.mirrors[%d]", i)
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else if prev, ok := seen[m.Name]; ok {
			if prev < 0 {
				errs = append(errs, fmt.Errorf("%s.name %q is reserved for the primary hub", prefix, m.Name))
			} else {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of hub.mirrors[%d]", prefix, m.Name, prev))
			}
		} else {
			seen[m.Name] = i
		}
		if err := validateEndpoint(prefix+".endpoint", m.Endpoint); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Hub.Revision == "" {
		errs = append(errs, errors.New("hub.revision is required"))
	}
	if cfg.Hub.Timeout < 0 {
		errs = append(errs, fmt.Errorf("hub.timeout %v must not be negative", cfg.Hub.Timeout))
	}
	if n := cfg.Hub.Retries(); n < 0 {
		errs = append(errs, fmt.Errorf("hub.max_retries %d must not be negative", n))
	}
	if cfg.Hub.InitialBackoff < 0 {
		errs = append(errs, fmt.Errorf("hub.initial_backoff %v must not be negative", cfg.Hub.InitialBackoff))
	}
	if b := cfg.Hub.Breaker; b.FailureThreshold < 1 || b.Probes < 1 || b.Cooldown <= 0 {
		errs = append(errs, fmt.Errorf("hub.breaker needs failure_threshold and probes of at least 1 and a positive cooldown, got %d, %d and %v",
			b.FailureThreshold, b.Probes, b.Cooldown))
	}

	// Cache
	if cfg.Cache.Capacity < 1 {
		errs = append(errs, fmt.Errorf("cache.capacity %d must be at least 1", cfg.Cache.Capacity))
	}

	// Data
	if cfg.Data.DictCollection == "" {
		errs = append(errs, errors.New("data.dict_collection is required"))
	}
	if !voice.SupportedBundle(cfg.Data.DictBundle) {
		errs = append(errs, fmt.Errorf("data.dict_bundle %q has an unsupported format; valid suffixes: %v", cfg.Data.DictBundle, voice.BundleFormats))
	}

	// Telemetry
	if r := cfg.Telemetry.TraceSampleRatio; r != nil && !(*r >= 0 && *r <= 1) {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %v must be in [0, 1]", *r))
	}

	return errors.Join(errs...)
}

func validateEndpoint(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s %q: %w", field, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s %q must be an absolute http(s) URL", field, raw)
	}
	return nil
}
