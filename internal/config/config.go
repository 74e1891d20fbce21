// Package config provides the configuration schema, loader and file watcher
// for the ttshub service.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults] to empty fields.
const (
	DefaultListenAddr      = ":8080"
	DefaultHubEndpoint     = "https://huggingface.co"
	DefaultHubRevision     = "main"
	DefaultHubTimeout      = 10 * time.Minute
	DefaultMaxRetries      = 3
	DefaultInitialBackoff  = 500 * time.Millisecond
	DefaultCacheCapacity   = 10
	DefaultBreakerFailures = 5
	DefaultBreakerCooldown = 30 * time.Second
	DefaultBreakerProbes   = 2
	DefaultPhonemeDir      = "/tmp/espeak-ng-data"
	DefaultDictCollection  = "csukuangfj/vits-zh-hf-fanchen-C"
	DefaultDictBundle      = "dict.tar.bz2"
	DefaultMaxTextLength   = 4096
	DefaultShutdownTimeout = 15 * time.Second
)

// TokenEnv names the environment variable that overrides [HubConfig.Token].
const TokenEnv = "TTSHUB_HUB_TOKEN"

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Hub       HubConfig       `yaml:"hub"`
	Cache     CacheConfig     `yaml:"cache"`
	Data      DataConfig      `yaml:"data"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It can be changed without a restart.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// MaxTextLength caps the number of bytes of text accepted by one
	// synthesis request.
	MaxTextLength int `yaml:"max_text_length"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// HubConfig configures where model artifacts are downloaded from and where
// they are kept.
type HubConfig struct {
	// Endpoint is the base URL of the model hub.
	Endpoint string `yaml:"endpoint"`

	// Mirrors are tried in order when the hub fails transiently.
	Mirrors []MirrorConfig `yaml:"mirrors"`

	// Revision is the branch, tag or commit artifacts are resolved at.
	Revision string `yaml:"revision"`

	// Token is sent as a bearer token. Overridden by TTSHUB_HUB_TOKEN.
	Token string `yaml:"token"`

	// CacheDir is the local artifact cache. Defaults to the user cache
	// directory.
	CacheDir string `yaml:"cache_dir"`

	// Timeout bounds a single file transfer.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is how often a transient failure is retried after the
	// first attempt. An explicit 0 disables retries. Default: 3.
	MaxRetries *int `yaml:"max_retries"`

	// InitialBackoff is the first retry delay.
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// Breaker tunes the per-source circuit breakers. Only used when mirrors
	// are configured.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of each artifact source.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failed fetches that
	// takes a source out of rotation.
	FailureThreshold int `yaml:"failure_threshold"`

	// Cooldown is how long a source stays out of rotation before it is
	// probed again.
	Cooldown time.Duration `yaml:"cooldown"`

	// Probes is the number of successful probe fetches needed to put a
	// source back into rotation.
	Probes int `yaml:"probes"`
}

// MirrorConfig is one fallback artifact source.
type MirrorConfig struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
}

// CacheConfig sizes the engine cache.
type CacheConfig struct {
	// Capacity is the maximum number of live engines. It can be changed
	// without a restart.
	Capacity int `yaml:"capacity"`
}

// DataConfig locates the side-loaded data bundles.
type DataConfig struct {
	// PhonemeDir is the pre-provisioned espeak-ng-data directory.
	PhonemeDir string `yaml:"phoneme_dir"`

	// DictDir is where the segmentation dictionary is extracted to.
	// Defaults to "dict" inside the hub cache directory.
	DictDir string `yaml:"dict_dir"`

	// DictCollection and DictBundle name the dictionary archive on the hub.
	DictCollection string `yaml:"dict_collection"`
	DictBundle     string `yaml:"dict_bundle"`
}

// CatalogConfig optionally replaces the built-in voice catalog.
type CatalogConfig struct {
	// Path is a YAML catalog file. Empty means the built-in table.
	Path string `yaml:"path"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`

	// TraceSampleRatio is the fraction of new root traces sampled, in
	// [0, 1]. With 0 only requests carrying a sampled parent are traced.
	// Default: 1.
	TraceSampleRatio *float64 `yaml:"trace_sample_ratio"`
}

// Retries returns MaxRetries, or [DefaultMaxRetries] when unset.
func (h HubConfig) Retries() int {
	if h.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *h.MaxRetries
}
