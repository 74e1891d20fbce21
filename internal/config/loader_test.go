package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/ttshub/internal/config"
)

func validConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestValidate_DefaultsAreValid(t *testing.T) {
	t.Parallel()
	if err := config.Validate(validConfig()); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestValidate_Violations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"log level", func(c *config.Config) { c.Server.LogLevel = "bananas" }, "server.log_level"},
		{"tls half configured", func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "c.pem"} }, "server.tls"},
		{"negative text length", func(c *config.Config) { c.Server.MaxTextLength = -1 }, "server.max_text_length"},
		{"hub endpoint scheme", func(c *config.Config) { c.Hub.Endpoint = "ftp://hub" }, "hub.endpoint"},
		{"hub endpoint relative", func(c *config.Config) { c.Hub.Endpoint = "/models" }, "hub.endpoint"},
		{"mirror name missing", func(c *config.Config) {
			c.Hub.Mirrors = []config.MirrorConfig{{Endpoint: "https://m.example"}}
		}, "hub.mirrors[0].name is required"},
		{"mirror duplicate", func(c *config.Config) {
			c.Hub.Mirrors = []config.MirrorConfig{
				{Name: "m", Endpoint: "https://a.example"},
				{Name: "m", Endpoint: "https://b.example"},
			}
		}, "duplicate of hub.mirrors[0]"},
		{"mirror named hub", func(c *config.Config) {
			c.Hub.Mirrors = []config.MirrorConfig{{Name: "hub", Endpoint: "https://a.example"}}
		}, "reserved"},
		{"mirror endpoint", func(c *config.Config) {
			c.Hub.Mirrors = []config.MirrorConfig{{Name: "m"}}
		}, "hub.mirrors[0].endpoint is required"},
		{"revision", func(c *config.Config) { c.Hub.Revision = "" }, "hub.revision"},
		{"retries", func(c *config.Config) { n := -2; c.Hub.MaxRetries = &n }, "hub.max_retries"},
		{"breaker threshold", func(c *config.Config) { c.Hub.Breaker.FailureThreshold = -1 }, "hub.breaker"},
		{"breaker cooldown", func(c *config.Config) { c.Hub.Breaker.Cooldown = -time.Second }, "hub.breaker"},
		{"capacity", func(c *config.Config) { c.Cache.Capacity = -1 }, "cache.capacity"},
		{"sample ratio", func(c *config.Config) { r := 2.0; c.Telemetry.TraceSampleRatio = &r }, "telemetry.trace_sample_ratio"},
		{"negative sample ratio", func(c *config.Config) { r := -0.5; c.Telemetry.TraceSampleRatio = &r }, "telemetry.trace_sample_ratio"},
		{"dict bundle format", func(c *config.Config) { c.Data.DictBundle = "dict.zip" }, "data.dict_bundle"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(cfg)
			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %v, want it to mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadFromReader_ExplicitZeroes(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader("hub:\n  max_retries: 0\ntelemetry:\n  trace_sample_ratio: 0\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if n := cfg.Hub.Retries(); n != 0 {
		t.Errorf("hub.max_retries = %d, want 0 (retries disabled)", n)
	}
	if r := cfg.Telemetry.TraceSampleRatio; r == nil || *r != 0 {
		t.Errorf("telemetry.trace_sample_ratio = %v, want 0", r)
	}

	def := validConfig()
	if def.Hub.Retries() != config.DefaultMaxRetries || *def.Telemetry.TraceSampleRatio != 1 {
		t.Errorf("omitted fields: retries %d, ratio %v", def.Hub.Retries(), *def.Telemetry.TraceSampleRatio)
	}
	if (config.HubConfig{}).Retries() != config.DefaultMaxRetries {
		t.Error("unset MaxRetries does not report the default")
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Server.LogLevel = "loud"
	cfg.Cache.Capacity = -5
	cfg.Hub.Endpoint = "nope"

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"server.log_level", "cache.capacity", "hub.endpoint"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error is missing %q: %v", want, err)
		}
	}
}
