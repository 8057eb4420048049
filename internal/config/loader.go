package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"whisper", "whisper-native", "openai"},
	"oracle":     {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It expects
// defaults to have been applied and returns a joined error listing every
// problem found.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		add("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		add("server.tls requires both cert_file and key_file")
	}

	// Providers
	p := cfg.Providers
	if p.STT.Name == "" {
		add("providers.stt.name is required")
	}
	validateProviderName("stt", p.STT.Name)
	for i, fb := range p.STTFallbacks {
		if fb.Name == "" {
			add("providers.stt_fallbacks[%d].name is required", i)
		}
		validateProviderName("stt", fb.Name)
	}
	validateProviderName("oracle", p.Oracle.Name)
	if len(p.OracleFallbacks) > 0 && p.Oracle.Name == "" {
		add("providers.oracle_fallbacks requires providers.oracle")
	}
	for i, fb := range p.OracleFallbacks {
		if fb.Name == "" {
			add("providers.oracle_fallbacks[%d].name is required", i)
		}
		validateProviderName("oracle", fb.Name)
	}
	validateProviderName("embeddings", p.Embeddings.Name)

	// Detection
	d := cfg.Detection
	if d.SampleRate <= 0 {
		add("detection.sample_rate must be positive, got %d", d.SampleRate)
	}
	for name, v := range map[string]float64{
		"suspicious_threshold": d.SuspiciousThreshold,
		"high_risk_threshold":  d.HighRiskThreshold,
	} {
		if v <= 0 || v > 1 {
			add("detection.%s %.2f is out of range (0, 1]", name, v)
		}
	}
	if d.TickInterval <= 0 {
		add("detection.tick_interval must be positive")
	}
	if d.LookBack > d.MaxDuration {
		add("detection.look_back %s exceeds detection.max_duration %s", d.LookBack, d.MaxDuration)
	}
	if d.MinTickAudio > d.LookBack {
		add("detection.min_tick_audio %s exceeds detection.look_back %s", d.MinTickAudio, d.LookBack)
	}
	if d.FinalPassTimeout <= 0 {
		add("detection.final_pass_timeout must be positive")
	}

	// Storage
	s := cfg.Storage
	if s.EmbeddingDimensions < 0 {
		add("storage.embedding_dimensions must not be negative")
	}
	if s.RetentionDays < 0 {
		add("storage.retention_days must not be negative")
	}
	if s.CleanupInterval < 0 {
		add("storage.cleanup_interval must not be negative")
	}
	if s.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; call records are kept in memory only")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if slices.Contains(ValidProviderNames[kind], name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", ValidProviderNames[kind],
	)
}
