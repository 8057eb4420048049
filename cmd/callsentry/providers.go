package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/callsentry/internal/app"
	"github.com/MrWong99/callsentry/internal/config"
	"github.com/MrWong99/callsentry/pkg/provider/embeddings"
	oaembed "github.com/MrWong99/callsentry/pkg/provider/embeddings/openai"
	"github.com/MrWong99/callsentry/pkg/provider/oracle"
	"github.com/MrWong99/callsentry/pkg/provider/oracle/anyllm"
	oaoracle "github.com/MrWong99/callsentry/pkg/provider/oracle/openai"
	"github.com/MrWong99/callsentry/pkg/provider/stt"
	oastt "github.com/MrWong99/callsentry/pkg/provider/stt/openai"
	"github.com/MrWong99/callsentry/pkg/provider/stt/whisper"
)

const (
	defaultOllamaURL   = "http://localhost:11434/v1"
	defaultOllamaModel = "nomic-embed-text"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// embeddingDims is forwarded to embedders that can shorten their vectors.
func registerBuiltinProviders(reg *config.Registry, embeddingDims int) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, whisper.WithTimeout(d))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// model is the path to a ggml model file; needs a -tags whispercpp build.
	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := optInt(entry.Options, "threads"); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(n))
		}
		return whisper.NewNative(entry.Model, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oastt.WithTimeout(d))
		}
		return oastt.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Oracle ────────────────────────────────────────────────────────────────

	reg.RegisterOracle("openai", func(entry config.ProviderEntry) (oracle.Classifier, error) {
		var opts []oaoracle.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaoracle.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaoracle.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaoracle.WithTimeout(d))
		}
		return oaoracle.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining backends go through any-llm-go. They share the same
	// pattern: optional APIKey + optional BaseURL.
	for _, backend := range anyllm.SupportedBackends {
		if backend == "openai" {
			continue
		}
		reg.RegisterOracle(backend, func(entry config.ProviderEntry) (oracle.Classifier, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Embedder, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if embeddingDims > 0 {
			opts = append(opts, oaembed.WithDimensions(embeddingDims))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	// ollama serves an OpenAI-compatible embeddings endpoint and ignores the
	// API key, which the client nevertheless requires.
	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Embedder, error) {
		baseURL, model, key := entry.BaseURL, entry.Model, entry.APIKey
		if baseURL == "" {
			baseURL = defaultOllamaURL
		}
		if model == "" {
			model = defaultOllamaModel
		}
		if key == "" {
			key = "ollama"
		}
		return oaembed.New(key, model, oaembed.WithBaseURL(baseURL))
	})

	for _, kind := range []string{"stt", "oracle", "embeddings"} {
		for _, name := range reg.Names(kind) {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	pc := cfg.Providers
	ps := &app.Providers{}

	t, err := reg.CreateSTT(pc.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", pc.STT.Name, err)
	}
	ps.STT = t
	slog.Info("provider created", "kind", "stt", "name", pc.STT.Name)

	for _, entry := range pc.STTFallbacks {
		t, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
		}
		ps.STTFallbacks = append(ps.STTFallbacks, t)
		slog.Info("provider created", "kind", "stt_fallback", "name", entry.Name)
	}

	if pc.Oracle.Name != "" {
		c, err := reg.CreateOracle(pc.Oracle)
		if err != nil {
			return nil, fmt.Errorf("create oracle provider %q: %w", pc.Oracle.Name, err)
		}
		ps.Oracle = c
		slog.Info("provider created", "kind", "oracle", "name", pc.Oracle.Name)

		for _, entry := range pc.OracleFallbacks {
			c, err := reg.CreateOracle(entry)
			if err != nil {
				return nil, fmt.Errorf("create oracle fallback %q: %w", entry.Name, err)
			}
			ps.OracleFallbacks = append(ps.OracleFallbacks, c)
			slog.Info("provider created", "kind", "oracle_fallback", "name", entry.Name)
		}
	}

	if name := pc.Embeddings.Name; name != "" {
		e, err := reg.CreateEmbeddings(pc.Embeddings)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown embeddings provider, similar-call search disabled", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		} else {
			ps.Embeddings = e
			slog.Info("provider created", "kind", "embeddings", "name", name)
		}
	}

	return ps, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt reads an integer option. YAML numbers decode as int; anything
// else yields 0.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optDuration reads a duration option written as a Go duration string
// ("30s"). Invalid or missing values yield 0.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
