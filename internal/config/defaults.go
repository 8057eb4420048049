package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/callsentry/pkg/conversation"
)

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr          = ":8080"
	DefaultSampleRate          = 16000
	DefaultTickInterval        = 500 * time.Millisecond
	DefaultLookBack            = 3 * time.Second
	DefaultMaxDuration         = 300 * time.Second
	DefaultMinTickAudio        = 500 * time.Millisecond
	DefaultFinalPassTimeout    = 2 * time.Minute
	DefaultSuspiciousThreshold = 0.6
	DefaultHighRiskThreshold   = 0.7
	DefaultEmbeddingDimensions = 1536
	DefaultRetentionDays       = 90
	DefaultCleanupInterval     = 24 * time.Hour
)

// ApplyDefaults fills zero-valued fields of cfg in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	d := &cfg.Detection
	setDefault(&d.SampleRate, DefaultSampleRate)
	setDefault(&d.TickInterval, DefaultTickInterval)
	setDefault(&d.LookBack, DefaultLookBack)
	setDefault(&d.MaxDuration, DefaultMaxDuration)
	setDefault(&d.MinTickAudio, DefaultMinTickAudio)
	setDefault(&d.FinalPassTimeout, DefaultFinalPassTimeout)
	setDefault(&d.SuspiciousThreshold, DefaultSuspiciousThreshold)
	setDefault(&d.HighRiskThreshold, DefaultHighRiskThreshold)

	def := conversation.DefaultTables()
	e := &cfg.Evidence
	setDefaultList(&e.FraudKeywords, def.FraudKeywords)
	setDefaultList(&e.SuspiciousPhrases, def.SuspiciousPhrases)
	setDefaultList(&e.FraudTactics, def.FraudTactics)
	setDefaultList(&e.PressureWords, def.PressureWords)
	setDefaultList(&e.ConfusionWords, def.ConfusionWords)
	setDefaultList(&e.UrgencyWords, def.UrgencyWords)

	s := &cfg.Storage
	if cfg.Providers.Embeddings.Name != "" && s.EmbeddingDimensions == 0 {
		slog.Warn("providers.embeddings is configured but storage.embedding_dimensions is not set; defaulting",
			"dimensions", DefaultEmbeddingDimensions)
		s.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
	setDefault(&s.RetentionDays, DefaultRetentionDays)
	setDefault(&s.CleanupInterval, DefaultCleanupInterval)
}

func setDefault[T comparable](field *T, v T) {
	var zero T
	if *field == zero {
		*field = v
	}
}

func setDefaultList(field *[]string, v []string) {
	if len(*field) == 0 {
		*field = v
	}
}
