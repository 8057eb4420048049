package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
//
// Log level, detection and evidence changes are applied on the fly (the
// latter two from the next call on). Provider, storage and server changes
// need a restart and are only reported.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	DetectionChanged bool

	// EvidenceChanged lists the evidence tables whose entries changed, by
	// YAML key.
	EvidenceChanged []string

	RestartRequired bool
}

// Changed reports whether anything at all differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.DetectionChanged || len(d.EvidenceChanged) > 0 || d.RestartRequired
}

// HotChanged reports whether the diff holds changes the running server applies.
func (d ConfigDiff) HotChanged() bool {
	return d.DetectionChanged || len(d.EvidenceChanged) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.DetectionChanged = old.Detection != new.Detection

	oe, ne := old.Evidence, new.Evidence
	for _, t := range []struct {
		key      string
		old, new []string
	}{
		{"fraud_keywords", oe.FraudKeywords, ne.FraudKeywords},
		{"suspicious_phrases", oe.SuspiciousPhrases, ne.SuspiciousPhrases},
		{"fraud_tactics", oe.FraudTactics, ne.FraudTactics},
		{"pressure_words", oe.PressureWords, ne.PressureWords},
		{"confusion_words", oe.ConfusionWords, ne.ConfusionWords},
		{"urgency_words", oe.UrgencyWords, ne.UrgencyWords},
	} {
		if !slices.Equal(t.old, t.new) {
			d.EvidenceChanged = append(d.EvidenceChanged, t.key)
		}
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	d.RestartRequired = !reflect.DeepEqual(oldServer, newServer) ||
		!reflect.DeepEqual(old.Providers, new.Providers) ||
		old.Storage != new.Storage

	return d
}
