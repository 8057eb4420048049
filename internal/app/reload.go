package app

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/callsentry/internal/config"
	"github.com/MrWong99/callsentry/internal/transcript"
	"github.com/MrWong99/callsentry/internal/transcript/phonetic"
)

// minRepairWordLength keeps short evidence words out of the repair
// vocabulary; they collide with ordinary speech too often.
const minRepairWordLength = 5

// swapRepairer is a [call.Repairer] whose vocabulary can be replaced while
// calls are running.
type swapRepairer struct {
	cur atomic.Pointer[transcript.Repairer]
}

// Repair implements call.Repairer. Without a vocabulary it returns text
// unchanged.
func (s *swapRepairer) Repair(text string) string {
	r := s.cur.Load()
	if r == nil {
		return text
	}
	return r.Repair(text)
}

// Configure rebuilds the repairer from cfg, or disables it.
func (s *swapRepairer) Configure(cfg *config.Config) {
	if !cfg.Detection.PhoneticCorrection {
		s.cur.Store(nil)
		return
	}
	vocab := transcript.Vocabulary(cfg.Evidence.Vocabulary(), minRepairWordLength)
	s.cur.Store(transcript.New(phonetic.New(vocab)))
	slog.Debug("phonetic repair configured", "vocabulary", len(vocab))
}

// onConfigChange applies a reloaded config. Detection and evidence changes
// take effect from the next call; anything else is only reported.
func (a *App) onConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.HotChanged() {
		a.ctrl.SetConfig(CallConfig(new))
		a.repairer.Configure(new)
		slog.Info("detection settings reloaded",
			"detection_changed", d.DetectionChanged,
			"evidence_changed", d.EvidenceChanged,
		)
	}

	if d.RestartRequired {
		slog.Warn("config changes to server, providers or storage need a restart to take effect")
	}

	// Only the hot-applied parts of new are live. Keep the rest of the
	// running config so Config reports what is actually in use.
	a.mu.Lock()
	cur := *a.cfg
	cur.Server.LogLevel = new.Server.LogLevel
	cur.Detection = new.Detection
	cur.Evidence = new.Evidence
	a.cfg = &cur
	a.mu.Unlock()
}

// retain deletes expired records every CleanupInterval until ctx is done.
func (a *App) retain(ctx context.Context) {
	interval := a.Config().Storage.CleanupInterval
	if interval <= 0 {
		return
	}
	a.cleanup(ctx)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.cleanup(ctx)
		}
	}
}

// cleanup runs one retention pass.
func (a *App) cleanup(ctx context.Context) {
	retention := a.Config().Storage.Retention()
	if retention <= 0 {
		return
	}
	cutoff := a.now().Add(-retention)
	n, err := a.repo.Cleanup(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("retention cleanup failed", "err", err)
		}
		return
	}
	if n > 0 {
		slog.Info("expired call records deleted", "count", n, "older_than", cutoff)
	}
}
