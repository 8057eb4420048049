package call

import (
	"sync"
	"time"

	"github.com/MrWong99/callsentry/pkg/conversation"
	"github.com/MrWong99/callsentry/pkg/fusion"
)

// Status is the lifecycle state of the controller.
type Status int

const (
	StatusIdle Status = iota
	StatusRecording
	StatusFinalizing
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRecording:
		return "recording"
	case StatusFinalizing:
		return "finalizing"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Session is one call. Its configuration is fixed at Start; configuration
// reloads only affect the next call.
type Session struct {
	ID        string
	StartedAt time.Time

	cfg      Config
	buf      *ring
	analyzer *conversation.Analyzer

	mu          sync.Mutex
	runningRisk float64
	above       bool
	alerts      int
	ticks       int
}

func newSession(id string, started time.Time, cfg Config) *Session {
	return &Session{
		ID:        id,
		StartedAt: started,
		cfg:       cfg,
		buf:       newRing(int(cfg.MaxDuration.Seconds() * float64(cfg.SampleRate))),
		analyzer:  conversation.New(cfg.Tables),
	}
}

// observe records a tick verdict and reports whether it crossed the high
// risk threshold from below.
func (s *Session) observe(r fusion.Result) (crossed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	above := r.FusedRisk >= s.cfg.HighRiskThreshold
	crossed = above && !s.above
	s.above = above
	s.runningRisk = r.FusedRisk
	s.ticks++
	if crossed {
		s.alerts++
	}
	return crossed
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	ID          string        `json:"id"`
	Status      string        `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	RunningRisk float64       `json:"running_risk"`
	Alerts      int           `json:"alerts"`
	Ticks       int           `json:"ticks"`
	Buffered    time.Duration `json:"buffered"`
}

func (s *Session) info(status Status) SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:          s.ID,
		Status:      status.String(),
		StartedAt:   s.StartedAt,
		RunningRisk: s.runningRisk,
		Alerts:      s.alerts,
		Ticks:       s.ticks,
		Buffered:    samplesDuration(s.buf.Len(), s.cfg.SampleRate),
	}
}

func samplesDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}
