package resilience

import (
	"context"

	"github.com/MrWong99/callsentry/pkg/provider/oracle"
)

// ClassifierFallback implements [oracle.Classifier] with failover across
// several backends.
type ClassifierFallback struct {
	group *FallbackGroup[oracle.Classifier]
}

var _ oracle.Classifier = (*ClassifierFallback)(nil)

// NewClassifierFallback creates a [ClassifierFallback] preferring primary.
func NewClassifierFallback(primary oracle.Classifier, primaryName string, cfg FallbackConfig) *ClassifierFallback {
	return &ClassifierFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another classifier.
func (f *ClassifierFallback) AddFallback(name string, c oracle.Classifier) {
	f.group.AddFallback(name, c)
}

// Classify implements [oracle.Classifier].
func (f *ClassifierFallback) Classify(ctx context.Context, text string) (oracle.Classification, error) {
	return ExecuteWithResult(f.group, func(c oracle.Classifier) (oracle.Classification, error) {
		return c.Classify(ctx, text)
	})
}

// Breakers returns every backend's breaker in try order.
func (f *ClassifierFallback) Breakers() []*CircuitBreaker { return f.group.Breakers() }
