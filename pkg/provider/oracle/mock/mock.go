// Package mock provides a test double for the oracle.Classifier interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callsentry/pkg/provider/oracle"
)

// Classifier is a mock implementation of oracle.Classifier.
type Classifier struct {
	mu sync.Mutex

	// Result is returned by Classify when Err is nil.
	Result oracle.Classification

	// Err, if non-nil, is returned as the error from Classify.
	Err error

	// Texts records the text of every Classify call in order.
	Texts []string
}

var _ oracle.Classifier = (*Classifier)(nil)

// Classify records the call and returns Result, Err.
func (m *Classifier) Classify(_ context.Context, text string) (oracle.Classification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Texts = append(m.Texts, text)
	return m.Result, m.Err
}

// CallCount returns the number of Classify calls. Thread-safe.
func (m *Classifier) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Texts)
}

// Reset clears all recorded calls. Thread-safe.
func (m *Classifier) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Texts = nil
}
