// Package mock provides a test double for the embeddings.Embedder interface.
//
// Example:
//
//	e := &mock.Embedder{Vector: []float32{0.1, 0.2, 0.3}}
//	vec, _ := e.Embed(ctx, "hello world")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callsentry/pkg/provider/embeddings"
)

// Embedder is a mock implementation of embeddings.Embedder.
type Embedder struct {
	mu sync.Mutex

	// Vector is returned by Embed when Err is nil.
	Vector []float32

	// Err, if non-nil, is returned as the error from Embed.
	Err error

	// Model is returned by ModelID.
	Model string

	// Texts records the text of every Embed call in order.
	Texts []string
}

var _ embeddings.Embedder = (*Embedder)(nil)

// Embed records the call and returns a copy of Vector, Err.
func (m *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Texts = append(m.Texts, text)
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]float32(nil), m.Vector...), nil
}

// Dimensions returns len(Vector).
func (m *Embedder) Dimensions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Vector)
}

// ModelID returns Model.
func (m *Embedder) ModelID() string { return m.Model }

// CallCount returns the number of Embed calls. Thread-safe.
func (m *Embedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Texts)
}
