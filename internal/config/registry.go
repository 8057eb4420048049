package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/callsentry/pkg/provider/embeddings"
	"github.com/MrWong99/callsentry/pkg/provider/oracle"
	"github.com/MrWong99/callsentry/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories is one provider kind's name → constructor table.
type factories[T any] map[string]func(ProviderEntry) (T, error)

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	stt        factories[stt.Transcriber]
	oracle     factories[oracle.Classifier]
	embeddings factories[embeddings.Embedder]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:        make(factories[stt.Transcriber]),
		oracle:     make(factories[oracle.Classifier]),
		embeddings: make(factories[embeddings.Embedder]),
	}
}

// RegisterSTT registers a transcriber factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterOracle registers a classifier factory under name.
func (r *Registry) RegisterOracle(name string, factory func(ProviderEntry) (oracle.Classifier, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.oracle[name] = factory
}

// RegisterEmbeddings registers an embedder factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Embedder, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// CreateSTT instantiates a transcriber using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	return create(r, r.stt, "stt", entry)
}

// CreateOracle instantiates a classifier using the factory registered under entry.Name.
func (r *Registry) CreateOracle(entry ProviderEntry) (oracle.Classifier, error) {
	return create(r, r.oracle, "oracle", entry)
}

// CreateEmbeddings instantiates an embedder using the factory registered under entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Embedder, error) {
	return create(r, r.embeddings, "embeddings", entry)
}

// Names returns the registered names for kind ("stt", "oracle" or "embeddings").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "stt":
		names = keys(r.stt)
	case "oracle":
		names = keys(r.oracle)
	case "embeddings":
		names = keys(r.embeddings)
	}
	return names
}

func create[T any](r *Registry, table factories[T], kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := table[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}

func keys[T any](table factories[T]) []string {
	out := make([]string, 0, len(table))
	for name := range table {
		out = append(out, name)
	}
	return out
}
