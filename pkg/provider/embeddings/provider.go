// Package embeddings defines the Embedder interface for text embedding
// backends.
//
// Finished call transcripts are embedded so that the record store can answer
// "which earlier calls sounded like this one" with a vector similarity search.
// All vectors from one Embedder share the same dimensionality.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Embedder maps text onto a dense float32 vector.
type Embedder interface {
	// Embed returns a vector of length Dimensions() for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions is the fixed length of every vector this Embedder produces.
	Dimensions() int

	// ModelID is the provider-specific model identifier.
	ModelID() string
}
