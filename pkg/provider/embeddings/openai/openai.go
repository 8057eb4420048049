// Package openai embeds call transcripts through the OpenAI embeddings API
// or any server that speaks it (Ollama's /v1 endpoint, vLLM, LocalAI).
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/callsentry/pkg/provider/embeddings"
)

// DefaultModel is used when New gets an empty model name.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

// DefaultMaxInputRunes caps the transcript sent for embedding. Long calls are
// cut from the front so the opening of the conversation is kept.
const DefaultMaxInputRunes = 8000

// ErrDimensionMismatch is returned when the server answers with a vector of
// a different width than configured.
var ErrDimensionMismatch = errors.New("openai embeddings: vector width mismatch")

var _ embeddings.Embedder = (*Embedder)(nil)

// Embedder implements [embeddings.Embedder].
type Embedder struct {
	client   oai.Client
	model    string
	dims     int
	maxRunes int

	reqOpts []option.RequestOption
	timeout time.Duration
}

// Option configures an [Embedder].
type Option func(*Embedder)

// WithBaseURL points the client at another OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(e *Embedder) { e.reqOpts = append(e.reqOpts, option.WithBaseURL(url)) }
}

// WithOrganization sets the OpenAI organization header.
func WithOrganization(org string) Option {
	return func(e *Embedder) { e.reqOpts = append(e.reqOpts, option.WithOrganization(org)) }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(e *Embedder) { e.timeout = d }
}

// WithDimensions requests vectors of width dims and rejects answers of any
// other width. It must equal the store's vector column width. Only the
// text-embedding-3 family can shorten vectors server side.
func WithDimensions(dims int) Option {
	return func(e *Embedder) { e.dims = dims }
}

// WithMaxInputRunes overrides [DefaultMaxInputRunes]. n <= 0 disables the cap.
func WithMaxInputRunes(n int) Option {
	return func(e *Embedder) { e.maxRunes = n }
}

// New returns an Embedder for model, or [DefaultModel] when model is empty.
func New(apiKey, model string, opts ...Option) (*Embedder, error) {
	if apiKey == "" {
		return nil, errors.New("openai embeddings: api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	e := &Embedder{model: model, maxRunes: DefaultMaxInputRunes}
	for _, o := range opts {
		o(e)
	}

	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, e.reqOpts...)
	if e.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: e.timeout}))
	}
	e.client = oai.NewClient(reqOpts...)
	e.reqOpts = nil
	return e, nil
}

// Embed returns the vector for text, truncated to the rune cap first.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	p := oai.EmbeddingNewParams{
		Model: e.model,
		Input: oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(clip(text, e.maxRunes))},
	}
	if e.dims > 0 {
		p.Dimensions = param.NewOpt(int64(e.dims))
	}

	resp, err := e.client.Embeddings.New(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %s: %w", e.model, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: %s: no vectors in response", e.model)
	}
	raw := resp.Data[0].Embedding
	if e.dims > 0 && len(raw) != e.dims {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(raw), e.dims)
	}

	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Dimensions returns the configured width, or the model's native width.
func (e *Embedder) Dimensions() int {
	if e.dims > 0 {
		return e.dims
	}
	return nativeWidth(e.model)
}

// ModelID returns the model name.
func (e *Embedder) ModelID() string { return e.model }

// nativeWidths lists model name fragments and their vector widths. Models
// not listed are assumed to produce 1536 (text-embedding-3-small, ada-002).
var nativeWidths = []struct {
	fragment string
	width    int
}{
	{"text-embedding-3-large", 3072},
	{"nomic-embed-text", 768},
	{"mxbai-embed-large", 1024},
	{"all-minilm", 384},
}

func nativeWidth(model string) int {
	m := strings.ToLower(model)
	for _, w := range nativeWidths {
		if strings.Contains(m, w.fragment) {
			return w.width
		}
	}
	return 1536
}

func clip(s string, maxRunes int) string {
	if maxRunes <= 0 || len(s) <= maxRunes {
		return s
	}
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes])
}
