// Package anyllm provides an oracle classifier backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// Usage:
//
//	c, err := anyllm.New("ollama", "llama3.2", anyllmlib.WithBaseURL("http://localhost:11434"))
//	cl, err := c.Classify(ctx, transcript)
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/callsentry/pkg/provider/oracle"
)

// SupportedBackends lists the backend names accepted by [New].
var SupportedBackends = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek",
	"mistral", "groq", "llamacpp", "llamafile",
}

// maxReplyTokens bounds the answer; a classification object is tiny.
const maxReplyTokens = 64

var _ oracle.Classifier = (*Classifier)(nil)

// Classifier implements oracle.Classifier on top of any any-llm-go backend.
type Classifier struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Classifier for the named backend.
//
// opts are any-llm-go configuration options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). Without an API key option the backend falls back to
// its environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...).
func New(backendName, model string, opts ...anyllmlib.Option) (*Classifier, error) {
	if backendName == "" {
		return nil, errors.New("anyllm oracle: backend name must not be empty")
	}
	if model == "" {
		return nil, errors.New("anyllm oracle: model must not be empty")
	}
	backend, err := createBackend(backendName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm oracle: create %q backend: %w", backendName, err)
	}
	return &Classifier{backend: backend, model: model}, nil
}

func createBackend(name string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported backend %q; supported: %s", name, strings.Join(SupportedBackends, ", "))
	}
}

// Classify implements oracle.Classifier.
func (c *Classifier) Classify(ctx context.Context, text string) (oracle.Classification, error) {
	resp, err := c.backend.Completion(ctx, buildParams(c.model, text))
	if err != nil {
		return oracle.Classification{}, fmt.Errorf("anyllm oracle: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return oracle.Classification{}, errors.New("anyllm oracle: empty choices in response")
	}
	cl, err := oracle.ParseClassification(resp.Choices[0].Message.ContentString())
	if err != nil {
		return oracle.Classification{}, fmt.Errorf("anyllm oracle: %w", err)
	}
	return cl, nil
}

func buildParams(model, text string) anyllmlib.CompletionParams {
	temperature := 0.0
	maxTokens := maxReplyTokens
	return anyllmlib.CompletionParams{
		Model: model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: oracle.SystemPrompt},
			{Role: "user", Content: oracle.UserPrompt(text)},
		},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}
}
