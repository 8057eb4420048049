// Package openai provides an oracle classifier backed by the OpenAI chat
// completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/callsentry/pkg/provider/oracle"
)

// DefaultModel is used when no model is configured.
const DefaultModel = shared.ChatModelGPT4oMini

var _ oracle.Classifier = (*Classifier)(nil)

// Classifier implements oracle.Classifier with a JSON-mode chat completion.
type Classifier struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for Classifier.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a Classifier. If model is empty, DefaultModel is used.
func New(apiKey, model string, opts ...Option) (*Classifier, error) {
	if apiKey == "" {
		return nil, errors.New("openai oracle: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Classifier{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Classify implements oracle.Classifier.
func (c *Classifier) Classify(ctx context.Context, text string) (oracle.Classification, error) {
	resp, err := c.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(oracle.SystemPrompt),
			oai.UserMessage(oracle.UserPrompt(text)),
		},
		Temperature: param.NewOpt(0.0),
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return oracle.Classification{}, fmt.Errorf("openai oracle: classify: %w", err)
	}
	if len(resp.Choices) == 0 {
		return oracle.Classification{}, errors.New("openai oracle: empty choices in response")
	}
	cl, err := oracle.ParseClassification(resp.Choices[0].Message.Content)
	if err != nil {
		return oracle.Classification{}, fmt.Errorf("openai oracle: %w", err)
	}
	return cl, nil
}
