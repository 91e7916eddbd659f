package llm

import (
	"context"
	"errors"
	"math"
	"net/http"

	"triage_worker/pkg/apperr"

	openai "github.com/sashabaranov/go-openai"
)

const (
	ServiceClassifier = "classifier"
	ServiceEmbedder   = "embedder"
)

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	maxTokens      int
	temperature    float32
	jsonMode       bool
}

type ClientConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	MaxTokens      int
	Temperature    float64
	// JSONMode asks the model for a JSON object response. Models that do not
	// support response_format reject the request, so it can be turned off.
	JSONMode bool
	// HTTPClient overrides the default transport.
	HTTPClient *http.Client
}

const (
	DefaultModel          = "gpt-4o-mini"
	DefaultEmbeddingModel = "text-embedding-ada-002"
)

func NewClientWithConfig(cfg ClientConfig) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 400
	}
	// go-openai omits a zero temperature, which the API reads as 1.0
	temperature := float32(cfg.Temperature)
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		conf.HTTPClient = cfg.HTTPClient
	}

	return &Client{
		client:         openai.NewClientWithConfig(conf),
		model:          model,
		embeddingModel: embeddingModel,
		maxTokens:      maxTokens,
		temperature:    temperature,
		jsonMode:       cfg.JSONMode,
	}
}

// CompleteJSON sends a system and user prompt and returns the raw reply.
// Errors are classified into apperr kinds.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt,
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	if c.jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", ClassifyError(ServiceClassifier, err)
	}

	if len(resp.Choices) == 0 {
		return "", apperr.Malformed(ServiceClassifier, errors.New("response has no choices"))
	}

	return resp.Choices[0].Message.Content, nil
}

func (c *Client) Embedding(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, ClassifyError(ServiceEmbedder, err)
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, apperr.Malformed(ServiceEmbedder, errors.New("response has no embedding"))
	}

	return resp.Data[0].Embedding, nil
}

func (c *Client) Model() string {
	return c.embeddingModel
}
