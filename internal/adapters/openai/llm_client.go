package openai

import (
	"context"
	"fmt"

	"github.com/mikey/mail-triage/internal/oracle"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

var _ oracle.Completer = (*Completer)(nil)

// chatClient is the part of the OpenAI client the completer uses
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Completer sends oracle requests to the OpenAI chat completions API
type Completer struct {
	client      chatClient
	modelName   string
	draftModel  string
	maxTokens   int
	temperature float32
	topP        float32
	logger      *zap.Logger
}

// NewCompleter creates a completer. draftModel, when set, serves reply
// drafts while modelName serves classification and summaries.
func NewCompleter(
	client *openai.Client,
	modelName string,
	draftModel string,
	maxTokens int,
	temperature float32,
	topP float32,
	logger *zap.Logger,
) *Completer {
	return newCompleter(client, modelName, draftModel, maxTokens, temperature, topP, logger)
}

func newCompleter(client chatClient, modelName, draftModel string, maxTokens int, temperature, topP float32, logger *zap.Logger) *Completer {
	return &Completer{
		client:      client,
		modelName:   modelName,
		draftModel:  draftModel,
		maxTokens:   maxTokens,
		temperature: temperature,
		topP:        topP,
		logger:      logger,
	}
}

// Model returns the primary model name
func (c *Completer) Model() string {
	return c.modelName
}

func (c *Completer) modelFor(task oracle.Task) string {
	if task == oracle.TaskDraft && c.draftModel != "" {
		return c.draftModel
	}
	return c.modelName
}

// Complete runs one chat completion in JSON-object mode
func (c *Completer) Complete(ctx context.Context, req oracle.Request) (string, error) {
	model := c.modelFor(req.Task)
	chatReq := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        c.topP,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion with OpenAI: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in OpenAI response: %w", oracle.ErrEmptyResponse)
	}

	c.logger.Debug("OpenAI completion",
		zap.String("request_id", req.ID),
		zap.String("model", model),
		zap.String("response_id", resp.ID),
		zap.Int("total_tokens", resp.Usage.TotalTokens))

	return resp.Choices[0].Message.Content, nil
}
