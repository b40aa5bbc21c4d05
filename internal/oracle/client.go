// Package oracle asks a language model for the judgments the rule engine
// cannot make: classification, thread summaries and reply drafts.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/utils"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var _ core.Oracle = (*Client)(nil)

// Request is a single model call
type Request struct {
	ID     string
	Task   Task
	System string
	User   string
}

// Completer sends a request to a model provider and returns the raw text
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	Model() string
}

// Options tune the client
type Options struct {
	// MaxBodySize caps the body bytes sent to the model. Zero disables the cap.
	MaxBodySize int
	// Timeout bounds each model call. Zero leaves it to the caller's context.
	Timeout time.Duration

	BreakerMaxFailures uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{
		MaxBodySize:        8192,
		BreakerMaxFailures: 5,
		BreakerInterval:    60 * time.Second,
		BreakerTimeout:     30 * time.Second,
	}
}

// Client implements core.Oracle over a Completer
type Client struct {
	completer Completer
	breaker   *gobreaker.CircuitBreaker
	text      *utils.TextProcessor
	opts      Options
	logger    *zap.Logger
}

// NewClient wraps completer with prompting, parsing and a circuit breaker
func NewClient(completer Completer, text *utils.TextProcessor, opts Options, logger *zap.Logger) *Client {
	c := &Client{
		completer: completer,
		text:      text,
		opts:      opts,
		logger:    logger,
	}

	maxFailures := opts.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = DefaultOptions().BreakerMaxFailures
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "oracle-" + completer.Model(),
		MaxRequests: 1,
		Interval:    opts.BreakerInterval,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Oracle circuit breaker changed state",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c
}

// Name identifies the model behind the oracle
func (c *Client) Name() string {
	return c.completer.Model()
}

// Classify returns a provisional classification for a message
func (c *Client) Classify(ctx context.Context, subject, body string) (*core.Classification, error) {
	content := map[string]any{
		"subject": subject,
		"body":    c.prepareBody(body),
		"headers": map[string]string{},
	}
	text, err := c.call(ctx, TaskClassify, content)
	if err != nil {
		return nil, err
	}

	cls, err := parseClassification(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse classification: %w", err)
	}
	return cls, nil
}

// Summarize returns a summary of a message and its thread
func (c *Client) Summarize(ctx context.Context, subject, body, threadContext string) (*core.Summary, error) {
	content := map[string]any{
		"subject":        subject,
		"body":           c.prepareBody(body),
		"thread_context": threadContext,
	}
	text, err := c.call(ctx, TaskSummarize, content)
	if err != nil {
		return nil, err
	}

	s, err := parseSummary(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse summary: %w", err)
	}
	return s, nil
}

// Draft returns reply options for a message
func (c *Client) Draft(ctx context.Context, subject, body string, summary *core.Summary, signature string) (*core.ReplyDraft, error) {
	if summary == nil {
		summary = &core.Summary{}
	}
	content := map[string]any{
		"subject":   subject,
		"body":      c.prepareBody(body),
		"summary":   summary,
		"signature": signature,
	}
	text, err := c.call(ctx, TaskDraft, content)
	if err != nil {
		return nil, err
	}

	d, err := parseDraft(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse reply draft: %w", err)
	}
	return d, nil
}

func (c *Client) prepareBody(body string) string {
	if c.text == nil {
		return body
	}
	return c.text.ProcessText(body, c.opts.MaxBodySize)
}

// call sends one task through the circuit breaker
func (c *Client) call(ctx context.Context, task Task, content map[string]any) (string, error) {
	user, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode %s request: %w", task, err)
	}

	req := Request{
		ID:     uuid.NewString(),
		Task:   task,
		System: SystemPrompt(task),
		User:   string(user),
	}

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.completer.Complete(ctx, req)
	})
	if err != nil {
		c.logger.Error("Oracle call failed",
			zap.String("request_id", req.ID),
			zap.String("task", string(task)),
			zap.String("model", c.completer.Model()),
			zap.Error(err))
		return "", fmt.Errorf("failed to %s with %s: %w", task, c.completer.Model(), err)
	}

	c.logger.Info("Oracle call succeeded",
		zap.String("request_id", req.ID),
		zap.String("task", string(task)),
		zap.String("model", c.completer.Model()),
		zap.Duration("elapsed", time.Since(start)))
	return out.(string), nil
}
