package bedrock

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/mikey/mail-triage/internal/oracle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeInvoker struct {
	body  []byte
	input *bedrockruntime.InvokeModelInput
}

func (f *fakeInvoker) InvokeModel(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = params
	return &bedrockruntime.InvokeModelOutput{Body: f.body}, nil
}

func newTestCompleter(t *testing.T, modelID string, body string) (*Completer, *fakeInvoker) {
	fake := &fakeInvoker{body: []byte(body)}
	return &Completer{
		client:    fake,
		modelID:   modelID,
		maxTokens: 300,
		logger:    zaptest.NewLogger(t),
	}, fake
}

func TestCompleter_ModelFamilies(t *testing.T) {
	tests := []struct {
		name     string
		modelID  string
		response string
		want     string
		key      string
	}{
		{"anthropic", "anthropic.claude-v2", `{"completion":"{\"a\":1}"}`, `{"a":1}`, "max_tokens_to_sample"},
		{"titan", "amazon.titan-text-express-v1", `{"results":[{"outputText":"{\"b\":2}"}]}`, `{"b":2}`, "textGenerationConfig"},
		{"generic text field", "meta.llama3", `{"text":"{\"c\":3}"}`, `{"c":3}`, "max_tokens"},
		{"generic raw body", "mistral.x", `{"something":"else"}`, `{"something":"else"}`, "max_tokens"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, fake := newTestCompleter(t, tt.modelID, tt.response)
			out, err := c.Complete(context.Background(), oracle.Request{System: "sys", User: "{}"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)

			var payload map[string]any
			require.NoError(t, json.Unmarshal(fake.input.Body, &payload))
			assert.Contains(t, payload, tt.key)
			assert.Equal(t, tt.modelID, *fake.input.ModelId)
		})
	}
}

func TestCompleter_TitanEmpty(t *testing.T) {
	c, _ := newTestCompleter(t, "amazon.titan-text-lite-v1", `{"results":[]}`)
	_, err := c.Complete(context.Background(), oracle.Request{})
	assert.ErrorIs(t, err, oracle.ErrEmptyResponse)
}
