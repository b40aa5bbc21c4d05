package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeCompleter struct {
	replies []string
	err     error
	calls   []Request

	// deadlines records whether each call carried a deadline
	deadlines []bool
}

func (f *fakeCompleter) Complete(ctx context.Context, req Request) (string, error) {
	f.calls = append(f.calls, req)
	_, ok := ctx.Deadline()
	f.deadlines = append(f.deadlines, ok)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", nil
	}
	out := f.replies[0]
	f.replies = f.replies[1:]
	return out, nil
}

func (f *fakeCompleter) Model() string { return "fake-model" }

func newTestClient(t *testing.T, fc *fakeCompleter) *Client {
	logger := zaptest.NewLogger(t)
	return NewClient(fc, utils.NewTextProcessor(logger), DefaultOptions(), logger)
}

func TestClient_Classify(t *testing.T) {
	fc := &fakeCompleter{replies: []string{
		`{"priority":"high","is_spam":false,"spam_confidence":0.1,"action":"needs_reply","reasons":["direct question"]}`,
	}}
	c := newTestClient(t, fc)

	cls, err := c.Classify(context.Background(), "Lunch?", "Are you free Tuesday?")
	require.NoError(t, err)
	assert.Equal(t, core.PriorityHigh, cls.Priority)
	assert.Equal(t, core.ActionNeedsReply, cls.Action)
	assert.False(t, cls.IsSpam)
	assert.Equal(t, core.SpamTypeNotSpam, cls.SpamType)
	assert.Equal(t, []string{"direct question"}, cls.Reasons)

	require.Len(t, fc.calls, 1)
	assert.Equal(t, TaskClassify, fc.calls[0].Task)
	assert.NotEmpty(t, fc.calls[0].ID)
	assert.Equal(t, SystemPrompt(TaskClassify), fc.calls[0].System)

	var sent map[string]any
	require.NoError(t, json.Unmarshal([]byte(fc.calls[0].User), &sent))
	assert.Equal(t, "Lunch?", sent["subject"])
	assert.Equal(t, "Are you free Tuesday?", sent["body"])
}

func TestClient_ClassifyExtractsWrappedJSON(t *testing.T) {
	fc := &fakeCompleter{replies: []string{
		"Here you go:\n```json\n{\"priority\":\"low\",\"is_spam\":true,\"action\":\"archive\",\"reasons\":[]}\n```",
	}}
	cls, err := newTestClient(t, fc).Classify(context.Background(), "s", "b")
	require.NoError(t, err)
	assert.True(t, cls.IsSpam)
	assert.Equal(t, core.SpamTypeSpam, cls.SpamType)
}

func TestClient_ClassifyRejectsBadAnswers(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  error
	}{
		{"empty", "   ", ErrEmptyResponse},
		{"not json", "I think it is spam", ErrMalformedResponse},
		{"unknown priority", `{"priority":"urgent","is_spam":false,"action":"archive"}`, ErrMalformedResponse},
		{"unknown action", `{"priority":"low","is_spam":false,"action":"delete"}`, ErrMalformedResponse},
		{"missing is_spam", `{"priority":"low","action":"archive"}`, ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeCompleter{replies: []string{tt.reply}}
			_, err := newTestClient(t, fc).Classify(context.Background(), "s", "b")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_TransportErrorPropagates(t *testing.T) {
	boom := errors.New("connection reset")
	_, err := newTestClient(t, &fakeCompleter{err: boom}).Classify(context.Background(), "s", "b")
	assert.ErrorIs(t, err, boom)
}

func TestClient_BreakerOpensAfterFailures(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("timeout")}
	c := newTestClient(t, fc)

	for i := 0; i < int(DefaultOptions().BreakerMaxFailures); i++ {
		_, err := c.Classify(context.Background(), "s", "b")
		require.Error(t, err)
	}
	calls := len(fc.calls)

	_, err := c.Classify(context.Background(), "s", "b")
	require.Error(t, err)
	assert.Equal(t, calls, len(fc.calls))
}

func TestClient_Summarize(t *testing.T) {
	fc := &fakeCompleter{replies: []string{
		`{"summary":"Alice asks to meet Tuesday.","participants":["alice@example.org"],"asks":["meet Tuesday"],"dates":["2024-03-05"],"attachments":[],"sentiment":"happy"}`,
	}}
	s, err := newTestClient(t, fc).Summarize(context.Background(), "Meet", "Tuesday at 2pm?", "")
	require.NoError(t, err)
	assert.Equal(t, "Alice asks to meet Tuesday.", s.Summary)
	assert.Equal(t, "neu", s.Sentiment)

	fc = &fakeCompleter{replies: []string{`{"summary":""}`}}
	_, err = newTestClient(t, fc).Summarize(context.Background(), "s", "b", "")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestClient_Draft(t *testing.T) {
	fc := &fakeCompleter{replies: []string{
		`{"options":[{"title":"Accept","body":"Tuesday works.","assumptions":"PT timezone"},{"title":"Empty","body":" "}],"style":"crisp"}`,
	}}
	d, err := newTestClient(t, fc).Draft(context.Background(), "Meet", "Tuesday?", nil, "-- Sam")
	require.NoError(t, err)
	require.Len(t, d.Options, 1)
	assert.Equal(t, core.Assumptions{"PT timezone"}, d.Options[0].Assumptions)
	assert.Equal(t, "crisp", d.Style)

	var sent map[string]any
	require.NoError(t, json.Unmarshal([]byte(fc.calls[0].User), &sent))
	assert.Equal(t, "-- Sam", sent["signature"])
}

func TestClient_TruncatesBody(t *testing.T) {
	fc := &fakeCompleter{replies: []string{`{"priority":"low","is_spam":false,"action":"read_only"}`}}
	logger := zaptest.NewLogger(t)
	opts := DefaultOptions()
	opts.MaxBodySize = 10
	c := NewClient(fc, utils.NewTextProcessor(logger), opts, logger)

	_, err := c.Classify(context.Background(), "s", "0123456789abcdefghij")
	require.NoError(t, err)

	var sent map[string]any
	require.NoError(t, json.Unmarshal([]byte(fc.calls[0].User), &sent))
	assert.Contains(t, sent["body"], "0123456789")
	assert.NotContains(t, sent["body"], "abcdefghij")
}

func TestClient_TimeoutIsOptIn(t *testing.T) {
	reply := `{"priority":"low","is_spam":false,"action":"read_only","reasons":["r"]}`
	logger := zaptest.NewLogger(t)

	fc := &fakeCompleter{replies: []string{reply}}
	_, err := NewClient(fc, utils.NewTextProcessor(logger), DefaultOptions(), logger).
		Classify(context.Background(), "s", "b")
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, fc.deadlines)

	opts := DefaultOptions()
	opts.Timeout = time.Minute
	fc = &fakeCompleter{replies: []string{reply}}
	_, err = NewClient(fc, utils.NewTextProcessor(logger), opts, logger).
		Classify(context.Background(), "s", "b")
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, fc.deadlines)
}
