package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mikey/mail-triage/internal/core"
)

var (
	// ErrEmptyResponse is returned when the model produced no text
	ErrEmptyResponse = errors.New("empty response from model")

	// ErrMalformedResponse is returned when the model's answer cannot be
	// read as the expected JSON object
	ErrMalformedResponse = errors.New("malformed response from model")
)

// decodeJSON unmarshals a model response into v. Models sometimes wrap the
// object in prose or code fences, so on failure the text between the first
// '{' and the last '}' is tried.
func decodeJSON(text string, v any) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyResponse
	}

	err := json.Unmarshal([]byte(text), v)
	if err == nil {
		return nil
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return fmt.Errorf("%w: no JSON object found: %v", ErrMalformedResponse, err)
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

type classifyResponse struct {
	Priority       core.Priority `json:"priority"`
	IsSpam         *bool         `json:"is_spam"`
	SpamConfidence *float64      `json:"spam_confidence"`
	Action         core.Action   `json:"action"`
	Reasons        []string      `json:"reasons"`
}

func parseClassification(text string) (*core.Classification, error) {
	var resp classifyResponse
	if err := decodeJSON(text, &resp); err != nil {
		return nil, err
	}

	if !resp.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrMalformedResponse, resp.Priority)
	}
	if !resp.Action.Valid() {
		return nil, fmt.Errorf("%w: unknown action %q", ErrMalformedResponse, resp.Action)
	}
	if resp.IsSpam == nil {
		return nil, fmt.Errorf("%w: missing is_spam", ErrMalformedResponse)
	}

	cls := &core.Classification{
		Priority:       resp.Priority,
		IsSpam:         *resp.IsSpam,
		SpamType:       core.SpamTypeNotSpam,
		SpamConfidence: resp.SpamConfidence,
		Action:         resp.Action,
		Reasons:        resp.Reasons,
	}
	if cls.IsSpam {
		cls.SpamType = core.SpamTypeSpam
	}
	if cls.Reasons == nil {
		cls.Reasons = []string{}
	}
	return cls, nil
}

func parseSummary(text string) (*core.Summary, error) {
	var s core.Summary
	if err := decodeJSON(text, &s); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.Summary) == "" {
		return nil, fmt.Errorf("%w: missing summary", ErrMalformedResponse)
	}
	switch s.Sentiment {
	case "pos", "neu", "neg":
	default:
		s.Sentiment = "neu"
	}
	return &s, nil
}

func parseDraft(text string) (*core.ReplyDraft, error) {
	var d core.ReplyDraft
	if err := decodeJSON(text, &d); err != nil {
		return nil, err
	}

	options := d.Options[:0]
	for _, opt := range d.Options {
		if strings.TrimSpace(opt.Body) != "" {
			options = append(options, opt)
		}
	}
	if len(options) == 0 {
		return nil, fmt.Errorf("%w: no reply options", ErrMalformedResponse)
	}
	d.Options = options
	return &d, nil
}
