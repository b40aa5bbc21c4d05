package core

import (
	"encoding/json"
	"fmt"
)

// classificationRecord mirrors Classification with every field optional so
// stored payloads missing keys can be detected.
type classificationRecord struct {
	Priority       *Priority     `json:"priority"`
	IsSpam         *bool         `json:"is_spam"`
	SpamType       *SpamType     `json:"spam_type"`
	SpamConfidence *float64      `json:"spam_confidence"`
	MLSpamScore    *float64      `json:"ml_spam_score"`
	MLConfidence   *MLConfidence `json:"ml_confidence"`
	Action         *Action       `json:"action"`
	Reasons        []string      `json:"reasons"`
	IsSent         *bool         `json:"is_sent"`
}

// DecodeClassification reads a stored classification payload. Missing or
// unknown fields fall back to safe defaults: not spam, normal priority,
// read only. A non-nil error means the payload was not valid JSON; the
// returned classification is still usable.
func DecodeClassification(payload []byte) (*Classification, error) {
	c := &Classification{
		Priority: PriorityNormal,
		Action:   ActionReadOnly,
		Reasons:  []string{},
	}

	var rec classificationRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		c.SpamType = SpamTypeNotSpam
		return c, fmt.Errorf("failed to decode classification payload: %w", err)
	}

	if rec.Priority != nil && rec.Priority.Valid() {
		c.Priority = *rec.Priority
	}
	if rec.Action != nil && rec.Action.Valid() {
		c.Action = *rec.Action
	}
	if rec.IsSpam != nil {
		c.IsSpam = *rec.IsSpam
	}
	if rec.IsSent != nil {
		c.IsSent = *rec.IsSent
	}
	if rec.Reasons != nil {
		c.Reasons = rec.Reasons
	}
	c.SpamConfidence = rec.SpamConfidence
	c.MLSpamScore = rec.MLSpamScore
	if rec.MLConfidence != nil {
		c.MLConfidence = *rec.MLConfidence
	}

	switch {
	case rec.SpamType != nil && *rec.SpamType != "":
		c.SpamType = *rec.SpamType
	case c.IsSpam:
		c.SpamType = SpamTypeSpam
	default:
		c.SpamType = SpamTypeNotSpam
	}

	return c, nil
}

// DecodeMLResult reads a stored score model payload
func DecodeMLResult(payload []byte) (*MLResult, error) {
	var r MLResult
	if err := json.Unmarshal(payload, &r); err != nil {
		return &MLResult{Classification: SpamTypeNotSpam, Confidence: MLConfidenceLow},
			fmt.Errorf("failed to decode ml payload: %w", err)
	}
	if r.Classification == "" {
		r.Classification = SpamTypeNotSpam
	}
	if r.Confidence == "" {
		r.Confidence = MLConfidenceLow
	}
	return &r, nil
}

// DecodeSummary reads a stored summary payload
func DecodeSummary(payload []byte) (*Summary, error) {
	var s Summary
	if err := json.Unmarshal(payload, &s); err != nil {
		return &Summary{}, fmt.Errorf("failed to decode summary payload: %w", err)
	}
	return &s, nil
}
