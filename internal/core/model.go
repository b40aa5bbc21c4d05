package core

import (
	"encoding/json"
	"strings"
	"time"
)

// Priority is the importance assigned to a message
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is one of the known priorities
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Action is what the user is expected to do with a message
type Action string

const (
	ActionArchive    Action = "archive"
	ActionNeedsReply Action = "needs_reply"
	ActionReadOnly   Action = "read_only"
)

// Valid reports whether a is one of the known actions
func (a Action) Valid() bool {
	switch a {
	case ActionArchive, ActionNeedsReply, ActionReadOnly:
		return true
	}
	return false
}

// SpamType is the spam verdict attached to a classification
type SpamType string

const (
	SpamTypeSpam          SpamType = "spam"
	SpamTypePotentialSpam SpamType = "potential_spam"
	SpamTypeNotSpam       SpamType = "not_spam"
	SpamTypePromotional   SpamType = "promotional"
)

// MLConfidence is the confidence band of a score bucket
type MLConfidence string

const (
	MLConfidenceHigh   MLConfidence = "high"
	MLConfidenceMedium MLConfidence = "medium"
	MLConfidenceLow    MLConfidence = "low"
)

// InferenceKind identifies which pipeline stage produced an inference
type InferenceKind string

const (
	KindClassification InferenceKind = "classification"
	KindSummary        InferenceKind = "summary"
	KindMLSpam         InferenceKind = "ml_spam_classification"
)

// LabelSent marks messages the account owner sent
const LabelSent = "SENT"

// User owns a mailbox
type User struct {
	ID        int64
	Email     string
	CreatedAt time.Time
}

// Message is an ingested email. Only the read and replied fields change after ingestion.
type Message struct {
	ID         int64
	UserID     int64
	ExternalID string
	ThreadID   string
	From       string
	To         []string
	Subject    string
	Snippet    string
	ReceivedAt time.Time
	Labels     []string
	IsRead     bool
	RepliedAt  *time.Time
	RawRef     string
}

// HasLabel reports whether the message carries label, ignoring case
func (m *Message) HasLabel(label string) bool {
	for _, l := range m.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// Classification is the triage decision for a message
type Classification struct {
	Priority       Priority     `json:"priority"`
	IsSpam         bool         `json:"is_spam"`
	SpamType       SpamType     `json:"spam_type,omitempty"`
	SpamConfidence *float64     `json:"spam_confidence,omitempty"`
	MLSpamScore    *float64     `json:"ml_spam_score,omitempty"`
	MLConfidence   MLConfidence `json:"ml_confidence,omitempty"`
	Action         Action       `json:"action"`
	Reasons        []string     `json:"reasons"`
	IsSent         bool         `json:"is_sent,omitempty"`
}

// Gated reports whether the classification qualifies for summarization
func (c *Classification) Gated() bool {
	return c.Action == ActionNeedsReply || c.Priority == PriorityHigh
}

// SentClassification is the fixed result for messages sent by the account owner
func SentClassification() *Classification {
	return &Classification{
		Priority: PriorityLow,
		IsSpam:   false,
		SpamType: SpamTypeNotSpam,
		Action:   ActionArchive,
		Reasons:  []string{"Sent by account owner"},
		IsSent:   true,
	}
}

// FeatureVector holds the signals the score model consumes
type FeatureVector struct {
	FromDomain             string  `json:"from_domain"`
	SubjectLength          int     `json:"subject_length"`
	BodyLength             int     `json:"body_length"`
	HasLinks               bool    `json:"has_links"`
	SpamKeywordCount       int     `json:"spam_keyword_count"`
	MoneyRequestCount      int     `json:"money_request_count"`
	SuspiciousPatternCount int     `json:"suspicious_pattern_count"`
	CapsRatio              float64 `json:"caps_ratio"`
	IsMarketingDomain      bool    `json:"is_marketing_domain"`
}

// MLResult is the persisted output of the score model
type MLResult struct {
	Classification SpamType      `json:"classification"`
	Score          float64       `json:"ml_score"`
	Confidence     MLConfidence  `json:"confidence"`
	Features       FeatureVector `json:"features"`
	OracleIsSpam   bool          `json:"llm_is_spam"`
}

// Summary is a thread summary produced by the oracle
type Summary struct {
	Summary      string   `json:"summary"`
	Participants []string `json:"participants"`
	Asks         []string `json:"asks"`
	Dates        []string `json:"dates"`
	Attachments  []string `json:"attachments"`
	Sentiment    string   `json:"sentiment"`
}

// Assumptions accepts either a single string or a list of strings
type Assumptions []string

// UnmarshalJSON implements json.Unmarshaler
func (a *Assumptions) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*a = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	if single == "" {
		*a = nil
		return nil
	}
	*a = Assumptions{single}
	return nil
}

// ReplyOption is one candidate reply
type ReplyOption struct {
	Title       string      `json:"title"`
	Body        string      `json:"body"`
	Assumptions Assumptions `json:"assumptions"`
}

// ReplyDraft is the oracle's answer to a draft request
type ReplyDraft struct {
	Options []ReplyOption `json:"options"`
	Style   string        `json:"style"`
}

// Inference is an append-only record of one pipeline stage's output
type Inference struct {
	ID        int64
	MessageID int64
	Kind      InferenceKind
	Payload   json.RawMessage
	Producer  string
	CreatedAt time.Time
	Version   int
}

// Draft is a generated reply awaiting approval
type Draft struct {
	ID         int64
	MessageID  int64
	Text       string
	Confidence int
	Style      string
	CreatedAt  time.Time
	ApprovedAt *time.Time
	SentAt     *time.Time
}

// Sent reports whether the draft reached its terminal state
func (d *Draft) Sent() bool {
	return d.SentAt != nil
}

// Feedback is a user's spam verdict on a message
type Feedback struct {
	ID                     int64
	MessageID              int64
	UserID                 int64
	IsSpam                 bool
	SenderDomain           string
	SubjectLength          int
	BodyLength             int
	HasLinks               bool
	ClassificationSnapshot json.RawMessage
	CreatedAt              time.Time
}

// FeedbackCounts aggregates feedback for one sender domain
type FeedbackCounts struct {
	Spam    int
	NotSpam int
}
