package core

import (
	"context"
	"encoding/json"
	"time"
)

// Oracle is the remote natural-language judgment service
type Oracle interface {
	// Classify returns a provisional classification for a message
	Classify(ctx context.Context, subject, body string) (*Classification, error)

	// Summarize returns a thread summary
	Summarize(ctx context.Context, subject, body, threadContext string) (*Summary, error)

	// Draft returns candidate replies
	Draft(ctx context.Context, subject, body string, summary *Summary, signature string) (*ReplyDraft, error)

	// Name identifies the producing model in persisted inferences
	Name() string
}

// FeedbackHistory answers per-domain feedback aggregates
type FeedbackHistory interface {
	FeedbackCounts(ctx context.Context, userID int64, domain string) (FeedbackCounts, error)
}

// Repository is the persistence contract used by the pipeline
type Repository interface {
	FeedbackHistory

	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)

	// SaveMessage inserts a message unless one with the same external id
	// already exists for the user. It reports whether a row was created and
	// fills msg.ID either way.
	SaveMessage(ctx context.Context, msg *Message) (bool, error)
	GetMessage(ctx context.Context, id int64) (*Message, error)
	ListMessages(ctx context.Context, userID int64) ([]*Message, error)
	CountMessages(ctx context.Context, userID int64) (int, error)
	// PendingMessages returns messages lacking a classification or a summary,
	// newest received first.
	PendingMessages(ctx context.Context, userID int64) ([]*Message, error)
	// CountUnclassified returns how many of the user's messages have no classification
	CountUnclassified(ctx context.Context, userID int64) (int, error)
	SetRead(ctx context.Context, messageID int64, read bool) error
	SetReplied(ctx context.Context, messageID int64, at time.Time) error

	AddInference(ctx context.Context, inf *Inference) error
	// LatestInference returns the most recent inference of a kind or ErrNotFound
	LatestInference(ctx context.Context, messageID int64, kind InferenceKind) (*Inference, error)
	// UpdateInferencePayload replaces the payload only if the stored version
	// matches expectedVersion, returning ErrVersionConflict otherwise.
	UpdateInferencePayload(ctx context.Context, id int64, expectedVersion int, payload json.RawMessage) error
	DeleteInferences(ctx context.Context, messageID int64, kinds ...InferenceKind) (int, error)

	AddDraft(ctx context.Context, draft *Draft) error
	GetDraft(ctx context.Context, id int64) (*Draft, error)
	ListDrafts(ctx context.Context, messageID int64, unsentOnly bool) ([]*Draft, error)
	// ClaimDraft stamps approved_at on a draft that is neither approved nor
	// sent. It returns ErrDraftAlreadySent or ErrDraftClaimed otherwise.
	ClaimDraft(ctx context.Context, id int64, at time.Time) error
	// ReleaseDraft clears the claim on a draft that was not sent
	ReleaseDraft(ctx context.Context, id int64) error
	MarkDraftSent(ctx context.Context, id int64, at time.Time) error

	AddFeedback(ctx context.Context, fb *Feedback) error
}

// Store is a Repository that can run several writes atomically
type Store interface {
	Repository

	// WithTx runs fn against a transactional view of the store. Changes are
	// committed when fn returns nil and discarded otherwise.
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	Close() error
}
