package ports

import (
	"context"

	"github.com/mikey/mail-triage/internal/core"
)

// MessageSource fetches a user's most recent messages from their mailbox
type MessageSource interface {
	// FetchRecent returns up to limit messages, newest first. Returned
	// messages carry UserID but no ID.
	FetchRecent(ctx context.Context, user *core.User, limit int) ([]*core.Message, error)
}

// ReplySender delivers an approved draft as a reply to msg
type ReplySender interface {
	SendReply(ctx context.Context, msg *core.Message, draft *core.Draft, from string) error
}

// Ingestor accepts messages pushed by a mail server
type Ingestor interface {
	// Start starts the listener; it returns once the listener is running
	Start() error

	// Stop stops the listener
	Stop() error
}
