package triage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/inference"
	"github.com/mikey/mail-triage/internal/ports"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DraftConfidence is assigned to every generated reply option
const DraftConfidence = 90

const defaultDraftStyle = "crisp"

// Drafts generates reply drafts on request and sends approved ones
type Drafts struct {
	store     core.Store
	cache     *inference.Cache
	oracle    core.Oracle
	sender    ports.ReplySender
	signature string
	logger    *zap.Logger

	group singleflight.Group
}

type generated struct {
	drafts  []*core.Draft
	created bool
}

// NewDrafts creates the draft service. sender may be nil, in which case
// drafts can be generated but not approved.
func NewDrafts(store core.Store, cache *inference.Cache, oracle core.Oracle, sender ports.ReplySender, signature string, logger *zap.Logger) *Drafts {
	return &Drafts{
		store:     store,
		cache:     cache,
		oracle:    oracle,
		sender:    sender,
		signature: signature,
		logger:    logger,
	}
}

// Generate asks the oracle for reply options unless the message already
// has drafts. It reports whether new drafts were created. Concurrent calls
// for one message share a single oracle request.
func (d *Drafts) Generate(ctx context.Context, messageID int64) ([]*core.Draft, bool, error) {
	key := strconv.FormatInt(messageID, 10)
	for {
		ran := false
		v, err, _ := d.group.Do(key, func() (interface{}, error) {
			ran = true
			return d.generate(ctx, messageID)
		})
		// a joined caller whose context is still live retries on its own
		if !ran && errors.Is(err, context.Canceled) && ctx.Err() == nil {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		res := v.(*generated)
		return res.drafts, res.created && ran, nil
	}
}

func (d *Drafts) generate(ctx context.Context, messageID int64) (*generated, error) {
	msg, err := d.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load message %d: %w", messageID, err)
	}

	existing, err := d.store.ListDrafts(ctx, messageID, false)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		d.logger.Debug("Drafts already exist", zap.Int64("message_id", messageID), zap.Int("count", len(existing)))
		return &generated{drafts: existing}, nil
	}

	snap, err := d.cache.Snapshot(ctx, messageID)
	if err != nil {
		return nil, err
	}

	reply, err := d.oracle.Draft(ctx, msg.Subject, msg.Snippet, snap.Summary, d.signature)
	if err != nil {
		return nil, fmt.Errorf("failed to draft replies for message %d: %w", messageID, err)
	}

	style := reply.Style
	if style == "" {
		style = defaultDraftStyle
	}

	var out *generated
	err = d.store.WithTx(ctx, func(repo core.Repository) error {
		// another process may have saved drafts while the oracle was busy
		existing, err := repo.ListDrafts(ctx, messageID, false)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			out = &generated{drafts: existing}
			return nil
		}

		drafts := make([]*core.Draft, 0, len(reply.Options))
		for _, opt := range reply.Options {
			draft := &core.Draft{
				MessageID:  messageID,
				Text:       opt.Body,
				Confidence: DraftConfidence,
				Style:      style,
			}
			if err := repo.AddDraft(ctx, draft); err != nil {
				return err
			}
			drafts = append(drafts, draft)
		}
		out = &generated{drafts: drafts, created: true}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save drafts for message %d: %w", messageID, err)
	}

	if out.created {
		d.logger.Info("Generated drafts", zap.Int64("message_id", messageID), zap.Int("count", len(out.drafts)))
	}
	return out, nil
}

// Approve claims a draft, sends it as a reply and marks it sent. A sent
// draft cannot be approved again, and only one approval of a draft may be
// in progress at a time. A failed send releases the claim.
func (d *Drafts) Approve(ctx context.Context, draftID int64) (*core.Draft, error) {
	draft, err := d.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("failed to load draft %d: %w", draftID, err)
	}
	if draft.Sent() {
		return nil, core.ErrDraftAlreadySent
	}
	if d.sender == nil {
		return nil, core.ErrNoDraftSender
	}

	msg, err := d.store.GetMessage(ctx, draft.MessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load message %d: %w", draft.MessageID, err)
	}
	user, err := d.store.GetUser(ctx, msg.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", msg.UserID, err)
	}

	approvedAt := time.Now().UTC()
	if err := d.store.ClaimDraft(ctx, draftID, approvedAt); err != nil {
		if errors.Is(err, core.ErrDraftAlreadySent) || errors.Is(err, core.ErrDraftClaimed) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to claim draft %d: %w", draftID, err)
	}

	// once claimed, bookkeeping must not be cut short by the caller
	bookCtx := context.WithoutCancel(ctx)

	if err := d.sender.SendReply(ctx, msg, draft, user.Email); err != nil {
		if relErr := d.store.ReleaseDraft(bookCtx, draftID); relErr != nil {
			d.logger.Error("Failed to release draft claim", zap.Int64("draft_id", draftID), zap.Error(relErr))
		}
		return nil, fmt.Errorf("failed to send draft %d: %w", draftID, err)
	}

	sentAt := time.Now().UTC()
	err = d.store.WithTx(bookCtx, func(repo core.Repository) error {
		if err := repo.MarkDraftSent(bookCtx, draftID, sentAt); err != nil {
			return err
		}
		return repo.SetReplied(bookCtx, msg.ID, sentAt)
	})
	if err != nil {
		// the reply is out; leave the claim so it is not sent twice
		d.logger.Error("Sent reply but failed to record it",
			zap.Int64("draft_id", draftID), zap.Int64("message_id", msg.ID), zap.Error(err))
		return nil, fmt.Errorf("failed to mark draft %d sent: %w", draftID, err)
	}

	draft.ApprovedAt = &approvedAt
	draft.SentAt = &sentAt
	d.logger.Info("Sent reply", zap.Int64("draft_id", draftID), zap.Int64("message_id", msg.ID))
	return draft, nil
}
