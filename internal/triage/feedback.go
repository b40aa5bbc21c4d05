package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/features"
	"github.com/mikey/mail-triage/internal/inference"
	"go.uber.org/zap"
)

// Feedback records user spam verdicts
type Feedback struct {
	store     core.Store
	cache     *inference.Cache
	extractor *features.Extractor
	logger    *zap.Logger
}

// NewFeedback creates the feedback service
func NewFeedback(store core.Store, cache *inference.Cache, extractor *features.Extractor, logger *zap.Logger) *Feedback {
	return &Feedback{
		store:     store,
		cache:     cache,
		extractor: extractor,
		logger:    logger,
	}
}

// Record stores the verdict with the message's features and a snapshot of
// its classification, then applies the verdict to that classification.
func (f *Feedback) Record(ctx context.Context, messageID int64, isSpam bool) (*core.Feedback, error) {
	msg, err := f.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load message %d: %w", messageID, err)
	}
	fv := f.extractor.Extract(msg)

	fb := &core.Feedback{
		MessageID:     msg.ID,
		UserID:        msg.UserID,
		IsSpam:        isSpam,
		SenderDomain:  fv.FromDomain,
		SubjectLength: fv.SubjectLength,
		BodyLength:    fv.BodyLength,
		HasLinks:      fv.HasLinks,
	}

	err = f.store.WithTx(ctx, func(repo core.Repository) error {
		current, err := repo.LatestInference(ctx, msg.ID, core.KindClassification)
		switch {
		case errors.Is(err, core.ErrNotFound):
			fb.ClassificationSnapshot = json.RawMessage("null")
		case err != nil:
			return err
		default:
			fb.ClassificationSnapshot = current.Payload
		}

		if err := repo.AddFeedback(ctx, fb); err != nil {
			return err
		}
		if current == nil {
			return nil
		}

		_, err = f.cache.Merge(ctx, repo, msg.ID, func(c *core.Classification) {
			c.IsSpam = isSpam
			if isSpam {
				c.SpamType = core.SpamTypeSpam
			} else {
				c.SpamType = core.SpamTypeNotSpam
			}
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record feedback for message %d: %w", messageID, err)
	}

	f.logger.Info("Recorded spam feedback",
		zap.Int64("message_id", msg.ID),
		zap.String("domain", fb.SenderDomain),
		zap.Bool("is_spam", isSpam))
	return fb, nil
}
