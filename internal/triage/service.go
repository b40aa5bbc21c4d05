// Package triage runs messages through rules, the oracle and the score
// model, and serves the merged results.
package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/inference"
	"github.com/mikey/mail-triage/internal/rules"
	"github.com/mikey/mail-triage/internal/scoring"
	"go.uber.org/zap"
)

// ProducerSentByUser is recorded on classifications of the owner's own mail
const ProducerSentByUser = "sent_by_user"

// maxThreadContext bounds how many sibling messages are sent as thread context
const maxThreadContext = 5

// Service is the classification orchestrator
type Service struct {
	store  core.Store
	cache  *inference.Cache
	rules  *rules.Engine
	model  *scoring.Model
	oracle core.Oracle
	logger *zap.Logger
}

// NewService creates the orchestrator
func NewService(
	store core.Store,
	cache *inference.Cache,
	engine *rules.Engine,
	model *scoring.Model,
	oracle core.Oracle,
	logger *zap.Logger,
) *Service {
	return &Service{
		store:  store,
		cache:  cache,
		rules:  engine,
		model:  model,
		oracle: oracle,
		logger: logger,
	}
}

// IsComplete reports whether msg needs no further processing
func (s *Service) IsComplete(ctx context.Context, messageID int64) (bool, error) {
	snap, err := s.cache.Snapshot(ctx, messageID)
	if err != nil {
		return false, err
	}
	return snap.Complete(), nil
}

// Process brings a message to its complete state and returns the merged
// classification. Calling it again on a complete message does no work.
func (s *Service) Process(ctx context.Context, msg *core.Message) (*core.Classification, error) {
	return s.cache.Do(ctx, msg.ID, func(ctx context.Context) (*core.Classification, error) {
		return s.process(ctx, msg)
	})
}

func (s *Service) process(ctx context.Context, msg *core.Message) (*core.Classification, error) {
	logger := s.logger.With(zap.Int64("message_id", msg.ID), zap.String("external_id", msg.ExternalID))

	snap, err := s.cache.Snapshot(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	if snap.Complete() {
		logger.Debug("Message already processed")
		return snap.Classification, nil
	}

	if snap.Classification == nil {
		sent, err := s.isSentByOwner(ctx, msg)
		if err != nil {
			return nil, err
		}
		if sent {
			return s.recordSent(ctx, msg, logger)
		}
	}

	cls := snap.Classification
	producer := ""
	if cls == nil {
		cls, producer, err = s.classify(ctx, msg, logger)
		if err != nil {
			return nil, err
		}
	}

	ml := snap.ML
	if ml == nil {
		ml, err = s.model.Evaluate(ctx, msg, cls)
		if err != nil {
			return nil, fmt.Errorf("failed to score message %d: %w", msg.ID, err)
		}
	}

	if snap.ClassificationRecord == nil || snap.MLRecord == nil {
		cls, err = s.persistClassification(ctx, msg.ID, cls, producer, ml, snap)
		if err != nil {
			return nil, err
		}
		logger.Info("Classified message",
			zap.String("priority", string(cls.Priority)),
			zap.String("action", string(cls.Action)),
			zap.Bool("is_spam", cls.IsSpam),
			zap.String("bucket", string(ml.Classification)),
			zap.Float64("score", ml.Score))
	}

	if cls.IsSpam {
		logger.Debug("Spam message, skipping summary")
		return cls, nil
	}
	if !cls.Gated() || snap.Summary != nil {
		return cls, nil
	}

	if err := s.summarize(ctx, msg, logger); err != nil {
		return nil, err
	}
	return cls, nil
}

// classify runs the rule engine and falls back to the oracle
func (s *Service) classify(ctx context.Context, msg *core.Message, logger *zap.Logger) (*core.Classification, string, error) {
	if cls := s.rules.Evaluate(msg.Subject, msg.Snippet, msg.From); cls != nil {
		logger.Debug("Rule matched", zap.Strings("reasons", cls.Reasons))
		return cls, rules.Producer, nil
	}

	cls, err := s.oracle.Classify(ctx, msg.Subject, msg.Snippet)
	if err != nil {
		return nil, "", fmt.Errorf("failed to classify message %d: %w", msg.ID, err)
	}
	return cls, s.oracle.Name(), nil
}

// persistClassification writes whichever of the classification and score
// records are missing, then merges the score into the classification.
func (s *Service) persistClassification(
	ctx context.Context,
	messageID int64,
	cls *core.Classification,
	producer string,
	ml *core.MLResult,
	snap *inference.Snapshot,
) (*core.Classification, error) {
	var merged *core.Classification
	err := s.store.WithTx(ctx, func(repo core.Repository) error {
		if snap.ClassificationRecord == nil {
			if _, err := s.cache.Record(ctx, repo, messageID, core.KindClassification, producer, cls); err != nil {
				return err
			}
		}
		if snap.MLRecord == nil {
			if _, err := s.cache.Record(ctx, repo, messageID, core.KindMLSpam, scoring.Producer, ml); err != nil {
				return err
			}
		}

		var err error
		merged, err = s.cache.Merge(ctx, repo, messageID, func(c *core.Classification) {
			ApplyScore(c, ml)
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist classification for message %d: %w", messageID, err)
	}
	return merged, nil
}

// ApplyScore folds the score model's verdict into a classification. The
// bucket decides spam status.
func ApplyScore(c *core.Classification, ml *core.MLResult) {
	score := ml.Score
	c.MLSpamScore = &score
	c.MLConfidence = ml.Confidence

	switch ml.Classification {
	case core.SpamTypeSpam:
		c.IsSpam = true
		c.SpamType = core.SpamTypeSpam
	case core.SpamTypePotentialSpam:
		c.IsSpam = false
		c.SpamType = core.SpamTypePotentialSpam
	default:
		c.IsSpam = false
		c.SpamType = core.SpamTypeNotSpam
	}
}

func (s *Service) recordSent(ctx context.Context, msg *core.Message, logger *zap.Logger) (*core.Classification, error) {
	cls := core.SentClassification()
	err := s.store.WithTx(ctx, func(repo core.Repository) error {
		_, err := s.cache.Record(ctx, repo, msg.ID, core.KindClassification, ProducerSentByUser, cls)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record sent message %d: %w", msg.ID, err)
	}
	logger.Debug("Message sent by owner")
	return cls, nil
}

func (s *Service) summarize(ctx context.Context, msg *core.Message, logger *zap.Logger) error {
	threadContext, err := s.threadContext(ctx, msg)
	if err != nil {
		return err
	}

	summary, err := s.oracle.Summarize(ctx, msg.Subject, msg.Snippet, threadContext)
	if err != nil {
		return fmt.Errorf("failed to summarize message %d: %w", msg.ID, err)
	}

	err = s.store.WithTx(ctx, func(repo core.Repository) error {
		_, err := s.cache.Record(ctx, repo, msg.ID, core.KindSummary, s.oracle.Name(), summary)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to persist summary for message %d: %w", msg.ID, err)
	}
	logger.Debug("Summarized message", zap.Int("asks", len(summary.Asks)))
	return nil
}

// threadContext renders earlier messages of the same thread, oldest first
func (s *Service) threadContext(ctx context.Context, msg *core.Message) (string, error) {
	if msg.ThreadID == "" {
		return "", nil
	}
	all, err := s.store.ListMessages(ctx, msg.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to load thread %s: %w", msg.ThreadID, err)
	}

	var siblings []*core.Message
	for _, m := range all {
		if m.ThreadID == msg.ThreadID && m.ID != msg.ID && !m.ReceivedAt.After(msg.ReceivedAt) {
			siblings = append(siblings, m)
			if len(siblings) == maxThreadContext {
				break
			}
		}
	}

	var b strings.Builder
	for i := len(siblings) - 1; i >= 0; i-- {
		m := siblings[i]
		fmt.Fprintf(&b, "From: %s\nDate: %s\nSubject: %s\n%s\n\n",
			m.From, m.ReceivedAt.Format("2006-01-02 15:04"), m.Subject, m.Snippet)
	}
	return strings.TrimSpace(b.String()), nil
}

// isSentByOwner reports whether the account owner sent msg
func (s *Service) isSentByOwner(ctx context.Context, msg *core.Message) (bool, error) {
	if msg.HasLabel(core.LabelSent) {
		return true, nil
	}
	user, err := s.store.GetUser(ctx, msg.UserID)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load owner of message %d: %w", msg.ID, err)
	}
	return strings.EqualFold(senderAddress(msg.From), user.Email), nil
}

// senderAddress returns the bare address of a From value
func senderAddress(from string) string {
	if addr, err := mail.ParseAddress(from); err == nil {
		return addr.Address
	}
	return strings.TrimSpace(from)
}

// Reclassify drops a message's classification and score and processes it again
func (s *Service) Reclassify(ctx context.Context, messageID int64) (*core.Classification, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load message %d: %w", messageID, err)
	}
	if _, err := s.cache.Invalidate(ctx, messageID, core.KindClassification, core.KindMLSpam); err != nil {
		return nil, err
	}
	return s.Process(ctx, msg)
}

// ReclassifyResult counts a bulk reclassification
type ReclassifyResult struct {
	Total     int
	Succeeded int
}

// ReclassifyAll reclassifies every message a user has. Failures are logged
// and skipped.
func (s *Service) ReclassifyAll(ctx context.Context, userID int64) (*ReclassifyResult, error) {
	msgs, err := s.store.ListMessages(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for user %d: %w", userID, err)
	}

	res := &ReclassifyResult{Total: len(msgs)}
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := s.Reclassify(ctx, msg.ID); err != nil {
			s.logger.Error("Failed to reclassify message", zap.Int64("message_id", msg.ID), zap.Error(err))
			continue
		}
		res.Succeeded++
		if res.Succeeded%10 == 0 {
			s.logger.Info("Reclassification progress",
				zap.Int64("user_id", userID), zap.Int("done", res.Succeeded), zap.Int("total", res.Total))
		}
	}
	return res, nil
}
