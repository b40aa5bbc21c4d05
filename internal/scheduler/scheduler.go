// Package scheduler drives the orchestrator over a user's backlog, in the
// foreground or as a cancellable background continuation.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mikey/mail-triage/internal/core"
	"go.uber.org/zap"
)

// ErrBacklog is returned when the backlog cannot be queried
var ErrBacklog = errors.New("backlog query failed")

// Processor brings one message to its complete state
type Processor interface {
	Process(ctx context.Context, msg *core.Message) (*core.Classification, error)
	IsComplete(ctx context.Context, messageID int64) (bool, error)
}

// RunOptions bounds a run. Zero values mean no limit.
type RunOptions struct {
	// MaxCount stops the run after this many messages were processed
	MaxCount int
	// TargetNonSpam stops the run once this many processed messages are not spam
	TargetNonSpam int
}

// RunResult counts what a run did
type RunResult struct {
	RunID     string
	Backlog   int
	Attempted int
	Succeeded int
	NonSpam   int
	Skipped   int
	Cancelled bool
}

// Scheduler processes a user's pending messages newest first
type Scheduler struct {
	store     core.Repository
	processor Processor
	logger    *zap.Logger
}

// New creates a scheduler
func New(store core.Repository, processor Processor, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		processor: processor,
		logger:    logger,
	}
}

// Run processes the backlog until it is exhausted, a limit in opts is
// reached or ctx is cancelled. Per-message failures are logged and leave the
// message eligible for a later run. A cancelled run returns its partial
// result without error.
func (s *Scheduler) Run(ctx context.Context, userID int64, opts RunOptions) (*RunResult, error) {
	res := &RunResult{RunID: uuid.NewString()}
	logger := s.logger.With(zap.String("run_id", res.RunID), zap.Int64("user_id", userID))

	backlog, err := s.store.PendingMessages(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w for user %d: %w", ErrBacklog, userID, err)
	}
	res.Backlog = len(backlog)
	logger.Info("Starting run",
		zap.Int("backlog", res.Backlog),
		zap.Int("max_count", opts.MaxCount),
		zap.Int("target_non_spam", opts.TargetNonSpam))

	for _, msg := range backlog {
		if opts.MaxCount > 0 && res.Succeeded >= opts.MaxCount {
			logger.Info("Reached max count", zap.Int("max_count", opts.MaxCount))
			break
		}
		if opts.TargetNonSpam > 0 && res.NonSpam >= opts.TargetNonSpam {
			logger.Info("Reached non-spam target", zap.Int("target_non_spam", opts.TargetNonSpam))
			break
		}
		if ctx.Err() != nil {
			res.Cancelled = true
			logger.Info("Run cancelled", zap.Int("succeeded", res.Succeeded))
			break
		}

		done, err := s.processor.IsComplete(ctx, msg.ID)
		if err != nil {
			logger.Error("Failed to check message state", zap.Int64("message_id", msg.ID), zap.Error(err))
			continue
		}
		if done {
			res.Skipped++
			continue
		}

		res.Attempted++
		cls, err := s.processor.Process(ctx, msg)
		if err != nil {
			if ctx.Err() != nil {
				res.Cancelled = true
				logger.Info("Run cancelled mid-message", zap.Int64("message_id", msg.ID))
				break
			}
			logger.Error("Failed to process message", zap.Int64("message_id", msg.ID), zap.Error(err))
			continue
		}
		res.Succeeded++
		if !cls.IsSpam {
			res.NonSpam++
		}
	}

	logger.Info("Run finished",
		zap.Int("attempted", res.Attempted),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("non_spam", res.NonSpam),
		zap.Int("skipped", res.Skipped),
		zap.Bool("cancelled", res.Cancelled))
	return res, nil
}
