package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/ports"
	"go.uber.org/zap"
)

// ErrNoSource is returned when syncing without a configured message source
var ErrNoSource = errors.New("no message source configured")

// SyncOptions sizes the fetches of a sync
type SyncOptions struct {
	InitialBatch    int
	InitialTarget   int
	BackgroundBatch int
	RegularBatch    int
}

// DefaultSyncOptions returns the standard batch sizes
func DefaultSyncOptions() SyncOptions {
	return SyncOptions{
		InitialBatch:    20,
		InitialTarget:   20,
		BackgroundBatch: 480,
		RegularBatch:    50,
	}
}

// SyncResult describes a completed foreground sync
type SyncResult struct {
	FirstSync bool
	Fetched   int
	New       int
	Run       *RunResult
	// TaskID is set when a background continuation was started
	TaskID string
}

// Syncer fetches mail from a source and schedules its processing
type Syncer struct {
	store     core.Store
	source    ports.MessageSource
	scheduler *Scheduler
	tasks     *Tasks
	opts      SyncOptions
	logger    *zap.Logger
}

// NewSyncer creates a syncer. source may be nil, in which case Sync fails
// with ErrNoSource.
func NewSyncer(
	store core.Store,
	source ports.MessageSource,
	scheduler *Scheduler,
	tasks *Tasks,
	opts SyncOptions,
	logger *zap.Logger,
) *Syncer {
	return &Syncer{
		store:     store,
		source:    source,
		scheduler: scheduler,
		tasks:     tasks,
		opts:      opts,
		logger:    logger,
	}
}

// Sync fetches a user's recent mail and processes it. The first sync of an
// empty mailbox processes a small batch and continues in the background.
// Later syncs process only what is new.
func (s *Syncer) Sync(ctx context.Context, userID int64) (*SyncResult, error) {
	if s.source == nil {
		return nil, ErrNoSource
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	existing, err := s.store.CountMessages(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages for user %d: %w", userID, err)
	}

	if existing == 0 {
		return s.firstSync(ctx, user)
	}
	return s.regularSync(ctx, user)
}

func (s *Syncer) firstSync(ctx context.Context, user *core.User) (*SyncResult, error) {
	s.logger.Info("First sync", zap.Int64("user_id", user.ID), zap.Int("batch", s.opts.InitialBatch))

	fetched, created, err := s.Fetch(ctx, user, s.opts.InitialBatch)
	if err != nil {
		return nil, err
	}
	run, err := s.scheduler.Run(ctx, user.ID, RunOptions{TargetNonSpam: s.opts.InitialTarget})
	if err != nil {
		return nil, err
	}

	res := &SyncResult{FirstSync: true, Fetched: fetched, New: created, Run: run}
	if !run.Cancelled {
		res.TaskID = s.tasks.Start(ctx, user.ID, func(ctx context.Context) {
			s.continueInBackground(ctx, user)
		})
	}
	return res, nil
}

func (s *Syncer) continueInBackground(ctx context.Context, user *core.User) {
	logger := s.logger.With(zap.Int64("user_id", user.ID))

	if ctx.Err() != nil {
		logger.Info("Background sync cancelled before fetch")
		return
	}
	if _, _, err := s.Fetch(ctx, user, s.opts.BackgroundBatch); err != nil {
		if ctx.Err() != nil {
			logger.Info("Background sync cancelled during fetch")
			return
		}
		logger.Error("Background fetch failed", zap.Error(err))
	}
	if ctx.Err() != nil {
		logger.Info("Background sync cancelled before processing")
		return
	}
	if _, err := s.scheduler.Run(ctx, user.ID, RunOptions{}); err != nil {
		logger.Error("Background processing failed", zap.Error(err))
	}
}

func (s *Syncer) regularSync(ctx context.Context, user *core.User) (*SyncResult, error) {
	fetched, created, err := s.Fetch(ctx, user, s.opts.RegularBatch)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Checked recent mail",
		zap.Int64("user_id", user.ID), zap.Int("fetched", fetched), zap.Int("new", created))

	res := &SyncResult{Fetched: fetched, New: created}
	if created == 0 {
		return res, nil
	}
	res.Run, err = s.scheduler.Run(ctx, user.ID, RunOptions{MaxCount: created})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Fetch pulls up to limit recent messages and saves them. It returns how
// many were fetched and how many of those were new.
func (s *Syncer) Fetch(ctx context.Context, user *core.User, limit int) (int, int, error) {
	if s.source == nil {
		return 0, 0, ErrNoSource
	}
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	msgs, err := s.source.FetchRecent(ctx, user, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fetch mail for user %d: %w", user.ID, err)
	}

	created := 0
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return len(msgs), created, err
		}
		msg.UserID = user.ID
		isNew, err := s.store.SaveMessage(ctx, msg)
		if err != nil {
			return len(msgs), created, fmt.Errorf("failed to save message %s: %w", msg.ExternalID, err)
		}
		if isNew {
			created++
		}
	}
	return len(msgs), created, nil
}

// Cancel stops a user's background sync
func (s *Syncer) Cancel(userID int64) int {
	return s.tasks.Cancel(userID)
}

// InProgress reports whether a user has a background sync running
func (s *Syncer) InProgress(userID int64) bool {
	return s.tasks.Running(userID)
}
