// Package inference keeps per-message pipeline results and decides when a
// message needs no further work.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/mikey/mail-triage/internal/core"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// maxMergeAttempts bounds retries of a versioned merge that loses a race
const maxMergeAttempts = 3

// maxJoinAttempts bounds how often Do restarts after joining a cancelled run
const maxJoinAttempts = 3

// Snapshot is the current inference of each kind for one message
type Snapshot struct {
	MessageID int64

	ClassificationRecord *core.Inference
	MLRecord             *core.Inference
	SummaryRecord        *core.Inference

	Classification *core.Classification
	ML             *core.MLResult
	Summary        *core.Summary
}

// Complete reports whether the message needs no further processing. A
// classification must exist, and unless it marks a sent message the score
// must exist too. Non-spam gated messages also need a summary.
func (s *Snapshot) Complete() bool {
	if s.Classification == nil {
		return false
	}
	if s.Classification.IsSent {
		return true
	}
	if s.ML == nil {
		return false
	}
	return s.Classification.IsSpam || !s.Classification.Gated() || s.Summary != nil
}

// Cache reads and writes inferences and collapses concurrent work on the
// same message.
type Cache struct {
	store  core.Store
	group  singleflight.Group
	logger *zap.Logger

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the context shared by every caller waiting on one message. It
// is cancelled once no caller is waiting any more.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewCache creates an inference cache over store
func NewCache(store core.Store, logger *zap.Logger) *Cache {
	return &Cache{
		store:   store,
		logger:  logger,
		flights: make(map[string]*flight),
	}
}

// Snapshot loads the current inferences for a message from the store
func (c *Cache) Snapshot(ctx context.Context, messageID int64) (*Snapshot, error) {
	return c.Load(ctx, c.store, messageID)
}

// Load reads the current inferences through repo. Payloads that fail to
// decode are replaced by safe defaults and logged.
func (c *Cache) Load(ctx context.Context, repo core.Repository, messageID int64) (*Snapshot, error) {
	snap := &Snapshot{MessageID: messageID}

	rec, err := latest(ctx, repo, messageID, core.KindClassification)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		snap.ClassificationRecord = rec
		snap.Classification, err = core.DecodeClassification(rec.Payload)
		if err != nil {
			c.logger.Warn("Using defaults for unreadable classification",
				zap.Int64("message_id", messageID), zap.Error(err))
		}
	}

	rec, err = latest(ctx, repo, messageID, core.KindMLSpam)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		snap.MLRecord = rec
		snap.ML, err = core.DecodeMLResult(rec.Payload)
		if err != nil {
			c.logger.Warn("Using defaults for unreadable score",
				zap.Int64("message_id", messageID), zap.Error(err))
		}
	}

	rec, err = latest(ctx, repo, messageID, core.KindSummary)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		snap.SummaryRecord = rec
		snap.Summary, err = core.DecodeSummary(rec.Payload)
		if err != nil {
			c.logger.Warn("Using empty summary for unreadable payload",
				zap.Int64("message_id", messageID), zap.Error(err))
		}
	}

	return snap, nil
}

func latest(ctx context.Context, repo core.Repository, messageID int64, kind core.InferenceKind) (*core.Inference, error) {
	rec, err := repo.LatestInference(ctx, messageID, kind)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s for message %d: %w", kind, messageID, err)
	}
	return rec, nil
}

// Record persists a new inference through repo
func (c *Cache) Record(ctx context.Context, repo core.Repository, messageID int64, kind core.InferenceKind, producer string, payload any) (*core.Inference, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}

	inf := &core.Inference{
		MessageID: messageID,
		Kind:      kind,
		Payload:   data,
		Producer:  producer,
	}
	if err := repo.AddInference(ctx, inf); err != nil {
		return nil, fmt.Errorf("failed to record %s for message %d: %w", kind, messageID, err)
	}

	c.logger.Debug("Recorded inference",
		zap.Int64("message_id", messageID),
		zap.String("kind", string(kind)),
		zap.String("producer", producer))
	return inf, nil
}

// Merge applies mutate to the current classification of a message as a
// versioned update. A lost race re-reads the record and retries.
func (c *Cache) Merge(ctx context.Context, repo core.Repository, messageID int64, mutate func(*core.Classification)) (*core.Classification, error) {
	for attempt := 1; ; attempt++ {
		rec, err := latest(ctx, repo, messageID, core.KindClassification)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("no classification for message %d: %w", messageID, core.ErrNotFound)
		}

		cls, err := core.DecodeClassification(rec.Payload)
		if err != nil {
			c.logger.Warn("Merging into defaults for unreadable classification",
				zap.Int64("message_id", messageID), zap.Error(err))
		}
		mutate(cls)

		data, err := json.Marshal(cls)
		if err != nil {
			return nil, fmt.Errorf("failed to encode classification: %w", err)
		}

		err = repo.UpdateInferencePayload(ctx, rec.ID, rec.Version, data)
		if err == nil {
			return cls, nil
		}
		if !errors.Is(err, core.ErrVersionConflict) || attempt >= maxMergeAttempts {
			return nil, fmt.Errorf("failed to merge classification for message %d: %w", messageID, err)
		}
		c.logger.Debug("Retrying classification merge",
			zap.Int64("message_id", messageID), zap.Int("attempt", attempt))
	}
}

// Invalidate removes inferences of the given kinds, or all kinds when none
// are given.
func (c *Cache) Invalidate(ctx context.Context, messageID int64, kinds ...core.InferenceKind) (int, error) {
	n, err := c.store.DeleteInferences(ctx, messageID, kinds...)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate inferences for message %d: %w", messageID, err)
	}
	c.logger.Debug("Invalidated inferences", zap.Int64("message_id", messageID), zap.Int("deleted", n))
	return n, nil
}

// Do runs fn once per message at a time. Callers arriving while fn is in
// flight share its result. fn gets a context that stays live while at least
// one caller is still waiting, so a caller that gives up returns ctx.Err()
// without failing the others.
func (c *Cache) Do(ctx context.Context, messageID int64, fn func(ctx context.Context) (*core.Classification, error)) (*core.Classification, error) {
	key := strconv.FormatInt(messageID, 10)
	for attempt := 1; ; attempt++ {
		f := c.join(ctx, key)
		ch := c.group.DoChan(key, func() (interface{}, error) {
			return fn(f.ctx)
		})

		select {
		case <-ctx.Done():
			c.leave(key, f)
			return nil, ctx.Err()
		case res := <-ch:
			c.leave(key, f)
			if res.Shared {
				c.logger.Debug("Joined in-flight processing", zap.Int64("message_id", messageID))
			}
			if res.Err != nil {
				// joined a run whose waiters had all left
				if errors.Is(res.Err, context.Canceled) && ctx.Err() == nil && attempt < maxJoinAttempts {
					continue
				}
				return nil, res.Err
			}
			return res.Val.(*core.Classification), nil
		}
	}
}

func (c *Cache) join(ctx context.Context, key string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[key] = f
	}
	f.waiters++
	return f
}

func (c *Cache) leave(key string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flights[key] == f {
		delete(c.flights, key)
	}
}
