package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is used when the configured interval is not positive
const DefaultPollInterval = 120 * time.Second

// Poller periodically fetches and processes mail for every user
type Poller struct {
	syncer   *Syncer
	interval time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPoller creates a poller. Start must be called to begin polling.
func NewPoller(syncer *Syncer, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		syncer:   syncer,
		interval: interval,
		logger:   logger,
	}
}

// PollResult counts one poll cycle across users
type PollResult struct {
	Users     int
	Fetched   int
	Processed int
}

// PollOnce fetches recent mail for every user when a source is configured,
// then processes each user's whole backlog. Failures for one user are
// logged and do not stop the others.
func (p *Poller) PollOnce(ctx context.Context) (*PollResult, error) {
	users, err := p.syncer.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	res := &PollResult{Users: len(users)}
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		logger := p.logger.With(zap.Int64("user_id", user.ID))

		fetched, _, err := p.syncer.Fetch(ctx, user, p.syncer.opts.RegularBatch)
		switch {
		case errors.Is(err, ErrNoSource):
		case err != nil:
			logger.Error("Failed to fetch mail", zap.Error(err))
		default:
			res.Fetched += fetched
		}

		run, err := p.syncer.scheduler.Run(ctx, user.ID, RunOptions{})
		if err != nil {
			logger.Error("Failed to process backlog", zap.Error(err))
			continue
		}
		res.Processed += run.Succeeded
	}
	return res, nil
}

// Start begins polling in the background
func (p *Poller) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.stopCh = make(chan struct{})

	p.wg.Add(1)
	go p.loop(ctx)

	p.logger.Info("Poller started", zap.Duration("interval", p.interval))
	return nil
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.cycle(ctx)
	for {
		select {
		case <-ticker.C:
			p.cycle(ctx)
		case <-p.stopCh:
			return
		}
	}
}

func (p *Poller) cycle(ctx context.Context) {
	res, err := p.PollOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("Poll cycle failed", zap.Error(err))
		}
		return
	}
	if res.Fetched > 0 || res.Processed > 0 {
		p.logger.Info("Poll cycle complete",
			zap.Int("users", res.Users),
			zap.Int("fetched", res.Fetched),
			zap.Int("processed", res.Processed))
	}
}

// Stop ends polling and waits for an in-flight cycle to notice
func (p *Poller) Stop() error {
	if p.stopCh == nil {
		return nil
	}
	p.cancel()
	close(p.stopCh)
	p.wg.Wait()
	p.stopCh = nil
	p.logger.Info("Poller stopped")
	return nil
}
