package scheduler

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Tasks tracks background work per user so it can be cancelled
type Tasks struct {
	mu      sync.Mutex
	running map[int64]map[string]context.CancelFunc
	wg      sync.WaitGroup
	logger  *zap.Logger
}

// NewTasks creates an empty registry
func NewTasks(logger *zap.Logger) *Tasks {
	return &Tasks{
		running: make(map[int64]map[string]context.CancelFunc),
		logger:  logger,
	}
}

// Start runs fn in its own goroutine for userID and returns the task id.
// The task outlives ctx but keeps its values; only Cancel stops it.
func (t *Tasks) Start(ctx context.Context, userID int64, fn func(ctx context.Context)) string {
	id := uuid.NewString()
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	t.mu.Lock()
	if t.running[userID] == nil {
		t.running[userID] = make(map[string]context.CancelFunc)
	}
	t.running[userID][id] = cancel
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.finish(userID, id)

		t.logger.Info("Background task started", zap.Int64("user_id", userID), zap.String("task_id", id))
		fn(taskCtx)
		t.logger.Info("Background task finished", zap.Int64("user_id", userID), zap.String("task_id", id))
	}()
	return id
}

func (t *Tasks) finish(userID int64, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cancel, ok := t.running[userID][id]; ok {
		cancel()
		delete(t.running[userID], id)
	}
	if len(t.running[userID]) == 0 {
		delete(t.running, userID)
	}
}

// Cancel signals every running task of a user and returns how many there were
func (t *Tasks) Cancel(userID int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, cancel := range t.running[userID] {
		cancel()
		n++
	}
	if n > 0 {
		t.logger.Info("Cancelled background tasks", zap.Int64("user_id", userID), zap.Int("count", n))
	}
	return n
}

// Running reports whether userID has background work in flight
func (t *Tasks) Running(userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.running[userID]) > 0
}

// Wait blocks until every task has returned
func (t *Tasks) Wait() {
	t.wg.Wait()
}

// Stop cancels all tasks and waits for them
func (t *Tasks) Stop() {
	t.mu.Lock()
	for _, tasks := range t.running {
		for _, cancel := range tasks {
			cancel()
		}
	}
	t.mu.Unlock()
	t.wg.Wait()
}
