package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mikey/mail-triage/internal/adapters/store"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeProcessor struct {
	mu        sync.Mutex
	complete  map[int64]bool
	processed []string
	onProcess func(msg *core.Message)
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{complete: make(map[int64]bool)}
}

func (p *fakeProcessor) Process(_ context.Context, msg *core.Message) (*core.Classification, error) {
	if p.onProcess != nil {
		p.onProcess(msg)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed = append(p.processed, msg.Subject)
	if strings.HasPrefix(msg.Subject, "fail") {
		return nil, errors.New("oracle unavailable")
	}
	p.complete[msg.ID] = true
	return &core.Classification{IsSpam: strings.HasPrefix(msg.Subject, "spam")}, nil
}

func (p *fakeProcessor) IsComplete(_ context.Context, id int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.complete[id], nil
}

func (p *fakeProcessor) subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.processed...)
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// seed saves messages so that the first subject is the newest
func seed(t *testing.T, s core.Store, userID int64, subjects ...string) []*core.Message {
	t.Helper()
	out := make([]*core.Message, len(subjects))
	for i, subj := range subjects {
		m := &core.Message{
			UserID:     userID,
			ExternalID: fmt.Sprintf("ext-%s-%d", subj, i),
			Subject:    subj,
			ReceivedAt: base.Add(-time.Duration(i) * time.Minute),
		}
		_, err := s.SaveMessage(context.Background(), m)
		require.NoError(t, err)
		out[i] = m
	}
	return out
}

func newUser(t *testing.T, s core.Store) *core.User {
	t.Helper()
	u := &core.User{Email: "owner@example.com"}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func TestRun_Limits(t *testing.T) {
	tests := []struct {
		name      string
		subjects  []string
		opts      RunOptions
		processed []string
		want      RunResult
	}{
		{
			name:      "no limits drains backlog newest first",
			subjects:  []string{"a", "b", "c"},
			processed: []string{"a", "b", "c"},
			want:      RunResult{Backlog: 3, Attempted: 3, Succeeded: 3, NonSpam: 3},
		},
		{
			name:      "max count",
			subjects:  []string{"a", "b", "c", "d", "e"},
			opts:      RunOptions{MaxCount: 2},
			processed: []string{"a", "b"},
			want:      RunResult{Backlog: 5, Attempted: 2, Succeeded: 2, NonSpam: 2},
		},
		{
			name:      "non-spam target ignores spam",
			subjects:  []string{"spam1", "n1", "spam2", "n2", "n3"},
			opts:      RunOptions{TargetNonSpam: 2},
			processed: []string{"spam1", "n1", "spam2", "n2"},
			want:      RunResult{Backlog: 5, Attempted: 4, Succeeded: 4, NonSpam: 2},
		},
		{
			name:      "first limit reached wins",
			subjects:  []string{"spam1", "spam2", "n1", "n2"},
			opts:      RunOptions{MaxCount: 2, TargetNonSpam: 1},
			processed: []string{"spam1", "spam2"},
			want:      RunResult{Backlog: 4, Attempted: 2, Succeeded: 2},
		},
		{
			name:      "failures are skipped and do not count toward max",
			subjects:  []string{"a", "fail", "b", "c"},
			opts:      RunOptions{MaxCount: 2},
			processed: []string{"a", "fail", "b"},
			want:      RunResult{Backlog: 4, Attempted: 3, Succeeded: 2, NonSpam: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := zaptest.NewLogger(t)
			s := store.NewMemoryStore(logger)
			u := newUser(t, s)
			seed(t, s, u.ID, tt.subjects...)

			proc := newFakeProcessor()
			res, err := New(s, proc, logger).Run(context.Background(), u.ID, tt.opts)
			require.NoError(t, err)

			assert.NotEmpty(t, res.RunID)
			res.RunID = ""
			assert.Equal(t, tt.want, *res)
			assert.Equal(t, tt.processed, proc.subjects())
		})
	}
}

func TestRun_SkipsCompleteMessages(t *testing.T) {
	logger := zaptest.NewLogger(t)
	s := store.NewMemoryStore(logger)
	u := newUser(t, s)
	msgs := seed(t, s, u.ID, "a", "b", "c")

	proc := newFakeProcessor()
	proc.complete[msgs[1].ID] = true

	res, err := New(s, proc, logger).Run(context.Background(), u.ID, RunOptions{MaxCount: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, []string{"a", "c"}, proc.subjects())
}

func TestRun_Cancellation(t *testing.T) {
	logger := zaptest.NewLogger(t)
	s := store.NewMemoryStore(logger)
	u := newUser(t, s)
	seed(t, s, u.ID, "a", "b", "c")

	t.Run("before start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		proc := newFakeProcessor()
		res, err := New(s, proc, logger).Run(ctx, u.ID, RunOptions{})
		require.NoError(t, err)
		assert.True(t, res.Cancelled)
		assert.Zero(t, res.Attempted)
		assert.Empty(t, proc.subjects())
	})

	t.Run("between messages", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		proc := newFakeProcessor()
		proc.onProcess = func(*core.Message) { cancel() }
		res, err := New(s, proc, logger).Run(ctx, u.ID, RunOptions{})
		require.NoError(t, err)
		assert.True(t, res.Cancelled)
		assert.Equal(t, 1, res.Succeeded)
		assert.Equal(t, []string{"a"}, proc.subjects())
	})
}

type brokenStore struct {
	core.Store
}

func (brokenStore) PendingMessages(context.Context, int64) ([]*core.Message, error) {
	return nil, errors.New("disk I/O error")
}

func TestRun_BacklogFailure(t *testing.T) {
	logger := zaptest.NewLogger(t)
	s := brokenStore{Store: store.NewMemoryStore(logger)}

	_, err := New(s, newFakeProcessor(), logger).Run(context.Background(), 1, RunOptions{})
	assert.ErrorIs(t, err, ErrBacklog)
}
