package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func stores(t *testing.T) map[string]core.Store {
	t.Helper()
	logger := zaptest.NewLogger(t)

	sqlite, err := NewSQLiteStore(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]core.Store{
		"memory": NewMemoryStore(logger),
		"sqlite": sqlite,
	}
}

func seedUser(t *testing.T, s core.Store) *core.User {
	t.Helper()
	u := &core.User{Email: "owner@example.com"}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func seedMessage(t *testing.T, s core.Store, userID int64, ext string, at time.Time) *core.Message {
	t.Helper()
	m := &core.Message{
		UserID:     userID,
		ExternalID: ext,
		ThreadID:   "t-" + ext,
		From:       "alice@example.org",
		To:         []string{"owner@example.com"},
		Subject:    "Subject " + ext,
		Snippet:    "Body " + ext,
		ReceivedAt: at,
		Labels:     []string{"INBOX"},
	}
	created, err := s.SaveMessage(context.Background(), m)
	require.NoError(t, err)
	require.True(t, created)
	return m
}

func TestStore_Users(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			u := seedUser(t, s)
			assert.NotZero(t, u.ID)

			again := &core.User{Email: "OWNER@example.com"}
			require.NoError(t, s.CreateUser(ctx, again))
			assert.Equal(t, u.ID, again.ID)

			got, err := s.GetUserByEmail(ctx, "owner@example.com")
			require.NoError(t, err)
			assert.Equal(t, u.ID, got.ID)

			_, err = s.GetUser(ctx, 9999)
			assert.ErrorIs(t, err, core.ErrNotFound)

			users, err := s.ListUsers(ctx)
			require.NoError(t, err)
			assert.Len(t, users, 1)
		})
	}
}

func TestStore_SaveMessageDedupes(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			u := seedUser(t, s)
			first := seedMessage(t, s, u.ID, "ext-1", time.Now().UTC())

			dup := &core.Message{UserID: u.ID, ExternalID: "ext-1", ReceivedAt: time.Now().UTC()}
			created, err := s.SaveMessage(ctx, dup)
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, first.ID, dup.ID)

			n, err := s.CountMessages(ctx, u.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			got, err := s.GetMessage(ctx, first.ID)
			require.NoError(t, err)
			assert.Equal(t, []string{"owner@example.com"}, got.To)
			assert.Equal(t, []string{"INBOX"}, got.Labels)
			assert.Nil(t, got.RepliedAt)
		})
	}
}

func TestStore_PendingOrderAndFilter(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			u := seedUser(t, s)
			base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			older := seedMessage(t, s, u.ID, "a", base)
			newer := seedMessage(t, s, u.ID, "b", base.Add(time.Hour))
			done := seedMessage(t, s, u.ID, "c", base.Add(2*time.Hour))

			for _, kind := range []core.InferenceKind{core.KindClassification, core.KindSummary} {
				require.NoError(t, s.AddInference(ctx, &core.Inference{
					MessageID: done.ID, Kind: kind, Payload: json.RawMessage(`{}`), Producer: "test",
				}))
			}
			require.NoError(t, s.AddInference(ctx, &core.Inference{
				MessageID: newer.ID, Kind: core.KindClassification, Payload: json.RawMessage(`{}`), Producer: "test",
			}))

			pending, err := s.PendingMessages(ctx, u.ID)
			require.NoError(t, err)
			require.Len(t, pending, 2)
			assert.Equal(t, newer.ID, pending[0].ID)
			assert.Equal(t, older.ID, pending[1].ID)

			n, err := s.CountUnclassified(ctx, u.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestStore_InferenceVersioning(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			u := seedUser(t, s)
			m := seedMessage(t, s, u.ID, "x", time.Now().UTC())

			inf := &core.Inference{MessageID: m.ID, Kind: core.KindClassification, Payload: json.RawMessage(`{"a":1}`), Producer: "rules_v1"}
			require.NoError(t, s.AddInference(ctx, inf))
			assert.Equal(t, 1, inf.Version)

			require.NoError(t, s.UpdateInferencePayload(ctx, inf.ID, 1, json.RawMessage(`{"a":2}`)))
			err := s.UpdateInferencePayload(ctx, inf.ID, 1, json.RawMessage(`{"a":3}`))
			assert.ErrorIs(t, err, core.ErrVersionConflict)
			err = s.UpdateInferencePayload(ctx, 424242, 1, json.RawMessage(`{}`))
			assert.ErrorIs(t, err, core.ErrNotFound)

			got, err := s.LatestInference(ctx, m.ID, core.KindClassification)
			require.NoError(t, err)
			assert.Equal(t, 2, got.Version)
			assert.JSONEq(t, `{"a":2}`, string(got.Payload))

			_, err = s.LatestInference(ctx, m.ID, core.KindSummary)
			assert.ErrorIs(t, err, core.ErrNotFound)
		})
	}
}

func TestStore_LatestInferenceWins(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			u := seedUser(t, s)
			m := seedMessage(t, s, u.ID, "x", time.Now().UTC())
			at := time.Now().UTC()

			require.NoError(t, s.AddInference(ctx, &core.Inference{MessageID: m.ID, Kind: core.KindSummary, Payload: json.RawMessage(`{"summary":"old"}`), Producer: "p", CreatedAt: at}))
			require.NoError(t, s.AddInference(ctx, &core.Inference{MessageID: m.ID, Kind: core.KindSummary, Payload: json.RawMessage(`{"summary":"new"}`), Producer: "p", CreatedAt: at.Add(time.Second)}))

			got, err := s.LatestInference(ctx, m.ID, core.KindSummary)
			require.NoError(t, err)
			assert.JSONEq(t, `{"summary":"new"}`, string(got.Payload))
		})
	}
}

func TestStore_DeleteInferences(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			u := seedUser(t, s)
			m := seedMessage(t, s, u.ID, "x", time.Now().UTC())
			for _, kind := range []core.InferenceKind{core.KindClassification, core.KindMLSpam, core.KindSummary} {
				require.NoError(t, s.AddInference(ctx, &core.Inference{MessageID: m.ID, Kind: kind, Payload: json.RawMessage(`{}`), Producer: "p"}))
			}

			n, err := s.DeleteInferences(ctx, m.ID, core.KindClassification, core.KindMLSpam)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			_, err = s.LatestInference(ctx, m.ID, core.KindSummary)
			assert.NoError(t, err)

			n, err = s.DeleteInferences(ctx, m.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestStore_WithTxRollsBack(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			u := seedUser(t, s)
			m := seedMessage(t, s, u.ID, "x", time.Now().UTC())
			boom := errors.New("boom")

			err := s.WithTx(ctx, func(repo core.Repository) error {
				if err := repo.AddInference(ctx, &core.Inference{MessageID: m.ID, Kind: core.KindClassification, Payload: json.RawMessage(`{}`), Producer: "p"}); err != nil {
					return err
				}
				return boom
			})
			assert.ErrorIs(t, err, boom)

			_, err = s.LatestInference(ctx, m.ID, core.KindClassification)
			assert.ErrorIs(t, err, core.ErrNotFound)

			err = s.WithTx(ctx, func(repo core.Repository) error {
				return repo.AddInference(ctx, &core.Inference{MessageID: m.ID, Kind: core.KindClassification, Payload: json.RawMessage(`{}`), Producer: "p"})
			})
			require.NoError(t, err)
			_, err = s.LatestInference(ctx, m.ID, core.KindClassification)
			assert.NoError(t, err)
		})
	}
}

func TestStore_Drafts(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			u := seedUser(t, s)
			m := seedMessage(t, s, u.ID, "x", time.Now().UTC())

			d := &core.Draft{MessageID: m.ID, Text: "Thanks!", Confidence: 80, Style: "concise"}
			require.NoError(t, s.AddDraft(ctx, d))
			require.NoError(t, s.AddDraft(ctx, &core.Draft{MessageID: m.ID, Text: "Sure", Confidence: 60}))

			require.NoError(t, s.MarkDraftSent(ctx, d.ID, time.Now()))
			assert.ErrorIs(t, s.MarkDraftSent(ctx, d.ID, time.Now()), core.ErrDraftAlreadySent)
			assert.ErrorIs(t, s.MarkDraftSent(ctx, 31337, time.Now()), core.ErrNotFound)

			got, err := s.GetDraft(ctx, d.ID)
			require.NoError(t, err)
			assert.True(t, got.Sent())
			assert.NotNil(t, got.ApprovedAt)

			unsent, err := s.ListDrafts(ctx, m.ID, true)
			require.NoError(t, err)
			assert.Len(t, unsent, 1)

			all, err := s.ListDrafts(ctx, m.ID, false)
			require.NoError(t, err)
			assert.Len(t, all, 2)
		})
	}
}

func TestStore_DraftClaims(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			u := seedUser(t, s)
			m := seedMessage(t, s, u.ID, "x", time.Now().UTC())
			d := &core.Draft{MessageID: m.ID, Text: "On it", Confidence: 90}
			require.NoError(t, s.AddDraft(ctx, d))

			require.NoError(t, s.ClaimDraft(ctx, d.ID, time.Now()))
			assert.ErrorIs(t, s.ClaimDraft(ctx, d.ID, time.Now()), core.ErrDraftClaimed)

			require.NoError(t, s.ReleaseDraft(ctx, d.ID))
			got, err := s.GetDraft(ctx, d.ID)
			require.NoError(t, err)
			assert.Nil(t, got.ApprovedAt)

			claimedAt := time.Now().Add(-time.Minute)
			require.NoError(t, s.ClaimDraft(ctx, d.ID, claimedAt))
			require.NoError(t, s.MarkDraftSent(ctx, d.ID, time.Now()))
			assert.ErrorIs(t, s.ClaimDraft(ctx, d.ID, time.Now()), core.ErrDraftAlreadySent)
			assert.ErrorIs(t, s.ClaimDraft(ctx, 31337, time.Now()), core.ErrNotFound)

			require.NoError(t, s.ReleaseDraft(ctx, d.ID))
			got, err = s.GetDraft(ctx, d.ID)
			require.NoError(t, err)
			assert.True(t, got.Sent())
			require.NotNil(t, got.ApprovedAt)
			assert.WithinDuration(t, claimedAt, *got.ApprovedAt, time.Second)
		})
	}
}

func TestStore_FeedbackCounts(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			u := seedUser(t, s)
			m := seedMessage(t, s, u.ID, "x", time.Now().UTC())

			for _, spam := range []bool{true, true, false} {
				require.NoError(t, s.AddFeedback(ctx, &core.Feedback{MessageID: m.ID, UserID: u.ID, IsSpam: spam, SenderDomain: "shop.com"}))
			}
			require.NoError(t, s.AddFeedback(ctx, &core.Feedback{MessageID: m.ID, UserID: u.ID, IsSpam: true, SenderDomain: "other.com"}))

			counts, err := s.FeedbackCounts(ctx, u.ID, "shop.com")
			require.NoError(t, err)
			assert.Equal(t, core.FeedbackCounts{Spam: 2, NotSpam: 1}, counts)

			counts, err = s.FeedbackCounts(ctx, u.ID+100, "shop.com")
			require.NoError(t, err)
			assert.Equal(t, core.FeedbackCounts{}, counts)
		})
	}
}

func TestStore_ReadAndReplied(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			u := seedUser(t, s)
			m := seedMessage(t, s, u.ID, "x", time.Now().UTC())
			at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

			require.NoError(t, s.SetRead(ctx, m.ID, true))
			require.NoError(t, s.SetReplied(ctx, m.ID, at))
			assert.ErrorIs(t, s.SetRead(ctx, 999, true), core.ErrNotFound)

			got, err := s.GetMessage(ctx, m.ID)
			require.NoError(t, err)
			assert.True(t, got.IsRead)
			require.NotNil(t, got.RepliedAt)
			assert.True(t, at.Equal(*got.RepliedAt))
		})
	}
}

func TestSQLiteStore_MigrationsAreIdempotent(t *testing.T) {
	path := t.TempDir() + "/triage.db"
	logger := zaptest.NewLogger(t)

	s, err := NewSQLiteStore(path, logger)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path, logger)
	require.NoError(t, err)
	defer s.Close()

	var version int
	require.NoError(t, s.db.Get(&version, `SELECT MAX(version) FROM schema_version`))
	assert.Equal(t, len(sqliteMigrations), version)
}
