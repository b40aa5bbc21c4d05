package triage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mikey/mail-triage/internal/adapters/store"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/features"
	"github.com/mikey/mail-triage/internal/inference"
	"github.com/mikey/mail-triage/internal/rules"
	"github.com/mikey/mail-triage/internal/scoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeOracle struct {
	classification *core.Classification
	summary        *core.Summary
	draft          *core.ReplyDraft
	err            error

	// block, when set, runs inside Classify before it answers
	block     func(ctx context.Context) error
	// draftGate, when set, holds Draft until it is closed
	draftGate chan struct{}

	classifyCalls  int
	summarizeCalls int
	draftCalls     int
	lastSummary    *core.Summary
	lastSignature  string
}

func (f *fakeOracle) Classify(ctx context.Context, _, _ string) (*core.Classification, error) {
	f.classifyCalls++
	if f.block != nil {
		if err := f.block(ctx); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	c := *f.classification
	return &c, nil
}

func (f *fakeOracle) Summarize(context.Context, string, string, string) (*core.Summary, error) {
	f.summarizeCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.summary, nil
}

func (f *fakeOracle) Draft(_ context.Context, _, _ string, summary *core.Summary, signature string) (*core.ReplyDraft, error) {
	f.draftCalls++
	if f.draftGate != nil {
		<-f.draftGate
	}
	f.lastSummary = summary
	f.lastSignature = signature
	if f.err != nil {
		return nil, f.err
	}
	return f.draft, nil
}

func (f *fakeOracle) Name() string { return "fake-oracle" }

func (f *fakeOracle) total() int { return f.classifyCalls + f.summarizeCalls + f.draftCalls }

type fixture struct {
	store  *store.MemoryStore
	cache  *inference.Cache
	oracle *fakeOracle
	svc    *Service
	user   *core.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	s := store.NewMemoryStore(logger)
	cache := inference.NewCache(s, logger)

	lex := rules.DefaultLexicon().WithOverrides(rules.Overrides{Allowlist: []string{"acme.io"}})
	engine, err := rules.NewEngine(lex, logger)
	require.NoError(t, err)
	model := scoring.NewModel(features.NewExtractor(), s, logger)

	oracle := &fakeOracle{
		classification: &core.Classification{Priority: core.PriorityNormal, Action: core.ActionReadOnly, Reasons: []string{"fyi"}},
		summary:        &core.Summary{Summary: "Alice wants to meet Tuesday.", Asks: []string{"meet"}, Sentiment: "neu"},
		draft: &core.ReplyDraft{
			Options: []core.ReplyOption{{Title: "Yes", Body: "Tuesday works."}, {Title: "No", Body: "Can we do Wednesday?"}},
			Style:   "crisp",
		},
	}

	u := &core.User{Email: "me@acme.io"}
	require.NoError(t, s.CreateUser(context.Background(), u))

	return &fixture{
		store:  s,
		cache:  cache,
		oracle: oracle,
		svc:    NewService(s, cache, engine, model, oracle, logger),
		user:   u,
	}
}

func (f *fixture) save(t *testing.T, m *core.Message) *core.Message {
	t.Helper()
	m.UserID = f.user.ID
	if m.ExternalID == "" {
		m.ExternalID = m.Subject
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now().UTC()
	}
	_, err := f.store.SaveMessage(context.Background(), m)
	require.NoError(t, err)
	return m
}

func (f *fixture) has(t *testing.T, id int64, kind core.InferenceKind) bool {
	t.Helper()
	_, err := f.store.LatestInference(context.Background(), id, kind)
	if errors.Is(err, core.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestProcess_RetailPromotionIsSpam(t *testing.T) {
	f := newFixture(t)
	msg := f.save(t, &core.Message{
		From:    "deals@retailer.com",
		Subject: "50% off today only!",
		Snippet: "Click to unsubscribe",
	})

	cls, err := f.svc.Process(context.Background(), msg)
	require.NoError(t, err)

	assert.True(t, cls.IsSpam)
	assert.Equal(t, core.SpamTypeSpam, cls.SpamType)
	assert.Equal(t, core.ActionArchive, cls.Action)
	require.NotNil(t, cls.MLSpamScore)
	assert.InDelta(t, 0.72, *cls.MLSpamScore, 1e-9)
	assert.Equal(t, core.MLConfidenceHigh, cls.MLConfidence)

	assert.Zero(t, f.oracle.total())
	assert.False(t, f.has(t, msg.ID, core.KindSummary))

	rec, err := f.store.LatestInference(context.Background(), msg.ID, core.KindClassification)
	require.NoError(t, err)
	assert.Equal(t, rules.Producer, rec.Producer)
}

func TestProcess_AllowlistedColleagueGetsSummary(t *testing.T) {
	f := newFixture(t)
	msg := f.save(t, &core.Message{
		From:    "Alice <alice@acme.io>",
		Subject: "Can we meet Tuesday at 2pm?",
		Snippet: "Let me know if that works.",
	})

	cls, err := f.svc.Process(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, core.PriorityHigh, cls.Priority)
	assert.Equal(t, core.ActionNeedsReply, cls.Action)
	assert.False(t, cls.IsSpam)
	assert.Equal(t, core.SpamTypeNotSpam, cls.SpamType)
	assert.Zero(t, f.oracle.classifyCalls)
	assert.Equal(t, 1, f.oracle.summarizeCalls)
	assert.True(t, f.has(t, msg.ID, core.KindSummary))

	done, err := f.svc.IsComplete(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestProcess_Idempotent(t *testing.T) {
	f := newFixture(t)
	msg := f.save(t, &core.Message{
		From:    "bob@example.org",
		Subject: "Quarterly numbers",
		Snippet: "Attached are the figures.",
	})
	ctx := context.Background()

	first, err := f.svc.Process(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, 1, f.oracle.classifyCalls)

	rec, err := f.store.LatestInference(ctx, msg.ID, core.KindClassification)
	require.NoError(t, err)

	second, err := f.svc.Process(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, 1, f.oracle.total())
	assert.Equal(t, first, second)

	again, err := f.store.LatestInference(ctx, msg.ID, core.KindClassification)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID)
	assert.Equal(t, rec.Version, again.Version)
	assert.Equal(t, "fake-oracle", again.Producer)
}

func TestProcess_SentShortCircuit(t *testing.T) {
	tests := []struct {
		name string
		msg  *core.Message
	}{
		{"sent label", &core.Message{From: "someone@else.com", Subject: "Buy now! 50% off", Labels: []string{"sent"}}},
		{"owner address", &core.Message{From: "Me <ME@acme.io>", Subject: "Re: urgent deadline today"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			msg := f.save(t, tt.msg)

			cls, err := f.svc.Process(context.Background(), msg)
			require.NoError(t, err)
			assert.True(t, cls.IsSent)
			assert.Equal(t, core.PriorityLow, cls.Priority)
			assert.Equal(t, core.ActionArchive, cls.Action)
			assert.False(t, cls.IsSpam)

			assert.Zero(t, f.oracle.total())
			assert.False(t, f.has(t, msg.ID, core.KindMLSpam))

			rec, err := f.store.LatestInference(context.Background(), msg.ID, core.KindClassification)
			require.NoError(t, err)
			assert.Equal(t, ProducerSentByUser, rec.Producer)
		})
	}
}

func TestProcess_SpamSuppressesSummary(t *testing.T) {
	f := newFixture(t)
	f.oracle.classification = &core.Classification{Priority: core.PriorityHigh, IsSpam: true, Action: core.ActionNeedsReply}
	msg := f.save(t, &core.Message{
		From:    "someone@example.org",
		Subject: "Please donate to our fundraising campaign",
		Snippet: "Your contribution and pledge help us reach our goal",
	})

	cls, err := f.svc.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, cls.IsSpam)
	assert.Zero(t, f.oracle.summarizeCalls)
	assert.False(t, f.has(t, msg.ID, core.KindSummary))
}

func TestProcess_OracleFailureLeavesMessageUnclassified(t *testing.T) {
	f := newFixture(t)
	f.oracle.err = errors.New("connection refused")
	msg := f.save(t, &core.Message{From: "bob@example.org", Subject: "Quarterly numbers", Snippet: "Attached are the figures."})

	_, err := f.svc.Process(context.Background(), msg)
	require.Error(t, err)
	assert.False(t, f.has(t, msg.ID, core.KindClassification))
	assert.False(t, f.has(t, msg.ID, core.KindMLSpam))

	f.oracle.err = nil
	_, err = f.svc.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, f.has(t, msg.ID, core.KindClassification))
}

func TestProcess_SummaryFailureKeepsClassification(t *testing.T) {
	f := newFixture(t)
	msg := f.save(t, &core.Message{From: "alice@acme.io", Subject: "Can we meet Tuesday?", Snippet: "Thanks"})

	f.oracle.err = errors.New("timeout")
	_, err := f.svc.Process(context.Background(), msg)
	require.Error(t, err)
	assert.True(t, f.has(t, msg.ID, core.KindClassification))
	assert.False(t, f.has(t, msg.ID, core.KindSummary))

	f.oracle.err = nil
	_, err = f.svc.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, f.has(t, msg.ID, core.KindSummary))
}

func TestApplyScore_BucketDecides(t *testing.T) {
	cls := &core.Classification{IsSpam: true, SpamType: core.SpamTypePromotional}
	ApplyScore(cls, &core.MLResult{Classification: core.SpamTypePotentialSpam, Score: 0.5, Confidence: core.MLConfidenceMedium})
	assert.False(t, cls.IsSpam)
	assert.Equal(t, core.SpamTypePotentialSpam, cls.SpamType)
	assert.Equal(t, core.MLConfidenceMedium, cls.MLConfidence)

	ApplyScore(cls, &core.MLResult{Classification: core.SpamTypeNotSpam, Score: 0.1})
	assert.False(t, cls.IsSpam)
	assert.Equal(t, core.SpamTypeNotSpam, cls.SpamType)
}

func TestReclassify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg := f.save(t, &core.Message{From: "bob@example.org", Subject: "Quarterly numbers", Snippet: "Attached are the figures."})

	_, err := f.svc.Process(ctx, msg)
	require.NoError(t, err)

	f.oracle.classification = &core.Classification{Priority: core.PriorityLow, Action: core.ActionArchive}
	cls, err := f.svc.Reclassify(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PriorityLow, cls.Priority)
	assert.Equal(t, 2, f.oracle.classifyCalls)

	res, err := f.svc.ReclassifyAll(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 3, f.oracle.classifyCalls)
}

func TestProcess_SharedRunOutlivesCancelledCaller(t *testing.T) {
	f := newFixture(t)
	msg := f.save(t, &core.Message{From: "bob@example.org", Subject: "Status", Snippet: "Update attached."})

	started := make(chan struct{})
	release := make(chan struct{})
	f.oracle.block = func(ctx context.Context) error {
		close(started)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	bg, cancel := context.WithCancel(context.Background())
	bgErr := make(chan error, 1)
	go func() {
		_, err := f.svc.Process(bg, msg)
		bgErr <- err
	}()
	<-started

	fgErr := make(chan error, 1)
	go func() {
		_, err := f.svc.Process(context.Background(), msg)
		fgErr <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-bgErr, context.Canceled)

	close(release)
	require.NoError(t, <-fgErr)
	assert.Equal(t, 1, f.oracle.classifyCalls)
	assert.True(t, f.has(t, msg.ID, core.KindClassification))
}
