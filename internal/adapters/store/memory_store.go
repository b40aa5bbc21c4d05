package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mikey/mail-triage/internal/core"
	"go.uber.org/zap"
)

var (
	_ core.Store      = (*MemoryStore)(nil)
	_ core.Repository = (*memRepo)(nil)
)

// MemoryStore is an in-memory implementation of core.Store
type MemoryStore struct {
	mu     sync.Mutex
	state  *memState
	logger *zap.Logger
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		state:  newMemState(),
		logger: logger,
	}
}

// WithTx runs fn against a copy of the state and swaps it in on success.
// Transactions are serialized.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(repo core.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memRepo{st: work}); err != nil {
		s.logger.Debug("Rolled back memory transaction", zap.Error(err))
		return err
	}
	s.state = work
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

// do runs a single operation under the store lock
func (s *MemoryStore) do(fn func(r *memRepo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memRepo{st: s.state})
}

func (s *MemoryStore) FeedbackCounts(ctx context.Context, userID int64, domain string) (core.FeedbackCounts, error) {
	var out core.FeedbackCounts
	err := s.do(func(r *memRepo) (err error) { out, err = r.FeedbackCounts(ctx, userID, domain); return })
	return out, err
}

func (s *MemoryStore) CreateUser(ctx context.Context, user *core.User) error {
	return s.do(func(r *memRepo) error { return r.CreateUser(ctx, user) })
}

func (s *MemoryStore) GetUser(ctx context.Context, id int64) (*core.User, error) {
	var out *core.User
	err := s.do(func(r *memRepo) (err error) { out, err = r.GetUser(ctx, id); return })
	return out, err
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	var out *core.User
	err := s.do(func(r *memRepo) (err error) { out, err = r.GetUserByEmail(ctx, email); return })
	return out, err
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]*core.User, error) {
	var out []*core.User
	err := s.do(func(r *memRepo) (err error) { out, err = r.ListUsers(ctx); return })
	return out, err
}

func (s *MemoryStore) SaveMessage(ctx context.Context, msg *core.Message) (bool, error) {
	var created bool
	err := s.do(func(r *memRepo) (err error) { created, err = r.SaveMessage(ctx, msg); return })
	return created, err
}

func (s *MemoryStore) GetMessage(ctx context.Context, id int64) (*core.Message, error) {
	var out *core.Message
	err := s.do(func(r *memRepo) (err error) { out, err = r.GetMessage(ctx, id); return })
	return out, err
}

func (s *MemoryStore) ListMessages(ctx context.Context, userID int64) ([]*core.Message, error) {
	var out []*core.Message
	err := s.do(func(r *memRepo) (err error) { out, err = r.ListMessages(ctx, userID); return })
	return out, err
}

func (s *MemoryStore) CountMessages(ctx context.Context, userID int64) (int, error) {
	var out int
	err := s.do(func(r *memRepo) (err error) { out, err = r.CountMessages(ctx, userID); return })
	return out, err
}

func (s *MemoryStore) PendingMessages(ctx context.Context, userID int64) ([]*core.Message, error) {
	var out []*core.Message
	err := s.do(func(r *memRepo) (err error) { out, err = r.PendingMessages(ctx, userID); return })
	return out, err
}

func (s *MemoryStore) CountUnclassified(ctx context.Context, userID int64) (int, error) {
	var out int
	err := s.do(func(r *memRepo) (err error) { out, err = r.CountUnclassified(ctx, userID); return })
	return out, err
}

func (s *MemoryStore) SetRead(ctx context.Context, messageID int64, read bool) error {
	return s.do(func(r *memRepo) error { return r.SetRead(ctx, messageID, read) })
}

func (s *MemoryStore) SetReplied(ctx context.Context, messageID int64, at time.Time) error {
	return s.do(func(r *memRepo) error { return r.SetReplied(ctx, messageID, at) })
}

func (s *MemoryStore) AddInference(ctx context.Context, inf *core.Inference) error {
	return s.do(func(r *memRepo) error { return r.AddInference(ctx, inf) })
}

func (s *MemoryStore) LatestInference(ctx context.Context, messageID int64, kind core.InferenceKind) (*core.Inference, error) {
	var out *core.Inference
	err := s.do(func(r *memRepo) (err error) { out, err = r.LatestInference(ctx, messageID, kind); return })
	return out, err
}

func (s *MemoryStore) UpdateInferencePayload(ctx context.Context, id int64, expectedVersion int, payload json.RawMessage) error {
	return s.do(func(r *memRepo) error { return r.UpdateInferencePayload(ctx, id, expectedVersion, payload) })
}

func (s *MemoryStore) DeleteInferences(ctx context.Context, messageID int64, kinds ...core.InferenceKind) (int, error) {
	var out int
	err := s.do(func(r *memRepo) (err error) { out, err = r.DeleteInferences(ctx, messageID, kinds...); return })
	return out, err
}

func (s *MemoryStore) AddDraft(ctx context.Context, draft *core.Draft) error {
	return s.do(func(r *memRepo) error { return r.AddDraft(ctx, draft) })
}

func (s *MemoryStore) GetDraft(ctx context.Context, id int64) (*core.Draft, error) {
	var out *core.Draft
	err := s.do(func(r *memRepo) (err error) { out, err = r.GetDraft(ctx, id); return })
	return out, err
}

func (s *MemoryStore) ListDrafts(ctx context.Context, messageID int64, unsentOnly bool) ([]*core.Draft, error) {
	var out []*core.Draft
	err := s.do(func(r *memRepo) (err error) { out, err = r.ListDrafts(ctx, messageID, unsentOnly); return })
	return out, err
}

func (s *MemoryStore) ClaimDraft(ctx context.Context, id int64, at time.Time) error {
	return s.do(func(r *memRepo) error { return r.ClaimDraft(ctx, id, at) })
}

func (s *MemoryStore) ReleaseDraft(ctx context.Context, id int64) error {
	return s.do(func(r *memRepo) error { return r.ReleaseDraft(ctx, id) })
}

func (s *MemoryStore) MarkDraftSent(ctx context.Context, id int64, at time.Time) error {
	return s.do(func(r *memRepo) error { return r.MarkDraftSent(ctx, id, at) })
}

func (s *MemoryStore) AddFeedback(ctx context.Context, fb *core.Feedback) error {
	return s.do(func(r *memRepo) error { return r.AddFeedback(ctx, fb) })
}

type memState struct {
	nextID     int64
	users      map[int64]core.User
	messages   map[int64]core.Message
	inferences map[int64]core.Inference
	drafts     map[int64]core.Draft
	feedback   []core.Feedback
}

func newMemState() *memState {
	return &memState{
		users:      make(map[int64]core.User),
		messages:   make(map[int64]core.Message),
		inferences: make(map[int64]core.Inference),
		drafts:     make(map[int64]core.Draft),
	}
}

func (st *memState) clone() *memState {
	c := &memState{
		nextID:     st.nextID,
		users:      make(map[int64]core.User, len(st.users)),
		messages:   make(map[int64]core.Message, len(st.messages)),
		inferences: make(map[int64]core.Inference, len(st.inferences)),
		drafts:     make(map[int64]core.Draft, len(st.drafts)),
		feedback:   append([]core.Feedback(nil), st.feedback...),
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.messages {
		c.messages[k] = v
	}
	for k, v := range st.inferences {
		c.inferences[k] = v
	}
	for k, v := range st.drafts {
		c.drafts[k] = v
	}
	return c
}

func (st *memState) id() int64 {
	st.nextID++
	return st.nextID
}

// memRepo operates on a state without locking
type memRepo struct {
	st *memState
}

func (r *memRepo) FeedbackCounts(_ context.Context, userID int64, domain string) (core.FeedbackCounts, error) {
	var out core.FeedbackCounts
	for _, fb := range r.st.feedback {
		if fb.UserID != userID || fb.SenderDomain != domain {
			continue
		}
		if fb.IsSpam {
			out.Spam++
		} else {
			out.NotSpam++
		}
	}
	return out, nil
}

func (r *memRepo) CreateUser(_ context.Context, user *core.User) error {
	for _, u := range r.st.users {
		if strings.EqualFold(u.Email, user.Email) {
			user.ID = u.ID
			user.CreatedAt = u.CreatedAt
			return nil
		}
	}
	user.ID = r.st.id()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	r.st.users[user.ID] = *user
	return nil
}

func (r *memRepo) GetUser(_ context.Context, id int64) (*core.User, error) {
	u, ok := r.st.users[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &u, nil
}

func (r *memRepo) GetUserByEmail(_ context.Context, email string) (*core.User, error) {
	for _, u := range r.st.users {
		if strings.EqualFold(u.Email, email) {
			u := u
			return &u, nil
		}
	}
	return nil, core.ErrNotFound
}

func (r *memRepo) ListUsers(_ context.Context) ([]*core.User, error) {
	out := make([]*core.User, 0, len(r.st.users))
	for _, u := range r.st.users {
		u := u
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) SaveMessage(_ context.Context, msg *core.Message) (bool, error) {
	for _, m := range r.st.messages {
		if m.UserID == msg.UserID && m.ExternalID == msg.ExternalID {
			msg.ID = m.ID
			return false, nil
		}
	}
	msg.ID = r.st.id()
	r.st.messages[msg.ID] = copyMessage(msg)
	return true, nil
}

func (r *memRepo) GetMessage(_ context.Context, id int64) (*core.Message, error) {
	m, ok := r.st.messages[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	out := copyMessage(&m)
	return &out, nil
}

func (r *memRepo) ListMessages(_ context.Context, userID int64) ([]*core.Message, error) {
	return r.filterMessages(userID, func(*core.Message) bool { return true }), nil
}

func (r *memRepo) CountMessages(_ context.Context, userID int64) (int, error) {
	n := 0
	for _, m := range r.st.messages {
		if m.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) PendingMessages(_ context.Context, userID int64) ([]*core.Message, error) {
	return r.filterMessages(userID, func(m *core.Message) bool {
		return !r.hasKind(m.ID, core.KindClassification) || !r.hasKind(m.ID, core.KindSummary)
	}), nil
}

func (r *memRepo) CountUnclassified(_ context.Context, userID int64) (int, error) {
	return len(r.filterMessages(userID, func(m *core.Message) bool {
		return !r.hasKind(m.ID, core.KindClassification)
	})), nil
}

// filterMessages returns matching messages newest received first
func (r *memRepo) filterMessages(userID int64, keep func(*core.Message) bool) []*core.Message {
	out := make([]*core.Message, 0)
	for _, m := range r.st.messages {
		if m.UserID != userID {
			continue
		}
		c := copyMessage(&m)
		if keep(&c) {
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.After(out[j].ReceivedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (r *memRepo) hasKind(messageID int64, kind core.InferenceKind) bool {
	for _, inf := range r.st.inferences {
		if inf.MessageID == messageID && inf.Kind == kind {
			return true
		}
	}
	return false
}

func (r *memRepo) SetRead(_ context.Context, messageID int64, read bool) error {
	m, ok := r.st.messages[messageID]
	if !ok {
		return core.ErrNotFound
	}
	m.IsRead = read
	r.st.messages[messageID] = m
	return nil
}

func (r *memRepo) SetReplied(_ context.Context, messageID int64, at time.Time) error {
	m, ok := r.st.messages[messageID]
	if !ok {
		return core.ErrNotFound
	}
	t := at.UTC()
	m.RepliedAt = &t
	r.st.messages[messageID] = m
	return nil
}

func (r *memRepo) AddInference(_ context.Context, inf *core.Inference) error {
	if _, ok := r.st.messages[inf.MessageID]; !ok {
		return core.ErrNotFound
	}
	inf.ID = r.st.id()
	if inf.CreatedAt.IsZero() {
		inf.CreatedAt = time.Now().UTC()
	}
	inf.Version = 1
	stored := *inf
	stored.Payload = append(json.RawMessage(nil), inf.Payload...)
	r.st.inferences[inf.ID] = stored
	return nil
}

func (r *memRepo) LatestInference(_ context.Context, messageID int64, kind core.InferenceKind) (*core.Inference, error) {
	var latest *core.Inference
	for _, inf := range r.st.inferences {
		if inf.MessageID != messageID || inf.Kind != kind {
			continue
		}
		if latest == nil || inf.CreatedAt.After(latest.CreatedAt) ||
			(inf.CreatedAt.Equal(latest.CreatedAt) && inf.ID > latest.ID) {
			inf := inf
			latest = &inf
		}
	}
	if latest == nil {
		return nil, core.ErrNotFound
	}
	latest.Payload = append(json.RawMessage(nil), latest.Payload...)
	return latest, nil
}

func (r *memRepo) UpdateInferencePayload(_ context.Context, id int64, expectedVersion int, payload json.RawMessage) error {
	inf, ok := r.st.inferences[id]
	if !ok {
		return core.ErrNotFound
	}
	if inf.Version != expectedVersion {
		return core.ErrVersionConflict
	}
	inf.Payload = append(json.RawMessage(nil), payload...)
	inf.Version++
	r.st.inferences[id] = inf
	return nil
}

func (r *memRepo) DeleteInferences(_ context.Context, messageID int64, kinds ...core.InferenceKind) (int, error) {
	n := 0
	for id, inf := range r.st.inferences {
		if inf.MessageID != messageID || !kindIn(inf.Kind, kinds) {
			continue
		}
		delete(r.st.inferences, id)
		n++
	}
	return n, nil
}

func kindIn(k core.InferenceKind, kinds []core.InferenceKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

func (r *memRepo) AddDraft(_ context.Context, draft *core.Draft) error {
	if _, ok := r.st.messages[draft.MessageID]; !ok {
		return core.ErrNotFound
	}
	draft.ID = r.st.id()
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now().UTC()
	}
	r.st.drafts[draft.ID] = *draft
	return nil
}

func (r *memRepo) GetDraft(_ context.Context, id int64) (*core.Draft, error) {
	d, ok := r.st.drafts[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &d, nil
}

func (r *memRepo) ListDrafts(_ context.Context, messageID int64, unsentOnly bool) ([]*core.Draft, error) {
	out := make([]*core.Draft, 0)
	for _, d := range r.st.drafts {
		if d.MessageID != messageID || (unsentOnly && d.SentAt != nil) {
			continue
		}
		d := d
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) ClaimDraft(_ context.Context, id int64, at time.Time) error {
	d, ok := r.st.drafts[id]
	if !ok {
		return core.ErrNotFound
	}
	switch {
	case d.SentAt != nil:
		return core.ErrDraftAlreadySent
	case d.ApprovedAt != nil:
		return core.ErrDraftClaimed
	}
	t := at.UTC()
	d.ApprovedAt = &t
	r.st.drafts[id] = d
	return nil
}

func (r *memRepo) ReleaseDraft(_ context.Context, id int64) error {
	d, ok := r.st.drafts[id]
	if !ok {
		return core.ErrNotFound
	}
	if d.SentAt == nil {
		d.ApprovedAt = nil
		r.st.drafts[id] = d
	}
	return nil
}

func (r *memRepo) MarkDraftSent(_ context.Context, id int64, at time.Time) error {
	d, ok := r.st.drafts[id]
	if !ok {
		return core.ErrNotFound
	}
	if d.SentAt != nil {
		return core.ErrDraftAlreadySent
	}
	t := at.UTC()
	if d.ApprovedAt == nil {
		d.ApprovedAt = &t
	}
	d.SentAt = &t
	r.st.drafts[id] = d
	return nil
}

func (r *memRepo) AddFeedback(_ context.Context, fb *core.Feedback) error {
	fb.ID = r.st.id()
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}
	r.st.feedback = append(r.st.feedback, *fb)
	return nil
}

func copyMessage(m *core.Message) core.Message {
	c := *m
	c.To = append([]string(nil), m.To...)
	c.Labels = append([]string(nil), m.Labels...)
	if m.RepliedAt != nil {
		t := *m.RepliedAt
		c.RepliedAt = &t
	}
	return c
}
