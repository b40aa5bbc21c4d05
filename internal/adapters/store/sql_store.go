package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/mikey/mail-triage/internal/core"
	"go.uber.org/zap"
)

var (
	_ core.Store      = (*SQLStore)(nil)
	_ core.Repository = (*sqlRepo)(nil)
)

// SQLStore implements core.Store on SQLite or MySQL through sqlx
type SQLStore struct {
	*sqlRepo
	db     *sqlx.DB
	logger *zap.Logger
}

// NewSQLiteStore opens the SQLite database at path and applies migrations.
// Use ":memory:" for a private in-memory database.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate", path)
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// SQLite allows one writer; an in-memory database also lives on a single connection.
	db.SetMaxOpenConns(1)

	return newSQLStore(db, sqliteMigrations, logger)
}

// NewMySQLStore connects to MySQL and applies migrations
func NewMySQLStore(dsn string, logger *zap.Logger) (*SQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse MySQL DSN: %w", err)
	}
	cfg.ParseTime = true
	// Updates that match a row without changing it must still count as affected.
	cfg.ClientFoundRows = true
	cfg.Loc = time.UTC

	db, err := sqlx.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	return newSQLStore(db, mysqlMigrations, logger)
}

func newSQLStore(db *sqlx.DB, migrations []migration, logger *zap.Logger) (*SQLStore, error) {
	s := &SQLStore{
		sqlRepo: &sqlRepo{q: db},
		db:      db,
		logger:  logger,
	}
	if err := s.migrate(migrations); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(migrations []migration) error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var current int
	if err := s.db.Get(&current, `SELECT COALESCE(MAX(version), 0) FROM schema_version`); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("failed to apply migration v%d: %w", m.version, err)
			}
		}
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, m.version); err != nil {
			return fmt.Errorf("failed to record migration v%d: %w", m.version, err)
		}
		s.logger.Info("Applied schema migration", zap.Int("version", m.version))
	}
	return nil
}

// WithTx runs fn inside a database transaction
func (s *SQLStore) WithTx(ctx context.Context, fn func(repo core.Repository) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&sqlRepo{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// sqlRepo runs queries against either the database or a transaction
type sqlRepo struct {
	q sqlx.ExtContext
}

type userRow struct {
	ID        int64     `db:"id"`
	Email     string    `db:"email"`
	CreatedAt time.Time `db:"created_at"`
}

func (r userRow) toCore() *core.User {
	return &core.User{ID: r.ID, Email: r.Email, CreatedAt: r.CreatedAt}
}

type messageRow struct {
	ID         int64        `db:"id"`
	UserID     int64        `db:"user_id"`
	ExternalID string       `db:"external_id"`
	ThreadID   string       `db:"thread_id"`
	FromAddr   string       `db:"from_addr"`
	ToAddrs    string       `db:"to_addrs"`
	Subject    string       `db:"subject"`
	Snippet    string       `db:"snippet"`
	ReceivedAt time.Time    `db:"received_at"`
	Labels     string       `db:"labels"`
	IsRead     bool         `db:"is_read"`
	RepliedAt  sql.NullTime `db:"replied_at"`
	RawRef     string       `db:"raw_ref"`
}

func (r messageRow) toCore() *core.Message {
	m := &core.Message{
		ID:         r.ID,
		UserID:     r.UserID,
		ExternalID: r.ExternalID,
		ThreadID:   r.ThreadID,
		From:       r.FromAddr,
		Subject:    r.Subject,
		Snippet:    r.Snippet,
		ReceivedAt: r.ReceivedAt.UTC(),
		IsRead:     r.IsRead,
		RawRef:     r.RawRef,
	}
	_ = json.Unmarshal([]byte(r.ToAddrs), &m.To)
	_ = json.Unmarshal([]byte(r.Labels), &m.Labels)
	if r.RepliedAt.Valid {
		t := r.RepliedAt.Time.UTC()
		m.RepliedAt = &t
	}
	return m
}

type inferenceRow struct {
	ID        int64     `db:"id"`
	MessageID int64     `db:"message_id"`
	Kind      string    `db:"kind"`
	Payload   string    `db:"payload"`
	Producer  string    `db:"producer"`
	CreatedAt time.Time `db:"created_at"`
	Version   int       `db:"version"`
}

type draftRow struct {
	ID         int64        `db:"id"`
	MessageID  int64        `db:"message_id"`
	Text       string       `db:"text"`
	Confidence int          `db:"confidence"`
	Style      string       `db:"style"`
	CreatedAt  time.Time    `db:"created_at"`
	ApprovedAt sql.NullTime `db:"approved_at"`
	SentAt     sql.NullTime `db:"sent_at"`
}

func (r draftRow) toCore() *core.Draft {
	d := &core.Draft{
		ID:         r.ID,
		MessageID:  r.MessageID,
		Text:       r.Text,
		Confidence: r.Confidence,
		Style:      r.Style,
		CreatedAt:  r.CreatedAt.UTC(),
	}
	if r.ApprovedAt.Valid {
		t := r.ApprovedAt.Time.UTC()
		d.ApprovedAt = &t
	}
	if r.SentAt.Valid {
		t := r.SentAt.Time.UTC()
		d.SentAt = &t
	}
	return d
}

const messageColumns = `m.id, m.user_id, m.external_id, m.thread_id, m.from_addr, m.to_addrs,
	m.subject, m.snippet, m.received_at, m.labels, m.is_read, m.replied_at, m.raw_ref`

func (r *sqlRepo) FeedbackCounts(ctx context.Context, userID int64, domain string) (core.FeedbackCounts, error) {
	var row struct {
		Spam    int `db:"spam"`
		NotSpam int `db:"not_spam"`
	}
	err := sqlx.GetContext(ctx, r.q, &row, `
		SELECT
			COALESCE(SUM(CASE WHEN is_spam THEN 1 ELSE 0 END), 0) AS spam,
			COALESCE(SUM(CASE WHEN is_spam THEN 0 ELSE 1 END), 0) AS not_spam
		FROM feedback
		WHERE user_id = ? AND sender_domain = ?`, userID, domain)
	if err != nil {
		return core.FeedbackCounts{}, fmt.Errorf("failed to count feedback: %w", err)
	}
	return core.FeedbackCounts{Spam: row.Spam, NotSpam: row.NotSpam}, nil
}

func (r *sqlRepo) CreateUser(ctx context.Context, user *core.User) error {
	existing, err := r.GetUserByEmail(ctx, user.Email)
	if err == nil {
		*user = *existing
		return nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return err
	}

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	res, err := r.q.ExecContext(ctx, `INSERT INTO users (email, created_at) VALUES (?, ?)`,
		strings.ToLower(user.Email), user.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	user.ID, err = res.LastInsertId()
	return err
}

func (r *sqlRepo) GetUser(ctx context.Context, id int64) (*core.User, error) {
	var row userRow
	err := sqlx.GetContext(ctx, r.q, &row, `SELECT id, email, created_at FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return row.toCore(), nil
}

func (r *sqlRepo) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	var row userRow
	err := sqlx.GetContext(ctx, r.q, &row, `SELECT id, email, created_at FROM users WHERE email = ?`,
		strings.ToLower(email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", email, err)
	}
	return row.toCore(), nil
}

func (r *sqlRepo) ListUsers(ctx context.Context) ([]*core.User, error) {
	var rows []userRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, `SELECT id, email, created_at FROM users ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	out := make([]*core.User, len(rows))
	for i, row := range rows {
		out[i] = row.toCore()
	}
	return out, nil
}

func (r *sqlRepo) SaveMessage(ctx context.Context, msg *core.Message) (bool, error) {
	var id int64
	err := sqlx.GetContext(ctx, r.q, &id,
		`SELECT id FROM messages WHERE user_id = ? AND external_id = ?`, msg.UserID, msg.ExternalID)
	if err == nil {
		msg.ID = id
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to look up message %s: %w", msg.ExternalID, err)
	}

	to, err := json.Marshal(nonNil(msg.To))
	if err != nil {
		return false, fmt.Errorf("failed to encode recipients: %w", err)
	}
	labels, err := json.Marshal(nonNil(msg.Labels))
	if err != nil {
		return false, fmt.Errorf("failed to encode labels: %w", err)
	}

	var replied sql.NullTime
	if msg.RepliedAt != nil {
		replied = sql.NullTime{Time: msg.RepliedAt.UTC(), Valid: true}
	}

	res, err := r.q.ExecContext(ctx, `
		INSERT INTO messages (
			user_id, external_id, thread_id, from_addr, to_addrs,
			subject, snippet, received_at, labels, is_read, replied_at, raw_ref
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.UserID, msg.ExternalID, msg.ThreadID, msg.From, string(to),
		msg.Subject, msg.Snippet, msg.ReceivedAt.UTC(), string(labels), msg.IsRead, replied, msg.RawRef)
	if err != nil {
		return false, fmt.Errorf("failed to insert message %s: %w", msg.ExternalID, err)
	}
	msg.ID, err = res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to read message id: %w", err)
	}
	return true, nil
}

func (r *sqlRepo) GetMessage(ctx context.Context, id int64) (*core.Message, error) {
	var row messageRow
	err := sqlx.GetContext(ctx, r.q, &row, `SELECT `+messageColumns+` FROM messages m WHERE m.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message %d: %w", id, err)
	}
	return row.toCore(), nil
}

func (r *sqlRepo) selectMessages(ctx context.Context, query string, args ...any) ([]*core.Message, error) {
	var rows []messageRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]*core.Message, len(rows))
	for i, row := range rows {
		out[i] = row.toCore()
	}
	return out, nil
}

func (r *sqlRepo) ListMessages(ctx context.Context, userID int64) ([]*core.Message, error) {
	out, err := r.selectMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		WHERE m.user_id = ?
		ORDER BY m.received_at DESC, m.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return out, nil
}

func (r *sqlRepo) CountMessages(ctx context.Context, userID int64) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, r.q, &n, `SELECT COUNT(*) FROM messages WHERE user_id = ?`, userID); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

func (r *sqlRepo) PendingMessages(ctx context.Context, userID int64) ([]*core.Message, error) {
	out, err := r.selectMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		WHERE m.user_id = ?
		  AND (
			NOT EXISTS (SELECT 1 FROM inferences i WHERE i.message_id = m.id AND i.kind = ?)
			OR NOT EXISTS (SELECT 1 FROM inferences i WHERE i.message_id = m.id AND i.kind = ?)
		  )
		ORDER BY m.received_at DESC, m.id DESC`,
		userID, string(core.KindClassification), string(core.KindSummary))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending messages: %w", err)
	}
	return out, nil
}

func (r *sqlRepo) CountUnclassified(ctx context.Context, userID int64) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.q, &n, `
		SELECT COUNT(*)
		FROM messages m
		WHERE m.user_id = ?
		  AND NOT EXISTS (SELECT 1 FROM inferences i WHERE i.message_id = m.id AND i.kind = ?)`,
		userID, string(core.KindClassification))
	if err != nil {
		return 0, fmt.Errorf("failed to count unclassified messages: %w", err)
	}
	return n, nil
}

func (r *sqlRepo) SetRead(ctx context.Context, messageID int64, read bool) error {
	return r.execOne(ctx, `UPDATE messages SET is_read = ? WHERE id = ?`, read, messageID)
}

func (r *sqlRepo) SetReplied(ctx context.Context, messageID int64, at time.Time) error {
	return r.execOne(ctx, `UPDATE messages SET replied_at = ? WHERE id = ?`, at.UTC(), messageID)
}

// execOne runs an update that must match exactly one row
func (r *sqlRepo) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *sqlRepo) AddInference(ctx context.Context, inf *core.Inference) error {
	if inf.CreatedAt.IsZero() {
		inf.CreatedAt = time.Now().UTC()
	}
	inf.Version = 1
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO inferences (message_id, kind, payload, producer, created_at, version)
		VALUES (?, ?, ?, ?, ?, ?)`,
		inf.MessageID, string(inf.Kind), string(inf.Payload), inf.Producer, inf.CreatedAt.UTC(), inf.Version)
	if err != nil {
		return fmt.Errorf("failed to insert %s inference: %w", inf.Kind, err)
	}
	inf.ID, err = res.LastInsertId()
	return err
}

func (r *sqlRepo) LatestInference(ctx context.Context, messageID int64, kind core.InferenceKind) (*core.Inference, error) {
	var row inferenceRow
	err := sqlx.GetContext(ctx, r.q, &row, `
		SELECT id, message_id, kind, payload, producer, created_at, version
		FROM inferences
		WHERE message_id = ? AND kind = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, messageID, string(kind))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s inference: %w", kind, err)
	}
	return &core.Inference{
		ID:        row.ID,
		MessageID: row.MessageID,
		Kind:      core.InferenceKind(row.Kind),
		Payload:   json.RawMessage(row.Payload),
		Producer:  row.Producer,
		CreatedAt: row.CreatedAt.UTC(),
		Version:   row.Version,
	}, nil
}

func (r *sqlRepo) UpdateInferencePayload(ctx context.Context, id int64, expectedVersion int, payload json.RawMessage) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE inferences SET payload = ?, version = version + 1
		WHERE id = ? AND version = ?`, string(payload), id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update inference %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	if err := sqlx.GetContext(ctx, r.q, &exists, `SELECT COUNT(*) FROM inferences WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to check inference %d: %w", id, err)
	}
	if exists == 0 {
		return core.ErrNotFound
	}
	return core.ErrVersionConflict
}

func (r *sqlRepo) DeleteInferences(ctx context.Context, messageID int64, kinds ...core.InferenceKind) (int, error) {
	query := `DELETE FROM inferences WHERE message_id = ?`
	args := []any{messageID}
	if len(kinds) > 0 {
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = string(k)
		}
		var err error
		query, args, err = sqlx.In(query+` AND kind IN (?)`, messageID, names)
		if err != nil {
			return 0, fmt.Errorf("failed to build delete query: %w", err)
		}
		query = r.q.Rebind(query)
	}

	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete inferences: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *sqlRepo) AddDraft(ctx context.Context, draft *core.Draft) error {
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now().UTC()
	}
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO drafts (message_id, text, confidence, style, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		draft.MessageID, draft.Text, draft.Confidence, draft.Style, draft.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert draft: %w", err)
	}
	draft.ID, err = res.LastInsertId()
	return err
}

func (r *sqlRepo) GetDraft(ctx context.Context, id int64) (*core.Draft, error) {
	var row draftRow
	err := sqlx.GetContext(ctx, r.q, &row, `
		SELECT id, message_id, text, confidence, style, created_at, approved_at, sent_at
		FROM drafts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get draft %d: %w", id, err)
	}
	return row.toCore(), nil
}

func (r *sqlRepo) ListDrafts(ctx context.Context, messageID int64, unsentOnly bool) ([]*core.Draft, error) {
	query := `
		SELECT id, message_id, text, confidence, style, created_at, approved_at, sent_at
		FROM drafts WHERE message_id = ?`
	if unsentOnly {
		query += ` AND sent_at IS NULL`
	}
	query += ` ORDER BY id`

	var rows []draftRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, messageID); err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	out := make([]*core.Draft, len(rows))
	for i, row := range rows {
		out[i] = row.toCore()
	}
	return out, nil
}

func (r *sqlRepo) ClaimDraft(ctx context.Context, id int64, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE drafts SET approved_at = ?
		WHERE id = ? AND approved_at IS NULL AND sent_at IS NULL`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to claim draft %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	d, err := r.GetDraft(ctx, id)
	if err != nil {
		return err
	}
	if d.Sent() {
		return core.ErrDraftAlreadySent
	}
	return core.ErrDraftClaimed
}

func (r *sqlRepo) ReleaseDraft(ctx context.Context, id int64) error {
	if _, err := r.q.ExecContext(ctx, `
		UPDATE drafts SET approved_at = NULL
		WHERE id = ? AND sent_at IS NULL`, id); err != nil {
		return fmt.Errorf("failed to release draft %d: %w", id, err)
	}
	return nil
}

func (r *sqlRepo) MarkDraftSent(ctx context.Context, id int64, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE drafts SET approved_at = COALESCE(approved_at, ?), sent_at = ?
		WHERE id = ? AND sent_at IS NULL`, at.UTC(), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark draft %d sent: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := r.GetDraft(ctx, id); err != nil {
		return err
	}
	return core.ErrDraftAlreadySent
}

func (r *sqlRepo) AddFeedback(ctx context.Context, fb *core.Feedback) error {
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}
	snapshot := string(fb.ClassificationSnapshot)
	if snapshot == "" {
		snapshot = "null"
	}
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO feedback (
			message_id, user_id, is_spam, sender_domain, subject_length,
			body_length, has_links, classification_snapshot, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fb.MessageID, fb.UserID, fb.IsSpam, fb.SenderDomain, fb.SubjectLength,
		fb.BodyLength, fb.HasLinks, snapshot, fb.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}
	fb.ID, err = res.LastInsertId()
	return err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
