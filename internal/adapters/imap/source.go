// Package imap fetches recent mail from an IMAP account
package imap

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/mikey/mail-triage/internal/adapters/mail"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/utils"
	"go.uber.org/zap"
)

// ErrWrongAccount is returned when asked for mail of a user the source
// has no credentials for
var ErrWrongAccount = errors.New("mailbox belongs to another account")

// Options configures the IMAP account
type Options struct {
	Addr     string
	Username string
	Password string
	// Email is the owner address; empty accepts any user
	Email string
	TLS   bool
	Inbox string
	// Sent is fetched as well when set; its messages are labelled SENT
	Sent string
}

// Source is a MessageSource backed by one IMAP account
type Source struct {
	opts   Options
	tp     *utils.TextProcessor
	logger *zap.Logger
}

// NewSource creates an IMAP source
func NewSource(opts Options, tp *utils.TextProcessor, logger *zap.Logger) *Source {
	if opts.Inbox == "" {
		opts.Inbox = "INBOX"
	}
	return &Source{opts: opts, tp: tp, logger: logger}
}

// FetchRecent returns the newest limit messages across the inbox and, when
// configured, the sent folder
func (s *Source) FetchRecent(ctx context.Context, user *core.User, limit int) ([]*core.Message, error) {
	if s.opts.Email != "" && !strings.EqualFold(s.opts.Email, user.Email) {
		return nil, fmt.Errorf("%w: %s", ErrWrongAccount, user.Email)
	}
	if limit <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c, err := s.connect()
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Logout().Wait() }()

	msgs, err := s.fetchMailbox(ctx, c, s.opts.Inbox, limit, false)
	if err != nil {
		return nil, err
	}
	if s.opts.Sent != "" {
		sent, err := s.fetchMailbox(ctx, c, s.opts.Sent, limit, true)
		if err != nil {
			s.logger.Warn("Failed to fetch sent mailbox", zap.String("mailbox", s.opts.Sent), zap.Error(err))
		}
		msgs = append(msgs, sent...)
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].ReceivedAt.After(msgs[j].ReceivedAt)
	})
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	for _, m := range msgs {
		m.UserID = user.ID
	}

	s.logger.Debug("Fetched mail", zap.Int64("user_id", user.ID), zap.Int("count", len(msgs)))
	return msgs, nil
}

func (s *Source) connect() (*imapclient.Client, error) {
	var (
		c   *imapclient.Client
		err error
	)
	if s.opts.TLS {
		c, err = imapclient.DialTLS(s.opts.Addr, nil)
	} else {
		c, err = imapclient.DialStartTLS(s.opts.Addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP %s: %w", s.opts.Addr, err)
	}
	if err := c.Login(s.opts.Username, s.opts.Password).Wait(); err != nil {
		_ = c.Logout().Wait()
		return nil, fmt.Errorf("IMAP login failed for %s: %w", s.opts.Username, err)
	}
	return c, nil
}

func (s *Source) fetchMailbox(ctx context.Context, c *imapclient.Client, mailbox string, limit int, sent bool) ([]*core.Message, error) {
	data, err := c.Select(mailbox, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", mailbox, err)
	}
	start, stop, ok := recentRange(data.NumMessages, limit)
	if !ok {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var seqSet imap.SeqSet
	seqSet.AddRange(start, stop)

	section := &imap.FetchItemBodySection{Peek: true}
	bufs, err := c.Fetch(seqSet, &imap.FetchOptions{
		UID:          true,
		Flags:        true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", mailbox, err)
	}

	msgs := make([]*core.Message, 0, len(bufs))
	for _, buf := range bufs {
		raw := buf.FindBodySection(section)
		if raw == nil {
			continue
		}
		msg, err := s.toMessage(raw, buf.Flags, buf.InternalDate, sent)
		if err != nil {
			s.logger.Warn("Skipping unparseable message",
				zap.String("mailbox", mailbox), zap.Uint32("uid", uint32(buf.UID)), zap.Error(err))
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// recentRange returns the sequence numbers of the newest limit messages
func recentRange(total uint32, limit int) (uint32, uint32, bool) {
	if total == 0 || limit <= 0 {
		return 0, 0, false
	}
	start := uint32(1)
	if uint32(limit) < total {
		start = total - uint32(limit) + 1
	}
	return start, total, true
}

func (s *Source) toMessage(raw []byte, flags []imap.Flag, internalDate time.Time, sent bool) (*core.Message, error) {
	parsed, err := mail.Parse(raw)
	if err != nil {
		return nil, err
	}
	if parsed.Date.IsZero() && !internalDate.IsZero() {
		parsed.Date = internalDate.UTC()
	}

	msg := mail.ToMessage(parsed, raw, s.tp)
	for _, f := range flags {
		if f == imap.FlagSeen {
			msg.IsRead = true
		}
		msg.Labels = append(msg.Labels, strings.TrimPrefix(string(f), `\`))
	}
	if sent {
		msg.Labels = append(msg.Labels, core.LabelSent)
	}
	return msg, nil
}
