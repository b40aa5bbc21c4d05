package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	gomail "github.com/emersion/go-message/mail"
	"github.com/mikey/mail-triage/internal/core"
	"go.uber.org/zap"
)

// SenderOptions configures the outgoing relay
type SenderOptions struct {
	Addr     string
	Username string
	Password string
	// TLS dials with implicit TLS; otherwise STARTTLS is used when StartTLS is set
	TLS      bool
	StartTLS bool
}

// ReplySender sends approved drafts through an SMTP relay
type ReplySender struct {
	opts   SenderOptions
	logger *zap.Logger
}

// NewReplySender creates a reply sender
func NewReplySender(opts SenderOptions, logger *zap.Logger) *ReplySender {
	return &ReplySender{opts: opts, logger: logger}
}

// SendReply sends draft to the sender of msg from the given address
func (s *ReplySender) SendReply(ctx context.Context, msg *core.Message, draft *core.Draft, from string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	to, err := gomail.ParseAddress(msg.From)
	if err != nil {
		return fmt.Errorf("failed to parse reply address %q: %w", msg.From, err)
	}

	data, err := composeReply(msg, draft, from, to)
	if err != nil {
		return err
	}

	c, err := s.dial()
	if err != nil {
		return err
	}
	defer c.Close()

	if s.opts.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.opts.Username, s.opts.Password)); err != nil {
			return fmt.Errorf("SMTP auth failed: %w", err)
		}
	}
	if err := c.Mail(from, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}
	if err := c.Rcpt(to.Address, nil); err != nil {
		return fmt.Errorf("RCPT TO failed: %w", err)
	}
	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return fmt.Errorf("failed to write reply: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}
	if err := c.Quit(); err != nil {
		s.logger.Warn("QUIT command failed", zap.Error(err))
	}

	s.logger.Info("Reply sent",
		zap.Int64("message_id", msg.ID),
		zap.Int64("draft_id", draft.ID),
		zap.String("to", to.Address))
	return nil
}

func (s *ReplySender) dial() (*smtp.Client, error) {
	host, _, err := net.SplitHostPort(s.opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("invalid relay address %q: %w", s.opts.Addr, err)
	}
	tlsConfig := &tls.Config{ServerName: host}

	var c *smtp.Client
	switch {
	case s.opts.TLS:
		c, err = smtp.DialTLS(s.opts.Addr, tlsConfig)
	case s.opts.StartTLS:
		c, err = smtp.DialStartTLS(s.opts.Addr, tlsConfig)
	default:
		c, err = smtp.Dial(s.opts.Addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay %s: %w", s.opts.Addr, err)
	}
	return c, nil
}

func composeReply(msg *core.Message, draft *core.Draft, from string, to *gomail.Address) ([]byte, error) {
	var h gomail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*gomail.Address{{Address: from}})
	h.SetAddressList("To", []*gomail.Address{to})
	h.SetSubject(replySubject(msg.Subject))
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}
	if strings.Contains(msg.ExternalID, "@") {
		h.SetMsgIDList("In-Reply-To", []string{msg.ExternalID})
		refs := []string{msg.ExternalID}
		if msg.ThreadID != "" && msg.ThreadID != msg.ExternalID && strings.Contains(msg.ThreadID, "@") {
			refs = []string{msg.ThreadID, msg.ExternalID}
		}
		h.SetMsgIDList("References", refs)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := gomail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create reply writer: %w", err)
	}
	if _, err := w.Write([]byte(draft.Text)); err != nil {
		return nil, fmt.Errorf("failed to write reply body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish reply: %w", err)
	}
	return buf.Bytes(), nil
}

func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		return subject
	}
	return "Re: " + subject
}
