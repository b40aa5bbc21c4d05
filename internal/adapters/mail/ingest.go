package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/utils"
	"go.uber.org/zap"
)

// Triage headers added to relayed messages
const (
	HeaderPriority = "X-Triage-Priority"
	HeaderAction   = "X-Triage-Action"
	HeaderSpam     = "X-Triage-Spam"
	HeaderScore    = "X-Triage-Score"
	HeaderError    = "X-Triage-Error"
)

// Processor classifies a stored message
type Processor interface {
	Process(ctx context.Context, msg *core.Message) (*core.Classification, error)
}

// IngestOptions configures the SMTP content filter
type IngestOptions struct {
	ListenAddr      string
	Domain          string
	MaxMessageBytes int64
	// RelayAddr is where filtered mail is re-injected; empty disables relaying
	RelayAddr      string
	BlockSpam      bool
	ProcessTimeout time.Duration
}

// Ingest is an SMTP content filter. Messages addressed to known users are
// stored and classified, then relayed with triage headers.
type Ingest struct {
	store     core.Store
	processor Processor
	tp        *utils.TextProcessor
	opts      IngestOptions
	logger    *zap.Logger

	mu       sync.Mutex
	server   *smtp.Server
	listener net.Listener
	done     chan struct{}
}

// NewIngest creates the content filter
func NewIngest(store core.Store, processor Processor, tp *utils.TextProcessor, opts IngestOptions, logger *zap.Logger) *Ingest {
	if opts.Domain == "" {
		opts.Domain = "localhost"
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 30 * 1024 * 1024
	}
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = 60 * time.Second
	}
	return &Ingest{
		store:     store,
		processor: processor,
		tp:        tp,
		opts:      opts,
		logger:    logger,
	}
}

// Start listens on the configured address and serves in the background
func (in *Ingest) Start() error {
	l, err := net.Listen("tcp", in.opts.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", in.opts.ListenAddr, err)
	}

	s := smtp.NewServer(&backend{ingest: in})
	s.Domain = in.opts.Domain
	s.ReadTimeout = 30 * time.Second
	s.WriteTimeout = 30 * time.Second
	s.MaxMessageBytes = in.opts.MaxMessageBytes
	s.MaxRecipients = 50
	s.AllowInsecureAuth = true

	in.mu.Lock()
	in.server = s
	in.listener = l
	in.done = make(chan struct{})
	in.mu.Unlock()

	in.logger.Info("SMTP ingest starting", zap.String("address", l.Addr().String()))
	go func() {
		defer close(in.done)
		if err := s.Serve(l); err != nil && !errors.Is(err, smtp.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			in.logger.Error("SMTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the listening address once started
func (in *Ingest) Addr() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.listener == nil {
		return ""
	}
	return in.listener.Addr().String()
}

// Stop closes the listener and all open sessions
func (in *Ingest) Stop() error {
	in.mu.Lock()
	s, done := in.server, in.done
	in.server, in.listener = nil, nil
	in.mu.Unlock()

	if s == nil {
		return nil
	}
	err := s.Close()
	<-done
	return err
}

// deliver stores and classifies a message for every known recipient and
// returns the headers to add. The first recipient with a result decides
// the headers.
func (in *Ingest) deliver(sender string, recipients []string, raw []byte) ([]string, error) {
	parsed, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if parsed.From == "" {
		parsed.From = sender
	}

	ctx, cancel := context.WithTimeout(context.Background(), in.opts.ProcessTimeout)
	defer cancel()

	var headers []string
	for _, rcpt := range recipients {
		user, err := in.store.GetUserByEmail(ctx, rcpt)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve recipient %s: %w", rcpt, err)
		}

		msg := ToMessage(parsed, raw, in.tp)
		msg.UserID = user.ID
		if _, err := in.store.SaveMessage(ctx, msg); err != nil {
			return nil, fmt.Errorf("failed to store message for %s: %w", rcpt, err)
		}

		cls, err := in.processor.Process(ctx, msg)
		if err != nil {
			in.logger.Error("Failed to classify ingested message",
				zap.Int64("message_id", msg.ID),
				zap.String("sender", sender),
				zap.Error(err))
			if headers == nil {
				headers = []string{fmt.Sprintf("%s: %s", HeaderError, oneLine(err.Error()))}
			}
			continue
		}
		if headers == nil || strings.HasPrefix(headers[0], HeaderError) {
			headers = triageHeaders(cls)
			if cls.IsSpam && in.opts.BlockSpam {
				return headers, errSpam
			}
		}
	}
	return headers, nil
}

var errSpam = &smtp.SMTPError{
	Code:         550,
	EnhancedCode: smtp.EnhancedCode{5, 7, 1},
	Message:      "Rejected as spam",
}

func triageHeaders(cls *core.Classification) []string {
	score := 0.0
	if cls.MLSpamScore != nil {
		score = *cls.MLSpamScore
	}
	return []string{
		fmt.Sprintf("%s: %s", HeaderPriority, cls.Priority),
		fmt.Sprintf("%s: %s", HeaderAction, cls.Action),
		fmt.Sprintf("%s: %t", HeaderSpam, cls.IsSpam),
		fmt.Sprintf("%s: %.4f", HeaderScore, score),
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// relay re-injects a message into the mail server
func (in *Ingest) relay(sender string, recipients []string, data []byte) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	conn, err := net.DialTimeout("tcp", in.opts.RelayAddr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}
	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set connection deadline: %w", err)
	}

	c := smtp.NewClient(conn)
	defer c.Close()

	if err := c.Hello(hostname); err != nil {
		return fmt.Errorf("EHLO failed: %w", err)
	}
	if err := c.Mail(sender, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}

	accepted := 0
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt, nil); err != nil {
			in.logger.Warn("RCPT TO failed for recipient", zap.String("recipient", rcpt), zap.Error(err))
			continue
		}
		accepted++
	}
	if accepted == 0 {
		return fmt.Errorf("all recipients were rejected")
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return fmt.Errorf("failed to send message data: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := c.Quit(); err != nil {
		in.logger.Warn("QUIT command failed", zap.Error(err))
	}
	return nil
}

type backend struct {
	ingest *Ingest
}

func (b *backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{ingest: b.ingest}, nil
}

type session struct {
	ingest     *Ingest
	sender     string
	recipients []string
}

func (s *session) Reset() {
	s.sender = ""
	s.recipients = nil
}

func (s *session) Logout() error {
	return nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.sender = from
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.recipients = append(s.recipients, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	in := s.ingest
	raw, err := io.ReadAll(r)
	if err != nil {
		in.logger.Error("Failed to read message data", zap.Error(err))
		return err
	}

	headers, err := in.deliver(s.sender, s.recipients, raw)
	if errors.Is(err, errSpam) {
		in.logger.Info("Rejecting spam", zap.String("sender", s.sender))
		return err
	}
	if err != nil {
		in.logger.Error("Failed to ingest message", zap.String("sender", s.sender), zap.Error(err))
		headers = []string{fmt.Sprintf("%s: %s", HeaderError, oneLine(err.Error()))}
	}

	if in.opts.RelayAddr == "" {
		return nil
	}

	var out bytes.Buffer
	for _, h := range headers {
		out.WriteString(h)
		out.WriteString("\r\n")
	}
	out.Write(raw)

	if err := in.relay(s.sender, s.recipients, out.Bytes()); err != nil {
		in.logger.Error("Failed to relay message", zap.String("sender", s.sender), zap.Error(err))
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Relay temporarily unavailable",
		}
	}
	return nil
}
