package factory

import (
	"github.com/mikey/mail-triage/internal/adapters/imap"
	"github.com/mikey/mail-triage/internal/adapters/mail"
	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/ports"
	"github.com/mikey/mail-triage/internal/utils"
	"go.uber.org/zap"
)

// MailFactory creates the mail transports: SMTP ingest, the IMAP source
// and the reply sender
type MailFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	store         core.Store
	textProcessor *utils.TextProcessor
}

// NewMailFactory creates a new mail factory
func NewMailFactory(cfg *config.Config, logger *zap.Logger, store core.Store, textProcessor *utils.TextProcessor) *MailFactory {
	return &MailFactory{
		cfg:           cfg,
		logger:        logger,
		store:         store,
		textProcessor: textProcessor,
	}
}

// CreateIngest creates the SMTP content filter, or nil when disabled
func (f *MailFactory) CreateIngest(processor mail.Processor) (ports.Ingestor, error) {
	ic, err := f.cfg.GetIngest()
	if err != nil {
		return nil, err
	}
	if !ic.Enabled {
		f.logger.Info("SMTP ingest disabled")
		return nil, nil
	}

	return mail.NewIngest(f.store, processor, f.textProcessor, mail.IngestOptions{
		ListenAddr:      ic.ListenAddress,
		Domain:          ic.Domain,
		MaxMessageBytes: ic.MaxMessageBytes,
		RelayAddr:       ic.RelayAddress,
		BlockSpam:       ic.BlockSpam,
		ProcessTimeout:  ic.ProcessTimeout,
	}, f.logger), nil
}

// CreateSource creates the IMAP message source, or nil when disabled
func (f *MailFactory) CreateSource() ports.MessageSource {
	mc := f.cfg.GetIMAP()
	if !mc.Enabled {
		return nil
	}

	return imap.NewSource(imap.Options{
		Addr:     mc.Address,
		Username: mc.Username,
		Password: mc.Password,
		Email:    f.cfg.GetString("triage.owner"),
		TLS:      mc.TLS,
		Inbox:    mc.Inbox,
		Sent:     mc.Sent,
	}, f.textProcessor, f.logger)
}

// CreateReplySender creates the relay for approved drafts, or nil when no
// relay is configured
func (f *MailFactory) CreateReplySender() ports.ReplySender {
	rc := f.cfg.GetRelay()
	if rc.Address == "" {
		return nil
	}

	return mail.NewReplySender(mail.SenderOptions{
		Addr:     rc.Address,
		Username: rc.Username,
		Password: rc.Password,
		TLS:      rc.TLS,
		StartTLS: rc.StartTLS,
	}, f.logger)
}
