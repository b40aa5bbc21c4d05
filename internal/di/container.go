package di

import (
	"context"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/factory"
	"github.com/mikey/mail-triage/internal/features"
	"github.com/mikey/mail-triage/internal/inference"
	"github.com/mikey/mail-triage/internal/logging"
	"github.com/mikey/mail-triage/internal/oracle"
	"github.com/mikey/mail-triage/internal/ports"
	"github.com/mikey/mail-triage/internal/rules"
	"github.com/mikey/mail-triage/internal/scheduler"
	"github.com/mikey/mail-triage/internal/scoring"
	"github.com/mikey/mail-triage/internal/triage"
	"github.com/mikey/mail-triage/internal/utils"
)

// BuildContainer creates the container for the daemon
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	if err := providePipeline(container); err != nil {
		return nil, err
	}
	return container, nil
}

// providePipeline registers everything downstream of *config.Config and
// *zap.Logger
func providePipeline(container *dig.Container) error {
	providers := []any{
		utils.NewTextProcessor,

		// Factories
		factory.NewOracleFactory,
		factory.NewStoreFactory,
		factory.NewMailFactory,
		factory.NewPipelineFactory,

		// Store
		func(f *factory.StoreFactory) (core.Store, error) {
			return f.CreateStore()
		},

		// Oracle
		func(f *factory.OracleFactory) (oracle.Completer, error) {
			return f.CreateCompleter(context.Background())
		},
		func(f *factory.OracleFactory, completer oracle.Completer) (core.Oracle, error) {
			return f.CreateOracle(completer)
		},

		// Rules, features, score model
		func(f *factory.PipelineFactory) (*rules.Engine, error) {
			return f.CreateRuleEngine()
		},
		func(f *factory.PipelineFactory) (*features.Extractor, error) {
			return f.CreateExtractor()
		},
		func(extractor *features.Extractor, store core.Store, logger *zap.Logger) *scoring.Model {
			return scoring.NewModel(extractor, store, logger)
		},

		// Inference cache and triage services
		inference.NewCache,
		triage.NewService,
		triage.NewFeedback,
		triage.NewViews,
		func(f *factory.MailFactory) ports.ReplySender {
			return f.CreateReplySender()
		},
		func(
			store core.Store,
			cache *inference.Cache,
			o core.Oracle,
			sender ports.ReplySender,
			f *factory.PipelineFactory,
			logger *zap.Logger,
		) *triage.Drafts {
			return triage.NewDrafts(store, cache, o, sender, f.Signature(), logger)
		},

		// Scheduling
		func(store core.Store, service *triage.Service, logger *zap.Logger) *scheduler.Scheduler {
			return scheduler.New(store, service, logger)
		},
		scheduler.NewTasks,
		func(f *factory.MailFactory) ports.MessageSource {
			return f.CreateSource()
		},
		func(
			store core.Store,
			source ports.MessageSource,
			sched *scheduler.Scheduler,
			tasks *scheduler.Tasks,
			f *factory.PipelineFactory,
			logger *zap.Logger,
		) (*scheduler.Syncer, error) {
			opts, err := f.SyncOptions()
			if err != nil {
				return nil, err
			}
			return scheduler.NewSyncer(store, source, sched, tasks, opts, logger), nil
		},
		func(syncer *scheduler.Syncer, cfg *config.Config, logger *zap.Logger) (*scheduler.Poller, error) {
			tc, err := cfg.GetTriage()
			if err != nil {
				return nil, err
			}
			return scheduler.NewPoller(syncer, tc.PollInterval, logger), nil
		},

		// SMTP ingest
		func(f *factory.MailFactory, service *triage.Service) (ports.Ingestor, error) {
			return f.CreateIngest(service)
		},
	}

	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			return err
		}
	}
	return nil
}
