package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/di"
	"github.com/mikey/mail-triage/internal/factory"
	"github.com/mikey/mail-triage/internal/oracle"
	"github.com/mikey/mail-triage/internal/ports"
	"github.com/mikey/mail-triage/internal/scheduler"
	"go.uber.org/dig"
	"go.uber.org/zap"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

type daemon struct {
	dig.In

	Logger    *zap.Logger
	Store     core.Store
	Pipeline  *factory.PipelineFactory
	Completer oracle.Completer
	Ingest    ports.Ingestor
	Source    ports.MessageSource
	Poller    *scheduler.Poller
	Tasks     *scheduler.Tasks
}

// run is the main application function that gets all dependencies injected
func run(d daemon) error {
	logger := d.Logger
	defer logger.Sync()

	defer func() {
		if err := d.Store.Close(); err != nil {
			logger.Error("Failed to close store", zap.Error(err))
		}
	}()

	if _, err := d.Pipeline.EnsureOwner(context.Background(), d.Store); err != nil {
		return err
	}

	if d.Ingest == nil && d.Source == nil {
		return fmt.Errorf("nothing to do: enable ingest or imap")
	}

	if d.Ingest != nil {
		if err := d.Ingest.Start(); err != nil {
			logger.Error("Failed to start SMTP ingest", zap.Error(err))
			return err
		}
	}
	if d.Source != nil {
		if err := d.Poller.Start(); err != nil {
			logger.Error("Failed to start poller", zap.Error(err))
			return err
		}
	}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Shutting down...")

	if d.Source != nil {
		if err := d.Poller.Stop(); err != nil {
			logger.Error("Failed to stop poller", zap.Error(err))
		}
	}
	if d.Ingest != nil {
		if err := d.Ingest.Stop(); err != nil {
			logger.Error("Failed to stop SMTP ingest", zap.Error(err))
		}
	}

	// Cancel background syncs and wait for them to exit
	d.Tasks.Stop()

	if closer, ok := d.Completer.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close oracle client", zap.Error(err))
		}
	}

	logger.Info("Shutdown complete")
	return nil
}
