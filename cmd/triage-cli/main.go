package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/di"
	"github.com/mikey/mail-triage/internal/factory"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &di.CLIFlags{}

	root := &cobra.Command{
		Use:           "triage-cli",
		Short:         "Classify, summarize and reply to mail from the command line",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigFile, "config", "", "Path to config file (default: search standard locations)")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "Enable verbose logging")
	pf.BoolVar(&flags.JSONLog, "json-log", false, "Output logs in JSON format")
	pf.StringVar(&flags.Provider, "provider", "", "Oracle provider (openai, gemini, bedrock)")
	pf.StringVar(&flags.StoreType, "store", "", "Store type (memory, sqlite, mysql)")
	pf.StringVar(&flags.SQLitePath, "sqlite-path", "", "SQLite database path")
	pf.StringVar(&flags.Owner, "owner", "", "Owner email address")

	app := &app{flags: flags}
	root.AddCommand(
		app.classifyCmd(),
		app.runCmd(),
		app.syncCmd(),
		app.pollCmd(),
		app.reclassifyCmd(),
		app.draftCmd(),
		app.approveCmd(),
		app.feedbackCmd(),
		app.readCmd(),
		app.inboxCmd(),
		app.spamCmd(),
		app.showCmd(),
		app.statsCmd(),
		app.statusCmd(),
	)
	return root
}

// app builds a container per command so only the pieces a command asks
// for are constructed
type app struct {
	flags *di.CLIFlags
}

func (a *app) invoke(fn any) error {
	container, err := di.BuildCLIContainer(a.flags)
	if err != nil {
		return fmt.Errorf("failed to build dependency container: %w", err)
	}
	return container.Invoke(fn)
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

// owner resolves the configured owner, creating the user on first use
func owner(ctx context.Context, pf *factory.PipelineFactory, store core.Store) (*core.User, error) {
	user, err := pf.EnsureOwner(ctx, store)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.New("no owner configured: set triage.owner or --owner")
	}
	return user, nil
}

func parseID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, arg)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
