package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mikey/mail-triage/internal/adapters/mail"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/factory"
	"github.com/mikey/mail-triage/internal/ports"
	"github.com/mikey/mail-triage/internal/scheduler"
	"github.com/mikey/mail-triage/internal/triage"
	"github.com/mikey/mail-triage/internal/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (a *app) classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify [file]",
		Short: "Store and classify one RFC 5322 message read from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open input file: %w", err)
				}
				defer f.Close()
				in = f
			}
			raw, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("failed to read message: %w", err)
			}

			return a.invoke(func(pf *factory.PipelineFactory, store core.Store, tp *utils.TextProcessor, service *triage.Service) error {
				defer store.Close()
				ctx, cancel := signalContext(cmd)
				defer cancel()

				user, err := owner(ctx, pf, store)
				if err != nil {
					return err
				}
				parsed, err := mail.Parse(raw)
				if err != nil {
					return err
				}
				msg := mail.ToMessage(parsed, raw, tp)
				msg.UserID = user.ID
				if _, err := store.SaveMessage(ctx, msg); err != nil {
					return err
				}

				cls, err := service.Process(ctx, msg)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), struct {
					MessageID      int64
					Classification *core.Classification
				}{msg.ID, cls})
			})
		},
	}
}

func (a *app) runCmd() *cobra.Command {
	var opts scheduler.RunOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process the owner's backlog of unclassified or unsummarized messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.invoke(func(pf *factory.PipelineFactory, store core.Store, sched *scheduler.Scheduler) error {
				defer store.Close()
				ctx, cancel := signalContext(cmd)
				defer cancel()

				user, err := owner(ctx, pf, store)
				if err != nil {
					return err
				}
				res, err := sched.Run(ctx, user.ID, opts)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().IntVar(&opts.MaxCount, "max", 0, "Stop after this many messages succeed (0 = no limit)")
	cmd.Flags().IntVar(&opts.TargetNonSpam, "target", 0, "Stop after this many non-spam messages (0 = no limit)")
	return cmd
}

func (a *app) syncCmd() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch recent mail from IMAP and process it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.invoke(func(pf *factory.PipelineFactory, store core.Store, syncer *scheduler.Syncer, tasks *scheduler.Tasks, logger *zap.Logger) error {
				defer store.Close()
				ctx, cancel := signalContext(cmd)
				defer cancel()

				user, err := owner(ctx, pf, store)
				if err != nil {
					return err
				}
				res, err := syncer.Sync(ctx, user.ID)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if res.TaskID == "" {
					return nil
				}

				if !wait {
					syncer.Cancel(user.ID)
					tasks.Wait()
					return nil
				}
				logger.Info("Continuing in the background; interrupt to stop", zap.String("task_id", res.TaskID))
				done := make(chan struct{})
				go func() {
					tasks.Wait()
					close(done)
				}()
				select {
				case <-done:
				case <-ctx.Done():
					syncer.Cancel(user.ID)
					<-done
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", true, "Wait for the background continuation of a first sync")
	return cmd
}

func (a *app) pollCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Periodically fetch and process mail for every user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.invoke(func(pf *factory.PipelineFactory, store core.Store, poller *scheduler.Poller, source ports.MessageSource) error {
				defer store.Close()
				ctx, cancel := signalContext(cmd)
				defer cancel()

				if _, err := pf.EnsureOwner(ctx, store); err != nil {
					return err
				}
				if once {
					res, err := poller.PollOnce(ctx)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), res)
				}

				if source == nil {
					return scheduler.ErrNoSource
				}
				if err := poller.Start(); err != nil {
					return err
				}
				<-ctx.Done()
				return poller.Stop()
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run a single cycle and exit")
	return cmd
}

func (a *app) reclassifyCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "reclassify [message-id]",
		Short: "Drop a message's classification and score and process it again",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("give a message id or --all")
			}
			return a.invoke(func(pf *factory.PipelineFactory, store core.Store, service *triage.Service) error {
				defer store.Close()
				ctx, cancel := signalContext(cmd)
				defer cancel()

				if all {
					user, err := owner(ctx, pf, store)
					if err != nil {
						return err
					}
					res, err := service.ReclassifyAll(ctx, user.ID)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), res)
				}

				id, err := parseID(args[0], "message")
				if err != nil {
					return err
				}
				cls, err := service.Reclassify(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cls)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Reclassify all of the owner's messages")
	return cmd
}

func (a *app) draftCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "draft <message-id>",
		Short: "Generate reply drafts for a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "message")
			if err != nil {
				return err
			}
			return a.invoke(func(store core.Store, drafts *triage.Drafts) error {
				defer store.Close()
				ctx, cancel := signalContext(cmd)
				defer cancel()

				out, created, err := drafts.Generate(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), struct {
					Created bool
					Drafts  []*core.Draft
				}{created, out})
			})
		},
	}
}

func (a *app) approveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <draft-id>",
		Short: "Send a draft through the configured relay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "draft")
			if err != nil {
				return err
			}
			return a.invoke(func(store core.Store, drafts *triage.Drafts) error {
				defer store.Close()
				ctx, cancel := signalContext(cmd)
				defer cancel()

				d, err := drafts.Approve(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), d)
			})
		},
	}
}

func (a *app) feedbackCmd() *cobra.Command {
	var spam, notSpam bool

	cmd := &cobra.Command{
		Use:   "feedback <message-id> (--spam | --not-spam)",
		Short: "Record a spam verdict for a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if spam == notSpam {
				return errors.New("exactly one of --spam or --not-spam is required")
			}
			id, err := parseID(args[0], "message")
			if err != nil {
				return err
			}
			return a.invoke(func(store core.Store, feedback *triage.Feedback) error {
				defer store.Close()
				fb, err := feedback.Record(context.Background(), id, spam)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), fb)
			})
		},
	}
	cmd.Flags().BoolVar(&spam, "spam", false, "Mark as spam")
	cmd.Flags().BoolVar(&notSpam, "not-spam", false, "Mark as not spam")
	return cmd
}

func (a *app) readCmd() *cobra.Command {
	var unread bool

	cmd := &cobra.Command{
		Use:   "read <message-id>",
		Short: "Mark a message read or unread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "message")
			if err != nil {
				return err
			}
			return a.invoke(func(store core.Store) error {
				defer store.Close()
				return store.SetRead(context.Background(), id, !unread)
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "Mark unread instead")
	return cmd
}
