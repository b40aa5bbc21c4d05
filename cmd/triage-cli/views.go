package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/factory"
	"github.com/mikey/mail-triage/internal/triage"
	"github.com/spf13/cobra"
)

type pageFlags struct {
	limit  int
	offset int
	json   bool
}

func (p *pageFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&p.limit, "limit", 20, "Page size (0 = everything)")
	cmd.Flags().IntVar(&p.offset, "offset", 0, "Items to skip")
	cmd.Flags().BoolVar(&p.json, "json", false, "Print JSON instead of a table")
}

func (a *app) inboxCmd() *cobra.Command {
	var (
		filter string
		pf     pageFlags
	)

	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "List non-spam messages, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.invoke(func(f *factory.PipelineFactory, store core.Store, views *triage.Views) error {
				defer store.Close()
				ctx := context.Background()
				user, err := owner(ctx, f, store)
				if err != nil {
					return err
				}
				page, err := views.Inbox(ctx, user.ID, triage.InboxFilter(filter), pf.limit, pf.offset)
				if err != nil {
					return err
				}
				return printPage(cmd.OutOrStdout(), page, pf.json)
			})
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "needs_reply, high, normal or low")
	pf.register(cmd)
	return cmd
}

func (a *app) spamCmd() *cobra.Command {
	var (
		potential bool
		pf        pageFlags
	)

	cmd := &cobra.Command{
		Use:   "spam",
		Short: "List the spam folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			folder := core.SpamTypeSpam
			if potential {
				folder = core.SpamTypePotentialSpam
			}
			return a.invoke(func(f *factory.PipelineFactory, store core.Store, views *triage.Views) error {
				defer store.Close()
				ctx := context.Background()
				user, err := owner(ctx, f, store)
				if err != nil {
					return err
				}
				page, err := views.Spam(ctx, user.ID, folder, pf.limit, pf.offset)
				if err != nil {
					return err
				}
				return printPage(cmd.OutOrStdout(), page, pf.json)
			})
		},
	}
	cmd.Flags().BoolVar(&potential, "potential", false, "List potential spam instead")
	pf.register(cmd)
	return cmd
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <message-id>",
		Short: "Show a message with its classification, summary and drafts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "message")
			if err != nil {
				return err
			}
			return a.invoke(func(store core.Store, views *triage.Views) error {
				defer store.Close()
				d, err := views.Detail(context.Background(), id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), d)
			})
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count the owner's messages by triage outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.invoke(func(f *factory.PipelineFactory, store core.Store, views *triage.Views) error {
				defer store.Close()
				ctx := context.Background()
				user, err := owner(ctx, f, store)
				if err != nil {
					return err
				}
				st, err := views.Stats(ctx, user.ID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report how many messages still await classification",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.invoke(func(f *factory.PipelineFactory, store core.Store, views *triage.Views) error {
				defer store.Close()
				ctx := context.Background()
				user, err := owner(ctx, f, store)
				if err != nil {
					return err
				}
				st, err := views.BackgroundStatus(ctx, user.ID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}

func printPage(w io.Writer, page *triage.Page, asJSON bool) error {
	if asJSON {
		return printJSON(w, page)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRECEIVED\tPRIORITY\tACTION\tFROM\tSUBJECT")
	for _, mv := range page.Items {
		priority, action := "-", "-"
		if mv.Classification != nil {
			priority = string(mv.Classification.Priority)
			action = string(mv.Classification.Action)
			if mv.Classification.Action == core.ActionNeedsReply && !mv.NeedsReply {
				action = "replied"
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			mv.Message.ID,
			mv.Message.ReceivedAt.Local().Format("2006-01-02 15:04"),
			priority,
			action,
			clip(mv.Message.From, 32),
			clip(mv.Message.Subject, 60))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d-%d of %d\n", page.Offset+min(1, len(page.Items)), page.Offset+len(page.Items), page.Total)
	return err
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
