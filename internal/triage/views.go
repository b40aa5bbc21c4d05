package triage

import (
	"context"
	"fmt"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/inference"
)

// InboxFilter narrows the inbox view
type InboxFilter string

const (
	FilterAll        InboxFilter = ""
	FilterNeedsReply InboxFilter = "needs_reply"
	FilterHigh       InboxFilter = "high"
	FilterNormal     InboxFilter = "normal"
	FilterLow        InboxFilter = "low"
)

// Valid reports whether f is a known filter
func (f InboxFilter) Valid() bool {
	switch f {
	case FilterAll, FilterNeedsReply, FilterHigh, FilterNormal, FilterLow:
		return true
	}
	return false
}

// MessageView is a message with its current inferences
type MessageView struct {
	Message        *core.Message
	Classification *core.Classification
	Summary        *core.Summary
	// NeedsReply is false once the owner has replied, whatever the action
	NeedsReply bool
}

// Page is one page of a listing
type Page struct {
	Items   []MessageView
	Total   int
	Limit   int
	Offset  int
	HasMore bool
}

// Detail is a message with its unsent drafts
type Detail struct {
	MessageView
	Drafts []*core.Draft
}

// Stats counts a user's messages by triage outcome
type Stats struct {
	Total         int
	Classified    int
	HighPriority  int
	NeedsReply    int
	Spam          int
	PotentialSpam int
	Drafts        int
}

// BackgroundStatus reports classification progress
type BackgroundStatus struct {
	Unprocessed  int
	Total        int
	Processed    int
	IsProcessing bool
}

// Views serves read-only presentations of triage results
type Views struct {
	store core.Store
	cache *inference.Cache
}

// NewViews creates the view service
func NewViews(store core.Store, cache *inference.Cache) *Views {
	return &Views{store: store, cache: cache}
}

func (v *Views) view(ctx context.Context, msg *core.Message) (MessageView, error) {
	snap, err := v.cache.Snapshot(ctx, msg.ID)
	if err != nil {
		return MessageView{}, err
	}
	mv := MessageView{
		Message:        msg,
		Classification: snap.Classification,
		Summary:        snap.Summary,
	}
	if snap.Classification != nil && snap.Classification.Action == core.ActionNeedsReply {
		mv.NeedsReply = msg.RepliedAt == nil
	}
	return mv, nil
}

func (v *Views) views(ctx context.Context, userID int64) ([]MessageView, error) {
	msgs, err := v.store.ListMessages(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for user %d: %w", userID, err)
	}
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		mv, err := v.view(ctx, m)
		if err != nil {
			return nil, err
		}
		out = append(out, mv)
	}
	return out, nil
}

func paginate(items []MessageView, limit, offset int) *Page {
	total := len(items)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	page := items[offset:end]
	return &Page{
		Items:   page,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(page) < total,
	}
}

// Inbox lists non-spam messages newest first. Potential spam stays visible.
// The needs_reply filter also includes messages not yet classified.
func (v *Views) Inbox(ctx context.Context, userID int64, filter InboxFilter, limit, offset int) (*Page, error) {
	if !filter.Valid() {
		return nil, fmt.Errorf("unknown inbox filter %q", filter)
	}
	all, err := v.views(ctx, userID)
	if err != nil {
		return nil, err
	}

	kept := make([]MessageView, 0, len(all))
	for _, mv := range all {
		cls := mv.Classification
		if cls != nil && cls.IsSpam {
			continue
		}
		switch filter {
		case FilterAll:
		case FilterNeedsReply:
			if cls != nil && !mv.NeedsReply {
				continue
			}
		default:
			if cls == nil || string(cls.Priority) != string(filter) {
				continue
			}
		}
		kept = append(kept, mv)
	}
	return paginate(kept, limit, offset), nil
}

// Spam lists messages in the spam or potential spam folder
func (v *Views) Spam(ctx context.Context, userID int64, spamType core.SpamType, limit, offset int) (*Page, error) {
	if spamType != core.SpamTypeSpam && spamType != core.SpamTypePotentialSpam {
		return nil, fmt.Errorf("unknown spam folder %q", spamType)
	}
	all, err := v.views(ctx, userID)
	if err != nil {
		return nil, err
	}

	kept := make([]MessageView, 0)
	for _, mv := range all {
		cls := mv.Classification
		if cls == nil {
			continue
		}
		if spamType == core.SpamTypeSpam && cls.IsSpam {
			kept = append(kept, mv)
		}
		if spamType == core.SpamTypePotentialSpam && cls.SpamType == core.SpamTypePotentialSpam {
			kept = append(kept, mv)
		}
	}
	return paginate(kept, limit, offset), nil
}

// Detail returns a message with its current inferences and unsent drafts
func (v *Views) Detail(ctx context.Context, messageID int64) (*Detail, error) {
	msg, err := v.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load message %d: %w", messageID, err)
	}
	mv, err := v.view(ctx, msg)
	if err != nil {
		return nil, err
	}
	drafts, err := v.store.ListDrafts(ctx, messageID, true)
	if err != nil {
		return nil, err
	}
	return &Detail{MessageView: mv, Drafts: drafts}, nil
}

// Stats counts a user's messages by triage outcome
func (v *Views) Stats(ctx context.Context, userID int64) (*Stats, error) {
	all, err := v.views(ctx, userID)
	if err != nil {
		return nil, err
	}

	st := &Stats{Total: len(all)}
	for _, mv := range all {
		drafts, err := v.store.ListDrafts(ctx, mv.Message.ID, true)
		if err != nil {
			return nil, err
		}
		st.Drafts += len(drafts)

		cls := mv.Classification
		if cls == nil {
			continue
		}
		st.Classified++
		if cls.Priority == core.PriorityHigh {
			st.HighPriority++
		}
		if mv.NeedsReply {
			st.NeedsReply++
		}
		if cls.IsSpam {
			st.Spam++
		}
		if cls.SpamType == core.SpamTypePotentialSpam {
			st.PotentialSpam++
		}
	}
	return st, nil
}

// BackgroundStatus reports how many of a user's messages await classification
func (v *Views) BackgroundStatus(ctx context.Context, userID int64) (*BackgroundStatus, error) {
	unprocessed, err := v.store.CountUnclassified(ctx, userID)
	if err != nil {
		return nil, err
	}
	total, err := v.store.CountMessages(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &BackgroundStatus{
		Unprocessed:  unprocessed,
		Total:        total,
		Processed:    total - unprocessed,
		IsProcessing: unprocessed > 0,
	}, nil
}
