package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/domainlist"
	"go.uber.org/zap"
)

// Producer is recorded on classifications the rule engine decides
const Producer = "rules_v1"

// threadAddressThreshold is the number of distinct addresses a body must
// exceed before a question is treated as a long thread needing a reply.
const threadAddressThreshold = 4

var emailPattern = regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`)

// Input is the normalized view of a message the rules inspect
type Input struct {
	Subject string
	Body    string
	Sender  string

	subjectLower string
	bodyLower    string
}

func newInput(subject, body, sender string) *Input {
	return &Input{
		Subject:      subject,
		Body:         body,
		Sender:       sender,
		subjectLower: strings.ToLower(subject),
		bodyLower:    strings.ToLower(body),
	}
}

// containsAny returns the first keyword found in the subject or body
func (in *Input) containsAny(keywords []string) (string, bool) {
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(in.subjectLower, kw) || strings.Contains(in.bodyLower, kw) {
			return kw, true
		}
	}
	return "", false
}

// Rule is one predicate in the ordered rule list
type Rule struct {
	Name string
	Eval func(in *Input) *core.Classification
}

// Engine evaluates rules in order and returns the first match
type Engine struct {
	rules  []Rule
	logger *zap.Logger
}

// NewEngine builds the rule list from a lexicon
func NewEngine(lex Lexicon, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	timeSensitive := make([]*regexp.Regexp, 0, len(lex.TimeSensitivePatterns))
	for _, p := range lex.TimeSensitivePatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("failed to compile time-sensitive pattern %q: %w", p, err)
		}
		timeSensitive = append(timeSensitive, re)
	}

	promo := domainlist.NewMatcher("promo_senders", lex.PromoSenderPatterns, logger)
	retail := domainlist.NewMatcher("retail_domains", lex.RetailMarketingDomains, logger)
	allow := domainlist.NewMatcher("high_priority_domains", lex.HighPriorityDomains, logger)
	block := domainlist.NewMatcher("spam_domains", lex.SpamDomains, logger)

	rules := []Rule{
		{
			Name: "promo_sender",
			Eval: func(in *Input) *core.Classification {
				pattern, ok := promo.Match(in.Sender)
				if !ok {
					return nil
				}
				return promotional(fmt.Sprintf("Promotional sender pattern: %s", pattern))
			},
		},
		{
			Name: "retail_domain",
			Eval: func(in *Input) *core.Classification {
				domain, ok := retail.Match(in.Sender)
				if !ok {
					return nil
				}
				if _, ok := in.containsAny(lex.TransactionalPhrases); ok {
					return notSpam(core.PriorityLow, core.ActionReadOnly, "Transactional email from retailer")
				}
				return promotional(fmt.Sprintf("Marketing email from retail domain: %s", domain))
			},
		},
		{
			Name: "high_priority_domain",
			Eval: func(in *Input) *core.Classification {
				if domain, ok := allow.Match(in.Sender); ok {
					return notSpam(core.PriorityHigh, core.ActionNeedsReply, fmt.Sprintf("High priority domain: %s", domain))
				}
				return nil
			},
		},
		{
			Name: "high_priority_keyword",
			Eval: func(in *Input) *core.Classification {
				if kw, ok := in.containsAny(lex.HighPriorityKeywords); ok {
					return notSpam(core.PriorityHigh, core.ActionNeedsReply, fmt.Sprintf("High priority keyword: %s", kw))
				}
				return nil
			},
		},
		{
			Name: "scheduling_keyword",
			Eval: func(in *Input) *core.Classification {
				if kw, ok := in.containsAny(lex.SchedulingKeywords); ok {
					return notSpam(core.PriorityHigh, core.ActionNeedsReply, fmt.Sprintf("Scheduling/appointment keyword: %s", kw))
				}
				return nil
			},
		},
		{
			Name: "time_sensitive",
			Eval: func(in *Input) *core.Classification {
				for _, re := range timeSensitive {
					if re.MatchString(in.Subject) || re.MatchString(in.Body) {
						return notSpam(core.PriorityHigh, core.ActionNeedsReply, "Time-sensitive request detected")
					}
				}
				return nil
			},
		},
		{
			Name: "spam_keyword",
			Eval: func(in *Input) *core.Classification {
				if kw, ok := in.containsAny(lex.SpamKeywords); ok {
					return spam(fmt.Sprintf("Spam keyword: %s", kw))
				}
				return nil
			},
		},
		{
			Name: "spam_domain",
			Eval: func(in *Input) *core.Classification {
				if domain, ok := block.Match(in.Sender); ok {
					return spam(fmt.Sprintf("Spam domain: %s", domain))
				}
				return nil
			},
		},
		{
			Name: "long_thread_question",
			Eval: func(in *Input) *core.Classification {
				if !strings.Contains(in.Subject, "?") && !strings.Contains(in.Body, "?") {
					return nil
				}
				if distinctAddresses(in.Body) > threadAddressThreshold {
					return notSpam(core.PriorityNormal, core.ActionNeedsReply, "Long thread with question")
				}
				return nil
			},
		},
	}

	return &Engine{rules: rules, logger: logger}, nil
}

// Evaluate returns the result of the first matching rule, or nil when no
// rule applies.
func (e *Engine) Evaluate(subject, body, sender string) *core.Classification {
	in := newInput(subject, body, sender)
	for _, r := range e.rules {
		if c := r.Eval(in); c != nil {
			e.logger.Debug("Rule matched",
				zap.String("rule", r.Name),
				zap.String("sender", sender),
				zap.Strings("reasons", c.Reasons))
			return c
		}
	}
	return nil
}

// RuleNames lists the rules in evaluation order
func (e *Engine) RuleNames() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name
	}
	return names
}

func distinctAddresses(body string) int {
	seen := make(map[string]struct{})
	for _, m := range emailPattern.FindAllString(body, -1) {
		seen[strings.ToLower(m)] = struct{}{}
	}
	return len(seen)
}

func notSpam(p core.Priority, a core.Action, reason string) *core.Classification {
	return &core.Classification{
		Priority: p,
		IsSpam:   false,
		SpamType: core.SpamTypeNotSpam,
		Action:   a,
		Reasons:  []string{reason},
	}
}

func promotional(reason string) *core.Classification {
	return &core.Classification{
		Priority: core.PriorityLow,
		IsSpam:   true,
		SpamType: core.SpamTypePromotional,
		Action:   core.ActionArchive,
		Reasons:  []string{reason},
	}
}

func spam(reason string) *core.Classification {
	return &core.Classification{
		Priority: core.PriorityLow,
		IsSpam:   true,
		SpamType: core.SpamTypeSpam,
		Action:   core.ActionArchive,
		Reasons:  []string{reason},
	}
}
