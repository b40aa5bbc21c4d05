package rules

// Lexicon holds the data the rule engine matches against. Order matters:
// within each list the first hit determines the reason reported.
type Lexicon struct {
	PromoSenderPatterns    []string
	TransactionalPhrases   []string
	RetailMarketingDomains []string
	HighPriorityDomains    []string
	HighPriorityKeywords   []string
	SchedulingKeywords     []string
	TimeSensitivePatterns  []string
	SpamKeywords           []string
	SpamDomains            []string
}

// DefaultLexicon returns the built-in lexicon
func DefaultLexicon() Lexicon {
	return Lexicon{
		PromoSenderPatterns: []string{
			"no-reply@", "noreply@", "donotreply@", "do-not-reply@",
			"marketing@", "promo@", "promotions@", "deals@", "offers@",
			"newsletter@", "news@", "updates@", "notifications@",
			"automated@", "auto@", "bounce@", "mailer@",
		},
		TransactionalPhrases: []string{
			"order confirmation", "your order", "order #", "order number",
			"shipped", "tracking", "delivery", "has been delivered",
			"return", "refund", "receipt", "invoice", "payment",
			"account created", "password reset", "verify your",
		},
		RetailMarketingDomains: []string{
			"amazon.com", "amazonselling", "amazonbusiness", "primevideo",
			"walmart.com", "target.com", "ebay.com", "etsy.com",
			"bestbuy.com", "homedepot.com", "lowes.com", "costco.com",
			"wayfair.com", "overstock.com", "zappos.com", "chewy.com",
			"gap.com", "oldnavy.com", "bananarepublic.com", "jcrew.com",
			"nordstrom.com", "macys.com", "kohls.com", "tjmaxx.com",
			"zara.com", "hm.com", "uniqlo.com", "nike.com", "adidas.com",
			"groupon.com", "livingsocial.com", "retailmenot.com",
			"slickdeals.net", "dealnews.com", "woot.com",
			"mailchimp.com", "sendgrid.net", "constantcontact.com",
			"customeriomail.com", "sendpulse.com", "hubspot.com",
			"salesforce.com", "marketo.com", "eloqua.com", "exacttarget.com",
			"em.com", "eml.cc", ".marketing", ".promo", ".deals",
		},
		HighPriorityDomains: nil,
		HighPriorityKeywords: []string{
			"interview", "offer", "invoice", "overdue", "refund",
			"escalation", "legal", "deadline", "urgent", "asap",
			"due date", "contract", "agreement",
		},
		SchedulingKeywords: []string{
			"meeting", "meet", "calendar", "invite", "invitation", "rsvp",
			"appointment", "schedule", "scheduled", "reschedule", "availability",
			"zoom", "google meet", "meet.google.com", "calendar event", "ics",
			"begin:vcalendar", "outlook", "teams meeting",
		},
		TimeSensitivePatterns: []string{
			`\bby\s+eod\b`,
			`\btoday\b`,
			`\btomorrow\b`,
			`\bwithin\s+\d+\s*(hours|hrs|days)\b`,
			`\bin\s+\d+\s*(hours|hrs|days)\b`,
			`\bdeadline\b`,
			`\bdue\b`,
			`\burgent\b`,
			`\basap\b`,
			`\btime[- ]sensitive\b`,
		},
		SpamKeywords: []string{
			"unsubscribe", "click here", "limited time", "act now",
			"congratulations", "you've won", "free money", "viagra",
			"casino", "lottery", "inheritance", "shop now", "buy now",
			"special offer", "exclusive deal", "save now", "don't miss",
			"flash sale", "clearance", "today only", "hurry", "expires soon",
			"% off", "percent off", "discount", "promo code", "coupon",
			"black friday", "cyber monday", "holiday sale", "free shipping",
			"browse collection", "new arrivals", "just launched", "now available",
			"see what's new", "shop the", "explore our", "check out our",
			"limited stock", "while supplies last", "ending soon", "last chance",
		},
		SpamDomains: nil,
	}
}

// WithOverrides returns a copy of l where every non-empty list in o
// replaces the corresponding list, and the allowlist and blocklist in o are
// appended to the high-priority and spam domain lists.
func (l Lexicon) WithOverrides(o Overrides) Lexicon {
	out := l
	if len(o.PromoSenderPatterns) > 0 {
		out.PromoSenderPatterns = o.PromoSenderPatterns
	}
	if len(o.RetailMarketingDomains) > 0 {
		out.RetailMarketingDomains = o.RetailMarketingDomains
	}
	if len(o.HighPriorityKeywords) > 0 {
		out.HighPriorityKeywords = o.HighPriorityKeywords
	}
	if len(o.SpamKeywords) > 0 {
		out.SpamKeywords = o.SpamKeywords
	}
	out.HighPriorityDomains = append(append([]string{}, l.HighPriorityDomains...), o.Allowlist...)
	out.SpamDomains = append(append([]string{}, l.SpamDomains...), o.Blocklist...)
	return out
}

// Overrides carries operator supplied lexicon changes
type Overrides struct {
	Allowlist              []string
	Blocklist              []string
	PromoSenderPatterns    []string
	RetailMarketingDomains []string
	HighPriorityKeywords   []string
	SpamKeywords           []string
}
