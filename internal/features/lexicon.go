package features

// Lexicon holds the word lists and patterns the extractor counts
type Lexicon struct {
	SpamKeywords         []string
	MoneyRequestKeywords []string
	SuspiciousPatterns   []string
	MarketingDomainTerms []string
}

// DefaultLexicon returns the built-in lexicon
func DefaultLexicon() Lexicon {
	return Lexicon{
		SpamKeywords: []string{
			"viagra", "cialis", "casino", "lottery", "winner", "prize", "congratulations",
			"click here", "act now", "limited time", "free money", "earn money fast",
			"work from home", "lose weight", "miracle", "guarantee", "no obligation",
			"risk free", "call now", "subscribe", "unsubscribe", "opt out",
			"100% free", "double your", "extra income", "financial freedom",
			"get paid", "increase sales", "save big", "special promotion",
			"deal", "offer", "discount", "coupon", "sale", "clearance",
			"webinar", "register now", "sign up", "join now", "learn more",
		},
		MoneyRequestKeywords: []string{
			"donate", "donation", "contribute", "contribution", "fundraising",
			"support our mission", "make a gift", "give today", "help us",
			"support us", "join us", "become a member", "membership", "renew",
			"your support matters", "make a difference", "support our cause",
			"sponsor", "sponsorship", "pledge", "crowdfunding", "gofundme",
			"patreon", "kickstarter", "campaign", "goal", "matching gift",
		},
		SuspiciousPatterns: []string{
			`\$\d+[,\d]*`,
			`!!!+`,
			`CLICK HERE`,
			`BUY NOW`,
			`FREE!!!`,
			`https?://bit\.ly`,
			`https?://tinyurl`,
		},
		MarketingDomainTerms: []string{
			"marketing", "promo", "deals", "offers", "newsletter", "noreply",
		},
	}
}

// WithOverrides returns a copy of l with every non-empty list in o
// replacing the built-in one
func (l Lexicon) WithOverrides(o Lexicon) Lexicon {
	out := l
	if len(o.SpamKeywords) > 0 {
		out.SpamKeywords = o.SpamKeywords
	}
	if len(o.MoneyRequestKeywords) > 0 {
		out.MoneyRequestKeywords = o.MoneyRequestKeywords
	}
	if len(o.SuspiciousPatterns) > 0 {
		out.SuspiciousPatterns = o.SuspiciousPatterns
	}
	if len(o.MarketingDomainTerms) > 0 {
		out.MarketingDomainTerms = o.MarketingDomainTerms
	}
	return out
}
