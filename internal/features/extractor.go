package features

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mikey/mail-triage/internal/core"
)

// Extractor derives a FeatureVector from a message
type Extractor struct {
	spamKeywords   []string
	moneyKeywords  []string
	suspicious     []*regexp.Regexp
	marketingTerms []string
}

// NewExtractor returns an extractor with the built-in lexicon
func NewExtractor() *Extractor {
	e, err := NewExtractorWithLexicon(DefaultLexicon())
	if err != nil {
		panic(err)
	}
	return e
}

// NewExtractorWithLexicon returns an extractor over lex. Keywords are
// matched lowercased and patterns case-insensitively.
func NewExtractorWithLexicon(lex Lexicon) (*Extractor, error) {
	suspicious := make([]*regexp.Regexp, 0, len(lex.SuspiciousPatterns))
	for _, p := range lex.SuspiciousPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid suspicious pattern %q: %w", p, err)
		}
		suspicious = append(suspicious, re)
	}
	return &Extractor{
		spamKeywords:   lowerAll(lex.SpamKeywords),
		moneyKeywords:  lowerAll(lex.MoneyRequestKeywords),
		suspicious:     suspicious,
		marketingTerms: lowerAll(lex.MarketingDomainTerms),
	}, nil
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Extract computes the feature vector for msg. The snippet is used as the body.
func (e *Extractor) Extract(msg *core.Message) core.FeatureVector {
	subject := msg.Subject
	body := msg.Snippet
	text := subject + " " + body
	lower := strings.ToLower(text)

	domain := SenderDomain(msg.From)

	f := core.FeatureVector{
		FromDomain:             domain,
		SubjectLength:          utf8.RuneCountInString(subject),
		BodyLength:             utf8.RuneCountInString(body),
		HasLinks:               hasLinks(body),
		SpamKeywordCount:       countKeywords(lower, e.spamKeywords),
		MoneyRequestCount:      countKeywords(lower, e.moneyKeywords),
		SuspiciousPatternCount: e.countSuspicious(text),
		CapsRatio:              capsRatio(subject),
	}
	for _, term := range e.marketingTerms {
		if strings.Contains(domain, term) {
			f.IsMarketingDomain = true
			break
		}
	}
	return f
}

// SenderDomain returns the lowercased part of an address after the last "@"
func SenderDomain(from string) string {
	i := strings.LastIndex(from, "@")
	if i < 0 {
		return ""
	}
	d := strings.ToLower(strings.TrimSpace(from[i+1:]))
	d = strings.Trim(d, ">")
	return strings.TrimSpace(d)
}

// countKeywords counts how many keywords occur at least once in text
func countKeywords(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}

func (e *Extractor) countSuspicious(text string) int {
	n := 0
	for _, re := range e.suspicious {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}

func hasLinks(body string) bool {
	return strings.Contains(body, "http://") ||
		strings.Contains(body, "https://") ||
		strings.Contains(body, "www.")
}

func capsRatio(subject string) float64 {
	total := utf8.RuneCountInString(subject)
	if total == 0 {
		return 0
	}
	upper := 0
	for _, r := range subject {
		if unicode.IsUpper(r) {
			upper++
		}
	}
	return float64(upper) / float64(total)
}
