package features

import (
	"testing"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractor_Extract(t *testing.T) {
	e := NewExtractor()

	f := e.Extract(&core.Message{
		From:    "Promo Team <news@Marketing.Example.COM>",
		Subject: "BUY NOW!!!",
		Snippet: "Please donate $1,000 via https://bit.ly/x to unsubscribe",
	})

	assert.Equal(t, "marketing.example.com", f.FromDomain)
	assert.True(t, f.IsMarketingDomain)
	assert.Equal(t, 10, f.SubjectLength)
	assert.True(t, f.HasLinks)
	// "subscribe" and "unsubscribe" both match
	assert.Equal(t, 2, f.SpamKeywordCount)
	assert.Equal(t, 1, f.MoneyRequestCount)
	// dollar amount, !!!, BUY NOW, bit.ly
	assert.Equal(t, 4, f.SuspiciousPatternCount)
	assert.InDelta(t, 6.0/10.0, f.CapsRatio, 1e-9)
}

func TestExtractor_EmptyMessage(t *testing.T) {
	f := NewExtractor().Extract(&core.Message{})
	assert.Equal(t, core.FeatureVector{}, f)
}

func TestExtractor_CaseInsensitiveSuspicious(t *testing.T) {
	f := NewExtractor().Extract(&core.Message{Subject: "please click here"})
	assert.Equal(t, 1, f.SuspiciousPatternCount)
	assert.Equal(t, 1, f.SpamKeywordCount)
}

func TestExtractor_LinksOnlyInBody(t *testing.T) {
	f := NewExtractor().Extract(&core.Message{Subject: "see www.example.com", Snippet: "plain"})
	assert.False(t, f.HasLinks)
}

func TestSenderDomain(t *testing.T) {
	tests := map[string]string{
		"a@b.com":               "b.com",
		"Name <User@Example.IO>": "example.io",
		"weird@x@y.org":         "y.org",
		"nobody":                "",
		"a@b.com> ":             "b.com",
	}
	for in, want := range tests {
		assert.Equal(t, want, SenderDomain(in), in)
	}
}

func TestExtractor_LexiconOverrides(t *testing.T) {
	lex := DefaultLexicon().WithOverrides(Lexicon{
		MoneyRequestKeywords: []string{"Tip Jar"},
		SuspiciousPatterns:   []string{`act fast`},
	})
	assert.Equal(t, DefaultLexicon().SpamKeywords, lex.SpamKeywords)

	e, err := NewExtractorWithLexicon(lex)
	require.NoError(t, err)

	f := e.Extract(&core.Message{Subject: "ACT FAST", Snippet: "fill the tip jar, please donate"})
	assert.Equal(t, 1, f.MoneyRequestCount)
	assert.Equal(t, 1, f.SuspiciousPatternCount)

	_, err = NewExtractorWithLexicon(Lexicon{SuspiciousPatterns: []string{"[a-"}})
	assert.Error(t, err)
}
