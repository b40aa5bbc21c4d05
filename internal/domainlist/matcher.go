package domainlist

import (
	"strings"

	"go.uber.org/zap"
)

// Matcher checks sender addresses against a list of address fragments such
// as "@example.com", "noreply@" or "mailchimp.com". Matching is a
// case-insensitive substring test and the first pattern in list order wins.
type Matcher struct {
	name     string
	patterns []string
	logger   *zap.Logger
}

// NewMatcher creates a matcher. Patterns are lowercased, trimmed and
// deduplicated while keeping their order.
func NewMatcher(name string, patterns []string, logger *zap.Logger) *Matcher {
	normalized := make([]string, 0, len(patterns))
	seen := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		normalized = append(normalized, p)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	if len(normalized) > 0 {
		logger.Debug("Initialized domain list",
			zap.String("list", name),
			zap.Int("patterns", len(normalized)))
	}

	return &Matcher{
		name:     name,
		patterns: normalized,
		logger:   logger,
	}
}

// Match returns the first pattern contained in addr
func (m *Matcher) Match(addr string) (string, bool) {
	if len(m.patterns) == 0 || addr == "" {
		return "", false
	}

	lower := strings.ToLower(addr)
	for _, p := range m.patterns {
		if strings.Contains(lower, p) {
			m.logger.Debug("Sender matched domain list",
				zap.String("list", m.name),
				zap.String("pattern", p),
				zap.String("sender", addr))
			return p, true
		}
	}
	return "", false
}

// Contains reports whether addr matches any pattern
func (m *Matcher) Contains(addr string) bool {
	_, ok := m.Match(addr)
	return ok
}

// Patterns returns a copy of the normalized patterns
func (m *Matcher) Patterns() []string {
	out := make([]string, len(m.patterns))
	copy(out, m.patterns)
	return out
}

// Len returns the number of patterns
func (m *Matcher) Len() int {
	return len(m.patterns)
}
