// Package scoring turns message features and user feedback into a spam
// likelihood and a three-way bucket.
package scoring

import (
	"context"
	"fmt"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/features"
	"go.uber.org/zap"
)

// Producer is recorded on ml_spam_classification inferences
const Producer = "ml_heuristic_v1"

// Policy weights and thresholds.
const (
	WeightMoneyRequest    = 0.35
	WeightSpamKeyword     = 0.15
	WeightSuspicious      = 0.12
	WeightCapsRatio       = 0.20
	WeightMarketingDomain = 0.20
	WeightLinksWithSpam   = 0.15
	WeightShortSubject    = 0.12
	WeightFeedback        = 0.30
	OracleBoost           = 0.30

	ShortSubjectLength = 20

	SpamThreshold          = 0.7
	PotentialSpamThreshold = 0.35
	HighConfidenceCeiling  = 0.15
)

// RawScore is the additive score before clamping
func RawScore(f core.FeatureVector, fb core.FeedbackCounts) float64 {
	score := 0.0
	score += float64(f.MoneyRequestCount) * WeightMoneyRequest
	score += float64(f.SpamKeywordCount) * WeightSpamKeyword
	score += float64(f.SuspiciousPatternCount) * WeightSuspicious
	score += f.CapsRatio * WeightCapsRatio

	if f.IsMarketingDomain {
		score += WeightMarketingDomain
	}
	if f.HasLinks && f.SpamKeywordCount > 0 {
		score += WeightLinksWithSpam
	}
	if f.SubjectLength < ShortSubjectLength && f.SpamKeywordCount > 0 {
		score += WeightShortSubject
	}

	if f.FromDomain != "" {
		switch {
		case fb.Spam > fb.NotSpam:
			score += WeightFeedback
		case fb.NotSpam > fb.Spam:
			score -= WeightFeedback
		}
	}
	return score
}

// Score clamps RawScore to [0,1]
func Score(f core.FeatureVector, fb core.FeedbackCounts) float64 {
	return clamp(RawScore(f, fb))
}

// Boost applies the late oracle boost. It never lowers the score.
func Boost(score float64, oracleSaysSpam bool) float64 {
	if !oracleSaysSpam {
		return score
	}
	return clamp(score + OracleBoost)
}

// Bucket maps a final score to a spam type and confidence band
func Bucket(score float64) (core.SpamType, core.MLConfidence) {
	switch {
	case score >= SpamThreshold:
		return core.SpamTypeSpam, core.MLConfidenceHigh
	case score >= PotentialSpamThreshold:
		return core.SpamTypePotentialSpam, core.MLConfidenceMedium
	case score < HighConfidenceCeiling:
		return core.SpamTypeNotSpam, core.MLConfidenceHigh
	default:
		return core.SpamTypeNotSpam, core.MLConfidenceLow
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Model evaluates messages against the user's feedback history
type Model struct {
	extractor *features.Extractor
	history   core.FeedbackHistory
	logger    *zap.Logger
}

// NewModel creates a score model
func NewModel(extractor *features.Extractor, history core.FeedbackHistory, logger *zap.Logger) *Model {
	return &Model{
		extractor: extractor,
		history:   history,
		logger:    logger,
	}
}

// Evaluate scores msg. stage is the classification produced by the rule
// engine or the oracle and may be nil.
func (m *Model) Evaluate(ctx context.Context, msg *core.Message, stage *core.Classification) (*core.MLResult, error) {
	f := m.extractor.Extract(msg)

	var fb core.FeedbackCounts
	if f.FromDomain != "" {
		var err error
		fb, err = m.history.FeedbackCounts(ctx, msg.UserID, f.FromDomain)
		if err != nil {
			return nil, fmt.Errorf("failed to load feedback for %s: %w", f.FromDomain, err)
		}
	}

	oracleSpam := stage != nil && stage.IsSpam
	score := Boost(Score(f, fb), oracleSpam)
	bucket, confidence := Bucket(score)

	m.logger.Debug("Scored message",
		zap.Int64("message_id", msg.ID),
		zap.String("domain", f.FromDomain),
		zap.Int("money_requests", f.MoneyRequestCount),
		zap.Int("spam_keywords", f.SpamKeywordCount),
		zap.Bool("oracle_spam", oracleSpam),
		zap.Float64("score", score),
		zap.String("bucket", string(bucket)))

	return &core.MLResult{
		Classification: bucket,
		Score:          score,
		Confidence:     confidence,
		Features:       f,
		OracleIsSpam:   oracleSpam,
	}, nil
}
