package service

import (
	"github.com/sirupsen/logrus"

	"github.com/clinical-risk-server/internal/domain"
)

// VelocityClassifier maps a patient's recent risk-score history to a
// trajectory category. The result is informational for clinicians and the
// UI; it never feeds back into alerting.
type VelocityClassifier struct {
	logger *logrus.Logger
	window int
}

// Velocity thresholds on the average consecutive delta of the score history.
const (
	rapidDeteriorationDelta = 0.10
	slowWorseningDelta      = 0.03
	improvingDelta          = -0.03
)

// NewVelocityClassifier creates a new velocity classifier
func NewVelocityClassifier(logger *logrus.Logger, window int) *VelocityClassifier {
	return &VelocityClassifier{logger: logger, window: window}
}

// Classify computes the trajectory from risk scores ordered oldest to
// newest. Only the last window scores are considered; fewer than two points
// classify as unknown.
func (c *VelocityClassifier) Classify(scores []float64) domain.VelocityResult {
	if len(scores) > c.window {
		scores = scores[len(scores)-c.window:]
	}
	if len(scores) < 2 {
		return domain.VelocityResult{Category: domain.VelocityUnknown}
	}

	var total float64
	for i := 1; i < len(scores); i++ {
		total += scores[i] - scores[i-1]
	}
	avgChange := total / float64(len(scores)-1)

	result := domain.VelocityResult{DailyChange: avgChange}
	switch {
	case avgChange > rapidDeteriorationDelta:
		result.Category = domain.VelocityRapidDeterioration
	case avgChange > slowWorseningDelta:
		result.Category = domain.VelocitySlowlyWorsening
	case avgChange < improvingDelta:
		result.Category = domain.VelocityImproving
	default:
		result.Category = domain.VelocityStable
	}
	return result
}

// ClassifyAssessments extracts the score series from an assessment history
// ordered oldest to newest and classifies it.
func (c *VelocityClassifier) ClassifyAssessments(history []*domain.RiskAssessment) domain.VelocityResult {
	scores := make([]float64, len(history))
	for i, a := range history {
		scores[i] = a.RiskScore
	}
	return c.Classify(scores)
}
