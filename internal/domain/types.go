package domain

import (
	"math"
	"strings"
)

// MetricType identifies a tracked clinical metric.
type MetricType string

const (
	MetricGlucose       MetricType = "glucose"
	MetricBloodPressure MetricType = "blood_pressure"
	MetricCholesterol   MetricType = "cholesterol"
	MetricHeartRate     MetricType = "heart_rate"
	MetricTemperature   MetricType = "temperature"
)

// AbnormalThreshold returns the value above which a reading of this metric
// is considered abnormal, and whether a threshold is defined at all.
// For blood pressure the threshold applies to the systolic (primary) value.
func (m MetricType) AbnormalThreshold() (float64, bool) {
	switch m {
	case MetricGlucose:
		return 126, true
	case MetricBloodPressure:
		return 140, true
	case MetricCholesterol:
		return 200, true
	case MetricHeartRate:
		return 100, true
	case MetricTemperature:
		return 38.0, true
	default:
		return 0, false
	}
}

// TrendDirection describes the overall movement of a metric series.
type TrendDirection string

const (
	TrendUp   TrendDirection = "UP"
	TrendDown TrendDirection = "DOWN"
	TrendFlat TrendDirection = "FLAT"
)

// RiskLevel is the discretized bucket of a continuous risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Level boundaries. Each level includes its lower bound:
// LOW [0,0.3), MEDIUM [0.3,0.5), HIGH [0.5,0.7), CRITICAL [0.7,1.0].
const (
	mediumBoundary   = 0.3
	highBoundary     = 0.5
	criticalBoundary = 0.7
)

// LevelForScore maps a risk score in [0,1] to its risk level.
func LevelForScore(score float64) RiskLevel {
	switch {
	case score >= criticalBoundary:
		return RiskCritical
	case score >= highBoundary:
		return RiskHigh
	case score >= mediumBoundary:
		return RiskMedium
	default:
		return RiskLow
	}
}

// BoundaryMargin returns the normalized distance from a risk score to the
// nearest level boundary, scaled to [0,1]. This is a decision-boundary
// margin, NOT calibrated predictive uncertainty, and is surfaced as the
// assessment's "confidence" for wire compatibility with the original system.
func BoundaryMargin(score float64) float64 {
	nearest := math.Inf(1)
	for _, b := range []float64{mediumBoundary, highBoundary, criticalBoundary} {
		if d := math.Abs(score - b); d < nearest {
			nearest = d
		}
	}
	// 0.3 is the largest possible distance to an interior boundary.
	margin := nearest / 0.3
	if margin > 1 {
		margin = 1
	}
	return margin
}

// Rank orders risk levels for severity comparison.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// AlertSeverity returns the lowercase severity string used on alerts.
func (l RiskLevel) AlertSeverity() string {
	return strings.ToLower(string(l))
}

// FactorSeverity grades how strongly a single trend feature contributed.
type FactorSeverity string

const (
	SeverityLow    FactorSeverity = "low"
	SeverityMedium FactorSeverity = "medium"
	SeverityHigh   FactorSeverity = "high"
)

// Rank orders factor severities for explanation sorting.
func (s FactorSeverity) Rank() int {
	switch s {
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertNew         AlertStatus = "NEW"
	AlertReviewed    AlertStatus = "REVIEWED"
	AlertMonitoring  AlertStatus = "MONITORING"
	AlertActionTaken AlertStatus = "ACTION_TAKEN"
	AlertDismissed   AlertStatus = "DISMISSED"
)

// Terminal reports whether the alert has left the active lifecycle.
// Only DISMISSED is terminal; everything else counts against the
// one-active-alert-per-patient invariant.
func (s AlertStatus) Terminal() bool {
	return s == AlertDismissed
}

// CanTransitionTo reports whether a clinician action may move an alert from
// this status to the target status. Creation (-> NEW) is pipeline-driven and
// not covered here.
func (s AlertStatus) CanTransitionTo(target AlertStatus) bool {
	switch s {
	case AlertNew:
		return target == AlertReviewed || target == AlertDismissed
	case AlertReviewed:
		return target == AlertMonitoring || target == AlertActionTaken || target == AlertDismissed
	case AlertMonitoring, AlertActionTaken:
		return target == AlertDismissed
	default:
		return false
	}
}

// FeedbackRating is a clinician's judgement of an alert's usefulness.
type FeedbackRating string

const (
	FeedbackHelpful    FeedbackRating = "helpful"
	FeedbackNotHelpful FeedbackRating = "not_helpful"
)

// Valid reports whether the rating is one of the known values.
func (r FeedbackRating) Valid() bool {
	return r == FeedbackHelpful || r == FeedbackNotHelpful
}

// VelocityCategory classifies the trajectory of a patient's risk score.
type VelocityCategory string

const (
	VelocityStable             VelocityCategory = "stable"
	VelocitySlowlyWorsening    VelocityCategory = "slowly_worsening"
	VelocityRapidDeterioration VelocityCategory = "rapid_deterioration"
	VelocityImproving          VelocityCategory = "improving"
	VelocityUnknown            VelocityCategory = "unknown"
)

// ModelName identifies a scoring model domain.
type ModelName string

const (
	ModelDiabetes ModelName = "diabetes"
	ModelCardiac  ModelName = "cardiac"
	ModelGeneral  ModelName = "general"

	// ModelRuleBasedFallback is reported as model_used whenever the
	// deterministic fallback scored the assessment.
	ModelRuleBasedFallback = "rule_based_fallback"
)
