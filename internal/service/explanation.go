package service

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/clinical-risk-server/internal/domain"
)

// ExplanationEngine renders a deterministic, template-based rationale for a
// risk assessment. All text comes from a fixed template set constrained to
// risk/trend/review vocabulary; there is no free-form generation and no
// diagnosis or treatment phrasing.
type ExplanationEngine struct {
	logger *logrus.Logger
}

// NewExplanationEngine creates a new explanation engine
func NewExplanationEngine(logger *logrus.Logger) *ExplanationEngine {
	return &ExplanationEngine{logger: logger}
}

// Materiality thresholds: a feature is surfaced only when it crosses one.
const (
	percentMateriality  = 10.0
	percentSevere       = 25.0
	durationMateriality = 6
	durationSevere      = 12
	delayMateriality    = 30
	delaySevere         = 90
	maxSummaryFactors   = 3
)

var metricDisplay = map[domain.MetricType]struct {
	noun    string
	display string
	feature string
}{
	domain.MetricGlucose:       {"Blood glucose", "Blood Glucose Change", FeatureSugarPercentChange},
	domain.MetricBloodPressure: {"Blood pressure", "Blood Pressure Change", FeatureBPPercentChange},
	domain.MetricCholesterol:   {"Cholesterol", "Cholesterol Change", FeatureCholPercentChange},
	domain.MetricHeartRate:     {"Heart rate", "Heart Rate Change", "heart_rate_percent_change"},
	domain.MetricTemperature:   {"Body temperature", "Temperature Change", "temperature_percent_change"},
}

// Explain builds the structured explanation for an assessment. Factors are
// ordered by severity, then by magnitude of deviation, descending. When no
// feature is material, the summary is a single aggregate-risk sentence.
func (e *ExplanationEngine) Explain(sets map[domain.MetricType]*domain.TrendFeatureSet, level domain.RiskLevel) *domain.Explanation {
	factors := e.identifyFactors(sets)

	sort.SliceStable(factors, func(i, j int) bool {
		fi, fj := factors[i], factors[j]
		if fi.factor.Severity != fj.factor.Severity {
			return fi.factor.Severity.Rank() > fj.factor.Severity.Rank()
		}
		return fi.deviation > fj.deviation
	})

	explanation := &domain.Explanation{
		Summary:             make([]string, 0, maxSummaryFactors),
		ContributingFactors: make([]domain.ContributingFactor, 0, len(factors)),
	}
	for _, f := range factors {
		explanation.ContributingFactors = append(explanation.ContributingFactors, f.factor)
		if len(explanation.Summary) < maxSummaryFactors {
			explanation.Summary = append(explanation.Summary, f.factor.Explanation)
		}
	}

	if len(factors) == 0 {
		explanation.Summary = []string{aggregateSentence(level)}
	}

	return explanation
}

// RehydrateExplanation rebuilds the explanation for a stored assessment from
// its persisted factors. Factors keep their stored order; the summary is the
// leading factor texts, or the aggregate sentence when none were recorded.
func RehydrateExplanation(factors []domain.ContributingFactor, level domain.RiskLevel) *domain.Explanation {
	explanation := &domain.Explanation{
		Summary:             make([]string, 0, maxSummaryFactors),
		ContributingFactors: factors,
	}
	if explanation.ContributingFactors == nil {
		explanation.ContributingFactors = []domain.ContributingFactor{}
	}
	for _, f := range factors {
		if len(explanation.Summary) == maxSummaryFactors {
			break
		}
		explanation.Summary = append(explanation.Summary, f.Explanation)
	}
	if len(explanation.Summary) == 0 {
		explanation.Summary = []string{aggregateSentence(level)}
	}
	return explanation
}

// rankedFactor pairs a factor with its deviation ratio for ordering.
type rankedFactor struct {
	factor    domain.ContributingFactor
	deviation float64
}

func (e *ExplanationEngine) identifyFactors(sets map[domain.MetricType]*domain.TrendFeatureSet) []rankedFactor {
	var factors []rankedFactor

	var maxDuration int
	var minDelay *int

	// Iterate metrics in a fixed order so output is deterministic.
	for _, metric := range []domain.MetricType{
		domain.MetricGlucose,
		domain.MetricBloodPressure,
		domain.MetricCholesterol,
		domain.MetricHeartRate,
		domain.MetricTemperature,
	} {
		set, ok := sets[metric]
		if !ok {
			continue
		}
		if set.DurationMonths > maxDuration {
			maxDuration = set.DurationMonths
		}
		if set.MedicationDelayDays != nil && (minDelay == nil || *set.MedicationDelayDays < *minDelay) {
			minDelay = set.MedicationDelayDays
		}
		if set.LowReliability {
			continue
		}
		if f, ok := percentFactor(metric, set); ok {
			factors = append(factors, f)
		}
	}

	if maxDuration > durationMateriality {
		severity := domain.SeverityMedium
		if maxDuration > durationSevere {
			severity = domain.SeverityHigh
		}
		factors = append(factors, rankedFactor{
			factor: domain.ContributingFactor{
				Feature:     FeatureTrendDurationMonths,
				DisplayName: "Trend Duration",
				Value:       float64(maxDuration),
				Severity:    severity,
				Explanation: fmt.Sprintf("Concerning trends persisted for %d months", maxDuration),
			},
			deviation: float64(maxDuration) / durationMateriality,
		})
	}

	if minDelay != nil && *minDelay > delayMateriality {
		severity := domain.SeverityMedium
		if *minDelay > delaySevere {
			severity = domain.SeverityHigh
		}
		factors = append(factors, rankedFactor{
			factor: domain.ContributingFactor{
				Feature:     FeatureMedicationDelayDays,
				DisplayName: "Medication Timing",
				Value:       float64(*minDelay),
				Severity:    severity,
				Explanation: fmt.Sprintf("Intervention followed the first abnormal reading by %d days", *minDelay),
			},
			deviation: float64(*minDelay) / delayMateriality,
		})
	}

	return factors
}

// percentFactor surfaces a metric's percent change when it crosses the
// materiality threshold. Sub-threshold movement is silently omitted.
func percentFactor(metric domain.MetricType, set *domain.TrendFeatureSet) (rankedFactor, bool) {
	meta, ok := metricDisplay[metric]
	if !ok {
		return rankedFactor{}, false
	}

	magnitude := math.Abs(set.PercentChange)
	if magnitude <= percentMateriality {
		return rankedFactor{}, false
	}

	severity := domain.SeverityMedium
	if magnitude >= percentSevere {
		severity = domain.SeverityHigh
	}

	verb := "increased"
	if set.Direction == domain.TrendDown {
		verb = "decreased"
	}

	var text string
	if set.DurationMonths > 0 {
		text = fmt.Sprintf("%s %s %.0f%% over %d months", meta.noun, verb, magnitude, set.DurationMonths)
	} else {
		text = fmt.Sprintf("%s %s %.0f%% during the monitoring period", meta.noun, verb, magnitude)
	}

	return rankedFactor{
		factor: domain.ContributingFactor{
			Feature:     meta.feature,
			DisplayName: meta.display,
			Value:       set.PercentChange,
			Severity:    severity,
			Explanation: text,
		},
		deviation: magnitude / percentMateriality,
	}, true
}

func aggregateSentence(level domain.RiskLevel) string {
	switch level {
	case domain.RiskCritical, domain.RiskHigh:
		return "Overall risk is elevated without a single dominant factor; clinical review is warranted"
	case domain.RiskMedium:
		return "Overall risk is moderate without a single dominant factor; continued monitoring is suggested"
	default:
		return "Metrics are within expected ranges with no dominant risk factor"
	}
}
