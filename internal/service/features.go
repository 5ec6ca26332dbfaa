package service

import (
	"math"

	"github.com/clinical-risk-server/internal/domain"
)

// Canonical feature names shared by the model artifacts and the fallback
// scorer. The vector schema is fixed; absent features are simply zero.
const (
	FeatureAge                 = "age"
	FeatureSex                 = "sex"
	FeatureSugarPercentChange  = "sugar_percent_change"
	FeatureSugarTrendUp        = "sugar_trend_up"
	FeatureBPPercentChange     = "bp_percent_change"
	FeatureBPTrendUp           = "bp_trend_up"
	FeatureCholPercentChange   = "cholesterol_percent_change"
	FeatureCholTrendUp         = "cholesterol_trend_up"
	FeatureTrendDurationMonths = "trend_duration_months"
	FeatureMedicationDelayDays = "medication_delay_days"
)

// materialPercent is the percent-change magnitude above which a metric's
// trend is considered abnormal for model routing.
const materialPercent = 10.0

// BuildFeatureVector assembles the fixed-schema feature vector from
// demographic context and per-metric trend features. Metrics flagged as
// low-reliability contribute neutral values only.
func BuildFeatureVector(demo domain.Demographics, sets map[domain.MetricType]*domain.TrendFeatureSet) map[string]float64 {
	features := map[string]float64{
		FeatureAge: float64(demo.Age),
	}
	if demo.Sex == "M" {
		features[FeatureSex] = 1
	}

	var maxDuration int
	var minDelay *int

	for metric, set := range sets {
		pct := set.PercentChange
		up := 0.0
		if set.Direction == domain.TrendUp {
			up = 1
		}
		if set.LowReliability {
			pct, up = 0, 0
		}

		switch metric {
		case domain.MetricGlucose:
			features[FeatureSugarPercentChange] = pct
			features[FeatureSugarTrendUp] = up
		case domain.MetricBloodPressure:
			features[FeatureBPPercentChange] = pct
			features[FeatureBPTrendUp] = up
		case domain.MetricCholesterol:
			features[FeatureCholPercentChange] = pct
			features[FeatureCholTrendUp] = up
		}

		if set.DurationMonths > maxDuration {
			maxDuration = set.DurationMonths
		}
		if set.MedicationDelayDays != nil {
			if minDelay == nil || *set.MedicationDelayDays < *minDelay {
				minDelay = set.MedicationDelayDays
			}
		}
	}

	features[FeatureTrendDurationMonths] = float64(maxDuration)
	if minDelay != nil {
		features[FeatureMedicationDelayDays] = float64(*minDelay)
	}

	return features
}

// route selects the domain model for a feature vector. Priority order is
// diabetes > cardiac > general: material glucose movement wins outright,
// material blood-pressure or cholesterol movement takes cardiac, everything
// else scores on the general model.
func route(features map[string]float64) (domain.ModelName, string) {
	if math.Abs(features[FeatureSugarPercentChange]) > materialPercent {
		return domain.ModelDiabetes, "material glucose trend detected, routed to diabetes model"
	}
	if math.Abs(features[FeatureBPPercentChange]) > materialPercent ||
		math.Abs(features[FeatureCholPercentChange]) > materialPercent {
		return domain.ModelCardiac, "material blood pressure or cholesterol trend detected, routed to cardiac model"
	}
	return domain.ModelGeneral, "no dominant metric trend, routed to general model"
}
