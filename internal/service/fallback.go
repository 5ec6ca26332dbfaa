package service

// FallbackScorer is the deterministic rule-based scorer used whenever model
// inference is unavailable, times out, or the feature vector is incomplete.
// It is a fixed weighted sum over the feature vector, always available, and
// cannot fail.
type FallbackScorer struct{}

// Fallback weight table. Calibrated against the trained models' output
// range so a degraded assessment lands in a comparable level.
const (
	fallbackBase = 0.3

	sugarSevereThreshold   = 30.0
	sugarModerateThreshold = 15.0
	sugarSevereWeight      = 0.3
	sugarModerateWeight    = 0.15

	bpSevereThreshold   = 20.0
	bpModerateThreshold = 10.0
	bpSevereWeight      = 0.2
	bpModerateWeight    = 0.1

	ageElderlyThreshold = 70
	ageSeniorThreshold  = 60
	ageElderlyWeight    = 0.1
	ageSeniorWeight     = 0.05

	durationChronicMonths = 24
	durationChronicWeight = 0.1
)

// Score computes the rule-based risk score for a feature vector, clamped
// to [0,1].
func (FallbackScorer) Score(features map[string]float64) float64 {
	score := fallbackBase

	switch sugar := features[FeatureSugarPercentChange]; {
	case sugar > sugarSevereThreshold:
		score += sugarSevereWeight
	case sugar > sugarModerateThreshold:
		score += sugarModerateWeight
	}

	switch bp := features[FeatureBPPercentChange]; {
	case bp > bpSevereThreshold:
		score += bpSevereWeight
	case bp > bpModerateThreshold:
		score += bpModerateWeight
	}

	switch age := features[FeatureAge]; {
	case age > ageElderlyThreshold:
		score += ageElderlyWeight
	case age > ageSeniorThreshold:
		score += ageSeniorWeight
	}

	if features[FeatureTrendDurationMonths] > durationChronicMonths {
		score += durationChronicWeight
	}

	if score > 1 {
		score = 1
	}
	return score
}
