package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/clinical-risk-server/internal/domain"
	"github.com/clinical-risk-server/internal/model"
)

// ScoreOutcome is the tagged result of one scoring attempt. Fallback
// selection is an explicit branch of the result, never an exception path.
type ScoreOutcome struct {
	RiskScore     float64
	RiskLevel     domain.RiskLevel
	Confidence    float64
	ModelUsed     string
	RoutingReason string
	Fallback      bool
}

// RiskScorer maps demographic context and trend features to a risk
// assessment, routing to a domain model with the rule-based scorer as a
// guaranteed fallback. Model artifacts are shared read-only; the scorer is
// safe for concurrent use.
type RiskScorer struct {
	logger   *logrus.Logger
	registry *model.Registry
	fallback FallbackScorer
	breaker  *gobreaker.CircuitBreaker
	timeout  time.Duration

	// scoreFn performs the raw model evaluation; tests substitute it to
	// exercise the timeout path.
	scoreFn func(m *model.Model, features map[string]float64) float64
}

// NewRiskScorer creates a new risk scorer
func NewRiskScorer(logger *logrus.Logger, registry *model.Registry, cfg domain.ModelConfig) *RiskScorer {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "model-inference",
		Interval: cfg.BreakerInterval,
		Timeout:  cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &RiskScorer{
		logger:   logger,
		registry: registry,
		breaker:  breaker,
		timeout:  cfg.InferenceTimeout,
		scoreFn: func(m *model.Model, features map[string]float64) float64 {
			return m.Score(features)
		},
	}
}

// Score computes a risk score for the patient. latestVitals carries the most
// recent reading value per metric for acute-state multipliers. The returned
// outcome always satisfies score in [0,1]; this method cannot fail once its
// inputs are valid.
func (s *RiskScorer) Score(ctx context.Context, demo domain.Demographics, sets map[domain.MetricType]*domain.TrendFeatureSet, latestVitals map[domain.MetricType]float64) *ScoreOutcome {
	features := BuildFeatureVector(demo, sets)
	modelName, reason := route(features)

	outcome := s.scoreWithModel(ctx, modelName, reason, features)
	outcome.RiskScore = applyAcuteMultipliers(outcome.RiskScore, latestVitals)
	outcome.RiskLevel = domain.LevelForScore(outcome.RiskScore)
	outcome.Confidence = domain.BoundaryMargin(outcome.RiskScore)

	s.logger.WithFields(logrus.Fields{
		"model_used": outcome.ModelUsed,
		"risk_score": outcome.RiskScore,
		"risk_level": outcome.RiskLevel,
		"fallback":   outcome.Fallback,
	}).Debug("Risk score computed")

	return outcome
}

func (s *RiskScorer) scoreWithModel(ctx context.Context, name domain.ModelName, reason string, features map[string]float64) *ScoreOutcome {
	raw, err := s.breaker.Execute(func() (interface{}, error) {
		m, err := s.registry.Get(name)
		if err != nil {
			return nil, err
		}
		return s.infer(ctx, name, m, features)
	})
	if err != nil {
		// Unavailable artifact, timeout, or open breaker: degrade to the
		// rule-based scorer. Quality drops, availability never does.
		s.logger.WithFields(logrus.Fields{
			"model": name,
		}).WithError(err).Warn("Model inference unavailable, using rule-based fallback")
		return &ScoreOutcome{
			RiskScore:     s.fallback.Score(features),
			ModelUsed:     domain.ModelRuleBasedFallback,
			RoutingReason: reason + " (degraded to rule-based fallback)",
			Fallback:      true,
		}
	}

	return &ScoreOutcome{
		RiskScore:     raw.(float64),
		ModelUsed:     string(name),
		RoutingReason: reason,
	}
}

// infer runs model inference bounded by the configured timeout. The model
// itself is pure and in-memory, so an expired deadline abandons the result
// rather than interrupting the computation.
func (s *RiskScorer) infer(ctx context.Context, name domain.ModelName, m *model.Model, features map[string]float64) (float64, error) {
	done := make(chan float64, 1)
	go func() {
		done <- s.scoreFn(m, features)
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case score := <-done:
		return score, nil
	case <-timer.C:
		return 0, &domain.ComputationTimeoutError{Model: name, Elapsed: s.timeout}
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Acute-state multipliers applied on top of the trend-based score.
// Tachycardia and fever each scale the score, clamped to 1.
func applyAcuteMultipliers(score float64, latestVitals map[domain.MetricType]float64) float64 {
	if hr, ok := latestVitals[domain.MetricHeartRate]; ok && hr > 100 {
		score *= 1.1
	}
	if temp, ok := latestVitals[domain.MetricTemperature]; ok && temp >= 38 {
		score *= 1.2
	}
	if score > 1 {
		score = 1
	}
	return score
}
