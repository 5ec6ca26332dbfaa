// Package trend derives fixed-shape feature records from chronological
// clinical reading series.
package trend

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clinical-risk-server/internal/domain"
)

// Extractor converts a per-metric reading series into a TrendFeatureSet.
// Extraction is a pure function of the series; nothing is memoised.
type Extractor struct {
	logger *logrus.Logger
}

// NewExtractor creates a new trend extractor
func NewExtractor(logger *logrus.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract derives the feature set for a single metric's chronological
// reading series. The series must be non-empty, single-metric, and ordered
// by recorded_at; violations return an InputError.
func (e *Extractor) Extract(readings []*domain.Reading, interventions []*domain.InterventionEvent) (*domain.TrendFeatureSet, error) {
	if err := validateSeries(readings); err != nil {
		return nil, err
	}

	metric := readings[0].Metric
	features := &domain.TrendFeatureSet{
		Metric:      metric,
		Direction:   domain.TrendFlat,
		Persistence: true,
	}

	if len(readings) == 1 {
		// A single reading supports no trend. Every derived field stays
		// neutral, including the medication delay, and the set is flagged
		// so the scorer can discount it.
		features.LowReliability = true
		return features, nil
	}

	earliest := readings[0]
	latest := readings[len(readings)-1]

	pct, err := percentChange(earliest.Value, latest.Value)
	if errors.Is(err, domain.ErrDivisionUndefined) {
		// Zero baseline: recover to 0 and lower reliability. Never propagated.
		e.logger.WithFields(logrus.Fields{
			"patient_id": earliest.PatientID,
			"metric":     metric,
		}).Warn("Zero baseline reading, percent change undefined")
		pct = 0
		features.LowReliability = true
	}
	features.PercentChange = pct

	switch {
	case latest.Value > earliest.Value:
		features.Direction = domain.TrendUp
	case latest.Value < earliest.Value:
		features.Direction = domain.TrendDown
	}

	features.SlopePerDay = olsSlope(readings)
	features.DurationMonths = wholeMonths(earliest.RecordedAt, latest.RecordedAt)
	features.Persistence = persistent(readings, features.Direction)
	features.MedicationDelayDays = medicationDelay(readings, interventions)

	return features, nil
}

// ExtractAll groups a patient's readings by metric and derives one feature
// set per metric. Input order within each metric is preserved, so the
// combined slice must already be chronological.
func (e *Extractor) ExtractAll(readings []*domain.Reading, interventions []*domain.InterventionEvent) (map[domain.MetricType]*domain.TrendFeatureSet, error) {
	byMetric := make(map[domain.MetricType][]*domain.Reading)
	for _, r := range readings {
		byMetric[r.Metric] = append(byMetric[r.Metric], r)
	}

	out := make(map[domain.MetricType]*domain.TrendFeatureSet, len(byMetric))
	for metric, series := range byMetric {
		features, err := e.Extract(series, interventions)
		if err != nil {
			return nil, err
		}
		out[metric] = features
	}
	return out, nil
}

func validateSeries(readings []*domain.Reading) error {
	if len(readings) == 0 {
		return domain.NewInputError("readings", "series is empty")
	}
	metric := readings[0].Metric
	for i, r := range readings {
		if r.Metric != metric {
			return domain.NewInputError("readings", "series mixes metrics")
		}
		if i > 0 && r.RecordedAt.Before(readings[i-1].RecordedAt) {
			return domain.NewInputError("readings", "series is not chronological")
		}
	}
	return nil
}

func percentChange(earliest, latest float64) (float64, error) {
	if earliest == 0 {
		return 0, domain.ErrDivisionUndefined
	}
	return (latest - earliest) / earliest * 100, nil
}

// olsSlope fits an ordinary least-squares line to (days-since-first, value)
// pairs and returns its slope. Degenerate series (one point, or all points
// at the same instant) yield 0.
func olsSlope(readings []*domain.Reading) float64 {
	n := float64(len(readings))
	if n < 2 {
		return 0
	}

	first := readings[0].RecordedAt
	var sumX, sumY float64
	xs := make([]float64, len(readings))
	for i, r := range readings {
		xs[i] = r.RecordedAt.Sub(first).Hours() / 24
		sumX += xs[i]
		sumY += r.Value
	}
	meanX := sumX / n
	meanY := sumY / n

	var num, den float64
	for i, r := range readings {
		dx := xs[i] - meanX
		num += dx * (r.Value - meanY)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// wholeMonths returns the number of complete calendar months between two
// instants, floored.
func wholeMonths(from, to time.Time) int {
	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if to.Day() < from.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// persistent reports whether every consecutive pair moves strictly in the
// overall trend direction. Any reversal or plateau breaks persistence.
func persistent(readings []*domain.Reading, direction domain.TrendDirection) bool {
	for i := 1; i < len(readings); i++ {
		delta := readings[i].Value - readings[i-1].Value
		switch direction {
		case domain.TrendUp:
			if delta <= 0 {
				return false
			}
		case domain.TrendDown:
			if delta >= 0 {
				return false
			}
		default:
			if delta != 0 {
				return false
			}
		}
	}
	return true
}

// medicationDelay returns the days between the first reading crossing the
// metric's abnormal threshold and the first intervention recorded at or
// after that crossing. Nil when the metric never turns abnormal, no
// threshold is defined, or no qualifying intervention exists.
func medicationDelay(readings []*domain.Reading, interventions []*domain.InterventionEvent) *int {
	threshold, ok := readings[0].Metric.AbnormalThreshold()
	if !ok || len(interventions) == 0 {
		return nil
	}

	var crossedAt *time.Time
	for _, r := range readings {
		if r.Value > threshold || (readings[0].Metric == domain.MetricTemperature && r.Value >= threshold) {
			t := r.RecordedAt
			crossedAt = &t
			break
		}
	}
	if crossedAt == nil {
		return nil
	}

	sorted := make([]*domain.InterventionEvent, len(interventions))
	copy(sorted, interventions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OccurredAt.Before(sorted[j].OccurredAt) })

	for _, ev := range sorted {
		if !ev.OccurredAt.Before(*crossedAt) {
			days := int(math.Floor(ev.OccurredAt.Sub(*crossedAt).Hours() / 24))
			return &days
		}
	}
	return nil
}
