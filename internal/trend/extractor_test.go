package trend

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-risk-server/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func glucoseReading(value float64, recordedAt time.Time) *domain.Reading {
	return &domain.Reading{
		PatientID:  "patient-1",
		Metric:     domain.MetricGlucose,
		Value:      value,
		Unit:       "mg/dL",
		RecordedAt: recordedAt,
	}
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func TestExtract_GlucoseSeries(t *testing.T) {
	extractor := NewExtractor(testLogger())

	readings := []*domain.Reading{
		glucoseReading(110, date(2023, time.January, 15)),
		glucoseReading(118, date(2023, time.July, 15)),
		glucoseReading(126, date(2024, time.January, 15)),
		glucoseReading(142, date(2024, time.July, 15)),
	}

	features, err := extractor.Extract(readings, nil)
	require.NoError(t, err)

	assert.InDelta(t, 29.09, features.PercentChange, 0.01)
	assert.Equal(t, domain.TrendUp, features.Direction)
	assert.Equal(t, 18, features.DurationMonths)
	assert.True(t, features.Persistence)
	assert.False(t, features.LowReliability)
	assert.Nil(t, features.MedicationDelayDays)
	assert.Greater(t, features.SlopePerDay, 0.0)
}

func TestExtract_SingleReading(t *testing.T) {
	extractor := NewExtractor(testLogger())

	features, err := extractor.Extract([]*domain.Reading{
		glucoseReading(120, date(2024, time.March, 1)),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.TrendFlat, features.Direction)
	assert.Zero(t, features.PercentChange)
	assert.Zero(t, features.SlopePerDay)
	assert.Zero(t, features.DurationMonths)
	assert.True(t, features.Persistence)
	assert.True(t, features.LowReliability)
	assert.Nil(t, features.MedicationDelayDays)
}

func TestExtract_ZeroBaselineRecovered(t *testing.T) {
	extractor := NewExtractor(testLogger())

	features, err := extractor.Extract([]*domain.Reading{
		glucoseReading(0, date(2024, time.January, 1)),
		glucoseReading(130, date(2024, time.April, 1)),
	}, nil)
	require.NoError(t, err)

	assert.Zero(t, features.PercentChange)
	assert.True(t, features.LowReliability)
	assert.Equal(t, domain.TrendUp, features.Direction)
}

func TestExtract_DirectionAndPersistence(t *testing.T) {
	extractor := NewExtractor(testLogger())

	tests := []struct {
		name        string
		values      []float64
		direction   domain.TrendDirection
		persistence bool
	}{
		{"strictly rising", []float64{100, 110, 120}, domain.TrendUp, true},
		{"rising with reversal", []float64{100, 120, 110, 130}, domain.TrendUp, false},
		{"rising with plateau", []float64{100, 110, 110, 120}, domain.TrendUp, false},
		{"strictly falling", []float64{140, 130, 125}, domain.TrendDown, true},
		{"flat endpoints", []float64{120, 130, 120}, domain.TrendFlat, false},
		{"all equal", []float64{120, 120, 120}, domain.TrendFlat, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			readings := make([]*domain.Reading, len(tt.values))
			for i, v := range tt.values {
				readings[i] = glucoseReading(v, date(2024, time.January, 1).AddDate(0, i, 0))
			}

			features, err := extractor.Extract(readings, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.direction, features.Direction)
			assert.Equal(t, tt.persistence, features.Persistence)
		})
	}
}

func TestExtract_InvalidSeries(t *testing.T) {
	extractor := NewExtractor(testLogger())

	t.Run("empty", func(t *testing.T) {
		_, err := extractor.Extract(nil, nil)
		require.Error(t, err)
		assert.True(t, domain.IsInputError(err))
	})

	t.Run("not chronological", func(t *testing.T) {
		_, err := extractor.Extract([]*domain.Reading{
			glucoseReading(110, date(2024, time.March, 1)),
			glucoseReading(120, date(2024, time.January, 1)),
		}, nil)
		require.Error(t, err)
		assert.True(t, domain.IsInputError(err))
	})

	t.Run("mixed metrics", func(t *testing.T) {
		bp := &domain.Reading{
			PatientID:  "patient-1",
			Metric:     domain.MetricBloodPressure,
			Value:      150,
			RecordedAt: date(2024, time.February, 1),
		}
		_, err := extractor.Extract([]*domain.Reading{
			glucoseReading(110, date(2024, time.January, 1)),
			bp,
		}, nil)
		require.Error(t, err)
		assert.True(t, domain.IsInputError(err))
	})
}

func TestExtract_DurationWholeMonths(t *testing.T) {
	extractor := NewExtractor(testLogger())

	// 29 days short of a full month boundary still floors down.
	features, err := extractor.Extract([]*domain.Reading{
		glucoseReading(100, date(2024, time.January, 20)),
		glucoseReading(110, date(2024, time.March, 19)),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, features.DurationMonths)
}

func TestExtract_MedicationDelay(t *testing.T) {
	extractor := NewExtractor(testLogger())

	readings := []*domain.Reading{
		glucoseReading(120, date(2024, time.January, 1)),
		glucoseReading(135, date(2024, time.February, 1)), // crosses 126 here
		glucoseReading(150, date(2024, time.March, 1)),
	}

	t.Run("intervention after crossing", func(t *testing.T) {
		interventions := []*domain.InterventionEvent{
			{PatientID: "patient-1", Kind: "medication", OccurredAt: date(2024, time.February, 15)},
		}
		features, err := extractor.Extract(readings, interventions)
		require.NoError(t, err)
		require.NotNil(t, features.MedicationDelayDays)
		assert.Equal(t, 14, *features.MedicationDelayDays)
	})

	t.Run("no interventions", func(t *testing.T) {
		features, err := extractor.Extract(readings, nil)
		require.NoError(t, err)
		assert.Nil(t, features.MedicationDelayDays)
	})

	t.Run("only interventions before crossing", func(t *testing.T) {
		interventions := []*domain.InterventionEvent{
			{PatientID: "patient-1", Kind: "medication", OccurredAt: date(2024, time.January, 10)},
		}
		features, err := extractor.Extract(readings, interventions)
		require.NoError(t, err)
		assert.Nil(t, features.MedicationDelayDays)
	})

	t.Run("single abnormal reading stays neutral", func(t *testing.T) {
		single := []*domain.Reading{
			glucoseReading(150, date(2024, time.January, 1)),
		}
		interventions := []*domain.InterventionEvent{
			{PatientID: "patient-1", Kind: "medication", OccurredAt: date(2024, time.January, 11)},
		}
		features, err := extractor.Extract(single, interventions)
		require.NoError(t, err)
		assert.True(t, features.LowReliability)
		assert.Nil(t, features.MedicationDelayDays)
	})

	t.Run("never abnormal", func(t *testing.T) {
		normal := []*domain.Reading{
			glucoseReading(100, date(2024, time.January, 1)),
			glucoseReading(110, date(2024, time.March, 1)),
		}
		interventions := []*domain.InterventionEvent{
			{PatientID: "patient-1", Kind: "medication", OccurredAt: date(2024, time.February, 1)},
		}
		features, err := extractor.Extract(normal, interventions)
		require.NoError(t, err)
		assert.Nil(t, features.MedicationDelayDays)
	})
}

func TestExtractAll_GroupsByMetric(t *testing.T) {
	extractor := NewExtractor(testLogger())

	bp := func(value float64, recordedAt time.Time) *domain.Reading {
		return &domain.Reading{
			PatientID:  "patient-1",
			Metric:     domain.MetricBloodPressure,
			Value:      value,
			Unit:       "mmHg",
			RecordedAt: recordedAt,
		}
	}

	readings := []*domain.Reading{
		glucoseReading(110, date(2024, time.January, 1)),
		bp(130, date(2024, time.January, 1)),
		glucoseReading(125, date(2024, time.April, 1)),
		bp(145, date(2024, time.April, 1)),
	}

	features, err := extractor.ExtractAll(readings, nil)
	require.NoError(t, err)
	require.Len(t, features, 2)
	assert.Equal(t, domain.TrendUp, features[domain.MetricGlucose].Direction)
	assert.Equal(t, domain.TrendUp, features[domain.MetricBloodPressure].Direction)
}

func TestOLSSlope(t *testing.T) {
	// 1 unit per 10 days exactly.
	readings := []*domain.Reading{
		glucoseReading(100, date(2024, time.January, 1)),
		glucoseReading(101, date(2024, time.January, 11)),
		glucoseReading(102, date(2024, time.January, 21)),
	}
	assert.InDelta(t, 0.1, olsSlope(readings), 1e-9)

	// All readings at the same instant degenerate to 0.
	same := []*domain.Reading{
		glucoseReading(100, date(2024, time.January, 1)),
		glucoseReading(120, date(2024, time.January, 1)),
	}
	assert.Zero(t, olsSlope(same))
}
