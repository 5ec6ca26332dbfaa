package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/clinical-risk-server/internal/domain"
)

// ReadingRepository handles clinical reading and intervention persistence
type ReadingRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewReadingRepository creates a new reading repository
func NewReadingRepository(db *pgxpool.Pool, logger *logrus.Logger) *ReadingRepository {
	return &ReadingRepository{db: db, log: logger}
}

// SaveReading inserts one immutable reading
func (r *ReadingRepository) SaveReading(ctx context.Context, reading *domain.Reading) error {
	query := `
		INSERT INTO readings (
			id, patient_id, metric_type, value, value2, unit, recorded_at, source
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)`

	_, err := r.db.Exec(ctx, query,
		reading.ID,
		reading.PatientID,
		string(reading.Metric),
		reading.Value,
		reading.Value2,
		reading.Unit,
		reading.RecordedAt,
		reading.Source,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": reading.PatientID,
			"metric":     reading.Metric,
			"error":      err,
		}).Error("Failed to save reading")
		return fmt.Errorf("saving reading: %w", err)
	}
	return nil
}

// SaveReadings inserts a batch of readings in one transaction
func (r *ReadingRepository) SaveReadings(ctx context.Context, readings []*domain.Reading) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO readings (
			id, patient_id, metric_type, value, value2, unit, recorded_at, source
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)`

	for _, reading := range readings {
		if _, err := tx.Exec(ctx, query,
			reading.ID,
			reading.PatientID,
			string(reading.Metric),
			reading.Value,
			reading.Value2,
			reading.Unit,
			reading.RecordedAt,
			reading.Source,
		); err != nil {
			return fmt.Errorf("saving reading batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing reading batch: %w", err)
	}

	r.log.WithField("count", len(readings)).Info("Reading batch saved")
	return nil
}

// GetReadings retrieves one metric's chronological series for a patient
func (r *ReadingRepository) GetReadings(ctx context.Context, patientID string, metric domain.MetricType) ([]*domain.Reading, error) {
	query := `
		SELECT id, patient_id, metric_type, value, value2, unit, recorded_at, source
		FROM readings
		WHERE patient_id = $1 AND metric_type = $2
		ORDER BY recorded_at ASC`

	return r.queryReadings(ctx, query, patientID, string(metric))
}

// GetAllReadings retrieves every reading for a patient in chronological order
func (r *ReadingRepository) GetAllReadings(ctx context.Context, patientID string) ([]*domain.Reading, error) {
	query := `
		SELECT id, patient_id, metric_type, value, value2, unit, recorded_at, source
		FROM readings
		WHERE patient_id = $1
		ORDER BY recorded_at ASC`

	return r.queryReadings(ctx, query, patientID)
}

// SaveIntervention records a medication or note event
func (r *ReadingRepository) SaveIntervention(ctx context.Context, event *domain.InterventionEvent) error {
	query := `
		INSERT INTO interventions (patient_id, kind, detail, occurred_at)
		VALUES ($1, $2, $3, $4)`

	_, err := r.db.Exec(ctx, query, event.PatientID, event.Kind, event.Detail, event.OccurredAt)
	if err != nil {
		return fmt.Errorf("saving intervention: %w", err)
	}
	return nil
}

// GetInterventions retrieves a patient's interventions in chronological order
func (r *ReadingRepository) GetInterventions(ctx context.Context, patientID string) ([]*domain.InterventionEvent, error) {
	query := `
		SELECT patient_id, kind, detail, occurred_at
		FROM interventions
		WHERE patient_id = $1
		ORDER BY occurred_at ASC`

	rows, err := r.db.Query(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("listing interventions: %w", err)
	}
	defer rows.Close()

	var events []*domain.InterventionEvent
	for rows.Next() {
		var ev domain.InterventionEvent
		if err := rows.Scan(&ev.PatientID, &ev.Kind, &ev.Detail, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("scanning intervention: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func (r *ReadingRepository) queryReadings(ctx context.Context, query string, args ...interface{}) ([]*domain.Reading, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing readings: %w", err)
	}
	defer rows.Close()

	var readings []*domain.Reading
	for rows.Next() {
		var reading domain.Reading
		var metric string
		if err := rows.Scan(
			&reading.ID,
			&reading.PatientID,
			&metric,
			&reading.Value,
			&reading.Value2,
			&reading.Unit,
			&reading.RecordedAt,
			&reading.Source,
		); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		reading.Metric = domain.MetricType(metric)
		readings = append(readings, &reading)
	}
	return readings, rows.Err()
}
