package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/clinical-risk-server/internal/domain"
)

// PatientRepository handles patient persistence
type PatientRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPatientRepository creates a new patient repository
func NewPatientRepository(db *pgxpool.Pool, logger *logrus.Logger) *PatientRepository {
	return &PatientRepository{db: db, log: logger}
}

// CreatePatient inserts a new patient record
func (r *PatientRepository) CreatePatient(ctx context.Context, patient *domain.Patient) error {
	query := `
		INSERT INTO patients (
			id, mrn, name, age, sex, location, current_risk_score, current_risk_level
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)`

	_, err := r.db.Exec(ctx, query,
		patient.ID,
		patient.MRN,
		patient.Name,
		patient.Age,
		patient.Sex,
		patient.Location,
		patient.CurrentRiskScore,
		patient.CurrentRiskLevel,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": patient.ID,
			"error":      err,
		}).Error("Failed to create patient")
		return fmt.Errorf("creating patient: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"patient_id": patient.ID,
		"mrn":        patient.MRN,
	}).Info("Patient created")
	return nil
}

// GetPatient retrieves a patient by ID
func (r *PatientRepository) GetPatient(ctx context.Context, id string) (*domain.Patient, error) {
	query := `
		SELECT id, mrn, name, age, sex, location, current_risk_score, current_risk_level,
			   created_at, updated_at
		FROM patients
		WHERE id = $1`

	return r.scanPatient(r.db.QueryRow(ctx, query, id))
}

// GetPatientByMRN retrieves a patient by medical record number
func (r *PatientRepository) GetPatientByMRN(ctx context.Context, mrn string) (*domain.Patient, error) {
	query := `
		SELECT id, mrn, name, age, sex, location, current_risk_score, current_risk_level,
			   created_at, updated_at
		FROM patients
		WHERE mrn = $1`

	return r.scanPatient(r.db.QueryRow(ctx, query, mrn))
}

// ListPatients retrieves a page of patients ordered by creation time
func (r *PatientRepository) ListPatients(ctx context.Context, limit, offset int) ([]*domain.Patient, error) {
	query := `
		SELECT id, mrn, name, age, sex, location, current_risk_score, current_risk_level,
			   created_at, updated_at
		FROM patients
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing patients: %w", err)
	}
	defer rows.Close()

	var patients []*domain.Patient
	for rows.Next() {
		patient, err := r.scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, patient)
	}
	return patients, rows.Err()
}

// UpdatePatient updates the mutable demographic fields of a patient
func (r *PatientRepository) UpdatePatient(ctx context.Context, patient *domain.Patient) error {
	query := `
		UPDATE patients
		SET name = $2, age = $3, sex = $4, location = $5, updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		patient.ID, patient.Name, patient.Age, patient.Sex, patient.Location)
	if err != nil {
		return fmt.Errorf("updating patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patient %s: %w", patient.ID, domain.ErrNotFound)
	}
	return nil
}

// UpdateCurrentRisk updates the denormalized risk state shown on patient lists
func (r *PatientRepository) UpdateCurrentRisk(ctx context.Context, id string, score float64, level domain.RiskLevel) error {
	query := `
		UPDATE patients
		SET current_risk_score = $2, current_risk_level = $3, updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, score, string(level))
	if err != nil {
		return fmt.Errorf("updating current risk: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patient %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// DeletePatient removes a patient; readings, assessments, alerts, and notes
// cascade through their foreign keys.
func (r *PatientRepository) DeletePatient(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patient %s: %w", id, domain.ErrNotFound)
	}

	r.log.WithField("patient_id", id).Info("Patient deleted")
	return nil
}

func (r *PatientRepository) scanPatient(row pgx.Row) (*domain.Patient, error) {
	var patient domain.Patient
	var createdAt, updatedAt time.Time

	err := row.Scan(
		&patient.ID,
		&patient.MRN,
		&patient.Name,
		&patient.Age,
		&patient.Sex,
		&patient.Location,
		&patient.CurrentRiskScore,
		&patient.CurrentRiskLevel,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("patient not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("scanning patient: %w", err)
	}

	patient.CreatedAt = createdAt
	patient.UpdatedAt = updatedAt
	return &patient, nil
}
