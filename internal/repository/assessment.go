package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/clinical-risk-server/internal/domain"
)

// AssessmentRepository handles the append-only risk assessment history
type AssessmentRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewAssessmentRepository creates a new assessment repository
func NewAssessmentRepository(db *pgxpool.Pool, logger *logrus.Logger) *AssessmentRepository {
	return &AssessmentRepository{db: db, log: logger}
}

// SaveAssessment appends one assessment to the patient's history
func (r *AssessmentRepository) SaveAssessment(ctx context.Context, assessment *domain.RiskAssessment) error {
	factors, err := json.Marshal(assessment.ContributingFactors)
	if err != nil {
		return fmt.Errorf("encoding contributing factors: %w", err)
	}

	query := `
		INSERT INTO risk_assessments (
			id, patient_id, risk_score, risk_level, confidence, model_used,
			routing_reason, contributing_factors, computed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)`

	_, err = r.db.Exec(ctx, query,
		assessment.ID,
		assessment.PatientID,
		assessment.RiskScore,
		string(assessment.RiskLevel),
		assessment.Confidence,
		assessment.ModelUsed,
		assessment.RoutingReason,
		factors,
		assessment.ComputedAt,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": assessment.PatientID,
			"error":      err,
		}).Error("Failed to save risk assessment")
		return fmt.Errorf("saving assessment: %w", err)
	}
	return nil
}

// GetLatestAssessment retrieves the most recent assessment for a patient
func (r *AssessmentRepository) GetLatestAssessment(ctx context.Context, patientID string) (*domain.RiskAssessment, error) {
	query := `
		SELECT id, patient_id, risk_score, risk_level, confidence, model_used,
			   routing_reason, contributing_factors, computed_at
		FROM risk_assessments
		WHERE patient_id = $1
		ORDER BY computed_at DESC
		LIMIT 1`

	assessment, err := scanAssessment(r.db.QueryRow(ctx, query, patientID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("assessment not found: %w", domain.ErrNotFound)
		}
		return nil, err
	}
	return assessment, nil
}

// GetAssessmentHistory retrieves the most recent limit assessments, returned
// oldest to newest for velocity computation.
func (r *AssessmentRepository) GetAssessmentHistory(ctx context.Context, patientID string, limit int) ([]*domain.RiskAssessment, error) {
	query := `
		SELECT id, patient_id, risk_score, risk_level, confidence, model_used,
			   routing_reason, contributing_factors, computed_at
		FROM risk_assessments
		WHERE patient_id = $1
		ORDER BY computed_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing assessments: %w", err)
	}
	defer rows.Close()

	var history []*domain.RiskAssessment
	for rows.Next() {
		assessment, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, assessment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse newest-first into chronological order.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}

func scanAssessment(row pgx.Row) (*domain.RiskAssessment, error) {
	var assessment domain.RiskAssessment
	var level string
	var factors []byte

	err := row.Scan(
		&assessment.ID,
		&assessment.PatientID,
		&assessment.RiskScore,
		&level,
		&assessment.Confidence,
		&assessment.ModelUsed,
		&assessment.RoutingReason,
		&factors,
		&assessment.ComputedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning assessment: %w", err)
	}

	assessment.RiskLevel = domain.RiskLevel(level)
	if len(factors) > 0 {
		if err := json.Unmarshal(factors, &assessment.ContributingFactors); err != nil {
			return nil, fmt.Errorf("decoding contributing factors: %w", err)
		}
	}
	return &assessment, nil
}
