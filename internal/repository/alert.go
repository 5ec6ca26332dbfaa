package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/clinical-risk-server/internal/domain"
)

// AlertRepository handles alert persistence. A partial unique index on
// (patient_id) over non-dismissed rows backs the one-active-alert invariant
// at the database level too.
type AlertRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *pgxpool.Pool, logger *logrus.Logger) *AlertRepository {
	return &AlertRepository{db: db, log: logger}
}

// SaveAlert inserts a new alert
func (r *AlertRepository) SaveAlert(ctx context.Context, alert *domain.Alert) error {
	snapshot, err := json.Marshal(alert.RiskSnapshot)
	if err != nil {
		return fmt.Errorf("encoding risk snapshot: %w", err)
	}

	query := `
		INSERT INTO alerts (
			id, patient_id, severity, title, explanation, status,
			auto_generated, risk_snapshot, feedback, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)`

	_, err = r.db.Exec(ctx, query,
		alert.ID,
		alert.PatientID,
		alert.Severity,
		alert.Title,
		alert.Explanation,
		string(alert.Status),
		alert.AutoGenerated,
		snapshot,
		feedbackString(alert.Feedback),
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": alert.PatientID,
			"alert_id":   alert.ID,
			"error":      err,
		}).Error("Failed to save alert")
		return fmt.Errorf("saving alert: %w", err)
	}
	return nil
}

// GetAlert retrieves an alert by ID
func (r *AlertRepository) GetAlert(ctx context.Context, id uuid.UUID) (*domain.Alert, error) {
	query := alertSelect + ` WHERE id = $1`
	alert, err := scanAlert(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("alert not found: %w", domain.ErrNotFound)
		}
		return nil, err
	}
	return alert, nil
}

// GetActiveAlert retrieves the patient's single non-dismissed alert
func (r *AlertRepository) GetActiveAlert(ctx context.Context, patientID string) (*domain.Alert, error) {
	query := alertSelect + ` WHERE patient_id = $1 AND status != 'DISMISSED'`
	alert, err := scanAlert(r.db.QueryRow(ctx, query, patientID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("active alert not found: %w", domain.ErrNotFound)
		}
		return nil, err
	}
	return alert, nil
}

// ListAlerts retrieves a page of alerts, optionally filtered by status,
// newest first
func (r *AlertRepository) ListAlerts(ctx context.Context, status *domain.AlertStatus, limit, offset int) ([]*domain.Alert, error) {
	query := alertSelect
	args := []interface{}{limit, offset}
	if status != nil {
		query += ` WHERE status = $3`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	return r.queryAlerts(ctx, query, args...)
}

// ListPatientAlerts retrieves every alert for a patient, newest first
func (r *AlertRepository) ListPatientAlerts(ctx context.Context, patientID string) ([]*domain.Alert, error) {
	query := alertSelect + ` WHERE patient_id = $1 ORDER BY created_at DESC`
	return r.queryAlerts(ctx, query, patientID)
}

// UpdateAlert persists status, severity, snapshot, and feedback changes
func (r *AlertRepository) UpdateAlert(ctx context.Context, alert *domain.Alert) error {
	snapshot, err := json.Marshal(alert.RiskSnapshot)
	if err != nil {
		return fmt.Errorf("encoding risk snapshot: %w", err)
	}

	query := `
		UPDATE alerts
		SET severity = $2, title = $3, explanation = $4, status = $5,
			risk_snapshot = $6, feedback = $7, updated_at = $8
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		alert.ID,
		alert.Severity,
		alert.Title,
		alert.Explanation,
		string(alert.Status),
		snapshot,
		feedbackString(alert.Feedback),
		alert.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %s: %w", alert.ID, domain.ErrNotFound)
	}
	return nil
}

const alertSelect = `
	SELECT id, patient_id, severity, title, explanation, status,
		   auto_generated, risk_snapshot, feedback, created_at, updated_at
	FROM alerts`

func (r *AlertRepository) queryAlerts(ctx context.Context, query string, args ...interface{}) ([]*domain.Alert, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func scanAlert(row pgx.Row) (*domain.Alert, error) {
	var alert domain.Alert
	var status string
	var snapshot []byte
	var feedback *string

	err := row.Scan(
		&alert.ID,
		&alert.PatientID,
		&alert.Severity,
		&alert.Title,
		&alert.Explanation,
		&status,
		&alert.AutoGenerated,
		&snapshot,
		&feedback,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning alert: %w", err)
	}

	alert.Status = domain.AlertStatus(status)
	if len(snapshot) > 0 && string(snapshot) != "null" {
		alert.RiskSnapshot = &domain.RiskAssessment{}
		if err := json.Unmarshal(snapshot, alert.RiskSnapshot); err != nil {
			return nil, fmt.Errorf("decoding risk snapshot: %w", err)
		}
	}
	if feedback != nil {
		rating := domain.FeedbackRating(*feedback)
		alert.Feedback = &rating
	}
	return &alert, nil
}

func feedbackString(rating *domain.FeedbackRating) *string {
	if rating == nil {
		return nil
	}
	s := string(*rating)
	return &s
}
