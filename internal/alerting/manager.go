// Package alerting manages the per-patient alert lifecycle: creation on
// high-risk assessments, clinician-driven transitions, and deduplication so
// at most one non-terminal alert exists per patient.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/clinical-risk-server/internal/domain"
)

// Manager decides whether a new assessment creates, updates, or leaves an
// alert untouched, and applies clinician transitions. Persistence goes
// through the AlertStore; the dedup key is patient_id alone.
type Manager struct {
	config domain.AlertingConfig
	logger *logrus.Logger
	store  domain.AlertStore
}

// Decision describes what the manager did with one assessment.
type Decision struct {
	Created     bool
	ReEscalated bool
	Alert       *domain.Alert
}

// NewManager creates a new alert manager
func NewManager(config domain.AlertingConfig, logger *logrus.Logger, store domain.AlertStore) *Manager {
	return &Manager{config: config, logger: logger, store: store}
}

// HandleAssessment applies the alerting rules to a freshly computed
// assessment. HIGH and CRITICAL levels create a NEW auto-generated alert
// unless the patient already has a non-terminal one; an existing alert is
// re-escalated (snapshot refreshed) only when the new severity is strictly
// higher. Store failures surface as PersistenceError so the caller can
// still return the assessment itself.
func (m *Manager) HandleAssessment(ctx context.Context, assessment *domain.RiskAssessment, explanation *domain.Explanation) (*Decision, error) {
	if assessment.RiskLevel != domain.RiskHigh && assessment.RiskLevel != domain.RiskCritical {
		return &Decision{}, nil
	}

	active, err := m.store.GetActiveAlert(ctx, assessment.PatientID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, &domain.PersistenceError{Op: "get active alert", Err: err}
	}

	if active == nil {
		alert := m.buildAlert(assessment, explanation)
		if err := m.store.SaveAlert(ctx, alert); err != nil {
			return nil, &domain.PersistenceError{Op: "create alert", Err: err}
		}
		m.logger.WithFields(logrus.Fields{
			"patient_id": assessment.PatientID,
			"alert_id":   alert.ID,
			"severity":   alert.Severity,
		}).Info("Alert created")
		return &Decision{Created: true, Alert: alert}, nil
	}

	// An active alert exists: only a strictly higher severity touches it.
	if assessment.RiskLevel.Rank() <= severityRank(active.Severity) {
		return &Decision{Alert: active}, nil
	}

	active.Severity = assessment.RiskLevel.AlertSeverity()
	active.RiskSnapshot = assessment
	active.Explanation = summaryText(explanation)
	active.UpdatedAt = time.Now().UTC()
	if m.config.ResetStatusOnEscalation {
		active.Status = domain.AlertNew
	}
	if err := m.store.UpdateAlert(ctx, active); err != nil {
		return nil, &domain.PersistenceError{Op: "re-escalate alert", Err: err}
	}

	m.logger.WithFields(logrus.Fields{
		"patient_id":   assessment.PatientID,
		"alert_id":     active.ID,
		"severity":     active.Severity,
		"status_reset": m.config.ResetStatusOnEscalation,
	}).Info("Alert re-escalated")
	return &Decision{ReEscalated: true, Alert: active}, nil
}

// Transition applies a clinician action moving an alert to the target
// status. Illegal moves return an InputError; unknown alerts ErrNotFound.
func (m *Manager) Transition(ctx context.Context, alertID uuid.UUID, target domain.AlertStatus) (*domain.Alert, error) {
	alert, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	if !alert.Status.CanTransitionTo(target) {
		return nil, domain.NewInputError("status",
			fmt.Sprintf("cannot transition from %s to %s", alert.Status, target))
	}

	alert.Status = target
	alert.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateAlert(ctx, alert); err != nil {
		return nil, &domain.PersistenceError{Op: "transition alert", Err: err}
	}

	m.logger.WithFields(logrus.Fields{
		"alert_id": alert.ID,
		"status":   alert.Status,
	}).Info("Alert transitioned")
	return alert, nil
}

// AttachFeedback records a clinician's rating on an alert. Feedback is
// accepted in any state and never moves the state machine.
func (m *Manager) AttachFeedback(ctx context.Context, alertID uuid.UUID, rating domain.FeedbackRating) (*domain.Alert, error) {
	if !rating.Valid() {
		return nil, domain.NewInputError("feedback", fmt.Sprintf("unknown rating %q", rating))
	}

	alert, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	alert.Feedback = &rating
	alert.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateAlert(ctx, alert); err != nil {
		return nil, &domain.PersistenceError{Op: "attach feedback", Err: err}
	}
	return alert, nil
}

func (m *Manager) buildAlert(assessment *domain.RiskAssessment, explanation *domain.Explanation) *domain.Alert {
	now := time.Now().UTC()
	return &domain.Alert{
		ID:            uuid.New(),
		PatientID:     assessment.PatientID,
		Severity:      assessment.RiskLevel.AlertSeverity(),
		Title:         fmt.Sprintf("%s risk detected", assessment.RiskLevel),
		Explanation:   summaryText(explanation),
		Status:        domain.AlertNew,
		AutoGenerated: true,
		RiskSnapshot:  assessment,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func summaryText(explanation *domain.Explanation) string {
	if explanation == nil || len(explanation.Summary) == 0 {
		return ""
	}
	text := explanation.Summary[0]
	for _, s := range explanation.Summary[1:] {
		text += "; " + s
	}
	return text
}

func severityRank(severity string) int {
	switch severity {
	case "critical":
		return 3
	case "high":
		return 2
	case "medium":
		return 1
	default:
		return 0
	}
}
