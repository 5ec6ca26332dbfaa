package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/clinical-risk-server/internal/alerting"
	"github.com/clinical-risk-server/internal/domain"
	"github.com/clinical-risk-server/internal/trend"
)

// Pipeline runs the full risk computation for one patient: trend extraction,
// scoring, explanation, history persistence, alerting, and velocity.
// Computations for the same patient are serialized through a keyed lock;
// different patients run fully in parallel.
type Pipeline struct {
	logger      *logrus.Logger
	extractor   *trend.Extractor
	scorer      *RiskScorer
	explainer   *ExplanationEngine
	velocity    *VelocityClassifier
	alerts      *alerting.Manager
	patients    domain.PatientStore
	readings    domain.ReadingStore
	assessments domain.AssessmentStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPipeline creates a new risk pipeline
func NewPipeline(
	logger *logrus.Logger,
	extractor *trend.Extractor,
	scorer *RiskScorer,
	explainer *ExplanationEngine,
	velocity *VelocityClassifier,
	alerts *alerting.Manager,
	patients domain.PatientStore,
	readings domain.ReadingStore,
	assessments domain.AssessmentStore,
) *Pipeline {
	return &Pipeline{
		logger:      logger,
		extractor:   extractor,
		scorer:      scorer,
		explainer:   explainer,
		velocity:    velocity,
		alerts:      alerts,
		patients:    patients,
		readings:    readings,
		assessments: assessments,
		locks:       make(map[string]*sync.Mutex),
	}
}

// patientLock returns the mutex serializing computations for one patient.
func (p *Pipeline) patientLock(patientID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[patientID]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[patientID] = lock
	}
	return lock
}

// ComputeRisk computes and persists a fresh risk assessment for the patient.
// Input problems abort with nothing persisted. A failed alert write does not
// lose the assessment: it is returned with alert_created=false and the error
// message attached.
func (p *Pipeline) ComputeRisk(ctx context.Context, patientID string) (*domain.RiskResponse, error) {
	lock := p.patientLock(patientID)
	lock.Lock()
	defer lock.Unlock()

	patient, err := p.patients.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	readings, err := p.readings.GetAllReadings(ctx, patientID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load readings", Err: err}
	}
	if len(readings) == 0 {
		return nil, domain.NewInputError("readings", "no readings recorded for patient")
	}

	interventions, err := p.readings.GetInterventions(ctx, patientID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load interventions", Err: err}
	}

	sets, err := p.extractor.ExtractAll(readings, interventions)
	if err != nil {
		return nil, err
	}

	outcome := p.scorer.Score(ctx, patient.Demographics(), sets, latestByMetric(readings))
	explanation := p.explainer.Explain(sets, outcome.RiskLevel)

	assessment := &domain.RiskAssessment{
		ID:                  uuid.New(),
		PatientID:           patientID,
		RiskScore:           outcome.RiskScore,
		RiskLevel:           outcome.RiskLevel,
		Confidence:          outcome.Confidence,
		ModelUsed:           outcome.ModelUsed,
		RoutingReason:       outcome.RoutingReason,
		ContributingFactors: explanation.ContributingFactors,
		ComputedAt:          time.Now().UTC(),
	}

	if err := p.assessments.SaveAssessment(ctx, assessment); err != nil {
		return nil, &domain.PersistenceError{Op: "save assessment", Err: err}
	}

	if err := p.patients.UpdateCurrentRisk(ctx, patientID, assessment.RiskScore, assessment.RiskLevel); err != nil {
		// Denormalized display state only; the assessment history is the
		// source of truth.
		p.logger.WithField("patient_id", patientID).WithError(err).Warn("Failed to update denormalized patient risk")
	}

	response := &domain.RiskResponse{
		PatientID:   patientID,
		RiskScore:   assessment.RiskScore,
		RiskLevel:   assessment.RiskLevel,
		Confidence:  assessment.Confidence,
		ModelUsed:   assessment.ModelUsed,
		Explanation: *explanation,
		ComputedAt:  assessment.ComputedAt.Format(time.RFC3339),
	}

	decision, alertErr := p.alerts.HandleAssessment(ctx, assessment, explanation)
	if alertErr != nil {
		p.logger.WithField("patient_id", patientID).WithError(alertErr).Error("Alert write failed after assessment")
		response.AlertError = alertErr.Error()
	} else {
		response.AlertCreated = decision.Created
	}

	history, err := p.assessments.GetAssessmentHistory(ctx, patientID, p.velocity.window)
	if err != nil {
		p.logger.WithField("patient_id", patientID).WithError(err).Warn("Failed to load assessment history for velocity")
		response.Velocity = domain.VelocityUnknown
	} else {
		velocity := p.velocity.ClassifyAssessments(history)
		response.Velocity = velocity.Category
		response.VelocityDailyChange = velocity.DailyChange
	}

	return response, nil
}

// Velocity classifies the patient's persisted risk trajectory without
// computing a new assessment.
func (p *Pipeline) Velocity(ctx context.Context, patientID string) (domain.VelocityResult, error) {
	history, err := p.assessments.GetAssessmentHistory(ctx, patientID, p.velocity.window)
	if err != nil {
		return domain.VelocityResult{}, &domain.PersistenceError{Op: "load assessment history", Err: err}
	}
	return p.velocity.ClassifyAssessments(history), nil
}

// latestByMetric returns the most recent reading value per metric, assuming
// chronological input.
func latestByMetric(readings []*domain.Reading) map[domain.MetricType]float64 {
	latest := make(map[domain.MetricType]float64)
	for _, r := range readings {
		latest[r.Metric] = r.Value
	}
	return latest
}
