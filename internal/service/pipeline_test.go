package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-risk-server/internal/alerting"
	"github.com/clinical-risk-server/internal/domain"
	"github.com/clinical-risk-server/internal/model"
	"github.com/clinical-risk-server/internal/trend"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakePatientStore struct {
	mu       sync.Mutex
	patients map[string]*domain.Patient
}

func (s *fakePatientStore) CreatePatient(_ context.Context, p *domain.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = p
	return nil
}

func (s *fakePatientStore) GetPatient(_ context.Context, id string) (*domain.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (s *fakePatientStore) GetPatientByMRN(_ context.Context, _ string) (*domain.Patient, error) {
	return nil, domain.ErrNotFound
}

func (s *fakePatientStore) ListPatients(_ context.Context, _, _ int) ([]*domain.Patient, error) {
	return nil, nil
}

func (s *fakePatientStore) UpdatePatient(_ context.Context, _ *domain.Patient) error { return nil }

func (s *fakePatientStore) DeletePatient(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.patients, id)
	return nil
}

func (s *fakePatientStore) UpdateCurrentRisk(_ context.Context, id string, score float64, level domain.RiskLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.patients[id]; ok {
		p.CurrentRiskScore = score
		p.CurrentRiskLevel = string(level)
	}
	return nil
}

type fakeReadingStore struct {
	mu            sync.Mutex
	readings      []*domain.Reading
	interventions []*domain.InterventionEvent
}

func (s *fakeReadingStore) SaveReading(_ context.Context, r *domain.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, r)
	return nil
}

func (s *fakeReadingStore) SaveReadings(ctx context.Context, readings []*domain.Reading) error {
	for _, r := range readings {
		if err := s.SaveReading(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeReadingStore) GetReadings(_ context.Context, patientID string, metric domain.MetricType) ([]*domain.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Reading
	for _, r := range s.readings {
		if r.PatientID == patientID && r.Metric == metric {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeReadingStore) GetAllReadings(_ context.Context, patientID string) ([]*domain.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Reading
	for _, r := range s.readings {
		if r.PatientID == patientID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

func (s *fakeReadingStore) SaveIntervention(_ context.Context, ev *domain.InterventionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interventions = append(s.interventions, ev)
	return nil
}

func (s *fakeReadingStore) GetInterventions(_ context.Context, patientID string) ([]*domain.InterventionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.InterventionEvent
	for _, ev := range s.interventions {
		if ev.PatientID == patientID {
			out = append(out, ev)
		}
	}
	return out, nil
}

type fakeAssessmentStore struct {
	mu    sync.Mutex
	saved []*domain.RiskAssessment
}

func (s *fakeAssessmentStore) SaveAssessment(_ context.Context, a *domain.RiskAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, a)
	return nil
}

func (s *fakeAssessmentStore) GetLatestAssessment(_ context.Context, patientID string) (*domain.RiskAssessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.saved) - 1; i >= 0; i-- {
		if s.saved[i].PatientID == patientID {
			return s.saved[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeAssessmentStore) GetAssessmentHistory(_ context.Context, patientID string, limit int) ([]*domain.RiskAssessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.RiskAssessment
	for _, a := range s.saved {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type fakeAlertStore struct {
	mu      sync.Mutex
	alerts  map[uuid.UUID]*domain.Alert
	saveErr error
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{alerts: make(map[uuid.UUID]*domain.Alert)}
}

func (s *fakeAlertStore) SaveAlert(_ context.Context, alert *domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	copied := *alert
	s.alerts[alert.ID] = &copied
	return nil
}

func (s *fakeAlertStore) GetAlert(_ context.Context, id uuid.UUID) (*domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *alert
	return &copied, nil
}

func (s *fakeAlertStore) GetActiveAlert(_ context.Context, patientID string) (*domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, alert := range s.alerts {
		if alert.PatientID == patientID && !alert.Status.Terminal() {
			copied := *alert
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeAlertStore) ListAlerts(_ context.Context, _ *domain.AlertStatus, _, _ int) ([]*domain.Alert, error) {
	return nil, nil
}

func (s *fakeAlertStore) ListPatientAlerts(_ context.Context, patientID string) ([]*domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Alert
	for _, alert := range s.alerts {
		if alert.PatientID == patientID {
			out = append(out, alert)
		}
	}
	return out, nil
}

func (s *fakeAlertStore) UpdateAlert(_ context.Context, alert *domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *alert
	s.alerts[alert.ID] = &copied
	return nil
}

type pipelineFixture struct {
	pipeline    *Pipeline
	patients    *fakePatientStore
	readings    *fakeReadingStore
	assessments *fakeAssessmentStore
	alerts      *fakeAlertStore
}

func newPipelineFixture(t *testing.T, modelDir string) *pipelineFixture {
	t.Helper()
	logger := testLogger()

	registry := model.NewRegistry(modelDir, logger)
	f := &pipelineFixture{
		patients:    &fakePatientStore{patients: make(map[string]*domain.Patient)},
		readings:    &fakeReadingStore{},
		assessments: &fakeAssessmentStore{},
		alerts:      newFakeAlertStore(),
	}

	f.pipeline = NewPipeline(
		logger,
		trend.NewExtractor(logger),
		NewRiskScorer(logger, registry, testModelConfig()),
		NewExplanationEngine(logger),
		NewVelocityClassifier(logger, 5),
		alerting.NewManager(domain.AlertingConfig{}, logger, f.alerts),
		f.patients,
		f.readings,
		f.assessments,
	)
	return f
}

func seedGlucoseScenario(t *testing.T, f *pipelineFixture) {
	t.Helper()
	require.NoError(t, f.patients.CreatePatient(context.Background(), &domain.Patient{
		ID:   "patient-1",
		Name: "J. Doe",
		Age:  52,
		Sex:  "M",
	}))

	values := []struct {
		value float64
		at    time.Time
	}{
		{110, time.Date(2023, time.January, 15, 0, 0, 0, 0, time.UTC)},
		{118, time.Date(2023, time.July, 15, 0, 0, 0, 0, time.UTC)},
		{126, time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)},
		{142, time.Date(2024, time.July, 15, 0, 0, 0, 0, time.UTC)},
	}
	for _, v := range values {
		require.NoError(t, f.readings.SaveReading(context.Background(), &domain.Reading{
			ID:         uuid.New(),
			PatientID:  "patient-1",
			Metric:     domain.MetricGlucose,
			Value:      v.value,
			Unit:       "mg/dL",
			RecordedAt: v.at,
		}))
	}
}

func TestComputeRisk_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeModelArtifact(t, dir, domain.ModelDiabetes)
	f := newPipelineFixture(t, dir)
	seedGlucoseScenario(t, f)

	response, err := f.pipeline.ComputeRisk(context.Background(), "patient-1")
	require.NoError(t, err)

	assert.Equal(t, "patient-1", response.PatientID)
	assert.Equal(t, domain.RiskHigh, response.RiskLevel)
	assert.Equal(t, string(domain.ModelDiabetes), response.ModelUsed)
	assert.Contains(t, response.Explanation.Summary, "Blood glucose increased 29% over 18 months")
	assert.True(t, response.AlertCreated)
	assert.Empty(t, response.AlertError)
	assert.Equal(t, domain.VelocityUnknown, response.Velocity)

	// Exactly one NEW auto-generated high alert.
	alerts, err := f.alerts.ListPatientAlerts(context.Background(), "patient-1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertNew, alerts[0].Status)
	assert.True(t, alerts[0].AutoGenerated)
	assert.Equal(t, "high", alerts[0].Severity)

	// History was appended and the denormalized patient risk updated.
	assert.Len(t, f.assessments.saved, 1)
	patient, err := f.patients.GetPatient(context.Background(), "patient-1")
	require.NoError(t, err)
	assert.Equal(t, string(domain.RiskHigh), patient.CurrentRiskLevel)
}

func TestComputeRisk_FallbackWithoutArtifacts(t *testing.T) {
	f := newPipelineFixture(t, t.TempDir())
	seedGlucoseScenario(t, f)

	response, err := f.pipeline.ComputeRisk(context.Background(), "patient-1")
	require.NoError(t, err)

	assert.Equal(t, domain.ModelRuleBasedFallback, response.ModelUsed)
	assert.InDelta(t, 0.45, response.RiskScore, 1e-9)
	assert.Equal(t, domain.RiskMedium, response.RiskLevel)
	assert.False(t, response.AlertCreated)
}

func TestComputeRisk_NoReadings(t *testing.T) {
	f := newPipelineFixture(t, t.TempDir())
	require.NoError(t, f.patients.CreatePatient(context.Background(), &domain.Patient{ID: "patient-1", Age: 52}))

	_, err := f.pipeline.ComputeRisk(context.Background(), "patient-1")
	require.Error(t, err)
	assert.True(t, domain.IsInputError(err))
	assert.Empty(t, f.assessments.saved)
}

func TestComputeRisk_UnknownPatient(t *testing.T) {
	f := newPipelineFixture(t, t.TempDir())
	_, err := f.pipeline.ComputeRisk(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestComputeRisk_AlertWriteFailureKeepsAssessment(t *testing.T) {
	dir := t.TempDir()
	writeModelArtifact(t, dir, domain.ModelDiabetes)
	f := newPipelineFixture(t, dir)
	seedGlucoseScenario(t, f)
	f.alerts.saveErr = errors.New("connection refused")

	response, err := f.pipeline.ComputeRisk(context.Background(), "patient-1")
	require.NoError(t, err)

	assert.False(t, response.AlertCreated)
	assert.Contains(t, response.AlertError, "connection refused")
	assert.Equal(t, domain.RiskHigh, response.RiskLevel)
	// The assessment itself was still persisted.
	assert.Len(t, f.assessments.saved, 1)
}

func TestComputeRisk_ConcurrentRecomputesDeduplicate(t *testing.T) {
	dir := t.TempDir()
	writeModelArtifact(t, dir, domain.ModelDiabetes)
	f := newPipelineFixture(t, dir)
	seedGlucoseScenario(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.pipeline.ComputeRisk(context.Background(), "patient-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	alerts, err := f.alerts.ListPatientAlerts(context.Background(), "patient-1")
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
	assert.Len(t, f.assessments.saved, 8)
}

func TestComputeRisk_VelocityFromHistory(t *testing.T) {
	dir := t.TempDir()
	writeModelArtifact(t, dir, domain.ModelDiabetes)
	f := newPipelineFixture(t, dir)
	seedGlucoseScenario(t, f)

	first, err := f.pipeline.ComputeRisk(context.Background(), "patient-1")
	require.NoError(t, err)
	assert.Equal(t, domain.VelocityUnknown, first.Velocity)

	second, err := f.pipeline.ComputeRisk(context.Background(), "patient-1")
	require.NoError(t, err)
	// Identical inputs score identically, so the trajectory is flat.
	assert.Equal(t, domain.VelocityStable, second.Velocity)
	assert.InDelta(t, 0, second.VelocityDailyChange, 1e-9)
}

func TestPipeline_Velocity(t *testing.T) {
	f := newPipelineFixture(t, t.TempDir())
	ctx := context.Background()
	for _, score := range []float64{0.30, 0.45, 0.60} {
		require.NoError(t, f.assessments.SaveAssessment(ctx, &domain.RiskAssessment{
			ID:        uuid.New(),
			PatientID: "patient-1",
			RiskScore: score,
		}))
	}

	result, err := f.pipeline.Velocity(ctx, "patient-1")
	require.NoError(t, err)
	assert.Equal(t, domain.VelocityRapidDeterioration, result.Category)
}
