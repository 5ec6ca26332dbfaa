package domain

import (
	"context"

	"github.com/google/uuid"
)

// PatientStore defines persistence for patients and their denormalized risk state.
type PatientStore interface {
	CreatePatient(ctx context.Context, patient *Patient) error
	GetPatient(ctx context.Context, id string) (*Patient, error)
	GetPatientByMRN(ctx context.Context, mrn string) (*Patient, error)
	ListPatients(ctx context.Context, limit, offset int) ([]*Patient, error)
	UpdatePatient(ctx context.Context, patient *Patient) error
	UpdateCurrentRisk(ctx context.Context, id string, score float64, level RiskLevel) error
	// DeletePatient removes the patient; dependent rows cascade.
	DeletePatient(ctx context.Context, id string) error
}

// ReadingStore defines persistence for clinical metric readings and
// intervention events.
type ReadingStore interface {
	SaveReading(ctx context.Context, reading *Reading) error
	SaveReadings(ctx context.Context, readings []*Reading) error
	GetReadings(ctx context.Context, patientID string, metric MetricType) ([]*Reading, error)
	GetAllReadings(ctx context.Context, patientID string) ([]*Reading, error)
	SaveIntervention(ctx context.Context, event *InterventionEvent) error
	GetInterventions(ctx context.Context, patientID string) ([]*InterventionEvent, error)
}

// AssessmentStore defines persistence for computed risk assessments.
type AssessmentStore interface {
	SaveAssessment(ctx context.Context, assessment *RiskAssessment) error
	GetLatestAssessment(ctx context.Context, patientID string) (*RiskAssessment, error)
	GetAssessmentHistory(ctx context.Context, patientID string, limit int) ([]*RiskAssessment, error)
}

// AlertStore defines persistence for the alert lifecycle.
type AlertStore interface {
	SaveAlert(ctx context.Context, alert *Alert) error
	GetAlert(ctx context.Context, id uuid.UUID) (*Alert, error)
	// GetActiveAlert returns the patient's single non-dismissed alert,
	// or ErrNotFound when none exists.
	GetActiveAlert(ctx context.Context, patientID string) (*Alert, error)
	ListAlerts(ctx context.Context, status *AlertStatus, limit, offset int) ([]*Alert, error)
	ListPatientAlerts(ctx context.Context, patientID string) ([]*Alert, error)
	UpdateAlert(ctx context.Context, alert *Alert) error
}

// NoteStore defines persistence for free-text clinical notes.
type NoteStore interface {
	SaveNote(ctx context.Context, note *ClinicalNote) error
	GetNotes(ctx context.Context, patientID string) ([]*ClinicalNote, error)
}

// UserStore defines persistence for API users.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	CreateUser(ctx context.Context, user *User) error
}

// ConfigManager defines the interface for configuration management.
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
