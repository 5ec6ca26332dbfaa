package domain

import (
	"time"

	"github.com/google/uuid"
)

// Reading is a single episodic clinical measurement. Readings are immutable
// once created; series ordering is by RecordedAt.
type Reading struct {
	ID         uuid.UUID  `json:"id"`
	PatientID  string     `json:"patient_id"`
	Metric     MetricType `json:"metric_type"`
	Value      float64    `json:"value"`
	Value2     *float64   `json:"value2,omitempty"` // e.g. diastolic for blood pressure
	Unit       string     `json:"unit"`
	RecordedAt time.Time  `json:"recorded_at"`
	Source     string     `json:"source"`
}

// InterventionEvent is a medication or clinical-note event used to compute
// medication delay. Note rows with note_type "medication" qualify.
type InterventionEvent struct {
	PatientID  string    `json:"patient_id"`
	Kind       string    `json:"kind"` // medication, note
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// TrendFeatureSet is the fixed-shape feature record derived from one metric's
// chronological reading series. It is a pure function of the series and is
// recomputed on every assessment, never persisted.
type TrendFeatureSet struct {
	Metric              MetricType     `json:"metric"`
	Direction           TrendDirection `json:"direction"`
	PercentChange       float64        `json:"percent_change"`
	SlopePerDay         float64        `json:"slope_per_day"`
	DurationMonths      int            `json:"duration_months"`
	Persistence         bool           `json:"persistence"`
	MedicationDelayDays *int           `json:"medication_delay_days,omitempty"`

	// LowReliability marks series that cannot support a trustworthy trend:
	// a single reading, or a zero baseline that forced percent_change to 0.
	LowReliability bool `json:"low_reliability"`
}

// ContributingFactor is one trend feature judged material enough to surface
// in the human-readable explanation.
type ContributingFactor struct {
	Feature     string         `json:"feature"`
	DisplayName string         `json:"display_name"`
	Value       float64        `json:"value"`
	Severity    FactorSeverity `json:"severity"`
	Explanation string         `json:"explanation"`
}

// Explanation is the deterministic, template-generated rationale attached to
// an assessment.
type Explanation struct {
	Summary             []string             `json:"summary"`
	ContributingFactors []ContributingFactor `json:"contributing_factors"`
}

// RiskAssessment is the authoritative output of one risk computation.
// Per-patient history is append-only, ordered by ComputedAt.
type RiskAssessment struct {
	ID        uuid.UUID `json:"id"`
	PatientID string    `json:"patient_id"`
	RiskScore float64   `json:"risk_score"`
	RiskLevel RiskLevel `json:"risk_level"`

	// Confidence is the boundary margin of the score (distance to the
	// nearest level boundary), not calibrated predictive uncertainty.
	Confidence float64 `json:"confidence"`

	ModelUsed           string               `json:"model_used"`
	RoutingReason       string               `json:"routing_reason,omitempty"`
	ContributingFactors []ContributingFactor `json:"contributing_factors"`
	ComputedAt          time.Time            `json:"computed_at"`
}

// Alert is the single authoritative alert for a patient. At most one alert
// per patient may be in a non-terminal status at any time.
type Alert struct {
	ID            uuid.UUID       `json:"id"`
	PatientID     string          `json:"patient_id"`
	Severity      string          `json:"severity"`
	Title         string          `json:"title"`
	Explanation   string          `json:"explanation"`
	Status        AlertStatus     `json:"status"`
	AutoGenerated bool            `json:"auto_generated"`
	RiskSnapshot  *RiskAssessment `json:"risk_snapshot,omitempty"`
	Feedback      *FeedbackRating `json:"feedback,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// VelocityResult is the trajectory classification of a patient's risk-score
// history. Informational only; it never drives alerting.
type VelocityResult struct {
	Category    VelocityCategory `json:"category"`
	DailyChange float64          `json:"daily_change"`
}

// Demographics is the demographic context fed to the scorer.
type Demographics struct {
	Age int    `json:"age"`
	Sex string `json:"sex"` // M, F
}

// Patient is the demographic record with the denormalized current risk.
type Patient struct {
	ID               string    `json:"id"`
	MRN              string    `json:"mrn"`
	Name             string    `json:"name"`
	Age              int       `json:"age"`
	Sex              string    `json:"sex"`
	Location         string    `json:"location,omitempty"`
	CurrentRiskScore float64   `json:"current_risk_score"`
	CurrentRiskLevel string    `json:"current_risk_level"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Demographics returns the scoring view of the patient record.
func (p *Patient) Demographics() Demographics {
	return Demographics{Age: p.Age, Sex: p.Sex}
}

// ClinicalNote is a clinician-authored observation or medication event.
type ClinicalNote struct {
	ID        uuid.UUID `json:"id"`
	PatientID string    `json:"patient_id"`
	NoteType  string    `json:"note_type"` // observation, consultation, procedure, medication
	Content   string    `json:"content"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// User is an authenticated clinician or administrator.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Role         string    `json:"role"` // doctor, nurse, admin
	CreatedAt    time.Time `json:"created_at"`
}

// RiskResponse is the canonical JSON shape returned by risk computation
// endpoints.
type RiskResponse struct {
	PatientID           string           `json:"patient_id"`
	RiskScore           float64          `json:"risk_score"`
	RiskLevel           RiskLevel        `json:"risk_level"`
	Confidence          float64          `json:"confidence"`
	ModelUsed           string           `json:"model_used"`
	Explanation         Explanation      `json:"explanation"`
	Velocity            VelocityCategory `json:"velocity"`
	VelocityDailyChange float64          `json:"velocity_daily_change"`
	ComputedAt          string           `json:"computed_at"`
	AlertCreated        bool             `json:"alert_created"`
	AlertError          string           `json:"alert_error,omitempty"`
}
