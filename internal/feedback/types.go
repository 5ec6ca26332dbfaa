// Package feedback provides durable storage for clinician feedback on alerts.
// Entries form an audit trail that outlives the alert itself and can be
// exported for offline review of alerting quality.
package feedback

import (
	"context"
	"io"
	"time"

	"github.com/clinical-risk-server/internal/domain"
)

// Entry is one clinician's verdict on a generated alert.
type Entry struct {
	ID            int64                 `json:"id,omitempty"`
	AlertID       string                `json:"alert_id"`
	PatientID     string                `json:"patient_id"`
	AssessedLevel string                `json:"assessed_level"`     // risk level the alert carried
	Rating        domain.FeedbackRating `json:"rating"`             // helpful | not_helpful
	Reviewer      string                `json:"reviewer,omitempty"` // clinician email
	Notes         string                `json:"notes,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// Store defines the interface for feedback storage operations.
type Store interface {
	// Save stores or updates feedback for an alert. A second rating for the
	// same alert overwrites the first.
	Save(ctx context.Context, entry *Entry) error

	// Get retrieves the feedback recorded for an alert, or nil if none.
	Get(ctx context.Context, alertID string) (*Entry, error)

	// List returns all feedback entries with pagination, newest first.
	List(ctx context.Context, limit, offset int) ([]*Entry, error)

	// Count returns the total number of feedback entries.
	Count(ctx context.Context) (int64, error)

	// Delete removes a feedback entry by ID.
	Delete(ctx context.Context, id int64) error

	// ExportJSON exports all feedback to a JSON writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON imports feedback from a JSON reader.
	// Returns the number of imported and skipped entries.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close closes the store and releases resources.
	Close() error
}

// Export represents the JSON export format.
type Export struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
	Feedback   []*Entry  `json:"feedback"`
}
