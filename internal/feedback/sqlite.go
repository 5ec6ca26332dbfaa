package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/clinical-risk-server/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite feedback store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEntry scans a row into an Entry struct.
func scanEntry(s scanner) (*Entry, error) {
	entry := &Entry{}
	var rating string

	err := s.Scan(
		&entry.ID, &entry.AlertID, &entry.PatientID, &entry.AssessedLevel,
		&rating, &entry.Reviewer, &entry.Notes,
		&entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Rating = domain.FeedbackRating(rating)
	return entry, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS alert_feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		alert_id TEXT NOT NULL,
		patient_id TEXT NOT NULL,
		assessed_level TEXT NOT NULL DEFAULT '',
		rating TEXT NOT NULL,
		reviewer TEXT DEFAULT '',
		notes TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(alert_id)
	);

	CREATE INDEX IF NOT EXISTS idx_feedback_patient ON alert_feedback(patient_id);
	CREATE INDEX IF NOT EXISTS idx_feedback_rating ON alert_feedback(rating);
	CREATE INDEX IF NOT EXISTS idx_feedback_created_at ON alert_feedback(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Save stores or updates feedback for an alert.
func (s *SQLiteStore) Save(ctx context.Context, entry *Entry) error {
	if !entry.Rating.Valid() {
		return fmt.Errorf("invalid rating %q", entry.Rating)
	}

	now := time.Now()

	var existingID int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM alert_feedback WHERE alert_id = ?",
		entry.AlertID,
	).Scan(&existingID)

	if err == nil {
		// Update existing
		entry.ID = existingID
		entry.UpdatedAt = now

		_, err = s.db.ExecContext(ctx, `
			UPDATE alert_feedback SET
				patient_id = ?,
				assessed_level = ?,
				rating = ?,
				reviewer = ?,
				notes = ?,
				updated_at = ?
			WHERE id = ?
		`,
			entry.PatientID,
			entry.AssessedLevel,
			string(entry.Rating),
			entry.Reviewer,
			entry.Notes,
			now,
			existingID,
		)
		return err
	}

	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to check existing: %w", err)
	}

	// Insert new
	entry.CreatedAt = now
	entry.UpdatedAt = now

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_feedback (
			alert_id, patient_id, assessed_level, rating,
			reviewer, notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.AlertID,
		entry.PatientID,
		entry.AssessedLevel,
		string(entry.Rating),
		entry.Reviewer,
		entry.Notes,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	entry.ID = id

	return nil
}

// Get retrieves the feedback recorded for an alert.
func (s *SQLiteStore) Get(ctx context.Context, alertID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, alert_id, patient_id, assessed_level,
			rating, reviewer, notes, created_at, updated_at
		FROM alert_feedback
		WHERE alert_id = ?
		LIMIT 1
	`, alertID)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return entry, nil
}

// List returns all feedback entries with pagination.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, alert_id, patient_id, assessed_level,
			rating, reviewer, notes, created_at, updated_at
		FROM alert_feedback
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

// Count returns the total number of feedback entries.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_feedback").Scan(&count)
	return count, err
}

// Delete removes a feedback entry by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM alert_feedback WHERE id = ?", id)
	return err
}

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

// ExportJSON exports all feedback to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list feedback: %w", err)
	}

	export := &Export{
		Version:    "1.0",
		ExportedAt: time.Now(),
		Count:      len(all),
		Feedback:   all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// ImportJSON imports feedback from a JSON reader.
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	var export Export
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, entry := range export.Feedback {
		existing, err := s.Get(ctx, entry.AlertID)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}

		if existing != nil {
			skipped++
			continue
		}

		if err := s.Save(ctx, entry); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}

	return imported, skipped, nil
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
