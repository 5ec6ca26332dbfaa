package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/clinical-risk-server/internal/domain"
)

// NoteRepository handles clinical note persistence
type NoteRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewNoteRepository creates a new note repository
func NewNoteRepository(db *pgxpool.Pool, logger *logrus.Logger) *NoteRepository {
	return &NoteRepository{db: db, log: logger}
}

// SaveNote inserts a clinical note
func (r *NoteRepository) SaveNote(ctx context.Context, note *domain.ClinicalNote) error {
	query := `
		INSERT INTO clinical_notes (id, patient_id, note_type, content, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Exec(ctx, query,
		note.ID, note.PatientID, note.NoteType, note.Content, note.CreatedBy, note.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving note: %w", err)
	}
	return nil
}

// GetNotes retrieves a patient's notes in chronological order
func (r *NoteRepository) GetNotes(ctx context.Context, patientID string) ([]*domain.ClinicalNote, error) {
	query := `
		SELECT id, patient_id, note_type, content, created_by, created_at
		FROM clinical_notes
		WHERE patient_id = $1
		ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	defer rows.Close()

	var notes []*domain.ClinicalNote
	for rows.Next() {
		var note domain.ClinicalNote
		if err := rows.Scan(&note.ID, &note.PatientID, &note.NoteType, &note.Content, &note.CreatedBy, &note.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}
		notes = append(notes, &note)
	}
	return notes, rows.Err()
}

// UserRepository handles user persistence for authentication
type UserRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *pgxpool.Pool, logger *logrus.Logger) *UserRepository {
	return &UserRepository{db: db, log: logger}
}

// GetUserByUsername retrieves a user by email
func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `
		SELECT id, email, password_hash, name, role, created_at
		FROM users
		WHERE email = $1`

	var user domain.User
	err := r.db.QueryRow(ctx, query, username).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Name, &user.Role, &user.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return &user, nil
}

// CreateUser inserts a new user
func (r *UserRepository) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, password_hash, name, role)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query, user.ID, user.Email, user.PasswordHash, user.Name, user.Role)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}
