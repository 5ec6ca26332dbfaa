package feedback

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-risk-server/internal/domain"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "feedback-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)

	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "Database file should exist")
}

func TestSQLiteStore_Save(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	entry := &Entry{
		AlertID:       "4f1c1f4e-9f1d-4a6a-9a51-1d2f3b4c5d6e",
		PatientID:     "patient-001",
		AssessedLevel: "HIGH",
		Rating:        domain.FeedbackHelpful,
		Reviewer:      "dr.okafor@example.org",
		Notes:         "Caught a real deterioration",
	}

	err := store.Save(ctx, entry)

	require.NoError(t, err)
	assert.NotZero(t, entry.ID, "ID should be assigned")
	assert.False(t, entry.CreatedAt.IsZero(), "CreatedAt should be set")
	assert.False(t, entry.UpdatedAt.IsZero(), "UpdatedAt should be set")
}

func TestSQLiteStore_Save_InvalidRating(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	entry := &Entry{
		AlertID:   "alert-bad",
		PatientID: "patient-001",
		Rating:    domain.FeedbackRating("meh"),
	}

	err := store.Save(context.Background(), entry)
	assert.Error(t, err)
}

func TestSQLiteStore_Save_Update(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	entry := &Entry{
		AlertID:       "alert-123",
		PatientID:     "patient-002",
		AssessedLevel: "CRITICAL",
		Rating:        domain.FeedbackHelpful,
	}
	err := store.Save(ctx, entry)
	require.NoError(t, err)
	originalID := entry.ID

	// A second rating for the same alert overwrites the first.
	entry.Rating = domain.FeedbackNotHelpful
	entry.Notes = "Downgraded after chart review"

	err = store.Save(ctx, entry)
	require.NoError(t, err)

	assert.Equal(t, originalID, entry.ID, "Should update existing record")

	retrieved, err := store.Get(ctx, "alert-123")
	require.NoError(t, err)
	assert.Equal(t, domain.FeedbackNotHelpful, retrieved.Rating)
	assert.Equal(t, "Downgraded after chart review", retrieved.Notes)
}

func TestSQLiteStore_Get_NotFound(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	retrieved, err := store.Get(context.Background(), "no-such-alert")
	require.NoError(t, err)
	assert.Nil(t, retrieved)
}

func TestSQLiteStore_List_Pagination(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		entry := &Entry{
			AlertID:       "alert-" + string(rune('a'+i)),
			PatientID:     "patient-003",
			AssessedLevel: "HIGH",
			Rating:        domain.FeedbackHelpful,
		}
		require.NoError(t, store.Save(ctx, entry))
		time.Sleep(5 * time.Millisecond) // distinct created_at ordering
	}

	page1, err := store.List(ctx, 3, 0)
	require.NoError(t, err)
	assert.Len(t, page1, 3)

	page2, err := store.List(ctx, 3, 3)
	require.NoError(t, err)
	assert.Len(t, page2, 2)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	entry := &Entry{
		AlertID:   "alert-del",
		PatientID: "patient-004",
		Rating:    domain.FeedbackNotHelpful,
	}
	require.NoError(t, store.Save(ctx, entry))

	require.NoError(t, store.Delete(ctx, entry.ID))

	retrieved, err := store.Get(ctx, "alert-del")
	require.NoError(t, err)
	assert.Nil(t, retrieved)
}

func TestSQLiteStore_ExportImportJSON(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	entries := []*Entry{
		{AlertID: "alert-x", PatientID: "p-1", AssessedLevel: "HIGH", Rating: domain.FeedbackHelpful},
		{AlertID: "alert-y", PatientID: "p-2", AssessedLevel: "CRITICAL", Rating: domain.FeedbackNotHelpful, Notes: "vitals were stale"},
	}
	for _, entry := range entries {
		require.NoError(t, store.Save(ctx, entry))
	}

	var buf bytes.Buffer
	require.NoError(t, store.ExportJSON(ctx, &buf))
	assert.Contains(t, buf.String(), "alert-x")
	assert.Contains(t, buf.String(), "not_helpful")

	// Import into a fresh store.
	other := createTestStore(t)
	defer other.Close()

	imported, skipped, err := other.ImportJSON(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, imported)
	assert.Equal(t, 0, skipped)

	// A second import skips everything.
	imported, skipped, err = other.ImportJSON(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 0, imported)
	assert.Equal(t, 2, skipped)
}

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "feedback-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := NewSQLiteStore(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	return store
}
