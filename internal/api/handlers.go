package api

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/clinical-risk-server/internal/auth"
	"github.com/clinical-risk-server/internal/domain"
	"github.com/clinical-risk-server/internal/feedback"
	"github.com/clinical-risk-server/internal/middleware"
	"github.com/clinical-risk-server/internal/service"
)

// maxImportSize bounds CSV upload payloads to 10 MiB.
const maxImportSize = 10 << 20

// writeError maps domain errors onto HTTP status codes with a uniform body.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, domain.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case domain.IsInputError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	default:
		s.deps.Logger.WithFields(logrus.Fields{
			"correlation_id": c.GetString("correlation_id"),
			"path":           c.Request.URL.Path,
		}).WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// --- auth ---

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	token, user, err := s.deps.Auth.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user": gin.H{
			"id":    user.ID,
			"email": user.Email,
			"name":  user.Name,
			"role":  user.Role,
		},
	})
}

// --- patients ---

type createPatientRequest struct {
	MRN      string `json:"mrn" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Age      int    `json:"age" binding:"required,gte=0,lte=130"`
	Sex      string `json:"sex" binding:"required,oneof=M F"`
	Location string `json:"location"`
}

func (s *Server) handleCreatePatient(c *gin.Context) {
	var req createPatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	patient := &domain.Patient{
		ID:       uuid.New().String(),
		MRN:      req.MRN,
		Name:     req.Name,
		Age:      req.Age,
		Sex:      req.Sex,
		Location: req.Location,
	}
	if err := s.deps.Patients.CreatePatient(c.Request.Context(), patient); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, patient)
}

func (s *Server) handleListPatients(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	patients, err := s.deps.Patients.ListPatients(c.Request.Context(), limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"patients": patients, "count": len(patients)})
}

func (s *Server) handleGetPatient(c *gin.Context) {
	patient, err := s.deps.Patients.GetPatient(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, patient)
}

// handleDeletePatient removes a patient and everything hanging off them;
// the schema cascades readings, assessments, alerts, and notes.
func (s *Server) handleDeletePatient(c *gin.Context) {
	patientID := c.Param("id")

	if err := s.deps.Patients.DeletePatient(c.Request.Context(), patientID); err != nil {
		s.writeError(c, err)
		return
	}
	s.deps.Cache.Invalidate(c.Request.Context(), patientID)

	c.Status(http.StatusNoContent)
}

// --- readings ---

type readingRequest struct {
	Metric     domain.MetricType `json:"metric_type" binding:"required"`
	Value      float64           `json:"value" binding:"required"`
	Value2     *float64          `json:"value2"`
	Unit       string            `json:"unit"`
	RecordedAt time.Time         `json:"recorded_at" binding:"required"`
}

type addReadingsRequest struct {
	Readings []readingRequest `json:"readings" binding:"required,min=1,dive"`
}

func (s *Server) handleGetReadings(c *gin.Context) {
	patientID := c.Param("id")

	var (
		readings []*domain.Reading
		err      error
	)
	if metric := c.Query("metric"); metric != "" {
		readings, err = s.deps.Readings.GetReadings(c.Request.Context(), patientID, domain.MetricType(metric))
	} else {
		readings, err = s.deps.Readings.GetAllReadings(c.Request.Context(), patientID)
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"readings": readings, "count": len(readings)})
}

// handleAddReadings ingests readings and recomputes the patient's risk in the
// same request, so the response always reflects the new data.
func (s *Server) handleAddReadings(c *gin.Context) {
	patientID := c.Param("id")

	var req addReadingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := s.deps.Patients.GetPatient(c.Request.Context(), patientID); err != nil {
		s.writeError(c, err)
		return
	}

	now := time.Now()
	readings := make([]*domain.Reading, 0, len(req.Readings))
	for _, r := range req.Readings {
		if r.RecordedAt.After(now) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "recorded_at may not be in the future"})
			return
		}
		readings = append(readings, &domain.Reading{
			ID:         uuid.New(),
			PatientID:  patientID,
			Metric:     r.Metric,
			Value:      r.Value,
			Value2:     r.Value2,
			Unit:       r.Unit,
			RecordedAt: r.RecordedAt.UTC(),
			Source:     "api",
		})
	}

	if err := s.deps.Readings.SaveReadings(c.Request.Context(), readings); err != nil {
		s.writeError(c, err)
		return
	}
	s.deps.Cache.Invalidate(c.Request.Context(), patientID)

	risk, err := s.deps.Pipeline.ComputeRisk(c.Request.Context(), patientID)
	if err != nil {
		// The readings are saved; report the stored count with the
		// computation problem rather than failing the whole request.
		c.JSON(http.StatusCreated, gin.H{
			"readings_created": len(readings),
			"risk_error":       err.Error(),
		})
		return
	}
	s.deps.Cache.Set(c.Request.Context(), patientID, risk)

	c.JSON(http.StatusCreated, gin.H{
		"readings_created": len(readings),
		"risk":             risk,
	})
}

// --- risk ---

func (s *Server) handleComputeRisk(c *gin.Context) {
	patientID := c.Param("id")

	risk, err := s.deps.Pipeline.ComputeRisk(c.Request.Context(), patientID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.deps.Cache.Set(c.Request.Context(), patientID, risk)

	c.JSON(http.StatusOK, risk)
}

// handleGetRisk serves the last computed response, preferring the cache and
// falling back to the latest stored assessment. The fallback rebuilds the
// same response shape the compute path returns, so clients see one contract
// regardless of where the answer came from.
func (s *Server) handleGetRisk(c *gin.Context) {
	patientID := c.Param("id")

	if risk, ok := s.deps.Cache.Get(c.Request.Context(), patientID); ok {
		c.JSON(http.StatusOK, risk)
		return
	}

	assessment, err := s.deps.Assessments.GetLatestAssessment(c.Request.Context(), patientID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	velocity, err := s.deps.Pipeline.Velocity(c.Request.Context(), patientID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	explanation := service.RehydrateExplanation(assessment.ContributingFactors, assessment.RiskLevel)

	c.JSON(http.StatusOK, &domain.RiskResponse{
		PatientID:           assessment.PatientID,
		RiskScore:           assessment.RiskScore,
		RiskLevel:           assessment.RiskLevel,
		Confidence:          assessment.Confidence,
		ModelUsed:           assessment.ModelUsed,
		Explanation:         *explanation,
		Velocity:            velocity.Category,
		VelocityDailyChange: velocity.DailyChange,
		ComputedAt:          assessment.ComputedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleRiskHistory(c *gin.Context) {
	patientID := c.Param("id")
	limit := queryInt(c, "limit", 20)

	history, err := s.deps.Assessments.GetAssessmentHistory(c.Request.Context(), patientID, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history, "count": len(history)})
}

func (s *Server) handleTrends(c *gin.Context) {
	patientID := c.Param("id")
	ctx := c.Request.Context()

	readings, err := s.deps.Readings.GetAllReadings(ctx, patientID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if len(readings) == 0 {
		c.JSON(http.StatusOK, gin.H{"trends": gin.H{}})
		return
	}

	interventions, err := s.deps.Readings.GetInterventions(ctx, patientID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	sets, err := s.deps.Extractor.ExtractAll(readings, interventions)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trends": sets})
}

func (s *Server) handleVelocity(c *gin.Context) {
	velocity, err := s.deps.Pipeline.Velocity(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, velocity)
}

// --- notes ---

type addNoteRequest struct {
	NoteType string `json:"note_type" binding:"required,oneof=observation consultation procedure medication"`
	Content  string `json:"content" binding:"required"`
}

func (s *Server) handleGetNotes(c *gin.Context) {
	notes, err := s.deps.Notes.GetNotes(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": notes, "count": len(notes)})
}

// handleAddNote stores a note. Medication notes double as intervention events
// for medication-delay computation, so those also land in the interventions
// table and invalidate the cached risk.
func (s *Server) handleAddNote(c *gin.Context) {
	patientID := c.Param("id")

	var req addNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := s.deps.Patients.GetPatient(c.Request.Context(), patientID); err != nil {
		s.writeError(c, err)
		return
	}

	note := &domain.ClinicalNote{
		ID:        uuid.New(),
		PatientID: patientID,
		NoteType:  req.NoteType,
		Content:   req.Content,
		CreatedBy: c.GetString(middleware.ContextEmail),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.deps.Notes.SaveNote(c.Request.Context(), note); err != nil {
		s.writeError(c, err)
		return
	}

	if req.NoteType == "medication" {
		event := &domain.InterventionEvent{
			PatientID:  patientID,
			Kind:       "medication",
			Detail:     req.Content,
			OccurredAt: note.CreatedAt,
		}
		if err := s.deps.Readings.SaveIntervention(c.Request.Context(), event); err != nil {
			s.writeError(c, err)
			return
		}
		s.deps.Cache.Invalidate(c.Request.Context(), patientID)
	}

	c.JSON(http.StatusCreated, note)
}

// --- alerts ---

func (s *Server) handleListAlerts(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	var status *domain.AlertStatus
	if raw := c.Query("status"); raw != "" {
		st := domain.AlertStatus(raw)
		status = &st
	}

	alerts, err := s.deps.AlertStore.ListAlerts(c.Request.Context(), status, limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) handlePatientAlerts(c *gin.Context) {
	alerts, err := s.deps.AlertStore.ListPatientAlerts(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) handleGetAlert(c *gin.Context) {
	alertID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}

	alert, err := s.deps.AlertStore.GetAlert(c.Request.Context(), alertID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

type alertTransitionRequest struct {
	Status domain.AlertStatus `json:"status" binding:"required"`
}

func (s *Server) handleAlertTransition(c *gin.Context) {
	alertID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}

	var req alertTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}

	alert, err := s.deps.Alerts.Transition(c.Request.Context(), alertID, req.Status)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

type alertFeedbackRequest struct {
	Rating domain.FeedbackRating `json:"rating" binding:"required"`
	Notes  string                `json:"notes"`
}

// handleAlertFeedback attaches the rating to the alert and records the
// verdict in the feedback audit store.
func (s *Server) handleAlertFeedback(c *gin.Context) {
	alertID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}

	var req alertFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rating is required"})
		return
	}

	alert, err := s.deps.Alerts.AttachFeedback(c.Request.Context(), alertID, req.Rating)
	if err != nil {
		s.writeError(c, err)
		return
	}

	if s.deps.Feedback != nil {
		entry := &feedback.Entry{
			AlertID:       alert.ID.String(),
			PatientID:     alert.PatientID,
			AssessedLevel: alert.Severity,
			Rating:        req.Rating,
			Reviewer:      c.GetString(middleware.ContextEmail),
			Notes:         req.Notes,
		}
		if err := s.deps.Feedback.Save(c.Request.Context(), entry); err != nil {
			// The alert already carries the rating; the audit copy is
			// best-effort.
			s.deps.Logger.WithError(err).Warn("Failed to record feedback audit entry")
		}
	}

	c.JSON(http.StatusOK, alert)
}

// --- import ---

func (s *Server) handleImportPreview(c *gin.Context) {
	file, err := s.importFile(c)
	if err != nil {
		return
	}
	defer file.Close()

	preview, err := s.deps.Importer.PreviewImport(file)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

// handleImportExecute commits the file and recomputes risk for every patient
// it touched.
func (s *Server) handleImportExecute(c *gin.Context) {
	file, err := s.importFile(c)
	if err != nil {
		return
	}
	defer file.Close()

	result, err := s.deps.Importer.Execute(c.Request.Context(), file)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !result.Success {
		c.JSON(http.StatusUnprocessableEntity, result)
		return
	}

	recomputed := make(map[string]*domain.RiskResponse, len(result.AffectedPatientIDs))
	for _, patientID := range result.AffectedPatientIDs {
		s.deps.Cache.Invalidate(c.Request.Context(), patientID)
		risk, err := s.deps.Pipeline.ComputeRisk(c.Request.Context(), patientID)
		if err != nil {
			s.deps.Logger.WithField("patient_id", patientID).WithError(err).Warn("Risk recompute after import failed")
			continue
		}
		s.deps.Cache.Set(c.Request.Context(), patientID, risk)
		recomputed[patientID] = risk
	}

	c.JSON(http.StatusOK, gin.H{
		"import":     result,
		"recomputed": recomputed,
	})
}

// importFile extracts the uploaded CSV, writing the error response itself on
// failure.
func (s *Server) importFile(c *gin.Context) (multipart.File, error) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
		return nil, err
	}
	if header.Size > maxImportSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds 10MiB limit"})
		return nil, errors.New("file too large")
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read uploaded file"})
		return nil, err
	}
	return file, nil
}

// --- ops ---

func (s *Server) handleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Cache.GetStats())
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return fallback
	}
	return val
}
