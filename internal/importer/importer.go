// Package importer handles bulk CSV ingest of clinical readings. It enforces
// a strict column schema with physiological range checks, supports a
// non-committing preview, and reports the patients affected by a committed
// import so their risk can be recomputed.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/clinical-risk-server/internal/domain"
)

// requiredColumns must be present and non-empty in every row.
var requiredColumns = []string{"mrn", "timestamp"}

// columnRule describes the accepted range and unit for one CSV data column.
type columnRule struct {
	Min    float64
	Max    float64
	Unit   string
	Metric domain.MetricType
}

// dataColumns maps CSV column names to validation rules. Diastolic is folded
// into the blood pressure reading of its sibling systolic column.
var dataColumns = map[string]columnRule{
	"systolic":    {Min: 50, Max: 250, Unit: "mmHg", Metric: domain.MetricBloodPressure},
	"diastolic":   {Min: 30, Max: 150, Unit: "mmHg", Metric: domain.MetricBloodPressure},
	"heart_rate":  {Min: 30, Max: 250, Unit: "bpm", Metric: domain.MetricHeartRate},
	"temperature": {Min: 35.0, Max: 42.0, Unit: "°C", Metric: domain.MetricTemperature},
	"glucose":     {Min: 40, Max: 600, Unit: "mg/dL", Metric: domain.MetricGlucose},
	"cholesterol": {Min: 80, Max: 500, Unit: "mg/dL", Metric: domain.MetricCholesterol},
}

// columnOrder fixes the iteration order over dataColumns so row errors and
// generated readings are deterministic.
var columnOrder = []string{"glucose", "systolic", "diastolic", "cholesterol", "heart_rate", "temperature"}

// RowResult is the validation outcome for one CSV row.
type RowResult struct {
	RowIndex int               `json:"row_index"` // 1-based, excluding header
	IsValid  bool              `json:"is_valid"`
	Errors   []string          `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
	Original map[string]string `json:"original_data"`
}

// Preview summarizes a dry-run validation of an entire file.
type Preview struct {
	TotalRows   int         `json:"total_rows"`
	ValidRows   int         `json:"valid_rows"`
	InvalidRows int         `json:"invalid_rows"`
	Columns     []string    `json:"columns"`
	Details     []RowResult `json:"details"`
}

// Result reports a committed import.
type Result struct {
	Success            bool     `json:"success"`
	RecordsCreated     int      `json:"records_count"`
	AffectedPatientIDs []string `json:"affected_patient_ids,omitempty"`
	Errors             []string `json:"errors,omitempty"`
}

// parsedRow holds the validated values of one row.
type parsedRow struct {
	MRN       string
	Timestamp time.Time
	Values    map[string]float64
}

// Importer validates and commits CSV clinical data.
type Importer struct {
	patients domain.PatientStore
	readings domain.ReadingStore
	logger   *logrus.Logger
	now      func() time.Time
}

// New creates an importer backed by the given stores.
func New(patients domain.PatientStore, readings domain.ReadingStore, logger *logrus.Logger) *Importer {
	return &Importer{
		patients: patients,
		readings: readings,
		logger:   logger,
		now:      time.Now,
	}
}

// parseCSV reads the file into string-keyed rows using the header line.
func (im *Importer) parseCSV(r io.Reader) ([]map[string]string, []string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CSV header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.ToLower(header[i]))
	}

	var rows []map[string]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse CSV row %d: %w", len(rows)+2, err)
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, header, nil
}

// validateRow checks one row against the schema and physiological rules.
func (im *Importer) validateRow(row map[string]string) (parsedRow, RowResult) {
	result := RowResult{Original: row}
	parsed := parsedRow{Values: map[string]float64{}}

	for _, col := range requiredColumns {
		if strings.TrimSpace(row[col]) == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("Missing required column: %s", col))
			return parsed, result
		}
	}
	parsed.MRN = strings.TrimSpace(row["mrn"])

	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(row["timestamp"]))
	if err != nil {
		// Accept date-time without zone as a convenience.
		ts, err = time.Parse("2006-01-02T15:04:05", strings.TrimSpace(row["timestamp"]))
	}
	if err != nil {
		result.Errors = append(result.Errors,
			fmt.Sprintf("Invalid timestamp format (expected ISO 8601): %s", row["timestamp"]))
	} else {
		if ts.After(im.now()) {
			result.Errors = append(result.Errors, "Timestamp is in the future")
		}
		parsed.Timestamp = ts.UTC()
	}

	hasData := false
	for _, col := range columnOrder {
		raw := strings.TrimSpace(row[col])
		if raw == "" {
			continue
		}
		rule := dataColumns[col]
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Invalid numeric value for %s: %s", col, raw))
			continue
		}
		parsed.Values[col] = val
		hasData = true

		if val < rule.Min || val > rule.Max {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s value %g outside typical range (%g-%g)", col, val, rule.Min, rule.Max))
		}
	}

	if !hasData {
		result.Errors = append(result.Errors, "Row contains no valid clinical data")
	}

	if systolic, ok := parsed.Values["systolic"]; ok {
		if diastolic, ok := parsed.Values["diastolic"]; ok && systolic <= diastolic {
			result.Errors = append(result.Errors,
				fmt.Sprintf("Systolic (%g) must be greater than diastolic (%g)", systolic, diastolic))
		}
	}

	result.IsValid = len(result.Errors) == 0
	return parsed, result
}

// PreviewImport validates the file without writing anything.
func (im *Importer) PreviewImport(r io.Reader) (*Preview, error) {
	rows, columns, err := im.parseCSV(r)
	if err != nil {
		return nil, &domain.InputError{Field: "file", Message: err.Error()}
	}

	preview := &Preview{
		TotalRows: len(rows),
		Columns:   columns,
	}
	for i, row := range rows {
		_, result := im.validateRow(row)
		result.RowIndex = i + 1
		if result.IsValid {
			preview.ValidRows++
		} else {
			preview.InvalidRows++
		}
		preview.Details = append(preview.Details, result)
	}
	return preview, nil
}

// Execute validates the whole file, and only if every row passes writes all
// readings in one batch. Any invalid row rejects the entire import.
func (im *Importer) Execute(ctx context.Context, r io.Reader) (*Result, error) {
	rows, _, err := im.parseCSV(r)
	if err != nil {
		return nil, &domain.InputError{Field: "file", Message: err.Error()}
	}
	if len(rows) == 0 {
		return nil, &domain.InputError{Field: "file", Message: "file contains no data rows"}
	}

	var (
		readings     []*domain.Reading
		errs         []string
		affected     []string
		affectedSet  = map[string]bool{}
		patientByMRN = map[string]*domain.Patient{}
	)

	for i, row := range rows {
		parsed, result := im.validateRow(row)
		if !result.IsValid {
			errs = append(errs, fmt.Sprintf("Row %d: %s", i+1, strings.Join(result.Errors, "; ")))
			continue
		}

		patient, ok := patientByMRN[parsed.MRN]
		if !ok {
			patient, err = im.patients.GetPatientByMRN(ctx, parsed.MRN)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					errs = append(errs, fmt.Sprintf("Row %d: Patient with MRN %q not found", i+1, parsed.MRN))
					continue
				}
				return nil, fmt.Errorf("failed to look up patient %q: %w", parsed.MRN, err)
			}
			patientByMRN[parsed.MRN] = patient
		}

		rowReadings := buildReadings(patient.ID, parsed)
		readings = append(readings, rowReadings...)
		if len(rowReadings) > 0 && !affectedSet[patient.ID] {
			affectedSet[patient.ID] = true
			affected = append(affected, patient.ID)
		}
	}

	if len(errs) > 0 {
		return &Result{Success: false, Errors: errs}, nil
	}

	if err := im.readings.SaveReadings(ctx, readings); err != nil {
		return nil, &domain.PersistenceError{Op: "import readings", Err: err}
	}

	im.logger.WithFields(logrus.Fields{
		"records":  len(readings),
		"patients": len(affected),
	}).Info("CSV import committed")

	return &Result{
		Success:            true,
		RecordsCreated:     len(readings),
		AffectedPatientIDs: affected,
	}, nil
}

// buildReadings converts a validated row into domain readings. Systolic and
// diastolic collapse into one blood pressure reading; a systolic value
// without its diastolic sibling is skipped as incomplete.
func buildReadings(patientID string, parsed parsedRow) []*domain.Reading {
	var readings []*domain.Reading
	for _, col := range columnOrder {
		val, ok := parsed.Values[col]
		if !ok || col == "diastolic" {
			continue
		}
		rule := dataColumns[col]

		reading := &domain.Reading{
			ID:         uuid.New(),
			PatientID:  patientID,
			Metric:     rule.Metric,
			Value:      val,
			Unit:       rule.Unit,
			RecordedAt: parsed.Timestamp,
			Source:     "csv_import",
		}
		if col == "systolic" {
			diastolic, ok := parsed.Values["diastolic"]
			if !ok {
				continue
			}
			reading.Value2 = &diastolic
		}
		readings = append(readings, reading)
	}
	return readings
}
