// Package model loads risk-model artifacts and runs inference. Artifacts are
// loaded once at process start and are immutable afterwards, shared read-only
// across all concurrent computations.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Artifact is the on-disk representation of a trained logistic-regression
// risk model: feature order, standardization parameters, and coefficients.
type Artifact struct {
	Model     string    `json:"model"`
	Version   string    `json:"version"`
	Features  []string  `json:"features"`
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
	Scaler    Scaler    `json:"scaler"`
}

// Scaler holds per-feature standardization parameters.
type Scaler struct {
	Mean   []float64 `json:"mean"`
	StdDev []float64 `json:"std_dev"`
}

// Model is a loaded, validated artifact ready for inference.
type Model struct {
	artifact Artifact
}

// LoadArtifact reads and validates a model artifact from disk.
func LoadArtifact(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading artifact %s: %w", path, err)
	}

	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("parsing artifact %s: %w", path, err)
	}

	n := len(artifact.Features)
	if n == 0 {
		return nil, fmt.Errorf("artifact %s declares no features", path)
	}
	if len(artifact.Weights) != n {
		return nil, fmt.Errorf("artifact %s: %d weights for %d features", path, len(artifact.Weights), n)
	}
	if len(artifact.Scaler.Mean) != n || len(artifact.Scaler.StdDev) != n {
		return nil, fmt.Errorf("artifact %s: scaler shape does not match features", path)
	}

	return &Model{artifact: artifact}, nil
}

// Name returns the artifact's model name.
func (m *Model) Name() string {
	return m.artifact.Model
}

// Version returns the artifact's version string.
func (m *Model) Version() string {
	return m.artifact.Version
}

// Features returns the ordered feature names the model consumes.
func (m *Model) Features() []string {
	return m.artifact.Features
}

// Score runs logistic-regression inference over the given feature values
// and returns a probability in [0,1]. Missing features score as zero.
// Identical inputs always produce identical outputs.
func (m *Model) Score(features map[string]float64) float64 {
	z := m.artifact.Intercept
	for i, name := range m.artifact.Features {
		x := features[name]
		if sd := m.artifact.Scaler.StdDev[i]; sd != 0 {
			x = (x - m.artifact.Scaler.Mean[i]) / sd
		}
		z += m.artifact.Weights[i] * x
	}
	return sigmoid(z)
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
