package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/clinical-risk-server/internal/domain"
)

// Registry holds the loaded domain models. It is populated once at startup
// and never mutated afterwards; a missing or corrupt artifact leaves its
// slot empty and the rule-based fallback covers for it.
type Registry struct {
	logger *logrus.Logger
	models map[domain.ModelName]*Model
}

// NewRegistry loads every known model artifact from dir. Load failures are
// logged and tolerated; the registry is usable even when empty.
func NewRegistry(dir string, logger *logrus.Logger) *Registry {
	r := &Registry{
		logger: logger,
		models: make(map[domain.ModelName]*Model),
	}

	for _, name := range []domain.ModelName{domain.ModelDiabetes, domain.ModelCardiac, domain.ModelGeneral} {
		path := filepath.Join(dir, fmt.Sprintf("%s_model.json", name))
		m, err := LoadArtifact(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logger.WithField("model", name).Warn("Model artifact not found, fallback will cover")
			} else {
				logger.WithFields(logrus.Fields{
					"model": name,
					"path":  path,
				}).WithError(err).Warn("Failed to load model artifact, fallback will cover")
			}
			continue
		}
		r.models[name] = m
		logger.WithFields(logrus.Fields{
			"model":   name,
			"version": m.Version(),
		}).Info("Loaded model artifact")
	}

	return r
}

// Get returns the named model or a ModelUnavailableError when its artifact
// was not loaded.
func (r *Registry) Get(name domain.ModelName) (*Model, error) {
	m, ok := r.models[name]
	if !ok {
		return nil, &domain.ModelUnavailableError{Model: name, Reason: "artifact not loaded"}
	}
	return m, nil
}

// Available reports whether the named model loaded successfully.
func (r *Registry) Available(name domain.ModelName) bool {
	_, ok := r.models[name]
	return ok
}

// Loaded returns the names of all successfully loaded models.
func (r *Registry) Loaded() []domain.ModelName {
	names := make([]domain.ModelName, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	return names
}
