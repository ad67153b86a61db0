// Package store implements the durable job table and its state machine.
package store

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/boltonhq/bolton/internal/models"
	"github.com/boltonhq/bolton/internal/registry"
	"gorm.io/gorm"
)

// Sentinel errors for store operations.
var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyClaimed    = errors.New("job already claimed")
	ErrInvalidInput      = errors.New("invalid job input")
)

// validTransitions enumerates the allowed status edges. No edge may skip
// processing on the way to a terminal success or failure.
var validTransitions = map[string][]string{
	models.StatusPending:    {models.StatusProcessing, models.StatusCancelled},
	models.StatusProcessing: {models.StatusCompleted, models.StatusError, models.StatusCancelled},
}

// ValidTransition reports whether from -> to is an allowed status edge.
func ValidTransition(from, to string) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Store wraps the GORM handle and the template catalog used to validate
// job creation input.
type Store struct {
	db       *gorm.DB
	registry *registry.Registry
}

// New creates a Store. The registry may be nil for callers that validate
// integration ids themselves.
func New(db *gorm.DB, reg *registry.Registry) *Store {
	return &Store{db: db, registry: reg}
}

// CreateInput holds parameters for creating a job.
type CreateInput struct {
	Repo         string
	Integrations []string
	Addons       []string
}

// GenerateJobID creates a unique job ID in job-xxxxxxxx format (8-char hex).
func GenerateJobID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("store: generate job ID: %w", err)
	}
	return "job-" + hex.EncodeToString(b), nil
}

// Create validates input, resolves every requested integration and addon in
// the catalog, and persists a new pending job. Nothing is persisted when
// validation fails.
func (s *Store) Create(in CreateInput) (*models.Job, error) {
	if in.Repo == "" {
		return nil, fmt.Errorf("store: %w: repo is required", ErrInvalidInput)
	}
	if len(in.Integrations) == 0 {
		return nil, fmt.Errorf("store: %w: at least one integration is required", ErrInvalidInput)
	}
	seen := make(map[string]bool, len(in.Integrations))
	for _, id := range in.Integrations {
		if seen[id] {
			return nil, fmt.Errorf("store: %w: duplicate integration %q", ErrInvalidInput, id)
		}
		seen[id] = true
	}
	if s.registry != nil {
		if _, err := s.registry.Resolve(in.Integrations); err != nil {
			return nil, fmt.Errorf("store: create: %w", err)
		}
		if _, err := s.registry.Resolve(in.Addons); err != nil {
			return nil, fmt.Errorf("store: create: %w", err)
		}
	}

	id, err := GenerateJobID()
	if err != nil {
		return nil, err
	}
	integrations, err := models.MarshalIDs(in.Integrations)
	if err != nil {
		return nil, err
	}
	addons, err := models.MarshalIDs(in.Addons)
	if err != nil {
		return nil, err
	}

	job := models.Job{
		ID:           id,
		Repo:         in.Repo,
		Integrations: integrations,
		Addons:       addons,
		Status:       models.StatusPending,
	}
	if err := s.db.Create(&job).Error; err != nil {
		return nil, fmt.Errorf("store: create job: %w", err)
	}
	return &job, nil
}

// Get retrieves a job by ID.
func (s *Store) Get(id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Where("id = ?", id).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("store: %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	return &job, nil
}

// List returns jobs ordered by creation time descending, optionally
// filtered by a single status value.
func (s *Store) List(status string) ([]models.Job, error) {
	q := s.db.Order("created_at DESC, id DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var jobs []models.Job
	if err := q.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("store: list jobs: %w", err)
	}
	return jobs, nil
}

// Update merges the given fields into the job and bumps updated_at. A status
// change is validated against the state machine and rejected with
// ErrInvalidTransition, leaving stored state unchanged.
func (s *Store) Update(id string, fields map[string]interface{}) (*models.Job, error) {
	job, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if next, ok := fields["status"].(string); ok {
		if !ValidTransition(job.Status, next) {
			return nil, fmt.Errorf("store: %s -> %s: %w", job.Status, next, ErrInvalidTransition)
		}
	}
	if err := s.db.Model(&models.Job{}).Where("id = ?", id).Updates(fields).Error; err != nil {
		return nil, fmt.Errorf("store: update %s: %w", id, err)
	}
	return s.Get(id)
}
