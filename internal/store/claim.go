package store

import (
	"fmt"
	"time"

	"github.com/boltonhq/bolton/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Claim atomically transitions a pending job to processing. The conditional
// update is the scheduler's sole concurrency-control primitive: when two
// ticks race on the same job, exactly one sees RowsAffected == 1. The loser
// gets ErrAlreadyClaimed and must skip the job silently.
func (s *Store) Claim(id string) (*models.Job, error) {
	var claimed models.Job

	err := s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND status = ?", id, models.StatusPending).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Limit(1).
			Find(&claimed)
		if result.Error != nil {
			return fmt.Errorf("store: find pending job %s: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.Job{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return fmt.Errorf("store: check job %s: %w", id, err)
			}
			if count == 0 {
				return fmt.Errorf("store: %s: %w", id, ErrNotFound)
			}
			return fmt.Errorf("store: %s: %w", id, ErrAlreadyClaimed)
		}

		update := tx.Model(&models.Job{}).
			Where("id = ? AND status = ?", id, models.StatusPending).
			Update("status", models.StatusProcessing)
		if update.Error != nil {
			return fmt.Errorf("store: claim job %s: %w", id, update.Error)
		}
		if update.RowsAffected == 0 {
			return fmt.Errorf("store: %s: %w", id, ErrAlreadyClaimed)
		}
		claimed.Status = models.StatusProcessing
		return nil
	})

	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

// Complete moves a processing job to completed, recording the pull request
// URL, branch, and file count.
func (s *Store) Complete(id, branch, prURL string, filesGenerated int) error {
	if prURL == "" {
		return fmt.Errorf("store: complete %s: pr url is required", id)
	}
	return s.finish(id, models.StatusCompleted, map[string]interface{}{
		"branch":          branch,
		"pr_url":          prURL,
		"files_generated": filesGenerated,
	})
}

// Fail moves a processing job to error with a non-empty failure reason.
func (s *Store) Fail(id, reason string) error {
	if reason == "" {
		reason = "unknown failure"
	}
	return s.finish(id, models.StatusError, map[string]interface{}{
		"error": reason,
	})
}

// MarkCancelled moves a processing job to cancelled. Used by the scheduler
// when it observes a cancellation request between pipeline steps.
func (s *Store) MarkCancelled(id string) error {
	return s.finish(id, models.StatusCancelled, nil)
}

// finish performs a conditional processing -> terminal update.
func (s *Store) finish(id, terminal string, fields map[string]interface{}) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":       terminal,
		"completed_at": &now,
	}
	for k, v := range fields {
		updates[k] = v
	}

	result := s.db.Model(&models.Job{}).
		Where("id = ? AND status = ?", id, models.StatusProcessing).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("store: finish %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		job, err := s.Get(id)
		if err != nil {
			return err
		}
		return fmt.Errorf("store: %s -> %s: %w", job.Status, terminal, ErrInvalidTransition)
	}
	return nil
}

// RequestCancel cancels a pending job immediately, or flags a processing
// job for cooperative cancellation. Terminal jobs reject the request.
func (s *Store) RequestCancel(id string) (*models.Job, error) {
	job, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case models.StatusPending:
		result := s.db.Model(&models.Job{}).
			Where("id = ? AND status = ?", id, models.StatusPending).
			Updates(map[string]interface{}{"status": models.StatusCancelled})
		if result.Error != nil {
			return nil, fmt.Errorf("store: cancel %s: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			// Lost a race with a claim; fall back to the flag.
			return s.flagCancel(id)
		}
		return s.Get(id)
	case models.StatusProcessing:
		return s.flagCancel(id)
	default:
		return nil, fmt.Errorf("store: %s -> %s: %w", job.Status, models.StatusCancelled, ErrInvalidTransition)
	}
}

func (s *Store) flagCancel(id string) (*models.Job, error) {
	if err := s.db.Model(&models.Job{}).Where("id = ?", id).
		Update("cancel_requested", true).Error; err != nil {
		return nil, fmt.Errorf("store: flag cancel %s: %w", id, err)
	}
	return s.Get(id)
}

// CancelRequested reports whether a cancellation request is pending for the job.
func (s *Store) CancelRequested(id string) (bool, error) {
	job, err := s.Get(id)
	if err != nil {
		return false, err
	}
	return job.CancelRequested, nil
}

// SetExplanation attaches best-effort AI enrichment text to a job without
// touching its status.
func (s *Store) SetExplanation(id, text string) error {
	if err := s.db.Model(&models.Job{}).Where("id = ?", id).
		Update("explanation", text).Error; err != nil {
		return fmt.Errorf("store: set explanation %s: %w", id, err)
	}
	return nil
}

// StatusCounts holds job counts per status bucket.
type StatusCounts struct {
	Total      int64 `json:"total"`
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Errors     int64 `json:"errors"`
	Cancelled  int64 `json:"cancelled"`
}

// Counts returns job totals per status bucket.
func (s *Store) Counts() (StatusCounts, error) {
	var counts StatusCounts
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	if err := s.db.Model(&models.Job{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return counts, fmt.Errorf("store: counts: %w", err)
	}
	for _, r := range rows {
		counts.Total += r.N
		switch r.Status {
		case models.StatusPending:
			counts.Pending = r.N
		case models.StatusProcessing:
			counts.Processing = r.N
		case models.StatusCompleted:
			counts.Completed = r.N
		case models.StatusError:
			counts.Errors = r.N
		case models.StatusCancelled:
			counts.Cancelled = r.N
		}
	}
	return counts, nil
}

// ListPending returns claimable jobs oldest first so earlier submissions
// are picked up first.
func (s *Store) ListPending() ([]models.Job, error) {
	var jobs []models.Job
	if err := s.db.Where("status = ?", models.StatusPending).
		Order("created_at ASC, id ASC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("store: list pending: %w", err)
	}
	return jobs, nil
}
