package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Job status constants.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
	StatusCancelled  = "cancelled"
)

// Job is the core work item in Bolton: one request to apply a set of
// integrations to a target repository and publish the result as a pull request.
type Job struct {
	ID              string `gorm:"primaryKey;size:32"`
	Repo            string `gorm:"size:255;not null;index"`
	Integrations    string `gorm:"type:json"`
	Addons          string `gorm:"type:json"`
	Status          string `gorm:"size:16;default:pending;index"`
	Branch          string `gorm:"size:128"`
	PRURL           string `gorm:"size:255"`
	FilesGenerated  int    `gorm:"default:0"`
	Error           string `gorm:"type:text"`
	Explanation     string `gorm:"type:text"`
	CancelRequested bool   `gorm:"default:false"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// IntegrationIDs unmarshals the Integrations JSON column.
func (j *Job) IntegrationIDs() ([]string, error) {
	return unmarshalIDs(j.Integrations)
}

// AddonIDs unmarshals the Addons JSON column.
func (j *Job) AddonIDs() ([]string, error) {
	return unmarshalIDs(j.Addons)
}

// Terminal reports whether the job has reached a final status.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusError || j.Status == StatusCancelled
}

// MarshalIDs serializes a list of integration or addon IDs for storage.
func MarshalIDs(ids []string) (string, error) {
	if len(ids) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("models: marshal ids: %w", err)
	}
	return string(data), nil
}

func unmarshalIDs(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("models: unmarshal ids: %w", err)
	}
	return ids, nil
}
