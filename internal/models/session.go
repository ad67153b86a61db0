package models

import "time"

// SandboxSession is the durable form of a job-bound sandbox workspace.
// The file tree and pending overlay are stored as JSON objects mapping
// relative path to content. Demo sessions are never persisted.
type SandboxSession struct {
	ID         string `gorm:"primaryKey;size:64"`
	JobID      string `gorm:"size:32;index"`
	Repo       string `gorm:"size:255;not null"`
	Tree       string `gorm:"type:json"`
	Pending    string `gorm:"type:json"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastAccess time.Time
}
