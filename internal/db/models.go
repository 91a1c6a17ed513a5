package db

import (
	"time"

	"gorm.io/gorm"
)

// Run is one CLI action executed against a host group.
type Run struct {
	gorm.Model
	RunID      string `gorm:"uniqueIndex"`
	Action     string
	Image      string
	Tag        string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []HostResult
}

// Succeeded reports whether every host succeeded.
func (r *Run) Succeeded() bool {
	for _, res := range r.Results {
		if !res.Success {
			return false
		}
	}
	return true
}

// HostResult is the outcome of a run on one host.
type HostResult struct {
	gorm.Model
	RunID       uint `gorm:"index"`
	Host        string
	Success     bool
	Message     string
	ContainerID string
	PublicPort  string
}
