package core

import (
	"time"
)

// Status is the outcome of a job or step execution.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// JobExecution is the persisted audit record of one chain run.
type JobExecution struct {
	ID       string    `gorm:"primaryKey;size:64"`
	Name     string    `gorm:"index;size:128;not null"`
	Status   Status    `gorm:"size:16"`
	Comment  *string   `gorm:"type:text"`
	Started  time.Time `gorm:"index"`
	Finished time.Time
}

// StepExecution is the persisted audit record of one traced chain step.
//
// PreviousID links to the step that precedes it in execution order, so the
// chain can be rebuilt even when async steps finish out of timestamp order.
type StepExecution struct {
	ID         string    `gorm:"primaryKey;size:64"`
	JobID      string    `gorm:"index;size:64;not null"`
	Name       string    `gorm:"size:128;not null"`
	Status     Status    `gorm:"size:16"`
	Comment    *string   `gorm:"type:text"`
	Started    time.Time
	Finished   time.Time
	PreviousID *string `gorm:"size:64"`
}

// DescribesOutcome is implemented by step payloads and step callables able to
// summarize what they did. The summary is stored with the execution, keep it short.
type DescribesOutcome interface {
	DescribeOutcome() string
}

// StringPtr returns nil for an empty string, a pointer to s otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
