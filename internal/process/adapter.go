// internal/process/adapter.go
package process

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a media job.
type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Job captures the metadata the supervisor tracks for logging and auditing.
// It is owned by a single goroutine.
type Job struct {
	ID         string
	Kind       string
	FileID     string
	Status     JobStatus
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

func NewJob(kind, fileID string) *Job {
	return &Job{
		ID:     uuid.NewString(),
		Kind:   kind,
		FileID: fileID,
		Status: JobStatusIdle,
	}
}

// TransitionError reports a lifecycle move the state machine does not allow.
type TransitionError struct {
	From, To JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job cannot move from %s to %s", e.From, e.To)
}

func MarkRunning(j *Job, now time.Time) error {
	if j.Status != JobStatusIdle {
		return &TransitionError{From: j.Status, To: JobStatusRunning}
	}
	j.Status = JobStatusRunning
	j.StartedAt = now
	return nil
}

func MarkSucceeded(j *Job, now time.Time) error {
	if j.Status != JobStatusRunning {
		return &TransitionError{From: j.Status, To: JobStatusSucceeded}
	}
	j.Status = JobStatusSucceeded
	j.FinishedAt = now
	return nil
}

func MarkFailed(j *Job, now time.Time, err error) error {
	if j.Status != JobStatusRunning {
		return &TransitionError{From: j.Status, To: JobStatusFailed}
	}
	j.Status = JobStatusFailed
	j.FinishedAt = now
	if err != nil {
		j.Error = err.Error()
	}
	return nil
}

// Done reports whether the job reached a terminal state.
func (j *Job) Done() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}

// Elapsed is the running time of a finished job, or zero.
func (j *Job) Elapsed() time.Duration {
	if !j.Done() {
		return 0
	}
	return j.FinishedAt.Sub(j.StartedAt)
}
