package models

import "time"

// JobStatus is the ExecutionJob lifecycle from spec.md §3. A job is owned
// exclusively by one worker while RUNNING — at most one worker may hold a
// given JobID in JobRunning at a time.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether status ends the job's lifecycle.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// ExecutionJob is one unit of message-processing work queued onto C9's
// worker pool. Priority orders dequeue within the ready set (higher first);
// NextAttemptAt defers dequeue until a retry backoff elapses.
type ExecutionJob struct {
	JobID          string        `json:"job_id"`
	ConversationID string        `json:"conversation_id"`
	MessageID      string        `json:"message_id"`
	Principal      AuthPrincipal `json:"principal"`
	Status         JobStatus     `json:"status"`
	Attempts       int           `json:"attempts"`
	NextAttemptAt  time.Time     `json:"next_attempt_at,omitempty"`
	Priority       int           `json:"priority"`
	Payload        []byte        `json:"payload,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Ready reports whether the job's backoff has elapsed and it is eligible for
// dequeue at the given instant.
func (j *ExecutionJob) Ready(now time.Time) bool {
	return j.NextAttemptAt.IsZero() || !j.NextAttemptAt.After(now)
}
