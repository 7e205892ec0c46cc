package models

import (
	"fmt"
	"time"
)

// JobState represents the state of a scrape job
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobTimedOut  JobState = "timed_out"
)

var jobTransitions = map[JobState][]JobState{
	JobPending: {JobRunning, JobTimedOut},
	JobRunning: {JobSucceeded, JobFailed, JobTimedOut},
	JobFailed:  {JobPending},
}

// ScrapeJob tracks one adapter call within a search, including its retries
type ScrapeJob struct {
	SiteID     string     `json:"site_id"`
	Query      string     `json:"query"`
	Region     string     `json:"region"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"max_retries"`
	State      JobState   `json:"state"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Err        error      `json:"-"`
}

// NewScrapeJob creates a pending job
func NewScrapeJob(siteID, query, region string, maxRetries int) *ScrapeJob {
	return &ScrapeJob{
		SiteID:     siteID,
		Query:      query,
		Region:     region,
		MaxRetries: maxRetries,
		State:      JobPending,
	}
}

// Transition moves the job to a new state, rejecting regressions
func (j *ScrapeJob) Transition(to JobState) error {
	allowed := false
	for _, s := range jobTransitions[j.State] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("illegal job transition %s -> %s", j.State, to)
	}
	if j.State == JobFailed && to == JobPending && !j.CanRetry() {
		return fmt.Errorf("retry ceiling %d reached for %s", j.MaxRetries, j.SiteID)
	}

	now := time.Now()
	switch to {
	case JobRunning:
		j.Attempts++
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
	case JobSucceeded, JobTimedOut:
		j.FinishedAt = &now
	case JobFailed:
		if !j.CanRetry() {
			j.FinishedAt = &now
		}
	}
	j.State = to
	return nil
}

// Start marks an attempt as running
func (j *ScrapeJob) Start() error {
	return j.Transition(JobRunning)
}

// Succeed marks the job as succeeded
func (j *ScrapeJob) Succeed() error {
	j.Err = nil
	return j.Transition(JobSucceeded)
}

// Fail records the error of the current attempt
func (j *ScrapeJob) Fail(err error) error {
	j.Err = err
	return j.Transition(JobFailed)
}

// TimeOut marks the job as cancelled by the search budget
func (j *ScrapeJob) TimeOut(err error) error {
	if err != nil {
		j.Err = err
	}
	return j.Transition(JobTimedOut)
}

// Retry puts a failed job back in the queue
func (j *ScrapeJob) Retry() error {
	return j.Transition(JobPending)
}

// CanRetry reports whether another attempt is within the retry ceiling
func (j *ScrapeJob) CanRetry() bool {
	return j.Attempts <= j.MaxRetries
}

// IsTerminal returns true if the job will not change state again
func (j *ScrapeJob) IsTerminal() bool {
	switch j.State {
	case JobSucceeded, JobTimedOut:
		return true
	case JobFailed:
		return !j.CanRetry()
	}
	return false
}

// Duration returns the time since the first attempt started
func (j *ScrapeJob) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}

	endTime := time.Now()
	if j.FinishedAt != nil {
		endTime = *j.FinishedAt
	}

	return endTime.Sub(*j.StartedAt)
}

// ErrorMessage returns the last error as text
func (j *ScrapeJob) ErrorMessage() string {
	if j.Err == nil {
		return ""
	}
	return j.Err.Error()
}

// RunStatus maps the terminal state to a recorded run status
func (j *ScrapeJob) RunStatus() RunStatus {
	switch j.State {
	case JobSucceeded:
		return RunSuccess
	case JobTimedOut:
		return RunTimedOut
	default:
		return RunFailed
	}
}
