package domain

import (
	"time"
)

// JobID is a unique identifier for a download job.
type JobID string

// String returns the string representation of the JobID.
func (id JobID) String() string {
	return string(id)
}

// JobStatus represents the current state of a download job.
type JobStatus string

const (
	JobStatusFetchingInfo JobStatus = "fetching_info"
	JobStatusDownloading  JobStatus = "downloading"
	JobStatusDelivering   JobStatus = "delivering"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
	JobStatusCancelled    JobStatus = "cancelled"
)

// Delivery describes how a finished job reached the user.
type Delivery string

const (
	DeliveryInline Delivery = "inline"
	DeliveryHosted Delivery = "hosted"
)

// Job tracks one download from URL to delivery.
type Job struct {
	ID        JobID
	ChatID    int64
	URL       string
	Platform  Platform
	Status    JobStatus
	Delivery  Delivery
	Token     string
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewJob creates a new job for a URL.
func NewJob(id JobID, chatID int64, url string, platform Platform) *Job {
	now := time.Now()
	return &Job{
		ID:        id,
		ChatID:    chatID,
		URL:       url,
		Platform:  platform,
		Status:    JobStatusFetchingInfo,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Done reports whether the job reached a terminal status.
func (j *Job) Done() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// MarkDownloading updates the job status to downloading.
func (j *Job) MarkDownloading() {
	j.Status = JobStatusDownloading
	j.UpdatedAt = time.Now()
}

// MarkDelivering updates the job status to delivering.
func (j *Job) MarkDelivering() {
	j.Status = JobStatusDelivering
	j.UpdatedAt = time.Now()
}

// MarkCompleted records how the result was delivered.
func (j *Job) MarkCompleted(d Delivery, token string) {
	j.Status = JobStatusCompleted
	j.Delivery = d
	j.Token = token
	j.UpdatedAt = time.Now()
}

// MarkFailed updates the job status to failed with an error message.
func (j *Job) MarkFailed(err string) {
	j.Status = JobStatusFailed
	j.LastError = err
	j.UpdatedAt = time.Now()
}

// MarkCancelled updates the job status to cancelled.
func (j *Job) MarkCancelled() {
	j.Status = JobStatusCancelled
	j.UpdatedAt = time.Now()
}
