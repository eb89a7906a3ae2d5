package domain

import "time"

// JobStatus represents the status of a scheduled fetch job.
// Values include JobStatusPending, JobStatusProcessing, JobStatusCompleted,
// JobStatusFailed, and JobStatusCancelled.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// JobKind identifies the type of work a fetch job carries.
type JobKind string

const (
	// JobKindSocialFetch fetches recent posts for one project across all of
	// its configured platform handles.
	JobKindSocialFetch JobKind = "social_fetch"
)

// FetchJob is one unit of scheduled fetch work for a project. The distributor
// guarantees that no two pending jobs of the same kind exist for the same
// project at once.
type FetchJob struct {
	ID           string     `gorm:"type:text;primaryKey" json:"id"`
	ProjectID    string     `gorm:"type:text;not null;index:idx_jobs_project_kind" json:"project_id"`
	Kind         JobKind    `gorm:"type:text;not null;index:idx_jobs_project_kind" json:"kind"`
	Status       JobStatus  `gorm:"type:text;not null;index:idx_jobs_status_due;default:pending" json:"status"`
	ScheduledFor time.Time  `gorm:"not null;index:idx_jobs_status_due" json:"scheduled_for"`
	Attempts     int        `gorm:"default:0" json:"attempts"`
	LastError    string     `gorm:"type:text" json:"last_error,omitempty"`
	Result       Metadata   `gorm:"type:text" json:"result"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName returns the database table name for FetchJob.
func (FetchJob) TableName() string {
	return "fetch_jobs"
}

// Terminal reports whether the job has reached a terminal status.
func (j *FetchJob) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}
