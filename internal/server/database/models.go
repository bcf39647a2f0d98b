package database

import (
	"encoding/json"
	"time"
)

// User is a registered account. Users are provisioned out of band.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Visibility controls who may download a short link.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// ShortLink represents a published FCS file.
type ShortLink struct {
	ID             int64
	Slug           string
	OriginalFile   string
	StoredFilename string
	Filesize       int64
	CreatedAt      time.Time
	FCSVersion     string
	PnN            string // comma-joined $PnN channel names
	EventCount     int64
	Visibility     Visibility
	UserID         *int64 // nil for anonymous uploads
}

// JobStatus is the state of a statistics job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// StatisticsJob tracks one asynchronous statistics computation.
type StatisticsJob struct {
	JobID     string
	Status    JobStatus
	Result    json.RawMessage // set only when completed
	Error     string          // set only when failed
	CreatedAt time.Time
	UpdatedAt time.Time
}
