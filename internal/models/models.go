// Package models defines the core entities of the print queue: projects,
// plates, jobs and unavailability windows, plus the derived schedule types
// the scheduler produces.
package models

import "time"

// Project groups plates extracted from a single upload (or a family of
// related uploads) under a user-chosen name.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Plate is one printable unit extracted from an uploaded project file.
type Plate struct {
	ID                        string `json:"id"`
	ProjectID                 string `json:"project_id"`
	SourceFilename            string `json:"source_filename"`
	PlateNumber               int    `json:"plate_number"`
	Name                      string `json:"name"`
	GcodeHandle               string `json:"gcode_handle"`
	EstimatedDurationSeconds  int    `json:"estimated_duration_seconds"`
	ThumbnailHandle           string `json:"thumbnail_handle,omitempty"`
	QuantityNeeded            int    `json:"quantity_needed"`
	Priority                  int    `json:"priority"`
}

// JobStatus is the lifecycle state of a Job. Terminal states are
// Completed and Failed; there are no backward transitions.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusPrinting  JobStatus = "printing"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is one intended execution of a Plate.
type Job struct {
	ID             string     `json:"id"`
	PlateID        string     `json:"plate_id"`
	Status         JobStatus  `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	FailureReason  string     `json:"failure_reason,omitempty"`
}

// UnavailabilityWindow is a user-declared interval during which the
// printer must not be running. Windows may overlap; callers treat them
// as a union.
type UnavailabilityWindow struct {
	ID    string    `json:"id"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ScheduledJob is one entry in a projected timeline. It is derived by the
// scheduler and never persisted.
type ScheduledJob struct {
	JobID                    string    `json:"job_id"`
	PlateID                  string    `json:"plate_id"`
	PlateName                string    `json:"plate_name"`
	PlateNumber              int       `json:"plate_number"`
	SourceFilename           string    `json:"source_filename"`
	ScheduledStart           time.Time `json:"scheduled_start"`
	ScheduledEnd             time.Time `json:"scheduled_end"`
	EstimatedDurationSeconds int       `json:"estimated_duration_seconds"`
	SpansUnavailability      bool      `json:"spans_unavailability"`
	ThumbnailHandle          string    `json:"thumbnail_handle,omitempty"`
}

// ScheduleResult is the scheduler's full output for a single computation.
type ScheduleResult struct {
	Jobs                []ScheduledJob `json:"jobs"`
	ComputedAt          time.Time      `json:"computed_at"`
	CursorAtComputation time.Time      `json:"cursor_at_computation"`
	NextBreakpoint      *time.Time     `json:"next_breakpoint,omitempty"`
}
