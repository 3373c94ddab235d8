package domain

import (
	"errors"
	"io"
	"strings"
	"time"
)

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition encodes the forward-only job state machine:
// pending -> processing -> {completed, failed}. A pending job may
// also fail directly (validation happens before a record exists, but
// restart recovery and dispatch errors may fail a job that never ran).
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// ErrorKind classifies a terminal failure recorded on a job.
type ErrorKind string

const (
	KindTransformation ErrorKind = "transformation_error"
	KindTimeout        ErrorKind = "timeout"
	KindInterrupted    ErrorKind = "interrupted_by_restart"
)

type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// FilterSpec selects which elements survive filtering. The tokens are
// opaque to the job engine; only the splitting engine interprets them.
type FilterSpec struct {
	GUIDs   []string `json:"guids,omitempty"`
	Types   []string `json:"ifc_types,omitempty"`
	Storeys []string `json:"storeys,omitempty"`
}

// Normalize trims whitespace, drops empty tokens, and removes
// duplicates while preserving first-seen order.
func (f FilterSpec) Normalize() FilterSpec {
	return FilterSpec{
		GUIDs:   normalizeTokens(f.GUIDs),
		Types:   normalizeTokens(f.Types),
		Storeys: normalizeTokens(f.Storeys),
	}
}

func (f FilterSpec) Empty() bool {
	return len(f.GUIDs) == 0 && len(f.Types) == 0 && len(f.Storeys) == 0
}

func normalizeTokens(in []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

type Job struct {
	ID     string    `json:"id"`
	Status JobStatus `json:"status"`

	Filter FilterSpec `json:"filter"`

	OriginalName   string `json:"original_name"`
	InputFilename  string `json:"input_filename"`
	OutputFilename string `json:"output_filename,omitempty"`

	CallbackURL string `json:"callback_url,omitempty"`

	Error *JobError `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SubmitParams struct {
	OriginalName string
	Filter       FilterSpec
	CallbackURL  string
}

type SubmitResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type StatusResponse struct {
	JobID       string    `json:"job_id"`
	Status      JobStatus `json:"status"`
	DownloadURL string    `json:"download_url,omitempty"`
	OutputFile  string    `json:"output_file,omitempty"`
	Error       *JobError `json:"error,omitempty"`
}

type HealthResponse struct {
	Status     string `json:"status"`
	ActiveJobs int    `json:"active_jobs"`
	Capacity   int    `json:"capacity"`
	UploadDir  string `json:"upload_dir"`
	OutputDir  string `json:"output_dir"`
	StateDir   string `json:"state_dir"`
}

type DownloadResult struct {
	FileName string
	Size     int64
	Content  io.ReadCloser
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobFailed         = errors.New("job failed")
	ErrJobNotReady       = errors.New("job not ready")
	ErrDuplicateJob      = errors.New("job id already exists")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrEmptyFilter       = errors.New("filter selects nothing: provide at least one guid, type, or storey")
)
