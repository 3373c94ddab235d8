package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"ifcsplit/internal/domain"
	"ifcsplit/internal/webhook"

	"github.com/google/uuid"
)

type JobStore interface {
	CreateJob(job domain.Job) error
	Job(id string) (domain.Job, bool)
	ActiveJobs() int
}

type FileManager interface {
	StageUpload(ctx context.Context, reader io.Reader, jobID string, size int64) (string, int64, error)
	OpenOutput(ctx context.Context, filename string) (io.ReadCloser, int64, error)
	DeleteJobFiles(ctx context.Context, inputFilename, outputFilename string) error
}

// Paths is reported by the health endpoint.
type Paths struct {
	UploadDir string
	OutputDir string
	StateDir  string
}

type usecase struct {
	capacity int
	paths    Paths
	store    JobStore
	files    FileManager
}

func New(capacity int, paths Paths, store JobStore, files FileManager) *usecase {
	return &usecase{
		capacity: capacity,
		paths:    paths,
		store:    store,
		files:    files,
	}
}

// Submit validates the upload and filter, stages the payload, and
// creates the pending job record. All failures here are synchronous;
// once the record exists, failures only ever land in the record.
func (uc *usecase) Submit(ctx context.Context, file io.Reader, size int64, p domain.SubmitParams) (domain.Job, error) {
	ext := strings.ToLower(filepath.Ext(p.OriginalName))
	if ext != ".ifc" {
		return domain.Job{}, fmt.Errorf("%w: supported only .ifc files", domain.ErrValidation)
	}

	filter := p.Filter.Normalize()
	if filter.Empty() {
		// Empty filter means the derivative would keep nothing;
		// rejected here rather than burning a worker slot on it.
		return domain.Job{}, fmt.Errorf("%w: provide at least one guid, ifc_type, or storey", domain.ErrValidation)
	}

	if p.CallbackURL != "" {
		if err := webhook.ValidateURL(p.CallbackURL); err != nil {
			return domain.Job{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
	}

	jobID := uuid.NewString()
	inputFilename, written, err := uc.files.StageUpload(ctx, file, jobID, size)
	if err != nil {
		return domain.Job{}, fmt.Errorf("stage upload: %w", err)
	}
	if written == 0 {
		_ = uc.files.DeleteJobFiles(ctx, inputFilename, "")
		return domain.Job{}, fmt.Errorf("%w: uploaded file is empty", domain.ErrValidation)
	}

	now := time.Now()
	job := domain.Job{
		ID:            jobID,
		Status:        domain.StatusPending,
		Filter:        filter,
		OriginalName:  p.OriginalName,
		InputFilename: inputFilename,
		CallbackURL:   p.CallbackURL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := uc.store.CreateJob(job); err != nil {
		if delErr := uc.files.DeleteJobFiles(ctx, inputFilename, ""); delErr != nil {
			slog.Warn("delete staged upload",
				slog.String("job_id", jobID),
				slog.String("error", delErr.Error()),
			)
		}
		return domain.Job{}, fmt.Errorf("create job: %w", err)
	}

	return job, nil
}

func (uc *usecase) GetStatus(ctx context.Context, jobID string) (domain.StatusResponse, error) {
	job, ok := uc.store.Job(jobID)
	if !ok {
		return domain.StatusResponse{}, domain.ErrJobNotFound
	}

	resp := domain.StatusResponse{
		JobID:  job.ID,
		Status: job.Status,
	}

	switch job.Status {
	case domain.StatusCompleted:
		resp.DownloadURL = fmt.Sprintf("/api/v1/jobs/%s/download", job.ID)
		resp.OutputFile = job.OutputFilename
	case domain.StatusFailed:
		resp.Error = job.Error
	}

	return resp, nil
}

func (uc *usecase) GetResultFile(ctx context.Context, jobID string) (domain.DownloadResult, error) {
	job, ok := uc.store.Job(jobID)
	if !ok {
		return domain.DownloadResult{}, domain.ErrJobNotFound
	}

	switch job.Status {
	case domain.StatusCompleted:
		if job.OutputFilename == "" {
			return domain.DownloadResult{}, fmt.Errorf("completed job %s has no output", job.ID)
		}

		f, size, err := uc.files.OpenOutput(ctx, job.OutputFilename)
		if err != nil {
			return domain.DownloadResult{}, fmt.Errorf("open result: %w", err)
		}

		return domain.DownloadResult{
			FileName: "filtered_" + job.ID + ".ifc",
			Size:     size,
			Content:  f,
		}, nil

	case domain.StatusFailed:
		return domain.DownloadResult{}, domain.ErrJobFailed

	default:
		return domain.DownloadResult{}, domain.ErrJobNotReady
	}
}

func (uc *usecase) Health(ctx context.Context) domain.HealthResponse {
	return domain.HealthResponse{
		Status:     "ok",
		ActiveJobs: uc.store.ActiveJobs(),
		Capacity:   uc.capacity,
		UploadDir:  uc.paths.UploadDir,
		OutputDir:  uc.paths.OutputDir,
		StateDir:   uc.paths.StateDir,
	}
}
