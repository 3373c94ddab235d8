package filestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// FileStore is one storage area. Both the local-disk and the MinIO
// backends implement it.
type FileStore interface {
	Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error)
	Open(ctx context.Context, filename string) (io.ReadCloser, int64, error)
	Localize(ctx context.Context, filename string) (string, func(), error)
	Delete(ctx context.Context, filename string) error
	CleanupOlderThan(ctx context.Context, maxAge time.Duration) error
}

// Manager owns the two storage areas of the service: staged uploads
// and materialized results. Every entry is named deterministically from
// its owning job id, so names are collision-free by construction and
// orphaned files can be reconciled against job records after a restart.
type Manager struct {
	uploads FileStore
	outputs FileStore
}

func NewManager(uploads, outputs FileStore) *Manager {
	return &Manager{uploads: uploads, outputs: outputs}
}

func InputName(jobID string) string {
	return jobID + ".ifc"
}

func OutputName(jobID string) string {
	return jobID + "_filtered.ifc"
}

// StageUpload persists an uploaded payload under the job-keyed input
// name. It runs before the job record is created so the input location
// is already valid at create time.
func (m *Manager) StageUpload(ctx context.Context, reader io.Reader, jobID string, size int64) (string, int64, error) {
	filename := InputName(jobID)
	written, _, err := m.uploads.Save(ctx, reader, filename, size)
	if err != nil {
		return "", 0, fmt.Errorf("stage upload: %w", err)
	}
	return filename, written, nil
}

// LocalizeInput returns a local path for a staged upload, downloading
// it to scratch space when the backend is remote.
func (m *Manager) LocalizeInput(ctx context.Context, filename string) (string, func(), error) {
	return m.uploads.Localize(ctx, filename)
}

// MaterializeOutput moves a produced file into the output area under
// the job-keyed result name and returns that name.
func (m *Manager) MaterializeOutput(ctx context.Context, jobID, producedPath string) (string, error) {
	f, err := os.Open(producedPath)
	if err != nil {
		return "", fmt.Errorf("open produced file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat produced file: %w", err)
	}

	filename := OutputName(jobID)
	if _, _, err := m.outputs.Save(ctx, f, filename, info.Size()); err != nil {
		return "", fmt.Errorf("materialize output: %w", err)
	}
	return filename, nil
}

func (m *Manager) OpenOutput(ctx context.Context, filename string) (io.ReadCloser, int64, error) {
	return m.outputs.Open(ctx, filename)
}

// DeleteJobFiles removes both sides of a job's storage. Missing files
// are not an error; retention may run after partial failures.
func (m *Manager) DeleteJobFiles(ctx context.Context, inputFilename, outputFilename string) error {
	if inputFilename != "" {
		if err := m.uploads.Delete(ctx, inputFilename); err != nil {
			return err
		}
	}
	if outputFilename != "" {
		if err := m.outputs.Delete(ctx, outputFilename); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) CleanupOlderThan(ctx context.Context, maxAge time.Duration) error {
	if err := m.uploads.CleanupOlderThan(ctx, maxAge); err != nil {
		return err
	}
	return m.outputs.CleanupOlderThan(ctx, maxAge)
}
