package jobstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ifcsplit/internal/domain"
)

// fileStore keeps one JSON document per job under dir. Every mutation
// is written to a temp file and renamed into place before the index is
// updated, so a partially written record is never observable. The
// in-memory index is rebuilt from the directory on startup.
type fileStore struct {
	dir string

	mu   sync.RWMutex
	jobs map[string]domain.Job
}

func NewFileStore(dir string) (*fileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("state dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	s := &fileStore{
		dir:  dir,
		jobs: make(map[string]domain.Job),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// reload rebuilds the index from disk. A job found in processing state
// belonged to a previous process that died mid-execution; the in-flight
// work is gone, so the record is force-failed rather than resumed.
func (s *fileStore) reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read state dir: %w", err)
	}

	recovered := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return fmt.Errorf("read job record %s: %w", e.Name(), err)
		}
		var job domain.Job
		if err := json.Unmarshal(data, &job); err != nil {
			slog.Warn("skipping unreadable job record",
				slog.String("file", e.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if job.Status == domain.StatusProcessing {
			job.Status = domain.StatusFailed
			job.Error = &domain.JobError{
				Kind:    domain.KindInterrupted,
				Message: "process terminated while job was in flight",
			}
			job.UpdatedAt = time.Now()
			if err := s.persist(job); err != nil {
				return err
			}
			recovered++
		}
		s.jobs[job.ID] = job
	}

	if recovered > 0 {
		slog.Info("recovered interrupted jobs", slog.Int("count", recovered))
	}
	return nil
}

func (s *fileStore) persist(job domain.Job) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}

	fullPath := filepath.Join(s.dir, job.ID+".json")
	tempPath := fullPath + ".tmp-" + fmt.Sprint(time.Now().UnixNano())

	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("write job record: %w", err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("rename job record: %w", err)
	}
	return nil
}

func (s *fileStore) CreateJob(job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return domain.ErrDuplicateJob
	}
	if err := s.persist(job); err != nil {
		return err
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *fileStore) Job(id string) (domain.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false
	}
	return cloneJob(job), true
}

// transition is the single arbiter for status changes: the state
// machine check and the durable write happen under one lock, so two
// workers can never both claim a job or both write its terminal state.
func (s *fileStore) transition(id string, to domain.JobStatus, apply func(*domain.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if !job.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s (job %s)", domain.ErrInvalidTransition, job.Status, to, id)
	}

	job.Status = to
	if apply != nil {
		apply(&job)
	}
	if now := time.Now(); now.After(job.UpdatedAt) {
		job.UpdatedAt = now
	}

	if err := s.persist(job); err != nil {
		return err
	}
	s.jobs[id] = job
	return nil
}

func (s *fileStore) MarkProcessing(id string) error {
	return s.transition(id, domain.StatusProcessing, nil)
}

func (s *fileStore) Complete(id, outputFilename string) error {
	return s.transition(id, domain.StatusCompleted, func(j *domain.Job) {
		j.OutputFilename = outputFilename
		j.Error = nil
	})
}

func (s *fileStore) Fail(id string, kind domain.ErrorKind, message string) error {
	return s.transition(id, domain.StatusFailed, func(j *domain.Job) {
		j.OutputFilename = ""
		j.Error = &domain.JobError{Kind: kind, Message: message}
	})
}

// PendingJobs returns up to limit pending jobs in dispatch order:
// oldest created_at first, equal timestamps broken by id. The result
// is a snapshot taken under the read lock.
func (s *fileStore) PendingJobs(limit int) []domain.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []domain.Job
	for _, job := range s.jobs {
		if job.Status == domain.StatusPending {
			pending = append(pending, cloneJob(job))
		}
	}
	sortByCreation(pending)

	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending
}

func (s *fileStore) Jobs() []domain.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, cloneJob(job))
	}
	sortByCreation(out)
	return out
}

func (s *fileStore) ActiveJobs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, job := range s.jobs {
		if job.Status == domain.StatusProcessing {
			n++
		}
	}
	return n
}

// DeleteTerminalBefore removes terminal job records created before the
// cutoff and returns the removed jobs so the caller can delete their
// staged and output files. Pending and processing jobs are never touched.
func (s *fileStore) DeleteTerminalBefore(cutoff time.Time) []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []domain.Job
	for id, job := range s.jobs {
		if !job.Status.Terminal() || !job.CreatedAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, id+".json")); err != nil && !os.IsNotExist(err) {
			slog.Warn("delete job record",
				slog.String("job_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		delete(s.jobs, id)
		removed = append(removed, job)
	}
	return removed
}

func sortByCreation(jobs []domain.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}

func cloneJob(job domain.Job) domain.Job {
	if job.Error != nil {
		e := *job.Error
		job.Error = &e
	}
	return job
}
