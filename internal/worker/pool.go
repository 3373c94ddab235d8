package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"ifcsplit/internal/domain"
	"ifcsplit/internal/infra/filestore"
	"ifcsplit/internal/split"

	"golang.org/x/sync/errgroup"
)

type JobStore interface {
	Job(id string) (domain.Job, bool)
	PendingJobs(limit int) []domain.Job
	MarkProcessing(id string) error
	Complete(id, outputFilename string) error
	Fail(id string, kind domain.ErrorKind, message string) error
	DeleteTerminalBefore(cutoff time.Time) []domain.Job
}

type Files interface {
	LocalizeInput(ctx context.Context, filename string) (string, func(), error)
	MaterializeOutput(ctx context.Context, jobID, producedPath string) (string, error)
	DeleteJobFiles(ctx context.Context, inputFilename, outputFilename string) error
	CleanupOlderThan(ctx context.Context, maxAge time.Duration) error
}

type Notifier interface {
	Notify(job domain.Job)
}

// Pool executes pending jobs with bounded concurrency. The store is the
// pending queue: every poll tick the pool claims as many of the oldest
// pending jobs as it has free slots, in submission order. Claiming goes
// through the store's transition check, so a job is dispatched at most
// once even if two pools were ever pointed at the same store.
type Pool struct {
	size         int
	pollInterval time.Duration
	jobTimeout   time.Duration

	store    JobStore
	files    Files
	splitter split.Splitter
	notifier Notifier

	sem chan struct{}
}

func NewPool(
	size int,
	pollInterval time.Duration,
	jobTimeout time.Duration,
	store JobStore,
	files Files,
	splitter split.Splitter,
	notifier Notifier,
) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		size:         size,
		pollInterval: pollInterval,
		jobTimeout:   jobTimeout,
		store:        store,
		files:        files,
		splitter:     splitter,
		notifier:     notifier,
		sem:          make(chan struct{}, size),
	}
}

// Run blocks until ctx is canceled and every in-flight job has
// returned its slot.
func (p *Pool) Run(ctx context.Context) {
	slog.Info("worker pool starting",
		slog.Int("capacity", p.size),
		slog.String("job_timeout", p.jobTimeout.String()),
	)

	var g errgroup.Group
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}

		capacity := p.size - len(p.sem)
		if capacity <= 0 {
			continue
		}

		for _, job := range p.store.PendingJobs(capacity) {
			// Claim synchronously so dispatch order matches
			// submission order and the next poll no longer sees
			// this job as pending.
			if err := p.store.MarkProcessing(job.ID); err != nil {
				if errors.Is(err, domain.ErrInvalidTransition) {
					slog.Error("invariant violation: pending job already claimed",
						slog.String("job_id", job.ID),
						slog.String("error", err.Error()),
					)
					continue
				}
				slog.Warn("claim job",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
				continue
			}

			p.sem <- struct{}{}
			g.Go(func() error {
				defer func() { <-p.sem }()
				p.execute(ctx, job)
				return nil
			})
		}
	}

	_ = g.Wait()
	slog.Info("worker pool stopped")
}

// execute runs one claimed job to a terminal state. The splitter call
// is raced against the per-job deadline; whichever outcome reaches the
// store first wins, the transition check discards the other.
func (p *Pool) execute(ctx context.Context, job domain.Job) {
	logger := slog.With(slog.String("job_id", job.ID))
	logger.Info("job started", slog.String("input", job.InputFilename))

	inputPath, cleanupInput, err := p.files.LocalizeInput(ctx, job.InputFilename)
	if err != nil {
		p.finishFailed(job, domain.KindTransformation, "localize input: "+err.Error())
		return
	}
	defer cleanupInput()

	scratch, err := os.MkdirTemp("", "ifcsplit-work-*")
	if err != nil {
		p.finishFailed(job, domain.KindTransformation, "scratch dir: "+err.Error())
		return
	}
	defer os.RemoveAll(scratch)
	producedPath := filepath.Join(scratch, filestore.OutputName(job.ID))

	runCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	if err := p.splitter.Split(runCtx, inputPath, producedPath, job.Filter); err != nil {
		// A shutdown cancellation is not a job failure: the record
		// stays processing and restart recovery marks it interrupted.
		if ctx.Err() != nil && !errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			logger.Warn("job interrupted by shutdown")
			return
		}
		kind := split.Classify(runCtx, err)
		logger.Warn("job failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		p.finishFailed(job, kind, err.Error())
		return
	}

	outputFilename, err := p.files.MaterializeOutput(ctx, job.ID, producedPath)
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("job interrupted by shutdown")
			return
		}
		p.finishFailed(job, domain.KindTransformation, "materialize output: "+err.Error())
		return
	}

	if err := p.store.Complete(job.ID, outputFilename); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			logger.Error("invariant violation: double terminal write", slog.String("error", err.Error()))
		} else {
			logger.Error("complete job", slog.String("error", err.Error()))
		}
		return
	}

	logger.Info("job completed", slog.String("output", outputFilename))
	p.notifyTerminal(job.ID)
}

func (p *Pool) finishFailed(job domain.Job, kind domain.ErrorKind, message string) {
	if err := p.store.Fail(job.ID, kind, message); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			slog.Error("invariant violation: double terminal write",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		} else {
			slog.Error("fail job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	p.notifyTerminal(job.ID)
}

// notifyTerminal hands the final snapshot to the notifier. The notifier
// delivers asynchronously, so the worker slot is released without
// waiting on the callback endpoint.
func (p *Pool) notifyTerminal(id string) {
	job, ok := p.store.Job(id)
	if !ok || job.CallbackURL == "" {
		return
	}
	p.notifier.Notify(job)
}

// StartCleanup runs the retention janitor: terminal job records older
// than maxAge are deleted together with their staged and output files.
// In-flight and pending jobs are never touched.
func (p *Pool) StartCleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				removed := p.store.DeleteTerminalBefore(now.Add(-maxAge))
				for _, job := range removed {
					if err := p.files.DeleteJobFiles(ctx, job.InputFilename, job.OutputFilename); err != nil {
						slog.Warn("cleanup job files",
							slog.String("job_id", job.ID),
							slog.String("error", err.Error()),
						)
					}
				}
				if len(removed) > 0 {
					slog.Info("cleanup", slog.Int("deleted_jobs", len(removed)))
				}

				// Orphaned files have no owning record; give them twice
				// the retention window before sweeping.
				if err := p.files.CleanupOlderThan(ctx, 2*maxAge); err != nil && !errors.Is(err, context.Canceled) {
					slog.Warn("cleanup old files", slog.String("error", err.Error()))
				}
			}
		}
	}()
}
