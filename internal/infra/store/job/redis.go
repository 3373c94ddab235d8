package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"ifcsplit/internal/domain"

	"github.com/redis/go-redis/v9"
)

const transitionRetries = 5

// redisStore is the alternative job record backend: one hash per job
// plus a zset ordered by creation time for FIFO scans. Transitions run
// inside a WATCH transaction so the state machine check and the write
// are atomic with respect to concurrent writers.
type redisStore struct {
	rdb *redis.Client
}

func NewRedisStore(ctx context.Context, rdb *redis.Client) (*redisStore, error) {
	s := &redisStore{rdb: rdb}
	if err := s.recover(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *redisStore) recover(ctx context.Context) error {
	ids, err := s.rdb.ZRange(ctx, jobsByCreatedKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redis recovery scan: %w", err)
	}

	recovered := 0
	for _, id := range ids {
		status, err := s.rdb.HGet(ctx, jobKey(id), "status").Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis recovery read %s: %w", id, err)
		}
		if domain.JobStatus(status) != domain.StatusProcessing {
			continue
		}
		if err := s.fail(ctx, id, domain.KindInterrupted, "process terminated while job was in flight"); err != nil {
			return err
		}
		recovered++
	}

	if recovered > 0 {
		slog.Info("recovered interrupted jobs", slog.Int("count", recovered))
	}
	return nil
}

func (s *redisStore) CreateJob(job domain.Job) error {
	ctx := context.Background()

	exists, err := s.rdb.Exists(ctx, jobKey(job.ID)).Result()
	if err != nil {
		return fmt.Errorf("redis exists: %w", err)
	}
	if exists > 0 {
		return domain.ErrDuplicateJob
	}

	filter, err := json.Marshal(job.Filter)
	if err != nil {
		return fmt.Errorf("marshal filter: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(job.ID), map[string]interface{}{
		"id":              job.ID,
		"status":          string(job.Status),
		"filter":          string(filter),
		"original_name":   job.OriginalName,
		"input_filename":  job.InputFilename,
		"output_filename": job.OutputFilename,
		"callback_url":    job.CallbackURL,
		"error_kind":      "",
		"error_message":   "",
		"created_at":      job.CreatedAt.UnixNano(),
		"updated_at":      job.UpdatedAt.UnixNano(),
	})
	pipe.ZAdd(ctx, jobsByCreatedKey(), redis.Z{
		Score:  float64(job.CreatedAt.UnixMilli()),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline CreateJob: %w", err)
	}
	return nil
}

func (s *redisStore) Job(id string) (domain.Job, bool) {
	res, err := s.rdb.HGetAll(context.Background(), jobKey(id)).Result()
	if err != nil || len(res) == 0 {
		return domain.Job{}, false
	}
	return jobFromHash(id, res), true
}

func (s *redisStore) transition(ctx context.Context, id string, to domain.JobStatus, fields map[string]interface{}) error {
	key := jobKey(id)

	txn := func(tx *redis.Tx) error {
		status, err := tx.HGet(ctx, key, "status").Result()
		if err == redis.Nil {
			return domain.ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("redis read status: %w", err)
		}
		if !domain.JobStatus(status).CanTransition(to) {
			return fmt.Errorf("%w: %s -> %s (job %s)", domain.ErrInvalidTransition, status, to, id)
		}

		fields["status"] = string(to)
		fields["updated_at"] = time.Now().UnixNano()

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			return nil
		})
		return err
	}

	for range transitionRetries {
		err := s.rdb.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: job %s contended beyond retry budget", domain.ErrInvalidTransition, id)
}

func (s *redisStore) MarkProcessing(id string) error {
	return s.transition(context.Background(), id, domain.StatusProcessing, map[string]interface{}{})
}

func (s *redisStore) Complete(id, outputFilename string) error {
	return s.transition(context.Background(), id, domain.StatusCompleted, map[string]interface{}{
		"output_filename": outputFilename,
		"error_kind":      "",
		"error_message":   "",
	})
}

func (s *redisStore) Fail(id string, kind domain.ErrorKind, message string) error {
	return s.fail(context.Background(), id, kind, message)
}

func (s *redisStore) fail(ctx context.Context, id string, kind domain.ErrorKind, message string) error {
	return s.transition(ctx, id, domain.StatusFailed, map[string]interface{}{
		"output_filename": "",
		"error_kind":      string(kind),
		"error_message":   message,
	})
}

func (s *redisStore) PendingJobs(limit int) []domain.Job {
	ctx := context.Background()

	ids, err := s.rdb.ZRange(ctx, jobsByCreatedKey(), 0, -1).Result()
	if err != nil {
		slog.Warn("redis PendingJobs", slog.String("error", err.Error()))
		return nil
	}

	var pending []domain.Job
	for _, id := range ids {
		job, ok := s.Job(id)
		if !ok || job.Status != domain.StatusPending {
			continue
		}
		pending = append(pending, job)
		if limit > 0 && len(pending) >= limit {
			break
		}
	}
	return pending
}

func (s *redisStore) Jobs() []domain.Job {
	ctx := context.Background()

	ids, err := s.rdb.ZRange(ctx, jobsByCreatedKey(), 0, -1).Result()
	if err != nil {
		slog.Warn("redis Jobs", slog.String("error", err.Error()))
		return nil
	}

	out := make([]domain.Job, 0, len(ids))
	for _, id := range ids {
		if job, ok := s.Job(id); ok {
			out = append(out, job)
		}
	}
	return out
}

func (s *redisStore) ActiveJobs() int {
	n := 0
	for _, job := range s.Jobs() {
		if job.Status == domain.StatusProcessing {
			n++
		}
	}
	return n
}

func (s *redisStore) DeleteTerminalBefore(cutoff time.Time) []domain.Job {
	ctx := context.Background()

	ids, err := s.rdb.ZRangeByScore(ctx, jobsByCreatedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprint(cutoff.UnixMilli()),
	}).Result()
	if err != nil {
		slog.Warn("redis DeleteTerminalBefore", slog.String("error", err.Error()))
		return nil
	}

	var removed []domain.Job
	for _, id := range ids {
		job, ok := s.Job(id)
		if !ok || !job.Status.Terminal() {
			continue
		}

		pipe := s.rdb.TxPipeline()
		pipe.Del(ctx, jobKey(id))
		pipe.ZRem(ctx, jobsByCreatedKey(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			slog.Warn("redis delete job",
				slog.String("job_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed = append(removed, job)
	}
	return removed
}

func jobFromHash(id string, res map[string]string) domain.Job {
	job := domain.Job{
		ID:             id,
		Status:         domain.JobStatus(res["status"]),
		OriginalName:   res["original_name"],
		InputFilename:  res["input_filename"],
		OutputFilename: res["output_filename"],
		CallbackURL:    res["callback_url"],
	}

	if v := res["filter"]; v != "" {
		_ = json.Unmarshal([]byte(v), &job.Filter)
	}
	if kind := res["error_kind"]; kind != "" {
		job.Error = &domain.JobError{
			Kind:    domain.ErrorKind(kind),
			Message: res["error_message"],
		}
	}
	if n, err := strconv.ParseInt(res["created_at"], 10, 64); err == nil {
		job.CreatedAt = time.Unix(0, n)
	}
	if n, err := strconv.ParseInt(res["updated_at"], 10, 64); err == nil {
		job.UpdatedAt = time.Unix(0, n)
	}
	return job
}

func jobKey(id string) string {
	return "job:" + id
}

func jobsByCreatedKey() string {
	return "jobs:by_created"
}
