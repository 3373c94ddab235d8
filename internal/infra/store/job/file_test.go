package jobstore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ifcsplit/internal/domain"
)

func newTestJob(id string, createdAt time.Time) domain.Job {
	return domain.Job{
		ID:            id,
		Status:        domain.StatusPending,
		Filter:        domain.FilterSpec{Types: []string{"IfcBeam"}},
		OriginalName:  "model.ifc",
		InputFilename: id + ".ifc",
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

func TestFileStore_CreateAndGet(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	job := newTestJob("job-1", time.Now())
	if err := st.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, ok := st.Job("job-1")
	if !ok {
		t.Fatalf("expected job to exist")
	}
	if got.Status != domain.StatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
	if got.InputFilename != "job-1.ifc" {
		t.Fatalf("unexpected input filename %q", got.InputFilename)
	}

	if _, ok := st.Job("missing"); ok {
		t.Fatalf("expected missing job to not exist")
	}
}

func TestFileStore_DuplicateID(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	job := newTestJob("job-1", time.Now())
	if err := st.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := st.CreateJob(job); !errors.Is(err, domain.ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}
}

func TestFileStore_ForwardOnlyTransitions(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if err := st.CreateJob(newTestJob("job-1", time.Now())); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	// pending -> completed skips processing and must be rejected.
	if err := st.Complete("job-1", "out.ifc"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if err := st.MarkProcessing("job-1"); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	// Double claim must be rejected.
	if err := st.MarkProcessing("job-1"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on second claim, got %v", err)
	}

	if err := st.Complete("job-1", "job-1_filtered.ifc"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// Terminal states accept no further writes: the loser of a
	// completion/timeout race is discarded here.
	if err := st.Fail("job-1", domain.KindTimeout, "late timeout"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition after terminal write, got %v", err)
	}

	got, _ := st.Job("job-1")
	if got.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.OutputFilename == "" || got.Error != nil {
		t.Fatalf("completed job must have output and no error: %+v", got)
	}
}

func TestFileStore_FailSetsErrorAndClearsOutput(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if err := st.CreateJob(newTestJob("job-1", time.Now())); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := st.MarkProcessing("job-1"); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := st.Fail("job-1", domain.KindTransformation, "bad input"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	got, _ := st.Job("job-1")
	if got.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.Error == nil || got.Error.Kind != domain.KindTransformation {
		t.Fatalf("expected transformation error, got %+v", got.Error)
	}
	if got.OutputFilename != "" {
		t.Fatalf("failed job must not carry an output")
	}
	if got.UpdatedAt.Before(got.CreatedAt) {
		t.Fatalf("updated_at must not go backwards")
	}
}

func TestFileStore_NotFound(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := st.MarkProcessing("nope"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestFileStore_PendingJobsFIFO(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	base := time.Now()
	// Created out of id order on purpose; dispatch order follows
	// created_at, with id breaking the tie.
	if err := st.CreateJob(newTestJob("job-c", base.Add(10*time.Millisecond))); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := st.CreateJob(newTestJob("job-a", base.Add(20*time.Millisecond))); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := st.CreateJob(newTestJob("job-z", base.Add(10*time.Millisecond))); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	pending := st.PendingJobs(0)
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}
	want := []string{"job-c", "job-z", "job-a"}
	for i, w := range want {
		if pending[i].ID != w {
			t.Fatalf("position %d: expected %s, got %s", i, w, pending[i].ID)
		}
	}

	limited := st.PendingJobs(2)
	if len(limited) != 2 || limited[0].ID != "job-c" || limited[1].ID != "job-z" {
		t.Fatalf("unexpected limited pending set: %+v", limited)
	}

	// Claimed jobs leave the pending queue.
	if err := st.MarkProcessing("job-c"); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	pending = st.PendingJobs(0)
	if len(pending) != 2 || pending[0].ID != "job-z" {
		t.Fatalf("expected job-z first after claim, got %+v", pending)
	}
}

func TestFileStore_RecordIsDurableJSON(t *testing.T) {
	dir := t.TempDir()
	st, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if err := st.CreateJob(newTestJob("job-1", time.Now())); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "job-1.json"))
	if err != nil {
		t.Fatalf("record file missing: %v", err)
	}
	var onDisk domain.Job
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("record not valid json: %v", err)
	}
	if onDisk.ID != "job-1" || onDisk.Status != domain.StatusPending {
		t.Fatalf("unexpected record on disk: %+v", onDisk)
	}

	// No temp files may linger after a successful write.
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name() != "job-1.json" {
			t.Fatalf("unexpected file in state dir: %s", e.Name())
		}
	}
}

func TestFileStore_RestartRecovery(t *testing.T) {
	dir := t.TempDir()
	st, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	base := time.Now()
	if err := st.CreateJob(newTestJob("job-pending", base)); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := st.CreateJob(newTestJob("job-inflight", base.Add(time.Millisecond))); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := st.CreateJob(newTestJob("job-done", base.Add(2*time.Millisecond))); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := st.MarkProcessing("job-inflight"); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := st.MarkProcessing("job-done"); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := st.Complete("job-done", "job-done_filtered.ifc"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// Simulate a crash: open a fresh store over the same directory
	// without terminating the in-flight job.
	st2, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore reopen: %v", err)
	}

	inflight, ok := st2.Job("job-inflight")
	if !ok {
		t.Fatalf("in-flight job lost on restart")
	}
	if inflight.Status != domain.StatusFailed {
		t.Fatalf("expected failed after restart, got %s", inflight.Status)
	}
	if inflight.Error == nil || inflight.Error.Kind != domain.KindInterrupted {
		t.Fatalf("expected interrupted_by_restart, got %+v", inflight.Error)
	}

	pending, _ := st2.Job("job-pending")
	if pending.Status != domain.StatusPending {
		t.Fatalf("pending job must survive restart untouched, got %s", pending.Status)
	}
	done, _ := st2.Job("job-done")
	if done.Status != domain.StatusCompleted || done.OutputFilename == "" {
		t.Fatalf("completed job must survive restart untouched, got %+v", done)
	}
}

func TestFileStore_ActiveJobs(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	now := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		if err := st.CreateJob(newTestJob(id, now)); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}
	if err := st.MarkProcessing("a"); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := st.MarkProcessing("b"); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}

	if got := st.ActiveJobs(); got != 2 {
		t.Fatalf("expected 2 active jobs, got %d", got)
	}
}

func TestFileStore_DeleteTerminalBefore(t *testing.T) {
	dir := t.TempDir()
	st, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	old := time.Now().Add(-2 * time.Hour)
	if err := st.CreateJob(newTestJob("job-old-done", old)); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := st.CreateJob(newTestJob("job-old-pending", old)); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := st.CreateJob(newTestJob("job-new-done", time.Now())); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	for _, id := range []string{"job-old-done", "job-new-done"} {
		if err := st.MarkProcessing(id); err != nil {
			t.Fatalf("MarkProcessing: %v", err)
		}
		if err := st.Complete(id, id+"_filtered.ifc"); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}

	removed := st.DeleteTerminalBefore(time.Now().Add(-time.Hour))
	if len(removed) != 1 || removed[0].ID != "job-old-done" {
		t.Fatalf("expected only job-old-done removed, got %+v", removed)
	}

	if _, ok := st.Job("job-old-done"); ok {
		t.Fatalf("removed job still readable")
	}
	if _, err := os.Stat(filepath.Join(dir, "job-old-done.json")); !os.IsNotExist(err) {
		t.Fatalf("removed record file still on disk")
	}
	// Non-terminal jobs are never removed regardless of age.
	if _, ok := st.Job("job-old-pending"); !ok {
		t.Fatalf("pending job must not be retention-deleted")
	}
	if _, ok := st.Job("job-new-done"); !ok {
		t.Fatalf("recent terminal job must not be retention-deleted")
	}
}
